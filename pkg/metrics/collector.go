package metrics

import (
	"time"

	"github.com/cuemby/cored/pkg/store"
)

// Collector periodically samples the store to keep ContainersTotal
// current — a gauge vec can't be updated incrementally from delete
// events alone, since a crash-restart reconciliation sweep changes
// counts without going through the normal pipelines.
type Collector struct {
	store  *store.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store.
func NewCollector(s *store.Store) *Collector {
	return &Collector{
		store:  s,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := make(map[string]int)
	for _, rec := range c.store.List() {
		counts[string(rec.RuntimeState.State)]++
	}
	ContainersTotal.Reset()
	for state, count := range counts {
		ContainersTotal.WithLabelValues(state).Set(float64(count))
	}
}
