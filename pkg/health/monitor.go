package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/cored/pkg/log"
	"github.com/cuemby/cored/pkg/metrics"
	"github.com/cuemby/cored/pkg/types"
)

// Monitor runs a single container's configured health check on a
// ticker, updating the container's RuntimeState.Health in place. One
// Monitor is created per container by the start pipeline (when
// CommonConfig.HealthCheck is set) and cancelled by the stop pipeline.
type Monitor struct {
	rec     *types.Record
	checker Checker
	config  Config
	cancel  context.CancelFunc

	mu sync.Mutex
}

// NewMonitor builds a Monitor for rec, selecting the checker strategy
// from rec.Common.HealthCheck.Type. Returns an error for an unknown
// check type; the start pipeline logs that error as a warning and
// starts the container without a health check.
func NewMonitor(rec *types.Record) (*Monitor, error) {
	hc := rec.Common.HealthCheck
	checker, err := newChecker(hc)
	if err != nil {
		return nil, err
	}

	config := Config{
		Interval:    hc.Interval,
		Timeout:     hc.Timeout,
		Retries:     hc.Retries,
		StartPeriod: hc.StartPeriod,
	}
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Retries <= 0 {
		config.Retries = DefaultConfig().Retries
	}

	return &Monitor{rec: rec, checker: checker, config: config}, nil
}

func newChecker(hc *types.HealthCheck) (Checker, error) {
	switch hc.Type {
	case "http":
		return NewHTTPChecker(fmt.Sprintf("http://localhost%s", hc.Endpoint)), nil
	case "tcp":
		return NewTCPChecker(hc.Endpoint), nil
	case "exec":
		return NewExecChecker(hc.Command), nil
	default:
		return nil, fmt.Errorf("unsupported health check type %q", hc.Type)
	}
}

// Start begins the check loop in a background goroutine. Calling
// Start twice on the same Monitor is a programming error; callers own
// exactly one Monitor per container.
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	rec := m.rec
	rec.Lock.Lock()
	if rec.RuntimeState.Health == nil {
		rec.RuntimeState.Health = &types.HealthStatus{Healthy: true}
	}
	rec.Lock.Unlock()

	go m.loop(ctx)
}

// Stop cancels the check loop, called from the stop pipeline's
// cancel-health-checks step before the kill signal is sent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *Monitor) loop(ctx context.Context) {
	if m.config.StartPeriod > 0 {
		select {
		case <-time.After(m.config.StartPeriod):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.runCheck(ctx)
	for {
		select {
		case <-ticker.C:
			m.runCheck(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) runCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	result := m.checker.Check(checkCtx)

	rec := m.rec
	rec.Lock.Lock()
	status := rec.RuntimeState.Health
	if status == nil {
		status = &types.HealthStatus{Healthy: true}
		rec.RuntimeState.Health = status
	}
	localStatus := &Status{
		ConsecutiveFailures:  status.ConsecutiveFailures,
		ConsecutiveSuccesses: status.ConsecutiveSuccesses,
		Healthy:              status.Healthy,
	}
	localStatus.Update(result, m.config)
	status.ConsecutiveFailures = localStatus.ConsecutiveFailures
	status.ConsecutiveSuccesses = localStatus.ConsecutiveSuccesses
	status.Healthy = localStatus.Healthy
	status.LastCheck = result.CheckedAt
	rec.Lock.Unlock()

	metrics.HealthCheckResultsTotal.WithLabelValues(string(m.checker.Type()), fmt.Sprint(result.Healthy)).Inc()

	log.WithContainerID(rec.ID).Debug().
		Bool("healthy", result.Healthy).
		Str("message", result.Message).
		Msg("health check result")
}
