package health

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/cored/pkg/types"
)

func TestNewMonitorUnknownTypeErrors(t *testing.T) {
	rec := &types.Record{
		ID:     "c1",
		Common: &types.CommonConfig{HealthCheck: &types.HealthCheck{Type: "bogus"}},
	}
	if _, err := NewMonitor(rec); err == nil {
		t.Fatal("expected an error for an unknown health check type")
	}
}

func TestMonitorUpdatesRuntimeStateHealth(t *testing.T) {
	rec := &types.Record{
		ID: "c1",
		Common: &types.CommonConfig{
			HealthCheck: &types.HealthCheck{
				Type:     "exec",
				Command:  []string{"true"},
				Interval: 10 * time.Millisecond,
				Timeout:  time.Second,
				Retries:  3,
			},
		},
	}

	m, err := NewMonitor(rec)
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		rec.Lock.Lock()
		h := rec.RuntimeState.Health
		rec.Lock.Unlock()
		if h != nil && !h.LastCheck.IsZero() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("health status was never updated")
}

func TestMonitorStopCancelsLoop(t *testing.T) {
	rec := &types.Record{
		ID: "c1",
		Common: &types.CommonConfig{
			HealthCheck: &types.HealthCheck{
				Type:     "exec",
				Command:  []string{"true"},
				Interval: 5 * time.Millisecond,
				Timeout:  time.Second,
				Retries:  3,
			},
		},
	}
	m, err := NewMonitor(rec)
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	m.Start()
	m.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	<-ctx.Done()
}
