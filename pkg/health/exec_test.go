package health

import (
	"context"
	"testing"
)

func TestExecChecker_HostCommandSucceeds(t *testing.T) {
	checker := NewExecChecker([]string{"true"})
	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy, got unhealthy: %s", result.Message)
	}
}

func TestExecChecker_HostCommandFails(t *testing.T) {
	checker := NewExecChecker([]string{"false"})
	result := checker.Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for a failing command")
	}
}

func TestExecChecker_EmptyCommandIsUnhealthy(t *testing.T) {
	checker := NewExecChecker(nil)
	result := checker.Check(context.Background())
	if result.Healthy {
		t.Error("expected unhealthy for an empty command")
	}
}

func TestExecChecker_CustomRunner(t *testing.T) {
	checker := NewExecChecker([]string{"pg_isready"}).WithRunner(
		func(ctx context.Context, argv []string) (int, string, error) {
			return 0, "accepting connections", nil
		},
	)
	result := checker.Check(context.Background())
	if !result.Healthy {
		t.Errorf("expected healthy via custom runner, got: %s", result.Message)
	}
}

func TestExecChecker_Type(t *testing.T) {
	checker := NewExecChecker([]string{"true"})
	if checker.Type() != CheckTypeExec {
		t.Errorf("expected type %s, got %s", CheckTypeExec, checker.Type())
	}
}
