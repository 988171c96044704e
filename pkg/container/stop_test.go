package container

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/events"
	"github.com/cuemby/cored/pkg/types"
)

func TestEngine_Stop_AlreadyStopped(t *testing.T) {
	e, rt, _, _, _ := newTestEngine(t)
	rec := newRunningRecord(t, e, rt, "c1")

	_, machine, err := e.Store.Get("c1")
	assert.NoError(t, err)
	rec.Lock.Lock()
	assert.NoError(t, machine.SetStopped(0))
	rec.Lock.Unlock()

	err = e.Stop(context.Background(), "c1", time.Second, false)
	assert.NoError(t, err, "stopping an already-Stopped container is idempotent")
}

func TestEngine_Stop_InvalidTransition(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	_, err := newTestRecord(e, "c1")
	assert.NoError(t, err)

	// A just-Created container has never run, so it is neither
	// already-stopped (idempotent) nor alive (stoppable).
	err = e.Stop(context.Background(), "c1", time.Second, false)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
}

func TestEngine_Stop_GracefulExitWins(t *testing.T) {
	e, rt, _, _, ev := newTestEngine(t)
	rec := newRunningRecord(t, e, rt, "c1")

	_, machine, err := e.Store.Get("c1")
	assert.NoError(t, err)

	setStoppedAsync(e, rec, machine, 20*time.Millisecond, 0)

	err = e.Stop(context.Background(), "c1", 500*time.Millisecond, false)
	assert.NoError(t, err)
	assert.False(t, rt.isAlive("c1"), "stop pipeline must signal the runtime")
	assert.Contains(t, ev.types(), events.EventPreStop)
	assert.Contains(t, ev.types(), events.EventStopped)
}

func TestEngine_Stop_EscalatesToSIGKILL(t *testing.T) {
	e, rt, _, _, _ := newTestEngine(t)
	rec := newRunningRecord(t, e, rt, "c1")

	_, machine, err := e.Store.Get("c1")
	assert.NoError(t, err)

	// Nobody answers the graceful signal in time; Stop must escalate to
	// SIGKILL. The SIGKILL "lands" shortly afterwards, simulated here by
	// driving the state machine directly rather than waiting out the
	// real 90s force-kill fallback window.
	setStoppedAsync(e, rec, machine, 60*time.Millisecond, 137)

	err = e.Stop(context.Background(), "c1", 10*time.Millisecond, false)
	assert.NoError(t, err)
}

func TestEngine_Kill_NotAlive(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	_, err := newTestRecord(e, "c1")
	assert.NoError(t, err)

	err = e.Kill(context.Background(), "c1", 15)
	assert.True(t, errs.Is(err, errs.KindNotAlive))
}

func TestEngine_Kill_DirectSignal(t *testing.T) {
	e, rt, _, _, _ := newTestEngine(t)
	newRunningRecord(t, e, rt, "c1")

	err := e.Kill(context.Background(), "c1", 15) // SIGTERM
	assert.NoError(t, err)
	assert.False(t, rt.isAlive("c1"))
}

func TestEngine_Kill_ResumesPausedBeforeSignalling(t *testing.T) {
	e, rt, _, _, _ := newTestEngine(t)
	rec := newRunningRecord(t, e, rt, "c1")

	_, machine, err := e.Store.Get("c1")
	assert.NoError(t, err)
	rec.Lock.Lock()
	assert.NoError(t, machine.SetPaused())
	rec.Lock.Unlock()

	err = e.Kill(context.Background(), "c1", 15)
	assert.NoError(t, err)

	rec.Lock.Lock()
	state := machine.Current()
	rec.Lock.Unlock()
	assert.NotEqual(t, types.StatePaused, state, "Kill must resume a paused container before signalling it")
}

func TestResolveStopSignal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "empty defaults to SIGTERM", in: "", want: 15},
		{name: "named signal resolves", in: "SIGHUP", want: 1},
		{name: "unknown name falls back to SIGTERM", in: "NOT_A_SIGNAL", want: 15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveStopSignal(tt.in))
		})
	}
}

func TestProcessStillHasStartTime_ZeroStartTimeIsAlwaysFalse(t *testing.T) {
	assert.False(t, processStillHasStartTime(1, 0))
}

func TestProcessStillHasStartTime_UnreadableProcIsFalse(t *testing.T) {
	assert.False(t, processStillHasStartTime(-1, 12345))
}
