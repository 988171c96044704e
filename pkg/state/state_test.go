package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/types"
)

func newRecord() *types.Record {
	return &types.Record{ID: "c1", RuntimeState: types.RuntimeState{State: types.StateCreated}}
}

func TestBeginFromCreated(t *testing.T) {
	rec := newRecord()
	m := New(rec)
	rec.Lock.Lock()
	defer rec.Lock.Unlock()

	require.NoError(t, m.Begin())
	assert.Equal(t, types.StateStarting, m.Current())
}

func TestBeginRejectsConcurrentStart(t *testing.T) {
	rec := newRecord()
	m := New(rec)
	rec.Lock.Lock()
	defer rec.Lock.Unlock()

	require.NoError(t, m.Begin())
	err := m.Begin()
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
	assert.Equal(t, "AlreadyStarting", errs.ReasonOf(err))
}

func TestSetRunningRequiresStarting(t *testing.T) {
	rec := newRecord()
	m := New(rec)
	rec.Lock.Lock()
	defer rec.Lock.Unlock()

	err := m.SetRunning(types.PidInfo{Pid: 123}, 0)
	require.Error(t, err)

	require.NoError(t, m.Begin())
	require.NoError(t, m.SetRunning(types.PidInfo{Pid: 123}, 0))
	assert.Equal(t, types.StateRunning, m.Current())
	assert.Equal(t, 123, rec.RuntimeState.Pid.Pid)
}

func TestSetStoppedIdempotentWhenAlreadyTerminal(t *testing.T) {
	rec := newRecord()
	m := New(rec)
	rec.Lock.Lock()
	defer rec.Lock.Unlock()

	require.NoError(t, m.Begin())
	require.NoError(t, m.SetRunning(types.PidInfo{Pid: 1}, 0))
	require.NoError(t, m.SetStopped(137))
	assert.Equal(t, types.StateStopped, m.Current())
	assert.Equal(t, 137, rec.RuntimeState.ExitCode)

	// Calling again must not error and must not disturb the exit code.
	require.NoError(t, m.SetStopped(0))
	assert.Equal(t, 137, rec.RuntimeState.ExitCode)
}

func TestPauseResumeCycle(t *testing.T) {
	rec := newRecord()
	m := New(rec)
	rec.Lock.Lock()
	defer rec.Lock.Unlock()

	require.Error(t, m.SetPaused())

	require.NoError(t, m.Begin())
	require.NoError(t, m.SetRunning(types.PidInfo{Pid: 1}, 0))
	require.NoError(t, m.SetPaused())
	assert.Equal(t, types.StatePaused, m.Current())
	assert.True(t, m.IsAlive())

	require.NoError(t, m.SetResumed())
	assert.Equal(t, types.StateRunning, m.Current())
}

func TestBeginRemovalIsExclusive(t *testing.T) {
	rec := newRecord()
	m := New(rec)
	rec.Lock.Lock()
	defer rec.Lock.Unlock()

	require.NoError(t, m.BeginRemoval())
	err := m.BeginRemoval()
	require.Error(t, err)
	assert.Equal(t, "RemovalInProgress", errs.ReasonOf(err))

	m.ResetRemoval()
	require.NoError(t, m.BeginRemoval())
}

func TestWaitStoppedUnblocksOnBroadcast(t *testing.T) {
	rec := newRecord()
	m := New(rec)

	done := make(chan struct{})
	go func() {
		rec.Lock.Lock()
		defer rec.Lock.Unlock()
		m.WaitStopped()
		close(done)
	}()

	rec.Lock.Lock()
	require.NoError(t, m.Begin())
	require.NoError(t, m.SetRunning(types.PidInfo{Pid: 1}, 0))
	require.NoError(t, m.SetStopped(0))
	rec.Lock.Unlock()

	<-done
}
