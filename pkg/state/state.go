// Package state implements the container state machine (C2): the
// allowed transitions between types.State values, and the broadcast
// conditions start/stop/exec pipelines wait on.
//
// A Machine wraps a *types.Record and never takes the record's lock
// itself — callers hold Record.Lock for the whole read-modify-write of
// a transition, exactly as they do for every other mutable field of the
// record. The only addition over a plain guarded field is WaitStopped
// and WaitRemoved, which use a sync.Cond bound to Record.Lock so a
// waiter can block without polling.
package state

import (
	"sync"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/types"
)

// Machine adds wait/broadcast semantics on top of a Record's RuntimeState.
// One Machine is created per Record and kept alongside it in the store.
type Machine struct {
	rec  *types.Record
	cond *sync.Cond
}

// New creates a Machine bound to rec's lock.
func New(rec *types.Record) *Machine {
	return &Machine{rec: rec, cond: sync.NewCond(&rec.Lock)}
}

// Current returns the current state. Caller must hold rec.Lock.
func (m *Machine) Current() types.State {
	return m.rec.RuntimeState.State
}

// Begin transitions Created/Stopped/Restarting -> Starting, the guard
// against two concurrent start pipelines racing on the same record.
// Caller must hold rec.Lock.
func (m *Machine) Begin() error {
	switch m.rec.RuntimeState.State {
	case types.StateCreated, types.StateStopped, types.StateRestarting:
		m.rec.RuntimeState.State = types.StateStarting
		return nil
	case types.StateStarting:
		return errs.NewTransition("AlreadyStarting")
	case types.StateRunning:
		return errs.NewTransition("AlreadyRunning")
	case types.StatePaused:
		return errs.NewTransition("Paused")
	case types.StateDead:
		return errs.NewTransition("Dead")
	default:
		return errs.NewTransition(string(m.rec.RuntimeState.State))
	}
}

// Abort reverts a Starting record back to Stopped after the start
// pipeline fails before the runtime process ever ran. Caller must hold
// rec.Lock.
func (m *Machine) Abort() error {
	if m.rec.RuntimeState.State != types.StateStarting {
		return errs.NewTransition("NotStarting")
	}
	m.rec.RuntimeState.State = types.StateStopped
	m.cond.Broadcast()
	return nil
}

// SetRunning requires Starting, the precondition set by Begin; it is
// the transition the start pipeline commits once the runtime has
// reported a pid. Caller must hold rec.Lock.
func (m *Machine) SetRunning(pid types.PidInfo, startedAt int64) error {
	if m.rec.RuntimeState.State != types.StateStarting {
		return errs.NewTransition("NotStarting")
	}
	m.rec.RuntimeState.State = types.StateRunning
	m.rec.RuntimeState.Pid = pid
	m.rec.RuntimeState.HasBeenManualStopped = false
	m.cond.Broadcast()
	return nil
}

// SetStopped records an exit code and transitions to Stopped. Valid
// from Running, Paused (killed while paused) or Starting (runtime
// reported failure after Begin but the process never ran). Caller must
// hold rec.Lock.
func (m *Machine) SetStopped(exitCode int) error {
	switch m.rec.RuntimeState.State {
	case types.StateRunning, types.StatePaused, types.StateStarting:
		m.rec.RuntimeState.State = types.StateStopped
		m.rec.RuntimeState.ExitCode = exitCode
		m.cond.Broadcast()
		return nil
	case types.StateStopped, types.StateDead:
		return nil
	default:
		return errs.NewTransition(string(m.rec.RuntimeState.State))
	}
}

// SetRestarting marks a container for restart-manager-driven restart
// after an unexpected exit. Caller must hold rec.Lock.
func (m *Machine) SetRestarting(exitCode int) error {
	if m.rec.RuntimeState.State != types.StateRunning {
		return errs.NewTransition("NotRunning")
	}
	m.rec.RuntimeState.State = types.StateRestarting
	m.rec.RuntimeState.ExitCode = exitCode
	m.cond.Broadcast()
	return nil
}

// SetPaused requires Running. Caller must hold rec.Lock.
func (m *Machine) SetPaused() error {
	if m.rec.RuntimeState.State != types.StateRunning {
		return errs.NewTransition("NotRunning")
	}
	m.rec.RuntimeState.State = types.StatePaused
	return nil
}

// SetResumed requires Paused. Caller must hold rec.Lock.
func (m *Machine) SetResumed() error {
	if m.rec.RuntimeState.State != types.StatePaused {
		return errs.NewTransition("NotPaused")
	}
	m.rec.RuntimeState.State = types.StateRunning
	return nil
}

// SetDead is the terminal state reached once delete has torn down every
// resource. Caller must hold rec.Lock.
func (m *Machine) SetDead() {
	m.rec.RuntimeState.State = types.StateDead
	m.cond.Broadcast()
}

// BeginRemoval sets RemovalInProgress, failing if it is already set.
// It does not look at the run state; a Running record is the caller's
// concern. Caller must hold rec.Lock.
func (m *Machine) BeginRemoval() error {
	if m.rec.RuntimeState.RemovalInProgress {
		return errs.NewTransition("RemovalInProgress")
	}
	m.rec.RuntimeState.RemovalInProgress = true
	return nil
}

// ResetRemoval clears RemovalInProgress, used on a failed delete so a
// later retry is possible. Caller must hold rec.Lock.
func (m *Machine) ResetRemoval() {
	m.rec.RuntimeState.RemovalInProgress = false
}

// IsAlive reports whether the container currently has a live runtime
// process (Running or Paused).
func (m *Machine) IsAlive() bool {
	switch m.rec.RuntimeState.State {
	case types.StateRunning, types.StatePaused:
		return true
	default:
		return false
	}
}

// WaitStopped blocks until the state becomes Stopped or Dead. Caller
// must hold rec.Lock; it is released while blocked and re-acquired
// before return, matching sync.Cond.Wait semantics.
func (m *Machine) WaitStopped() {
	for m.rec.RuntimeState.State != types.StateStopped && m.rec.RuntimeState.State != types.StateDead {
		m.cond.Wait()
	}
}

// WaitRemoved blocks until the state reaches Dead.
func (m *Machine) WaitRemoved() {
	for m.rec.RuntimeState.State != types.StateDead {
		m.cond.Wait()
	}
}
