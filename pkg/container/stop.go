package container

import (
	"context"
	"syscall"
	"time"

	"github.com/moby/sys/signal"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/events"
	"github.com/cuemby/cored/pkg/log"
	"github.com/cuemby/cored/pkg/metrics"
	"github.com/cuemby/cored/pkg/state"
	"github.com/cuemby/cored/pkg/types"
)

const (
	defaultStopTimeout = 10 * time.Second
	forceKillWait      = 90 * time.Second
)

// Stop drives the stop pipeline (C6, spec.md §4.3): escalate from the
// container's configured stop signal to SIGKILL if it doesn't exit
// within timeout. A negative timeout falls back to
// Config.GracefulStopTimeout, or defaultStopTimeout when that is unset;
// a zero timeout escalates to SIGKILL right after the stop signal. restart
// indicates the caller is a restart-manager-triggered stop, which
// temporarily suppresses auto_remove so a concurrent delete doesn't
// race the restart.
func (e *Engine) Stop(ctx context.Context, id string, timeout time.Duration, restart bool) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerStopDuration)

	rec, machine, err := e.Store.Get(id)
	if err != nil {
		return err
	}
	if timeout < 0 {
		timeout = e.Config.GracefulStopTimeout
		if timeout <= 0 {
			timeout = defaultStopTimeout
		}
	}

	already, err := e.beginStop(rec, machine, restart)
	if err != nil {
		return err
	}
	if already {
		return nil
	}
	defer e.endStop(rec, restart)

	e.stopHealthMonitor(rec.ID)
	e.Events.Publish(&events.Event{Type: events.EventPreStop, ContainerID: rec.ID})

	sig := resolveStopSignal(rec.Common.StopSignal)
	if err := e.Runtime.Kill(ctx, rec, sig); err != nil {
		if errs.Is(err, errs.KindNotAlive) {
			return e.finalizeStop(ctx, rec, machine, 0)
		}
		return err
	}

	if e.waitStateChange(rec, machine, timeout) {
		// The exit monitor (C9) already drove SetStopped, persisted and
		// published EventExited once the signalled process died; only
		// the sandbox purge and the post-stop event remain.
		e.purgeSandbox(ctx, rec)
		e.Events.Publish(&events.Event{Type: events.EventStopped, ContainerID: rec.ID})
		return nil
	}

	log.WithContainerID(rec.ID).Warn().Msg("stop signal timed out, escalating to SIGKILL")
	return e.forceKillEscalate(ctx, rec, machine)
}

// Kill sends signal directly to a Running container's init process
// (spec.md §4.3 "Kill"). It fails if the container is not alive.
// signal 0 or SIGKILL routes through the same force-kill escalation
// Stop uses; any other signal is sent as-is, with a paused container's
// freeze lifted first so the signal is actually delivered.
func (e *Engine) Kill(ctx context.Context, id string, sig int) error {
	rec, machine, err := e.Store.Get(id)
	if err != nil {
		return err
	}

	rec.Lock.Lock()
	if !machine.IsAlive() {
		rec.Lock.Unlock()
		return errs.New(errs.KindNotAlive, "container is not alive")
	}
	paused := machine.Current() == types.StatePaused
	rec.Lock.Unlock()

	if paused {
		if err := e.Runtime.Resume(ctx, rec); err != nil {
			return err
		}
		rec.Lock.Lock()
		machine.SetResumed()
		rec.Lock.Unlock()
	}

	if sig == 0 || sig == int(signal.SIGKILL) {
		return e.forceKillEscalate(ctx, rec, machine)
	}

	if err := e.Runtime.Kill(ctx, rec, sig); err != nil {
		return err
	}
	metrics.ContainersKilledTotal.WithLabelValues(syscall.Signal(sig).String()).Inc()
	return nil
}

// beginStop validates the current state and, for a Running container,
// marks the removal/suppression bookkeeping needed before signalling.
// It returns already=true when the container is already stopped,
// making Stop idempotent.
func (e *Engine) beginStop(rec *types.Record, machine *state.Machine, restart bool) (already bool, err error) {
	rec.Lock.Lock()
	defer rec.Lock.Unlock()

	switch machine.Current() {
	case types.StateStopped, types.StateDead:
		return true, nil
	case types.StateRunning, types.StatePaused:
	default:
		return false, errs.NewTransition(string(machine.Current()))
	}

	if restart {
		e.Restart.Suppress(rec.ID)
		rec.Host.AutoRemoveBak = rec.Host.AutoRemove
		rec.Host.AutoRemove = false
	}
	e.Restart.SetManualStop(rec.ID, !restart)
	rec.RuntimeState.HasBeenManualStopped = !restart
	return false, nil
}

func (e *Engine) endStop(rec *types.Record, restart bool) {
	if !restart {
		return
	}
	rec.Lock.Lock()
	rec.Host.AutoRemove = rec.Host.AutoRemoveBak
	rec.Lock.Unlock()
	e.Restart.Reset(rec.ID)
}

// waitStateChange blocks up to timeout for rec to leave Running/Paused,
// reporting whether it did.
func (e *Engine) waitStateChange(rec *types.Record, machine *state.Machine, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		rec.Lock.Lock()
		machine.WaitStopped()
		rec.Lock.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// forceKillEscalate sends SIGKILL, waits forceKillWait, and if the
// container is somehow still alive signals the recorded parent pid
// directly (validated against p_start_time so a reused pid is never
// targeted), then waits indefinitely.
func (e *Engine) forceKillEscalate(ctx context.Context, rec *types.Record, machine *state.Machine) error {
	if err := e.Runtime.Kill(ctx, rec, int(signal.SIGKILL)); err != nil && !errs.Is(err, errs.KindNotAlive) {
		return err
	}
	metrics.ContainersKilledTotal.WithLabelValues("killed").Inc()

	if e.waitStateChange(rec, machine, forceKillWait) {
		return e.finalizeStop(ctx, rec, machine, 137)
	}

	rec.Lock.Lock()
	ppid, pstart := rec.RuntimeState.Pid.Ppid, rec.RuntimeState.Pid.PStartTime
	rec.Lock.Unlock()

	if ppid > 0 && processStillHasStartTime(ppid, pstart) {
		if err := killPid(ppid); err != nil {
			log.WithContainerID(rec.ID).Error().Err(err).Msg("fallback kill of monitor parent pid failed")
		}
	}

	rec.Lock.Lock()
	machine.WaitStopped()
	rec.Lock.Unlock()
	return e.finalizeStop(ctx, rec, machine, 137)
}

// finalizeStop records Stopped with fallbackExitCode unless the state
// machine is already Stopped or Dead (e.g. the exit monitor got there
// first), persists the record, and runs the sandbox purge and
// post-stop event.
func (e *Engine) finalizeStop(ctx context.Context, rec *types.Record, machine *state.Machine, fallbackExitCode int) error {
	rec.Lock.Lock()
	if machine.Current() != types.StateStopped && machine.Current() != types.StateDead {
		machine.SetStopped(fallbackExitCode)
	}
	_ = e.Store.Persist(rec)
	rec.Lock.Unlock()

	e.purgeSandbox(ctx, rec)
	e.Events.Publish(&events.Event{Type: events.EventStopped, ContainerID: rec.ID})
	return nil
}

func (e *Engine) purgeSandbox(ctx context.Context, rec *types.Record) {
	if rec.Common.SandboxID == "" {
		return
	}
	if err := e.Sandbox.PurgeContainer(ctx, rec); err != nil {
		log.WithContainerID(rec.ID).Warn().Err(err).Msg("sandbox purge after stop failed")
	}
}

func resolveStopSignal(name string) int {
	if name == "" {
		return int(signal.SIGTERM)
	}
	sig, err := signal.ParseSignal(name)
	if err != nil {
		return int(signal.SIGTERM)
	}
	return int(sig)
}
