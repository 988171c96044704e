// Package container implements the start/stop/exec/delete pipelines
// (C5–C8) that drive a Container Record through its state machine,
// plus the Engine type that bundles every collaborator the pipelines
// depend on: the store, the low-level runtime, the OCI-spec renewer,
// the image/volume/sandbox/restart modules, the plugin event bus and
// the exit monitor.
package container

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/cored/pkg/config"
	"github.com/cuemby/cored/pkg/events"
	"github.com/cuemby/cored/pkg/log"
	"github.com/cuemby/cored/pkg/monitor"
	"github.com/cuemby/cored/pkg/runtime"
	"github.com/cuemby/cored/pkg/sandbox"
	"github.com/cuemby/cored/pkg/state"
	"github.com/cuemby/cored/pkg/store"
	"github.com/cuemby/cored/pkg/types"
)

// Engine is the process-wide collection of collaborators the
// start/stop/exec/delete pipelines call against. One Engine serves
// every container the daemon manages.
type Engine struct {
	Config  *config.Config
	Store   *store.Store
	Runtime runtime.Runtime
	Image   ImageModule
	Volumes VolumeModule
	Sandbox sandbox.Sandbox
	Restart RestartManager
	Events  EventPublisher

	NewHealthMonitor HealthMonitorFactory

	exitMon *monitor.Monitor

	healthMu sync.Mutex
	health   map[string]HealthMonitor
}

// NewEngine wires an Engine and starts its exit monitor goroutine.
// Sandbox may be sandbox.None when CRI-v1 sandboxing is disabled;
// NewHealthMonitor may be nil, in which case containers configured
// with a HealthCheck simply run without one (a configuration error
// the caller is expected to have already surfaced).
func NewEngine(cfg *config.Config, rt runtime.Runtime, img ImageModule, vol VolumeModule, sb sandbox.Sandbox, restartMgr RestartManager, ev EventPublisher, healthFactory HealthMonitorFactory) (*Engine, error) {
	e := &Engine{
		Config:           cfg,
		Store:            store.New(),
		Runtime:          rt,
		Image:            img,
		Volumes:          vol,
		Sandbox:          sb,
		Restart:          restartMgr,
		Events:           ev,
		NewHealthMonitor: healthFactory,
		health:           make(map[string]HealthMonitor),
	}

	m, err := monitor.New(e.handleExit)
	if err != nil {
		return nil, err
	}
	e.exitMon = m
	go m.Run()

	return e, nil
}

// Close shuts down the exit monitor. Containers already running are
// left alone; their exit-FIFO fds simply stop being watched.
func (e *Engine) Close() error {
	return e.exitMon.Close()
}

// handleExit is the monitor.Handler invoked from the exit-monitor
// goroutine once a container's exit-FIFO becomes readable (C9).
func (e *Engine) handleExit(rec *types.Record, machine *state.Machine, exitCode int) {
	e.stopHealthMonitor(rec.ID)

	rec.Lock.Lock()
	machine.SetStopped(exitCode)
	rec.RuntimeState.FinishedAt = time.Now()
	autoRemove := rec.Host.AutoRemove
	if err := e.Store.Persist(rec); err != nil {
		log.WithContainerID(rec.ID).Warn().Err(err).Msg("persist after exit failed, in-memory state still Stopped")
	}
	rec.Lock.Unlock()

	e.Events.Publish(&events.Event{Type: events.EventExited, ContainerID: rec.ID})

	if autoRemove {
		if err := e.Delete(context.Background(), rec.ID, true); err != nil {
			log.WithContainerID(rec.ID).Warn().Err(err).Msg("auto-remove after exit failed")
		}
	}
}

func (e *Engine) startHealthMonitor(rec *types.Record) error {
	if rec.Common.HealthCheck == nil || e.NewHealthMonitor == nil {
		return nil
	}
	hm, err := e.NewHealthMonitor(rec)
	if err != nil {
		return err
	}
	e.healthMu.Lock()
	e.health[rec.ID] = hm
	e.healthMu.Unlock()
	hm.Start()
	return nil
}

func (e *Engine) stopHealthMonitor(id string) {
	e.healthMu.Lock()
	hm, ok := e.health[id]
	if ok {
		delete(e.health, id)
	}
	e.healthMu.Unlock()
	if ok {
		hm.Stop()
	}
}
