package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/cored/pkg/config"
	"github.com/cuemby/cored/pkg/container"
	"github.com/cuemby/cored/pkg/events"
	"github.com/cuemby/cored/pkg/health"
	"github.com/cuemby/cored/pkg/image"
	"github.com/cuemby/cored/pkg/restart"
	"github.com/cuemby/cored/pkg/runtime"
	"github.com/cuemby/cored/pkg/sandbox"
	"github.com/cuemby/cored/pkg/types"
	"github.com/cuemby/cored/pkg/volume"
)

// loadConfig resolves the daemon config from --config, falling back to
// config.Default, then applies the --containerd-socket override.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	if path != "" {
		c, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = c
	} else {
		cfg = config.Default()
	}

	if sock, _ := cmd.Flags().GetString("containerd-socket"); sock != "" {
		cfg.ContainerdSocket = sock
	}
	return cfg, nil
}

// newEngine builds an Engine wired to a real ContainerdRuntime, local
// image/volume adapters, an events.Broker and the health-monitor
// factory, then reconciles it with whatever container.Engine.Store
// finds on disk from earlier invocations (pkg/store.Store starts
// empty each process). Callers must call the returned close func
// before exiting.
func newEngine(cfg *config.Config) (*container.Engine, func(), error) {
	rt, err := runtime.NewContainerdRuntime(cfg.ContainerdSocket, cfg.ContainerdNamespace)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to containerd at %s: %w", cfg.ContainerdSocket, err)
	}

	volMgr, err := volume.NewManager(cfg.RootPath + "/volumes")
	if err != nil {
		rt.Close()
		return nil, nil, fmt.Errorf("init volume manager: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()

	e, err := container.NewEngine(cfg, rt, image.New(), volMgr, sandbox.None, restart.New(), broker, healthFactory)
	if err != nil {
		broker.Stop()
		rt.Close()
		return nil, nil, fmt.Errorf("init engine: %w", err)
	}

	if err := e.Store.LoadAll(cfg.RootPath); err != nil {
		e.Close()
		broker.Stop()
		rt.Close()
		return nil, nil, fmt.Errorf("reconcile container records under %s: %w", cfg.RootPath, err)
	}

	closeFn := func() {
		e.Close()
		broker.Stop()
		rt.Close()
	}
	return e, closeFn, nil
}

// healthFactory adapts health.NewMonitor to container.HealthMonitorFactory.
func healthFactory(rec *types.Record) (container.HealthMonitor, error) {
	return health.NewMonitor(rec)
}
