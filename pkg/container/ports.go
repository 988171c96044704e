package container

import (
	"github.com/cuemby/cored/pkg/events"
	"github.com/cuemby/cored/pkg/image"
	"github.com/cuemby/cored/pkg/types"
)

// ImageModule is the narrow image-module contract (spec.md §6) the
// pipelines depend on: rootfs mount/umount/remove plus user-db
// resolution. pkg/image.Adapter is the concrete implementation; tests
// substitute a stub.
type ImageModule interface {
	MountContainerRootfs(rec *types.Record) error
	UmountContainerRootfs(rec *types.Record) error
	RemoveContainerRootfs(rec *types.Record) error
	GetUserConf(rootfs, username string) (image.UserConf, error)
}

// VolumeModule is the volume_del_ref/volume_remove contract (spec.md
// §6), backed by pkg/volume.Manager.
type VolumeModule interface {
	Mount(name string) (string, error)
	DelRef(name string, anonymous bool) error
}

// EventPublisher is the plugin event bus contract, backed by
// events.Broker.
type EventPublisher interface {
	Publish(event *events.Event)
}

// HealthMonitor is the per-container health check loop contract,
// backed by health.Monitor, narrowed so pkg/container doesn't need to
// import pkg/health's checker-selection internals directly.
type HealthMonitor interface {
	Start()
	Stop()
}

// HealthMonitorFactory builds a HealthMonitor for rec, called from the
// start pipeline when rec.Common.HealthCheck is set.
type HealthMonitorFactory func(rec *types.Record) (HealthMonitor, error)
