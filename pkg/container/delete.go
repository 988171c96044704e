package container

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/events"
	"github.com/cuemby/cored/pkg/log"
	"github.com/cuemby/cored/pkg/metrics"
	"github.com/cuemby/cored/pkg/network"
	"github.com/cuemby/cored/pkg/state"
	"github.com/cuemby/cored/pkg/types"
)

// deleteStopTimeout is the fixed window spec.md §4.5 step 1 gives a
// Running container before delete force-stops it.
const deleteStopTimeout = 3 * time.Second

// Delete drives the delete pipeline (C8, spec.md §4.5): tear down
// every resource a container's start pipeline acquired, in the fixed
// order steps 5-14 name, then evict the record from the store.
func (e *Engine) Delete(ctx context.Context, id string, force bool) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerDeleteDuration)

	rec, machine, err := e.Store.Get(id)
	if err != nil {
		return nil // already gone: idempotent
	}

	if err := e.stopForDelete(ctx, rec, machine, force); err != nil {
		return err
	}

	e.Events.Publish(&events.Event{Type: events.EventPreRemove, ContainerID: rec.ID})

	if _, _, err := e.Store.Get(id); err != nil {
		return nil // concurrent delete already won
	}

	rec.Lock.Lock()
	if err := machine.BeginRemoval(); err != nil {
		rec.Lock.Unlock()
		return err
	}
	_ = e.Store.Persist(rec)
	rec.Lock.Unlock()

	if err := e.runDeleteSteps(ctx, rec); err != nil {
		rec.Lock.Lock()
		machine.ResetRemoval()
		rec.Lock.Unlock()
		metrics.PipelineStepFailuresTotal.WithLabelValues("delete", "teardown").Inc()
		return stepError("delete", err)
	}

	rec.Lock.Lock()
	machine.SetDead()
	rec.Lock.Unlock()

	e.Store.Remove(rec.ID)
	e.Restart.Forget(rec.ID)
	e.stopHealthMonitor(rec.ID)

	if rec.Host.AutoRemoveBak {
		os.RemoveAll(clientFifoDir(e.Config.StatePath, rec.ID))
	}

	e.Events.Publish(&events.Event{Type: events.EventPostRemove, ContainerID: rec.ID})
	return nil
}

func (e *Engine) stopForDelete(ctx context.Context, rec *types.Record, machine *state.Machine, force bool) error {
	rec.Lock.Lock()
	current := machine.Current()
	rec.Lock.Unlock()

	switch current {
	case types.StateRunning:
		if !force {
			return errs.NewTransition("RunningNotRemovable")
		}
	case types.StatePaused:
		if !force {
			return errs.NewTransition("PausedNotRemovable")
		}
	default:
		return nil
	}

	return e.Stop(ctx, rec.ID, deleteStopTimeout, false)
}

// runDeleteSteps executes spec.md §4.5 steps 5-11 in order. Each step
// logs and continues past a failure that leaves the filesystem in an
// already-clean state (removal must stay idempotent across retries);
// any other failure aborts the whole pipeline so BeginRemoval can be
// undone and the operator can retry.
func (e *Engine) runDeleteSteps(ctx context.Context, rec *types.Record) error {
	if err := network.Teardown(rec); err != nil {
		return stepError("network-teardown", err)
	}

	if err := os.RemoveAll(rec.ContainerStateDir()); err != nil {
		return stepError("remove-state-dir", err)
	}

	if err := e.umountIPC(rec); err != nil {
		log.WithContainerID(rec.ID).Warn().Err(err).Msg("umount shm/host-channel failed, continuing")
	}

	if err := cleanupMountsByID(rec); err != nil {
		log.WithContainerID(rec.ID).Warn().Err(err).Msg("cleanup_mounts_by_id failed, continuing")
	}

	if err := e.Runtime.Rm(ctx, rec); err != nil {
		return stepError("runtime-rm", err)
	}

	if err := e.Image.RemoveContainerRootfs(rec); err != nil {
		return stepError("remove-rootfs", err)
	}

	e.releaseVolumes(rec)

	if err := os.RemoveAll(filepath.Dir(rec.RecordPath())); err != nil {
		return stepError("remove-root-dir", err)
	}

	return nil
}

func (e *Engine) umountIPC(rec *types.Record) error {
	if rec.Common.ShmPath != "" && !rec.Host.SystemContainer &&
		(rec.Host.IpcMode == "shareable" || rec.Host.IpcMode == "") {
		if err := unix.Unmount(rec.Common.ShmPath, unix.MNT_DETACH); err != nil && err != unix.EINVAL {
			return err
		}
	}
	if rec.Host.HostChannel != nil {
		if err := unix.Unmount(rec.Host.HostChannel.PathOnHost, unix.MNT_DETACH); err != nil && err != unix.EINVAL {
			return err
		}
	}
	return nil
}

// cleanupMountsByID walks /proc/self/mountinfo and lazily unmounts
// anything still mounted under the container's root directory, the
// catch-all sweep spec.md §4.5 step 8 runs after the targeted umounts
// above in case a bind mount the pipeline doesn't track by name leaked.
func cleanupMountsByID(rec *types.Record) error {
	prefix := filepath.Join(rec.RootPath, rec.ID)
	mounts, err := mountinfo.GetMounts(mountinfo.PrefixFilter(prefix))
	if err != nil {
		return err
	}
	for _, m := range mounts {
		if !strings.HasPrefix(m.Mountpoint, prefix) {
			continue
		}
		if err := unix.Unmount(m.Mountpoint, unix.MNT_DETACH); err != nil && err != unix.EINVAL {
			log.WithContainerID(rec.ID).Warn().Err(err).Str("mountpoint", m.Mountpoint).Msg("lazy umount failed")
		}
	}
	return nil
}

func (e *Engine) releaseVolumes(rec *types.Record) {
	for _, m := range rec.Common.Mounts {
		if m.Type != "volume" || m.Name == "" {
			continue
		}
		if err := e.Volumes.DelRef(m.Name, m.Anonymous); err != nil {
			log.WithContainerID(rec.ID).Warn().Err(err).Str("volume", m.Name).Msg("volume release failed")
		}
	}
}

func clientFifoDir(statePath, id string) string {
	return filepath.Join(statePath, "client", id)
}
