package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/continuity/fs"
	"github.com/docker/go-units"
	"golang.org/x/sys/unix"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/events"
	"github.com/cuemby/cored/pkg/log"
	"github.com/cuemby/cored/pkg/metrics"
	"github.com/cuemby/cored/pkg/ociutil"
	"github.com/cuemby/cored/pkg/state"
	"github.com/cuemby/cored/pkg/types"
)

// defaultDevTmpfsSize is used when a system container's memory limit
// is unset, so /dev still gets a usable tmpfs.
const defaultDevTmpfsSize = 64 * 1024 * 1024

// waitExitFifoTimeout bounds how long Start waits for the exit monitor
// to report a code after runtime_start itself fails (spec.md §4.2,
// "the runtime has already forked a monitor").
const waitExitFifoTimeout = 3 * time.Second

// Start runs the 18-step start pipeline (C5) for container id. resetRM
// requests idempotent success when the container is already Running
// (the restart-manager-driven re-entry path).
func (e *Engine) Start(ctx context.Context, id string, resetRM bool) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerStartDuration)

	rec, machine, err := e.Store.Get(id)
	if err != nil {
		return err
	}

	if err := e.beginStart(rec, machine, resetRM); err != nil {
		if err == errAlreadyRunningIdempotent {
			return nil
		}
		return err
	}

	cleanup := &cleanupStack{}
	fifoFD, err := e.runStartSteps(ctx, rec, machine, cleanup)
	if err != nil {
		e.failStart(ctx, rec, machine, cleanup, fifoFD, err)
		return stepError("start", err)
	}

	cleanup.commit()
	return nil
}

var errAlreadyRunningIdempotent = errs.NewTransition("AlreadyRunningIdempotent")

// beginStart validates preconditions and transitions Created/Stopped/
// Restarting -> Starting under the record lock.
func (e *Engine) beginStart(rec *types.Record, machine *state.Machine, resetRM bool) error {
	rec.Lock.Lock()
	defer rec.Lock.Unlock()

	if rec.RuntimeState.RemovalInProgress {
		return errs.NewTransition("RemovalInProgress")
	}
	switch rec.RuntimeState.State {
	case types.StateRunning:
		if resetRM {
			return errAlreadyRunningIdempotent
		}
		return errs.NewTransition("AlreadyRunning")
	case types.StatePaused:
		return errs.NewTransition("Paused")
	case types.StateDead:
		return errs.NewTransition("Dead")
	}

	if resetRM {
		e.Restart.Reset(rec.ID)
	}
	return machine.Begin()
}

// runStartSteps executes steps 1–18, pushing a reverse action onto
// cleanup after each step that acquired a resource. It returns the
// open exit-FIFO fd (or -1); on failure that fd is closed by the
// reverse action stateFiles pushed onto cleanup.
func (e *Engine) runStartSteps(ctx context.Context, rec *types.Record, machine *state.Machine, cleanup *cleanupStack) (int, error) {
	if err := e.devTmpfsMount(rec, cleanup); err != nil {
		return -1, stepError("dev-tmpfs-mount", err)
	}
	if err := e.hostChannelMount(rec, cleanup); err != nil {
		return -1, stepError("host-channel-mount", err)
	}

	fifoFD, err := e.stateFiles(rec, cleanup)
	if err != nil {
		return -1, stepError("state-files", err)
	}

	if err := e.targetEnvFile(rec); err != nil {
		return fifoFD, stepError("target-env-file", err)
	}

	if err := e.Image.MountContainerRootfs(rec); err != nil {
		return fifoFD, stepError("mount-rootfs", err)
	}
	cleanup.push(func() { e.Image.UmountContainerRootfs(rec) })

	// Steps 5/8/14 (load, renew, save the OCI spec) are one atomic
	// call: ociutil.Renew loads the on-disk document fresh, applies
	// the renewal, and writes it back.
	if err := ociutil.Renew(rec, e.Config, e.resolveOCIUser, e.resolveOCINamespace); err != nil {
		return fifoFD, stepError("oci-renew", err)
	}

	if err := e.Store.Persist(rec); err != nil {
		return fifoFD, stepError("persist", err)
	}

	if err := e.ipcDirsSetup(rec, cleanup); err != nil {
		return fifoFD, stepError("ipc-dirs", err)
	}

	if err := e.mtabSymlink(rec); err != nil {
		log.WithContainerID(rec.ID).Warn().Err(err).Msg("mtab symlink failed, continuing")
	}

	if err := e.verifyMounts(rec); err != nil {
		return fifoFD, stepError("verify-mounts", err)
	}

	e.Events.Publish(&events.Event{Type: events.EventPreStart, ContainerID: rec.ID})

	if err := e.Sandbox.Prepare(ctx, rec); err != nil {
		return fifoFD, stepError("sandbox-prepare", err)
	}

	if err := e.Runtime.Create(ctx, rec); err != nil {
		return fifoFD, stepError("runtime-create", err)
	}
	cleanup.push(func() { e.Runtime.CleanResource(ctx, rec) })

	pid, err := e.Runtime.Start(ctx, rec)
	if err != nil {
		e.waitExitFifo(fifoFD)
		return fifoFD, stepError("runtime-start", err)
	}

	if fifoFD >= 0 {
		if err := e.exitMon.Register(fifoFD, rec.ID, rec, machine); err != nil {
			return fifoFD, stepError("register-exit-monitor", err)
		}
		metrics.ExitMonitorRegistrationsTotal.Inc()
	}

	if err := e.commitRunning(rec, machine, pid); err != nil {
		return fifoFD, stepError("set-running", err)
	}

	if err := e.startHealthMonitor(rec); err != nil {
		log.WithContainerID(rec.ID).Warn().Err(err).Msg("health monitor did not start")
	}

	e.Events.Publish(&events.Event{Type: events.EventStarted, ContainerID: rec.ID})
	return fifoFD, nil
}

func (e *Engine) commitRunning(rec *types.Record, machine *state.Machine, pid types.PidInfo) error {
	rec.Lock.Lock()
	defer rec.Lock.Unlock()
	if err := machine.SetRunning(pid, time.Now().Unix()); err != nil {
		return err
	}
	rec.RuntimeState.StartedAt = time.Now()
	return e.Store.Persist(rec)
}

// failStart implements spec.md §4.2's failure-handling block: unwind
// every successful step's reverse action, then transition to Stopped
// with exit_code 125 (or an exit code embedded in the error), persist,
// broadcast, and auto-remove if configured.
func (e *Engine) failStart(ctx context.Context, rec *types.Record, machine *state.Machine, cleanup *cleanupStack, fifoFD int, cause error) {
	metrics.PipelineStepFailuresTotal.WithLabelValues("start", "unwind").Inc()
	cleanup.unwind()

	rec.Lock.Lock()
	machine.SetStopped(extractExitCode(cause))
	rec.RuntimeState.LastError = cause.Error()
	autoRemove := rec.Host.AutoRemove
	_ = e.Store.Persist(rec)
	rec.Lock.Unlock()

	log.WithContainerID(rec.ID).Error().Err(cause).Msg("start pipeline failed")

	if autoRemove {
		// Delete sets RemovalInProgress itself through BeginRemoval.
		if err := e.Delete(ctx, rec.ID, true); err != nil {
			log.WithContainerID(rec.ID).Warn().Err(err).Msg("auto-remove after failed start")
		}
	}
}

// waitExitFifo implements the post-runtime_start-failure wait: the
// runtime may have already forked a monitor process even though Start
// returned an error, so we give it up to 3s to report an exit code
// through the fifo before giving up and closing it.
func (e *Engine) waitExitFifo(fd int) {
	if fd < 0 {
		return
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, _ := unix.Poll(fds, int(waitExitFifoTimeout/time.Millisecond))
	if n == 0 {
		metrics.ExitMonitorFallbackTimeoutsTotal.Inc()
	}
	unix.Close(fd)
}

// extractExitCode looks for a trailing exit code embedded in err's
// message (e.g. "...: exit status 137"), falling back to the literal
// 125 spec.md assigns to a failed start.
func extractExitCode(err error) int {
	if err == nil {
		return 125
	}
	msg := err.Error()
	idx := strings.LastIndex(msg, "exit status ")
	if idx < 0 {
		return 125
	}
	var code int
	if n, scanErr := fmt.Sscanf(msg[idx:], "exit status %d", &code); scanErr == nil && n == 1 {
		return code
	}
	return 125
}

// devTmpfsMount is start step 1: mount tmpfs at <base_fs>/dev for
// system containers with an externally managed rootfs.
func (e *Engine) devTmpfsMount(rec *types.Record, cleanup *cleanupStack) error {
	if !rec.Host.SystemContainer || !rec.Host.ExternalRootfs {
		return nil
	}
	size := rec.Host.MemoryLimit / 2
	if size <= 0 {
		size = defaultDevTmpfsSize
	}
	target := filepath.Join(rec.Common.BaseFS, "dev")
	if err := os.MkdirAll(target, 0o755); err != nil {
		return errs.Wrap(errs.KindMountFailure, "mkdir dev tmpfs target", err)
	}
	opts := fmt.Sprintf("size=%s", units.BytesSize(float64(size)))
	if err := unix.Mount("tmpfs", target, "tmpfs", 0, opts); err != nil {
		return errs.Wrap(errs.KindMountFailure, "mount dev tmpfs", err)
	}
	if rec.Host.UserRemap != nil && rec.Host.UserRemap.Enabled {
		os.Chown(target, int(rec.Host.UserRemap.HostUID), int(rec.Host.UserRemap.HostGID))
	}
	cleanup.push(func() { unix.Unmount(target, unix.MNT_DETACH) })
	return nil
}

// hostChannelMount is start step 2: a tmpfs of the configured size at
// host_channel.path_on_host, chowned per user_remap.
func (e *Engine) hostChannelMount(rec *types.Record, cleanup *cleanupStack) error {
	hc := rec.Host.HostChannel
	if hc == nil {
		return nil
	}
	size := hc.Size
	if size <= 0 {
		size = e.Config.DefaultHostChannelSize
	}
	if err := os.MkdirAll(hc.PathOnHost, 0o755); err != nil {
		return errs.Wrap(errs.KindMountFailure, "mkdir host channel", err)
	}
	opts := fmt.Sprintf("size=%s", units.BytesSize(float64(size)))
	if err := unix.Mount("tmpfs", hc.PathOnHost, "tmpfs", 0, opts); err != nil {
		if err != unix.EBUSY {
			return errs.Wrap(errs.KindMountFailure, "mount host channel", err)
		}
	}
	if rec.Host.UserRemap != nil && rec.Host.UserRemap.Enabled {
		os.Chown(hc.PathOnHost, int(rec.Host.UserRemap.HostUID), int(rec.Host.UserRemap.HostGID))
	}
	return nil
}

// stateFiles is start step 4: create state_path/<id>/, the pid file,
// and the exit-FIFO, opened read/write by the core before handing the
// write end's name to the runtime.
func (e *Engine) stateFiles(rec *types.Record, cleanup *cleanupStack) (int, error) {
	dir := rec.ContainerStateDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return -1, errs.Wrap(errs.KindMountFailure, "create state dir", err)
	}
	if err := os.WriteFile(rec.PidFilePath(), []byte{}, 0o600); err != nil {
		return -1, errs.Wrap(errs.KindMountFailure, "create pid file", err)
	}

	fifoPath := rec.ExitFifoPath()
	if err := unix.Mkfifo(fifoPath, 0o600); err != nil && err != unix.EEXIST {
		return -1, errs.Wrap(errs.KindMountFailure, "mkfifo exit fifo", err)
	}
	fd, err := unix.Open(fifoPath, unix.O_RDWR|unix.O_NONBLOCK, 0o600)
	if err != nil {
		return -1, errs.Wrap(errs.KindMountFailure, "open exit fifo", err)
	}
	cleanup.push(func() { unix.Close(fd) })
	return fd, nil
}

// targetEnvFile is start step 6: write env entries into the rootfs
// for a system container with an external rootfs configured with
// env_target_file.
func (e *Engine) targetEnvFile(rec *types.Record) error {
	path := rec.Host.EnvTargetFile
	if path == "" || !rec.Host.SystemContainer || !rec.Host.ExternalRootfs {
		return nil
	}
	resolved, err := fs.RootPath(rec.Common.BaseFS, path)
	if err != nil {
		return errs.Wrap(errs.KindSymlinkFailure, "resolve env target file", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
		return errs.Wrap(errs.KindMountFailure, "mkdir env target dir", err)
	}
	var data []byte
	for _, kv := range rec.Common.Env {
		if len(kv) > 4096 {
			return errs.New(errs.KindInvalidArgument, "env entry exceeds 4096 bytes")
		}
		data = append(data, kv...)
		data = append(data, '\n')
	}
	if err := os.WriteFile(resolved, data, 0o640); err != nil {
		return errs.Wrap(errs.KindMountFailure, "write env target file", err)
	}
	return nil
}

// ipcDirsSetup is start step 10: create/bind the shm path unless the
// container shares it from elsewhere.
func (e *Engine) ipcDirsSetup(rec *types.Record, cleanup *cleanupStack) error {
	if rec.Common.ShmPath == "" || rec.Host.IpcMode == "host" || rec.Host.SystemContainer {
		return nil
	}
	if err := os.MkdirAll(rec.Common.ShmPath, 0o755); err != nil {
		return errs.Wrap(errs.KindMountFailure, "mkdir shm path", err)
	}
	if rec.Host.IpcMode == "shareable" || rec.Host.IpcMode == "" {
		opts := "size=65536k"
		if err := unix.Mount("tmpfs", rec.Common.ShmPath, "tmpfs", 0, opts); err != nil && err != unix.EBUSY {
			return errs.Wrap(errs.KindMountFailure, "mount shm", err)
		}
		cleanup.push(func() { unix.Unmount(rec.Common.ShmPath, unix.MNT_DETACH) })
	}
	return nil
}

// mtabSymlink is start step 11: ensure <rootfs>/etc/mtab -> /proc/mounts
// for non-embedded, non-kata runtimes. Failures are non-fatal warnings.
func (e *Engine) mtabSymlink(rec *types.Record) error {
	if rec.Common.ImageType == "embedded" || rec.Runtime == "kata-runtime" {
		return nil
	}
	etcDir := filepath.Join(rec.Common.BaseFS, "etc")
	if err := os.MkdirAll(etcDir, 0o755); err != nil {
		return err
	}
	link := filepath.Join(etcDir, "mtab")
	if err := os.Symlink("/proc/mounts", link); err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return nil
}

// verifyMounts is start step 12: every volume mount source must lstat
// successfully.
func (e *Engine) verifyMounts(rec *types.Record) error {
	for _, m := range rec.Common.Mounts {
		if m.Type != "volume" && m.Type != "bind" {
			continue
		}
		if _, err := os.Lstat(m.Source); err != nil {
			return errs.Wrap(errs.KindMountFailure, "mount source missing: "+m.Source, err)
		}
	}
	return nil
}

// resolveOCIUser adapts e.Image.GetUserConf to ociutil.UserResolver.
func (e *Engine) resolveOCIUser(rootfs, username string) (uid, gid uint32, additionalGids []uint32, err error) {
	uc, err := e.Image.GetUserConf(rootfs, username)
	if err != nil {
		return 0, 0, nil, err
	}
	return uc.UID, uc.GID, uc.AdditionalGIDs, nil
}

// resolveOCINamespace adapts ociutil.NamespaceResolver to a peer
// container's running pid, looked up by id in the store.
func (e *Engine) resolveOCINamespace(peerID, nsType string) (string, error) {
	peer, _, err := e.Store.Get(peerID)
	if err != nil {
		return "", err
	}
	peer.Lock.Lock()
	pid := peer.RuntimeState.Pid.Pid
	peer.Lock.Unlock()
	if pid <= 0 {
		return "", errs.New(errs.KindInvalidTransition, "peer container "+peerID+" is not running")
	}
	return fmt.Sprintf("/proc/%d/ns/%s", pid, procNsName(nsType)), nil
}

// procNsName maps an OCI runtime-spec namespace type to the file name
// under /proc/<pid>/ns, which differs for network and mount.
func procNsName(nsType string) string {
	switch nsType {
	case "network":
		return "net"
	case "mount":
		return "mnt"
	default:
		return nsType
	}
}
