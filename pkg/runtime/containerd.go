package runtime

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/types"
)

// DefaultNamespace is the containerd namespace the engine operates in.
const DefaultNamespace = "cored"

// DefaultSocketPath is the default containerd socket.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// ContainerdRuntime implements Runtime against a containerd daemon,
// for the generic-OCI runtime family (runc and its drop-ins).
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
	family    string
}

// NewContainerdRuntime dials socketPath, defaulting it and the
// namespace when empty.
func NewContainerdRuntime(socketPath, namespace string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntimeFailure, "connect to containerd", err)
	}

	return &ContainerdRuntime{client: client, namespace: namespace, family: "runc"}, nil
}

// Close closes the containerd client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) Family() string { return r.family }

func (r *ContainerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// Create pulls the image (if not already cached) and registers a
// containerd container object from rec's CommonConfig, without
// starting a task.
func (r *ContainerdRuntime) Create(ctx context.Context, rec *types.Record) error {
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, rec.Common.Image)
	if err != nil {
		image, err = r.client.Pull(ctx, rec.Common.Image, containerd.WithPullUnpack)
		if err != nil {
			return errs.Wrap(errs.KindRuntimeFailure, "pull image "+rec.Common.Image, err)
		}
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(rec.Common.Env),
	}
	if rec.Common.Hostname != "" {
		opts = append(opts, oci.WithHostname(rec.Common.Hostname))
	}
	if rec.Common.User != "" {
		opts = append(opts, oci.WithUser(rec.Common.User))
	}
	if rec.Host.MemoryLimit > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(rec.Host.MemoryLimit)))
	}
	if rec.Host.CPUShares > 0 {
		opts = append(opts, oci.WithCPUShares(uint64(rec.Host.CPUShares)))
	}
	if rec.Host.CPUQuota > 0 {
		period := uint64(rec.Host.CPUPeriod)
		if period == 0 {
			period = 100000
		}
		opts = append(opts, oci.WithCPUCFS(rec.Host.CPUQuota, period))
	}

	_, err = r.client.NewContainer(
		ctx,
		rec.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(rec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return errs.Wrap(errs.KindRuntimeFailure, "create container", err)
	}
	return nil
}

// Start creates and starts a task for rec's already-registered
// container, returning its pid tuple.
func (r *ContainerdRuntime) Start(ctx context.Context, rec *types.Record) (types.PidInfo, error) {
	ctx = r.ctx(ctx)

	c, err := r.client.LoadContainer(ctx, rec.ID)
	if err != nil {
		return types.PidInfo{}, errs.Wrap(errs.KindRuntimeFailure, "load container", err)
	}

	task, err := c.NewTask(ctx, cio.NullIO)
	if err != nil {
		return types.PidInfo{}, errs.Wrap(errs.KindRuntimeFailure, "create task", err)
	}

	if err := task.Start(ctx); err != nil {
		return types.PidInfo{}, errs.Wrap(errs.KindRuntimeFailure, "start task", err)
	}

	return types.PidInfo{Pid: int(task.Pid())}, nil
}

func (r *ContainerdRuntime) Kill(ctx context.Context, rec *types.Record, sig int) error {
	ctx = r.ctx(ctx)

	c, err := r.client.LoadContainer(ctx, rec.ID)
	if err != nil {
		return errs.Wrap(errs.KindRuntimeFailure, "load container", err)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindNotAlive, "no task for container", err)
	}
	if err := task.Kill(ctx, syscall.Signal(sig)); err != nil {
		return errs.Wrap(errs.KindRuntimeFailure, "kill task", err)
	}
	return nil
}

func (r *ContainerdRuntime) Pause(ctx context.Context, rec *types.Record) error {
	ctx = r.ctx(ctx)
	c, err := r.client.LoadContainer(ctx, rec.ID)
	if err != nil {
		return errs.Wrap(errs.KindRuntimeFailure, "load container", err)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindNotAlive, "no task for container", err)
	}
	if err := task.Pause(ctx); err != nil {
		return errs.Wrap(errs.KindRuntimeFailure, "pause task", err)
	}
	return nil
}

func (r *ContainerdRuntime) Resume(ctx context.Context, rec *types.Record) error {
	ctx = r.ctx(ctx)
	c, err := r.client.LoadContainer(ctx, rec.ID)
	if err != nil {
		return errs.Wrap(errs.KindRuntimeFailure, "load container", err)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.KindNotAlive, "no task for container", err)
	}
	if err := task.Resume(ctx); err != nil {
		return errs.Wrap(errs.KindRuntimeFailure, "resume task", err)
	}
	return nil
}

// Exec runs spec as an extra process in rec's task and blocks until it
// exits, returning its exit code. pkg/container's exec pipeline calls
// it with spec.IO already wired by pkg/execio (FIFO or vsock).
func (r *ContainerdRuntime) Exec(ctx context.Context, rec *types.Record, spec ExecSpec) (int, error) {
	ctx = r.ctx(ctx)
	c, err := r.client.LoadContainer(ctx, rec.ID)
	if err != nil {
		return 0, errs.Wrap(errs.KindRuntimeFailure, "load container", err)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return 0, errs.Wrap(errs.KindNotAlive, "no task for container", err)
	}

	pspec, err := c.Spec(ctx)
	if err != nil {
		return 0, errs.Wrap(errs.KindRuntimeFailure, "load oci spec", err)
	}
	procSpec := *pspec.Process
	procSpec.Args = spec.Argv
	procSpec.Env = append(append([]string(nil), procSpec.Env...), spec.Env...)
	if spec.Cwd != "" {
		procSpec.Cwd = spec.Cwd
	}
	procSpec.Terminal = spec.Tty

	creator := cio.NullIO
	if spec.IO != nil {
		creator = cio.NewCreator(cio.WithStreams(spec.IO.Stdin, spec.IO.Stdout, spec.IO.Stderr))
	}

	execID := rec.ID + "-exec"
	execProcess, err := task.Exec(ctx, execID, &procSpec, creator)
	if err != nil {
		return 0, errs.Wrap(errs.KindRuntimeFailure, "exec", err)
	}
	statusC, err := execProcess.Wait(ctx)
	if err != nil {
		return 0, errs.Wrap(errs.KindRuntimeFailure, "wait exec process", err)
	}
	if err := execProcess.Start(ctx); err != nil {
		return 0, errs.Wrap(errs.KindRuntimeFailure, "start exec process", err)
	}

	select {
	case status := <-statusC:
		execProcess.Delete(ctx)
		return int(status.ExitCode()), nil
	case <-ctx.Done():
		execProcess.Kill(ctx, syscall.SIGKILL)
		return 0, errs.Wrap(errs.KindRuntimeFailure, "exec timed out", ctx.Err())
	}
}

func (r *ContainerdRuntime) Wait(ctx context.Context, rec *types.Record, timeout time.Duration) (int, bool, error) {
	ctx = r.ctx(ctx)
	c, err := r.client.LoadContainer(ctx, rec.ID)
	if err != nil {
		return 0, false, errs.Wrap(errs.KindRuntimeFailure, "load container", err)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return 0, false, errs.Wrap(errs.KindNotAlive, "no task for container", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	statusC, err := task.Wait(waitCtx)
	if err != nil {
		return 0, false, errs.Wrap(errs.KindRuntimeFailure, "wait for task", err)
	}

	select {
	case status := <-statusC:
		return int(status.ExitCode()), true, nil
	case <-waitCtx.Done():
		return 0, false, nil
	}
}

// CleanResource deletes the task object (if any) without removing the
// container or its snapshot.
func (r *ContainerdRuntime) CleanResource(ctx context.Context, rec *types.Record) error {
	ctx = r.ctx(ctx)
	c, err := r.client.LoadContainer(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, containerd.ErrNotFound) {
			return nil
		}
		return errs.Wrap(errs.KindRuntimeFailure, "load container", err)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return nil
	}
	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil {
		return errs.Wrap(errs.KindRuntimeFailure, "delete task", err)
	}
	return nil
}

// Rm removes the container object and its snapshot entirely.
func (r *ContainerdRuntime) Rm(ctx context.Context, rec *types.Record) error {
	ctx = r.ctx(ctx)
	c, err := r.client.LoadContainer(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, containerd.ErrNotFound) {
			return nil
		}
		return errs.Wrap(errs.KindRuntimeFailure, "load container", err)
	}
	if err := c.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return errs.Wrap(errs.KindRuntimeFailure, "delete container", err)
	}
	return nil
}
