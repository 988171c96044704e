// Package runtime defines the low-level runtime contract (spec.md §6)
// the container pipelines drive: create, start, kill, resume, exec,
// clean_resource and rm, plus a Family() identity used where pipeline
// behavior branches on runtime family (the lcr vs generic-OCI env
// synthesis split in the exec pipeline).
package runtime

import (
	"context"
	"io"
	"time"

	"github.com/cuemby/cored/pkg/types"
)

// ExecIO carries the already-opened stdio streams an exec process is
// wired to, supplied by pkg/execio's FIFO or vsock transport. A nil
// ExecIO means the process runs with no attached stdio (cio.NullIO).
type ExecIO struct {
	Stdin          io.Reader
	Stdout, Stderr io.Writer
}

// ExecSpec describes one exec request against a running container.
type ExecSpec struct {
	Argv       []string
	Env        []string
	Cwd        string
	Tty        bool
	User       string
	Rlimits    []types.Ulimit
	NoNewPrivs bool
	IO         *ExecIO
}

// Runtime is the engine's contract with a low-level container runtime.
// ContainerdRuntime is the concrete generic-OCI implementation;
// additional families (e.g. a kata/vsock-backed sandbox runtime)
// implement the same interface.
type Runtime interface {
	// Family identifies the runtime family, e.g. "runc", "kata-runtime".
	// The exec pipeline reads this to decide its env-synthesis branch.
	Family() string

	// Create materializes rec's OCI bundle and registers it with the
	// runtime, without starting a process.
	Create(ctx context.Context, rec *types.Record) error

	// Start launches rec's init process and returns its pid tuple.
	Start(ctx context.Context, rec *types.Record) (types.PidInfo, error)

	// Kill sends signal sig to rec's init process.
	Kill(ctx context.Context, rec *types.Record, sig int) error

	// Pause and Resume freeze/thaw rec's cgroup.
	Pause(ctx context.Context, rec *types.Record) error
	Resume(ctx context.Context, rec *types.Record) error

	// Exec runs spec inside rec's namespaces and blocks until it exits
	// or ctx is done, returning its exit code.
	Exec(ctx context.Context, rec *types.Record, spec ExecSpec) (int, error)

	// Wait blocks until rec's init process exits, or ctx/timeout
	// elapses first, returning its exit code.
	Wait(ctx context.Context, rec *types.Record, timeout time.Duration) (int, bool, error)

	// CleanResource releases runtime-side bookkeeping for rec (the
	// task object) without touching the on-disk bundle.
	CleanResource(ctx context.Context, rec *types.Record) error

	// Rm removes rec's runtime-side container object entirely.
	Rm(ctx context.Context, rec *types.Record) error
}
