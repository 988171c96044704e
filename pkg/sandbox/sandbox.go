// Package sandbox defines the optional sandbox/CRI-v1 collaborator
// (spec.md §9 "CRI-API-v1 optionality") as an interface the container
// pipelines call unconditionally; when sandboxing is disabled, None
// plugs in a no-op so the pipelines never need a nil check.
package sandbox

import (
	"context"

	"github.com/cuemby/cored/pkg/types"
)

// Sandbox is the narrow contract the start/exec pipelines need from a
// pod-level sandbox: prepare a container joining the sandbox's
// namespaces, and purge it (and any of its execs) from sandbox
// bookkeeping on exit or delete.
type Sandbox interface {
	// Prepare is called from the start pipeline (step 16) before
	// runtime_create for a sandbox-associated container; it resolves
	// the shared namespace paths (net/ipc/uts) the OCI-spec renewer
	// should bind to.
	Prepare(ctx context.Context, rec *types.Record) error

	// PurgeContainer removes rec from the sandbox's bookkeeping,
	// called from the stop pipeline (§4.3 step 7).
	PurgeContainer(ctx context.Context, rec *types.Record) error

	// PurgeExec removes one exec invocation from the sandbox's
	// bookkeeping, called after every exec (§4.4).
	PurgeExec(ctx context.Context, rec *types.Record, execID string) error
}

// none is the build-time-disabled adapter: every call is a no-op.
type none struct{}

// None is the Sandbox implementation used when no sandbox subsystem is
// configured; all of its methods succeed trivially.
var None Sandbox = none{}

func (none) Prepare(ctx context.Context, rec *types.Record) error             { return nil }
func (none) PurgeContainer(ctx context.Context, rec *types.Record) error      { return nil }
func (none) PurgeExec(ctx context.Context, rec *types.Record, id string) error { return nil }
