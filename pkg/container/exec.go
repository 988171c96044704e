package container

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/events"
	"github.com/cuemby/cored/pkg/execio"
	"github.com/cuemby/cored/pkg/log"
	"github.com/cuemby/cored/pkg/metrics"
	"github.com/cuemby/cored/pkg/ociutil"
	"github.com/cuemby/cored/pkg/runtime"
	"github.com/cuemby/cored/pkg/types"
)

// maxEnvListSize bounds the total number of env entries an exec
// process-spec may carry (LIST_ENV_SIZE_MAX, spec.md §4.4).
const maxEnvListSize = 4096

// ExecRequest is the input to Exec (spec.md §4.4).
type ExecRequest struct {
	Argv    []string
	Env     []string
	User    string
	Tty     bool
	Workdir string
	Suffix  string // 64 hex chars, identifies this invocation's I/O dir
	Timeout time.Duration

	AttachStdin  bool
	AttachStdout bool
	AttachStderr bool
}

// Exec drives the exec pipeline (C7, spec.md §4.4): synthesise a
// process spec branching on runtime family, wire I/O over FIFO or
// vsock, run it to completion, and return its exit code.
func (e *Engine) Exec(ctx context.Context, id string, req ExecRequest) (int, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ExecDuration)

	rec, machine, err := e.Store.Get(id)
	if err != nil {
		return 0, err
	}

	rec.Lock.Lock()
	state := machine.Current()
	rec.Lock.Unlock()
	switch state {
	case types.StateRunning:
	case types.StatePaused:
		return 0, errs.NewTransition("Paused")
	case types.StateRestarting:
		return 0, errs.NewTransition("Restarting")
	default:
		return 0, errs.NewTransition(string(state))
	}

	if len(req.Argv) == 0 {
		return 0, errs.New(errs.KindEmptyArgv, "exec argv must not be empty")
	}

	spec, err := e.synthesizeExecSpec(rec, req)
	if err != nil {
		return 0, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	io, cleanup, err := e.wireExecIO(ctx, rec, req)
	if err != nil {
		return 0, err
	}
	defer cleanup()
	spec.IO = io

	e.Events.Publish(&events.Event{Type: events.EventExecStarted, ContainerID: rec.ID})
	exitCode, execErr := e.Runtime.Exec(ctx, rec, *spec)

	if rec.Common.SandboxID != "" {
		if err := e.Sandbox.PurgeExec(ctx, rec, req.Suffix); err != nil {
			log.WithContainerID(rec.ID).WithExecSuffix(req.Suffix).Warn().Err(err).Msg("sandbox exec purge failed")
		}
	}

	if execErr != nil {
		return 0, execErr
	}
	return exitCode, nil
}

// synthesizeExecSpec builds the runtime.ExecSpec per spec.md §4.4's
// lcr/generic-OCI branch.
func (e *Engine) synthesizeExecSpec(rec *types.Record, req ExecRequest) (*runtime.ExecSpec, error) {
	env := req.Env
	var rlimits []types.Ulimit
	noNewPrivs := false

	if !strings.EqualFold(e.Runtime.Family(), "lcr") {
		env = e.mergeExecEnv(rec, req)

		defaults, err := ociutil.LoadProcessDefaults(rec.ConfigPath())
		if err != nil {
			log.WithContainerID(rec.ID).Warn().Err(err).Msg("could not load oci spec defaults for exec, continuing without them")
		} else {
			rlimits = defaults.Rlimits
			noNewPrivs = defaults.NoNewPrivileges
		}
	}

	if len(env) > maxEnvListSize {
		return nil, errs.New(errs.KindEnvTooLong, "exec env entries exceed LIST_ENV_SIZE_MAX")
	}

	user := req.User
	if user == "" {
		user = rec.Common.User
	}
	if req.User != "" {
		if _, err := e.Image.GetUserConf(rec.Common.BaseFS, req.User); err != nil {
			return nil, errs.Wrap(errs.KindUserResolution, "resolve exec user "+req.User, err)
		}
	}

	cwd := req.Workdir
	if cwd == "" {
		cwd = rec.Common.WorkingDir
	}
	if cwd == "" {
		cwd = "/"
	}

	return &runtime.ExecSpec{
		Argv:       req.Argv,
		Env:        env,
		Cwd:        cwd,
		Tty:        req.Tty,
		User:       user,
		Rlimits:    rlimits,
		NoNewPrivs: noNewPrivs,
	}, nil
}

// mergeExecEnv implements the generic-OCI family's env synthesis: the
// container's env, then default PATH/HOSTNAME/TERM for any key not
// already present, then the request env last so it wins on conflict.
func (e *Engine) mergeExecEnv(rec *types.Record, req ExecRequest) []string {
	seen := make(map[string]bool, len(rec.Common.Env)+4)
	merged := append([]string(nil), rec.Common.Env...)
	for _, kv := range merged {
		seen[envKeyOf(kv)] = true
	}

	defaults := []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}
	if rec.Common.Hostname != "" {
		defaults = append(defaults, "HOSTNAME="+rec.Common.Hostname)
	}
	if req.Tty {
		defaults = append(defaults, "TERM=xterm")
	}
	for _, kv := range defaults {
		if !seen[envKeyOf(kv)] {
			merged = append(merged, kv)
			seen[envKeyOf(kv)] = true
		}
	}

	idx := make(map[string]int, len(merged))
	for i, kv := range merged {
		idx[envKeyOf(kv)] = i
	}
	for _, kv := range req.Env {
		k := envKeyOf(kv)
		if i, ok := idx[k]; ok {
			merged[i] = kv
			continue
		}
		idx[k] = len(merged)
		merged = append(merged, kv)
	}
	return merged
}

func envKeyOf(kv string) string {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i]
		}
	}
	return kv
}

// wireExecIO selects the vsock transport when the container's network
// settings carry a vsock task address, else opens a FIFO triple under
// the per-exec state directory, returning a runtime.ExecIO adapter and
// a cleanup closure that closes whichever transport was opened.
func (e *Engine) wireExecIO(ctx context.Context, rec *types.Record, req ExecRequest) (*runtime.ExecIO, func(), error) {
	if !req.AttachStdin && !req.AttachStdout && !req.AttachStderr {
		return nil, func() {}, nil
	}

	if rec.Network != nil && execio.IsVsockAddress(rec.Network.SandboxKey) {
		io, err := execio.DialVsock(rec.Network.SandboxKey)
		if err != nil {
			return nil, nil, err
		}
		return &runtime.ExecIO{Stdin: io.Stdin, Stdout: io.Stdout, Stderr: io.Stderr}, func() { io.Close() }, nil
	}

	dir := filepath.Join(rec.ContainerStateDir(), "exec-"+req.Suffix)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, errs.Wrap(errs.KindRuntimeFailure, "create exec io dir", err)
	}
	paths := execio.Paths{
		Stdin:  filepath.Join(dir, "stdin"),
		Stdout: filepath.Join(dir, "stdout"),
		Stderr: filepath.Join(dir, "stderr"),
	}
	io, err := execio.OpenFIFOs(ctx, paths)
	if err != nil {
		return nil, nil, err
	}
	return &runtime.ExecIO{Stdin: io.Stdin, Stdout: io.Stdout, Stderr: io.Stderr}, func() {
		io.Close()
		os.RemoveAll(dir)
	}, nil
}
