package container

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/runtime"
	"github.com/cuemby/cored/pkg/types"
)

func TestEngine_Exec_NotRunning(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	_, err := newTestRecord(e, "c1")
	assert.NoError(t, err)

	_, err = e.Exec(context.Background(), "c1", ExecRequest{Argv: []string{"/bin/true"}})
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
}

func TestEngine_Exec_EmptyArgv(t *testing.T) {
	e, rt, _, _, _ := newTestEngine(t)
	newRunningRecord(t, e, rt, "c1")

	_, err := e.Exec(context.Background(), "c1", ExecRequest{})
	assert.True(t, errs.Is(err, errs.KindEmptyArgv))
}

func TestEngine_Exec_UnresolvedUser(t *testing.T) {
	e, rt, _, _, _ := newTestEngine(t)
	newRunningRecord(t, e, rt, "c1")

	_, err := e.Exec(context.Background(), "c1", ExecRequest{
		Argv: []string{"/bin/true"},
		User: "nobody",
	})
	assert.True(t, errs.Is(err, errs.KindUserResolution))
}

func TestEngine_Exec_ReturnsRuntimeExitCode(t *testing.T) {
	e, rt, _, _, _ := newTestEngine(t)
	newRunningRecord(t, e, rt, "c1")

	rt.execFn = func(ctx context.Context, rec *types.Record, spec runtime.ExecSpec) (int, error) {
		return 7, nil
	}

	code, err := e.Exec(context.Background(), "c1", ExecRequest{Argv: []string{"/bin/sh", "-c", "exit 7"}})
	assert.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestEngine_MergeExecEnv(t *testing.T) {
	e, rt, _, _, _ := newTestEngine(t)
	rec := newRunningRecord(t, e, rt, "c1")

	tests := []struct {
		name string
		req  ExecRequest
		want map[string]string
	}{
		{
			name: "adds PATH default and keeps container env",
			req:  ExecRequest{Env: []string{"EXTRA=1"}},
			want: map[string]string{"FOO": "bar", "EXTRA": "1"},
		},
		{
			name: "request env overrides container env",
			req:  ExecRequest{Env: []string{"FOO=override"}},
			want: map[string]string{"FOO": "override"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged := e.mergeExecEnv(rec, tt.req)
			got := make(map[string]string, len(merged))
			for _, kv := range merged {
				k, v := envKeyOf(kv), kv[len(envKeyOf(kv))+1:]
				got[k] = v
			}
			for k, v := range tt.want {
				assert.Equal(t, v, got[k])
			}
			assert.Contains(t, got, "PATH")
		})
	}
}

func TestEngine_Exec_LCRFamilyUsesRequestEnvVerbatim(t *testing.T) {
	e, rt, _, _, _ := newTestEngine(t)
	newRunningRecord(t, e, rt, "c1")
	rt.family = "lcr"

	var seenEnv []string
	rt.execFn = func(ctx context.Context, r *types.Record, spec runtime.ExecSpec) (int, error) {
		seenEnv = spec.Env
		return 0, nil
	}

	_, err := e.Exec(context.Background(), "c1", ExecRequest{
		Argv: []string{"/bin/true"},
		Env:  []string{"ONLY=this"},
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"ONLY=this"}, seenEnv)
}
