package container

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/events"
	"github.com/cuemby/cored/pkg/types"
)

func TestEngine_Delete_MissingIsIdempotent(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)
	err := e.Delete(context.Background(), "never-existed", false)
	assert.NoError(t, err)
}

func TestEngine_Delete_RunningWithoutForceIsRejected(t *testing.T) {
	e, rt, _, _, _ := newTestEngine(t)
	newRunningRecord(t, e, rt, "c1")

	err := e.Delete(context.Background(), "c1", false)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
}

func TestEngine_Delete_NonRunningContainerTearsDownAndRemoves(t *testing.T) {
	e, _, _, vols, ev := newTestEngine(t)
	rec, err := newTestRecord(e, "c1")
	assert.NoError(t, err)
	rec.Common.Mounts = []*types.MountPoint{
		{Type: "volume", Name: "data", Destination: "/data"},
		{Type: "bind", Source: "/tmp", Destination: "/tmp"},
	}

	err = e.Delete(context.Background(), "c1", false)
	assert.NoError(t, err)

	_, _, err = e.Store.Get("c1")
	assert.True(t, errs.Is(err, errs.KindNotFound), "deleted container must be evicted from the store")

	assert.Equal(t, []string{"data"}, vols.delRefs, "only the named volume mount releases a reference")
	assert.Contains(t, ev.types(), events.EventPreRemove)
	assert.Contains(t, ev.types(), events.EventPostRemove)
}

func TestEngine_Delete_ForceRemovesRunningContainer(t *testing.T) {
	e, rt, _, _, _ := newTestEngine(t)
	rec := newRunningRecord(t, e, rt, "c1")

	_, machine, err := e.Store.Get("c1")
	assert.NoError(t, err)
	setStoppedAsync(e, rec, machine, 20*time.Millisecond, 0)

	err = e.Delete(context.Background(), "c1", true)
	assert.NoError(t, err)

	_, _, err = e.Store.Get("c1")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}
