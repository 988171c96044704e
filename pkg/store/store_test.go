package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/types"
)

func newTestRecord(t *testing.T, id, name string) *types.Record {
	return &types.Record{
		ID:       id,
		Name:     name,
		RootPath: t.TempDir(),
		Common:   &types.CommonConfig{Image: "docker.io/library/alpine:latest"},
		Host:     &types.HostConfig{},
	}
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	rec := newTestRecord(t, "c1", "web")

	m, err := s.Create(rec)
	require.NoError(t, err)
	require.NotNil(t, m)

	got, gm, err := s.Get("c1")
	require.NoError(t, err)
	assert.Same(t, rec, got)
	assert.Same(t, m, gm)

	assert.FileExists(t, filepath.Join(rec.RootPath, "c1", "container.json"))
}

func TestCreateDuplicateIDRejected(t *testing.T) {
	s := New()
	rec1 := newTestRecord(t, "c1", "web")
	rec2 := newTestRecord(t, "c1", "other")

	_, err := s.Create(rec1)
	require.NoError(t, err)
	_, err = s.Create(rec2)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindAlreadyExists))
}

func TestCreateDuplicateNameRejected(t *testing.T) {
	s := New()
	rec1 := newTestRecord(t, "c1", "web")
	rec2 := newTestRecord(t, "c2", "web")

	_, err := s.Create(rec1)
	require.NoError(t, err)
	_, err = s.Create(rec2)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindAlreadyExists))
}

func TestGetByName(t *testing.T) {
	s := New()
	rec := newTestRecord(t, "c1", "web")
	_, err := s.Create(rec)
	require.NoError(t, err)

	got, _, err := s.GetByName("web")
	require.NoError(t, err)
	assert.Same(t, rec, got)
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := New()
	_, _, err := s.Get("nope")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestRemoveFreesNameForReuse(t *testing.T) {
	s := New()
	rec := newTestRecord(t, "c1", "web")
	_, err := s.Create(rec)
	require.NoError(t, err)

	require.NoError(t, s.Remove("c1"))

	rec2 := newTestRecord(t, "c2", "web")
	_, err = s.Create(rec2)
	require.NoError(t, err)
}

func TestListReturnsAllRecords(t *testing.T) {
	s := New()
	r1 := newTestRecord(t, "c1", "a")
	r2 := newTestRecord(t, "c2", "b")
	_, err := s.Create(r1)
	require.NoError(t, err)
	_, err = s.Create(r2)
	require.NoError(t, err)

	list := s.List()
	assert.Len(t, list, 2)
}

func TestPersistThenLoadRoundTrips(t *testing.T) {
	s := New()
	rec := newTestRecord(t, "c1", "web")
	_, err := s.Create(rec)
	require.NoError(t, err)

	rec.RuntimeState.State = types.StateRunning
	require.NoError(t, s.Persist(rec))

	loaded, err := Load(rec.RecordPath())
	require.NoError(t, err)
	assert.Equal(t, types.StateRunning, loaded.RuntimeState.State)
	assert.Equal(t, rec.Common.Image, loaded.Common.Image)
}
