package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDriverCreateAndRemove(t *testing.T) {
	d, err := NewLocalDriver(t.TempDir())
	require.NoError(t, err)

	path, err := d.Create("data")
	require.NoError(t, err)
	assert.DirExists(t, path)
	assert.Equal(t, filepath.Join(d.basePath, "data"), path)

	require.NoError(t, d.Remove("data"))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocalDriverRemoveIsIdempotent(t *testing.T) {
	d, err := NewLocalDriver(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, d.Remove("never-created"))
}

func TestRefCounterAddDelRef(t *testing.T) {
	r := NewRefCounter()
	r.AddRef("v1")
	r.AddRef("v1")
	assert.Equal(t, 2, r.Count("v1"))

	assert.Equal(t, 1, r.DelRef("v1"))
	assert.Equal(t, 0, r.DelRef("v1"))
	assert.Equal(t, 0, r.Count("v1"))
}

func TestRefCounterDelRefNeverGoesNegative(t *testing.T) {
	r := NewRefCounter()
	assert.Equal(t, 0, r.DelRef("unknown"))
	assert.Equal(t, 0, r.Count("unknown"))
}

func TestManagerMountAddsRef(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	path, err := m.Mount("shared")
	require.NoError(t, err)
	assert.DirExists(t, path)
	assert.Equal(t, 1, m.refs.Count("shared"))
}

func TestManagerDelRefKeepsNamedVolume(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	path, err := m.Mount("named")
	require.NoError(t, err)

	require.NoError(t, m.DelRef("named", false))
	assert.DirExists(t, path)
}

func TestManagerDelRefRemovesAnonymousAtZero(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	path, err := m.Mount("anon")
	require.NoError(t, err)

	require.NoError(t, m.DelRef("anon", true))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestManagerDelRefKeepsAnonymousWhileReferenced(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	path, err := m.Mount("anon-shared")
	require.NoError(t, err)
	_, err = m.Mount("anon-shared")
	require.NoError(t, err)

	require.NoError(t, m.DelRef("anon-shared", true))
	assert.DirExists(t, path)

	require.NoError(t, m.DelRef("anon-shared", true))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}
