package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHasSaneValues(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.RootPath)
	assert.NotEmpty(t, cfg.StatePath)
	assert.NotEmpty(t, cfg.DefaultDeviceWhitelist)
	assert.Greater(t, cfg.GracefulStopTimeout.Seconds(), float64(0))
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cored.yaml")
	content := "root_path: /custom/root\ncontainerd_namespace: testns\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/custom/root", cfg.RootPath)
	assert.Equal(t, "testns", cfg.ContainerdNamespace)
	// Unset fields still default.
	assert.NotEmpty(t, cfg.StatePath)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path/cored.yaml")
	require.Error(t, err)
}
