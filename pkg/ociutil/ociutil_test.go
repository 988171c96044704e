package ociutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cored/pkg/config"
	"github.com/cuemby/cored/pkg/types"
)

func testRecord(t *testing.T) *types.Record {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "c1"), 0o755))
	return &types.Record{
		ID:       "c1",
		RootPath: root,
		Common: &types.CommonConfig{
			Env:      []string{"PATH=/usr/bin", "FOO=bar"},
			Hostname: "c1",
		},
		Host: &types.HostConfig{
			MemoryLimit: 128 * 1024 * 1024,
			CPUShares:   512,
		},
	}
}

func TestRenewCreatesSpecWhenAbsent(t *testing.T) {
	rec := testRecord(t)
	cfg := config.Default()

	require.NoError(t, Renew(rec, cfg, nil, nil))
	assert.FileExists(t, rec.ConfigPath())
}

func TestRenewIsIdempotent(t *testing.T) {
	rec := testRecord(t)
	cfg := config.Default()

	require.NoError(t, Renew(rec, cfg, nil, nil))
	first, err := os.ReadFile(rec.ConfigPath())
	require.NoError(t, err)

	require.NoError(t, Renew(rec, cfg, nil, nil))
	second, err := os.ReadFile(rec.ConfigPath())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestMergeEnvOverridesDuplicateKeysInPlace(t *testing.T) {
	base := []string{"A=1", "B=2"}
	override := []string{"B=3", "C=4"}

	merged := mergeEnv(base, override)
	assert.Equal(t, []string{"A=1", "B=3", "C=4"}, merged)
}

func TestZeroCPUPeriodGetsKernelDefault(t *testing.T) {
	rec := testRecord(t)
	rec.Host.CPUQuota = 50000
	rec.Host.CPUPeriod = 0
	cfg := config.Default()

	require.NoError(t, Renew(rec, cfg, nil, nil))

	spec, err := load(rec.ConfigPath())
	require.NoError(t, err)
	require.NotNil(t, spec.Linux.Resources.CPU.Period)
	assert.Equal(t, uint64(100000), *spec.Linux.Resources.CPU.Period)
}

func TestRenewResolvesUser(t *testing.T) {
	rec := testRecord(t)
	rec.Common.User = "appuser"
	cfg := config.Default()

	resolveUser := func(rootfs, username string) (uint32, uint32, []uint32, error) {
		assert.Equal(t, "appuser", username)
		return 1000, 1000, []uint32{27}, nil
	}

	require.NoError(t, Renew(rec, cfg, resolveUser, nil))

	spec, err := load(rec.ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), spec.Process.User.UID)
	assert.Equal(t, uint32(1000), spec.Process.User.GID)
	assert.Equal(t, []uint32{27}, spec.Process.User.AdditionalGids)
}

func TestRenewEmptyUserClearsSpec(t *testing.T) {
	rec := testRecord(t)
	rec.Common.User = ""
	cfg := config.Default()

	require.NoError(t, os.MkdirAll(filepath.Dir(rec.ConfigPath()), 0o755))
	seeded := defaultSpec()
	seeded.Process.User.UID = 1000
	require.NoError(t, save(rec.ConfigPath(), seeded))

	require.NoError(t, Renew(rec, cfg, nil, nil))

	spec, err := load(rec.ConfigPath())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), spec.Process.User.UID)
}

func TestRenewHostNamespaceModeDropsEntry(t *testing.T) {
	rec := testRecord(t)
	rec.Host.PidMode = "host"
	cfg := config.Default()

	require.NoError(t, Renew(rec, cfg, nil, nil))

	spec, err := load(rec.ConfigPath())
	require.NoError(t, err)
	for _, ns := range spec.Linux.Namespaces {
		assert.NotEqual(t, "pid", string(ns.Type))
	}
}

func TestRenewContainerShareModeResolvesPeerPath(t *testing.T) {
	rec := testRecord(t)
	rec.Host.UTSMode = "container:peer1"
	cfg := config.Default()

	resolveNamespace := func(peerID, nsType string) (string, error) {
		assert.Equal(t, "peer1", peerID)
		assert.Equal(t, "uts", nsType)
		return "/proc/4242/ns/uts", nil
	}

	require.NoError(t, Renew(rec, cfg, nil, resolveNamespace))

	spec, err := load(rec.ConfigPath())
	require.NoError(t, err)
	found := false
	for _, ns := range spec.Linux.Namespaces {
		if string(ns.Type) == "uts" {
			found = true
			assert.Equal(t, "/proc/4242/ns/uts", ns.Path)
		}
	}
	assert.True(t, found)
}
