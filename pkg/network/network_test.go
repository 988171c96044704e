package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cored/pkg/types"
)

func TestTeardownNoopWithoutSandboxKey(t *testing.T) {
	rec := &types.Record{ID: "c1", Common: &types.CommonConfig{}, Host: &types.HostConfig{}}
	require.NoError(t, Teardown(rec))
}

func TestTeardownHostModeIsNoop(t *testing.T) {
	rec := &types.Record{
		ID:      "c1",
		Common:  &types.CommonConfig{},
		Host:    &types.HostConfig{NetworkMode: "host"},
		Network: &types.NetworkSettings{SandboxKey: "/var/run/netns/c1"},
	}
	require.NoError(t, Teardown(rec))
}

func TestAlreadyGoneDetectsMissingDevice(t *testing.T) {
	assert.True(t, alreadyGone("Cannot find device \"veth123\""))
	assert.False(t, alreadyGone("some other unexpected failure"))
}

func TestShortIDTruncates(t *testing.T) {
	assert.Equal(t, "abcdefghijk", shortID("abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "short", shortID("short"))
}
