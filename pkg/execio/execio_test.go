package execio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVsockAddress(t *testing.T) {
	assert.True(t, IsVsockAddress("vsock://3:1024"))
	assert.False(t, IsVsockAddress("/run/cored/c1/exit.fifo"))
	assert.False(t, IsVsockAddress(""))
}

func TestParseVsockAddr(t *testing.T) {
	cid, port, err := parseVsockAddr("vsock://3:1024")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cid)
	assert.Equal(t, uint32(1024), port)
}

func TestParseVsockAddrInvalid(t *testing.T) {
	_, _, err := parseVsockAddr("not-a-url with spaces and :::")
	require.Error(t, err)

	_, _, err = parseVsockAddr("vsock://abc:1024")
	require.Error(t, err)

	_, _, err = parseVsockAddr("vsock://3:abc")
	require.Error(t, err)
}
