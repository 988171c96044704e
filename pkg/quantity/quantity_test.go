package quantity

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseZero(t *testing.T) {
	v, err := Parse("0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestParseEmptyIsError(t *testing.T) {
	_, err := Parse("")
	require.Error(t, err)
}

func TestParseBareInteger(t *testing.T) {
	v, err := Parse("128")
	require.NoError(t, err)
	assert.Equal(t, int64(128), v)
}

func TestParseDecimalSuffix(t *testing.T) {
	v, err := Parse("2k")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), v)

	v, err = Parse("1M")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), v)
}

func TestParseBinarySuffix(t *testing.T) {
	v, err := Parse("128Mi")
	require.NoError(t, err)
	assert.Equal(t, int64(128*1024*1024), v)

	v, err = Parse("1Ki")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), v)
}

func TestParseMilliSuffix(t *testing.T) {
	// 500 * 10^-3 = 0.5, rounded up to 1.
	v, err := Parse("500m")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestParseFractionalDecimalExact(t *testing.T) {
	// 1.5G = 1.5 * 1e9 = 1500000000, exact, no rounding needed.
	v, err := Parse("1.5G")
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000_000), v)
}

func TestParseFractionalBinaryRoundsUpOnRemainder(t *testing.T) {
	// 1.1Ki = 1*1024 + round_up(0.1*1024=102.4) = 1024 + 103 = 1127
	v, err := Parse("1.1Ki")
	require.NoError(t, err)
	assert.Equal(t, int64(1127), v)
}

func TestParseNegative(t *testing.T) {
	v, err := Parse("-128Mi")
	require.NoError(t, err)
	assert.Equal(t, int64(-128*1024*1024), v)
}

func TestParseExponentForm(t *testing.T) {
	v, err := Parse("2e3")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), v)
}

func TestParseUnknownSuffixIsError(t *testing.T) {
	_, err := Parse("10Zz")
	require.Error(t, err)
}

func TestParseOverflowSaturates(t *testing.T) {
	v, err := Parse("999999999999999999999Ei")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), v)
}

func TestParseNegativeOverflowSaturates(t *testing.T) {
	v, err := Parse("-999999999999999999999Ei")
	require.NoError(t, err)
	assert.Equal(t, int64(-math.MaxInt64), v)
}

func TestFormatRoundTripsApprox(t *testing.T) {
	s := Format(128 * 1024 * 1024)
	assert.Contains(t, s, "Mi")
}
