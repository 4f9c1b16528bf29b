package nodeid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateUnique(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.False(t, a.IsZero())
}

func TestParseRoundTrip(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	parsed, err := Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestFromBytesWrongLength(t *testing.T) {
	_, err := FromBytes(make([]byte, 10))
	require.Error(t, err)
}

func TestFromPubKeyDeterministic(t *testing.T) {
	pub := []byte{0x02, 0x01, 0x02, 0x03, 0x04}
	a := FromPubKey(pub)
	b := FromPubKey(pub)
	require.Equal(t, a, b)
	require.False(t, a.IsZero())
}

func TestComputeHubIDDeterministicAndOrderSensitive(t *testing.T) {
	first, err := GenerateHash256()
	require.NoError(t, err)
	second, err := GenerateHash256()
	require.NoError(t, err)

	a := ComputeHubID(first, second)
	b := ComputeHubID(first, second)
	require.Equal(t, a, b)

	reversed := ComputeHubID(second, first)
	require.NotEqual(t, a, reversed)
}

func TestFingerprintMirrorMatches(t *testing.T) {
	// Party A: sends BLOCK, wants LTC.
	fpA := OrderFingerprint("BLOCK", 100, "LTC", 50)
	// Party B: sends LTC, wants BLOCK, with matching amounts.
	fpB := OrderFingerprint("LTC", 50, "BLOCK", 100)

	require.Equal(t, fpA, MirrorFingerprint("LTC", 50, "BLOCK", 100))
	require.Equal(t, fpB, MirrorFingerprint("BLOCK", 100, "LTC", 50))
}

func TestFingerprintDiffersOnAmount(t *testing.T) {
	a := OrderFingerprint("BLOCK", 100, "LTC", 50)
	b := OrderFingerprint("BLOCK", 100, "LTC", 51)
	require.NotEqual(t, a, b)
}
