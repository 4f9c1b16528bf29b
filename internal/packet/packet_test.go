package packet

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xbridge-go/xbridged/internal/command"
	"github.com/xbridge-go/xbridged/internal/nodeid"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	body := []byte("hello world")
	p := New(command.XChatMessage, body)

	raw := p.Marshal()
	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, p.Version, parsed.Version)
	require.Equal(t, p.Command, parsed.Command)
	require.Equal(t, p.Checksum, parsed.Checksum)
	require.Equal(t, body, parsed.Body)
}

func TestParseRejectsShortHeader(t *testing.T) {
	_, err := Parse([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestParseRejectsBodySizeMismatch(t *testing.T) {
	p := New(command.XChatMessage, []byte("abc"))
	raw := p.Marshal()
	raw = append(raw, 0xFF) // extra trailing byte not reflected in bodySize
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestParseRejectsChecksumMismatch(t *testing.T) {
	p := New(command.XChatMessage, []byte("abc"))
	raw := p.Marshal()
	raw[12] ^= 0xFF // corrupt checksum byte
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestParseRejectsWrongVersion(t *testing.T) {
	p := New(command.XChatMessage, []byte("abc"))
	raw := p.Marshal()
	raw[0] = byte(ProtocolVersion) + 1
	_, err := Parse(raw)
	require.Error(t, err)
}

func TestParseAllowsZeroChecksum(t *testing.T) {
	p := New(command.XChatMessage, []byte("abc"))
	raw := p.Marshal()
	raw[12], raw[13], raw[14], raw[15] = 0, 0, 0, 0
	_, err := Parse(raw)
	require.NoError(t, err)
}

func TestWriterReaderRoundTrip(t *testing.T) {
	addr, err := nodeid.Generate()
	require.NoError(t, err)
	hub, err := nodeid.GenerateHash256()
	require.NoError(t, err)

	w := NewWriter().
		PutAddress(addr).
		PutHash256(hub).
		PutCurrency("BLOCK").
		PutUint64(123456789).
		PutUint32(600).
		PutCString("raw-pay-hex")

	r := NewReader(w.Bytes())

	gotAddr, err := r.Address()
	require.NoError(t, err)
	require.Equal(t, addr, gotAddr)

	gotHub, err := r.Hash256()
	require.NoError(t, err)
	require.Equal(t, hub, gotHub)

	gotCur, err := r.Currency()
	require.NoError(t, err)
	require.Equal(t, "BLOCK", gotCur)

	gotAmt, err := r.Uint64()
	require.NoError(t, err)
	require.Equal(t, uint64(123456789), gotAmt)

	gotLock, err := r.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(600), gotLock)

	gotStr, err := r.CString()
	require.NoError(t, err)
	require.Equal(t, "raw-pay-hex", gotStr)

	require.True(t, r.Done())
}

func TestReaderTruncatedFieldsError(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	_, err := r.Address()
	require.Error(t, err)

	r2 := NewReader([]byte{1, 2, 3})
	_, err = r2.Hash256()
	require.Error(t, err)

	r3 := NewReader([]byte{'n', 'o', 'n', 'u', 'l'})
	_, err = r3.CString()
	require.Error(t, err)
}
