package dht

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xbridge-go/xbridged/internal/command"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/packet"
)

func TestNodeCIDDeterministicAndDistinct(t *testing.T) {
	a, err := nodeid.Generate()
	require.NoError(t, err)
	b, err := nodeid.Generate()
	require.NoError(t, err)

	c1, err := nodeCID(a)
	require.NoError(t, err)
	c2, err := nodeCID(a)
	require.NoError(t, err)
	require.True(t, c1.Equals(c2))

	c3, err := nodeCID(b)
	require.NoError(t, err)
	require.False(t, c1.Equals(c3))
}

func TestReadPacketRoundTrip(t *testing.T) {
	pkt := packet.New(command.Transaction, []byte("body-bytes"))
	buf := bytes.NewReader(pkt.Marshal())

	got, err := readPacket(buf)
	require.NoError(t, err)
	require.Equal(t, pkt.Command, got.Command)
	require.Equal(t, pkt.Body, got.Body)
}

func TestReadPacketRejectsOversizedBody(t *testing.T) {
	header := make([]byte, packet.HeaderSize)
	header[8] = 0xff
	header[9] = 0xff
	header[10] = 0xff
	header[11] = 0x7f // huge bodySize, well above maxPacketBody

	buf := bytes.NewReader(header)
	_, err := readPacket(buf)
	require.Error(t, err)
}

func TestReadPacketRejectsShortHeader(t *testing.T) {
	buf := bytes.NewReader([]byte{1, 2, 3})
	_, err := readPacket(buf)
	require.Error(t, err)
}
