package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xbridge-go/xbridged/internal/command"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/packet"
)

type fakeSender struct {
	mu        sync.Mutex
	sentTo    nodeid.ID
	sentPkt   *packet.Packet
	broadcast *packet.Packet
	sendErr   error
}

func (f *fakeSender) Send(to nodeid.ID, pkt *packet.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTo = to
	f.sentPkt = pkt
	return f.sendErr
}

func (f *fakeSender) Broadcast(pkt *packet.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = pkt
	return nil
}

func unicastBody(dest nodeid.ID, rest []byte) []byte {
	return append(append([]byte{}, dest.Bytes()...), rest...)
}

func TestDispatchRelaysUnicastNotAddressedToLocal(t *testing.T) {
	local, err := nodeid.Generate()
	require.NoError(t, err)
	other, err := nodeid.Generate()
	require.NoError(t, err)

	sender := &fakeSender{}
	d := New(local, sender)

	called := false
	d.Register(command.TransactionHold, func(pkt *packet.Packet) error {
		called = true
		return nil
	})

	pkt := packet.New(command.TransactionHold, unicastBody(other, []byte("payload")))
	d.Dispatch(pkt)

	require.False(t, called, "handler must not run for a non-local destination")
	require.Equal(t, other, sender.sentTo)
}

func TestDispatchInvokesHandlerForLocalDestination(t *testing.T) {
	local, err := nodeid.Generate()
	require.NoError(t, err)

	sender := &fakeSender{}
	d := New(local, sender)

	var gotBody []byte
	d.Register(command.TransactionHold, func(pkt *packet.Packet) error {
		gotBody = pkt.Body
		return nil
	})

	body := unicastBody(local, []byte("payload"))
	pkt := packet.New(command.TransactionHold, body)
	d.Dispatch(pkt)

	require.Equal(t, body, gotBody)
}

func TestDispatchDropsUnknownCommand(t *testing.T) {
	local, err := nodeid.Generate()
	require.NoError(t, err)
	d := New(local, &fakeSender{})

	require.NotPanics(t, func() {
		d.Dispatch(packet.New(command.TransactionSigned, unicastBody(local, nil)))
	})
}

func TestDispatchLogsHandlerError(t *testing.T) {
	local, err := nodeid.Generate()
	require.NoError(t, err)
	d := New(local, &fakeSender{})

	d.Register(command.TransactionHold, func(pkt *packet.Packet) error {
		return errors.New("boom")
	})

	require.NotPanics(t, func() {
		d.Dispatch(packet.New(command.TransactionHold, unicastBody(local, nil)))
	})
}

func TestRegisterPanicsOnDuplicate(t *testing.T) {
	local, err := nodeid.Generate()
	require.NoError(t, err)
	d := New(local, &fakeSender{})
	d.Register(command.TransactionHold, func(pkt *packet.Packet) error { return nil })

	require.Panics(t, func() {
		d.Register(command.TransactionHold, func(pkt *packet.Packet) error { return nil })
	})
}

func TestMustBeExhaustivePanicsWhenIncomplete(t *testing.T) {
	local, err := nodeid.Generate()
	require.NoError(t, err)
	d := New(local, &fakeSender{})
	d.Register(command.TransactionHold, func(pkt *packet.Packet) error { return nil })

	require.Panics(t, func() {
		d.MustBeExhaustive()
	})
}
