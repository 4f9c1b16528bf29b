package app

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xbridge-go/xbridged/internal/notify"
	"github.com/xbridge-go/xbridged/internal/packet"
	"github.com/xbridge-go/xbridged/internal/protocol"
)

func TestCompositeJoinsBothHandlerErrors(t *testing.T) {
	a := &App{}
	errA := errors.New("hub failure")
	errB := errors.New("client failure")

	h := a.composite(
		func(*packet.Packet) error { return errA },
		func(*packet.Packet) error { return errB },
	)

	err := h(nil)
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
}

func TestCompositeRunsBothEvenWhenFirstSucceeds(t *testing.T) {
	a := &App{}
	called := false
	h := a.composite(
		func(*packet.Packet) error { return nil },
		func(*packet.Packet) error { called = true; return nil },
	)

	require.NoError(t, h(nil))
	require.True(t, called)
}

func TestHandleAddressBookEntryPersistsAndNotifies(t *testing.T) {
	a := &App{store: newTestStore(t), notifyHub: notify.NewHub()}

	addr := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}
	msg := &protocol.AddressBookEntryMsg{
		Currency:      "BLOCK",
		Name:          "default",
		AddressBase64: base64.StdEncoding.EncodeToString(addr),
	}
	pkt := makeAddressBookPacket(msg)

	require.NoError(t, a.handleAddressBookEntry(pkt))

	entries, err := a.store.ListAddressBook()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "BLOCK", entries[0].Currency)
	require.False(t, entries[0].IsLocal)
}

func TestHandleAddressBookEntryRejectsBadBase64(t *testing.T) {
	a := &App{store: newTestStore(t), notifyHub: notify.NewHub()}

	msg := &protocol.AddressBookEntryMsg{Currency: "BLOCK", Name: "x", AddressBase64: "not-base64!!"}
	err := a.handleAddressBookEntry(makeAddressBookPacket(msg))
	require.Error(t, err)
}

func TestHandleXChatMessageNeverErrorsOnValidPacket(t *testing.T) {
	a := &App{notifyHub: notify.NewHub()}

	msg := &protocol.XChatMessageMsg{Payload: []byte("hello")}
	pkt := packet.New(0, msg.Encode())
	require.NoError(t, a.handleXChatMessage(pkt))
}

func TestHandleExchangeWalletsSurfacesCurrencies(t *testing.T) {
	a := &App{notifyHub: notify.NewHub()}

	msg := &protocol.ExchangeWalletsMsg{Currencies: []string{"BLOCK", "LTC"}}
	pkt := packet.New(0, msg.Encode())
	require.NoError(t, a.handleExchangeWallets(pkt))
}
