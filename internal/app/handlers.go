package app

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/xbridge-go/xbridged/internal/command"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/packet"
	"github.com/xbridge-go/xbridged/internal/protocol"
	"github.com/xbridge-go/xbridged/internal/storage"
)

func makeAddressBookPacket(msg *protocol.AddressBookEntryMsg) *packet.Packet {
	return packet.New(command.AddressBookEntry, msg.Encode())
}

// registerHandlers builds the session.Dispatcher's handler table. Three
// terminal broadcasts (Cancel/Finished/Dropped) are handled by both the hub
// and client coordinators in the original design, but session.Dispatcher
// only allows one registration per command, so each is registered here as
// a small composite that runs both (client.go / exchange.go's own doc
// comments call this out as internal/app's job).
func (a *App) registerHandlers() {
	a.dispatcher.Register(command.Transaction, a.hub.HandleTransaction)
	a.dispatcher.Register(command.TransactionHoldApply, a.hub.HandleTransactionHoldApply)
	a.dispatcher.Register(command.TransactionInitialized, a.hub.HandleTransactionInitialized)
	a.dispatcher.Register(command.TransactionCreated, a.hub.HandleTransactionCreated)
	a.dispatcher.Register(command.TransactionSigned, a.hub.HandleTransactionSigned)
	a.dispatcher.Register(command.TransactionCommited, a.hub.HandleTransactionCommited)
	a.dispatcher.Register(command.TransactionConfirm, a.hub.HandleTransactionConfirm)
	a.dispatcher.Register(command.ReceivedTransaction, a.hub.HandleReceivedTransaction)
	a.dispatcher.Register(command.PendingTransaction, a.hub.HandlePendingTransaction)

	a.dispatcher.Register(command.TransactionHold, a.client.HandleTransactionHold)
	a.dispatcher.Register(command.TransactionInit, a.client.HandleTransactionInit)
	a.dispatcher.Register(command.TransactionCreate, a.client.HandleTransactionCreate)
	a.dispatcher.Register(command.TransactionSign, a.client.HandleTransactionSign)
	a.dispatcher.Register(command.TransactionCommit, a.client.HandleTransactionCommit)
	a.dispatcher.Register(command.TransactionRollback, a.client.HandleTransactionRollback)

	a.dispatcher.Register(command.TransactionCancel, a.composite(a.hub.HandleTransactionCancel, a.client.HandleTransactionCancel))
	a.dispatcher.Register(command.TransactionFinished, a.composite(a.hub.HandleTransactionFinished, a.client.HandleTransactionFinished))
	a.dispatcher.Register(command.TransactionDropped, a.composite(a.hub.HandleTransactionDropped, a.client.HandleTransactionDropped))

	a.dispatcher.Register(command.AddressBookEntry, a.handleAddressBookEntry)
	a.dispatcher.Register(command.AnnounceAddresses, a.handleAnnounceAddresses)
	a.dispatcher.Register(command.XChatMessage, a.handleXChatMessage)
	a.dispatcher.Register(command.ExchangeWallets, a.handleExchangeWallets)

	a.dispatcher.MustBeExhaustive()
}

// composite runs both handlers unconditionally (one node's hub and client
// roles are independent observers of the same broadcast) and joins any
// errors so neither failure is silently swallowed.
func (a *App) composite(first, second func(pkt *packet.Packet) error) func(pkt *packet.Packet) error {
	return func(pkt *packet.Packet) error {
		return errors.Join(first(pkt), second(pkt))
	}
}

// handleAddressBookEntry records a peer's announced wallet address (spec.md
// §4.6): persisted as a non-local address book entry and surfaced to any
// attached UI.
func (a *App) handleAddressBookEntry(pkt *packet.Packet) error {
	msg, err := protocol.DecodeAddressBookEntry(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcAddressBookEntry: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(msg.AddressBase64)
	if err != nil {
		return fmt.Errorf("decode address book entry address: %w", err)
	}
	addr, err := nodeid.FromBytes(raw)
	if err != nil {
		return fmt.Errorf("address book entry address wrong length: %w", err)
	}

	entry := &storage.AddressBookEntry{
		Address:  addr.String(),
		Currency: msg.Currency,
		Name:     msg.Name,
		IsLocal:  false,
	}
	if err := a.store.UpsertAddressBookEntry(entry); err != nil {
		return fmt.Errorf("upsert peer address book entry: %w", err)
	}

	if a.notifyHub != nil {
		a.notifyHub.AddressBookEntryReceived(msg.Currency, msg.Name, addr.String())
	}
	return nil
}

// handleAnnounceAddresses registers an address as locally deliverable
// (original_source's processAnnounceAddresses): unlike every other handler
// here, the 20 bytes in the body are the address being announced, not a
// routing destination (command.IsBroadcast documents why the relay check
// never applies to this one).
func (a *App) handleAnnounceAddresses(pkt *packet.Packet) error {
	msg, err := protocol.DecodeAnnounceAddresses(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcAnnounceAddresses: %w", err)
	}

	a.dispatcher.AddLocalAddress(msg.NodeID)
	if err := a.transport.AdvertiseAddress(msg.NodeID); err != nil {
		return fmt.Errorf("advertise announced address: %w", err)
	}
	return nil
}

// handleXChatMessage forwards an opaque wallet-originated payload to any
// attached UI (spec.md §1's UI collaborator). The overlay itself never
// interprets the payload.
func (a *App) handleXChatMessage(pkt *packet.Packet) error {
	msg, err := protocol.DecodeXChatMessage(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcXChatMessage: %w", err)
	}
	if a.notifyHub != nil {
		a.notifyHub.LogMessage(fmt.Sprintf("xchat message for %s (%d bytes)", msg.Dest, len(msg.Payload)))
	}
	return nil
}

// handleExchangeWallets is purely informational (protocol.go's own doc
// comment on ExchangeWalletsMsg): a peer hub's broadcast of its currently
// attached currencies, surfaced to any attached UI.
func (a *App) handleExchangeWallets(pkt *packet.Packet) error {
	msg, err := protocol.DecodeExchangeWallets(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcExchangeWallets: %w", err)
	}
	if a.notifyHub != nil {
		a.notifyHub.LogMessage(fmt.Sprintf("peer hub wallets: %v", msg.Currencies))
	}
	return nil
}
