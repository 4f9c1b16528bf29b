// Package client implements the order-originating, transaction-building
// side of a swap (spec.md §4.5 "Client-side transaction construction"): it
// originates orders, answers the hub's six driving messages by building,
// signing, broadcasting, and reverting the escrow transaction pair, and
// tracks each order's state locally. Grounded on the same
// coordinator-plus-per-event-handler shape as internal/hub, but driven by
// the hub instead of driving it.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/xbridge-go/xbridged/internal/command"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/notify"
	"github.com/xbridge-go/xbridged/internal/packet"
	"github.com/xbridge-go/xbridged/internal/protocol"
	"github.com/xbridge-go/xbridged/internal/session"
	"github.com/xbridge-go/xbridged/internal/storage"
	"github.com/xbridge-go/xbridged/internal/txbuilder"
	"github.com/xbridge-go/xbridged/internal/xerr"
	"github.com/xbridge-go/xbridged/pkg/logging"
)

// lockTimeThreshold is the Bitcoin convention boundary between a
// block-height locktime and a Unix-timestamp locktime (spec.md §4.5: "a
// locktime below this value addresses a block height, not a point in time,
// and must be rejected — the swap always deals in durations, never block
// counts").
const lockTimeThreshold = 500_000_000

// Wallet pairs one currency's transaction builder with its coin scale
// factor, since txbuilder.Builder.BuildPay takes the scale as a call
// argument rather than storing it (one Builder is already scoped to one
// wallet's RPC connection and address version).
type Wallet struct {
	Builder *txbuilder.Builder
	Coin    uint64
}

// Config holds everything Client needs to service one process's attached
// wallets.
type Config struct {
	// LocalID is stamped as the Sender field on every client-originated
	// message.
	LocalID nodeid.ID

	Storage *storage.Storage
	Sender  session.Sender

	// Notify is optional; a nil Notify is a no-op (no UI attached).
	Notify *notify.Hub

	// Wallets maps a currency code (e.g. "BLOCK") to its attached wallet.
	Wallets map[string]*Wallet
}

// Client is the order-originating, transaction-building coordinator
// (spec.md §2 component 4).
type Client struct {
	localID nodeid.ID
	store   *storage.Storage
	sender  session.Sender
	notify  *notify.Hub
	wallets map[string]*Wallet

	log *logging.Logger
}

// New constructs a Client. Handlers must still be registered with a
// session.Dispatcher by the caller (internal/app wires this).
func New(cfg Config) *Client {
	return &Client{
		localID: cfg.LocalID,
		store:   cfg.Storage,
		sender:  cfg.Sender,
		notify:  cfg.Notify,
		wallets: cfg.Wallets,
		log:     logging.GetDefault().Component("client"),
	}
}

func (c *Client) send(to nodeid.ID, cmd command.Command, body []byte) error {
	return c.sender.Send(to, packet.New(cmd, body))
}

func (c *Client) wallet(currency string) (*Wallet, error) {
	w, ok := c.wallets[currency]
	if !ok {
		return nil, fmt.Errorf("%w: no wallet attached for currency %s", xerr.StateViolation, currency)
	}
	return w, nil
}

// CreateOrder originates a new order: it is assigned a fresh LocalId,
// persisted in state New, and broadcast as xbcTransaction so every hub on
// the overlay can attempt to match it (spec.md §4.5 step 1).
func (c *Client) CreateOrder(fromAddr nodeid.ID, fromCur string, fromAmt uint64, toAddr nodeid.ID, toCur string, toAmt uint64) (*storage.Order, error) {
	localID, err := nodeid.GenerateHash256()
	if err != nil {
		return nil, fmt.Errorf("generate order id: %w", err)
	}

	order := &storage.Order{
		LocalID:      localID.String(),
		State:        storage.OrderStateNew,
		FromAddress:  fromAddr.String(),
		FromCurrency: fromCur,
		FromAmount:   fromAmt,
		ToAddress:    toAddr.String(),
		ToCurrency:   toCur,
		ToAmount:     toAmt,
	}
	if err := c.store.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	if c.notify != nil {
		c.notify.OrderReceived(notify.OrderReceivedData{
			LocalID: order.LocalID, FromAddress: fromAddr.String(), FromCurrency: fromCur, FromAmount: fromAmt,
			ToAddress: toAddr.String(), ToCurrency: toCur, ToAmount: toAmt,
		})
	}

	msg := &protocol.TransactionMsg{
		OrderID: localID, SrcAddr: fromAddr, SrcCur: fromCur, SrcAmt: fromAmt,
		DstAddr: toAddr, DstCur: toCur, DstAmt: toAmt,
	}
	if err := c.sender.Broadcast(packet.New(command.Transaction, msg.Encode())); err != nil {
		return nil, fmt.Errorf("broadcast xbcTransaction: %w", err)
	}

	return order, nil
}

// HandleTransactionHold implements spec.md §4.5 step 1: the hub has
// matched this order and assigned it a HubId. The order is re-keyed from
// its LocalId, the hub's routing NodeId is recorded for later replies, and
// the hold is acknowledged.
func (c *Client) HandleTransactionHold(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionHold(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionHold: %w", err)
	}

	oldLocalID := msg.OldOrderID.String()
	newHubID := msg.HubID.String()
	if err := c.store.RenameOrder(oldLocalID, newHubID, msg.Sender.String(), storage.OrderStateHold); err != nil {
		return fmt.Errorf("rename order: %w", err)
	}
	if c.notify != nil {
		c.notify.OrderIDChanged(oldLocalID, newHubID)
		c.notify.OrderStateChanged(newHubID, string(storage.OrderStateHold))
	}

	reply := &protocol.TransactionHoldApplyMsg{Dest: msg.Sender, Sender: msg.Dest, HubID: msg.HubID}
	return c.send(msg.Sender, command.TransactionHoldApply, reply.Encode())
}

// HandleTransactionInit implements spec.md §4.5 step 2, on the
// destination side: the order may not exist locally yet (this overlay
// address only ever saw itself named as a DstAddr in the originating
// client's broadcast), so it is created fresh if missing.
func (c *Client) HandleTransactionInit(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionInit(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionInit: %w", err)
	}
	hubID := msg.HubID.String()

	_, err = c.store.GetOrderByHubID(hubID)
	switch {
	case errors.Is(err, storage.ErrOrderNotFound):
		order := &storage.Order{
			LocalID: hubID, HubID: hubID, HubNodeID: msg.Sender.String(),
			State:       storage.OrderStateInitialized,
			FromAddress: msg.FromAddr.String(), FromCurrency: msg.FromCur, FromAmount: msg.FromAmt,
			ToAddress: msg.ToAddr.String(), ToCurrency: msg.ToCur, ToAmount: msg.ToAmt,
		}
		if err := c.store.CreateOrder(order); err != nil {
			return fmt.Errorf("create order for init: %w", err)
		}
	case err != nil:
		return fmt.Errorf("get order by hub id: %w", err)
	default:
		if err := c.store.UpdateOrderState(hubID, storage.OrderStateInitialized); err != nil {
			return fmt.Errorf("update order state: %w", err)
		}
	}
	if c.notify != nil {
		c.notify.OrderStateChanged(hubID, string(storage.OrderStateInitialized))
	}

	reply := &protocol.TransactionInitializedMsg{Dest: msg.Sender, Sender: msg.Dest, HubID: msg.HubID}
	return c.send(msg.Sender, command.TransactionInitialized, reply.Encode())
}

// HandleTransactionCreate implements spec.md §4.5 step 3, on the source
// side: build and sign the pay transaction spending this wallet's own
// funds to the counterparty's destination address, then build (but do not
// sign) the revert transaction that escapes it.
func (c *Client) HandleTransactionCreate(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionCreate(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionCreate: %w", err)
	}
	hubID := msg.HubID.String()

	order, err := c.store.GetOrderByHubID(hubID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	w, err := c.wallet(order.FromCurrency)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pay, err := w.Builder.BuildPay(ctx, w.Coin, order.FromAmount, msg.CounterpartyDestAddr, msg.LockTimeSeconds)
	if err != nil {
		return fmt.Errorf("build pay transaction: %w", err)
	}
	revertHex, err := w.Builder.BuildRevert(ctx, pay.TxHash, order.FromAmount, msg.RevertDelaySeconds)
	if err != nil {
		return fmt.Errorf("build revert transaction: %w", err)
	}

	if err := c.store.SetOrderRawTxs(hubID, pay.RawTxHex, revertHex); err != nil {
		return fmt.Errorf("set order raw txs: %w", err)
	}
	if err := c.store.UpdateOrderState(hubID, storage.OrderStateCreated); err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	if c.notify != nil {
		c.notify.OrderStateChanged(hubID, string(storage.OrderStateCreated))
	}

	reply := &protocol.TransactionCreatedMsg{
		Dest: msg.Sender, Sender: msg.Dest, HubID: msg.HubID,
		RawPayHex: pay.RawTxHex, RawRevertHex: revertHex,
	}
	return c.send(msg.Sender, command.TransactionCreated, reply.Encode())
}

// HandleTransactionSign implements spec.md §4.5 step 4, on the destination
// side: the hub hands over the counterparty's (pay, revert) pair, with the
// revert still unsigned. Only the revert is signed here — the pay transaction is the
// counterparty's own, already fully signed by them. The revert is on the
// chain this order receives on (ToCurrency), since it spends an output of
// the counterparty's pay transaction.
func (c *Client) HandleTransactionSign(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionSign(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionSign: %w", err)
	}
	hubID := msg.HubID.String()

	order, err := c.store.GetOrderByHubID(hubID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}

	if err := checkLockTimeThreshold(msg.RawPayHex); err != nil {
		return fmt.Errorf("pay transaction: %w", err)
	}
	if err := checkLockTimeThreshold(msg.RawRevertHex); err != nil {
		return fmt.Errorf("revert transaction: %w", err)
	}

	w, err := c.wallet(order.ToCurrency)
	if err != nil {
		return err
	}
	signedRevertHex, err := w.Builder.SignRevert(context.Background(), msg.RawRevertHex)
	if err != nil {
		return fmt.Errorf("sign revert transaction: %w", err)
	}

	if err := c.store.SetOrderRawTxs(hubID, msg.RawPayHex, signedRevertHex); err != nil {
		return fmt.Errorf("set order raw txs: %w", err)
	}
	if err := c.store.UpdateOrderState(hubID, storage.OrderStateSigned); err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	if c.notify != nil {
		c.notify.OrderStateChanged(hubID, string(storage.OrderStateSigned))
	}

	reply := &protocol.TransactionSignedMsg{Dest: msg.Sender, Sender: msg.Dest, HubID: msg.HubID, RawRevertSignedHex: signedRevertHex}
	return c.send(msg.Sender, command.TransactionSigned, reply.Encode())
}

// checkLockTimeThreshold rejects a raw transaction whose nLockTime
// addresses a block height rather than a point in time (spec.md §4.5: the
// Bitcoin convention is that a locktime below 500,000,000 is a block
// height).
func checkLockTimeThreshold(rawHex string) error {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return fmt.Errorf("%w: decode hex: %v", xerr.WireFormat, err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("%w: deserialize transaction: %v", xerr.WireFormat, err)
	}
	if tx.LockTime < lockTimeThreshold {
		return fmt.Errorf("%w: locktime %d is a block height, not a timestamp", xerr.WireFormat, tx.LockTime)
	}
	return nil
}

// HandleTransactionCommit implements spec.md §4.5 step 5, on the source
// side: broadcast the pay transaction built in step 3, and keep the
// now-signed revert transaction on hand for a possible rollback.
func (c *Client) HandleTransactionCommit(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionCommit(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionCommit: %w", err)
	}
	hubID := msg.HubID.String()

	order, err := c.store.GetOrderByHubID(hubID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	w, err := c.wallet(order.FromCurrency)
	if err != nil {
		return err
	}

	txID, err := w.Builder.Commit(context.Background(), order.RawPayTx)
	if err != nil {
		return fmt.Errorf("commit pay transaction: %w", err)
	}
	txHash, err := nodeid.ParseHash256(txID)
	if err != nil {
		return fmt.Errorf("%w: parse committed txid: %v", xerr.WireFormat, err)
	}

	if err := c.store.SetOrderRawTxs(hubID, order.RawPayTx, msg.RawRevertSignedHex); err != nil {
		return fmt.Errorf("set order raw txs: %w", err)
	}
	if err := c.store.UpdateOrderState(hubID, storage.OrderStateCommited); err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	if c.notify != nil {
		c.notify.OrderStateChanged(hubID, string(storage.OrderStateCommited))
	}

	reply := &protocol.TransactionCommitedMsg{Dest: msg.Sender, Sender: msg.Dest, HubID: msg.HubID, ObservedTxHash: txHash}
	return c.send(msg.Sender, command.TransactionCommited, reply.Encode())
}

// HandleTransactionRollback implements spec.md §4.5: broadcast the
// already-signed revert transaction, escaping the swap. No reply is sent —
// xbcTransactionRollback carries no ack in the wire protocol.
func (c *Client) HandleTransactionRollback(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionRollback(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionRollback: %w", err)
	}
	hubID := msg.HubID.String()

	order, err := c.store.GetOrderByHubID(hubID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	w, err := c.wallet(order.FromCurrency)
	if err != nil {
		return err
	}

	if _, err := w.Builder.Rollback(context.Background(), order.RawRevertTx); err != nil {
		return fmt.Errorf("broadcast revert transaction: %w", err)
	}
	if err := c.store.UpdateOrderState(hubID, storage.OrderStateRollback); err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	if c.notify != nil {
		c.notify.OrderStateChanged(hubID, string(storage.OrderStateRollback))
	}
	return nil
}

// HandleTransactionCancel updates this client's own local order, if it has
// one for the broadcast hubId, to Cancelled. internal/app composes this
// alongside hub.Exchange's own HandleTransactionCancel, since the
// dispatcher only allows one handler per command.
func (c *Client) HandleTransactionCancel(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionCancel(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionCancel: %w", err)
	}
	return c.markLocalOrder(msg.HubID.String(), storage.OrderStateCancelled)
}

// HandleTransactionFinished mirrors HandleTransactionCancel for the
// Finished terminal broadcast.
func (c *Client) HandleTransactionFinished(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionFinished(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionFinished: %w", err)
	}
	return c.markLocalOrder(msg.HubID.String(), storage.OrderStateFinished)
}

// HandleTransactionDropped mirrors HandleTransactionCancel for the Dropped
// terminal broadcast.
func (c *Client) HandleTransactionDropped(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionDropped(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionDropped: %w", err)
	}
	return c.markLocalOrder(msg.HubID.String(), storage.OrderStateDropped)
}

func (c *Client) markLocalOrder(hubID string, state storage.OrderState) error {
	if _, err := c.store.GetOrderByHubID(hubID); errors.Is(err, storage.ErrOrderNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	if err := c.store.UpdateOrderState(hubID, state); err != nil {
		return fmt.Errorf("update order state: %w", err)
	}
	if c.notify != nil {
		c.notify.OrderStateChanged(hubID, string(state))
	}
	return nil
}
