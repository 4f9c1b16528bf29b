package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xbridge-go/xbridged/internal/command"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/packet"
	"github.com/xbridge-go/xbridged/internal/protocol"
	"github.com/xbridge-go/xbridged/internal/storage"
)

// fakeSender records every outbound packet instead of touching the network,
// keyed by destination so tests can assert on exactly what a handler sent.
type fakeSender struct {
	sent      map[nodeid.ID][]*packet.Packet
	broadcast []*packet.Packet
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[nodeid.ID][]*packet.Packet)}
}

func (f *fakeSender) Send(to nodeid.ID, pkt *packet.Packet) error {
	f.sent[to] = append(f.sent[to], pkt)
	return nil
}

func (f *fakeSender) Broadcast(pkt *packet.Packet) error {
	f.broadcast = append(f.broadcast, pkt)
	return nil
}

func newTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	s, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustID(t *testing.T) nodeid.ID {
	t.Helper()
	id, err := nodeid.Generate()
	require.NoError(t, err)
	return id
}

func mustHash256(t *testing.T) nodeid.Hash256 {
	t.Helper()
	h, err := nodeid.GenerateHash256()
	require.NoError(t, err)
	return h
}

func newTestExchange(t *testing.T) (*Exchange, *storage.Storage, *fakeSender) {
	t.Helper()
	s := newTestStorage(t)
	sender := newFakeSender()
	ex := New(Config{
		LocalID:           mustID(t),
		Storage:           s,
		Sender:            sender,
		EnabledCurrencies: map[string]bool{"BLOCK": true, "LTC": true},
		TransactionTTL:    time.Hour,
		PendingTTL:        time.Hour,
	})
	return ex, s, sender
}

// TestHandleTransactionInstallsPending verifies an order with no
// counterpart sits in the pending pool rather than being joined.
func TestHandleTransactionInstallsPending(t *testing.T) {
	ex, s, _ := newTestExchange(t)

	orderID := mustHash256(t)
	msg := &protocol.TransactionMsg{
		OrderID: orderID,
		SrcAddr: mustID(t), SrcCur: "BLOCK", SrcAmt: 100,
		DstAddr: mustID(t), DstCur: "LTC", DstAmt: 50,
	}
	pkt := packet.New(command.Transaction, msg.Encode())

	require.NoError(t, ex.HandleTransaction(pkt))

	entry, err := s.GetPendingEntry(orderID.String())
	require.NoError(t, err)
	require.Equal(t, "BLOCK", entry.SourceCur)
}

// TestHandleTransactionRejectsDisabledCurrency verifies an order naming a
// currency this hub has no wallet for is dropped before it reaches the
// pending pool.
func TestHandleTransactionRejectsDisabledCurrency(t *testing.T) {
	ex, s, _ := newTestExchange(t)

	orderID := mustHash256(t)
	msg := &protocol.TransactionMsg{
		OrderID: orderID,
		SrcAddr: mustID(t), SrcCur: "DOGE", SrcAmt: 100,
		DstAddr: mustID(t), DstCur: "LTC", DstAmt: 50,
	}
	pkt := packet.New(command.Transaction, msg.Encode())

	require.NoError(t, ex.HandleTransaction(pkt))

	_, err := s.GetPendingEntry(orderID.String())
	require.ErrorIs(t, err, storage.ErrPendingEntryNotFound)
}

// TestJoinAndDriveHold verifies a complementary pair of orders joins into
// an active transaction and the hub immediately drives xbcTransactionHold
// to both sources (spec.md §4.4 steps "Matching" and 1).
func TestJoinAndDriveHold(t *testing.T) {
	ex, s, sender := newTestExchange(t)

	firstSrc, firstDst := mustID(t), mustID(t)
	first := &protocol.TransactionMsg{
		OrderID: mustHash256(t),
		SrcAddr: firstSrc, SrcCur: "BLOCK", SrcAmt: 100,
		DstAddr: firstDst, DstCur: "LTC", DstAmt: 50,
	}
	require.NoError(t, ex.HandleTransaction(packet.New(command.Transaction, first.Encode())))

	secondSrc, secondDst := mustID(t), mustID(t)
	second := &protocol.TransactionMsg{
		OrderID: mustHash256(t),
		SrcAddr: secondSrc, SrcCur: "LTC", SrcAmt: 50,
		DstAddr: secondDst, DstCur: "BLOCK", DstAmt: 100,
	}
	require.NoError(t, ex.HandleTransaction(packet.New(command.Transaction, second.Encode())))

	// The first order's pending entry should be consumed by the join.
	_, err := s.GetPendingEntry(first.OrderID.String())
	require.ErrorIs(t, err, storage.ErrPendingEntryNotFound)

	require.Len(t, sender.sent[firstSrc], 1)
	require.Len(t, sender.sent[secondSrc], 1)
	require.Equal(t, command.TransactionHold, sender.sent[firstSrc][0].Command)

	txs, err := s.ListTransactionsByState(storage.TxStateJoined)
	require.NoError(t, err)
	require.Len(t, txs, 1)
}

// buildJoinedTransaction drives two complementary orders through matching
// and returns the resulting hub id plus each member's addresses, so later
// tests can exercise the state machine from Joined onward without repeating
// the matching dance.
func buildJoinedTransaction(t *testing.T, ex *Exchange, s *storage.Storage) (hubID string, firstSrc, firstDst, secondSrc, secondDst nodeid.ID) {
	t.Helper()

	firstSrc, firstDst = mustID(t), mustID(t)
	first := &protocol.TransactionMsg{
		OrderID: mustHash256(t),
		SrcAddr: firstSrc, SrcCur: "BLOCK", SrcAmt: 100,
		DstAddr: firstDst, DstCur: "LTC", DstAmt: 50,
	}
	require.NoError(t, ex.HandleTransaction(packet.New(command.Transaction, first.Encode())))

	secondSrc, secondDst = mustID(t), mustID(t)
	second := &protocol.TransactionMsg{
		OrderID: mustHash256(t),
		SrcAddr: secondSrc, SrcCur: "LTC", SrcAmt: 50,
		DstAddr: secondDst, DstCur: "BLOCK", DstAmt: 100,
	}
	require.NoError(t, ex.HandleTransaction(packet.New(command.Transaction, second.Encode())))

	txs, err := s.ListTransactionsByState(storage.TxStateJoined)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	return txs[0].HubID, firstSrc, firstDst, secondSrc, secondDst
}

// TestFullSwapLifecycle drives a joined transaction through every phase up
// to Finished, checking the driving command issued at each step (spec.md
// §4.4 points 1-6).
func TestFullSwapLifecycle(t *testing.T) {
	ex, s, sender := newTestExchange(t)
	hubID, firstSrc, firstDst, secondSrc, secondDst := buildJoinedTransaction(t, ex, s)
	hubHash, err := nodeid.ParseHash256(hubID)
	require.NoError(t, err)

	// Joined -> Hold: both sources ack.
	for _, src := range []nodeid.ID{firstSrc, secondSrc} {
		applyMsg := &protocol.TransactionHoldApplyMsg{Dest: src, Sender: src, HubID: hubHash}
		require.NoError(t, ex.HandleTransactionHoldApply(packet.New(command.TransactionHoldApply, applyMsg.Encode())))
	}
	tx, err := s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateHold, tx.State)
	require.Len(t, sender.sent[firstDst], 1)
	require.Equal(t, command.TransactionInit, sender.sent[firstDst][0].Command)

	// Hold -> Initialized: both destinations ack.
	for _, dst := range []nodeid.ID{firstDst, secondDst} {
		initMsg := &protocol.TransactionInitializedMsg{Dest: dst, Sender: dst, HubID: hubHash}
		require.NoError(t, ex.HandleTransactionInitialized(packet.New(command.TransactionInitialized, initMsg.Encode())))
	}
	tx, err = s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateInitialized, tx.State)
	require.Len(t, sender.sent[firstSrc], 2) // hold + create
	require.Equal(t, command.TransactionCreate, sender.sent[firstSrc][1].Command)

	// Initialized -> Created: both sources reply with their raw pair.
	for _, src := range []nodeid.ID{firstSrc, secondSrc} {
		createdMsg := &protocol.TransactionCreatedMsg{
			Dest: src, Sender: src, HubID: hubHash,
			RawPayHex: "pay-" + src.String(), RawRevertHex: "revert-" + src.String(),
		}
		require.NoError(t, ex.HandleTransactionCreated(packet.New(command.TransactionCreated, createdMsg.Encode())))
	}
	tx, err = s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateCreated, tx.State)
	require.Equal(t, "pay-"+firstSrc.String(), tx.First.RawPayTx)
	require.Len(t, sender.sent[firstDst], 2) // init + sign
	require.Equal(t, command.TransactionSign, sender.sent[firstDst][1].Command)

	// Created -> Signed: both destinations sign the counterparty's revert.
	for _, dst := range []nodeid.ID{firstDst, secondDst} {
		signedMsg := &protocol.TransactionSignedMsg{Dest: dst, Sender: dst, HubID: hubHash, RawRevertSignedHex: "signed-" + dst.String()}
		require.NoError(t, ex.HandleTransactionSigned(packet.New(command.TransactionSigned, signedMsg.Encode())))
	}
	tx, err = s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateSigned, tx.State)
	// The destination signing tx.First's pair (secondDst) stores into tx.First's row.
	require.Equal(t, "signed-"+secondDst.String(), tx.First.RawRevertTx)
	require.Len(t, sender.sent[firstSrc], 3) // hold + create + commit
	require.Equal(t, command.TransactionCommit, sender.sent[firstSrc][2].Command)

	// Signed -> Commited: both sources report their broadcast tx hash.
	firstHash, secondHash := mustHash256(t), mustHash256(t)
	commitedFirst := &protocol.TransactionCommitedMsg{Dest: firstSrc, Sender: firstSrc, HubID: hubHash, ObservedTxHash: firstHash}
	require.NoError(t, ex.HandleTransactionCommited(packet.New(command.TransactionCommited, commitedFirst.Encode())))
	commitedSecond := &protocol.TransactionCommitedMsg{Dest: secondSrc, Sender: secondSrc, HubID: hubHash, ObservedTxHash: secondHash}
	require.NoError(t, ex.HandleTransactionCommited(packet.New(command.TransactionCommited, commitedSecond.Encode())))

	tx, err = s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateCommited, tx.State)
	require.Len(t, sender.sent[firstSrc], 4) // + confirm

	// Commited -> Confirmed -> Finished: wallet scanner observes both sides.
	require.NoError(t, ex.ObserveTransaction(firstHash))
	_, err = s.GetTransaction(hubID)
	require.NoError(t, err) // still active, only one side confirmed

	require.NoError(t, ex.ObserveTransaction(secondHash))
	tx, err = s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateFinished, tx.State) // removal happens on the next Sweep, not here

	require.NotEmpty(t, sender.broadcast)
	last := sender.broadcast[len(sender.broadcast)-1]
	require.Equal(t, command.TransactionFinished, last.Command)
}

// TestCancelBeforeSignedNeedsNoRollback verifies an explicit cancel before
// Signed just marks the transaction Cancelled and broadcasts
// xbcTransactionCancel, without sending any per-member rollback message
// (spec.md §4.4 "Terminal transitions": "Cancelled before Signed needs no
// on-chain action").
func TestCancelBeforeSignedNeedsNoRollback(t *testing.T) {
	ex, s, sender := newTestExchange(t)
	hubID, firstSrc, _, _, _ := buildJoinedTransaction(t, ex, s)
	hubHash, err := nodeid.ParseHash256(hubID)
	require.NoError(t, err)

	before := len(sender.sent[firstSrc])

	cancelMsg := &protocol.TransactionCancelMsg{HubID: hubHash}
	require.NoError(t, ex.HandleTransactionCancel(packet.New(command.TransactionCancel, cancelMsg.Encode())))

	tx, err := s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateCancelled, tx.State)
	require.Equal(t, before, len(sender.sent[firstSrc])) // no rollback sent
	require.NotEmpty(t, sender.broadcast)
}

// TestCancelAfterSignedRollsBack verifies a cancel arriving at or after
// Signed drives a rollback instead: per-source xbcTransactionRollback plus
// a broadcast xbcTransactionCancel.
func TestCancelAfterSignedRollsBack(t *testing.T) {
	ex, s, sender := newTestExchange(t)
	hubID, firstSrc, firstDst, secondSrc, secondDst := buildJoinedTransaction(t, ex, s)
	hubHash, err := nodeid.ParseHash256(hubID)
	require.NoError(t, err)

	for _, src := range []nodeid.ID{firstSrc, secondSrc} {
		applyMsg := &protocol.TransactionHoldApplyMsg{Dest: src, Sender: src, HubID: hubHash}
		require.NoError(t, ex.HandleTransactionHoldApply(packet.New(command.TransactionHoldApply, applyMsg.Encode())))
	}
	for _, dst := range []nodeid.ID{firstDst, secondDst} {
		initMsg := &protocol.TransactionInitializedMsg{Dest: dst, Sender: dst, HubID: hubHash}
		require.NoError(t, ex.HandleTransactionInitialized(packet.New(command.TransactionInitialized, initMsg.Encode())))
	}
	for _, src := range []nodeid.ID{firstSrc, secondSrc} {
		createdMsg := &protocol.TransactionCreatedMsg{Dest: src, Sender: src, HubID: hubHash, RawPayHex: "pay", RawRevertHex: "revert"}
		require.NoError(t, ex.HandleTransactionCreated(packet.New(command.TransactionCreated, createdMsg.Encode())))
	}
	for _, dst := range []nodeid.ID{firstDst, secondDst} {
		signedMsg := &protocol.TransactionSignedMsg{Dest: dst, Sender: dst, HubID: hubHash, RawRevertSignedHex: "signed"}
		require.NoError(t, ex.HandleTransactionSigned(packet.New(command.TransactionSigned, signedMsg.Encode())))
	}

	tx, err := s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateSigned, tx.State)

	cancelMsg := &protocol.TransactionCancelMsg{HubID: hubHash}
	require.NoError(t, ex.HandleTransactionCancel(packet.New(command.TransactionCancel, cancelMsg.Encode())))

	tx, err = s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateDropped, tx.State)

	require.NotEmpty(t, sender.sent[firstSrc])
	last := sender.sent[firstSrc][len(sender.sent[firstSrc])-1]
	require.Equal(t, command.TransactionRollback, last.Command)
}

// TestSweepExpiresStaleTransaction verifies a transaction that has
// overstayed TransactionTTL is rolled back or cancelled by Sweep, matching
// the per-transaction timeout duty (spec.md §5).
func TestSweepExpiresStaleTransaction(t *testing.T) {
	ex, s, _ := newTestExchange(t)
	// Timestamps are whole seconds and expiry is strict (age > TTL), so a
	// negative TTL is what makes a transaction created this second expired.
	ex.transactionTTL = -time.Minute

	hubID, _, _, _, _ := buildJoinedTransaction(t, ex, s)

	ex.Sweep()

	tx, err := s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateCancelled, tx.State)
}

// TestSweepRemovesTerminalTransactions verifies Finished/Cancelled/Dropped
// records are purged on the next sweep (spec.md §4.4 "Terminal
// transitions": "removed from the active table by next timer sweep").
func TestSweepRemovesTerminalTransactions(t *testing.T) {
	ex, s, _ := newTestExchange(t)
	hubID, _, _, _, _ := buildJoinedTransaction(t, ex, s)

	require.NoError(t, s.UpdateTransactionState(hubID, storage.TxStateFinished))

	ex.Sweep()

	_, err := s.GetTransaction(hubID)
	require.ErrorIs(t, err, storage.ErrTransactionNotFound)
}

// TestHandleTransactionFinishedReconcilesKnownHub verifies a flooded
// xbcTransactionFinished for a hubId this instance is tracking advances
// that record to Finished, same as reaching Confirmed would via finish().
func TestHandleTransactionFinishedReconcilesKnownHub(t *testing.T) {
	ex, s, _ := newTestExchange(t)
	hubID, _, _, _, _ := buildJoinedTransaction(t, ex, s)

	hash, err := nodeid.ParseHash256(hubID)
	require.NoError(t, err)
	msg := protocol.TransactionFinishedMsg{HubID: hash}
	pkt := packet.New(command.TransactionFinished, msg.Encode())

	require.NoError(t, ex.HandleTransactionFinished(pkt))

	tx, err := s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateFinished, tx.State)
}

// TestHandleTransactionFinishedIgnoresUnknownHub verifies a broadcast for a
// swap this hub never tracked is dropped without error.
func TestHandleTransactionFinishedIgnoresUnknownHub(t *testing.T) {
	ex, _, _ := newTestExchange(t)
	msg := protocol.TransactionFinishedMsg{HubID: mustHash256(t)}
	pkt := packet.New(command.TransactionFinished, msg.Encode())

	require.NoError(t, ex.HandleTransactionFinished(pkt))
}

// TestHandleTransactionDroppedReconcilesKnownHub mirrors the Finished case
// for the Dropped terminal state.
func TestHandleTransactionDroppedReconcilesKnownHub(t *testing.T) {
	ex, s, _ := newTestExchange(t)
	hubID, _, _, _, _ := buildJoinedTransaction(t, ex, s)

	hash, err := nodeid.ParseHash256(hubID)
	require.NoError(t, err)
	msg := protocol.TransactionDroppedMsg{HubID: hash}
	pkt := packet.New(command.TransactionDropped, msg.Encode())

	require.NoError(t, ex.HandleTransactionDropped(pkt))

	tx, err := s.GetTransaction(hubID)
	require.NoError(t, err)
	require.Equal(t, storage.TxStateDropped, tx.State)
}

// TestHandlePendingTransactionIsNoop verifies the informational broadcast
// is accepted without touching the pending pool or active transactions —
// it carries no address fields to match against.
func TestHandlePendingTransactionIsNoop(t *testing.T) {
	ex, s, _ := newTestExchange(t)
	msg := protocol.PendingTransactionMsg{
		ID:      mustHash256(t),
		FromCur: "BLOCK",
		FromAmt: 100,
		ToCur:   "LTC",
		ToAmt:   200,
	}
	pkt := packet.New(command.PendingTransaction, msg.Encode())

	require.NoError(t, ex.HandlePendingTransaction(pkt))

	entries, err := s.ListPendingPool()
	require.NoError(t, err)
	require.Empty(t, entries)
}
