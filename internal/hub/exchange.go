// Package hub implements the exchange-side transaction state machine
// (spec.md §4.4): matches complementary pending orders, drives the
// eight-phase {Joined,Hold,Initialized,Created,Signed,Commited,Confirmed,
// Finished} machine through its two-sided acks, and resolves timeouts, cancellation,
// and rollback. Grounded on the teacher's internal/swap/coordinator*.go
// family (per-swap struct + coordinator map + event handlers), re-specified
// for this machine instead of the teacher's MuSig2/HTLC method set.
package hub

import (
	"errors"
	"fmt"
	"time"

	"github.com/xbridge-go/xbridged/internal/command"
	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/notify"
	"github.com/xbridge-go/xbridged/internal/packet"
	"github.com/xbridge-go/xbridged/internal/protocol"
	"github.com/xbridge-go/xbridged/internal/session"
	"github.com/xbridge-go/xbridged/internal/storage"
	"github.com/xbridge-go/xbridged/pkg/logging"
)

// Config holds everything Exchange needs to drive swaps for one process.
type Config struct {
	// LocalID is stamped as the Sender field on every hub-originated
	// message, so a client knows which overlay address to address its
	// replies and acks back to.
	LocalID nodeid.ID

	Storage *storage.Storage
	Sender  session.Sender

	// Notify is optional; a nil Notify is a no-op (no UI attached).
	Notify *notify.Hub

	// EnabledCurrencies gates xbcTransaction acceptance to wallets this
	// hub actually has attached (spec.md §4.4 "reject unless both
	// currencies are in the hub's enabled wallet set").
	EnabledCurrencies map[string]bool

	TransactionTTL time.Duration
	PendingTTL     time.Duration
}

// Exchange is the hub-side coordinator: pending-pool matching plus the
// active-transaction state machine (spec.md §2 component 5).
type Exchange struct {
	localID nodeid.ID
	store   *storage.Storage
	sender  session.Sender
	notify  *notify.Hub

	enabledCurrencies map[string]bool
	transactionTTL    time.Duration
	pendingTTL        time.Duration

	log *logging.Logger
}

// New constructs an Exchange. Handlers must still be registered with a
// session.Dispatcher by the caller (internal/app wires this).
func New(cfg Config) *Exchange {
	return &Exchange{
		localID:           cfg.LocalID,
		store:             cfg.Storage,
		sender:            cfg.Sender,
		notify:            cfg.Notify,
		enabledCurrencies: cfg.EnabledCurrencies,
		transactionTTL:    cfg.TransactionTTL,
		pendingTTL:        cfg.PendingTTL,
		log:               logging.GetDefault().Component("hub"),
	}
}

func (e *Exchange) notifyState(hubID string, state storage.TransactionState) {
	if e.notify != nil {
		e.notify.OrderStateChanged(hubID, string(state))
	}
}

// HandleTransaction implements the §4.4 "Matching" step: accepts a freshly
// broadcast xbcTransaction, rebroadcasts it so every hub sees the order,
// and either joins it against a complementary pending entry or installs it
// as a new pending entry.
func (e *Exchange) HandleTransaction(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransaction(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransaction: %w", err)
	}

	if err := e.sender.Broadcast(pkt); err != nil {
		e.log.Warn("rebroadcast xbcTransaction failed", "order", msg.OrderID, "error", err)
	}

	if !e.enabledCurrencies[msg.SrcCur] || !e.enabledCurrencies[msg.DstCur] {
		e.log.Debug("order rejected, currency not enabled", "src", msg.SrcCur, "dst", msg.DstCur)
		return nil
	}

	mirror := nodeid.MirrorFingerprint(msg.SrcCur, msg.SrcAmt, msg.DstCur, msg.DstAmt)
	match, err := e.store.FindByMirrorFingerprint(mirror.String())
	if err != nil && !errors.Is(err, storage.ErrPendingEntryNotFound) {
		return fmt.Errorf("lookup pending pool: %w", err)
	}

	if err == nil && time.Since(match.CreatedAt) > e.pendingTTL {
		// Tie-break (b): the matching entry is stale. Evict it first, then
		// fall through to installing the new order as a fresh pending entry.
		if delErr := e.store.DeletePendingEntry(match.OrderID); delErr != nil {
			e.log.Warn("evict stale pending entry failed", "order", match.OrderID, "error", delErr)
		}
		err = storage.ErrPendingEntryNotFound
	}

	if err == nil {
		return e.tryJoin(match, msg)
	}

	// Tie-break (a): UpsertPendingEntry refreshes the timestamp in place if
	// orderID already has an entry — a duplicate broadcast is a no-op.
	return e.store.UpsertPendingEntry(&storage.PendingEntry{
		OrderID:     msg.OrderID.String(),
		SourceNode:  msg.SrcAddr.String(),
		Fingerprint: nodeid.OrderFingerprint(msg.SrcCur, msg.SrcAmt, msg.DstCur, msg.DstAmt).String(),
		SourceAddr:  msg.SrcAddr.String(),
		SourceCur:   msg.SrcCur,
		SourceAmt:   msg.SrcAmt,
		DestAddr:    msg.DstAddr.String(),
		DestCur:     msg.DstCur,
		DestAmt:     msg.DstAmt,
	})
}

// tryJoin matches an arriving order against an existing pending entry: the
// entry already in the pool becomes First, the new arrival becomes Second,
// the new hub id is hash(firstOrderId || secondOrderId), and the pending
// entry is removed (spec.md §4.4 "tryJoin").
func (e *Exchange) tryJoin(first *storage.PendingEntry, second *protocol.TransactionMsg) error {
	firstOrderID, err := nodeid.ParseHash256(first.OrderID)
	if err != nil {
		return fmt.Errorf("parse pending entry order id: %w", err)
	}
	hubID := nodeid.ComputeHubID(firstOrderID, second.OrderID)

	tx := &storage.Transaction{
		HubID: hubID.String(),
		State: storage.TxStateJoined,
		First: storage.Member{
			OrderID:    first.OrderID,
			SourceAddr: first.SourceAddr,
			DestAddr:   first.DestAddr,
			Currency:   first.SourceCur,
			Amount:     first.SourceAmt,
		},
		Second: storage.Member{
			OrderID:    second.OrderID.String(),
			SourceAddr: second.SrcAddr.String(),
			DestAddr:   second.DstAddr.String(),
			Currency:   second.SrcCur,
			Amount:     second.SrcAmt,
		},
	}

	if err := e.store.CreateTransaction(tx); err != nil {
		return fmt.Errorf("create joined transaction: %w", err)
	}
	if err := e.store.DeletePendingEntry(first.OrderID); err != nil {
		e.log.Warn("delete matched pending entry failed", "order", first.OrderID, "error", err)
	}

	e.log.Info("orders joined", "hub_id", tx.HubID, "first", tx.First.OrderID, "second", tx.Second.OrderID)
	e.notifyState(tx.HubID, storage.TxStateJoined)

	return e.driveHold(tx)
}

// driveHold sends xbcTransactionHold to each source address (step 1).
func (e *Exchange) driveHold(tx *storage.Transaction) error {
	hubID, err := nodeid.ParseHash256(tx.HubID)
	if err != nil {
		return fmt.Errorf("parse hub id: %w", err)
	}

	for _, side := range []struct {
		orderID    string
		sourceAddr string
	}{
		{tx.First.OrderID, tx.First.SourceAddr},
		{tx.Second.OrderID, tx.Second.SourceAddr},
	} {
		oldOrderID, err := nodeid.ParseHash256(side.orderID)
		if err != nil {
			return fmt.Errorf("parse member order id: %w", err)
		}
		dest, err := nodeid.Parse(side.sourceAddr)
		if err != nil {
			return fmt.Errorf("parse member source address: %w", err)
		}
		msg := &protocol.TransactionHoldMsg{Dest: dest, Sender: e.localID, OldOrderID: oldOrderID, HubID: hubID}
		if err := e.send(dest, command.TransactionHold, msg.Encode()); err != nil {
			e.log.Warn("send xbcTransactionHold failed", "hub_id", tx.HubID, "dest", dest, "error", err)
		}
	}
	return nil
}

func (e *Exchange) send(to nodeid.ID, cmd command.Command, body []byte) error {
	return e.sender.Send(to, packet.New(cmd, body))
}

// matchMember reports which role (first/second) sent a message, identified
// by its Sender address matching one of the two candidate columns;
// tie-break (c): an address matching neither member is silently ignored.
func matchMember(sender nodeid.ID, firstAddr, secondAddr string) (isFirst bool, ok bool) {
	s := sender.String()
	if s == firstAddr {
		return true, true
	}
	if s == secondAddr {
		return false, true
	}
	return false, false
}

// advance records one member's ack for the transition out of expectState,
// and — once both sides have acked — advances state and invokes drive for
// the resulting state. Tie-break (d): an ack observed while the transaction
// is not in expectState is a state violation, logged and dropped.
func (e *Exchange) advance(hubID string, isFirst bool, expectState, nextState storage.TransactionState, drive func(tx *storage.Transaction) error) error {
	tx, err := e.store.GetTransaction(hubID)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	if tx.State != expectState {
		e.log.Warn("ack in wrong predecessor state, dropping", "hub_id", hubID, "have", tx.State, "want", expectState)
		return nil
	}

	if err := e.store.SetAck(hubID, isFirst); err != nil {
		return fmt.Errorf("set ack: %w", err)
	}
	both, err := e.store.BothAcked(hubID)
	if err != nil {
		return fmt.Errorf("check both acked: %w", err)
	}
	if !both {
		return nil
	}

	if err := e.store.UpdateTransactionState(hubID, nextState); err != nil {
		return fmt.Errorf("advance state: %w", err)
	}
	e.notifyState(hubID, nextState)

	tx, err = e.store.GetTransaction(hubID)
	if err != nil {
		return fmt.Errorf("reload transaction: %w", err)
	}
	return drive(tx)
}

// HandleTransactionHoldApply advances Joined -> Hold on both sources'
// acks, then drives Init to each destination (spec.md §4.4 step 2).
func (e *Exchange) HandleTransactionHoldApply(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionHoldApply(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionHoldApply: %w", err)
	}
	hubID := msg.HubID.String()

	tx, err := e.store.GetTransaction(hubID)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	isFirst, ok := matchMember(msg.Sender, tx.First.SourceAddr, tx.Second.SourceAddr)
	if !ok {
		e.log.Debug("hold-apply from neither member, ignoring", "hub_id", hubID, "sender", msg.Sender)
		return nil
	}

	return e.advance(hubID, isFirst, storage.TxStateJoined, storage.TxStateHold, e.driveInit)
}

// driveInit sends xbcTransactionInit to each destination address (step 2).
func (e *Exchange) driveInit(tx *storage.Transaction) error {
	hubID, err := nodeid.ParseHash256(tx.HubID)
	if err != nil {
		return fmt.Errorf("parse hub id: %w", err)
	}

	for _, side := range []storage.Member{tx.First, tx.Second} {
		dest, err := nodeid.Parse(side.DestAddr)
		if err != nil {
			return fmt.Errorf("parse member dest address: %w", err)
		}
		srcAddr, err := nodeid.Parse(side.SourceAddr)
		if err != nil {
			return fmt.Errorf("parse member source address: %w", err)
		}
		msg := &protocol.TransactionInitMsg{
			Dest: dest, Sender: e.localID, HubID: hubID,
			FromAddr: srcAddr, FromCur: side.Currency, FromAmt: side.Amount,
			ToAddr: dest, ToCur: oppositeOf(tx, side), ToAmt: oppositeAmountOf(tx, side),
		}
		if err := e.send(dest, command.TransactionInit, msg.Encode()); err != nil {
			e.log.Warn("send xbcTransactionInit failed", "hub_id", tx.HubID, "dest", dest, "error", err)
		}
	}
	return nil
}

func oppositeOf(tx *storage.Transaction, side storage.Member) string {
	if side.OrderID == tx.First.OrderID {
		return tx.Second.Currency
	}
	return tx.First.Currency
}

func oppositeAmountOf(tx *storage.Transaction, side storage.Member) uint64 {
	if side.OrderID == tx.First.OrderID {
		return tx.Second.Amount
	}
	return tx.First.Amount
}

// HandleTransactionInitialized advances Hold -> Initialized on both
// destinations' acks, then drives Create to each source (spec.md §4.4
// step 3).
func (e *Exchange) HandleTransactionInitialized(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionInitialized(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionInitialized: %w", err)
	}
	hubID := msg.HubID.String()

	tx, err := e.store.GetTransaction(hubID)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	isFirst, ok := matchMember(msg.Sender, tx.First.DestAddr, tx.Second.DestAddr)
	if !ok {
		e.log.Debug("initialized from neither member, ignoring", "hub_id", hubID, "sender", msg.Sender)
		return nil
	}

	return e.advance(hubID, isFirst, storage.TxStateHold, storage.TxStateInitialized, e.driveCreate)
}

// driveCreate sends xbcTransactionCreate to each source address (step 3).
// Lock times are asymmetric: the first party gets TTL*2/24h, the second
// TTL*4/48h, so the counterparty always has strictly more time to claim
// before the originator's revert becomes spendable (spec.md §4.4 point 3,
// §8 "Locktime discipline").
func (e *Exchange) driveCreate(tx *storage.Transaction) error {
	hubID, err := nodeid.ParseHash256(tx.HubID)
	if err != nil {
		return fmt.Errorf("parse hub id: %w", err)
	}

	pairs := []struct {
		member             storage.Member
		counterpartyDest   string
		lockTimeSeconds    uint32
		revertDelaySeconds uint32
	}{
		{tx.First, tx.Second.DestAddr, uint32(2 * e.transactionTTL / time.Second), uint32((24 * time.Hour) / time.Second)},
		{tx.Second, tx.First.DestAddr, uint32(4 * e.transactionTTL / time.Second), uint32((48 * time.Hour) / time.Second)},
	}

	for _, p := range pairs {
		src, err := nodeid.Parse(p.member.SourceAddr)
		if err != nil {
			return fmt.Errorf("parse member source address: %w", err)
		}
		counterpartyDest, err := nodeid.Parse(p.counterpartyDest)
		if err != nil {
			return fmt.Errorf("parse counterparty dest address: %w", err)
		}
		msg := &protocol.TransactionCreateMsg{
			Dest: src, Sender: e.localID, HubID: hubID,
			CounterpartyDestAddr: counterpartyDest,
			LockTimeSeconds:      p.lockTimeSeconds,
			RevertDelaySeconds:   p.revertDelaySeconds,
		}
		if err := e.send(src, command.TransactionCreate, msg.Encode()); err != nil {
			e.log.Warn("send xbcTransactionCreate failed", "hub_id", tx.HubID, "dest", src, "error", err)
		}
	}
	return nil
}

// HandleTransactionCreated advances Initialized -> Created on both
// sources' acks, storing each side's raw (pay, revert) pair, then drives
// Sign to each destination with the counterparty's pair (spec.md §4.4
// step 4, "Hub swaps sides").
func (e *Exchange) HandleTransactionCreated(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionCreated(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionCreated: %w", err)
	}
	hubID := msg.HubID.String()

	tx, err := e.store.GetTransaction(hubID)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	isFirst, ok := matchMember(msg.Sender, tx.First.SourceAddr, tx.Second.SourceAddr)
	if !ok {
		e.log.Debug("created from neither member, ignoring", "hub_id", hubID, "sender", msg.Sender)
		return nil
	}

	if err := e.store.SetMemberRawTxs(hubID, isFirst, msg.RawPayHex, msg.RawRevertHex); err != nil {
		return fmt.Errorf("set member raw txs: %w", err)
	}

	return e.advance(hubID, isFirst, storage.TxStateInitialized, storage.TxStateCreated, e.driveSign)
}

// driveSign sends each destination the counterparty's (pay, revert) pair,
// the pay already signed and the revert unsigned, inside
// xbcTransactionSign (step 4).
func (e *Exchange) driveSign(tx *storage.Transaction) error {
	hubID, err := nodeid.ParseHash256(tx.HubID)
	if err != nil {
		return fmt.Errorf("parse hub id: %w", err)
	}

	pairs := []struct {
		dest             string
		counterpartyPair storage.Member
	}{
		{tx.First.DestAddr, tx.Second},
		{tx.Second.DestAddr, tx.First},
	}

	for _, p := range pairs {
		dest, err := nodeid.Parse(p.dest)
		if err != nil {
			return fmt.Errorf("parse member dest address: %w", err)
		}
		msg := &protocol.TransactionSignMsg{
			Dest: dest, Sender: e.localID, HubID: hubID,
			RawPayHex: p.counterpartyPair.RawPayTx, RawRevertHex: p.counterpartyPair.RawRevertTx,
		}
		if err := e.send(dest, command.TransactionSign, msg.Encode()); err != nil {
			e.log.Warn("send xbcTransactionSign failed", "hub_id", tx.HubID, "dest", dest, "error", err)
		}
	}
	return nil
}

// HandleTransactionSigned advances Created -> Signed on both
// destinations' acks, storing the signed revert against the counterparty
// whose transaction it signs, then drives Commit to each source (spec.md
// §4.4 step 5).
func (e *Exchange) HandleTransactionSigned(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionSigned(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionSigned: %w", err)
	}
	hubID := msg.HubID.String()

	tx, err := e.store.GetTransaction(hubID)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	isFirst, ok := matchMember(msg.Sender, tx.First.DestAddr, tx.Second.DestAddr)
	if !ok {
		e.log.Debug("signed from neither member, ignoring", "hub_id", hubID, "sender", msg.Sender)
		return nil
	}

	// The signed revert belongs to the COUNTERPARTY (the destination signs
	// the side whose raw pair it was just handed), so the signed hex is
	// stored against the other member's row.
	if err := e.store.SetMemberRawTxs(hubID, !isFirst, "", msg.RawRevertSignedHex); err != nil {
		return fmt.Errorf("set signed revert: %w", err)
	}

	return e.advance(hubID, isFirst, storage.TxStateCreated, storage.TxStateSigned, e.driveCommit)
}

// driveCommit sends each source xbcTransactionCommit carrying its own
// signed revert transaction (step 5).
func (e *Exchange) driveCommit(tx *storage.Transaction) error {
	hubID, err := nodeid.ParseHash256(tx.HubID)
	if err != nil {
		return fmt.Errorf("parse hub id: %w", err)
	}

	for _, side := range []storage.Member{tx.First, tx.Second} {
		src, err := nodeid.Parse(side.SourceAddr)
		if err != nil {
			return fmt.Errorf("parse member source address: %w", err)
		}
		msg := &protocol.TransactionCommitMsg{
			Dest: src, Sender: e.localID, HubID: hubID,
			RawRevertSignedHex: side.RawRevertTx,
		}
		if err := e.send(src, command.TransactionCommit, msg.Encode()); err != nil {
			e.log.Warn("send xbcTransactionCommit failed", "hub_id", tx.HubID, "dest", src, "error", err)
		}
	}
	return nil
}

// HandleTransactionCommited advances Signed -> Commited on both sources'
// acks, recording each side's self-reported broadcast tx hash, then emits
// xbcTransactionConfirm for wire parity (spec.md §9 open question: not
// authoritative — see HandleReceivedTransaction).
func (e *Exchange) HandleTransactionCommited(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionCommited(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionCommited: %w", err)
	}
	hubID := msg.HubID.String()

	tx, err := e.store.GetTransaction(hubID)
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	isFirst, ok := matchMember(msg.Sender, tx.First.SourceAddr, tx.Second.SourceAddr)
	if !ok {
		e.log.Debug("commited from neither member, ignoring", "hub_id", hubID, "sender", msg.Sender)
		return nil
	}

	if err := e.store.SetMemberTxHash(hubID, isFirst, msg.ObservedTxHash.String()); err != nil {
		return fmt.Errorf("set member tx hash: %w", err)
	}

	return e.advance(hubID, isFirst, storage.TxStateSigned, storage.TxStateCommited, e.driveConfirm)
}

func (e *Exchange) driveConfirm(tx *storage.Transaction) error {
	hubID, err := nodeid.ParseHash256(tx.HubID)
	if err != nil {
		return fmt.Errorf("parse hub id: %w", err)
	}
	for _, side := range []storage.Member{tx.First, tx.Second} {
		dest, err := nodeid.Parse(side.SourceAddr)
		if err != nil {
			return fmt.Errorf("parse member source address: %w", err)
		}
		msg := &protocol.TransactionConfirmMsg{Dest: dest, Sender: e.localID, HubID: hubID}
		if err := e.send(dest, command.TransactionConfirm, msg.Encode()); err != nil {
			e.log.Warn("send xbcTransactionConfirm failed", "hub_id", tx.HubID, "dest", dest, "error", err)
		}
	}
	return nil
}

// HandleTransactionConfirm is registered to satisfy the dispatcher's
// exhaustiveness check. xbcTransactionConfirm is emitted for wire parity
// but is not authoritative: Confirmed is driven exclusively by
// HandleReceivedTransaction (spec.md §9 open question).
func (e *Exchange) HandleTransactionConfirm(pkt *packet.Packet) error {
	return nil
}

// HandleTransactionFinished reconciles this hub's own active-transaction
// record against a flooded xbcTransactionFinished — relevant when the swap
// was matched by a different hub instance that this one also observed, or
// when the broadcast loops back to its originator. A hubId this hub never
// tracked is silently ignored.
func (e *Exchange) HandleTransactionFinished(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionFinished(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionFinished: %w", err)
	}
	return e.markTerminal(msg.HubID.String(), storage.TxStateFinished)
}

// HandleTransactionDropped mirrors HandleTransactionFinished for the
// xbcTransactionDropped broadcast (spec.md §6 wire parity; this hub's own
// rollback path reaches Dropped directly without emitting this broadcast,
// so in practice this only fires for a swap another hub instance tracked).
func (e *Exchange) HandleTransactionDropped(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionDropped(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionDropped: %w", err)
	}
	return e.markTerminal(msg.HubID.String(), storage.TxStateDropped)
}

func (e *Exchange) markTerminal(hubID string, state storage.TransactionState) error {
	if _, err := e.store.GetTransaction(hubID); errors.Is(err, storage.ErrTransactionNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}
	if err := e.store.UpdateTransactionState(hubID, state); err != nil {
		return fmt.Errorf("mark terminal: %w", err)
	}
	e.notifyState(hubID, state)
	return nil
}

// HandlePendingTransaction records a peer hub's broadcast summary of one of
// its still-pending orders (spec.md §5 "sendListOfTransactions"). It
// carries no address fields (spec.md §6), so it cannot feed tryJoin's
// address-routing requirements — it is informational only, surfaced to any
// attached UI via notify.Hub.
func (e *Exchange) HandlePendingTransaction(pkt *packet.Packet) error {
	msg, err := protocol.DecodePendingTransaction(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcPendingTransaction: %w", err)
	}
	if e.notify != nil {
		e.notify.LogMessage(fmt.Sprintf("peer pending order %s: %s/%d -> %s/%d",
			msg.ID, msg.FromCur, msg.FromAmt, msg.ToCur, msg.ToAmt))
	}
	return nil
}

// HandleReceivedTransaction decodes a wallet-scanner observation arriving
// as a wire packet and applies it via ObserveTransaction. The scanner may
// also call ObserveTransaction directly without going through encode/decode
// since the message is always synthesized locally (see protocol.go).
func (e *Exchange) HandleReceivedTransaction(pkt *packet.Packet) error {
	msg, err := protocol.DecodeReceivedTransaction(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcReceivedTransaction: %w", err)
	}
	return e.ObserveTransaction(msg.TxHash)
}

// ObserveTransaction implements Commited -> Confirmed (spec.md §4.4 step
// 6): looks the swap up by the self-reported tx hash, idempotently marks
// that side confirmed, and on both sides confirmed advances to Confirmed
// and immediately on to Finished.
func (e *Exchange) ObserveTransaction(txHash nodeid.Hash256) error {
	tx, err := e.store.GetTransactionByTxHash(txHash.String())
	if errors.Is(err, storage.ErrTransactionNotFound) {
		e.log.Debug("received transaction for unknown swap, ignoring", "tx_hash", txHash)
		return nil
	}
	if err != nil {
		return fmt.Errorf("find transaction by tx hash: %w", err)
	}

	isFirst := tx.First.TxHash == txHash.String()
	_, count, err := e.store.ConfirmMember(tx.HubID, isFirst, txHash.String())
	if err != nil {
		return fmt.Errorf("confirm member: %w", err)
	}
	if count < 2 {
		return nil
	}

	if err := e.store.UpdateTransactionState(tx.HubID, storage.TxStateConfirmed); err != nil {
		return fmt.Errorf("advance to confirmed: %w", err)
	}
	e.notifyState(tx.HubID, storage.TxStateConfirmed)

	return e.finish(tx.HubID)
}

// finish implements "Confirmed -> Finished after the hub broadcasts
// xbcTransactionFinished{hubId}" (spec.md §4.4 "Terminal transitions").
func (e *Exchange) finish(hubID string) error {
	if err := e.store.UpdateTransactionState(hubID, storage.TxStateFinished); err != nil {
		return fmt.Errorf("advance to finished: %w", err)
	}
	e.notifyState(hubID, storage.TxStateFinished)

	id, err := nodeid.ParseHash256(hubID)
	if err != nil {
		return fmt.Errorf("parse hub id: %w", err)
	}
	msg := &protocol.TransactionFinishedMsg{HubID: id}
	if err := e.sender.Broadcast(packet.New(command.TransactionFinished, msg.Encode())); err != nil {
		e.log.Warn("broadcast xbcTransactionFinished failed", "hub_id", hubID, "error", err)
	}
	return nil
}

// HandleTransactionCancel implements an explicit xbcTransactionCancel
// request (spec.md §4.4 "Terminal transitions"): before Signed, no on-chain
// action is needed; at or after Signed, rollbackTransaction is driven
// instead so members can reclaim their funds via their revert transaction.
func (e *Exchange) HandleTransactionCancel(pkt *packet.Packet) error {
	msg, err := protocol.DecodeTransactionCancel(pkt.Body)
	if err != nil {
		return fmt.Errorf("decode xbcTransactionCancel: %w", err)
	}

	tx, err := e.store.GetTransaction(msg.HubID.String())
	if errors.Is(err, storage.ErrTransactionNotFound) {
		// Not this hub's swap (or already removed) — nothing to do.
		return nil
	}
	if err != nil {
		return fmt.Errorf("get transaction: %w", err)
	}

	return e.cancelOrRollback(tx)
}

func (e *Exchange) cancelOrRollback(tx *storage.Transaction) error {
	if isAtOrAfter(tx.State, storage.TxStateSigned) {
		return e.rollback(tx)
	}

	if err := e.store.UpdateTransactionState(tx.HubID, storage.TxStateCancelled); err != nil {
		return fmt.Errorf("cancel transaction: %w", err)
	}
	e.notifyState(tx.HubID, storage.TxStateCancelled)

	id, err := nodeid.ParseHash256(tx.HubID)
	if err != nil {
		return fmt.Errorf("parse hub id: %w", err)
	}
	msg := &protocol.TransactionCancelMsg{HubID: id}
	if err := e.sender.Broadcast(packet.New(command.TransactionCancel, msg.Encode())); err != nil {
		e.log.Warn("broadcast xbcTransactionCancel failed", "hub_id", tx.HubID, "error", err)
	}
	return nil
}

// rollback implements rollbackTransaction (spec.md §4.4 "Terminal
// transitions"): the hub sends xbcTransactionRollback to each source
// address, then broadcasts xbcTransactionCancel; each client responds by
// broadcasting its own revert transaction.
func (e *Exchange) rollback(tx *storage.Transaction) error {
	hubID, err := nodeid.ParseHash256(tx.HubID)
	if err != nil {
		return fmt.Errorf("parse hub id: %w", err)
	}

	for _, side := range []storage.Member{tx.First, tx.Second} {
		dest, err := nodeid.Parse(side.SourceAddr)
		if err != nil {
			return fmt.Errorf("parse member source address: %w", err)
		}
		msg := &protocol.TransactionRollbackMsg{Dest: dest, HubID: hubID}
		if err := e.send(dest, command.TransactionRollback, msg.Encode()); err != nil {
			e.log.Warn("send xbcTransactionRollback failed", "hub_id", tx.HubID, "dest", dest, "error", err)
		}
	}

	if err := e.store.UpdateTransactionState(tx.HubID, storage.TxStateDropped); err != nil {
		return fmt.Errorf("drop transaction: %w", err)
	}
	e.notifyState(tx.HubID, storage.TxStateDropped)

	msg := &protocol.TransactionCancelMsg{HubID: hubID}
	if err := e.sender.Broadcast(packet.New(command.TransactionCancel, msg.Encode())); err != nil {
		e.log.Warn("broadcast xbcTransactionCancel failed", "hub_id", tx.HubID, "error", err)
	}
	return nil
}

var stateOrder = map[storage.TransactionState]int{
	storage.TxStateNew:         0,
	storage.TxStateJoined:      1,
	storage.TxStateHold:        2,
	storage.TxStateInitialized: 3,
	storage.TxStateCreated:     4,
	storage.TxStateSigned:      5,
	storage.TxStateCommited:    6,
	storage.TxStateConfirmed:   7,
}

func isAtOrAfter(state, threshold storage.TransactionState) bool {
	return stateOrder[state] >= stateOrder[threshold]
}

// Sweep performs the timer thread's per-tick duties against swap state
// (spec.md §5 "checkFinishedTransactions", "eraseExpiredPendingTransactions"):
// it expires stale pending-pool entries, removes terminal records left by
// earlier ticks, rolls back or cancels active transactions that have
// overstayed TransactionTTL (those are removed on the next tick), and
// re-broadcasts the hub's own still-pending orders (sendListOfTransactions)
// so other hubs keep seeing them.
func (e *Exchange) Sweep() {
	if n, err := e.store.ExpirePendingPoolEntries(time.Now().Add(-e.pendingTTL)); err != nil {
		e.log.Warn("expire pending pool failed", "error", err)
	} else if n > 0 {
		e.log.Debug("expired pending pool entries", "count", n)
	}

	for _, terminal := range []storage.TransactionState{storage.TxStateFinished, storage.TxStateCancelled, storage.TxStateDropped} {
		txs, err := e.store.ListTransactionsByState(terminal)
		if err != nil {
			e.log.Warn("list terminal transactions failed", "state", terminal, "error", err)
			continue
		}
		for _, tx := range txs {
			if err := e.store.DeleteTransaction(tx.HubID); err != nil {
				e.log.Warn("delete terminal transaction failed", "hub_id", tx.HubID, "error", err)
			}
		}
	}

	expired, err := e.store.ListExpiredTransactions(time.Now().Add(-e.transactionTTL))
	if err != nil {
		e.log.Warn("list expired transactions failed", "error", err)
	}
	for _, tx := range expired {
		e.log.Info("transaction expired, rolling back", "hub_id", tx.HubID, "state", tx.State)
		if err := e.cancelOrRollback(tx); err != nil {
			e.log.Warn("expire-driven cancel/rollback failed", "hub_id", tx.HubID, "error", err)
		}
	}

	e.sendListOfTransactions()
}

func (e *Exchange) sendListOfTransactions() {
	entries, err := e.store.ListPendingPool()
	if err != nil {
		e.log.Warn("list pending pool failed", "error", err)
		return
	}
	for _, entry := range entries {
		id, err := nodeid.ParseHash256(entry.OrderID)
		if err != nil {
			continue
		}
		msg := &protocol.PendingTransactionMsg{
			ID: id, FromCur: entry.SourceCur, FromAmt: entry.SourceAmt,
			ToCur: entry.DestCur, ToAmt: entry.DestAmt,
		}
		if err := e.sender.Broadcast(packet.New(command.PendingTransaction, msg.Encode())); err != nil {
			e.log.Warn("broadcast xbcPendingTransaction failed", "order", entry.OrderID, "error", err)
		}
	}
}
