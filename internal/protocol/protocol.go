// Package protocol models every xbc* command body as a typed struct with
// its own Encode/Decode pair (spec.md §9 redesign note: "implementers
// should instead model each command with a typed struct and derive
// (de)serialisation, then map command codes to variants of a sum type").
// The wire layouts themselves (spec.md §6) are unchanged; this only gives
// them names instead of leaving callers to poke at packet.Writer/Reader
// directly at each call site.
//
// Every unicast message (anything command.IsBroadcast reports false for)
// begins with a 20-byte destination address, matching session.Dispatcher's
// relay check. Most also carry the sender's own address as the next 20
// bytes, so the receiving side's hub-side or client-side handler knows
// which member/role an ack or reply came from; xbcTransactionRollback and
// xbcReceivedTransaction (the shorter fixed layouts spec.md §6 calls out)
// and xbcXChatMessage (destination plus opaque payload) carry no sender
// field.
package protocol

import (
	"strings"

	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/internal/packet"
)

// TransactionMsg is the broadcast order announcement (spec.md §6
// "xbcTransaction").
type TransactionMsg struct {
	OrderID nodeid.Hash256
	SrcAddr nodeid.ID
	SrcCur  string
	SrcAmt  uint64
	DstAddr nodeid.ID
	DstCur  string
	DstAmt  uint64
}

func (m *TransactionMsg) Encode() []byte {
	return packet.NewWriter().
		PutHash256(m.OrderID).
		PutAddress(m.SrcAddr).
		PutCurrency(m.SrcCur).
		PutUint64(m.SrcAmt).
		PutAddress(m.DstAddr).
		PutCurrency(m.DstCur).
		PutUint64(m.DstAmt).
		Bytes()
}

func DecodeTransaction(body []byte) (*TransactionMsg, error) {
	r := packet.NewReader(body)
	var m TransactionMsg
	var err error
	if m.OrderID, err = r.Hash256(); err != nil {
		return nil, err
	}
	if m.SrcAddr, err = r.Address(); err != nil {
		return nil, err
	}
	if m.SrcCur, err = r.Currency(); err != nil {
		return nil, err
	}
	if m.SrcAmt, err = r.Uint64(); err != nil {
		return nil, err
	}
	if m.DstAddr, err = r.Address(); err != nil {
		return nil, err
	}
	if m.DstCur, err = r.Currency(); err != nil {
		return nil, err
	}
	if m.DstAmt, err = r.Uint64(); err != nil {
		return nil, err
	}
	return &m, nil
}

// TransactionHoldMsg is hub -> source member (spec.md §4.4 step 1).
type TransactionHoldMsg struct {
	Dest       nodeid.ID
	Sender     nodeid.ID
	OldOrderID nodeid.Hash256
	HubID      nodeid.Hash256
}

func (m *TransactionHoldMsg) Encode() []byte {
	return packet.NewWriter().
		PutAddress(m.Dest).
		PutAddress(m.Sender).
		PutHash256(m.OldOrderID).
		PutHash256(m.HubID).
		Bytes()
}

func DecodeTransactionHold(body []byte) (*TransactionHoldMsg, error) {
	r := packet.NewReader(body)
	var m TransactionHoldMsg
	var err error
	if m.Dest, err = r.Address(); err != nil {
		return nil, err
	}
	if m.Sender, err = r.Address(); err != nil {
		return nil, err
	}
	if m.OldOrderID, err = r.Hash256(); err != nil {
		return nil, err
	}
	if m.HubID, err = r.Hash256(); err != nil {
		return nil, err
	}
	return &m, nil
}

// hubIDOnlyMsg is the shape shared by xbcTransactionHoldApply and
// xbcTransactionInitialized: dest, sender, hubId (spec.md §6: "= 72 B").
type hubIDOnlyMsg struct {
	Dest   nodeid.ID
	Sender nodeid.ID
	HubID  nodeid.Hash256
}

func (m *hubIDOnlyMsg) encode() []byte {
	return packet.NewWriter().
		PutAddress(m.Dest).
		PutAddress(m.Sender).
		PutHash256(m.HubID).
		Bytes()
}

func decodeHubIDOnly(body []byte) (*hubIDOnlyMsg, error) {
	r := packet.NewReader(body)
	var m hubIDOnlyMsg
	var err error
	if m.Dest, err = r.Address(); err != nil {
		return nil, err
	}
	if m.Sender, err = r.Address(); err != nil {
		return nil, err
	}
	if m.HubID, err = r.Hash256(); err != nil {
		return nil, err
	}
	return &m, nil
}

// TransactionHoldApplyMsg is source member -> hub (spec.md §4.4 step 1).
type TransactionHoldApplyMsg hubIDOnlyMsg

func (m *TransactionHoldApplyMsg) Encode() []byte { return (*hubIDOnlyMsg)(m).encode() }

func DecodeTransactionHoldApply(body []byte) (*TransactionHoldApplyMsg, error) {
	m, err := decodeHubIDOnly(body)
	if err != nil {
		return nil, err
	}
	return (*TransactionHoldApplyMsg)(m), nil
}

// TransactionInitializedMsg is destination member -> hub (spec.md §4.4 step 2).
type TransactionInitializedMsg hubIDOnlyMsg

func (m *TransactionInitializedMsg) Encode() []byte { return (*hubIDOnlyMsg)(m).encode() }

func DecodeTransactionInitialized(body []byte) (*TransactionInitializedMsg, error) {
	m, err := decodeHubIDOnly(body)
	if err != nil {
		return nil, err
	}
	return (*TransactionInitializedMsg)(m), nil
}

// TransactionInitMsg is hub -> destination member (spec.md §4.4 step 2).
type TransactionInitMsg struct {
	Dest     nodeid.ID
	Sender   nodeid.ID
	HubID    nodeid.Hash256
	FromAddr nodeid.ID
	FromCur  string
	FromAmt  uint64
	ToAddr   nodeid.ID
	ToCur    string
	ToAmt    uint64
}

func (m *TransactionInitMsg) Encode() []byte {
	return packet.NewWriter().
		PutAddress(m.Dest).
		PutAddress(m.Sender).
		PutHash256(m.HubID).
		PutAddress(m.FromAddr).
		PutCurrency(m.FromCur).
		PutUint64(m.FromAmt).
		PutAddress(m.ToAddr).
		PutCurrency(m.ToCur).
		PutUint64(m.ToAmt).
		Bytes()
}

func DecodeTransactionInit(body []byte) (*TransactionInitMsg, error) {
	r := packet.NewReader(body)
	var m TransactionInitMsg
	var err error
	if m.Dest, err = r.Address(); err != nil {
		return nil, err
	}
	if m.Sender, err = r.Address(); err != nil {
		return nil, err
	}
	if m.HubID, err = r.Hash256(); err != nil {
		return nil, err
	}
	if m.FromAddr, err = r.Address(); err != nil {
		return nil, err
	}
	if m.FromCur, err = r.Currency(); err != nil {
		return nil, err
	}
	if m.FromAmt, err = r.Uint64(); err != nil {
		return nil, err
	}
	if m.ToAddr, err = r.Address(); err != nil {
		return nil, err
	}
	if m.ToCur, err = r.Currency(); err != nil {
		return nil, err
	}
	if m.ToAmt, err = r.Uint64(); err != nil {
		return nil, err
	}
	return &m, nil
}

// TransactionCreateMsg is hub -> source member (spec.md §4.4 step 3).
type TransactionCreateMsg struct {
	Dest                 nodeid.ID
	Sender               nodeid.ID
	HubID                nodeid.Hash256
	CounterpartyDestAddr nodeid.ID
	LockTimeSeconds      uint32
	RevertDelaySeconds   uint32
}

func (m *TransactionCreateMsg) Encode() []byte {
	return packet.NewWriter().
		PutAddress(m.Dest).
		PutAddress(m.Sender).
		PutHash256(m.HubID).
		PutAddress(m.CounterpartyDestAddr).
		PutUint32(m.LockTimeSeconds).
		PutUint32(m.RevertDelaySeconds).
		Bytes()
}

func DecodeTransactionCreate(body []byte) (*TransactionCreateMsg, error) {
	r := packet.NewReader(body)
	var m TransactionCreateMsg
	var err error
	if m.Dest, err = r.Address(); err != nil {
		return nil, err
	}
	if m.Sender, err = r.Address(); err != nil {
		return nil, err
	}
	if m.HubID, err = r.Hash256(); err != nil {
		return nil, err
	}
	if m.CounterpartyDestAddr, err = r.Address(); err != nil {
		return nil, err
	}
	if m.LockTimeSeconds, err = r.Uint32(); err != nil {
		return nil, err
	}
	if m.RevertDelaySeconds, err = r.Uint32(); err != nil {
		return nil, err
	}
	return &m, nil
}

// rawPairMsg is the shape shared by xbcTransactionCreated and
// xbcTransactionSign: dest, sender, hubId, then two NUL-terminated raw tx
// hex strings (spec.md §6).
type rawPairMsg struct {
	Dest   nodeid.ID
	Sender nodeid.ID
	HubID  nodeid.Hash256
	RawA   string
	RawB   string
}

func (m *rawPairMsg) encode() []byte {
	return packet.NewWriter().
		PutAddress(m.Dest).
		PutAddress(m.Sender).
		PutHash256(m.HubID).
		PutCString(m.RawA).
		PutCString(m.RawB).
		Bytes()
}

func decodeRawPair(body []byte) (*rawPairMsg, error) {
	r := packet.NewReader(body)
	var m rawPairMsg
	var err error
	if m.Dest, err = r.Address(); err != nil {
		return nil, err
	}
	if m.Sender, err = r.Address(); err != nil {
		return nil, err
	}
	if m.HubID, err = r.Hash256(); err != nil {
		return nil, err
	}
	if m.RawA, err = r.CString(); err != nil {
		return nil, err
	}
	if m.RawB, err = r.CString(); err != nil {
		return nil, err
	}
	return &m, nil
}

// TransactionCreatedMsg is source member -> hub (spec.md §4.4 step 3):
// RawPayHex (signed by the source), RawRevertHex (unsigned).
type TransactionCreatedMsg struct {
	Dest         nodeid.ID
	Sender       nodeid.ID
	HubID        nodeid.Hash256
	RawPayHex    string
	RawRevertHex string
}

func (m *TransactionCreatedMsg) Encode() []byte {
	return (&rawPairMsg{m.Dest, m.Sender, m.HubID, m.RawPayHex, m.RawRevertHex}).encode()
}

func DecodeTransactionCreated(body []byte) (*TransactionCreatedMsg, error) {
	m, err := decodeRawPair(body)
	if err != nil {
		return nil, err
	}
	return &TransactionCreatedMsg{m.Dest, m.Sender, m.HubID, m.RawA, m.RawB}, nil
}

// TransactionSignMsg is hub -> destination member (spec.md §4.4 step 4):
// the counterparty's (pay, revert) pair, the pay signed and the revert
// unsigned.
type TransactionSignMsg struct {
	Dest         nodeid.ID
	Sender       nodeid.ID
	HubID        nodeid.Hash256
	RawPayHex    string
	RawRevertHex string
}

func (m *TransactionSignMsg) Encode() []byte {
	return (&rawPairMsg{m.Dest, m.Sender, m.HubID, m.RawPayHex, m.RawRevertHex}).encode()
}

func DecodeTransactionSign(body []byte) (*TransactionSignMsg, error) {
	m, err := decodeRawPair(body)
	if err != nil {
		return nil, err
	}
	return &TransactionSignMsg{m.Dest, m.Sender, m.HubID, m.RawA, m.RawB}, nil
}

// rawSingleMsg is the shape shared by xbcTransactionSigned and
// xbcTransactionCommit: dest, sender, hubId, one NUL-terminated raw tx hex.
type rawSingleMsg struct {
	Dest   nodeid.ID
	Sender nodeid.ID
	HubID  nodeid.Hash256
	Raw    string
}

func (m *rawSingleMsg) encode() []byte {
	return packet.NewWriter().
		PutAddress(m.Dest).
		PutAddress(m.Sender).
		PutHash256(m.HubID).
		PutCString(m.Raw).
		Bytes()
}

func decodeRawSingle(body []byte) (*rawSingleMsg, error) {
	r := packet.NewReader(body)
	var m rawSingleMsg
	var err error
	if m.Dest, err = r.Address(); err != nil {
		return nil, err
	}
	if m.Sender, err = r.Address(); err != nil {
		return nil, err
	}
	if m.HubID, err = r.Hash256(); err != nil {
		return nil, err
	}
	if m.Raw, err = r.CString(); err != nil {
		return nil, err
	}
	return &m, nil
}

// TransactionSignedMsg is destination member -> hub (spec.md §4.4 step 4).
type TransactionSignedMsg struct {
	Dest               nodeid.ID
	Sender             nodeid.ID
	HubID              nodeid.Hash256
	RawRevertSignedHex string
}

func (m *TransactionSignedMsg) Encode() []byte {
	return (&rawSingleMsg{m.Dest, m.Sender, m.HubID, m.RawRevertSignedHex}).encode()
}

func DecodeTransactionSigned(body []byte) (*TransactionSignedMsg, error) {
	m, err := decodeRawSingle(body)
	if err != nil {
		return nil, err
	}
	return &TransactionSignedMsg{m.Dest, m.Sender, m.HubID, m.Raw}, nil
}

// TransactionCommitMsg is hub -> source member (spec.md §4.4 step 5).
type TransactionCommitMsg struct {
	Dest               nodeid.ID
	Sender             nodeid.ID
	HubID              nodeid.Hash256
	RawRevertSignedHex string
}

func (m *TransactionCommitMsg) Encode() []byte {
	return (&rawSingleMsg{m.Dest, m.Sender, m.HubID, m.RawRevertSignedHex}).encode()
}

func DecodeTransactionCommit(body []byte) (*TransactionCommitMsg, error) {
	m, err := decodeRawSingle(body)
	if err != nil {
		return nil, err
	}
	return &TransactionCommitMsg{m.Dest, m.Sender, m.HubID, m.Raw}, nil
}

// TransactionConfirmMsg is hub -> member (spec.md §4.4 point 6, §9 open
// question): sent on reaching Commited for wire parity with the original
// source. Confirmed is actually driven by ReceivedTransactionMsg — no
// handler treats TransactionConfirm as authoritative (see internal/hub).
type TransactionConfirmMsg hubIDOnlyMsg

func (m *TransactionConfirmMsg) Encode() []byte { return (*hubIDOnlyMsg)(m).encode() }

func DecodeTransactionConfirm(body []byte) (*TransactionConfirmMsg, error) {
	m, err := decodeHubIDOnly(body)
	if err != nil {
		return nil, err
	}
	return (*TransactionConfirmMsg)(m), nil
}

// TransactionCommitedMsg is source member -> hub (spec.md §4.4 step 5):
// reports the txid the member itself broadcast.
type TransactionCommitedMsg struct {
	Dest           nodeid.ID
	Sender         nodeid.ID
	HubID          nodeid.Hash256
	ObservedTxHash nodeid.Hash256
}

func (m *TransactionCommitedMsg) Encode() []byte {
	return packet.NewWriter().
		PutAddress(m.Dest).
		PutAddress(m.Sender).
		PutHash256(m.HubID).
		PutHash256(m.ObservedTxHash).
		Bytes()
}

func DecodeTransactionCommited(body []byte) (*TransactionCommitedMsg, error) {
	r := packet.NewReader(body)
	var m TransactionCommitedMsg
	var err error
	if m.Dest, err = r.Address(); err != nil {
		return nil, err
	}
	if m.Sender, err = r.Address(); err != nil {
		return nil, err
	}
	if m.HubID, err = r.Hash256(); err != nil {
		return nil, err
	}
	if m.ObservedTxHash, err = r.Hash256(); err != nil {
		return nil, err
	}
	return &m, nil
}

// hubIDBroadcastMsg is the shape shared by xbcTransactionCancel,
// xbcTransactionFinished and xbcTransactionDropped: a bare 32B id,
// flooded with no destination prefix (spec.md §6).
type hubIDBroadcastMsg struct {
	HubID nodeid.Hash256
}

func (m *hubIDBroadcastMsg) encode() []byte {
	return packet.NewWriter().PutHash256(m.HubID).Bytes()
}

func decodeHubIDBroadcast(body []byte) (*hubIDBroadcastMsg, error) {
	r := packet.NewReader(body)
	var m hubIDBroadcastMsg
	var err error
	if m.HubID, err = r.Hash256(); err != nil {
		return nil, err
	}
	return &m, nil
}

type TransactionCancelMsg hubIDBroadcastMsg

func (m *TransactionCancelMsg) Encode() []byte { return (*hubIDBroadcastMsg)(m).encode() }

func DecodeTransactionCancel(body []byte) (*TransactionCancelMsg, error) {
	m, err := decodeHubIDBroadcast(body)
	if err != nil {
		return nil, err
	}
	return (*TransactionCancelMsg)(m), nil
}

type TransactionFinishedMsg hubIDBroadcastMsg

func (m *TransactionFinishedMsg) Encode() []byte { return (*hubIDBroadcastMsg)(m).encode() }

func DecodeTransactionFinished(body []byte) (*TransactionFinishedMsg, error) {
	m, err := decodeHubIDBroadcast(body)
	if err != nil {
		return nil, err
	}
	return (*TransactionFinishedMsg)(m), nil
}

type TransactionDroppedMsg hubIDBroadcastMsg

func (m *TransactionDroppedMsg) Encode() []byte { return (*hubIDBroadcastMsg)(m).encode() }

func DecodeTransactionDropped(body []byte) (*TransactionDroppedMsg, error) {
	m, err := decodeHubIDBroadcast(body)
	if err != nil {
		return nil, err
	}
	return (*TransactionDroppedMsg)(m), nil
}

// TransactionRollbackMsg is hub -> source member (spec.md §6: "20B dest,
// 32B hubId" — no sender field, unlike the other hub-originated messages).
type TransactionRollbackMsg struct {
	Dest  nodeid.ID
	HubID nodeid.Hash256
}

func (m *TransactionRollbackMsg) Encode() []byte {
	return packet.NewWriter().PutAddress(m.Dest).PutHash256(m.HubID).Bytes()
}

func DecodeTransactionRollback(body []byte) (*TransactionRollbackMsg, error) {
	r := packet.NewReader(body)
	var m TransactionRollbackMsg
	var err error
	if m.Dest, err = r.Address(); err != nil {
		return nil, err
	}
	if m.HubID, err = r.Hash256(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReceivedTransactionMsg carries a wallet-scanner's "transaction observed"
// notification (spec.md §4.4 step 6). It is synthesized locally by the hub
// process's own wallet watcher rather than arriving from a remote peer, so
// Dest is always the hub's own NodeId — folding it into the same
// dest-prefixed convention every other unicast command uses, rather than
// special-casing the dispatcher's relay check for one command.
type ReceivedTransactionMsg struct {
	Dest   nodeid.ID
	TxHash nodeid.Hash256
}

func (m *ReceivedTransactionMsg) Encode() []byte {
	return packet.NewWriter().PutAddress(m.Dest).PutHash256(m.TxHash).Bytes()
}

func DecodeReceivedTransaction(body []byte) (*ReceivedTransactionMsg, error) {
	r := packet.NewReader(body)
	var m ReceivedTransactionMsg
	var err error
	if m.Dest, err = r.Address(); err != nil {
		return nil, err
	}
	if m.TxHash, err = r.Hash256(); err != nil {
		return nil, err
	}
	return &m, nil
}

// PendingTransactionMsg is the broadcast summary of one still-pending order
// (spec.md §6, §5 "sendListOfTransactions"): 32B id, 8B fromCur, 8B
// fromAmt, 8B toCur, 8B toAmt.
type PendingTransactionMsg struct {
	ID      nodeid.Hash256
	FromCur string
	FromAmt uint64
	ToCur   string
	ToAmt   uint64
}

func (m *PendingTransactionMsg) Encode() []byte {
	return packet.NewWriter().
		PutHash256(m.ID).
		PutCurrency(m.FromCur).
		PutUint64(m.FromAmt).
		PutCurrency(m.ToCur).
		PutUint64(m.ToAmt).
		Bytes()
}

func DecodePendingTransaction(body []byte) (*PendingTransactionMsg, error) {
	r := packet.NewReader(body)
	var m PendingTransactionMsg
	var err error
	if m.ID, err = r.Hash256(); err != nil {
		return nil, err
	}
	if m.FromCur, err = r.Currency(); err != nil {
		return nil, err
	}
	if m.FromAmt, err = r.Uint64(); err != nil {
		return nil, err
	}
	if m.ToCur, err = r.Currency(); err != nil {
		return nil, err
	}
	if m.ToAmt, err = r.Uint64(); err != nil {
		return nil, err
	}
	return &m, nil
}

// AddressBookEntryMsg announces one locally attached wallet address
// (spec.md §4.6, §6): three NUL-terminated strings, the address itself
// already base64-encoded by the caller.
type AddressBookEntryMsg struct {
	Currency      string
	Name          string
	AddressBase64 string
}

func (m *AddressBookEntryMsg) Encode() []byte {
	return packet.NewWriter().
		PutCString(m.Currency).
		PutCString(m.Name).
		PutCString(m.AddressBase64).
		Bytes()
}

func DecodeAddressBookEntry(body []byte) (*AddressBookEntryMsg, error) {
	r := packet.NewReader(body)
	var m AddressBookEntryMsg
	var err error
	if m.Currency, err = r.CString(); err != nil {
		return nil, err
	}
	if m.Name, err = r.CString(); err != nil {
		return nil, err
	}
	if m.AddressBase64, err = r.CString(); err != nil {
		return nil, err
	}
	return &m, nil
}

// AnnounceAddressesMsg registers a locally attached wallet address as
// directly reachable through the announcing node, so packets bound for it
// are handled locally rather than relayed over the DHT (grounded on
// original_source's `processAnnounceAddresses`: a bare 20-byte body that
// the node stores against the announcing session). Unlike every other
// unicast message in this file, the 20 bytes here ARE the address being
// announced, not a routing destination — the relay check never applies to
// this command, since it is how a node tells itself "this address is
// mine," not a message addressed to someone else.
type AnnounceAddressesMsg struct {
	NodeID nodeid.ID
}

func (m *AnnounceAddressesMsg) Encode() []byte {
	return packet.NewWriter().PutAddress(m.NodeID).Bytes()
}

func DecodeAnnounceAddresses(body []byte) (*AnnounceAddressesMsg, error) {
	r := packet.NewReader(body)
	var m AnnounceAddressesMsg
	var err error
	if m.NodeID, err = r.Address(); err != nil {
		return nil, err
	}
	return &m, nil
}

// XChatMessageMsg retranslates an opaque wallet-originated payload to one
// overlay address (original_source's `processXChatMessage`: 20-byte dest
// prefix followed by an arbitrary trailing payload, forwarded verbatim).
// The payload is never interpreted by the overlay itself; it is handed to
// whatever is attached at the destination (spec.md §1's UI collaborator).
type XChatMessageMsg struct {
	Dest    nodeid.ID
	Payload []byte
}

func (m *XChatMessageMsg) Encode() []byte {
	return packet.NewWriter().PutAddress(m.Dest).PutBytes(m.Payload).Bytes()
}

func DecodeXChatMessage(body []byte) (*XChatMessageMsg, error) {
	r := packet.NewReader(body)
	var m XChatMessageMsg
	var err error
	if m.Dest, err = r.Address(); err != nil {
		return nil, err
	}
	m.Payload = r.Rest()
	return &m, nil
}

// ExchangeWalletsMsg is a hub's broadcast of the currencies it currently
// has wallets attached for (original_source's `sendListOfWallets`, adapted
// from its pipe-joined currency-pair list to a flat pipe-joined currency
// set matching this spec's single-currency-per-member model). Purely
// informational: nothing reacts to it but a possible UI listener.
type ExchangeWalletsMsg struct {
	Currencies []string
}

func (m *ExchangeWalletsMsg) Encode() []byte {
	return packet.NewWriter().PutCString(strings.Join(m.Currencies, "|")).Bytes()
}

func DecodeExchangeWallets(body []byte) (*ExchangeWalletsMsg, error) {
	r := packet.NewReader(body)
	joined, err := r.CString()
	if err != nil {
		return nil, err
	}
	if joined == "" {
		return &ExchangeWalletsMsg{}, nil
	}
	return &ExchangeWalletsMsg{Currencies: strings.Split(joined, "|")}, nil
}
