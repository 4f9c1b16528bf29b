// Package command defines the closed set of wire command codes (spec.md
// §6) exchanged over the overlay, and the exhaustive handler-table idiom
// used to dispatch them (session.Dispatcher wires one handler per code and
// panics at construction time if any code listed here has no registration).
package command

// Command identifies the payload layout and handling of a wire packet.
// Numeric values are stable across the overlay; never renumber an existing
// entry.
type Command uint32

const (
	// announce/overlay
	Invalid Command = iota
	AnnounceAddresses
	XChatMessage
	AddressBookEntry
	ExchangeWallets
	PendingTransaction

	// hub orchestration
	Transaction
	TransactionHold
	TransactionHoldApply
	TransactionInit
	TransactionInitialized
	TransactionCreate
	TransactionCreated
	TransactionSign
	TransactionSigned
	TransactionCommit
	TransactionCommited
	TransactionConfirm
	TransactionFinished
	TransactionCancel
	TransactionRollback
	TransactionDropped
	ReceivedTransaction
)

var names = map[Command]string{
	Invalid:                "xbcInvalid",
	AnnounceAddresses:      "xbcAnnounceAddresses",
	XChatMessage:           "xbcXChatMessage",
	AddressBookEntry:       "xbcAddressBookEntry",
	ExchangeWallets:        "xbcExchangeWallets",
	PendingTransaction:     "xbcPendingTransaction",
	Transaction:            "xbcTransaction",
	TransactionHold:        "xbcTransactionHold",
	TransactionHoldApply:   "xbcTransactionHoldApply",
	TransactionInit:        "xbcTransactionInit",
	TransactionInitialized: "xbcTransactionInitialized",
	TransactionCreate:      "xbcTransactionCreate",
	TransactionCreated:     "xbcTransactionCreated",
	TransactionSign:        "xbcTransactionSign",
	TransactionSigned:      "xbcTransactionSigned",
	TransactionCommit:      "xbcTransactionCommit",
	TransactionCommited:    "xbcTransactionCommited",
	TransactionConfirm:     "xbcTransactionConfirm",
	TransactionFinished:    "xbcTransactionFinished",
	TransactionCancel:      "xbcTransactionCancel",
	TransactionRollback:    "xbcTransactionRollback",
	TransactionDropped:     "xbcTransactionDropped",
	ReceivedTransaction:    "xbcReceivedTransaction",
}

func (c Command) String() string {
	if name, ok := names[c]; ok {
		return name
	}
	return "xbcUnknown"
}

// IsBroadcast reports whether a packet of this command is sent without a
// 20-byte destination-address prefix (spec.md §6 body layouts): these are
// flooded to the whole overlay rather than routed to one address, so the
// session dispatcher's relay check does not apply to them.
//
// AnnounceAddresses is included here for a different reason: its leading
// 20 bytes are the address being announced, not a routing destination
// (original_source's `processAnnounceAddresses` has no relay step at all —
// the packet is always handled by whichever node received it directly, be
// that over the bridge from an attached wallet or, in principle, straight
// off the overlay). Treating it as non-relayable gives it the same
// always-handle-locally behavior without inventing a second dispatch path.
func IsBroadcast(c Command) bool {
	switch c {
	case Transaction, TransactionCancel, TransactionFinished, TransactionDropped,
		PendingTransaction, AddressBookEntry, ExchangeWallets, AnnounceAddresses:
		return true
	default:
		return false
	}
}

// All returns every known command, in ascending numeric order. Used by
// tests and by startup code that verifies the handler table is exhaustive.
func All() []Command {
	out := make([]Command, 0, len(names))
	for c := Invalid; int(c) < len(names); c++ {
		out = append(out, c)
	}
	return out
}
