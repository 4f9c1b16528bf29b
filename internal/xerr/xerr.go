// Package xerr defines the error taxonomy used across the swap engine
// (spec.md §7). Handlers always return one of these sentinels (wrapped with
// context via fmt.Errorf("...: %w", ...)) so the session dispatcher and the
// hub's timer sweep can classify failures without string matching.
package xerr

import "errors"

var (
	// NetworkTransient indicates a failure the DHT transport should retry.
	NetworkTransient = errors.New("network transient error")

	// NetworkPermanent indicates a failure that should be logged and dropped,
	// never propagated to the state machine.
	NetworkPermanent = errors.New("network permanent error")

	// WireFormat indicates a malformed packet: bad version, size, or encoding.
	// A TCP session is disconnected on this error; a UDP/DHT packet is dropped.
	WireFormat = errors.New("wire format error")

	// RpcFailure indicates a wallet JSON-RPC call failed (non-2xx or a JSON
	// error object). On the client-side builder this triggers a cancel.
	RpcFailure = errors.New("wallet rpc failure")

	// StateViolation indicates a state transition was attempted from the
	// wrong predecessor state. Logged and dropped; no retry.
	StateViolation = errors.New("state violation")

	// Timeout indicates an individual operation timed out. No action is taken
	// at the call site; swap-level timeout is handled by the timer sweep.
	Timeout = errors.New("operation timeout")

	// InsufficientFunds indicates the client-side builder could not select
	// enough UTXOs to cover amount+fee. Triggers a cancel.
	InsufficientFunds = errors.New("insufficient funds")
)

// IsFatal reports whether err should disconnect a TCP session. Only
// malformed wire data warrants that; everything else is logged and the
// connection continues, since packets are independently framed (spec §4.3).
func IsFatal(err error) bool {
	return errors.Is(err, WireFormat)
}
