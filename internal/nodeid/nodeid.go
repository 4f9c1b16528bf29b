// Package nodeid implements the fixed-size identifiers used throughout the
// overlay: 160-bit node/address ids and 256-bit order/hub ids.
package nodeid

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Size is the length in bytes of a NodeID / overlay Address.
const Size = 20

// ID is a 160-bit overlay identifier: a node id, or a wallet address's
// RIPEMD-160(SHA-256(pubkey)) (spec.md "Address").
type ID [Size]byte

// Zero is the all-zero ID, used as a sentinel for "unset".
var Zero ID

// IsZero reports whether id is the all-zero value.
func (id ID) IsZero() bool {
	return id == Zero
}

// Bytes returns a copy of id's bytes.
func (id ID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Generate returns a new ID drawn from a cryptographically secure RNG, used
// once at process start for the local NodeId.
func Generate() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return Zero, err
	}
	return id, nil
}

// FromBytes copies b into an ID. b must be exactly Size bytes.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return Zero, errors.New("nodeid: wrong length")
	}
	copy(id[:], b)
	return id, nil
}

// Parse decodes a hex-encoded ID.
func Parse(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Zero, err
	}
	return FromBytes(b)
}

// FromPubKey derives an overlay Address from a public key: RIPEMD-160 of the
// SHA-256 digest (spec.md "Address"), exactly what btcutil.Hash160 computes.
func FromPubKey(pubKey []byte) ID {
	var id ID
	copy(id[:], btcutil.Hash160(pubKey))
	return id
}

// Hash256Size is the length in bytes of a 256-bit order/hub identifier.
const Hash256Size = 32

// Hash256 is a 256-bit identifier: an order LocalId, or a hub-assigned
// TransactionId.
type Hash256 [Hash256Size]byte

// ZeroHash256 is the all-zero Hash256 value.
var ZeroHash256 Hash256

// IsZero reports whether h is the all-zero value.
func (h Hash256) IsZero() bool {
	return h == ZeroHash256
}

// Bytes returns a copy of h's bytes.
func (h Hash256) Bytes() []byte {
	out := make([]byte, Hash256Size)
	copy(out, h[:])
	return out
}

func (h Hash256) String() string {
	return hex.EncodeToString(h[:])
}

// GenerateHash256 returns a new Hash256 drawn from a cryptographically
// secure RNG, used for a freshly originated order's LocalId.
func GenerateHash256() (Hash256, error) {
	var h Hash256
	if _, err := rand.Read(h[:]); err != nil {
		return ZeroHash256, err
	}
	return h, nil
}

// Hash256FromBytes copies b into a Hash256. b must be exactly Hash256Size
// bytes.
func Hash256FromBytes(b []byte) (Hash256, error) {
	var h Hash256
	if len(b) != Hash256Size {
		return ZeroHash256, errors.New("nodeid: wrong length")
	}
	copy(h[:], b)
	return h, nil
}

// ParseHash256 decodes a hex-encoded Hash256.
func ParseHash256(s string) (Hash256, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroHash256, err
	}
	return Hash256FromBytes(b)
}

// ComputeHubID derives a hub-assigned transaction id from the two matched
// orders' LocalIds: hash(firstOrderId || secondOrderId).
func ComputeHubID(first, second Hash256) Hash256 {
	sum := chainhash.DoubleHashB(append(first.Bytes(), second.Bytes()...))
	var h Hash256
	copy(h[:], sum)
	return h
}

// OrderFingerprint computes the pending-pool matching hash for one side of
// an order: hash(fromCurrency || fromAmount || toCurrency || toAmount).
// Complementary orders match when one side's fingerprint equals the other's
// mirror fingerprint (see MirrorFingerprint).
func OrderFingerprint(fromCurrency string, fromAmount uint64, toCurrency string, toAmount uint64) Hash256 {
	return fingerprint(fromCurrency, fromAmount, toCurrency, toAmount)
}

// MirrorFingerprint computes the complementary-side fingerprint: the same
// inputs in swapped order, hash(toCurrency || toAmount || fromCurrency ||
// fromAmount). A new order's MirrorFingerprint is looked up against existing
// pending entries' own OrderFingerprint to find its counterpart (tryJoin).
func MirrorFingerprint(fromCurrency string, fromAmount uint64, toCurrency string, toAmount uint64) Hash256 {
	return fingerprint(toCurrency, toAmount, fromCurrency, fromAmount)
}

func fingerprint(currencyA string, amountA uint64, currencyB string, amountB uint64) Hash256 {
	buf := make([]byte, 0, len(currencyA)+len(currencyB)+16)
	buf = append(buf, currencyA...)
	buf = append(buf, uint64ToBytes(amountA)...)
	buf = append(buf, currencyB...)
	buf = append(buf, uint64ToBytes(amountB)...)
	sum := chainhash.DoubleHashB(buf)
	var h Hash256
	copy(h[:], sum)
	return h
}

func uint64ToBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}
