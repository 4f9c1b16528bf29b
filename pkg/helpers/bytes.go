// Package helpers provides small byte-level utilities shared across the daemon.
package helpers

import "crypto/rand"

// BytesEqual reports whether two byte slices hold identical contents.
func BytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// IsZeroBytes reports whether every byte in b is zero.
func IsZeroBytes(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// GenerateSecureRandom returns n cryptographically secure random bytes.
func GenerateSecureRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// PadRight right-pads b with zero bytes to reach length, truncating if b is
// already longer. Used for the 8-byte ASCII currency fields in the wire
// format (spec §6): "BTC" -> "BTC\x00\x00\x00\x00\x00".
func PadRight(b []byte, length int) []byte {
	out := make([]byte, length)
	n := copy(out, b)
	_ = n
	return out
}

// TrimPadding returns b with trailing zero bytes removed.
func TrimPadding(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return b[:i]
}
