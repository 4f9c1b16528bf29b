package packet

import (
	"encoding/binary"

	"github.com/xbridge-go/xbridged/internal/nodeid"
	"github.com/xbridge-go/xbridged/pkg/helpers"
)

// CurrencyFieldSize is the fixed width of an ASCII currency code field
// (spec.md §6: "Currency fields are 8 ASCII bytes, NUL-padded on the
// right").
const CurrencyFieldSize = 8

// Writer builds a packet body field by field, little-endian, matching the
// fixed layouts in spec.md §6.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty body Writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 128)}
}

// PutAddress appends a 20-byte address/node id.
func (w *Writer) PutAddress(id nodeid.ID) *Writer {
	w.buf = append(w.buf, id[:]...)
	return w
}

// PutHash256 appends a 32-byte hash (order id / hub id / tx hash).
func (w *Writer) PutHash256(h nodeid.Hash256) *Writer {
	w.buf = append(w.buf, h[:]...)
	return w
}

// PutCurrency appends an 8-byte NUL-padded currency code.
func (w *Writer) PutCurrency(code string) *Writer {
	w.buf = append(w.buf, helpers.PadRight([]byte(code), CurrencyFieldSize)...)
	return w
}

// PutUint64 appends a little-endian unsigned 64-bit amount.
func (w *Writer) PutUint64(v uint64) *Writer {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// PutUint32 appends a little-endian unsigned 32-bit field.
func (w *Writer) PutUint32(v uint32) *Writer {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
	return w
}

// PutCString appends s followed by a single NUL terminator.
func (w *Writer) PutCString(s string) *Writer {
	w.buf = append(w.buf, []byte(s)...)
	w.buf = append(w.buf, 0)
	return w
}

// PutBytes appends b verbatim, with no length prefix or terminator. Only
// valid as the last field of a body, matching spec.md §6's convention that
// a variable-length trailing field runs to the end of the packet.
func (w *Writer) PutBytes(b []byte) *Writer {
	w.buf = append(w.buf, b...)
	return w
}

// Bytes returns the accumulated body.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Reader consumes a packet body field by field. Each method returns
// xerr.WireFormat (via wireErr) if insufficient bytes remain.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps body for sequential field reads.
func NewReader(body []byte) *Reader {
	return &Reader{buf: body}
}

func (r *Reader) remaining() int {
	return len(r.buf) - r.pos
}

// Address reads a 20-byte address/node id.
func (r *Reader) Address() (nodeid.ID, error) {
	if r.remaining() < nodeid.Size {
		return nodeid.Zero, wireErr("truncated address field")
	}
	id, _ := nodeid.FromBytes(r.buf[r.pos : r.pos+nodeid.Size])
	r.pos += nodeid.Size
	return id, nil
}

// Hash256 reads a 32-byte hash.
func (r *Reader) Hash256() (nodeid.Hash256, error) {
	if r.remaining() < nodeid.Hash256Size {
		return nodeid.ZeroHash256, wireErr("truncated hash256 field")
	}
	h, _ := nodeid.Hash256FromBytes(r.buf[r.pos : r.pos+nodeid.Hash256Size])
	r.pos += nodeid.Hash256Size
	return h, nil
}

// Currency reads an 8-byte NUL-padded currency code, trimming the padding.
func (r *Reader) Currency() (string, error) {
	if r.remaining() < CurrencyFieldSize {
		return "", wireErr("truncated currency field")
	}
	field := r.buf[r.pos : r.pos+CurrencyFieldSize]
	r.pos += CurrencyFieldSize
	return string(helpers.TrimPadding(field)), nil
}

// Uint64 reads a little-endian unsigned 64-bit amount.
func (r *Reader) Uint64() (uint64, error) {
	if r.remaining() < 8 {
		return 0, wireErr("truncated uint64 field")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

// Uint32 reads a little-endian unsigned 32-bit field.
func (r *Reader) Uint32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, wireErr("truncated uint32 field")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

// CString reads a NUL-terminated string.
func (r *Reader) CString() (string, error) {
	idx := -1
	for i := r.pos; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", wireErr("unterminated C string field")
	}
	s := string(r.buf[r.pos:idx])
	r.pos = idx + 1
	return s, nil
}

// Rest returns every remaining unconsumed byte.
func (r *Reader) Rest() []byte {
	return r.buf[r.pos:]
}

// Done reports whether every byte has been consumed.
func (r *Reader) Done() bool {
	return r.remaining() == 0
}
