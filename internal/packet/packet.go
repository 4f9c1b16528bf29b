// Package packet implements the fixed 16-byte wire header (spec.md §6):
// u32 version | u32 command | u32 bodySize | u32 checksum, little-endian,
// followed by body[bodySize].
package packet

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/xbridge-go/xbridged/internal/command"
	"github.com/xbridge-go/xbridged/internal/xerr"
)

// HeaderSize is the fixed size in bytes of the wire header.
const HeaderSize = 16

// ProtocolVersion is the version field stamped on every outgoing packet.
const ProtocolVersion uint32 = 1

// Packet is a fully decoded wire message: header plus body.
type Packet struct {
	Version  uint32
	Command  command.Command
	Checksum uint32
	Body     []byte
}

// New builds an outgoing packet for cmd, computing its checksum from body.
// The checksum is a CRC32 of the body only — a corruption check, not a
// cryptographic integrity mechanism (spec.md §6 and §9 open question: the
// decrypt hook is identity by default, so this is the only framing guard).
func New(cmd command.Command, body []byte) *Packet {
	return &Packet{
		Version:  ProtocolVersion,
		Command:  cmd,
		Checksum: crc32.ChecksumIEEE(body),
		Body:     body,
	}
}

// Marshal encodes p into its wire representation.
func (p *Packet) Marshal() []byte {
	out := make([]byte, HeaderSize+len(p.Body))
	binary.LittleEndian.PutUint32(out[0:4], p.Version)
	binary.LittleEndian.PutUint32(out[4:8], uint32(p.Command))
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(p.Body)))
	binary.LittleEndian.PutUint32(out[12:16], p.Checksum)
	copy(out[HeaderSize:], p.Body)
	return out
}

// Parse decodes a wire packet from raw. It returns xerr.WireFormat wrapped
// with context if raw is short, the declared bodySize does not match the
// remaining bytes, or a non-zero checksum does not match the body (a zero
// checksum field is accepted unchecked).
func Parse(raw []byte) (*Packet, error) {
	if len(raw) < HeaderSize {
		return nil, wireErr("packet shorter than header")
	}

	version := binary.LittleEndian.Uint32(raw[0:4])
	cmd := binary.LittleEndian.Uint32(raw[4:8])
	bodySize := binary.LittleEndian.Uint32(raw[8:12])
	checksum := binary.LittleEndian.Uint32(raw[12:16])

	if version != ProtocolVersion {
		return nil, wireErr("unsupported protocol version")
	}

	body := raw[HeaderSize:]
	if uint32(len(body)) != bodySize {
		return nil, wireErr("declared body size does not match payload")
	}

	if checksum != 0 && checksum != crc32.ChecksumIEEE(body) {
		return nil, wireErr("checksum mismatch")
	}

	return &Packet{
		Version:  version,
		Command:  command.Command(cmd),
		Checksum: checksum,
		Body:     body,
	}, nil
}

func wireErr(msg string) error {
	return &wireFormatError{msg: msg}
}

type wireFormatError struct{ msg string }

func (e *wireFormatError) Error() string { return "packet: " + e.msg }
func (e *wireFormatError) Unwrap() error { return xerr.WireFormat }
