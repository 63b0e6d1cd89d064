package packet

import (
	"encoding/binary"
	"io"
)

// Label marks the start of every frame.
const Label byte = 'L'

// HeaderSize is the size of the fixed frame header.
const HeaderSize = 8

// MaxPayload is the largest payload a header can declare.
const MaxPayload = 0xffff

// Tag is a literal 4-character argument, e.g. "nock".
type Tag [4]byte

// TagOf converts a 4-character string into a Tag.
// Shorter strings are padded with zeros, longer ones are truncated.
func TagOf(s string) (t Tag) {
	copy(t[:], s)
	return
}

// String implements fmt.Stringer.
func (t Tag) String() string {
	return string(t[:])
}

// Uint32 interprets the tag as a little-endian integer.
func (t Tag) Uint32() uint32 {
	return binary.LittleEndian.Uint32(t[:])
}

// Uint16s splits the tag into two little-endian halves.
func (t Tag) Uint16s() (lo, hi uint16) {
	return binary.LittleEndian.Uint16(t[0:2]), binary.LittleEndian.Uint16(t[2:4])
}

// ArgUint32 builds an argument from an integer.
func ArgUint32(v uint32) (t Tag) {
	binary.LittleEndian.PutUint32(t[:], v)
	return
}

// ArgUint16s builds an argument from two integers.
func ArgUint16s(lo, hi uint16) (t Tag) {
	binary.LittleEndian.PutUint16(t[0:2], lo)
	binary.LittleEndian.PutUint16(t[2:4], hi)
	return
}

// Packet contains the information of a parsed frame.
type Packet struct {
	Label   byte
	Code    byte
	Arg     Tag
	Payload []byte
}

// New creates a control frame with no payload.
func New(code byte, arg Tag) *Packet {
	return &Packet{Label: Label, Code: code, Arg: arg}
}

// NewBulk creates a frame carrying payload.
func NewBulk(code byte, arg Tag, payload []byte) *Packet {
	return &Packet{Label: Label, Code: code, Arg: arg, Payload: payload}
}

// Length returns the payload length declared in the header.
func (p *Packet) Length() uint16 {
	return uint16(len(p.Payload))
}

// Is checks code and tag together.
func (p *Packet) Is(code byte, tag Tag) bool {
	return p.Code == code && p.Arg == tag
}

// PutHeader encodes the header into b, which must hold HeaderSize bytes.
func (p *Packet) PutHeader(b []byte) {
	b[0], b[1] = p.Label, p.Code
	binary.LittleEndian.PutUint16(b[2:4], p.Length())
	copy(b[4:8], p.Arg[:])
}

// Bytes returns encoded bytes for sending.
func (p *Packet) Bytes() []byte {
	b := make([]byte, HeaderSize+len(p.Payload))
	p.PutHeader(b)
	copy(b[HeaderSize:], p.Payload)
	return b
}

// WriteTo writes encoded bytes.
func (p *Packet) WriteTo(w io.Writer) (n int64, err error) {
	var head [HeaderSize]byte
	p.PutHeader(head[:])
	n1, err := w.Write(head[:])
	n = int64(n1)
	if err != nil || len(p.Payload) == 0 {
		return
	}
	n1, err = w.Write(p.Payload)
	n += int64(n1)
	return
}

// Header is a decoded frame header.
type Header struct {
	Label  byte
	Code   byte
	Length uint16
	Arg    Tag
}

// ParseHeader decodes a header without validating it.
func ParseHeader(b []byte) (h Header) {
	h.Label, h.Code = b[0], b[1]
	h.Length = binary.LittleEndian.Uint16(b[2:4])
	copy(h.Arg[:], b[4:8])
	return
}

// Valid reports whether the header starts with the label.
func (h Header) Valid() bool {
	return h.Label == Label
}

// Decode builds a Packet from a header and the payload that followed it.
func Decode(header, payload []byte) (*Packet, error) {
	if len(header) < HeaderSize {
		return nil, &FrameError{Reason: "short header"}
	}
	h := ParseHeader(header)
	if !h.Valid() {
		return nil, &FrameError{Label: h.Label, Reason: "bad label"}
	}
	if int(h.Length) != len(payload) {
		return nil, &FrameError{Label: h.Label, Reason: "length mismatch"}
	}
	pkt := &Packet{Label: h.Label, Code: h.Code, Arg: h.Arg}
	if h.Length > 0 {
		pkt.Payload = append([]byte(nil), payload...)
	}
	return pkt, nil
}

// ReadFrom reads one frame from r.
func ReadFrom(r io.Reader) (*Packet, error) {
	var head [HeaderSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	h := ParseHeader(head[:])
	if !h.Valid() {
		return nil, &FrameError{Label: h.Label, Reason: "bad label"}
	}
	pkt := &Packet{Label: h.Label, Code: h.Code, Arg: h.Arg}
	if h.Length > 0 {
		pkt.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, pkt.Payload); err != nil {
			return nil, err
		}
	}
	return pkt, nil
}

// Uint16s decodes a payload of little-endian 16-bit words.
func Uint16s(payload []byte) []uint16 {
	words := make([]uint16, len(payload)/2)
	for n := range words {
		words[n] = binary.LittleEndian.Uint16(payload[n*2:])
	}
	return words
}
