// Package memory provides the link integrity test: a 28 KiB frame whose
// payload the host can regenerate and compare word by word.
package memory

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

// Code is the command and reply code of the memory test.
const Code = 'm'

// Tags.
var (
	TagInit = packet.TagOf("i28K")
	TagGet  = packet.TagOf("g28K")
)

// FrameSize is the size of the test frame including its header.
const FrameSize = 28 * 1024

// PayloadSize is the size of the test payload.
const PayloadSize = FrameSize - packet.HeaderSize

// Pattern returns n words of the running CRC-32 over zero words: the
// register starts at 0xFFFFFFFF, each word feeds four zero bytes and the
// register is taken without the final inversion.
func Pattern(n int) []uint32 {
	var zero [4]byte
	words := make([]uint32, n)
	state := uint32(0xffffffff)
	for i := range words {
		// crc32.Update inverts on entry and exit
		state = ^crc32.Update(^state, crc32.IEEETable, zero[:])
		words[i] = state
	}
	return words
}

// Memory holds the test frame.
type Memory struct {
	payload []byte
}

// New creates an uninitialized test memory.
func New() *Memory {
	return &Memory{}
}

// Init fills the pattern.
func (m *Memory) Init() *packet.Packet {
	if m.payload == nil {
		m.payload = make([]byte, PayloadSize)
		for i, w := range Pattern(PayloadSize / 4) {
			binary.LittleEndian.PutUint32(m.payload[i*4:], w)
		}
	}
	return packet.New(Code, TagInit)
}

// Get replies with the test frame, initializing the pattern if needed.
func (m *Memory) Get() *packet.Packet {
	if m.payload == nil {
		m.Init()
	}
	return packet.NewBulk(Code, TagGet, m.payload)
}
