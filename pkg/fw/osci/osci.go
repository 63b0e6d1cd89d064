// Package osci implements the dual-channel acquisition engine.
//
// Each ADC free-runs into its own ring of NBlocks blocks, re-armed block by
// block from the DMA completion interrupt. An acquisition lets the rings
// run ahead for a fixed number of blocks so the final ring holds a window
// bracketing the trigger instant, then both rings are sent in one frame.
package osci

import (
	"encoding/binary"

	"github.com/golang/glog"

	"github.com/robotalks/lenlab.go/pkg/hal"
	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

// Ring layout.
const (
	NBlocks      = 8
	BlockSamples = 864
	BlockWords   = BlockSamples / 2 // two samples per word
	RingSamples  = NBlocks * BlockSamples
	RingWords    = NBlocks * BlockWords

	// ArenaWords is the sample memory of both channels.
	ArenaWords = 2 * RingWords

	blockMask = NBlocks - 1
)

// Window placement.
const (
	// TriggerPosition is the ring sample the trigger instant maps to.
	TriggerPosition = RingSamples / 2
	// MaxLength is the longest window a ring can hold.
	MaxLength = RingSamples
)

// Defaults when a run command carries no parameters.
const (
	DefaultInterval = 40   // 1 µs at 25 ns resolution
	DefaultLength   = 6000 // samples per channel
)

// NBlocks must be a power of two for the write index mask.
var _ [0]struct{} = [NBlocks & (NBlocks - 1)]struct{}{}

// A block holds whole words.
var _ [0]struct{} = [BlockSamples % 2]struct{}{}

// Window start must fit the 16 bit reply argument.
var _ [0]struct{} = [RingSamples >> 16]struct{}{}

// Window computes where a window of length samples starts in the final
// ring: offsetBlocks whole blocks plus intraOffset samples. The trigger
// sits at TriggerPosition with length/2 samples before it.
//
// length must be even and within [2, MaxLength]; nothing is validated.
func Window(length uint16) (offsetBlocks, intraOffset uint16) {
	start := TriggerPosition - length/2
	return start / BlockSamples, start % BlockSamples
}

// Channel is the capture state of one ADC.
type Channel struct {
	Index int

	done       bool
	blockCount uint16
	blockWrite uint16
}

// Done reports whether the channel finished the current capture.
func (c *Channel) Done() bool { return c.done }

// BlockWrite returns the ring slot DMA currently writes.
func (c *Channel) BlockWrite() uint16 { return c.blockWrite }

// BlockCount returns the blocks left before the channel is done.
func (c *Channel) BlockCount() uint16 { return c.blockCount }

// Osci is the acquisition engine.
type Osci struct {
	adc   [2]hal.ADC
	timer hal.Timer
	arena []uint32

	channel [2]Channel

	code     byte
	interval uint16
	start    uint16
	running  bool
	captured bool
}

// New creates the engine. arena must hold ArenaWords words; it may be
// shared with other engines that never run concurrently.
func New(adc [2]hal.ADC, timer hal.Timer, arena []uint32) *Osci {
	o := &Osci{adc: adc, timer: timer, arena: arena[:ArenaWords]}
	for i := range o.channel {
		o.channel[i].Index = i
	}
	return o
}

// Channel returns the capture state of channel i.
func (o *Osci) Channel(i int) *Channel {
	return &o.channel[i]
}

// Running reports whether an acquisition is in progress.
func (o *Osci) Running() bool {
	return o.running
}

func (o *Osci) ring(i int) []uint32 {
	return o.arena[i*RingWords : (i+1)*RingWords]
}

func (o *Osci) block(i int, slot uint16) []uint32 {
	ring := o.ring(i)
	return ring[int(slot)*BlockWords : int(slot+1)*BlockWords]
}

// Acquire arms both channels and starts the sample timer. The reply
// arrives from BlockDone with the given code once both rings are done.
// interval is the sample period in 25 ns steps.
func (o *Osci) Acquire(code byte, interval, length uint16) {
	if o.timer.Running() {
		o.timer.Stop()
	}
	offsetBlocks, intraOffset := Window(length)

	o.code, o.interval = code, interval
	o.start = offsetBlocks*BlockSamples + intraOffset
	o.running, o.captured = true, false

	for i := range o.channel {
		ch := &o.channel[i]
		ch.done = false
		ch.blockCount = NBlocks + offsetBlocks
		ch.blockWrite = (NBlocks - offsetBlocks) & blockMask
		o.adc[i].ConfigureOsci()
		o.adc[i].StartBlock(o.block(i, ch.blockWrite))
	}

	o.timer.SetLoadValue(uint32(interval) - 1)
	o.timer.Start()
	glog.V(2).Infof("osci: acquire interval=%d length=%d offset=%d+%d",
		interval, length, offsetBlocks, intraOffset)
}

// BlockDone handles the DMA completion of channel i. It returns the
// capture reply when this completion finishes the second channel.
func (o *Osci) BlockDone(i int) *packet.Packet {
	ch := &o.channel[i]
	if !o.running || ch.done {
		return nil
	}
	ch.blockCount--
	if ch.blockCount > 0 {
		ch.blockWrite = (ch.blockWrite + 1) & blockMask
		o.adc[i].StartBlock(o.block(i, ch.blockWrite))
		return nil
	}
	ch.done = true
	if !o.channel[1-i].done {
		return nil
	}
	o.timer.Stop()
	o.running, o.captured = false, true
	glog.V(2).Info("osci: capture complete")
	return o.reply(o.code, 0, 1)
}

// Halt stops a running acquisition without reply. A block in flight
// completes into a ring that is overwritten by the next run.
func (o *Osci) Halt() {
	o.timer.Stop()
	o.running, o.captured = false, false
}

// Fetch returns the last capture of channel i, or nil if there is none.
func (o *Osci) Fetch(code byte, i int) *packet.Packet {
	if !o.captured {
		return nil
	}
	return o.reply(code, i, i)
}

// reply encodes the rings of channels first..last. The argument carries
// the interval and the window start within a ring.
func (o *Osci) reply(code byte, first, last int) *packet.Packet {
	payload := make([]byte, 0, (last-first+1)*RingWords*4)
	var word [4]byte
	for i := first; i <= last; i++ {
		for _, w := range o.ring(i) {
			binary.LittleEndian.PutUint32(word[:], w)
			payload = append(payload, word[:]...)
		}
	}
	return packet.NewBulk(code, packet.ArgUint16s(o.interval, o.start), payload)
}
