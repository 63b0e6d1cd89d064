// Package transport frames packets over the serial DMA channels.
package transport

import (
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/lenlab.go/pkg/hal"
	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

// StallTick is the period the device loop calls Tick with.
const StallTick = 175 * time.Millisecond

// DefaultMaxPayload bounds inbound payloads. Commands carry at most a
// few parameter words.
const DefaultMaxPayload = 64

// StallError reports a receive transfer that stopped mid-frame.
type StallError struct {
	Received int
	Expected int
}

// Error implements error.
func (e *StallError) Error() string {
	return fmt.Sprintf("rx stalled after %d of %d bytes", e.Received, e.Expected)
}

type rxState int

const (
	rxIdle     rxState = iota // not armed, frame consumed
	rxHeader                  // waiting for the 8 byte header
	rxPayload                 // waiting for the declared payload
	rxComplete                // frame ready for the main loop
)

// Transport runs the receive and transmit state machines.
// All methods must be called from the device loop.
type Transport struct {
	dma hal.SerialDMA

	header  [packet.HeaderSize]byte
	payload []byte
	rxState rxState
	rxSize  int

	rxFlag    bool // receive in flight
	txFlag    bool // transmit in flight
	rxStalled bool
	rxLast    int

	backlog [][]byte
}

// New creates a Transport on the serial DMA channels.
func New(dma hal.SerialDMA, maxPayload int) *Transport {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Transport{dma: dma, payload: make([]byte, maxPayload)}
}

// Receive arms reception of the next command header.
func (t *Transport) Receive() {
	t.rxState = rxHeader
	t.arm(t.header[:])
}

func (t *Transport) arm(buf []byte) {
	t.rxFlag = true
	t.rxStalled = false
	t.rxSize, t.rxLast = len(buf), len(buf)
	t.dma.StartRX(buf)
}

// RXBusy reports whether a receive is in flight.
func (t *Transport) RXBusy() bool {
	return t.rxFlag
}

// TXBusy reports whether a transmit is in flight.
func (t *Transport) TXBusy() bool {
	return t.txFlag
}

// HandleInterrupt handles serial DMA completion.
func (t *Transport) HandleInterrupt(cause hal.Cause) {
	switch cause {
	case hal.CauseRXDone:
		t.rxDone()
	case hal.CauseTXDone:
		t.txDone()
	}
}

func (t *Transport) rxDone() {
	if t.rxState == rxHeader {
		h := packet.ParseHeader(t.header[:])
		if h.Valid() && h.Length > 0 && int(h.Length) <= len(t.payload) {
			t.rxState = rxPayload
			t.arm(t.payload[:h.Length])
			return
		}
	}
	t.rxState = rxComplete
	t.rxFlag = false
}

// Poll returns the received frame once it is complete. The caller must
// re-arm with Receive after handling it. A malformed frame is reported
// as *packet.FrameError and reception is re-armed here.
func (t *Transport) Poll() (*packet.Packet, error) {
	if t.rxFlag || t.rxState != rxComplete {
		return nil, nil
	}
	t.rxState = rxIdle
	h := packet.ParseHeader(t.header[:])
	var payload []byte
	if h.Valid() {
		if int(h.Length) > len(t.payload) {
			t.Receive()
			return nil, &packet.FrameError{Label: h.Label, Reason: "payload too large"}
		}
		payload = t.payload[:h.Length]
	}
	pkt, err := packet.Decode(t.header[:], payload)
	if err != nil {
		t.Receive()
		return nil, err
	}
	return pkt, nil
}

// Transmit hands a frame to the transmit channel. The frame is encoded
// immediately, so the caller may reuse its buffers. Frames handed over
// while a transfer is in flight start in order on completion.
func (t *Transport) Transmit(pkt *packet.Packet) {
	frame := pkt.Bytes()
	if t.txFlag {
		t.backlog = append(t.backlog, frame)
		glog.V(3).Infof("tx busy, %d frame(s) waiting", len(t.backlog))
		return
	}
	t.startTX(frame)
}

func (t *Transport) startTX(frame []byte) {
	t.txFlag = true
	t.dma.StartTX(frame)
}

func (t *Transport) txDone() {
	t.txFlag = false
	if len(t.backlog) > 0 {
		frame := t.backlog[0]
		t.backlog[0] = nil
		t.backlog = t.backlog[1:]
		t.startTX(frame)
	}
}

// Tick detects a stalled receive transfer. A transfer is stalled when it
// holds part of a frame and no byte arrived during two consecutive
// ticks; the channel is then reset and reception re-armed.
func (t *Transport) Tick() error {
	if !t.rxFlag || !t.dma.RXEnabled() {
		return nil
	}
	remaining := t.dma.RXRemaining()
	if remaining == t.rxSize && t.rxState == rxHeader {
		// idle, waiting for a command
		return nil
	}
	if t.rxStalled && remaining == t.rxLast {
		err := &StallError{Received: t.rxSize - remaining, Expected: t.rxSize}
		t.dma.DisableRX()
		t.rxFlag = false
		t.Receive()
		return err
	}
	t.rxStalled, t.rxLast = true, remaining
	return nil
}
