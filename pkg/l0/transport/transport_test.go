package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/lenlab.go/pkg/hal"
	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

// testDMA plays the serial DMA channels; inject moves bytes into the
// armed receive buffer the way the peripheral would.
type testDMA struct {
	rxBuf     []byte
	rxPos     int
	rxEnabled bool
	rxArms    int
	disables  int
	tx        [][]byte
}

func (d *testDMA) StartRX(buf []byte) {
	d.rxBuf, d.rxPos, d.rxEnabled = buf, 0, true
	d.rxArms++
}

func (d *testDMA) RXEnabled() bool  { return d.rxEnabled }
func (d *testDMA) RXRemaining() int { return len(d.rxBuf) - d.rxPos }
func (d *testDMA) DisableRX()       { d.rxEnabled = false; d.disables++ }
func (d *testDMA) StartTX(frame []byte) {
	d.tx = append(d.tx, frame)
}

// inject feeds bytes and delivers RX interrupts to tr; it returns the
// bytes that did not fit any armed transfer.
func (d *testDMA) inject(tr *Transport, p []byte) []byte {
	for len(p) > 0 && d.rxEnabled {
		n := copy(d.rxBuf[d.rxPos:], p)
		d.rxPos += n
		p = p[n:]
		if d.rxPos == len(d.rxBuf) {
			d.rxEnabled = false
			tr.HandleInterrupt(hal.CauseRXDone)
		}
	}
	return p
}

func newTestTransport() (*Transport, *testDMA) {
	dma := &testDMA{}
	tr := New(dma, 0)
	tr.Receive()
	return tr, dma
}

func TestReceiveCommand(t *testing.T) {
	tr, dma := newTestTransport()
	require.True(t, tr.RXBusy())

	pkt, err := tr.Poll()
	require.NoError(t, err)
	require.Nil(t, pkt)

	require.Empty(t, dma.inject(tr, []byte("Lk\x00\x00nock")))
	require.False(t, tr.RXBusy())
	pkt, err = tr.Poll()
	require.NoError(t, err)
	require.NotNil(t, pkt)
	require.True(t, pkt.Is('k', packet.TagOf("nock")))

	// consumed once, nothing more until re-armed
	pkt, err = tr.Poll()
	require.NoError(t, err)
	require.Nil(t, pkt)
	require.False(t, dma.rxEnabled)
	require.Equal(t, []byte("ver?"), dma.inject(tr, []byte("ver?")))

	tr.Receive()
	require.True(t, tr.RXBusy())
}

func TestReceiveBulk(t *testing.T) {
	tr, dma := newTestTransport()
	frame := packet.NewBulk('o', packet.TagOf("run!"), []byte{40, 0, 0x70, 0x17, 0, 0, 0, 0}).Bytes()

	dma.inject(tr, frame[:packet.HeaderSize])
	require.True(t, tr.RXBusy(), "payload phase keeps rx in flight")
	require.Equal(t, 8, dma.RXRemaining())
	dma.inject(tr, frame[packet.HeaderSize:])

	pkt, err := tr.Poll()
	require.NoError(t, err)
	require.True(t, pkt.Is('o', packet.TagOf("run!")))
	require.Equal(t, []byte{40, 0, 0x70, 0x17, 0, 0, 0, 0}, pkt.Payload)
}

func TestMalformedHeader(t *testing.T) {
	tr, dma := newTestTransport()
	dma.inject(tr, []byte("Xk\x00\x00nock"))
	pkt, err := tr.Poll()
	require.Nil(t, pkt)
	require.True(t, packet.IsFrameError(err))
	require.True(t, tr.RXBusy(), "re-armed after drop")
	require.Equal(t, 2, dma.rxArms)

	// oversized payload is dropped as well
	dma.inject(tr, []byte("Lk\xff\x00nock"))
	pkt, err = tr.Poll()
	require.Nil(t, pkt)
	require.True(t, packet.IsFrameError(err))
	require.True(t, tr.RXBusy())

	dma.inject(tr, []byte("Lk\x00\x00nock"))
	pkt, err = tr.Poll()
	require.NoError(t, err)
	require.True(t, pkt.Is('k', packet.TagOf("nock")))
}

func TestStallRecovery(t *testing.T) {
	tr, dma := newTestTransport()

	// idle line never resets
	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Tick())
	}
	require.Equal(t, 0, dma.disables)

	dma.inject(tr, []byte("Lk\x05\x00"))
	require.NoError(t, tr.Tick())
	err := tr.Tick()
	require.Error(t, err)
	stall, ok := err.(*StallError)
	require.True(t, ok)
	require.Equal(t, 4, stall.Received)
	require.Equal(t, packet.HeaderSize, stall.Expected)
	require.Equal(t, 1, dma.disables)
	require.True(t, dma.rxEnabled)
	require.Equal(t, packet.HeaderSize, dma.RXRemaining())

	dma.inject(tr, []byte("Lk\x00\x00nock"))
	pkt, err := tr.Poll()
	require.NoError(t, err)
	require.True(t, pkt.Is('k', packet.TagOf("nock")))
}

func TestNoStallWhileBytesArrive(t *testing.T) {
	tr, dma := newTestTransport()
	frame := []byte("Lk\x00\x00nock")
	for n, b := range frame[:len(frame)-1] {
		dma.inject(tr, []byte{b})
		require.NoError(t, tr.Tick(), "byte %d", n)
	}
	require.Equal(t, 0, dma.disables)
	dma.inject(tr, frame[len(frame)-1:])
	pkt, err := tr.Poll()
	require.NoError(t, err)
	require.NotNil(t, pkt)
}

func TestStalledPayload(t *testing.T) {
	tr, dma := newTestTransport()
	dma.inject(tr, []byte("Ls\x08\x00sinu\x01\x00"))
	require.NoError(t, tr.Tick())
	require.Error(t, tr.Tick())
	require.Equal(t, packet.HeaderSize, dma.RXRemaining())
}

func TestTransmitBacklog(t *testing.T) {
	tr, dma := newTestTransport()
	tr.Transmit(packet.New('o', packet.TagOf("run!")))
	require.True(t, tr.TXBusy())
	tr.Transmit(packet.NewBulk('o', packet.ArgUint16s(40, 0), []byte{1, 2}))
	tr.Transmit(packet.New('v', packet.TagOf("stop")))
	require.Len(t, dma.tx, 1)

	tr.HandleInterrupt(hal.CauseTXDone)
	require.Len(t, dma.tx, 2)
	require.Equal(t, []byte("Lo\x02\x00\x28\x00\x00\x00\x01\x02"), dma.tx[1])
	tr.HandleInterrupt(hal.CauseTXDone)
	require.Len(t, dma.tx, 3)
	require.Equal(t, []byte("Lv\x00\x00stop"), dma.tx[2])
	tr.HandleInterrupt(hal.CauseTXDone)
	require.False(t, tr.TXBusy())
	require.Len(t, dma.tx, 3)
}
