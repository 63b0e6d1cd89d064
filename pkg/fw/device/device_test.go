package device

import (
	"context"
	"net"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/lenlab.go/pkg/framework"
	"github.com/robotalks/lenlab.go/pkg/fw/memory"
	"github.com/robotalks/lenlab.go/pkg/fw/osci"
	"github.com/robotalks/lenlab.go/pkg/fw/volt"
	"github.com/robotalks/lenlab.go/pkg/hal/sim"
	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

type testHost struct {
	t    *testing.T
	conn net.Conn
}

func (h *testHost) send(pkt *packet.Packet) {
	h.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := pkt.WriteTo(h.conn)
	require.NoError(h.t, err)
}

func (h *testHost) sendRaw(b []byte) {
	h.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := h.conn.Write(b)
	require.NoError(h.t, err)
}

func (h *testHost) recv() *packet.Packet {
	h.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	pkt, err := packet.ReadFrom(h.conn)
	require.NoError(h.t, err)
	return pkt
}

func startDevice(t *testing.T) (*testHost, *sim.Board, func()) {
	return startDeviceWith(t, nil)
}

// startDeviceWith runs a device on a simulated board; setup may adjust
// the loop before it starts.
func startDeviceWith(t *testing.T, setup func(*framework.Loop)) (*testHost, *sim.Board, func()) {
	host, fw := net.Pipe()
	loop := framework.NewLoop()
	board := sim.New(Sink(loop))
	board.Serial().Attach(fw)
	dev := New(loop, board.Hardware())
	if setup != nil {
		setup(loop)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runner := framework.NewRunnerWith(ctx).Go(board, dev)
	return &testHost{t: t, conn: host}, board, func() {
		cancel()
		host.Close()
		runner.Wait()
	}
}

func TestKnock(t *testing.T) {
	host, _, stop := startDevice(t)
	defer stop()

	host.send(packet.New('k', packet.TagOf("nock")))
	require.Equal(t, []byte("Lk\x00\x00nock"), host.recv().Bytes())

	host.send(packet.New('8', packet.TagOf("ver?")))
	reply := host.recv()
	require.Equal(t, byte('8'), reply.Code)
	require.Equal(t, packet.TagOf("2"), reply.Arg)
}

func TestDropMalformed(t *testing.T) {
	host, _, stop := startDevice(t)
	defer stop()

	// bad label and unknown command both stay unanswered
	host.sendRaw([]byte("Xk\x00\x00nock"))
	host.send(packet.New('k', packet.TagOf("nok?")))
	host.send(packet.New('k', packet.TagOf("nock")))
	require.True(t, host.recv().Is('k', packet.TagOf("nock")))
}

func TestOsciRun(t *testing.T) {
	host, _, stop := startDevice(t)
	defer stop()

	host.send(packet.NewBulk('o', packet.TagOf("run!"), []byte{40, 0, 0xd0, 0x07, 0, 0, 0, 0}))
	require.True(t, host.recv().Is('o', packet.TagOf("run!")))

	capture := host.recv()
	require.Equal(t, byte('o'), capture.Code)
	require.Len(t, capture.Payload, 2*osci.RingWords*4)
	interval, start := capture.Arg.Uint16s()
	require.Equal(t, uint16(40), interval)
	require.Equal(t, uint16(osci.TriggerPosition-1000), start)

	host.send(packet.New('o', packet.TagOf("ch2?")))
	ch2 := host.recv()
	require.Equal(t, capture.Payload[osci.RingWords*4:], ch2.Payload)
}

func TestVoltLogging(t *testing.T) {
	host, _, stop := startDevice(t)
	defer stop()

	host.send(packet.New('v', packet.TagOf("next")))
	require.True(t, host.recv().Is('v', volt.TagError))

	host.send(packet.NewBulk('v', volt.TagStart, []byte{5, 0, 0, 0}))
	require.True(t, host.recv().Is('v', volt.TagStart))

	var points []volt.Point
	for len(points) < 3 {
		time.Sleep(20 * time.Millisecond)
		host.send(packet.New('v', volt.TagNext))
		batch := host.recv()
		require.Equal(t, byte('v'), batch.Code)
		points = append(points, volt.ParsePoints(batch.Payload)...)
	}
	for n := 1; n < len(points); n++ {
		require.Equal(t, points[n-1].Time+5, points[n].Time)
	}

	host.send(packet.New('v', volt.TagStop))
	require.True(t, host.recv().Is('v', volt.TagStop))
}

func TestMemoryFrame(t *testing.T) {
	host, _, stop := startDevice(t)
	defer stop()

	host.send(packet.New('m', memory.TagGet))
	frame := host.recv()
	require.Equal(t, []byte("Lm\xf8\x6fg28K"), frame.Bytes()[:packet.HeaderSize])
	require.Equal(t, memory.New().Get().Payload, frame.Payload)
}

func TestSignal(t *testing.T) {
	host, board, stop := startDevice(t)
	defer stop()

	host.send(packet.NewBulk('s', packet.TagOf("sinu"), []byte{4, 0, 100, 0, 0, 0, 0, 0}))
	require.True(t, host.recv().Is('s', packet.TagOf("sinu")))
	host.send(packet.New('s', packet.TagOf("star")))
	require.True(t, host.recv().Is('s', packet.TagOf("star")))

	table, _, running := board.DAC().Output()
	require.True(t, running)
	require.Len(t, table, 4)
}

func TestSingleConsumer(t *testing.T) {
	var active, overlaps int32
	before := runtime.NumGoroutine()
	host, _, stop := startDeviceWith(t, func(loop *framework.Loop) {
		handler := loop.Handler
		loop.Handler = framework.HandleMessageFunc(func(ctx context.Context, msg framework.Message) {
			if atomic.AddInt32(&active, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			handler.HandleMessage(ctx, msg)
			atomic.AddInt32(&active, -1)
		})
	})
	defer stop()

	run := []byte{40, 0, 0x70, 0x17, 0, 0, 0, 0}
	for n := 0; n < 5; n++ {
		host.send(packet.NewBulk('o', packet.TagOf("run!"), run))
		require.True(t, host.recv().Is('o', packet.TagOf("run!")))
		require.Len(t, host.recv().Payload, 2*osci.RingWords*4)

		// logging takes the ADCs over, a new capture takes them back
		host.send(packet.NewBulk('v', volt.TagStart, []byte{1, 0, 0, 0}))
		require.True(t, host.recv().Is('v', volt.TagStart))
		host.send(packet.NewBulk('o', packet.TagOf("run!"), run))
		require.True(t, host.recv().Is('o', packet.TagOf("run!")))
		require.Len(t, host.recv().Payload, 2*osci.RingWords*4)

		host.send(packet.New('k', packet.TagOf("nock")))
		require.True(t, host.recv().Is('k', packet.TagOf("nock")))
	}

	require.Equal(t, int32(0), atomic.LoadInt32(&overlaps))
	// board, device loop, serial reader and peripheral timers only
	require.True(t, runtime.NumGoroutine() < before+16, "%d goroutines", runtime.NumGoroutine())
}
