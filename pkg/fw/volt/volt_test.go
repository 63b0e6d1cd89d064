package volt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/lenlab.go/pkg/hal"
	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

type testADC struct {
	result uint16
	volt   bool
}

func (a *testADC) ConfigureOsci()          { a.volt = false }
func (a *testADC) ConfigureVolt()          { a.volt = true }
func (a *testADC) StartBlock(dst []uint32) {}
func (a *testADC) Result() uint16          { return a.result }

type testTimer struct {
	load    uint32
	running bool
}

func (t *testTimer) SetLoadValue(v uint32) { t.load = v }
func (t *testTimer) Start()                { t.running = true }
func (t *testTimer) Stop()                 { t.running = false }
func (t *testTimer) Running() bool         { return t.running }

func newTestVolt() (*Volt, [2]*testADC, *testTimer) {
	adcs := [2]*testADC{{}, {}}
	timer := &testTimer{}
	v := New([2]hal.ADC{adcs[0], adcs[1]}, timer, make([]uint32, Words))
	return v, adcs, timer
}

// convert plays one timer period, returning any flushed batch.
func convert(t *testing.T, v *Volt, adcs [2]*testADC, ch1, ch2 uint16, first int) *packet.Packet {
	adcs[0].result, adcs[1].result = ch1, ch2
	require.Nil(t, v.ConversionDone(first))
	return v.ConversionDone(1 - first)
}

func TestStart(t *testing.T) {
	v, adcs, timer := newTestVolt()
	ack := v.Start(DefaultInterval)
	require.True(t, ack.Is(Code, TagStart))
	require.True(t, timer.running)
	require.Equal(t, uint32(DefaultInterval*50-1), timer.load)
	require.True(t, adcs[0].volt)
	require.True(t, adcs[1].volt)
	require.True(t, v.Running())
}

func TestNext(t *testing.T) {
	v, adcs, _ := newTestVolt()
	require.True(t, v.Next().Is(Code, TagError), "not running")

	v.Start(20)
	require.Nil(t, convert(t, v, adcs, 100, 200, 0))
	require.Nil(t, convert(t, v, adcs, 101, 201, 1))
	require.Nil(t, convert(t, v, adcs, 102, 202, 0))

	red := v.Next()
	require.Equal(t, byte(Code), red.Code)
	require.Equal(t, packet.TagOf(" red"), red.Arg)
	require.Equal(t, []Point{
		{Time: 0, Ch1: 100, Ch2: 200},
		{Time: 20, Ch1: 101, Ch2: 201},
		{Time: 40, Ch1: 102, Ch2: 202},
	}, ParsePoints(red.Payload))

	// nothing new, empty batch from the same half
	blu := v.Next()
	require.Equal(t, packet.TagOf(" blu"), blu.Arg)
	require.Empty(t, blu.Payload)
	blu = v.Next()
	require.Equal(t, packet.TagOf(" blu"), blu.Arg)

	require.Nil(t, convert(t, v, adcs, 103, 203, 0))
	blu = v.Next()
	require.Equal(t, packet.TagOf(" blu"), blu.Arg)
	require.Equal(t, []Point{{Time: 60, Ch1: 103, Ch2: 203}}, ParsePoints(blu.Payload))
	require.Equal(t, packet.TagOf(" red"), v.Next().Arg)
}

func TestAutoFlush(t *testing.T) {
	v, adcs, timer := newTestVolt()
	v.Start(1)
	for n := 0; n < BufferPoints-1; n++ {
		require.Nil(t, convert(t, v, adcs, uint16(n), uint16(n), n&1))
	}
	batch := convert(t, v, adcs, 1, 2, 0)
	require.NotNil(t, batch)
	require.Equal(t, packet.TagOf(" red"), batch.Arg)
	require.Len(t, batch.Payload, BufferPoints*PointSize)
	points := ParsePoints(batch.Payload)
	require.Equal(t, uint32(BufferPoints-1), points[BufferPoints-1].Time)
	require.True(t, timer.running, "logging continues")

	require.Nil(t, convert(t, v, adcs, 5, 6, 1))
	next := v.Next()
	require.Equal(t, packet.TagOf(" blu"), next.Arg)
	require.Equal(t, []Point{{Time: BufferPoints, Ch1: 5, Ch2: 6}}, ParsePoints(next.Payload))
}

func TestStop(t *testing.T) {
	v, adcs, timer := newTestVolt()
	v.Start(10)
	require.True(t, v.Stop().Is(Code, TagStop))
	require.False(t, timer.running)

	// a conversion already underway is dropped
	require.Nil(t, convert(t, v, adcs, 1, 1, 0))
	require.True(t, v.Next().Is(Code, TagError))

	// restart begins with red and time zero
	v.Start(10)
	require.Nil(t, convert(t, v, adcs, 7, 8, 0))
	red := v.Next()
	require.Equal(t, packet.TagOf(" red"), red.Arg)
	require.Equal(t, []Point{{Time: 0, Ch1: 7, Ch2: 8}}, ParsePoints(red.Payload))
}
