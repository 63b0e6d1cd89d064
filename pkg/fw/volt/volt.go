// Package volt implements the logging engine (voltmeter).
//
// Both ADCs convert once per timer period. The pair of results is stored
// with a millisecond timestamp into one of two buffer halves; the host
// drains the filling half with next commands while the other half keeps
// the previous batch.
package volt

import (
	"encoding/binary"

	"github.com/golang/glog"

	"github.com/robotalks/lenlab.go/pkg/hal"
	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

// Buffer layout. A point is a time word followed by a word carrying
// ch1 in the low and ch2 in the high half.
const (
	BufferPoints = 1024
	PointWords   = 2
	PointSize    = PointWords * 4
	HalfWords    = BufferPoints * PointWords

	// Words is the arena size both halves need.
	Words = 2 * HalfWords
)

// DefaultInterval is the logging period in milliseconds.
const DefaultInterval = 100

// Reply tags.
var (
	TagStart = packet.TagOf("strt")
	TagNext  = packet.TagOf("next")
	TagStop  = packet.TagOf("stop")
	TagError = packet.TagOf("err!")

	// halfTags name the half a batch was drained from.
	halfTags = [2]packet.Tag{packet.TagOf(" red"), packet.TagOf(" blu")}
)

// Code is the command and reply code of the engine.
const Code = 'v'

// Volt is the logging engine.
type Volt struct {
	adc   [2]hal.ADC
	timer hal.Timer

	halves [2][]uint32
	fill   int
	points int

	ready    [2]bool
	interval uint32
	time     uint32
}

// New creates the engine on arena, which must hold Words words.
func New(adc [2]hal.ADC, timer hal.Timer, arena []uint32) *Volt {
	return &Volt{
		adc:    adc,
		timer:  timer,
		halves: [2][]uint32{arena[:HalfWords], arena[HalfWords:Words]},
	}
}

// Running reports whether the logging timer runs.
func (v *Volt) Running() bool {
	return v.timer.Running()
}

// Start (re)starts logging with a period of interval milliseconds.
func (v *Volt) Start(interval uint32) *packet.Packet {
	v.Halt()
	v.fill, v.points = 0, 0
	v.interval, v.time = interval, 0
	for i, adc := range v.adc {
		v.ready[i] = false
		adc.ConfigureVolt()
	}
	v.timer.SetLoadValue(interval*(hal.VoltClockHz/1000) - 1)
	v.timer.Start()
	glog.V(2).Infof("volt: start interval=%dms", interval)
	return packet.New(Code, TagStart)
}

// ConversionDone handles a conversion result of channel i. Once both
// channels converted, a point is logged. A full half is returned as a
// batch reply and logging continues in the other half.
func (v *Volt) ConversionDone(i int) *packet.Packet {
	v.ready[i] = true
	if !v.ready[1-i] {
		return nil
	}
	v.ready = [2]bool{}
	// the next conversion may already be underway after a stop
	if !v.timer.Running() {
		return nil
	}

	half := v.halves[v.fill]
	n := v.points * PointWords
	half[n] = v.time
	half[n+1] = uint32(v.adc[1].Result())<<16 | uint32(v.adc[0].Result())
	v.time += v.interval
	v.points++

	if v.points < BufferPoints {
		return nil
	}
	glog.V(3).Infof("volt: half %d full, flushing", v.fill)
	return v.drain()
}

// Next drains the filling half. The batch may be empty.
func (v *Volt) Next() *packet.Packet {
	if !v.timer.Running() {
		return packet.New(Code, TagError)
	}
	return v.drain()
}

func (v *Volt) drain() *packet.Packet {
	half := v.halves[v.fill][:v.points*PointWords]
	payload := make([]byte, len(half)*4)
	for n, w := range half {
		binary.LittleEndian.PutUint32(payload[n*4:], w)
	}
	pkt := packet.NewBulk(Code, halfTags[v.fill], payload)
	if v.points > 0 {
		v.fill = 1 - v.fill
		v.points = 0
	}
	return pkt
}

// Stop stops logging.
func (v *Volt) Stop() *packet.Packet {
	v.Halt()
	return packet.New(Code, TagStop)
}

// Halt stops the timer without reply.
func (v *Volt) Halt() {
	if v.timer.Running() {
		v.timer.Stop()
	}
}

// Point is one logged measurement.
type Point struct {
	Time uint32 // ms since start
	Ch1  uint16
	Ch2  uint16
}

// ParsePoints decodes a batch payload.
func ParsePoints(payload []byte) []Point {
	points := make([]Point, len(payload)/PointSize)
	for n := range points {
		b := payload[n*PointSize:]
		points[n] = Point{
			Time: binary.LittleEndian.Uint32(b),
			Ch1:  binary.LittleEndian.Uint16(b[4:]),
			Ch2:  binary.LittleEndian.Uint16(b[6:]),
		}
	}
	return points
}
