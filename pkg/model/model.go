// Package model turns instrument replies into measurements.
package model

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/robotalks/lenlab.go/pkg/fw/memory"
	"github.com/robotalks/lenlab.go/pkg/fw/osci"
	"github.com/robotalks/lenlab.go/pkg/fw/volt"
	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

// ADC scale.
const (
	FullScale  = 1 << 12
	ReferenceV = 3.3
)

// IntervalUnit is the resolution of the capture sample interval.
const IntervalUnit = 25 * time.Nanosecond

// Volts converts an ADC code to volts.
func Volts(code uint16) float64 {
	return float64(code) / FullScale * ReferenceV
}

// Waveform is a decoded capture.
type Waveform struct {
	Interval uint16 // in IntervalUnit
	Offset   uint16 // window start within each channel
	Channels [2][]uint16
}

// ParseWaveform decodes a capture or a single channel fetch. A single
// channel fetch leaves the second channel empty.
func ParseWaveform(pkt *packet.Packet) (*Waveform, error) {
	if len(pkt.Payload)%2 != 0 {
		return nil, fmt.Errorf("waveform payload of odd length %d", len(pkt.Payload))
	}
	w := &Waveform{}
	w.Interval, w.Offset = pkt.Arg.Uint16s()
	samples := packet.Uint16s(pkt.Payload)
	if len(samples) == 2*osci.RingSamples {
		w.Channels[0], w.Channels[1] = samples[:osci.RingSamples], samples[osci.RingSamples:]
	} else {
		w.Channels[0] = samples
	}
	if int(w.Offset) > len(w.Channels[0]) {
		return nil, fmt.Errorf("window offset %d beyond %d samples", w.Offset, len(w.Channels[0]))
	}
	return w, nil
}

// TimeStep returns the time between samples.
func (w *Waveform) TimeStep() time.Duration {
	return time.Duration(w.Interval) * IntervalUnit
}

// Window returns length samples of channel ch starting at the window
// offset, clipped to the captured samples.
func (w *Waveform) Window(ch, length int) []uint16 {
	samples := w.Channels[ch]
	start := int(w.Offset)
	end := start + length
	if end > len(samples) {
		end = len(samples)
	}
	return samples[start:end]
}

// Time returns the time of window sample n relative to the trigger, for
// a window of length samples.
func (w *Waveform) Time(n, length int) time.Duration {
	return time.Duration(n-length/2) * w.TimeStep()
}

// WriteCSV writes a window of length samples as semicolon separated
// time (s) and channel voltages centered on mid scale.
func (w *Waveform) WriteCSV(out io.Writer, title string, length int) error {
	if _, err := fmt.Fprintf(out, "%s\ntime; ch1; ch2\n", title); err != nil {
		return err
	}
	ch1, ch2 := w.Window(0, length), w.Window(1, length)
	for n := range ch1 {
		v2 := 0.0
		if n < len(ch2) {
			v2 = Volts(ch2[n]) - ReferenceV/2
		}
		_, err := fmt.Fprintf(out, "%f; %f; %f\n",
			w.Time(n, length).Seconds(), Volts(ch1[n])-ReferenceV/2, v2)
		if err != nil {
			return err
		}
	}
	return nil
}

// Point is a logged measurement in volts.
type Point struct {
	Time time.Duration
	Ch1  float64
	Ch2  float64
}

// ParsePoints decodes a voltmeter batch. offset is added to every
// timestamp, so batches of consecutive runs can be joined.
func ParsePoints(pkt *packet.Packet, offset time.Duration) []Point {
	raw := volt.ParsePoints(pkt.Payload)
	points := make([]Point, len(raw))
	for n, p := range raw {
		points[n] = Point{
			Time: offset + time.Duration(p.Time)*time.Millisecond,
			Ch1:  Volts(p.Ch1),
			Ch2:  Volts(p.Ch2),
		}
	}
	return points
}

// WritePointsCSV writes logged points as semicolon separated time (s)
// and channel voltages.
func WritePointsCSV(out io.Writer, title string, points []Point) error {
	if _, err := fmt.Fprintf(out, "%s\ntime; ch1; ch2\n", title); err != nil {
		return err
	}
	for _, p := range points {
		if _, err := fmt.Fprintf(out, "%f; %f; %f\n", p.Time.Seconds(), p.Ch1, p.Ch2); err != nil {
			return err
		}
	}
	return nil
}

// CheckMemory verifies a link test frame against the reference pattern.
func CheckMemory(pkt *packet.Packet) error {
	if len(pkt.Payload) != memory.PayloadSize {
		return fmt.Errorf("memory frame of %d bytes, expect %d", len(pkt.Payload), memory.PayloadSize)
	}
	words := memory.PayloadSize / 4
	for n, want := range memory.Pattern(words) {
		if got := binary.LittleEndian.Uint32(pkt.Payload[n*4:]); got != want {
			return fmt.Errorf("memory word %d: %08x, expect %08x", n, got, want)
		}
	}
	return nil
}

// Samples decodes the generator waveform, signed offsets from mid scale.
func Samples(pkt *packet.Packet) []int16 {
	words := packet.Uint16s(pkt.Payload)
	samples := make([]int16, len(words))
	for n, w := range words {
		samples[n] = int16(w)
	}
	return samples
}
