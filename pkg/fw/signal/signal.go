// Package signal is the signal generator: it synthesizes one period of a
// sine, optionally with a harmonic, and plays it through the DAC.
package signal

import (
	"encoding/binary"
	"math"

	"github.com/golang/glog"

	"github.com/robotalks/lenlab.go/pkg/hal"
	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

// Code is the command and reply code of the generator.
const Code = 's'

// Reply tags.
var (
	TagSinus = packet.TagOf("sinu")
	TagStart = packet.TagOf("star")
	TagStop  = packet.TagOf("stop")
	TagGet   = packet.TagOf("get?")
)

const (
	// MaxLength is the capacity of the waveform table.
	MaxLength = 2000
	// MidScale is the DAC code of zero output (12 bit DAC).
	MidScale = 2048
)

// Params describes a waveform. Amplitudes are in DAC codes.
type Params struct {
	Length            uint16
	Amplitude         uint16
	Multiplier        uint16
	HarmonicAmplitude uint16
}

// ParseParams decodes the four parameter words of a sinu command.
func ParseParams(payload []byte) Params {
	w := packet.Uint16s(payload)
	for len(w) < 4 {
		w = append(w, 0)
	}
	return Params{Length: w[0], Amplitude: w[1], Multiplier: w[2], HarmonicAmplitude: w[3]}
}

// Generator owns the waveform table.
type Generator struct {
	dac     hal.DAC
	samples [MaxLength]int16
	table   [MaxLength]uint16
	length  int
}

// New creates a generator on dac.
func New(dac hal.DAC) *Generator {
	return &Generator{dac: dac}
}

// CreateWaveform fills the table with one sine period of p.Length
// samples, plus a harmonic of p.Multiplier times the base frequency if
// p.HarmonicAmplitude is not zero.
func (g *Generator) CreateWaveform(p Params) *packet.Packet {
	n := int(p.Length)
	if n > MaxLength {
		n = MaxLength
	}
	g.length = n
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		v := float64(p.Amplitude) * math.Sin(angle)
		if p.HarmonicAmplitude > 0 {
			v += float64(p.HarmonicAmplitude) * math.Sin(angle*float64(p.Multiplier))
		}
		// keep within the 12 bit DAC range
		v = math.Max(-MidScale, math.Min(MidScale-1, math.Round(v)))
		g.samples[i] = int16(v)
		g.table[i] = uint16(int32(g.samples[i]) + MidScale)
	}
	glog.V(2).Infof("signal: waveform %+v", p)
	return packet.New(Code, TagSinus)
}

// Waveform returns the samples of the current waveform.
func (g *Generator) Waveform() []int16 {
	return g.samples[:g.length]
}

// Start plays the table at sampleRate.
func (g *Generator) Start(sampleRate uint16) *packet.Packet {
	g.dac.Start(g.table[:g.length], sampleRate)
	return packet.New(Code, TagStart)
}

// Stop stops the output.
func (g *Generator) Stop() *packet.Packet {
	g.dac.Stop()
	return packet.New(Code, TagStop)
}

// Get replies with the waveform as int16 LE samples.
func (g *Generator) Get() *packet.Packet {
	payload := make([]byte, g.length*2)
	for i, s := range g.Waveform() {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(s))
	}
	return packet.NewBulk(Code, TagGet, payload)
}
