// Package sim is a simulated board. It lets the firmware core run on a
// PC as a virtual instrument: the serial port is any byte stream, the
// ADCs sample a signal function and the timers are goroutines.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/robotalks/lenlab.go/pkg/fw/osci"
	"github.com/robotalks/lenlab.go/pkg/hal"
)

// Resolution of the simulated ADCs.
const (
	ADCBits     = 12
	ADCMax      = 1<<ADCBits - 1
	ReferenceV  = 3.3
	MinPeriod   = time.Millisecond
	blockLength = osci.BlockSamples
)

// Source returns the voltage of channel ch at time t.
type Source func(ch int, t time.Duration) float64

// DefaultSource is a 1 kHz sine on ch1 and a cosine on ch2.
var DefaultSource = SineSource(1000)

// SineSource is a sine of freq Hz on ch1 and a cosine on ch2 around mid
// scale.
func SineSource(freq float64) Source {
	return func(ch int, t time.Duration) float64 {
		phase := 2 * math.Pi * freq * t.Seconds()
		if ch == 1 {
			phase += math.Pi / 2
		}
		return ReferenceV/2 + ReferenceV/3*math.Sin(phase)
	}
}

// Code converts a voltage to an ADC code, clipped to the ADC range.
func Code(v float64) uint16 {
	c := math.Round(v / ReferenceV * ADCMax)
	if c < 0 {
		return 0
	}
	if c > ADCMax {
		return ADCMax
	}
	return uint16(c)
}

// Board is a simulated board.
type Board struct {
	Source Source

	irq    hal.IRQSink
	epoch  time.Time
	serial *Serial
	adc    [2]*ADC
	osci   *Timer
	volt   *Timer
	dac    *DAC

	lock  sync.Mutex
	first int // ADC that completes first in the next period
}

// New creates a board raising interrupts into irq.
func New(irq hal.IRQSink) *Board {
	b := &Board{Source: DefaultSource, irq: irq, epoch: time.Now()}
	b.serial = newSerial(irq)
	for i := range b.adc {
		b.adc[i] = &ADC{board: b, index: i}
	}
	b.osci = &Timer{clockHz: hal.OsciClockHz, samples: blockLength, fire: b.osciPeriod}
	b.volt = &Timer{clockHz: hal.VoltClockHz, samples: 1, fire: b.voltPeriod}
	b.dac = &DAC{}
	return b
}

// Hardware returns the peripherals for the firmware core.
func (b *Board) Hardware() *hal.Hardware {
	return &hal.Hardware{
		Serial:    b.serial,
		ADC:       [2]hal.ADC{b.adc[0], b.adc[1]},
		OsciTimer: b.osci,
		VoltTimer: b.volt,
		DAC:       b.dac,
	}
}

// Serial returns the serial port.
func (b *Board) Serial() *Serial { return b.serial }

// ADC returns ADC i.
func (b *Board) ADC(i int) *ADC { return b.adc[i] }

// DAC returns the DAC.
func (b *Board) DAC() *DAC { return b.dac }

// Name implements framework.Named.
func (b *Board) Name() string { return "board" }

// Run runs the serial port until ctx is done.
func (b *Board) Run(ctx context.Context) error {
	defer b.osci.Stop()
	defer b.volt.Stop()
	return b.serial.Run(ctx)
}

func (b *Board) now() time.Duration {
	return time.Since(b.epoch)
}

// order alternates which ADC completes first, as the two converters
// race on real hardware.
func (b *Board) order() [2]int {
	b.lock.Lock()
	defer b.lock.Unlock()
	first := b.first
	b.first = 1 - first
	return [2]int{first, 1 - first}
}

func (b *Board) osciPeriod(load uint32) {
	step := time.Duration(load+1) * time.Second / hal.OsciClockHz
	for _, i := range b.order() {
		if b.adc[i].fillBlock(step) {
			b.irq.Raise(hal.Interrupt{Source: hal.ADCSource(i), Cause: hal.CauseDMADone})
		}
	}
}

func (b *Board) voltPeriod(load uint32) {
	t := b.now()
	for _, i := range b.order() {
		if b.adc[i].convert(t) {
			b.irq.Raise(hal.Interrupt{Source: hal.ADCSource(i), Cause: hal.CauseResultLoaded})
		}
	}
}

// ADC is a simulated converter.
type ADC struct {
	board *Board
	index int

	lock   sync.Mutex
	osci   bool
	volt   bool
	dst    []uint32
	next   time.Duration
	result uint16
}

// ConfigureOsci implements hal.ADC.
func (a *ADC) ConfigureOsci() {
	a.lock.Lock()
	a.osci, a.volt, a.dst = true, false, nil
	a.next = a.board.now()
	a.lock.Unlock()
}

// ConfigureVolt implements hal.ADC.
func (a *ADC) ConfigureVolt() {
	a.lock.Lock()
	a.osci, a.volt, a.dst = false, true, nil
	a.lock.Unlock()
}

// StartBlock implements hal.ADC.
func (a *ADC) StartBlock(dst []uint32) {
	a.lock.Lock()
	a.dst = dst
	a.lock.Unlock()
}

// Result implements hal.ADC.
func (a *ADC) Result() uint16 {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.result
}

// fillBlock converts one block into the armed DMA buffer. Samples are
// lost when no block is armed, as on the real converter.
func (a *ADC) fillBlock(step time.Duration) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	if !a.osci {
		return false
	}
	dst := a.dst
	if dst == nil {
		a.next += step * blockLength
		return false
	}
	a.dst = nil
	source := a.board.Source
	for n := range dst {
		lo := Code(source(a.index, a.next))
		hi := Code(source(a.index, a.next+step))
		dst[n] = uint32(hi)<<16 | uint32(lo)
		a.next += 2 * step
	}
	return true
}

func (a *ADC) convert(t time.Duration) bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	if !a.volt {
		return false
	}
	a.result = Code(a.board.Source(a.index, t))
	return true
}

// Timer is a simulated sample timer. The goroutine fires once per
// period of samples conversions, but never faster than MinPeriod.
type Timer struct {
	clockHz uint32
	samples int
	fire    func(load uint32)

	lock    sync.Mutex
	load    uint32
	running bool
	stopCh  chan struct{}
}

// SetLoadValue implements hal.Timer.
func (t *Timer) SetLoadValue(v uint32) {
	t.lock.Lock()
	t.load = v
	t.lock.Unlock()
}

// Period returns the wall clock period the goroutine fires with.
func (t *Timer) Period() time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.periodLocked()
}

func (t *Timer) periodLocked() time.Duration {
	p := time.Duration(uint64(t.load)+1) * time.Duration(t.samples) * time.Second / time.Duration(t.clockHz)
	if p < MinPeriod {
		p = MinPeriod
	}
	return p
}

// Start implements hal.Timer.
func (t *Timer) Start() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	go t.run(t.periodLocked(), t.load, t.stopCh)
}

func (t *Timer) run(period time.Duration, load uint32, stopCh chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			t.fire(load)
		}
	}
}

// Stop implements hal.Timer.
func (t *Timer) Stop() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.running {
		t.running = false
		close(t.stopCh)
	}
}

// Running implements hal.Timer.
func (t *Timer) Running() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.running
}

// DAC is a simulated DAC recording its output table.
type DAC struct {
	lock       sync.Mutex
	table      []uint16
	sampleRate uint16
	running    bool
}

// Start implements hal.DAC.
func (d *DAC) Start(table []uint16, sampleRate uint16) {
	d.lock.Lock()
	d.table = append(d.table[:0], table...)
	d.sampleRate, d.running = sampleRate, true
	d.lock.Unlock()
}

// Stop implements hal.DAC.
func (d *DAC) Stop() {
	d.lock.Lock()
	d.running = false
	d.lock.Unlock()
}

// Output returns the table being played and its sample rate.
func (d *DAC) Output() (table []uint16, sampleRate uint16, running bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]uint16(nil), d.table...), d.sampleRate, d.running
}
