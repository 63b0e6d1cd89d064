// Package hal defines the peripherals the firmware core drives.
//
// Implementations raise interrupts through an IRQSink instead of calling
// back into the core. The device loop drains them one at a time, which is
// the equal-priority, non-preempting interrupt model the core relies on.
package hal

import "fmt"

// Source identifies an interrupt line.
type Source uint8

// Interrupt sources.
const (
	SourceSerial Source = iota
	SourceADC0
	SourceADC1
)

// String implements fmt.Stringer.
func (s Source) String() string {
	switch s {
	case SourceSerial:
		return "serial"
	case SourceADC0:
		return "adc0"
	case SourceADC1:
		return "adc1"
	default:
		return fmt.Sprintf("source(%d)", uint8(s))
	}
}

// ADCSource returns the interrupt source of ADC channel i.
func ADCSource(i int) Source {
	return SourceADC0 + Source(i)
}

// Cause is the pending interrupt index of a source.
type Cause uint8

// Interrupt causes.
const (
	CauseRXDone       Cause = iota // serial receive DMA finished
	CauseTXDone                    // serial transmit DMA finished
	CauseDMADone                   // ADC block DMA finished
	CauseResultLoaded              // ADC single conversion result ready
)

// Interrupt is a hardware event posted into the device loop.
type Interrupt struct {
	Source Source
	Cause  Cause
}

// String implements fmt.Stringer.
func (i Interrupt) String() string {
	return fmt.Sprintf("%s/%d", i.Source, i.Cause)
}

// IRQSink accepts interrupts from peripherals.
// Raise must not block on the consumer.
type IRQSink interface {
	Raise(Interrupt)
}

// RaiseFunc is the func form of IRQSink.
type RaiseFunc func(Interrupt)

// Raise implements IRQSink.
func (f RaiseFunc) Raise(irq Interrupt) { f(irq) }

// SerialDMA is the pair of DMA channels attached to the serial link.
type SerialDMA interface {
	// StartRX arms the receive channel to fill buf.
	// CauseRXDone is raised once buf is full.
	StartRX(buf []byte)
	// RXEnabled reports whether the receive channel is armed.
	RXEnabled() bool
	// RXRemaining returns the number of bytes still expected.
	RXRemaining() int
	// DisableRX disarms the receive channel, discarding the transfer.
	DisableRX()
	// StartTX transmits frame. CauseTXDone is raised when done.
	StartTX(frame []byte)
}

// ADC is one analog-to-digital converter with its DMA channel.
type ADC interface {
	// ConfigureOsci switches to timer-triggered conversions moved
	// into memory by DMA, raising CauseDMADone per block.
	ConfigureOsci()
	// ConfigureVolt switches to timer-triggered single conversions,
	// raising CauseResultLoaded per result.
	ConfigureVolt()
	// StartBlock arms DMA for one block. Each word receives two
	// samples, the earlier one in the low half.
	StartBlock(dst []uint32)
	// Result returns the latest single conversion result.
	Result() uint16
}

// Timer clocks conversions. The period is LoadValue+1 clock ticks.
type Timer interface {
	SetLoadValue(v uint32)
	Start()
	Stop()
	Running() bool
}

// DAC is the DMA-fed analog output of the signal generator.
type DAC interface {
	Start(table []uint16, sampleRate uint16)
	Stop()
}

// Clock rates of the sample timers.
const (
	OsciClockHz = 40000000 // interval unit is 25 ns
	VoltClockHz = 50000    // 50 ticks per millisecond
)

// Hardware collects the peripherals of one board. Bring-up has already
// happened when a Hardware is handed to the core.
type Hardware struct {
	Serial    SerialDMA
	ADC       [2]ADC
	OsciTimer Timer
	VoltTimer Timer
	DAC       DAC
}
