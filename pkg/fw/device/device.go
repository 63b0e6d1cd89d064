// Package device wires the firmware core onto a board.
//
// Every interrupt is posted into a framework.Loop and handled on its
// goroutine, one at a time, so handlers never preempt each other. After
// the pending interrupts are drained the main loop body polls the
// transport, dispatches a complete command and re-arms reception.
package device

import (
	"context"

	"github.com/golang/glog"

	"github.com/robotalks/lenlab.go/pkg/framework"
	"github.com/robotalks/lenlab.go/pkg/fw/interp"
	"github.com/robotalks/lenlab.go/pkg/fw/memory"
	"github.com/robotalks/lenlab.go/pkg/fw/osci"
	"github.com/robotalks/lenlab.go/pkg/fw/signal"
	"github.com/robotalks/lenlab.go/pkg/fw/volt"
	"github.com/robotalks/lenlab.go/pkg/hal"
	"github.com/robotalks/lenlab.go/pkg/l0/transport"
)

// The voltmeter halves live in the oscilloscope rings.
var _ [osci.ArenaWords - volt.Words]struct{}

// Sink returns an IRQSink posting interrupts into loop.
func Sink(loop *framework.Loop) hal.IRQSink {
	return hal.RaiseFunc(func(irq hal.Interrupt) {
		loop.Post(irq)
	})
}

// Device is the firmware core running on a board.
type Device struct {
	Loop      *framework.Loop
	Transport *transport.Transport
	Interp    *interp.Interpreter
	Osci      *osci.Osci
	Volt      *volt.Volt
	Signal    *signal.Generator
	Memory    *memory.Memory

	arena []uint32
}

// New wires a device on hw. Peripherals must raise interrupts into loop,
// see Sink.
func New(loop *framework.Loop, hw *hal.Hardware) *Device {
	d := &Device{
		Loop:      loop,
		Transport: transport.New(hw.Serial, transport.DefaultMaxPayload),
		arena:     make([]uint32, osci.ArenaWords),
		Signal:    signal.New(hw.DAC),
		Memory:    memory.New(),
	}
	d.Osci = osci.New(hw.ADC, hw.OsciTimer, d.arena)
	d.Volt = volt.New(hw.ADC, hw.VoltTimer, d.arena)
	d.Interp = &interp.Interpreter{
		Osci:   d.Osci,
		Volt:   d.Volt,
		Signal: d.Signal,
		Memory: d.Memory,
	}
	loop.Interval = transport.StallTick
	loop.Handler = d
	loop.AddTicker(framework.ControlFunc(d.tick))
	loop.AddController(framework.ControlFunc(d.Control))
	return d
}

// Name implements framework.Named.
func (d *Device) Name() string { return "device" }

// Run arms reception and runs the loop until ctx is done.
func (d *Device) Run(ctx context.Context) error {
	d.Loop.PostMessage(start{})
	d.Loop.TriggerNext()
	return d.Loop.Run(ctx)
}

// start is handled on the loop goroutine so the transport is only ever
// touched from there.
type start struct{}

// HandleMessage implements framework.MessageHandler.
func (d *Device) HandleMessage(ctx context.Context, msg framework.Message) {
	switch m := msg.(type) {
	case start:
		d.Transport.Receive()
	case hal.Interrupt:
		d.handleInterrupt(m)
	default:
		glog.Warningf("device: unknown message %T", msg)
	}
}

func (d *Device) handleInterrupt(irq hal.Interrupt) {
	glog.V(5).Infof("irq %s", irq)
	switch irq.Source {
	case hal.SourceSerial:
		d.Transport.HandleInterrupt(irq.Cause)
	case hal.SourceADC0, hal.SourceADC1:
		ch := int(irq.Source - hal.SourceADC0)
		switch irq.Cause {
		case hal.CauseDMADone:
			if reply := d.Osci.BlockDone(ch); reply != nil {
				d.Transport.Transmit(reply)
			}
		case hal.CauseResultLoaded:
			if reply := d.Volt.ConversionDone(ch); reply != nil {
				d.Transport.Transmit(reply)
			}
		}
	}
}

// Control is the main loop body.
func (d *Device) Control(cc framework.ControlContext) error {
	cmd, err := d.Transport.Poll()
	if err != nil {
		glog.V(2).Infof("drop frame: %v", err)
		return nil
	}
	if cmd == nil {
		return nil
	}
	reply, err := d.Interp.Dispatch(cmd)
	if err != nil {
		glog.V(2).Info(err)
	}
	if reply != nil {
		d.Transport.Transmit(reply)
	}
	d.Transport.Receive()
	return nil
}

func (d *Device) tick(cc framework.ControlContext) error {
	if err := d.Transport.Tick(); err != nil {
		glog.Warningf("serial: %v, receive reset", err)
	}
	return nil
}
