package sim

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/lenlab.go/pkg/framework"
	"github.com/robotalks/lenlab.go/pkg/hal"
)

// Serial is the serial port with its two DMA channels. Received bytes
// that no transfer is armed for wait inside the peripheral.
type Serial struct {
	irq hal.IRQSink

	lock      sync.Mutex
	rw        io.ReadWriter
	pending   []byte
	rxBuf     []byte
	rxPos     int
	rxEnabled bool

	txLock sync.Mutex
}

func newSerial(irq hal.IRQSink) *Serial {
	return &Serial{irq: irq}
}

// Attach connects the port to a byte stream.
func (s *Serial) Attach(rw io.ReadWriter) {
	s.lock.Lock()
	s.rw = rw
	s.lock.Unlock()
}

// Run implements framework.Runnable: it reads the attached stream into
// the receive channel until ctx is done or the stream fails.
func (s *Serial) Run(ctx context.Context) error {
	s.lock.Lock()
	rw := s.rw
	s.lock.Unlock()
	if rw == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	read := func() error {
		buf := make([]byte, 512)
		for {
			n, err := rw.Read(buf)
			if n > 0 {
				s.Feed(buf[:n])
			}
			if err != nil {
				return err
			}
		}
	}
	if closer, ok := rw.(io.Closer); ok {
		return framework.RunWithContextCloser(ctx, closer, read)
	}
	return framework.RunWithContext(ctx, read)
}

// Feed delivers received bytes, as if they arrived on the line.
func (s *Serial) Feed(p []byte) {
	s.lock.Lock()
	s.pending = append(s.pending, p...)
	done := s.deliverLocked()
	s.lock.Unlock()
	if done {
		s.irq.Raise(hal.Interrupt{Source: hal.SourceSerial, Cause: hal.CauseRXDone})
	}
}

func (s *Serial) deliverLocked() bool {
	if !s.rxEnabled || len(s.pending) == 0 {
		return false
	}
	n := copy(s.rxBuf[s.rxPos:], s.pending)
	s.rxPos += n
	s.pending = s.pending[n:]
	if s.rxPos < len(s.rxBuf) {
		return false
	}
	s.rxEnabled = false
	return true
}

// StartRX implements hal.SerialDMA.
func (s *Serial) StartRX(buf []byte) {
	s.lock.Lock()
	s.rxBuf, s.rxPos, s.rxEnabled = buf, 0, true
	done := s.deliverLocked()
	s.lock.Unlock()
	if done {
		s.irq.Raise(hal.Interrupt{Source: hal.SourceSerial, Cause: hal.CauseRXDone})
	}
}

// RXEnabled implements hal.SerialDMA.
func (s *Serial) RXEnabled() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.rxEnabled
}

// RXRemaining implements hal.SerialDMA.
func (s *Serial) RXRemaining() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.rxBuf) - s.rxPos
}

// DisableRX implements hal.SerialDMA.
func (s *Serial) DisableRX() {
	s.lock.Lock()
	s.rxEnabled = false
	s.lock.Unlock()
}

// StartTX implements hal.SerialDMA. The frame is written by a separate
// goroutine; CauseTXDone follows once the stream accepted it.
func (s *Serial) StartTX(frame []byte) {
	s.lock.Lock()
	rw := s.rw
	s.lock.Unlock()
	go func() {
		s.txLock.Lock()
		if rw != nil {
			if _, err := rw.Write(frame); err != nil {
				glog.Warningf("serial: write error: %v", err)
			}
		}
		s.txLock.Unlock()
		s.irq.Raise(hal.Interrupt{Source: hal.SourceSerial, Cause: hal.CauseTXDone})
	}()
}
