package client

import (
	"context"
	"encoding/binary"

	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

// Tags of the instrument commands.
var (
	TagKnock      = packet.TagOf("nock")
	TagVersion    = packet.TagOf("ver?")
	TagRun        = packet.TagOf("run!")
	TagVoltStart  = packet.TagOf("strt")
	TagVoltNext   = packet.TagOf("next")
	TagStop       = packet.TagOf("stop")
	TagVoltError  = packet.TagOf("err!")
	TagSinus      = packet.TagOf("sinu")
	TagSignalRun  = packet.TagOf("star")
	TagSignalGet  = packet.TagOf("get?")
	TagMemoryInit = packet.TagOf("i28K")
	TagMemoryGet  = packet.TagOf("g28K")
)

func (c *Client) expect(ctx context.Context, cmd *packet.Packet, tag packet.Tag) (*packet.Packet, error) {
	reply, err := c.Call(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if reply.Arg != tag {
		return reply, &UnexpectedReplyError{Code: reply.Code, Arg: reply.Arg}
	}
	return reply, nil
}

// Knock checks the instrument is alive.
func (c *Client) Knock(ctx context.Context) error {
	_, err := c.expect(ctx, packet.New('k', TagKnock), TagKnock)
	return err
}

// Version returns the firmware version as "major.minor".
func (c *Client) Version(ctx context.Context, major byte) (string, error) {
	reply, err := c.Call(ctx, packet.New(major, TagVersion))
	if err != nil {
		return "", err
	}
	v := []byte{reply.Code, '.'}
	for _, b := range reply.Arg {
		if b == 0 {
			break
		}
		v = append(v, b)
	}
	return string(v), nil
}

// Acquire starts a capture. The capture arrives on EventChan.
func (c *Client) Acquire(ctx context.Context, interval, length uint16) error {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint16(payload, interval)
	binary.LittleEndian.PutUint16(payload[2:], length)
	_, err := c.expect(ctx, packet.NewBulk('o', TagRun, payload), TagRun)
	return err
}

// Capture starts a capture and waits for it on EventChan. Other events
// arriving meanwhile are dropped.
func (c *Client) Capture(ctx context.Context, interval, length uint16) (*packet.Packet, error) {
	if err := c.Acquire(ctx, interval, length); err != nil {
		return nil, err
	}
	for {
		select {
		case pkt := <-c.EventChan():
			if pkt.Code == 'o' && len(pkt.Payload) > 0 {
				return pkt, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Channel fetches channel i (0 or 1) of the last capture.
func (c *Client) Channel(ctx context.Context, i int) (*packet.Packet, error) {
	tag := packet.TagOf("ch1?")
	if i == 1 {
		tag = packet.TagOf("ch2?")
	}
	return c.Call(ctx, packet.New('o', tag))
}

// VoltStart starts logging every interval milliseconds.
func (c *Client) VoltStart(ctx context.Context, interval uint32) error {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, interval)
	_, err := c.expect(ctx, packet.NewBulk('v', TagVoltStart, payload), TagVoltStart)
	return err
}

// VoltNext drains the points logged since the previous call.
func (c *Client) VoltNext(ctx context.Context) (*packet.Packet, error) {
	reply, err := c.Call(ctx, packet.New('v', TagVoltNext))
	if err != nil {
		return nil, err
	}
	if reply.Arg == TagVoltError {
		return nil, ErrNotRunning
	}
	return reply, nil
}

// VoltStop stops logging.
func (c *Client) VoltStop(ctx context.Context) error {
	_, err := c.expect(ctx, packet.New('v', TagStop), TagStop)
	return err
}

// Sinus creates a waveform on the signal generator.
func (c *Client) Sinus(ctx context.Context, length, amplitude, multiplier, harmonic uint16) error {
	payload := make([]byte, 8)
	for n, v := range []uint16{length, amplitude, multiplier, harmonic} {
		binary.LittleEndian.PutUint16(payload[n*2:], v)
	}
	_, err := c.expect(ctx, packet.NewBulk('s', TagSinus, payload), TagSinus)
	return err
}

// SignalStart starts the output at sampleRate.
func (c *Client) SignalStart(ctx context.Context, sampleRate uint16) error {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint16(payload, sampleRate)
	_, err := c.expect(ctx, packet.NewBulk('s', TagSignalRun, payload), TagSignalRun)
	return err
}

// SignalStop stops the output.
func (c *Client) SignalStop(ctx context.Context) error {
	_, err := c.expect(ctx, packet.New('s', TagStop), TagStop)
	return err
}

// Waveform fetches the generator waveform.
func (c *Client) Waveform(ctx context.Context) (*packet.Packet, error) {
	return c.expect(ctx, packet.New('s', TagSignalGet), TagSignalGet)
}

// Memory fetches the link test frame.
func (c *Client) Memory(ctx context.Context) (*packet.Packet, error) {
	return c.expect(ctx, packet.New('m', TagMemoryGet), TagMemoryGet)
}
