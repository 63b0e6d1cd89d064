// Package client talks to an instrument from the host side.
//
// The instrument answers commands in order and never tags a reply with
// a sequence number, so a reply belongs to the oldest pending command of
// the same code. Frames no command waits for, such as finished captures
// or auto-flushed point logs, are reported as events.
package client

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"

	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

// EventBacklog is the number of events buffered for EventChan.
const EventBacklog = 16

// Result is the result of a command using Do.
type Result struct {
	Err   error
	Reply *packet.Packet
}

// Client provides client side operations over a byte stream.
type Client struct {
	rw        io.ReadWriter
	writeLock sync.Mutex
	eventCh   chan *packet.Packet

	cmdsHead *Command
	cmdsTail *Command
	cmdsLock sync.Mutex
	closed   bool
}

// Command represents a pending command waiting for reply.
type Command struct {
	request  *packet.Packet
	resultCh chan Result
	next     *Command
}

// Request returns the request packet.
func (c *Command) Request() *packet.Packet {
	return c.request
}

// ResultChan returns the chan to retrieve result.
func (c *Command) ResultChan() <-chan Result {
	return c.resultCh
}

// Wait waits for the reply. A command without reply is left pending
// when ctx expires; the next reply of the instrument fails it.
func (c *Command) Wait(ctx context.Context) (*packet.Packet, error) {
	select {
	case r := <-c.resultCh:
		return r.Reply, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// New creates a client on rw. Run must be running for replies to arrive.
func New(rw io.ReadWriter) *Client {
	return &Client{
		rw:      rw,
		eventCh: make(chan *packet.Packet, EventBacklog),
	}
}

// EventChan retrieves the event reporting chan. Events are dropped when
// nobody keeps up with it.
func (c *Client) EventChan() <-chan *packet.Packet {
	return c.eventCh
}

// DoWith sends a command and expects a result in the provided chan.
func (c *Client) DoWith(pkt *packet.Packet, ch chan Result) *Command {
	cmd := &Command{request: pkt, resultCh: ch}

	c.cmdsLock.Lock()
	defer c.cmdsLock.Unlock()
	if c.closed {
		cmd.resultCh <- Result{Err: ErrClosed}
		return cmd
	}
	c.writeLock.Lock()
	_, err := pkt.WriteTo(c.rw)
	c.writeLock.Unlock()
	if err != nil {
		cmd.resultCh <- Result{Err: err}
		return cmd
	}
	if c.cmdsHead == nil {
		c.cmdsHead = cmd
	} else {
		c.cmdsTail.next = cmd
	}
	c.cmdsTail = cmd
	return cmd
}

// Do sends a command and returns a Command for result.
func (c *Client) Do(pkt *packet.Packet) *Command {
	return c.DoWith(pkt, make(chan Result, 1))
}

// Call sends a command and waits for its reply.
func (c *Client) Call(ctx context.Context, pkt *packet.Packet) (*packet.Packet, error) {
	return c.Do(pkt).Wait(ctx)
}

// HandlePacket dispatches a received frame.
func (c *Client) HandlePacket(pkt *packet.Packet) {
	var skipped []*Command
	c.cmdsLock.Lock()
	curr := c.cmdsHead
	for ; curr != nil; curr = curr.next {
		if curr.request.Code == pkt.Code {
			break
		}
	}
	if curr != nil {
		// commands before the match are answered no more
		for head := c.cmdsHead; head != curr; head = head.next {
			skipped = append(skipped, head)
		}
		if c.cmdsHead = curr.next; c.cmdsHead == nil {
			c.cmdsTail = nil
		}
		curr.next = nil
	}
	c.cmdsLock.Unlock()

	if curr == nil {
		select {
		case c.eventCh <- pkt:
		default:
			glog.Warningf("event %q %q dropped", pkt.Code, pkt.Arg.String())
		}
		return
	}
	for _, cmd := range skipped {
		cmd.resultCh <- Result{Err: ErrNoReply}
	}
	curr.resultCh <- Result{Reply: pkt}
}

// Run reads frames until ctx is done or the stream fails. Pending
// commands fail with ErrClosed afterwards.
func (c *Client) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		for {
			pkt, err := packet.ReadFrom(c.rw)
			if err != nil {
				if packet.IsFrameError(err) {
					glog.V(2).Infof("drop frame: %v", err)
					continue
				}
				errCh <- err
				return
			}
			glog.V(4).Infof("recv %q %q (%d bytes)", pkt.Code, pkt.Arg.String(), len(pkt.Payload))
			c.HandlePacket(pkt)
		}
	}()
	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
		if closer, ok := c.rw.(io.Closer); ok {
			closer.Close()
		}
	case err = <-errCh:
	}
	c.close()
	return err
}

func (c *Client) close() {
	c.cmdsLock.Lock()
	head := c.cmdsHead
	c.cmdsHead, c.cmdsTail, c.closed = nil, nil, true
	c.cmdsLock.Unlock()
	for ; head != nil; head = head.next {
		head.resultCh <- Result{Err: ErrClosed}
	}
}
