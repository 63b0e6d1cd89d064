package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/lenlab.go/pkg/l0/packet"
)

type chanReadWriter struct {
	readCh  <-chan byte
	writeCh chan byte
}

func (c *chanReadWriter) Read(p []byte) (int, error) {
	p[0] = <-c.readCh
	return 1, nil
}

func (c *chanReadWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		c.writeCh <- b
	}
	return len(p), nil
}

type clientTestEnv struct {
	t        *testing.T
	readCh   chan byte
	writeCh  chan byte
	client   *Client
	commands []*Command
}

func newClientTestEnv(t *testing.T) *clientTestEnv {
	env := &clientTestEnv{
		t:       t,
		readCh:  make(chan byte, 1),
		writeCh: make(chan byte, 1),
	}
	env.client = New(&chanReadWriter{readCh: env.readCh, writeCh: env.writeCh})
	return env
}

func (e *clientTestEnv) wrapFn(name string, fn func(string)) {
	e.t.Logf("START %s", name)
	fn(name)
	e.t.Logf("STOP %s", name)
}

func (e *clientTestEnv) run(fns ...func(string)) {
	ctx, cancel := context.WithCancel(context.TODO())
	defer cancel()
	go e.client.Run(ctx)
	for n, fn := range fns {
		e.wrapFn(fmt.Sprintf("step-%d", n), fn)
	}
}

func (e *clientTestEnv) parallel(fns ...func(string)) func(string) {
	return func(name string) {
		var wg sync.WaitGroup
		for n, fn := range fns {
			wg.Add(1)
			go func(name string, fn func(string)) {
				defer wg.Done()
				e.wrapFn(name, fn)
			}(name+fmt.Sprintf(".%d", n), fn)
		}
		wg.Wait()
	}
}

func (e *clientTestEnv) expect(pkt *packet.Packet) func(string) {
	return func(name string) {
		for i, b := range pkt.Bytes() {
			require.Equalf(e.t, b, <-e.writeCh, "%s.byte[%d] mismatch", name, i)
		}
	}
}

func (e *clientTestEnv) inject(pkt *packet.Packet) func(string) {
	return func(name string) {
		for _, b := range pkt.Bytes() {
			e.readCh <- b
		}
	}
}

func (e *clientTestEnv) clientDo(pkt *packet.Packet) func(string) {
	return func(name string) {
		e.commands = append(e.commands, e.client.Do(pkt))
	}
}

func (e *clientTestEnv) nextResult(name string) (r Result) {
	require.NotEmptyf(e.t, e.commands, "%s commands empty", name)
	cmd := e.commands[0]
	e.commands = e.commands[1:]
	select {
	case r = <-cmd.ResultChan():
	case <-time.After(500 * time.Millisecond):
		e.t.Fatalf("%s: timeout", name)
	}
	return
}

func (e *clientTestEnv) clientResult(code byte, tag string) func(string) {
	return func(name string) {
		r := e.nextResult(name)
		require.NoErrorf(e.t, r.Err, "%s unexpected err", name)
		require.Equalf(e.t, code, r.Reply.Code, "%s code mismatch", name)
		require.Equalf(e.t, packet.TagOf(tag), r.Reply.Arg, "%s tag mismatch", name)
	}
}

func (e *clientTestEnv) clientResultErr(err error) func(string) {
	return func(name string) {
		r := e.nextResult(name)
		require.Equalf(e.t, err, r.Err, "%s mismatch", name)
	}
}

func (e *clientTestEnv) clientEvent(code byte, payload ...byte) func(string) {
	return func(name string) {
		select {
		case pkt := <-e.client.EventChan():
			require.Equalf(e.t, code, pkt.Code, "%s code mismatch", name)
			require.Equalf(e.t, payload, pkt.Payload, "%s payload mismatch", name)
		case <-time.After(500 * time.Millisecond):
			e.t.Fatalf("%s timeout", name)
		}
	}
}

func TestClient(t *testing.T) {
	knock := packet.New('k', TagKnock)
	run := packet.New('o', TagRun)
	next := packet.New('v', TagVoltNext)

	testCases := []struct {
		name  string
		logic func(*clientTestEnv)
	}{
		{
			"simple command",
			func(env *clientTestEnv) {
				env.run(
					env.parallel(
						env.clientDo(knock),
						env.expect(knock),
					),
					env.inject(knock),
					env.clientResult('k', "nock"),
				)
			},
		},
		{
			"no reply",
			func(env *clientTestEnv) {
				env.run(
					env.parallel(env.clientDo(packet.New('x', TagKnock)), env.expect(packet.New('x', TagKnock))),
					env.parallel(env.clientDo(knock), env.expect(knock)),
					env.inject(knock),
					env.clientResultErr(ErrNoReply),
					env.clientResult('k', "nock"),
				)
			},
		},
		{
			"event",
			func(env *clientTestEnv) {
				env.run(
					env.inject(packet.NewBulk('o', packet.ArgUint16s(40, 456), []byte{1, 2})),
					env.clientEvent('o', 1, 2),
				)
			},
		},
		{
			"event and command",
			func(env *clientTestEnv) {
				env.run(
					env.parallel(env.clientDo(run), env.expect(run)),
					env.inject(run),
					env.clientResult('o', "run!"),
					env.parallel(env.clientDo(next), env.expect(next)),
					env.inject(packet.NewBulk('o', packet.ArgUint16s(40, 456), []byte{3})),
					env.clientEvent('o', 3),
					env.inject(packet.New('v', TagVoltError)),
					env.clientResult('v', "err!"),
				)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newClientTestEnv(t)
			tc.logic(env)
		})
	}
}

// fakeInstrument answers over a net.Pipe.
func fakeInstrument(t *testing.T, conn net.Conn, answer func(*packet.Packet) []*packet.Packet) {
	go func() {
		for {
			cmd, err := packet.ReadFrom(conn)
			if err != nil {
				return
			}
			for _, reply := range answer(cmd) {
				if _, err := reply.WriteTo(conn); err != nil {
					return
				}
			}
		}
	}()
}

func TestInstrument(t *testing.T) {
	host, dev := net.Pipe()
	defer dev.Close()
	fakeInstrument(t, dev, func(cmd *packet.Packet) []*packet.Packet {
		switch {
		case cmd.Is('k', TagKnock):
			return []*packet.Packet{cmd}
		case cmd.Is('8', TagVersion):
			return []*packet.Packet{packet.New('8', packet.TagOf("2"))}
		case cmd.Is('o', TagRun):
			interval, length := packet.Uint16s(cmd.Payload)[0], packet.Uint16s(cmd.Payload)[1]
			return []*packet.Packet{
				packet.New('o', TagRun),
				packet.NewBulk('o', packet.ArgUint16s(interval, 3456-length/2), []byte{1, 2, 3, 4}),
			}
		case cmd.Is('v', TagVoltNext):
			return []*packet.Packet{packet.New('v', TagVoltError)}
		}
		return nil
	})

	c := New(host)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(runCtx) }()

	require.NoError(t, c.Knock(ctx))
	v, err := c.Version(ctx, '8')
	require.NoError(t, err)
	require.Equal(t, "8.2", v)

	capture, err := c.Capture(ctx, 40, 6000)
	require.NoError(t, err)
	interval, start := capture.Arg.Uint16s()
	require.Equal(t, uint16(40), interval)
	require.Equal(t, uint16(456), start)

	_, err = c.VoltNext(ctx)
	require.Equal(t, ErrNotRunning, err)

	// unanswered, then the connection goes away
	cmd := c.Do(packet.New('z', TagKnock))
	stop()
	require.Equal(t, context.Canceled, <-errCh)
	_, err = cmd.Wait(ctx)
	require.Equal(t, ErrClosed, err)
	_, err = c.Do(knock()).Wait(ctx)
	require.Equal(t, ErrClosed, err)
}

func knock() *packet.Packet {
	return packet.New('k', TagKnock)
}
