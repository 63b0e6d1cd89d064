// Package link opens byte streams to instruments and for virtual
// instruments. Streams are named by URL:
//
//	serial:///dev/ttyACM0?baud=1000000
//	tcp://localhost:6600
//	ws://localhost:6680/lenlab
package link

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"go.bug.st/serial"
	"golang.org/x/net/websocket"
)

// DefaultBaudRate is the baud rate of the instrument's serial port.
const DefaultBaudRate = 1000000

// Conn is an open byte stream.
type Conn interface {
	io.ReadWriteCloser
}

// Listener accepts byte streams.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() string
}

// Dial opens the stream at rawurl.
func Dial(rawurl string) (Conn, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "serial":
		return openSerial(u)
	case "tcp":
		return net.Dial("tcp", u.Host)
	case "ws", "wss":
		origin := "http://" + u.Host
		if u.Scheme == "wss" {
			origin = "https://" + u.Host
		}
		conn, err := websocket.Dial(u.String(), "", origin)
		if err != nil {
			return nil, err
		}
		conn.PayloadType = websocket.BinaryFrame
		return conn, nil
	}
	return nil, fmt.Errorf("unsupported link %q", rawurl)
}

// Listen serves streams at rawurl. A serial port yields a single
// stream, the port itself.
func Listen(rawurl string) (Listener, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "serial":
		conn, err := openSerial(u)
		if err != nil {
			return nil, err
		}
		return &singleListener{conn: conn, addr: u.Path}, nil
	case "tcp":
		ln, err := net.Listen("tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return &tcpListener{ln: ln}, nil
	case "ws":
		return listenWebsocket(u)
	}
	return nil, fmt.Errorf("unsupported link %q", rawurl)
}

// SerialMode returns the port mode requested by u.
func SerialMode(u *url.URL) (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if baud := u.Query().Get("baud"); baud != "" {
		n, err := strconv.Atoi(baud)
		if err != nil {
			return nil, fmt.Errorf("invalid baud rate %q: %v", baud, err)
		}
		mode.BaudRate = n
	}
	return mode, nil
}

func openSerial(u *url.URL) (Conn, error) {
	mode, err := SerialMode(u)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(u.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", u.Path, err)
	}
	return port, nil
}

// Ports lists the serial ports of the system.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

type singleListener struct {
	lock sync.Mutex
	conn Conn
	addr string
	done chan struct{}
}

func (l *singleListener) Accept(ctx context.Context) (Conn, error) {
	l.lock.Lock()
	conn := l.conn
	l.conn = nil
	if l.done == nil {
		l.done = make(chan struct{})
	}
	done := l.done
	l.lock.Unlock()
	if conn != nil {
		return conn, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return nil, io.EOF
	}
}

func (l *singleListener) Close() error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.done == nil {
		l.done = make(chan struct{})
	}
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	return nil
}

func (l *singleListener) Addr() string { return l.addr }

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept(ctx context.Context) (Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		l.ln.Close()
		return nil, ctx.Err()
	}
}

func (l *tcpListener) Close() error { return l.ln.Close() }
func (l *tcpListener) Addr() string { return l.ln.Addr().String() }

type wsListener struct {
	ln     net.Listener
	server *http.Server
	connCh chan Conn
}

// wsConn keeps the handler running until the stream is closed.
type wsConn struct {
	*websocket.Conn
	closed chan struct{}
	once   sync.Once
}

func (c *wsConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(func() { close(c.closed) })
	return err
}

func listenWebsocket(u *url.URL) (*wsListener, error) {
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, err
	}
	l := &wsListener{ln: ln, connCh: make(chan Conn)}
	path := u.Path
	if path == "" {
		path = "/"
	}
	mux := http.NewServeMux()
	mux.Handle(path, websocket.Handler(func(conn *websocket.Conn) {
		conn.PayloadType = websocket.BinaryFrame
		c := &wsConn{Conn: conn, closed: make(chan struct{})}
		select {
		case l.connCh <- c:
			<-c.closed
		case <-conn.Request().Context().Done():
		}
	}))
	l.server = &http.Server{Handler: mux}
	go l.server.Serve(ln)
	return l, nil
}

func (l *wsListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-l.connCh:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *wsListener) Close() error { return l.server.Close() }
func (l *wsListener) Addr() string { return l.ln.Addr().String() }
