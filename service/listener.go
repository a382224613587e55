package service

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

var errListenerClosed = errors.New("accept failed: listener closed")

// ListenerPipe returns a full-duplex in-memory connection, like net.Pipe.
// One end is returned as a net.Listener whose first Accept returns the
// peer of the returned net.Conn.
func ListenerPipe() (net.Listener, net.Conn) {
	conn0, conn1 := net.Pipe()
	return newSingleConnListener(conn0), conn1
}

// StdioListener returns a listener whose only connection reads requests
// from r and writes responses to w. Its address has network "stdio".
func StdioListener(r io.ReadCloser, w io.WriteCloser) net.Listener {
	return newSingleConnListener(&stdioConn{r: r, w: w})
}

// singleConnListener satisfies net.Listener by handing out one
// pre-established connection. Every Accept after the first blocks until
// the listener is closed.
type singleConnListener struct {
	conn     net.Conn
	once     sync.Once
	closech  chan struct{}
	acceptMu sync.Mutex
	accepted bool
}

func newSingleConnListener(conn net.Conn) *singleConnListener {
	return &singleConnListener{conn: conn, closech: make(chan struct{})}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	l.acceptMu.Lock()
	first := !l.accepted
	l.accepted = true
	l.acceptMu.Unlock()
	if first {
		select {
		case <-l.closech:
			return nil, errListenerClosed
		default:
			return l.conn, nil
		}
	}
	<-l.closech
	return nil, errListenerClosed
}

func (l *singleConnListener) Close() error {
	l.once.Do(func() { close(l.closech) })
	return nil
}

func (l *singleConnListener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

type stdioAddr struct{}

func (stdioAddr) Network() string { return "stdio" }
func (stdioAddr) String() string  { return "stdio" }

// stdioConn is a net.Conn over a pair of streams. Deadlines are not
// supported.
type stdioConn struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (c *stdioConn) Read(b []byte) (int, error)  { return c.r.Read(b) }
func (c *stdioConn) Write(b []byte) (int, error) { return c.w.Write(b) }

func (c *stdioConn) Close() error {
	rerr := c.r.Close()
	if err := c.w.Close(); err != nil {
		return err
	}
	return rerr
}

func (c *stdioConn) LocalAddr() net.Addr  { return stdioAddr{} }
func (c *stdioConn) RemoteAddr() net.Addr { return stdioAddr{} }

func (c *stdioConn) SetDeadline(time.Time) error      { return nil }
func (c *stdioConn) SetReadDeadline(time.Time) error  { return nil }
func (c *stdioConn) SetWriteDeadline(time.Time) error { return nil }
