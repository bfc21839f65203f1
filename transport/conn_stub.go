package transport

import (
	"bytes"
	"context"
	"sync"
	"time"

	"tlsengine/network"
)

type stubConn struct {
	name   string
	stream chan []byte
	closed chan struct{}

	signalClosed func()

	buf *bytes.Buffer

	rdeadline deadline
	wdeadline deadline

	counterpart *stubConn
}

var _ Conn = (*stubConn)(nil)

// stubAddr is the stub Conn's Addr: stub connections have no real network
// identity, just the name they were given (or "" when none was given).
type stubAddr struct{ name string }

func (a stubAddr) NetworkAddr() network.Addr { return nil }
func (a stubAddr) Identifier() any           { return a.name }
func (a stubAddr) String() string            { return a.name }

var _ Addr = stubAddr{}

func (s *stubConn) LocalAddr() Addr { return stubAddr{s.name} }
func (s *stubConn) RemoteAddr() Addr {
	if s.counterpart == nil {
		return stubAddr{}
	}
	return stubAddr{s.counterpart.name}
}

func (s *stubConn) SetReadDeadLine(t time.Time)  { s.rdeadline.set(t) }
func (s *stubConn) SetWriteDeadLine(t time.Time) { s.wdeadline.set(t) }

func (s *stubConn) Close() error {
	// Assume closing closed connection will panic?
	close(s.closed)
	close(s.counterpart.stream)
	s.signalClosed()
	return nil
}

func (s *stubConn) Read(p []byte) (n int, err error) {
	if s.buf.Len() > 0 {
		// if buf is not empty, read from it.
		return s.buf.Read(p)
	}

	select {
	case <-s.closed:
		return 0, ErrConnClosed
	case <-s.rdeadline.wait():
		return 0, ErrDeadLineExceeded
	case b, ok := <-s.stream:
		if !ok {
			// counterpart is closed.
			return 0, ErrConnClosed
		}
		n := copy(p, b)
		if remain := len(b) - n; remain > 0 {
			// copy didn't get all the bytes from counterpart.
			// store it for later.
			s.buf.Write(b[n:])
		}
		return n, nil
	}
}

func (s *stubConn) Write(p []byte) (n int, err error) {
	c := make([]byte, len(p))
	copy(c, p)

	select {
	case <-s.closed:
		return 0, ErrConnClosed
	case <-s.counterpart.closed:
		// counterpart is closed. return an error.
		return 0, ErrConnClosed
	case <-s.wdeadline.wait():
		return 0, ErrDeadLineExceeded
	case s.counterpart.stream <- c:
		return len(c), nil
	}
}

// deadline is a lazily-armed, resettable timeout signal, the stub Conn's
// stand-in for pipe's chanDeadLine (stub connections don't carry a
// clock.Clock, so this uses the real clock directly).
type deadline struct {
	mu     sync.Mutex
	timer  *time.Timer
	closed chan struct{}
}

func (d *deadline) wait() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed == nil {
		d.closed = make(chan struct{})
	}
	return d.closed
}

func (d *deadline) set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.closed == nil || isClosedChan(d.closed) {
		d.closed = make(chan struct{})
	}
	if t.IsZero() {
		return
	}

	closed := d.closed
	d.timer = time.AfterFunc(time.Until(t), func() { close(closed) })
}

func isClosedChan(c chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}

type stubConnListener struct {
	connChan chan *stubConn

	m      sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewStubConnListener() *stubConnListener {
	return &stubConnListener{
		connChan: make(chan *stubConn),
	}
}

var _ ConnListener = (*stubConnListener)(nil)

func (s *stubConnListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case conn, ok := <-s.connChan:
		if !ok {
			return nil, ErrConnListenerClosed
		}
		return conn, nil
	}
}

func (s *stubConnListener) MakeConn() (*stubConn, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.closed {
		return nil, ErrConnListenerClosed
	}

	s.wg.Add(2)

	toFeed := &stubConn{
		signalClosed: s.wg.Done,
		closed:       make(chan struct{}),
		buf:          bytes.NewBuffer(nil),
		stream:       make(chan []byte),
	}
	toReturn := &stubConn{
		signalClosed: s.wg.Done,
		closed:       make(chan struct{}),
		buf:          bytes.NewBuffer(nil),
		stream:       make(chan []byte),
	}

	toFeed.counterpart, toReturn.counterpart = toReturn, toFeed

	s.connChan <- toFeed

	return toReturn, nil
}

func (s *stubConnListener) Close() error {
	s.m.Lock()
	close(s.connChan)
	s.closed = true
	s.m.Unlock()

	s.wg.Wait()
	return nil
}
