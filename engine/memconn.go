package engine

import (
	"io"
	"net"
	"sync"
	"time"

	"tlsengine/lib/ds/queue"
)

// memConn is the in-memory net.Conn that crypto/tls.Conn is
// built on top of. It plays the role of the two auxiliary ciphertext queues
// the source library drives by hand (push_ciphertext/pull_ciphertext): the
// session driver feeds inbound ciphertext and drains outbound ciphertext
// through it, while the wrapped tls.Conn blocks on it from its own
// goroutine exactly as it would a socket.
//
// The outbound side is a literal queue.Queue of chunks, one entry per
// underlying Write call (usually one TLS record; a handshake flight that
// crypto/tls buffers arrives as one Write holding several records), instead
// of a single flattened byte slice: draining concatenates whatever chunks
// have accumulated since the last drain, so record boundaries survive
// until the point they're handed to the transport.
//
// State changes are published through a close-and-replace channel, the same
// broadcast idiom transport/pipe uses for its deadline timers, so a waiter
// can select between "the current operation finished" and "the memory
// connection's state changed" without busy-looping.
type memConn struct {
	mu sync.Mutex

	inbound  []byte
	outbound queue.Queue[[]byte]

	inboundEOF  bool
	closed      bool
	readBlocked bool

	notify chan struct{}
}

func newMemConn() *memConn {
	return &memConn{
		notify:   make(chan struct{}),
		outbound: queue.NewNaive[[]byte](4),
	}
}

func (c *memConn) bumpLocked() {
	close(c.notify)
	c.notify = make(chan struct{})
}

// Read implements net.Conn for the wrapped tls.Conn's benefit. It blocks
// until inbound ciphertext is available, the peer's EOF is marked, or the
// connection is closed.
func (c *memConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	for {
		if len(c.inbound) > 0 {
			n := copy(p, c.inbound)
			c.inbound = c.inbound[n:]
			if c.readBlocked {
				c.readBlocked = false
			}
			c.mu.Unlock()
			return n, nil
		}
		if c.closed {
			c.mu.Unlock()
			return 0, net.ErrClosed
		}
		if c.inboundEOF {
			c.mu.Unlock()
			return 0, io.EOF
		}
		if !c.readBlocked {
			c.readBlocked = true
			c.bumpLocked()
		}
		ch := c.notify
		c.mu.Unlock()
		<-ch
		c.mu.Lock()
	}
}

// Write implements net.Conn for the wrapped tls.Conn's benefit. It never
// blocks: outbound ciphertext accumulates until the driver drains it.
func (c *memConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	chunk := make([]byte, len(p))
	copy(chunk, p)
	c.outbound.Enqueue(chunk)
	c.bumpLocked()
	return len(p), nil
}

func (c *memConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.bumpLocked()
	}
	return nil
}

func (c *memConn) LocalAddr() net.Addr             { return memAddr{} }
func (c *memConn) RemoteAddr() net.Addr            { return memAddr{} }
func (c *memConn) SetDeadline(time.Time) error     { return nil }
func (c *memConn) SetReadDeadline(time.Time) error { return nil }
func (c *memConn) SetWriteDeadline(time.Time) error  { return nil }

type memAddr struct{}

func (memAddr) Network() string { return "memory" }
func (memAddr) String() string  { return "memory" }

// feed appends ciphertext pulled from the transport and wakes anything
// blocked in Read.
func (c *memConn) feed(p []byte) {
	if len(p) == 0 {
		return
	}
	c.mu.Lock()
	c.inbound = append(c.inbound, p...)
	c.bumpLocked()
	c.mu.Unlock()
}

// feedEOF marks the transport's read side as exhausted.
func (c *memConn) feedEOF() {
	c.mu.Lock()
	if !c.inboundEOF {
		c.inboundEOF = true
		c.bumpLocked()
	}
	c.mu.Unlock()
}

// drain removes and returns whatever ciphertext crypto/tls has produced so
// far, for the driver to push to the transport. Returns nil if there is
// none.
func (c *memConn) drain() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outbound.Len() == 0 {
		return nil
	}
	var out []byte
	for c.outbound.Len() > 0 {
		chunk, _ := c.outbound.Dequeue()
		out = append(out, chunk...)
	}
	return out
}

// pending reports whether there is undrained outbound ciphertext.
func (c *memConn) pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outbound.Len() > 0
}

// isReadBlocked reports whether the wrapped tls.Conn is currently parked in
// Read waiting for more inbound ciphertext. This is the signal the driver
// treats as needs_read.
func (c *memConn) isReadBlocked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readBlocked && len(c.inbound) == 0 && !c.closed && !c.inboundEOF
}

// waitCh returns the channel that closes the next time this connection's
// observable state changes.
func (c *memConn) waitCh() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify
}
