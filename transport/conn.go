// Package transport defines the narrow byte-stream abstraction that the TLS
// session engine is built on top of. It never deals with TLS itself: it only
// knows how to move bytes to and from a peer, close either half of the
// stream, and signal deadlines. The session engine (package session) is the
// only consumer that should care about TLS; everything in this package would
// be equally at home fronting a plaintext echo server.
package transport

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConnClosed         = errors.New("connection is closed")
	ErrConnListenerClosed = errors.New("conn listener is closed")
	ErrDeadLineExceeded   = errors.New("deadline exceeded")
	ErrNetUnreachable     = errors.New("network is unreachable")
	ErrConnRefused        = errors.New("connection refused")
	ErrAddrAlreadyInUse   = errors.New("address already in use")
)

// Conn is a connected, bidirectional byte stream. It is the transport
// adapter's view of the peer: the session engine never touches a socket
// directly, only this interface.
type Conn interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error

	LocalAddr() Addr
	RemoteAddr() Addr

	SetReadDeadLine(t time.Time)
	SetWriteDeadLine(t time.Time)
}

// BufferedConn is a Conn that performs its own internal buffering, such as a
// pipe with a bounded backlog. ReadBufSize/WriteBufSize report the capacity
// of those buffers; 0 means unbounded or unbuffered.
type BufferedConn interface {
	Conn
	ReadBufSize() uint
	WriteBufSize() uint
}

type ConnListener interface {
	Accept(ctx context.Context) (Conn, error)
	Close() error
}

type ConnDialer interface {
	Dial(ctx context.Context, addr Addr) (Conn, error)
}
