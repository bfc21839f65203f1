// Package engine binds crypto/tls's blocking handshake/record engine to the
// session driver's pull-based transport model. It is the only package that
// drives a crypto/tls.Conn; the session driver talks to it through
// Status-returning calls that never touch a socket.
package engine

// Status reports what an engine operation needs before it can make further
// progress, mirroring the needs_read/needs_write interleaving the session
// driver is built around.
type Status int

const (
	// StatusDone means the operation completed; its result (if any) is
	// attached to the return values of the call that produced this status.
	StatusDone Status = iota
	// StatusNeedsRead means the engine is blocked waiting for more
	// ciphertext from the peer. The driver should pull from the transport
	// and feed it in, then retry the call.
	StatusNeedsRead
	// StatusNeedsWrite means the engine has produced ciphertext that must
	// be drained and pushed to the transport before retrying.
	StatusNeedsWrite
	// StatusCleanEOF means the peer closed its write side with a
	// conforming close_notify (or, for a transport-level read, the
	// transport reported a clean EOF).
	StatusCleanEOF
	// StatusError means the operation failed; the error is attached to the
	// call's return values.
	StatusError
	// StatusPartial means a shutdown attempt made some progress (bytes were
	// produced) but is not yet complete.
	StatusPartial
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusNeedsRead:
		return "needs_read"
	case StatusNeedsWrite:
		return "needs_write"
	case StatusCleanEOF:
		return "clean_eof"
	case StatusError:
		return "error"
	case StatusPartial:
		return "partial"
	default:
		return "unknown"
	}
}
