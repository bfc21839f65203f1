// Package sessionerr defines the typed error taxonomy the TLS session
// engine reports to its callers. It exists so that a caller never has to
// reach into crypto/tls or x509 error types directly: every failure that can
// leave a session is one of the Kinds declared here.
//
// Session errors are sticky: the first non-transient failure recorded by the
// driver is the one every later call on that session returns, unchanged.
package sessionerr

import "fmt"

// Kind classifies why a session operation failed.
type Kind int

const (
	// KindClosedClean means the peer (or we) closed the session in an
	// orderly way; not an error condition by itself, but callers that ask
	// for it (e.g. during handshake) get this as a Kind.
	KindClosedClean Kind = iota
	// KindClosedUnexpectedEOF means the transport ended before a close-notify
	// was observed.
	KindClosedUnexpectedEOF
	// KindVerifyFailure means peer certificate verification failed, or a
	// required peer certificate was absent.
	KindVerifyFailure
	// KindProtocolError means the crypto engine rejected the session for a
	// protocol-level reason (bad record, unsupported suite, alert, ...).
	KindProtocolError
	// KindSystemError means pull/push against the transport failed with an
	// operating-system error (errno), or the engine reported a system or
	// network error.
	KindSystemError
	// KindCredential means credential material was malformed or mismatched.
	KindCredential
	// KindNotConnected means the peer went away mid-handshake.
	KindNotConnected
	// KindPipeClosed means a write was attempted after shutdown.
	KindPipeClosed
	// KindTimeout means a transport deadline expired during a pull or push
	// (for example the deadline Handshake takes from its ctx).
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindClosedClean:
		return "closed_clean"
	case KindClosedUnexpectedEOF:
		return "closed_unexpected_eof"
	case KindVerifyFailure:
		return "verify_failure"
	case KindProtocolError:
		return "protocol_error"
	case KindSystemError:
		return "system_error"
	case KindCredential:
		return "credential_error"
	case KindNotConnected:
		return "not_connected"
	case KindPipeClosed:
		return "pipe_closed"
	case KindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}
