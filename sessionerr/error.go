package sessionerr

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// Error is the single error type every session-facing operation returns.
// Its Kind identifies the broad category; the remaining fields are only
// populated for the Kinds that use them.
type Error struct {
	Kind Kind

	// Code is set for KindProtocolError.
	Code Code

	// Reason is a short, human-readable description of what went wrong.
	Reason string

	// Subject/Issuer are set for KindVerifyFailure when a peer certificate
	// was presented but rejected.
	Subject string
	Issuer  string

	// Errno is set for KindSystemError.
	Errno syscall.Errno

	// Details preserves the underlying cryptographic library's error chain
	// for diagnostics; it is informational only, never pattern-matched on.
	Details []string

	cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tls session: %s", e.Kind)
	if e.Code != CodeNone {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if e.Subject != "" || e.Issuer != "" {
		fmt.Fprintf(&b, " [subject=%q issuer=%q]", e.Subject, e.Issuer)
	}
	if e.Errno != 0 {
		fmt.Fprintf(&b, ": %s", e.Errno)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets callers write errors.Is(err, sessionerr.NotConnected()) and similar
// against the sentinel-like constructors below, by comparing Kind (and Code,
// when present) rather than identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.Code != CodeNone && e.Code != t.Code {
		return false
	}
	return true
}

// NotConnected reports the EOF-during-handshake lifecycle error (§7.5).
func NotConnected() *Error {
	return &Error{Kind: KindNotConnected, Reason: "peer went away before the handshake completed"}
}

// PipeClosed reports a write attempted after shutdown.
func PipeClosed() *Error {
	return &Error{Kind: KindPipeClosed, Reason: "write on a session past shutdown"}
}

// Timeout reports a transport deadline firing during a pull or push, such as
// the deadline Handshake takes from its ctx. Close swallows the timeout of
// its own 10-second shutdown deadline instead of returning it.
func Timeout() *Error {
	return &Error{Kind: KindTimeout, Reason: "close did not complete within its deadline"}
}

// ClosedClean reports an orderly close-notify exchange.
func ClosedClean() *Error {
	return &Error{Kind: KindClosedClean}
}

// ClosedUnexpectedEOF reports a transport EOF without a close-notify.
func ClosedUnexpectedEOF(cause error) *Error {
	return &Error{Kind: KindClosedUnexpectedEOF, cause: cause, Reason: "transport closed without close-notify"}
}

// Protocol wraps a crypto-engine failure that isn't transient, verification,
// or lifecycle related.
func Protocol(cause error, code Code, reason string) *Error {
	e := &Error{Kind: KindProtocolError, Code: code, Reason: reason, cause: cause}
	e.Details = causeChain(cause)
	return e
}

// System wraps an operating-system failure: an errno-bearing pull/push
// failure from the transport, or a system/network error the engine reports.
func System(cause error, errno syscall.Errno) *Error {
	return &Error{Kind: KindSystemError, Errno: errno, Reason: "transport i/o failed", cause: cause}
}

// VerifyFailure reports a failed (or missing, when required) peer
// certificate verification.
func VerifyFailure(cause error, reason, subject, issuer string) *Error {
	return &Error{
		Kind:    KindVerifyFailure,
		Reason:  reason,
		Subject: subject,
		Issuer:  issuer,
		cause:   cause,
	}
}

// Credential wraps a failure building or loading credential material.
func Credential(cause error, reason string) *Error {
	return &Error{Kind: KindCredential, Reason: reason, cause: errors.Wrap(cause, reason)}
}

// causeChain walks cause's pkg/errors stack, recording one diagnostic line
// per wrapped layer, innermost last.
func causeChain(cause error) []string {
	if cause == nil {
		return nil
	}
	var out []string
	for cause != nil {
		out = append(out, cause.Error())
		u, ok := cause.(interface{ Unwrap() error })
		if !ok {
			break
		}
		cause = u.Unwrap()
	}
	return out
}
