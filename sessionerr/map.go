package sessionerr

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"syscall"
)

// FromEngine converts whatever error crypto/tls.Conn produced into the
// typed taxonomy above. It is the single place that knows what the
// underlying cryptographic library's failures look like, matching the role
// of the "error mapping" component in a BIO-pair style TLS adapter: callers
// never inspect a crypto/tls error directly.
func FromEngine(err error) *Error {
	if err == nil {
		return nil
	}

	var alertErr tls.AlertError
	if errors.As(err, &alertErr) {
		code, reason := mapAlert(alertErr)
		return Protocol(err, code, reason)
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return Protocol(err, CodeUnknownCipherSuite, "certificate verification failed")
	}

	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return VerifyFailure(err, "certificate does not match requested server name", "", "")
	}

	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		return VerifyFailure(err, invalidErr.Error(), "", "")
	}

	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthErr) {
		return VerifyFailure(err, "certificate signed by unknown authority", "", "")
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return ClosedUnexpectedEOF(err)
	}

	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		return System(err, sysErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return System(err, 0)
	}

	return Protocol(err, CodeNone, err.Error())
}

// mapAlert translates a TLS alert received from (or sent to) the peer into
// the stable Code taxonomy. Not every alert has a close analogue in the
// legacy enum this taxonomy mirrors; those fall back to CodeUnexpectedPacket
// with the alert's own description as the reason.
func mapAlert(a tls.AlertError) (Code, string) {
	switch uint8(a) {
	case 0: // close_notify
		return CodeNone, "close_notify"
	case 10: // unexpected_message
		return CodeUnexpectedHandshakePacket, a.Error()
	case 20: // bad_record_mac
		return CodeMACVerifyFailed, a.Error()
	case 22: // record_overflow
		return CodeUnexpectedPacket, a.Error()
	case 40: // handshake_failure
		return CodeNoCipherSuites, a.Error()
	case 42, 43, 44, 45, 46, 48, 116: // certificate-related alerts
		return CodeUnknownCipherSuite, a.Error()
	case 47: // illegal_parameter
		return CodeUnknownAlgorithm, a.Error()
	case 50: // decode_error
		return CodeUnexpectedPacket, a.Error()
	case 51: // decrypt_error
		return CodeDecryptionFailed, a.Error()
	case 70: // protocol_version
		return CodeUnsupportedVersion, a.Error()
	case 71: // insufficient_security
		return CodeNoCipherSuites, a.Error()
	case 109, 110, 112, 120: // extension-related alerts
		return CodeUnexpectedPacket, a.Error()
	default:
		return CodeUnexpectedPacket, a.Error()
	}
}
