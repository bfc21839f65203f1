package sessionerr

import "fmt"

// Code is the stable, opaque-integer protocol error code exported for
// pattern matching. Its values do not track any particular TLS library's
// numbering; they are assigned once here and never renumbered. This mirrors
// how the underlying cryptographic library's own error enum is exposed
// verbatim to callers, just with a value set we control instead of
// depending on a vendored C library's headers.
type Code int

const (
	// CodeNone means no protocol-level code applies to this error.
	CodeNone Code = iota
	CodeUnknownCompressionAlgorithm
	CodeUnknownCipherType
	CodeInvalidSession
	CodeUnexpectedHandshakePacket
	CodeUnknownCipherSuite
	CodeUnknownAlgorithm
	CodeUnsupportedSignatureAlgorithm
	CodeSafeRenegotiationFailed
	CodeUnsafeRenegotiationDenied
	CodeUnknownSRPUsername
	CodePrematureTermination
	CodePushError
	CodePullError
	CodeUnexpectedPacket
	CodeUnsupportedVersion
	CodeNoCipherSuites
	CodeDecryptionFailed
	CodeMACVerifyFailed
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeUnknownCompressionAlgorithm:
		return "unknown_compression_algorithm"
	case CodeUnknownCipherType:
		return "unknown_cipher_type"
	case CodeInvalidSession:
		return "invalid_session"
	case CodeUnexpectedHandshakePacket:
		return "unexpected_handshake_packet"
	case CodeUnknownCipherSuite:
		return "unknown_cipher_suite"
	case CodeUnknownAlgorithm:
		return "unknown_algorithm"
	case CodeUnsupportedSignatureAlgorithm:
		return "unsupported_signature_algorithm"
	case CodeSafeRenegotiationFailed:
		return "safe_renegotiation_failed"
	case CodeUnsafeRenegotiationDenied:
		return "unsafe_renegotiation_denied"
	case CodeUnknownSRPUsername:
		return "unknown_srp_username"
	case CodePrematureTermination:
		return "premature_termination"
	case CodePushError:
		return "push_error"
	case CodePullError:
		return "pull_error"
	case CodeUnexpectedPacket:
		return "unexpected_packet"
	case CodeUnsupportedVersion:
		return "unsupported_version"
	case CodeNoCipherSuites:
		return "no_cipher_suites"
	case CodeDecryptionFailed:
		return "decryption_failed"
	case CodeMACVerifyFailed:
		return "mac_verify_failed"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}
