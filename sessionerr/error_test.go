package sessionerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := PipeClosed()
	require.True(t, errors.Is(err, PipeClosed()))
	require.False(t, errors.Is(err, Timeout()))
}

func TestErrorIsMatchesCodeWhenSet(t *testing.T) {
	a := Protocol(errors.New("boom"), CodeDecryptionFailed, "decrypt failed")
	b := Protocol(nil, CodeDecryptionFailed, "")
	c := Protocol(nil, CodeMACVerifyFailed, "")

	require.True(t, errors.Is(a, b))
	require.False(t, errors.Is(a, c))
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("underlying")
	err := ClosedUnexpectedEOF(cause)
	require.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorStringIncludesKindReasonSubjectAndIssuer(t *testing.T) {
	err := VerifyFailure(errors.New("x"), "chain did not verify", "CN=leaf", "CN=ca")
	msg := err.Error()
	require.Contains(t, msg, "verify_failure")
	require.Contains(t, msg, "chain did not verify")
	require.Contains(t, msg, "CN=leaf")
	require.Contains(t, msg, "CN=ca")
}
