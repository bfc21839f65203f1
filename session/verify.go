package session

import (
	"github.com/pkg/errors"

	"tlsengine/credentials"
	"tlsengine/sessionerr"
)

// verify applies the peer-certificate policy once the handshake has
// completed cryptographically. Chain/CRL verification itself already ran
// inside the engine's VerifyPeerCertificate callback; this only decides
// whether the outcome is acceptable for the configured client_auth mode.
func (s *Session) verify() *sessionerr.Error {
	ok, cert, verifyErr := s.eng.VerificationResult()

	if ok {
		if cert != nil {
			s.creds.ObservePeerCert(s.role, cert)
		}
		return nil
	}

	if cert == nil {
		// No certificate was presented. Acceptable for a client's view of a
		// server only if the server's identity check was never required
		// (never true for a client, which always checks the server), and
		// acceptable for a server whose client_auth policy is none or
		// request.
		if s.role == credentials.RoleServer && s.creds.ClientAuth() != credentials.ClientAuthRequire {
			return nil
		}
	}

	subject, issuer := "", ""
	if cert != nil {
		subject, issuer = cert.Subject.String(), cert.Issuer.String()
	}
	cause := verifyErr
	if cause == nil {
		cause = errors.New("no certificate presented")
	}
	return sessionerr.VerifyFailure(cause, "peer certificate verification failed", subject, issuer)
}

// classifyHandshakeError upgrades a bare handshake error into a
// VerifyFailure when it is really the stdlib's own enforcement of a
// required-but-missing client certificate (tls.RequireAnyClientCert fails
// the handshake before our verification callback ever runs), matching the
// source library reporting that case as a verification failure rather than
// a generic protocol error.
func (s *Session) classifyHandshakeError(err error) *sessionerr.Error {
	if s.role == credentials.RoleServer &&
		s.creds.ClientAuth() == credentials.ClientAuthRequire &&
		!s.eng.CertObserved() {
		return sessionerr.VerifyFailure(err, "client certificate required but not presented", "", "")
	}
	return sessionerr.FromEngine(err)
}
