package engine

import (
	"crypto/x509"
	"fmt"

	"tlsengine/credentials"
)

// verifyCallback builds the VerifyPeerCertificate hook installed on the
// wrapped tls.Config. It never fails the handshake itself: verification
// outcome is recorded for the driver to act on after progress_handshake
// reports done, matching the source library's two-step
// "handshake finishes, verification is polled separately" shape. The one
// exception is a required-but-absent client certificate, which
// tls.RequireAnyClientCert enforces below this callback and surfaces as a
// handshake error instead, matching a real TLS alert round trip.
func (e *Engine) verifyCallback() func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			e.setVerifyResult(nil, nil)
			return nil
		}

		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			c, err := x509.ParseCertificate(raw)
			if err != nil {
				e.setVerifyResult(err, nil)
				return nil
			}
			certs = append(certs, c)
		}
		leaf := certs[0]

		intermediates := x509.NewCertPool()
		for _, c := range certs[1:] {
			intermediates.AddCert(c)
		}

		// No DNSName is set here: hostname/SNI matching is an
		// application-level check layered on DistinguishedName/SAN, not
		// part of chain verification. A handshake with a mismatched name
		// still completes; it's the caller's job to reject it afterward.
		opts := x509.VerifyOptions{
			Roots:         e.creds.TrustPool(),
			Intermediates: intermediates,
		}
		if e.role == credentials.RoleServer {
			opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
		}

		chains, err := leaf.Verify(opts)
		if err != nil {
			e.setVerifyResult(err, leaf)
			return nil
		}

		for _, chain := range chains {
			for _, c := range chain {
				if e.creds.IsRevoked(c) {
					e.setVerifyResult(fmt.Errorf("certificate %s is revoked", c.SerialNumber), leaf)
					return nil
				}
			}
		}

		e.setVerifyResult(nil, leaf)
		return nil
	}
}
