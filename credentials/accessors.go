package credentials

import (
	"crypto/tls"
	"crypto/x509"
)

// TrustPool returns the pool of trust anchors added so far. Callers must not
// mutate the returned pool.
func (s *Store) TrustPool() *x509.CertPool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trust
}

// ClientAuth returns the configured client-auth policy.
func (s *Store) ClientAuth() ClientAuthMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientAuth
}

// Leaf returns the end-entity certificate/key pair, or nil if none was set.
func (s *Store) Leaf() *tls.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leaf
}

// PriorityString returns the configured priority/cipher-suite string.
func (s *Store) PriorityString() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priority
}

// ConsumeSystemTrustPending reports whether system trust loading was
// requested and has not yet been serviced, clearing the flag as it does so.
// Called by engine.New while it builds the tls.Config, so system trust is
// loaded once per request rather than once per session.
func (s *Store) ConsumeSystemTrustPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.systemTrustPending
	s.systemTrustPending = false
	return pending
}

// LoadSystemTrust merges the OS trust store into the Store's trust pool.
func (s *Store) LoadSystemTrust() error {
	sys, err := x509.SystemCertPool()
	if err != nil {
		return err
	}
	if sys == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// x509.CertPool has no enumerator, so we can only merge it in as an
	// additional pool to consult; keep it alongside the explicit trust pool
	// by cloning the explicitly-added certs into it.
	for _, c := range s.trustX {
		sys.AddCert(c)
	}
	s.trust = sys
	return nil
}

// ObservePeerCert caches the most recently verified peer certificate and
// invokes the DN callback, if one is registered. See the hazard note on the
// Store's DN cache in the design notes (§9): it is shared across every
// session built from this Store.
func (s *Store) ObservePeerCert(role Role, cert *x509.Certificate) {
	s.observePeerCert(role, cert)
}
