package credentials

import "crypto/x509"

// IsRevoked reports whether cert's serial number appears on a revocation
// list previously added for cert's issuer via AddCRL.
func (s *Store) IsRevoked(cert *x509.Certificate) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, ok := s.crls[string(cert.RawIssuer)]
	if !ok {
		return false
	}
	for _, entry := range list.RevokedCertificateEntries {
		if entry.SerialNumber != nil && cert.SerialNumber != nil &&
			entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
			return true
		}
	}
	return false
}
