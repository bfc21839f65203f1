// Package credentials holds the certificate, private key, trust anchors,
// and policy that configure a TLS session. A Store is built once and shared
// by reference across every session that uses it; mutating it after a
// session has started using it is undefined, matching how the underlying
// cryptographic library treats its credential objects.
package credentials

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"sync"
	"time"

	"github.com/pkg/errors"
	"software.sslmate.com/src/go-pkcs12"

	"tlsengine/sessionerr"
)

// DNCallback is invoked once verification of a peer's certificate succeeds,
// with the subject and issuer distinguished names of that certificate.
type DNCallback func(role Role, subject, issuer string)

// CertInfo summarizes one certificate for CertificateInfo/TrustInfo.
type CertInfo struct {
	Serial *big.Int
	Expiry time.Time
}

// Store holds credential material shared across sessions built from it.
// Every exported method is safe to call from one goroutine while the Store
// is not yet in use by a session; concurrent use during construction is
// guarded, but the spec explicitly leaves mutation-after-first-use
// undefined, so callers should finish configuring a Store before handing it
// to session.BuildClient/BuildServer.
type Store struct {
	mu sync.RWMutex

	leaf    *tls.Certificate
	leafX   *x509.Certificate
	trust   *x509.CertPool
	trustX  []*x509.Certificate
	crls    map[string]*x509.RevocationList // keyed by issuer raw subject
	clientAuth ClientAuthMode

	priority string

	systemTrustPending bool

	dnCallback DNCallback

	// dhParams is accepted for API compatibility with the source library
	// but is never applied; see doc comment on SetDHParams.
	dhParams []byte

	peerMu   sync.Mutex
	peerCert *x509.Certificate
}

// NewStore creates an empty credential store. A server must call
// SetKeyAndCert (or LoadPKCS12) before it is usable; a client need not.
func NewStore() *Store {
	return &Store{
		trust: x509.NewCertPool(),
		crls:  make(map[string]*x509.RevocationList),
	}
}

// AddTrust adds one or more CA certificates to the trust store.
func (s *Store) AddTrust(data []byte, format Format) error {
	certs, err := parseCertificates(data, format)
	if err != nil {
		return sessionerr.Credential(err, "parsing trust certificate")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range certs {
		// The source library ignores X509_STORE_add_cert's return value on
		// duplicate insertion (§9); we do the same and simply re-add.
		s.trust.AddCert(c)
		s.trustX = append(s.trustX, c)
	}
	return nil
}

// AddCRL adds one or more certificate revocation lists.
func (s *Store) AddCRL(data []byte, format Format) error {
	lists, err := parseRevocationLists(data, format)
	if err != nil {
		return sessionerr.Credential(err, "parsing revocation list")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range lists {
		s.crls[string(l.RawIssuer)] = l
	}
	return nil
}

// SetKeyAndCert installs the end-entity certificate and private key,
// failing with a CredentialError if the key does not match the certificate.
func (s *Store) SetKeyAndCert(certBytes, keyBytes []byte, format Format) error {
	certPEM, keyPEM := certBytes, keyBytes
	if format == FormatDER {
		certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certBytes})
		keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return sessionerr.Credential(err, "key does not match certificate")
	}
	leafX, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return sessionerr.Credential(err, "parsing end-entity certificate")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaf = &cert
	s.leafX = leafX
	return nil
}

// LoadPKCS12 decomposes a PKCS#12 blob into a certificate, private key, and
// chain, validates that the key matches the certificate, and adds the chain
// to the trust store.
func (s *Store) LoadPKCS12(data []byte, password string) error {
	key, cert, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return sessionerr.Credential(err, "decoding pkcs12 bundle")
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return sessionerr.Credential(err, "encoding pkcs12 private key")
	}
	if _, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}),
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}),
	); err != nil {
		return sessionerr.Credential(err, "key does not match certificate")
	}
	tlsCert := tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaf = &tlsCert
	s.leafX = cert
	for _, c := range chain {
		s.trust.AddCert(c)
		s.trustX = append(s.trustX, c)
	}
	return nil
}

// SetClientAuth sets whether a server requests or requires a client
// certificate. It has no effect when the Store configures a client.
func (s *Store) SetClientAuth(mode ClientAuthMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientAuth = mode
}

// SetPriorityString sets the cipher-suite/version priority string, in the
// source library's own grammar (see priority.go for the subset understood
// here).
func (s *Store) SetPriorityString(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priority = p
}

// EnableSystemTrust marks the OS trust store to be loaded into the next
// engine built from this Store. The flag is consumed (and cleared on the
// Store) when the next session is built from it; that build merges the OS
// roots into the Store's trust pool, so later sessions built from the same
// Store verify against the merged pool too.
func (s *Store) EnableSystemTrust() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemTrustPending = true
}

// SetDNCallback registers a callback invoked with the peer's subject/issuer
// DN once a session built from this Store verifies it.
func (s *Store) SetDNCallback(fn DNCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dnCallback = fn
}

// SetDHParams is preserved for API compatibility with the source library,
// which accepts DH parameters but never applies them to its TLS context
// (dh_params() is a no-op there too). It is a deliberate no-op configuration
// slot; see Open Questions in the design notes.
func (s *Store) SetDHParams(params []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dhParams = params
}

// CertificateInfo reports the serial number and expiry of the end-entity
// certificate, if one has been set.
func (s *Store) CertificateInfo() []CertInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.leafX == nil {
		return nil
	}
	return []CertInfo{{Serial: s.leafX.SerialNumber, Expiry: s.leafX.NotAfter}}
}

// TrustInfo reports the serial number and expiry of every trust anchor
// added so far.
func (s *Store) TrustInfo() []CertInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CertInfo, 0, len(s.trustX))
	for _, c := range s.trustX {
		out = append(out, CertInfo{Serial: c.SerialNumber, Expiry: c.NotAfter})
	}
	return out
}

// observePeerCert caches the most recently verified peer certificate. This
// cache is shared across every session built from this Store (§9's
// documented hazard): concurrent sessions race on it, and callers needing
// per-session pinning must capture the certificate inside their DN callback
// instead of reading this cache later.
func (s *Store) observePeerCert(role Role, cert *x509.Certificate) {
	s.peerMu.Lock()
	s.peerCert = cert
	s.peerMu.Unlock()

	s.mu.RLock()
	cb := s.dnCallback
	s.mu.RUnlock()
	if cb != nil && cert != nil {
		cb(role, cert.Subject.String(), cert.Issuer.String())
	}
}

// PeerCertificate returns the most recently observed peer certificate
// across all sessions sharing this Store. See observePeerCert's hazard
// note.
func (s *Store) PeerCertificate() *x509.Certificate {
	s.peerMu.Lock()
	defer s.peerMu.Unlock()
	return s.peerCert
}

func parseCertificates(data []byte, format Format) ([]*x509.Certificate, error) {
	if format == FormatDER {
		certs, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, err
		}
		return certs, nil
	}

	var certs []*x509.Certificate
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, errors.New("no certificates found")
	}
	return certs, nil
}

func parseRevocationLists(data []byte, format Format) ([]*x509.RevocationList, error) {
	if format == FormatDER {
		l, err := x509.ParseRevocationList(data)
		if err != nil {
			return nil, err
		}
		return []*x509.RevocationList{l}, nil
	}

	var lists []*x509.RevocationList
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "X509 CRL" {
			continue
		}
		l, err := x509.ParseRevocationList(block.Bytes)
		if err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	if len(lists) == 0 {
		return nil, errors.New("no revocation lists found")
	}
	return lists, nil
}
