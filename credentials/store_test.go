package credentials

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// genCert builds a minimal self-signed PEM certificate/key pair for tests,
// optionally signed by a given parent (nil means self-signed root).
func genCert(t *testing.T, cn string, parentCert *x509.Certificate, parentKey *ecdsa.PrivateKey) ([]byte, []byte, *x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:         parentCert == nil,
		BasicConstraintsValid: true,
	}

	signerCert, signerKey := tmpl, key
	if parentCert != nil {
		signerCert, signerKey = parentCert, parentKey
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, &key.PublicKey, signerKey)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return certPEM, keyPEM, cert, key
}

func TestSetKeyAndCertRoundTrip(t *testing.T) {
	s := NewStore()
	certPEM, keyPEM, cert, _ := genCert(t, "leaf.example", nil, nil)

	require.NoError(t, s.SetKeyAndCert(certPEM, keyPEM, FormatPEM))
	require.NotNil(t, s.Leaf())
	require.Equal(t, cert.SerialNumber, s.leafX.SerialNumber)
	require.Len(t, s.CertificateInfo(), 1)
}

func TestSetKeyAndCertMismatchFails(t *testing.T) {
	s := NewStore()
	certPEM, _, _, _ := genCert(t, "leaf.example", nil, nil)
	_, otherKeyPEM, _, _ := genCert(t, "other.example", nil, nil)

	err := s.SetKeyAndCert(certPEM, otherKeyPEM, FormatPEM)
	require.Error(t, err)
}

func TestAddTrustAndTrustInfo(t *testing.T) {
	s := NewStore()
	caPEM, _, ca, _ := genCert(t, "root-ca", nil, nil)

	require.NoError(t, s.AddTrust(caPEM, FormatPEM))
	require.Len(t, s.TrustInfo(), 1)
	require.Equal(t, ca.SerialNumber, s.TrustInfo()[0].Serial)
	require.NotNil(t, s.TrustPool())
}

func TestAddTrustDuplicateInsertionIsAccepted(t *testing.T) {
	s := NewStore()
	caPEM, _, _, _ := genCert(t, "root-ca", nil, nil)

	require.NoError(t, s.AddTrust(caPEM, FormatPEM))
	require.NoError(t, s.AddTrust(caPEM, FormatPEM))
	require.Len(t, s.TrustInfo(), 2)
}

func TestAddCRLMarksRevoked(t *testing.T) {
	_, _, ca, caKey := genCert(t, "root-ca", nil, nil)
	_, _, leafCert, _ := genCert(t, "leaf.example", ca, caKey)

	revoked := []pkix.RevokedCertificate{{SerialNumber: leafCert.SerialNumber, RevocationTime: time.Now()}}
	crlDER, err := ca.CreateCRL(rand.Reader, caKey, revoked, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	crlPEM := pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crlDER})

	s := NewStore()
	require.NoError(t, s.AddCRL(crlPEM, FormatPEM))
	require.True(t, s.IsRevoked(leafCert))
}

func TestSetDHParamsIsANoop(t *testing.T) {
	s := NewStore()
	s.SetDHParams([]byte("anything"))
	// No observable effect: there is nothing to assert except that it does
	// not panic and does not surface through any other accessor.
}
