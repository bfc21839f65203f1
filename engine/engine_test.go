package engine

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
	"go.uber.org/goleak"

	"tlsengine/credentials"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func genCert(t *testing.T, cn string, parent *x509.Certificate, parentKey *ecdsa.PrivateKey, isCA bool) ([]byte, []byte, *x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		DNSNames:              []string{cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IsCA:                  isCA,
		BasicConstraintsValid: true,
	}

	signerCert, signerKey := tmpl, key
	if parent != nil {
		signerCert, signerKey = parent, parentKey
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

func pump(t *testing.T, a, b *Engine) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if a.HandshakeDone() && b.HandshakeDone() {
			return
		}
		if c := a.DrainCiphertext(); len(c) > 0 {
			b.FeedCiphertext(c)
		}
		if c := b.DrainCiphertext(); len(c) > 0 {
			a.FeedCiphertext(c)
		}
	}
}

func newPair(t *testing.T, serverOpts, clientOpts Options) (*Engine, *Engine) {
	t.Helper()
	server := New(serverOpts)
	client := New(clientOpts)

	done := make(chan struct{}, 2)
	go func() {
		for {
			status, _ := client.ProgressHandshake()
			if status == StatusDone || status == StatusError {
				done <- struct{}{}
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
	go func() {
		for {
			status, _ := server.ProgressHandshake()
			if status == StatusDone || status == StatusError {
				done <- struct{}{}
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	// Pump ciphertext between the two engines' memConns until both sides
	// finish. Both ProgressHandshake loops above are driven by their own
	// goroutines per call, so this pump only shuttles bytes.
	go func() {
		for i := 0; i < 10000; i++ {
			pump(t, server, client)
			if server.HandshakeDone() && client.HandshakeDone() {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	<-done
	<-done
	return server, client
}

func TestHandshakeRoundTrip(t *testing.T) {
	caPEM, _, ca, caKey := genCert(t, "root-ca", nil, nil, true)
	serverCertPEM, serverKeyPEM, _, _ := genCert(t, "server.example", ca, caKey, false)

	serverCreds := credentials.NewStore()
	require.NoError(t, serverCreds.SetKeyAndCert(serverCertPEM, serverKeyPEM, credentials.FormatPEM))

	clientCreds := credentials.NewStore()
	require.NoError(t, clientCreds.AddTrust(caPEM, credentials.FormatPEM))

	server, client := newPair(t,
		Options{Role: credentials.RoleServer, Creds: serverCreds},
		Options{Role: credentials.RoleClient, Creds: clientCreds, ServerName: "server.example"},
	)

	require.True(t, server.HandshakeDone())
	require.True(t, client.HandshakeDone())

	ok, cert, _ := client.VerificationResult()
	require.True(t, ok)
	require.NotNil(t, cert)
	require.Equal(t, "server.example", cert.Subject.CommonName)
}

func TestRequiredClientCertMissingFailsServerVerification(t *testing.T) {
	caPEM, _, ca, caKey := genCert(t, "root-ca", nil, nil, true)
	serverCertPEM, serverKeyPEM, _, _ := genCert(t, "server.example", ca, caKey, false)

	serverCreds := credentials.NewStore()
	require.NoError(t, serverCreds.SetKeyAndCert(serverCertPEM, serverKeyPEM, credentials.FormatPEM))
	serverCreds.SetClientAuth(credentials.ClientAuthRequire)

	clientCreds := credentials.NewStore()
	require.NoError(t, clientCreds.AddTrust(caPEM, credentials.FormatPEM))

	server := New(Options{Role: credentials.RoleServer, Creds: serverCreds})
	client := New(Options{Role: credentials.RoleClient, Creds: clientCreds, ServerName: "server.example"})

	for i := 0; i < 200; i++ {
		sStatus, _ := server.ProgressHandshake()
		cStatus, _ := client.ProgressHandshake()
		if c := server.DrainCiphertext(); len(c) > 0 {
			client.FeedCiphertext(c)
		}
		if c := client.DrainCiphertext(); len(c) > 0 {
			server.FeedCiphertext(c)
		}
		if sStatus == StatusError && cStatus == StatusError {
			break
		}
	}

	require.False(t, server.HandshakeDone())
	require.False(t, server.CertObserved())
}
