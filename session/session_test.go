package session_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tlsengine/credentials"
	"tlsengine/session"
	"tlsengine/sessionerr"
	"tlsengine/transport/pipe"
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

func buildPair(t *testing.T) (*session.Session, *session.Session) {
	t.Helper()

	caPEM, _, ca, caKey := genCert(t, "root-ca", nil, nil, true)
	serverCertPEM, serverKeyPEM, _, _ := genCert(t, "server.example", ca, caKey, false)

	serverCreds := credentials.NewStore()
	require.NoError(t, serverCreds.SetKeyAndCert(serverCertPEM, serverKeyPEM, credentials.FormatPEM))

	clientCreds := credentials.NewStore()
	require.NoError(t, clientCreds.AddTrust(caPEM, credentials.FormatPEM))

	serverConn, clientConn := pipe.Pipe("server", "client", clock.New())

	server := session.BuildServer(serverCreds, serverConn)
	client := session.BuildClient(clientCreds, clientConn, session.Options{ServerName: "server.example"})
	return server, client
}

func TestPlainEcho(t *testing.T) {
	server, client := buildPair(t)

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := server.Read(buf)
		if err != nil {
			serverErr <- err
			return
		}
		require.Equal(t, "ping", string(buf[:n]))
		_, err = server.Write([]byte("pong"))
		serverErr <- err
	}()

	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf[:n]))

	require.NoError(t, <-serverErr)
	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, server.Close(context.Background()))
}

func TestLargeWrite(t *testing.T) {
	server, client := buildPair(t)

	payload := make([]byte, 100_000)
	for i := range payload {
		payload[i] = byte(i)
	}

	writeErr := make(chan error, 1)
	go func() {
		_, err := client.Write(payload)
		writeErr <- err
	}()

	received := make([]byte, 0, len(payload))
	buf := make([]byte, 4096)
	for len(received) < len(payload) {
		n, err := server.Read(buf)
		require.NoError(t, err)
		received = append(received, buf[:n]...)
	}

	require.NoError(t, <-writeErr)
	require.Equal(t, payload, received)

	require.NoError(t, client.Close(context.Background()))
	require.NoError(t, server.Close(context.Background()))
}

func TestGracefulCloseThenRead(t *testing.T) {
	server, client := buildPair(t)

	// Establish the session first so Close doesn't race a fresh handshake.
	_, err := client.Write([]byte("x"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = server.Read(buf)
	require.NoError(t, err)

	closeDone := make(chan error, 1)
	go func() { closeDone <- client.Close(context.Background()) }()

	n, err := server.Read(buf)
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)

	require.NoError(t, <-closeDone)
	require.NoError(t, server.Close(context.Background()))
}

func TestCloseHonorsEarlierContextDeadline(t *testing.T) {
	server, client := buildPair(t)

	_, err := client.Write([]byte("x"))
	require.NoError(t, err)
	buf := make([]byte, 1)
	_, err = server.Read(buf)
	require.NoError(t, err)

	// The server never reads again, so the client's close_notify write
	// would otherwise block until the 10-second shutdown deadline; an
	// already-expired ctx deadline should win and return well before that.
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Millisecond))
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Close(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not honor the earlier context deadline")
	}

	require.Equal(t, session.PhaseClosed, client.Phase())
	require.NoError(t, server.Close(context.Background()))
}

func TestRequiredClientCertMissing(t *testing.T) {
	caPEM, _, ca, caKey := genCert(t, "root-ca", nil, nil, true)
	serverCertPEM, serverKeyPEM, _, _ := genCert(t, "server.example", ca, caKey, false)

	serverCreds := credentials.NewStore()
	require.NoError(t, serverCreds.SetKeyAndCert(serverCertPEM, serverKeyPEM, credentials.FormatPEM))
	serverCreds.SetClientAuth(credentials.ClientAuthRequire)

	clientCreds := credentials.NewStore()
	require.NoError(t, clientCreds.AddTrust(caPEM, credentials.FormatPEM))

	serverConn, clientConn := pipe.Pipe("server", "client", clock.New())
	server := session.BuildServer(serverCreds, serverConn)
	client := session.BuildClient(clientCreds, clientConn, session.Options{ServerName: "server.example"})

	serverErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		_, err := server.Read(buf)
		serverErr <- err
	}()

	buf := make([]byte, 1)
	_, clientReadErr := client.Read(buf)
	require.Error(t, clientReadErr)

	sErr := <-serverErr
	require.Error(t, sErr)
	require.ErrorIs(t, sErr, sessionerr.VerifyFailure(nil, "", "", ""))
}
