// Command echo is a minimal client/server smoke test for the session
// engine: it wires a client and a server session together over an
// in-memory transport/pipe.PipeTransport, runs a handshake, exchanges one
// message each way, prints what the client learned about the server's
// certificate, and shuts both sessions down.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"math/big"
	"time"

	"github.com/benbjohnson/clock"

	"tlsengine/credentials"
	"tlsengine/session"
	"tlsengine/transport"
	"tlsengine/transport/pipe"
)

const serverName = "echo.localhost"

func main() {
	caPEM, serverCertPEM, serverKeyPEM := mustSelfSignedServer(serverName)

	serverCreds := credentials.NewStore()
	if err := serverCreds.SetKeyAndCert(serverCertPEM, serverKeyPEM, credentials.FormatPEM); err != nil {
		log.Fatalf("server credentials: %s", err)
	}

	clientCreds := credentials.NewStore()
	if err := clientCreds.AddTrust(caPEM, credentials.FormatPEM); err != nil {
		log.Fatalf("client credentials: %s", err)
	}

	transp := pipe.NewPipeTransport(clock.New())
	addr := pipe.Addr{Name: "echo-server"}

	listener, err := transp.Listen(addr)
	if err != nil {
		log.Fatalf("listen: %s", err)
	}
	defer listener.Close()

	serverDone := make(chan error, 1)
	go func() { serverDone <- runServer(listener, serverCreds) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transp.Dial(ctx, addr)
	if err != nil {
		log.Fatalf("dial: %s", err)
	}

	client := session.BuildClient(clientCreds, conn, session.Options{ServerName: serverName})

	if _, err := client.Write([]byte("ping")); err != nil {
		log.Fatalf("client write: %s", err)
	}

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil {
		log.Fatalf("client read: %s", err)
	}
	fmt.Printf("client received: %q\n", buf[:n])

	if subject, issuer, ok := client.DistinguishedName(); ok {
		fmt.Printf("client sees server DN: subject=%q issuer=%q\n", subject, issuer)
	}
	for _, san := range client.SubjectAltNames(nil) {
		fmt.Printf("client sees server SAN: %s=%s\n", san.Type, san.Value)
	}

	if err := client.Close(context.Background()); err != nil {
		log.Fatalf("client close: %s", err)
	}

	if err := <-serverDone; err != nil {
		log.Fatalf("server: %s", err)
	}
}

func runServer(listener transport.ConnListener, creds *credentials.Store) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := listener.Accept(ctx)
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}

	server := session.BuildServer(creds, conn)

	buf := make([]byte, 64)
	n, err := server.Read(buf)
	if err != nil {
		return fmt.Errorf("server read: %w", err)
	}
	fmt.Printf("server received: %q\n", buf[:n])

	if _, err := server.Write([]byte("pong")); err != nil {
		return fmt.Errorf("server write: %w", err)
	}

	// Wait for the client's close_notify, which an ordinary Read reports
	// as io.EOF, before closing this side rather than closing immediately.
	if _, err := server.Read(buf); err != nil && err != io.EOF {
		return fmt.Errorf("server drain: %w", err)
	}

	return server.Close(context.Background())
}

// mustSelfSignedServer builds a CA and a leaf certificate signed by it for
// serverName, panicking on any failure: this is demo fixture generation,
// not production credential handling.
func mustSelfSignedServer(name string) (caPEM, certPEM, keyPEM []byte) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Fatalf("generate ca key: %s", err)
	}
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "echo demo root"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		log.Fatalf("create ca cert: %s", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		log.Fatalf("parse ca cert: %s", err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Fatalf("generate leaf key: %s", err)
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: name},
		DNSNames:     []string{name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, caCert, &leafKey.PublicKey, caKey)
	if err != nil {
		log.Fatalf("create leaf cert: %s", err)
	}
	leafKeyDER, err := x509.MarshalECPrivateKey(leafKey)
	if err != nil {
		log.Fatalf("marshal leaf key: %s", err)
	}

	caPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER})
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: leafKeyDER})
	return caPEM, certPEM, keyPEM
}
