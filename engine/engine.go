package engine

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"

	"tlsengine/credentials"
)

// discardLogger is used whenever Options.Logger is nil, so call sites never
// have to guard against a nil receiver.
var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// opResult is the outcome of a blocking crypto/tls call run on its own
// goroutine. data is only meaningful for read operations.
type opResult struct {
	n    int
	data []byte
	err  error
}

type pendingOp struct {
	ch chan opResult
}

// Engine wraps a crypto/tls.Conn bound to an in-memory duplex connection,
// giving the session driver non-blocking, status-returning access to the
// handshake and record layer (§4, component D).
type Engine struct {
	role       credentials.Role
	creds      *credentials.Store
	serverName string
	log        *slog.Logger

	mc   *memConn
	conn *tls.Conn

	handshake *pendingOp
	read      *pendingOp
	write     *pendingOp
	shutdown  *pendingOp

	handshakeDone atomic.Bool

	verified     bool
	verifyErr    error
	peerCert     *x509.Certificate
	certObserved bool
}

// Options configures a new Engine. ServerName is the SNI value and only
// matters for a client; the peer certificate is not checked against it.
// Logger receives handshake diagnostics; nil (the default) logs nothing.
type Options struct {
	Role       credentials.Role
	Creds      *credentials.Store
	ServerName string
	Logger     *slog.Logger
}

// New builds an Engine ready to run a handshake. No I/O happens until
// ProgressHandshake is first called.
func New(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = discardLogger
	}

	e := &Engine{
		role:       opts.Role,
		creds:      opts.Creds,
		serverName: opts.ServerName,
		log:        log,
		mc:         newMemConn(),
	}

	cfg := e.buildConfig()
	if opts.Role == credentials.RoleServer {
		e.conn = tls.Server(e.mc, cfg)
	} else {
		e.conn = tls.Client(e.mc, cfg)
	}
	return e
}

func (e *Engine) buildConfig() *tls.Config {
	cfg := &tls.Config{
		InsecureSkipVerify:    true,
		VerifyPeerCertificate: e.verifyCallback(),
	}

	if e.creds.ConsumeSystemTrustPending() {
		// Best effort: the source library treats a failure to load the
		// platform trust store as non-fatal at configuration time too.
		_ = e.creds.LoadSystemTrust()
	}

	credentials.ApplyPriority(cfg, e.creds.PriorityString())

	if leaf := e.creds.Leaf(); leaf != nil {
		cfg.Certificates = []tls.Certificate{*leaf}
	}

	if e.role == credentials.RoleServer {
		switch e.creds.ClientAuth() {
		case credentials.ClientAuthRequest:
			cfg.ClientAuth = tls.RequestClientCert
		case credentials.ClientAuthRequire:
			cfg.ClientAuth = tls.RequireAnyClientCert
		default:
			cfg.ClientAuth = tls.NoClientCert
		}
	} else {
		cfg.ServerName = e.serverName
		cfg.Renegotiation = tls.RenegotiateFreelyAsClient
	}

	return cfg
}

// FeedCiphertext hands the engine ciphertext pulled from the transport.
func (e *Engine) FeedCiphertext(p []byte) {
	e.mc.feed(p)
}

// FeedCiphertextEOF marks the transport's read side as exhausted.
func (e *Engine) FeedCiphertextEOF() {
	e.mc.feedEOF()
}

// DrainCiphertext removes and returns ciphertext the engine has produced
// for the driver to push to the transport.
func (e *Engine) DrainCiphertext() []byte {
	return e.mc.drain()
}

// PendingCiphertext reports whether DrainCiphertext would return data.
func (e *Engine) PendingCiphertext() bool {
	return e.mc.pending()
}

// PendingPlaintext always reports false: crypto/tls does not expose its
// internal record buffering, so the driver relies on ReadPlaintext's own
// needs_read/done status rather than a pre-check here.
func (e *Engine) PendingPlaintext() bool {
	return false
}

func statusFromErr(err error) (Status, error) {
	switch {
	case err == nil:
		return StatusDone, nil
	case errors.Is(err, io.EOF):
		return StatusCleanEOF, nil
	default:
		return StatusError, err
	}
}

// blocked reports whether the in-memory connection is currently stuck
// needing ciphertext drained or fed, i.e. whether an in-flight op cannot
// possibly have progressed without the driver's help.
func (e *Engine) blocked() (Status, bool) {
	if e.mc.pending() {
		return StatusNeedsWrite, true
	}
	if e.mc.isReadBlocked() {
		return StatusNeedsRead, true
	}
	return 0, false
}

// drive waits until either op completes or the in-memory connection needs
// attention, without ever blocking on the transport itself. done is true
// only when op's result is ready.
func (e *Engine) drive(op *pendingOp) (status Status, res opResult, done bool) {
	for {
		wait := e.mc.waitCh()
		if s, isBlocked := e.blocked(); isBlocked {
			select {
			case r := <-op.ch:
				return 0, r, true
			default:
				return s, opResult{}, false
			}
		}
		select {
		case r := <-op.ch:
			return 0, r, true
		case <-wait:
		}
	}
}

// ProgressHandshake advances the handshake. It may be called repeatedly;
// the underlying crypto/tls.HandshakeContext call is only started once.
func (e *Engine) ProgressHandshake() (Status, error) {
	if e.handshake == nil {
		ch := make(chan opResult, 1)
		e.handshake = &pendingOp{ch: ch}
		go func() {
			err := e.conn.HandshakeContext(context.Background())
			ch <- opResult{err: err}
		}()
	}

	status, res, done := e.drive(e.handshake)
	if !done {
		return status, nil
	}
	e.handshake = nil
	s, err := statusFromErr(res.err)
	if s == StatusError {
		e.log.Error("handshake failed", "role", e.role, "error", err)
	} else if s == StatusDone {
		e.handshakeDone.Store(true)
		e.log.Debug("handshake finished", "role", e.role)
	}
	return s, err
}

// HandshakeDone reports whether ProgressHandshake has returned StatusDone.
// It never blocks, so it may be polled while a handshake is in flight.
func (e *Engine) HandshakeDone() bool {
	return e.handshakeDone.Load()
}

// ReadPlaintext attempts to read up to max bytes of decrypted application
// data. Status is StatusDone with data on success, StatusCleanEOF on a
// conforming close_notify, StatusNeedsRead if more ciphertext is required,
// StatusNeedsWrite if ciphertext must be drained first, or StatusError.
func (e *Engine) ReadPlaintext(max int) (Status, []byte, error) {
	if e.read == nil {
		buf := make([]byte, max)
		ch := make(chan opResult, 1)
		e.read = &pendingOp{ch: ch}
		go func() {
			n, err := e.conn.Read(buf)
			ch <- opResult{n: n, data: buf[:n], err: err}
		}()
	}

	status, res, done := e.drive(e.read)
	if !done {
		return status, nil, nil
	}
	e.read = nil
	if res.err == nil {
		return StatusDone, res.data, nil
	}
	s, err := statusFromErr(res.err)
	return s, nil, err
}

// WritePlaintext attempts to write p as application data.
func (e *Engine) WritePlaintext(p []byte) (Status, int, error) {
	if e.write == nil {
		ch := make(chan opResult, 1)
		e.write = &pendingOp{ch: ch}
		go func() {
			n, err := e.conn.Write(p)
			ch <- opResult{n: n, err: err}
		}()
	}

	status, res, done := e.drive(e.write)
	if !done {
		return status, 0, nil
	}
	e.write = nil
	if res.err == nil {
		return StatusDone, res.n, nil
	}
	s, err := statusFromErr(res.err)
	return s, res.n, err
}

// InitiateShutdown sends a close_notify without tearing down the read side,
// so the driver can keep calling ReadPlaintext afterward to wait for the
// peer's own close_notify.
func (e *Engine) InitiateShutdown() (Status, error) {
	if e.shutdown == nil {
		ch := make(chan opResult, 1)
		e.shutdown = &pendingOp{ch: ch}
		go func() {
			err := e.conn.CloseWrite()
			ch <- opResult{err: err}
		}()
	}

	status, res, done := e.drive(e.shutdown)
	if !done {
		return status, nil
	}
	e.shutdown = nil
	return statusFromErr(res.err)
}

// Close forces the underlying in-memory connection closed, unblocking any
// goroutine currently parked inside a Handshake/Read/Write/InitiateShutdown
// call on e.conn. The driver calls this when it is about to abandon an
// in-flight operation after a transport failure, so that call returns
// instead of leaking forever waiting on ciphertext that can no longer
// arrive (§5: the mutex holder must let the current crypto-engine call
// finish, even when that call can only finish by erroring out). Safe to
// call more than once.
func (e *Engine) Close() error {
	return e.mc.Close()
}

// setVerifyResult records the outcome of the last VerifyPeerCertificate
// call. A nil err with a non-nil cert means the chain verified; a nil cert
// means the peer presented nothing.
func (e *Engine) setVerifyResult(err error, cert *x509.Certificate) {
	e.verified = err == nil
	e.verifyErr = err
	e.peerCert = cert
	e.certObserved = true
}

// VerificationResult reports the outcome of peer certificate verification.
// ok is false until a certificate message has actually been processed.
func (e *Engine) VerificationResult() (ok bool, cert *x509.Certificate, err error) {
	return e.verified, e.peerCert, e.verifyErr
}

// CertObserved reports whether any certificate verification callback has
// run yet, distinguishing "no certificate presented" from "handshake never
// got that far".
func (e *Engine) CertObserved() bool {
	return e.certObserved
}

// PeerCertificate returns the peer certificate retained during the
// handshake, or nil if none was presented.
func (e *Engine) PeerCertificate() *x509.Certificate {
	return e.peerCert
}
