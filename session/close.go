package session

import (
	"context"
	"time"

	"tlsengine/engine"
)

// shutdownTimeout bounds how long Close waits for the shutdown protocol
// (our close_notify, and optionally the peer's) before giving up and
// forcing the transport closed anyway (§4.E: shutting_down → closed on
// "10-second timeout fires").
const shutdownTimeout = 10 * time.Second

// Close sends a close_notify, optionally waits for the peer's own
// close_notify (per Options.WaitForEOFOnShutdown), and releases the
// transport. It is idempotent: calling it again after a clean close is a
// no-op. Close is best-effort: any error encountered while running the
// shutdown protocol is swallowed, and the deadline below forces the
// transport closed rather than hanging on a peer that never sends its own
// close_notify (§7 Policy).
//
// ctx bounds the same deadline from the caller's side: if it carries an
// earlier deadline than the built-in 10 seconds, that one wins.
func (s *Session) Close(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.getPhase() == PhaseClosed {
		return nil
	}
	if err := s.sticky(); err != nil {
		return err
	}

	s.mu.Lock()
	s.shutdownRequested = true
	s.mu.Unlock()
	s.setPhase(PhaseShuttingDown)

	deadline := s.clk.Now().Add(shutdownTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	s.tr.SetReadDeadLine(deadline)
	s.tr.SetWriteDeadLine(deadline)
	defer func() {
		s.tr.SetReadDeadLine(time.Time{})
		s.tr.SetWriteDeadLine(time.Time{})
	}()

	// Errors here are swallowed, not propagated: a peer that never
	// acknowledges our close_notify, or a transport that errors mid-close,
	// still leaves us wanting to tear the transport down and move on.
	_ = s.sendShutdown()

	if s.opts.WaitForEOFOnShutdown {
		// waitForPeerEOF drives the same e.ReadPlaintext an application
		// Read would, so it must hold readMu exactly as Read does (§5: read
		// half of EOF draining is serialized under read_mutex too).
		s.readMu.Lock()
		_ = s.waitForPeerEOF()
		s.readMu.Unlock()
	}

	// Whatever goroutine sendShutdown/waitForPeerEOF left parked inside the
	// engine (e.g. one that unblocked on a deadline rather than ciphertext)
	// gets force-unblocked here rather than left leaking now that the
	// transport is going away too.
	_ = s.eng.Close()
	_ = s.tr.Close()
	s.setPhase(PhaseClosed)
	s.log.Debug("session closed", "role", s.role)
	return nil
}

func (s *Session) sendShutdown() error {
	for {
		status, err := s.eng.InitiateShutdown()
		switch status {
		case engine.StatusNeedsWrite:
			if perr := s.flushCiphertext(); perr != nil {
				return perr
			}
		case engine.StatusNeedsRead:
			if perr := s.pullAndFeed(); perr != nil {
				return perr
			}
		case engine.StatusPartial:
			continue
		case engine.StatusDone:
			return s.flushCiphertext()
		case engine.StatusError:
			return err
		}
	}
}

// waitForPeerEOF reads until the peer's own close_notify arrives. Any
// application data the peer sends after we asked to shut down is
// discarded, matching wait_for_eof_on_shutdown's role as a drain, not a
// second read channel.
func (s *Session) waitForPeerEOF() error {
	buf := make([]byte, pullChunkSize)
	for {
		status, _, err := s.eng.ReadPlaintext(len(buf))
		switch status {
		case engine.StatusCleanEOF:
			return nil
		case engine.StatusNeedsRead:
			if perr := s.pullAndFeed(); perr != nil {
				return perr
			}
		case engine.StatusNeedsWrite:
			if perr := s.flushCiphertext(); perr != nil {
				return perr
			}
		case engine.StatusDone:
			continue
		case engine.StatusError:
			return err
		}
	}
}
