package credentials

import (
	"crypto/tls"
	"strings"
)

// ApplyPriority maps a GnuTLS-style priority string onto a tls.Config's
// version fields. Only a pragmatic subset of the real grammar is
// understood: the leading keyword is skipped, the floor is TLS 1.2 and the
// ceiling is crypto/tls's own unless a later token changes them, and only
// three tokens are acted on: "-VERS-TLS1.3" caps the ceiling at TLS 1.2,
// "+VERS-TLS1.3" sets it to TLS 1.3, and "-VERS-TLS1.2" raises the floor
// to TLS 1.3. Anything else is accepted but ignored, since the full grammar belongs to
// the source library we are deliberately not reimplementing (§1 non-goal:
// no custom cipher/protocol implementations).
//
// The source's hard-coded TLS 1.2 floor is preserved here as the default;
// whether to widen it to allow negotiating down to older versions was
// flagged as an open question (§9) and decided against, since crypto/tls
// itself no longer supports TLS 1.0/1.1 without an explicit GODEBUG opt-out.
func ApplyPriority(cfg *tls.Config, priority string) {
	cfg.MinVersion = tls.VersionTLS12
	cfg.MaxVersion = 0 // let crypto/tls pick its own ceiling (TLS 1.3 today)

	if priority == "" {
		return
	}

	tokens := strings.Split(priority, ":")
	for _, tok := range tokens[1:] {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		switch {
		case strings.HasPrefix(tok, "-VERS-TLS1.3"):
			cfg.MaxVersion = tls.VersionTLS12
		case strings.HasPrefix(tok, "+VERS-TLS1.3"):
			cfg.MaxVersion = tls.VersionTLS13
		case strings.HasPrefix(tok, "-VERS-TLS1.2"):
			cfg.MinVersion = tls.VersionTLS13
		}
	}
}
