package anonchat

import (
	"fmt"
	"time"

	"github.com/X-Irrelevant-X/AnonChat/audit"
	"github.com/X-Irrelevant-X/AnonChat/internal/crypto"
)

// DefaultSessionTimeout is the inactivity window after which an active
// session is evicted without explicit caller action.
const DefaultSessionTimeout = 30 * time.Minute

// Options configures the encryption core.
//
// The zero value is not usable; start from DefaultOptions. Nothing in
// Options is secret; passwords are supplied per call, never stored in
// configuration.
type Options struct {
	// SessionTimeout is the sliding inactivity window for the session
	// cache. Every private or public key access resets the deadline.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// KDF selects the password derivation for newly written key records:
	// crypto.KDFSHA256 (legacy single-round SHA-256, the default, matching
	// deployed records) or crypto.KDFArgon2id (memory-hard, per-user salt).
	// Reading always honors whatever the stored record declares.
	KDF string `yaml:"kdf"`

	// Audit configures the audit sink. Nil disables auditing.
	Audit *audit.Config `yaml:"audit"`
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		SessionTimeout: DefaultSessionTimeout,
		KDF:            crypto.KDFSHA256,
	}
}

func validateOptions(options Options) error {
	if options.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be positive, got %v", options.SessionTimeout)
	}
	switch options.KDF {
	case crypto.KDFSHA256, crypto.KDFArgon2id:
	default:
		return fmt.Errorf("unknown kdf %q", options.KDF)
	}
	return nil
}
