package anonchat

import (
	"errors"

	"github.com/X-Irrelevant-X/AnonChat/internal/crypto"
)

// Failure taxonomy for the encryption core. All failures surface to the
// immediate caller wrapped with %w; none are retried automatically. Key and
// crypto operations are not safely retryable without re-deriving inputs
// (e.g. a fresh IV), so retry is the caller's explicit choice.
var (
	// ErrCryptoFailure is a primitive-level fault: bad key format,
	// unsupported algorithm, RNG failure.
	ErrCryptoFailure = crypto.ErrCryptoFailure

	// ErrDecryptFailed is a ciphertext or authentication tag mismatch.
	// A wrong password produces exactly this error; the scheme provides no
	// distinguishable wrong-password signal, which avoids a password oracle.
	ErrDecryptFailed = crypto.ErrDecryptFailed

	// ErrPayloadTooLarge is a plaintext above the asymmetric scheme's size
	// bound; callers should use the hybrid scheme instead.
	ErrPayloadTooLarge = crypto.ErrPayloadTooLarge

	// ErrKeyNotFound indicates no key record exists for the given user.
	ErrKeyNotFound = errors.New("user keys not found")

	// ErrNoActiveSession indicates an operation was attempted against an
	// empty session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrStorageFailure indicates a document store operation failed.
	ErrStorageFailure = errors.New("storage failure")
)
