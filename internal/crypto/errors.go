package crypto

import "errors"

var (
	// ErrCryptoFailure indicates a primitive-level fault: a malformed key,
	// an unsupported algorithm, or a failure of the platform's random
	// number generator.
	ErrCryptoFailure = errors.New("crypto failure")

	// ErrDecryptFailed indicates a padding or authentication tag mismatch.
	// A wrong password surfaces as this same error; the two are deliberately
	// indistinguishable so that callers cannot build a password oracle.
	ErrDecryptFailed = errors.New("decrypt failed")

	// ErrPayloadTooLarge indicates a plaintext above the RSA-OAEP size
	// bound. Callers should chunk the payload or fall back to the hybrid
	// scheme.
	ErrPayloadTooLarge = errors.New("payload too large for asymmetric encryption")
)
