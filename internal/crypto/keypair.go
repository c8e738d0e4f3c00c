package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"

	"github.com/awnumar/memguard"
)

// KeyPair holds the two halves of a user's RSA-OAEP key pair. The public
// half is shareable; the private half must never leave the owning session
// without being password-wrapped first.
type KeyPair struct {
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// GenerateKeyPair creates a fresh RSA-OAEP key pair: SHA-256 hash, 2048-bit
// modulus, public exponent 65537. The pair is usable for both encrypt and
// decrypt roles, with decryption restricted to the private half.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAKeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: key generation: %v", ErrCryptoFailure, err)
	}
	return &KeyPair{Public: &priv.PublicKey, Private: priv}, nil
}

// ExportPublicKey serializes a public key as base64-encoded SPKI DER for
// storage.
func ExportPublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("%w: export public key: %v", ErrCryptoFailure, err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// ImportPublicKey parses a base64-encoded SPKI DER public key.
func ImportPublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 public key: %v", ErrCryptoFailure, err)
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %v", ErrCryptoFailure, err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is not RSA", ErrCryptoFailure)
	}
	return pub, nil
}

// ExportPrivateKey serializes a private key as base64-encoded PKCS8 DER.
// The result is only ever held transiently before wrapping; callers must
// not persist it in the clear.
func ExportPrivateKey(priv *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("%w: export private key: %v", ErrCryptoFailure, err)
	}
	encoded := base64.StdEncoding.EncodeToString(der)
	memguard.WipeBytes(der)
	return encoded, nil
}

// ExportPrivateKeyDER serializes a private key as raw PKCS8 DER. The caller
// owns the returned bytes and must wipe them once wrapped.
func ExportPrivateKeyDER(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: export private key: %v", ErrCryptoFailure, err)
	}
	return der, nil
}

// ImportPrivateKey parses a base64-encoded PKCS8 DER private key.
func ImportPrivateKey(encoded string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 private key: %v", ErrCryptoFailure, err)
	}
	defer memguard.WipeBytes(der)
	return ImportPrivateKeyDER(der)
}

// ImportPrivateKeyDER parses raw PKCS8 DER into an RSA private key.
func ImportPrivateKeyDER(der []byte) (*rsa.PrivateKey, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", ErrCryptoFailure, err)
	}

	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: private key is not RSA", ErrCryptoFailure)
	}
	return priv, nil
}

// EncryptAsym encrypts a whole plaintext buffer under RSA-OAEP with the
// given public key and returns base64 ciphertext. Plaintexts above
// OAEPMaxPayload cannot fit under the modulus-minus-padding limit and fail
// with ErrPayloadTooLarge.
func EncryptAsym(plaintext []byte, pub *rsa.PublicKey) (string, error) {
	if len(plaintext) > OAEPMaxPayload {
		return "", fmt.Errorf("%w: %d bytes exceeds the %d byte OAEP limit",
			ErrPayloadTooLarge, len(plaintext), OAEPMaxPayload)
	}

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: asymmetric encrypt: %v", ErrCryptoFailure, err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptAsym reverses EncryptAsym with the matching private key. A padding
// mismatch (wrong key, corrupted ciphertext) fails with ErrDecryptFailed.
func DecryptAsym(encoded string, priv *rsa.PrivateKey) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 ciphertext: %v", ErrCryptoFailure, err)
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}
