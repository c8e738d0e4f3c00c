package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
)

// Password KDF identifiers persisted on the user key record. Deployed data
// may carry either; LoadUserKeys picks the deriver from the record, so both
// generations coexist.
const (
	KDFSHA256   = "sha256"
	KDFArgon2id = "argon2id"
)

// DeriveKeyFromPassword hashes the UTF-8 password bytes with a single round
// of SHA-256 and uses the digest directly as an AES-256-GCM key.
//
// This is the legacy derivation: no salt, no iteration count. It is kept as
// the default because every wrapped private key in deployed user records was
// produced under it. New records can opt into DeriveKeyArgon2 instead.
func DeriveKeyFromPassword(password string) []byte {
	digest := sha256.Sum256([]byte(password))
	return digest[:]
}

// DeriveKeyArgon2 derives an AES-256-GCM key from a password and a per-user
// salt with Argon2id. The wrap/unwrap contract is unchanged; only the key
// derivation is hardened.
func DeriveKeyArgon2(password string, salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d",
			ErrCryptoFailure, SaltSize, len(salt))
	}

	passwordBytes := []byte(password)
	defer memguard.WipeBytes(passwordBytes)

	return argon2.IDKey(passwordBytes, salt, ArgonTime, ArgonMemory, ArgonThreads, ArgonKeyLen), nil
}

// NewSalt generates a random per-user salt for the Argon2id mode.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: generate salt: %v", ErrCryptoFailure, err)
	}
	return salt, nil
}

// WrapPrivateKey encrypts the PKCS8 export of a private key with AES-GCM
// under a password-derived wrapping key and a fresh IV. It returns the
// base64 ciphertext and base64 IV; the intermediate DER bytes are wiped
// before returning.
func WrapPrivateKey(pair *KeyPair, wrappingKey []byte) (ciphertext, iv string, err error) {
	der, err := ExportPrivateKeyDER(pair.Private)
	if err != nil {
		return "", "", err
	}
	defer memguard.WipeBytes(der)

	rawIV, err := NewIV()
	if err != nil {
		return "", "", err
	}

	ciphertext, err = EncryptSym(der, wrappingKey, rawIV)
	if err != nil {
		return "", "", err
	}
	return ciphertext, EncodeIV(rawIV), nil
}

// UnwrapPrivateKey reverses WrapPrivateKey. A wrong password manifests only
// as ErrDecryptFailed from the tag check; there is no separate wrong-password
// signal.
func UnwrapPrivateKey(ciphertext, iv string, wrappingKey []byte) (*KeyPair, error) {
	rawIV, err := DecodeIV(iv)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 IV: %v", ErrCryptoFailure, err)
	}

	der, err := DecryptSym(ciphertext, wrappingKey, rawIV)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(der)

	priv, err := ImportPrivateKeyDER(der)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: &priv.PublicKey, Private: priv}, nil
}
