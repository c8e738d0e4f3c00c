package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// NewIV generates a fresh 96-bit AES-GCM IV. An IV must never be reused
// with the same key.
func NewIV() ([]byte, error) {
	iv := make([]byte, GCMIVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("%w: generate IV: %v", ErrCryptoFailure, err)
	}
	return iv, nil
}

// NewAESKey generates a random 256-bit symmetric key.
func NewAESKey() ([]byte, error) {
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("%w: generate symmetric key: %v", ErrCryptoFailure, err)
	}
	return key, nil
}

// EncryptSym encrypts plaintext with AES-256-GCM under the given key and IV
// and returns base64 ciphertext (tag appended). The IV travels alongside the
// ciphertext in the envelope, never inside it.
func EncryptSym(plaintext, key, iv []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	if len(iv) != aead.NonceSize() {
		return "", fmt.Errorf("%w: IV must be %d bytes, got %d",
			ErrCryptoFailure, aead.NonceSize(), len(iv))
	}

	ciphertext := aead.Seal(nil, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptSym reverses EncryptSym. A tag mismatch (wrong key, wrong IV,
// tampered ciphertext) fails with ErrDecryptFailed.
func DecryptSym(encoded string, key, iv []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: IV must be %d bytes, got %d",
			ErrCryptoFailure, aead.NonceSize(), len(iv))
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 ciphertext: %v", ErrCryptoFailure, err)
	}
	if len(ciphertext) < aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext shorter than authentication tag", ErrDecryptFailed)
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptFailed, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESKeySize {
		return nil, fmt.Errorf("%w: symmetric key must be %d bytes, got %d",
			ErrCryptoFailure, AESKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %v", ErrCryptoFailure, err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: create GCM: %v", ErrCryptoFailure, err)
	}
	return aead, nil
}
