package anonchat

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/awnumar/memguard"

	"github.com/X-Irrelevant-X/AnonChat/internal/crypto"
)

// Scheme tags an envelope with the encryption scheme that produced it, so
// the consumer knows which key to present at decrypt time.
type Scheme string

const (
	// SchemeOwner encrypts under the writer's own public key; only the
	// writer's private key decrypts it. Used for profile data.
	SchemeOwner Scheme = "owner"

	// SchemePerRecipient is one entry of a fan-out: the same plaintext
	// encrypted independently under one recipient's public key.
	SchemePerRecipient Scheme = "per-recipient"

	// SchemePairwise encrypts under the symmetric key both relationship
	// parties derive from their sorted id pair. Used for friend data.
	SchemePairwise Scheme = "pairwise"

	// SchemeHybrid wraps a random AES key asymmetrically and carries the
	// payload under that key. Fallback for payloads above the RSA-OAEP
	// size bound.
	SchemeHybrid Scheme = "hybrid"
)

// pairSeparator joins the sorted id pair before hashing in DeriveSharedKey.
const pairSeparator = "_"

// Envelope is a ciphertext plus the minimal metadata needed to attempt
// decryption, without embedding the key: base64 ciphertext, the IV for
// symmetric schemes, and a timestamp. An Envelope is meaningless without
// its matching decryption key.
type Envelope struct {
	Scheme    Scheme `json:"scheme"`
	Data      string `json:"data"`
	IV        string `json:"iv,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HybridRecord is the single-recipient hybrid envelope: the wrapped AES
// key, IV and ciphertext carried together.
//
// Record layout:
//
//	encryptedKey  RSA-OAEP(recipient public key, raw 32-byte AES key), base64
//	iv            96-bit AES-GCM IV, base64
//	data          AES-256-GCM ciphertext of the JSON plaintext, base64
type HybridRecord struct {
	Scheme       Scheme `json:"scheme"`
	EncryptedKey string `json:"encryptedKey"`
	IV           string `json:"iv"`
	Data         string `json:"data"`
	Timestamp    string `json:"timestamp"`
}

// FanOutHybridRecord shares one symmetric ciphertext between all recipients
// and wraps the AES key once per recipient public key, keyed by user id.
type FanOutHybridRecord struct {
	Scheme      Scheme            `json:"scheme"`
	WrappedKeys map[string]string `json:"wrappedKeys"`
	IV          string            `json:"iv"`
	Data        string            `json:"data"`
	Timestamp   string            `json:"timestamp"`
}

// EncryptOwner produces an owner envelope: the JSON serialization of v
// encrypted under the owner's own public key. Used when data must be
// readable by exactly the writer.
func EncryptOwner(v interface{}, pub *rsa.PublicKey) (*Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize plaintext: %v", ErrCryptoFailure, err)
	}

	data, err := crypto.EncryptAsym(plaintext, pub)
	if err != nil {
		return nil, err
	}
	return &Envelope{Scheme: SchemeOwner, Data: data, Timestamp: now()}, nil
}

// DecryptOwner reverses EncryptOwner into out, which must be a pointer.
func DecryptOwner(env *Envelope, priv *rsa.PrivateKey, out interface{}) error {
	return decryptAsymInto(env.Data, priv, out)
}

// EncryptFanOut produces one independent asymmetric envelope of the same
// plaintext per recipient, keyed by recipient id. Every recipient decrypts
// only the entry addressed to them; there is no shared message key, at the
// cost of O(N) asymmetric operations and the OAEP plaintext bound. Payloads
// above the bound fail with ErrPayloadTooLarge; callers fall back to
// EncryptFanOutHybrid.
func EncryptFanOut(v interface{}, recipients map[string]*rsa.PublicKey) (map[string]*Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize plaintext: %v", ErrCryptoFailure, err)
	}

	stamp := now()
	envelopes := make(map[string]*Envelope, len(recipients))
	for userID, pub := range recipients {
		data, err := crypto.EncryptAsym(plaintext, pub)
		if err != nil {
			return nil, fmt.Errorf("encrypt for recipient %s: %w", userID, err)
		}
		envelopes[userID] = &Envelope{Scheme: SchemePerRecipient, Data: data, Timestamp: stamp}
	}
	return envelopes, nil
}

// DecryptFanOut decrypts the entry addressed to userID with that user's
// private key. Decryption is scoped: presenting another participant's
// envelope to this key fails with ErrDecryptFailed.
func DecryptFanOut(envelopes map[string]*Envelope, userID string, priv *rsa.PrivateKey, out interface{}) error {
	env, ok := envelopes[userID]
	if !ok {
		return fmt.Errorf("%w: no envelope addressed to %s", ErrDecryptFailed, userID)
	}
	return decryptAsymInto(env.Data, priv, out)
}

// DeriveSharedKey derives the pairwise symmetric key for two participants:
// SHA-256 over the sorted id pair joined with "_". Both parties rederive the
// same key independently from their own knowledge of the two ids. No key
// exchange or key storage is involved, and the derivation is
// order-independent.
//
// Known trade-off: anyone who can enumerate both ids can compute this key.
// The scheme buys independent rederivability, not secrecy from an id-holding
// observer.
func DeriveSharedKey(idA, idB string) []byte {
	pair := []string{idA, idB}
	sort.Strings(pair)
	digest := sha256.Sum256([]byte(pair[0] + pairSeparator + pair[1]))
	return digest[:]
}

// EncryptPairwise encrypts v under a pairwise-shared key with a fresh IV
// per call.
func EncryptPairwise(v interface{}, key []byte) (*Envelope, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize plaintext: %v", ErrCryptoFailure, err)
	}

	iv, err := crypto.NewIV()
	if err != nil {
		return nil, err
	}

	data, err := crypto.EncryptSym(plaintext, key, iv)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Scheme:    SchemePairwise,
		Data:      data,
		IV:        crypto.EncodeIV(iv),
		Timestamp: now(),
	}, nil
}

// DecryptPairwise reverses EncryptPairwise into out.
func DecryptPairwise(env *Envelope, key []byte, out interface{}) error {
	iv, err := crypto.DecodeIV(env.IV)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 IV: %v", ErrCryptoFailure, err)
	}

	plaintext, err := crypto.DecryptSym(env.Data, key, iv)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: decrypted payload is not valid JSON: %v", ErrDecryptFailed, err)
	}
	return nil
}

// EncryptHybrid generates a random AES-256 key, encrypts the payload under
// it with a fresh IV, and wraps the AES key under the recipient's public
// key. The resulting record carries wrapped key, IV and ciphertext together,
// lifting the OAEP size bound for a single recipient.
func EncryptHybrid(v interface{}, pub *rsa.PublicKey) (*HybridRecord, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize plaintext: %v", ErrCryptoFailure, err)
	}

	aesKey, err := crypto.NewAESKey()
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(aesKey)

	iv, err := crypto.NewIV()
	if err != nil {
		return nil, err
	}

	data, err := crypto.EncryptSym(plaintext, aesKey, iv)
	if err != nil {
		return nil, err
	}

	wrappedKey, err := crypto.EncryptAsym(aesKey, pub)
	if err != nil {
		return nil, err
	}

	return &HybridRecord{
		Scheme:       SchemeHybrid,
		EncryptedKey: wrappedKey,
		IV:           crypto.EncodeIV(iv),
		Data:         data,
		Timestamp:    now(),
	}, nil
}

// DecryptHybrid unwraps the AES key with the private key, then decrypts the
// payload into out.
func DecryptHybrid(record *HybridRecord, priv *rsa.PrivateKey, out interface{}) error {
	aesKey, err := crypto.DecryptAsym(record.EncryptedKey, priv)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(aesKey)

	iv, err := crypto.DecodeIV(record.IV)
	if err != nil {
		return fmt.Errorf("%w: invalid base64 IV: %v", ErrCryptoFailure, err)
	}

	plaintext, err := crypto.DecryptSym(record.Data, aesKey, iv)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: decrypted payload is not valid JSON: %v", ErrDecryptFailed, err)
	}
	return nil
}

// EncryptFanOutHybrid is the fan-out form of the hybrid scheme: one
// symmetric ciphertext shared by all recipients, with the AES key wrapped
// once per recipient public key. Used when a fan-out plaintext exceeds the
// asymmetric size bound.
func EncryptFanOutHybrid(v interface{}, recipients map[string]*rsa.PublicKey) (*FanOutHybridRecord, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize plaintext: %v", ErrCryptoFailure, err)
	}

	aesKey, err := crypto.NewAESKey()
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(aesKey)

	iv, err := crypto.NewIV()
	if err != nil {
		return nil, err
	}

	data, err := crypto.EncryptSym(plaintext, aesKey, iv)
	if err != nil {
		return nil, err
	}

	wrapped := make(map[string]string, len(recipients))
	for userID, pub := range recipients {
		wrappedKey, err := crypto.EncryptAsym(aesKey, pub)
		if err != nil {
			return nil, fmt.Errorf("wrap key for recipient %s: %w", userID, err)
		}
		wrapped[userID] = wrappedKey
	}

	return &FanOutHybridRecord{
		Scheme:      SchemeHybrid,
		WrappedKeys: wrapped,
		IV:          crypto.EncodeIV(iv),
		Data:        data,
		Timestamp:   now(),
	}, nil
}

// DecryptFanOutHybrid unwraps the entry addressed to userID and decrypts the
// shared ciphertext into out.
func DecryptFanOutHybrid(record *FanOutHybridRecord, userID string, priv *rsa.PrivateKey, out interface{}) error {
	wrappedKey, ok := record.WrappedKeys[userID]
	if !ok {
		return fmt.Errorf("%w: no wrapped key addressed to %s", ErrDecryptFailed, userID)
	}

	return DecryptHybrid(&HybridRecord{
		Scheme:       SchemeHybrid,
		EncryptedKey: wrappedKey,
		IV:           record.IV,
		Data:         record.Data,
		Timestamp:    record.Timestamp,
	}, priv, out)
}

func decryptAsymInto(data string, priv *rsa.PrivateKey, out interface{}) error {
	plaintext, err := crypto.DecryptAsym(data, priv)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return fmt.Errorf("%w: decrypted payload is not valid JSON: %v", ErrDecryptFailed, err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
