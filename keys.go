package anonchat

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/X-Irrelevant-X/AnonChat/audit"
	"github.com/X-Irrelevant-X/AnonChat/docstore"
	"github.com/X-Irrelevant-X/AnonChat/internal/crypto"
)

// KeyPair holds a user's RSA-OAEP key pair. The public half is shareable;
// the private half never leaves the owning session without password-wrapping.
type KeyPair = crypto.KeyPair

// Document field names of the users/{uid} key record. The wrapped private
// key is only ever produced by encrypting the PKCS8 export of a private key
// under an AES-GCM key derived from the owning user's password; it is opaque
// without that password.
const (
	fieldPublicKey      = "publicKey"
	fieldWrappedKey     = "encryptedPrivateKey"
	fieldWrappedKeyData = "encryptedKey"
	fieldWrappedKeyIV   = "iv"
	fieldKDF            = "kdf"
	fieldKDFSalt        = "kdfSalt"
	fieldKeyCreatedAt   = "keyCreatedAt"
	fieldKeyRotatedAt   = "keyRotatedAt"
)

// KeyService owns the lifecycle of a user's asymmetric key pair: creation,
// password-wrapped persistence, password-gated recovery, and rotation.
type KeyService struct {
	store docstore.Store
	audit audit.Logger
	kdf   string
}

// NewKeyService creates a key custody service over the given document store.
// A nil audit logger disables auditing.
func NewKeyService(store docstore.Store, auditLogger audit.Logger, options Options) (*KeyService, error) {
	if err := validateOptions(options); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	return &KeyService{store: store, audit: auditLogger, kdf: options.KDF}, nil
}

// InitializeUserKeys provisions a fresh key pair for a user during
// registration.
//
// It generates an RSA-OAEP pair, stores the exported public key and a
// password-wrapped private key on users/{uid} with merge semantics, so
// unrelated fields on the user's record are preserved, and returns the
// unwrapped pair for immediate session use.
//
// Persisted fields: publicKey (SPKI, base64), encryptedPrivateKey
// {encryptedKey, iv}, kdf, kdfSalt (argon2id mode only), keyCreatedAt.
//
// Fails with ErrStorageFailure if persistence fails after key generation;
// the caller must not treat the user as provisioned in that case.
func (k *KeyService) InitializeUserKeys(ctx context.Context, userID, password string) (*KeyPair, error) {
	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		k.logKeyOp("initialize_user_keys", userID, err)
		return nil, err
	}

	record, err := k.wrapForStorage(pair, password)
	if err != nil {
		k.logKeyOp("initialize_user_keys", userID, err)
		return nil, err
	}
	record[fieldKeyCreatedAt] = now()

	if err := k.store.Set(ctx, "users/"+userID, record, true); err != nil {
		err = fmt.Errorf("%w: persist key record: %v", ErrStorageFailure, err)
		k.logKeyOp("initialize_user_keys", userID, err)
		return nil, err
	}

	k.logKeyOp("initialize_user_keys", userID, nil)
	return pair, nil
}

// LoadUserKeys recovers a user's key pair with their password.
//
// It fetches the users/{uid} record, derives the wrapping key from the
// password using whichever KDF the record declares, decrypts the wrapped
// private key and imports both halves.
//
// Fails with ErrKeyNotFound if no key record exists, and with
// ErrDecryptFailed otherwise. A wrong password is observably identical to a
// corrupted ciphertext.
func (k *KeyService) LoadUserKeys(ctx context.Context, userID, password string) (*KeyPair, error) {
	record, err := k.store.Get(ctx, "users/"+userID)
	if errors.Is(err, docstore.ErrNotFound) {
		k.logKeyOp("load_user_keys", userID, ErrKeyNotFound)
		return nil, ErrKeyNotFound
	}
	if err != nil {
		err = fmt.Errorf("%w: fetch key record: %v", ErrStorageFailure, err)
		k.logKeyOp("load_user_keys", userID, err)
		return nil, err
	}

	pair, err := k.unwrapFromStorage(record, password)
	if err != nil {
		k.logKeyOp("load_user_keys", userID, err)
		return nil, err
	}

	k.logKeyOp("load_user_keys", userID, nil)
	return pair, nil
}

// RotateUserKeys re-validates the current password, then generates and
// persists a new pair exactly as InitializeUserKeys does, overwriting the
// stored public key and wrapped private key and stamping keyRotatedAt.
//
// Rotation invalidates decryptability of any data encrypted under the old
// public key that is not re-encrypted; re-encryption is the caller's
// responsibility, not handled here.
func (k *KeyService) RotateUserKeys(ctx context.Context, userID, currentPassword string) (*KeyPair, error) {
	if _, err := k.LoadUserKeys(ctx, userID, currentPassword); err != nil {
		k.logKeyOp("rotate_user_keys", userID, err)
		return nil, err
	}

	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		k.logKeyOp("rotate_user_keys", userID, err)
		return nil, err
	}

	record, err := k.wrapForStorage(pair, currentPassword)
	if err != nil {
		k.logKeyOp("rotate_user_keys", userID, err)
		return nil, err
	}
	record[fieldKeyRotatedAt] = now()

	if err := k.store.Set(ctx, "users/"+userID, record, true); err != nil {
		err = fmt.Errorf("%w: persist rotated key record: %v", ErrStorageFailure, err)
		k.logKeyOp("rotate_user_keys", userID, err)
		return nil, err
	}

	k.logKeyOp("rotate_user_keys", userID, nil)
	return pair, nil
}

// GetUserPublicKey fetches and imports another user's public key for
// envelope addressing.
func (k *KeyService) GetUserPublicKey(ctx context.Context, userID string) (*rsa.PublicKey, error) {
	record, err := k.store.Get(ctx, "users/"+userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: fetch key record: %v", ErrStorageFailure, err)
	}

	encoded, ok := record[fieldPublicKey].(string)
	if !ok || encoded == "" {
		return nil, ErrKeyNotFound
	}
	return crypto.ImportPublicKey(encoded)
}

// wrapForStorage builds the persisted key record fields for a pair: the
// exported public key and the password-wrapped private key, under the
// service's configured KDF.
func (k *KeyService) wrapForStorage(pair *KeyPair, password string) (docstore.Record, error) {
	publicKey, err := crypto.ExportPublicKey(pair.Public)
	if err != nil {
		return nil, err
	}

	record := docstore.Record{
		fieldPublicKey: publicKey,
		fieldKDF:       k.kdf,
	}

	var wrappingKey []byte
	switch k.kdf {
	case crypto.KDFArgon2id:
		salt, err := crypto.NewSalt()
		if err != nil {
			return nil, err
		}
		wrappingKey, err = crypto.DeriveKeyArgon2(password, salt)
		if err != nil {
			return nil, err
		}
		record[fieldKDFSalt] = base64.StdEncoding.EncodeToString(salt)
	default:
		wrappingKey = crypto.DeriveKeyFromPassword(password)
	}
	defer memguard.WipeBytes(wrappingKey)

	ciphertext, iv, err := crypto.WrapPrivateKey(pair, wrappingKey)
	if err != nil {
		return nil, err
	}
	record[fieldWrappedKey] = map[string]interface{}{
		fieldWrappedKeyData: ciphertext,
		fieldWrappedKeyIV:   iv,
	}
	return record, nil
}

// unwrapFromStorage reverses wrapForStorage, honoring whichever KDF the
// stored record declares so legacy and hardened records coexist.
func (k *KeyService) unwrapFromStorage(record docstore.Record, password string) (*KeyPair, error) {
	wrapped, ok := record[fieldWrappedKey].(map[string]interface{})
	if !ok {
		return nil, ErrKeyNotFound
	}
	ciphertext, _ := wrapped[fieldWrappedKeyData].(string)
	iv, _ := wrapped[fieldWrappedKeyIV].(string)
	if ciphertext == "" || iv == "" {
		return nil, ErrKeyNotFound
	}

	var wrappingKey []byte
	kdf, _ := record[fieldKDF].(string)
	switch kdf {
	case crypto.KDFArgon2id:
		saltEncoded, _ := record[fieldKDFSalt].(string)
		salt, err := base64.StdEncoding.DecodeString(saltEncoded)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 salt: %v", ErrCryptoFailure, err)
		}
		wrappingKey, err = crypto.DeriveKeyArgon2(password, salt)
		if err != nil {
			return nil, err
		}
	default:
		// Legacy records carry no kdf field at all.
		wrappingKey = crypto.DeriveKeyFromPassword(password)
	}
	defer memguard.WipeBytes(wrappingKey)

	pair, err := crypto.UnwrapPrivateKey(ciphertext, iv, wrappingKey)
	if err != nil {
		return nil, err
	}

	// Prefer the stored public half: it is the one other users encrypt to.
	if encoded, ok := record[fieldPublicKey].(string); ok && encoded != "" {
		pub, err := crypto.ImportPublicKey(encoded)
		if err != nil {
			return nil, err
		}
		pair.Public = pub
	}
	return pair, nil
}

func (k *KeyService) logKeyOp(action, userID string, opErr error) {
	metadata := map[string]interface{}{"user_id": userID}
	if opErr != nil {
		metadata["error"] = opErr.Error()
	}
	if err := k.audit.Log(action, opErr == nil, metadata); err != nil {
		fmt.Printf("WARNING: failed to log %s: %v\n", action, err)
	}
}
