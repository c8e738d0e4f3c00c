package anonchat

import (
	"context"
	"errors"
	"testing"

	"github.com/X-Irrelevant-X/AnonChat/docstore"
	"github.com/X-Irrelevant-X/AnonChat/internal/crypto"
)

func newTestKeyService(t *testing.T, options Options) (*KeyService, *docstore.MemoryStore) {
	t.Helper()
	store := docstore.NewMemoryStore()
	keys, err := NewKeyService(store, nil, options)
	if err != nil {
		t.Fatalf("Failed to create key service: %v", err)
	}
	return keys, store
}

func TestKeyServiceAll(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*testing.T)
	}{
		{"InitializeAndLoad", testInitializeAndLoad},
		{"InitializePreservesRecord", testInitializePreservesRecord},
		{"WrongPasswordIndistinguishable", testWrongPasswordIndistinguishable},
		{"LoadUnknownUser", testLoadUnknownUser},
		{"Rotation", testRotation},
		{"RotationRequiresPassword", testRotationRequiresPassword},
		{"PublicKeyLookup", testPublicKeyLookup},
		{"Argon2Records", testArgon2Records},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t)
		})
	}
}

func testInitializeAndLoad(t *testing.T) {
	keys, store := newTestKeyService(t, DefaultOptions())
	ctx := context.Background()

	created, err := keys.InitializeUserKeys(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Failed to initialize keys: %v", err)
	}

	// The stored record must carry the public key and the wrapped private
	// key, and nothing that decrypts without the password.
	record, err := store.Get(ctx, "users/alice")
	if err != nil {
		t.Fatalf("Failed to fetch key record: %v", err)
	}
	if _, ok := record[fieldPublicKey].(string); !ok {
		t.Error("Record must carry the exported public key")
	}
	wrapped, ok := record[fieldWrappedKey].(map[string]interface{})
	if !ok {
		t.Fatal("Record must carry the wrapped private key")
	}
	if wrapped[fieldWrappedKeyData] == "" || wrapped[fieldWrappedKeyIV] == "" {
		t.Error("Wrapped key must carry ciphertext and IV")
	}
	if _, ok := record[fieldKeyCreatedAt].(string); !ok {
		t.Error("Record must carry keyCreatedAt")
	}

	loaded, err := keys.LoadUserKeys(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Failed to load keys: %v", err)
	}

	// The loaded pair must interoperate with the created one.
	encrypted, err := crypto.EncryptAsym([]byte("probe"), created.Public)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	decrypted, err := crypto.DecryptAsym(encrypted, loaded.Private)
	if err != nil {
		t.Fatalf("Loaded private key failed to decrypt: %v", err)
	}
	if string(decrypted) != "probe" {
		t.Error("Loaded key pair does not match the created one")
	}
}

func testInitializePreservesRecord(t *testing.T) {
	keys, store := newTestKeyService(t, DefaultOptions())
	ctx := context.Background()

	// A user document often exists before key provisioning.
	err := store.Set(ctx, "users/alice", docstore.Record{"username": "alice_w"}, false)
	if err != nil {
		t.Fatalf("Failed to seed user record: %v", err)
	}

	if _, err := keys.InitializeUserKeys(ctx, "alice", "s3cret"); err != nil {
		t.Fatalf("Failed to initialize keys: %v", err)
	}

	record, err := store.Get(ctx, "users/alice")
	if err != nil {
		t.Fatalf("Failed to fetch record: %v", err)
	}
	if record["username"] != "alice_w" {
		t.Error("Key provisioning must merge, not replace, the user record")
	}
}

func testWrongPasswordIndistinguishable(t *testing.T) {
	keys, store := newTestKeyService(t, DefaultOptions())
	ctx := context.Background()

	if _, err := keys.InitializeUserKeys(ctx, "alice", "right"); err != nil {
		t.Fatalf("Failed to initialize keys: %v", err)
	}

	// Wrong password.
	_, wrongPassErr := keys.LoadUserKeys(ctx, "alice", "wrong")
	if !errors.Is(wrongPassErr, ErrDecryptFailed) {
		t.Fatalf("Expected ErrDecryptFailed for wrong password, got %v", wrongPassErr)
	}

	// Corrupted ciphertext with the right password must yield the same
	// sentinel, so callers cannot distinguish the two cases.
	record, err := store.Get(ctx, "users/alice")
	if err != nil {
		t.Fatalf("Failed to fetch record: %v", err)
	}
	wrapped := record[fieldWrappedKey].(map[string]interface{})
	ciphertext := wrapped[fieldWrappedKeyData].(string)
	wrapped[fieldWrappedKeyData] = "AAAA" + ciphertext[4:]
	if err := store.Set(ctx, "users/alice", record, false); err != nil {
		t.Fatalf("Failed to store corrupted record: %v", err)
	}

	_, corruptErr := keys.LoadUserKeys(ctx, "alice", "right")
	if !errors.Is(corruptErr, ErrDecryptFailed) {
		t.Fatalf("Expected ErrDecryptFailed for corrupted ciphertext, got %v", corruptErr)
	}
}

func testLoadUnknownUser(t *testing.T) {
	keys, _ := newTestKeyService(t, DefaultOptions())

	_, err := keys.LoadUserKeys(context.Background(), "nobody", "whatever")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound, got %v", err)
	}
}

func testRotation(t *testing.T) {
	keys, store := newTestKeyService(t, DefaultOptions())
	ctx := context.Background()

	old, err := keys.InitializeUserKeys(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Failed to initialize keys: %v", err)
	}

	rotated, err := keys.RotateUserKeys(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Failed to rotate keys: %v", err)
	}
	if rotated.Public.N.Cmp(old.Public.N) == 0 {
		t.Error("Rotation must produce a fresh key pair")
	}

	record, err := store.Get(ctx, "users/alice")
	if err != nil {
		t.Fatalf("Failed to fetch record: %v", err)
	}
	if _, ok := record[fieldKeyRotatedAt].(string); !ok {
		t.Error("Rotated record must carry keyRotatedAt")
	}

	// The same password now recovers the new pair.
	loaded, err := keys.LoadUserKeys(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("Failed to load rotated keys: %v", err)
	}
	if loaded.Public.N.Cmp(rotated.Public.N) != 0 {
		t.Error("Load after rotation must return the rotated pair")
	}

	// Data encrypted under the old public key is no longer recoverable with
	// the new private key; re-encryption is the caller's responsibility.
	encrypted, err := crypto.EncryptAsym([]byte("stale"), old.Public)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	if _, err := crypto.DecryptAsym(encrypted, loaded.Private); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Expected ErrDecryptFailed for pre-rotation ciphertext, got %v", err)
	}
}

func testRotationRequiresPassword(t *testing.T) {
	keys, _ := newTestKeyService(t, DefaultOptions())
	ctx := context.Background()

	if _, err := keys.InitializeUserKeys(ctx, "alice", "right"); err != nil {
		t.Fatalf("Failed to initialize keys: %v", err)
	}

	if _, err := keys.RotateUserKeys(ctx, "alice", "wrong"); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Expected ErrDecryptFailed for rotation with wrong password, got %v", err)
	}
}

func testPublicKeyLookup(t *testing.T) {
	keys, _ := newTestKeyService(t, DefaultOptions())
	ctx := context.Background()

	created, err := keys.InitializeUserKeys(ctx, "bob", "s3cret")
	if err != nil {
		t.Fatalf("Failed to initialize keys: %v", err)
	}

	pub, err := keys.GetUserPublicKey(ctx, "bob")
	if err != nil {
		t.Fatalf("Failed to fetch public key: %v", err)
	}
	if pub.N.Cmp(created.Public.N) != 0 {
		t.Error("Fetched public key does not match the provisioned one")
	}

	if _, err := keys.GetUserPublicKey(ctx, "nobody"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound for unknown user, got %v", err)
	}
}

func testArgon2Records(t *testing.T) {
	options := DefaultOptions()
	options.KDF = crypto.KDFArgon2id
	keys, store := newTestKeyService(t, options)
	ctx := context.Background()

	if _, err := keys.InitializeUserKeys(ctx, "alice", "s3cret"); err != nil {
		t.Fatalf("Failed to initialize keys: %v", err)
	}

	record, err := store.Get(ctx, "users/alice")
	if err != nil {
		t.Fatalf("Failed to fetch record: %v", err)
	}
	if record[fieldKDF] != crypto.KDFArgon2id {
		t.Errorf("Record must declare kdf %q, got %v", crypto.KDFArgon2id, record[fieldKDF])
	}
	if salt, ok := record[fieldKDFSalt].(string); !ok || salt == "" {
		t.Error("Argon2 record must carry its salt")
	}

	// The record declares its own KDF, so a legacy-configured service still
	// reads it back.
	legacy, err := NewKeyService(store, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("Failed to create key service: %v", err)
	}

	if _, err := legacy.LoadUserKeys(ctx, "alice", "s3cret"); err != nil {
		t.Fatalf("Legacy-configured service failed to load argon2 record: %v", err)
	}

	if _, err := legacy.LoadUserKeys(ctx, "alice", "wrong"); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Expected ErrDecryptFailed for wrong password, got %v", err)
	}
}
