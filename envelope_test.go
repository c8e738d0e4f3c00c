package anonchat

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"strings"
	"testing"

	"github.com/X-Irrelevant-X/AnonChat/internal/crypto"
)

type testPayload struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

func TestEnvelopesAll(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*testing.T)
	}{
		{"OwnerRoundTrip", testOwnerRoundTrip},
		{"OwnerWrongKey", testOwnerWrongKey},
		{"FanOutCardinality", testFanOutCardinality},
		{"FanOutScoping", testFanOutScoping},
		{"SharedKeyDerivation", testSharedKeyDerivation},
		{"PairwiseRoundTrip", testPairwiseRoundTrip},
		{"PairwiseFreshIV", testPairwiseFreshIV},
		{"PairwiseWrongPair", testPairwiseWrongPair},
		{"HybridRoundTrip", testHybridRoundTrip},
		{"FanOutHybridRoundTrip", testFanOutHybridRoundTrip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t)
		})
	}
}

func testOwnerRoundTrip(t *testing.T) {
	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	in := testPayload{Text: "only I can read this", Timestamp: "2025-01-01T00:00:00Z"}
	envelope, err := EncryptOwner(in, pair.Public)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	if envelope.Scheme != SchemeOwner {
		t.Errorf("Expected scheme %q, got %q", SchemeOwner, envelope.Scheme)
	}
	if envelope.Timestamp == "" {
		t.Error("Envelope must carry a timestamp")
	}
	if strings.Contains(envelope.Data, in.Text) {
		t.Error("Envelope data must not contain the plaintext")
	}

	var out testPayload
	if err := DecryptOwner(envelope, pair.Private, &out); err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}
	if out != in {
		t.Errorf("Round trip mismatch.\nExpected: %+v\nGot: %+v", in, out)
	}
}

func testOwnerWrongKey(t *testing.T) {
	owner, _ := crypto.GenerateKeyPair()
	other, _ := crypto.GenerateKeyPair()

	envelope, err := EncryptOwner(testPayload{Text: "private"}, owner.Public)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	var out testPayload
	if err := DecryptOwner(envelope, other.Private, &out); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Expected ErrDecryptFailed with another user's key, got %v", err)
	}
}

func testFanOutCardinality(t *testing.T) {
	recipients, pairs := makeRecipients(t, "alice", "bob", "carol")

	envelopes, err := EncryptFanOut(testPayload{Text: "hi all"}, recipients)
	if err != nil {
		t.Fatalf("Failed to encrypt fan-out: %v", err)
	}
	if len(envelopes) != len(recipients) {
		t.Fatalf("Expected %d envelopes, got %d", len(recipients), len(envelopes))
	}

	// Every participant, the sender included, decrypts exactly their own
	// entry.
	for userID, pair := range pairs {
		var out testPayload
		if err := DecryptFanOut(envelopes, userID, pair.Private, &out); err != nil {
			t.Fatalf("Recipient %s failed to decrypt: %v", userID, err)
		}
		if out.Text != "hi all" {
			t.Errorf("Recipient %s got wrong plaintext: %q", userID, out.Text)
		}
	}
}

func testFanOutScoping(t *testing.T) {
	recipients, pairs := makeRecipients(t, "alice", "bob")

	envelopes, err := EncryptFanOut(testPayload{Text: "scoped"}, recipients)
	if err != nil {
		t.Fatalf("Failed to encrypt fan-out: %v", err)
	}

	// Bob presenting his key against Alice's entry must fail.
	var out testPayload
	if err := DecryptFanOut(envelopes, "alice", pairs["bob"].Private, &out); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Expected ErrDecryptFailed for cross-recipient decrypt, got %v", err)
	}

	// A user with no entry at all gets ErrDecryptFailed, not a panic.
	if err := DecryptFanOut(envelopes, "mallory", pairs["bob"].Private, &out); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Expected ErrDecryptFailed for missing entry, got %v", err)
	}
}

func testSharedKeyDerivation(t *testing.T) {
	keyAB := DeriveSharedKey("user-a", "user-b")
	keyBA := DeriveSharedKey("user-b", "user-a")

	if !bytes.Equal(keyAB, keyBA) {
		t.Error("Pairwise key must be order-independent")
	}
	if len(keyAB) != crypto.AESKeySize {
		t.Errorf("Pairwise key must be %d bytes, got %d", crypto.AESKeySize, len(keyAB))
	}
	if bytes.Equal(keyAB, DeriveSharedKey("user-a", "user-c")) {
		t.Error("Different pairs must derive different keys")
	}
}

func testPairwiseRoundTrip(t *testing.T) {
	in := testPayload{Text: "between us", Timestamp: "2025-01-01T00:00:00Z"}

	// Functional equality: encrypted under one ordering, decrypted under
	// the other.
	envelope, err := EncryptPairwise(in, DeriveSharedKey("alice", "bob"))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	if envelope.Scheme != SchemePairwise {
		t.Errorf("Expected scheme %q, got %q", SchemePairwise, envelope.Scheme)
	}
	if envelope.IV == "" {
		t.Error("Pairwise envelope must carry its IV")
	}

	var out testPayload
	if err := DecryptPairwise(envelope, DeriveSharedKey("bob", "alice"), &out); err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}
	if out != in {
		t.Errorf("Round trip mismatch.\nExpected: %+v\nGot: %+v", in, out)
	}
}

func testPairwiseFreshIV(t *testing.T) {
	key := DeriveSharedKey("alice", "bob")

	env1, err := EncryptPairwise(testPayload{Text: "same"}, key)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	env2, err := EncryptPairwise(testPayload{Text: "same"}, key)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	if env1.IV == env2.IV {
		t.Error("Each encryption must draw a fresh IV")
	}
	if env1.Data == env2.Data {
		t.Error("Same plaintext must not produce the same ciphertext twice")
	}
}

func testPairwiseWrongPair(t *testing.T) {
	envelope, err := EncryptPairwise(testPayload{Text: "a and b only"}, DeriveSharedKey("alice", "bob"))
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	// Carol derives a key from her own pair with Alice; it must not open
	// the A/B envelope.
	var out testPayload
	if err := DecryptPairwise(envelope, DeriveSharedKey("alice", "carol"), &out); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Expected ErrDecryptFailed for a different pair's key, got %v", err)
	}
}

func testHybridRoundTrip(t *testing.T) {
	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}

	// Well above the asymmetric bound; the hybrid scheme exists for this.
	in := testPayload{Text: strings.Repeat("long message ", 200)}
	record, err := EncryptHybrid(in, pair.Public)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	if record.Scheme != SchemeHybrid {
		t.Errorf("Expected scheme %q, got %q", SchemeHybrid, record.Scheme)
	}

	var out testPayload
	if err := DecryptHybrid(record, pair.Private, &out); err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}
	if out.Text != in.Text {
		t.Error("Round trip mismatch")
	}

	other, _ := crypto.GenerateKeyPair()
	if err := DecryptHybrid(record, other.Private, &out); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Expected ErrDecryptFailed with wrong key, got %v", err)
	}
}

func testFanOutHybridRoundTrip(t *testing.T) {
	recipients, pairs := makeRecipients(t, "alice", "bob")

	in := testPayload{Text: strings.Repeat("oversized fan-out ", 100)}
	record, err := EncryptFanOutHybrid(in, recipients)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}
	if len(record.WrappedKeys) != len(recipients) {
		t.Fatalf("Expected %d wrapped keys, got %d", len(recipients), len(record.WrappedKeys))
	}

	for userID, pair := range pairs {
		var out testPayload
		if err := DecryptFanOutHybrid(record, userID, pair.Private, &out); err != nil {
			t.Fatalf("Recipient %s failed to decrypt: %v", userID, err)
		}
		if out.Text != in.Text {
			t.Errorf("Recipient %s got wrong plaintext", userID)
		}
	}

	var out testPayload
	if err := DecryptFanOutHybrid(record, "mallory", pairs["alice"].Private, &out); !errors.Is(err, ErrDecryptFailed) {
		t.Errorf("Expected ErrDecryptFailed for missing wrapped key, got %v", err)
	}
}

// makeRecipients generates a key pair per user id and returns the public-key
// map used by the fan-out schemes alongside the full pairs.
func makeRecipients(t *testing.T, userIDs ...string) (map[string]*rsa.PublicKey, map[string]*crypto.KeyPair) {
	t.Helper()
	recipients := make(map[string]*rsa.PublicKey, len(userIDs))
	pairs := make(map[string]*crypto.KeyPair, len(userIDs))
	for _, userID := range userIDs {
		pair, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("Failed to generate key pair for %s: %v", userID, err)
		}
		recipients[userID] = pair.Public
		pairs[userID] = pair
	}
	return recipients, pairs
}
