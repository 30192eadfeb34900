package crypto

import (
	"testing"

	"github.com/google/uuid"
)

func TestKeystoreLatestWins(t *testing.T) {
	ks := NewKeystore()
	conv := uuid.New()

	first, err := GenerateSymmetricKey()
	if err != nil {
		t.Fatal(err)
	}
	second, err := GenerateSymmetricKey()
	if err != nil {
		t.Fatal(err)
	}

	ks.Put(conv, "did:peer:a", first)
	ks.Put(conv, "did:peer:a", second)

	got, ok := ks.Latest(conv, "did:peer:a")
	if !ok {
		t.Fatal("expected a key to be present")
	}
	if got != second {
		t.Error("expected latest-wins lookup to return the most recently stored key")
	}
}

func TestKeystoreUnknownPeer(t *testing.T) {
	ks := NewKeystore()
	if _, ok := ks.Latest(uuid.New(), "did:peer:unknown"); ok {
		t.Error("expected no key for unknown peer")
	}
}

func TestKeystoreEncryptDecryptRoundTrip(t *testing.T) {
	ks := NewKeystore()
	conv := uuid.New()

	key, err := GenerateSymmetricKey()
	if err != nil {
		t.Fatal(err)
	}
	ks.Put(conv, "did:peer:a", key)

	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatal(err)
	}

	plaintext := []byte("hello group")
	ciphertext, found, err := ks.EncryptLatest(conv, "did:peer:a", plaintext, nonce)
	if err != nil {
		t.Fatalf("EncryptLatest failed: %v", err)
	}
	if !found {
		t.Fatal("expected key to be found")
	}

	decrypted, found, err := ks.DecryptLatest(conv, "did:peer:a", ciphertext, nonce)
	if err != nil {
		t.Fatalf("DecryptLatest failed: %v", err)
	}
	if !found {
		t.Fatal("expected key to be found on decrypt")
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", decrypted, plaintext)
	}
}

func TestKeystoreDecryptFallsBackToOlderKey(t *testing.T) {
	ks := NewKeystore()
	conv := uuid.New()

	oldKey, err := GenerateSymmetricKey()
	if err != nil {
		t.Fatal(err)
	}
	ks.Put(conv, "did:peer:a", oldKey)

	nonce, err := GenerateNonce()
	if err != nil {
		t.Fatal(err)
	}
	ciphertext, _, err := ks.EncryptLatest(conv, "did:peer:a", []byte("stale envelope"), nonce)
	if err != nil {
		t.Fatal(err)
	}

	newKey, err := GenerateSymmetricKey()
	if err != nil {
		t.Fatal(err)
	}
	ks.Put(conv, "did:peer:a", newKey)

	plaintext, found, err := ks.DecryptLatest(conv, "did:peer:a", ciphertext, nonce)
	if err != nil {
		t.Fatalf("expected fallback to the older key to succeed, got: %v", err)
	}
	if !found {
		t.Fatal("expected key to be found")
	}
	if string(plaintext) != "stale envelope" {
		t.Errorf("unexpected plaintext: %q", plaintext)
	}
}
