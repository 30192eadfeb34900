package keyexchange

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

func TestHandleRequestGeneratesKeyOnceAndReusesIt(t *testing.T) {
	ks := crypto.NewKeystore()
	ex := NewExchange(ks)
	convID := uuid.New()

	first, err := ex.HandleRequest(convID, "did:peer:self")
	if err != nil {
		t.Fatal(err)
	}
	second, err := ex.HandleRequest(convID, "did:peer:self")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("expected HandleRequest to reuse the already-generated key")
	}
}

func TestParkIsIdempotentPerPair(t *testing.T) {
	ks := crypto.NewKeystore()
	ex := NewExchange(ks)
	convID := uuid.New()
	sender := did.DID("did:peer:sender")

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		t.Fatal(err)
	}

	if !ex.Park(convID, sender, []byte("ct1"), nonce) {
		t.Error("expected first park to require a key request")
	}
	if ex.Park(convID, sender, []byte("ct2"), nonce) {
		t.Error("expected second park for the same pair not to require another request")
	}
}

func TestHandleResponseMarksParkedAsReceivedAndDrainReplays(t *testing.T) {
	ks := crypto.NewKeystore()
	ex := NewExchange(ks)
	convID := uuid.New()
	sender := did.DID("did:peer:sender")

	key, err := crypto.GenerateSymmetricKey()
	if err != nil {
		t.Fatal(err)
	}
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		t.Fatal(err)
	}
	plaintext := []byte("group message body")
	ciphertext, err := crypto.EncryptSymmetric(plaintext, nonce, symmetricAEADKeyForTest(key))
	if err != nil {
		t.Fatal(err)
	}

	ex.Park(convID, sender, ciphertext, nonce)
	ex.HandleResponse(convID, sender, key)

	var replayedSender did.DID
	var replayedPlaintext []byte
	ex.DrainReceived(context.Background(), func(ctx context.Context, conversationID uuid.UUID, s did.DID, pt []byte) {
		replayedSender = s
		replayedPlaintext = pt
	})

	if replayedSender != sender {
		t.Errorf("expected replay for sender %v, got %v", sender, replayedSender)
	}
	if string(replayedPlaintext) != string(plaintext) {
		t.Errorf("expected replayed plaintext %q, got %q", plaintext, replayedPlaintext)
	}

	// A second drain should find nothing left.
	called := false
	ex.DrainReceived(context.Background(), func(ctx context.Context, conversationID uuid.UUID, s did.DID, pt []byte) {
		called = true
	})
	if called {
		t.Error("expected parked entry to be forgotten after one replay")
	}
}

func TestPendingProbeSentAndCleared(t *testing.T) {
	probe := NewPendingProbe()
	convID := uuid.New()
	peer := did.DID("did:peer:other")

	probe.Sent(convID, peer)
	if !probe.Pending(convID, peer) {
		t.Error("expected probe to be pending after Sent")
	}

	probe.Cleared(convID, peer)
	if probe.Pending(convID, peer) {
		t.Error("expected probe to be cleared")
	}
}

// symmetricAEADKeyForTest mirrors crypto.SymmetricKey.aeadKey without
// exporting it: truncate to the first 32 bytes secretbox consumes.
func symmetricAEADKeyForTest(key crypto.SymmetricKey) [32]byte {
	var out [32]byte
	copy(out[:], key[:32])
	return out
}
