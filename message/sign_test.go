package message

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

func TestDocSignVerifyRoundTrip(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	doc := Doc{
		ID:             uuid.New(),
		ConversationID: uuid.New(),
		Sender:         did.DID("did:peer:sender"),
		Created:        time.Now(),
		Modified:       time.Now(),
	}
	if err := doc.Sign(keys.Private); err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	valid, err := doc.Verify(keys.Public)
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Error("expected signature to verify")
	}

	doc.Modified = doc.Modified.Add(time.Second)
	valid, err = doc.Verify(keys.Public)
	if err != nil {
		t.Fatal(err)
	}
	if valid {
		t.Error("expected tampered document to fail verification")
	}
}
