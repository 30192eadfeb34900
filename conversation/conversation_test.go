package conversation

import (
	"testing"

	"github.com/google/uuid"

	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

func TestDocumentSignVerifyRoundTrip(t *testing.T) {
	keys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	creator := did.DID("did:peer:creator")

	doc := Document{
		ID:         uuid.New(),
		Type:       Group,
		Creator:    creator,
		Recipients: []did.DID{creator},
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

	doc.Name = "tampered"
	valid, err = doc.Verify(keys.Public)
	if err != nil {
		t.Fatal(err)
	}
	if valid {
		t.Error("expected tampered document to fail verification")
	}
}

func TestDocumentValidateDirectInvariants(t *testing.T) {
	a := did.DID("did:peer:a")
	b := did.DID("did:peer:b")

	valid := Document{Type: Direct, Recipients: []did.DID{a, b}}
	if err := valid.validate(); err != nil {
		t.Errorf("expected valid direct document, got %v", err)
	}

	tooMany := Document{Type: Direct, Recipients: []did.DID{a, b, a}}
	if err := tooMany.validate(); err == nil {
		t.Error("expected validation error for direct conversation with != 2 recipients")
	}

	selfPair := Document{Type: Direct, Recipients: []did.DID{a, a}}
	if err := selfPair.validate(); err == nil {
		t.Error("expected validation error for duplicate recipient")
	}
}

func TestDocumentValidateGroupRequiresCreatorAsRecipient(t *testing.T) {
	creator := did.DID("did:peer:creator")
	other := did.DID("did:peer:other")

	missing := Document{Type: Group, Creator: creator, Recipients: []did.DID{other}}
	if err := missing.validate(); err == nil {
		t.Error("expected validation error when creator is not in recipients")
	}

	ok := Document{Type: Group, Creator: creator, Recipients: []did.DID{creator, other}}
	if err := ok.validate(); err != nil {
		t.Errorf("expected valid group document, got %v", err)
	}
}
