package conversation

import (
	"context"
	"testing"

	"github.com/dagmesh/convocore/chaterr"
	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

func TestAddParticipantRequiresPermissionForNonCreator(t *testing.T) {
	creator := did.DID("did:peer:creator")
	member := did.DID("did:peer:member")
	target := did.DID("did:peer:target")

	doc := Document{Type: Group, Creator: creator, Recipients: []did.DID{creator, member}}

	if err := AddParticipant(&doc, member, target, newStubBlocking()); err != chaterr.ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	if err := SetPermission(&doc, creator, member, AddParticipants, true); err != nil {
		t.Fatal(err)
	}
	if err := AddParticipant(&doc, member, target, newStubBlocking()); err != nil {
		t.Errorf("expected permitted add to succeed, got %v", err)
	}
}

func TestAddParticipantRejectsRestrictedOrExisting(t *testing.T) {
	creator := did.DID("did:peer:creator")
	blocked := did.DID("did:peer:blocked")
	existing := did.DID("did:peer:existing")

	doc := Document{Creator: creator, Recipients: []did.DID{creator, existing}, Restrict: []did.DID{blocked}}

	if err := AddParticipant(&doc, creator, blocked, newStubBlocking()); err != chaterr.ErrPublicKeyIsBlocked {
		t.Errorf("expected ErrPublicKeyIsBlocked for restricted target, got %v", err)
	}
	if err := AddParticipant(&doc, creator, existing, newStubBlocking()); err != chaterr.ErrIdentityExist {
		t.Errorf("expected ErrIdentityExist for existing recipient, got %v", err)
	}
}

func TestSetPermissionOnlyCreator(t *testing.T) {
	creator := did.DID("did:peer:creator")
	member := did.DID("did:peer:member")
	doc := Document{Creator: creator, Recipients: []did.DID{creator, member}}

	if err := SetPermission(&doc, member, member, ManagePermissions, true); err != chaterr.ErrUnauthorized {
		t.Errorf("expected only creator may grant ManagePermissions, got %v", err)
	}
}

func TestRemoveParticipantCannotRemoveCreator(t *testing.T) {
	creator := did.DID("did:peer:creator")
	member := did.DID("did:peer:member")
	doc := Document{Creator: creator, Recipients: []did.DID{creator, member}}

	if err := RemoveParticipant(&doc, member, creator); err != chaterr.ErrUnauthorized {
		t.Errorf("expected creator to be unremovable, got %v", err)
	}
}

func TestLeaveProtocolNonCreatorReceiverRecordsExclusion(t *testing.T) {
	creatorKeys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	leaverKeys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	creator := did.DID("did:peer:creator")
	leaver := did.DID("did:peer:leaver")
	otherMember := did.DID("did:peer:other")

	doc := Document{Creator: creator, Recipients: []did.DID{creator, leaver, otherMember}}

	pub := &recordingLeavePublisher{}
	if err := Leave(context.Background(), doc, leaver, leaverKeys.Private, pub); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if len(pub.received) != 2 {
		t.Fatalf("expected leave notice sent to 2 other members, got %d", len(pub.received))
	}

	// otherMember's side: records exclusion, does not remove the recipient.
	sig := pub.received[0].sig
	creatorPath, err := ReceiveLeave(&doc, otherMember, leaver, sig, leaverKeys.Public)
	if err != nil {
		t.Fatalf("ReceiveLeave failed: %v", err)
	}
	if creatorPath {
		t.Error("expected non-creator receive path")
	}
	if doc.Excluded[leaver] != sig {
		t.Error("expected leave signature recorded in excluded map")
	}

	// creator's side: performs a normal remove.
	docAtCreator := Document{Creator: creator, Recipients: []did.DID{creator, leaver, otherMember}}
	creatorPath, err = ReceiveLeave(&docAtCreator, creator, leaver, sig, leaverKeys.Public)
	if err != nil {
		t.Fatalf("ReceiveLeave at creator failed: %v", err)
	}
	if !creatorPath {
		t.Error("expected creator receive path")
	}
	if indexOfDID(docAtCreator.Recipients, leaver) != -1 {
		t.Error("expected leaver removed from creator's recipients")
	}

	_ = creatorKeys
}

func TestReceiveLeaveRejectsBadSignature(t *testing.T) {
	creator := did.DID("did:peer:creator")
	leaver := did.DID("did:peer:leaver")
	wrongKeys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	rightKeys, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	sig, err := SignLeave(leaver, wrongKeys.Private)
	if err != nil {
		t.Fatal(err)
	}

	doc := Document{Creator: creator, Recipients: []did.DID{creator, leaver}}
	if _, err := ReceiveLeave(&doc, creator, leaver, sig, rightKeys.Public); err != chaterr.ErrBadSignature {
		t.Errorf("expected ErrBadSignature, got %v", err)
	}
}
