package conversation

import (
	"context"

	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

type stubBlocking struct {
	blocked   map[did.DID]bool
	blockedBy map[did.DID]bool
}

func newStubBlocking() *stubBlocking {
	return &stubBlocking{blocked: make(map[did.DID]bool), blockedBy: make(map[did.DID]bool)}
}

func (s *stubBlocking) IsBlocked(d did.DID) bool   { return s.blocked[d] }
func (s *stubBlocking) IsBlockedBy(d did.DID) bool { return s.blockedBy[d] }

type recordingPublisher struct {
	published []struct {
		recipient did.DID
		kind      string
	}
}

func (p *recordingPublisher) PublishToMessaging(ctx context.Context, recipient did.DID, kind string, doc Document) error {
	p.published = append(p.published, struct {
		recipient did.DID
		kind      string
	}{recipient, kind})
	return nil
}

type recordingLeavePublisher struct {
	received []struct {
		recipient did.DID
		leaver    did.DID
		sig       crypto.Signature
	}
}

func (p *recordingLeavePublisher) PublishLeave(ctx context.Context, recipient did.DID, conv Document, leaver did.DID, sig crypto.Signature) error {
	p.received = append(p.received, struct {
		recipient did.DID
		leaver    did.DID
		sig       crypto.Signature
	}{recipient, leaver, sig})
	return nil
}
