package conversation

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"github.com/dagmesh/convocore/chaterr"
	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

// Blocking is the narrow friend/block-list surface Create consults: a
// Direct conversation is rejected if either side has blocked the other.
type Blocking interface {
	IsBlocked(d did.DID) bool
	IsBlockedBy(d did.DID) bool
}

// Publisher sends a signed, encrypted conversation-lifecycle envelope to a
// peer's messaging inbox.
type Publisher interface {
	PublishToMessaging(ctx context.Context, recipient did.DID, kind string, doc Document) error
}

// Store owns the set of conversation documents for the local node. It is
// the in-memory counterpart of the root document's `conversations: id->cid`
// map; DAG persistence of individual documents is the caller's (task's)
// responsibility via set_document's commit step.
type Store struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]Document
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{byID: make(map[uuid.UUID]Document)}
}

// Get returns the document for id.
func (s *Store) Get(id uuid.UUID) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.byID[id]
	if !ok {
		return Document{}, chaterr.ErrInvalidConversation
	}
	return doc, nil
}

// CreateDirect creates a Direct conversation between self and other,
// publishing NewConversation to other's messaging inbox.
func (s *Store) CreateDirect(ctx context.Context, self, other did.DID, blocking Blocking, pub Publisher) (Document, error) {
	if self == other {
		return Document{}, chaterr.ErrCannotCreateConversation
	}

	id, err := did.DeriveDirectID(self, other)
	if err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	if _, exists := s.byID[id]; exists {
		s.mu.Unlock()
		return Document{}, chaterr.ErrConversationExist
	}
	s.mu.Unlock()

	if blocking.IsBlocked(other) || blocking.IsBlockedBy(other) {
		return Document{}, chaterr.ErrPublicKeyIsBlocked
	}

	doc := Document{
		ID:         id,
		Type:       Direct,
		Recipients: []did.DID{self, other},
	}
	if err := doc.validate(); err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	s.byID[id] = doc
	s.mu.Unlock()

	if err := pub.PublishToMessaging(ctx, other, "NewConversation", doc); err != nil {
		logForDoc("Store.CreateDirect", doc).WithError(err).Warn("failed to publish new direct conversation")
	}

	return doc, nil
}

// CreateGroup creates a Group conversation, signs it, stores it, and
// publishes NewGroupConversation to every recipient except self. Sending
// the accompanying Request{Key} to each recipient is the key-exchange
// protocol's responsibility; the conversation store only hands back the
// stored document so the caller can drive that next step.
func (s *Store) CreateGroup(ctx context.Context, creatorPrivate [32]byte, doc Document, pub Publisher) (Document, error) {
	doc.Type = Group
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Permissions == nil {
		doc.Permissions = make(map[did.DID]map[Permission]bool)
	}
	if doc.Excluded == nil {
		doc.Excluded = make(map[did.DID]crypto.Signature)
	}

	if err := doc.validate(); err != nil {
		return Document{}, err
	}
	if err := doc.Sign(creatorPrivate); err != nil {
		return Document{}, err
	}

	s.mu.Lock()
	if _, exists := s.byID[doc.ID]; exists {
		s.mu.Unlock()
		return Document{}, chaterr.ErrConversationExist
	}
	s.byID[doc.ID] = doc
	s.mu.Unlock()

	for _, recipient := range doc.Recipients {
		if recipient == doc.Creator {
			continue
		}
		if err := pub.PublishToMessaging(ctx, recipient, "NewGroupConversation", doc); err != nil {
			logForDoc("Store.CreateGroup", doc).WithError(err).Warn("failed to publish new group conversation to recipient")
		}
	}

	return doc, nil
}

// Set runs a mutation against the stored document: it re-signs (Group,
// creator only) and re-verifies before persisting; on any failure the
// in-memory state is reverted to the last persisted document.
func (s *Store) Set(ctx context.Context, id uuid.UUID, creatorPrivate *[32]byte, creatorPublic [32]byte, mutate func(*Document) error) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous, ok := s.byID[id]
	if !ok {
		return Document{}, chaterr.ErrInvalidConversation
	}

	next := previous
	if err := mutate(&next); err != nil {
		return Document{}, err
	}

	if next.Type == Group && creatorPrivate != nil {
		if err := next.Sign(*creatorPrivate); err != nil {
			return Document{}, err
		}
	}

	if err := next.validate(); err != nil {
		return Document{}, err
	}
	if ok, err := next.Verify(creatorPublic); err != nil {
		return Document{}, err
	} else if !ok {
		return Document{}, chaterr.ErrBadSignature
	}

	s.byID[id] = next
	return next, nil
}

// Delete soft-deletes a conversation locally, clearing its message root.
// Callers decide whether a DeleteConversation broadcast or a
// LeaveConversation is appropriate based on the caller's membership
// permission.
func (s *Store) Delete(id uuid.UUID) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.byID[id]
	if !ok {
		return Document{}, chaterr.ErrInvalidConversation
	}

	doc.Deleted = true
	doc.Messages = cid.Undef
	s.byID[id] = doc
	return doc, nil
}
