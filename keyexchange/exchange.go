package keyexchange

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

// MessageKind distinguishes the four message types carried over a
// key-exchange topic once its Noise session is established.
type MessageKind uint8

const (
	KindRequestKey MessageKind = iota
	KindResponseKey
	KindPing
	KindPong
)

// Message is the payload exchanged on a (conversation_id, other_did)
// key-exchange topic, after Noise IK transport encryption.
type Message struct {
	Kind MessageKind
	// Key is the requester-encrypted symmetric key, present on
	// KindResponseKey only.
	Key []byte
}

// Publisher sends an already Noise-encrypted message to the peer on the
// exchange topic.
type Publisher interface {
	PublishExchange(ctx context.Context, conversationID uuid.UUID, peer did.DID, data []byte) error
}

// parkedEntry holds a Group message received before its symmetric key was
// known, keyed by (conversation, sender).
type parkedEntry struct {
	conversationID uuid.UUID
	sender         did.DID
}

// parkedPayload is one Group message held until its symmetric key arrives.
type parkedPayload struct {
	ciphertext []byte
	nonce      crypto.Nonce
}

// Exchange tracks in-flight key requests and parked payloads across every
// (conversation, peer) pair for the local node.
type Exchange struct {
	mu        sync.Mutex
	keystore  *crypto.Keystore
	requested map[parkedEntry]bool
	parked    map[parkedEntry]parkedPayload
	received  map[parkedEntry]bool
}

// NewExchange creates an Exchange backed by keystore.
func NewExchange(keystore *crypto.Keystore) *Exchange {
	return &Exchange{
		keystore:  keystore,
		requested: make(map[parkedEntry]bool),
		parked:    make(map[parkedEntry]parkedPayload),
		received:  make(map[parkedEntry]bool),
	}
}

// Park records ciphertext that arrived on a Group's main topic before the
// symmetric key for sender was known, and reports whether a key request
// must be issued (idempotent: only the first parked payload per pair
// triggers one).
func (e *Exchange) Park(conversationID uuid.UUID, sender did.DID, ciphertext []byte, nonce crypto.Nonce) (needsRequest bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := parkedEntry{conversationID, sender}
	e.parked[key] = parkedPayload{ciphertext: ciphertext, nonce: nonce}

	if e.requested[key] {
		return false
	}
	e.requested[key] = true
	return true
}

// HandleRequest answers an inbound KindRequestKey: it returns the local
// node's latest symmetric key for conversationID (encrypting it for
// requester over the Noise session is the caller's concern, since Session
// owns the cipher states), generating one if absent.
func (e *Exchange) HandleRequest(conversationID uuid.UUID, selfDID string) (crypto.SymmetricKey, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if key, ok := e.keystore.Latest(conversationID, selfDID); ok {
		return key, nil
	}

	key, err := crypto.GenerateSymmetricKey()
	if err != nil {
		return crypto.SymmetricKey{}, err
	}
	e.keystore.Put(conversationID, selfDID, key)
	return key, nil
}

// HandleResponse stores the decrypted symmetric key from a KindResponseKey
// under sender's DID and marks any parked payload from that sender as
// received, ready for the drain loop to replay.
func (e *Exchange) HandleResponse(conversationID uuid.UUID, sender did.DID, key crypto.SymmetricKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.keystore.Put(conversationID, sender.String(), key)

	pk := parkedEntry{conversationID, sender}
	if _, ok := e.parked[pk]; ok {
		e.received[pk] = true
	}
}

// ReplayFunc feeds a decrypted, previously-parked payload back through the
// normal inbound message-event handler.
type ReplayFunc func(ctx context.Context, conversationID uuid.UUID, sender did.DID, plaintext []byte)

// DrainReceived replays every parked payload whose key has since arrived,
// exactly once, then forgets it. Intended to run off a periodic timer.
func (e *Exchange) DrainReceived(ctx context.Context, replay ReplayFunc) {
	e.mu.Lock()
	ready := make([]parkedEntry, 0, len(e.received))
	for pk := range e.received {
		ready = append(ready, pk)
	}
	e.mu.Unlock()

	for _, pk := range ready {
		e.mu.Lock()
		payload, ok := e.parked[pk]
		if !ok {
			e.mu.Unlock()
			continue
		}
		plaintext, ok, err := e.keystore.DecryptLatest(pk.conversationID, pk.sender.String(), payload.ciphertext, payload.nonce)
		delete(e.parked, pk)
		delete(e.received, pk)
		delete(e.requested, pk)
		e.mu.Unlock()

		if err != nil || !ok {
			logrus.WithFields(logrus.Fields{
				"function":        "Exchange.DrainReceived",
				"conversation_id": pk.conversationID.String(),
				"sender":          pk.sender.String(),
			}).WithError(err).Warn("failed to decrypt parked payload after key response")
			continue
		}
		replay(ctx, pk.conversationID, pk.sender, plaintext)
	}
}

// PendingProbe tracks the health-probe timer for one peer on one exchange
// topic; success clears a peer's pending-probe timer.
type PendingProbe struct {
	mu      sync.Mutex
	timers  map[parkedEntry]time.Time
}

// NewPendingProbe creates an empty probe tracker.
func NewPendingProbe() *PendingProbe {
	return &PendingProbe{timers: make(map[parkedEntry]time.Time)}
}

// Sent records that a Ping was just sent to peer on conversationID's topic.
func (p *PendingProbe) Sent(conversationID uuid.UUID, peer did.DID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timers[parkedEntry{conversationID, peer}] = time.Now()
}

// Cleared records that a Pong was received by clearing the pending timer.
func (p *PendingProbe) Cleared(conversationID uuid.UUID, peer did.DID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.timers, parkedEntry{conversationID, peer})
}

// Pending reports whether a probe to peer is still outstanding.
func (p *PendingProbe) Pending(conversationID uuid.UUID, peer did.DID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.timers[parkedEntry{conversationID, peer}]
	return ok
}
