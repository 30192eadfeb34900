// Package queue implements the per-conversation retry queue: a per-recipient
// FIFO of envelopes that could not be published, persisted as a single DAG
// snapshot swapped atomically on every mutation.
package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"

	"github.com/dagmesh/convocore/did"
)

// Item is one queued envelope awaiting delivery.
type Item struct {
	Recipient  did.DID
	MessageID  *uuid.UUID
	PeerHint   peer.ID
	Topic      string
	Ciphertext []byte
	Sent       bool
}

// Snapshot is the DAG-serializable form of the entire queue, keyed by
// recipient DID.
type Snapshot struct {
	Items map[string][]Item `json:"items"`
}

// DagStore is the narrow persistence surface Queue needs: put a new
// snapshot block, pin it, and unpin the snapshot it replaces.
type DagStore interface {
	Put(ctx context.Context, block []byte) (cid.Cid, error)
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Pin(ctx context.Context, id cid.Cid, recursive bool) error
	Unpin(ctx context.Context, id cid.Cid, recursive bool) error
}

// Encoder serializes/deserializes a Snapshot to DAG block bytes. Kept as
// an interface so callers can swap canonical JSON for a CBOR/IPLD codec
// without touching Queue's locking or persistence logic.
type Encoder interface {
	Encode(Snapshot) ([]byte, error)
	Decode([]byte) (Snapshot, error)
}

// Queue is the mutable, in-memory view of the retry queue, backed by a
// DagStore snapshot. All mutating methods persist-on-every-mutation per
// the design note that this is acceptable because the queue stays small.
type Queue struct {
	mu       sync.Mutex
	byRecip  map[did.DID][]Item
	store    DagStore
	encoder  Encoder
	rootCID  cid.Cid
	hasRoot  bool
}

// New creates an empty queue backed by store.
func New(store DagStore, encoder Encoder) *Queue {
	return &Queue{
		byRecip: make(map[did.DID][]Item),
		store:   store,
		encoder: encoder,
	}
}

// Enqueue appends item to its recipient's FIFO and persists the new
// snapshot, unpinning the old one if distinct.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.byRecip[item.Recipient] = append(q.byRecip[item.Recipient], item)
	return q.persistLocked(ctx)
}

// ForRecipient returns a copy of the FIFO for recipient, oldest first.
func (q *Queue) ForRecipient(recipient did.DID) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.byRecip[recipient]
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Publisher is the narrow transport surface the drain loop needs.
type Publisher interface {
	// Connected reports whether recipient is currently reachable on topic.
	Connected(ctx context.Context, recipient did.DID, topic string) bool
	// Publish re-signs and publishes ciphertext to topic, returning an
	// error only on a hard transport failure (not "not subscribed").
	Publish(ctx context.Context, topic string, ciphertext []byte) error
}

// Drain walks every recipient's FIFO once: for entries whose recipient is
// currently connected and subscribed to the stored topic, it republishes
// and marks `sent=true`. Sent entries are purged at the end of the pass;
// the snapshot is re-persisted iff any entry flipped.
func (q *Queue) Drain(ctx context.Context, pub Publisher) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	changed := false
	for recipient, items := range q.byRecip {
		for i := range items {
			if items[i].Sent {
				continue
			}
			if !pub.Connected(ctx, recipient, items[i].Topic) {
				continue
			}
			if err := pub.Publish(ctx, items[i].Topic, items[i].Ciphertext); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":  "Queue.Drain",
					"recipient": recipient.String(),
					"topic":     items[i].Topic,
				}).WithError(err).Warn("queue drain publish failed, will retry")
				continue
			}
			items[i].Sent = true
			changed = true
		}
		q.byRecip[recipient] = purgeSent(items)
	}

	if !changed {
		return nil
	}
	return q.persistLocked(ctx)
}

func purgeSent(items []Item) []Item {
	out := items[:0]
	for _, item := range items {
		if !item.Sent {
			out = append(out, item)
		}
	}
	return out
}

func (q *Queue) persistLocked(ctx context.Context) error {
	snapshot := Snapshot{Items: make(map[string][]Item, len(q.byRecip))}
	for recipient, items := range q.byRecip {
		snapshot.Items[recipient.String()] = items
	}

	encoded, err := q.encoder.Encode(snapshot)
	if err != nil {
		return err
	}

	newCID, err := q.store.Put(ctx, encoded)
	if err != nil {
		return err
	}
	if err := q.store.Pin(ctx, newCID, false); err != nil {
		return err
	}

	if q.hasRoot && q.rootCID != newCID {
		if err := q.store.Unpin(ctx, q.rootCID, false); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Queue.persistLocked",
			}).WithError(err).Warn("failed to unpin stale queue snapshot")
		}
	}

	q.rootCID = newCID
	q.hasRoot = true
	return nil
}

// Root returns the CID of the current persisted snapshot.
func (q *Queue) Root() (cid.Cid, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.rootCID, q.hasRoot
}

// LoadFrom restores the in-memory queue from a previously persisted
// snapshot, used on task restart.
func (q *Queue) LoadFrom(ctx context.Context, root cid.Cid) error {
	encoded, err := q.store.Get(ctx, root)
	if err != nil {
		return err
	}
	snapshot, err := q.encoder.Decode(encoded)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.byRecip = make(map[did.DID][]Item, len(snapshot.Items))
	for recipient, items := range snapshot.Items {
		q.byRecip[did.DID(recipient)] = items
	}
	q.rootCID = root
	q.hasRoot = true
	return nil
}
