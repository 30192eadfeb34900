// Package capability defines the interface boundaries to the six external
// collaborators the conversation core depends on but does not implement:
// a content-addressed DAG store, a publish/subscribe transport, an
// identity/keypair provider, a file store, a blocklist, and an offline
// mailbox service. The core is wired against these traits, never
// against a concrete implementation, so it stays testable against mocks
// and portable across backends.
package capability

import (
	"context"
	"io"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/dagmesh/convocore/did"
)

// DagStore is the content-addressed blob store collaborator: put, get,
// pin/unpin, and a providers hint for recursive fetch across the overlay.
type DagStore interface {
	// Put stores block and returns its CID.
	Put(ctx context.Context, block []byte) (cid.Cid, error)
	// Get fetches the block addressed by id.
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	// Pin marks id (and, if recursive, everything it references) as
	// retained against garbage collection.
	Pin(ctx context.Context, id cid.Cid, recursive bool) error
	// Unpin releases a previous Pin.
	Unpin(ctx context.Context, id cid.Cid, recursive bool) error
	// Providers returns peers known to hold id, for recursive fetch.
	Providers(ctx context.Context, id cid.Cid) ([]peer.ID, error)
}

// PubSub is the publish/subscribe transport collaborator.
type PubSub interface {
	// Subscribe opens (or reuses) a subscription to topic.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	// Publish sends data on topic. Returns an error if the local node has
	// no route to any subscriber; the publish-or-enqueue caller treats
	// that as "enqueue".
	Publish(ctx context.Context, topic string, data []byte) error
	// Peers lists the peer ids currently known to be subscribed to topic.
	Peers(ctx context.Context, topic string) ([]peer.ID, error)
}

// Subscription delivers messages published to the topic it was opened on.
type Subscription interface {
	// Next blocks until a message arrives or ctx is done.
	Next(ctx context.Context) ([]byte, peer.ID, error)
	// Close releases the subscription.
	Close() error
}

// Keypair is the identity/keypair provider collaborator: the local node's
// own signing/encryption key material, DID<->peer-id resolution, and the
// friend/block list.
type Keypair interface {
	// Own returns the local node's long-lived DID.
	Own() did.DID
	// PrivateKey returns the local node's X25519/Ed25519 private key seed.
	PrivateKey() [32]byte
	// Resolve maps a transport peer id to the DID it authenticates as.
	Resolve(id peer.ID) (did.DID, error)
	// PeerID maps a DID to its transport peer id.
	PeerID(d did.DID) (peer.ID, error)
}

// Blocking is the friend/block list collaborator consulted before Direct
// conversation creation and non-creator group additions.
type Blocking interface {
	// IsBlocked reports whether the local node has blocked d.
	IsBlocked(d did.DID) bool
	// IsBlockedBy reports whether d has blocked the local node.
	IsBlockedBy(d did.DID) bool
}

// Files is the file store collaborator used by the attachment orchestrator.
type Files interface {
	// Upload streams r to the file store under name, returning progress
	// events on the returned channel (closed when the upload finishes).
	Upload(ctx context.Context, name string, r io.Reader) (<-chan UploadEvent, error)
	// Exists reports whether name already occupies a slot in the store,
	// used by the collision-avoidance rename loop.
	Exists(ctx context.Context, name string) (bool, error)
}

// UploadEventKind distinguishes the stages of an attachment upload.
type UploadEventKind int

const (
	// UploadProgress reports incremental bytes written.
	UploadProgress UploadEventKind = iota
	// UploadPending reports the upload queued behind store backpressure.
	UploadPending
	// UploadComplete reports the upload finished, with the final size and
	// content CID populated.
	UploadComplete
	// UploadFailed reports the upload could not complete.
	UploadFailed
)

// UploadEvent is one point on an attachment's upload progress stream.
type UploadEvent struct {
	Kind         UploadEventKind
	Name         string
	BytesWritten int64
	TotalBytes   int64
	ContentCID   cid.Cid
	Err          error
}

// Mailbox is the offline mailbox service collaborator: a best-effort
// off-peer store that holds messages for recipients who are not currently
// reachable on the pub/sub overlay.
type Mailbox interface {
	// Fetch pulls mailbox entries addressed to own, newest first.
	Fetch(ctx context.Context, own did.DID) ([]MailboxEntry, error)
	// Insert deposits an entry addressed to recipient.
	Insert(ctx context.Context, recipient did.DID, entry MailboxEntry) error
	// Ack acknowledges entry as retrieved to every provider that held it.
	Ack(ctx context.Context, own did.DID, entryID string) error
	// Remove deletes entry from the mailbox outright (used after Ack, or
	// by TTL expiry policy the mailbox service itself owns).
	Remove(ctx context.Context, own did.DID, entryID string) error
}

// MailboxEntry is one message parked in the offline mailbox.
type MailboxEntry struct {
	ID             string
	ConversationID string
	Sender         did.DID
	ContentCID     cid.Cid
	Deposited      time.Time
}
