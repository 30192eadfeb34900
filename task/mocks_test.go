package task

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multihash"

	"github.com/dagmesh/convocore/capability"
	"github.com/dagmesh/convocore/conversation"
	"github.com/dagmesh/convocore/did"
	"github.com/dagmesh/convocore/mailbox"
	"github.com/dagmesh/convocore/queue"
)

type fakeKeypair struct {
	own    did.DID
	peerOf map[did.DID]peer.ID
	didOf  map[peer.ID]did.DID
}

func newFakeKeypair(own did.DID) *fakeKeypair {
	return &fakeKeypair{own: own, peerOf: make(map[did.DID]peer.ID), didOf: make(map[peer.ID]did.DID)}
}

func (f *fakeKeypair) link(d did.DID, p peer.ID) {
	f.peerOf[d] = p
	f.didOf[p] = d
}

func (f *fakeKeypair) Own() did.DID          { return f.own }
func (f *fakeKeypair) PrivateKey() [32]byte  { return [32]byte{} }
func (f *fakeKeypair) Resolve(id peer.ID) (did.DID, error) {
	d, ok := f.didOf[id]
	if !ok {
		return "", errors.New("fakeKeypair: unknown peer id")
	}
	return d, nil
}
func (f *fakeKeypair) PeerID(d did.DID) (peer.ID, error) {
	p, ok := f.peerOf[d]
	if !ok {
		return "", errors.New("fakeKeypair: unknown did")
	}
	return p, nil
}

type publishedMsg struct {
	topic string
	data  []byte
}

type fakePubSub struct {
	mu           sync.Mutex
	peersByTopic map[string][]peer.ID
	published    []publishedMsg
	publishErr   error
}

func newFakePubSub() *fakePubSub {
	return &fakePubSub{peersByTopic: make(map[string][]peer.ID)}
}

func (f *fakePubSub) Subscribe(ctx context.Context, topic string) (capability.Subscription, error) {
	return &blockingSubscription{}, nil
}

func (f *fakePubSub) Publish(ctx context.Context, topic string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMsg{topic: topic, data: data})
	return nil
}

func (f *fakePubSub) Peers(ctx context.Context, topic string) ([]peer.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peersByTopic[topic], nil
}

func (f *fakePubSub) lastPublished() (publishedMsg, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.published) == 0 {
		return publishedMsg{}, false
	}
	return f.published[len(f.published)-1], true
}

// blockingSubscription never yields a message; it only unblocks when its
// context is cancelled. Tests exercise handlers directly rather than
// driving them through Start's pump goroutines.
type blockingSubscription struct{}

func (b *blockingSubscription) Next(ctx context.Context) ([]byte, peer.ID, error) {
	<-ctx.Done()
	return nil, "", ctx.Err()
}
func (b *blockingSubscription) Close() error { return nil }

type memDagStore struct {
	mu     sync.Mutex
	blocks map[string][]byte
}

func newMemDagStore() *memDagStore {
	return &memDagStore{blocks: make(map[string][]byte)}
}

func (m *memDagStore) Put(ctx context.Context, block []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(block, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	id := cid.NewCidV1(cid.Raw, sum)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[id.String()] = block
	return id, nil
}

func (m *memDagStore) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[id.String()]
	if !ok {
		return nil, errors.New("memDagStore: block not found")
	}
	return b, nil
}

func (m *memDagStore) Pin(ctx context.Context, id cid.Cid, recursive bool) error   { return nil }
func (m *memDagStore) Unpin(ctx context.Context, id cid.Cid, recursive bool) error { return nil }

type jsonQueueEncoder struct{}

func (jsonQueueEncoder) Encode(s queue.Snapshot) ([]byte, error) { return json.Marshal(s) }
func (jsonQueueEncoder) Decode(data []byte) (queue.Snapshot, error) {
	var s queue.Snapshot
	err := json.Unmarshal(data, &s)
	return s, err
}

func newTestQueue() *queue.Queue {
	return queue.New(newMemDagStore(), jsonQueueEncoder{})
}

type stubBlocking struct{}

func (stubBlocking) IsBlocked(d did.DID) bool   { return false }
func (stubBlocking) IsBlockedBy(d did.DID) bool { return false }

type noopConversationPublisher struct{}

func (noopConversationPublisher) PublishToMessaging(ctx context.Context, recipient did.DID, kind string, doc conversation.Document) error {
	return nil
}

type recordingApplier struct {
	mu        sync.Mutex
	pins      int
	reactions int
	ephemeral int
	notified  int
}

func (r *recordingApplier) Pin(ctx context.Context, conversationID, messageID uuid.UUID, member did.DID, state bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins++
}

func (r *recordingApplier) React(ctx context.Context, conversationID, messageID uuid.UUID, reactor did.DID, emoji string, state bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions++
}

func (r *recordingApplier) Ephemeral(ctx context.Context, conversationID uuid.UUID, member did.DID, event string, cancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ephemeral++
}

func (r *recordingApplier) Notify(ctx context.Context, ev mailbox.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified++
}

type fakeFiles struct{}

func (fakeFiles) Upload(ctx context.Context, name string, r io.Reader) (<-chan capability.UploadEvent, error) {
	ch := make(chan capability.UploadEvent)
	close(ch)
	return ch, nil
}
func (fakeFiles) Exists(ctx context.Context, name string) (bool, error) { return false, nil }
