package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/dagmesh/convocore/did"
)

// memDagStore is an in-memory DagStore double for testing.
type memDagStore struct {
	mu      sync.Mutex
	blocks  map[string][]byte
	pinned  map[string]bool
}

func newMemDagStore() *memDagStore {
	return &memDagStore{blocks: make(map[string][]byte), pinned: make(map[string]bool)}
}

func (m *memDagStore) Put(ctx context.Context, block []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(block, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	id := cid.NewCidV1(cid.Raw, mh)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[id.String()] = block
	return id, nil
}

func (m *memDagStore) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	block, ok := m.blocks[id.String()]
	if !ok {
		return nil, errors.New("block not found")
	}
	return block, nil
}

func (m *memDagStore) Pin(ctx context.Context, id cid.Cid, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pinned[id.String()] = true
	return nil
}

func (m *memDagStore) Unpin(ctx context.Context, id cid.Cid, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pinned, id.String())
	return nil
}

// stubPublisher is a Publisher double controlling which recipients are
// reachable and whether publishing succeeds.
type stubPublisher struct {
	connected map[did.DID]bool
	published []string
	failTopic map[string]bool
}

func newStubPublisher() *stubPublisher {
	return &stubPublisher{connected: make(map[did.DID]bool), failTopic: make(map[string]bool)}
}

func (s *stubPublisher) Connected(ctx context.Context, recipient did.DID, topic string) bool {
	return s.connected[recipient]
}

func (s *stubPublisher) Publish(ctx context.Context, topic string, ciphertext []byte) error {
	if s.failTopic[topic] {
		return errors.New("transport failure")
	}
	s.published = append(s.published, topic)
	return nil
}
