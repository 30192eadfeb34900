package queue

import (
	"context"
	"testing"

	"github.com/dagmesh/convocore/did"
)

func TestEnqueueFIFOPerRecipient(t *testing.T) {
	store := newMemDagStore()
	q := New(store, JSONEncoder{})
	ctx := context.Background()

	recipient := did.DID("did:peer:bob")
	if err := q.Enqueue(ctx, Item{Recipient: recipient, Topic: "t", Ciphertext: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, Item{Recipient: recipient, Topic: "t", Ciphertext: []byte("b")}); err != nil {
		t.Fatal(err)
	}

	items := q.ForRecipient(recipient)
	if len(items) != 2 {
		t.Fatalf("expected 2 queued items, got %d", len(items))
	}
	if string(items[0].Ciphertext) != "a" || string(items[1].Ciphertext) != "b" {
		t.Error("expected FIFO order preserved")
	}
}

func TestDrainPublishesAndPurgesSent(t *testing.T) {
	store := newMemDagStore()
	q := New(store, JSONEncoder{})
	ctx := context.Background()

	recipient := did.DID("did:peer:bob")
	if err := q.Enqueue(ctx, Item{Recipient: recipient, Topic: "conv-topic", Ciphertext: []byte("hello")}); err != nil {
		t.Fatal(err)
	}

	pub := newStubPublisher()
	pub.connected[recipient] = true

	if err := q.Drain(ctx, pub); err != nil {
		t.Fatalf("drain failed: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.published))
	}
	if items := q.ForRecipient(recipient); len(items) != 0 {
		t.Errorf("expected sent entry purged, got %d remaining", len(items))
	}
}

func TestDrainLeavesUnreachableRecipientsQueued(t *testing.T) {
	store := newMemDagStore()
	q := New(store, JSONEncoder{})
	ctx := context.Background()

	recipient := did.DID("did:peer:offline")
	if err := q.Enqueue(ctx, Item{Recipient: recipient, Topic: "t", Ciphertext: []byte("x")}); err != nil {
		t.Fatal(err)
	}

	pub := newStubPublisher() // nobody connected
	if err := q.Drain(ctx, pub); err != nil {
		t.Fatal(err)
	}

	if items := q.ForRecipient(recipient); len(items) != 1 {
		t.Errorf("expected item to remain queued, got %d", len(items))
	}
}

func TestPersistUnpinsStaleSnapshot(t *testing.T) {
	store := newMemDagStore()
	q := New(store, JSONEncoder{})
	ctx := context.Background()

	recipient := did.DID("did:peer:bob")
	if err := q.Enqueue(ctx, Item{Recipient: recipient, Topic: "t", Ciphertext: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	firstRoot, _ := q.Root()

	if err := q.Enqueue(ctx, Item{Recipient: recipient, Topic: "t", Ciphertext: []byte("b")}); err != nil {
		t.Fatal(err)
	}
	secondRoot, _ := q.Root()

	if firstRoot == secondRoot {
		t.Fatal("expected root CID to change across mutations")
	}
	if store.pinned[firstRoot.String()] {
		t.Error("expected stale snapshot to be unpinned")
	}
	if !store.pinned[secondRoot.String()] {
		t.Error("expected current snapshot to be pinned")
	}
}

func TestLoadFromRestoresState(t *testing.T) {
	store := newMemDagStore()
	q := New(store, JSONEncoder{})
	ctx := context.Background()

	recipient := did.DID("did:peer:bob")
	if err := q.Enqueue(ctx, Item{Recipient: recipient, Topic: "t", Ciphertext: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	root, _ := q.Root()

	restored := New(store, JSONEncoder{})
	if err := restored.LoadFrom(ctx, root); err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if items := restored.ForRecipient(recipient); len(items) != 1 {
		t.Errorf("expected restored queue to have 1 item, got %d", len(items))
	}
}
