// Package mailbox implements the offline mailbox reconciler: a periodic
// pull from every known provider, verify-then-insert-or-replace into the
// conversation's message log, and acknowledgment back to the providers
// that held the delivered entries.
package mailbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dagmesh/convocore/did"
	"github.com/dagmesh/convocore/message"
)

// EventKind distinguishes a brand-new message from a replayed edit.
type EventKind int

const (
	// MessageReceived is emitted the first time a mailbox entry's message
	// id is inserted into the log.
	MessageReceived EventKind = iota
	// MessageEdited is emitted when a mailbox entry replaces an existing
	// log entry with a newer Modified timestamp.
	MessageEdited
)

// Event is handed to the Sink for every mailbox entry the reconciler
// applies.
type Event struct {
	Kind           EventKind
	ConversationID uuid.UUID
	Message        message.Doc
}

// Sink receives reconciler events, typically feeding the conversation
// task's event stream.
type Sink interface {
	Emit(Event)
}

// Provider is one mailbox shuttle endpoint queried each tick. It mirrors
// capability.Mailbox's surface but stays package-local so mailbox doesn't
// need the full capability dependency.
type Provider interface {
	Fetch(ctx context.Context, own did.DID) ([]Entry, error)
	Ack(ctx context.Context, own did.DID, entryID string) error
}

// Entry is one message parked at a provider, addressed to the local node.
type Entry struct {
	ID             string
	ConversationID uuid.UUID
	Sender         did.DID
	Document       []byte // the serialized, still-to-be-decoded message.Doc
}

// Decoder turns a provider entry's raw bytes into a message document.
type Decoder interface {
	Decode(data []byte) (message.Doc, error)
}

// KeyResolver resolves a DID to the public key its message signatures
// verify against.
type KeyResolver interface {
	PublicKey(d did.DID) ([32]byte, error)
}

// Logs looks up the message log for a conversation the reconciler should
// apply entries into.
type Logs interface {
	Log(conversationID uuid.UUID) (*message.Log, bool)
}

// Reconciler runs the periodic mailbox pull.
type Reconciler struct {
	providers []Provider
	decoder   Decoder
	keys      KeyResolver
	logs      Logs
	sink      Sink
	timeout   time.Duration
}

// New creates a Reconciler. timeout bounds each provider's Fetch call
// ("request ... with a fixed timeout").
func New(providers []Provider, decoder Decoder, keys KeyResolver, logs Logs, sink Sink, timeout time.Duration) *Reconciler {
	return &Reconciler{providers: providers, decoder: decoder, keys: keys, logs: logs, sink: sink, timeout: timeout}
}

// Tick runs one reconciliation pass for own: query every provider, union
// results by entry id, apply each once, and acknowledge every provider
// that held an applied entry.
func (r *Reconciler) Tick(ctx context.Context, own did.DID) {
	unioned := make(map[string]Entry)
	holders := make(map[string][]Provider)

	for _, p := range r.providers {
		fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
		entries, err := p.Fetch(fetchCtx, own)
		cancel()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Reconciler.Tick",
			}).WithError(err).Warn("skipping mailbox provider that failed to respond")
			continue
		}
		for _, entry := range entries {
			unioned[entry.ID] = entry
			holders[entry.ID] = append(holders[entry.ID], p)
		}
	}

	for id, entry := range unioned {
		if r.apply(entry) {
			for _, p := range holders[id] {
				if err := p.Ack(ctx, own, id); err != nil {
					logrus.WithFields(logrus.Fields{
						"function":  "Reconciler.Tick",
						"entry_id":  id,
						"recipient": own.String(),
					}).WithError(err).Warn("failed to acknowledge applied mailbox entry")
				}
			}
		}
	}
}

// apply decodes, verifies, and inserts-or-replaces one entry, emitting the
// corresponding event. It reports whether the entry was actually applied;
// false for a decode/verify failure means no ack, so the provider keeps
// retrying.
func (r *Reconciler) apply(entry Entry) bool {
	doc, err := r.decoder.Decode(entry.Document)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Reconciler.apply",
			"entry_id": entry.ID,
		}).WithError(err).Warn("failed to decode mailbox entry")
		return false
	}

	senderKey, err := r.keys.PublicKey(doc.Sender)
	if err != nil {
		return false
	}
	valid, err := doc.Verify(senderKey)
	if err != nil || !valid {
		logrus.WithFields(logrus.Fields{
			"function":   "Reconciler.apply",
			"entry_id":   entry.ID,
			"message_id": doc.ID.String(),
		}).Warn("mailbox entry failed signature verification")
		return false
	}

	log, ok := r.logs.Log(doc.ConversationID)
	if !ok {
		return false
	}

	existing, err := log.Get(doc.ID)
	if err == nil {
		if !doc.Modified.After(existing.Modified) {
			return true // duplicate or stale: already applied, still ack
		}
		if err := log.Update(doc); err != nil {
			return false
		}
		r.sink.Emit(Event{Kind: MessageEdited, ConversationID: doc.ConversationID, Message: doc})
		return true
	}

	if err := log.Insert(doc); err != nil {
		return false
	}
	r.sink.Emit(Event{Kind: MessageReceived, ConversationID: doc.ConversationID, Message: doc})
	return true
}
