// Package message implements the message document and the per-conversation
// message log. The log keeps message metadata sorted by (created, id)
// descending; message bodies are stored as encrypted DAG blocks and
// decrypted lazily on read.
package message

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"github.com/dagmesh/convocore/chaterr"
	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
	"github.com/dagmesh/convocore/envelope"
)

func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}

// Type distinguishes a text message from one carrying attachments.
type Type uint8

const (
	// TypeText is a plain-text message.
	TypeText Type = iota
	// TypeAttachment is a message committing one or more uploaded files.
	TypeAttachment
)

// MinSize and MaxSize bound a message's total non-whitespace character
// count across its lines.
const (
	MinSize     = 1
	MaxSize     = 4096
	MaxReactions = 64
)

// Content is the plaintext body sealed inside an envelope's ciphertext.
// It round-trips through the envelope codec; the log only ever holds it
// in memory, never at rest.
type Content struct {
	Type        Type                 `json:"type"`
	Lines       []string             `json:"lines"`
	Attachments []envelope.ContentRef `json:"attachments"`
	Replied     *uuid.UUID           `json:"replied,omitempty"`
	Pinned      bool                 `json:"pinned"`
	Reactions   *Reactions           `json:"reactions"`
}

// NonWhitespaceLen returns the total character count across lines,
// ignoring whitespace-only lines, for comparison against MinSize/MaxSize.
func (c Content) NonWhitespaceLen() int {
	total := 0
	for _, line := range c.Lines {
		trimmed := trimWhitespace(line)
		total += len([]rune(trimmed))
	}
	return total
}

func trimWhitespace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(rune(s[start])) {
		start++
	}
	for end > start && isSpace(rune(s[end-1])) {
		end--
	}
	return s[start:end]
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}

// Doc is the on-log message document: the signed, content-addressed
// metadata for one message. The log sorts by (Created, ID) descending.
type Doc struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Sender         did.DID
	Created        time.Time
	Modified       time.Time
	Nonce          crypto.Nonce
	Signature      crypto.Signature
	ContentCID     cid.Cid
	AttachmentsCID cid.Cid
}

// ContentFetcher fetches and decodes the plaintext Content for a Doc,
// performed lazily by every read path (list/stream/pages/get). Concrete
// implementations fetch the ciphertext block from the DagStore and run it
// through the envelope codec in the mode the owning conversation selects.
type ContentFetcher interface {
	Fetch(ctx context.Context, doc Doc) (Content, error)
}

// Options controls list/stream/pages reads.
type Options struct {
	After      *time.Time
	Before     *time.Time
	Reverse    bool
	Limit      int
	First      bool
	Last       bool
	PinnedOnly bool
	Keyword    string
	PageSize   int
	PageNo     int
}

type entry struct {
	doc Doc
}

// Log is a conversation's message log: an ordered set of message
// documents rooted conceptually at a CID (the root export is the
// conversation document's `messages` field, owned by the caller).
type Log struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry
	order   []uuid.UUID // kept sorted by (Created, ID) descending
}

// NewLog creates an empty message log.
func NewLog() *Log {
	return &Log{entries: make(map[uuid.UUID]*entry)}
}

// Insert adds doc to the log. Fails with chaterr.ErrMessageFound if doc.ID
// is already present; insert is not idempotent.
func (l *Log) Insert(doc Doc) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[doc.ID]; exists {
		return chaterr.ErrMessageFound
	}

	l.entries[doc.ID] = &entry{doc: doc}
	l.insertSorted(doc)

	logrus.WithFields(logrus.Fields{
		"function":   "Log.Insert",
		"message_id": doc.ID.String(),
	}).Debug("inserted message")

	return nil
}

func (l *Log) insertSorted(doc Doc) {
	idx := sort.Search(len(l.order), func(i int) bool {
		existing := l.entries[l.order[i]].doc
		return less(doc, existing)
	})
	l.order = append(l.order, uuid.UUID{})
	copy(l.order[idx+1:], l.order[idx:])
	l.order[idx] = doc.ID
}

// less orders by (Created, ID) descending: a sorts before b iff a is newer,
// or equally new and has a lexicographically greater ID.
func less(a, b Doc) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.After(b.Created)
	}
	return a.ID.String() > b.ID.String()
}

// Update replaces the document for doc.ID in place (edits, pins, reaction
// mutations go through this), re-sorting since Created/Modified may have
// changed. Callers are responsible for preserving ID, sender, and created
// across the replacement; Update itself does not enforce it.
func (l *Log) Update(doc Doc) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.entries[doc.ID]; !exists {
		return chaterr.ErrMessageNotFound
	}

	l.removeFromOrder(doc.ID)
	l.entries[doc.ID] = &entry{doc: doc}
	l.insertSorted(doc)
	return nil
}

// Delete removes id from the log. Callers are responsible for unpinning
// content blocks the entry uniquely owned.
func (l *Log) Delete(id uuid.UUID) (Doc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.entries[id]
	if !exists {
		return Doc{}, chaterr.ErrMessageNotFound
	}
	doc := e.doc
	delete(l.entries, id)
	l.removeFromOrder(id)
	return doc, nil
}

func (l *Log) removeFromOrder(id uuid.UUID) {
	for i, existing := range l.order {
		if existing == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			return
		}
	}
}

// Contains reports whether id has a log entry.
func (l *Log) Contains(id uuid.UUID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[id]
	return ok
}

// Get returns the document for id without decrypting its content.
func (l *Log) Get(id uuid.UUID) (Doc, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok {
		return Doc{}, chaterr.ErrMessageNotFound
	}
	return e.doc, nil
}

// List returns documents matching opts, applying date range, reverse
// order, limit and pagination. It skips lazy content decryption and
// applies neither the pin filter nor keyword filtering; Stream does both.
func (l *Log) List(opts Options) []Doc {
	l.mu.RLock()
	ordered := make([]uuid.UUID, len(l.order))
	copy(ordered, l.order)
	l.mu.RUnlock()

	docs := make([]Doc, 0, len(ordered))
	for _, id := range ordered {
		l.mu.RLock()
		e, ok := l.entries[id]
		l.mu.RUnlock()
		if !ok {
			continue
		}
		docs = append(docs, e.doc)
	}

	docs = applyDateRange(docs, opts)
	if opts.Reverse {
		reverseDocs(docs)
	}
	docs = paginate(docs, opts)
	return docs
}

func applyDateRange(docs []Doc, opts Options) []Doc {
	if opts.After == nil && opts.Before == nil {
		return docs
	}
	filtered := make([]Doc, 0, len(docs))
	for _, d := range docs {
		if opts.After != nil && d.Created.Before(*opts.After) {
			continue
		}
		if opts.Before != nil && d.Created.After(*opts.Before) {
			continue
		}
		filtered = append(filtered, d)
	}
	return filtered
}

func reverseDocs(docs []Doc) {
	for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
		docs[i], docs[j] = docs[j], docs[i]
	}
}

func paginate(docs []Doc, opts Options) []Doc {
	if opts.First {
		if len(docs) == 0 {
			return docs
		}
		return docs[:1]
	}
	if opts.Last {
		if len(docs) == 0 {
			return docs
		}
		return docs[len(docs)-1:]
	}
	if opts.PageSize > 0 {
		start := opts.PageNo * opts.PageSize
		if start >= len(docs) {
			return nil
		}
		end := start + opts.PageSize
		if end > len(docs) {
			end = len(docs)
		}
		return docs[start:end]
	}
	if opts.Limit > 0 && opts.Limit < len(docs) {
		return docs[:opts.Limit]
	}
	return docs
}

// Stream fetches content lazily per document, in List order, skipping
// (and logging) any entry whose content fails verification.
func (l *Log) Stream(ctx context.Context, opts Options, fetcher ContentFetcher) ([]DecodedMessage, error) {
	docs := l.List(opts)
	out := make([]DecodedMessage, 0, len(docs))

	for _, doc := range docs {
		content, err := fetcher.Fetch(ctx, doc)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Log.Stream",
				"message_id": doc.ID.String(),
			}).WithError(err).Warn("skipping message that failed to decrypt/verify")
			continue
		}

		if opts.PinnedOnly && !content.Pinned {
			continue
		}
		if opts.Keyword != "" && !containsKeyword(content, opts.Keyword) {
			continue
		}

		out = append(out, DecodedMessage{Doc: doc, Content: content})
	}
	return out, nil
}

// Pages splits Stream's result into pages of opts.PageSize, returning the
// page at opts.PageNo (0-indexed).
func (l *Log) Pages(ctx context.Context, opts Options, fetcher ContentFetcher) ([]DecodedMessage, error) {
	pageOpts := opts
	pageOpts.PageSize = 0 // gather everything matching filters first
	all, err := l.Stream(ctx, pageOpts, fetcher)
	if err != nil {
		return nil, err
	}

	if opts.PageSize <= 0 {
		return all, nil
	}
	start := opts.PageNo * opts.PageSize
	if start >= len(all) {
		return nil, nil
	}
	end := start + opts.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func containsKeyword(c Content, keyword string) bool {
	for _, line := range c.Lines {
		if indexFold(line, keyword) >= 0 {
			return true
		}
	}
	return false
}

// DecodedMessage pairs a log document with its lazily-decrypted content.
type DecodedMessage struct {
	Doc     Doc
	Content Content
}

// Len returns the number of entries currently in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
