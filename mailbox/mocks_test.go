package mailbox

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/dagmesh/convocore/did"
	"github.com/dagmesh/convocore/message"
)

type stubProvider struct {
	entries []Entry
	fetchErr error
	acked   []string
}

func (p *stubProvider) Fetch(ctx context.Context, own did.DID) ([]Entry, error) {
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	return p.entries, nil
}

func (p *stubProvider) Ack(ctx context.Context, own did.DID, entryID string) error {
	p.acked = append(p.acked, entryID)
	return nil
}

type jsonDoc struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Sender         did.DID   `json:"sender"`
}

type jsonDecoder struct {
	docs map[string]message.Doc
}

func newJSONDecoder() *jsonDecoder {
	return &jsonDecoder{docs: make(map[string]message.Doc)}
}

func (d *jsonDecoder) register(key string, doc message.Doc) {
	d.docs[key] = doc
}

func (d *jsonDecoder) Decode(data []byte) (message.Doc, error) {
	var key jsonDoc
	if err := json.Unmarshal(data, &key); err != nil {
		return message.Doc{}, err
	}
	doc, ok := d.docs[key.ID.String()]
	if !ok {
		return message.Doc{}, errors.New("unknown test document")
	}
	return doc, nil
}

func encodeRef(id uuid.UUID) []byte {
	data, _ := json.Marshal(jsonDoc{ID: id})
	return data
}

type stubKeys struct {
	keys map[did.DID][32]byte
}

func newStubKeys() *stubKeys {
	return &stubKeys{keys: make(map[did.DID][32]byte)}
}

func (s *stubKeys) PublicKey(d did.DID) ([32]byte, error) {
	key, ok := s.keys[d]
	if !ok {
		return [32]byte{}, errors.New("unknown sender")
	}
	return key, nil
}

type stubLogs struct {
	logs map[uuid.UUID]*message.Log
}

func newStubLogs() *stubLogs {
	return &stubLogs{logs: make(map[uuid.UUID]*message.Log)}
}

func (s *stubLogs) Log(conversationID uuid.UUID) (*message.Log, bool) {
	log, ok := s.logs[conversationID]
	return log, ok
}

type recordingSink struct {
	events []Event
}

func (s *recordingSink) Emit(e Event) {
	s.events = append(s.events, e)
}
