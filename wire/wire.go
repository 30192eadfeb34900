// Package wire implements the canonical JSON wire types carried inside an
// envelope.Payload's plaintext: conversation lifecycle events, the
// per-pair request/response exchange, and the main-topic messaging events.
// Every union is encoded as {"kind": "...", payload fields inline} so a
// receiver can dispatch on Kind before unmarshaling the rest.
package wire

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"

	"github.com/dagmesh/convocore/conversation"
	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

// ConversationEventKind enumerates the out-of-band conversation-lifecycle
// messages sent asymmetrically to a peer's messaging inbox.
type ConversationEventKind string

const (
	KindNewConversation      ConversationEventKind = "NewConversation"
	KindNewGroupConversation ConversationEventKind = "NewGroupConversation"
	KindLeaveConversation    ConversationEventKind = "LeaveConversation"
	KindDeleteConversation   ConversationEventKind = "DeleteConversation"
)

// ConversationEvent is the envelope plaintext for a conversation lifecycle
// message. Only the fields relevant to Kind are populated. Leaver carries
// the departing member's identity for KindLeaveConversation, distinct from
// Recipient (the transport target the event is being sent to).
type ConversationEvent struct {
	Kind           ConversationEventKind  `json:"kind"`
	ConversationID uuid.UUID              `json:"conversation_id,omitempty"`
	Recipient      did.DID                `json:"recipient,omitempty"`
	Leaver         did.DID                `json:"leaver,omitempty"`
	Conversation   *conversation.Document `json:"conversation,omitempty"`
	Signature      crypto.Signature       `json:"signature,omitempty"`
}

// MarshalConversationEvent serializes e to canonical JSON.
func MarshalConversationEvent(e ConversationEvent) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalConversationEvent parses a conversation lifecycle event.
func UnmarshalConversationEvent(data []byte) (ConversationEvent, error) {
	var e ConversationEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return ConversationEvent{}, err
	}
	return e, nil
}

// RequestResponseKind enumerates the per-pair exchange-topic traffic.
type RequestResponseKind string

const (
	KindRequestKey  RequestResponseKind = "RequestKey"
	KindResponseKey RequestResponseKind = "ResponseKey"
	KindPing        RequestResponseKind = "Ping"
	KindPong        RequestResponseKind = "Pong"
)

// RequestResponse is the envelope plaintext for the key-exchange /
// ping-pong topic.
type RequestResponse struct {
	Kind           RequestResponseKind `json:"kind"`
	ConversationID uuid.UUID           `json:"conversation_id"`
	Key            crypto.SymmetricKey `json:"key,omitempty"`
}

// MarshalRequestResponse serializes r to canonical JSON.
func MarshalRequestResponse(r RequestResponse) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRequestResponse parses a request/response exchange message.
func UnmarshalRequestResponse(data []byte) (RequestResponse, error) {
	var r RequestResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return RequestResponse{}, err
	}
	return r, nil
}

// MessagingEventKind enumerates the main-topic and event-topic traffic.
type MessagingEventKind string

const (
	KindNew               MessagingEventKind = "New"
	KindEdit              MessagingEventKind = "Edit"
	KindDelete            MessagingEventKind = "Delete"
	KindPin               MessagingEventKind = "Pin"
	KindReact             MessagingEventKind = "React"
	KindEvent             MessagingEventKind = "Event"
	KindUpdateConversation MessagingEventKind = "UpdateConversation"
)

// MessagingEvent is the envelope plaintext for Group/Direct main-topic and
// ephemeral event-topic traffic. Only the fields relevant to Kind are
// populated; ContentCID/AttachmentsCID/Nonce/Signature carry a New/Edit
// message's detached fields so the recipient can reconstruct a message.Doc
// without re-deriving them from the ciphertext.
type MessagingEvent struct {
	Kind           MessagingEventKind     `json:"kind"`
	ConversationID uuid.UUID              `json:"conversation_id"`
	MessageID      uuid.UUID              `json:"message_id,omitempty"`
	Sender         did.DID                `json:"sender,omitempty"`
	Created        int64                  `json:"created,omitempty"`
	Modified       int64                  `json:"modified,omitempty"`
	Nonce          crypto.Nonce           `json:"nonce,omitempty"`
	Signature      crypto.Signature       `json:"signature,omitempty"`
	ContentCID     cid.Cid                `json:"content_cid,omitempty"`
	AttachmentsCID cid.Cid                `json:"attachments_cid,omitempty"`
	Member         did.DID                `json:"member,omitempty"`
	State          bool                   `json:"state,omitempty"`
	Emoji          string                 `json:"emoji,omitempty"`
	Event          string                 `json:"event,omitempty"`
	Cancelled      bool                   `json:"cancelled,omitempty"`
	Conversation   *conversation.Document `json:"conversation,omitempty"`
}

// MarshalMessagingEvent serializes e to canonical JSON.
func MarshalMessagingEvent(e MessagingEvent) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalMessagingEvent parses a messaging event.
func UnmarshalMessagingEvent(data []byte) (MessagingEvent, error) {
	var e MessagingEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return MessagingEvent{}, err
	}
	return e, nil
}
