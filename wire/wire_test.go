package wire

import (
	"testing"

	"github.com/google/uuid"

	"github.com/dagmesh/convocore/did"
)

func TestConversationEventRoundTrip(t *testing.T) {
	e := ConversationEvent{
		Kind:           KindNewConversation,
		ConversationID: uuid.New(),
		Recipient:      did.DID("did:peer:abc"),
	}

	data, err := MarshalConversationEvent(e)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalConversationEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != e.Kind || got.ConversationID != e.ConversationID || got.Recipient != e.Recipient {
		t.Errorf("round trip mismatch: %+v vs %+v", got, e)
	}
}

func TestRequestResponseRoundTrip(t *testing.T) {
	r := RequestResponse{Kind: KindRequestKey, ConversationID: uuid.New()}

	data, err := MarshalRequestResponse(r)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalRequestResponse(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != r.Kind || got.ConversationID != r.ConversationID {
		t.Errorf("round trip mismatch: %+v vs %+v", got, r)
	}
}

func TestMessagingEventRoundTrip(t *testing.T) {
	e := MessagingEvent{
		Kind:           KindReact,
		ConversationID: uuid.New(),
		MessageID:      uuid.New(),
		Sender:         did.DID("did:peer:reactor"),
		Emoji:          "👍",
		State:          true,
	}

	data, err := MarshalMessagingEvent(e)
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalMessagingEvent(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != e.Kind || got.Emoji != e.Emoji || got.State != e.State {
		t.Errorf("round trip mismatch: %+v vs %+v", got, e)
	}
}
