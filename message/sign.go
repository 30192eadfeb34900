package message

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

// canonicalDoc is the subset of Doc a message's signature covers. Every
// field the sender controls is included, so an edit (which changes
// Modified/ContentCID/AttachmentsCID) is resigned rather than patched.
type canonicalDoc struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Sender         did.DID   `json:"sender"`
	Created        int64     `json:"created"`
	Modified       int64     `json:"modified"`
	ContentCID     string    `json:"content_cid"`
	AttachmentsCID string    `json:"attachments_cid"`
}

func (d Doc) canonicalBytes() ([]byte, error) {
	return json.Marshal(canonicalDoc{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		Sender:         d.Sender,
		Created:        d.Created.UnixNano(),
		Modified:       d.Modified.UnixNano(),
		ContentCID:     d.ContentCID.String(),
		AttachmentsCID: d.AttachmentsCID.String(),
	})
}

// Sign signs d's canonical fields with senderPrivate, setting d.Signature.
func (d *Doc) Sign(senderPrivate [32]byte) error {
	canonical, err := d.canonicalBytes()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(canonical, senderPrivate)
	if err != nil {
		return err
	}
	d.Signature = sig
	return nil
}

// Verify checks d's signature against senderPublic.
func (d Doc) Verify(senderPublic [32]byte) (bool, error) {
	canonical, err := d.canonicalBytes()
	if err != nil {
		return false, err
	}
	return crypto.Verify(canonical, d.Signature, senderPublic)
}
