// Package conversation implements the conversation document, its
// lifecycle (create/set/delete), and the Group membership state machine.
package conversation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"github.com/dagmesh/convocore/chaterr"
	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

// Type distinguishes a two-party Direct conversation from a many-party
// Group conversation.
type Type uint8

const (
	// Direct is a two-recipient conversation with no creator/permissions.
	Direct Type = iota
	// Group is a multi-recipient conversation with a creator and a
	// permission/membership state machine.
	Group
)

// Permission is a grant a Group creator can delegate to a member.
type Permission uint8

const (
	AddParticipants Permission = iota
	SetGroupName
	ManageRoles
	ManagePermissions
	ManageMembers
	ManageChannels
	EditInfo
	ManageInvites
)

const (
	// MaxName bounds Document.Name.
	MaxName = 255
	// MaxDescription bounds Document.Description.
	MaxDescription = 1024
)

// Document is the conversation's signed metadata record. Group
// documents are signed by Creator over the canonical fields; Direct
// documents carry no signature (signing only applies to Group).
type Document struct {
	ID          uuid.UUID
	Type        Type
	Recipients  []did.DID
	Creator     did.DID // empty for Direct
	Name        string
	Description string
	Icon        cid.Cid
	Banner      cid.Cid
	Permissions map[did.DID]map[Permission]bool
	Restrict    []did.DID
	Excluded    map[did.DID]crypto.Signature
	Messages    cid.Cid
	Archived    bool
	Favorite    bool
	Deleted     bool
	Signature   crypto.Signature
}

// canonicalFields is the subset of Document the Group signature covers.
// Archived/Favorite/Deleted are local-only view state and never signed;
// Archived and Favorite are preserved across an inbound document
// replacement, Deleted is taken from the incoming document.
type canonicalFields struct {
	ID          uuid.UUID                       `json:"id"`
	Type        Type                             `json:"type"`
	Recipients  []did.DID                        `json:"recipients"`
	Creator     did.DID                          `json:"creator"`
	Name        string                           `json:"name"`
	Description string                           `json:"description"`
	Icon        cid.Cid                          `json:"icon"`
	Banner      cid.Cid                          `json:"banner"`
	Permissions map[did.DID]map[Permission]bool  `json:"permissions"`
	Restrict    []did.DID                        `json:"restrict"`
}

func (d Document) canonicalBytes() ([]byte, error) {
	return json.Marshal(canonicalFields{
		ID:          d.ID,
		Type:        d.Type,
		Recipients:  d.Recipients,
		Creator:     d.Creator,
		Name:        d.Name,
		Description: d.Description,
		Icon:        d.Icon,
		Banner:      d.Banner,
		Permissions: d.Permissions,
		Restrict:    d.Restrict,
	})
}

// Sign signs d's canonical fields with creatorPrivate, setting
// d.Signature. Only meaningful for Group documents.
func (d *Document) Sign(creatorPrivate [32]byte) error {
	canonical, err := d.canonicalBytes()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(canonical, creatorPrivate)
	if err != nil {
		return err
	}
	d.Signature = sig
	return nil
}

// Verify checks d's signature against creatorPublic. Direct
// documents always verify trivially since they carry no signature.
func (d Document) Verify(creatorPublic [32]byte) (bool, error) {
	if d.Type == Direct {
		return true, nil
	}
	canonical, err := d.canonicalBytes()
	if err != nil {
		return false, err
	}
	return crypto.Verify(canonical, d.Signature, creatorPublic)
}

// validate enforces the document's structural invariants, independent of
// signature verification.
func (d Document) validate() error {
	if d.Type == Group && d.Creator.Empty() {
		return withContext(chaterr.ErrInvalidConversation, "group conversation missing creator")
	}

	if d.Type == Group {
		foundCreator := false
		for _, r := range d.Recipients {
			if r == d.Creator {
				foundCreator = true
				break
			}
		}
		if !foundCreator {
			return withContext(chaterr.ErrInvalidConversation, "creator must be a recipient")
		}
	}

	if d.Type == Direct {
		if len(d.Recipients) != 2 {
			return withContext(chaterr.ErrInvalidConversation, "direct conversation requires exactly two recipients")
		}
		if d.Recipients[0] == d.Recipients[1] {
			return withContext(chaterr.ErrInvalidConversation, "direct conversation requires two distinct recipients")
		}
	}

	recipientSet := make(map[did.DID]bool, len(d.Recipients))
	for _, r := range d.Recipients {
		recipientSet[r] = true
	}
	for excluded := range d.Excluded {
		if recipientSet[excluded] {
			return withContext(chaterr.ErrInvalidConversation, "excluded DID still present in recipients")
		}
	}
	for _, restricted := range d.Restrict {
		if recipientSet[restricted] {
			return withContext(chaterr.ErrInvalidConversation, "restricted DID still present in recipients")
		}
	}

	if len(d.Name) > MaxName {
		return chaterr.NewLengthError("conversation name", len(d.Name), 0, MaxName)
	}
	if len(d.Description) > MaxDescription {
		return chaterr.NewLengthError("conversation description", len(d.Description), 0, MaxDescription)
	}

	return nil
}

func withContext(base error, _ string) error {
	// Kept as a named wrapper point: InvalidConversation carries no
	// structured context in the taxonomy, so the reason string is dropped
	// and only the sentinel is returned.
	return base
}

// Created and Modified are kept outside Document because the document
// itself only models what's signed/replicated. Nothing in this module
// sets or reads timestamps; the Store keeps no timing of its own.
type timestamps struct {
	Created  time.Time
	Modified time.Time
}

func logForDoc(function string, d Document) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"function":        function,
		"conversation_id": d.ID.String(),
		"type":            d.Type,
	})
}
