package conversation

import (
	"context"

	"github.com/dagmesh/convocore/chaterr"
	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

// HasPermission reports whether member holds grant, either directly or
// because member is the Group's creator (creators hold every grant
// implicitly).
func (d Document) HasPermission(member did.DID, grant Permission) bool {
	if d.Type != Group {
		return false
	}
	if member == d.Creator {
		return true
	}
	grants, ok := d.Permissions[member]
	if !ok {
		return false
	}
	return grants[grant]
}

// canAddParticipant checks the non-creator addition rule: target must not
// be in restrict, not already in recipients, and not blocked-by.
func (d Document) canAddParticipant(actor, target did.DID, blocking Blocking) error {
	if actor != d.Creator && !d.HasPermission(actor, AddParticipants) {
		return chaterr.ErrUnauthorized
	}

	for _, r := range d.Restrict {
		if r == target {
			return chaterr.ErrPublicKeyIsBlocked
		}
	}
	for _, r := range d.Recipients {
		if r == target {
			return chaterr.ErrIdentityExist
		}
	}
	if blocking != nil && blocking.IsBlockedBy(target) {
		return chaterr.ErrPublicKeyIsBlocked
	}
	return nil
}

// AddParticipant adds target to a Group conversation, enforcing the
// creator/permission/restrict/block rules.
func AddParticipant(doc *Document, actor, target did.DID, blocking Blocking) error {
	if err := doc.canAddParticipant(actor, target, blocking); err != nil {
		return err
	}
	doc.Recipients = append(doc.Recipients, target)
	return nil
}

// RemoveParticipant removes target from a Group conversation. The creator
// may always remove; any other actor needs ManageMembers. Removing the
// creator is never permitted.
func RemoveParticipant(doc *Document, actor, target did.DID) error {
	if target == doc.Creator {
		return chaterr.ErrUnauthorized
	}
	if actor != doc.Creator && !doc.HasPermission(actor, ManageMembers) {
		return chaterr.ErrUnauthorized
	}

	idx := indexOfDID(doc.Recipients, target)
	if idx == -1 {
		return chaterr.ErrIdentityDoesntExist
	}
	doc.Recipients = append(doc.Recipients[:idx], doc.Recipients[idx+1:]...)
	delete(doc.Permissions, target)
	return nil
}

// SetName renames a Group conversation. The creator may always rename,
// even without explicit permission; any other actor needs SetGroupName.
func SetName(doc *Document, actor did.DID, name string) error {
	if actor != doc.Creator && !doc.HasPermission(actor, SetGroupName) {
		return chaterr.ErrUnauthorized
	}
	if len(name) > MaxName {
		return chaterr.NewLengthError("conversation name", len(name), 0, MaxName)
	}
	doc.Name = name
	return nil
}

// SetPermission grants or revokes a permission for member. Only the
// creator may call this.
func SetPermission(doc *Document, actor, member did.DID, grant Permission, value bool) error {
	if actor != doc.Creator {
		return chaterr.ErrUnauthorized
	}
	if doc.Permissions == nil {
		doc.Permissions = make(map[did.DID]map[Permission]bool)
	}
	if doc.Permissions[member] == nil {
		doc.Permissions[member] = make(map[Permission]bool)
	}
	doc.Permissions[member][grant] = value
	return nil
}

// AddRestrict appends target to the restrict (blocklist overlay) list.
// Only the creator may call this.
func AddRestrict(doc *Document, actor, target did.DID) error {
	if actor != doc.Creator {
		return chaterr.ErrUnauthorized
	}
	for _, r := range doc.Restrict {
		if r == target {
			return chaterr.ErrIdentityExist
		}
	}
	doc.Restrict = append(doc.Restrict, target)
	return nil
}

// RemoveRestrict removes target from the restrict list. Only the creator
// may call this.
func RemoveRestrict(doc *Document, actor, target did.DID) error {
	if actor != doc.Creator {
		return chaterr.ErrUnauthorized
	}
	idx := indexOfDID(doc.Restrict, target)
	if idx == -1 {
		return chaterr.ErrIdentityDoesntExist
	}
	doc.Restrict = append(doc.Restrict[:idx], doc.Restrict[idx+1:]...)
	return nil
}

func indexOfDID(list []did.DID, target did.DID) int {
	for i, d := range list {
		if d == target {
			return i
		}
	}
	return -1
}

// LeaveSignatureMessage is the canonical payload a departing member signs.
func LeaveSignatureMessage(self did.DID) []byte {
	return []byte("exclude " + self.String())
}

// SignLeave produces the detached signature a departing member attaches
// to LeaveConversation.
func SignLeave(self did.DID, selfPrivate [32]byte) (crypto.Signature, error) {
	return crypto.Sign(LeaveSignatureMessage(self), selfPrivate)
}

// VerifyLeave checks a LeaveConversation signature against the leaver's
// public key.
func VerifyLeave(leaver did.DID, sig crypto.Signature, leaverPublic [32]byte) (bool, error) {
	return crypto.Verify(LeaveSignatureMessage(leaver), sig, leaverPublic)
}

// LeaveRecipients lists the members who must receive a departing member's
// LeaveConversation notice: every current member plus the creator.
func LeaveRecipients(doc Document) []did.DID {
	recipients := make([]did.DID, 0, len(doc.Recipients))
	recipients = append(recipients, doc.Recipients...)
	return recipients
}

// LeavePublisher sends the signed LeaveConversation notice to a recipient.
type LeavePublisher interface {
	PublishLeave(ctx context.Context, recipient did.DID, conversation Document, leaver did.DID, sig crypto.Signature) error
}

// Leave runs the departing-member side of the leave protocol: sign the
// exclusion message and send LeaveConversation to every current member
// and the creator.
func Leave(ctx context.Context, doc Document, self did.DID, selfPrivate [32]byte, pub LeavePublisher) error {
	sig, err := SignLeave(self, selfPrivate)
	if err != nil {
		return err
	}
	for _, recipient := range LeaveRecipients(doc) {
		if recipient == self {
			continue
		}
		if err := pub.PublishLeave(ctx, recipient, doc, self, sig); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveLeave handles an inbound LeaveConversation on the receiving side.
// If the receiver is the conversation's creator, it performs a normal
// remove (broadcasting that removal to the leaver is the caller's concern,
// not this function's). Otherwise the receiver records the exclusion
// signature and the caller should emit RecipientRemoved locally.
func ReceiveLeave(doc *Document, receiver, leaver did.DID, sig crypto.Signature, leaverPublic [32]byte) (creatorPath bool, err error) {
	ok, err := VerifyLeave(leaver, sig, leaverPublic)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, chaterr.ErrBadSignature
	}

	if receiver == doc.Creator {
		if err := RemoveParticipant(doc, doc.Creator, leaver); err != nil {
			return true, err
		}
		return true, nil
	}

	if doc.Excluded == nil {
		doc.Excluded = make(map[did.DID]crypto.Signature)
	}
	doc.Excluded[leaver] = sig
	return false, nil
}
