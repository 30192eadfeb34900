// Package chaterr defines the error taxonomy shared by the conversation
// core's components. Kinds are plain sentinel values so callers compare
// with errors.Is; InvalidLength is the LengthError struct type, which carries
// structured context and is detected with errors.As or IsLengthError.
package chaterr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConversation indicates a conversation document failed an
	// invariant check (missing creator, signature mismatch, duplicate
	// recipients).
	ErrInvalidConversation = errors.New("invalid conversation")
	// ErrConversationExist indicates create_conversation was called for an
	// id that already has a stored document.
	ErrConversationExist = errors.New("conversation already exists")
	// ErrCannotCreateConversation indicates a Direct conversation was
	// attempted with the caller's own DID.
	ErrCannotCreateConversation = errors.New("cannot create conversation with self")

	// ErrInvalidMessage indicates a message failed signature verification
	// or a structural invariant.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrMessageNotFound indicates a message id has no log entry.
	ErrMessageNotFound = errors.New("message not found")
	// ErrMessageFound indicates insert was called for an id already present.
	ErrMessageFound = errors.New("message already exists")
	// ErrEmptyMessage indicates a message had zero non-whitespace content.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrIdentityExist indicates a DID is already known (e.g. already a
	// recipient, or already present in a block/restrict list).
	ErrIdentityExist = errors.New("identity already exists")
	// ErrIdentityDoesntExist indicates a referenced DID is not known.
	ErrIdentityDoesntExist = errors.New("identity does not exist")
	// ErrPublicKeyInvalid indicates a public key failed to decode or is
	// the identity element.
	ErrPublicKeyInvalid = errors.New("public key is invalid")
	// ErrPublicKeyIsBlocked indicates an operation targeted a blocked peer.
	ErrPublicKeyIsBlocked = errors.New("public key is blocked")
	// ErrPublicKeyIsntBlocked indicates an unblock was attempted on a peer
	// that was never blocked.
	ErrPublicKeyIsntBlocked = errors.New("public key isn't blocked")

	// ErrUnauthorized indicates the caller lacks the permission grant
	// required for the attempted mutation.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrReactionExist indicates a (emoji, DID) reaction pair is already
	// recorded.
	ErrReactionExist = errors.New("reaction already exists")
	// ErrReactionDoesntExist indicates a reaction removal targeted a pair
	// that was never recorded.
	ErrReactionDoesntExist = errors.New("reaction does not exist")

	// ErrNoAttachments indicates an Attachment-type message carried no
	// file descriptors.
	ErrNoAttachments = errors.New("no attachments")
	// ErrFileNotFound indicates a referenced local file path does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidFile indicates a file failed validation (unreadable, of an
	// unknown location kind, an upload that ended without completing, or
	// exhausted the collision-avoidance rename budget).
	ErrInvalidFile = errors.New("invalid file")

	// ErrUnimplemented marks a path the source implementation never
	// finished (community message-status, community channel messaging).
	ErrUnimplemented = errors.New("unimplemented")

	// ErrDecryptFailed indicates AEAD authentication failed on either the
	// asymmetric or symmetric envelope path.
	ErrDecryptFailed = errors.New("decryption failed")
	// ErrBadSignature indicates Ed25519 verification failed.
	ErrBadSignature = errors.New("bad signature")
	// ErrBadSender indicates the envelope's peer identity did not resolve
	// to a DID belonging to the conversation's recipients.
	ErrBadSender = errors.New("bad sender")
	// ErrUnknownKey indicates the symmetric envelope path was attempted
	// before the sender's keystore entry arrived.
	ErrUnknownKey = errors.New("unknown symmetric key")
)

// LengthError reports a value outside its allowed length bounds, e.g. a
// message body, a conversation name, or an attachment list.
type LengthError struct {
	Context string
	Current int
	Min     int
	Max     int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("%s: length %d outside bounds [%d, %d]", e.Context, e.Current, e.Min, e.Max)
}

// NewLengthError builds a LengthError for the given context and bounds.
func NewLengthError(context string, current, min, max int) error {
	return &LengthError{Context: context, Current: current, Min: min, Max: max}
}

// IsLengthError reports whether err is (or wraps) a *LengthError.
func IsLengthError(err error) bool {
	var lengthErr *LengthError
	return errors.As(err, &lengthErr)
}
