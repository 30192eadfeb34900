package message

import (
	"github.com/dagmesh/convocore/chaterr"
	"github.com/dagmesh/convocore/did"
)

var (
	errReactionExist       = chaterr.ErrReactionExist
	errReactionDoesntExist = chaterr.ErrReactionDoesntExist
)

func lengthErrorTooManyReactions(current int) error {
	return chaterr.NewLengthError("reactions", current, 0, MaxReactions)
}

// Reactions is an insertion-ordered map of emoji to the ordered list of
// DIDs who reacted with it, bounded to MaxReactions distinct emoji.
type Reactions struct {
	order []string
	byKey map[string][]did.DID
}

// NewReactions creates an empty reaction set.
func NewReactions() *Reactions {
	return &Reactions{byKey: make(map[string][]did.DID)}
}

// Add records sender's reaction with emoji. Re-adding an existing (emoji,
// DID) pair returns chaterr.ErrReactionExist, and a LengthError if emoji
// would be the (MaxReactions+1)th distinct key.
func (r *Reactions) Add(emoji string, sender did.DID) error {
	existing, known := r.byKey[emoji]
	if known {
		for _, d := range existing {
			if d == sender {
				return errReactionExist
			}
		}
		r.byKey[emoji] = append(existing, sender)
		return nil
	}

	if len(r.order) >= MaxReactions {
		return lengthErrorTooManyReactions(len(r.order) + 1)
	}

	r.order = append(r.order, emoji)
	r.byKey[emoji] = []did.DID{sender}
	return nil
}

// Remove removes sender's reaction with emoji. A now-vacant emoji entry is
// pruned entirely.
func (r *Reactions) Remove(emoji string, sender did.DID) error {
	existing, known := r.byKey[emoji]
	if !known {
		return errReactionDoesntExist
	}

	idx := -1
	for i, d := range existing {
		if d == sender {
			idx = i
			break
		}
	}
	if idx == -1 {
		return errReactionDoesntExist
	}

	remaining := append(existing[:idx], existing[idx+1:]...)
	if len(remaining) == 0 {
		delete(r.byKey, emoji)
		for i, e := range r.order {
			if e == emoji {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		return nil
	}
	r.byKey[emoji] = remaining
	return nil
}

// Emoji returns the distinct reaction emoji in insertion order.
func (r *Reactions) Emoji() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// DIDs returns the ordered list of DIDs who reacted with emoji.
func (r *Reactions) DIDs(emoji string) []did.DID {
	existing := r.byKey[emoji]
	out := make([]did.DID, len(existing))
	copy(out, existing)
	return out
}
