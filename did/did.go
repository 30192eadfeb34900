// Package did implements the decentralized identifier type used to name
// conversation participants, and the deterministic derivation of a Direct
// conversation id from a pair of DIDs.
package did

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
)

// DID is a long-lived public key identity, base58-encoded on the wire.
type DID string

// directTag domain-separates Direct conversation id derivation from any
// other hash use of the same key material.
const directTag = "convocore/direct-conversation/v1"

// Empty reports whether d carries no identity.
func (d DID) Empty() bool {
	return d == ""
}

// String returns the DID in its base58 wire form.
func (d DID) String() string {
	return string(d)
}

// FromPublicKey derives a DID from a peer's Ed25519 or X25519 public key.
func FromPublicKey(publicKey [32]byte) DID {
	return DID(base58.Encode(publicKey[:]))
}

// PublicKey decodes the DID back into its 32-byte public key material.
func (d DID) PublicKey() ([32]byte, error) {
	var key [32]byte
	raw, err := base58.Decode(string(d))
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, errors.New("did: decoded public key has wrong length")
	}
	copy(key[:], raw)
	return key, nil
}

// DeriveDirectID computes the deterministic conversation id for a Direct
// conversation between two DIDs, derived from the two DIDs plus a fixed
// domain tag. The id is order-independent: DeriveDirectID(a, b) ==
// DeriveDirectID(b, a).
func DeriveDirectID(a, b DID) (uuid.UUID, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "DeriveDirectID",
		"package":  "did",
	})

	if a.Empty() || b.Empty() {
		logger.Error("empty DID in direct id derivation")
		return uuid.UUID{}, errors.New("did: cannot derive conversation id from empty DID")
	}
	if a == b {
		logger.Error("identical DIDs in direct id derivation")
		return uuid.UUID{}, errors.New("did: direct conversation requires two distinct DIDs")
	}

	ordered := []string{string(a), string(b)}
	sort.Strings(ordered)

	h := sha256.New()
	h.Write([]byte(directTag))
	for _, did := range ordered {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(did)))
		h.Write(length[:])
		h.Write([]byte(did))
	}
	sum := h.Sum(nil)

	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		logger.WithError(err).Error("failed to build uuid from derived hash")
		return uuid.UUID{}, err
	}

	logger.WithField("conversation_id", id.String()).Debug("derived direct conversation id")
	return id, nil
}
