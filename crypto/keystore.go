package crypto

import (
	"crypto/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SymmetricKeySize is the width of a keystore entry. Only the first 32 bytes
// back the secretbox AEAD; the remaining bytes are reserved key material
// carried verbatim across the wire so a future cipher change doesn't touch
// the keystore's storage shape.
const SymmetricKeySize = 64

// SymmetricKey is one keystore entry.
type SymmetricKey [SymmetricKeySize]byte

// aeadKey returns the 32 bytes secretbox actually uses.
func (k SymmetricKey) aeadKey() [32]byte {
	var out [32]byte
	copy(out[:], k[:32])
	return out
}

// GenerateSymmetricKey creates fresh random key material for a new group
// member's own keystore entry.
func GenerateSymmetricKey() (SymmetricKey, error) {
	var key SymmetricKey
	if _, err := rand.Read(key[:]); err != nil {
		return SymmetricKey{}, err
	}
	return key, nil
}

type keystoreEntry struct {
	conversation uuid.UUID
	peer         string
}

// Keystore maps (conversation_id, peer DID) to the peer's keys, latest-wins
// on lookup. It is safe for concurrent use; the conversation task and the
// key-exchange protocol both mutate it from different goroutines.
type Keystore struct {
	mu      sync.RWMutex
	entries map[keystoreEntry][]SymmetricKey
}

// NewKeystore creates an empty keystore.
func NewKeystore() *Keystore {
	return &Keystore{entries: make(map[keystoreEntry][]SymmetricKey)}
}

// Put records key as the newest entry for (conversationID, peerDID).
func (k *Keystore) Put(conversationID uuid.UUID, peerDID string, key SymmetricKey) {
	logger := logrus.WithFields(logrus.Fields{
		"function":        "Keystore.Put",
		"conversation_id": conversationID.String(),
	})

	k.mu.Lock()
	defer k.mu.Unlock()

	entry := keystoreEntry{conversation: conversationID, peer: peerDID}
	k.entries[entry] = append(k.entries[entry], key)

	logger.Debug("stored symmetric key")
}

// Latest returns the most recently stored key for (conversationID,
// peerDID), and whether one is present. Absence surfaces as
// chaterr.ErrUnknownKey at the envelope-codec layer.
func (k *Keystore) Latest(conversationID uuid.UUID, peerDID string) (SymmetricKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	entry := keystoreEntry{conversation: conversationID, peer: peerDID}
	keys := k.entries[entry]
	if len(keys) == 0 {
		return SymmetricKey{}, false
	}
	return keys[len(keys)-1], true
}

// EncryptLatest encrypts message with the latest key for (conversationID,
// peerDID), reporting false if no key is yet known.
func (k *Keystore) EncryptLatest(conversationID uuid.UUID, peerDID string, message []byte, nonce Nonce) ([]byte, bool, error) {
	key, ok := k.Latest(conversationID, peerDID)
	if !ok {
		return nil, false, nil
	}
	ciphertext, err := EncryptSymmetric(message, nonce, key.aeadKey())
	return ciphertext, true, err
}

// DecryptLatest attempts to decrypt ciphertext against every key on file
// for (conversationID, peerDID), newest first, so a stale envelope built
// just before a key rotation still decrypts.
func (k *Keystore) DecryptLatest(conversationID uuid.UUID, peerDID string, ciphertext []byte, nonce Nonce) ([]byte, bool, error) {
	k.mu.RLock()
	entry := keystoreEntry{conversation: conversationID, peer: peerDID}
	keys := make([]SymmetricKey, len(k.entries[entry]))
	copy(keys, k.entries[entry])
	k.mu.RUnlock()

	if len(keys) == 0 {
		return nil, false, nil
	}

	var lastErr error
	for i := len(keys) - 1; i >= 0; i-- {
		plaintext, err := DecryptSymmetric(ciphertext, nonce, keys[i].aeadKey())
		if err == nil {
			return plaintext, true, nil
		}
		lastErr = err
	}
	return nil, true, lastErr
}
