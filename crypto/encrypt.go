package crypto

import (
	"crypto/rand"
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// Nonce is the 24-byte value prepended to ciphertext for both the
// asymmetric and symmetric AEAD paths of the envelope codec.
type Nonce [24]byte

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		logrus.WithError(err).Error("failed to generate nonce")
		return Nonce{}, err
	}
	return nonce, nil
}

// MaxPlaintextSize bounds the plaintext accepted by Encrypt/EncryptSymmetric,
// matching MAX_MESSAGE_SIZE headroom plus envelope overhead.
const MaxPlaintextSize = 1024 * 1024

// Encrypt performs the envelope codec's asymmetric path: ECDH(senderSK,
// recipientPK) followed by NaCl box sealing. Used for Direct-conversation
// payloads, conversation setup/leave/delete, and key-exchange messages.
func Encrypt(message []byte, nonce Nonce, recipientPK [32]byte, senderSK [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, errors.New("empty message")
	}
	if len(message) > MaxPlaintextSize {
		return nil, errors.New("message too large")
	}

	sealed := box.Seal(nil, message, (*[24]byte)(&nonce), (*[32]byte)(&recipientPK), (*[32]byte)(&senderSK))

	out := make([]byte, len(sealed))
	copy(out, sealed)
	return out, nil
}

// EncryptSymmetric performs the envelope codec's symmetric path, keyed by the
// sender's latest keystore entry.
func EncryptSymmetric(message []byte, nonce Nonce, key [32]byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, errors.New("empty message")
	}
	if len(message) > MaxPlaintextSize {
		return nil, errors.New("message too large")
	}

	var keyCopy [32]byte
	copy(keyCopy[:], key[:])

	sealed := secretbox.Seal(nil, message, (*[24]byte)(&nonce), &keyCopy)
	ZeroBytes(keyCopy[:])

	out := make([]byte, len(sealed))
	copy(out, sealed)
	return out, nil
}
