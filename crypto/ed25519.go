package crypto

import (
	"crypto/ed25519"
	"errors"

	"github.com/mr-tron/base58"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Signature is a detached Ed25519 signature, used for conversation documents,
// messages, and a departing member's leave signature.
type Signature [SignatureSize]byte

// Sign produces a detached signature over message using an Ed25519 seed.
func Sign(message []byte, privateKey [32]byte) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, errors.New("empty message")
	}

	edPrivateKey := ed25519.NewKeyFromSeed(privateKey[:])
	raw := ed25519.Sign(edPrivateKey, message)

	var signature Signature
	copy(signature[:], raw)
	return signature, nil
}

// Verify reports whether signature is valid for message under publicKey.
func Verify(message []byte, signature Signature, publicKey [32]byte) (bool, error) {
	if len(message) == 0 {
		return false, errors.New("empty message")
	}

	var edPublicKey [ed25519.PublicKeySize]byte
	copy(edPublicKey[:], publicKey[:])

	return ed25519.Verify(edPublicKey[:], message, signature[:]), nil
}

// Base58 encodes a signature as a base58 string. The wire package does not
// use it: a LeaveConversation event's signature field is a Signature array,
// which encoding/json writes as a list of numbers, not as base58.
func (s Signature) Base58() string {
	return base58.Encode(s[:])
}

// SignatureFromBase58 decodes a base58-encoded detached signature.
func SignatureFromBase58(s string) (Signature, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Signature{}, err
	}
	if len(raw) != SignatureSize {
		return Signature{}, errors.New("invalid signature length")
	}
	var sig Signature
	copy(sig[:], raw)
	return sig, nil
}
