// Package envelope implements the wire payload and the encryption-mode
// selection: a signed, encrypted container carried over the pub/sub
// transport, sealed either by asymmetric ECDH (out-of-band messages and
// Direct-conversation payloads) or by the per-sender symmetric key a Group
// conversation negotiates through the key-exchange protocol.
package envelope

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/dagmesh/convocore/chaterr"
	"github.com/dagmesh/convocore/crypto"
	"github.com/dagmesh/convocore/did"
)

func idFromBytes(id [16]byte) (uuid.UUID, error) {
	return uuid.FromBytes(id[:])
}

// Mode selects which half of the envelope codec seals a payload.
type Mode int

const (
	// Asymmetric seals with ECDH(own_priv, peer_pub) — out-of-band
	// messages and all Direct-conversation payloads.
	Asymmetric Mode = iota
	// Symmetric seals with the sender's latest keystore entry — Group
	// main-topic and event-topic payloads.
	Symmetric
)

// Payload is the canonical wire envelope: { sender_peer, ciphertext,
// signature }, where signature covers ciphertext and is produced by the
// sender's private key.
type Payload struct {
	SenderPeer peer.ID         `json:"sender_peer"`
	Nonce      crypto.Nonce    `json:"nonce"`
	Ciphertext []byte          `json:"ciphertext"`
	Signature  crypto.Signature `json:"signature"`
}

// MarshalCanonical serializes the payload to canonical JSON for signing
// and transport.
func (p Payload) MarshalCanonical() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPayload parses a canonical JSON payload off the wire.
func UnmarshalPayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// KeyResolver maps a DID to the 32-byte public key the asymmetric path
// encrypts against. capability.Keypair does not provide this method.
type KeyResolver interface {
	PublicKey(d did.DID) ([32]byte, error)
}

// Seal builds a signed Payload from plaintext.
//
// For Asymmetric mode, recipient must resolve to the peer's public key and
// ciphertext is sealed with ECDH(senderPrivate, recipientPublic).
// For Symmetric mode, ks and conversationID/sender select the keystore
// entry used to seal ciphertext; an unknown key is returned as
// chaterr.ErrUnknownKey so the caller can fall back or queue.
func Seal(mode Mode, plaintext []byte, senderPeer peer.ID, senderIdentity *crypto.KeyPair,
	recipientPublic [32]byte, ks *crypto.Keystore, conversationID [16]byte, senderDID did.DID,
) (Payload, error) {
	if len(plaintext) == 0 {
		return Payload{}, chaterr.ErrEmptyMessage
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return Payload{}, err
	}

	var ciphertext []byte
	switch mode {
	case Asymmetric:
		ciphertext, err = crypto.Encrypt(plaintext, nonce, recipientPublic, senderIdentity.Private)
		if err != nil {
			return Payload{}, err
		}
	case Symmetric:
		if ks == nil {
			return Payload{}, errors.New("envelope: symmetric mode requires a keystore")
		}
		convID, convErr := idFromBytes(conversationID)
		if convErr != nil {
			return Payload{}, convErr
		}
		sealed, found, sealErr := ks.EncryptLatest(convID, senderDID.String(), plaintext, nonce)
		if sealErr != nil {
			return Payload{}, sealErr
		}
		if !found {
			return Payload{}, chaterr.ErrUnknownKey
		}
		ciphertext = sealed
	default:
		return Payload{}, errors.New("envelope: unknown mode")
	}

	sig, err := crypto.Sign(ciphertext, senderIdentity.Private)
	if err != nil {
		return Payload{}, err
	}

	return Payload{
		SenderPeer: senderPeer,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Signature:  sig,
	}, nil
}

// Open verifies and decrypts p.
//
// senderPublic is the sender's Ed25519/X25519 public key, resolved from
// p.SenderPeer via a capability.Keypair — BadSender is the caller's to
// raise if that resolution itself fails, since envelope has no transport
// dependency.
func Open(mode Mode, p Payload, senderPublic [32]byte, recipientIdentity *crypto.KeyPair,
	ks *crypto.Keystore, conversationID [16]byte, senderDID did.DID,
) ([]byte, error) {
	valid, err := crypto.Verify(p.Ciphertext, p.Signature, senderPublic)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, chaterr.ErrBadSignature
	}

	switch mode {
	case Asymmetric:
		plaintext, err := crypto.Decrypt(p.Ciphertext, p.Nonce, senderPublic, recipientIdentity.Private)
		if err != nil {
			return nil, chaterr.ErrDecryptFailed
		}
		return plaintext, nil
	case Symmetric:
		if ks == nil {
			return nil, errors.New("envelope: symmetric mode requires a keystore")
		}
		convID, convErr := idFromBytes(conversationID)
		if convErr != nil {
			return nil, convErr
		}
		plaintext, found, decErr := ks.DecryptLatest(convID, senderDID.String(), p.Ciphertext, p.Nonce)
		if !found {
			return nil, chaterr.ErrUnknownKey
		}
		if decErr != nil {
			return nil, chaterr.ErrDecryptFailed
		}
		return plaintext, nil
	default:
		return nil, errors.New("envelope: unknown mode")
	}
}

// ContentRef is a file descriptor referencing a DAG-stored attachment
// block, used inside a message's attachments list.
type ContentRef struct {
	Name       string  `json:"name"`
	Size       int64   `json:"size"`
	ContentCID cid.Cid `json:"content_cid"`
}
