package crypto

import (
	"errors"

	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrDecryptFailed is returned by both decrypt paths on an authentication
// failure, surfaced by the envelope codec as chaterr.ErrDecryptFailed.
var ErrDecryptFailed = errors.New("decryption failed")

// Decrypt performs the envelope codec's asymmetric path: ECDH(recipientSK,
// senderPK) followed by NaCl box opening.
func Decrypt(ciphertext []byte, nonce Nonce, senderPK [32]byte, recipientSK [32]byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, errors.New("empty ciphertext")
	}

	plaintext, ok := box.Open(nil, ciphertext, (*[24]byte)(&nonce), (*[32]byte)(&senderPK), (*[32]byte)(&recipientSK))
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// DecryptSymmetric performs the envelope codec's symmetric path, keyed by a
// keystore entry.
func DecryptSymmetric(ciphertext []byte, nonce Nonce, key [32]byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, errors.New("empty ciphertext")
	}

	plaintext, ok := secretbox.Open(nil, ciphertext, (*[24]byte)(&nonce), &key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
