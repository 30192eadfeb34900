// Package crypto implements the cryptographic primitives the conversation
// core builds on: NaCl-based authenticated encryption (both asymmetric box
// and symmetric secretbox), Ed25519 detached signatures, ECDH shared-secret
// derivation, and constant-time memory wiping.
//
// # Core types
//
//   - [KeyPair]: a NaCl crypto_box key pair (Curve25519), used both for a
//     peer's long-lived identity key and for ephemeral envelope keys.
//   - [Nonce]: the 24-byte value required by both AEAD paths.
//   - [Signature]: a detached Ed25519 signature, with base58 wire encoding.
//
// # Envelope codec
//
// The asymmetric path backs Direct-conversation payloads and protocol
// control messages (conversation setup, leave, key exchange):
//
//	nonce, _ := crypto.GenerateNonce()
//	ciphertext, _ := crypto.Encrypt(plaintext, nonce, recipient.Public, sender.Private)
//	plaintext, _ := crypto.Decrypt(ciphertext, nonce, sender.Public, recipient.Private)
//
// The symmetric path backs Group-conversation payloads, keyed by the
// latest entry in a [Keystore]:
//
//	ciphertext, _ := crypto.EncryptSymmetric(plaintext, nonce, key)
//	plaintext, _ := crypto.DecryptSymmetric(ciphertext, nonce, key)
//
// # Signatures
//
// Conversation documents, messages, and leave-protocol exclusions are all
// signed with a detached Ed25519 signature:
//
//	sig, _ := crypto.Sign(document, identity.Private)
//	ok, _ := crypto.Verify(document, sig, identity.Public)
//
// # Keystore
//
// [Keystore] tracks the symmetric keys negotiated per (conversation, peer)
// pair by the key-exchange protocol. Every key stored for a peer is kept;
// lookups return the latest, and decryption falls back to older keys.
//
// # Secure memory
//
// Sensitive byte slices should be wiped after use:
//
//	defer crypto.WipeKeyPair(keys)
//	defer crypto.SecureWipe(sharedSecret[:])
package crypto
