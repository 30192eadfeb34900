// Package keyexchange implements the per-pair key-exchange protocol: a
// Noise IK session per (conversation, peer) exchange topic, layered with
// Request{Key}/Response{Key} messages that hand off the conversation's
// current symmetric key, an optional Ping/Pong health probe, and the
// parked-payload mechanism that replays Group messages received before
// their symmetric key was known.
package keyexchange

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/crypto/curve25519"

	"github.com/dagmesh/convocore/did"
)

var (
	// ErrSessionComplete is returned by WriteMessage/ReadMessage once the
	// handshake has already finished.
	ErrSessionComplete = errors.New("keyexchange: session already complete")
	// ErrSessionIncomplete is returned by CipherStates before the handshake
	// has finished.
	ErrSessionIncomplete = errors.New("keyexchange: session not complete")
)

// Role mirrors the Noise IK asymmetry: the side that already knows the
// peer's static public key initiates.
type Role uint8

const (
	// Initiator knows the peer's static key in advance (both sides do,
	// but one side must send the first message).
	Initiator Role = iota
	// Responder replies to the initiator's first message.
	Responder
)

// Session wraps a Noise IK handshake scoped to one (conversation, peer)
// exchange topic, establishing forward secrecy for the key handoff itself
// even though the symmetric key it ultimately carries is long-lived.
type Session struct {
	role       Role
	peer       did.DID
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
}

var ikSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// NewSession opens a Noise IK session for peer. selfPrivate is the local
// node's static X25519 private key; peerPublic is the peer's static public
// key, known in advance because both sides already hold each other's DIDs.
func NewSession(peer did.DID, selfPrivate, peerPublic [32]byte, role Role) (*Session, error) {
	staticKey := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(staticKey.Private, selfPrivate[:])

	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &selfPrivate)
	copy(staticKey.Public, pub[:])

	config := noise.Config{
		CipherSuite:   ikSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}
	if role == Initiator {
		config.PeerStatic = append([]byte(nil), peerPublic[:]...)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("keyexchange: new handshake state: %w", err)
	}

	return &Session{role: role, peer: peer, state: state}, nil
}

// WriteMessage produces the next outbound handshake message. For the
// initiator this is the first (and only) message it writes — the ciphers
// it gets back are not yet final, since the IK pattern still needs the
// responder's reply. For the responder this is the reply, which completes
// the handshake on both sides.
func (s *Session) WriteMessage(payload []byte) ([]byte, bool, error) {
	if s.complete {
		return nil, false, ErrSessionComplete
	}

	msg, send, recv, err := s.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, false, fmt.Errorf("keyexchange: write message: %w", err)
	}

	s.sendCipher, s.recvCipher = send, recv
	if s.role == Responder {
		s.complete = true
	}
	return msg, s.complete, nil
}

// ReadMessage consumes an inbound handshake message. The responder calls
// this for the initiator's first message; the initiator calls it for the
// responder's reply, which completes the handshake on the initiator's side.
func (s *Session) ReadMessage(message []byte) ([]byte, bool, error) {
	if s.complete {
		return nil, false, ErrSessionComplete
	}

	payload, recv, send, err := s.state.ReadMessage(nil, message)
	if err != nil {
		return nil, false, fmt.Errorf("keyexchange: read message: %w", err)
	}

	s.sendCipher, s.recvCipher = send, recv
	if s.role == Initiator {
		s.complete = true
	}
	return payload, s.complete, nil
}

// IsComplete reports whether the handshake finished.
func (s *Session) IsComplete() bool { return s.complete }

// CipherStates returns the established send/receive ciphers once complete.
func (s *Session) CipherStates() (*noise.CipherState, *noise.CipherState, error) {
	if !s.complete {
		return nil, nil, ErrSessionIncomplete
	}
	return s.sendCipher, s.recvCipher, nil
}

// Peer returns the DID this session is scoped to.
func (s *Session) Peer() did.DID { return s.peer }
