package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope for every websocket frame exchanged with the
// signaling server.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Ack correlates a one-shot request (create-room) with its reply.
	Ack string `json:"ack,omitempty"`
}

// Client -> server.
const (
	TypeCreateRoom = "create-room"
	TypeJoinRoom   = "join-room"
	TypeLeaveRoom  = "leave-room"
	TypeJoinCall   = "join-call"
	TypeLeaveCall  = "leave-call"
)

// Server -> client.
const (
	TypeRoomCreated     = "room-created"
	TypeJoinedRoom      = "joined-room"
	TypePeerJoinedRoom  = "peer-joined-room"
	TypePeerLeftRoom    = "peer-left-room"
	TypePeerJoiningCall = "peer-joining-call"
	TypePeerLeftCall    = "peer-left-call"
	TypeError           = "error"
)

// Relayed in both directions.
const (
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"
)

// IsSignal reports whether t is one of the relayed negotiation messages.
func IsSignal(t string) bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeCandidate
}

// User is a logical participant identity. The id is stable across
// reconnects; the socket changes.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Room identifies a signaling group.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PeerState is a roster entry as the server sees it.
type PeerState struct {
	User
	InCall bool `json:"in_call"`
}

type CreateRoomPayload struct {
	Name string `json:"name"`
}

type RoomCreatedPayload struct {
	Room Room `json:"room"`
}

// JoinRoomPayload asks to join a room. An empty Room.ID falls back to the
// room name as the key.
type JoinRoomPayload struct {
	Name string `json:"name,omitempty"`
	Room Room   `json:"room"`
}

// JoinedRoomPayload is the reply to join-room. Peers includes the caller.
type JoinedRoomPayload struct {
	Self  User        `json:"self"`
	Room  Room        `json:"room"`
	Peers []PeerState `json:"peers"`
}

// PeerPayload carries the subject of a room or call broadcast.
type PeerPayload struct {
	Peer PeerState `json:"peer"`
}

// Signal wraps an opaque session description or ICE candidate. Senders set
// Target; the server replaces it with From when forwarding.
type Signal struct {
	Target string          `json:"target,omitempty"`
	From   *User           `json:"from,omitempty"`
	Data   json.RawMessage `json:"data"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// New builds a message with payload encoded as JSON.
func New(t string, payload any) (*Message, error) {
	msg := &Message{Type: t}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	msg.Payload = b
	return msg, nil
}

// MustNew is New for payloads that cannot fail to encode.
func MustNew(t string, payload any) *Message {
	msg, err := New(t, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Type, err)
	}
	return nil
}
