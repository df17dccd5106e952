package peer

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// presenceLabel names the data channel the offerer opens for presence.
const presenceLabel = "presence"

const MessageTypePresence = "presence"

// Message is the envelope of every data channel message.
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// Presence is what a participant tells its peers about itself.
type Presence struct {
	Muted    bool `msgpack:"muted"`
	Speaking bool `msgpack:"speaking"`
}

// DecodePayload decodes the message payload into the provided struct
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: b}, nil
}

func encodePresence(p Presence) ([]byte, error) {
	msg, err := NewMessage(MessageTypePresence, p)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

func decodePresence(b []byte) (Presence, error) {
	var msg Message
	if err := msgpack.Unmarshal(b, &msg); err != nil {
		return Presence{}, err
	}
	if msg.Type != MessageTypePresence {
		return Presence{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var p Presence
	err := msg.DecodePayload(&p)
	return p, err
}
