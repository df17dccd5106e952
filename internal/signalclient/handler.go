package signalclient

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/vandervillain/rando/internal/protocol"
)

// Event is one decoded notification from the signaling server.
type Event interface{ event() }

type JoinedRoom struct{ protocol.JoinedRoomPayload }

type PeerJoinedRoom struct{ Peer protocol.PeerState }

type PeerLeftRoom struct{ Peer protocol.PeerState }

type PeerJoiningCall struct{ Peer protocol.PeerState }

type PeerLeftCall struct{ Peer protocol.PeerState }

type Offer struct {
	From protocol.User
	SDP  webrtc.SessionDescription
}

type Answer struct {
	From protocol.User
	SDP  webrtc.SessionDescription
}

type Candidate struct {
	From      protocol.User
	Candidate webrtc.ICECandidateInit
}

type RoomCreated struct {
	Room protocol.Room
	Ack  string
}

type ServerError struct{ Message string }

// ConnectionState reports transport changes. A Connected that follows a
// Reconnecting means server-side membership was lost.
type ConnectionState struct{ State State }

func (JoinedRoom) event()      {}
func (PeerJoinedRoom) event()  {}
func (PeerLeftRoom) event()    {}
func (PeerJoiningCall) event() {}
func (PeerLeftCall) event()    {}
func (Offer) event()           {}
func (Answer) event()          {}
func (Candidate) event()       {}
func (RoomCreated) event()     {}
func (ServerError) event()     {}
func (ConnectionState) event() {}

// Handler decodes incoming messages into a single ordered event stream.
type Handler struct {
	incoming <-chan Frame
	events   chan Event
}

// NewHandler creates a new message handler.
func NewHandler(client *Client) *Handler {
	return newHandler(client.Incoming())
}

func newHandler(incoming <-chan Frame) *Handler {
	return &Handler{
		incoming: incoming,
		events:   make(chan Event, 64),
	}
}

// Events is closed when the client stops.
func (h *Handler) Events() <-chan Event { return h.events }

// Start routes messages until the client's incoming channel closes.
func (h *Handler) Start() {
	defer close(h.events)
	for f := range h.incoming {
		if f.Msg == nil {
			h.events <- ConnectionState{State: f.State}
			continue
		}
		if ev := decode(f.Msg); ev != nil {
			h.events <- ev
		}
	}
	h.events <- ConnectionState{State: StateClosed}
}

// decode returns nil for malformed or unknown messages.
func decode(msg *protocol.Message) Event {
	switch msg.Type {
	case protocol.TypeJoinedRoom:
		var p protocol.JoinedRoomPayload
		if !decodeInto(msg, &p) {
			return nil
		}
		return JoinedRoom{p}

	case protocol.TypePeerJoinedRoom, protocol.TypePeerLeftRoom,
		protocol.TypePeerJoiningCall, protocol.TypePeerLeftCall:
		var p protocol.PeerPayload
		if !decodeInto(msg, &p) {
			return nil
		}
		switch msg.Type {
		case protocol.TypePeerJoinedRoom:
			return PeerJoinedRoom{p.Peer}
		case protocol.TypePeerLeftRoom:
			return PeerLeftRoom{p.Peer}
		case protocol.TypePeerJoiningCall:
			return PeerJoiningCall{p.Peer}
		default:
			return PeerLeftCall{p.Peer}
		}

	case protocol.TypeOffer, protocol.TypeAnswer:
		from, data, ok := decodeSignal(msg)
		if !ok {
			return nil
		}
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(data, &sdp); err != nil {
			log.Warn().Err(err).Str("type", msg.Type).Msg("bad session description")
			return nil
		}
		if msg.Type == protocol.TypeOffer {
			return Offer{From: from, SDP: sdp}
		}
		return Answer{From: from, SDP: sdp}

	case protocol.TypeCandidate:
		from, data, ok := decodeSignal(msg)
		if !ok {
			return nil
		}
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(data, &c); err != nil {
			log.Warn().Err(err).Msg("bad ice candidate")
			return nil
		}
		return Candidate{From: from, Candidate: c}

	case protocol.TypeRoomCreated:
		var p protocol.RoomCreatedPayload
		if !decodeInto(msg, &p) {
			return nil
		}
		return RoomCreated{Room: p.Room, Ack: msg.Ack}

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if !decodeInto(msg, &p) {
			return ServerError{Message: "unknown error from server"}
		}
		return ServerError{Message: p.Error}
	}

	log.Debug().Str("type", msg.Type).Msg("ignoring unknown message")
	return nil
}

func decodeInto(msg *protocol.Message, v any) bool {
	if err := msg.Decode(v); err != nil {
		log.Warn().Err(err).Msg("dropping malformed message")
		return false
	}
	return true
}

func decodeSignal(msg *protocol.Message) (protocol.User, json.RawMessage, bool) {
	var sig protocol.Signal
	if !decodeInto(msg, &sig) {
		return protocol.User{}, nil, false
	}
	if sig.From == nil || sig.From.ID == "" {
		log.Warn().Str("type", msg.Type).Msg("signal without sender")
		return protocol.User{}, nil, false
	}
	return *sig.From, sig.Data, true
}
