package signalclient

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/vandervillain/rando/internal/protocol"
)

func signalMsg(t *testing.T, kind string, from *protocol.User, data any) *protocol.Message {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	return protocol.MustNew(kind, protocol.Signal{From: from, Data: raw})
}

func TestDecode(t *testing.T) {
	bob := &protocol.User{ID: "b", Name: "bob"}
	peer := protocol.PeerState{User: *bob, InCall: true}

	tests := []struct {
		name string
		msg  *protocol.Message
		want Event
	}{
		{
			name: "peer joining call",
			msg:  protocol.MustNew(protocol.TypePeerJoiningCall, protocol.PeerPayload{Peer: peer}),
			want: PeerJoiningCall{peer},
		},
		{
			name: "peer left room",
			msg:  protocol.MustNew(protocol.TypePeerLeftRoom, protocol.PeerPayload{Peer: peer}),
			want: PeerLeftRoom{peer},
		},
		{
			name: "offer",
			msg:  signalMsg(t, protocol.TypeOffer, bob, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}),
			want: Offer{From: *bob, SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}},
		},
		{
			name: "room created keeps ack",
			msg: func() *protocol.Message {
				m := protocol.MustNew(protocol.TypeRoomCreated, protocol.RoomCreatedPayload{Room: protocol.Room{ID: "r"}})
				m.Ack = "42"
				return m
			}(),
			want: RoomCreated{Room: protocol.Room{ID: "r"}, Ack: "42"},
		},
		{
			name: "server error",
			msg:  protocol.MustNew(protocol.TypeError, protocol.ErrorPayload{Error: "boom"}),
			want: ServerError{Message: "boom"},
		},
		{
			name: "signal without sender",
			msg:  signalMsg(t, protocol.TypeAnswer, nil, webrtc.SessionDescription{}),
			want: nil,
		},
		{
			name: "unknown type",
			msg:  &protocol.Message{Type: "mystery"},
			want: nil,
		},
		{
			name: "missing payload",
			msg:  &protocol.Message{Type: protocol.TypePeerJoinedRoom},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decode(tt.msg); got != tt.want {
				t.Fatalf("decode = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeCandidate(t *testing.T) {
	mid := "0"
	ev := decode(signalMsg(t, protocol.TypeCandidate, &protocol.User{ID: "b"},
		webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMid: &mid}))
	c, ok := ev.(Candidate)
	if !ok {
		t.Fatalf("event = %#v", ev)
	}
	if c.From.ID != "b" || c.Candidate.SDPMid == nil || *c.Candidate.SDPMid != "0" {
		t.Fatalf("candidate = %+v", c)
	}
}

func TestHandlerOrderAndClose(t *testing.T) {
	incoming := make(chan Frame, 4)
	h := newHandler(incoming)
	go h.Start()

	peer := protocol.PeerState{User: protocol.User{ID: "b"}}
	incoming <- Frame{Msg: protocol.MustNew(protocol.TypePeerJoinedRoom, protocol.PeerPayload{Peer: peer})}
	incoming <- Frame{Msg: protocol.MustNew(protocol.TypePeerJoiningCall, protocol.PeerPayload{Peer: peer})}
	incoming <- Frame{Msg: protocol.MustNew(protocol.TypePeerLeftCall, protocol.PeerPayload{Peer: peer})}
	close(incoming)

	var got []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-h.Events():
			if !ok {
				want := []Event{PeerJoinedRoom{peer}, PeerJoiningCall{peer}, PeerLeftCall{peer}, ConnectionState{StateClosed}}
				if len(got) != len(want) {
					t.Fatalf("events = %#v", got)
				}
				for i := range want {
					if got[i] != want[i] {
						t.Fatalf("event %d = %#v, want %#v", i, got[i], want[i])
					}
				}
				return
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("handler did not finish")
		}
	}
}

func TestHandlerKeepsStateBehindMessages(t *testing.T) {
	peer := protocol.PeerState{User: protocol.User{ID: "b"}}
	for i := 0; i < 200; i++ {
		incoming := make(chan Frame, 4)
		h := newHandler(incoming)
		incoming <- Frame{Msg: protocol.MustNew(protocol.TypePeerJoiningCall, protocol.PeerPayload{Peer: peer})}
		incoming <- Frame{State: StateReconnecting}
		incoming <- Frame{State: StateConnected}
		close(incoming)
		go h.Start()

		var got []Event
		for ev := range h.Events() {
			got = append(got, ev)
		}
		want := []Event{
			PeerJoiningCall{peer},
			ConnectionState{StateReconnecting},
			ConnectionState{StateConnected},
			ConnectionState{StateClosed},
		}
		if len(got) != len(want) {
			t.Fatalf("run %d: events = %#v", i, got)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("run %d: event %d = %#v, want %#v", i, j, got[j], want[j])
			}
		}
	}
}
