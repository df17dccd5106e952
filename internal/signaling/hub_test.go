package signaling

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vandervillain/rando/internal/protocol"
)

func startHub(t *testing.T) (*Hub, *Metrics) {
	t.Helper()
	m := NewMetrics(prometheus.NewRegistry())
	h := NewHub(HubOptions{Metrics: m})
	go h.Run()
	t.Cleanup(h.Stop)
	return h, m
}

func connect(t *testing.T, h *Hub, id string) *Client {
	t.Helper()
	c := &Client{Hub: h, User: protocol.User{ID: id, Name: id}, Send: make(chan *protocol.Message, 64)}
	if !h.Register(c) {
		t.Fatalf("register %s: hub stopped", id)
	}
	return c
}

func send(t *testing.T, c *Client, typ string, payload any) {
	t.Helper()
	if !c.Hub.dispatch(inbound{msg: protocol.MustNew(typ, payload), client: c}) {
		t.Fatalf("dispatch %s: hub stopped", typ)
	}
}

func signal(t *testing.T, c *Client, typ, target string) {
	t.Helper()
	send(t, c, typ, protocol.Signal{Target: target, Data: json.RawMessage(`{"sdp":"v=0"}`)})
}

// settle waits until the hub has processed everything dispatched so far.
func settle(t *testing.T, h *Hub) protocol.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := h.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func expect(t *testing.T, c *Client, typ string) *protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Send:
		if !ok {
			t.Fatalf("%s: send channel closed, want %s", c.User.ID, typ)
		}
		if msg.Type != typ {
			t.Fatalf("%s: got %s, want %s", c.User.ID, msg.Type, typ)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("%s: timed out waiting for %s", c.User.ID, typ)
	}
	return nil
}

func expectNone(t *testing.T, c *Client) {
	t.Helper()
	settle(t, c.Hub)
	select {
	case msg, ok := <-c.Send:
		if ok {
			t.Fatalf("%s: unexpected %s", c.User.ID, msg.Type)
		}
	default:
	}
}

func peerOf(t *testing.T, msg *protocol.Message) protocol.PeerState {
	t.Helper()
	var p protocol.PeerPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatal(err)
	}
	return p.Peer
}

func joinRoom(t *testing.T, c *Client, room string) protocol.JoinedRoomPayload {
	t.Helper()
	send(t, c, protocol.TypeJoinRoom, protocol.JoinRoomPayload{Room: protocol.Room{Name: room}})
	var joined protocol.JoinedRoomPayload
	if err := expect(t, c, protocol.TypeJoinedRoom).Decode(&joined); err != nil {
		t.Fatal(err)
	}
	return joined
}

func TestJoinRoom(t *testing.T) {
	h, _ := startHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	joined := joinRoom(t, a, "x")
	if len(joined.Peers) != 1 || joined.Peers[0].ID != "a" {
		t.Fatalf("roster = %+v, want only a", joined.Peers)
	}
	if joined.Room.ID != "x" || joined.Self.ID != "a" {
		t.Fatalf("joined = %+v", joined)
	}

	joined = joinRoom(t, b, "x")
	if len(joined.Peers) != 2 || joined.Peers[0].ID != "a" || joined.Peers[1].ID != "b" {
		t.Fatalf("roster = %+v, want [a b]", joined.Peers)
	}
	if got := peerOf(t, expect(t, a, protocol.TypePeerJoinedRoom)); got.ID != "b" {
		t.Fatalf("peer-joined-room for %s, want b", got.ID)
	}
	expectNone(t, b)

	t.Run("rejoining the same room only refreshes the roster", func(t *testing.T) {
		joined := joinRoom(t, b, "x")
		if len(joined.Peers) != 2 {
			t.Fatalf("roster = %+v", joined.Peers)
		}
		expectNone(t, a)
	})
}

func TestJoinRoomLeavesPreviousRoom(t *testing.T) {
	h, _ := startHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	joinRoom(t, a, "x")
	joinRoom(t, b, "x")
	expect(t, a, protocol.TypePeerJoinedRoom)

	joinRoom(t, b, "y")
	if got := peerOf(t, expect(t, a, protocol.TypePeerLeftRoom)); got.ID != "b" {
		t.Fatalf("peer-left-room for %s, want b", got.ID)
	}

	snap := settle(t, h)
	for _, r := range snap.Rooms {
		if r.Members != 1 {
			t.Errorf("room %s has %d members, want 1", r.ID, r.Members)
		}
	}
}

func TestCallScenario(t *testing.T) {
	h, m := startHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	c := connect(t, h, "c")

	joinRoom(t, a, "x")
	joinRoom(t, b, "x")
	expect(t, a, protocol.TypePeerJoinedRoom)
	joinRoom(t, c, "x")
	expect(t, a, protocol.TypePeerJoinedRoom)
	expect(t, b, protocol.TypePeerJoinedRoom)

	send(t, a, protocol.TypeJoinCall, nil)
	if got := peerOf(t, expect(t, b, protocol.TypePeerJoiningCall)); got.ID != "a" || !got.InCall {
		t.Fatalf("peer-joining-call = %+v", got)
	}
	expect(t, c, protocol.TypePeerJoiningCall)
	expectNone(t, a)

	send(t, b, protocol.TypeJoinCall, nil)
	expect(t, a, protocol.TypePeerJoiningCall)
	expect(t, c, protocol.TypePeerJoiningCall)
	expectNone(t, b)

	t.Run("repeated join-call is not rebroadcast", func(t *testing.T) {
		send(t, b, protocol.TypeJoinCall, nil)
		expectNone(t, a)
		expectNone(t, c)
	})

	t.Run("offer between call members is forwarded", func(t *testing.T) {
		signal(t, a, protocol.TypeOffer, "b")
		var sig protocol.Signal
		if err := expect(t, b, protocol.TypeOffer).Decode(&sig); err != nil {
			t.Fatal(err)
		}
		if sig.From == nil || sig.From.ID != "a" {
			t.Fatalf("from = %+v, want a", sig.From)
		}
		if sig.Target != "" {
			t.Errorf("target leaked to receiver: %q", sig.Target)
		}
		if string(sig.Data) != `{"sdp":"v=0"}` {
			t.Errorf("data = %s", sig.Data)
		}
	})

	t.Run("offer to a room member outside the call is dropped", func(t *testing.T) {
		signal(t, a, protocol.TypeOffer, "c")
		expectNone(t, c)
		expectNone(t, a)
		if n := testutil.ToFloat64(m.Dropped.WithLabelValues(protocol.TypeOffer, dropTargetNotInCall)); n != 1 {
			t.Fatalf("dropped = %v, want 1", n)
		}
	})

	t.Run("signals from outside the call are dropped", func(t *testing.T) {
		signal(t, c, protocol.TypeCandidate, "a")
		expectNone(t, a)
		if n := testutil.ToFloat64(m.Dropped.WithLabelValues(protocol.TypeCandidate, dropSenderNotInCall)); n != 1 {
			t.Fatalf("dropped = %v, want 1", n)
		}
	})
}

func TestRelayDrops(t *testing.T) {
	h, m := startHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	z := connect(t, h, "z")

	joinRoom(t, a, "x")
	joinRoom(t, b, "x")
	expect(t, a, protocol.TypePeerJoinedRoom)
	joinRoom(t, z, "elsewhere")
	send(t, a, protocol.TypeJoinCall, nil)
	expect(t, b, protocol.TypePeerJoiningCall)
	send(t, z, protocol.TypeJoinCall, nil)

	tests := []struct {
		name   string
		target string
		reason string
	}{
		{"unknown target", "ghost", dropUnknownTarget},
		{"target in another room", "z", dropOtherRoom},
		{"target not in call", "b", dropTargetNotInCall},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal(t, a, protocol.TypeAnswer, tt.target)
			expectNone(t, b)
			expectNone(t, z)
			expectNone(t, a)
			if n := testutil.ToFloat64(m.Dropped.WithLabelValues(protocol.TypeAnswer, tt.reason)); n != 1 {
				t.Fatalf("dropped(%s) = %v, want 1", tt.reason, n)
			}
		})
	}

	t.Run("target that left the call in between", func(t *testing.T) {
		send(t, b, protocol.TypeJoinCall, nil)
		expect(t, a, protocol.TypePeerJoiningCall)
		send(t, b, protocol.TypeLeaveCall, nil)
		expect(t, a, protocol.TypePeerLeftCall)

		signal(t, a, protocol.TypeCandidate, "b")
		expectNone(t, b)
	})

	if n := testutil.ToFloat64(m.Relayed.WithLabelValues(protocol.TypeAnswer)); n != 0 {
		t.Fatalf("relayed = %v, want 0", n)
	}
}

func TestLeaveRoomWhileInCall(t *testing.T) {
	h, _ := startHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	joinRoom(t, a, "x")
	joinRoom(t, b, "x")
	expect(t, a, protocol.TypePeerJoinedRoom)
	send(t, a, protocol.TypeJoinCall, nil)
	expect(t, b, protocol.TypePeerJoiningCall)

	send(t, a, protocol.TypeLeaveRoom, nil)
	left := peerOf(t, expect(t, b, protocol.TypePeerLeftCall))
	if left.ID != "a" {
		t.Fatalf("peer-left-call for %s", left.ID)
	}
	if got := peerOf(t, expect(t, b, protocol.TypePeerLeftRoom)); got.ID != "a" || got.InCall {
		t.Fatalf("peer-left-room = %+v", got)
	}

	snap := settle(t, h)
	for _, u := range snap.Users {
		if u.ID == "a" && (u.RoomID != "" || u.InCall) {
			t.Fatalf("a still placed: %+v", u)
		}
	}
}

func TestDisconnectCleansUp(t *testing.T) {
	h, _ := startHub(t)
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	joinRoom(t, a, "x")
	joinRoom(t, b, "x")
	expect(t, a, protocol.TypePeerJoinedRoom)
	send(t, a, protocol.TypeJoinCall, nil)
	expect(t, b, protocol.TypePeerJoiningCall)

	h.unregister(a)
	expect(t, b, protocol.TypePeerLeftCall)
	expect(t, b, protocol.TypePeerLeftRoom)

	if _, ok := <-a.Send; ok {
		t.Fatal("send channel of a still open")
	}

	snap := settle(t, h)
	if len(snap.Users) != 1 || snap.Users[0].ID != "b" {
		t.Fatalf("users = %+v, want only b", snap.Users)
	}
	if len(snap.Rooms) != 1 || snap.Rooms[0].Members != 1 || snap.Rooms[0].InCall != 0 {
		t.Fatalf("rooms = %+v", snap.Rooms)
	}

	signal(t, b, protocol.TypeOffer, "a")
	expectNone(t, b)
}

func TestReconnectReplacesSocket(t *testing.T) {
	h, _ := startHub(t)
	a1 := connect(t, h, "a")
	b := connect(t, h, "b")
	joinRoom(t, a1, "x")
	joinRoom(t, b, "x")
	expect(t, a1, protocol.TypePeerJoinedRoom)

	a2 := connect(t, h, "a")
	expect(t, b, protocol.TypePeerLeftRoom)
	if _, ok := <-a1.Send; ok {
		t.Fatal("old socket still open")
	}

	// The evicted socket's late unregister must not touch the new one.
	h.unregister(a1)
	joined := joinRoom(t, a2, "x")
	if len(joined.Peers) != 2 {
		t.Fatalf("roster = %+v", joined.Peers)
	}
	expect(t, b, protocol.TypePeerJoinedRoom)

	// Frames still in flight from the old socket are ignored.
	send(t, a1, protocol.TypeLeaveRoom, nil)
	expectNone(t, b)
}

func TestCreateRoom(t *testing.T) {
	h, _ := startHub(t)
	a := connect(t, h, "a")

	msg := protocol.MustNew(protocol.TypeCreateRoom, protocol.CreateRoomPayload{Name: "standup"})
	msg.Ack = "req-1"
	h.dispatch(inbound{msg: msg, client: a})

	reply := expect(t, a, protocol.TypeRoomCreated)
	if reply.Ack != "req-1" {
		t.Fatalf("ack = %q", reply.Ack)
	}
	var created protocol.RoomCreatedPayload
	if err := reply.Decode(&created); err != nil {
		t.Fatal(err)
	}
	if n := len(strings.Split(created.Room.ID, "-")); n != 4 {
		t.Fatalf("room id %q has %d words", created.Room.ID, n)
	}
	if created.Room.Name != "standup" {
		t.Fatalf("name = %q", created.Room.Name)
	}

	send(t, a, protocol.TypeJoinRoom, protocol.JoinRoomPayload{Room: protocol.Room{ID: created.Room.ID}})
	var joined protocol.JoinedRoomPayload
	if err := expect(t, a, protocol.TypeJoinedRoom).Decode(&joined); err != nil {
		t.Fatal(err)
	}
	if joined.Room.Name != "standup" {
		t.Fatalf("joined room name = %q, want catalogued name", joined.Room.Name)
	}
}

func TestUnknownTypeReportsError(t *testing.T) {
	h, _ := startHub(t)
	a := connect(t, h, "a")
	send(t, a, "shout", nil)
	expect(t, a, protocol.TypeError)
}
