package signaling

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/vandervillain/rando/internal/protocol"
)

const defaultRoomTTL = time.Hour

// Drop reasons reported on the dropped-signal counter.
const (
	dropBadPayload      = "bad_payload"
	dropSenderNotInCall = "sender_not_in_call"
	dropUnknownTarget   = "unknown_target"
	dropOtherRoom       = "target_other_room"
	dropTargetNotInCall = "target_not_in_call"
)

// HubOptions configure a Hub. Zero values select defaults.
type HubOptions struct {
	RoomTTL time.Duration
	Metrics *Metrics
	Now     func() time.Time
}

// Hub owns the registry and is the only goroutine that reads or mutates it.
// Every membership change, broadcast and relay decision happens inside Run,
// so all users observe transitions in the same order.
type Hub struct {
	registry *Registry
	metrics  *Metrics
	roomTTL  time.Duration
	now      func() time.Time

	register     chan *Client
	unregisterCh chan *Client
	inbox        chan inbound
	snapshots    chan chan protocol.Snapshot
	quit         chan struct{}
	done         chan struct{}
}

func NewHub(opts HubOptions) *Hub {
	if opts.RoomTTL <= 0 {
		opts.RoomTTL = defaultRoomTTL
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Hub{
		registry:     NewRegistry(),
		metrics:      opts.Metrics,
		roomTTL:      opts.RoomTTL,
		now:          opts.Now,
		register:     make(chan *Client),
		unregisterCh: make(chan *Client),
		inbox:        make(chan inbound),
		snapshots:    make(chan chan protocol.Snapshot),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Register hands a freshly opened socket to the hub. It reports false once
// the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.unregisterCh <- c:
	case <-h.done:
	}
}

func (h *Hub) dispatch(in inbound) bool {
	select {
	case h.inbox <- in:
		return true
	case <-h.done:
		return false
	}
}

// Snapshot returns a copy of the registry taken on the hub goroutine.
func (h *Hub) Snapshot(ctx context.Context) (protocol.Snapshot, error) {
	reply := make(chan protocol.Snapshot, 1)
	select {
	case h.snapshots <- reply:
	case <-h.done:
		return protocol.Snapshot{}, ErrHubStopped
	case <-ctx.Done():
		return protocol.Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return protocol.Snapshot{}, ctx.Err()
	}
}

// Stop ends Run and closes every socket. Safe to call once.
func (h *Hub) Stop() {
	close(h.quit)
	<-h.done
}

// Run is the hub's main processing loop.
func (h *Hub) Run() {
	defer close(h.done)

	prune := time.NewTicker(h.roomTTL / 4)
	defer prune.Stop()

	for {
		select {
		case <-h.quit:
			for _, u := range h.registry.users {
				h.closeClient(u.client)
			}
			log.Info().Msg("hub stopped")
			return

		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unregisterCh:
			h.handleUnregister(c)

		case in := <-h.inbox:
			h.handleMessage(in)

		case reply := <-h.snapshots:
			reply <- h.registry.Snapshot()

		case <-prune.C:
			for _, id := range h.registry.Prune(h.now(), h.roomTTL) {
				log.Debug().Str("room_id", id).Msg("expired unused room")
			}
			h.updateGauges()
		}
	}
}

func (h *Hub) handleRegister(c *Client) {
	if prev, ok := h.registry.Lookup(c.User.ID); ok {
		// Same logical user on a new socket: the old one is evicted as if
		// it had disconnected.
		log.Info().Str("user_id", c.User.ID).Msg("replacing existing socket")
		h.disconnect(prev)
	}
	h.registry.Register(c.User, c, h.now())
	h.updateGauges()
	log.Info().Str("user_id", c.User.ID).Str("name", c.User.Name).Msg("client registered")
}

func (h *Hub) handleUnregister(c *Client) {
	u, ok := h.registry.Lookup(c.User.ID)
	if !ok || u.client != c {
		// Already evicted by a newer socket.
		h.closeClient(c)
		return
	}
	h.disconnect(u)
	log.Info().Str("user_id", c.User.ID).Msg("client unregistered")
}

// disconnect runs the full cleanup for u and forgets it.
func (h *Hub) disconnect(u *ActiveUser) {
	h.leaveRoom(u)
	h.registry.Remove(u.ID)
	h.closeClient(u.client)
	h.updateGauges()
}

func (h *Hub) handleMessage(in inbound) {
	u, ok := h.registry.Lookup(in.client.User.ID)
	if !ok || u.client != in.client {
		log.Debug().Str("user_id", in.client.User.ID).Str("type", in.msg.Type).Msg("message from stale socket")
		return
	}

	switch in.msg.Type {
	case protocol.TypeCreateRoom:
		h.createRoom(u, in.msg)
	case protocol.TypeJoinRoom:
		h.joinRoom(u, in.msg)
	case protocol.TypeLeaveRoom:
		h.leaveRoom(u)
		h.updateGauges()
	case protocol.TypeJoinCall:
		h.joinCall(u)
	case protocol.TypeLeaveCall:
		h.leaveCall(u)
	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		h.relay(u, in.msg)
	default:
		log.Warn().Str("user_id", u.ID).Str("type", in.msg.Type).Msg("unknown message type")
		h.sendError(u.client, "unknown message type "+in.msg.Type)
	}
}

func (h *Hub) createRoom(u *ActiveUser, msg *protocol.Message) {
	var p protocol.CreateRoomPayload
	if len(msg.Payload) > 0 {
		if err := msg.Decode(&p); err != nil {
			h.sendError(u.client, err.Error())
			return
		}
	}
	room := h.registry.Catalog(protocol.Room{ID: h.generateRoomID(), Name: p.Name}, h.now())
	h.updateGauges()
	log.Info().Str("user_id", u.ID).Str("room_id", room.ID).Str("name", room.Name).Msg("room created")

	reply := protocol.MustNew(protocol.TypeRoomCreated, protocol.RoomCreatedPayload{Room: room})
	reply.Ack = msg.Ack
	h.send(u.client, reply)
}

func (h *Hub) joinRoom(u *ActiveUser, msg *protocol.Message) {
	var p protocol.JoinRoomPayload
	if err := msg.Decode(&p); err != nil {
		h.sendError(u.client, err.Error())
		return
	}
	room := p.Room
	if room.ID == "" {
		room.ID = room.Name
	}
	if room.ID == "" {
		h.sendError(u.client, "join-room: room id or name required")
		return
	}
	if p.Name != "" {
		u.Name = p.Name
	}

	if u.Room == nil || u.Room.ID != room.ID {
		h.leaveRoom(u)
		room = h.registry.Enter(u, room, h.now())
		h.updateGauges()
		log.Info().Str("user_id", u.ID).Str("room_id", room.ID).Msg("joined room")
		h.send(u.client, h.joinedRoom(u))
		h.broadcast(room.ID, u.ID, protocol.TypePeerJoinedRoom, protocol.PeerPayload{Peer: u.State()})
		return
	}

	// Already a member: just refresh the caller's roster.
	h.send(u.client, h.joinedRoom(u))
}

func (h *Hub) joinedRoom(u *ActiveUser) *protocol.Message {
	return protocol.MustNew(protocol.TypeJoinedRoom, protocol.JoinedRoomPayload{
		Self:  u.User,
		Room:  *u.Room,
		Peers: h.registry.Roster(u.Room.ID),
	})
}

// leaveRoom releases u's membership, announcing the call departure first
// when u was in the call.
func (h *Hub) leaveRoom(u *ActiveUser) {
	if u.Room == nil {
		return
	}
	h.leaveCall(u)
	roomID := u.Room.ID
	h.broadcast(roomID, u.ID, protocol.TypePeerLeftRoom, protocol.PeerPayload{Peer: u.State()})
	h.registry.Exit(u)
	log.Info().Str("user_id", u.ID).Str("room_id", roomID).Msg("left room")
}

func (h *Hub) joinCall(u *ActiveUser) {
	if u.Room == nil {
		log.Warn().Str("user_id", u.ID).Msg("join-call outside a room")
		return
	}
	if u.InCall {
		return
	}
	u.InCall = true
	log.Info().Str("user_id", u.ID).Str("room_id", u.Room.ID).Msg("joined call")
	h.broadcast(u.Room.ID, u.ID, protocol.TypePeerJoiningCall, protocol.PeerPayload{Peer: u.State()})
}

func (h *Hub) leaveCall(u *ActiveUser) {
	if u.Room == nil || !u.InCall {
		return
	}
	u.InCall = false
	log.Info().Str("user_id", u.ID).Str("room_id", u.Room.ID).Msg("left call")
	h.broadcast(u.Room.ID, u.ID, protocol.TypePeerLeftCall, protocol.PeerPayload{Peer: u.State()})
}

// relay forwards an offer, answer or candidate when sender and target are
// both in the call of the same room. Anything else is dropped silently;
// the sender is never told.
func (h *Hub) relay(from *ActiveUser, msg *protocol.Message) {
	var sig protocol.Signal
	if err := msg.Decode(&sig); err != nil {
		h.drop(from, msg.Type, "", dropBadPayload)
		return
	}
	if from.Room == nil || !from.InCall {
		h.drop(from, msg.Type, sig.Target, dropSenderNotInCall)
		return
	}
	to, ok := h.registry.Lookup(sig.Target)
	if !ok {
		h.drop(from, msg.Type, sig.Target, dropUnknownTarget)
		return
	}
	if to.Room == nil || to.Room.ID != from.Room.ID {
		h.drop(from, msg.Type, sig.Target, dropOtherRoom)
		return
	}
	if !to.InCall {
		h.drop(from, msg.Type, sig.Target, dropTargetNotInCall)
		return
	}

	sender := from.User
	h.send(to.client, protocol.MustNew(msg.Type, protocol.Signal{From: &sender, Data: sig.Data}))
	h.metrics.Relayed.WithLabelValues(msg.Type).Inc()
	log.Debug().Str("type", msg.Type).Str("user_id", from.ID).Str("peer_id", to.ID).Msg("relayed")
}

func (h *Hub) drop(from *ActiveUser, kind, target, reason string) {
	h.metrics.Dropped.WithLabelValues(kind, reason).Inc()
	log.Warn().Str("type", kind).Str("user_id", from.ID).Str("peer_id", target).
		Str("reason", reason).Msg("dropped signal")
}

// broadcast sends an event to every member of roomID except exclude.
func (h *Hub) broadcast(roomID, exclude, event string, payload any) {
	msg := protocol.MustNew(event, payload)
	for _, m := range h.registry.Members(roomID) {
		if m.ID == exclude {
			continue
		}
		h.send(m.client, msg)
	}
	h.metrics.Broadcasts.WithLabelValues(event).Inc()
}

// send queues msg without blocking the hub. A socket that cannot keep up
// is closed; its ReadPump then unregisters it.
func (h *Hub) send(c *Client, msg *protocol.Message) {
	if c.closed {
		return
	}
	select {
	case c.Send <- msg:
	default:
		log.Warn().Str("user_id", c.User.ID).Str("type", msg.Type).Msg("send buffer full, closing socket")
		c.closeConn()
	}
}

func (h *Hub) sendError(c *Client, reason string) {
	h.send(c, protocol.MustNew(protocol.TypeError, protocol.ErrorPayload{Error: reason}))
}

func (h *Hub) closeClient(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

func (h *Hub) updateGauges() {
	h.metrics.ActiveUsers.Set(float64(h.registry.Len()))
	h.metrics.ActiveRooms.Set(float64(h.registry.RoomCount()))
}
