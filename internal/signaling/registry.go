package signaling

import (
	"sort"
	"time"

	"github.com/vandervillain/rando/internal/protocol"
)

// ActiveUser is the live record of one connected user.
type ActiveUser struct {
	protocol.User

	// Room is nil while the user is not in any room.
	Room   *protocol.Room
	InCall bool

	client      *Client
	connectedAt time.Time
	joinSeq     uint64
}

// State returns the roster view of the user.
func (u *ActiveUser) State() protocol.PeerState {
	return protocol.PeerState{User: u.User, InCall: u.InCall}
}

type roomEntry struct {
	room      protocol.Room
	members   map[string]*ActiveUser
	createdAt time.Time
}

// Registry maps user ids to their current socket and room ids to members.
// It is not safe for concurrent use; the Hub goroutine owns it.
type Registry struct {
	users map[string]*ActiveUser
	rooms map[string]*roomEntry
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]*ActiveUser),
		rooms: make(map[string]*roomEntry),
	}
}

// Register records user as reachable through c. An existing record for the
// same id is replaced; callers clean it up first.
func (r *Registry) Register(user protocol.User, c *Client, now time.Time) *ActiveUser {
	u := &ActiveUser{User: user, client: c, connectedAt: now}
	r.users[user.ID] = u
	return u
}

func (r *Registry) Lookup(id string) (*ActiveUser, bool) {
	u, ok := r.users[id]
	return u, ok
}

// Remove forgets the user. Room membership must already be released.
func (r *Registry) Remove(id string) {
	delete(r.users, id)
}

func (r *Registry) Len() int { return len(r.users) }

func (r *Registry) HasRoom(id string) bool {
	_, ok := r.rooms[id]
	return ok
}

func (r *Registry) RoomCount() int { return len(r.rooms) }

// Catalog makes room known without adding members. The name of an
// already known room is kept unless it was empty.
func (r *Registry) Catalog(room protocol.Room, now time.Time) protocol.Room {
	e, ok := r.rooms[room.ID]
	if !ok {
		if room.Name == "" {
			room.Name = room.ID
		}
		e = &roomEntry{room: room, members: make(map[string]*ActiveUser), createdAt: now}
		r.rooms[room.ID] = e
	}
	return e.room
}

// Enter adds u to room, creating the room on first use.
func (r *Registry) Enter(u *ActiveUser, room protocol.Room, now time.Time) protocol.Room {
	room = r.Catalog(room, now)
	r.seq++
	u.joinSeq = r.seq
	u.Room = &room
	r.rooms[room.ID].members[u.ID] = u
	return room
}

// Exit removes u from its room and clears its room and call state. A room
// left with no members is dropped.
func (r *Registry) Exit(u *ActiveUser) {
	if u.Room == nil {
		return
	}
	if e, ok := r.rooms[u.Room.ID]; ok {
		delete(e.members, u.ID)
		if len(e.members) == 0 {
			delete(r.rooms, u.Room.ID)
		}
	}
	u.Room = nil
	u.InCall = false
}

// Members returns the users in roomID in join order.
func (r *Registry) Members(roomID string) []*ActiveUser {
	e, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*ActiveUser, 0, len(e.members))
	for _, u := range e.members {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].joinSeq < out[j].joinSeq })
	return out
}

// Roster returns the member states of roomID in join order.
func (r *Registry) Roster(roomID string) []protocol.PeerState {
	members := r.Members(roomID)
	out := make([]protocol.PeerState, len(members))
	for i, u := range members {
		out[i] = u.State()
	}
	return out
}

// Prune drops catalogued rooms that never got a member within ttl.
func (r *Registry) Prune(now time.Time, ttl time.Duration) []string {
	var dropped []string
	for id, e := range r.rooms {
		if len(e.members) == 0 && now.Sub(e.createdAt) >= ttl {
			delete(r.rooms, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

func (r *Registry) Snapshot() protocol.Snapshot {
	snap := protocol.Snapshot{
		Users: make([]protocol.UserInfo, 0, len(r.users)),
		Rooms: make([]protocol.RoomInfo, 0, len(r.rooms)),
	}
	for _, u := range r.users {
		info := protocol.UserInfo{ID: u.ID, Name: u.Name, InCall: u.InCall, ConnectedAt: u.connectedAt}
		if u.Room != nil {
			info.RoomID = u.Room.ID
		}
		snap.Users = append(snap.Users, info)
	}
	for _, e := range r.rooms {
		info := protocol.RoomInfo{ID: e.room.ID, Name: e.room.Name, Members: len(e.members), CreatedAt: e.createdAt}
		for _, u := range e.members {
			if u.InCall {
				info.InCall++
			}
		}
		snap.Rooms = append(snap.Rooms, info)
	}
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ConnectedAt.Before(snap.Users[j].ConnectedAt) })
	sort.Slice(snap.Rooms, func(i, j int) bool { return snap.Rooms[i].ID < snap.Rooms[j].ID })
	return snap
}
