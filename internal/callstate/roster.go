package callstate

import (
	"sort"

	"github.com/vandervillain/rando/internal/protocol"
)

// RoomPeer is the local view of one room member. Order is assigned on
// arrival and never changes, so the list does not reshuffle on updates.
type RoomPeer struct {
	ID       string
	Name     string
	InCall   bool
	Order    int
	Muted    bool
	Speaking bool
}

// Roster tracks room members in arrival order.
type Roster struct {
	peers map[string]*RoomPeer
	next  int
}

func NewRoster() *Roster {
	return &Roster{peers: make(map[string]*RoomPeer)}
}

// Reset replaces the roster with peers, keeping the order of existing
// members and appending new ones in the order given.
func (r *Roster) Reset(peers []protocol.PeerState) {
	keep := make(map[string]*RoomPeer, len(peers))
	for _, p := range peers {
		if old, ok := r.peers[p.ID]; ok {
			keep[p.ID] = old
		}
	}
	r.peers = keep
	for _, p := range peers {
		r.Upsert(p)
	}
}

// Upsert adds p or refreshes the name and call flag of a known member.
func (r *Roster) Upsert(p protocol.PeerState) {
	if rp, ok := r.peers[p.ID]; ok {
		rp.Name = p.Name
		rp.InCall = p.InCall
		return
	}
	r.peers[p.ID] = &RoomPeer{ID: p.ID, Name: p.Name, InCall: p.InCall, Order: r.next}
	r.next++
}

func (r *Roster) Remove(id string) bool {
	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// SetInCall returns false for unknown members.
func (r *Roster) SetInCall(id string, inCall bool) bool {
	rp, ok := r.peers[id]
	if !ok {
		return false
	}
	rp.InCall = inCall
	if !inCall {
		rp.Speaking = false
	}
	return true
}

func (r *Roster) SetMuted(id string, muted bool) {
	if rp, ok := r.peers[id]; ok {
		rp.Muted = muted
	}
}

func (r *Roster) SetSpeaking(id string, speaking bool) {
	if rp, ok := r.peers[id]; ok {
		rp.Speaking = speaking
	}
}

func (r *Roster) Get(id string) (RoomPeer, bool) {
	rp, ok := r.peers[id]
	if !ok {
		return RoomPeer{}, false
	}
	return *rp, true
}

func (r *Roster) Len() int { return len(r.peers) }

func (r *Roster) Clear() {
	clear(r.peers)
}

// List returns copies of every member in arrival order.
func (r *Roster) List() []RoomPeer {
	out := make([]RoomPeer, 0, len(r.peers))
	for _, rp := range r.peers {
		out = append(out, *rp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// InCall lists the members in the call, in arrival order.
func (r *Roster) InCall() []RoomPeer {
	var out []RoomPeer
	for _, rp := range r.List() {
		if rp.InCall {
			out = append(out, rp)
		}
	}
	return out
}
