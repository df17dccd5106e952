package peer

import (
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/vandervillain/rando/internal/media"
	"github.com/vandervillain/rando/internal/protocol"
)

// Signaler relays negotiation messages. Delivery is best effort.
type Signaler interface {
	SendSignal(kind, target string, data any) error
}

// PeerConnection is the orchestrator's record of one remote participant.
type PeerConnection struct {
	PeerID string
	conn   Conn

	mu      sync.Mutex
	pending []media.RTPReader
	closed  bool
}

// pushTrack queues an inbound track until the next drain. Tracks arriving
// after close are dropped.
func (p *PeerConnection) pushTrack(r media.RTPReader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending = append(p.pending, r)
}

func (p *PeerConnection) drain() []media.RTPReader {
	p.mu.Lock()
	defer p.mu.Unlock()
	tracks := p.pending
	p.pending = nil
	return tracks
}

func (p *PeerConnection) close() {
	p.mu.Lock()
	p.closed = true
	p.pending = nil
	p.mu.Unlock()
	if err := p.conn.Close(); err != nil {
		log.Debug().Err(err).Str("peer", p.PeerID).Msg("close peer connection")
	}
}

type OrchestratorOptions struct {
	// Self returns the local user id, or "" before the first connect.
	Self     func() string
	Factory  Factory
	Signaler Signaler
	// Post runs fn on the goroutine that owns the orchestrator. Network
	// callbacks go through it. Nil runs fn inline.
	Post func(fn func())

	OnPresence func(peerID string, p Presence)
	OnTeardown func(peerID string)
}

// Orchestrator keeps one connection per remote participant in the call.
// It is not safe for concurrent use; callbacks reach it through Post.
type Orchestrator struct {
	opts     OrchestratorOptions
	conns    map[string]*PeerConnection
	presence Presence
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.Post == nil {
		opts.Post = func(fn func()) { fn() }
	}
	return &Orchestrator{
		opts:  opts,
		conns: make(map[string]*PeerConnection),
	}
}

// Connect opens a connection to peerID and sends it an offer. It returns
// nil without error when the local identity is unknown.
func (o *Orchestrator) Connect(peerID string) (*PeerConnection, error) {
	self := o.opts.Self()
	if self == "" {
		log.Warn().Str("peer", peerID).Msg("cannot connect before identity is known")
		return nil, nil
	}
	if peerID == self {
		return nil, nil
	}

	pc, err := o.open(peerID)
	if err != nil {
		return nil, err
	}
	offer, err := pc.conn.CreateOffer()
	if err != nil {
		o.Teardown(peerID)
		return nil, NewPeerError("offer", peerID, err)
	}
	if err := o.opts.Signaler.SendSignal(protocol.TypeOffer, peerID, offer); err != nil {
		o.Teardown(peerID)
		return nil, NewPeerError("send offer", peerID, err)
	}
	log.Debug().Str("peer", peerID).Msg("offer sent")
	return pc, nil
}

// HandleOffer answers an offer, replacing any connection already open to
// the sender.
func (o *Orchestrator) HandleOffer(from string, offer webrtc.SessionDescription) error {
	if o.opts.Self() == "" {
		log.Warn().Str("peer", from).Msg("dropping offer, identity unknown")
		return nil
	}
	pc, err := o.open(from)
	if err != nil {
		return err
	}
	answer, err := pc.conn.Answer(offer)
	if err != nil {
		o.Teardown(from)
		return NewPeerError("answer", from, err)
	}
	if err := o.opts.Signaler.SendSignal(protocol.TypeAnswer, from, answer); err != nil {
		o.Teardown(from)
		return NewPeerError("send answer", from, err)
	}
	log.Debug().Str("peer", from).Msg("answer sent")
	return nil
}

// HandleAnswer completes negotiation. Stale answers are dropped.
func (o *Orchestrator) HandleAnswer(from string, answer webrtc.SessionDescription) error {
	pc, ok := o.conns[from]
	if !ok {
		log.Warn().Str("peer", from).Msg("dropping answer, no connection")
		return nil
	}
	if err := pc.conn.SetAnswer(answer); err != nil {
		return NewPeerError("apply answer", from, err)
	}
	return nil
}

// HandleCandidate adds a remote candidate. Candidates that arrive before
// the connection exists are dropped, not buffered.
func (o *Orchestrator) HandleCandidate(from string, c webrtc.ICECandidateInit) error {
	pc, ok := o.conns[from]
	if !ok {
		log.Warn().Str("peer", from).Msg("dropping candidate, no connection")
		return nil
	}
	if err := pc.conn.AddCandidate(c); err != nil {
		return NewPeerError("add candidate", from, err)
	}
	return nil
}

// HandleStateChange tears down a connection that failed or closed. Changes
// from a connection that was already replaced are ignored.
func (o *Orchestrator) HandleStateChange(pc *PeerConnection, state webrtc.PeerConnectionState) {
	if o.conns[pc.PeerID] != pc {
		return
	}
	log.Debug().Str("peer", pc.PeerID).Str("state", state.String()).Msg("peer connection state")
	switch state {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		o.Teardown(pc.PeerID)
	}
}

// Teardown closes the connection to peerID. Unknown peers are a no-op.
func (o *Orchestrator) Teardown(peerID string) {
	pc, ok := o.conns[peerID]
	if !ok {
		return
	}
	delete(o.conns, peerID)
	pc.close()
	log.Debug().Str("peer", peerID).Msg("peer connection closed")
	if o.opts.OnTeardown != nil {
		o.opts.OnTeardown(peerID)
	}
}

func (o *Orchestrator) TeardownAll() {
	for _, id := range o.Peers() {
		o.Teardown(id)
	}
}

// DrainTracks hands every queued inbound track to fn.
func (o *Orchestrator) DrainTracks(fn func(peerID string, r media.RTPReader)) {
	for _, id := range o.Peers() {
		for _, r := range o.conns[id].drain() {
			fn(id, r)
		}
	}
}

// SetPresence shares p with every connected peer, and with peers that
// connect later.
func (o *Orchestrator) SetPresence(p Presence) {
	if p == o.presence {
		return
	}
	o.presence = p
	for id, pc := range o.conns {
		if err := pc.conn.SendPresence(p); err != nil {
			log.Debug().Err(err).Str("peer", id).Msg("presence not sent")
		}
	}
}

func (o *Orchestrator) Has(peerID string) bool {
	_, ok := o.conns[peerID]
	return ok
}

// Peers returns connected peer ids in sorted order.
func (o *Orchestrator) Peers() []string {
	ids := make([]string, 0, len(o.conns))
	for id := range o.conns {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (o *Orchestrator) Len() int { return len(o.conns) }

func (o *Orchestrator) open(peerID string) (*PeerConnection, error) {
	o.Teardown(peerID)

	pc := &PeerConnection{PeerID: peerID}
	current := func() bool { return o.conns[peerID] == pc }
	conn, err := o.opts.Factory(peerID, Events{
		OnCandidate: func(c webrtc.ICECandidateInit) {
			o.opts.Post(func() {
				if !current() {
					return
				}
				if err := o.opts.Signaler.SendSignal(protocol.TypeCandidate, peerID, c); err != nil {
					log.Warn().Err(err).Str("peer", peerID).Msg("send candidate")
				}
			})
		},
		OnTrack: pc.pushTrack,
		OnPresence: func(p Presence) {
			o.opts.Post(func() {
				if current() && o.opts.OnPresence != nil {
					o.opts.OnPresence(peerID, p)
				}
			})
		},
		OnState: func(s webrtc.PeerConnectionState) {
			o.opts.Post(func() { o.HandleStateChange(pc, s) })
		},
	})
	if err != nil {
		return nil, err
	}
	pc.conn = conn
	o.conns[peerID] = pc
	if err := conn.SendPresence(o.presence); err != nil {
		log.Debug().Err(err).Str("peer", peerID).Msg("presence not sent")
	}
	return pc, nil
}
