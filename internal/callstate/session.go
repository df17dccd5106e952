package callstate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vandervillain/rando/internal/audio"
	"github.com/vandervillain/rando/internal/config"
	"github.com/vandervillain/rando/internal/media"
	"github.com/vandervillain/rando/internal/peer"
	"github.com/vandervillain/rando/internal/protocol"
	"github.com/vandervillain/rando/internal/signalclient"
)

// ObserveInterval is how often inbound tracks are drained into streams and
// speaking state is sampled.
const ObserveInterval = 50 * time.Millisecond

var (
	ErrClosed       = errors.New("session closed")
	ErrDisconnected = errors.New("signaling connection closed")
)

// Signaling is the server-bound half of the signaling client.
type Signaling interface {
	JoinRoom(name string, room protocol.Room)
	LeaveRoom()
	JoinCall()
	LeaveCall()
	CreateRoom(name, ack string)
	SendSignal(kind, target string, data any) error
}

type Options struct {
	Config *config.Config
	User   protocol.User

	Signaling Signaling
	Events    <-chan signalclient.Event
	Factory   peer.Factory

	// Input is the microphone. Nil joins calls listen-only.
	Input audio.Source
	// Output carries the processed microphone to every peer.
	Output audio.Sink
	// Mixer plays remote streams and the test mic. Nil discards them.
	Mixer *media.Mixer

	// NoGate swaps the noise gate for a gate that never closes.
	NoGate bool

	Poller          *audio.Poller
	ObserveInterval time.Duration
}

// StreamView is one live stream as shown to the user.
type StreamView struct {
	ID        string
	Index     int
	Level     float64
	Speaking  bool
	Gain      float64
	Threshold float64
	Enabled   bool
}

// View is a consistent snapshot of the session.
type View struct {
	Self       protocol.User
	Room       *protocol.Room
	InCall     bool
	Muted      bool
	TestMic    bool
	Connection signalclient.State
	Peers      []RoomPeer
	Streams    []StreamView
	Connected  []string
	Error      string
}

type levels struct{ gain, threshold float64 }

// Session is the client's room and call state. Everything it owns is
// touched only from Run's goroutine; public methods hand work to it.
type Session struct {
	opts Options
	self protocol.User

	room     *protocol.Room
	inCall   bool
	wantCall bool
	muted    bool
	conn     signalclient.State
	lastErr  string

	reconnecting bool
	speaking     bool

	roster   *Roster
	orch     *peer.Orchestrator
	pool     *audio.Pool
	local    *media.LocalSink
	settings map[string]levels
	created  map[string]chan protocol.Room

	cmds  chan func()
	posts chan func()
	views chan View
	done  chan struct{}
}

func New(opts Options) *Session {
	if opts.ObserveInterval == 0 {
		opts.ObserveInterval = ObserveInterval
	}
	if opts.Poller == nil {
		opts.Poller = audio.NewPoller(audio.PollInterval)
	}
	size := opts.Config.PoolSize
	if opts.Mixer != nil {
		size = min(size, opts.Mixer.Len())
	}

	s := &Session{
		opts:     opts,
		self:     opts.User,
		roster:   NewRoster(),
		pool:     audio.NewPool(size),
		settings: make(map[string]levels),
		created:  make(map[string]chan protocol.Room),
		cmds:     make(chan func()),
		posts:    make(chan func(), 64),
		views:    make(chan View, 1),
		done:     make(chan struct{}),
	}
	s.orch = peer.NewOrchestrator(peer.OrchestratorOptions{
		Self:       func() string { return s.self.ID },
		Factory:    opts.Factory,
		Signaler:   opts.Signaling,
		Post:       s.post,
		OnPresence: s.handlePresence,
		OnTeardown: func(id string) { s.pool.Release(id) },
	})
	return s
}

// Run processes events and commands until ctx ends or the signaling
// connection closes for good.
func (s *Session) Run(ctx context.Context) error {
	defer s.shutdown()

	if err := s.startLocal(); err != nil {
		return err
	}
	ticker := time.NewTicker(s.opts.ObserveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.opts.Events:
			if !ok {
				return ErrDisconnected
			}
			s.handleEvent(ev)
		case fn := <-s.cmds:
			fn()
		case fn := <-s.posts:
			fn()
		case <-ticker.C:
			s.observe()
		}
		s.publish()
	}
}

// Views delivers the latest snapshot after every change. Older snapshots
// are dropped when the reader falls behind. The channel closes when Run
// returns.
func (s *Session) Views() <-chan View { return s.views }

// Snapshot returns the current view.
func (s *Session) Snapshot() (View, error) {
	var v View
	err := s.do(func() error { v = s.view(); return nil })
	return v, err
}

// JoinRoom joins room, leaving the current room and call if different.
func (s *Session) JoinRoom(room protocol.Room) error {
	return s.do(func() error {
		if s.room != nil && s.room.ID != room.ID {
			s.endCall()
			s.roster.Clear()
		}
		r := room
		s.room = &r
		s.opts.Signaling.JoinRoom(s.self.Name, room)
		log.Info().Str("room", room.ID).Msg("joining room")
		return nil
	})
}

func (s *Session) LeaveRoom() error {
	return s.do(func() error {
		if s.room == nil {
			return nil
		}
		s.endCall()
		s.opts.Signaling.LeaveRoom()
		log.Info().Str("room", s.room.ID).Msg("left room")
		s.room = nil
		s.roster.Clear()
		return nil
	})
}

// JoinCall announces this user to the room's call. Members already in the
// call connect to us.
//
// inCall is set before the server has seen join-call. A PeerJoiningCall
// that arrives in that gap makes us offer while the joiner also offers to
// us. The incoming offer replaces our pending connection, and the peer's
// answer to our offer is then rejected.
func (s *Session) JoinCall() error {
	return s.do(func() error {
		if s.room == nil {
			return peer.NewError("join call", peer.ErrNotInRoom)
		}
		if s.inCall {
			return nil
		}
		s.inCall, s.wantCall = true, true
		s.roster.SetInCall(s.self.ID, true)
		s.opts.Signaling.JoinCall()
		log.Info().Str("room", s.room.ID).Msg("joined call")
		return nil
	})
}

func (s *Session) LeaveCall() error {
	return s.do(func() error {
		if !s.inCall {
			return nil
		}
		s.endCall()
		s.opts.Signaling.LeaveCall()
		log.Info().Msg("left call")
		return nil
	})
}

func (s *Session) SetMuted(muted bool) error {
	return s.do(func() error {
		s.setMuted(muted)
		return nil
	})
}

func (s *Session) ToggleMute() error {
	return s.do(func() error {
		s.setMuted(!s.muted)
		return nil
	})
}

// SetTestMic routes the processed microphone to local playback.
func (s *Session) SetTestMic(on bool) error {
	return s.do(func() error {
		if s.local == nil {
			return peer.WrapError("test mic", errors.New("no microphone"), "input not configured")
		}
		s.local.SetMonitoring(on)
		return nil
	})
}

// SetGain sets the 0..1 gain of the stream for id. The setting survives
// the stream being rebuilt.
func (s *Session) SetGain(id string, percent float64) error {
	return s.do(func() error {
		lv := s.levels(id)
		lv.gain = percent
		s.settings[id] = lv
		if st, ok := s.pool.Get(id); ok {
			st.SetGain(percent)
		}
		return nil
	})
}

// SetThreshold sets the 0..1 noise gate threshold of the stream for id.
func (s *Session) SetThreshold(id string, percent float64) error {
	return s.do(func() error {
		lv := s.levels(id)
		lv.threshold = percent
		s.settings[id] = lv
		if st, ok := s.pool.Get(id); ok {
			st.SetThreshold(percent)
		}
		return nil
	})
}

// CreateRoom asks the server for a fresh room id.
func (s *Session) CreateRoom(ctx context.Context, name string) (protocol.Room, error) {
	ack := uuid.NewString()
	reply := make(chan protocol.Room, 1)
	err := s.do(func() error {
		s.created[ack] = reply
		s.opts.Signaling.CreateRoom(name, ack)
		return nil
	})
	if err != nil {
		return protocol.Room{}, err
	}
	defer s.do(func() error { delete(s.created, ack); return nil })

	select {
	case room := <-reply:
		return room, nil
	case <-ctx.Done():
		return protocol.Room{}, peer.NewError("create room", ctx.Err())
	case <-s.done:
		return protocol.Room{}, ErrClosed
	}
}

func (s *Session) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.cmds <- func() { errc <- fn() }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// post queues fn from a network callback.
func (s *Session) post(fn func()) {
	select {
	case s.posts <- fn:
	case <-s.done:
	}
}

func (s *Session) handleEvent(ev signalclient.Event) {
	switch ev := ev.(type) {
	case signalclient.JoinedRoom:
		s.self = ev.Self
		room := ev.Room
		s.room = &room
		s.roster.Reset(ev.Peers)
		s.roster.SetInCall(s.self.ID, s.inCall)
		s.roster.SetMuted(s.self.ID, s.muted)
		log.Info().Str("room", room.ID).Int("peers", len(ev.Peers)).Msg("joined room")

	case signalclient.PeerJoinedRoom:
		s.roster.Upsert(ev.Peer)

	case signalclient.PeerLeftRoom:
		s.orch.Teardown(ev.Peer.ID)
		s.roster.Remove(ev.Peer.ID)

	case signalclient.PeerJoiningCall:
		if !s.roster.SetInCall(ev.Peer.ID, true) {
			s.roster.Upsert(ev.Peer)
		}
		if !s.inCall {
			return
		}
		if _, err := s.orch.Connect(ev.Peer.ID); err != nil {
			s.fail(err)
		}

	case signalclient.PeerLeftCall:
		s.roster.SetInCall(ev.Peer.ID, false)
		s.orch.Teardown(ev.Peer.ID)

	case signalclient.Offer:
		if !s.inCall {
			log.Warn().Str("peer", ev.From.ID).Msg("dropping offer, not in call")
			return
		}
		if err := s.orch.HandleOffer(ev.From.ID, ev.SDP); err != nil {
			s.fail(err)
		}

	case signalclient.Answer:
		if err := s.orch.HandleAnswer(ev.From.ID, ev.SDP); err != nil {
			s.fail(err)
		}

	case signalclient.Candidate:
		if err := s.orch.HandleCandidate(ev.From.ID, ev.Candidate); err != nil {
			log.Debug().Err(err).Msg("candidate rejected")
		}

	case signalclient.RoomCreated:
		if reply, ok := s.created[ev.Ack]; ok {
			reply <- ev.Room
			delete(s.created, ev.Ack)
		}

	case signalclient.ServerError:
		log.Warn().Str("error", ev.Message).Msg("server error")
		s.lastErr = ev.Message

	case signalclient.ConnectionState:
		s.handleConnection(ev.State)
	}
}

// handleConnection tears everything down when the transport drops and
// rejoins the room and call once it is back.
func (s *Session) handleConnection(state signalclient.State) {
	s.conn = state
	switch state {
	case signalclient.StateReconnecting:
		if s.reconnecting {
			return
		}
		s.reconnecting = true
		s.orch.TeardownAll()
		s.inCall = false
		s.roster.Clear()
	case signalclient.StateConnected:
		if !s.reconnecting {
			return
		}
		s.reconnecting = false
		if s.room == nil {
			return
		}
		log.Info().Str("room", s.room.ID).Bool("call", s.wantCall).Msg("rejoining after reconnect")
		s.opts.Signaling.JoinRoom(s.self.Name, *s.room)
		if s.wantCall {
			s.inCall = true
			s.opts.Signaling.JoinCall()
		}
	}
}

func (s *Session) handlePresence(id string, p peer.Presence) {
	s.roster.SetMuted(id, p.Muted)
	if _, ok := s.pool.Get(id); !ok {
		s.roster.SetSpeaking(id, p.Speaking)
	}
}

// endCall drops every peer connection and remote stream. The local stream
// stays up for the test mic.
func (s *Session) endCall() {
	s.orch.TeardownAll()
	s.pool.ReleaseAll(s.self.ID)
	s.inCall, s.wantCall = false, false
	s.roster.SetInCall(s.self.ID, false)
}

func (s *Session) setMuted(muted bool) {
	s.muted = muted
	if st, ok := s.pool.Get(s.self.ID); ok {
		st.SetEnabled(!muted)
	}
	s.roster.SetMuted(s.self.ID, muted)
	s.orch.SetPresence(peer.Presence{Muted: s.muted, Speaking: s.speaking && !s.muted})
}

func (s *Session) startLocal() error {
	if s.opts.Input == nil {
		return nil
	}
	_, err := s.pool.Add(s.self.ID, func(index int) *audio.Stream {
		s.local = &media.LocalSink{Track: s.opts.Output}
		if s.opts.Mixer != nil {
			s.local.Monitor = s.opts.Mixer.Slot(index)
		}
		return s.newStream(s.self.ID, index, s.opts.Input, s.local)
	})
	if err != nil {
		return peer.NewError("start microphone", err)
	}
	return nil
}

// observe turns queued inbound tracks into streams and samples speaking
// state.
func (s *Session) observe() {
	s.orch.DrainTracks(func(id string, r media.RTPReader) {
		_, err := s.pool.Add(id, func(index int) *audio.Stream {
			var sink audio.Sink = discard{}
			if s.opts.Mixer != nil {
				sink = s.opts.Mixer.Slot(index)
			}
			return s.newStream(id, index, media.NewTrackSource(r), sink)
		})
		if err != nil {
			log.Warn().Err(err).Str("peer", id).Msg("no playback slot for peer")
			return
		}
		log.Debug().Str("peer", id).Msg("remote stream attached")
	})

	for _, st := range s.pool.List() {
		if st.ID == s.self.ID {
			continue
		}
		s.roster.SetSpeaking(st.ID, st.Speaking())
	}

	if st, ok := s.pool.Get(s.self.ID); ok {
		speaking := st.Speaking() && !s.muted
		s.roster.SetSpeaking(s.self.ID, speaking)
		if speaking != s.speaking {
			s.speaking = speaking
			s.orch.SetPresence(peer.Presence{Muted: s.muted, Speaking: speaking})
		}
	}
}

func (s *Session) newStream(id string, index int, src audio.Source, sink audio.Sink) *audio.Stream {
	lv := s.levels(id)
	var gate audio.Gate
	if s.opts.NoGate {
		gate = audio.OpenGate{}
	}
	st := audio.NewStream(audio.StreamOptions{
		ID:        id,
		Index:     index,
		Source:    src,
		Sink:      sink,
		MaxGain:   s.opts.Config.MaxGain,
		Gain:      lv.gain,
		Threshold: lv.threshold,
		Gate:      gate,
		Poller:    s.opts.Poller,
	})
	if id == s.self.ID {
		st.SetEnabled(!s.muted)
	}
	return st
}

func (s *Session) levels(id string) levels {
	if lv, ok := s.settings[id]; ok {
		return lv
	}
	return levels{gain: s.opts.Config.Gain, threshold: s.opts.Config.Threshold}
}

func (s *Session) fail(err error) {
	log.Warn().Err(err).Msg("negotiation failed")
	s.lastErr = err.Error()
}

func (s *Session) view() View {
	v := View{
		Self:       s.self,
		InCall:     s.inCall,
		Muted:      s.muted,
		TestMic:    s.local != nil && s.local.Monitoring(),
		Connection: s.conn,
		Peers:      s.roster.List(),
		Connected:  s.orch.Peers(),
		Error:      s.lastErr,
	}
	if s.room != nil {
		r := *s.room
		v.Room = &r
	}
	for _, st := range s.pool.List() {
		v.Streams = append(v.Streams, StreamView{
			ID:        st.ID,
			Index:     st.Index,
			Level:     st.Level(),
			Speaking:  st.Speaking(),
			Gain:      st.GainPercent(),
			Threshold: st.ThresholdPercent(),
			Enabled:   st.Enabled(),
		})
	}
	return v
}

func (s *Session) publish() {
	v := s.view()
	select {
	case s.views <- v:
		return
	default:
	}
	select {
	case <-s.views:
	default:
	}
	select {
	case s.views <- v:
	default:
	}
}

func (s *Session) shutdown() {
	s.orch.TeardownAll()
	s.pool.ReleaseAll()
	close(s.done)
	close(s.views)
}

type discard struct{}

func (discard) WriteFrame([]float32) error { return nil }
