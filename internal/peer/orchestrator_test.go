package peer

import (
	"errors"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/vandervillain/rando/internal/media"
	"github.com/vandervillain/rando/internal/protocol"
)

type fakeConn struct {
	peerID     string
	events     Events
	offers     int
	answers    []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	presence   []Presence
	closed     bool
	failAnswer bool
}

func (f *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	f.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + f.peerID}, nil
}

func (f *fakeConn) Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if f.failAnswer {
		return webrtc.SessionDescription{}, errors.New("no audio device")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + f.peerID}, nil
}

func (f *fakeConn) SetAnswer(a webrtc.SessionDescription) error {
	f.answers = append(f.answers, a)
	return nil
}

func (f *fakeConn) AddCandidate(c webrtc.ICECandidateInit) error {
	f.candidates = append(f.candidates, c)
	return nil
}

func (f *fakeConn) SendPresence(p Presence) error {
	f.presence = append(f.presence, p)
	return nil
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

type sent struct {
	kind, target string
	data         any
}

type fakeSignaler struct{ sent []sent }

func (s *fakeSignaler) SendSignal(kind, target string, data any) error {
	s.sent = append(s.sent, sent{kind, target, data})
	return nil
}

type fixture struct {
	*Orchestrator
	self     string
	conns    []*fakeConn
	sig      *fakeSignaler
	torndown []string
	failNext bool
}

func newFixture(self string) *fixture {
	f := &fixture{self: self, sig: &fakeSignaler{}}
	f.Orchestrator = NewOrchestrator(OrchestratorOptions{
		Self: func() string { return f.self },
		Factory: func(peerID string, ev Events) (Conn, error) {
			c := &fakeConn{peerID: peerID, events: ev, failAnswer: f.failNext}
			f.conns = append(f.conns, c)
			return c, nil
		},
		Signaler:   f.sig,
		OnTeardown: func(id string) { f.torndown = append(f.torndown, id) },
	})
	return f
}

func (f *fixture) last() *fakeConn { return f.conns[len(f.conns)-1] }

func TestConnectSendsOffer(t *testing.T) {
	f := newFixture("a")
	pc, err := f.Connect("b")
	if err != nil || pc == nil {
		t.Fatalf("pc=%v err=%v", pc, err)
	}
	if len(f.sig.sent) != 1 || f.sig.sent[0].kind != protocol.TypeOffer || f.sig.sent[0].target != "b" {
		t.Fatalf("sent = %+v", f.sig.sent)
	}
	if !f.Has("b") || f.Len() != 1 {
		t.Fatal("connection not recorded")
	}
}

func TestConnectWithoutIdentity(t *testing.T) {
	f := newFixture("")
	pc, err := f.Connect("b")
	if pc != nil || err != nil {
		t.Fatalf("pc=%v err=%v, want nil, nil", pc, err)
	}
	if len(f.conns) != 0 || len(f.sig.sent) != 0 {
		t.Fatal("connection attempted without identity")
	}
}

func TestHandleOfferReplacesConnection(t *testing.T) {
	f := newFixture("a")
	f.Connect("b")
	first := f.last()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}
	if err := f.HandleOffer("b", offer); err != nil {
		t.Fatal(err)
	}
	if !first.closed {
		t.Fatal("replaced connection left open")
	}
	if f.Len() != 1 {
		t.Fatalf("len = %d", f.Len())
	}
	got := f.sig.sent[len(f.sig.sent)-1]
	if got.kind != protocol.TypeAnswer || got.target != "b" {
		t.Fatalf("reply = %+v", got)
	}
	if len(f.torndown) != 1 || f.torndown[0] != "b" {
		t.Fatalf("torndown = %v", f.torndown)
	}
}

func TestHandleOfferFailureTearsDown(t *testing.T) {
	f := newFixture("a")
	f.failNext = true
	err := f.HandleOffer("b", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer})
	var opErr *OpError
	if !errors.As(err, &opErr) || opErr.Peer != "b" {
		t.Fatalf("err = %v", err)
	}
	if f.Has("b") || !f.last().closed {
		t.Fatal("failed connection kept")
	}
	if len(f.sig.sent) != 0 {
		t.Fatal("answer sent after failure")
	}
}

func TestStaleMessagesAreDropped(t *testing.T) {
	f := newFixture("a")
	if err := f.HandleAnswer("ghost", webrtc.SessionDescription{}); err != nil {
		t.Fatal(err)
	}
	// A candidate that outruns its offer has nowhere to go and is lost.
	// Negotiation recovers only if later candidates arrive.
	if err := f.HandleCandidate("ghost", webrtc.ICECandidateInit{Candidate: "c1"}); err != nil {
		t.Fatal(err)
	}
	f.HandleOffer("ghost", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer})
	if n := len(f.last().candidates); n != 0 {
		t.Fatalf("early candidate was buffered (%d)", n)
	}
	f.HandleCandidate("ghost", webrtc.ICECandidateInit{Candidate: "c2"})
	if n := len(f.last().candidates); n != 1 {
		t.Fatalf("candidates = %d, want 1", n)
	}

	f.Teardown("nobody")
	f.Teardown("ghost")
	f.Teardown("ghost")
	if len(f.torndown) != 1 {
		t.Fatalf("torndown = %v", f.torndown)
	}
}

func TestHandleAnswer(t *testing.T) {
	f := newFixture("a")
	f.Connect("b")
	ans := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "y"}
	if err := f.HandleAnswer("b", ans); err != nil {
		t.Fatal(err)
	}
	if got := f.last().answers; len(got) != 1 || got[0].SDP != "y" {
		t.Fatalf("answers = %v", got)
	}
}

func TestCallbacksIgnoredAfterReplace(t *testing.T) {
	f := newFixture("a")
	f.Connect("b")
	old := f.last()
	f.Connect("b")
	current := f.last()

	before := len(f.sig.sent)
	old.events.OnCandidate(webrtc.ICECandidateInit{Candidate: "stale"})
	if len(f.sig.sent) != before {
		t.Fatal("candidate from replaced connection relayed")
	}
	current.events.OnCandidate(webrtc.ICECandidateInit{Candidate: "fresh"})
	if got := f.sig.sent[len(f.sig.sent)-1]; got.kind != protocol.TypeCandidate || got.target != "b" {
		t.Fatalf("sent = %+v", got)
	}

	old.events.OnState(webrtc.PeerConnectionStateFailed)
	if !f.Has("b") {
		t.Fatal("stale state change tore down current connection")
	}
	current.events.OnState(webrtc.PeerConnectionStateFailed)
	if f.Has("b") {
		t.Fatal("failed connection kept")
	}
}

type nopReader struct{}

func (nopReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	return nil, nil, errors.New("eof")
}

func TestDrainTracks(t *testing.T) {
	f := newFixture("a")
	f.Connect("b")
	f.Connect("c")
	f.conns[0].events.OnTrack(nopReader{})
	f.conns[1].events.OnTrack(nopReader{})
	f.conns[1].events.OnTrack(nopReader{})

	got := map[string]int{}
	f.DrainTracks(func(id string, _ media.RTPReader) { got[id]++ })
	if got["b"] != 1 || got["c"] != 2 {
		t.Fatalf("drained %v", got)
	}

	f.DrainTracks(func(id string, _ media.RTPReader) { t.Fatalf("drained %s twice", id) })

	f.Teardown("b")
	f.conns[0].events.OnTrack(nopReader{})
	f.DrainTracks(func(id string, _ media.RTPReader) { t.Fatalf("track after teardown from %s", id) })
}

func TestPresence(t *testing.T) {
	var got []Presence
	f := newFixture("a")
	f.opts.OnPresence = func(id string, p Presence) { got = append(got, p) }

	f.Connect("b")
	f.SetPresence(Presence{Muted: true})
	f.SetPresence(Presence{Muted: true})
	if p := f.last().presence; len(p) != 2 || !p[1].Muted {
		t.Fatalf("presence sent %v", p)
	}

	// Late joiners get the current presence.
	f.Connect("c")
	if p := f.last().presence; len(p) != 1 || !p[0].Muted {
		t.Fatalf("late presence %v", p)
	}

	f.last().events.OnPresence(Presence{Speaking: true})
	if len(got) != 1 || !got[0].Speaking {
		t.Fatalf("received %v", got)
	}
}

func TestTeardownAll(t *testing.T) {
	f := newFixture("a")
	f.Connect("c")
	f.Connect("b")
	f.TeardownAll()
	if f.Len() != 0 {
		t.Fatal("connections left")
	}
	if len(f.torndown) != 2 || f.torndown[0] != "b" || f.torndown[1] != "c" {
		t.Fatalf("torndown = %v", f.torndown)
	}
}
