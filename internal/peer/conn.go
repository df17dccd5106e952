package peer

import (
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/vandervillain/rando/internal/config"
	"github.com/vandervillain/rando/internal/media"
)

// Conn is one native connection to a remote participant.
type Conn interface {
	// CreateOffer sets and returns the local offer.
	CreateOffer() (webrtc.SessionDescription, error)
	// Answer applies a remote offer and returns the local answer.
	Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	SetAnswer(answer webrtc.SessionDescription) error
	AddCandidate(c webrtc.ICECandidateInit) error
	SendPresence(p Presence) error
	Close() error
}

// Events are invoked from network goroutines.
type Events struct {
	OnCandidate func(webrtc.ICECandidateInit)
	OnTrack     func(media.RTPReader)
	OnPresence  func(Presence)
	OnState     func(webrtc.PeerConnectionState)
}

// Factory opens a connection to peerID.
type Factory func(peerID string, ev Events) (Conn, error)

// Configuration builds the ICE configuration for cfg. TURN is forced when
// asked for or when the host looks like it sits behind a VPN or CGNAT.
func Configuration(cfg *config.Config) webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if stun := cfg.GetSTUNServers(); stun != nil {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stun})
	}

	turnServers := cfg.GetTURNServers()
	if turnServers != nil {
		username, password := cfg.GetTURNCredentials()
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       turnServers,
			Username:   username,
			Credential: password,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if turnServers != nil && (cfg.ForceRelay || ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	}
}

// NewFactory returns a Factory that negotiates PCMU voice only. Every
// connection sends local; a nil local makes connections receive-only.
func NewFactory(cfg *config.Config, local webrtc.TrackLocal) (Factory, error) {
	m := &webrtc.MediaEngine{}
	err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: media.Codec,
		PayloadType:        media.PayloadType,
	}, webrtc.RTPCodecTypeAudio)
	if err != nil {
		return nil, NewError("register codec", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, NewError("register interceptors", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir))
	rtcCfg := Configuration(cfg)

	return func(peerID string, ev Events) (Conn, error) {
		pc, err := api.NewPeerConnection(rtcCfg)
		if err != nil {
			return nil, NewPeerError("create peer connection", peerID, err)
		}
		if err := addAudio(pc, local); err != nil {
			pc.Close()
			return nil, NewPeerError("add track", peerID, err)
		}
		return newPionConn(pc, ev), nil
	}, nil
}

func addAudio(pc *webrtc.PeerConnection, local webrtc.TrackLocal) error {
	if local == nil {
		_, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		return err
	}
	sender, err := pc.AddTrack(local)
	if err != nil {
		return err
	}
	// RTCP must be read for the interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

type pionConn struct {
	pc     *webrtc.PeerConnection
	events Events

	mu       sync.Mutex
	dc       *webrtc.DataChannel
	presence Presence
}

func newPionConn(pc *webrtc.PeerConnection, ev Events) *pionConn {
	c := &pionConn{pc: pc, events: ev}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil || ev.OnCandidate == nil {
			return
		}
		ev.OnCandidate(cand.ToJSON())
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeAudio || ev.OnTrack == nil {
			return
		}
		ev.OnTrack(track)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if ev.OnState != nil {
			ev.OnState(s)
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() == presenceLabel {
			c.attach(dc)
		}
	})
	return c
}

func (c *pionConn) attach(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.mu.Lock()
		p := c.presence
		c.mu.Unlock()
		if err := c.send(dc, p); err != nil {
			log.Debug().Err(err).Msg("initial presence not sent")
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p, err := decodePresence(msg.Data)
		if err != nil {
			log.Warn().Err(err).Msg("bad presence message")
			return
		}
		if c.events.OnPresence != nil {
			c.events.OnPresence(p)
		}
	})
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(presenceLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return webrtc.SessionDescription{}, NewError("create data channel", err)
	}
	c.attach(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, NewError("create offer", err)
	}
	if err = c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, NewError("set local description", err)
	}
	return *c.pc.LocalDescription(), nil
}

func (c *pionConn) Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, NewError("set remote description", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, NewError("create answer", err)
	}
	if err = c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, NewError("set local description", err)
	}
	return *c.pc.LocalDescription(), nil
}

func (c *pionConn) SetAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return NewError("set remote description", err)
	}
	return nil
}

func (c *pionConn) AddCandidate(cand webrtc.ICECandidateInit) error {
	if err := c.pc.AddICECandidate(cand); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}

// SendPresence sends p now if the channel is open; otherwise p goes out
// when it opens.
func (c *pionConn) SendPresence(p Presence) error {
	c.mu.Lock()
	c.presence = p
	dc := c.dc
	c.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return nil
	}
	return c.send(dc, p)
}

func (c *pionConn) send(dc *webrtc.DataChannel, p Presence) error {
	if dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	b, err := encodePresence(p)
	if err != nil {
		return err
	}
	return dc.Send(b)
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}
