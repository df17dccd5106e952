package peer

import (
	"net"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vandervillain/rando/internal/config"
	"github.com/vandervillain/rando/internal/media"
)

func TestPionOfferAnswer(t *testing.T) {
	cfg := &config.Config{}
	local, err := media.NewLocalTrack("a")
	if err != nil {
		t.Fatal(err)
	}

	sendFactory, err := NewFactory(cfg, local.Track())
	if err != nil {
		t.Fatal(err)
	}
	recvFactory, err := NewFactory(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	a, err := sendFactory("b", Events{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := recvFactory("a", Events{})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	offer, err := a.CreateOffer()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(offer.SDP, "PCMU") {
		t.Fatalf("offer does not carry PCMU:\n%s", offer.SDP)
	}
	if !strings.Contains(offer.SDP, "webrtc-datachannel") {
		t.Fatal("offer has no data channel")
	}

	answer, err := b.Answer(offer)
	if err != nil {
		t.Fatal(err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type = %s", answer.Type)
	}
	if err := a.SetAnswer(answer); err != nil {
		t.Fatal(err)
	}

	// Presence before the channel opens is held, not an error.
	if err := a.SendPresence(Presence{Muted: true}); err != nil {
		t.Fatal(err)
	}
}

func TestConfiguration(t *testing.T) {
	cfg := &config.Config{STUNServer: "stun:example.org:3478"}
	c := Configuration(cfg)
	if len(c.ICEServers) != 1 || c.ICETransportPolicy != webrtc.ICETransportPolicyAll {
		t.Fatalf("config = %+v", c)
	}

	cfg.TURNServer = "turn:relay.example.org"
	cfg.TURNUser, cfg.TURNPass = "u", "p"
	cfg.ForceRelay = true
	c = Configuration(cfg)
	if len(c.ICEServers) != 2 || c.ICETransportPolicy != webrtc.ICETransportPolicyRelay {
		t.Fatalf("config = %+v", c)
	}
	if c.ICEServers[1].Username != "u" || len(c.ICEServers[1].URLs) != 2 {
		t.Fatalf("turn = %+v", c.ICEServers[1])
	}
}

func TestForceRelayFor(t *testing.T) {
	ipNet := func(s string) net.Addr {
		ip, n, _ := net.ParseCIDR(s)
		n.IP = ip
		return n
	}
	tests := []struct {
		name  string
		iface string
		addrs []net.Addr
		want  bool
	}{
		{"wireguard", "wg0", nil, true},
		{"warp", "CloudflareWARP", nil, true},
		{"cgnat", "eth0", []net.Addr{ipNet("100.72.1.2/10")}, true},
		{"lan", "eth0", []net.Addr{ipNet("192.168.1.5/24")}, false},
		{"outside cgnat", "en0", []net.Addr{ipNet("100.128.0.1/16")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := forceRelayFor(tt.iface, tt.addrs); got != tt.want {
				t.Fatalf("forceRelayFor(%s) = %v", tt.iface, got)
			}
		})
	}
}

func TestPresenceCodec(t *testing.T) {
	b, err := encodePresence(Presence{Muted: true, Speaking: true})
	if err != nil {
		t.Fatal(err)
	}
	p, err := decodePresence(b)
	if err != nil || !p.Muted || !p.Speaking {
		t.Fatalf("p=%+v err=%v", p, err)
	}

	other, _ := NewMessage("chat", "hi")
	if _, err := decodePresence(mustMarshal(t, other)); err == nil {
		t.Fatal("foreign message decoded as presence")
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
