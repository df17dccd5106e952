package config

import (
	"testing"
	"time"
)

func TestLoadPriority(t *testing.T) {
	t.Setenv("DOMAIN", "env.example")
	t.Setenv("RANDO_POOL_SIZE", "3")

	cfg, err := Load(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Domain != "env.example" || cfg.PoolSize != 3 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.WebSocketURL != "wss://env.example/ws" || cfg.APIURL != "https://env.example/api" {
		t.Fatalf("urls = %s %s", cfg.WebSocketURL, cfg.APIURL)
	}
	if cfg.MaxGain != DefaultMaxGain {
		t.Fatalf("max gain = %v", cfg.MaxGain)
	}

	cfg, err = Load(Options{Domain: "flag.example:9000", Insecure: true, PoolSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Domain != "flag.example:9000" || cfg.PoolSize != 2 {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.WebSocketURL != "ws://flag.example:9000/ws" {
		t.Fatalf("ws url = %s", cfg.WebSocketURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("RANDO_POOL_SIZE", "many")
	if _, err := Load(Options{}); err == nil {
		t.Fatal("expected error for non-numeric pool size")
	}
	if _, err := Load(Options{PoolSize: -1}); err == nil {
		t.Fatal("expected error for negative pool size")
	}
}

func TestTURNServers(t *testing.T) {
	cfg := &Config{}
	if cfg.GetTURNServers() != nil {
		t.Fatal("no TURN server configured, want nil")
	}
	cfg.TURNServer = "turn:relay.example"
	if got := cfg.GetTURNServers(); len(got) != 2 || got[0] != "turn:relay.example:3478?transport=udp" {
		t.Fatalf("turn servers = %v", got)
	}
}

func TestLoadServer(t *testing.T) {
	t.Setenv("RANDO_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RANDO_ROOM_TTL", "90s")

	cfg, err := LoadServer()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":8080" || cfg.RoomTTL != 90*time.Second {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}

	t.Setenv("RANDO_ROOM_TTL", "soon")
	if _, err := LoadServer(); err == nil {
		t.Fatal("expected error for bad duration")
	}
}
