package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Server holds the signaling server configuration. It is read from the
// environment only.
type Server struct {
	Addr           string
	AdminSecret    string
	AllowedOrigins []string
	RoomTTL        time.Duration
	MessageRate    float64
	MessageBurst   int
	SendBuffer     int
}

func LoadServer() (*Server, error) {
	cfg := &Server{
		Addr:           pick(os.Getenv("RANDO_ADDR"), ":8080"),
		AdminSecret:    os.Getenv("RANDO_ADMIN_SECRET"),
		AllowedOrigins: envCSV("RANDO_ALLOWED_ORIGINS"),
	}

	var err error
	if cfg.RoomTTL, err = envDuration("RANDO_ROOM_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.MessageRate, err = envFloat("RANDO_MSG_RATE", 50); err != nil {
		return nil, err
	}
	if cfg.MessageBurst, err = envInt("RANDO_MSG_BURST", 100); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = envInt("RANDO_SEND_BUFFER", 256); err != nil {
		return nil, err
	}
	if cfg.SendBuffer < 1 {
		return nil, fmt.Errorf("RANDO_SEND_BUFFER must be positive, got %d", cfg.SendBuffer)
	}
	return cfg, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envCSV(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
