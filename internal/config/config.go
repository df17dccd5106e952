package config

import (
	"fmt"
	"os"
	"strconv"
)

// Default configuration values
const (
	DefaultDomain    = "localhost:8080"
	DefaultSTUN      = "stun:stun.l.google.com:19302"
	DefaultPoolSize  = 5
	DefaultMaxGain   = 8.0
	DefaultGain      = 0.2
	DefaultThreshold = 0.3
)

// Config holds the client configuration.
type Config struct {
	// Domain is the signaling server host[:port]
	Domain   string
	Insecure bool

	// WebSocketURL and APIURL are derived from Domain.
	WebSocketURL string
	APIURL       string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// Audio
	PoolSize  int
	MaxGain   float64
	Gain      float64
	Threshold float64
}

// Options carry CLI flag overrides. Zero values fall through to the
// environment and then to defaults.
type Options struct {
	Domain     string
	Insecure   bool
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	PoolSize   int
	MaxGain    float64
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		Domain:     pick(opts.Domain, os.Getenv("DOMAIN"), DefaultDomain),
		Insecure:   opts.Insecure || envBool("RANDO_INSECURE"),
		STUNServer: pick(opts.STUNServer, os.Getenv("STUN_SERVER"), DefaultSTUN),
		TURNServer: pick(opts.TURNServer, os.Getenv("TURN_SERVER"), ""),
		TURNUser:   pick(opts.TURNUser, os.Getenv("TURN_USERNAME"), ""),
		TURNPass:   pick(opts.TURNPass, os.Getenv("TURN_PASSWORD"), ""),
		ForceRelay: opts.ForceRelay || envBool("FORCE_RELAY"),
		PoolSize:   opts.PoolSize,
		MaxGain:    opts.MaxGain,
		Gain:       DefaultGain,
		Threshold:  DefaultThreshold,
	}

	var err error
	if cfg.PoolSize == 0 {
		if cfg.PoolSize, err = envInt("RANDO_POOL_SIZE", DefaultPoolSize); err != nil {
			return nil, err
		}
	}
	if cfg.MaxGain == 0 {
		if cfg.MaxGain, err = envFloat("RANDO_MAX_GAIN", DefaultMaxGain); err != nil {
			return nil, err
		}
	}
	if cfg.PoolSize < 1 {
		return nil, fmt.Errorf("pool size must be positive, got %d", cfg.PoolSize)
	}
	if cfg.MaxGain <= 0 {
		return nil, fmt.Errorf("max gain must be positive, got %v", cfg.MaxGain)
	}

	wsScheme, httpScheme := "wss", "https"
	if cfg.Insecure {
		wsScheme, httpScheme = "ws", "http"
	}
	cfg.WebSocketURL = fmt.Sprintf("%s://%s/ws", wsScheme, cfg.Domain)
	cfg.APIURL = fmt.Sprintf("%s://%s/api", httpScheme, cfg.Domain)

	return cfg, nil
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
