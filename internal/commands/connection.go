package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vandervillain/rando/internal/config"
	"github.com/vandervillain/rando/internal/dns"
	"github.com/vandervillain/rando/internal/peer"
	"github.com/vandervillain/rando/internal/protocol"
	"github.com/vandervillain/rando/internal/signalclient"
)

var configOpts config.Options

// addConfigFlags registers the connection flags shared by every
// command that talks to the server.
func addConfigFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&configOpts.Domain, "domain", "d", "", "Signaling server host[:port]")
	f.BoolVar(&configOpts.Insecure, "insecure", false, "Use ws:// and http:// instead of TLS")
	f.StringVarP(&configOpts.STUNServer, "stun", "s", "", "Custom STUN server")
	f.StringVar(&configOpts.TURNServer, "turn", "", "Custom TURN server")
	f.StringVar(&configOpts.TURNUser, "turn-user", "", "TURN username")
	f.StringVar(&configOpts.TURNPass, "turn-pass", "", "TURN password")
	f.BoolVarP(&configOpts.ForceRelay, "relay", "r", false, "Force relay mode")
	f.IntVar(&configOpts.PoolSize, "pool-size", 0, "Maximum simultaneous audio streams")
	f.Float64Var(&configOpts.MaxGain, "max-gain", 0, "Linear gain at 100% volume")
}

// ConnectionContext is a live signaling connection.
type ConnectionContext struct {
	Client  *signalclient.Client
	Handler *signalclient.Handler
	Config  *config.Config
	User    protocol.User
}

func NewConnectionContext(ctx context.Context, cfg *config.Config, user protocol.User) (*ConnectionContext, error) {
	client := signalclient.NewClient(signalclient.Options{
		URL:      cfg.WebSocketURL,
		User:     user,
		Resolver: dns.NewResolver(),
	})
	if err := client.Connect(ctx); err != nil {
		return nil, peer.NewError("connect to server", err)
	}

	handler := signalclient.NewHandler(client)
	go handler.Start()

	return &ConnectionContext{
		Client:  client,
		Handler: handler,
		Config:  cfg,
		User:    user,
	}, nil
}

func (c *ConnectionContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}

func LoadConfig(opts config.Options) (*config.Config, error) {
	cfg, err := config.Load(opts)
	if err != nil {
		return nil, peer.NewError("load config", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}

	return cfg, nil
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// login asks the server for a fresh identity.
func login(ctx context.Context, cfg *config.Config, name string) (protocol.User, error) {
	body, err := json.Marshal(protocol.LoginRequest{Name: name})
	if err != nil {
		return protocol.User{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIURL+"/login", bytes.NewReader(body))
	if err != nil {
		return protocol.User{}, peer.NewError("login", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var user protocol.User
	if err := doJSON(req, &user); err != nil {
		return protocol.User{}, peer.NewError("login", err)
	}
	log.Debug().Str("user_id", user.ID).Msg("logged in")
	return user, nil
}

// identity returns the user given by --id, logging in when there is none.
func identity(ctx context.Context, cfg *config.Config, id, name string) (protocol.User, error) {
	if name == "" {
		return protocol.User{}, fmt.Errorf("a display name is required (--name)")
	}
	if id != "" {
		return protocol.User{ID: id, Name: name}, nil
	}
	return login(ctx, cfg, name)
}

func doJSON(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Message)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
