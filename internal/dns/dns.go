package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// DefaultPublicServers are raced when the system resolver fails.
var DefaultPublicServers = []string{
	"1.1.1.1",         // Cloudflare
	"1.0.0.1",         // Cloudflare
	"8.8.8.8",         // Google
	"8.8.4.4",         // Google
	"9.9.9.9",         // Quad9
	"149.112.112.112", // Quad9
	"208.67.222.222",  // Cisco OpenDNS
}

var errNoAddress = errors.New("no addresses found")

// Resolver resolves hostnames with the system resolver first and falls back
// to racing public DNS servers, so a broken local resolver does not prevent
// reaching the signaling server.
type Resolver struct {
	Servers       []string
	LocalTimeout  time.Duration
	RemoteTimeout time.Duration

	// lookup is swapped in tests.
	lookup func(ctx context.Context, server, host string) ([]string, error)
}

func NewResolver() *Resolver {
	return &Resolver{
		Servers:       DefaultPublicServers,
		LocalTimeout:  time.Second,
		RemoteTimeout: 2 * time.Second,
		lookup:        lookupHost,
	}
}

// Lookup returns one address for host, preferring IPv4. IP literals are
// returned unchanged.
func (r *Resolver) Lookup(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}

	local, cancel := context.WithTimeout(ctx, r.LocalTimeout)
	ip, err := r.resolve(local, "", host)
	cancel()
	if err == nil {
		return ip, nil
	}
	return r.race(ctx, host)
}

// DialContext resolves addr with Lookup and dials the result.
func (r *Resolver) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := r.Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func (r *Resolver) race(ctx context.Context, host string) (string, error) {
	if len(r.Servers) == 0 {
		return "", fmt.Errorf("resolve %s: %w", host, errNoAddress)
	}
	ctx, cancel := context.WithTimeout(ctx, r.RemoteTimeout)
	defer cancel()

	type result struct {
		ip  string
		err error
	}
	results := make(chan result, len(r.Servers))
	for _, server := range r.Servers {
		go func(server string) {
			ip, err := r.resolve(ctx, server, host)
			results <- result{ip, err}
		}(server)
	}

	var lastErr error
	for range r.Servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			lastErr = res.err
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: public DNS race: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public DNS servers failed: %w", host, len(r.Servers), lastErr)
}

func (r *Resolver) resolve(ctx context.Context, server, host string) (string, error) {
	ips, err := r.lookup(ctx, server, host)
	if err != nil {
		return "", err
	}
	return preferIPv4(ips)
}

func preferIPv4(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errNoAddress
	}
	for _, ip := range ips {
		if net.ParseIP(ip).To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

// lookupHost queries server directly, or the system resolver when server
// is empty.
func lookupHost(ctx context.Context, server, host string) ([]string, error) {
	res := &net.Resolver{}
	if server != "" {
		res = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, net.JoinHostPort(server, "53"))
			},
		}
	}
	return res.LookupHost(ctx, host)
}
