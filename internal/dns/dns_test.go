package dns

import (
	"context"
	"errors"
	"testing"
)

func TestLookupFallsBackToPublicServers(t *testing.T) {
	r := NewResolver()
	r.Servers = []string{"bad", "good"}
	r.lookup = func(_ context.Context, server, host string) ([]string, error) {
		switch server {
		case "":
			return nil, errors.New("system resolver down")
		case "good":
			return []string{"2001:db8::1", "192.0.2.7"}, nil
		}
		return nil, errors.New("refused")
	}

	ip, err := r.Lookup(context.Background(), "signal.example")
	if err != nil {
		t.Fatal(err)
	}
	if ip != "192.0.2.7" {
		t.Fatalf("ip = %s, want the IPv4 address", ip)
	}
}

func TestLookupPrefersSystemResolver(t *testing.T) {
	r := NewResolver()
	r.lookup = func(_ context.Context, server, _ string) ([]string, error) {
		if server != "" {
			t.Errorf("public server %s queried", server)
		}
		return []string{"2001:db8::2"}, nil
	}
	ip, err := r.Lookup(context.Background(), "signal.example")
	if err != nil || ip != "2001:db8::2" {
		t.Fatalf("ip=%s err=%v", ip, err)
	}
}

func TestLookupAllFail(t *testing.T) {
	r := NewResolver()
	r.Servers = []string{"a", "b"}
	r.lookup = func(context.Context, string, string) ([]string, error) {
		return nil, errors.New("nope")
	}
	if _, err := r.Lookup(context.Background(), "signal.example"); err == nil {
		t.Fatal("expected an error")
	}
	if ip, err := r.Lookup(context.Background(), "127.0.0.1"); err != nil || ip != "127.0.0.1" {
		t.Fatalf("literal: ip=%s err=%v", ip, err)
	}
}
