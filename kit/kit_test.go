package kit_test

import (
	"context"
	"testing"

	"github.com/solenne/signet/kit"
)

func TestUserIDRoundTrip(t *testing.T) {
	ctx := kit.WithUserID(context.Background(), "u1")
	if got := kit.GetUserID(ctx); got != "u1" {
		t.Fatalf("got %q, want u1", got)
	}
	if got := kit.GetUserID(context.Background()); got != "" {
		t.Fatalf("empty context returned %q", got)
	}
}

func TestTransportDefaultsToHTTP(t *testing.T) {
	if got := kit.GetTransport(context.Background()); got != "http" {
		t.Fatalf("got %q, want http", got)
	}
	ctx := kit.WithTransport(context.Background(), "mcp")
	if got := kit.GetTransport(ctx); got != "mcp" {
		t.Fatalf("got %q, want mcp", got)
	}
}
