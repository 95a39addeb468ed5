package cache

import (
	"context"
	"testing"

	"github.com/R3E-Network/testorch/internal/logging"
)

func TestDisabledCacheIsAlwaysMiss(t *testing.T) {
	c := NewFromURL("", logging.New("test", "error", "text"))
	if c.Enabled() {
		t.Fatalf("expected empty REDIS_URL to produce a disabled cache")
	}

	var dest string
	if c.Get(context.Background(), "key", &dest) {
		t.Fatalf("expected miss on disabled cache")
	}

	c.Set(context.Background(), "key", "value", DefaultTTL)
	if c.Get(context.Background(), "key", &dest) {
		t.Fatalf("expected set on disabled cache to remain a no-op")
	}
}

func TestInvalidURLProducesDisabledCache(t *testing.T) {
	c := NewFromURL("not a valid url", logging.New("test", "error", "text"))
	if c.Enabled() {
		t.Fatalf("expected invalid REDIS_URL to produce a disabled cache")
	}
}
