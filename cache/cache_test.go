package cache

import (
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)

	key := GenerateKey("gpt-4o-mini", "en", "hu", "hello world")
	entry := &Entry{Text: "helló világ", Engine: "fallback", CreatedAt: time.Now()}

	if err := c.Set(key, entry, DefaultTTL); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := c.Get(key)
	if !ok {
		t.Fatal("entry not found after Set")
	}
	if got.Text != entry.Text || got.Engine != entry.Engine {
		t.Errorf("got %+v, want %+v", got, entry)
	}
}

func TestCacheMiss(t *testing.T) {
	c := newTestCache(t)

	if _, ok := c.Get(GenerateKey("missing")); ok {
		t.Fatal("unexpected hit for missing key")
	}
}

func TestGenerateKeyDistinguishesParts(t *testing.T) {
	// The separator must keep ("ab", "c") and ("a", "bc") apart.
	if GenerateKey("ab", "c") == GenerateKey("a", "bc") {
		t.Error("keys collide across part boundaries")
	}
	if GenerateKey("en", "hu", "text") == GenerateKey("hu", "en", "text") {
		t.Error("keys collide for swapped language pairs")
	}
}
