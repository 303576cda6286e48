package embedding

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCache_BoundedWithLRUEviction(t *testing.T) {
	ctx := context.Background()
	c := NewCache(3, nil, nil)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	c.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	c.Put(ctx, "a", Vector{1})
	c.Put(ctx, "b", Vector{2})
	c.Put(ctx, "c", Vector{3})
	if c.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", c.Len())
	}

	// Touch "a" so "b" becomes the least recently accessed.
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Fatal("expected hit for a")
	}

	c.Put(ctx, "d", Vector{4})
	if c.Len() != 3 {
		t.Fatalf("capacity exceeded: %d entries", c.Len())
	}
	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("expected b (oldest accessed_at) to be evicted")
	}
	for _, h := range []string{"a", "c", "d"} {
		if _, ok := c.Get(ctx, h); !ok {
			t.Errorf("expected %s to survive eviction", h)
		}
	}
}

func TestCache_PutExistingRefreshes(t *testing.T) {
	ctx := context.Background()
	c := NewCache(2, nil, nil)

	c.Put(ctx, "a", Vector{1})
	c.Put(ctx, "b", Vector{2})
	c.Put(ctx, "a", Vector{9}) // refresh, a becomes most recent
	c.Put(ctx, "c", Vector{3}) // evicts b

	if vec, ok := c.Get(ctx, "a"); !ok || vec[0] != 9 {
		t.Errorf("expected refreshed vector for a, got %v (hit=%v)", vec, ok)
	}
	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("expected b to be evicted")
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", c.Len())
	}
}

func TestContentHash_Stable(t *testing.T) {
	if ContentHash("hello") != ContentHash("hello") {
		t.Error("hash must be deterministic")
	}
	if ContentHash("hello") == ContentHash("world") {
		t.Error("distinct content must hash differently")
	}
}

// fakeEmbedder counts provider calls and can be forced to fail.
type fakeEmbedder struct {
	calls int
	fail  bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("provider unavailable")
	}
	return Vector{float32(len(text))}, nil
}

func (f *fakeEmbedder) Dims() int { return 1 }

func TestCachedEmbedder_HitSkipsProvider(t *testing.T) {
	ctx := context.Background()
	provider := &fakeEmbedder{}
	e := NewCachedEmbedder(provider, NewCache(8, nil, nil))

	v1, err := e.Embed(ctx, "some text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	v2, err := e.Embed(ctx, "some text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("expected 1 provider call, got %d", provider.calls)
	}
	if v1[0] != v2[0] {
		t.Error("cached vector differs from provider vector")
	}
}

func TestCachedEmbedder_ProviderFailurePropagates(t *testing.T) {
	ctx := context.Background()
	e := NewCachedEmbedder(&fakeEmbedder{fail: true}, NewCache(8, nil, nil))

	if _, err := e.Embed(ctx, "text"); err == nil {
		t.Error("expected provider error to propagate")
	}
}

// recordingBackend tracks persistence calls.
type recordingBackend struct {
	puts    []string
	deletes []string
	touches []string
	loaded  []CacheEntry
}

func (b *recordingBackend) LoadCacheEntries(ctx context.Context) ([]CacheEntry, error) {
	return b.loaded, nil
}

func (b *recordingBackend) PutCacheEntry(ctx context.Context, e CacheEntry) error {
	b.puts = append(b.puts, e.Hash)
	return nil
}

func (b *recordingBackend) TouchCacheEntry(ctx context.Context, hash string, at time.Time) error {
	b.touches = append(b.touches, hash)
	return nil
}

func (b *recordingBackend) DeleteCacheEntry(ctx context.Context, hash string) error {
	b.deletes = append(b.deletes, hash)
	return nil
}

func TestCache_WriteThroughBackend(t *testing.T) {
	ctx := context.Background()
	backend := &recordingBackend{}
	c := NewCache(1, backend, nil)

	c.Put(ctx, "a", Vector{1})
	c.Put(ctx, "b", Vector{2}) // evicts a

	if len(backend.puts) != 2 {
		t.Errorf("expected 2 persisted puts, got %d", len(backend.puts))
	}
	if len(backend.deletes) != 1 || backend.deletes[0] != "a" {
		t.Errorf("expected eviction to delete a, got %v", backend.deletes)
	}
}

func TestCache_LoadRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := &recordingBackend{loaded: []CacheEntry{
		{Hash: "old", Vector: Vector{1}, AccessedAt: base},
		{Hash: "mid", Vector: Vector{2}, AccessedAt: base.Add(time.Minute)},
		{Hash: "new", Vector: Vector{3}, AccessedAt: base.Add(time.Hour)},
	}}
	c := NewCache(2, backend, nil)

	if err := c.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries after load, got %d", c.Len())
	}
	if _, ok := c.Get(ctx, "old"); ok {
		t.Error("expected oldest entry to be dropped on load")
	}
	if len(backend.deletes) != 1 || backend.deletes[0] != "old" {
		t.Errorf("expected overflow entry deleted from backend, got %v", backend.deletes)
	}
}
