package gencache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"storyforge/internal/gencache"
	"storyforge/internal/logging"
	"storyforge/internal/testsupport"
)

func newCache(t *testing.T) *gencache.Cache {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cache, err := gencache.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("gencache.Open: %v", err)
	}
	t.Cleanup(func() {
		cache.Close()
	})
	return cache
}

func TestFingerprintIgnoresWhitespaceAndParamOrder(t *testing.T) {
	base := gencache.Fingerprint(gencache.Request{
		Prompt:  "Write a script about deep sea mining.",
		ModelID: "claude-sonnet",
		Params:  map[string]string{"max_tokens": "4000", "temperature": "0.7"},
	})
	reformatted := gencache.Fingerprint(gencache.Request{
		Prompt:  "  Write a script\n\nabout   deep sea mining.  ",
		ModelID: "claude-sonnet",
		Params:  map[string]string{"temperature": "0.7", "max_tokens": "4000"},
	})
	if base != reformatted {
		t.Fatal("expected whitespace and param order to be irrelevant")
	}

	differentModel := gencache.Fingerprint(gencache.Request{
		Prompt:  "Write a script about deep sea mining.",
		ModelID: "gpt-4o",
		Params:  map[string]string{"max_tokens": "4000", "temperature": "0.7"},
	})
	if base == differentModel {
		t.Fatal("expected model to change the fingerprint")
	}

	differentParams := gencache.Fingerprint(gencache.Request{
		Prompt:  "Write a script about deep sea mining.",
		ModelID: "claude-sonnet",
		Params:  map[string]string{"max_tokens": "4000", "temperature": "0.9"},
	})
	if base == differentParams {
		t.Fatal("expected parameter values to change the fingerprint")
	}
}

func TestGetMissThenHit(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	fingerprint := gencache.Fingerprint(gencache.Request{Prompt: "hello", ModelID: "m"})
	if _, found, err := cache.Get(ctx, fingerprint); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}

	if err := cache.Put(ctx, gencache.Entry{
		Fingerprint: fingerprint,
		Payload:     `{"title":"Hello"}`,
		Provider:    "claude",
		ModelID:     "m",
		TokensIn:    100,
		TokensOut:   40,
		Cost:        0.002,
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	entry, found, err := cache.Get(ctx, fingerprint)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || entry.Payload != `{"title":"Hello"}` {
		t.Fatalf("unexpected entry: %#v", entry)
	}
	if entry.Provider != "claude" || entry.Cost != 0.002 {
		t.Fatalf("unexpected entry metadata: %#v", entry)
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("unexpected hit counters: %#v", stats)
	}
	if stats.HitRate != 0.5 {
		t.Fatalf("unexpected hit rate: %f", stats.HitRate)
	}
}

func TestTTLExpiryOnRead(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	fingerprint := gencache.Fingerprint(gencache.Request{Prompt: "stale", ModelID: "m"})
	if err := cache.Put(ctx, gencache.Entry{Fingerprint: fingerprint, Payload: "old", Provider: "openai"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Advance the clock past the TTL.
	cache.SetNow(func() time.Time {
		return time.Now().Add(8 * 24 * time.Hour)
	})

	if _, found, err := cache.Get(ctx, fingerprint); err != nil || found {
		t.Fatalf("expected expired miss, got found=%v err=%v", found, err)
	}

	// The expired row is gone even after the clock recovers.
	cache.SetNow(time.Now)
	if _, found, err := cache.Get(ctx, fingerprint); err != nil || found {
		t.Fatalf("expected entry deleted on expiry, got found=%v err=%v", found, err)
	}
}

func TestExpiredReadKeepsConcurrentRefresh(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	fingerprint := gencache.Fingerprint(gencache.Request{Prompt: "refresh", ModelID: "m"})
	if err := cache.Put(ctx, gencache.Entry{
		Fingerprint: fingerprint,
		Payload:     "stale",
		Provider:    "openai",
		CreatedAt:   time.Now().Add(-30 * 24 * time.Hour),
	}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// The clock hook fires after the expired row has been read but before
	// it is deleted, so a Put placed there lands in that window.
	refreshed := false
	cache.SetNow(func() time.Time {
		if !refreshed {
			refreshed = true
			if err := cache.Put(ctx, gencache.Entry{
				Fingerprint: fingerprint,
				Payload:     "fresh",
				Provider:    "openai",
				CreatedAt:   time.Now(),
			}); err != nil {
				t.Fatalf("refresh Put failed: %v", err)
			}
		}
		return time.Now()
	})

	if _, found, err := cache.Get(ctx, fingerprint); err != nil || found {
		t.Fatalf("expected expired miss, got found=%v err=%v", found, err)
	}

	entry, found, err := cache.Get(ctx, fingerprint)
	if err != nil || !found {
		t.Fatalf("expected refreshed entry to survive expiry, found=%v err=%v", found, err)
	}
	if entry.Payload != "fresh" {
		t.Fatalf("unexpected payload: %q", entry.Payload)
	}
}

func TestEvictExpiredSweepsOldEntries(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	old := gencache.Entry{
		Fingerprint: "old-entry",
		Payload:     "ancient",
		Provider:    "claude",
		CreatedAt:   time.Now().Add(-30 * 24 * time.Hour),
	}
	fresh := gencache.Entry{
		Fingerprint: "fresh-entry",
		Payload:     "recent",
		Provider:    "claude",
	}
	for _, entry := range []gencache.Entry{old, fresh} {
		if err := cache.Put(ctx, entry); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	evicted, err := cache.EvictExpired(ctx)
	if err != nil {
		t.Fatalf("EvictExpired failed: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, found, _ := cache.Get(ctx, "fresh-entry"); !found {
		t.Fatal("expected fresh entry to survive sweep")
	}
}

func TestSizeEvictionRemovesOldestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Cache.MaxMegabytes = 1
	cache, err := gencache.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("gencache.Open: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	ctx := context.Background()

	// Each payload is 400 KiB; the third insert pushes past the 1 MiB cap.
	payload := make([]byte, 400*1024)
	for i := range payload {
		payload[i] = 'x'
	}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		entry := gencache.Entry{
			Fingerprint: fmt.Sprintf("entry-%d", i),
			Payload:     string(payload),
			Provider:    "claude",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if err := cache.Put(ctx, entry); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if _, found, _ := cache.Get(ctx, "entry-0"); found {
		t.Fatal("expected oldest entry to be evicted")
	}
	for _, fp := range []string{"entry-1", "entry-2"} {
		if _, found, _ := cache.Get(ctx, fp); !found {
			t.Fatalf("expected %s to survive eviction", fp)
		}
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Entries != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", stats.Entries)
	}
	if stats.TotalBytes > stats.MaxBytes {
		t.Fatalf("cache still over cap: %d > %d", stats.TotalBytes, stats.MaxBytes)
	}
	if stats.Oldest == nil || stats.Newest == nil || stats.Oldest.After(*stats.Newest) {
		t.Fatalf("unexpected age range: %#v", stats)
	}
}

func TestPutOverwritesSameFingerprint(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	fingerprint := "overwrite-me"
	for _, payload := range []string{"first", "second"} {
		if err := cache.Put(ctx, gencache.Entry{Fingerprint: fingerprint, Payload: payload, Provider: "openai"}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	entry, found, err := cache.Get(ctx, fingerprint)
	if err != nil || !found {
		t.Fatalf("Get failed: found=%v err=%v", found, err)
	}
	if entry.Payload != "second" {
		t.Fatalf("expected overwritten payload, got %q", entry.Payload)
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Entries != 1 {
		t.Fatalf("expected single entry, got %d", stats.Entries)
	}
}

func TestClearEmptiesCache(t *testing.T) {
	cache := newCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := cache.Put(ctx, gencache.Entry{Fingerprint: fmt.Sprintf("fp-%d", i), Payload: "p", Provider: "claude"}); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	removed, err := cache.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Entries != 0 || stats.TotalBytes != 0 {
		t.Fatalf("expected empty cache, got %#v", stats)
	}
}
