package settings

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"mull/api/internal/quiet"
)

type countingSource struct {
	settings quiet.Settings
	err      error
	calls    int
}

func (c *countingSource) Get(ctx context.Context, userID string) (quiet.Settings, error) {
	c.calls++
	if c.err != nil {
		return quiet.Settings{}, c.err
	}
	return c.settings, nil
}

func setupCache(t *testing.T, inner Source, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://"+s.Addr(), inner, ttl)
	if err != nil {
		t.Fatalf("NewRedisCache failed: %v", err)
	}
	return cache, s
}

func romeSettings() quiet.Settings {
	return quiet.Settings{
		Enabled:  true,
		Start:    quiet.Clock{Hour: 22},
		End:      quiet.Clock{Hour: 8},
		Timezone: "Europe/Rome",
	}
}

func TestCacheHitsAfterFirstGet(t *testing.T) {
	inner := &countingSource{settings: romeSettings()}
	cache, s := setupCache(t, inner, 5*time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		settings, err := cache.Get(ctx, "u1")
		if err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
		if settings != romeSettings() {
			t.Errorf("Get %d = %+v, want %+v", i, settings, romeSettings())
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner source called %d times, want 1", inner.calls)
	}
}

func TestCacheExpiresWithTTL(t *testing.T) {
	inner := &countingSource{settings: romeSettings()}
	cache, s := setupCache(t, inner, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if _, err := cache.Get(ctx, "u1"); err != nil {
		t.Fatalf("first Get failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, err := cache.Get(ctx, "u1"); err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner source called %d times after TTL expiry, want 2", inner.calls)
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	inner := &countingSource{settings: romeSettings()}
	cache, s := setupCache(t, inner, 5*time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if _, err := cache.Get(ctx, "u1"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := cache.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	updated := romeSettings()
	updated.Enabled = false
	inner.settings = updated

	settings, err := cache.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get after invalidate failed: %v", err)
	}
	if settings.Enabled {
		t.Error("stale settings returned after Invalidate")
	}
	if inner.calls != 2 {
		t.Errorf("inner source called %d times, want 2", inner.calls)
	}
}

func TestCacheIsolatesUsers(t *testing.T) {
	inner := &countingSource{settings: romeSettings()}
	cache, s := setupCache(t, inner, 5*time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if _, err := cache.Get(ctx, "u1"); err != nil {
		t.Fatalf("Get u1 failed: %v", err)
	}
	if _, err := cache.Get(ctx, "u2"); err != nil {
		t.Fatalf("Get u2 failed: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner source called %d times for two users, want 2", inner.calls)
	}

	if err := cache.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("Invalidate u1 failed: %v", err)
	}
	if _, err := cache.Get(ctx, "u2"); err != nil {
		t.Fatalf("Get u2 after invalidating u1 failed: %v", err)
	}
	if inner.calls != 2 {
		t.Error("invalidating u1 evicted u2's cached settings")
	}
}

func TestCacheRedisDownFallsThrough(t *testing.T) {
	inner := &countingSource{settings: romeSettings()}
	cache, s := setupCache(t, inner, 5*time.Minute)
	defer cache.Close()

	s.Close() // simulate redis outage after startup

	settings, err := cache.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get with redis down failed: %v", err)
	}
	if settings != romeSettings() {
		t.Errorf("settings = %+v, want inner source result", settings)
	}
}
