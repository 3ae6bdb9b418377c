package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mull/api/internal/quiet"
)

// cachedSettings is the JSON shape stored per user.
type cachedSettings struct {
	Enabled     bool   `json:"enabled"`
	StartHour   int    `json:"start_hour"`
	StartMinute int    `json:"start_minute"`
	EndHour     int    `json:"end_hour"`
	EndMinute   int    `json:"end_minute"`
	Timezone    string `json:"timezone"`
}

// RedisCache decorates a Source with a per-user Redis cache. Settings change
// rarely and are read on every pending-reviews request (and on every job
// tick when quiet-hours-aware delivery is enabled), so a short TTL removes
// most of the load from Postgres.
type RedisCache struct {
	inner  Source
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(redisURL string, inner Source, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, inner, ttl), nil
}

// NewRedisCacheWithClient builds a cache from an existing Redis client.
func NewRedisCacheWithClient(client *redis.Client, inner Source, ttl time.Duration) *RedisCache {
	return &RedisCache{
		inner:  inner,
		client: client,
		prefix: "reminder_settings:",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(userID string) string {
	return c.prefix + userID
}

// Get returns cached settings when present, otherwise falls through to the
// inner source and caches the result. Cache errors degrade to the inner
// source rather than failing the request.
func (c *RedisCache) Get(ctx context.Context, userID string) (quiet.Settings, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Result()
	if err == nil {
		var cached cachedSettings
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			return quiet.Settings{
				Enabled:  cached.Enabled,
				Start:    quiet.Clock{Hour: cached.StartHour, Minute: cached.StartMinute},
				End:      quiet.Clock{Hour: cached.EndHour, Minute: cached.EndMinute},
				Timezone: cached.Timezone,
			}, nil
		}
	}

	settings, err := c.inner.Get(ctx, userID)
	if err != nil {
		return quiet.Settings{}, err
	}

	payload, err := json.Marshal(cachedSettings{
		Enabled:     settings.Enabled,
		StartHour:   settings.Start.Hour,
		StartMinute: settings.Start.Minute,
		EndHour:     settings.End.Hour,
		EndMinute:   settings.End.Minute,
		Timezone:    settings.Timezone,
	})
	if err == nil {
		_ = c.client.Set(ctx, c.key(userID), payload, c.ttl).Err()
	}

	return settings, nil
}

// Invalidate drops a user's cached settings. Called after an update.
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("invalidate settings cache: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
