package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/harborgrid/sessiond/internal/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sessiond:session:"

// RedisSessionCache backs the session cache with Redis. All errors are
// returned to the caller, which treats them as misses; nothing here is load
// bearing for correctness.
type RedisSessionCache struct {
	client *redis.Client
	ttlCap time.Duration
	logger *slog.Logger
}

// NewRedisSessionCache creates a Redis-backed session cache and verifies
// connectivity.
func NewRedisSessionCache(client *redis.Client, ttlCap time.Duration, logger *slog.Logger) (*RedisSessionCache, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("session cache connected", slog.Duration("ttl_cap", ttlCap))

	return &RedisSessionCache{
		client: client,
		ttlCap: ttlCap,
		logger: logger,
	}, nil
}

// Put stores a session snapshot keyed by its token hash.
func (c *RedisSessionCache) Put(ctx context.Context, session *models.Session) error {
	ttl := entryTTL(session, time.Now(), c.ttlCap)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to serialize session snapshot: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+session.TokenHash, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache session: %w", err)
	}
	return nil
}

// Get returns the cached snapshot or ErrMiss.
func (c *RedisSessionCache) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	data, err := c.client.Get(ctx, keyPrefix+tokenHash).Bytes()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session cache: %w", err)
	}

	var session models.Session
	if err := json.Unmarshal(data, &session); err != nil {
		// Corrupt entry: drop it and report a miss.
		_ = c.client.Del(ctx, keyPrefix+tokenHash).Err()
		return nil, ErrMiss
	}
	return &session, nil
}

// Delete removes the cached entry.
func (c *RedisSessionCache) Delete(ctx context.Context, tokenHash string) error {
	if err := c.client.Del(ctx, keyPrefix+tokenHash).Err(); err != nil {
		return fmt.Errorf("failed to delete cached session: %w", err)
	}
	return nil
}
