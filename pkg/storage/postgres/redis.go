package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/agora-net/agora/pkg/storage"
)

// ClosureCache is the redis-backed shared cache for network closures,
// implementing accounts.ClosureCache. A process-local LRU sits in front of
// it; this layer keeps closures warm across instances.
type ClosureCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewClosureCache creates a redis client for the closure cache
func NewClosureCache(cfg storage.Config) (*ClosureCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	// Override with config values if provided
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	// Set connection timeouts
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.ClosureTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ClosureCache{client: client, ttl: ttl}, nil
}

// NewClosureCacheWithClient wraps an existing client, used by tests.
func NewClosureCacheWithClient(client *redis.Client, ttl time.Duration) *ClosureCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ClosureCache{client: client, ttl: ttl}
}

func closureKey(accountID uuid.UUID) string {
	return fmt.Sprintf("closure:%s", accountID)
}

// GetClosure retrieves a cached network closure. The second return reports
// whether the key was present.
func (c *ClosureCache) GetClosure(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, bool, error) {
	data, err := c.client.Get(ctx, closureKey(accountID)).Result()
	if err == redis.Nil {
		return nil, false, nil // Cache miss
	} else if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}

	var ids []uuid.UUID
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		// If unmarshal fails, delete corrupt data
		c.client.Del(ctx, closureKey(accountID))
		return nil, false, fmt.Errorf("failed to unmarshal closure: %w", err)
	}
	return ids, true, nil
}

// SetClosure stores a network closure with the configured TTL.
func (c *ClosureCache) SetClosure(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) error {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal closure: %w", err)
	}
	return c.client.Set(ctx, closureKey(accountID), data, c.ttl).Err()
}

// InvalidateClosure removes a cached closure after a link change.
func (c *ClosureCache) InvalidateClosure(ctx context.Context, accountID uuid.UUID) error {
	return c.client.Del(ctx, closureKey(accountID)).Err()
}

// Ping checks Redis connectivity
func (c *ClosureCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *ClosureCache) Close() error {
	return c.client.Close()
}
