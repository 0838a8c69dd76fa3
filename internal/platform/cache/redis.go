package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "nihonselect:pages"
	defaultTTL    = 5 * time.Minute
)

// Option customises a PageCache.
type Option func(*PageCache)

// WithPrefix namespaces every key written by the cache.
func WithPrefix(prefix string) Option {
	return func(c *PageCache) {
		if trimmed := strings.Trim(strings.TrimSpace(prefix), ":"); trimmed != "" {
			c.prefix = trimmed
		}
	}
}

// WithTTL sets the base lifetime of cached pages. Up to a fifth of it is added as jitter.
func WithTTL(ttl time.Duration) Option {
	return func(c *PageCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// PageCache stores rendered listing pages in Redis. Entries live under a generation number;
// Invalidate bumps the generation so every older entry becomes unreachable and expires on its own.
type PageCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPageCache wraps a connected client.
func NewPageCache(client *redis.Client, opts ...Option) (*PageCache, error) {
	if client == nil {
		return nil, errors.New("cache: redis client is required")
	}
	c := &PageCache{client: client, prefix: defaultPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Get returns the cached bytes for key. A miss is reported with ok=false and a nil error.
func (c *PageCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, false, err
	}
	data, err := c.client.Get(ctx, c.entryKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return data, true, nil
}

// Set stores value under key in the current generation.
func (c *PageCache) Set(ctx context.Context, key string, value []byte) error {
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.entryKey(gen, key), value, c.ttlWithJitter()).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Invalidate drops every cached page by advancing the generation.
func (c *PageCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		return fmt.Errorf("cache: invalidate: %w", err)
	}
	return nil
}

// Ping reports whether Redis answers.
func (c *PageCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *PageCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("cache: read generation: %w", err)
	}
	return gen, nil
}

func (c *PageCache) generationKey() string {
	return c.prefix + ":gen"
}

func (c *PageCache) entryKey(gen int64, key string) string {
	return c.prefix + ":" + strconv.FormatInt(gen, 10) + ":" + key
}

func (c *PageCache) ttlWithJitter() time.Duration {
	spread := int64(c.ttl / 5)
	if spread <= 0 {
		return c.ttl
	}
	return c.ttl + time.Duration(rand.Int64N(spread))
}
