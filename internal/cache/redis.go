package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"vidgate/internal/core"
)

const (
	// DefaultRedisPrefix namespaces response cache keys in Redis.
	DefaultRedisPrefix = "vidgate:resp:"

	scanBatch = 200
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g. "redis://localhost:6379").
	URL string

	// Prefix namespaces the cache keys (defaults to "vidgate:resp:").
	Prefix string

	// TTL is the time-to-live for cached results (defaults to 24 hours).
	TTL time.Duration
}

// RedisCache implements Cache on Redis for multi-instance deployments.
// Expiry is delegated to Redis TTLs, so there is no eviction pass; hit and
// miss counters are process-local.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache creates a Redis-backed response cache.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	slog.Info("redis response cache connected", "prefix", prefix, "ttl", ttl)

	return &RedisCache{client: client, prefix: prefix, ttl: ttl}, nil
}

func (c *RedisCache) key(fingerprint string) string {
	return c.prefix + fingerprint
}

// Get looks the request up by fingerprint.
func (c *RedisCache) Get(ctx context.Context, req *core.GenerationRequest) (*core.GenerationResult, error) {
	data, err := c.client.Get(ctx, c.key(Fingerprint(req))).Bytes()
	if err != nil {
		if err == redis.Nil {
			c.misses.Add(1)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse cache entry: %w", err)
	}

	entry.UsageCount++
	entry.LastAccessed = time.Now()
	// Best-effort usage bookkeeping; the existing TTL is preserved.
	if updated, err := json.Marshal(&entry); err == nil {
		c.client.Set(ctx, c.key(entry.PromptHash), updated, redis.KeepTTL)
	}

	c.hits.Add(1)
	return entry.Result(), nil
}

// Set stores a completed result under the request's fingerprint.
func (c *RedisCache) Set(ctx context.Context, req *core.GenerationRequest, result *core.GenerationResult) error {
	if !cacheable(result) {
		return nil
	}

	entry := newEntry(req, result, c.ttl, time.Now())
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(entry.PromptHash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// scan visits every cache entry under the prefix.
func (c *RedisCache) scan(ctx context.Context, visit func(key string, entry *Entry) error) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue // Expired between scan and get
			}
			return err
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue // Skip unreadable entries
		}
		if err := visit(key, &entry); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Clear removes all entries, or only one provider's.
func (c *RedisCache) Clear(ctx context.Context, provider string) error {
	var keys []string
	err := c.scan(ctx, func(key string, entry *Entry) error {
		if provider == "" || entry.Provider == provider {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan cache entries: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entries: %w", err)
	}
	return nil
}

// Stats reports the cache's current contents and this process's lookup
// history.
func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		PerProvider: make(map[string]int),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
	}
	err := c.scan(ctx, func(_ string, entry *Entry) error {
		stats.Entries++
		stats.TotalSizeBytes += entry.FileSizeBytes
		stats.PerProvider[entry.Provider]++
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("failed to scan cache entries: %w", err)
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats, nil
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
