package geo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ReneKroon/ttlcache/v2"
	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 24 * time.Hour

	redisKeyPrefix = "iptrack:geo:"
)

// Cache maps an address to its Location for a bounded time. Implementations
// must be safe for concurrent use. Get reports false for absent or expired
// entries; backend failures are treated as misses.
type Cache interface {
	Get(ctx context.Context, address string) (Location, bool)
	Put(ctx context.Context, address string, loc Location, ttl time.Duration)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	entries *ttlcache.Cache
}

func NewMemoryCache() *MemoryCache {
	entries := ttlcache.NewCache()
	entries.SkipTTLExtensionOnHit(true)
	entries.SetTTL(DefaultTTL)
	return &MemoryCache{entries: entries}
}

func (c *MemoryCache) Get(_ context.Context, address string) (Location, bool) {
	value, err := c.entries.Get(address)
	if err != nil {
		return Location{}, false
	}
	loc, ok := value.(Location)
	return loc, ok
}

func (c *MemoryCache) Put(_ context.Context, address string, loc Location, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := c.entries.SetWithTTL(address, loc, ttl); err != nil {
		log.Debug("geo cache: memory put failed", "ip", address, "error", err)
	}
}

func (c *MemoryCache) Len() int {
	return c.entries.Count()
}

func (c *MemoryCache) Close() error {
	return c.entries.Close()
}

// RedisCache shares entries between instances through Redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, address string) (Location, bool) {
	raw, err := c.client.Get(ctx, redisKey(address)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug("geo cache: redis get failed", "ip", address, "error", err)
		}
		return Location{}, false
	}

	var loc Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		log.Debug("geo cache: discarding malformed entry", "ip", address, "error", err)
		return Location{}, false
	}
	return loc, true
}

func (c *RedisCache) Put(ctx context.Context, address string, loc Location, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	payload, err := json.Marshal(loc)
	if err != nil {
		log.Error("geo cache: encode entry", "ip", address, "error", err)
		return
	}
	if err := c.client.Set(ctx, redisKey(address), payload, ttl).Err(); err != nil {
		log.Warn("geo cache: redis put failed", "ip", address, "error", err)
	}
}

func redisKey(address string) string {
	return redisKeyPrefix + address
}
