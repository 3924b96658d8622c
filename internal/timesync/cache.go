package timesync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/veloverlay/api/internal/model"
)

// Cache stores sync results by file-pair key. Failures behave as misses.
type Cache interface {
	Get(ctx context.Context, key string) (model.SyncResult, bool)
	Set(ctx context.Context, key string, res model.SyncResult, ttl time.Duration)
}

type memoryEntry struct {
	res     model.SyncResult
	expires time.Time
}

// MemoryCache is the in-process fallback when redis is disabled.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (model.SyncResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return model.SyncResult{}, false
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return model.SyncResult{}, false
	}
	return e.res, true
}

func (c *MemoryCache) Set(_ context.Context, key string, res model.SyncResult, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{res: res}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
}

// RedisCache keeps results in redis as JSON under sync:<key>.
type RedisCache struct {
	redis *redis.Client
}

func NewRedisCache(redisClient *redis.Client) *RedisCache {
	return &RedisCache{redis: redisClient}
}

func (c *RedisCache) Get(ctx context.Context, key string) (model.SyncResult, bool) {
	data, err := c.redis.Get(ctx, "sync:"+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("sync cache read failed", "error", err)
		}
		return model.SyncResult{}, false
	}
	var res model.SyncResult
	if err := json.Unmarshal(data, &res); err != nil {
		return model.SyncResult{}, false
	}
	return res, true
}

func (c *RedisCache) Set(ctx context.Context, key string, res model.SyncResult, ttl time.Duration) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, "sync:"+key, data, ttl).Err(); err != nil {
		slog.Warn("sync cache write failed", "error", err)
	}
}
