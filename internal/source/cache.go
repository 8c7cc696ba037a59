package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/apportion/internal/apportion"
	"github.com/sells-group/apportion/internal/model"
)

// Cache stores encoded block lists by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cached wraps a BlockSource so that repeated queries for the same area
// geometry are answered from a cache. Cache failures fall through to the
// wrapped source.
type Cached struct {
	next   apportion.BlockSource
	cache  Cache
	ttl    time.Duration
	prefix string
}

// NewCached creates a caching BlockSource. prefix namespaces the keys, e.g.
// by block table and projection.
func NewCached(next apportion.BlockSource, cache Cache, ttl time.Duration, prefix string) *Cached {
	return &Cached{next: next, cache: cache, ttl: ttl, prefix: prefix}
}

// Blocks implements apportion.BlockSource.
func (c *Cached) Blocks(ctx context.Context, q model.BlockQuery) ([]model.Block, error) {
	log := zap.L().With(zap.String("component", "source.cache"), zap.String("area_id", q.AreaID))
	key := c.key(q)

	if data, ok, err := c.cache.Get(ctx, key); err != nil {
		log.Warn("cache get failed", zap.Error(err))
	} else if ok {
		var blocks []model.Block
		if err := json.Unmarshal(data, &blocks); err == nil {
			log.Debug("cache hit", zap.Int("blocks", len(blocks)))
			return blocks, nil
		}
		log.Warn("discarding undecodable cache entry", zap.String("key", key))
	}

	blocks, err := c.next.Blocks(ctx, q)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(blocks)
	if err != nil {
		return nil, eris.Wrap(err, "source: encode blocks for cache")
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		log.Warn("cache set failed", zap.Error(err))
	}
	return blocks, nil
}

// key identifies a query by its exact geometry when present and otherwise
// by its bounding box.
func (c *Cached) key(q model.BlockQuery) string {
	h := sha256.New()
	if len(q.WKB) > 0 {
		h.Write(q.WKB)
	} else {
		fmt.Fprintf(h, "%g,%g,%g,%g", q.BBox.MinX, q.BBox.MinY, q.BBox.MaxX, q.BBox.MaxY)
	}
	return c.prefix + "blocks:" + hex.EncodeToString(h.Sum(nil))
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	rdb *redis.Client
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "source: connect redis %s", addr)
	}
	return &RedisCache{rdb: rdb}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// Get implements Cache. A missing key is not an error.
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrapf(err, "source: redis get %s", key)
	}
	return data, true, nil
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return eris.Wrapf(err, "source: redis set %s", key)
	}
	return nil
}

// Close closes the Redis client.
func (r *RedisCache) Close() error {
	return r.rdb.Close()
}
