package source

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/apportion/internal/model"
)

type memCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttl    time.Duration
	getErr error
	setErr error
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	m.ttl = ttl
	return nil
}

type countingSource struct {
	calls  int
	blocks []model.Block
	err    error
}

func (c *countingSource) Blocks(context.Context, model.BlockQuery) ([]model.Block, error) {
	c.calls++
	return c.blocks, c.err
}

func cachedBlocks() []model.Block {
	return []model.Block{{ID: "b1", Population: 10, Housing: 4, Rings: []model.Ring{{{0, 0}, {0, 1}, {1, 1}, {1, 0}}}}}
}

func TestCached_HitAfterMiss(t *testing.T) {
	next := &countingSource{blocks: cachedBlocks()}
	cache := newMemCache()
	c := NewCached(next, cache, time.Hour, "test:")

	q := model.BlockQuery{AreaID: "a", WKB: []byte{1, 2, 3}}
	first, err := c.Blocks(context.Background(), q)
	require.NoError(t, err)
	second, err := c.Blocks(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)
	assert.Equal(t, time.Hour, cache.ttl)
	for k := range cache.data {
		assert.Contains(t, k, "test:blocks:")
	}
}

func TestCached_KeysDifferByGeometry(t *testing.T) {
	next := &countingSource{blocks: cachedBlocks()}
	c := NewCached(next, newMemCache(), time.Minute, "")

	_, err := c.Blocks(context.Background(), model.BlockQuery{WKB: []byte{1}})
	require.NoError(t, err)
	_, err = c.Blocks(context.Background(), model.BlockQuery{WKB: []byte{2}})
	require.NoError(t, err)
	_, err = c.Blocks(context.Background(), model.BlockQuery{BBox: model.BBox{MaxX: 1, MaxY: 1}})
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls)
}

func TestCached_CacheFailuresFallThrough(t *testing.T) {
	next := &countingSource{blocks: cachedBlocks()}
	cache := newMemCache()
	cache.getErr = eris.New("redis down")
	cache.setErr = eris.New("redis down")
	c := NewCached(next, cache, time.Minute, "")

	blocks, err := c.Blocks(context.Background(), model.BlockQuery{WKB: []byte{1}})
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
	assert.Equal(t, 1, next.calls)
}

func TestCached_CorruptEntryRefetched(t *testing.T) {
	next := &countingSource{blocks: cachedBlocks()}
	cache := newMemCache()
	c := NewCached(next, cache, time.Minute, "")
	q := model.BlockQuery{WKB: []byte{9}}
	cache.data[c.key(q)] = []byte("not json")

	blocks, err := c.Blocks(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, blocks, 1)
	assert.Equal(t, 1, next.calls)
}

func TestCached_SourceErrorNotCached(t *testing.T) {
	next := &countingSource{err: eris.New("service unavailable")}
	cache := newMemCache()
	c := NewCached(next, cache, time.Minute, "")

	_, err := c.Blocks(context.Background(), model.BlockQuery{WKB: []byte{1}})
	require.Error(t, err)
	assert.Empty(t, cache.data)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisCache(ctx, "127.0.0.1:1", "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}
