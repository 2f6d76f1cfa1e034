package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SebStoll/stocks-backtesting/pkg/types"
)

// Cache stores fetched bar series keyed by request.
type Cache interface {
	Get(ctx context.Context, key string) ([]types.Bar, bool, error)
	Set(ctx context.Context, key string, bars []types.Bar, ttl time.Duration) error
}

func cacheKey(symbol, interval string, start, end time.Time) string {
	return fmt.Sprintf("bars:%s|%s|%s|%s", symbol, interval,
		start.Format(time.RFC3339), end.Format(time.RFC3339))
}

// ---------------------------------------------------------------------------
// In-memory
// ---------------------------------------------------------------------------

type memoryEntry struct {
	bars      []types.Bar
	expiresAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get returns a copy of the cached bars if present and unexpired.
func (m *MemoryCache) Get(_ context.Context, key string) ([]types.Bar, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.now().After(e.expiresAt) {
		return nil, false, nil
	}
	return append([]types.Bar(nil), e.bars...), true, nil
}

// Set stores a copy of bars for ttl.
func (m *MemoryCache) Set(_ context.Context, key string, bars []types.Bar, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = memoryEntry{
		bars:      append([]types.Bar(nil), bars...),
		expiresAt: m.now().Add(ttl),
	}
	m.mu.Unlock()
	return nil
}

// Clear removes all cached entries.
func (m *MemoryCache) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Redis
// ---------------------------------------------------------------------------

// RedisCache shares fetched bars between processes through Redis. Bars are
// stored as JSON.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return &RedisCache{rdb: rdb, prefix: "backtest:"}, nil
}

// Get returns cached bars, reporting a miss as ok=false.
func (r *RedisCache) Get(ctx context.Context, key string) ([]types.Bar, bool, error) {
	raw, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var bars []types.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, false, fmt.Errorf("decoding cached bars: %w", err)
	}
	return bars, true, nil
}

// Set stores bars under key with ttl.
func (r *RedisCache) Set(ctx context.Context, key string, bars []types.Bar, ttl time.Duration) error {
	raw, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("encoding bars: %w", err)
	}
	if err := r.rdb.Set(ctx, r.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	return r.rdb.Close()
}
