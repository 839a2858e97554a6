package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"hybrid-regime-engine/internal/regime"
)

// RegimeStateKeyPrefix namespaces regime state keys in Redis.
// Format: hre:regime:{symbol}
const RegimeStateKeyPrefix = "hre:regime"

// RegimeStateTTL bounds how long a cached regime state survives
// without a refresh; a stale entry falls back to the Postgres row on
// next read, which is always the source of truth.
const RegimeStateTTL = 48 * time.Hour

type cachedRegimeState struct {
	LastMode          string    `json:"last_mode"`
	LastModeEnteredAt time.Time `json:"last_mode_entered_at"`
}

// regimeStore is the durable fallback a RegimeCache reads through to
// and writes through to. *Repository satisfies it; tests substitute a
// fake to avoid requiring a live Postgres pool.
type regimeStore interface {
	GetRegimeState(ctx context.Context, symbol string) (regime.State, error)
	PutRegimeState(ctx context.Context, symbol string, s regime.State) error
}

// RegimeCache fronts regime.State reads with Redis so the scheduler's
// hot per-candle read doesn't round-trip Postgres on every symbol,
// tick, while falling back to an in-memory map and finally to the
// durable store when Redis is unreachable. Modeled on the teacher's
// RedisPositionStateRepository (SPEC_FULL §10): same
// Redis-with-in-memory-fallback shape, generalized from position
// state to regime state.
type RegimeCache struct {
	client         *redis.Client
	repo           regimeStore
	inMemoryCache  map[string]cachedRegimeState
	cacheMu        sync.RWMutex
	redisAvailable atomic.Bool
}

// NewRegimeCache builds a cache. client may be nil, in which case the
// cache runs in-memory-plus-Postgres only.
func NewRegimeCache(client *redis.Client, repo regimeStore) *RegimeCache {
	c := &RegimeCache{
		client:        client,
		repo:          repo,
		inMemoryCache: make(map[string]cachedRegimeState),
	}
	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("[REGIME-CACHE] redis unavailable at startup: %v, using in-memory cache", err)
			c.redisAvailable.Store(false)
		} else {
			c.redisAvailable.Store(true)
		}
	}
	return c
}

func (c *RegimeCache) key(symbol string) string {
	return fmt.Sprintf("%s:%s", RegimeStateKeyPrefix, symbol)
}

// Get returns the regime state for symbol, trying Redis, then the
// in-memory cache, then Postgres, in that order.
func (c *RegimeCache) Get(ctx context.Context, symbol string) (regime.State, error) {
	if c.client != nil && c.redisAvailable.Load() {
		data, err := c.client.Get(ctx, c.key(symbol)).Result()
		if err == nil {
			var cs cachedRegimeState
			if jsonErr := json.Unmarshal([]byte(data), &cs); jsonErr == nil {
				return regime.State{LastMode: regime.Mode(cs.LastMode), LastModeEnteredAt: cs.LastModeEnteredAt}, nil
			}
		} else if err != redis.Nil {
			log.Printf("[REGIME-CACHE] redis read error: %v, falling back", err)
			c.redisAvailable.Store(false)
		}
	}

	if s, ok := c.getFromMemory(symbol); ok {
		return s, nil
	}

	s, err := c.repo.GetRegimeState(ctx, symbol)
	if err != nil {
		return regime.State{}, err
	}
	c.setMemory(symbol, s)
	return s, nil
}

// Put writes the regime state to Redis (best effort), the in-memory
// cache, and Postgres (authoritative).
func (c *RegimeCache) Put(ctx context.Context, symbol string, s regime.State) error {
	c.setMemory(symbol, s)

	if c.client != nil && c.redisAvailable.Load() {
		data, _ := json.Marshal(cachedRegimeState{LastMode: string(s.LastMode), LastModeEnteredAt: s.LastModeEnteredAt})
		if err := c.client.Set(ctx, c.key(symbol), data, RegimeStateTTL).Err(); err != nil {
			log.Printf("[REGIME-CACHE] redis write error: %v, cache degraded to memory+pg", err)
			c.redisAvailable.Store(false)
		}
	}

	return c.repo.PutRegimeState(ctx, symbol, s)
}

func (c *RegimeCache) getFromMemory(symbol string) (regime.State, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	cs, ok := c.inMemoryCache[symbol]
	if !ok {
		return regime.State{}, false
	}
	return regime.State{LastMode: regime.Mode(cs.LastMode), LastModeEnteredAt: cs.LastModeEnteredAt}, true
}

func (c *RegimeCache) setMemory(symbol string, s regime.State) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.inMemoryCache[symbol] = cachedRegimeState{LastMode: string(s.LastMode), LastModeEnteredAt: s.LastModeEnteredAt}
}
