package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"hybrid-regime-engine/internal/regime"
)

type fakeStore struct {
	states map[string]regime.State
	gets   int
	puts   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]regime.State)}
}

func (f *fakeStore) GetRegimeState(ctx context.Context, symbol string) (regime.State, error) {
	f.gets++
	return f.states[symbol], nil
}

func (f *fakeStore) PutRegimeState(ctx context.Context, symbol string, s regime.State) error {
	f.puts++
	f.states[symbol] = s
	return nil
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, mr
}

func TestRegimeCachePutThenGetHitsRedis(t *testing.T) {
	client, _ := newTestRedis(t)
	store := newFakeStore()
	cache := NewRegimeCache(client, store)

	now := time.Now()
	if err := cache.Put(context.Background(), "BTCUSDT", regime.State{LastMode: regime.ModeTF, LastModeEnteredAt: now}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, err := cache.Get(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastMode != regime.ModeTF {
		t.Fatalf("expected TF, got %v", got.LastMode)
	}
	if store.gets != 0 {
		t.Fatalf("expected redis hit to avoid the durable store, got %d fallback reads", store.gets)
	}
}

func TestRegimeCacheFallsBackToStoreWhenRedisDown(t *testing.T) {
	client, mr := newTestRedis(t)
	store := newFakeStore()
	store.states["ETHUSDT"] = regime.State{LastMode: regime.ModeMR, LastModeEnteredAt: time.Now()}
	cache := NewRegimeCache(client, store)
	mr.Close()

	got, err := cache.Get(context.Background(), "ETHUSDT")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastMode != regime.ModeMR {
		t.Fatalf("expected fallback to the durable store's MR state, got %v", got.LastMode)
	}
}

func TestRegimeCacheAlwaysWritesThroughToStore(t *testing.T) {
	client, _ := newTestRedis(t)
	store := newFakeStore()
	cache := NewRegimeCache(client, store)

	if err := cache.Put(context.Background(), "SOLUSDT", regime.State{LastMode: regime.ModeTransition, LastModeEnteredAt: time.Now()}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if store.puts != 1 {
		t.Fatalf("expected the durable store to receive the write, got %d puts", store.puts)
	}
}

func TestRegimeCacheMemoryLayerServesAfterRedisDrop(t *testing.T) {
	client, mr := newTestRedis(t)
	store := newFakeStore()
	cache := NewRegimeCache(client, store)

	now := time.Now()
	if err := cache.Put(context.Background(), "ADAUSDT", regime.State{LastMode: regime.ModeMR, LastModeEnteredAt: now}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	mr.Close()
	cache.redisAvailable.Store(false)

	got, err := cache.Get(context.Background(), "ADAUSDT")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.LastMode != regime.ModeMR {
		t.Fatalf("expected in-memory layer to serve the last-written state, got %v", got.LastMode)
	}
	if store.gets != 0 {
		t.Fatalf("expected in-memory hit to avoid the durable store, got %d fallback reads", store.gets)
	}
}
