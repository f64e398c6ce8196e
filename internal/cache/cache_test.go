package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-risk-lab/internal/domain"
)

const testKey = "1:0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMemoryCache(ttl time.Duration) (*SnapshotCache, *MemoryBackend, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	backend := NewMemoryBackend()
	backend.now = clock.Now
	return New(backend, ttl, zerolog.Nop(), nil), backend, clock
}

func TestSnapshotCache_HitWithinTTL(t *testing.T) {
	c, _, clock := newMemoryCache(60 * time.Second)
	ctx := context.Background()

	var calls atomic.Int32
	load := func(context.Context) (*domain.TokenSnapshot, error) {
		calls.Add(1)
		return &domain.TokenSnapshot{LiquidityUSD: 80000}, nil
	}

	snap, hit, err := c.GetOrLoad(ctx, testKey, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 80000.0, snap.LiquidityUSD)

	clock.Advance(59 * time.Second)
	snap, hit, err = c.GetOrLoad(ctx, testKey, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 80000.0, snap.LiquidityUSD)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(2 * time.Second)
	_, hit, err = c.GetOrLoad(ctx, testKey, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSnapshotCache_CoalescesConcurrentLoads(t *testing.T) {
	c, _, _ := newMemoryCache(60 * time.Second)
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (*domain.TokenSnapshot, error) {
		calls.Add(1)
		<-release
		return &domain.TokenSnapshot{HolderCount: 1200}, nil
	}

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*domain.TokenSnapshot, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, _, err := c.GetOrLoad(ctx, testKey, load)
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i, snap := range results {
		require.NotNil(t, snap, "caller %d", i)
		assert.Equal(t, 1200, snap.HolderCount)
	}
	// Each caller owns its copy.
	results[0].HolderCount = 1
	assert.Equal(t, 1200, results[1].HolderCount)
}

func TestSnapshotCache_LoaderErrorNotCached(t *testing.T) {
	c, backend, _ := newMemoryCache(60 * time.Second)
	ctx := context.Background()

	boom := errors.New("boom")
	_, _, err := c.GetOrLoad(ctx, testKey, func(context.Context) (*domain.TokenSnapshot, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, backend.Len())
}

func TestSnapshotCache_CancelledWaiter(t *testing.T) {
	c, _, _ := newMemoryCache(60 * time.Second)

	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := c.GetOrLoad(ctx, testKey, func(context.Context) (*domain.TokenSnapshot, error) {
		<-release
		return &domain.TokenSnapshot{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotCache_Invalidate(t *testing.T) {
	c, backend, _ := newMemoryCache(60 * time.Second)
	ctx := context.Background()

	_, _, err := c.GetOrLoad(ctx, testKey, func(context.Context) (*domain.TokenSnapshot, error) {
		return &domain.TokenSnapshot{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, backend.Len())

	require.NoError(t, c.Invalidate(ctx, testKey))
	assert.Equal(t, 0, backend.Len())
}

func TestMemoryBackend_StoresCopy(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	snap := &domain.TokenSnapshot{HolderAddresses: []string{"0x1"}}
	require.NoError(t, b.Set(ctx, testKey, snap, time.Minute))
	snap.HolderAddresses[0] = "mutated"

	got, ok, err := b.Get(ctx, testKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"0x1"}, got.HolderAddresses)
}

func TestMemoryBackend_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewMemoryBackend()
	b.now = clock.Now
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "a", &domain.TokenSnapshot{}, time.Second))
	require.NoError(t, b.Set(ctx, "b", &domain.TokenSnapshot{}, time.Hour))
	clock.Advance(time.Minute)

	assert.Equal(t, 1, b.Sweep())
	assert.Equal(t, 1, b.Len())
}

func TestRedisBackend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	b := NewRedisBackend(db, "")
	ctx := context.Background()

	t.Run("miss", func(t *testing.T) {
		mock.ExpectGet(DefaultKeyPrefix + testKey).RedisNil()

		snap, ok, err := b.Get(ctx, testKey)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, snap)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set then hit", func(t *testing.T) {
		snap := &domain.TokenSnapshot{Address: "0xabc", ChainID: 1, LiquidityUSD: 5000}
		raw, err := json.Marshal(snap)
		require.NoError(t, err)

		mock.ExpectSet(DefaultKeyPrefix+testKey, raw, time.Minute).SetVal("OK")
		require.NoError(t, b.Set(ctx, testKey, snap, time.Minute))

		mock.ExpectGet(DefaultKeyPrefix + testKey).SetVal(string(raw))
		got, ok, err := b.Get(ctx, testKey)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 5000.0, got.LiquidityUSD)
		assert.Equal(t, "0xabc", got.Address)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis error", func(t *testing.T) {
		mock.ExpectGet(DefaultKeyPrefix + testKey).SetErr(errors.New("connection refused"))

		_, _, err := b.Get(ctx, testKey)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt payload", func(t *testing.T) {
		mock.ExpectGet(DefaultKeyPrefix + testKey).SetVal("{not json")

		_, _, err := b.Get(ctx, testKey)
		assert.Error(t, err)
	})
}

func TestSnapshotCache_BackendErrorTreatedAsMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(NewRedisBackend(db, "p:"), time.Minute, zerolog.Nop(), nil)

	mock.ExpectGet("p:" + testKey).SetErr(errors.New("down"))
	mock.ExpectGet("p:" + testKey).SetErr(errors.New("down"))
	// The unexpected SET fails in the mock; the write error is logged only.

	snap, hit, err := c.GetOrLoad(context.Background(), testKey, func(context.Context) (*domain.TokenSnapshot, error) {
		return &domain.TokenSnapshot{HolderCount: 7}, nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 7, snap.HolderCount)
}
