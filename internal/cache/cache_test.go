package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/discord-shop/internal/db/sqlite"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, opts ...Option) (*Cache, *clock) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := &clock{now: time.Now()}
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	return New(NewSQLiteBackend(db), opts...), clk
}

func TestSetGetExpiry(t *testing.T) {
	c, clk := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "balance_ALICE", 150, TTLShort, false))

	var got int
	ok, err := c.Get(ctx, "balance_ALICE", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 150, got)

	// после истечения срока значение не возвращается
	clk.Advance(TTLShort)
	ok, err = c.Get(ctx, "balance_ALICE", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForeverNeverExpires(t *testing.T) {
	c, clk := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", Forever, false))
	clk.Advance(365 * 24 * time.Hour)

	var got string
	ok, err := c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDurableSurvivesRestart(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	first := New(NewSQLiteBackend(db))
	require.NoError(t, first.Set(ctx, "live_stock_message", "12345", TTLLong, true))
	require.NoError(t, first.Set(ctx, "volatile", "x", TTLLong, false))

	// новый процесс - пустая память, та же база
	second := New(NewSQLiteBackend(db))

	var got string
	ok, err := second.Get(ctx, "live_stock_message", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "12345", got)

	ok, err = second.Get(ctx, "volatile", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := second.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoryLive)
	assert.Equal(t, int64(1), stats.StoreLive)
}

func TestDurableExpiredIsRemoved(t *testing.T) {
	c, clk := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", 1, time.Minute, true))

	other := New(c.backend, WithClock(clk.Now))
	clk.Advance(2 * time.Minute)

	var got int
	ok, err := other.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	stats, err := other.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.StoreTotal)
}

func TestDeleteAndClearBothTiers(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "stock_P1", 1, TTLShort, true))
	require.NoError(t, c.Set(ctx, "stock_count_P1", 1, TTLShort, true))
	require.NoError(t, c.Set(ctx, "product_P1", 1, TTLShort, true))

	require.NoError(t, c.Delete(ctx, "product_P1"))
	var v int
	ok, _ := c.Get(ctx, "product_P1", &v)
	assert.False(t, ok)

	require.NoError(t, c.DeletePrefix(ctx, "stock_"))
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.MemoryTotal)
	assert.Zero(t, stats.StoreTotal)

	require.NoError(t, c.Set(ctx, "a", 1, TTLShort, true))
	require.NoError(t, c.Clear(ctx))
	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.MemoryTotal+int(stats.StoreTotal))
}

func TestEvictsOldestWhenFull(t *testing.T) {
	c, _ := newTestCache(t, WithMaxEntries(10))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), i, time.Duration(i+1)*time.Minute, false))
	}
	require.NoError(t, c.Set(ctx, "forever", 0, Forever, false))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, stats.MemoryTotal)

	var v int
	ok, _ := c.Get(ctx, "k0", &v)
	assert.False(t, ok, "запись с самым ранним сроком вытесняется первой")
	ok, _ = c.Get(ctx, "forever", &v)
	assert.True(t, ok)
}

func TestCleanup(t *testing.T) {
	c, clk := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", 1, time.Minute, true))
	require.NoError(t, c.Set(ctx, "long", 1, time.Hour, true))
	clk.Advance(2 * time.Minute)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoryExpired)
	assert.Equal(t, int64(1), stats.StoreExpired)

	require.NoError(t, c.Cleanup(ctx))

	stats, err = c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoryTotal)
	assert.Equal(t, int64(1), stats.StoreTotal)
}

func TestFetchLoadsOnce(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	var calls atomic.Int32

	load := func(ctx context.Context) (any, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return 42, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var v int
			assert.NoError(t, c.Fetch(ctx, "answer", TTLShort, &v, load))
			assert.Equal(t, 42, v)
		}()
	}
	wg.Wait()
	assert.Less(t, calls.Load(), int32(10))

	var v int
	require.NoError(t, c.Fetch(ctx, "answer", TTLShort, &v, load))
	assert.Equal(t, 42, v)
}

func TestFetchDoesNotCacheStaleLoad(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	// пока идёт чтение старого значения, писатель обновляет ключ
	var v int
	err := c.Fetch(ctx, "balance_ALICE", TTLShort, &v, func(ctx context.Context) (any, error) {
		require.NoError(t, c.Delete(ctx, "balance_ALICE"))
		return 100, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 100, v)

	ok, err := c.Get(ctx, "balance_ALICE", &v)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFetchPropagatesLoadError(t *testing.T) {
	c := New(nil)
	boom := errors.New("boom")
	var v int
	err := c.Fetch(context.Background(), "k", TTLShort, &v, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCorruptEntryIsDropped(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "not a number", TTLShort, false))

	var n int
	ok, err := c.Get(ctx, "k", &n)
	require.NoError(t, err)
	assert.False(t, ok)
}
