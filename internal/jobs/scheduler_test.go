package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/discord-shop/internal/cache"
	"serotonyl.ru/discord-shop/internal/features/shop"
	"serotonyl.ru/discord-shop/internal/locks"
)

type stubCatalog struct {
	products []shop.Product
	counts   map[string]int
}

func (s *stubCatalog) ListProducts(context.Context) ([]shop.Product, error) {
	return s.products, nil
}

func (s *stubCatalog) StockCount(_ context.Context, code string) (int, error) {
	n, ok := s.counts[code]
	if !ok {
		return 0, errors.New("нет такого товара")
	}
	return n, nil
}

func TestCheckLowStock(t *testing.T) {
	catalog := &stubCatalog{
		products: []shop.Product{
			{Code: "VIP", Name: "VIP"},
			{Code: "DIRT", Name: "Земля"},
			{Code: "BROKEN", Name: "Сломанный"},
		},
		counts: map[string]int{"VIP": 3, "DIRT": 50},
	}

	var reports []string
	s := NewScheduler(nil, nil, catalog, func(text string) { reports = append(reports, text) }, Settings{})

	low := s.CheckLowStock(context.Background())
	assert.Equal(t, []string{"VIP"}, low)
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0], "осталось 3")
	assert.NotContains(t, reports[0], "DIRT")
}

func TestCheckLowStockNothingToReport(t *testing.T) {
	catalog := &stubCatalog{products: []shop.Product{{Code: "A"}}, counts: map[string]int{"A": 10}}
	called := false
	s := NewScheduler(nil, nil, catalog, func(string) { called = true }, Settings{LowStockThreshold: 10})

	assert.Empty(t, s.CheckLowStock(context.Background()))
	assert.False(t, called)
}

func TestPruneLocks(t *testing.T) {
	l := locks.NewRegistry(time.Second)
	release, ok := l.Acquire(context.Background(), "purchase_1_VIP", 0)
	require.True(t, ok)
	release()

	s := NewScheduler(nil, l, nil, nil, Settings{LockIdleTTL: time.Nanosecond})
	time.Sleep(time.Millisecond)
	assert.Equal(t, 1, s.PruneLocks())
	assert.Equal(t, 0, l.Len())
}

func TestCleanupCache(t *testing.T) {
	now := time.Now()
	c := cache.New(nil, cache.WithClock(func() time.Time { return now }))
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", 1, time.Minute, false))

	now = now.Add(time.Hour)
	s := NewScheduler(c, nil, nil, nil, Settings{})
	s.CleanupCache(ctx)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.MemoryTotal)
}

func TestStartRegistersJobs(t *testing.T) {
	s := NewScheduler(nil, nil, nil, nil, Settings{})
	require.NoError(t, s.Start(context.Background()))
	assert.Len(t, s.cron.Entries(), 3)
	s.Stop()
}
