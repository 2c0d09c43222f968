package shop

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/discord-shop/internal/cache"
	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/db/sqlite"
	"serotonyl.ru/discord-shop/internal/locks"
	"serotonyl.ru/discord-shop/internal/notify"
)

func newTestService(t *testing.T) (*Service, Store) {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewSQLiteRepository(db)
	c := cache.New(cache.NewSQLiteBackend(db))
	return NewService(repo, c, locks.NewRegistry(5*time.Second), notify.Nop{}, Settings{}), repo
}

func seedProduct(t *testing.T, s *Service, code string, price int64, stock ...string) Product {
	t.Helper()
	ctx := context.Background()
	p, err := s.CreateProduct(ctx, code, "Товар "+code, price, "")
	require.NoError(t, err)
	if len(stock) > 0 {
		n, err := s.AddStock(ctx, code, stock, "admin")
		require.NoError(t, err)
		require.Equal(t, len(stock), n)
	}
	return p
}

func TestCreateProduct(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	p := seedProduct(t, s, "vip", 250)
	assert.Equal(t, "VIP", p.Code)

	got, err := s.GetProduct(ctx, "Vip")
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.Price)

	_, err = s.CreateProduct(ctx, "VIP", "Другой", 10, "")
	assert.ErrorIs(t, err, common.ErrProductExists)

	_, err = s.CreateProduct(ctx, "FREE", "Бесплатно", 0, "")
	assert.ErrorIs(t, err, common.ErrInvalidPrice)

	_, err = s.CreateProduct(ctx, "GOLD", "Дорого", MaxPrice+1, "")
	assert.ErrorIs(t, err, common.ErrInvalidPrice)

	_, err = s.GetProduct(ctx, "NOPE")
	assert.ErrorIs(t, err, common.ErrProductNotFound)
}

func TestListProductsSeesNewProduct(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	list, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	seedProduct(t, s, "B", 10)
	seedProduct(t, s, "A", 20)

	list, err = s.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Code)
}

func TestAddStockInvalidatesCount(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "P1", 500, "a", "b")

	n, err := s.StockCount(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	added, err := s.AddStock(ctx, "p1", []string{"c", "  ", ""}, "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, added, "пустые строки пропускаются")

	n, err = s.StockCount(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.AddStock(ctx, "NOPE", []string{"x"}, "admin")
	assert.ErrorIs(t, err, common.ErrProductNotFound)

	_, err = s.AddStock(ctx, "P1", []string{" "}, "admin")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestAvailableStockOldestFirst(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "P1", 500, "first", "second", "third")

	units, err := s.AvailableStock(ctx, "P1", 2)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "first", units[0].Content)
	assert.Equal(t, "second", units[1].Content)

	_, err = s.AvailableStock(ctx, "P1", 4)
	assert.ErrorIs(t, err, common.ErrInsufficientStock)

	_, err = s.AvailableStock(ctx, "P1", 0)
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestMarkSoldAndRestore(t *testing.T) {
	s, repo := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "P1", 500, "a", "b")

	units, err := s.AvailableStock(ctx, "P1", 1)
	require.NoError(t, err)
	require.NoError(t, s.MarkSold(ctx, "P1", units, "1001"))

	u, found, err := repo.Unit(ctx, units[0].ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusSold, u.Status)
	assert.Equal(t, "1001", u.BuyerHandle)

	n, err := s.StockCount(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// уже проданную единицу нельзя продать второй раз
	err = s.MarkSold(ctx, "P1", units, "2002")
	assert.ErrorIs(t, err, common.ErrInsufficientStock)

	require.NoError(t, s.Restore(ctx, "P1", units))
	u, _, err = repo.Unit(ctx, units[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, u.Status)
	assert.Empty(t, u.BuyerHandle)

	n, err = s.StockCount(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUpdateStockStatusTransitions(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "P1", 500, "a")

	units, err := s.AvailableStock(ctx, "P1", 1)
	require.NoError(t, err)
	id := units[0].ID

	_, err = s.UpdateStockStatus(ctx, id, StatusSold, "")
	assert.ErrorIs(t, err, common.ErrInvalidStockState)

	u, err := s.UpdateStockStatus(ctx, id, StatusDeleted, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, u.Status)

	// удалённая единица не возвращается
	_, err = s.UpdateStockStatus(ctx, id, StatusAvailable, "")
	assert.ErrorIs(t, err, common.ErrInvalidStockState)

	_, err = s.UpdateStockStatus(ctx, 9999, StatusDeleted, "")
	assert.ErrorIs(t, err, common.ErrStockNotFound)

	_, err = s.UpdateStockStatus(ctx, id, Status("lost"), "")
	assert.ErrorIs(t, err, common.ErrInvalidStockState)
}

func TestSoldUnitReturnsOnlyThroughRestore(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "P1", 500, "a")

	units, err := s.AvailableStock(ctx, "P1", 1)
	require.NoError(t, err)
	id := units[0].ID

	// GIVEN единица продана
	u, err := s.UpdateStockStatus(ctx, id, StatusSold, "buyer")
	require.NoError(t, err)
	assert.Equal(t, "buyer", u.BuyerHandle)

	// WHEN её пытаются вернуть на склад напрямую
	_, err = s.UpdateStockStatus(ctx, id, StatusAvailable, "")
	// THEN переход запрещён, единица остаётся проданной
	assert.ErrorIs(t, err, common.ErrInvalidStockState)
	sum, err := s.StockSummary(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, Summary{Sold: 1}, sum)

	// откат покупки возвращает её
	require.NoError(t, s.Restore(ctx, "P1", units))
	n, err := s.StockCount(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateStockStatusLocksProductStock(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	l := locks.NewRegistry(50 * time.Millisecond)
	s := NewService(NewSQLiteRepository(db), cache.New(cache.NewSQLiteBackend(db)), l, notify.Nop{}, Settings{})
	ctx := context.Background()
	seedProduct(t, s, "P1", 500, "a")
	units, err := s.AvailableStock(ctx, "P1", 1)
	require.NoError(t, err)

	// склад P1 занят покупкой
	release, ok := l.Acquire(ctx, "stock_update_P1", 0)
	require.True(t, ok)

	_, err = s.UpdateStockStatus(ctx, units[0].ID, StatusDeleted, "")
	assert.ErrorIs(t, err, common.ErrLockAcquisitionFailed)

	release()
	u, err := s.UpdateStockStatus(ctx, units[0].ID, StatusDeleted, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDeleted, u.Status)
}

func TestRemoveStock(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	seedProduct(t, s, "P1", 500, "a", "b", "c")

	n, err := s.RemoveStock(ctx, "P1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sum, err := s.StockSummary(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, Summary{Available: 1, Deleted: 2}, sum)

	_, err = s.RemoveStock(ctx, "P1", 5)
	assert.ErrorIs(t, err, common.ErrInsufficientStock)
}

func TestWorldInfo(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, ok, err := s.GetWorldInfo(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.UpdateWorldInfo(ctx, "buyworld", "OWNER", "BOT")
	require.NoError(t, err)
	_, err = s.UpdateWorldInfo(ctx, "depo", "OWNER2", "BOT2")
	require.NoError(t, err)

	w, ok, err := s.GetWorldInfo(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "DEPO", w.World)
	assert.Equal(t, "OWNER2", w.Owner)
	assert.Contains(t, FormatWorld(w), "DEPO")

	_, err = s.UpdateWorldInfo(ctx, " ", "", "")
	assert.ErrorIs(t, err, common.ErrInvalidIdentity)
}

func TestCanMove(t *testing.T) {
	assert.True(t, CanMove(StatusAvailable, StatusSold))
	assert.True(t, CanMove(StatusAvailable, StatusDeleted))
	assert.False(t, CanMove(StatusSold, StatusAvailable))
	assert.False(t, CanMove(StatusSold, StatusDeleted))
	assert.False(t, CanMove(StatusDeleted, StatusAvailable))
	assert.False(t, CanMove(StatusAvailable, StatusAvailable))
}
