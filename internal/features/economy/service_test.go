package economy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/discord-shop/internal/cache"
	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/db/sqlite"
	"serotonyl.ru/discord-shop/internal/features/ledger"
	"serotonyl.ru/discord-shop/internal/locks"
	"serotonyl.ru/discord-shop/internal/notify"
)

// events собирает события хаба.
type events struct {
	mu  sync.Mutex
	got map[notify.Event][]any
}

func (e *events) record(_ context.Context, ev notify.Event, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got[ev] = append(e.got[ev], payload)
	return nil
}

func (e *events) count(ev notify.Event) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.got[ev])
}

// failingStore ломает ApplyUpdate.
type failingStore struct {
	Store
	err error
}

func (f *failingStore) ApplyUpdate(context.Context, Update) (Entry, error) {
	return Entry{}, f.err
}

type fixture struct {
	svc    *Service
	store  Store
	cache  *cache.Cache
	events *events
}

func newFixture(t *testing.T, wrap func(Store) Store) *fixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var store Store = NewSQLiteRepository(db)
	if wrap != nil {
		store = wrap(store)
	}

	ev := &events{got: make(map[notify.Event][]any)}
	hub := notify.NewHub()
	for _, e := range []notify.Event{notify.UserRegistered, notify.BalanceUpdated, notify.LargeTransaction} {
		hub.Subscribe(e, ev.record)
	}

	c := cache.New(cache.NewSQLiteBackend(db))
	svc := NewService(store, c, locks.NewRegistry(5*time.Second), hub, Settings{LargeThreshold: 10000})
	return &fixture{svc: svc, store: store, cache: c, events: ev}
}

func (f *fixture) register(t *testing.T, handle, account string) string {
	t.Helper()
	got, err := f.svc.Register(context.Background(), handle, account)
	require.NoError(t, err)
	return got
}

func (f *fixture) deposit(t *testing.T, account string, d ledger.Delta) ledger.Balance {
	t.Helper()
	b, err := f.svc.UpdateBalance(context.Background(), UpdateRequest{
		Account: account,
		Delta:   d,
		Kind:    KindDeposit,
		Detail:  "test deposit",
	})
	require.NoError(t, err)
	return b
}

func TestRegisterCreatesEmptyAccount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	account := f.register(t, "1001", "alice")
	assert.Equal(t, "ALICE", account)

	got, err := f.svc.ResolveAccount(ctx, "1001")
	require.NoError(t, err)
	assert.Equal(t, "ALICE", got)

	handle, err := f.svc.AccountHandle(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "1001", handle)

	b, err := f.svc.GetBalance(ctx, "ALICE")
	require.NoError(t, err)
	assert.True(t, b.IsZero())
	assert.Equal(t, 1, f.events.count(notify.UserRegistered))
}

func TestRegisterIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)

	f.register(t, "1001", "ALICE")
	f.deposit(t, "ALICE", ledger.Delta{WL: 10})
	f.register(t, "1001", "alice")

	b, err := f.svc.GetBalance(context.Background(), "ALICE")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Total(), "повторная регистрация не сбрасывает счёт")
	assert.Equal(t, 1, f.events.count(notify.UserRegistered))
}

func TestRegisterConflicts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "1001", "ALICE")

	// GIVEN GrowID ALICE принадлежит 1001
	// WHEN другой пользователь пытается его занять
	_, err := f.svc.Register(ctx, "2002", "alice")
	// THEN привязка отклоняется
	assert.ErrorIs(t, err, common.ErrAlreadyLinked)

	// у 1001 уже есть GrowID
	_, err = f.svc.Register(ctx, "1001", "BOB")
	assert.ErrorIs(t, err, common.ErrAlreadyLinked)

	_, err = f.svc.ResolveAccount(ctx, "2002")
	assert.ErrorIs(t, err, common.ErrNotRegistered)
}

func TestScenarioRelinkKeepsFirstAccount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// GIVEN H1 привязан к ALICE
	f.register(t, "H1", "ALICE")

	// WHEN H1 пытается привязать BOB
	_, err := f.svc.Register(ctx, "H1", "BOB")
	require.ErrorIs(t, err, common.ErrAlreadyLinked)

	// THEN H1 по-прежнему ALICE
	account, err := f.svc.ResolveAccount(ctx, "H1")
	require.NoError(t, err)
	assert.Equal(t, "ALICE", account)
}

func TestRegisterValidatesAccount(t *testing.T) {
	f := newFixture(t, nil)
	for _, name := range []string{"ab", "bad name", "имя", "A23456789012345678901234567890X"} {
		_, err := f.svc.Register(context.Background(), "1001", name)
		assert.ErrorIs(t, err, common.ErrInvalidIdentity, name)
	}
}

func TestGetBalanceUnknownAccount(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.GetBalance(context.Background(), "NOBODY")
	assert.ErrorIs(t, err, common.ErrAccountNotFound)
	assert.True(t, common.IsNotFound(err))
}

func TestUpdateBalanceWritesHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "1001", "ALICE")

	b := f.deposit(t, "ALICE", ledger.Delta{DL: 1, WL: 5})
	assert.Equal(t, int64(105), b.Total())

	entries, err := f.svc.GetHistory(ctx, "ALICE", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindDeposit, entries[0].Kind)
	assert.Equal(t, "0 WL", entries[0].OldBalance)
	assert.Equal(t, b.Format(), entries[0].NewBalance)
	assert.Equal(t, 1, f.events.count(notify.BalanceUpdated))
}

func TestReadAfterWriteIsFresh(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "1001", "ALICE")

	// баланс попадает в кэш
	_, err := f.svc.GetBalance(ctx, "ALICE")
	require.NoError(t, err)

	f.deposit(t, "ALICE", ledger.Delta{WL: 42})

	b, err := f.svc.GetBalance(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, int64(42), b.Total())

	// история тоже не отдаётся из старого кэша
	_, err = f.svc.GetHistory(ctx, "ALICE", 10)
	require.NoError(t, err)
	f.deposit(t, "ALICE", ledger.Delta{WL: 1})
	entries, err := f.svc.GetHistory(ctx, "ALICE", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestInsufficientBalanceChangesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "1001", "ALICE")
	f.deposit(t, "ALICE", ledger.Delta{WL: 20})

	_, err := f.svc.UpdateBalance(ctx, UpdateRequest{Account: "ALICE", Debit: 50, Kind: KindWithdrawal})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	// по отдельной валюте тоже нельзя уйти в минус
	_, err = f.svc.UpdateBalance(ctx, UpdateRequest{Account: "ALICE", Delta: ledger.Delta{DL: -1}, Kind: KindAdminRemove})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	b, err := f.svc.GetBalance(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, int64(20), b.Total())

	entries, err := f.svc.GetHistory(ctx, "ALICE", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestDebitMakesChangeAcrossTiers(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "1001", "ALICE")
	f.deposit(t, "ALICE", ledger.Delta{DL: 1})

	// GIVEN 1 DL и ни одного WL
	// WHEN списываем 30 WL
	b, err := f.svc.UpdateBalance(context.Background(), UpdateRequest{Account: "ALICE", Debit: 30, Kind: KindPurchase})
	// THEN DL разменивается, итог уменьшается ровно на 30
	require.NoError(t, err)
	assert.Equal(t, int64(70), b.Total())
	assert.True(t, b.Validate())
}

func TestUpdateBalanceRejectsBadRequests(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "1001", "ALICE")

	_, err := f.svc.UpdateBalance(ctx, UpdateRequest{Account: "ALICE", Kind: KindDeposit})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = f.svc.UpdateBalance(ctx, UpdateRequest{Account: "ALICE", Delta: ledger.Delta{WL: 1}, Debit: 1, Kind: KindDeposit})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = f.svc.UpdateBalance(ctx, UpdateRequest{Account: "ALICE", Delta: ledger.Delta{BGL: 101}, Kind: KindDeposit})
	assert.ErrorIs(t, err, common.ErrInvalidAmount, "больше MaxAmount")

	_, err = f.svc.UpdateBalance(ctx, UpdateRequest{Account: "NOBODY", Delta: ledger.Delta{WL: 1}, Kind: KindDeposit})
	assert.ErrorIs(t, err, common.ErrAccountNotFound)

	_, err = f.svc.UpdateBalance(ctx, UpdateRequest{Account: "ALICE", Delta: ledger.Delta{WL: 1}, Kind: Kind("bonus")})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
	assert.True(t, common.IsClientError(err))

	_, err = f.svc.UpdateBalance(ctx, UpdateRequest{Account: "ALICE", Delta: ledger.Delta{WL: 1}, Reset: true, Kind: KindAdminReset})
	assert.ErrorIs(t, err, common.ErrInvalidAmount)
}

func TestIdempotencyKeyAppliesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "1001", "ALICE")

	req := UpdateRequest{Account: "ALICE", Delta: ledger.Delta{WL: 100}, Kind: KindDeposit, IdempotencyKey: "donation-1"}
	_, err := f.svc.UpdateBalance(ctx, req)
	require.NoError(t, err)

	_, err = f.svc.UpdateBalance(ctx, req)
	assert.ErrorIs(t, err, common.ErrDuplicateOperation)

	applied, err := f.svc.OperationApplied(ctx, "donation-1")
	require.NoError(t, err)
	assert.True(t, applied)

	b, err := f.svc.GetBalance(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Total())
}

func TestConcurrentUpdatesAreNotLost(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "1001", "ALICE")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.UpdateBalance(ctx, UpdateRequest{
				Account: "ALICE",
				Delta:   ledger.Delta{WL: 1},
				Kind:    KindDeposit,
				Detail:  fmt.Sprintf("deposit %d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b, err := f.svc.GetBalance(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, int64(n), b.Total())

	entries, err := f.svc.GetHistory(ctx, "ALICE", 50)
	require.NoError(t, err)
	assert.Len(t, entries, n)
}

func TestStoreFailureKeepsBalance(t *testing.T) {
	boom := errors.New("disk full")
	var fs *failingStore
	f := newFixture(t, func(s Store) Store {
		fs = &failingStore{Store: s}
		return fs
	})
	ctx := context.Background()
	f.register(t, "1001", "ALICE")
	f.deposit(t, "ALICE", ledger.Delta{WL: 10})

	fs.err = boom
	_, err := f.svc.UpdateBalance(ctx, UpdateRequest{Account: "ALICE", Delta: ledger.Delta{WL: 5}, Kind: KindDeposit})
	assert.ErrorIs(t, err, common.ErrTransactionFailed)
	assert.ErrorIs(t, err, boom)
	assert.False(t, common.IsClientError(err))

	b, err := f.svc.GetBalance(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Total())
}

func TestStaleCachedBalanceIsDropped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "1001", "ALICE")
	f.deposit(t, "ALICE", ledger.Delta{WL: 10})

	// GIVEN в кэше баланс, которого нет в БД
	require.NoError(t, f.cache.Set(ctx, keyBalance("ALICE"), ledger.New(500, 0, 0), cache.TTLShort, false))

	// WHEN изменяем баланс
	_, err := f.svc.UpdateBalance(ctx, UpdateRequest{Account: "ALICE", Debit: 100, Kind: KindWithdrawal})

	// THEN операция не проходит, а кэш сбрасывается
	assert.ErrorIs(t, err, common.ErrTransactionFailed)
	b, err := f.svc.GetBalance(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Total())

	b = f.deposit(t, "ALICE", ledger.Delta{WL: 1})
	assert.Equal(t, int64(11), b.Total())
}

func TestHistoryLimitAndOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "1001", "ALICE")
	for i := 1; i <= 5; i++ {
		f.deposit(t, "ALICE", ledger.Delta{WL: int64(i)})
	}

	short, err := f.svc.GetHistory(ctx, "ALICE", 2)
	require.NoError(t, err)
	require.Len(t, short, 2)
	assert.Equal(t, "15 WL", short[0].NewBalance, "новые записи первыми")

	// страница с меньшим лимитом из кэша не подходит
	all, err := f.svc.GetHistory(ctx, "ALICE", 5)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	again, err := f.svc.GetHistory(ctx, "ALICE", 3)
	require.NoError(t, err)
	assert.Len(t, again, 3)
}

func TestLargeTransactionEvent(t *testing.T) {
	f := newFixture(t, nil)
	f.register(t, "1001", "ALICE")

	f.deposit(t, "ALICE", ledger.Delta{DL: 99})
	assert.Equal(t, 0, f.events.count(notify.LargeTransaction))

	f.deposit(t, "ALICE", ledger.Delta{BGL: 1})
	assert.Equal(t, 1, f.events.count(notify.LargeTransaction))
}

func TestResetBalance(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "1001", "ALICE")

	// пустой счёт не трогаем
	_, _, err := f.svc.ResetBalance(ctx, "ALICE", "reset")
	require.NoError(t, err)
	entries, err := f.svc.GetHistory(ctx, "ALICE", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	f.deposit(t, "ALICE", ledger.Delta{BGL: 1, DL: 2, WL: 3})
	old, next, err := f.svc.ResetBalance(ctx, "ALICE", "reset")
	require.NoError(t, err)
	assert.Equal(t, int64(10203), old.Total())
	assert.True(t, next.IsZero())
}

func TestResetDuringDepositsLeavesNothingBehind(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.register(t, "1001", "ALICE")
	f.deposit(t, "ALICE", ledger.Delta{WL: 100})

	// GIVEN пополнения идут параллельно с обнулением
	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n+1)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.UpdateBalance(ctx, UpdateRequest{Account: "ALICE", Delta: ledger.Delta{WL: 1}, Kind: KindDeposit})
			errs <- err
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := f.svc.ResetBalance(ctx, "ALICE", "reset")
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// THEN обнуление списало всё, что было на момент записи,
	// а на счёте остались только пополнения после него
	entries, err := f.svc.GetHistory(ctx, "ALICE", 50)
	require.NoError(t, err)
	require.Len(t, entries, n+2)

	after := -1
	for i, e := range entries {
		if e.Kind == KindAdminReset {
			after = i
			assert.Equal(t, "0 WL", e.NewBalance)
		}
	}
	require.GreaterOrEqual(t, after, 0)

	b, err := f.svc.GetBalance(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, int64(after), b.Total())
}
