package donation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/discord-shop/internal/cache"
	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/db/sqlite"
	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/shop"
	"serotonyl.ru/discord-shop/internal/features/trx"
	"serotonyl.ru/discord-shop/internal/locks"
	"serotonyl.ru/discord-shop/internal/notify"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Donation
		wantErr bool
	}{
		{
			name:    "все валюты",
			content: "GrowID: alice\nJumlah: 5 World Lock, 1 Diamond Lock, 2 Blue Gem Lock",
			want:    Donation{Account: "ALICE", WL: 5, DL: 1, BGL: 2},
		},
		{
			name:    "только DL",
			content: "GrowID: BOB_1\nJumlah: 3 Diamond Lock",
			want:    Donation{Account: "BOB_1", DL: 3},
		},
		{
			name:    "повтор валюты складывается",
			content: "GrowID: X1\nJumlah: 5 World Lock, 7 World Lock",
			want:    Donation{Account: "X1", WL: 12},
		},
		{name: "без суммы", content: "GrowID: alice\nJumlah: ничего", wantErr: true},
		{name: "чужое сообщение", content: "привет всем", wantErr: true},
		{name: "переполнение", content: "GrowID: a\nJumlah: 99999999999999999999 World Lock", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, common.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDonationString(t *testing.T) {
	d := Donation{WL: 5, DL: 1}
	assert.Equal(t, "5 WL, 1 DL, 0 BGL", d.String())
	assert.Equal(t, int64(105), d.Total())
}

type fixture struct {
	balances *economy.Service
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := cache.New(cache.NewSQLiteBackend(db))
	l := locks.NewRegistry(5 * time.Second)
	hub := notify.NewHub()
	balances := economy.NewService(economy.NewSQLiteRepository(db), c, l, hub, economy.Settings{})
	catalog := shop.NewService(shop.NewSQLiteRepository(db), c, l, hub, shop.Settings{})
	coord := trx.NewCoordinator(balances, catalog, l, hub)

	_, err = balances.Register(context.Background(), "1001", "ALICE")
	require.NoError(t, err)
	return &fixture{balances: balances, svc: NewService(coord, 0)}
}

func TestProcessDonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Process(ctx, Donation{Account: "alice", WL: 5, DL: 1}, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "ALICE", res.Account)
	assert.Equal(t, int64(105), res.Balance.Total())

	history, err := f.balances.GetHistory(ctx, "ALICE", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, economy.KindDonation, history[0].Kind)
	assert.Contains(t, history[0].Detail, "5 WL, 1 DL, 0 BGL")
}

func TestProcessDonationRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Process(ctx, Donation{Account: "ALICE", WL: 9}, "small")
	assert.ErrorIs(t, err, common.ErrInvalidAmount)

	_, err = f.svc.Process(ctx, Donation{Account: "NOBODY", WL: 50}, "ghost")
	assert.ErrorIs(t, err, common.ErrAccountNotFound)

	b, err := f.balances.GetBalance(ctx, "ALICE")
	require.NoError(t, err)
	assert.True(t, b.IsZero())
}

func TestProcessDonationOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Process(ctx, Donation{Account: "ALICE", DL: 1}, "msg-7")
	require.NoError(t, err)
	_, err = f.svc.Process(ctx, Donation{Account: "ALICE", DL: 1}, "msg-7")
	assert.ErrorIs(t, err, common.ErrDuplicateOperation)

	b, err := f.balances.GetBalance(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, int64(100), b.Total())
}

type recorder struct {
	mu   sync.Mutex
	sent []string
}

func (r *recorder) Send(_, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func TestHandleMessage(t *testing.T) {
	f := newFixture(t)
	rec := &recorder{}
	h := NewHandler(f.svc, rec)

	h.HandleMessage(context.Background(), "donations", "m1", "GrowID: ALICE\nJumlah: 1 Blue Gem Lock")
	h.HandleMessage(context.Background(), "donations", "m2", "что-то непонятное")

	require.Len(t, rec.sent, 2)
	assert.Contains(t, rec.sent[0], "10,000")
	assert.Contains(t, rec.sent[1], "❌")
}
