package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/discord-shop/internal/cache"
	"serotonyl.ru/discord-shop/internal/db/sqlite"
	"serotonyl.ru/discord-shop/internal/features/admin"
	"serotonyl.ru/discord-shop/internal/features/donation"
	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/shop"
	"serotonyl.ru/discord-shop/internal/features/trx"
	"serotonyl.ru/discord-shop/internal/locks"
	"serotonyl.ru/discord-shop/internal/notify"
)

const token = "api-secret"

type server struct {
	router   http.Handler
	balances *economy.Service
	catalog  *shop.Service
}

func newServer(t *testing.T, ping func(context.Context) error) *server {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hash, err := admin.HashToken(token)
	require.NoError(t, err)

	c := cache.New(cache.NewSQLiteBackend(db))
	l := locks.NewRegistry(5 * time.Second)
	hub := notify.NewHub()
	balances := economy.NewService(economy.NewSQLiteRepository(db), c, l, hub, economy.Settings{})
	catalog := shop.NewService(shop.NewSQLiteRepository(db), c, l, hub, shop.Settings{})
	coord := trx.NewCoordinator(balances, catalog, l, hub)
	adm := admin.NewService(admin.NewSQLiteRepository(db), balances, coord, c, admin.Settings{APITokenHash: hash})

	h := NewHandler(Deps{
		Balances:  balances,
		Catalog:   catalog,
		Donations: donation.NewService(coord, 0),
		Admin:     adm,
		Ping:      ping,
	})
	return &server{router: NewRouter(h, []string{"*"}), balances: balances, catalog: catalog}
}

func (s *server) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newServer(t, func(context.Context) error { return nil })
	rec := s.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newServer(t, func(context.Context) error { return errors.New("connection refused") })
	rec = down.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetBalance(t *testing.T) {
	s := newServer(t, nil)
	_, err := s.balances.Register(context.Background(), "1001", "ALICE")
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/v1/accounts/alice/balance", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got BalanceDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ALICE", got.Account)
	assert.Equal(t, "0 WL", got.Text)

	rec = s.do(t, http.MethodGet, "/api/v1/accounts/GHOST/balance", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDonationRequiresToken(t *testing.T) {
	s := newServer(t, nil)
	body := DonationRequest{GrowID: "ALICE", WL: 50}

	rec := s.do(t, http.MethodPost, "/api/v1/donations", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/donations", body, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDonationFlow(t *testing.T) {
	s := newServer(t, nil)
	ctx := context.Background()
	_, err := s.balances.Register(ctx, "1001", "ALICE")
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + token}

	// GIVEN: донат 1 DL 5 WL с ключом
	body := DonationRequest{GrowID: "alice", WL: 5, DL: 1, IdempotencyKey: "ext-1"}

	// WHEN: запрос отправлен
	rec := s.do(t, http.MethodPost, "/api/v1/donations", body, auth)

	// THEN: зачислено 105 WL
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var got DonationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(105), got.Amount)
	assert.Equal(t, int64(105), got.Balance.Total)
	assert.NotEmpty(t, got.OpID)

	// WHEN: тот же ключ ещё раз
	rec = s.do(t, http.MethodPost, "/api/v1/donations", body, auth)

	// THEN: 409 и баланс прежний
	assert.Equal(t, http.StatusConflict, rec.Code)
	b, err := s.balances.GetBalance(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, int64(105), b.Total())

	rec = s.do(t, http.MethodPost, "/api/v1/donations", DonationRequest{GrowID: "ALICE", WL: 1}, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/accounts/ALICE/history?limit=5", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history HistoryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history.Entries, 1)
	assert.Equal(t, economy.KindDonation, history.Entries[0].Kind)
}

func TestHistoryLimitValidation(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/accounts/ALICE/history?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/accounts/ALICE/history?limit=abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListProducts(t *testing.T) {
	s := newServer(t, nil)
	ctx := context.Background()
	_, err := s.catalog.CreateProduct(ctx, "VIP", "VIP доступ", 150, "")
	require.NoError(t, err)
	_, err = s.catalog.AddStock(ctx, "VIP", []string{"a", "b"}, "42")
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/v1/products", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []ProductDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "VIP", got[0].Code)
	assert.Equal(t, 2, got[0].Stock)
	assert.Equal(t, int64(150), got[0].Price)
}

func TestCacheStats(t *testing.T) {
	s := newServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/cache/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st cache.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, cache.DefaultMaxEntries, st.MaxEntries)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newServer(t, nil)
	s.do(t, http.MethodGet, "/healthz", nil, nil)
	rec := s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shop_http_requests_total")
}
