package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/cache"
	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/features/donation"
	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/ledger"
	"serotonyl.ru/discord-shop/internal/features/shop"
	"serotonyl.ru/discord-shop/internal/features/trx"
)

// MaxHistoryLimit - сколько записей истории можно запросить за раз.
const MaxHistoryLimit = 100

// Balances читает балансы и историю.
type Balances interface {
	GetBalance(ctx context.Context, account string) (ledger.Balance, error)
	GetHistory(ctx context.Context, account string, limit int) ([]economy.Entry, error)
}

// Catalog читает каталог и остатки.
type Catalog interface {
	ListProducts(ctx context.Context) ([]shop.Product, error)
	StockCount(ctx context.Context, code string) (int, error)
}

// Donations зачисляет донаты.
type Donations interface {
	Process(ctx context.Context, d donation.Donation, key string) (trx.MoneyResult, error)
}

// Admin проверяет токен и отдаёт статистику кэша.
type Admin interface {
	Authorize(token string) error
	CacheStats(ctx context.Context) (cache.Stats, error)
}

// Deps - зависимости обработчиков.
type Deps struct {
	Balances  Balances
	Catalog   Catalog
	Donations Donations
	Admin     Admin
	// Ping проверяет хранилище для /healthz
	Ping func(ctx context.Context) error
}

// Handler содержит обработчики HTTP API.
type Handler struct {
	deps Deps
}

// NewHandler создаёт обработчики.
func NewHandler(d Deps) *Handler {
	return &Handler{deps: d}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Warn("Ошибка записи ответа")
	}
}

// statusOf переводит вид ошибки в HTTP-статус.
func statusOf(err error) int {
	switch common.KindOf(err) {
	case common.ErrUnauthorized:
		return http.StatusUnauthorized
	case common.ErrDuplicateOperation, common.ErrAlreadyLinked, common.ErrProductExists:
		return http.StatusConflict
	case common.ErrLockAcquisitionFailed, common.ErrMaintenance:
		return http.StatusServiceUnavailable
	}
	if common.IsNotFound(err) {
		return http.StatusNotFound
	}
	if common.IsClientError(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	resp := ErrorResponse{Error: err.Error()}
	if kind := common.KindOf(err); kind != nil {
		resp.Kind = kind.Error()
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Ошибка HTTP API")
		resp.Error = common.ErrTransactionFailed.Error()
	}
	writeJSON(w, status, resp)
}

func balanceDTO(account string, b ledger.Balance) BalanceDTO {
	return BalanceDTO{
		Account: account,
		WL:      b.WL,
		DL:      b.DL,
		BGL:     b.BGL,
		Total:   b.Total(),
		Text:    b.Format(),
	}
}

// Health - GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ping != nil {
		if err := h.deps.Ping(r.Context()); err != nil {
			log.WithError(err).Warn("Хранилище недоступно")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CacheStats - GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.Admin.CacheStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetBalance - GET /api/v1/accounts/{account}/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	account := economy.NormalizeAccount(chi.URLParam(r, "account"))
	b, err := h.deps.Balances.GetBalance(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceDTO(account, b))
}

// GetHistory - GET /api/v1/accounts/{account}/history?limit=N.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	account := economy.NormalizeAccount(chi.URLParam(r, "account"))

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxHistoryLimit {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit должен быть от 1 до " + strconv.Itoa(MaxHistoryLimit)})
			return
		}
		limit = n
	}

	entries, err := h.deps.Balances.GetHistory(r.Context(), account, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []economy.Entry{}
	}
	writeJSON(w, http.StatusOK, HistoryDTO{Account: account, Entries: entries})
}

// ListProducts - GET /api/v1/products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.deps.Catalog.ListProducts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		n, err := h.deps.Catalog.StockCount(r.Context(), p.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		out = append(out, ProductDTO{
			Code:        p.Code,
			Name:        p.Name,
			Price:       p.Price,
			PriceText:   ledger.FormatPrice(p.Price),
			Description: p.Description,
			Stock:       n,
			CreatedAt:   p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// requireToken пропускает только запросы с верным Bearer-токеном.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, common.ErrUnauthorized)
			return
		}
		if err := h.deps.Admin.Authorize(strings.TrimSpace(token)); err != nil {
			log.WithField("remote", r.RemoteAddr).Warn("Запрос к API с неверным токеном")
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CreateDonation - POST /api/v1/donations.
// Ключ идемпотентности берётся из тела или заголовка Idempotency-Key.
// Без ключа запрос проводится как новый.
func (h *Handler) CreateDonation(w http.ResponseWriter, r *http.Request) {
	var req DonationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "некорректный JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.GrowID) == "" {
		writeError(w, common.Errorf(common.ErrInvalidIdentity, "не указан growid"))
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	if key == "" {
		key = uuid.NewString()
	}

	res, err := h.deps.Donations.Process(r.Context(), donation.Donation{
		Account: economy.NormalizeAccount(req.GrowID),
		WL:      req.WL,
		DL:      req.DL,
		BGL:     req.BGL,
	}, "api_"+key)
	if err != nil {
		if errors.Is(err, common.ErrDuplicateOperation) {
			log.WithField("key", key).Info("Повторный донат через API")
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, DonationResponse{
		OpID:    res.OpID,
		Amount:  res.Amount,
		Balance: balanceDTO(res.Account, res.Balance),
	})
}
