package api

import (
	"time"

	"serotonyl.ru/discord-shop/internal/features/economy"
)

// ErrorResponse - тело ответа с ошибкой.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// BalanceDTO - баланс счёта.
type BalanceDTO struct {
	Account string `json:"account"`
	WL      int64  `json:"wl"`
	DL      int64  `json:"dl"`
	BGL     int64  `json:"bgl"`
	Total   int64  `json:"total"`
	Text    string `json:"text"`
}

// HistoryDTO - страница истории операций.
type HistoryDTO struct {
	Account string          `json:"account"`
	Entries []economy.Entry `json:"entries"`
}

// ProductDTO - товар каталога с остатком.
type ProductDTO struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Price       int64     `json:"price"`
	PriceText   string    `json:"price_text"`
	Description string    `json:"description,omitempty"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
}

// DonationRequest - тело POST /api/v1/donations.
type DonationRequest struct {
	GrowID         string `json:"growid"`
	WL             int64  `json:"wl"`
	DL             int64  `json:"dl"`
	BGL            int64  `json:"bgl"`
	IdempotencyKey string `json:"idempotency_key"`
}

// DonationResponse - результат зачисления доната.
type DonationResponse struct {
	OpID    string     `json:"op_id"`
	Amount  int64      `json:"amount"`
	Balance BalanceDTO `json:"balance"`
}
