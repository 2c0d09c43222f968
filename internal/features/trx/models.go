// Package trx - координатор операций, затрагивающих баланс и склад:
// покупка, депозит, вывод и перевод.
package trx

import (
	"context"

	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/ledger"
	"serotonyl.ru/discord-shop/internal/features/shop"
)

// State - этап выполнения операции.
type State string

const (
	StateStarted    State = "started"
	StateValidating State = "validating"
	StateReserving  State = "reserving"
	StateCommitting State = "committing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// PurchaseRequest - покупка Quantity единиц товара ProductCode.
type PurchaseRequest struct {
	BuyerHandle    string
	ProductCode    string
	Quantity       int
	IdempotencyKey string
}

// PurchaseResult - итог покупки.
type PurchaseResult struct {
	OpID    string
	Account string
	Product shop.Product
	Items   []string
	Total   int64
	Balance ledger.Balance
}

// MoneyRequest - депозит или вывод.
//
// Account задаётся, когда операцию проводит администратор по GrowID,
// иначе счёт определяется по Handle.
type MoneyRequest struct {
	Handle         string
	Account        string
	WL             int64
	DL             int64
	BGL            int64
	Actor          string
	Kind           economy.Kind
	Detail         string
	IdempotencyKey string
}

// Total - сумма запроса в WL.
func (r MoneyRequest) Total() int64 {
	return r.WL*ledger.RateWL + r.DL*ledger.RateDL + r.BGL*ledger.RateBGL
}

// MoneyResult - итог депозита или вывода.
type MoneyResult struct {
	OpID    string
	Account string
	Amount  int64
	Balance ledger.Balance
}

// TransferRequest - перевод Amount WL с GrowID отправителя на GrowID получателя.
type TransferRequest struct {
	FromHandle     string
	ToAccount      string
	Amount         int64
	IdempotencyKey string
}

// TransferResult - итог перевода.
type TransferResult struct {
	OpID     string
	From     string
	To       string
	Amount   int64
	Balance  ledger.Balance
	Receiver ledger.Balance
}

// Balances - то, что координатору нужно от сервиса балансов.
type Balances interface {
	ResolveAccount(ctx context.Context, handle string) (string, error)
	GetBalance(ctx context.Context, account string) (ledger.Balance, error)
	UpdateBalance(ctx context.Context, req economy.UpdateRequest) (ledger.Balance, error)
	OperationApplied(ctx context.Context, key string) (bool, error)
}

// Catalog - то, что координатору нужно от сервиса каталога.
type Catalog interface {
	GetProduct(ctx context.Context, code string) (shop.Product, error)
	AvailableStock(ctx context.Context, code string, quantity int) ([]shop.Unit, error)
	MarkSold(ctx context.Context, code string, units []shop.Unit, buyer string) error
	Restore(ctx context.Context, code string, units []shop.Unit) error
}
