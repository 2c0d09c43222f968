// Package economy - сервис балансов: привязка Discord-аккаунта к GrowID,
// счета в WL/DL/BGL и история операций.
// models.go описывает структуры и интерфейс хранилища.
package economy

import (
	"context"
	"errors"
	"time"

	"serotonyl.ru/discord-shop/internal/features/ledger"
)

// Link - привязка Discord-аккаунта (handle) к GrowID (account).
// Привязка взаимно однозначная: у handle один GrowID, у GrowID один handle.
type Link struct {
	Handle    string    `db:"handle"`
	Account   string    `db:"account_name"`
	CreatedAt time.Time `db:"created_at"`
}

// Kind - вид операции в истории.
type Kind string

const (
	KindPurchase    Kind = "purchase"
	KindDeposit     Kind = "deposit"
	KindWithdrawal  Kind = "withdrawal"
	KindAdminAdd    Kind = "admin_add"
	KindAdminRemove Kind = "admin_remove"
	KindAdminReset  Kind = "admin_reset"
	KindRefund      Kind = "refund"
	KindTransfer    Kind = "transfer"
	KindDonation    Kind = "donation"
)

// Valid - вид из списка выше.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindDeposit, KindWithdrawal, KindAdminAdd, KindAdminRemove,
		KindAdminReset, KindRefund, KindTransfer, KindDonation:
		return true
	}
	return false
}

// Entry - неизменяемая запись истории: одна на каждое изменение баланса.
// OldBalance и NewBalance - баланс до и после в формате ledger.Balance.Format.
type Entry struct {
	ID             int64     `db:"id" json:"id"`
	Account        string    `db:"account_name" json:"account"`
	Kind           Kind      `db:"kind" json:"kind"`
	Detail         string    `db:"detail" json:"detail"`
	OldBalance     string    `db:"old_balance" json:"old_balance"`
	NewBalance     string    `db:"new_balance" json:"new_balance"`
	IdempotencyKey string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Update - то, что репозиторий записывает одной транзакцией:
// новые значения счёта и запись истории.
type Update struct {
	Account        string
	Old            ledger.Balance
	New            ledger.Balance
	Kind           Kind
	Detail         string
	IdempotencyKey string
}

// UpdateRequest - запрос на изменение баланса.
//
// Delta меняет каждую валюту отдельно. Debit вместо этого списывает сумму
// в WL с разменом старших валют (см. ledger.Debit). Reset обнуляет счёт
// по балансу, прочитанному под блокировкой. Указать можно что-то одно.
type UpdateRequest struct {
	Account        string
	Delta          ledger.Delta
	Debit          int64
	Reset          bool
	Detail         string
	Kind           Kind
	IdempotencyKey string
}

// Ошибки репозитория, которые сервис переводит в ошибки common.
var (
	// ErrConflict - нарушена уникальность (привязка или ключ идемпотентности)
	ErrConflict = errors.New("нарушение уникальности")
	// ErrStale - значения счёта в БД не совпали с ожидаемыми
	ErrStale = errors.New("баланс изменился во время операции")
	// ErrNoAccount - счёта нет
	ErrNoAccount = errors.New("счёт отсутствует")
)

// Store - хранилище балансов. Реализации: Repository (PostgreSQL, pgx)
// и SQLiteRepository.
type Store interface {
	LinkByHandle(ctx context.Context, handle string) (Link, bool, error)
	LinkByAccount(ctx context.Context, account string) (Link, bool, error)
	// CreateLink создаёт привязку и нулевой счёт, если их ещё нет.
	// Возвращает true, если привязка создана сейчас.
	CreateLink(ctx context.Context, handle, account string) (bool, error)
	Balance(ctx context.Context, account string) (ledger.Balance, bool, error)
	// ApplyUpdate записывает новый баланс и запись истории в одной транзакции.
	// Если в БД баланс не равен u.Old, возвращает ErrStale и ничего не меняет.
	ApplyUpdate(ctx context.Context, u Update) (Entry, error)
	History(ctx context.Context, account string, limit int) ([]Entry, error)
	HasIdempotencyKey(ctx context.Context, key string) (bool, error)
}
