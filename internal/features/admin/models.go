// Package admin - команды администраторов: корректировка балансов,
// режим обслуживания, чёрный список и проверка токена HTTP API.
// models.go описывает структуры и интерфейс хранилища.
package admin

import (
	"context"
	"time"

	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/ledger"
)

// BlacklistEntry - пользователь, которому запрещено пользоваться ботом.
type BlacklistEntry struct {
	Handle    string    `db:"handle" json:"handle"`
	Reason    string    `db:"reason" json:"reason"`
	AddedBy   string    `db:"added_by" json:"added_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Report - сводка по счёту для !checkbal.
type Report struct {
	Account string
	Handle  string
	Balance ledger.Balance
	History []economy.Entry
}

// Store - хранилище чёрного списка.
type Store interface {
	// AddBlacklist возвращает false, если пользователь уже в списке.
	AddBlacklist(ctx context.Context, e BlacklistEntry) (bool, error)
	// RemoveBlacklist возвращает false, если пользователя не было в списке.
	RemoveBlacklist(ctx context.Context, handle string) (bool, error)
	IsBlacklisted(ctx context.Context, handle string) (bool, error)
	Blacklist(ctx context.Context) ([]BlacklistEntry, error)
}
