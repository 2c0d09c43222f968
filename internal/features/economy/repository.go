// Package economy - repository.go выполняет операции с таблицами
// identity_link, accounts и ledger в PostgreSQL.
// Изменение баланса и запись истории идут в одной транзакции БД.
package economy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/discord-shop/internal/db/postgres"
	"serotonyl.ru/discord-shop/internal/features/ledger"
)

// Repository - хранилище балансов в PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий балансов.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) LinkByHandle(ctx context.Context, handle string) (Link, bool, error) {
	return r.queryLink(ctx, `SELECT handle, account_name, created_at FROM identity_link WHERE handle = $1`, handle)
}

func (r *Repository) LinkByAccount(ctx context.Context, account string) (Link, bool, error) {
	return r.queryLink(ctx, `SELECT handle, account_name, created_at FROM identity_link WHERE account_name = $1`, account)
}

func (r *Repository) queryLink(ctx context.Context, query string, arg string) (Link, bool, error) {
	var l Link
	err := r.db.QueryRow(ctx, query, arg).Scan(&l.Handle, &l.Account, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Link{}, false, nil
	}
	if err != nil {
		return Link{}, false, fmt.Errorf("ошибка поиска привязки: %w", err)
	}
	return l, true, nil
}

// CreateLink создаёт привязку и нулевой счёт в одной транзакции.
func (r *Repository) CreateLink(ctx context.Context, handle, account string) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO identity_link (handle, account_name)
		VALUES ($1, $2)
		ON CONFLICT (handle) DO NOTHING
	`, handle, account)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return false, ErrConflict
		}
		return false, fmt.Errorf("ошибка создания привязки: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO accounts (account_name, wl, dl, bgl)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (account_name) DO NOTHING
	`, account)
	if err != nil {
		return false, fmt.Errorf("ошибка создания счёта: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) Balance(ctx context.Context, account string) (ledger.Balance, bool, error) {
	var b ledger.Balance
	err := r.db.QueryRow(ctx,
		`SELECT wl, dl, bgl FROM accounts WHERE account_name = $1`, account,
	).Scan(&b.WL, &b.DL, &b.BGL)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Balance{}, false, nil
	}
	if err != nil {
		return ledger.Balance{}, false, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return b, true, nil
}

// ApplyUpdate обновляет счёт и добавляет запись истории.
// Обновление условное: строка меняется, только если в ней всё ещё u.Old.
func (r *Repository) ApplyUpdate(ctx context.Context, u Update) (Entry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET wl = $2, dl = $3, bgl = $4, updated_at = NOW()
		WHERE account_name = $1 AND wl = $5 AND dl = $6 AND bgl = $7
	`, u.Account, u.New.WL, u.New.DL, u.New.BGL, u.Old.WL, u.Old.DL, u.Old.BGL)
	if err != nil {
		return Entry{}, fmt.Errorf("ошибка обновления баланса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM accounts WHERE account_name = $1)`, u.Account,
		).Scan(&exists); err != nil {
			return Entry{}, fmt.Errorf("ошибка проверки счёта: %w", err)
		}
		if !exists {
			return Entry{}, ErrNoAccount
		}
		return Entry{}, ErrStale
	}

	e := Entry{
		Account:        u.Account,
		Kind:           u.Kind,
		Detail:         u.Detail,
		OldBalance:     u.Old.Format(),
		NewBalance:     u.New.Format(),
		IdempotencyKey: u.IdempotencyKey,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO ledger (account_name, kind, detail, old_balance, new_balance, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING id, created_at
	`, e.Account, string(e.Kind), e.Detail, e.OldBalance, e.NewBalance, e.IdempotencyKey,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return Entry{}, ErrConflict
		}
		return Entry{}, fmt.Errorf("ошибка записи истории: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return e, nil
}

// History возвращает последние limit записей истории, новые первыми.
func (r *Repository) History(ctx context.Context, account string, limit int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, account_name, kind, detail, old_balance, new_balance,
		       COALESCE(idempotency_key, ''), created_at
		FROM ledger
		WHERE account_name = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.Account, &kind, &e.Detail, &e.OldBalance,
			&e.NewBalance, &e.IdempotencyKey, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения истории: %w", err)
		}
		e.Kind = Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *Repository) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger WHERE idempotency_key = $1)`, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки ключа идемпотентности: %w", err)
	}
	return exists, nil
}
