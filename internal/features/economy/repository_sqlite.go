package economy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"serotonyl.ru/discord-shop/internal/db/sqlite"
	"serotonyl.ru/discord-shop/internal/features/ledger"
)

// SQLiteRepository - хранилище балансов в SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository создаёт репозиторий балансов поверх SQLite.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) LinkByHandle(ctx context.Context, handle string) (Link, bool, error) {
	return r.queryLink(ctx, `SELECT handle, account_name, created_at FROM identity_link WHERE handle = ?`, handle)
}

func (r *SQLiteRepository) LinkByAccount(ctx context.Context, account string) (Link, bool, error) {
	return r.queryLink(ctx, `SELECT handle, account_name, created_at FROM identity_link WHERE account_name = ?`, account)
}

func (r *SQLiteRepository) queryLink(ctx context.Context, query string, arg string) (Link, bool, error) {
	var (
		l       Link
		created string
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&l.Handle, &l.Account, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Link{}, false, nil
	}
	if err != nil {
		return Link{}, false, fmt.Errorf("ошибка поиска привязки: %w", err)
	}
	if l.CreatedAt, err = sqlite.ParseTime(created); err != nil {
		return Link{}, false, fmt.Errorf("ошибка чтения привязки: %w", err)
	}
	return l, true, nil
}

func (r *SQLiteRepository) CreateLink(ctx context.Context, handle, account string) (bool, error) {
	var created bool
	now := sqlite.FormatTime(time.Now())

	err := sqlite.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO identity_link (handle, account_name, created_at)
			VALUES (?, ?, ?)
			ON CONFLICT (handle) DO NOTHING
		`, handle, account, now)
		if err != nil {
			if sqlite.IsUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("ошибка создания привязки: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n == 1

		_, err = tx.ExecContext(ctx, `
			INSERT INTO accounts (account_name, wl, dl, bgl, updated_at)
			VALUES (?, 0, 0, 0, ?)
			ON CONFLICT (account_name) DO NOTHING
		`, account, now)
		if err != nil {
			return fmt.Errorf("ошибка создания счёта: %w", err)
		}
		return nil
	})
	return created, err
}

func (r *SQLiteRepository) Balance(ctx context.Context, account string) (ledger.Balance, bool, error) {
	var b ledger.Balance
	err := r.db.QueryRowContext(ctx,
		`SELECT wl, dl, bgl FROM accounts WHERE account_name = ?`, account,
	).Scan(&b.WL, &b.DL, &b.BGL)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Balance{}, false, nil
	}
	if err != nil {
		return ledger.Balance{}, false, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return b, true, nil
}

func (r *SQLiteRepository) ApplyUpdate(ctx context.Context, u Update) (Entry, error) {
	now := time.Now().UTC()
	e := Entry{
		Account:        u.Account,
		Kind:           u.Kind,
		Detail:         u.Detail,
		OldBalance:     u.Old.Format(),
		NewBalance:     u.New.Format(),
		IdempotencyKey: u.IdempotencyKey,
		CreatedAt:      now,
	}

	err := sqlite.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE accounts
			SET wl = ?, dl = ?, bgl = ?, updated_at = ?
			WHERE account_name = ? AND wl = ? AND dl = ? AND bgl = ?
		`, u.New.WL, u.New.DL, u.New.BGL, sqlite.FormatTime(now), u.Account, u.Old.WL, u.Old.DL, u.Old.BGL)
		if err != nil {
			return fmt.Errorf("ошибка обновления баланса: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM accounts WHERE account_name = ?`, u.Account,
			).Scan(&exists); err != nil {
				return fmt.Errorf("ошибка проверки счёта: %w", err)
			}
			if exists == 0 {
				return ErrNoAccount
			}
			return ErrStale
		}

		var key any
		if e.IdempotencyKey != "" {
			key = e.IdempotencyKey
		}
		res, err = tx.ExecContext(ctx, `
			INSERT INTO ledger (account_name, kind, detail, old_balance, new_balance, idempotency_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, e.Account, string(e.Kind), e.Detail, e.OldBalance, e.NewBalance, key, sqlite.FormatTime(now))
		if err != nil {
			if sqlite.IsUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("ошибка записи истории: %w", err)
		}
		e.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (r *SQLiteRepository) History(ctx context.Context, account string, limit int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_name, kind, detail, old_balance, new_balance,
		       COALESCE(idempotency_key, ''), created_at
		FROM ledger
		WHERE account_name = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, account, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e             Entry
			kind, created string
		)
		if err := rows.Scan(&e.ID, &e.Account, &kind, &e.Detail, &e.OldBalance,
			&e.NewBalance, &e.IdempotencyKey, &created); err != nil {
			return nil, fmt.Errorf("ошибка чтения истории: %w", err)
		}
		e.Kind = Kind(kind)
		if e.CreatedAt, err = sqlite.ParseTime(created); err != nil {
			return nil, fmt.Errorf("ошибка чтения истории: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *SQLiteRepository) HasIdempotencyKey(ctx context.Context, key string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger WHERE idempotency_key = ?`, key,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки ключа идемпотентности: %w", err)
	}
	return n > 0, nil
}
