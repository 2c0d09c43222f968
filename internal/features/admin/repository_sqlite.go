package admin

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"serotonyl.ru/discord-shop/internal/db/sqlite"
)

// SQLiteRepository - чёрный список в SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) AddBlacklist(ctx context.Context, e BlacklistEntry) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO blacklist (handle, reason, added_by, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (handle) DO NOTHING
	`, e.Handle, e.Reason, e.AddedBy, sqlite.FormatTime(time.Now()))
	if err != nil {
		return false, fmt.Errorf("ошибка добавления в чёрный список: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) RemoveBlacklist(ctx context.Context, handle string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM blacklist WHERE handle = ?`, handle)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления из чёрного списка: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *SQLiteRepository) IsBlacklisted(ctx context.Context, handle string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blacklist WHERE handle = ?`, handle).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки чёрного списка: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Blacklist(ctx context.Context) ([]BlacklistEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT handle, reason, added_by, created_at
		FROM blacklist ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения чёрного списка: %w", err)
	}
	defer rows.Close()

	var out []BlacklistEntry
	for rows.Next() {
		var (
			e       BlacklistEntry
			created string
		)
		if err := rows.Scan(&e.Handle, &e.Reason, &e.AddedBy, &created); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = sqlite.ParseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
