// Package admin - repository.go работает с таблицей blacklist в PostgreSQL.
package admin

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository работает с чёрным списком.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт репозиторий.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AddBlacklist(ctx context.Context, e BlacklistEntry) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO blacklist (handle, reason, added_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (handle) DO NOTHING
	`, e.Handle, e.Reason, e.AddedBy)
	if err != nil {
		return false, fmt.Errorf("ошибка добавления в чёрный список: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) RemoveBlacklist(ctx context.Context, handle string) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM blacklist WHERE handle = $1`, handle)
	if err != nil {
		return false, fmt.Errorf("ошибка удаления из чёрного списка: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) IsBlacklisted(ctx context.Context, handle string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM blacklist WHERE handle = $1)`, handle).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки чёрного списка: %w", err)
	}
	return exists, nil
}

func (r *Repository) Blacklist(ctx context.Context) ([]BlacklistEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT handle, reason, added_by, created_at
		FROM blacklist ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения чёрного списка: %w", err)
	}
	defer rows.Close()

	var out []BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		if err := rows.Scan(&e.Handle, &e.Reason, &e.AddedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
