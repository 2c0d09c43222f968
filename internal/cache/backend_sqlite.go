package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"serotonyl.ru/discord-shop/internal/db/sqlite"
)

// SQLiteBackend хранит долговременные записи в таблице cache локальной базы.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend создаёт долговременный уровень поверх SQLite.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) Load(ctx context.Context, key string) (Record, bool, error) {
	var (
		value   string
		expires sql.NullString
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM cache WHERE key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	exp, err := sqlite.ParseNullTime(expires)
	if err != nil {
		return Record{}, false, err
	}
	return Record{Key: key, Value: []byte(value), ExpiresAt: exp}, true, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, rec Record) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO cache (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE
		SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at
	`, rec.Key, string(rec.Value), sqlite.NullTime(rec.ExpiresAt), sqlite.FormatTime(time.Now()))
	return err
}

func (b *SQLiteBackend) Remove(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
	return err
}

func (b *SQLiteBackend) RemovePrefix(ctx context.Context, prefix string) error {
	// substr вместо LIKE: в SQLite LIKE не различает регистр
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM cache WHERE substr(key, 1, ?) = ?`, len([]rune(prefix)), prefix)
	return err
}

func (b *SQLiteBackend) Clear(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM cache`)
	return err
}

func (b *SQLiteBackend) Purge(ctx context.Context, now time.Time) (int64, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM cache WHERE expires_at IS NOT NULL AND expires_at <= ?`, sqlite.FormatTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (b *SQLiteBackend) Count(ctx context.Context, now time.Time) (int64, int64, error) {
	var live, expired int64
	ts := sqlite.FormatTime(now)
	err := b.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN expires_at IS NULL OR expires_at > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0)
		FROM cache
	`, ts, ts).Scan(&live, &expired)
	return live, expired, err
}

