package cache

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/discord-shop/internal/db/postgres"
)

// PostgresBackend хранит долговременные записи в таблице cache.
type PostgresBackend struct {
	db *pgxpool.Pool
}

// NewPostgresBackend создаёт долговременный уровень поверх пула PostgreSQL.
func NewPostgresBackend(db *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{db: db}
}

func (b *PostgresBackend) Load(ctx context.Context, key string) (Record, bool, error) {
	rec := Record{Key: key}
	var value string
	err := b.db.QueryRow(ctx,
		`SELECT value, expires_at FROM cache WHERE key = $1`, key,
	).Scan(&value, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	rec.Value = []byte(value)
	return rec, true, nil
}

func (b *PostgresBackend) Save(ctx context.Context, rec Record) error {
	_, err := b.db.Exec(ctx, `
		INSERT INTO cache (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`, rec.Key, string(rec.Value), rec.ExpiresAt)
	return err
}

func (b *PostgresBackend) Remove(ctx context.Context, key string) error {
	_, err := b.db.Exec(ctx, `DELETE FROM cache WHERE key = $1`, key)
	return err
}

func (b *PostgresBackend) RemovePrefix(ctx context.Context, prefix string) error {
	_, err := b.db.Exec(ctx,
		`DELETE FROM cache WHERE key LIKE $1 ESCAPE '\'`, postgres.EscapeLike(prefix)+"%")
	return err
}

func (b *PostgresBackend) Clear(ctx context.Context) error {
	_, err := b.db.Exec(ctx, `DELETE FROM cache`)
	return err
}

func (b *PostgresBackend) Purge(ctx context.Context, now time.Time) (int64, error) {
	tag, err := b.db.Exec(ctx,
		`DELETE FROM cache WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (b *PostgresBackend) Count(ctx context.Context, now time.Time) (int64, int64, error) {
	var live, expired int64
	err := b.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE expires_at IS NULL OR expires_at > $1),
			COUNT(*) FILTER (WHERE expires_at <= $1)
		FROM cache
	`, now).Scan(&live, &expired)
	return live, expired, err
}
