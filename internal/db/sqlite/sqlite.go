// Package sqlite - локальное хранилище на SQLite.
//
// Используется для запуска магазина без PostgreSQL (STORE_DRIVER=sqlite)
// и в тестах (":memory:"). Схема та же, что и в PostgreSQL, с поправкой
// на диалект: время хранится текстом фиксированной ширины в UTC,
// чтобы строки сравнивались так же, как моменты времени.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"
)

// timeLayout - фиксированная ширина, всегда UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Open открывает базу по пути path и применяет миграции.
// ":memory:" - база в памяти, живёт пока открыто соединение.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite: %w", err)
	}

	// у каждого соединения к ":memory:" своя пустая база
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка миграции SQLite: %w", err)
	}

	log.WithField("path", path).Info("SQLite открыта")
	return db, nil
}

// Migrate применяет ещё не применённые версии схемы.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("ошибка создания таблицы миграций: %w", err)
	}

	for _, m := range migrations {
		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			var exists int
			if err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.version,
			).Scan(&exists); err != nil {
				return err
			}
			if exists > 0 {
				return nil
			}
			if _, err := tx.ExecContext(ctx, m.sql); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.version, FormatTime(time.Now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("миграция %d: %w", m.version, err)
		}
	}
	return nil
}

// WithTx выполняет fn в транзакции: фиксирует при nil, иначе откатывает.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// FormatTime переводит время в строку для хранения.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime разбирает строку, записанную FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// NullTime переводит необязательное время в значение для запроса.
func NullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}

// ParseNullTime разбирает необязательное время.
func ParseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := ParseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// IsUniqueViolation - нарушение UNIQUE или PRIMARY KEY.
func IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
