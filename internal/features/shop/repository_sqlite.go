package shop

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"serotonyl.ru/discord-shop/internal/db/sqlite"
)

// SQLiteRepository - хранилище каталога в SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository создаёт репозиторий каталога поверх SQLite.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateProduct(ctx context.Context, p Product) (Product, error) {
	p.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (code, name, price, description, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.Code, p.Name, p.Price, p.Description, sqlite.FormatTime(p.CreatedAt))
	if err != nil {
		if sqlite.IsUniqueViolation(err) {
			return Product{}, ErrDuplicate
		}
		return Product{}, fmt.Errorf("ошибка создания товара: %w", err)
	}
	return p, nil
}

func scanProduct(scan func(dest ...any) error) (Product, error) {
	var (
		p       Product
		created string
	)
	if err := scan(&p.Code, &p.Name, &p.Price, &p.Description, &created); err != nil {
		return Product{}, err
	}
	var err error
	p.CreatedAt, err = sqlite.ParseTime(created)
	return p, err
}

func (r *SQLiteRepository) Product(ctx context.Context, code string) (Product, bool, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT code, name, price, description, created_at
		FROM products WHERE code = ?
	`, code).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, fmt.Errorf("ошибка поиска товара: %w", err)
	}
	return p, true, nil
}

func (r *SQLiteRepository) Products(ctx context.Context) ([]Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, name, price, description, created_at
		FROM products ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения каталога: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения товара: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) InsertStock(ctx context.Context, code string, contents []string, addedBy string) (int, error) {
	now := sqlite.FormatTime(time.Now())
	err := sqlite.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stock (product_code, content, status, added_by, added_at, updated_at)
			VALUES (?, ?, 'available', ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range contents {
			if _, err := stmt.ExecContext(ctx, code, c, addedBy, now, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка добавления на склад: %w", err)
	}
	return len(contents), nil
}

func (r *SQLiteRepository) Summary(ctx context.Context, code string) (Summary, error) {
	var s Summary
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(status = 'available'), 0),
			COALESCE(SUM(status = 'sold'), 0),
			COALESCE(SUM(status = 'deleted'), 0)
		FROM stock WHERE product_code = ?
	`, code).Scan(&s.Available, &s.Sold, &s.Deleted)
	if err != nil {
		return Summary{}, fmt.Errorf("ошибка подсчёта склада: %w", err)
	}
	return s, nil
}

const sqliteUnitColumns = `id, product_code, content, status, COALESCE(buyer_handle, ''), added_by, added_at, updated_at`

func scanSQLiteUnit(scan func(dest ...any) error) (Unit, error) {
	var (
		u              Unit
		status         string
		added, updated string
	)
	if err := scan(&u.ID, &u.ProductCode, &u.Content, &status, &u.BuyerHandle, &u.AddedBy, &added, &updated); err != nil {
		return Unit{}, err
	}
	u.Status = Status(status)

	var err error
	if u.AddedAt, err = sqlite.ParseTime(added); err != nil {
		return Unit{}, err
	}
	if u.UpdatedAt, err = sqlite.ParseTime(updated); err != nil {
		return Unit{}, err
	}
	return u, nil
}

func (r *SQLiteRepository) Available(ctx context.Context, code string, limit int) ([]Unit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sqliteUnitColumns+`
		FROM stock
		WHERE product_code = ? AND status = 'available'
		ORDER BY added_at, id
		LIMIT ?
	`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения склада: %w", err)
	}
	defer rows.Close()

	var out []Unit
	for rows.Next() {
		u, err := scanSQLiteUnit(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения единицы товара: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Unit(ctx context.Context, id int64) (Unit, bool, error) {
	u, err := scanSQLiteUnit(r.db.QueryRowContext(ctx,
		`SELECT `+sqliteUnitColumns+` FROM stock WHERE id = ?`, id,
	).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Unit{}, false, nil
	}
	if err != nil {
		return Unit{}, false, fmt.Errorf("ошибка поиска единицы товара: %w", err)
	}
	return u, true, nil
}

func (r *SQLiteRepository) Move(ctx context.Context, ids []int64, from, to Status, buyer string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{string(to), sqlite.FormatTime(time.Now())}

	set := "status = ?, updated_at = ?"
	switch to {
	case StatusSold:
		set += ", buyer_handle = ?"
		args = append(args, buyer)
	case StatusAvailable:
		set += ", buyer_handle = NULL"
	}
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, string(from))

	return sqlite.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE stock SET `+set+` WHERE id IN (`+placeholders+`) AND status = ?`, args...)
		if err != nil {
			return fmt.Errorf("ошибка изменения статуса: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return ErrMoved
		}
		return nil
	})
}

func (r *SQLiteRepository) WorldInfo(ctx context.Context) (WorldInfo, bool, error) {
	var (
		w       WorldInfo
		updated string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT world, owner, bot, updated_at FROM world_info WHERE id = 1`,
	).Scan(&w.World, &w.Owner, &w.Bot, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return WorldInfo{}, false, nil
	}
	if err != nil {
		return WorldInfo{}, false, fmt.Errorf("ошибка чтения мира: %w", err)
	}
	if w.UpdatedAt, err = sqlite.ParseTime(updated); err != nil {
		return WorldInfo{}, false, fmt.Errorf("ошибка чтения мира: %w", err)
	}
	return w, true, nil
}

func (r *SQLiteRepository) SaveWorldInfo(ctx context.Context, w WorldInfo) (WorldInfo, error) {
	w.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO world_info (id, world, owner, bot, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET world = excluded.world, owner = excluded.owner, bot = excluded.bot, updated_at = excluded.updated_at
	`, w.World, w.Owner, w.Bot, sqlite.FormatTime(w.UpdatedAt))
	if err != nil {
		return WorldInfo{}, fmt.Errorf("ошибка сохранения мира: %w", err)
	}
	return w, nil
}
