// Package shop - repository.go работает с таблицами products, stock
// и world_info в PostgreSQL.
package shop

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"serotonyl.ru/discord-shop/internal/db/postgres"
)

// Repository - хранилище каталога в PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository создаёт новый репозиторий каталога.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateProduct(ctx context.Context, p Product) (Product, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO products (code, name, price, description)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, p.Code, p.Name, p.Price, p.Description).Scan(&p.CreatedAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return Product{}, ErrDuplicate
		}
		return Product{}, fmt.Errorf("ошибка создания товара: %w", err)
	}
	return p, nil
}

func (r *Repository) Product(ctx context.Context, code string) (Product, bool, error) {
	var p Product
	err := r.db.QueryRow(ctx, `
		SELECT code, name, price, description, created_at
		FROM products WHERE code = $1
	`, code).Scan(&p.Code, &p.Name, &p.Price, &p.Description, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, fmt.Errorf("ошибка поиска товара: %w", err)
	}
	return p, true, nil
}

func (r *Repository) Products(ctx context.Context) ([]Product, error) {
	rows, err := r.db.Query(ctx, `
		SELECT code, name, price, description, created_at
		FROM products ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения каталога: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.Code, &p.Name, &p.Price, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения товара: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) InsertStock(ctx context.Context, code string, contents []string, addedBy string) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range contents {
		batch.Queue(`
			INSERT INTO stock (product_code, content, status, added_by)
			VALUES ($1, $2, 'available', $3)
		`, code, c, addedBy)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("ошибка добавления на склад: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return len(contents), nil
}

func (r *Repository) Summary(ctx context.Context, code string) (Summary, error) {
	var s Summary
	err := r.db.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'available'),
			COUNT(*) FILTER (WHERE status = 'sold'),
			COUNT(*) FILTER (WHERE status = 'deleted')
		FROM stock WHERE product_code = $1
	`, code).Scan(&s.Available, &s.Sold, &s.Deleted)
	if err != nil {
		return Summary{}, fmt.Errorf("ошибка подсчёта склада: %w", err)
	}
	return s, nil
}

const unitColumns = `id, product_code, content, status, COALESCE(buyer_handle, ''), added_by, added_at, updated_at`

func scanUnit(row pgx.Row) (Unit, error) {
	var (
		u      Unit
		status string
	)
	err := row.Scan(&u.ID, &u.ProductCode, &u.Content, &status, &u.BuyerHandle, &u.AddedBy, &u.AddedAt, &u.UpdatedAt)
	u.Status = Status(status)
	return u, err
}

func (r *Repository) Available(ctx context.Context, code string, limit int) ([]Unit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+unitColumns+`
		FROM stock
		WHERE product_code = $1 AND status = 'available'
		ORDER BY added_at, id
		LIMIT $2
	`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения склада: %w", err)
	}
	defer rows.Close()

	var out []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения единицы товара: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) Unit(ctx context.Context, id int64) (Unit, bool, error) {
	u, err := scanUnit(r.db.QueryRow(ctx, `SELECT `+unitColumns+` FROM stock WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, false, nil
	}
	if err != nil {
		return Unit{}, false, fmt.Errorf("ошибка поиска единицы товара: %w", err)
	}
	return u, true, nil
}

func (r *Repository) Move(ctx context.Context, ids []int64, from, to Status, buyer string) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx)

	var tag pgconn.CommandTag
	switch to {
	case StatusSold:
		tag, err = tx.Exec(ctx, `
			UPDATE stock SET status = $1, buyer_handle = $2, updated_at = NOW()
			WHERE id = ANY($3) AND status = $4
		`, string(to), buyer, ids, string(from))
	case StatusAvailable:
		tag, err = tx.Exec(ctx, `
			UPDATE stock SET status = $1, buyer_handle = NULL, updated_at = NOW()
			WHERE id = ANY($2) AND status = $3
		`, string(to), ids, string(from))
	default:
		tag, err = tx.Exec(ctx, `
			UPDATE stock SET status = $1, updated_at = NOW()
			WHERE id = ANY($2) AND status = $3
		`, string(to), ids, string(from))
	}
	if err != nil {
		return fmt.Errorf("ошибка изменения статуса: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return ErrMoved
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

func (r *Repository) WorldInfo(ctx context.Context) (WorldInfo, bool, error) {
	var w WorldInfo
	err := r.db.QueryRow(ctx, `
		SELECT world, owner, bot, updated_at FROM world_info WHERE id = 1
	`).Scan(&w.World, &w.Owner, &w.Bot, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return WorldInfo{}, false, nil
	}
	if err != nil {
		return WorldInfo{}, false, fmt.Errorf("ошибка чтения мира: %w", err)
	}
	return w, true, nil
}

func (r *Repository) SaveWorldInfo(ctx context.Context, w WorldInfo) (WorldInfo, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO world_info (id, world, owner, bot, updated_at)
		VALUES (1, $1, $2, $3, NOW())
		ON CONFLICT (id) DO UPDATE
		SET world = EXCLUDED.world, owner = EXCLUDED.owner, bot = EXCLUDED.bot, updated_at = NOW()
		RETURNING updated_at
	`, w.World, w.Owner, w.Bot).Scan(&w.UpdatedAt)
	if err != nil {
		return WorldInfo{}, fmt.Errorf("ошибка сохранения мира: %w", err)
	}
	return w, nil
}
