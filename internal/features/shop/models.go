// Package shop - каталог товаров, склад и информация о мире для депозита.
// models.go описывает структуры и интерфейс хранилища.
package shop

import (
	"context"
	"errors"
	"time"

	"serotonyl.ru/discord-shop/internal/features/ledger"
)

// Ограничения каталога.
const (
	MinPrice = 1
	MaxPrice = ledger.MaxAmount
	// MaxStock - сколько доступных единиц может лежать на складе одного товара
	MaxStock = 999_999
	// MaxQuantity - сколько единиц можно купить за раз
	MaxQuantity = 100
)

// Product - товар каталога. Цена в WL.
type Product struct {
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Price       int64     `db:"price" json:"price"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Status - состояние единицы товара.
type Status string

const (
	StatusAvailable Status = "available"
	StatusSold      Status = "sold"
	StatusDeleted   Status = "deleted"
)

// Valid - статус из списка выше.
func (s Status) Valid() bool {
	return s == StatusAvailable || s == StatusSold || s == StatusDeleted
}

// CanMove - допустим ли переход from → to через UpdateStockStatus.
// SOLD → AVAILABLE сюда не входит: его делает только Restore при откате покупки.
func CanMove(from, to Status) bool {
	return from == StatusAvailable && (to == StatusSold || to == StatusDeleted)
}

// Unit - одна единица товара на складе: содержимое, которое получает покупатель.
type Unit struct {
	ID          int64     `db:"id" json:"id"`
	ProductCode string    `db:"product_code" json:"product_code"`
	Content     string    `db:"content" json:"-"`
	Status      Status    `db:"status" json:"status"`
	BuyerHandle string    `db:"buyer_handle" json:"buyer_handle,omitempty"`
	AddedBy     string    `db:"added_by" json:"added_by"`
	AddedAt     time.Time `db:"added_at" json:"added_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Summary - количество единиц товара по статусам.
type Summary struct {
	Available int `json:"available"`
	Sold      int `json:"sold"`
	Deleted   int `json:"deleted"`
}

// WorldInfo - мир, куда сдают депозит.
type WorldInfo struct {
	World     string    `db:"world" json:"world"`
	Owner     string    `db:"owner" json:"owner"`
	Bot       string    `db:"bot" json:"bot"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Ошибки репозитория, которые сервис переводит в ошибки common.
var (
	// ErrDuplicate - товар с таким кодом уже есть
	ErrDuplicate = errors.New("дубликат товара")
	// ErrMoved - часть единиц уже не в ожидаемом статусе, ничего не изменено
	ErrMoved = errors.New("статус единиц изменился")
)

// Store - хранилище каталога. Реализации: Repository (PostgreSQL, pgx)
// и SQLiteRepository.
type Store interface {
	CreateProduct(ctx context.Context, p Product) (Product, error)
	Product(ctx context.Context, code string) (Product, bool, error)
	Products(ctx context.Context) ([]Product, error)

	// InsertStock добавляет единицы со статусом available одной транзакцией.
	InsertStock(ctx context.Context, code string, contents []string, addedBy string) (int, error)
	Summary(ctx context.Context, code string) (Summary, error)
	// Available возвращает до limit доступных единиц, старые первыми.
	Available(ctx context.Context, code string, limit int) ([]Unit, error)
	Unit(ctx context.Context, id int64) (Unit, bool, error)
	// Move переводит все ids из from в to. Если хотя бы одна единица не в
	// статусе from, возвращает ErrMoved и ничего не меняет.
	// buyer записывается при переходе в sold и стирается при возврате в available.
	Move(ctx context.Context, ids []int64, from, to Status, buyer string) error

	WorldInfo(ctx context.Context) (WorldInfo, bool, error)
	SaveWorldInfo(ctx context.Context, w WorldInfo) (WorldInfo, error)
}
