package notify

// Registered - пользователь привязал GrowID.
type Registered struct {
	Handle  string
	Account string
}

// BalanceChange - баланс изменён. Суммы в WL.
type BalanceChange struct {
	Account  string
	Kind     string
	Detail   string
	OldTotal int64
	NewTotal int64
	OldText  string
	NewText  string
}

// Sale - проданы единицы товара.
type Sale struct {
	ProductCode string
	ProductName string
	BuyerHandle string
	Account     string
	Quantity    int
	TotalPrice  int64
}

// Large - крупная операция, о которой стоит знать администраторам.
type Large struct {
	Op      string
	Account string
	Amount  int64
}

// ProductInfo - создан товар.
type ProductInfo struct {
	Code  string
	Name  string
	Price int64
}

// StockInfo - на склад добавлены единицы товара.
type StockInfo struct {
	ProductCode string
	Quantity    int
	AddedBy     string
}

// World - обновлена информация о мире для сдачи депозита.
type World struct {
	World string
	Owner string
	Bot   string
}

// Failure - ошибка операции.
type Failure struct {
	Op  string
	Err string
}
