// Package common - errors.go определяет ошибки, которые используются
// во всех модулях магазина. По виду ошибки обработчики решают,
// какое сообщение показать пользователю, не заглядывая во внутренности хранилища.
package common

import (
	"errors"
	"fmt"
)

// Ошибки баланса и денежных операций
var (
	// ErrInvalidAmount - сумма неположительная или выводит баланс за [0, MAX_AMOUNT]
	ErrInvalidAmount = errors.New("некорректная сумма")
	// ErrInsufficientBalance - на счёте не хватает средств
	ErrInsufficientBalance = errors.New("недостаточно средств на балансе")
	// ErrDuplicateOperation - операция с таким ключом идемпотентности уже проведена
	ErrDuplicateOperation = errors.New("операция уже была выполнена")
)

// Ошибки идентичности (привязка Discord-аккаунта к GrowID)
var (
	// ErrNotRegistered - у пользователя нет привязанного GrowID
	ErrNotRegistered = errors.New("пользователь не зарегистрирован")
	// ErrInvalidIdentity - GrowID не проходит проверку формата
	ErrInvalidIdentity = errors.New("некорректный GrowID")
	// ErrAlreadyLinked - аккаунт или GrowID уже привязан к другому
	ErrAlreadyLinked = errors.New("аккаунт уже привязан к другому GrowID")
	// ErrAccountNotFound - счёт с таким GrowID не существует
	ErrAccountNotFound = errors.New("счёт не найден")
)

// Ошибки каталога и склада
var (
	ErrProductNotFound   = errors.New("товар не найден")
	ErrProductExists     = errors.New("товар с таким кодом уже существует")
	ErrInvalidPrice      = errors.New("некорректная цена товара")
	ErrInsufficientStock = errors.New("недостаточно товара на складе")
	ErrStockLimit        = errors.New("достигнут лимит склада")
	ErrStockNotFound     = errors.New("единица товара не найдена")
	ErrInvalidStockState = errors.New("недопустимое изменение статуса товара")
)

// Инфраструктурные ошибки
var (
	// ErrLockAcquisitionFailed - не удалось получить блокировку за отведённое время
	ErrLockAcquisitionFailed = errors.New("операция уже выполняется, попробуйте позже")
	// ErrTransactionFailed - транзакция хранилища откатилась по любой другой причине
	ErrTransactionFailed = errors.New("транзакция не выполнена")
)

// Ошибки админки и доступа
var (
	ErrNotAdmin     = errors.New("у вас нет прав администратора")
	ErrUnauthorized = errors.New("неверный токен доступа")
	ErrMaintenance  = errors.New("магазин на техническом обслуживании")
	ErrBlacklisted  = errors.New("пользователь в чёрном списке")
)

// Error - структурированная ошибка: вид (одна из ошибок выше),
// человекочитаемая деталь и исходная причина, если она есть.
//
// errors.Is(err, common.ErrInsufficientBalance) срабатывает и для *Error.
type Error struct {
	Kind   error
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Errorf создаёт *Error с деталью в формате fmt.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает причину err в вид kind. nil остаётся nil.
func Wrap(kind error, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// kinds - все известные виды в порядке проверки.
var kinds = []error{
	ErrInvalidAmount,
	ErrInsufficientBalance,
	ErrDuplicateOperation,
	ErrNotRegistered,
	ErrInvalidIdentity,
	ErrAlreadyLinked,
	ErrAccountNotFound,
	ErrProductNotFound,
	ErrProductExists,
	ErrInvalidPrice,
	ErrInsufficientStock,
	ErrStockLimit,
	ErrStockNotFound,
	ErrInvalidStockState,
	ErrLockAcquisitionFailed,
	ErrNotAdmin,
	ErrUnauthorized,
	ErrMaintenance,
	ErrBlacklisted,
	ErrTransactionFailed,
}

// KindOf возвращает вид ошибки или nil, если ошибка неизвестна.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsClientError - ошибка вызвана вводом пользователя, а не сбоем системы.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case nil, ErrTransactionFailed, ErrLockAcquisitionFailed:
		return false
	}
	return true
}

// IsNotFound - ссылка на несуществующую сущность.
func IsNotFound(err error) bool {
	switch KindOf(err) {
	case ErrAccountNotFound, ErrProductNotFound, ErrStockNotFound, ErrNotRegistered:
		return true
	}
	return false
}

// UserMessage возвращает текст для ответа пользователю.
// Для *Error с деталью деталь добавляется к тексту вида.
// Сбои хранилища не раскрываются.
func UserMessage(err error) string {
	kind := KindOf(err)
	if kind == nil || kind == ErrTransactionFailed {
		return "❌ " + ErrTransactionFailed.Error() + ", попробуйте позже"
	}
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return "❌ " + kind.Error() + ": " + e.Detail
	}
	return "❌ " + kind.Error()
}
