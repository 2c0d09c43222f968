// Package common содержит общие утилиты, используемые во всём проекте.
// Сюда входят: русская плюрализация, форматирование дат, обрезка сообщений.
package common

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// MessageLimit - максимальная длина сообщения Discord.
const MessageLimit = 2000

// pluralize выбирает форму слова для числа n.
//
// Правила русского языка:
//   - n%10==1 И n%100!=11 → one (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → few (2, 3, 4, 22, 23, ...)
//   - Остальные случаи → many (0, 5-20, 25-30, 100, ...)
func pluralize(n int64, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	lastDigit := n % 10
	lastTwoDigits := n % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return one
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return few
	}
	return many
}

// PluralizeItems возвращает правильную форму слова «штука» для числа n.
//
// Примеры:
//
//	PluralizeItems(1)  → "штука"
//	PluralizeItems(3)  → "штуки"
//	PluralizeItems(11) → "штук"
func PluralizeItems(n int64) string {
	return pluralize(n, "штука", "штуки", "штук")
}

// PluralizeOperations возвращает правильную форму слова «операция».
func PluralizeOperations(n int64) string {
	return pluralize(n, "операция", "операции", "операций")
}

// FormatItems создаёт строку вида "5 штук".
func FormatItems(n int64) string {
	return fmt.Sprintf("%d %s", n, PluralizeItems(n))
}

// LoadLocation загружает часовой пояс, при ошибке откатывается на UTC+3.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// FormatDateTime форматирует время в формат "02.01.2006 15:04" в поясе loc.
// Используется для отображения дат транзакций.
func FormatDateTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02.01.2006 15:04")
}

// Truncate обрезает строку до max символов, добавляя многоточие.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
