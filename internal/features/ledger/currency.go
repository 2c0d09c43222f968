package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"serotonyl.ru/discord-shop/internal/common"
)

// Currency - одна из трёх валют.
type Currency string

const (
	WL  Currency = "WL"
	DL  Currency = "DL"
	BGL Currency = "BGL"
)

// Rate возвращает курс валюты в WL.
func (c Currency) Rate() int64 {
	switch c {
	case DL:
		return RateDL
	case BGL:
		return RateBGL
	default:
		return RateWL
	}
}

// ParseCurrency разбирает название валюты без учёта регистра.
// Понимает и полные названия: "World Lock", "Diamond Lock", "Blue Gem Lock".
func ParseCurrency(s string) (Currency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "WL", "WLS", "WORLD LOCK":
		return WL, nil
	case "DL", "DLS", "DIAMOND LOCK":
		return DL, nil
	case "BGL", "BGLS", "BLUE GEM LOCK":
		return BGL, nil
	}
	return "", common.Errorf(common.ErrInvalidAmount, "неизвестная валюта %q", s)
}

// Delta возвращает изменение на amount единиц валюты c.
func (c Currency) Delta(amount int64) Delta {
	switch c {
	case DL:
		return Delta{DL: amount}
	case BGL:
		return Delta{BGL: amount}
	default:
		return Delta{WL: amount}
	}
}

// ToBase переводит amount единиц валюты c в WL.
func ToBase(amount int64, c Currency) int64 {
	return amount * c.Rate()
}

// Convert переводит сумму в WL в валюту c, с дробной частью.
// Пример: Convert(250, DL) = 2.5.
func Convert(base int64, c Currency) decimal.Decimal {
	return decimal.NewFromInt(base).Div(decimal.NewFromInt(c.Rate()))
}

// FormatIn показывает сумму в WL в валюте c: "2.5 DL".
func FormatIn(base int64, c Currency) string {
	return fmt.Sprintf("%s %s", Convert(base, c).String(), c)
}

// BestCurrency выбирает самую крупную валюту, в которой сумма не меньше единицы.
func BestCurrency(base int64) Currency {
	switch {
	case base >= RateBGL:
		return BGL
	case base >= RateDL:
		return DL
	default:
		return WL
	}
}

// FormatPrice показывает цену в WL и в крупной валюте: "250 WL (2.5 DL)".
func FormatPrice(base int64) string {
	c := BestCurrency(base)
	if c == WL {
		return FormatIn(base, WL)
	}
	return fmt.Sprintf("%s WL (%s)", decimal.NewFromInt(base).String(), FormatIn(base, c))
}
