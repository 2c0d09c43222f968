// Package ledger - модель баланса в трёх валютах Growtopia:
// World Lock (WL), Diamond Lock (DL) и Blue Gem Lock (BGL).
//
// Курс фиксированный: 1 DL = 100 WL, 1 BGL = 100 DL = 10 000 WL.
// Все суммы внутри считаются в WL (базовых единицах).
package ledger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"serotonyl.ru/discord-shop/internal/common"
)

// MaxAmount - верхняя граница баланса в WL.
const MaxAmount int64 = 1_000_000

// Множители валют в WL.
const (
	RateWL  int64 = 1
	RateDL  int64 = 100
	RateBGL int64 = 10_000
)

// Balance - количество каждой валюты на счёте.
// Счётчики всегда неотрицательные.
//
// Два баланса равны, если равны их суммы в WL (см. Equal):
// 1 DL и 100 WL - один и тот же баланс.
type Balance struct {
	WL  int64
	DL  int64
	BGL int64
}

// New создаёт баланс, отрицательные значения превращаются в ноль.
func New(wl, dl, bgl int64) Balance {
	return Balance{WL: max(wl, 0), DL: max(dl, 0), BGL: max(bgl, 0)}
}

// FromTotal раскладывает сумму в WL: сначала BGL, потом DL, остаток в WL.
func FromTotal(total int64) Balance {
	if total < 0 {
		total = 0
	}
	bgl := total / RateBGL
	total %= RateBGL
	dl := total / RateDL
	return Balance{WL: total % RateDL, DL: dl, BGL: bgl}
}

// Total возвращает сумму в WL.
func (b Balance) Total() int64 {
	return b.WL*RateWL + b.DL*RateDL + b.BGL*RateBGL
}

// Validate проверяет, что баланс лежит в [0, MaxAmount].
func (b Balance) Validate() bool {
	t := b.Total()
	return t >= 0 && t <= MaxAmount
}

// Equal сравнивает балансы по сумме в WL, а не покомпонентно.
func (b Balance) Equal(other Balance) bool {
	return b.Total() == other.Total()
}

// IsZero - на балансе ничего нет.
func (b Balance) IsZero() bool {
	return b.Total() == 0
}

// Format возвращает строку вида "1 BGL, 5 DL, 20 WL".
// Нулевые валюты пропускаются, пустой баланс - "0 WL".
func (b Balance) Format() string {
	parts := make([]string, 0, 3)
	if b.BGL > 0 {
		parts = append(parts, humanize.Comma(b.BGL)+" BGL")
	}
	if b.DL > 0 {
		parts = append(parts, humanize.Comma(b.DL)+" DL")
	}
	if b.WL > 0 {
		parts = append(parts, humanize.Comma(b.WL)+" WL")
	}
	if len(parts) == 0 {
		return "0 WL"
	}
	return strings.Join(parts, ", ")
}

func (b Balance) String() string {
	return b.Format()
}

// balanceJSON - версия формата хранения баланса в кэше.
type balanceJSON struct {
	V   int   `json:"v"`
	WL  int64 `json:"wl"`
	DL  int64 `json:"dl"`
	BGL int64 `json:"bgl"`
}

const balanceFormatVersion = 1

func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(balanceJSON{V: balanceFormatVersion, WL: b.WL, DL: b.DL, BGL: b.BGL})
}

func (b *Balance) UnmarshalJSON(data []byte) error {
	var raw balanceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.V != balanceFormatVersion {
		return fmt.Errorf("неизвестная версия формата баланса: %d", raw.V)
	}
	*b = New(raw.WL, raw.DL, raw.BGL)
	return nil
}

// Delta - изменение баланса по каждой валюте, может быть отрицательным.
type Delta struct {
	WL  int64
	DL  int64
	BGL int64
}

// Total возвращает изменение в WL.
func (d Delta) Total() int64 {
	return d.WL*RateWL + d.DL*RateDL + d.BGL*RateBGL
}

// Negate возвращает изменение с противоположным знаком.
func (d Delta) Negate() Delta {
	return Delta{WL: -d.WL, DL: -d.DL, BGL: -d.BGL}
}

// IsZero - изменение пустое.
func (d Delta) IsZero() bool {
	return d.WL == 0 && d.DL == 0 && d.BGL == 0
}

// Apply применяет изменение к балансу.
//
// Списание больше, чем есть в конкретной валюте, - ErrInsufficientBalance,
// даже если общая сумма позволяет: обнуление не должно скрывать перерасход.
// Результат вне [0, MaxAmount] - ErrInvalidAmount.
func Apply(current Balance, d Delta) (Balance, error) {
	if d.WL < 0 && -d.WL > current.WL {
		return current, common.Errorf(common.ErrInsufficientBalance, "нужно %s WL, есть %s", humanize.Comma(-d.WL), humanize.Comma(current.WL))
	}
	if d.DL < 0 && -d.DL > current.DL {
		return current, common.Errorf(common.ErrInsufficientBalance, "нужно %s DL, есть %s", humanize.Comma(-d.DL), humanize.Comma(current.DL))
	}
	if d.BGL < 0 && -d.BGL > current.BGL {
		return current, common.Errorf(common.ErrInsufficientBalance, "нужно %s BGL, есть %s", humanize.Comma(-d.BGL), humanize.Comma(current.BGL))
	}

	next := New(current.WL+d.WL, current.DL+d.DL, current.BGL+d.BGL)
	if !next.Validate() {
		return current, common.Errorf(common.ErrInvalidAmount, "баланс вышел бы за пределы 0..%s WL", humanize.Comma(MaxAmount))
	}
	return next, nil
}

// Debit подбирает изменение, списывающее amount WL с баланса current.
// Сначала тратятся WL, недостающее берётся из DL и BGL с выдачей сдачи
// в младшей валюте. Сумма результата всегда равна -amount.
func Debit(current Balance, amount int64) (Delta, error) {
	if amount <= 0 {
		return Delta{}, common.Errorf(common.ErrInvalidAmount, "сумма списания должна быть положительной")
	}
	if amount > current.Total() {
		return Delta{}, common.Errorf(common.ErrInsufficientBalance, "нужно %s WL, есть %s WL",
			humanize.Comma(amount), humanize.Comma(current.Total()))
	}

	wl, dl, bgl := current.WL, current.DL, current.BGL
	if wl >= amount {
		wl -= amount
	} else {
		rest := amount - wl
		needDL := (rest + RateDL - 1) / RateDL
		if dl < needDL {
			needBGL := (needDL - dl + 99) / 100
			bgl -= needBGL
			dl += needBGL * 100
		}
		dl -= needDL
		wl = needDL*RateDL - rest
	}

	return Delta{WL: wl - current.WL, DL: dl - current.DL, BGL: bgl - current.BGL}, nil
}
