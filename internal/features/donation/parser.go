// Package donation принимает донаты из игры. Игровой бот через вебхук
// пишет в канал донатов сообщение вида
//
//	GrowID: ALICE
//	Jumlah: 5 World Lock, 1 Diamond Lock
//
// и сумма зачисляется на счёт с этим GrowID.
package donation

import (
	"regexp"
	"strconv"
	"strings"

	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/features/ledger"
)

var (
	messagePattern = regexp.MustCompile(`GrowID:\s*(\w+)\s*\n\s*Jumlah:\s*(.+)`)
	amountPattern  = regexp.MustCompile(`(\d+)\s+(World|Diamond|Blue Gem) Lock`)
)

// Donation - разобранное сообщение о донате.
type Donation struct {
	Account string `json:"growid"`
	WL      int64  `json:"wl"`
	DL      int64  `json:"dl"`
	BGL     int64  `json:"bgl"`
}

// Total - сумма в WL.
func (d Donation) Total() int64 {
	return ledger.Delta{WL: d.WL, DL: d.DL, BGL: d.BGL}.Total()
}

// String - "5 WL, 1 DL, 0 BGL".
func (d Donation) String() string {
	return strconv.FormatInt(d.WL, 10) + " WL, " +
		strconv.FormatInt(d.DL, 10) + " DL, " +
		strconv.FormatInt(d.BGL, 10) + " BGL"
}

// Parse разбирает сообщение вебхука. Одна и та же валюта может
// встречаться несколько раз, суммы складываются.
func Parse(content string) (Donation, error) {
	m := messagePattern.FindStringSubmatch(content)
	if m == nil {
		return Donation{}, common.Errorf(common.ErrInvalidAmount, "сообщение не похоже на донат")
	}

	d := Donation{Account: strings.ToUpper(m[1])}
	for _, a := range amountPattern.FindAllStringSubmatch(m[2], -1) {
		n, err := strconv.ParseInt(a[1], 10, 64)
		if err != nil || n > ledger.MaxAmount {
			return Donation{}, common.Errorf(common.ErrInvalidAmount, "слишком большое число %q", a[1])
		}
		switch a[2] {
		case "World":
			d.WL += n
		case "Diamond":
			d.DL += n
		case "Blue Gem":
			d.BGL += n
		}
	}

	if d.WL == 0 && d.DL == 0 && d.BGL == 0 {
		return Donation{}, common.Errorf(common.ErrInvalidAmount, "в донате нет суммы")
	}
	return d, nil
}
