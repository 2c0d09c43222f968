package donation

import (
	"context"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/ledger"
	"serotonyl.ru/discord-shop/internal/features/trx"
)

// DefaultMinimum - минимальный донат в WL.
const DefaultMinimum = 10

// Depositor зачисляет средства на счёт.
type Depositor interface {
	Deposit(ctx context.Context, req trx.MoneyRequest) (trx.MoneyResult, error)
}

// Service проводит донаты через координатор транзакций.
type Service struct {
	deposits Depositor
	minimum  int64
}

// NewService создаёт сервис донатов. minimum <= 0 - DefaultMinimum.
func NewService(deposits Depositor, minimum int64) *Service {
	if minimum <= 0 {
		minimum = DefaultMinimum
	}
	return &Service{deposits: deposits, minimum: minimum}
}

// Process зачисляет донат. key - ключ идемпотентности (ID сообщения
// вебхука или запроса API): повторный вызов с тем же ключом вернёт
// ErrDuplicateOperation и баланс не изменит.
func (s *Service) Process(ctx context.Context, d Donation, key string) (trx.MoneyResult, error) {
	if d.WL < 0 || d.DL < 0 || d.BGL < 0 {
		return trx.MoneyResult{}, common.Errorf(common.ErrInvalidAmount, "суммы не могут быть отрицательными")
	}
	if d.Total() < s.minimum {
		return trx.MoneyResult{}, common.Errorf(common.ErrInvalidAmount, "минимальный донат %s", ledger.FormatPrice(s.minimum))
	}

	res, err := s.deposits.Deposit(ctx, trx.MoneyRequest{
		Account:        d.Account,
		WL:             d.WL,
		DL:             d.DL,
		BGL:            d.BGL,
		Kind:           economy.KindDonation,
		Detail:         "Донат: " + d.String(),
		IdempotencyKey: key,
	})
	if err != nil {
		return trx.MoneyResult{}, err
	}

	log.WithFields(log.Fields{
		"account": res.Account,
		"amount":  res.Amount,
		"key":     key,
	}).Info("Донат зачислен")
	return res, nil
}
