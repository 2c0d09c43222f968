// Package trx - coordinator.go проводит многошаговые операции.
//
// Покупка идёт в два шага: сначала единицы товара помечаются проданными,
// затем списывается баланс. Если списание не прошло, те же единицы
// возвращаются на склад до того, как вызывающий получит ошибку.
package trx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/ledger"
	"serotonyl.ru/discord-shop/internal/features/shop"
	"serotonyl.ru/discord-shop/internal/locks"
	"serotonyl.ru/discord-shop/internal/metrics"
	"serotonyl.ru/discord-shop/internal/notify"
)

// Coordinator проводит покупки, депозиты, выводы и переводы.
type Coordinator struct {
	balances Balances
	catalog  Catalog
	locks    *locks.Registry
	notifier notify.Emitter
}

// NewCoordinator создаёт координатор.
func NewCoordinator(b Balances, c Catalog, l *locks.Registry, n notify.Emitter) *Coordinator {
	if n == nil {
		n = notify.Nop{}
	}
	return &Coordinator{balances: b, catalog: c, locks: l, notifier: n}
}

// operation - один экземпляр операции со своим идентификатором и этапом.
type operation struct {
	id      string
	name    string
	state   State
	started time.Time
	log     *log.Entry
}

func (c *Coordinator) begin(name string, fields log.Fields) *operation {
	id := uuid.NewString()
	o := &operation{
		id:      id,
		name:    name,
		state:   StateStarted,
		started: time.Now(),
		log:     log.WithFields(fields).WithFields(log.Fields{"op": name, "op_id": id}),
	}
	o.log.Debug("Операция начата")
	return o
}

func (o *operation) step(s State) {
	o.log.WithField("from", o.state).Debugf("Этап %s", s)
	o.state = s
}

func (o *operation) fail(err error) error {
	entry := o.log.WithError(err).WithFields(log.Fields{
		"state":    o.state,
		"duration": time.Since(o.started),
	})
	if common.IsClientError(err) {
		entry.Info("Операция отклонена")
	} else {
		entry.Error("Операция не выполнена")
	}
	o.state = StateFailed
	metrics.Operations.WithLabelValues(o.name, metrics.Result(err)).Inc()
	return err
}

func (o *operation) complete() {
	o.state = StateCompleted
	o.log.WithField("duration", time.Since(o.started)).Info("Операция выполнена")
	metrics.Operations.WithLabelValues(o.name, metrics.Result(nil)).Inc()
}

func (c *Coordinator) lock(ctx context.Context, key string) (func(), error) {
	release, ok := c.locks.Acquire(ctx, key, 0)
	if !ok {
		return nil, common.Errorf(common.ErrLockAcquisitionFailed, "%s", key)
	}
	return release, nil
}

func (c *Coordinator) checkKey(ctx context.Context, key string) error {
	applied, err := c.balances.OperationApplied(ctx, key)
	if err != nil {
		return err
	}
	if applied {
		return common.Errorf(common.ErrDuplicateOperation, "ключ %s", key)
	}
	return nil
}

// Purchase продаёт покупателю Quantity единиц товара.
func (c *Coordinator) Purchase(ctx context.Context, req PurchaseRequest) (PurchaseResult, error) {
	code := shop.NormalizeCode(req.ProductCode)
	op := c.begin("purchase", log.Fields{
		"buyer":    req.BuyerHandle,
		"product":  code,
		"quantity": req.Quantity,
	})

	if req.Quantity < 1 || req.Quantity > shop.MaxQuantity {
		return PurchaseResult{}, op.fail(common.Errorf(common.ErrInvalidAmount, "количество должно быть от 1 до %d", shop.MaxQuantity))
	}

	release, err := c.lock(ctx, "purchase_"+req.BuyerHandle+"_"+code)
	if err != nil {
		return PurchaseResult{}, op.fail(err)
	}
	defer release()

	op.step(StateValidating)
	if err := c.checkKey(ctx, req.IdempotencyKey); err != nil {
		return PurchaseResult{}, op.fail(err)
	}
	account, err := c.balances.ResolveAccount(ctx, req.BuyerHandle)
	if err != nil {
		return PurchaseResult{}, op.fail(err)
	}
	product, err := c.catalog.GetProduct(ctx, code)
	if err != nil {
		return PurchaseResult{}, op.fail(err)
	}
	units, err := c.catalog.AvailableStock(ctx, code, req.Quantity)
	if err != nil {
		return PurchaseResult{}, op.fail(err)
	}

	total := product.Price * int64(req.Quantity)
	balance, err := c.balances.GetBalance(ctx, account)
	if err != nil {
		return PurchaseResult{}, op.fail(err)
	}
	if total > balance.Total() {
		return PurchaseResult{}, op.fail(common.Errorf(common.ErrInsufficientBalance,
			"нужно %s, на балансе %s", ledger.FormatPrice(total), balance.Format()))
	}

	op.step(StateReserving)
	err = c.catalog.MarkSold(ctx, code, units, req.BuyerHandle)
	if errors.Is(err, common.ErrInsufficientStock) {
		op.log.Info("Выбранные единицы перехватил другой покупатель, выбираем заново")
		if units, err = c.catalog.AvailableStock(ctx, code, req.Quantity); err == nil {
			err = c.catalog.MarkSold(ctx, code, units, req.BuyerHandle)
		}
	}
	if err != nil {
		return PurchaseResult{}, op.fail(err)
	}

	op.step(StateCommitting)
	newBalance, err := c.balances.UpdateBalance(ctx, economy.UpdateRequest{
		Account:        account,
		Debit:          total,
		Kind:           economy.KindPurchase,
		Detail:         fmt.Sprintf("Покупка %d× %s", req.Quantity, product.Code),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		c.restore(ctx, op, code, units)
		return PurchaseResult{}, op.fail(err)
	}

	op.complete()

	items := make([]string, len(units))
	for i, u := range units {
		items[i] = u.Content
	}
	c.notifier.Emit(ctx, notify.StockSold, notify.Sale{
		ProductCode: product.Code,
		ProductName: product.Name,
		BuyerHandle: req.BuyerHandle,
		Account:     account,
		Quantity:    req.Quantity,
		TotalPrice:  total,
	})

	return PurchaseResult{
		OpID:    op.id,
		Account: account,
		Product: product,
		Items:   items,
		Total:   total,
		Balance: newBalance,
	}, nil
}

// restore возвращает на склад единицы неудачной покупки.
// Ошибка отката только логируется: вызывающему важнее исходная ошибка.
func (c *Coordinator) restore(ctx context.Context, op *operation, code string, units []shop.Unit) {
	err := c.catalog.Restore(context.WithoutCancel(ctx), code, units)
	metrics.Compensations.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		op.log.WithError(err).WithField("units", len(units)).Error("Не удалось вернуть товар на склад")
		c.notifier.Emit(ctx, notify.OperationFailed, notify.Failure{Op: "purchase_restore", Err: err.Error()})
		return
	}
	op.log.WithField("units", len(units)).Warn("Товар возвращён на склад после неудачного списания")
}

func validateMoney(req MoneyRequest) error {
	if req.WL < 0 || req.DL < 0 || req.BGL < 0 {
		return common.Errorf(common.ErrInvalidAmount, "суммы не могут быть отрицательными")
	}
	if req.Total() <= 0 {
		return common.Errorf(common.ErrInvalidAmount, "сумма должна быть положительной")
	}
	if req.Total() > ledger.MaxAmount {
		return common.Errorf(common.ErrInvalidAmount, "сумма больше %s", ledger.FormatPrice(ledger.MaxAmount))
	}
	return nil
}

func (c *Coordinator) account(ctx context.Context, req MoneyRequest) (string, error) {
	if req.Account != "" {
		return economy.NormalizeAccount(req.Account), nil
	}
	return c.balances.ResolveAccount(ctx, req.Handle)
}

func subject(req MoneyRequest) string {
	if req.Account != "" {
		return economy.NormalizeAccount(req.Account)
	}
	return req.Handle
}

func moneyDetail(req MoneyRequest, def string) string {
	detail := req.Detail
	if detail == "" {
		detail = def
	}
	if req.Actor != "" {
		detail += " (" + req.Actor + ")"
	}
	return detail
}

// Deposit зачисляет средства. Kind по умолчанию - deposit.
func (c *Coordinator) Deposit(ctx context.Context, req MoneyRequest) (MoneyResult, error) {
	if req.Kind == "" {
		req.Kind = economy.KindDeposit
	}
	op := c.begin(string(req.Kind), log.Fields{"subject": subject(req), "actor": req.Actor, "amount": req.Total()})

	switch req.Kind {
	case economy.KindDeposit, economy.KindAdminAdd, economy.KindDonation, economy.KindRefund:
	default:
		return MoneyResult{}, op.fail(common.Errorf(common.ErrInvalidAmount, "вид %q не подходит для зачисления", req.Kind))
	}
	if err := validateMoney(req); err != nil {
		return MoneyResult{}, op.fail(err)
	}

	release, err := c.lock(ctx, "deposit_"+subject(req))
	if err != nil {
		return MoneyResult{}, op.fail(err)
	}
	defer release()

	op.step(StateValidating)
	account, err := c.account(ctx, req)
	if err != nil {
		return MoneyResult{}, op.fail(err)
	}

	op.step(StateCommitting)
	balance, err := c.balances.UpdateBalance(ctx, economy.UpdateRequest{
		Account:        account,
		Delta:          ledger.Delta{WL: req.WL, DL: req.DL, BGL: req.BGL},
		Kind:           req.Kind,
		Detail:         moneyDetail(req, "Пополнение "+ledger.FormatPrice(req.Total())),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return MoneyResult{}, op.fail(err)
	}

	op.complete()
	return MoneyResult{OpID: op.id, Account: account, Amount: req.Total(), Balance: balance}, nil
}

// Withdraw списывает средства. Kind по умолчанию - withdrawal.
// Каждая валюта списывается отдельно, без размена: 1 DL нельзя вывести
// со счёта, на котором только WL.
func (c *Coordinator) Withdraw(ctx context.Context, req MoneyRequest) (MoneyResult, error) {
	if req.Kind == "" {
		req.Kind = economy.KindWithdrawal
	}
	op := c.begin(string(req.Kind), log.Fields{"subject": subject(req), "actor": req.Actor, "amount": req.Total()})

	switch req.Kind {
	case economy.KindWithdrawal, economy.KindAdminRemove:
	default:
		return MoneyResult{}, op.fail(common.Errorf(common.ErrInvalidAmount, "вид %q не подходит для списания", req.Kind))
	}
	if err := validateMoney(req); err != nil {
		return MoneyResult{}, op.fail(err)
	}

	release, err := c.lock(ctx, "withdrawal_"+subject(req))
	if err != nil {
		return MoneyResult{}, op.fail(err)
	}
	defer release()

	op.step(StateValidating)
	account, err := c.account(ctx, req)
	if err != nil {
		return MoneyResult{}, op.fail(err)
	}
	current, err := c.balances.GetBalance(ctx, account)
	if err != nil {
		return MoneyResult{}, op.fail(err)
	}
	if req.Total() > current.Total() {
		return MoneyResult{}, op.fail(common.Errorf(common.ErrInsufficientBalance,
			"нужно %s, на балансе %s", ledger.FormatPrice(req.Total()), current.Format()))
	}

	op.step(StateCommitting)
	balance, err := c.balances.UpdateBalance(ctx, economy.UpdateRequest{
		Account:        account,
		Delta:          ledger.Delta{WL: -req.WL, DL: -req.DL, BGL: -req.BGL},
		Kind:           req.Kind,
		Detail:         moneyDetail(req, "Вывод "+ledger.FormatPrice(req.Total())),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return MoneyResult{}, op.fail(err)
	}

	op.complete()
	return MoneyResult{OpID: op.id, Account: account, Amount: req.Total(), Balance: balance}, nil
}

// Transfer переводит средства между счетами. Это два изменения баланса;
// если зачисление получателю не прошло, отправителю возвращается списанное
// записью вида refund.
func (c *Coordinator) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	to := economy.NormalizeAccount(req.ToAccount)
	op := c.begin("transfer", log.Fields{"from": req.FromHandle, "to": to, "amount": req.Amount})

	if req.Amount <= 0 || req.Amount > ledger.MaxAmount {
		return TransferResult{}, op.fail(common.Errorf(common.ErrInvalidAmount, "сумма должна быть от 1 до %d WL", ledger.MaxAmount))
	}

	release, err := c.lock(ctx, "transfer_"+req.FromHandle)
	if err != nil {
		return TransferResult{}, op.fail(err)
	}
	defer release()

	op.step(StateValidating)
	if err := c.checkKey(ctx, req.IdempotencyKey); err != nil {
		return TransferResult{}, op.fail(err)
	}
	from, err := c.balances.ResolveAccount(ctx, req.FromHandle)
	if err != nil {
		return TransferResult{}, op.fail(err)
	}
	if from == to {
		return TransferResult{}, op.fail(common.Errorf(common.ErrInvalidAmount, "нельзя переводить самому себе"))
	}
	if _, err := c.balances.GetBalance(ctx, to); err != nil {
		return TransferResult{}, op.fail(err)
	}

	op.step(StateReserving)
	sender, err := c.balances.UpdateBalance(ctx, economy.UpdateRequest{
		Account:        from,
		Debit:          req.Amount,
		Kind:           economy.KindTransfer,
		Detail:         fmt.Sprintf("Перевод → %s", to),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return TransferResult{}, op.fail(err)
	}

	op.step(StateCommitting)
	credit := ledger.FromTotal(req.Amount)
	receiver, err := c.balances.UpdateBalance(ctx, economy.UpdateRequest{
		Account: to,
		Delta:   ledger.Delta{WL: credit.WL, DL: credit.DL, BGL: credit.BGL},
		Kind:    economy.KindTransfer,
		Detail:  fmt.Sprintf("Перевод ← %s", from),
	})
	if err != nil {
		c.refund(ctx, op, from, credit, to)
		return TransferResult{}, op.fail(err)
	}

	op.complete()
	return TransferResult{
		OpID:     op.id,
		From:     from,
		To:       to,
		Amount:   req.Amount,
		Balance:  sender,
		Receiver: receiver,
	}, nil
}

func (c *Coordinator) refund(ctx context.Context, op *operation, account string, amount ledger.Balance, to string) {
	_, err := c.balances.UpdateBalance(context.WithoutCancel(ctx), economy.UpdateRequest{
		Account: account,
		Delta:   ledger.Delta{WL: amount.WL, DL: amount.DL, BGL: amount.BGL},
		Kind:    economy.KindRefund,
		Detail:  fmt.Sprintf("Возврат перевода → %s", to),
	})
	metrics.Compensations.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		op.log.WithError(err).WithField("account", account).Error("Не удалось вернуть средства отправителю")
		c.notifier.Emit(ctx, notify.OperationFailed, notify.Failure{Op: "transfer_refund", Err: err.Error()})
		return
	}
	op.log.WithField("account", account).Warn("Перевод не зачислен, средства возвращены отправителю")
}
