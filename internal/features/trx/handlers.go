// Package trx - handlers.go обрабатывает команды:
// !buy <код> [количество] (покупка), !send <GrowID> <сумма> (перевод).
package trx

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/features/ledger"
)

// Messenger умеет отвечать в канал и писать в личные сообщения.
type Messenger interface {
	common.Sender
	common.DirectSender
}

// Handler обрабатывает команды покупки и перевода.
type Handler struct {
	coord  *Coordinator
	sender Messenger
}

// NewHandler создаёт обработчик.
func NewHandler(coord *Coordinator, sender Messenger) *Handler {
	return &Handler{coord: coord, sender: sender}
}

// HandleBuy обрабатывает !buy <код> [количество].
// Купленное содержимое уходит покупателю в личные сообщения.
func (h *Handler) HandleBuy(ctx context.Context, channelID, handle string, args []string) {
	if len(args) < 1 {
		common.Reply(h.sender, channelID, "❌ Формат: !buy КОД [количество]")
		return
	}
	quantity := 1
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			common.Reply(h.sender, channelID, "❌ Количество должно быть положительным числом")
			return
		}
		quantity = n
	}

	res, err := h.coord.Purchase(ctx, PurchaseRequest{
		BuyerHandle:    handle,
		ProductCode:    args[0],
		Quantity:       quantity,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		common.ReplyError(h.sender, channelID, "buy", err)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🛒 Покупка %s × %d (заказ %s):\n", res.Product.Name, len(res.Items), res.OpID)
	for i, item := range res.Items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, item)
	}
	if err := h.sender.SendDirect(handle, common.Truncate(sb.String(), common.MessageLimit)); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"handle": handle,
			"op_id":  res.OpID,
		}).Error("Не удалось отправить покупку в личные сообщения")
		common.Reply(h.sender, channelID, fmt.Sprintf(
			"⚠️ Покупка оплачена, но личные сообщения закрыты. Обратитесь к администратору, номер заказа: %s", res.OpID))
		return
	}

	common.Reply(h.sender, channelID, fmt.Sprintf("✅ Куплено: %s × %d за %s\nБаланс: %s\nТовар отправлен в личные сообщения",
		res.Product.Name, len(res.Items), ledger.FormatPrice(res.Total), res.Balance.Format()))
}

// HandleSend обрабатывает !send <GrowID> <сумма> [валюта].
func (h *Handler) HandleSend(ctx context.Context, channelID, handle string, args []string) {
	if len(args) < 2 {
		common.Reply(h.sender, channelID, "❌ Формат: !send GrowID сумма [WL|DL|BGL]")
		return
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		common.Reply(h.sender, channelID, "❌ Сумма должна быть положительным числом")
		return
	}
	cur := ledger.WL
	if len(args) > 2 {
		if cur, err = ledger.ParseCurrency(args[2]); err != nil {
			common.ReplyError(h.sender, channelID, "send", err)
			return
		}
	}

	res, err := h.coord.Transfer(ctx, TransferRequest{
		FromHandle:     handle,
		ToAccount:      args[0],
		Amount:         ledger.ToBase(amount, cur),
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		common.ReplyError(h.sender, channelID, "send", err)
		return
	}
	common.Reply(h.sender, channelID, fmt.Sprintf("✅ Переведено %s игроку %s\nВаш баланс: %s",
		ledger.FormatPrice(res.Amount), res.To, res.Balance.Format()))
}
