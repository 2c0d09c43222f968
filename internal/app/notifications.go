package app

import (
	"context"
	"fmt"

	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/features/ledger"
	"serotonyl.ru/discord-shop/internal/notify"
)

// logChannelEvents - события, которые дублируются в канал логов.
// balance_updated не шлём: его слишком много.
var logChannelEvents = []notify.Event{
	notify.UserRegistered,
	notify.LargeTransaction,
	notify.ProductCreated,
	notify.StockAdded,
	notify.StockSold,
	notify.WorldUpdated,
	notify.OperationFailed,
}

// subscribeLogChannel отправляет события хаба в канал логов.
// Отправка идёт в отдельной горутине и не задерживает операцию.
func subscribeLogChannel(hub *notify.Hub, s common.Sender, channelID string) {
	for _, ev := range logChannelEvents {
		hub.Subscribe(ev, func(_ context.Context, event notify.Event, payload any) error {
			text, ok := formatEvent(event, payload)
			if !ok {
				return nil
			}
			go common.Reply(s, channelID, text)
			return nil
		})
	}
}

// formatEvent превращает событие в сообщение для администраторов.
func formatEvent(event notify.Event, payload any) (string, bool) {
	switch p := payload.(type) {
	case notify.Registered:
		return fmt.Sprintf("🆕 <@%s> привязал GrowID %s", p.Handle, p.Account), true
	case notify.Large:
		return fmt.Sprintf("💰 Крупная операция %s: %s на сумму %s", p.Op, p.Account, ledger.FormatPrice(p.Amount)), true
	case notify.ProductInfo:
		return fmt.Sprintf("📦 Новый товар %s (%s), цена %s", p.Name, p.Code, ledger.FormatPrice(p.Price)), true
	case notify.StockInfo:
		return fmt.Sprintf("➕ %s: добавлено %s (%s)", p.ProductCode, common.FormatItems(int64(p.Quantity)), p.AddedBy), true
	case notify.Sale:
		return fmt.Sprintf("🛒 %s (%s) купил %s ×%d за %s",
			p.Account, p.BuyerHandle, p.ProductName, p.Quantity, ledger.FormatPrice(p.TotalPrice)), true
	case notify.World:
		return fmt.Sprintf("🌍 Мир обновлён: %s, владелец %s, бот %s", p.World, p.Owner, p.Bot), true
	case notify.Failure:
		return fmt.Sprintf("⚠️ Ошибка %s: %s", p.Op, p.Err), true
	}
	return "", false
}
