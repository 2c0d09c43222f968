// Package economy - handlers.go обрабатывает команды:
// !register (привязка GrowID), !balance (баланс), !history (история).
package economy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"serotonyl.ru/discord-shop/internal/common"
)

// Handler обрабатывает команды балансов.
type Handler struct {
	service  *Service
	sender   common.Sender
	pageSize int
	loc      *time.Location
}

// NewHandler создаёт обработчик. pageSize - сколько записей истории
// показывать по умолчанию.
func NewHandler(service *Service, sender common.Sender, pageSize int, loc *time.Location) *Handler {
	if pageSize <= 0 {
		pageSize = 10
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{service: service, sender: sender, pageSize: pageSize, loc: loc}
}

// HandleRegister обрабатывает !register <GrowID>.
func (h *Handler) HandleRegister(ctx context.Context, channelID, handle string, args []string) {
	if len(args) < 1 {
		common.Reply(h.sender, channelID, "❌ Формат: !register GrowID")
		return
	}

	account, err := h.service.Register(ctx, handle, args[0])
	if err != nil {
		common.ReplyError(h.sender, channelID, "register", err)
		return
	}
	common.Reply(h.sender, channelID, fmt.Sprintf("✅ GrowID %s привязан к вашему аккаунту", account))
}

// HandleBalance обрабатывает !balance.
//
// Формат ответа:
//
//	💰 GrowID: ALICE
//	Баланс: 1 BGL, 5 DL, 20 WL (всего 10520 WL)
func (h *Handler) HandleBalance(ctx context.Context, channelID, handle string) {
	account, balance, err := h.service.HandleBalance(ctx, handle)
	if err != nil {
		common.ReplyError(h.sender, channelID, "balance", err)
		return
	}
	text := fmt.Sprintf("💰 GrowID: %s\nБаланс: %s (всего %d WL)", account, balance.Format(), balance.Total())
	common.Reply(h.sender, channelID, text)
}

// HandleHistory обрабатывает !history [количество].
func (h *Handler) HandleHistory(ctx context.Context, channelID, handle string, args []string) {
	limit := h.pageSize
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			common.Reply(h.sender, channelID, "❌ Количество должно быть положительным числом")
			return
		}
		limit = min(n, 50)
	}

	account, err := h.service.ResolveAccount(ctx, handle)
	if err != nil {
		common.ReplyError(h.sender, channelID, "history", err)
		return
	}
	entries, err := h.service.GetHistory(ctx, account, limit)
	if err != nil {
		common.ReplyError(h.sender, channelID, "history", err)
		return
	}
	common.Reply(h.sender, channelID, FormatHistory(account, entries, h.loc))
}

// FormatHistory собирает текст истории операций.
func FormatHistory(account string, entries []Entry, loc *time.Location) string {
	if len(entries) == 0 {
		return fmt.Sprintf("📜 У %s пока нет операций", account)
	}

	var sb strings.Builder
	n := int64(len(entries))
	fmt.Fprintf(&sb, "📜 %s: последние %d %s\n", account, n, common.PluralizeOperations(n))
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n%s  %s\n%s → %s", common.FormatDateTime(e.CreatedAt, loc), kindTitle(e.Kind), e.OldBalance, e.NewBalance)
		if e.Detail != "" {
			fmt.Fprintf(&sb, "\n  %s", e.Detail)
		}
	}
	return sb.String()
}

func kindTitle(k Kind) string {
	switch k {
	case KindPurchase:
		return "🛒 Покупка"
	case KindDeposit:
		return "📥 Депозит"
	case KindWithdrawal:
		return "📤 Вывод"
	case KindAdminAdd:
		return "➕ Начисление"
	case KindAdminRemove:
		return "➖ Списание"
	case KindAdminReset:
		return "♻️ Обнуление"
	case KindRefund:
		return "↩️ Возврат"
	case KindTransfer:
		return "🔁 Перевод"
	case KindDonation:
		return "🎁 Донат"
	}
	return string(k)
}
