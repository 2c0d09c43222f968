// Package admin - handlers.go обрабатывает админ-команды.
// Команды принимаются только от пользователей из ADMIN_IDS.
package admin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/ledger"
	"serotonyl.ru/discord-shop/internal/features/shop"
)

// Handler обрабатывает админ-команды.
type Handler struct {
	service *Service
	catalog *shop.Service
	sender  common.Sender
	loc     *time.Location
}

// NewHandler создаёт обработчик админ-команд.
func NewHandler(service *Service, catalog *shop.Service, sender common.Sender, loc *time.Location) *Handler {
	return &Handler{service: service, catalog: catalog, sender: sender, loc: loc}
}

// Commands - команды, которые обрабатывает Handle.
var Commands = map[string]string{
	"addbal":      "!addbal GrowID сумма [WL|DL|BGL]",
	"removebal":   "!removebal GrowID сумма [WL|DL|BGL]",
	"checkbal":    "!checkbal GrowID",
	"resetuser":   "!resetuser GrowID",
	"addproduct":  "!addproduct КОД цена название",
	"addstock":    "!addstock КОД, далее по одной единице на строке",
	"removestock": "!removestock КОД количество",
	"setworld":    "!setworld мир владелец бот",
	"maintenance": "!maintenance on|off",
	"blacklist":   "!blacklist add|remove|list [пользователь] [причина]",
	"cachestats":  "!cachestats",
}

// Handle выполняет админ-команду cmd. body - текст сообщения после имени
// команды, нужен для многострочных аргументов. Возвращает false, если
// команда не админская.
func (h *Handler) Handle(ctx context.Context, channelID, handle, cmd string, args []string, body string) bool {
	usage, ok := Commands[cmd]
	if !ok {
		return false
	}
	if !h.service.IsAdmin(handle) {
		common.Reply(h.sender, channelID, common.UserMessage(common.ErrNotAdmin))
		return true
	}

	switch cmd {
	case "addbal", "removebal":
		h.handleBalance(ctx, channelID, handle, cmd, usage, args)
	case "checkbal":
		h.handleCheck(ctx, channelID, usage, args)
	case "resetuser":
		h.handleReset(ctx, channelID, handle, usage, args)
	case "addproduct":
		h.handleAddProduct(ctx, channelID, usage, args)
	case "addstock":
		h.handleAddStock(ctx, channelID, handle, usage, args, body)
	case "removestock":
		h.handleRemoveStock(ctx, channelID, usage, args)
	case "setworld":
		h.handleSetWorld(ctx, channelID, usage, args)
	case "maintenance":
		h.handleMaintenance(ctx, channelID, handle, usage, args)
	case "blacklist":
		h.handleBlacklist(ctx, channelID, handle, usage, args)
	case "cachestats":
		h.handleCacheStats(ctx, channelID)
	}
	return true
}

func (h *Handler) usage(channelID, usage string) {
	common.Reply(h.sender, channelID, "❌ Формат: "+usage)
}

func (h *Handler) handleBalance(ctx context.Context, channelID, actor, cmd, usage string, args []string) {
	if len(args) < 2 {
		h.usage(channelID, usage)
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
			common.ReplyError(h.sender, channelID, cmd, err)
			return
		}
	}

	if cmd == "addbal" {
		res, err := h.service.AddBalance(ctx, actor, args[0], amount, cur)
		if err != nil {
			common.ReplyError(h.sender, channelID, cmd, err)
			return
		}
		common.Reply(h.sender, channelID, fmt.Sprintf("✅ %s: начислено %d %s\nБаланс: %s", res.Account, amount, cur, res.Balance.Format()))
		return
	}

	res, err := h.service.RemoveBalance(ctx, actor, args[0], amount, cur)
	if err != nil {
		common.ReplyError(h.sender, channelID, cmd, err)
		return
	}
	common.Reply(h.sender, channelID, fmt.Sprintf("✅ %s: списано %d %s\nБаланс: %s", res.Account, amount, cur, res.Balance.Format()))
}

func (h *Handler) handleCheck(ctx context.Context, channelID, usage string, args []string) {
	if len(args) < 1 {
		h.usage(channelID, usage)
		return
	}
	r, err := h.service.CheckBalance(ctx, args[0])
	if err != nil {
		common.ReplyError(h.sender, channelID, "checkbal", err)
		return
	}

	owner := r.Handle
	if owner == "" {
		owner = "не привязан"
	}
	text := fmt.Sprintf("👤 %s (Discord: %s)\n💰 %s (всего %s WL)\n\n%s",
		r.Account, owner, r.Balance.Format(), humanize.Comma(r.Balance.Total()),
		economy.FormatHistory(r.Account, r.History, h.loc))
	common.Reply(h.sender, channelID, text)
}

func (h *Handler) handleReset(ctx context.Context, channelID, actor, usage string, args []string) {
	if len(args) < 1 {
		h.usage(channelID, usage)
		return
	}
	old, err := h.service.ResetUser(ctx, actor, args[0])
	if err != nil {
		common.ReplyError(h.sender, channelID, "resetuser", err)
		return
	}
	common.Reply(h.sender, channelID, fmt.Sprintf("♻️ Счёт %s обнулён, было: %s", economy.NormalizeAccount(args[0]), old.Format()))
}

func (h *Handler) handleAddProduct(ctx context.Context, channelID, usage string, args []string) {
	if len(args) < 3 {
		h.usage(channelID, usage)
		return
	}
	price, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		common.Reply(h.sender, channelID, "❌ Цена должна быть числом")
		return
	}
	p, err := h.catalog.CreateProduct(ctx, args[0], strings.Join(args[2:], " "), price, "")
	if err != nil {
		common.ReplyError(h.sender, channelID, "addproduct", err)
		return
	}
	common.Reply(h.sender, channelID, fmt.Sprintf("✅ Товар %s (%s) создан, цена %s", p.Name, p.Code, ledger.FormatPrice(p.Price)))
}

func (h *Handler) handleAddStock(ctx context.Context, channelID, actor, usage string, args []string, body string) {
	if len(args) < 1 {
		h.usage(channelID, usage)
		return
	}

	// первая строка - код, остальные - единицы товара;
	// в одну строку можно передать одну единицу после кода
	lines := strings.Split(body, "\n")
	items := lines[1:]
	if first := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(lines[0]), args[0])); first != "" {
		items = append([]string{first}, items...)
	}

	n, err := h.catalog.AddStock(ctx, args[0], items, actor)
	if err != nil {
		common.ReplyError(h.sender, channelID, "addstock", err)
		return
	}
	common.Reply(h.sender, channelID, fmt.Sprintf("✅ Добавлено %s товара %s", common.FormatItems(int64(n)), shop.NormalizeCode(args[0])))
}

func (h *Handler) handleRemoveStock(ctx context.Context, channelID, usage string, args []string) {
	if len(args) < 2 {
		h.usage(channelID, usage)
		return
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		common.Reply(h.sender, channelID, "❌ Количество должно быть числом")
		return
	}
	removed, err := h.catalog.RemoveStock(ctx, args[0], n)
	if err != nil {
		common.ReplyError(h.sender, channelID, "removestock", err)
		return
	}
	common.Reply(h.sender, channelID, fmt.Sprintf("🗑 Списано %s товара %s", common.FormatItems(int64(removed)), shop.NormalizeCode(args[0])))
}

func (h *Handler) handleSetWorld(ctx context.Context, channelID, usage string, args []string) {
	if len(args) < 3 {
		h.usage(channelID, usage)
		return
	}
	w, err := h.catalog.UpdateWorldInfo(ctx, args[0], args[1], args[2])
	if err != nil {
		common.ReplyError(h.sender, channelID, "setworld", err)
		return
	}
	common.Reply(h.sender, channelID, "✅ Мир обновлён\n"+shop.FormatWorld(w))
}

func (h *Handler) handleMaintenance(ctx context.Context, channelID, actor, usage string, args []string) {
	if len(args) < 1 {
		state := "выключен"
		if h.service.InMaintenance(ctx) {
			state = "включён"
		}
		common.Reply(h.sender, channelID, "🔧 Режим обслуживания "+state)
		return
	}

	var on bool
	switch strings.ToLower(args[0]) {
	case "on", "вкл":
		on = true
	case "off", "выкл":
	default:
		h.usage(channelID, usage)
		return
	}
	if err := h.service.SetMaintenance(ctx, actor, on); err != nil {
		common.ReplyError(h.sender, channelID, "maintenance", err)
		return
	}
	if on {
		common.Reply(h.sender, channelID, "🔧 Режим обслуживания включён")
	} else {
		common.Reply(h.sender, channelID, "✅ Режим обслуживания выключен")
	}
}

func (h *Handler) handleBlacklist(ctx context.Context, channelID, actor, usage string, args []string) {
	if len(args) < 1 {
		h.usage(channelID, usage)
		return
	}

	switch strings.ToLower(args[0]) {
	case "list":
		list, err := h.service.Blacklist(ctx)
		if err != nil {
			common.ReplyError(h.sender, channelID, "blacklist", err)
			return
		}
		if len(list) == 0 {
			common.Reply(h.sender, channelID, "📋 Чёрный список пуст")
			return
		}
		var sb strings.Builder
		sb.WriteString("📋 Чёрный список:")
		for _, e := range list {
			fmt.Fprintf(&sb, "\n• %s — %s (%s, %s)", e.Handle, e.Reason, e.AddedBy, common.FormatDateTime(e.CreatedAt, h.loc))
		}
		common.Reply(h.sender, channelID, sb.String())

	case "add":
		if len(args) < 2 {
			h.usage(channelID, usage)
			return
		}
		target := trimMention(args[1])
		added, err := h.service.AddToBlacklist(ctx, actor, target, strings.Join(args[2:], " "))
		if err != nil {
			common.ReplyError(h.sender, channelID, "blacklist", err)
			return
		}
		if !added {
			common.Reply(h.sender, channelID, "ℹ️ Пользователь уже в чёрном списке")
			return
		}
		common.Reply(h.sender, channelID, "⛔ Пользователь "+target+" заблокирован")

	case "remove":
		if len(args) < 2 {
			h.usage(channelID, usage)
			return
		}
		target := trimMention(args[1])
		removed, err := h.service.RemoveFromBlacklist(ctx, actor, target)
		if err != nil {
			common.ReplyError(h.sender, channelID, "blacklist", err)
			return
		}
		if !removed {
			common.Reply(h.sender, channelID, "ℹ️ Пользователя нет в чёрном списке")
			return
		}
		common.Reply(h.sender, channelID, "✅ Пользователь "+target+" разблокирован")

	default:
		h.usage(channelID, usage)
	}
}

func (h *Handler) handleCacheStats(ctx context.Context, channelID string) {
	st, err := h.service.CacheStats(ctx)
	if err != nil {
		common.ReplyError(h.sender, channelID, "cachestats", err)
		return
	}
	common.Reply(h.sender, channelID, fmt.Sprintf(
		"🗄 Кэш в памяти: %d из %d (живых %d, истёкших %d)\n💾 В хранилище: %d (живых %d, истёкших %d)",
		st.MemoryTotal, st.MaxEntries, st.MemoryLive, st.MemoryExpired,
		st.StoreTotal, st.StoreLive, st.StoreExpired))
}

// trimMention превращает упоминание <@123> или <@!123> в ID.
func trimMention(s string) string {
	s = strings.TrimPrefix(s, "<@")
	s = strings.TrimPrefix(s, "!")
	return strings.TrimSuffix(s, ">")
}
