// Package shop - handlers.go обрабатывает команды:
// !products (каталог), !stock <код> (наличие), !world (мир для депозита).
package shop

import (
	"context"
	"fmt"
	"strings"

	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/features/ledger"
)

// Handler обрабатывает команды каталога.
type Handler struct {
	service *Service
	sender  common.Sender
}

// NewHandler создаёт обработчик команд каталога.
func NewHandler(service *Service, sender common.Sender) *Handler {
	return &Handler{service: service, sender: sender}
}

// HandleProducts обрабатывает !products.
//
// Формат ответа:
//
//	🛍 Каталог:
//	• VIP - VIP-роль: 250 WL (2.5 DL), в наличии 3 штуки
func (h *Handler) HandleProducts(ctx context.Context, channelID string) {
	products, err := h.service.ListProducts(ctx)
	if err != nil {
		common.ReplyError(h.sender, channelID, "products", err)
		return
	}
	if len(products) == 0 {
		common.Reply(h.sender, channelID, "🛍 Каталог пока пуст")
		return
	}

	var sb strings.Builder
	sb.WriteString("🛍 Каталог:")
	for _, p := range products {
		n, err := h.service.StockCount(ctx, p.Code)
		if err != nil {
			common.ReplyError(h.sender, channelID, "products", err)
			return
		}
		fmt.Fprintf(&sb, "\n• %s — %s: %s, в наличии %s", p.Code, p.Name, ledger.FormatPrice(p.Price), common.FormatItems(int64(n)))
	}
	common.Reply(h.sender, channelID, sb.String())
}

// HandleStock обрабатывает !stock <код>.
func (h *Handler) HandleStock(ctx context.Context, channelID string, args []string) {
	if len(args) < 1 {
		common.Reply(h.sender, channelID, "❌ Формат: !stock КОД")
		return
	}

	p, err := h.service.GetProduct(ctx, args[0])
	if err != nil {
		common.ReplyError(h.sender, channelID, "stock", err)
		return
	}
	sum, err := h.service.StockSummary(ctx, p.Code)
	if err != nil {
		common.ReplyError(h.sender, channelID, "stock", err)
		return
	}

	text := fmt.Sprintf("📦 %s (%s)\nЦена: %s\nВ наличии: %s\nПродано: %s",
		p.Name, p.Code, ledger.FormatPrice(p.Price),
		common.FormatItems(int64(sum.Available)), common.FormatItems(int64(sum.Sold)))
	if p.Description != "" {
		text += "\n\n" + p.Description
	}
	common.Reply(h.sender, channelID, text)
}

// HandleWorld обрабатывает !world.
func (h *Handler) HandleWorld(ctx context.Context, channelID string) {
	w, ok, err := h.service.GetWorldInfo(ctx)
	if err != nil {
		common.ReplyError(h.sender, channelID, "world", err)
		return
	}
	if !ok {
		common.Reply(h.sender, channelID, "🌍 Мир для депозита ещё не настроен")
		return
	}
	common.Reply(h.sender, channelID, FormatWorld(w))
}

// FormatWorld собирает текст о мире для депозита.
func FormatWorld(w WorldInfo) string {
	return fmt.Sprintf("🌍 Мир: %s\n👑 Владелец: %s\n🤖 Бот: %s", w.World, w.Owner, w.Bot)
}
