// Package filters решает, принимать ли команду от пользователя.
package filters

import (
	"context"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/common"
)

// Access - источник прав: администраторы, чёрный список, режим обслуживания.
type Access interface {
	IsAdmin(handle string) bool
	IsBlacklisted(ctx context.Context, handle string) (bool, error)
	InMaintenance(ctx context.Context) bool
}

// Message - то, что фильтру нужно знать о сообщении.
type Message struct {
	ChannelID string
	AuthorID  string
	// Private - личные сообщения с ботом
	Private bool
}

// ChatFilter пропускает команды из канала магазина и из личных сообщений.
type ChatFilter struct {
	shopChannelID string
	access        Access
	sender        common.Sender
}

// NewChatFilter создаёт фильтр. Пустой shopChannelID разрешает любой канал.
func NewChatFilter(shopChannelID string, access Access, sender common.Sender) *ChatFilter {
	return &ChatFilter{shopChannelID: shopChannelID, access: access, sender: sender}
}

// CheckAccess возвращает true, если команду можно выполнять.
func (f *ChatFilter) CheckAccess(ctx context.Context, m Message) bool {
	logger := log.WithFields(log.Fields{
		"component":  "ChatFilter",
		"channel_id": m.ChannelID,
		"author_id":  m.AuthorID,
		"private":    m.Private,
	})

	if m.AuthorID == "" {
		logger.Warn("сообщение без автора")
		return false
	}

	// Администраторам доступно всё, включая режим обслуживания
	if f.access.IsAdmin(m.AuthorID) {
		return true
	}

	// 1) Канал магазина или личка
	if !m.Private && f.shopChannelID != "" && m.ChannelID != f.shopChannelID {
		logger.Debug("deny: не канал магазина")
		return false
	}

	// 2) Чёрный список
	blocked, err := f.access.IsBlacklisted(ctx, m.AuthorID)
	if err != nil {
		logger.WithError(err).Error("проверка чёрного списка не удалась")
		return false
	}
	if blocked {
		logger.Info("deny: пользователь в чёрном списке")
		return false
	}

	// 3) Режим обслуживания
	if f.access.InMaintenance(ctx) {
		logger.Debug("deny: режим обслуживания")
		common.Reply(f.sender, m.ChannelID, common.UserMessage(common.ErrMaintenance))
		return false
	}

	return true
}
