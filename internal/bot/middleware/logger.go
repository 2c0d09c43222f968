// Package middleware содержит промежуточные обработчики для логирования,
// восстановления после паники и rate-limiting.
package middleware

import (
	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/common"
)

// LogMessage логирует входящее сообщение.
// Записывает: author_id, channel_id, guild_id, username, текст (первые 50 символов).
func LogMessage(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil {
		return
	}

	log.WithFields(log.Fields{
		"author_id":  m.Author.ID,
		"channel_id": m.ChannelID,
		"guild_id":   m.GuildID,
		"username":   m.Author.Username,
		"text":       common.Truncate(m.Content, 50),
	}).Debug("Входящее сообщение")
}
