package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Session - методы discordgo.Session, которыми бот отправляет сообщения.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

// Messenger отправляет сообщения в каналы и в личку.
type Messenger struct {
	session Session
}

// NewMessenger создаёт отправителя поверх сессии Discord.
func NewMessenger(s Session) *Messenger {
	return &Messenger{session: s}
}

// Send отправляет сообщение в канал.
func (m *Messenger) Send(channelID, text string) error {
	if _, err := m.session.ChannelMessageSend(channelID, text); err != nil {
		return fmt.Errorf("отправка в канал %s: %w", channelID, err)
	}
	return nil
}

// SendDirect отправляет личное сообщение. Если у пользователя закрыта
// личка, Discord вернёт ошибку.
func (m *Messenger) SendDirect(userID, text string) error {
	ch, err := m.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("открытие лички с %s: %w", userID, err)
	}
	return m.Send(ch.ID, text)
}
