package common

import (
	log "github.com/sirupsen/logrus"
)

// Sender отправляет текстовое сообщение в канал Discord.
type Sender interface {
	Send(channelID, text string) error
}

// Reply отправляет ответ и только логирует ошибку отправки.
// Длинные ответы обрезаются до MessageLimit.
func Reply(s Sender, channelID, text string) {
	if err := s.Send(channelID, Truncate(text, MessageLimit)); err != nil {
		log.WithError(err).WithField("channel", channelID).Error("Ошибка отправки сообщения")
	}
}

// ReplyError отвечает текстом ошибки. Сбои, которые не вызваны вводом
// пользователя, дополнительно пишутся в лог.
func ReplyError(s Sender, channelID, op string, err error) {
	if !IsClientError(err) {
		log.WithError(err).WithField("op", op).Error("Ошибка выполнения команды")
	}
	Reply(s, channelID, UserMessage(err))
}

// DirectSender отправляет личное сообщение пользователю Discord.
type DirectSender interface {
	SendDirect(userID, text string) error
}
