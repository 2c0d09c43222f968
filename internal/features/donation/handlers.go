package donation

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/common"
)

// Handler разбирает сообщения канала донатов.
type Handler struct {
	service *Service
	sender  common.Sender
}

// NewHandler создаёт обработчик канала донатов.
func NewHandler(service *Service, sender common.Sender) *Handler {
	return &Handler{service: service, sender: sender}
}

// HandleMessage обрабатывает сообщение вебхука. ID сообщения служит
// ключом идемпотентности, поэтому повторная доставка не зачислит донат дважды.
func (h *Handler) HandleMessage(ctx context.Context, channelID, messageID, content string) {
	d, err := Parse(content)
	if err != nil {
		log.WithField("message_id", messageID).Warn("Сообщение в канале донатов не распознано")
		common.ReplyError(h.sender, channelID, "donation", err)
		return
	}

	res, err := h.service.Process(ctx, d, "donation_"+messageID)
	if err != nil {
		common.ReplyError(h.sender, channelID, "donation", err)
		return
	}

	common.Reply(h.sender, channelID, fmt.Sprintf(
		"💎 Донат принят\nGrowID: %s\nСумма: %s (всего %s WL)\nНовый баланс: %s",
		res.Account, d.String(), humanize.Comma(res.Amount), res.Balance.Format()))
}
