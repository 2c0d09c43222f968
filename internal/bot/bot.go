// Package bot содержит главный модуль бота - запуск, остановку и
// маршрутизацию сообщений Discord к обработчикам.
package bot

import (
	"context"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/bot/filters"
	"serotonyl.ru/discord-shop/internal/bot/middleware"
	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/features/admin"
	"serotonyl.ru/discord-shop/internal/features/donation"
	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/shop"
	"serotonyl.ru/discord-shop/internal/features/trx"
)

const helpText = `🛒 Команды магазина:
!register GrowID — привязать GrowID
!balance — баланс
!history [N] — последние операции
!products — каталог
!stock КОД — остаток товара
!buy КОД [количество] — купить
!send GrowID сумма [WL|DL|BGL] — перевод
!world — где забрать товар`

// Handlers - обработчики команд по фичам. Donation может быть nil.
type Handlers struct {
	Economy  *economy.Handler
	Shop     *shop.Handler
	Trx      *trx.Handler
	Admin    *admin.Handler
	Donation *donation.Handler
}

// Options - параметры бота.
type Options struct {
	Prefix            string
	DonationChannelID string
	MaxInflight       int
}

// Bot - главная структура бота, объединяющая все компоненты.
type Bot struct {
	session   *discordgo.Session
	messenger *Messenger
	handlers  Handlers

	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter
	parser      *CommandParser
	opts        Options

	ctx context.Context
	wg  sync.WaitGroup
	// ограничитель параллелизма обработки сообщений
	inflight chan struct{}
}

// New создаёт бота. Сессия открывается в Start.
func New(session *discordgo.Session, messenger *Messenger, h Handlers, chatFilter *filters.ChatFilter, rl *middleware.RateLimiter, opts Options) *Bot {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 64
	}
	return &Bot{
		session:     session,
		messenger:   messenger,
		handlers:    h,
		chatFilter:  chatFilter,
		rateLimiter: rl,
		parser:      NewCommandParser(opts.Prefix),
		opts:        opts,
		inflight:    make(chan struct{}, opts.MaxInflight),
	}
}

// Start подписывается на сообщения и открывает соединение с Discord.
// Обработчики получают ctx, поэтому его отмена прерывает их ожидание блокировок.
func (b *Bot) Start(ctx context.Context) error {
	b.ctx = ctx
	b.session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	b.session.AddHandler(b.onMessageCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"max_inflight": b.opts.MaxInflight,
		"prefix":       b.opts.Prefix,
	}).Info("Бот запущен и ожидает сообщения...")
	return nil
}

// Stop закрывает соединение и ждёт завершения начатых обработчиков.
func (b *Bot) Stop() {
	if err := b.session.Close(); err != nil {
		log.WithError(err).Warn("Ошибка закрытия сессии Discord")
	}
	b.wg.Wait()
	b.rateLimiter.Close()
	log.Info("Бот остановлен")
}

// onMessageCreate вызывается discordgo на каждое новое сообщение.
func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}

	// лимит параллелизма: при флуде лишние сообщения отбрасываются
	select {
	case b.inflight <- struct{}{}:
	default:
		log.WithField("author_id", m.Author.ID).Warn("Слишком много сообщений в обработке, сообщение пропущено")
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.inflight }()
		b.handleMessage(b.ctx, m)
	}()
}

// handleMessage обрабатывает одно сообщение.
func (b *Bot) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	defer middleware.RecoverFromPanic(log.Fields{"message_id": m.ID})

	// Донаты приходят от вебхука игрового бота
	if b.opts.DonationChannelID != "" && m.ChannelID == b.opts.DonationChannelID {
		if m.WebhookID != "" && b.handlers.Donation != nil {
			b.handlers.Donation.HandleMessage(ctx, m.ChannelID, m.ID, m.Content)
		}
		return
	}

	if m.Author.Bot || m.Content == "" {
		return
	}

	middleware.LogMessage(m)

	cmd, ok := b.parser.ParseCommand(m.Content)
	if !ok {
		return
	}

	if !b.chatFilter.CheckAccess(ctx, filters.Message{
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Private:   m.GuildID == "",
	}) {
		return
	}

	if !b.rateLimiter.Allow(m.Author.ID) {
		log.WithField("author_id", m.Author.ID).Debug("rate limited")
		common.Reply(b.messenger, m.ChannelID, "⏳ Слишком много команд, подождите немного")
		return
	}

	b.routeCommand(ctx, m.ChannelID, m.Author.ID, cmd)
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, channelID, handle string, cmd Command) {
	log.WithFields(log.Fields{
		"cmd":  cmd.Name,
		"args": cmd.Args,
	}).Debug("routing command")

	switch cmd.Name {
	case "help", "помощь":
		text := helpText
		if b.opts.Prefix != "!" {
			text = strings.ReplaceAll(text, "!", b.opts.Prefix)
		}
		common.Reply(b.messenger, channelID, text)

	case "register", "reg":
		b.handlers.Economy.HandleRegister(ctx, channelID, handle, cmd.Args)

	case "balance", "bal":
		b.handlers.Economy.HandleBalance(ctx, channelID, handle)

	case "history":
		b.handlers.Economy.HandleHistory(ctx, channelID, handle, cmd.Args)

	case "products", "catalog":
		b.handlers.Shop.HandleProducts(ctx, channelID)

	case "stock":
		b.handlers.Shop.HandleStock(ctx, channelID, cmd.Args)

	case "world":
		b.handlers.Shop.HandleWorld(ctx, channelID)

	case "buy":
		b.handlers.Trx.HandleBuy(ctx, channelID, handle, cmd.Args)

	case "send":
		b.handlers.Trx.HandleSend(ctx, channelID, handle, cmd.Args)

	default:
		b.handlers.Admin.Handle(ctx, channelID, handle, cmd.Name, cmd.Args, cmd.Body)
	}
}
