// Package app инициализирует все компоненты приложения.
// app.go - точка сборки: подключает хранилище, создаёт кэш, блокировки,
// сервисы, обработчики, фильтры и собирает всё в бота и HTTP API.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/api"
	"serotonyl.ru/discord-shop/internal/bot"
	"serotonyl.ru/discord-shop/internal/bot/filters"
	"serotonyl.ru/discord-shop/internal/bot/middleware"
	"serotonyl.ru/discord-shop/internal/cache"
	"serotonyl.ru/discord-shop/internal/common"
	"serotonyl.ru/discord-shop/internal/config"
	"serotonyl.ru/discord-shop/internal/features/admin"
	"serotonyl.ru/discord-shop/internal/features/donation"
	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/shop"
	"serotonyl.ru/discord-shop/internal/features/trx"
	"serotonyl.ru/discord-shop/internal/jobs"
	"serotonyl.ru/discord-shop/internal/locks"
	"serotonyl.ru/discord-shop/internal/notify"
)

// Services - сервисный слой, общий для бота, HTTP API и shopctl.
type Services struct {
	Cache       *cache.Cache
	Locks       *locks.Registry
	Hub         *notify.Hub
	Balances    *economy.Service
	Catalog     *shop.Service
	Coordinator *trx.Coordinator
	Admin       *admin.Service
	Donations   *donation.Service
}

// NewServices создаёт сервисы поверх открытого хранилища.
func NewServices(cfg *config.Config, st *Stores) *Services {
	c := cache.New(st.Cache, cache.WithMaxEntries(cfg.CacheMaxEntries))
	l := locks.NewRegistry(cfg.LockTimeout)
	hub := notify.NewHub()

	balances := economy.NewService(st.Economy, c, l, hub, economy.Settings{
		ShortTTL:       cfg.CacheTTLShort,
		LongTTL:        cfg.CacheTTLLong,
		LargeThreshold: cfg.LargeTransactionThreshold,
	})
	catalog := shop.NewService(st.Shop, c, l, hub, shop.Settings{
		ShortTTL:  cfg.CacheTTLShort,
		MediumTTL: cfg.CacheTTLMedium,
		LongTTL:   cfg.CacheTTLLong,
	})
	coord := trx.NewCoordinator(balances, catalog, l, hub)

	return &Services{
		Cache:       c,
		Locks:       l,
		Hub:         hub,
		Balances:    balances,
		Catalog:     catalog,
		Coordinator: coord,
		Admin: admin.NewService(st.Admin, balances, coord, c, admin.Settings{
			AdminIDs:     cfg.AdminIDs,
			APITokenHash: cfg.APITokenHash,
		}),
		Donations: donation.NewService(coord, cfg.DonationMinimum),
	}
}

// App содержит все компоненты приложения.
type App struct {
	Bot       *bot.Bot
	Scheduler *jobs.Scheduler
	// HTTP - nil, если FEATURE_HTTP_ENABLED=false
	HTTP     *http.Server
	Stores   *Stores
	Services *Services
}

// New создаёт и инициализирует приложение.
// Порядок инициализации важен - компоненты зависят друг от друга.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// === 1. Хранилище ===
	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// === 2. Discord ===
	session, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		stores.Close()
		return nil, fmt.Errorf("ошибка создания сессии Discord: %w", err)
	}
	messenger := bot.NewMessenger(session)

	// === 3. Сервисы ===
	svc := NewServices(cfg, stores)
	if cfg.LogChannelID != "" {
		subscribeLogChannel(svc.Hub, messenger, cfg.LogChannelID)
	}

	// === 4. Обработчики ===
	loc := common.LoadLocation(cfg.AppTimezone)
	handlers := bot.Handlers{
		Economy: economy.NewHandler(svc.Balances, messenger, cfg.HistoryPageSize, loc),
		Shop:    shop.NewHandler(svc.Catalog, messenger),
		Trx:     trx.NewHandler(svc.Coordinator, messenger),
		Admin:   admin.NewHandler(svc.Admin, svc.Catalog, messenger, loc),
	}
	if cfg.FeatureDonationsEnabled {
		handlers.Donation = donation.NewHandler(svc.Donations, messenger)
	}

	// === 5. Фильтры ===
	chatFilter := filters.NewChatFilter(cfg.ShopChannelID, svc.Admin, messenger)

	// === 6. Собираем бота ===
	b := bot.New(session, messenger, handlers, chatFilter,
		middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		bot.Options{
			Prefix:            cfg.CommandPrefix,
			DonationChannelID: cfg.DonationChannelID,
			MaxInflight:       cfg.BotMaxInflight,
		})

	// === 7. Планировщик задач ===
	var report func(string)
	if cfg.LogChannelID != "" {
		report = func(text string) { common.Reply(messenger, cfg.LogChannelID, text) }
	}
	scheduler := jobs.NewScheduler(svc.Cache, svc.Locks, svc.Catalog, report, jobs.Settings{
		LockIdleTTL:       cfg.LockIdleTTL,
		LowStockThreshold: int(cfg.LowStockThreshold),
		Location:          loc,
	})

	// === 8. HTTP API ===
	var srv *http.Server
	if cfg.FeatureHTTPEnabled {
		h := api.NewHandler(api.Deps{
			Balances:  svc.Balances,
			Catalog:   svc.Catalog,
			Donations: svc.Donations,
			Admin:     svc.Admin,
			Ping:      stores.Ping,
		})
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewRouter(h, cfg.CORSOrigins()),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
		}
	}

	log.WithFields(log.Fields{
		"store": cfg.StoreDriver,
		"cache": cfg.CacheBackend,
		"http":  cfg.FeatureHTTPEnabled,
	}).Info("Приложение собрано")

	return &App{
		Bot:       b,
		Scheduler: scheduler,
		HTTP:      srv,
		Stores:    stores,
		Services:  svc,
	}, nil
}
