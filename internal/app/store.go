package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/cache"
	"serotonyl.ru/discord-shop/internal/config"
	"serotonyl.ru/discord-shop/internal/db/postgres"
	"serotonyl.ru/discord-shop/internal/db/sqlite"
	"serotonyl.ru/discord-shop/internal/features/admin"
	"serotonyl.ru/discord-shop/internal/features/economy"
	"serotonyl.ru/discord-shop/internal/features/shop"
)

// Stores - репозитории выбранного драйвера и долговременный уровень кэша.
type Stores struct {
	Economy economy.Store
	Shop    shop.Store
	Admin   admin.Store
	Cache   cache.Backend

	// Ping проверяет основное хранилище
	Ping    func(ctx context.Context) error
	closers []func()
}

// Close закрывает соединения в обратном порядке.
func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores подключается к хранилищу по STORE_DRIVER, применяет
// миграции и выбирает долговременный уровень кэша по CACHE_BACKEND.
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к БД: %w", err)
		}
		s.closers = append(s.closers, pool.Close)

		if err := postgres.RunMigrations(ctx, pool, migrations); err != nil {
			s.Close()
			return nil, fmt.Errorf("ошибка миграций: %w", err)
		}

		s.Economy = economy.NewRepository(pool)
		s.Shop = shop.NewRepository(pool)
		s.Admin = admin.NewRepository(pool)
		s.Cache = cache.NewPostgresBackend(pool)
		s.Ping = pool.Ping

	case config.DriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { db.Close() })

		s.Economy = economy.NewSQLiteRepository(db)
		s.Shop = shop.NewSQLiteRepository(db)
		s.Admin = admin.NewSQLiteRepository(db)
		s.Cache = cache.NewSQLiteBackend(db)
		s.Ping = db.PingContext

	default:
		return nil, fmt.Errorf("неизвестный STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.CacheBackend == config.CacheBackendRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			s.Close()
			return nil, fmt.Errorf("Redis недоступен: %w", err)
		}
		s.closers = append(s.closers, func() { rdb.Close() })
		s.Cache = cache.NewRedisBackend(rdb, "shop:")
		log.WithField("addr", cfg.RedisAddr).Info("Долговременный кэш в Redis")
	}

	return s, nil
}
