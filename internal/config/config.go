// Package config загружает конфигурацию магазина из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Драйверы хранилища.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Долговременный уровень кэша.
const (
	CacheBackendStore = "store"
	CacheBackendRedis = "redis"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Discord ---
	// Токен и админы обязательны для бота, но не для shopctl (см. Validate)
	DiscordBotToken string `envconfig:"DISCORD_BOT_TOKEN"`
	// ID администраторов через запятую (Discord snowflake)
	AdminIDsRaw string   `envconfig:"ADMIN_IDS"`
	AdminIDs    []string `envconfig:"-"`
	// Канал магазина: команды принимаются только здесь и в личке
	ShopChannelID string `envconfig:"SHOP_CHANNEL_ID"`
	// Канал, куда вебхук игрового бота пишет донаты
	DonationChannelID string `envconfig:"DONATION_CHANNEL_ID"`
	// Канал для уведомлений администраторам (крупные операции, продажи)
	LogChannelID  string `envconfig:"LOG_CHANNEL_ID"`
	CommandPrefix string `envconfig:"COMMAND_PREFIX" default:"!"`

	// --- Store ---
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"shop.db"`

	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"shop"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"discord_shop"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Cache ---
	CacheMaxEntries int           `envconfig:"CACHE_MAX_ENTRIES" default:"10000"`
	CacheTTLShort   time.Duration `envconfig:"CACHE_TTL_SHORT" default:"5m"`
	CacheTTLMedium  time.Duration `envconfig:"CACHE_TTL_MEDIUM" default:"1h"`
	CacheTTLLong    time.Duration `envconfig:"CACHE_TTL_LONG" default:"24h"`
	CacheBackend    string        `envconfig:"CACHE_BACKEND" default:"store"`
	RedisAddr       string        `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`

	// --- Locks ---
	LockTimeout time.Duration `envconfig:"LOCK_TIMEOUT" default:"3s"`
	// Блокировки, которыми не пользовались дольше этого, удаляются планировщиком
	LockIdleTTL time.Duration `envconfig:"LOCK_IDLE_TTL" default:"30m"`

	// --- HTTP API ---
	HTTPAddr        string `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPCORSOrigins string `envconfig:"HTTP_CORS_ORIGINS" default:"*"`
	// argon2id-хеш токена для POST /api/v1/donations, см. scripts/generate_hash.go
	APITokenHash string `envconfig:"API_TOKEN_HASH"`

	// --- Shop ---
	// Операции от этой суммы (в WL) уходят в хук large_transaction
	LargeTransactionThreshold int64 `envconfig:"LARGE_TRANSACTION_THRESHOLD" default:"100000"`
	LowStockThreshold         int64 `envconfig:"LOW_STOCK_THRESHOLD" default:"10"`
	DonationMinimum           int64 `envconfig:"DONATION_MINIMUM" default:"10"`
	HistoryPageSize           int   `envconfig:"HISTORY_PAGE_SIZE" default:"10"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Bot runtime ---
	// Сколько событий обрабатываем параллельно. Иначе "go на каждое сообщение" = утечка памяти при флуде.
	BotMaxInflight int `envconfig:"BOT_MAX_INFLIGHT" default:"64"`

	// --- Rate Limiting ---
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"5"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`

	// --- Feature Flags ---
	FeatureDonationsEnabled bool `envconfig:"FEATURE_DONATIONS_ENABLED" default:"true"`
	FeatureHTTPEnabled      bool `envconfig:"FEATURE_HTTP_ENABLED" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// IsAdmin - handle входит в ADMIN_IDS.
func (c *Config) IsAdmin(handle string) bool {
	for _, id := range c.AdminIDs {
		if id == handle {
			return true
		}
	}
	return false
}

// CORSOrigins возвращает разрешённые источники для HTTP API.
func (c *Config) CORSOrigins() []string {
	return splitCSV(c.HTTPCORSOrigins)
}

// ValidateStore проверяет настройки хранилища, кэша и блокировок.
func (c *Config) ValidateStore() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD обязателен для STORE_DRIVER=postgres")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH не задан")
		}
	default:
		return fmt.Errorf("неизвестный STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.CacheBackend {
	case CacheBackendStore, CacheBackendRedis:
	default:
		return fmt.Errorf("неизвестный CACHE_BACKEND %q", c.CacheBackend)
	}

	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES должен быть > 0")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT должен быть > 0")
	}
	return nil
}

// Validate проверяет всю конфигурацию бота.
func (c *Config) Validate() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.DiscordBotToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN не задан")
	}
	if len(c.AdminIDs) == 0 {
		return fmt.Errorf("ADMIN_IDS пуст")
	}
	if c.CommandPrefix == "" {
		return fmt.Errorf("COMMAND_PREFIX не задан")
	}
	if c.BotMaxInflight <= 0 {
		return fmt.Errorf("BOT_MAX_INFLIGHT должен быть > 0")
	}
	if c.HistoryPageSize <= 0 {
		return fmt.Errorf("HISTORY_PAGE_SIZE должен быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	cfg, err := process()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStore - как Load, но проверяет только хранилище.
// Используется утилитами, которым не нужен Discord.
func LoadStore() (*Config, error) {
	cfg, err := process()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateStore(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func process() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}
	cfg.AdminIDs = splitCSV(cfg.AdminIDsRaw)
	return &cfg, nil
}

func splitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
