package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "token")
	t.Setenv("ADMIN_IDS", " 111, 222 ,,")
	t.Setenv("STORE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"111", "222"}, cfg.AdminIDs)
	assert.True(t, cfg.IsAdmin("222"))
	assert.False(t, cfg.IsAdmin("333"))
	assert.Equal(t, 10_000, cfg.CacheMaxEntries)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTLShort)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTLLong)
	assert.Equal(t, 3*time.Second, cfg.LockTimeout)
	assert.Equal(t, "!", cfg.CommandPrefix)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins())
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("ADMIN_IDS", "1")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadStoreWithoutDiscord(t *testing.T) {
	t.Setenv("DISCORD_BOT_TOKEN", "")
	t.Setenv("ADMIN_IDS", "")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/shop.db")

	cfg, err := LoadStore()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/shop.db", cfg.SQLitePath)

	_, err = Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		DiscordBotToken: "token",
		StoreDriver:     DriverPostgres,
		DBPassword:      "secret",
		DBMaxConns:      10,
		DBMinConns:      2,
		CacheBackend:    CacheBackendStore,
		AdminIDs:        []string{"1"},
		CommandPrefix:   "!",
		BotMaxInflight:  8,
		CacheMaxEntries: 100,
		LockTimeout:     time.Second,
		HistoryPageSize: 10,
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"без пароля postgres":  func(c *Config) { c.DBPassword = "" },
		"min больше max":       func(c *Config) { c.DBMinConns = 20 },
		"неизвестный драйвер":  func(c *Config) { c.StoreDriver = "mysql" },
		"неизвестный кэш":      func(c *Config) { c.CacheBackend = "memcached" },
		"нет админов":          func(c *Config) { c.AdminIDs = nil },
		"нет токена":           func(c *Config) { c.DiscordBotToken = "" },
		"нулевой таймаут":      func(c *Config) { c.LockTimeout = 0 },
		"пустой путь sqlite":   func(c *Config) { c.StoreDriver = DriverSQLite; c.SQLitePath = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	assert.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable",
		(&Config{DBUser: "u", DBPassword: "p", DBHost: "h", DBPort: 5432, DBName: "d", DBSSLMode: "disable"}).DatabaseDSN())
}
