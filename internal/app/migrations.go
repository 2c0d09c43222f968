package app

import "serotonyl.ru/discord-shop/internal/db/postgres"

// migrations - схема PostgreSQL. Та же схема для SQLite лежит в
// internal/db/sqlite/schema.go, версии совпадают.
var migrations = []postgres.Migration{
	{Version: 1, SQL: migration001Accounts},
	{Version: 2, SQL: migration002Shop},
	{Version: 3, SQL: migration003CacheAdmin},
}

// SQL-миграции встроены в код для упрощения деплоя.

var migration001Accounts = `
CREATE TABLE IF NOT EXISTS identity_link (
    handle       VARCHAR(32) PRIMARY KEY,
    account_name VARCHAR(30) NOT NULL UNIQUE,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS accounts (
    account_name VARCHAR(30) PRIMARY KEY,
    wl           BIGINT NOT NULL DEFAULT 0 CHECK (wl >= 0),
    dl           BIGINT NOT NULL DEFAULT 0 CHECK (dl >= 0),
    bgl          BIGINT NOT NULL DEFAULT 0 CHECK (bgl >= 0),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS ledger (
    id              BIGSERIAL PRIMARY KEY,
    account_name    VARCHAR(30) NOT NULL REFERENCES accounts(account_name),
    kind            VARCHAR(32) NOT NULL,
    detail          TEXT NOT NULL DEFAULT '',
    old_balance     TEXT NOT NULL,
    new_balance     TEXT NOT NULL,
    idempotency_key VARCHAR(128) UNIQUE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_account_created ON ledger(account_name, created_at DESC);
`

var migration002Shop = `
CREATE TABLE IF NOT EXISTS products (
    code        VARCHAR(32) PRIMARY KEY,
    name        VARCHAR(255) NOT NULL,
    price       BIGINT NOT NULL CHECK (price > 0),
    description TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS stock (
    id           BIGSERIAL PRIMARY KEY,
    product_code VARCHAR(32) NOT NULL REFERENCES products(code),
    content      TEXT NOT NULL,
    status       VARCHAR(16) NOT NULL DEFAULT 'available',
    buyer_handle VARCHAR(32),
    added_by     VARCHAR(32) NOT NULL DEFAULT '',
    added_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_stock_product_status ON stock(product_code, status);
CREATE TABLE IF NOT EXISTS world_info (
    id         SMALLINT PRIMARY KEY CHECK (id = 1),
    world      VARCHAR(64) NOT NULL DEFAULT '',
    owner      VARCHAR(64) NOT NULL DEFAULT '',
    bot        VARCHAR(64) NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

var migration003CacheAdmin = `
CREATE TABLE IF NOT EXISTS cache (
    key        VARCHAR(255) PRIMARY KEY,
    value      TEXT NOT NULL,
    expires_at TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache(expires_at);
CREATE TABLE IF NOT EXISTS blacklist (
    handle     VARCHAR(32) PRIMARY KEY,
    reason     TEXT NOT NULL DEFAULT '',
    added_by   VARCHAR(32) NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
