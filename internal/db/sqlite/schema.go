package sqlite

type migration struct {
	version int
	sql     string
}

// migrations повторяют схему PostgreSQL (internal/app/migrations.go).
var migrations = []migration{
	{1, `
CREATE TABLE IF NOT EXISTS identity_link (
    handle       TEXT PRIMARY KEY,
    account_name TEXT NOT NULL UNIQUE,
    created_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS accounts (
    account_name TEXT PRIMARY KEY,
    wl           INTEGER NOT NULL DEFAULT 0 CHECK (wl >= 0),
    dl           INTEGER NOT NULL DEFAULT 0 CHECK (dl >= 0),
    bgl          INTEGER NOT NULL DEFAULT 0 CHECK (bgl >= 0),
    updated_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS ledger (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    account_name    TEXT NOT NULL REFERENCES accounts(account_name),
    kind            TEXT NOT NULL,
    detail          TEXT NOT NULL DEFAULT '',
    old_balance     TEXT NOT NULL,
    new_balance     TEXT NOT NULL,
    idempotency_key TEXT UNIQUE,
    created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_account_created ON ledger(account_name, created_at DESC);
`},
	{2, `
CREATE TABLE IF NOT EXISTS products (
    code        TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    price       INTEGER NOT NULL CHECK (price > 0),
    description TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS stock (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    product_code TEXT NOT NULL REFERENCES products(code),
    content      TEXT NOT NULL,
    status       TEXT NOT NULL DEFAULT 'available',
    buyer_handle TEXT,
    added_by     TEXT NOT NULL DEFAULT '',
    added_at     TEXT NOT NULL,
    updated_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stock_product_status ON stock(product_code, status);
CREATE TABLE IF NOT EXISTS world_info (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    world      TEXT NOT NULL DEFAULT '',
    owner      TEXT NOT NULL DEFAULT '',
    bot        TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL
);
`},
	{3, `
CREATE TABLE IF NOT EXISTS cache (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    expires_at TEXT,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache(expires_at);
CREATE TABLE IF NOT EXISTS blacklist (
    handle     TEXT PRIMARY KEY,
    reason     TEXT NOT NULL DEFAULT '',
    added_by   TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
`},
}
