package ledger

// postgresSchema creates the tables used by PostgresLedger. Users are keyed
// by their public key, so a key belongs to at most one group.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS groups (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    key        TEXT NOT NULL UNIQUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
    key        TEXT PRIMARY KEY,
    group_id   TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    balance    BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS uomes (
    id                 TEXT PRIMARY KEY,
    group_id           TEXT NOT NULL REFERENCES groups(id) ON DELETE RESTRICT,
    lender             TEXT NOT NULL REFERENCES users(key) ON DELETE RESTRICT,
    borrower           TEXT NOT NULL REFERENCES users(key) ON DELETE RESTRICT,
    value              BIGINT NOT NULL CHECK (value > 0),
    description        VARCHAR(80) NOT NULL,
    issuer_signature   TEXT NOT NULL DEFAULT '',
    borrower_signature TEXT NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    CHECK (lender <> borrower),
    CHECK (borrower_signature = '' OR issuer_signature <> '')
);

CREATE TABLE IF NOT EXISTS debts (
    group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    borrower TEXT NOT NULL REFERENCES users(key) ON DELETE CASCADE,
    lender   TEXT NOT NULL REFERENCES users(key) ON DELETE CASCADE,
    value    BIGINT NOT NULL CHECK (value > 0),
    PRIMARY KEY (group_id, borrower, lender),
    CHECK (borrower <> lender)
);

CREATE INDEX IF NOT EXISTS idx_users_group_id ON users(group_id);
CREATE INDEX IF NOT EXISTS idx_uomes_group_id ON uomes(group_id);
`

// sqliteSchema mirrors postgresSchema. Timestamps are unix nanoseconds.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS groups (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    key        TEXT NOT NULL UNIQUE,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    key        TEXT PRIMARY KEY,
    group_id   TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    balance    INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS uomes (
    id                 TEXT PRIMARY KEY,
    group_id           TEXT NOT NULL REFERENCES groups(id) ON DELETE RESTRICT,
    lender             TEXT NOT NULL REFERENCES users(key) ON DELETE RESTRICT,
    borrower           TEXT NOT NULL REFERENCES users(key) ON DELETE RESTRICT,
    value              INTEGER NOT NULL CHECK (value > 0),
    description        TEXT NOT NULL,
    issuer_signature   TEXT NOT NULL DEFAULT '',
    borrower_signature TEXT NOT NULL DEFAULT '',
    created_at         INTEGER NOT NULL,
    CHECK (lender <> borrower),
    CHECK (borrower_signature = '' OR issuer_signature <> '')
);

CREATE TABLE IF NOT EXISTS debts (
    group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    borrower TEXT NOT NULL REFERENCES users(key) ON DELETE CASCADE,
    lender   TEXT NOT NULL REFERENCES users(key) ON DELETE CASCADE,
    value    INTEGER NOT NULL CHECK (value > 0),
    PRIMARY KEY (group_id, borrower, lender),
    CHECK (borrower <> lender)
);

CREATE INDEX IF NOT EXISTS idx_users_group_id ON users(group_id);
CREATE INDEX IF NOT EXISTS idx_uomes_group_id ON uomes(group_id);
`
