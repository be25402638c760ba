package sqlite

// Schema contains the SQLite DDL for the relational index. It is the
// same logical layout as the PostgreSQL backend's schema; only dialect
// details (AUTOINCREMENT, BLOB) differ. Timestamps are stored as unix
// seconds so both backends compare and sort identically.
const Schema = `
-- envelopes: one row per indexed record. refhash is the idempotency key:
-- duplicate delivery from peers is expected and must collapse here.
CREATE TABLE IF NOT EXISTS envelopes (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    tld             TEXT NOT NULL,
    subdomain       TEXT,
    network_id      TEXT,
    refhash         TEXT NOT NULL UNIQUE,
    created_at      INTEGER NOT NULL,
    additional_data BLOB
);
CREATE INDEX IF NOT EXISTS idx_envelopes_identity ON envelopes(tld, subdomain);
CREATE INDEX IF NOT EXISTS idx_envelopes_created_at ON envelopes(created_at);

-- posts: the three counters are derived by the indexer, never decoded
-- from the wire, and may be rewritten wholesale by reconciliation.
CREATE TABLE IF NOT EXISTS posts (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    envelope_id INTEGER NOT NULL UNIQUE REFERENCES envelopes(id),
    body        TEXT NOT NULL,
    title       TEXT,
    reference   TEXT,
    topic       TEXT,
    reply_count INTEGER NOT NULL DEFAULT 0,
    like_count  INTEGER NOT NULL DEFAULT 0,
    pin_count   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_posts_reference ON posts(reference);
CREATE INDEX IF NOT EXISTS idx_posts_topic ON posts(topic);

CREATE TABLE IF NOT EXISTS tags (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS posts_tags (
    post_id INTEGER NOT NULL REFERENCES posts(id),
    tag_id  INTEGER NOT NULL REFERENCES tags(id),
    PRIMARY KEY (post_id, tag_id)
);

-- connections: directed follow/block edges from the envelope's owner.
CREATE TABLE IF NOT EXISTS connections (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    envelope_id     INTEGER NOT NULL UNIQUE REFERENCES envelopes(id),
    tld             TEXT NOT NULL,
    subdomain       TEXT,
    connection_type INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS moderations (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    envelope_id     INTEGER NOT NULL UNIQUE REFERENCES envelopes(id),
    reference       TEXT NOT NULL,
    moderation_type INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_moderations_reference ON moderations(reference);

CREATE TABLE IF NOT EXISTS media (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    envelope_id INTEGER NOT NULL UNIQUE REFERENCES envelopes(id),
    filename    TEXT NOT NULL,
    mime_type   TEXT NOT NULL,
    content     BLOB NOT NULL
);

-- users: the identity/subdomain registry. name_index 0 is the TLD
-- identity itself (name stored as the empty string); 1..N are registered
-- subdomains in insertion order.
CREATE TABLE IF NOT EXISTS users (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    tld        TEXT NOT NULL,
    name       TEXT NOT NULL DEFAULT '',
    name_index INTEGER NOT NULL,
    public_key TEXT,
    email      TEXT,
    UNIQUE (tld, name_index),
    UNIQUE (tld, name)
);
`
