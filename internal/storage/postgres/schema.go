package postgres

// Schema contains the PostgreSQL DDL for the relational index: the same
// logical layout as the SQLite backend, with BIGSERIAL keys and BYTEA
// blobs. Timestamps are unix seconds so both backends sort identically.
const Schema = `
CREATE TABLE IF NOT EXISTS envelopes (
    id              BIGSERIAL PRIMARY KEY,
    tld             VARCHAR(253) NOT NULL,
    subdomain       VARCHAR(253),
    network_id      VARCHAR(255),
    refhash         VARCHAR(64) NOT NULL UNIQUE,
    created_at      BIGINT NOT NULL,
    additional_data BYTEA
);
CREATE INDEX IF NOT EXISTS idx_envelopes_identity ON envelopes(tld, subdomain);
CREATE INDEX IF NOT EXISTS idx_envelopes_created_at ON envelopes(created_at);

CREATE TABLE IF NOT EXISTS posts (
    id          BIGSERIAL PRIMARY KEY,
    envelope_id BIGINT NOT NULL UNIQUE REFERENCES envelopes(id),
    body        TEXT NOT NULL,
    title       TEXT,
    reference   VARCHAR(64),
    topic       TEXT,
    reply_count BIGINT NOT NULL DEFAULT 0,
    like_count  BIGINT NOT NULL DEFAULT 0,
    pin_count   BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_posts_reference ON posts(reference);
CREATE INDEX IF NOT EXISTS idx_posts_topic ON posts(topic);

CREATE TABLE IF NOT EXISTS tags (
    id   BIGSERIAL PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS posts_tags (
    post_id BIGINT NOT NULL REFERENCES posts(id),
    tag_id  BIGINT NOT NULL REFERENCES tags(id),
    PRIMARY KEY (post_id, tag_id)
);

CREATE TABLE IF NOT EXISTS connections (
    id              BIGSERIAL PRIMARY KEY,
    envelope_id     BIGINT NOT NULL UNIQUE REFERENCES envelopes(id),
    tld             VARCHAR(253) NOT NULL,
    subdomain       VARCHAR(253),
    connection_type SMALLINT NOT NULL
);

CREATE TABLE IF NOT EXISTS moderations (
    id              BIGSERIAL PRIMARY KEY,
    envelope_id     BIGINT NOT NULL UNIQUE REFERENCES envelopes(id),
    reference       VARCHAR(64) NOT NULL,
    moderation_type SMALLINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_moderations_reference ON moderations(reference);

CREATE TABLE IF NOT EXISTS media (
    id          BIGSERIAL PRIMARY KEY,
    envelope_id BIGINT NOT NULL UNIQUE REFERENCES envelopes(id),
    filename    VARCHAR(255) NOT NULL,
    mime_type   VARCHAR(255) NOT NULL,
    content     BYTEA NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
    id         BIGSERIAL PRIMARY KEY,
    tld        VARCHAR(253) NOT NULL,
    name       VARCHAR(253) NOT NULL DEFAULT '',
    name_index INTEGER NOT NULL,
    public_key VARCHAR(255),
    email      VARCHAR(255),
    UNIQUE (tld, name_index),
    UNIQUE (tld, name)
);
`
