// Package dao projects the append-only envelope log into the relational
// index and answers queries over it. Every DAO is written against the
// storage.Engine contract only, so the same code serves the embedded and
// the networked backend.
//
// All multi-row writes run inside a single engine transaction that
// starts with an idempotency check on the envelope refhash: duplicate
// delivery is expected from the peer network and collapses to a no-op
// success, never an error.
package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/wire"
)

// NoNextPage is the terminal cursor value: there are no further pages.
const NoNextPage = -1

// DefaultPageSize is used when a caller passes no explicit limit.
const DefaultPageSize = 20

// maxReplyDepth bounds the reply-chain walk: a new reply bumps
// reply_count on at most this many ancestors.
const maxReplyDepth = 4

// Page is one page of a cursor-paginated result. Next is an opaque
// cursor to pass back in, or NoNextPage when the result set is
// exhausted.
type Page[T any] struct {
	Items []T   `json:"items"`
	Next  int64 `json:"next"`
}

func emptyPage[T any]() Page[T] {
	return Page[T]{Items: []T{}, Next: NoNextPage}
}

// normalizeLimit clamps a requested page size. A non-positive limit
// means the caller wants nothing; we return an empty page without
// touching storage.
func normalizeLimit(limit int) (int, bool) {
	if limit < 0 {
		return 0, false
	}
	if limit == 0 {
		return DefaultPageSize, true
	}
	return limit, true
}

// hiddenTopicFilter excludes system records (".display_name" and
// friends) from feed-level queries. Hidden topics are only reachable
// through direct topic lookups.
const hiddenTopicFilter = `(p.topic IS NULL OR p.topic NOT LIKE '.%')`

// SplitIdentity parses a display identity ("sub.tld" or bare "tld")
// into its (tld, subdomain) pair. TLDs on the peer network are single
// labels, so the first dot separates the subdomain.
func SplitIdentity(identity string) (tld, subdomain string) {
	if i := strings.Index(identity, "."); i >= 0 && i < len(identity)-1 {
		return identity[i+1:], identity[:i]
	}
	return identity, ""
}

// insertEnvelope performs the idempotency check and, when the refhash is
// new, inserts the envelope row. Returns the envelope's surrogate id and
// whether a row was actually inserted.
func insertEnvelope(ctx context.Context, tx storage.Engine, env *wire.Envelope) (int64, bool, error) {
	var existing int64
	err := tx.First(ctx, `SELECT id FROM envelopes WHERE refhash = ?`, []any{env.Refhash}, &existing)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNoRows) {
		return 0, false, fmt.Errorf("dao: check refhash %s: %w", env.Refhash, err)
	}

	var id int64
	err = tx.First(ctx,
		`INSERT INTO envelopes (tld, subdomain, network_id, refhash, created_at, additional_data)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		[]any{env.TLD, env.Subdomain, env.NetworkID, env.Refhash, env.CreatedAt.Unix(), env.Additional},
		&id)
	if err != nil {
		return 0, false, fmt.Errorf("dao: insert envelope %s: %w", env.Refhash, err)
	}
	return id, true, nil
}

// nullIfEmpty maps "" to SQL NULL so presence filters (reference IS
// NULL, topic IS NULL) work the same on both backends.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// envelopeColumns is the shared projection for queries that return
// envelopes joined with their post row.
const envelopeColumns = `e.id, e.tld, e.subdomain, e.network_id, e.refhash, e.created_at, e.additional_data`

const postColumns = `p.body, p.title, p.reference, p.topic, p.reply_count, p.like_count, p.pin_count`

// scanPostEnvelope scans one row of envelopeColumns + postColumns into a
// wire.Envelope carrying a *wire.Post.
func scanPostEnvelope(row storage.Row) (*wire.Envelope, error) {
	var (
		env       wire.Envelope
		post      wire.Post
		networkID sql.NullString
		subdomain sql.NullString
		createdAt int64
		title     sql.NullString
		reference sql.NullString
		topic     sql.NullString
	)
	err := row.Scan(
		&env.ID, &env.TLD, &subdomain, &networkID, &env.Refhash, &createdAt, &env.Additional,
		&post.Body, &title, &reference, &topic, &post.ReplyCount, &post.LikeCount, &post.PinCount,
	)
	if err != nil {
		return nil, fmt.Errorf("dao: scan post envelope: %w", err)
	}
	env.Subdomain = subdomain.String
	env.NetworkID = networkID.String
	env.CreatedAt = unixTime(createdAt)
	post.Title = title.String
	post.Reference = reference.String
	post.Topic = topic.String
	env.Message = &post
	return &env, nil
}
