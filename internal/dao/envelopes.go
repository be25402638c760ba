package dao

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/wire"
)

func unixTime(s int64) time.Time {
	return time.Unix(s, 0).UTC()
}

// EnvelopesDAO answers queries that span every message type. Its main
// consumer is blob reconstruction, which replays an identity's full
// local history in creation order.
type EnvelopesDAO struct {
	engine storage.Engine
}

// NewEnvelopesDAO creates an EnvelopesDAO over an engine.
func NewEnvelopesDAO(engine storage.Engine) *EnvelopesDAO {
	return &EnvelopesDAO{engine: engine}
}

// GetUserEnvelopes returns one page of a TLD's envelopes of every type,
// sorted by creation time ascending (moderations and connections
// interleaved with posts), with tags attached to posts. The cursor
// counts items already consumed.
func (d *EnvelopesDAO) GetUserEnvelopes(ctx context.Context, tld string, limit int, cursor int64) (Page[*wire.Envelope], error) {
	limit, ok := normalizeLimit(limit)
	if !ok {
		return emptyPage[*wire.Envelope](), nil
	}
	if cursor < 0 {
		cursor = 0
	}

	items := []*wire.Envelope{}
	err := d.engine.Each(ctx,
		`SELECT `+envelopeColumns+`,
		        p.body, p.title, p.reference, p.topic,
		        c.tld, c.subdomain, c.connection_type,
		        m.reference, m.moderation_type,
		        md.filename, md.mime_type, md.content
		 FROM envelopes e
		 LEFT JOIN posts p ON p.envelope_id = e.id
		 LEFT JOIN connections c ON c.envelope_id = e.id
		 LEFT JOIN moderations m ON m.envelope_id = e.id
		 LEFT JOIN media md ON md.envelope_id = e.id
		 WHERE e.tld = ?
		 ORDER BY e.created_at ASC, e.id ASC
		 LIMIT ? OFFSET ?`,
		[]any{tld, limit, cursor},
		func(row storage.Row) error {
			env, err := scanAnyEnvelope(row)
			if err != nil {
				return err
			}
			items = append(items, env)
			return nil
		})
	if err != nil {
		return emptyPage[*wire.Envelope](), err
	}

	// Tag lists feed the signed wire payload during reconstruction, so
	// they must be present. Sequential per-post lookups are fine here.
	posts := NewPostsDAO(d.engine)
	for _, env := range items {
		if _, isPost := env.Message.(*wire.Post); isPost {
			if err := posts.attachTags(ctx, d.engine, env); err != nil {
				return emptyPage[*wire.Envelope](), err
			}
		}
	}

	next := int64(NoNextPage)
	if len(items) == limit {
		next = cursor + int64(len(items))
	}
	return Page[*wire.Envelope]{Items: items, Next: next}, nil
}

// scanAnyEnvelope rebuilds an envelope from the wide LEFT JOIN
// projection, picking whichever type row is present.
func scanAnyEnvelope(row storage.Row) (*wire.Envelope, error) {
	var (
		env       wire.Envelope
		subdomain sql.NullString
		networkID sql.NullString
		createdAt int64

		postBody  sql.NullString
		postTitle sql.NullString
		postRef   sql.NullString
		postTopic sql.NullString

		connTLD  sql.NullString
		connSub  sql.NullString
		connType sql.NullInt64

		modRef  sql.NullString
		modType sql.NullInt64

		mediaName sql.NullString
		mediaMime sql.NullString
		mediaData []byte
	)
	err := row.Scan(
		&env.ID, &env.TLD, &subdomain, &networkID, &env.Refhash, &createdAt, &env.Additional,
		&postBody, &postTitle, &postRef, &postTopic,
		&connTLD, &connSub, &connType,
		&modRef, &modType,
		&mediaName, &mediaMime, &mediaData,
	)
	if err != nil {
		return nil, fmt.Errorf("dao: scan envelope: %w", err)
	}

	env.Subdomain = subdomain.String
	env.NetworkID = networkID.String
	env.CreatedAt = unixTime(createdAt)

	switch {
	case postBody.Valid:
		env.Message = &wire.Post{
			Body:      postBody.String,
			Title:     postTitle.String,
			Reference: postRef.String,
			Topic:     postTopic.String,
		}
	case connType.Valid:
		env.Message = &wire.Connection{
			TLD:       connTLD.String,
			Subdomain: connSub.String,
			Type:      wire.ConnectionType(connType.Int64),
		}
	case modType.Valid:
		env.Message = &wire.Moderation{
			Reference: modRef.String,
			Type:      wire.ModerationType(modType.Int64),
		}
	case mediaName.Valid:
		env.Message = &wire.Media{
			Filename: mediaName.String,
			MimeType: mediaMime.String,
			Content:  mediaData,
		}
	default:
		return nil, fmt.Errorf("dao: envelope %s has no type row", env.Refhash)
	}
	return &env, nil
}

// PurgeIdentity deletes every locally indexed row belonging to a TLD.
// Blob truncation deliberately does NOT call this; it exists so a caller
// that wants a truncate to also forget local history can opt in
// explicitly.
func PurgeIdentity(ctx context.Context, engine storage.Engine, tld string) error {
	return engine.WithTx(ctx, func(tx storage.Engine) error {
		for _, stmt := range []string{
			`DELETE FROM posts_tags WHERE post_id IN (
			    SELECT p.id FROM posts p JOIN envelopes e ON e.id = p.envelope_id WHERE e.tld = ?)`,
			`DELETE FROM posts WHERE envelope_id IN (SELECT id FROM envelopes WHERE tld = ?)`,
			`DELETE FROM connections WHERE envelope_id IN (SELECT id FROM envelopes WHERE tld = ?)`,
			`DELETE FROM moderations WHERE envelope_id IN (SELECT id FROM envelopes WHERE tld = ?)`,
			`DELETE FROM media WHERE envelope_id IN (SELECT id FROM envelopes WHERE tld = ?)`,
			`DELETE FROM envelopes WHERE tld = ?`,
		} {
			if err := tx.Exec(ctx, stmt, tld); err != nil {
				return fmt.Errorf("dao: purge %s: %w", tld, err)
			}
		}
		return nil
	})
}
