package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/wire"
)

// PostsDAO stores and queries posts, their tags, and the derived
// reply/like/pin counters.
type PostsDAO struct {
	engine storage.Engine
}

// NewPostsDAO creates a PostsDAO over an engine.
func NewPostsDAO(engine storage.Engine) *PostsDAO {
	return &PostsDAO{engine: engine}
}

// Insert indexes a post envelope. Duplicate refhashes are a no-op
// success. Side effects, all inside one transaction: tag rows are
// deduplicated and linked, and if the post is a reply the reply chain is
// walked upward, bumping reply_count on at most maxReplyDepth ancestors.
// An ancestor that does not resolve simply ends the walk.
func (d *PostsDAO) Insert(ctx context.Context, env *wire.Envelope) error {
	post, ok := env.Message.(*wire.Post)
	if !ok {
		return fmt.Errorf("dao: insert post: envelope %s carries %T", env.Refhash, env.Message)
	}

	return d.engine.WithTx(ctx, func(tx storage.Engine) error {
		envID, inserted, err := insertEnvelope(ctx, tx, env)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		var postID int64
		err = tx.First(ctx,
			`INSERT INTO posts (envelope_id, body, title, reference, topic)
			 VALUES (?, ?, ?, ?, ?)
			 RETURNING id`,
			[]any{envID, post.Body, nullIfEmpty(post.Title), nullIfEmpty(post.Reference), nullIfEmpty(post.Topic)},
			&postID)
		if err != nil {
			return fmt.Errorf("dao: insert post %s: %w", env.Refhash, err)
		}

		if err := linkTags(ctx, tx, postID, post.Tags); err != nil {
			return err
		}

		return bumpReplyChain(ctx, tx, post.Reference)
	})
}

// linkTags deduplicates tags (case-sensitive exact match) and links each
// to the post through the join table.
func linkTags(ctx context.Context, tx storage.Engine, postID int64, tags []string) error {
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}

		if err := tx.Exec(ctx,
			`INSERT INTO tags (name) VALUES (?) ON CONFLICT (name) DO NOTHING`, tag); err != nil {
			return fmt.Errorf("dao: upsert tag %q: %w", tag, err)
		}
		var tagID int64
		if err := tx.First(ctx, `SELECT id FROM tags WHERE name = ?`, []any{tag}, &tagID); err != nil {
			return fmt.Errorf("dao: lookup tag %q: %w", tag, err)
		}
		if err := tx.Exec(ctx,
			`INSERT INTO posts_tags (post_id, tag_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			postID, tagID); err != nil {
			return fmt.Errorf("dao: link tag %q: %w", tag, err)
		}
	}
	return nil
}

// bumpReplyChain walks from the referenced post up through its own
// references, incrementing reply_count at each hop. The walk is a
// bounded loop, not recursion: exceeding maxReplyDepth or hitting an
// unresolvable reference stops it silently.
func bumpReplyChain(ctx context.Context, tx storage.Engine, reference string) error {
	ref := reference
	for depth := 0; depth < maxReplyDepth && ref != ""; depth++ {
		var (
			parentID  int64
			parentRef sql.NullString
		)
		err := tx.First(ctx,
			`SELECT p.id, p.reference FROM posts p
			 JOIN envelopes e ON e.id = p.envelope_id
			 WHERE e.refhash = ?`,
			[]any{ref}, &parentID, &parentRef)
		if errors.Is(err, storage.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("dao: resolve reply target %s: %w", ref, err)
		}

		if err := tx.Exec(ctx,
			`UPDATE posts SET reply_count = reply_count + 1 WHERE id = ?`, parentID); err != nil {
			return fmt.Errorf("dao: bump reply_count: %w", err)
		}
		ref = parentRef.String
	}
	return nil
}

// GetByRefhash returns the post envelope with this refhash, or nil when
// unknown. Tags are fetched only when includeTags is set.
func (d *PostsDAO) GetByRefhash(ctx context.Context, refhash string, includeTags bool) (*wire.Envelope, error) {
	var env *wire.Envelope
	query := `SELECT ` + envelopeColumns + `, ` + postColumns + `
		FROM envelopes e JOIN posts p ON p.envelope_id = e.id
		WHERE e.refhash = ?`
	err := d.engine.Each(ctx, query, []any{refhash}, func(row storage.Row) error {
		e, err := scanPostEnvelope(row)
		if err != nil {
			return err
		}
		env = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if env == nil {
		return nil, nil
	}
	if includeTags {
		if err := d.attachTags(ctx, d.engine, env); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// attachTags loads the tag names linked to env's post row.
func (d *PostsDAO) attachTags(ctx context.Context, eng storage.Engine, env *wire.Envelope) error {
	post := env.Message.(*wire.Post)
	return eng.Each(ctx,
		`SELECT t.name FROM tags t
		 JOIN posts_tags pt ON pt.tag_id = t.id
		 JOIN posts p ON p.id = pt.post_id
		 WHERE p.envelope_id = ?
		 ORDER BY t.name`,
		[]any{env.ID},
		func(row storage.Row) error {
			var name string
			if err := row.Scan(&name); err != nil {
				return fmt.Errorf("dao: scan tag: %w", err)
			}
			post.Tags = append(post.Tags, name)
			return nil
		})
}

// GetPosts returns the public feed: non-hidden posts and replies across
// all identities, newest first. The cursor counts items already
// consumed.
func (d *PostsDAO) GetPosts(ctx context.Context, limit int, cursor int64) (Page[*wire.Envelope], error) {
	query := `SELECT ` + envelopeColumns + `, ` + postColumns + `
		FROM envelopes e JOIN posts p ON p.envelope_id = e.id
		WHERE ` + hiddenTopicFilter + `
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT ? OFFSET ?`
	return d.pagedPosts(ctx, query, nil, limit, cursor)
}

// GetPostsBySubdomain returns an identity's timeline, newest first,
// hidden topics excluded.
func (d *PostsDAO) GetPostsBySubdomain(ctx context.Context, tld, subdomain string, limit int, cursor int64) (Page[*wire.Envelope], error) {
	query := `SELECT ` + envelopeColumns + `, ` + postColumns + `
		FROM envelopes e JOIN posts p ON p.envelope_id = e.id
		WHERE e.tld = ? AND e.subdomain = ? AND ` + hiddenTopicFilter + `
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT ? OFFSET ?`
	return d.pagedPosts(ctx, query, []any{tld, subdomain}, limit, cursor)
}

// GetPostsByTopic returns posts under an exact topic, newest first. This
// is the one read path that reaches hidden (dot-prefixed) topics, since
// the caller names the topic explicitly.
func (d *PostsDAO) GetPostsByTopic(ctx context.Context, topic string, limit int, cursor int64) (Page[*wire.Envelope], error) {
	query := `SELECT ` + envelopeColumns + `, ` + postColumns + `
		FROM envelopes e JOIN posts p ON p.envelope_id = e.id
		WHERE p.topic = ?
		ORDER BY e.created_at DESC, e.id DESC
		LIMIT ? OFFSET ?`
	return d.pagedPosts(ctx, query, []any{topic}, limit, cursor)
}

// GetCommentsByHash returns the direct replies to a post, oldest first,
// hidden topics excluded.
func (d *PostsDAO) GetCommentsByHash(ctx context.Context, reference string, limit int, cursor int64) (Page[*wire.Envelope], error) {
	query := `SELECT ` + envelopeColumns + `, ` + postColumns + `
		FROM envelopes e JOIN posts p ON p.envelope_id = e.id
		WHERE p.reference = ? AND ` + hiddenTopicFilter + `
		ORDER BY e.created_at ASC, e.id ASC
		LIMIT ? OFFSET ?`
	return d.pagedPosts(ctx, query, []any{reference}, limit, cursor)
}

// GetProfileField returns the newest value of a hidden system topic
// (".display_name", ".bio", ...) for an identity, or "" when unset.
func (d *PostsDAO) GetProfileField(ctx context.Context, tld, subdomain, key string) (string, error) {
	var body string
	err := d.engine.First(ctx,
		`SELECT p.body FROM posts p
		 JOIN envelopes e ON e.id = p.envelope_id
		 WHERE e.tld = ? AND e.subdomain = ? AND p.topic = ?
		 ORDER BY e.created_at DESC, e.id DESC
		 LIMIT 1`,
		[]any{tld, subdomain, key}, &body)
	if errors.Is(err, storage.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return body, nil
}

// pagedPosts runs a LIMIT/OFFSET post query and wraps the result in a
// Page with a count-offset cursor.
func (d *PostsDAO) pagedPosts(ctx context.Context, query string, args []any, limit int, cursor int64) (Page[*wire.Envelope], error) {
	limit, ok := normalizeLimit(limit)
	if !ok {
		return emptyPage[*wire.Envelope](), nil
	}
	if cursor < 0 {
		cursor = 0
	}

	items := []*wire.Envelope{}
	args = append(args, limit, cursor)
	err := d.engine.Each(ctx, query, args, func(row storage.Row) error {
		env, err := scanPostEnvelope(row)
		if err != nil {
			return err
		}
		items = append(items, env)
		return nil
	})
	if err != nil {
		return emptyPage[*wire.Envelope](), err
	}

	next := int64(NoNextPage)
	if len(items) == limit {
		next = cursor + int64(len(items))
	}
	return Page[*wire.Envelope]{Items: items, Next: next}, nil
}
