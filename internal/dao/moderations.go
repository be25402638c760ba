package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/wire"
)

// ModerationsDAO stores likes and pins and maintains the counters on
// their target posts.
type ModerationsDAO struct {
	engine storage.Engine
}

// NewModerationsDAO creates a ModerationsDAO over an engine.
func NewModerationsDAO(engine storage.Engine) *ModerationsDAO {
	return &ModerationsDAO{engine: engine}
}

// Insert indexes a moderation envelope. Duplicate refhashes are a no-op
// success. When the referenced post resolves, its like_count or
// pin_count is bumped in the same transaction; when it doesn't, the
// moderation is stored anyway and no counter moves.
func (d *ModerationsDAO) Insert(ctx context.Context, env *wire.Envelope) error {
	mod, ok := env.Message.(*wire.Moderation)
	if !ok {
		return fmt.Errorf("dao: insert moderation: envelope %s carries %T", env.Refhash, env.Message)
	}

	return d.engine.WithTx(ctx, func(tx storage.Engine) error {
		envID, inserted, err := insertEnvelope(ctx, tx, env)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		if err := tx.Exec(ctx,
			`INSERT INTO moderations (envelope_id, reference, moderation_type)
			 VALUES (?, ?, ?)`,
			envID, mod.Reference, int(mod.Type)); err != nil {
			return fmt.Errorf("dao: insert moderation %s: %w", env.Refhash, err)
		}

		var postID int64
		err = tx.First(ctx,
			`SELECT p.id FROM posts p
			 JOIN envelopes e ON e.id = p.envelope_id
			 WHERE e.refhash = ?`,
			[]any{mod.Reference}, &postID)
		if errors.Is(err, storage.ErrNoRows) {
			return nil // target not indexed yet; counts stay put
		}
		if err != nil {
			return fmt.Errorf("dao: resolve moderation target %s: %w", mod.Reference, err)
		}

		column := "like_count"
		if mod.Type == wire.Pin {
			column = "pin_count"
		}
		if err := tx.Exec(ctx,
			`UPDATE posts SET `+column+` = `+column+` + 1 WHERE id = ?`, postID); err != nil {
			return fmt.Errorf("dao: bump %s: %w", column, err)
		}
		return nil
	})
}

// GetByRefhash returns the moderation envelope with this refhash, or nil.
func (d *ModerationsDAO) GetByRefhash(ctx context.Context, refhash string) (*wire.Envelope, error) {
	var env *wire.Envelope
	err := d.engine.Each(ctx,
		`SELECT `+envelopeColumns+`, m.reference, m.moderation_type
		 FROM envelopes e JOIN moderations m ON m.envelope_id = e.id
		 WHERE e.refhash = ?`,
		[]any{refhash},
		func(row storage.Row) error {
			e, err := scanModerationEnvelope(row)
			if err != nil {
				return err
			}
			env = e
			return nil
		})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// GetByReference returns the moderations targeting a post, id-ordered
// ascending with the last id as cursor.
func (d *ModerationsDAO) GetByReference(ctx context.Context, reference string, limit int, cursor int64) (Page[*wire.Envelope], error) {
	limit, ok := normalizeLimit(limit)
	if !ok {
		return emptyPage[*wire.Envelope](), nil
	}

	items := []*wire.Envelope{}
	err := d.engine.Each(ctx,
		`SELECT `+envelopeColumns+`, m.reference, m.moderation_type
		 FROM envelopes e JOIN moderations m ON m.envelope_id = e.id
		 WHERE m.reference = ? AND e.id > ?
		 ORDER BY e.id ASC
		 LIMIT ?`,
		[]any{reference, cursor, limit},
		func(row storage.Row) error {
			env, err := scanModerationEnvelope(row)
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
		next = items[len(items)-1].ID
	}
	return Page[*wire.Envelope]{Items: items, Next: next}, nil
}

func scanModerationEnvelope(row storage.Row) (*wire.Envelope, error) {
	var (
		env       wire.Envelope
		mod       wire.Moderation
		subdomain sql.NullString
		networkID sql.NullString
		createdAt int64
		modType   int
	)
	err := row.Scan(
		&env.ID, &env.TLD, &subdomain, &networkID, &env.Refhash, &createdAt, &env.Additional,
		&mod.Reference, &modType,
	)
	if err != nil {
		return nil, fmt.Errorf("dao: scan moderation envelope: %w", err)
	}
	env.Subdomain = subdomain.String
	env.NetworkID = networkID.String
	env.CreatedAt = unixTime(createdAt)
	mod.Type = wire.ModerationType(modType)
	env.Message = &mod
	return &env, nil
}
