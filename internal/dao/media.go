package dao

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/wire"
)

// MediaDAO stores binary attachments.
type MediaDAO struct {
	engine storage.Engine
}

// NewMediaDAO creates a MediaDAO over an engine.
func NewMediaDAO(engine storage.Engine) *MediaDAO {
	return &MediaDAO{engine: engine}
}

// Insert indexes a media envelope. Duplicate refhashes are a no-op
// success.
func (d *MediaDAO) Insert(ctx context.Context, env *wire.Envelope) error {
	media, ok := env.Message.(*wire.Media)
	if !ok {
		return fmt.Errorf("dao: insert media: envelope %s carries %T", env.Refhash, env.Message)
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
			`INSERT INTO media (envelope_id, filename, mime_type, content)
			 VALUES (?, ?, ?, ?)`,
			envID, media.Filename, media.MimeType, media.Content); err != nil {
			return fmt.Errorf("dao: insert media %s: %w", env.Refhash, err)
		}
		return nil
	})
}

// GetByRefhash returns the media envelope with this refhash, or nil.
func (d *MediaDAO) GetByRefhash(ctx context.Context, refhash string) (*wire.Envelope, error) {
	var env *wire.Envelope
	err := d.engine.Each(ctx,
		`SELECT `+envelopeColumns+`, md.filename, md.mime_type, md.content
		 FROM envelopes e JOIN media md ON md.envelope_id = e.id
		 WHERE e.refhash = ?`,
		[]any{refhash},
		func(row storage.Row) error {
			var (
				e         wire.Envelope
				media     wire.Media
				subdomain sql.NullString
				networkID sql.NullString
				createdAt int64
			)
			err := row.Scan(
				&e.ID, &e.TLD, &subdomain, &networkID, &e.Refhash, &createdAt, &e.Additional,
				&media.Filename, &media.MimeType, &media.Content,
			)
			if err != nil {
				return fmt.Errorf("dao: scan media envelope: %w", err)
			}
			e.Subdomain = subdomain.String
			e.NetworkID = networkID.String
			e.CreatedAt = unixTime(createdAt)
			e.Message = &media
			env = &e
			return nil
		})
	if err != nil {
		return nil, err
	}
	return env, nil
}
