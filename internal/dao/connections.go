package dao

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/wire"
)

// ConnectionsDAO stores directed follow/block edges.
type ConnectionsDAO struct {
	engine storage.Engine
}

// NewConnectionsDAO creates a ConnectionsDAO over an engine.
func NewConnectionsDAO(engine storage.Engine) *ConnectionsDAO {
	return &ConnectionsDAO{engine: engine}
}

// Insert indexes a connection envelope. Duplicate refhashes are a no-op
// success. Connections have no side effects beyond the edge row.
func (d *ConnectionsDAO) Insert(ctx context.Context, env *wire.Envelope) error {
	conn, ok := env.Message.(*wire.Connection)
	if !ok {
		return fmt.Errorf("dao: insert connection: envelope %s carries %T", env.Refhash, env.Message)
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
			`INSERT INTO connections (envelope_id, tld, subdomain, connection_type)
			 VALUES (?, ?, ?, ?)`,
			envID, conn.TLD, conn.Subdomain, int(conn.Type)); err != nil {
			return fmt.Errorf("dao: insert connection %s: %w", env.Refhash, err)
		}
		return nil
	})
}

// GetByRefhash returns the connection envelope with this refhash, or nil.
func (d *ConnectionsDAO) GetByRefhash(ctx context.Context, refhash string) (*wire.Envelope, error) {
	var env *wire.Envelope
	err := d.engine.Each(ctx,
		`SELECT `+envelopeColumns+`, c.tld, c.subdomain, c.connection_type
		 FROM envelopes e JOIN connections c ON c.envelope_id = e.id
		 WHERE e.refhash = ?`,
		[]any{refhash},
		func(row storage.Row) error {
			e, err := scanConnectionEnvelope(row)
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

// GetOutgoing returns the edges an identity has created (who it follows
// or blocks), id-ordered ascending with the last id as cursor.
func (d *ConnectionsDAO) GetOutgoing(ctx context.Context, tld, subdomain string, typ wire.ConnectionType, limit int, cursor int64) (Page[*wire.Envelope], error) {
	return d.pagedConnections(ctx,
		`SELECT `+envelopeColumns+`, c.tld, c.subdomain, c.connection_type
		 FROM envelopes e JOIN connections c ON c.envelope_id = e.id
		 WHERE e.tld = ? AND e.subdomain = ? AND c.connection_type = ? AND e.id > ?
		 ORDER BY e.id ASC
		 LIMIT ?`,
		[]any{tld, subdomain, int(typ)}, limit, cursor)
}

// GetIncoming returns the edges pointing at an identity (its followers
// or blockers), id-ordered ascending with the last id as cursor.
func (d *ConnectionsDAO) GetIncoming(ctx context.Context, tld, subdomain string, typ wire.ConnectionType, limit int, cursor int64) (Page[*wire.Envelope], error) {
	return d.pagedConnections(ctx,
		`SELECT `+envelopeColumns+`, c.tld, c.subdomain, c.connection_type
		 FROM envelopes e JOIN connections c ON c.envelope_id = e.id
		 WHERE c.tld = ? AND c.subdomain = ? AND c.connection_type = ? AND e.id > ?
		 ORDER BY e.id ASC
		 LIMIT ?`,
		[]any{tld, subdomain, int(typ)}, limit, cursor)
}

func (d *ConnectionsDAO) pagedConnections(ctx context.Context, query string, args []any, limit int, cursor int64) (Page[*wire.Envelope], error) {
	limit, ok := normalizeLimit(limit)
	if !ok {
		return emptyPage[*wire.Envelope](), nil
	}

	items := []*wire.Envelope{}
	args = append(args, cursor, limit)
	err := d.engine.Each(ctx, query, args, func(row storage.Row) error {
		env, err := scanConnectionEnvelope(row)
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

func scanConnectionEnvelope(row storage.Row) (*wire.Envelope, error) {
	var (
		env           wire.Envelope
		conn          wire.Connection
		subdomain     sql.NullString
		networkID     sql.NullString
		createdAt     int64
		connSubdomain sql.NullString
		connType      int
	)
	err := row.Scan(
		&env.ID, &env.TLD, &subdomain, &networkID, &env.Refhash, &createdAt, &env.Additional,
		&conn.TLD, &connSubdomain, &connType,
	)
	if err != nil {
		return nil, fmt.Errorf("dao: scan connection envelope: %w", err)
	}
	env.Subdomain = subdomain.String
	env.NetworkID = networkID.String
	env.CreatedAt = unixTime(createdAt)
	conn.Subdomain = connSubdomain.String
	conn.Type = wire.ConnectionType(connType)
	env.Message = &conn
	return &env, nil
}
