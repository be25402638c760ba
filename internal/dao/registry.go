package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/wire"
)

// ErrUnknownName is returned when a nameIndex or subdomain lookup finds
// no registered identity.
var ErrUnknownName = errors.New("dao: unknown name")

// RegistryDAO maintains the identity registry: one row per TLD
// (name_index 0, empty name) and one per registered subdomain
// (name_index 1..N in insertion order).
type RegistryDAO struct {
	engine storage.Engine
}

// NewRegistryDAO creates a RegistryDAO over an engine.
func NewRegistryDAO(engine storage.Engine) *RegistryDAO {
	return &RegistryDAO{engine: engine}
}

// EnsureTLD registers a TLD identity at name_index 0 if it isn't known
// yet, recording its public key. Existing rows are left untouched.
func (d *RegistryDAO) EnsureTLD(ctx context.Context, tld, publicKey string) error {
	err := d.engine.Exec(ctx,
		`INSERT INTO users (tld, name, name_index, public_key)
		 VALUES (?, '', 0, ?)
		 ON CONFLICT (tld, name_index) DO NOTHING`,
		tld, nullIfEmpty(publicKey))
	if err != nil {
		return fmt.Errorf("dao: ensure tld %s: %w", tld, err)
	}
	return nil
}

// AddSubdomain registers a subdomain under a TLD at the next free
// name_index and returns that index. Re-registering an existing name
// returns its current index without changes.
func (d *RegistryDAO) AddSubdomain(ctx context.Context, tld, name, publicKey, email string) (uint16, error) {
	var index uint16
	err := d.engine.WithTx(ctx, func(tx storage.Engine) error {
		var existing int64
		err := tx.First(ctx,
			`SELECT name_index FROM users WHERE tld = ? AND name = ?`,
			[]any{tld, name}, &existing)
		if err == nil {
			index = uint16(existing)
			return nil
		}
		if !errors.Is(err, storage.ErrNoRows) {
			return fmt.Errorf("dao: lookup subdomain %s.%s: %w", name, tld, err)
		}

		var next int64
		if err := tx.First(ctx,
			`SELECT COALESCE(MAX(name_index), 0) + 1 FROM users WHERE tld = ?`,
			[]any{tld}, &next); err != nil {
			return fmt.Errorf("dao: next name_index for %s: %w", tld, err)
		}
		if next > int64(wire.MaxSubdomains) {
			return fmt.Errorf("dao: subdomain capacity for %s exhausted", tld)
		}

		if err := tx.Exec(ctx,
			`INSERT INTO users (tld, name, name_index, public_key, email)
			 VALUES (?, ?, ?, ?, ?)`,
			tld, name, next, nullIfEmpty(publicKey), nullIfEmpty(email)); err != nil {
			return fmt.Errorf("dao: add subdomain %s.%s: %w", name, tld, err)
		}
		index = uint16(next)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// ResolveNameIndex maps a nameIndex from the wire to the subdomain name
// it addresses. Index 0 resolves to the TLD itself (empty name).
// Returns ErrUnknownName for an index that was never registered.
func (d *RegistryDAO) ResolveNameIndex(ctx context.Context, tld string, index uint16) (string, error) {
	if index == 0 {
		return "", nil
	}
	var name string
	err := d.engine.First(ctx,
		`SELECT name FROM users WHERE tld = ? AND name_index = ?`,
		[]any{tld, index}, &name)
	if errors.Is(err, storage.ErrNoRows) {
		return "", fmt.Errorf("%w: %s index %d", ErrUnknownName, tld, index)
	}
	if err != nil {
		return "", fmt.Errorf("dao: resolve name index %d for %s: %w", index, tld, err)
	}
	return name, nil
}

// GetSubdomains returns a TLD's registered subdomains in registration
// order, shaped the way the blob's subdomain sector stores them.
func (d *RegistryDAO) GetSubdomains(ctx context.Context, tld string) ([]wire.Subdomain, error) {
	subs := []wire.Subdomain{}
	err := d.engine.Each(ctx,
		`SELECT name, name_index, public_key FROM users
		 WHERE tld = ? AND name_index > 0
		 ORDER BY name_index ASC`,
		[]any{tld},
		func(row storage.Row) error {
			var (
				sub wire.Subdomain
				idx int64
				key sql.NullString
			)
			if err := row.Scan(&sub.Name, &idx, &key); err != nil {
				return fmt.Errorf("dao: scan subdomain: %w", err)
			}
			sub.Index = uint16(idx)
			sub.PublicKey = key.String
			subs = append(subs, sub)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// GetPublicKey returns the multibase public key registered for an
// identity, or ErrUnknownName.
func (d *RegistryDAO) GetPublicKey(ctx context.Context, tld, subdomain string) (string, error) {
	var key sql.NullString
	err := d.engine.First(ctx,
		`SELECT public_key FROM users WHERE tld = ? AND name = ?`,
		[]any{tld, subdomain}, &key)
	if errors.Is(err, storage.ErrNoRows) {
		return "", fmt.Errorf("%w: %s/%s", ErrUnknownName, tld, subdomain)
	}
	if err != nil {
		return "", fmt.Errorf("dao: public key for %s/%s: %w", tld, subdomain, err)
	}
	return key.String, nil
}

// ReplaceSubdomains overwrites a TLD's subdomain registrations with the
// records recovered from a blob's subdomain sector. The TLD's own row is
// preserved.
func (d *RegistryDAO) ReplaceSubdomains(ctx context.Context, tld string, subs []wire.Subdomain) error {
	return d.engine.WithTx(ctx, func(tx storage.Engine) error {
		if err := tx.Exec(ctx,
			`DELETE FROM users WHERE tld = ? AND name_index > 0`, tld); err != nil {
			return fmt.Errorf("dao: clear subdomains for %s: %w", tld, err)
		}
		for _, sub := range subs {
			if err := tx.Exec(ctx,
				`INSERT INTO users (tld, name, name_index, public_key)
				 VALUES (?, ?, ?, ?)`,
				tld, sub.Name, int(sub.Index), nullIfEmpty(sub.PublicKey)); err != nil {
				return fmt.Errorf("dao: restore subdomain %s.%s: %w", sub.Name, tld, err)
			}
		}
		return nil
	})
}
