package writer

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/hearsay-net/hearsay/internal/dao"
	"github.com/hearsay-net/hearsay/internal/keys"
	"github.com/hearsay-net/hearsay/internal/wire"
)

const replayPageSize = 200

// ReconstructBlob rebuilds a name's remote blob from the trusted local
// index: recover the subdomain sector from the current blob, truncate,
// rewrite the sector, then replay every local envelope in createdAt
// order. A non-zero until restricts the replay to envelopes created at or
// before that time, rolling the blob back to a point in its history. This
// is the repair path for a desynchronized blob.
func (w *Writer) ReconstructBlob(ctx context.Context, tld string, until time.Time, broadcast bool) error {
	if !w.keyring.Has(tld) {
		return fmt.Errorf("writer: reconstruct %s: %w", tld, keys.ErrNoSigner)
	}

	mu := w.lock(tld)
	mu.Lock()
	defer mu.Unlock()

	if err := w.recoverSector(ctx, tld); err != nil {
		return err
	}
	subs, err := w.registry.GetSubdomains(ctx, tld)
	if err != nil {
		return fmt.Errorf("writer: reconstruct %s: %w", tld, err)
	}

	txID, err := w.store.Checkout(ctx, tld)
	if err != nil {
		return fmt.Errorf("writer: checkout %s: %w", tld, err)
	}
	if err := w.store.Truncate(ctx, txID); err != nil {
		w.abort(ctx, txID, tld)
		return fmt.Errorf("writer: truncate %s: %w", tld, err)
	}

	var offset int64
	if len(subs) > 0 {
		sector, err := wire.EncodeSubdomainSector(subs)
		if err != nil {
			w.abort(ctx, txID, tld)
			return fmt.Errorf("writer: reconstruct %s: %w", tld, err)
		}
		if err := w.store.WriteAt(ctx, txID, 0, sector); err != nil {
			w.abort(ctx, txID, tld)
			return fmt.Errorf("writer: write sector %s: %w", tld, err)
		}
		offset = int64(len(sector))
	}

	offset, replayed, err := w.replayEnvelopes(ctx, txID, tld, subs, offset, until)
	if err != nil {
		w.abort(ctx, txID, tld)
		return err
	}
	if err := w.seal(ctx, txID, tld, broadcast); err != nil {
		return err
	}

	w.logger.Info("blob reconstructed", "tld", tld, "envelopes", replayed, "bytes", offset)
	return nil
}

// recoverSector pulls subdomain registrations out of the current remote
// blob so registrations made elsewhere survive the rebuild.
func (w *Writer) recoverSector(ctx context.Context, tld string) error {
	stream, err := w.opener.OpenBlob(ctx, tld)
	if err != nil {
		return fmt.Errorf("writer: open blob %s: %w", tld, err)
	}
	defer stream.Close()

	r := bufio.NewReader(stream)
	if !wire.SniffSubdomainSector(r) {
		return nil
	}
	subs, err := wire.ReadSubdomainSector(r)
	if err != nil {
		return fmt.Errorf("writer: recover sector %s: %w", tld, err)
	}
	if err := w.registry.ReplaceSubdomains(ctx, tld, subs); err != nil {
		return fmt.Errorf("writer: recover sector %s: %w", tld, err)
	}
	return nil
}

// replayEnvelopes streams the local index for a name in createdAt order
// and stages each envelope sequentially. An envelope whose subdomain is
// no longer registered is skipped with a log line since it could not be
// addressed on the wire.
func (w *Writer) replayEnvelopes(ctx context.Context, txID uint32, tld string, subs []wire.Subdomain, offset int64, until time.Time) (int64, int, error) {
	indexByName := make(map[string]uint16, len(subs))
	for _, sub := range subs {
		indexByName[sub.Name] = sub.Index
	}

	replayed := 0
	cursor := int64(0)
	for {
		page, err := w.envelopes.GetUserEnvelopes(ctx, tld, replayPageSize, cursor)
		if err != nil {
			return offset, replayed, fmt.Errorf("writer: replay %s: %w", tld, err)
		}
		for _, env := range page.Items {
			if !until.IsZero() && env.CreatedAt.After(until) {
				continue
			}
			if env.Subdomain != "" {
				idx, ok := indexByName[env.Subdomain]
				if !ok {
					w.logger.Error("envelope skipped in replay", "tld", tld, "subdomain", env.Subdomain, "refhash", env.Refhash)
					continue
				}
				env.NameIndex = idx
			}
			raw, err := wire.EncodeEnvelope(env)
			if err != nil {
				return offset, replayed, fmt.Errorf("writer: replay encode %s: %w", tld, err)
			}
			if err := w.store.WriteAt(ctx, txID, offset, raw); err != nil {
				return offset, replayed, fmt.Errorf("writer: replay write %s: %w", tld, err)
			}
			offset += int64(len(raw))
			replayed++
		}
		if page.Next == dao.NoNextPage {
			return offset, replayed, nil
		}
		cursor = page.Next
	}
}

// ReconstructSubdomainSectors rewrites the sector region at the head of
// a name's blob from the local registry. A migrating subdomain that was
// never registered locally is persisted first so it gets an index.
func (w *Writer) ReconstructSubdomainSectors(ctx context.Context, tld, migratingName, migratingKey string) error {
	if !w.keyring.Has(tld) {
		return fmt.Errorf("writer: rewrite sector %s: %w", tld, keys.ErrNoSigner)
	}

	mu := w.lock(tld)
	mu.Lock()
	defer mu.Unlock()

	if migratingName != "" {
		if _, err := w.registry.AddSubdomain(ctx, tld, migratingName, migratingKey, ""); err != nil {
			return fmt.Errorf("writer: rewrite sector %s: %w", tld, err)
		}
	}

	subs, err := w.registry.GetSubdomains(ctx, tld)
	if err != nil {
		return fmt.Errorf("writer: rewrite sector %s: %w", tld, err)
	}
	sector, err := wire.EncodeSubdomainSector(subs)
	if err != nil {
		return fmt.Errorf("writer: rewrite sector %s: %w", tld, err)
	}

	// An existing blob must already start with a sector region, otherwise
	// the rewrite would clobber envelope bytes.
	length, err := w.blobLength(ctx, tld)
	if err != nil {
		return err
	}
	if length > 0 {
		ok, err := w.hasSector(ctx, tld)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("writer: rewrite sector %s: blob has no sector region", tld)
		}
	}

	txID, err := w.store.Checkout(ctx, tld)
	if err != nil {
		return fmt.Errorf("writer: checkout %s: %w", tld, err)
	}
	if err := w.store.WriteAt(ctx, txID, 0, sector); err != nil {
		w.abort(ctx, txID, tld)
		return fmt.Errorf("writer: write sector %s: %w", tld, err)
	}
	return w.seal(ctx, txID, tld, false)
}

func (w *Writer) hasSector(ctx context.Context, tld string) (bool, error) {
	stream, err := w.opener.OpenBlob(ctx, tld)
	if err != nil {
		return false, fmt.Errorf("writer: open blob %s: %w", tld, err)
	}
	defer stream.Close()
	return wire.SniffSubdomainSector(bufio.NewReader(stream)), nil
}
