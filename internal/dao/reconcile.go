package dao

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/wire"
)

// MetadataReport is the result of a full-corpus reconciliation scan:
// freshly recomputed counters keyed by post refhash.
type MetadataReport struct {
	CommentCounts map[string]int64 `json:"commentCounts"`
	LikeCounts    map[string]int64 `json:"likeCounts"`
}

// ScanCommentCounts recomputes every post's reply_count from scratch.
// It applies the same chain semantics as the incremental path: each
// reply credits its parent and up to maxReplyDepth-1 further ancestors,
// so the two paths always agree. Read-only.
func (d *PostsDAO) ScanCommentCounts(ctx context.Context) (map[string]int64, error) {
	// refhash -> parent reference for every post, loaded once; the chain
	// walk then happens in memory instead of per-row queries.
	parents := map[string]string{}
	err := d.engine.Each(ctx,
		`SELECT e.refhash, p.reference
		 FROM posts p JOIN envelopes e ON e.id = p.envelope_id`,
		nil,
		func(row storage.Row) error {
			var refhash string
			var reference sql.NullString
			if err := row.Scan(&refhash, &reference); err != nil {
				return fmt.Errorf("dao: scan post parent: %w", err)
			}
			parents[refhash] = reference.String
			return nil
		})
	if err != nil {
		return nil, err
	}

	counts := map[string]int64{}
	for _, parent := range parents {
		ref := parent
		for depth := 0; depth < maxReplyDepth && ref != ""; depth++ {
			next, known := parents[ref]
			if !known {
				break
			}
			counts[ref]++
			ref = next
		}
	}
	return counts, nil
}

// ScanLikeCounts recomputes every post's like_count by grouping LIKE
// moderations by their reference. Read-only.
func (d *PostsDAO) ScanLikeCounts(ctx context.Context) (map[string]int64, error) {
	counts := map[string]int64{}
	err := d.engine.Each(ctx,
		`SELECT m.reference, COUNT(*)
		 FROM moderations m
		 JOIN envelopes te ON te.refhash = m.reference
		 JOIN posts p ON p.envelope_id = te.id
		 WHERE m.moderation_type = ?
		 GROUP BY m.reference`,
		[]any{int(wire.Like)},
		func(row storage.Row) error {
			var reference string
			var count int64
			if err := row.Scan(&reference, &count); err != nil {
				return fmt.Errorf("dao: scan like count: %w", err)
			}
			counts[reference] = count
			return nil
		})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// ScanMetadata runs both reconciliation scans.
func (d *PostsDAO) ScanMetadata(ctx context.Context) (*MetadataReport, error) {
	comments, err := d.ScanCommentCounts(ctx)
	if err != nil {
		return nil, err
	}
	likes, err := d.ScanLikeCounts(ctx)
	if err != nil {
		return nil, err
	}
	return &MetadataReport{CommentCounts: comments, LikeCounts: likes}, nil
}

// Reconcile overwrites every post's reply_count and like_count with the
// freshly scanned values. It is the correctness oracle for the
// incremental counter maintenance and may run at any time; its only
// effect is on the two counter columns.
func (d *PostsDAO) Reconcile(ctx context.Context) (*MetadataReport, error) {
	report, err := d.ScanMetadata(ctx)
	if err != nil {
		return nil, err
	}

	err = d.engine.WithTx(ctx, func(tx storage.Engine) error {
		// Reset everything first: posts that lost all their replies or
		// likes must drop back to zero.
		if err := tx.Exec(ctx, `UPDATE posts SET reply_count = 0, like_count = 0`); err != nil {
			return fmt.Errorf("dao: reconcile reset: %w", err)
		}
		for refhash, count := range report.CommentCounts {
			if err := tx.Exec(ctx,
				`UPDATE posts SET reply_count = ?
				 WHERE envelope_id = (SELECT id FROM envelopes WHERE refhash = ?)`,
				count, refhash); err != nil {
				return fmt.Errorf("dao: reconcile reply_count %s: %w", refhash, err)
			}
		}
		for refhash, count := range report.LikeCounts {
			if err := tx.Exec(ctx,
				`UPDATE posts SET like_count = ?
				 WHERE envelope_id = (SELECT id FROM envelopes WHERE refhash = ?)`,
				count, refhash); err != nil {
				return fmt.Errorf("dao: reconcile like_count %s: %w", refhash, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}
