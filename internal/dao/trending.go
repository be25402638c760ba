package dao

import (
	"context"
	"fmt"

	"github.com/hearsay-net/hearsay/internal/storage"
)

// TagSummary is one row of the trendingTags result.
type TagSummary struct {
	Tag         string `json:"tag"`
	PostCount   int64  `json:"postCount"`
	PosterCount int64  `json:"posterCount"`
}

// PosterSummary is one row of the trendingPosters result.
type PosterSummary struct {
	TLD       string `json:"tld"`
	Subdomain string `json:"subdomain"`
	PostCount int64  `json:"postCount"`
}

// TrendingTags returns the most-used tags on non-hidden posts, ordered
// by post count descending, with a distinct-poster count per tag. The
// per-tag follow-up lookups run inside the same transaction as the
// primary grouping so the two numbers come from one snapshot.
func (d *PostsDAO) TrendingTags(ctx context.Context, limit int) ([]TagSummary, error) {
	limit, ok := normalizeLimit(limit)
	if !ok {
		return []TagSummary{}, nil
	}

	summaries := []TagSummary{}
	err := d.engine.WithTx(ctx, func(tx storage.Engine) error {
		err := tx.Each(ctx,
			`SELECT t.name, COUNT(*) AS post_count
			 FROM tags t
			 JOIN posts_tags pt ON pt.tag_id = t.id
			 JOIN posts p ON p.id = pt.post_id
			 WHERE `+hiddenTopicFilter+`
			 GROUP BY t.name
			 ORDER BY post_count DESC, t.name ASC
			 LIMIT ?`,
			[]any{limit},
			func(row storage.Row) error {
				var s TagSummary
				if err := row.Scan(&s.Tag, &s.PostCount); err != nil {
					return fmt.Errorf("dao: scan trending tag: %w", err)
				}
				summaries = append(summaries, s)
				return nil
			})
		if err != nil {
			return err
		}

		for i := range summaries {
			err := tx.First(ctx,
				`SELECT COUNT(DISTINCT e.tld || '/' || e.subdomain)
				 FROM envelopes e
				 JOIN posts p ON p.envelope_id = e.id
				 JOIN posts_tags pt ON pt.post_id = p.id
				 JOIN tags t ON t.id = pt.tag_id
				 WHERE t.name = ? AND `+hiddenTopicFilter,
				[]any{summaries[i].Tag}, &summaries[i].PosterCount)
			if err != nil {
				return fmt.Errorf("dao: poster count for tag %q: %w", summaries[i].Tag, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// TrendingPosters groups root-level, non-hidden posts by owning identity
// and orders by post count descending.
func (d *PostsDAO) TrendingPosters(ctx context.Context, limit int) ([]PosterSummary, error) {
	limit, ok := normalizeLimit(limit)
	if !ok {
		return []PosterSummary{}, nil
	}

	summaries := []PosterSummary{}
	err := d.engine.Each(ctx,
		`SELECT e.tld, e.subdomain, COUNT(*) AS post_count
		 FROM envelopes e
		 JOIN posts p ON p.envelope_id = e.id
		 WHERE p.reference IS NULL AND `+hiddenTopicFilter+`
		 GROUP BY e.tld, e.subdomain
		 ORDER BY post_count DESC, e.tld ASC, e.subdomain ASC
		 LIMIT ?`,
		[]any{limit},
		func(row storage.Row) error {
			var s PosterSummary
			if err := row.Scan(&s.TLD, &s.Subdomain, &s.PostCount); err != nil {
				return fmt.Errorf("dao: scan trending poster: %w", err)
			}
			summaries = append(summaries, s)
			return nil
		})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
