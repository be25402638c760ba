package dao

import (
	"context"
	"strings"

	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/wire"
)

// Wildcard inside any filter axis means "match every identity/tag on
// this axis" instead of filtering it.
const Wildcard = "*"

// Filter is a multi-predicate post query. Each axis contributes one SQL
// branch; branches are unioned. An empty axis contributes nothing, so a
// fully empty filter matches nothing.
//
// Identities are display names ("sub.tld" or bare "tld"); AllowedTags
// restricts every branch to posts carrying at least one listed tag.
type Filter struct {
	PostedBy    []string `json:"postedBy"`
	RepliedBy   []string `json:"repliedBy"`
	LikedBy     []string `json:"likedBy"`
	AllowedTags []string `json:"allowedTags"`
}

// GetPostsByFilter compiles the filter into a parameterized UNION query
// and returns one page, newest first. Identity and tag values are always
// bound, never interpolated.
func (d *PostsDAO) GetPostsByFilter(ctx context.Context, f Filter, limit int, cursor int64) (Page[*wire.Envelope], error) {
	limit, ok := normalizeLimit(limit)
	if !ok {
		return emptyPage[*wire.Envelope](), nil
	}
	if cursor < 0 {
		cursor = 0
	}

	query, args := compileFilter(f)
	if query == "" {
		return emptyPage[*wire.Envelope](), nil
	}
	// The ordering must bind to the union's output columns, not to the
	// aliased tables inside each branch, where id and created_at are
	// ambiguous.
	query = `SELECT * FROM (` + query + `) AS matched ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, cursor)

	items := []*wire.Envelope{}
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

// compileFilter builds the UNION body (no ordering or limit). It returns
// an empty query when no axis is active.
func compileFilter(f Filter) (string, []any) {
	var (
		branches []string
		args     []any
	)

	if len(f.PostedBy) > 0 {
		q, a := compileAuthorBranch(f.PostedBy, f.AllowedTags, `p.reference IS NULL`)
		branches = append(branches, q)
		args = append(args, a...)
	}
	if len(f.RepliedBy) > 0 {
		q, a := compileAuthorBranch(f.RepliedBy, f.AllowedTags, `p.reference IS NOT NULL`)
		branches = append(branches, q)
		args = append(args, a...)
	}
	if len(f.LikedBy) > 0 {
		q, a := compileLikedBranch(f.LikedBy, f.AllowedTags)
		branches = append(branches, q)
		args = append(args, a...)
	}

	return strings.Join(branches, "\nUNION\n"), args
}

// compileAuthorBranch selects posts authored by the listed identities,
// split on reply presence by refPredicate.
func compileAuthorBranch(identities, allowedTags []string, refPredicate string) (string, []any) {
	var b strings.Builder
	var args []any

	b.WriteString(`SELECT DISTINCT ` + envelopeColumns + `, ` + postColumns + `
		FROM envelopes e JOIN posts p ON p.envelope_id = e.id`)
	args = appendTagJoin(&b, allowedTags, args)

	b.WriteString(` WHERE ` + hiddenTopicFilter + ` AND ` + refPredicate)
	args = appendIdentityPredicate(&b, "e", identities, args)

	return b.String(), args
}

// compileLikedBranch selects posts that received a LIKE moderation from
// the listed identities.
func compileLikedBranch(identities, allowedTags []string) (string, []any) {
	var b strings.Builder
	var args []any

	b.WriteString(`SELECT DISTINCT ` + envelopeColumns + `, ` + postColumns + `
		FROM envelopes e JOIN posts p ON p.envelope_id = e.id
		JOIN moderations m ON m.reference = e.refhash
		JOIN envelopes le ON le.id = m.envelope_id`)
	args = appendTagJoin(&b, allowedTags, args)

	b.WriteString(` WHERE ` + hiddenTopicFilter + ` AND m.moderation_type = ?`)
	args = append(args, int(wire.Like))
	args = appendIdentityPredicate(&b, "le", identities, args)

	return b.String(), args
}

// appendTagJoin adds the tag-allowlist join unless the list is empty or
// wildcarded.
func appendTagJoin(b *strings.Builder, allowedTags []string, args []any) []any {
	tags := withoutWildcard(allowedTags)
	if tags == nil {
		return args
	}
	b.WriteString(` JOIN posts_tags pt ON pt.post_id = p.id
		JOIN tags t ON t.id = pt.tag_id AND t.name IN (` + placeholders(len(tags)) + `)`)
	for _, tag := range tags {
		args = append(args, tag)
	}
	return args
}

// appendIdentityPredicate restricts the envelope alias to the listed
// identities unless the list is wildcarded.
func appendIdentityPredicate(b *strings.Builder, alias string, identities []string, args []any) []any {
	ids := withoutWildcard(identities)
	if ids == nil {
		return args
	}
	clauses := make([]string, len(ids))
	for i, identity := range ids {
		tld, subdomain := SplitIdentity(identity)
		clauses[i] = `(` + alias + `.tld = ? AND ` + alias + `.subdomain = ?)`
		args = append(args, tld, subdomain)
	}
	b.WriteString(` AND (` + strings.Join(clauses, " OR ") + `)`)
	return args
}

// withoutWildcard returns nil when the list is empty or contains the
// wildcard, meaning "no filtering on this axis."
func withoutWildcard(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	for _, v := range values {
		if v == Wildcard {
			return nil
		}
	}
	return values
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
