package dao_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearsay-net/hearsay/internal/dao"
	"github.com/hearsay-net/hearsay/internal/wire"
)

// seedFilterCorpus builds a small corpus: alice posts (one tagged),
// bob replies, carol likes alice's tagged post.
func seedFilterCorpus(t *testing.T) (*dao.PostsDAO, map[string]*wire.Envelope) {
	t.Helper()
	ctx := context.Background()
	eng := newTestEngine(t)
	posts := dao.NewPostsDAO(eng)
	mods := dao.NewModerationsDAO(eng)

	envs := map[string]*wire.Envelope{}

	envs["alice-tagged"] = envelopeAt(t, "alice.", "", baseTime,
		&wire.Post{Body: "tagged", Tags: []string{"golang"}})
	envs["alice-plain"] = envelopeAt(t, "alice.", "", baseTime.Add(time.Minute),
		&wire.Post{Body: "plain"})
	envs["dave-sub"] = envelopeAt(t, "dave.", "news", baseTime.Add(2*time.Minute),
		&wire.Post{Body: "from a subdomain"})
	for _, k := range []string{"alice-tagged", "alice-plain", "dave-sub"} {
		require.NoError(t, posts.Insert(ctx, envs[k]))
	}

	envs["bob-reply"] = envelopeAt(t, "bob.", "", baseTime.Add(3*time.Minute),
		&wire.Post{Body: "re", Reference: envs["alice-tagged"].Refhash})
	require.NoError(t, posts.Insert(ctx, envs["bob-reply"]))

	envs["carol-like"] = envelopeAt(t, "carol.", "", baseTime.Add(4*time.Minute),
		&wire.Moderation{Reference: envs["alice-tagged"].Refhash, Type: wire.Like})
	require.NoError(t, mods.Insert(ctx, envs["carol-like"]))

	return posts, envs
}

func refhashes(page dao.Page[*wire.Envelope]) []string {
	out := []string{}
	for _, env := range page.Items {
		out = append(out, env.Refhash)
	}
	return out
}

func TestFilterPostedBy(t *testing.T) {
	ctx := context.Background()
	posts, envs := seedFilterCorpus(t)

	page, err := posts.GetPostsByFilter(ctx, dao.Filter{PostedBy: []string{"alice."}}, 10, 0)
	require.NoError(t, err)
	// Root posts only: the reply axis is separate.
	assert.ElementsMatch(t,
		[]string{envs["alice-tagged"].Refhash, envs["alice-plain"].Refhash},
		refhashes(page))
}

func TestFilterSubdomainIdentity(t *testing.T) {
	ctx := context.Background()
	posts, envs := seedFilterCorpus(t)

	page, err := posts.GetPostsByFilter(ctx, dao.Filter{PostedBy: []string{"news.dave."}}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{envs["dave-sub"].Refhash}, refhashes(page))
}

func TestFilterRepliedBy(t *testing.T) {
	ctx := context.Background()
	posts, envs := seedFilterCorpus(t)

	page, err := posts.GetPostsByFilter(ctx, dao.Filter{RepliedBy: []string{"bob."}}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{envs["bob-reply"].Refhash}, refhashes(page))

	// bob has no root posts.
	page, err = posts.GetPostsByFilter(ctx, dao.Filter{PostedBy: []string{"bob."}}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestFilterLikedBy(t *testing.T) {
	ctx := context.Background()
	posts, envs := seedFilterCorpus(t)

	page, err := posts.GetPostsByFilter(ctx, dao.Filter{LikedBy: []string{"carol."}}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{envs["alice-tagged"].Refhash}, refhashes(page))
}

func TestFilterWildcard(t *testing.T) {
	ctx := context.Background()
	posts, envs := seedFilterCorpus(t)

	page, err := posts.GetPostsByFilter(ctx, dao.Filter{PostedBy: []string{dao.Wildcard}}, 10, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{envs["alice-tagged"].Refhash, envs["alice-plain"].Refhash, envs["dave-sub"].Refhash},
		refhashes(page))
}

func TestFilterTagAllowlist(t *testing.T) {
	ctx := context.Background()
	posts, envs := seedFilterCorpus(t)

	page, err := posts.GetPostsByFilter(ctx,
		dao.Filter{PostedBy: []string{"alice."}, AllowedTags: []string{"golang"}}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{envs["alice-tagged"].Refhash}, refhashes(page))

	// Wildcard tag list disables the allowlist.
	page, err = posts.GetPostsByFilter(ctx,
		dao.Filter{PostedBy: []string{"alice."}, AllowedTags: []string{dao.Wildcard}}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestFilterUnionAcrossAxes(t *testing.T) {
	ctx := context.Background()
	posts, envs := seedFilterCorpus(t)

	page, err := posts.GetPostsByFilter(ctx,
		dao.Filter{PostedBy: []string{"alice."}, RepliedBy: []string{"bob."}}, 10, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{envs["alice-tagged"].Refhash, envs["alice-plain"].Refhash, envs["bob-reply"].Refhash},
		refhashes(page))
}

func TestFilterOrdersUnionNewestFirst(t *testing.T) {
	ctx := context.Background()
	posts, envs := seedFilterCorpus(t)

	// All three branch shapes active at once; the ordering applies to
	// the combined result.
	page, err := posts.GetPostsByFilter(ctx, dao.Filter{
		PostedBy:  []string{"alice.", "dave."},
		RepliedBy: []string{"bob."},
		LikedBy:   []string{"carol."},
	}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{
		envs["bob-reply"].Refhash,
		envs["dave-sub"].Refhash,
		envs["alice-plain"].Refhash,
		envs["alice-tagged"].Refhash,
	}, refhashes(page))
}

func TestFilterEmptyMatchesNothing(t *testing.T) {
	ctx := context.Background()
	posts, _ := seedFilterCorpus(t)

	page, err := posts.GetPostsByFilter(ctx, dao.Filter{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(dao.NoNextPage), page.Next)
}

func TestSplitIdentity(t *testing.T) {
	cases := []struct {
		in       string
		tld, sub string
	}{
		{"alice.", "alice.", ""},
		{"news.dave.", "dave.", "news"},
		{"tld", "tld", ""},
	}
	for _, tc := range cases {
		tld, sub := dao.SplitIdentity(tc.in)
		assert.Equal(t, tc.tld, tld, tc.in)
		assert.Equal(t, tc.sub, sub, tc.in)
	}
}
