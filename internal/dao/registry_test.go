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

func TestRegistryNameIndexes(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	reg := dao.NewRegistryDAO(eng)

	require.NoError(t, reg.EnsureTLD(ctx, "alice.", "zQ3shTLDkey"))
	require.NoError(t, reg.EnsureTLD(ctx, "alice.", "zQ3shIgnored")) // second call is a no-op

	idx1, err := reg.AddSubdomain(ctx, "alice.", "blog", "zQ3shBlogKey", "blog@example.com")
	require.NoError(t, err)
	assert.Equal(t, uint16(1), idx1)

	idx2, err := reg.AddSubdomain(ctx, "alice.", "photos", "zQ3shPhotoKey", "")
	require.NoError(t, err)
	assert.Equal(t, uint16(2), idx2)

	// Re-registering returns the existing index.
	again, err := reg.AddSubdomain(ctx, "alice.", "blog", "other", "")
	require.NoError(t, err)
	assert.Equal(t, uint16(1), again)

	name, err := reg.ResolveNameIndex(ctx, "alice.", 0)
	require.NoError(t, err)
	assert.Equal(t, "", name)

	name, err = reg.ResolveNameIndex(ctx, "alice.", 2)
	require.NoError(t, err)
	assert.Equal(t, "photos", name)

	_, err = reg.ResolveNameIndex(ctx, "alice.", 9)
	assert.ErrorIs(t, err, dao.ErrUnknownName)

	key, err := reg.GetPublicKey(ctx, "alice.", "")
	require.NoError(t, err)
	assert.Equal(t, "zQ3shTLDkey", key)
}

func TestRegistrySectorRoundTrip(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	reg := dao.NewRegistryDAO(eng)

	require.NoError(t, reg.EnsureTLD(ctx, "alice.", "zQ3shTLDkey"))
	_, err := reg.AddSubdomain(ctx, "alice.", "blog", "zQ3shBlogKey", "")
	require.NoError(t, err)
	_, err = reg.AddSubdomain(ctx, "alice.", "photos", "zQ3shPhotoKey", "")
	require.NoError(t, err)

	subs, err := reg.GetSubdomains(ctx, "alice.")
	require.NoError(t, err)
	require.Len(t, subs, 2)

	// The registry rows round-trip through the wire sector untouched.
	sector, err := wire.EncodeSubdomainSector(subs)
	require.NoError(t, err)
	parsed, err := wire.ParseSubdomainSector(sector)
	require.NoError(t, err)

	require.NoError(t, reg.ReplaceSubdomains(ctx, "alice.", parsed))
	restored, err := reg.GetSubdomains(ctx, "alice.")
	require.NoError(t, err)
	assert.Equal(t, subs, restored)
}

func TestGetUserEnvelopesInterleaved(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	posts := dao.NewPostsDAO(eng)
	conns := dao.NewConnectionsDAO(eng)
	mods := dao.NewModerationsDAO(eng)
	envelopes := dao.NewEnvelopesDAO(eng)

	post := envelopeAt(t, "alice.", "", baseTime, &wire.Post{Body: "first", Tags: []string{"intro"}})
	require.NoError(t, posts.Insert(ctx, post))

	follow := envelopeAt(t, "alice.", "", baseTime.Add(time.Minute),
		&wire.Connection{TLD: "bob.", Type: wire.Follow})
	require.NoError(t, conns.Insert(ctx, follow))

	like := envelopeAt(t, "alice.", "", baseTime.Add(2*time.Minute),
		&wire.Moderation{Reference: post.Refhash, Type: wire.Like})
	require.NoError(t, mods.Insert(ctx, like))

	// Someone else's envelope must not leak in.
	other := envelopeAt(t, "bob.", "", baseTime, &wire.Post{Body: "not alice"})
	require.NoError(t, posts.Insert(ctx, other))

	page, err := envelopes.GetUserEnvelopes(ctx, "alice.", 10, 0)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, int64(dao.NoNextPage), page.Next)

	// createdAt ascending, all types interleaved.
	assert.Equal(t, post.Refhash, page.Items[0].Refhash)
	assert.Equal(t, follow.Refhash, page.Items[1].Refhash)
	assert.Equal(t, like.Refhash, page.Items[2].Refhash)

	// Tags survive, so re-encoding reproduces the original signed bytes.
	replayed := page.Items[0].Message.(*wire.Post)
	assert.Equal(t, []string{"intro"}, replayed.Tags)
	raw, err := wire.EncodeMessage(replayed)
	require.NoError(t, err)
	assert.Equal(t, post.Refhash, wire.Refhash("alice.", page.Items[0].CreatedAt, raw))
}

func TestPurgeIdentity(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	posts := dao.NewPostsDAO(eng)

	mine := envelopeAt(t, "alice.", "", baseTime, &wire.Post{Body: "mine", Tags: []string{"x"}})
	theirs := envelopeAt(t, "bob.", "", baseTime, &wire.Post{Body: "theirs"})
	require.NoError(t, posts.Insert(ctx, mine))
	require.NoError(t, posts.Insert(ctx, theirs))

	require.NoError(t, dao.PurgeIdentity(ctx, eng, "alice."))

	gone, err := posts.GetByRefhash(ctx, mine.Refhash, false)
	require.NoError(t, err)
	assert.Nil(t, gone)

	kept, err := posts.GetByRefhash(ctx, theirs.Refhash, false)
	require.NoError(t, err)
	assert.NotNil(t, kept)
}

func TestTrending(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	posts := dao.NewPostsDAO(eng)

	// Two posters use "golang", one uses "news"; replies and hidden
	// topics never count.
	for i, id := range []struct{ tld, sub string }{{"alice.", ""}, {"dave.", "news"}} {
		env := envelopeAt(t, id.tld, id.sub, baseTime.Add(time.Duration(i)*time.Minute),
			&wire.Post{Body: "tagged", Tags: []string{"golang"}})
		require.NoError(t, posts.Insert(ctx, env))
	}
	env := envelopeAt(t, "alice.", "", baseTime.Add(time.Hour),
		&wire.Post{Body: "more", Tags: []string{"news"}})
	require.NoError(t, posts.Insert(ctx, env))
	hidden := envelopeAt(t, "alice.", "", baseTime.Add(2*time.Hour),
		&wire.Post{Body: "x", Topic: ".marker", Tags: []string{"golang"}})
	require.NoError(t, posts.Insert(ctx, hidden))

	tags, err := posts.TrendingTags(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "golang", tags[0].Tag)
	assert.Equal(t, int64(2), tags[0].PostCount)
	assert.Equal(t, int64(2), tags[0].PosterCount)
	assert.Equal(t, "news", tags[1].Tag)
	assert.Equal(t, int64(1), tags[1].PosterCount)

	posters, err := posts.TrendingPosters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, posters, 2)
	assert.Equal(t, "alice.", posters[0].TLD)
	assert.Equal(t, int64(2), posters[0].PostCount)
}
