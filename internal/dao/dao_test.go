package dao_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearsay-net/hearsay/internal/dao"
	"github.com/hearsay-net/hearsay/internal/storage"
	"github.com/hearsay-net/hearsay/internal/storage/sqlite"
	"github.com/hearsay-net/hearsay/internal/wire"
)

func newTestEngine(t *testing.T) storage.Engine {
	t.Helper()
	eng, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

var baseTime = time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)

// envelopeAt builds an envelope with a controlled timestamp so tests can
// pin feed ordering.
func envelopeAt(t *testing.T, tld, subdomain string, at time.Time, msg wire.Message) *wire.Envelope {
	t.Helper()
	raw, err := wire.EncodeMessage(msg)
	require.NoError(t, err)
	return &wire.Envelope{
		TLD:       tld,
		Subdomain: subdomain,
		CreatedAt: at.UTC().Truncate(time.Second),
		Refhash:   wire.Refhash(tld, at, raw),
		Message:   msg,
	}
}

func TestInsertIdempotent(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	posts := dao.NewPostsDAO(eng)
	mods := dao.NewModerationsDAO(eng)

	root := envelopeAt(t, "alice.", "", baseTime, &wire.Post{Body: "root", Tags: []string{"go"}})
	reply := envelopeAt(t, "bob.", "", baseTime.Add(time.Minute),
		&wire.Post{Body: "reply", Reference: root.Refhash})
	like := envelopeAt(t, "carol.", "", baseTime.Add(2*time.Minute),
		&wire.Moderation{Reference: root.Refhash, Type: wire.Like})

	require.NoError(t, posts.Insert(ctx, root))
	require.NoError(t, posts.Insert(ctx, reply))
	require.NoError(t, mods.Insert(ctx, like))

	// Redelivering all three must change nothing.
	require.NoError(t, posts.Insert(ctx, root))
	require.NoError(t, posts.Insert(ctx, reply))
	require.NoError(t, mods.Insert(ctx, like))

	got, err := posts.GetByRefhash(ctx, root.Refhash, true)
	require.NoError(t, err)
	require.NotNil(t, got)
	p := got.Message.(*wire.Post)
	assert.Equal(t, int64(1), p.ReplyCount)
	assert.Equal(t, int64(1), p.LikeCount)
	assert.Equal(t, int64(0), p.PinCount)
	assert.Equal(t, []string{"go"}, p.Tags)

	var envCount int64
	require.NoError(t, eng.First(ctx, `SELECT COUNT(*) FROM envelopes`, nil, &envCount))
	assert.Equal(t, int64(3), envCount)
}

func TestReplyChainDepthBound(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	posts := dao.NewPostsDAO(eng)

	// A chain of 7 posts: p0 <- p1 <- ... <- p6. Inserting p6 must bump
	// only its 4 nearest ancestors (p5, p4, p3, p2); p1 and p0 see
	// nothing from it.
	chain := make([]*wire.Envelope, 7)
	for i := range chain {
		post := &wire.Post{Body: "hop"}
		if i > 0 {
			post.Reference = chain[i-1].Refhash
		}
		chain[i] = envelopeAt(t, "alice.", "", baseTime.Add(time.Duration(i)*time.Minute), post)
		require.NoError(t, posts.Insert(ctx, chain[i]))
	}

	// Each insert of p_i bumps p_{i-1} down to p_{i-4}, so p_j ends with
	// min(4, 6-j) replies. Without the depth bound p0 would sit at 6.
	want := map[int]int64{0: 4, 1: 4, 2: 4, 3: 3, 4: 2, 5: 1, 6: 0}
	for i, env := range chain {
		got, err := posts.GetByRefhash(ctx, env.Refhash, false)
		require.NoError(t, err)
		assert.Equal(t, want[i], got.Message.(*wire.Post).ReplyCount, "post %d", i)
	}
}

func TestUnresolvableReferencesAreStored(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	posts := dao.NewPostsDAO(eng)
	mods := dao.NewModerationsDAO(eng)

	ghost := wire.Refhash("ghost.", baseTime, []byte("never indexed"))

	reply := envelopeAt(t, "alice.", "", baseTime, &wire.Post{Body: "into the void", Reference: ghost})
	require.NoError(t, posts.Insert(ctx, reply))

	like := envelopeAt(t, "bob.", "", baseTime.Add(time.Minute),
		&wire.Moderation{Reference: ghost, Type: wire.Like})
	require.NoError(t, mods.Insert(ctx, like))

	// Both envelopes exist even though no counter moved anywhere.
	gotReply, err := posts.GetByRefhash(ctx, reply.Refhash, false)
	require.NoError(t, err)
	require.NotNil(t, gotReply)

	gotLike, err := mods.GetByRefhash(ctx, like.Refhash)
	require.NoError(t, err)
	require.NotNil(t, gotLike)
}

func TestReconciliationEquivalence(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	posts := dao.NewPostsDAO(eng)
	mods := dao.NewModerationsDAO(eng)

	// A small corpus with chains, fan-out, and likes.
	root := envelopeAt(t, "alice.", "", baseTime, &wire.Post{Body: "root"})
	require.NoError(t, posts.Insert(ctx, root))

	var children []*wire.Envelope
	for i := 0; i < 3; i++ {
		child := envelopeAt(t, "bob.", "", baseTime.Add(time.Duration(i+1)*time.Minute),
			&wire.Post{Body: "child", Reference: root.Refhash})
		require.NoError(t, posts.Insert(ctx, child))
		children = append(children, child)
	}
	grand := envelopeAt(t, "carol.", "", baseTime.Add(time.Hour),
		&wire.Post{Body: "grandchild", Reference: children[0].Refhash})
	require.NoError(t, posts.Insert(ctx, grand))

	for i := 0; i < 2; i++ {
		like := envelopeAt(t, "dave.", "", baseTime.Add(time.Duration(i+10)*time.Minute),
			&wire.Moderation{Reference: children[1].Refhash, Type: wire.Like})
		require.NoError(t, mods.Insert(ctx, like))
	}

	report, err := posts.ScanMetadata(ctx)
	require.NoError(t, err)

	// The full rescan must agree with the incrementally maintained
	// counters for every post in the corpus.
	for _, env := range append([]*wire.Envelope{root, grand}, children...) {
		got, err := posts.GetByRefhash(ctx, env.Refhash, false)
		require.NoError(t, err)
		p := got.Message.(*wire.Post)
		assert.Equal(t, p.ReplyCount, report.CommentCounts[env.Refhash], "reply_count for %s", env.Refhash)
		assert.Equal(t, p.LikeCount, report.LikeCounts[env.Refhash], "like_count for %s", env.Refhash)
	}

	// Corrupt a counter, then Reconcile must restore it.
	require.NoError(t, eng.Exec(ctx, `UPDATE posts SET reply_count = 99, like_count = 99`))
	_, err = posts.Reconcile(ctx)
	require.NoError(t, err)

	got, err := posts.GetByRefhash(ctx, root.Refhash, false)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Message.(*wire.Post).ReplyCount) // 3 children + 1 grandchild
	assert.Equal(t, int64(0), got.Message.(*wire.Post).LikeCount)
}

func TestHiddenTopicExclusion(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	posts := dao.NewPostsDAO(eng)

	visible := envelopeAt(t, "alice.", "", baseTime, &wire.Post{Body: "hello", Topic: "general"})
	hidden := envelopeAt(t, "alice.", "", baseTime.Add(time.Minute),
		&wire.Post{Body: "Alice A.", Topic: ".display_name"})
	require.NoError(t, posts.Insert(ctx, visible))
	require.NoError(t, posts.Insert(ctx, hidden))

	feed, err := posts.GetPosts(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, feed.Items, 1)
	assert.Equal(t, visible.Refhash, feed.Items[0].Refhash)

	timeline, err := posts.GetPostsBySubdomain(ctx, "alice.", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, timeline.Items, 1)

	filtered, err := posts.GetPostsByFilter(ctx, dao.Filter{PostedBy: []string{"alice."}}, 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, visible.Refhash, filtered.Items[0].Refhash)

	// Hidden replies also stay out of threads.
	hiddenReply := envelopeAt(t, "bob.", "", baseTime.Add(2*time.Minute),
		&wire.Post{Body: "sneaky", Topic: ".marker", Reference: visible.Refhash})
	require.NoError(t, posts.Insert(ctx, hiddenReply))
	thread, err := posts.GetCommentsByHash(ctx, visible.Refhash, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, thread.Items)

	// Direct profile-field lookup is the one path that reaches it.
	name, err := posts.GetProfileField(ctx, "alice.", "", ".display_name")
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", name)

	byTopic, err := posts.GetPostsByTopic(ctx, ".display_name", 10, 0)
	require.NoError(t, err)
	require.Len(t, byTopic.Items, 1)
}

func TestPaginationTermination(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	posts := dao.NewPostsDAO(eng)

	const total = 25
	for i := 0; i < total; i++ {
		env := envelopeAt(t, "alice.", "", baseTime.Add(time.Duration(i)*time.Minute),
			&wire.Post{Body: "post", Title: string(rune('a' + i))})
		require.NoError(t, posts.Insert(ctx, env))
	}

	t.Run("descending feed", func(t *testing.T) {
		seen := map[string]bool{}
		cursor := int64(0)
		for {
			page, err := posts.GetPosts(ctx, 10, cursor)
			require.NoError(t, err)
			for _, env := range page.Items {
				assert.False(t, seen[env.Refhash], "revisited %s", env.Refhash)
				seen[env.Refhash] = true
			}
			if page.Next == dao.NoNextPage {
				break
			}
			cursor = page.Next
		}
		assert.Len(t, seen, total)
	})

	t.Run("ascending thread", func(t *testing.T) {
		root := envelopeAt(t, "bob.", "", baseTime, &wire.Post{Body: "root"})
		require.NoError(t, posts.Insert(ctx, root))
		for i := 0; i < 7; i++ {
			reply := envelopeAt(t, "carol.", "", baseTime.Add(time.Duration(i+100)*time.Minute),
				&wire.Post{Body: "r", Title: string(rune('a' + i)), Reference: root.Refhash})
			require.NoError(t, posts.Insert(ctx, reply))
		}

		seen := 0
		cursor := int64(0)
		for {
			page, err := posts.GetCommentsByHash(ctx, root.Refhash, 3, cursor)
			require.NoError(t, err)
			seen += len(page.Items)
			if page.Next == dao.NoNextPage {
				break
			}
			cursor = page.Next
		}
		assert.Equal(t, 7, seen)
	})

	t.Run("non-positive limit short-circuits", func(t *testing.T) {
		page, err := posts.GetPosts(ctx, -1, 0)
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Equal(t, int64(dao.NoNextPage), page.Next)
	})
}

func TestExampleScenario(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)
	posts := dao.NewPostsDAO(eng)
	mods := dao.NewModerationsDAO(eng)

	a := envelopeAt(t, "alice.", "", baseTime, &wire.Post{Body: "A"})
	require.NoError(t, posts.Insert(ctx, a))

	b := envelopeAt(t, "bob.", "", baseTime.Add(time.Minute),
		&wire.Post{Body: "B", Reference: a.Refhash})
	require.NoError(t, posts.Insert(ctx, b))

	like := envelopeAt(t, "carol.", "", baseTime.Add(2*time.Minute),
		&wire.Moderation{Reference: a.Refhash, Type: wire.Like})
	require.NoError(t, mods.Insert(ctx, like))

	got, err := posts.GetByRefhash(ctx, a.Refhash, false)
	require.NoError(t, err)
	p := got.Message.(*wire.Post)
	assert.Equal(t, int64(1), p.ReplyCount)
	assert.Equal(t, int64(1), p.LikeCount)

	thread, err := posts.GetCommentsByHash(ctx, a.Refhash, 10, 0)
	require.NoError(t, err)
	require.Len(t, thread.Items, 1)
	assert.Equal(t, b.Refhash, thread.Items[0].Refhash)

	report, err := posts.ScanMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.CommentCounts[a.Refhash])
	assert.Equal(t, int64(1), report.LikeCounts[a.Refhash])
}

func TestTransactionRollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	// A failure after the envelope row is written must roll the whole
	// insert back: no orphan envelopes.
	boom := errors.New("boom")
	err := eng.WithTx(ctx, func(tx storage.Engine) error {
		require.NoError(t, tx.Exec(ctx,
			`INSERT INTO envelopes (tld, subdomain, refhash, created_at) VALUES (?, ?, ?, ?)`,
			"alice.", "", wire.Refhash("alice.", baseTime, []byte("x")), baseTime.Unix()))
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, eng.First(ctx, `SELECT COUNT(*) FROM envelopes`, nil, &count))
	assert.Equal(t, int64(0), count)
}

func TestNestedTransactionRejected(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	err := eng.WithTx(ctx, func(tx storage.Engine) error {
		return tx.WithTx(ctx, func(storage.Engine) error { return nil })
	})
	assert.ErrorIs(t, err, storage.ErrNestedTx)
}
