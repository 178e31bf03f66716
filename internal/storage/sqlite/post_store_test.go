package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

func openStore(t *testing.T) *PostStore {
	t.Helper()
	store, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store *PostStore) webmention.Post {
	t.Helper()
	post, err := store.InsertPost(context.Background(), webmention.Post{
		ShortID:   "n1",
		Type:      "note",
		Path:      "2024/01/hello",
		Published: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC),
		DateIndex: 1,
		Permalink: "https://blog.example/2024/01/hello",
	})
	require.NoError(t, err)
	return post
}

func TestPostStore_Lookups(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seeded := seed(t, store)
	ctx := context.Background()

	byPath, err := store.FindByPath(ctx, "2024/01/hello")
	require.NoError(t, err)
	require.Equal(t, seeded.ID, byPath.ID)

	byDate, err := store.FindByDate(ctx, "note", 2024, 1, 2, 1)
	require.NoError(t, err)
	require.Equal(t, "n1", byDate.ShortID)

	byID, err := store.FindByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.True(t, byID.Published.Equal(seeded.Published))

	_, err = store.FindByDate(ctx, "note", 2024, 1, 3, 1)
	require.ErrorIs(t, err, webmention.ErrPostNotFound)
	_, err = store.FindByShortID(ctx, "missing")
	require.ErrorIs(t, err, webmention.ErrPostNotFound)
}

func TestPostStore_CommitPersistsMentions(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seed(t, store)
	ctx := context.Background()
	published := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	received := time.Date(2024, 5, 2, 9, 30, 0, 123, time.UTC)

	scope, err := store.Acquire(ctx, "n1")
	require.NoError(t, err)
	post := scope.Post()
	post.Mentions = append(post.Mentions, webmention.Mention{
		Source:         "https://alice.example/1",
		Permalink:      "https://alice.example/1",
		Content:        "<p>hi</p>",
		RefType:        webmention.RefReply,
		AuthorName:     "Alice",
		Published:      &published,
		PublishedNaive: true,
		State:          webmention.MentionActive,
		Received:       received,
	})
	require.NoError(t, scope.Commit(ctx))
	require.NoError(t, scope.Release(ctx))
	require.NotZero(t, scope.Post().Mentions[0].ID)

	got, err := store.FindByShortID(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, got.Mentions, 1)
	m := got.Mentions[0]
	require.Equal(t, webmention.RefReply, m.RefType)
	require.True(t, m.PublishedNaive)
	require.True(t, m.Published.Equal(published))
	require.True(t, m.Received.Equal(received))

	scope, err = store.Acquire(ctx, "n1")
	require.NoError(t, err)
	scope.Post().Mentions[0].State = webmention.MentionDeleted
	require.NoError(t, scope.Commit(ctx))
	require.NoError(t, scope.Release(ctx))

	got, err = store.FindByShortID(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, webmention.MentionDeleted, got.Mentions[0].State)
}

func TestPostStore_ReleaseDiscardsChanges(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seed(t, store)
	ctx := context.Background()

	scope, err := store.Acquire(ctx, "n1")
	require.NoError(t, err)
	scope.Post().Mentions = append(scope.Post().Mentions, webmention.Mention{
		Source:   "https://alice.example/1",
		RefType:  webmention.RefLike,
		State:    webmention.MentionActive,
		Received: time.Now(),
	})
	require.NoError(t, scope.Release(ctx))
	require.NoError(t, scope.Release(ctx))

	got, err := store.FindByShortID(ctx, "n1")
	require.NoError(t, err)
	require.Empty(t, got.Mentions)
}

func TestPostStore_AcquireIsExclusive(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seed(t, store)
	ctx := context.Background()

	first, err := store.Acquire(ctx, "n1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := store.Acquire(ctx, "n1")
		if err == nil {
			_ = second.Release(ctx)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second scope acquired while first was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Release(ctx))
	require.Eventually(t, func() bool {
		select {
		case <-acquired:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestPostStore_AcquireUnknownPost(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	_, err := store.Acquire(context.Background(), "missing")
	require.ErrorIs(t, err, webmention.ErrPostNotFound)

	// the connection is free again after the failed acquire
	seed(t, store)
}
