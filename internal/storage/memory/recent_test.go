package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

func TestRecentMentionsRecordReplaceAndForget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	recent := NewRecentMentions(2)
	post := webmention.Post{ShortID: "n1", Permalink: "https://blog.example/2024/01/hello"}

	require.NoError(t, recent.Record(ctx, post, []webmention.Mention{{Source: "https://a.example/1", Permalink: "https://a.example/1", RefType: webmention.RefReply}}))
	require.NoError(t, recent.Record(ctx, post, []webmention.Mention{{Source: "https://a.example/1", Permalink: "https://a.example/1", RefType: webmention.RefLike}}))

	items, err := recent.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, webmention.RefLike, items[0].Mention.RefType)

	require.NoError(t, recent.Record(ctx, post, []webmention.Mention{{Source: "https://c.example/2", Permalink: "https://c.example/2"}}))
	require.NoError(t, recent.Record(ctx, post, []webmention.Mention{{Source: "https://d.example/3", Permalink: "https://d.example/3"}}))
	items, err = recent.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "https://d.example/3", items[0].Mention.Source)

	require.NoError(t, recent.Forget(ctx, "n1", "https://d.example/3"))
	items, err = recent.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "https://c.example/2", items[0].Mention.Source)
}
