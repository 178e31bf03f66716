package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

var aliases = []string{"https://blog.example/note/2024/01/02/1", "https://b.example/n1"}

func TestClassify_DefaultsToReference(t *testing.T) {
	t.Parallel()

	got := Classify([]webmention.Reference{
		{URL: "https://elsewhere.example/", RefType: webmention.RefReply},
	}, aliases)
	require.Equal(t, []webmention.RefType{webmention.RefReference}, got)
	require.Equal(t, []webmention.RefType{webmention.RefReference}, Classify(nil, aliases))
}

func TestClassify_FanOutIsOrderedAndDistinct(t *testing.T) {
	t.Parallel()

	got := Classify([]webmention.Reference{
		{URL: "https://b.example/n1", RefType: webmention.RefLike},
		{URL: "https://blog.example/note/2024/01/02/1", RefType: webmention.RefReply},
		{URL: "https://blog.example/note/2024/01/02/1", RefType: webmention.RefLike},
	}, aliases)
	require.Equal(t, []webmention.RefType{webmention.RefReply, webmention.RefLike}, got)
}

func TestClassify_MatchesAnyAlias(t *testing.T) {
	t.Parallel()

	got := Classify([]webmention.Reference{
		{URL: "https://b.example/n1", RefType: webmention.RefRepost},
	}, aliases)
	require.Equal(t, []webmention.RefType{webmention.RefRepost}, got)
}
