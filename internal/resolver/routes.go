package resolver

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// PostTypes are the post type segments the site routes.
var PostTypes = []string{"article", "note", "like", "share", "reply", "checkin", "photo", "bookmark"}

type lookup func(ctx context.Context, posts webmention.PostRepository, m []string) (webmention.Post, error)

type route struct {
	name    string
	pattern *regexp.Regexp
	lookup  lookup
}

// routes are tried in order; the first matching shape decides the lookup.
func routes() []route {
	types := "(" + strings.Join(PostTypes, "|") + ")"
	return []route{
		{
			name:    "post_by_date",
			pattern: regexp.MustCompile(`^/` + types + `/(\d{4})/(\d{2})/(\d{2})/(\d+)(?:/[^/]+)?/?$`),
			lookup: func(ctx context.Context, posts webmention.PostRepository, m []string) (webmention.Post, error) {
				return posts.FindByDate(ctx, m[1], atoi(m[2]), atoi(m[3]), atoi(m[4]), atoi(m[5]))
			},
		},
		{
			name:    "post_by_old_date",
			pattern: regexp.MustCompile(`^/` + types + `/(\d{2})(\d{2})(\d{2})/(\d+)(?:/[^/]+)?/?$`),
			lookup: func(ctx context.Context, posts webmention.PostRepository, m []string) (webmention.Post, error) {
				return posts.FindByDate(ctx, m[1], 2000+atoi(m[2]), atoi(m[3]), atoi(m[4]), atoi(m[5]))
			},
		},
		{
			name:    "post_by_id",
			pattern: regexp.MustCompile(`^/` + types + `/id/(\d+)/?$`),
			lookup: func(ctx context.Context, posts webmention.PostRepository, m []string) (webmention.Post, error) {
				id, err := strconv.ParseInt(m[2], 10, 64)
				if err != nil {
					return webmention.Post{}, webmention.ErrPostNotFound
				}
				return posts.FindByID(ctx, id)
			},
		},
		{
			name:    "post_by_path",
			pattern: regexp.MustCompile(`^/(\d{4})/(\d{2})/([^/]+)/?$`),
			lookup: func(ctx context.Context, posts webmention.PostRepository, m []string) (webmention.Post, error) {
				return posts.FindByPath(ctx, m[1]+"/"+m[2]+"/"+m[3])
			},
		},
	}
}

// atoi is only applied to submatches of \d groups.
func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
