// Package resolver maps a webmention target URL to the post it names.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-receiver/internal/logging"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// Config tunes target resolution.
type Config struct {
	// Hosts restricts targets to these hosts when non-empty. The target as
	// given and its redirect destination must both be listed.
	Hosts []string
	// FollowRedirects enables the redirect probe on the target URL.
	FollowRedirects bool
	// MaxRedirects caps the redirect hops the probe follows.
	MaxRedirects int
}

// Resolution is the target post plus every URL form that names it.
type Resolution struct {
	Post    webmention.Post
	URL     string
	Route   string
	Aliases []string
}

// Resolver resolves targets against a post repository.
type Resolver struct {
	cfg     Config
	posts   webmention.PostRepository
	fetcher webmention.Fetcher
	routes  []route
}

// New constructs a Resolver. fetcher may be nil when redirects are not followed.
func New(cfg Config, posts webmention.PostRepository, fetcher webmention.Fetcher) *Resolver {
	hosts := make([]string, 0, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		hosts = append(hosts, strings.ToLower(h))
	}
	cfg.Hosts = hosts
	return &Resolver{cfg: cfg, posts: posts, fetcher: fetcher, routes: routes()}
}

// Resolve follows the target's redirect, if any, then matches its path
// against the known route shapes. Targets on hosts outside cfg.Hosts are
// refused before any request is made.
func (r *Resolver) Resolve(ctx context.Context, target string) (Resolution, error) {
	logger := logging.FromContext(ctx)
	logger.Debug("looking for target post", zap.String("target", target))

	if !r.acceptsHost(target) {
		return Resolution{}, webmention.Reject(webmention.ReasonTargetNotFound, "Webmention could not find target post: %s", target)
	}
	resolved, err := r.follow(ctx, target)
	if err != nil {
		return Resolution{}, err
	}
	if resolved != target {
		logger.Debug("followed redirection", zap.String("url", resolved))
	}

	post, routeName, err := r.Match(ctx, resolved)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{
		Post:    post,
		URL:     resolved,
		Route:   routeName,
		Aliases: Aliases(target, post),
	}, nil
}

// Match resolves an already redirect-resolved URL. It performs no network I/O.
func (r *Resolver) Match(ctx context.Context, rawURL string) (webmention.Post, string, error) {
	notFound := webmention.Reject(webmention.ReasonTargetNotFound, "Webmention could not find target post: %s", rawURL)

	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return webmention.Post{}, "", notFound
	}
	if !r.acceptsHost(rawURL) {
		return webmention.Post{}, "", notFound
	}

	for _, rt := range r.routes {
		m := rt.pattern.FindStringSubmatch(u.Path)
		if m == nil {
			continue
		}
		post, err := rt.lookup(ctx, r.posts, m)
		if errors.Is(err, webmention.ErrPostNotFound) {
			return webmention.Post{}, "", notFound
		}
		if err != nil {
			return webmention.Post{}, "", fmt.Errorf("%s lookup: %w", rt.name, err)
		}
		return post, rt.name, nil
	}
	return webmention.Post{}, "", notFound
}

// acceptsHost reports whether rawURL names one of the configured hosts.
func (r *Resolver) acceptsHost(rawURL string) bool {
	if len(r.cfg.Hosts) == 0 {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return slices.Contains(r.cfg.Hosts, strings.ToLower(u.Hostname()))
}

func (r *Resolver) follow(ctx context.Context, target string) (string, error) {
	if !r.cfg.FollowRedirects || r.fetcher == nil {
		return target, nil
	}
	resp, err := r.fetcher.Fetch(ctx, webmention.FetchRequest{
		Method:       http.MethodGet,
		URL:          target,
		MaxRedirects: r.cfg.MaxRedirects,
		MaxBodySize:  1,
	})
	if err != nil {
		return "", fmt.Errorf("probe target redirect: %w", err)
	}
	if resp.URL == "" {
		return target, nil
	}
	return resp.URL, nil
}

// Aliases returns the distinct, non-empty URL forms that name post.
func Aliases(target string, post webmention.Post) []string {
	out := make([]string, 0, 3)
	for _, u := range []string{target, post.Permalink, post.ShortPermalink} {
		if u != "" && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}
