package verifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

const (
	source = "https://alice.example/notes/1"
	target = "https://blog.example/note/2024/01/02/1"
)

var aliases = []string{target, "https://blog.example/2024/01/hello", "https://b.example/n1"}

type fakeFetcher struct {
	resp     webmention.FetchResponse
	err      error
	requests []webmention.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req webmention.FetchRequest) (webmention.FetchResponse, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

type fakeLimiter struct {
	hosts []string
	err   error
}

func (l *fakeLimiter) Wait(_ context.Context, u string) error {
	l.hosts = append(l.hosts, u)
	return l.err
}

func page(body string) webmention.FetchResponse {
	return webmention.FetchResponse{URL: source, StatusCode: http.StatusOK, Headers: http.Header{}, Body: []byte(body)}
}

func requireReason(t *testing.T, err error, want webmention.Reason) {
	t.Helper()
	var failure *webmention.Failure
	require.True(t, errors.As(err, &failure), "expected *webmention.Failure, got %v", err)
	require.Equal(t, want, failure.Reason)
}

func TestVerify_FindsLink(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{resp: page(`<p>see <a href="` + target + `">this</a></p>`)}
	limiter := &fakeLimiter{}
	v := New(Config{}, fetcher, limiter)

	res, err := v.Verify(context.Background(), source, aliases)
	require.NoError(t, err)
	require.False(t, res.Deleted)
	require.NotEmpty(t, res.Body)
	require.Equal(t, []string{source}, limiter.hosts)
	require.Len(t, fetcher.requests, 1)
	require.Equal(t, DefaultMaxBodyBytes+1, fetcher.requests[0].MaxBodySize)
	require.Equal(t, http.MethodGet, fetcher.requests[0].Method)
}

func TestVerify_MatchesLinkElementAndRelativeHref(t *testing.T) {
	t.Parallel()

	v := New(Config{}, &fakeFetcher{resp: webmention.FetchResponse{
		URL:        "https://b.example/reply",
		StatusCode: http.StatusOK,
		Headers:    http.Header{},
		Body:       []byte(`<html><head><link rel="in-reply-to" href="/n1"></head></html>`),
	}}, nil)

	_, err := v.Verify(context.Background(), source, aliases)
	require.NoError(t, err)
}

func TestVerify_Gone(t *testing.T) {
	t.Parallel()

	v := New(Config{}, &fakeFetcher{resp: webmention.FetchResponse{URL: source, StatusCode: http.StatusGone}}, nil)
	res, err := v.Verify(context.Background(), source, aliases)
	require.NoError(t, err)
	require.True(t, res.Deleted)
}

func TestVerify_BadStatus(t *testing.T) {
	t.Parallel()

	v := New(Config{}, &fakeFetcher{resp: webmention.FetchResponse{URL: source, StatusCode: http.StatusNotFound}}, nil)
	_, err := v.Verify(context.Background(), source, aliases)
	requireReason(t, err, webmention.ReasonSourceUnreachable)
}

func TestVerify_FetchError(t *testing.T) {
	t.Parallel()

	v := New(Config{}, &fakeFetcher{err: errors.New("dial tcp: refused")}, nil)
	_, err := v.Verify(context.Background(), source, aliases)
	requireReason(t, err, webmention.ReasonSourceUnreachable)
}

func TestVerify_DeclaredLengthTooLarge(t *testing.T) {
	t.Parallel()

	resp := page(`<a href="` + target + `">x</a>`)
	resp.Headers.Set("Content-Length", "2097153")
	v := New(Config{}, &fakeFetcher{resp: resp}, nil)

	_, err := v.Verify(context.Background(), source, aliases)
	requireReason(t, err, webmention.ReasonSourceTooLarge)
}

func TestVerify_BodyOverCap(t *testing.T) {
	t.Parallel()

	v := New(Config{MaxBodyBytes: 16}, &fakeFetcher{resp: page(strings.Repeat("x", 17))}, nil)
	_, err := v.Verify(context.Background(), source, aliases)
	requireReason(t, err, webmention.ReasonSourceTooLarge)
}

func TestVerify_NoLink(t *testing.T) {
	t.Parallel()

	v := New(Config{}, &fakeFetcher{resp: page(`<a href="https://elsewhere.example/">nope</a>`)}, nil)
	_, err := v.Verify(context.Background(), source, aliases)
	requireReason(t, err, webmention.ReasonNoLinkToTarget)
}

func TestVerify_LimiterError(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	v := New(Config{}, fetcher, &fakeLimiter{err: context.Canceled})
	_, err := v.Verify(context.Background(), source, aliases)
	requireReason(t, err, webmention.ReasonSourceUnreachable)
	require.Empty(t, fetcher.requests)
}
