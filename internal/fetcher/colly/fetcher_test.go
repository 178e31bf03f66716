package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

func TestFetcherBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "webmention-agent", Timeout: time.Second})
	collector := f.buildCollector(webmention.FetchRequest{URL: "https://example.com", MaxBodySize: 42, MaxRedirects: -1})
	require.Equal(t, "webmention-agent", collector.UserAgent)
	require.Equal(t, 42, collector.MaxBodySize)
	require.True(t, collector.ParseHTTPErrorResponse)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	start := time.Unix(0, 0)
	var result webmention.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, webmention.FetchRequest{URL: "https://example.com"}, start, &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Contains(t, collyReq.Headers.Get("Accept"), "text/html")

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusGone,
		Body:       []byte("gone"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, http.StatusGone, result.StatusCode)
	require.Equal(t, "gone", string(result.Body))
	require.Equal(t, "https://example.com/final", result.URL)
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestFetch_ReturnsNonSuccessStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte("deleted"))
	}))
	defer srv.Close()

	resp, err := New(Config{}).Fetch(context.Background(), webmention.FetchRequest{URL: srv.URL, MaxRedirects: -1})
	require.NoError(t, err)
	require.Equal(t, http.StatusGone, resp.StatusCode)
	require.Equal(t, "deleted", string(resp.Body))
}

func TestFetch_RedirectLimit(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), webmention.FetchRequest{URL: srv.URL + "/short", MaxRedirects: 1})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/middle", resp.URL)
	require.Equal(t, http.StatusMovedPermanently, resp.StatusCode)

	resp, err = f.Fetch(context.Background(), webmention.FetchRequest{URL: srv.URL + "/short", MaxRedirects: 0})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/short", resp.URL)

	resp, err = f.Fetch(context.Background(), webmention.FetchRequest{URL: srv.URL + "/short", MaxRedirects: 5})
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/final", resp.URL)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFetch_CapsBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	resp, err := New(Config{}).Fetch(context.Background(), webmention.FetchRequest{URL: srv.URL, MaxBodySize: 11, MaxRedirects: -1})
	require.NoError(t, err)
	require.Len(t, resp.Body, 11)
}

func TestFetch_PostsForm(t *testing.T) {
	t.Parallel()

	got := make(chan url.Values, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		_ = r.ParseForm()
		got <- r.PostForm
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	_, err := New(Config{}).Fetch(context.Background(), webmention.FetchRequest{
		Method:       http.MethodPost,
		URL:          srv.URL,
		Form:         map[string]string{"status": "200", "reason": "Success"},
		MaxRedirects: -1,
	})
	require.NoError(t, err)
	form := <-got
	require.Equal(t, "200", form.Get("status"))
	require.Equal(t, "Success", form.Get("reason"))
}

func TestFetch_CanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Fetch(ctx, webmention.FetchRequest{URL: srv.URL, MaxRedirects: -1})
	require.ErrorIs(t, err, context.Canceled)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
