package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-receiver/internal/config"
	queuememory "github.com/JakeFAU/webmention-receiver/internal/queue/memory"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Worker.Concurrency = 2
	cfg.RateLimit.DefaultRPS = 0
	cfg.Archive.Backend = config.BackendMemory
	cfg.Notify.Backend = config.BackendMemory
	cfg.Site.Posts = []config.PostSeed{{
		ShortID:   "n1",
		Type:      "note",
		Path:      "2024/01/hello",
		Permalink: "https://blog.example/2024/01/hello",
		Published: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}}
	return &cfg
}

// newSite serves the target post and a source page that replies to it.
func newSite(t *testing.T) (source, target string) {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	target = srv.URL + "/2024/01/hello"
	source = srv.URL + "/notes/reply"
	mux.HandleFunc("/2024/01/hello", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body>hello</body></html>")
	})
	mux.HandleFunc("/notes/reply", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<html><body><article class="h-entry">
<a class="p-author h-card" href="/">Alice</a>
<div class="e-content">Nice post!</div>
<a class="u-in-reply-to" href="%s">re</a>
</article></body></html>`, target)
	})
	return source, target
}

func TestBuildProcessEndToEnd(t *testing.T) {
	t.Parallel()

	app, err := BuildWithLogger(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	source, target := newSite(t)
	record, err := app.Process(context.Background(), webmention.Request{Source: source, Target: target})
	require.NoError(t, err)
	require.Equal(t, webmention.TaskSucceeded, record.State, record.Detail)
	require.Equal(t, webmention.ReasonSuccess, record.Reason)
	require.Equal(t, "n1", record.PostID)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/posts/n1/mentions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"reftype":"reply"`)
	require.Contains(t, rec.Body.String(), "Alice")
}

func TestBuildQueuesAndDrains(t *testing.T) {
	t.Parallel()

	app, err := BuildWithLogger(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		app.dispatch.Run(context.Background())
		close(done)
	}()

	source, target := newSite(t)
	form := url.Values{"source": {source}, "target": {target}}
	req := httptest.NewRequest(http.MethodPost, "/webmention", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/v1/tasks/"))

	require.Eventually(t, func() bool {
		record, err := app.tasks.GetTask(context.Background(), strings.TrimPrefix(location, "/v1/tasks/"))
		return err == nil && record.State == webmention.TaskSucceeded
	}, 5*time.Second, 10*time.Millisecond)

	app.queue.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after queue closed")
	}
	require.NoError(t, app.Close(context.Background()))
}

func TestBuildRejectsUnknownTarget(t *testing.T) {
	t.Parallel()

	app, err := BuildWithLogger(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	source, target := newSite(t)
	record, err := app.Process(context.Background(), webmention.Request{
		Source: source,
		Target: strings.Replace(target, "hello", "missing", 1),
	})
	require.NoError(t, err)
	require.Equal(t, webmention.TaskRejected, record.State)
	require.Equal(t, webmention.ReasonTargetNotFound, record.Reason)
}

func TestNewAppRequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewApp(nil, nil)
	require.Error(t, err)
}

func drainApp(grace time.Duration) *App {
	return &App{logger: zap.NewNop(), queue: queuememory.NewQueue(1), drainGrace: grace}
}

func TestAwaitDrainGivesUpOnStuckWorker(t *testing.T) {
	t.Parallel()

	app := drainApp(20 * time.Millisecond)
	shutdownCtx, cancel := context.WithCancel(context.Background())
	cancel()

	canceled := make(chan struct{})
	drained := make(chan struct{}) // never closes; the worker ignores cancellation
	done := make(chan bool, 1)
	go func() {
		done <- app.awaitDrain(shutdownCtx, drained, func() { close(canceled) })
	}()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("awaitDrain did not return for a stuck worker")
	}
	select {
	case <-canceled:
	default:
		t.Fatal("expected workers to be canceled")
	}
}

func TestAwaitDrainWaitsForCanceledWorkers(t *testing.T) {
	t.Parallel()

	app := drainApp(time.Second)
	shutdownCtx, cancel := context.WithCancel(context.Background())
	cancel()

	drained := make(chan struct{})
	require.True(t, app.awaitDrain(shutdownCtx, drained, func() { close(drained) }))
}

func TestAwaitDrainReturnsOnceDrained(t *testing.T) {
	t.Parallel()

	app := drainApp(time.Second)
	drained := make(chan struct{})
	close(drained)
	require.True(t, app.awaitDrain(context.Background(), drained, func() {
		t.Error("workers should not be canceled after a clean drain")
	}))
}
