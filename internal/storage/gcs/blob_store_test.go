package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type uploadRecorder struct {
	mu    sync.Mutex
	paths []string
	body  string
}

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "test-bucket"})
	require.NoError(t, err)
	return store
}

func TestPutObjectUploadsBody(t *testing.T) {
	t.Parallel()

	rec := &uploadRecorder{}
	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.paths = append(rec.paths, r.URL.Path)
		rec.body = string(body)
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"name":"sources/abc/t1.html","bucket":"test-bucket"}`)
	}))

	uri, err := store.PutObject(context.Background(), "sources/abc/t1.html", "text/html", []byte("<html>source</html>"))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/sources/abc/t1.html", uri)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.paths)
	require.True(t, strings.Contains(rec.paths[0], "/b/test-bucket/o"), rec.paths[0])
	require.Contains(t, rec.body, "<html>source</html>")
}

func TestPutObjectReportsServerError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "sources/abc/t1.html", "text/html", []byte("data"))
	require.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	store := newTestStore(t, http.NotFoundHandler())
	_, err = New(store.client, Config{})
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
	require.NoError(t, store.Close())
}
