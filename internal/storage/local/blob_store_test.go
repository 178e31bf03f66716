package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmention-receiver/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "archive")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Empty(t, entries, "writability probe must be cleaned up")
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{BaseDir: "  "})
		require.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("WritesNestedArchivePath", func(t *testing.T) {
		path := "sources/abc123/task-1.html"
		data := []byte("<html>source</html>")
		uri, err := store.PutObject(ctx, path, "text/html", data)
		require.NoError(t, err)
		require.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		require.Equal(t, data, got)
	})

	t.Run("OverwritesWithoutLeftovers", func(t *testing.T) {
		path := "sources/abc123/task-2.html"
		_, err := store.PutObject(ctx, path, "text/html", []byte("first"))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, path, "text/html", []byte("second"))
		require.NoError(t, err)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		require.Equal(t, "second", string(got))

		entries, err := os.ReadDir(filepath.Join(tempDir, "sources", "abc123"))
		require.NoError(t, err)
		for _, e := range entries {
			require.NotContains(t, e.Name(), ".archive-")
		}
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/html", []byte("data"))
		require.Error(t, err)
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.html", "text/html", []byte("data"))
		require.Error(t, err)
	})
}
