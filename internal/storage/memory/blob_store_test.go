package memory

import (
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("<html>source</html>")
	uri, err := store.PutObject(context.Background(), "sources/abc/task-1.html", "text/html", payload)
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://sources/abc/task-1.html" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'X'
	stored, ok := store.Object("sources/abc/task-1.html")
	if !ok || string(stored) != "<html>source</html>" {
		t.Fatalf("expected stored copy to be immutable, got %q", stored)
	}
	if _, err := store.PutObject(context.Background(), "", "text/html", payload); err == nil {
		t.Fatal("expected error for empty path")
	}
}
