package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if requestsTotal == nil || tasksTotal == nil || httpRequestsTotal == nil || activeWorkers == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(tasksTotal.WithLabelValues("rejected", "no_link_to_target"))
	ObserveTask("rejected", "no_link_to_target")
	if got := testutil.ToFloat64(tasksTotal.WithLabelValues("rejected", "no_link_to_target")); got != before+1 {
		t.Errorf("expected tasks counter to increase by 1, got %f -> %f", before, got)
	}

	bytesBefore := testutil.ToFloat64(sourceBytesTotal.WithLabelValues("alice.example"))
	ObserveSourceFetch("https://Alice.example/notes/1", 512)
	ObserveSourceFetch("https://alice.example/notes/2", 0)
	if got := testutil.ToFloat64(sourceBytesTotal.WithLabelValues("alice.example")); got != bytesBefore+512 {
		t.Errorf("expected 512 more bytes, got %f -> %f", bytesBefore, got)
	}

	mentionsBefore := testutil.ToFloat64(mentionsTotal.WithLabelValues("reply"))
	ObserveMentions("reply", 2)
	if got := testutil.ToFloat64(mentionsTotal.WithLabelValues("reply")); got != mentionsBefore+2 {
		t.Errorf("expected 2 more reply mentions, got %f -> %f", mentionsBefore, got)
	}

	IncActiveWorkers()
	DecActiveWorkers()
	ObserveStage("verify", 20*time.Millisecond)
	if count := testutil.CollectAndCount(stageDurationSeconds); count <= 0 {
		t.Errorf("expected stage histogram to be observed, got %d", count)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
