package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webmention-receiver/internal/config"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

type fakeService struct {
	record  webmention.TaskRecord
	got     webmention.Request
	ran     bool
	closed  bool
	runErr  error
	lastCfg *config.Config
}

func (f *fakeService) Run(context.Context) error {
	f.ran = true
	return f.runErr
}

func (f *fakeService) Process(_ context.Context, req webmention.Request) (webmention.TaskRecord, error) {
	f.got = req
	return f.record, nil
}

func (f *fakeService) Close(context.Context) error {
	f.closed = true
	return nil
}

func (f *fakeService) builder() builder {
	return func(_ context.Context, cfg *config.Config) (service, error) {
		f.lastCfg = cfg
		return f, nil
	}
}

func run(t *testing.T, b builder, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(b)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// TestProcessCommandPrintsOutcome ensures the process command forwards flags and prints the record.
func TestProcessCommandPrintsOutcome(t *testing.T) {
	svc := &fakeService{record: webmention.TaskRecord{ID: "t1", State: webmention.TaskSucceeded, Reason: webmention.ReasonSuccess}}

	out, err := run(t, svc.builder(), "process",
		"--source", "https://a.example/1",
		"--target", "https://b.example/2",
		"--callback", "https://a.example/cb",
	)
	require.NoError(t, err)
	require.Contains(t, out, `"state": "succeeded"`)
	require.Equal(t, "https://a.example/cb", svc.got.Callback)
	require.True(t, svc.closed)
	require.NotNil(t, svc.lastCfg)
}

// TestProcessCommandReportsRejection ensures rejected tasks fail the command.
func TestProcessCommandReportsRejection(t *testing.T) {
	svc := &fakeService{record: webmention.TaskRecord{
		State:  webmention.TaskRejected,
		Reason: webmention.ReasonNoLinkToTarget,
		Detail: "Could not find any links from source to target",
	}}

	_, err := run(t, svc.builder(), "process", "--source", "https://a.example/1", "--target", "https://b.example/2")
	require.ErrorIs(t, err, errRejected)
	require.Contains(t, err.Error(), "Could not find any links")
}

// TestProcessCommandRequiresFlags ensures missing URLs are rejected before building.
func TestProcessCommandRequiresFlags(t *testing.T) {
	svc := &fakeService{}
	_, err := run(t, svc.builder(), "process", "--source", "https://a.example/1")
	require.Error(t, err)
	require.Nil(t, svc.lastCfg)
}

// TestServeCommandRuns ensures serve builds and runs the service.
func TestServeCommandRuns(t *testing.T) {
	svc := &fakeService{runErr: errors.New("stopped")}
	_, err := run(t, svc.builder(), "serve")
	require.EqualError(t, err, "stopped")
	require.True(t, svc.ran)
}

// TestConfigFlagErrors ensures a missing config file surfaces an error.
func TestConfigFlagErrors(t *testing.T) {
	svc := &fakeService{}
	_, err := run(t, svc.builder(), "serve", "--config", "/nonexistent/config.yaml")
	require.Error(t, err)
	require.False(t, svc.ran)
}
