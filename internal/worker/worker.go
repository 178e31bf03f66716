// Package worker drives queued webmention tasks through the processing pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-receiver/internal/classifier"
	"github.com/JakeFAU/webmention-receiver/internal/logging"
	"github.com/JakeFAU/webmention-receiver/internal/merger"
	"github.com/JakeFAU/webmention-receiver/internal/metrics"
	"github.com/JakeFAU/webmention-receiver/internal/microformats"
	"github.com/JakeFAU/webmention-receiver/internal/queue/memory"
	"github.com/JakeFAU/webmention-receiver/internal/resolver"
	"github.com/JakeFAU/webmention-receiver/internal/verifier"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// Resolver finds the target post.
type Resolver interface {
	Resolve(ctx context.Context, target string) (resolver.Resolution, error)
}

// Verifier fetches and checks the source.
type Verifier interface {
	Verify(ctx context.Context, source string, aliases []string) (verifier.Result, error)
}

// Merger commits mentions to the target post.
type Merger interface {
	Merge(ctx context.Context, in merger.Input) (merger.Outcome, error)
}

// Config controls Worker behavior.
type Config struct {
	// TaskTimeout bounds one task; zero leaves it to the fetcher timeouts.
	TaskTimeout time.Duration
	// ArchivePrefix enables source archiving when an archive store is set.
	ArchivePrefix string
	ContentType   string
}

// Worker consumes tasks and runs each one to a terminal state.
type Worker struct {
	queue    webmention.Queue
	tasks    webmention.TaskStore
	resolver Resolver
	verifier Verifier
	merger   Merger
	fetcher  webmention.Fetcher
	archive  webmention.BlobStore
	hasher   webmention.Hasher
	clock    webmention.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Worker. tasks, fetcher, archive and hasher may be nil.
func New(
	queue webmention.Queue,
	tasks webmention.TaskStore,
	resolver Resolver,
	verifier Verifier,
	merger Merger,
	fetcher webmention.Fetcher,
	archive webmention.BlobStore,
	hasher webmention.Hasher,
	clock webmention.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		tasks:    tasks,
		resolver: resolver,
		verifier: verifier,
		merger:   merger,
		fetcher:  fetcher,
		archive:  archive,
		hasher:   hasher,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, consuming tasks until the queue is closed and drained or the
// context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", task.ID))
		w.Process(ctx, task)
	}
}

// Process runs one task to completion and returns its final record. Processing
// is detached from ctx cancellation; only Config.TaskTimeout bounds it.
func (w *Worker) Process(ctx context.Context, task webmention.Task) webmention.TaskRecord {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	taskCtx := context.WithoutCancel(ctx)
	if w.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, w.cfg.TaskTimeout)
		defer cancel()
	}
	logger := w.logger.With(
		zap.String("task_id", task.ID),
		zap.String("source", task.Request.Source),
		zap.String("target", task.Request.Target),
	)
	taskCtx = logging.WithLogger(taskCtx, logger)

	record := webmention.TaskRecord{
		ID:       task.ID,
		Request:  task.Request,
		State:    webmention.TaskReceived,
		Received: task.Received,
		Updated:  w.clock.Now(),
	}

	reason, err := w.runSafely(taskCtx, task, &record)
	w.finish(taskCtx, &record, reason, err)
	w.sendCallback(taskCtx, record)
	w.save(taskCtx, record)
	return record
}

func (w *Worker) runSafely(ctx context.Context, task webmention.Task, record *webmention.TaskRecord) (reason webmention.Reason, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.FromContext(ctx).Error("panic while processing webmention", zap.Any("panic", r), zap.Stack("stack"))
			reason, err = "", fmt.Errorf("panic: %v", r)
		}
	}()
	return w.run(ctx, task, record)
}

// run executes the stages in order. Any error ends the task; stages report
// expected rejections as *webmention.Failure.
func (w *Worker) run(ctx context.Context, task webmention.Task, record *webmention.TaskRecord) (webmention.Reason, error) {
	req := task.Request

	w.transition(ctx, record, webmention.TaskResolving)
	var resolution resolver.Resolution
	if err := w.stage("resolve", func() (err error) {
		resolution, err = w.resolver.Resolve(ctx, req.Target)
		return err
	}); err != nil {
		return "", err
	}
	record.PostID = resolution.Post.ShortID

	w.transition(ctx, record, webmention.TaskVerifying)
	var verified verifier.Result
	if err := w.stage("verify", func() (err error) {
		verified, err = w.verifier.Verify(ctx, req.Source, resolution.Aliases)
		return err
	}); err != nil {
		return "", err
	}

	if verified.Deleted {
		w.transition(ctx, record, webmention.TaskMerging)
		var outcome merger.Outcome
		if err := w.stage("merge", func() (err error) {
			outcome, err = w.merger.Merge(ctx, merger.Input{
				PostShortID: resolution.Post.ShortID,
				Request:     req,
				Deleted:     true,
			})
			return err
		}); err != nil {
			return "", err
		}
		metrics.ObserveMentions("deleted", len(outcome.Deleted))
		record.Mentions = len(outcome.Deleted)
		w.transition(ctx, record, webmention.TaskNotified)
		return webmention.ReasonSourceDeleted, nil
	}

	metrics.ObserveSourceFetch(req.Source, len(verified.Body))
	w.archiveSource(ctx, task, verified.Body)

	w.transition(ctx, record, webmention.TaskExtracting)
	var entry webmention.Entry
	if err := w.stage("extract", func() (err error) {
		entry, err = microformats.Extract(verified.Body, req.Source)
		return err
	}); err != nil {
		return "", err
	}

	w.transition(ctx, record, webmention.TaskClassifying)
	reftypes := classifier.Classify(entry.References, resolution.Aliases)
	logging.FromContext(ctx).Debug("classified source", zap.Any("reftypes", reftypes))

	w.transition(ctx, record, webmention.TaskMerging)
	var outcome merger.Outcome
	if err := w.stage("merge", func() (err error) {
		outcome, err = w.merger.Merge(ctx, merger.Input{
			PostShortID: resolution.Post.ShortID,
			Request:     req,
			Entry:       entry,
			RefTypes:    reftypes,
		})
		return err
	}); err != nil {
		return "", err
	}
	for _, m := range outcome.Added {
		metrics.ObserveMentions(string(m.RefType), 1)
	}
	record.Mentions = len(outcome.Added)
	w.transition(ctx, record, webmention.TaskNotified)
	return webmention.ReasonSuccess, nil
}

func (w *Worker) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.ObserveStage(name, time.Since(start))
	return err
}

func (w *Worker) transition(ctx context.Context, record *webmention.TaskRecord, state webmention.TaskState) {
	record.State = state
	record.Updated = w.clock.Now()
	logging.FromContext(ctx).Debug("task state", zap.String("state", string(state)))
	w.save(ctx, *record)
}

func (w *Worker) finish(ctx context.Context, record *webmention.TaskRecord, reason webmention.Reason, err error) {
	logger := logging.FromContext(ctx)
	record.Updated = w.clock.Now()
	if err == nil {
		record.State = webmention.TaskSucceeded
		record.Reason = reason
		record.Status = reason.Status()
		record.Detail = "Success"
		logger.Info("webmention processed", zap.String("reason", string(reason)), zap.Int("mentions", record.Mentions))
		metrics.ObserveTask(string(record.State), string(reason))
		return
	}

	failure := webmention.AsFailure(err)
	record.State = webmention.TaskRejected
	record.Reason = failure.Reason
	record.Status = failure.Reason.Status()
	record.Detail = failure.Detail
	if failure.Reason == webmention.ReasonUnexpected {
		record.Detail = fmt.Sprintf("%s %v", failure.Detail, failure.Err)
		logger.Error("exception while processing webmention", zap.Error(err))
	} else {
		logger.Info("webmention rejected", zap.String("reason", string(failure.Reason)), zap.String("detail", failure.Detail))
	}
	metrics.ObserveTask(string(record.State), string(failure.Reason))
}

// sendCallback reports the outcome to the sender's callback URL. Its failure
// never changes the recorded outcome.
func (w *Worker) sendCallback(ctx context.Context, record webmention.TaskRecord) {
	callback := record.Request.Callback
	if callback == "" || w.fetcher == nil {
		return
	}
	logger := logging.FromContext(ctx).With(zap.String("callback", callback))
	resp, err := w.fetcher.Fetch(ctx, webmention.FetchRequest{
		Method: http.MethodPost,
		URL:    callback,
		Form: map[string]string{
			"source": record.Request.Source,
			"target": record.Request.Target,
			"status": strconv.Itoa(record.Status),
			"reason": record.Detail,
		},
		MaxRedirects: -1,
	})
	if err != nil {
		metrics.ObserveCallback("error")
		logger.Warn("callback failed", zap.Error(err))
		return
	}
	if resp.StatusCode/100 != 2 {
		metrics.ObserveCallback("rejected")
		logger.Warn("callback rejected", zap.Int("status", resp.StatusCode))
		return
	}
	metrics.ObserveCallback("delivered")
	logger.Debug("callback delivered", zap.Int("status", resp.StatusCode))
}

func (w *Worker) archiveSource(ctx context.Context, task webmention.Task, body []byte) {
	if w.archive == nil || w.hasher == nil || w.cfg.ArchivePrefix == "" {
		return
	}
	logger := logging.FromContext(ctx)
	key, err := w.hasher.Hash([]byte(task.Request.Source))
	if err != nil {
		logger.Warn("hash source url", zap.Error(err))
		return
	}
	uri, err := w.archive.PutObject(ctx, w.buildArchivePath(task.ID, key), w.cfg.ContentType, body)
	if err != nil {
		logger.Warn("archive source failed", zap.Error(err))
		return
	}
	logger.Debug("archived source", zap.String("uri", uri))
}

func (w *Worker) buildArchivePath(taskID, key string) string {
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", key, taskID)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, key, taskID)
}

func (w *Worker) save(ctx context.Context, record webmention.TaskRecord) {
	if w.tasks == nil {
		return
	}
	if err := w.tasks.UpdateTask(ctx, record); err != nil {
		logging.FromContext(ctx).Warn("update task record", zap.String("state", string(record.State)), zap.Error(err))
	}
}
