// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-receiver/internal/api"
	"github.com/JakeFAU/webmention-receiver/internal/config"
	"github.com/JakeFAU/webmention-receiver/internal/dispatcher"
	queuememory "github.com/JakeFAU/webmention-receiver/internal/queue/memory"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
	"github.com/JakeFAU/webmention-receiver/internal/worker"
)

// defaultDrainGrace bounds the wait for workers after the shutdown timeout
// has expired and their context has been canceled.
const defaultDrainGrace = 5 * time.Second

type namedCloser struct {
	name   string
	closer io.Closer
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queuememory.Queue
	tasks     webmention.TaskStore
	ids       webmention.IDGenerator
	clock     webmention.Clock
	worker    *worker.Worker
	closers   []namedCloser

	drainGrace time.Duration
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("notify", cfg.Notify.Backend),
		zap.Int("workers", cfg.Worker.Concurrency),
	)
	return &App{
		cfg:        cfg,
		logger:     logger,
		drainGrace: defaultDrainGrace,
	}, nil
}

// Handler exposes the HTTP handler, mostly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP and processes queued tasks until SIGINT/SIGTERM or ctx ends,
// then drains the queue before returning. The drain is bounded by the shutdown
// timeout plus a short grace period. A task still in flight after that keeps
// running on its own detached context, bounded only by the worker task
// timeout, and Run returns without it.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Workers outlive ctx so queued tasks finish during shutdown.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
		a.dispatch.Run(workerCtx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.apiServer.SetDraining()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.queue.Close()
	a.awaitDrain(shutdownCtx, drained, cancelWorkers)

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// awaitDrain waits for the workers to exit. Once shutdownCtx expires it cancels
// them and waits at most drainGrace more. It reports whether they exited.
func (a *App) awaitDrain(shutdownCtx context.Context, drained <-chan struct{}, cancelWorkers context.CancelFunc) bool {
	select {
	case <-drained:
		a.logger.Info("queue drained")
		return true
	case <-shutdownCtx.Done():
	}

	a.logger.Warn("queue drain timed out", zap.Int("pending", a.queue.Len()))
	cancelWorkers()
	grace := time.NewTimer(a.drainGrace)
	defer grace.Stop()
	select {
	case <-drained:
		return true
	case <-grace.C:
		a.logger.Warn("abandoning in-flight tasks", zap.Duration("grace", a.drainGrace))
		return false
	}
}

// Process runs one request synchronously through a worker, bypassing the queue.
func (a *App) Process(ctx context.Context, req webmention.Request) (webmention.TaskRecord, error) {
	id, err := a.ids.NewID()
	if err != nil {
		return webmention.TaskRecord{}, fmt.Errorf("generate task id: %w", err)
	}
	task := webmention.Task{ID: id, Request: req, Received: a.clock.Now()}
	if err := a.tasks.CreateTask(ctx, task); err != nil {
		return webmention.TaskRecord{}, fmt.Errorf("create task: %w", err)
	}
	return a.worker.Process(ctx, task), nil
}

// Close releases stores, publishers and clients in reverse build order.
func (a *App) Close(_ context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.closer.Close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) addCloser(name string, c io.Closer) {
	a.closers = append(a.closers, namedCloser{name: name, closer: c})
}
