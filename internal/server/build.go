package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-receiver/internal/api"
	"github.com/JakeFAU/webmention-receiver/internal/clock/system"
	"github.com/JakeFAU/webmention-receiver/internal/config"
	"github.com/JakeFAU/webmention-receiver/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/webmention-receiver/internal/fetcher/colly"
	"github.com/JakeFAU/webmention-receiver/internal/hash/sha256"
	"github.com/JakeFAU/webmention-receiver/internal/id/uuid"
	"github.com/JakeFAU/webmention-receiver/internal/logging"
	"github.com/JakeFAU/webmention-receiver/internal/merger"
	"github.com/JakeFAU/webmention-receiver/internal/metrics"
	"github.com/JakeFAU/webmention-receiver/internal/notify"
	"github.com/JakeFAU/webmention-receiver/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/webmention-receiver/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/webmention-receiver/internal/publisher/nats"
	gcppublisher "github.com/JakeFAU/webmention-receiver/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/webmention-receiver/internal/queue/memory"
	"github.com/JakeFAU/webmention-receiver/internal/resolver"
	"github.com/JakeFAU/webmention-receiver/internal/sanitize"
	gcsstorage "github.com/JakeFAU/webmention-receiver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/webmention-receiver/internal/storage/local"
	memorystorage "github.com/JakeFAU/webmention-receiver/internal/storage/memory"
	pgstore "github.com/JakeFAU/webmention-receiver/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/webmention-receiver/internal/storage/sqlite"
	"github.com/JakeFAU/webmention-receiver/internal/verifier"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
	"github.com/JakeFAU/webmention-receiver/internal/worker"
)

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies around logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()
	app.clock = system.New()
	app.ids = uuid.New()
	app.tasks = memorystorage.NewTaskStore()

	app.logger.Info("building application dependencies")
	store, err := setupStore(ctx, app)
	if err != nil {
		return nil, app.abort(err)
	}
	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, app.abort(err)
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, app.abort(err)
	}

	recent := memorystorage.NewRecentMentions(cfg.Site.RecentCapacity)
	var hook webmention.NotificationHook
	if publisher != nil {
		hook = notify.New(notify.Config{
			Topic:   cfg.Notify.Topic,
			Timeout: time.Duration(cfg.Notify.TimeoutSeconds) * time.Second,
		}, publisher, app.clock, logger.Named("notify"))
	}

	var sanitizer merger.ContentSanitizer = sanitize.Passthrough{}
	if cfg.Sanitize.Enabled {
		sanitizer = sanitize.New()
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	app.logger.Info("using colly fetcher", zap.String("user_agent", cfg.HTTP.UserAgent))
	limiter := ratelimit.New(ratelimit.Config{
		RPS:      cfg.RateLimit.DefaultRPS,
		Burst:    cfg.RateLimit.DefaultBurst,
		MaxHosts: cfg.RateLimit.MaxHosts,
	})

	res := resolver.New(resolver.Config{
		Hosts:           cfg.Site.Hosts,
		FollowRedirects: cfg.Resolver.FollowRedirects,
		MaxRedirects:    cfg.Resolver.MaxRedirects,
	}, store, fetcher)
	ver := verifier.New(verifier.Config{MaxBodyBytes: cfg.Verifier.MaxBodyBytes}, fetcher, limiter)
	merge := merger.New(store, recent, hook, app.clock, sanitizer)

	workerCfg := worker.Config{
		TaskTimeout: cfg.TaskTimeout(),
		ContentType: cfg.Archive.ContentType,
	}
	if archive != nil {
		workerCfg.ArchivePrefix = cfg.Archive.Prefix
	}
	app.logger.Info("worker config",
		zap.Duration("task_timeout", workerCfg.TaskTimeout),
		zap.String("archive_prefix", workerCfg.ArchivePrefix),
		zap.Int("max_body_bytes", cfg.Verifier.MaxBodyBytes),
	)

	app.queue = queuememory.NewQueue(cfg.Worker.QueueDepth)
	hasher := sha256.New()
	runners := make([]dispatcher.Runner, 0, cfg.Worker.Concurrency)
	for i := range cfg.Worker.Concurrency {
		w := worker.New(
			app.queue,
			app.tasks,
			res,
			ver,
			merge,
			fetcher,
			archive,
			hasher,
			app.clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("worker", i)),
		)
		if app.worker == nil {
			app.worker = w
		}
		runners = append(runners, w)
	}
	app.dispatch = dispatcher.New(app.queue, app.tasks, app.ids, app.clock, runners)

	app.apiServer = api.NewServer(
		app.dispatch,
		app.tasks,
		store,
		recent,
		*cfg,
		logger.Named("api"),
	)
	return app, nil
}

func (a *App) abort(err error) error {
	if closeErr := a.Close(context.Background()); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}

func setupStore(ctx context.Context, app *App) (webmention.Store, error) {
	cfg := app.cfg
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewPostStore(ctx, pgstore.PostStoreConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.addCloser("postgres", store)
		if cfg.DB.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("postgres migrate failed: %w", err)
			}
		}
		if len(cfg.Site.Posts) > 0 {
			app.logger.Warn("site.posts is ignored by the postgres backend")
		}
		app.logger.Info("using postgres post store")
		return store, nil
	case config.BackendSQLite:
		store, err := sqlitestore.Open(ctx, sqlitestore.Config{
			Path:        cfg.SQLite.Path,
			BusyTimeout: time.Duration(cfg.SQLite.BusyTimeoutMs) * time.Millisecond,
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.addCloser("sqlite", store)
		for _, seed := range cfg.Site.Posts {
			_, err := store.FindByShortID(ctx, seed.ShortID)
			if err == nil {
				continue
			}
			if !errors.Is(err, webmention.ErrPostNotFound) {
				return nil, fmt.Errorf("sqlite seed lookup failed: %w", err)
			}
			if _, err := store.InsertPost(ctx, seedPost(seed)); err != nil {
				return nil, fmt.Errorf("sqlite seed failed: %w", err)
			}
		}
		app.logger.Info("using sqlite post store", zap.String("path", cfg.SQLite.Path))
		return store, nil
	default:
		store := memorystorage.NewPostStore()
		for _, seed := range cfg.Site.Posts {
			store.Put(seedPost(seed))
		}
		app.logger.Info("using in-memory post store", zap.Int("posts", len(cfg.Site.Posts)))
		return store, nil
	}
}

func seedPost(seed config.PostSeed) webmention.Post {
	return webmention.Post{
		ShortID:        seed.ShortID,
		Type:           seed.Type,
		Path:           seed.Path,
		Published:      seed.Published.UTC(),
		DateIndex:      seed.DateIndex,
		Permalink:      seed.Permalink,
		ShortPermalink: seed.ShortPermalink,
	}
}

func setupArchive(ctx context.Context, app *App) (webmention.BlobStore, error) {
	cfg := app.cfg.Archive
	switch cfg.Backend {
	case config.BackendGCS:
		store, err := gcsstorage.Connect(ctx, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		app.addCloser("gcs", store)
		app.logger.Info("archiving sources to GCS", zap.String("bucket", cfg.GCSBucket))
		return store, nil
	case config.BackendLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		app.logger.Info("archiving sources to local disk", zap.String("path", cfg.LocalDir))
		return store, nil
	case config.BackendMemory:
		app.logger.Info("archiving sources in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("source archiving disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (webmention.Publisher, error) {
	cfg := app.cfg
	switch cfg.Notify.Backend {
	case config.BackendPubSub:
		pub, err := gcppublisher.Connect(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.addCloser("pubsub", pub)
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.Notify.Topic),
		)
		return pub, nil
	case config.BackendNATS:
		pub, err := natspublisher.Connect(cfg.NATS.URL, cfg.NATS.Name)
		if err != nil {
			return nil, fmt.Errorf("nats publisher init failed: %w", err)
		}
		app.addCloser("nats", pub)
		app.logger.Info("NATS publisher initialized",
			zap.String("url", cfg.NATS.URL),
			zap.String("subject", cfg.Notify.Topic),
		)
		return pub, nil
	case config.BackendMemory:
		pub := memorypublisher.New()
		app.addCloser("memory publisher", pub)
		app.logger.Info("using in-memory publisher", zap.String("topic", cfg.Notify.Topic))
		return pub, nil
	default:
		app.logger.Info("notification hook disabled")
		return nil, nil
	}
}
