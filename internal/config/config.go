// Package config loads and validates receiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Storage, archive and notify backends.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPubSub   = "pubsub"
	BackendNATS     = "nats"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Site      SiteConfig      `mapstructure:"site"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Verifier  VerifierConfig  `mapstructure:"verifier"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	NATS      NATSConfig      `mapstructure:"nats"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Sanitize  SanitizeConfig  `mapstructure:"sanitize"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig guards the /v1 read endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SiteConfig describes the blog the receiver accepts mentions for.
type SiteConfig struct {
	Hosts          []string   `mapstructure:"hosts"`
	BlockedSources []string   `mapstructure:"blocked_sources"`
	RecentCapacity int        `mapstructure:"recent_capacity"`
	Posts          []PostSeed `mapstructure:"posts"`
}

// PostSeed preloads a post into the memory store.
type PostSeed struct {
	ShortID        string    `mapstructure:"short_id"`
	Type           string    `mapstructure:"type"`
	Path           string    `mapstructure:"path"`
	Published      time.Time `mapstructure:"published"`
	DateIndex      int       `mapstructure:"date_index"`
	Permalink      string    `mapstructure:"permalink"`
	ShortPermalink string    `mapstructure:"short_permalink"`
}

// WorkerConfig governs the queue and worker pool.
type WorkerConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	QueueDepth         int `mapstructure:"queue_depth"`
	TaskTimeoutSeconds int `mapstructure:"task_timeout_seconds"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// VerifierConfig bounds source documents.
type VerifierConfig struct {
	MaxBodyBytes int `mapstructure:"max_body_bytes"`
}

// ResolverConfig controls the target redirect probe.
type ResolverConfig struct {
	FollowRedirects bool `mapstructure:"follow_redirects"`
	MaxRedirects    int  `mapstructure:"max_redirects"`
}

// StorageConfig selects the post store.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	Migrate                bool   `mapstructure:"migrate"`
}

// SQLiteConfig controls the embedded SQLite store.
type SQLiteConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// ArchiveConfig sets where verified sources are archived.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
}

// NotifyConfig selects the notification hook transport.
type NotifyConfig struct {
	Backend        string `mapstructure:"backend"`
	Topic          string `mapstructure:"topic"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PubSubConfig holds Google Pub/Sub settings.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

// RateLimitConfig throttles source fetches per host.
type RateLimitConfig struct {
	DefaultRPS   float64 `mapstructure:"default_rps"`
	DefaultBurst int     `mapstructure:"default_burst"`
	MaxHosts     int     `mapstructure:"max_hosts"`
}

// SanitizeConfig toggles mention HTML sanitizing.
type SanitizeConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBMENTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hooks); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("site.recent_capacity", 100)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 256)
	v.SetDefault("worker.task_timeout_seconds", 60)
	v.SetDefault("http.user_agent", "webmention-receiver/0.1")
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("verifier.max_body_bytes", 2<<20)
	v.SetDefault("resolver.follow_redirects", true)
	v.SetDefault("resolver.max_redirects", 1)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("db.migrate", false)
	v.SetDefault("sqlite.path", "webmention.db")
	v.SetDefault("sqlite.busy_timeout_ms", 5000)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "sources")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("notify.backend", BackendNone)
	v.SetDefault("notify.topic", "webmentions")
	v.SetDefault("notify.timeout_seconds", 5)
	v.SetDefault("nats.name", "webmention-receiver")
	v.SetDefault("rate_limit.default_rps", 1.0)
	v.SetDefault("rate_limit.default_burst", 2)
	v.SetDefault("rate_limit.max_hosts", 10000)
	v.SetDefault("sanitize.enabled", true)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Verifier.MaxBodyBytes <= 0 {
		return fmt.Errorf("verifier.max_body_bytes must be > 0")
	}
	if c.Resolver.MaxRedirects < 0 {
		return fmt.Errorf("resolver.max_redirects must be >= 0")
	}
	if err := validatePosts(c.Site.Posts); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}

	switch c.Archive.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Archive.LocalDir == "" {
			return fmt.Errorf("archive.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}

	switch c.Notify.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.PubSub.ProjectID == "" {
			return fmt.Errorf("pubsub.project_id must be set for the pubsub backend")
		}
	case BackendNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url must be set for the nats backend")
		}
	default:
		return fmt.Errorf("notify.backend %q is not supported", c.Notify.Backend)
	}
	if c.Notify.Backend != BackendNone && c.Notify.Topic == "" {
		return fmt.Errorf("notify.topic must be set when notifications are enabled")
	}
	return nil
}

func validatePosts(posts []PostSeed) error {
	seen := make(map[string]struct{}, len(posts))
	for i, p := range posts {
		if p.ShortID == "" {
			return fmt.Errorf("site.posts[%d].short_id must be set", i)
		}
		if p.Permalink == "" {
			return fmt.Errorf("site.posts[%d].permalink must be set", i)
		}
		if _, dup := seen[p.ShortID]; dup {
			return fmt.Errorf("site.posts[%d].short_id %q is already used", i, p.ShortID)
		}
		seen[p.ShortID] = struct{}{}
	}
	return nil
}

// TaskTimeout converts the worker timeout into a duration.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Worker.TaskTimeoutSeconds) * time.Second
}

// FetchTimeout converts the outbound HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
