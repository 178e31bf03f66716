// Package ratelimit spaces out fetches against each source host so one
// sender cannot turn the receiver into a crawler of its own site.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/webmention-receiver/internal/metrics"
)

// DefaultMaxHosts bounds how many host buckets are tracked at once.
const DefaultMaxHosts = 10000

// Config holds the token bucket shared by every source host.
type Config struct {
	// RPS is the sustained fetch rate per host; zero or less disables throttling.
	RPS   float64
	Burst int
	// MaxHosts caps tracked hosts. Idle buckets are evicted past the cap.
	MaxHosts int
}

// Limiter hands out one token bucket per source host.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	maxHosts int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	l := &Limiter{
		buckets:  make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    max(cfg.Burst, 1),
		maxHosts: cfg.MaxHosts,
	}
	if l.maxHosts <= 0 {
		l.maxHosts = DefaultMaxHosts
	}
	return l
}

// Wait blocks until the source's host may be fetched again or ctx ends.
func (l *Limiter) Wait(ctx context.Context, source string) error {
	if l.limit == rate.Inf {
		return nil
	}
	host := hostOf(source)
	bucket := l.bucket(host)

	start := time.Now()
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Hosts reports how many host buckets are tracked.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[host]; ok {
		return b
	}
	if len(l.buckets) >= l.maxHosts {
		l.evictIdle()
	}
	b := rate.NewLimiter(l.limit, l.burst)
	l.buckets[host] = b
	return b
}

// evictIdle drops buckets that have refilled completely; they carry no state
// a fresh bucket would not. Callers hold mu.
func (l *Limiter) evictIdle() {
	full := float64(l.burst)
	for host, b := range l.buckets {
		if b.Tokens() >= full {
			delete(l.buckets, host)
		}
	}
}

func hostOf(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
