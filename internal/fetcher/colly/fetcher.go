// Package collyfetcher implements webmention.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements webmention.Fetcher using a Colly collector per call.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher sharing one pooled transport across calls.
func New(cfg Config) *Fetcher {
	return &Fetcher{cfg: cfg, transport: newHTTPTransport()}
}

// NewWithTransport builds a Fetcher over a caller supplied transport.
func NewWithTransport(cfg Config, transport http.RoundTripper) *Fetcher {
	return &Fetcher{cfg: cfg, transport: transport}
}

// Fetch executes a single GET or form POST. Non-2xx responses are returned,
// not treated as errors.
func (f *Fetcher) Fetch(ctx context.Context, request webmention.FetchRequest) (webmention.FetchResponse, error) {
	var (
		result   webmention.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request)
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		return webmention.FetchResponse{}, err
	}
	return result, nil
}

// buildCollector creates a fresh collector; Clone would share the http
// client, and the redirect policy differs per request.
func (f *Fetcher) buildCollector(request webmention.FetchRequest) *colly.Collector {
	collector := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	collector.ParseHTTPErrorResponse = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	if request.MaxBodySize > 0 {
		collector.MaxBodySize = request.MaxBodySize
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	transport := f.transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	collector.WithTransport(transport)

	if request.MaxRedirects >= 0 {
		limit := request.MaxRedirects
		collector.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
			if len(via) > limit {
				return http.ErrUseLastResponse
			}
			return nil
		})
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request webmention.FetchRequest,
	start time.Time,
	result *webmention.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if request.Method != http.MethodPost {
			r.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = webmention.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	request webmention.FetchRequest,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		if request.Method == http.MethodPost {
			done <- collector.Post(request.URL, request.Form)
			return
		}
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly %s %s failed: %w", method(request), request.URL, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func method(request webmention.FetchRequest) string {
	if request.Method == "" {
		return http.MethodGet
	}
	return request.Method
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
