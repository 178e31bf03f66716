// Package verifier fetches a webmention source and confirms it links back to
// the target.
package verifier

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-receiver/internal/logging"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// DefaultMaxBodyBytes is the largest source document accepted.
const DefaultMaxBodyBytes = 2 << 20

// Config tunes verification.
type Config struct {
	MaxBodyBytes int
}

// Result is a verified source. Deleted is set when the source answered 410
// Gone, in which case Body is empty and the link was not checked.
type Result struct {
	Deleted    bool
	URL        string
	StatusCode int
	Body       []byte
}

// Verifier fetches sources through a Fetcher, optionally rate limited per host.
type Verifier struct {
	cfg     Config
	fetcher webmention.Fetcher
	limiter webmention.Limiter
}

// New constructs a Verifier. limiter may be nil.
func New(cfg Config, fetcher webmention.Fetcher, limiter webmention.Limiter) *Verifier {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Verifier{cfg: cfg, fetcher: fetcher, limiter: limiter}
}

// Verify fetches source and checks it against the target alias set.
func (v *Verifier) Verify(ctx context.Context, source string, aliases []string) (Result, error) {
	logger := logging.FromContext(ctx)

	if v.limiter != nil {
		if err := v.limiter.Wait(ctx, source); err != nil {
			return Result{}, webmention.RejectWith(webmention.ReasonSourceUnreachable, err, "rate limit wait for %s", source)
		}
	}

	resp, err := v.fetcher.Fetch(ctx, webmention.FetchRequest{
		Method:       http.MethodGet,
		URL:          source,
		MaxRedirects: -1,
		MaxBodySize:  v.cfg.MaxBodyBytes + 1,
	})
	if err != nil {
		return Result{}, webmention.RejectWith(webmention.ReasonSourceUnreachable, err,
			"Bad response when reading source post: %s", source)
	}
	logger.Debug("received response from source",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("duration", resp.Duration),
	)

	if resp.StatusCode == http.StatusGone {
		logger.Debug("source indicates original was deleted")
		return Result{Deleted: true, URL: resp.URL, StatusCode: resp.StatusCode}, nil
	}
	if resp.StatusCode/100 != 2 {
		return Result{}, webmention.Reject(webmention.ReasonSourceUnreachable,
			"Bad response when reading source post: %s, %d", source, resp.StatusCode)
	}

	if declared := resp.Headers.Get("Content-Length"); declared != "" {
		if length, err := strconv.Atoi(declared); err == nil && length > v.cfg.MaxBodyBytes {
			return Result{}, webmention.Reject(webmention.ReasonSourceTooLarge, "Source is very large. Length=%d", length)
		}
	}
	if len(resp.Body) > v.cfg.MaxBodyBytes {
		return Result{}, webmention.Reject(webmention.ReasonSourceTooLarge,
			"Source is very large. Length>%d", v.cfg.MaxBodyBytes)
	}

	found, err := LinksTo(resp.Body, resp.URL, aliases)
	if err != nil {
		return Result{}, webmention.RejectWith(webmention.ReasonNoLinkToTarget, err, "Could not parse source page")
	}
	if !found {
		return Result{}, webmention.Reject(webmention.ReasonNoLinkToTarget, "Could not find any links from source to target")
	}

	return Result{URL: resp.URL, StatusCode: resp.StatusCode, Body: resp.Body}, nil
}

// LinksTo reports whether any <a> or <link> href in body equals one of the
// aliases, either as written or resolved against base.
func LinksTo(body []byte, base string, aliases []string) (bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	baseURL, _ := url.Parse(base)

	found := false
	doc.Find("a[href], link[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if slices.Contains(aliases, href) {
			found = true
			return false
		}
		if baseURL == nil {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		if slices.Contains(aliases, baseURL.ResolveReference(ref).String()) {
			found = true
			return false
		}
		return true
	})
	return found, nil
}
