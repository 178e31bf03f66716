// Package sanitize cleans third-party HTML before it is stored on a post.
package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer strips unsafe markup from mention content.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// New returns a Sanitizer using the bluemonday UGC policy.
func New() *Sanitizer {
	return &Sanitizer{policy: bluemonday.UGCPolicy().RequireNoFollowOnLinks(true)}
}

// HTML returns html with scripts, handlers and unknown elements removed.
func (s *Sanitizer) HTML(html string) string {
	return strings.TrimSpace(s.policy.Sanitize(html))
}

// Passthrough leaves content untouched. It is used when sanitizing is disabled.
type Passthrough struct{}

// HTML returns html unchanged.
func (Passthrough) HTML(html string) string { return html }
