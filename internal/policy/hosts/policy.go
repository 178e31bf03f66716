// Package hosts decides which source hosts the receiver refuses to fetch.
package hosts

import (
	"net/url"
	"strings"
)

// Policy matches hosts against exact names and suffix wildcards
// ("*.example.com" or ".example.com"). A nil Policy blocks nothing.
type Policy struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a Policy from patterns. It returns nil when no pattern is usable.
func New(patterns []string) *Policy {
	p := &Policy{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
			continue
		case strings.HasPrefix(value, "*."):
			p.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			p.addSuffix(strings.TrimPrefix(value, "."))
		default:
			p.exact[value] = struct{}{}
		}
	}
	if len(p.exact) == 0 && len(p.suffixes) == 0 {
		return nil
	}
	return p
}

func (p *Policy) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range p.suffixes {
		if existing == suffix {
			return
		}
	}
	p.suffixes = append(p.suffixes, suffix)
}

// BlocksHost reports whether host matches any pattern. Ports are ignored.
func (p *Policy) BlocksHost(host string) bool {
	if p == nil {
		return false
	}
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := p.exact[host]; ok {
		return true
	}
	for _, suffix := range p.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// BlocksURL reports whether the host of rawURL is blocked. Unparseable urls
// are not blocked; validation rejects them elsewhere.
func (p *Policy) BlocksURL(rawURL string) bool {
	if p == nil {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return p.BlocksHost(u.Hostname())
}
