// Package classifier assigns reftypes to an entry relative to a target post.
package classifier

import (
	"slices"
	"sort"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// Classify intersects the entry's references with the target aliases and
// returns the distinct reftypes whose url matched, ordered by rank. An empty
// intersection classifies as a plain reference.
func Classify(references []webmention.Reference, aliases []string) []webmention.RefType {
	var out []webmention.RefType
	for _, ref := range references {
		if !slices.Contains(aliases, ref.URL) || slices.Contains(out, ref.RefType) {
			continue
		}
		out = append(out, ref.RefType)
	}
	if len(out) == 0 {
		return []webmention.RefType{webmention.RefReference}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Rank() < out[j].Rank()
	})
	return out
}
