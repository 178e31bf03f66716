package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// DefaultRecentCapacity bounds the recent mentions list.
const DefaultRecentCapacity = 100

// RecentMentions is a bounded, newest-first list of active mentions.
type RecentMentions struct {
	mu       sync.RWMutex
	capacity int
	items    []webmention.RecentMention
}

// NewRecentMentions constructs the list. A non-positive capacity uses the default.
func NewRecentMentions(capacity int) *RecentMentions {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &RecentMentions{capacity: capacity}
}

// Record puts mentions at the head of the list, replacing entries with the
// same post, source and permalink.
func (r *RecentMentions) Record(_ context.Context, post webmention.Post, mentions []webmention.Mention) error {
	if len(mentions) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	fresh := make([]webmention.RecentMention, 0, len(mentions)+len(r.items))
	for _, m := range mentions {
		fresh = append(fresh, webmention.RecentMention{PostShortID: post.ShortID, Permalink: post.Permalink, Mention: m})
	}
	for _, item := range r.items {
		if item.PostShortID == post.ShortID &&
			item.Mention.Source == mentions[0].Source &&
			item.Mention.Permalink == mentions[0].Permalink {
			continue
		}
		fresh = append(fresh, item)
	}
	if len(fresh) > r.capacity {
		fresh = fresh[:r.capacity]
	}
	r.items = fresh
	return nil
}

// Forget drops entries on a post whose source or permalink equals source.
func (r *RecentMentions) Forget(_ context.Context, postShortID, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.items[:0]
	for _, item := range r.items {
		if item.PostShortID == postShortID && (item.Mention.Source == source || item.Mention.Permalink == source) {
			continue
		}
		kept = append(kept, item)
	}
	r.items = kept
	return nil
}

// List returns up to limit entries, newest first.
func (r *RecentMentions) List(_ context.Context, limit int) ([]webmention.RecentMention, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.items) {
		limit = len(r.items)
	}
	return append([]webmention.RecentMention(nil), r.items[:limit]...), nil
}
