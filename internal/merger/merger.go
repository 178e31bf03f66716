// Package merger folds verified mentions into a post under an exclusive scope.
package merger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-receiver/internal/logging"
	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// ContentSanitizer cleans mention HTML before it is stored.
type ContentSanitizer interface {
	HTML(html string) string
}

// Input is everything the merge needs. Entry and RefTypes are ignored when
// Deleted is set.
type Input struct {
	PostShortID string
	Request     webmention.Request
	Entry       webmention.Entry
	RefTypes    []webmention.RefType
	Deleted     bool
}

// Outcome reports the committed post and the mentions the merge touched.
type Outcome struct {
	Post       webmention.Post
	Added      []webmention.Mention
	Superseded []webmention.Mention
	Deleted    []webmention.Mention
}

// Merger applies merges through a Transactor.
type Merger struct {
	tx        webmention.Transactor
	recent    webmention.RecentMentions
	hook      webmention.NotificationHook
	clock     webmention.Clock
	sanitizer ContentSanitizer
}

// New constructs a Merger. recent, hook and sanitizer may be nil.
func New(
	tx webmention.Transactor,
	recent webmention.RecentMentions,
	hook webmention.NotificationHook,
	clock webmention.Clock,
	sanitizer ContentSanitizer,
) *Merger {
	return &Merger{tx: tx, recent: recent, hook: hook, clock: clock, sanitizer: sanitizer}
}

// Merge runs the read-modify-write on the target post while holding its scope.
func (m *Merger) Merge(ctx context.Context, in Input) (Outcome, error) {
	logger := logging.FromContext(ctx)

	scope, err := m.tx.Acquire(ctx, in.PostShortID)
	if err != nil {
		return Outcome{}, fmt.Errorf("acquire post %s: %w", in.PostShortID, err)
	}
	defer func() {
		if err := scope.Release(ctx); err != nil {
			logger.Warn("release post scope", zap.String("post", in.PostShortID), zap.Error(err))
		}
	}()

	post := scope.Post()
	var (
		out   Outcome
		added []webmention.Mention
	)
	if in.Deleted {
		out.Deleted = Tombstone(post, in.Request.Source)
	} else {
		added = m.Build(in.Request.Source, in.Entry, in.RefTypes)
		out.Superseded = Supersede(post, added[0].Source, added[0].Permalink)
		post.Mentions = append(post.Mentions, added...)
	}

	if err := scope.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("commit post %s: %w", in.PostShortID, err)
	}
	// Committed copies carry any ids the store assigned.
	out.Post = scope.Post().Clone()
	out.Added = out.Post.Mentions[len(out.Post.Mentions)-len(added):]
	logger.Info("merged mentions",
		zap.String("post", out.Post.ShortID),
		zap.Int("added", len(out.Added)),
		zap.Int("superseded", len(out.Superseded)),
		zap.Int("deleted", len(out.Deleted)),
	)

	m.afterCommit(ctx, in, out)
	return out, nil
}

func (m *Merger) afterCommit(ctx context.Context, in Input, out Outcome) {
	logger := logging.FromContext(ctx)

	if m.recent != nil {
		var err error
		if in.Deleted {
			err = m.recent.Forget(ctx, out.Post.ShortID, in.Request.Source)
		} else {
			err = m.recent.Record(ctx, out.Post, out.Added)
		}
		if err != nil {
			logger.Warn("refresh recent mentions", zap.Error(err))
		}
	}

	if m.hook != nil {
		evt := webmention.Event{
			Name:     webmention.EventNewMentions,
			Post:     out.Post,
			Mentions: out.Added,
			Origin:   in.Request,
		}
		if in.Deleted {
			evt.Name = webmention.EventDeletedMentions
			evt.Mentions = out.Deleted
		}
		m.hook.Notify(ctx, evt)
	}
}

// Build creates one active mention per reftype, sharing everything else.
func (m *Merger) Build(source string, entry webmention.Entry, reftypes []webmention.RefType) []webmention.Mention {
	if len(reftypes) == 0 {
		reftypes = []webmention.RefType{webmention.RefReference}
	}
	content := entry.ContentHTML
	if m.sanitizer != nil {
		content = m.sanitizer.HTML(content)
	}
	permalink := entry.Permalink
	if permalink == "" {
		permalink = source
	}
	received := m.clock.Now()

	out := make([]webmention.Mention, 0, len(reftypes))
	for _, rt := range reftypes {
		mention := webmention.Mention{
			Source:         source,
			Permalink:      permalink,
			Content:        content,
			RefType:        rt,
			PublishedNaive: entry.PublishedNaive,
			State:          webmention.MentionActive,
			Received:       received,
		}
		if entry.Author != nil {
			mention.AuthorName = entry.Author.Name
			mention.AuthorURL = entry.Author.URL
			mention.AuthorPhoto = entry.Author.Photo
		}
		if entry.Published != nil {
			ts := *entry.Published
			mention.Published = &ts
		}
		out = append(out, mention)
	}
	return out
}

// Supersede marks active mentions with the same (source, permalink) identity
// as superseded and returns them.
func Supersede(post *webmention.Post, source, permalink string) []webmention.Mention {
	var out []webmention.Mention
	for i := range post.Mentions {
		existing := &post.Mentions[i]
		if existing.Active() && existing.Source == source && existing.Permalink == permalink {
			existing.State = webmention.MentionSuperseded
			out = append(out, *existing)
		}
	}
	return out
}

// Tombstone marks active mentions whose source or permalink equals source as
// deleted and returns them.
func Tombstone(post *webmention.Post, source string) []webmention.Mention {
	var out []webmention.Mention
	for i := range post.Mentions {
		existing := &post.Mentions[i]
		if existing.Active() && (existing.Source == source || existing.Permalink == source) {
			existing.State = webmention.MentionDeleted
			out = append(out, *existing)
		}
	}
	return out
}
