// Package notify delivers committed mention changes to a publisher.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// Payload is the message published for one hook event.
type Payload struct {
	Event          string               `json:"event"`
	PostShortID    string               `json:"post_short_id"`
	PostPermalink  string               `json:"post_permalink"`
	Source         string               `json:"source"`
	Target         string               `json:"target"`
	Mentions       []webmention.Mention `json:"mentions"`
	ActiveMentions int                  `json:"active_mentions"`
	Timestamp      time.Time            `json:"timestamp"`
}

// Config controls hook delivery.
type Config struct {
	Topic   string
	Timeout time.Duration
}

// Hook publishes events and only logs delivery failures.
type Hook struct {
	cfg       Config
	publisher webmention.Publisher
	clock     webmention.Clock
	logger    *zap.Logger
}

// New constructs a Hook.
func New(cfg Config, publisher webmention.Publisher, clock webmention.Clock, logger *zap.Logger) *Hook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hook{cfg: cfg, publisher: publisher, clock: clock, logger: logger}
}

// Notify publishes evt. It never fails the caller.
func (h *Hook) Notify(ctx context.Context, evt webmention.Event) {
	logger := h.logger.With(zap.String("source", evt.Origin.Source))

	payload := Payload{
		Event:          evt.Name,
		PostShortID:    evt.Post.ShortID,
		PostPermalink:  evt.Post.Permalink,
		Source:         evt.Origin.Source,
		Target:         evt.Origin.Target,
		Mentions:       evt.Mentions,
		ActiveMentions: len(evt.Post.ActiveMentions()),
		Timestamp:      h.clock.Now(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.Timeout)
	defer cancel()
	id, err := h.publisher.Publish(pubCtx, h.cfg.Topic, payload)
	if err != nil {
		logger.Warn("notification hook failed",
			zap.String("event", evt.Name),
			zap.String("post", evt.Post.ShortID),
			zap.Error(err),
		)
		return
	}
	logger.Debug("notification published",
		zap.String("event", evt.Name),
		zap.String("post", evt.Post.ShortID),
		zap.String("message_id", id),
	)
}
