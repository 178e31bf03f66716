package webmention

import (
	"context"
	"errors"
	"time"
)

// ErrPostNotFound is returned by repositories when no post matches a lookup.
var ErrPostNotFound = errors.New("post not found")

// ErrTaskNotFound is returned by task stores for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// PostRepository resolves posts by the identities the site exposes.
type PostRepository interface {
	FindByPath(ctx context.Context, path string) (Post, error)
	FindByDate(ctx context.Context, postType string, year, month, day, index int) (Post, error)
	FindByID(ctx context.Context, id int64) (Post, error)
	FindByShortID(ctx context.Context, shortID string) (Post, error)
}

// Transactor hands out exclusive scopes keyed by post short id.
type Transactor interface {
	Acquire(ctx context.Context, shortID string) (Scope, error)
}

// Scope is exclusive, transactional access to one post. Holders must defer
// Release; Release rolls back unless Commit succeeded and is safe to call twice.
type Scope interface {
	Post() *Post
	Commit(ctx context.Context) error
	Release(ctx context.Context) error
}

// Store is a post repository that also provides scoped transactions.
type Store interface {
	PostRepository
	Transactor
	Close() error
}

// RecentMentions keeps the site-wide list of recently received mentions.
type RecentMentions interface {
	Record(ctx context.Context, post Post, mentions []Mention) error
	Forget(ctx context.Context, postShortID, source string) error
	List(ctx context.Context, limit int) ([]RecentMention, error)
}

// RecentMention pairs a mention with the post it was received on.
type RecentMention struct {
	PostShortID string  `json:"post_short_id"`
	Permalink   string  `json:"post_permalink"`
	Mention     Mention `json:"mention"`
}

// NotificationHook receives committed mention changes. Implementations must
// not block the pipeline on delivery failures.
type NotificationHook interface {
	Notify(ctx context.Context, evt Event)
}

// Fetcher performs outbound HTTP calls.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Queue provides enqueue/dequeue semantics for tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// TaskStore records task state transitions.
type TaskStore interface {
	CreateTask(ctx context.Context, task Task) error
	UpdateTask(ctx context.Context, record TaskRecord) error
	GetTask(ctx context.Context, taskID string) (TaskRecord, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes events to a topic or subject.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Limiter throttles outbound requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for archive keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs.
type IDGenerator interface {
	NewID() (string, error)
}
