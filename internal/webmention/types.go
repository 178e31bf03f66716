package webmention

import (
	"net/http"
	"time"
)

// RefType is the relationship a mention expresses toward its target.
type RefType string

// Supported reference types.
const (
	RefReply     RefType = "reply"
	RefLike      RefType = "like"
	RefRepost    RefType = "repost"
	RefBookmark  RefType = "bookmark"
	RefReference RefType = "reference"
)

// refTypeOrder fixes the order mentions are built in when a source fans out.
var refTypeOrder = map[RefType]int{
	RefReply:     0,
	RefLike:      1,
	RefRepost:    2,
	RefBookmark:  3,
	RefReference: 4,
}

// Rank orders reftypes deterministically.
func (r RefType) Rank() int {
	if rank, ok := refTypeOrder[r]; ok {
		return rank
	}
	return len(refTypeOrder)
}

// MentionState is the lifecycle state of a persisted Mention. Mentions are never
// removed; they move from active to superseded or deleted.
type MentionState string

// Mention lifecycle states.
const (
	MentionActive     MentionState = "active"
	MentionSuperseded MentionState = "superseded"
	MentionDeleted    MentionState = "deleted"
)

// Request is an accepted webmention notification.
type Request struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Callback string `json:"callback,omitempty"`
}

// Author identifies who wrote a source entry. Every field is optional.
type Author struct {
	Name  string `json:"name,omitempty"`
	URL   string `json:"url,omitempty"`
	Photo string `json:"photo,omitempty"`
}

// IsZero reports whether no author field is set.
func (a Author) IsZero() bool {
	return a.Name == "" && a.URL == "" && a.Photo == ""
}

// Reference is a url the source entry points at, with the raw relation found in
// the markup.
type Reference struct {
	URL     string
	RefType RefType
}

// Entry is the normalized h-entry extracted from a source document.
// PublishedNaive is set when the published string carried no zone offset; the
// time is then the wall clock as written, in UTC.
type Entry struct {
	Author         *Author
	Permalink      string
	Published      *time.Time
	PublishedNaive bool
	References     []Reference
	Title          *string
	ContentHTML    string
	ContentText    string
}

// Mention is one mention record attached to a post.
type Mention struct {
	ID             int64        `json:"id"`
	Source         string       `json:"source"`
	Permalink      string       `json:"permalink"`
	Content        string       `json:"content"`
	RefType        RefType      `json:"reftype"`
	AuthorName     string       `json:"author_name,omitempty"`
	AuthorURL      string       `json:"author_url,omitempty"`
	AuthorPhoto    string       `json:"author_photo,omitempty"`
	Published      *time.Time   `json:"published,omitempty"`
	PublishedNaive bool         `json:"published_naive,omitempty"`
	State          MentionState `json:"state"`
	Received       time.Time    `json:"received"`
}

// Active reports whether the mention is neither superseded nor deleted.
func (m Mention) Active() bool {
	return m.State == MentionActive
}

// Deleted reports the tombstone view of the lifecycle state.
func (m Mention) Deleted() bool {
	return !m.Active()
}

// Post is the slice of a blog post the receiver needs.
type Post struct {
	ID             int64     `json:"id"`
	ShortID        string    `json:"short_id"`
	Type           string    `json:"type"`
	Path           string    `json:"path"`
	Published      time.Time `json:"published"`
	DateIndex      int       `json:"date_index"`
	Permalink      string    `json:"permalink"`
	ShortPermalink string    `json:"short_permalink"`
	Mentions       []Mention `json:"mentions"`
}

// Clone returns a deep copy of the post so callers cannot mutate shared state.
func (p Post) Clone() Post {
	cp := p
	if p.Mentions != nil {
		cp.Mentions = make([]Mention, len(p.Mentions))
		for i, m := range p.Mentions {
			if m.Published != nil {
				ts := *m.Published
				m.Published = &ts
			}
			cp.Mentions[i] = m
		}
	}
	return cp
}

// ActiveMentions returns the mentions still in the active state.
func (p Post) ActiveMentions() []Mention {
	out := make([]Mention, 0, len(p.Mentions))
	for _, m := range p.Mentions {
		if m.Active() {
			out = append(out, m)
		}
	}
	return out
}

// TaskState is a step of the processing state machine.
type TaskState string

// Task states. Succeeded and Rejected are terminal.
const (
	TaskReceived    TaskState = "received"
	TaskResolving   TaskState = "resolving"
	TaskVerifying   TaskState = "verifying"
	TaskExtracting  TaskState = "extracting"
	TaskClassifying TaskState = "classifying"
	TaskMerging     TaskState = "merging"
	TaskNotified    TaskState = "notified"
	TaskSucceeded   TaskState = "succeeded"
	TaskRejected    TaskState = "rejected"
)

// Terminal reports whether no further transitions follow.
func (s TaskState) Terminal() bool {
	return s == TaskSucceeded || s == TaskRejected
}

// Task is the queued unit of work for one accepted request.
type Task struct {
	ID       string    `json:"id"`
	Request  Request   `json:"request"`
	Received time.Time `json:"received_at"`
}

// TaskRecord is the observable status of a task.
type TaskRecord struct {
	ID       string    `json:"id"`
	Request  Request   `json:"request"`
	State    TaskState `json:"state"`
	Status   int       `json:"status,omitempty"`
	Reason   Reason    `json:"reason,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	PostID   string    `json:"post_id,omitempty"`
	Mentions int       `json:"mentions,omitempty"`
	Received time.Time `json:"received_at"`
	Updated  time.Time `json:"updated_at"`
}

// FetchRequest describes one outbound HTTP call.
//   - Form is sent url-encoded when Method is POST.
//   - MaxRedirects caps redirect hops; negative means the client default.
//   - MaxBodySize caps bytes read from the body; zero means the client default.
type FetchRequest struct {
	Method       string
	URL          string
	Form         map[string]string
	MaxRedirects int
	MaxBodySize  int
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Event is passed to the notification hook after a committed merge.
type Event struct {
	Name     string    `json:"name"`
	Post     Post      `json:"post"`
	Mentions []Mention `json:"mentions"`
	Origin   Request   `json:"origin"`
}

// Hook event names.
const (
	EventNewMentions     = "new_mentions"
	EventDeletedMentions = "deleted_mentions"
)
