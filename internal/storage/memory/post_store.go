package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// PostStore is an in-memory post repository with per-post exclusive scopes.
// Readers always see committed copies.
type PostStore struct {
	mu            sync.RWMutex
	posts         map[string]webmention.Post
	locks         map[string]chan struct{}
	nextPostID    int64
	nextMentionID int64
}

// NewPostStore constructs a PostStore seeded with posts.
func NewPostStore(posts ...webmention.Post) *PostStore {
	s := &PostStore{
		posts: make(map[string]webmention.Post),
		locks: make(map[string]chan struct{}),
	}
	for _, p := range posts {
		s.Put(p)
	}
	return s
}

// Put adds or replaces a post, assigning ids where they are missing.
func (s *PostStore) Put(post webmention.Post) webmention.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	post = post.Clone()
	if post.ID == 0 {
		s.nextPostID++
		post.ID = s.nextPostID
	} else if post.ID > s.nextPostID {
		s.nextPostID = post.ID
	}
	s.assignMentionIDs(&post)
	s.posts[post.ShortID] = post
	return post.Clone()
}

// FindByPath returns the post with the given canonical path.
func (s *PostStore) FindByPath(_ context.Context, path string) (webmention.Post, error) {
	return s.find(func(p webmention.Post) bool { return p.Path == path })
}

// FindByDate returns the index-th post of a type published on a day.
func (s *PostStore) FindByDate(_ context.Context, postType string, year, month, day, index int) (webmention.Post, error) {
	return s.find(func(p webmention.Post) bool {
		published := p.Published.UTC()
		return p.Type == postType &&
			published.Year() == year &&
			int(published.Month()) == month &&
			published.Day() == day &&
			p.DateIndex == index
	})
}

// FindByID returns the post with the database id.
func (s *PostStore) FindByID(_ context.Context, id int64) (webmention.Post, error) {
	return s.find(func(p webmention.Post) bool { return p.ID == id })
}

// FindByShortID returns the post with the short id.
func (s *PostStore) FindByShortID(_ context.Context, shortID string) (webmention.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[shortID]
	if !ok {
		return webmention.Post{}, webmention.ErrPostNotFound
	}
	return post.Clone(), nil
}

func (s *PostStore) find(match func(webmention.Post) bool) (webmention.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, post := range s.posts {
		if match(post) {
			return post.Clone(), nil
		}
	}
	return webmention.Post{}, webmention.ErrPostNotFound
}

// Acquire waits for exclusive access to the post or for ctx to end.
func (s *PostStore) Acquire(ctx context.Context, shortID string) (webmention.Scope, error) {
	lock := s.lockFor(shortID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire %s: %w", shortID, ctx.Err())
	}

	s.mu.RLock()
	post, ok := s.posts[shortID]
	s.mu.RUnlock()
	if !ok {
		<-lock
		return nil, webmention.ErrPostNotFound
	}
	working := post.Clone()
	return &postScope{store: s, lock: lock, post: &working}, nil
}

// Close implements webmention.Store.
func (s *PostStore) Close() error { return nil }

func (s *PostStore) lockFor(shortID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[shortID]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[shortID] = lock
	}
	return lock
}

func (s *PostStore) assignMentionIDs(post *webmention.Post) {
	for i := range post.Mentions {
		if post.Mentions[i].ID == 0 {
			s.nextMentionID++
			post.Mentions[i].ID = s.nextMentionID
		} else if post.Mentions[i].ID > s.nextMentionID {
			s.nextMentionID = post.Mentions[i].ID
		}
	}
}

var errScopeClosed = errors.New("post scope already closed")

type postScope struct {
	store *PostStore
	lock  chan struct{}
	post  *webmention.Post
	done  bool
}

func (sc *postScope) Post() *webmention.Post {
	return sc.post
}

func (sc *postScope) Commit(_ context.Context) error {
	if sc.done {
		return errScopeClosed
	}
	sc.store.mu.Lock()
	sc.store.assignMentionIDs(sc.post)
	sc.store.posts[sc.post.ShortID] = sc.post.Clone()
	sc.store.mu.Unlock()
	sc.close()
	return nil
}

func (sc *postScope) Release(_ context.Context) error {
	if !sc.done {
		sc.close()
	}
	return nil
}

func (sc *postScope) close() {
	sc.done = true
	<-sc.lock
}
