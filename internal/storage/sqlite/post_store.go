// Package sqlite provides an embedded SQLite post store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// Schema creates the tables the PostStore reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS posts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	short_id        TEXT NOT NULL UNIQUE,
	post_type       TEXT NOT NULL DEFAULT '',
	path            TEXT NOT NULL DEFAULT '',
	published       TEXT NOT NULL,
	date_index      INTEGER NOT NULL DEFAULT 0,
	permalink       TEXT NOT NULL DEFAULT '',
	short_permalink TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS posts_path_idx ON posts (path);
CREATE TABLE IF NOT EXISTS mentions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id         INTEGER NOT NULL REFERENCES posts (id),
	source          TEXT NOT NULL,
	permalink       TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	reftype         TEXT NOT NULL,
	author_name     TEXT NOT NULL DEFAULT '',
	author_url      TEXT NOT NULL DEFAULT '',
	author_photo    TEXT NOT NULL DEFAULT '',
	published       TEXT,
	published_naive INTEGER NOT NULL DEFAULT 0,
	state           TEXT NOT NULL,
	received        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS mentions_post_idx ON mentions (post_id, id);
`

const (
	postColumns    = `id, short_id, post_type, path, published, date_index, permalink, short_permalink`
	mentionColumns = `id, source, permalink, content, reftype, author_name, author_url, author_photo,
	published, published_naive, state, received`
)

// timeLayout is fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Config controls the SQLite database.
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostStore keeps posts in a single-connection SQLite database. The single
// connection makes every Acquire scope exclusive across the whole store.
type PostStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at cfg.Path and applies Schema.
func Open(ctx context.Context, cfg Config) (*PostStore, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostStore{db: db}, nil
}

// Close closes the database.
func (s *PostStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// InsertPost stores a post and returns it with its assigned id.
func (s *PostStore) InsertPost(ctx context.Context, post webmention.Post) (webmention.Post, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (short_id, post_type, path, published, date_index, permalink, short_permalink)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		post.ShortID,
		post.Type,
		post.Path,
		post.Published.UTC().Format(timeLayout),
		post.DateIndex,
		post.Permalink,
		post.ShortPermalink,
	)
	if err != nil {
		return webmention.Post{}, fmt.Errorf("insert post: %w", err)
	}
	post.ID, err = res.LastInsertId()
	if err != nil {
		return webmention.Post{}, fmt.Errorf("post id: %w", err)
	}
	post.Mentions = nil
	return post, nil
}

// FindByPath returns the post with the given canonical path.
func (s *PostStore) FindByPath(ctx context.Context, path string) (webmention.Post, error) {
	return s.findOne(ctx, "path = ?", path)
}

// FindByDate returns the index-th post of type on the given day.
func (s *PostStore) FindByDate(ctx context.Context, postType string, year, month, day, index int) (webmention.Post, error) {
	start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return s.findOne(ctx,
		"post_type = ? AND published >= ? AND published < ? AND date_index = ?",
		postType, start.Format(timeLayout), start.AddDate(0, 0, 1).Format(timeLayout), index,
	)
}

// FindByID returns the post with the given database id.
func (s *PostStore) FindByID(ctx context.Context, id int64) (webmention.Post, error) {
	return s.findOne(ctx, "id = ?", id)
}

// FindByShortID returns the post with the given short id.
func (s *PostStore) FindByShortID(ctx context.Context, shortID string) (webmention.Post, error) {
	return s.findOne(ctx, "short_id = ?", shortID)
}

func (s *PostStore) findOne(ctx context.Context, where string, args ...any) (webmention.Post, error) {
	return loadPost(ctx, s.db, where, args...)
}

// Acquire begins a transaction holding the only connection until the scope
// is released.
func (s *PostStore) Acquire(ctx context.Context, shortID string) (webmention.Scope, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	post, err := loadPost(ctx, tx, "short_id = ?", shortID)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return nil, errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return nil, err
	}
	states := make(map[int64]webmention.MentionState, len(post.Mentions))
	for _, m := range post.Mentions {
		states[m.ID] = m.State
	}
	return &postScope{tx: tx, post: post, states: states}, nil
}

type postScope struct {
	tx       *sql.Tx
	post     webmention.Post
	states   map[int64]webmention.MentionState
	finished bool
}

func (s *postScope) Post() *webmention.Post {
	return &s.post
}

func (s *postScope) Commit(ctx context.Context) error {
	if s.finished {
		return fmt.Errorf("scope already finished")
	}
	for i := range s.post.Mentions {
		m := &s.post.Mentions[i]
		if m.ID == 0 {
			id, err := insertMention(ctx, s.tx, s.post.ID, *m)
			if err != nil {
				return err
			}
			m.ID = id
			continue
		}
		if prev, ok := s.states[m.ID]; ok && prev == m.State {
			continue
		}
		if _, err := s.tx.ExecContext(ctx, "UPDATE mentions SET state = ? WHERE id = ?", string(m.State), m.ID); err != nil {
			return fmt.Errorf("update mention %d: %w", m.ID, err)
		}
	}
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.finished = true
	return nil
}

func (s *postScope) Release(context.Context) error {
	if s.finished {
		return nil
	}
	s.finished = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func insertMention(ctx context.Context, q querier, postID int64, m webmention.Mention) (int64, error) {
	var published sql.NullString
	if m.Published != nil {
		published = sql.NullString{String: m.Published.UTC().Format(timeLayout), Valid: true}
	}
	res, err := q.ExecContext(ctx, `
INSERT INTO mentions (
	post_id, source, permalink, content, reftype, author_name, author_url, author_photo,
	published, published_naive, state, received
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		postID,
		m.Source,
		m.Permalink,
		m.Content,
		string(m.RefType),
		m.AuthorName,
		m.AuthorURL,
		m.AuthorPhoto,
		published,
		m.PublishedNaive,
		string(m.State),
		m.Received.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("insert mention: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("mention id: %w", err)
	}
	return id, nil
}

func loadPost(ctx context.Context, q querier, where string, args ...any) (webmention.Post, error) {
	var (
		post      webmention.Post
		published string
	)
	query := fmt.Sprintf("SELECT %s FROM posts WHERE %s LIMIT 1", postColumns, where)
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&post.ID,
		&post.ShortID,
		&post.Type,
		&post.Path,
		&published,
		&post.DateIndex,
		&post.Permalink,
		&post.ShortPermalink,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return webmention.Post{}, webmention.ErrPostNotFound
		}
		return webmention.Post{}, fmt.Errorf("scan post: %w", err)
	}
	if post.Published, err = time.Parse(timeLayout, published); err != nil {
		return webmention.Post{}, fmt.Errorf("parse post published: %w", err)
	}
	post.Mentions, err = loadMentions(ctx, q, post.ID)
	if err != nil {
		return webmention.Post{}, err
	}
	return post, nil
}

func loadMentions(ctx context.Context, q querier, postID int64) ([]webmention.Mention, error) {
	query := fmt.Sprintf("SELECT %s FROM mentions WHERE post_id = ? ORDER BY id", mentionColumns)
	rows, err := q.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("query mentions: %w", err)
	}
	defer rows.Close()

	var mentions []webmention.Mention
	for rows.Next() {
		var (
			m         webmention.Mention
			reftype   string
			state     string
			published sql.NullString
			received  string
		)
		err := rows.Scan(
			&m.ID,
			&m.Source,
			&m.Permalink,
			&m.Content,
			&reftype,
			&m.AuthorName,
			&m.AuthorURL,
			&m.AuthorPhoto,
			&published,
			&m.PublishedNaive,
			&state,
			&received,
		)
		if err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		m.RefType = webmention.RefType(reftype)
		m.State = webmention.MentionState(state)
		if published.Valid {
			ts, err := time.Parse(timeLayout, published.String)
			if err != nil {
				return nil, fmt.Errorf("parse mention published: %w", err)
			}
			m.Published = &ts
		}
		if m.Received, err = time.Parse(timeLayout, received); err != nil {
			return nil, fmt.Errorf("parse mention received: %w", err)
		}
		mentions = append(mentions, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mentions: %w", err)
	}
	return mentions, nil
}
