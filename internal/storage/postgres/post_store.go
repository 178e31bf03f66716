// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webmention-receiver/internal/webmention"
)

// Schema creates the tables the PostStore reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS posts (
	id              BIGSERIAL PRIMARY KEY,
	short_id        TEXT NOT NULL UNIQUE,
	post_type       TEXT NOT NULL DEFAULT '',
	path            TEXT NOT NULL DEFAULT '',
	published       TIMESTAMPTZ NOT NULL DEFAULT now(),
	date_index      INTEGER NOT NULL DEFAULT 0,
	permalink       TEXT NOT NULL DEFAULT '',
	short_permalink TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS posts_path_idx ON posts (path);
CREATE TABLE IF NOT EXISTS mentions (
	id              BIGSERIAL PRIMARY KEY,
	post_id         BIGINT NOT NULL REFERENCES posts (id),
	source          TEXT NOT NULL,
	permalink       TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	reftype         TEXT NOT NULL,
	author_name     TEXT NOT NULL DEFAULT '',
	author_url      TEXT NOT NULL DEFAULT '',
	author_photo    TEXT NOT NULL DEFAULT '',
	published       TIMESTAMPTZ,
	published_naive BOOLEAN NOT NULL DEFAULT FALSE,
	state           TEXT NOT NULL,
	received        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS mentions_post_idx ON mentions (post_id, id);
`

const postColumns = `id, short_id, post_type, path, published, date_index, permalink, short_permalink`

const mentionColumns = `id, source, permalink, content, reftype, author_name, author_url, author_photo,
	published, published_naive, state, received`

// PostStoreConfig controls the Postgres connection pool.
type PostStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

type pool interface {
	querier
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// PostStore reads posts and their mentions from Postgres. Acquire holds a row
// lock on the post for the lifetime of the scope.
type PostStore struct {
	pool pool
}

// NewPostStore creates a Postgres-backed PostStore using the provided config.
func NewPostStore(ctx context.Context, cfg PostStoreConfig) (*PostStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostStore{pool: p}, nil
}

// NewPostStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPostStoreWithPool(p pool) (*PostStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostStore{pool: p}, nil
}

// Migrate applies Schema.
func (s *PostStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *PostStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// FindByPath returns the post with the given canonical path.
func (s *PostStore) FindByPath(ctx context.Context, path string) (webmention.Post, error) {
	return s.findOne(ctx, "path = $1", path)
}

// FindByDate returns the index-th post of type on the given day.
func (s *PostStore) FindByDate(ctx context.Context, postType string, year, month, day, index int) (webmention.Post, error) {
	start := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return s.findOne(ctx,
		"post_type = $1 AND published >= $2 AND published < $3 AND date_index = $4",
		postType, start, start.AddDate(0, 0, 1), index,
	)
}

// FindByID returns the post with the given database id.
func (s *PostStore) FindByID(ctx context.Context, id int64) (webmention.Post, error) {
	return s.findOne(ctx, "id = $1", id)
}

// FindByShortID returns the post with the given short id.
func (s *PostStore) FindByShortID(ctx context.Context, shortID string) (webmention.Post, error) {
	return s.findOne(ctx, "short_id = $1", shortID)
}

func (s *PostStore) findOne(ctx context.Context, where string, args ...any) (webmention.Post, error) {
	query := fmt.Sprintf("SELECT %s FROM posts WHERE %s LIMIT 1", postColumns, where)
	post, err := scanPost(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return webmention.Post{}, err
	}
	post.Mentions, err = loadMentions(ctx, s.pool, post.ID)
	if err != nil {
		return webmention.Post{}, err
	}
	return post, nil
}

// Acquire begins a transaction and locks the post row until the scope is released.
func (s *PostStore) Acquire(ctx context.Context, shortID string) (webmention.Scope, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	query := fmt.Sprintf("SELECT %s FROM posts WHERE short_id = $1 FOR UPDATE", postColumns)
	post, err := scanPost(tx.QueryRow(ctx, query, shortID))
	if err == nil {
		post.Mentions, err = loadMentions(ctx, tx, post.ID)
	}
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
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
	tx       pgx.Tx
	post     webmention.Post
	states   map[int64]webmention.MentionState
	finished bool
}

func (s *postScope) Post() *webmention.Post {
	return &s.post
}

// Commit inserts new mentions, persists state changes and commits.
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
		if _, err := s.tx.Exec(ctx, "UPDATE mentions SET state = $1 WHERE id = $2", string(m.State), m.ID); err != nil {
			return fmt.Errorf("update mention %d: %w", m.ID, err)
		}
	}
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.finished = true
	return nil
}

// Release rolls back unless Commit succeeded.
func (s *postScope) Release(ctx context.Context) error {
	if s.finished {
		return nil
	}
	s.finished = true
	if err := s.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func insertMention(ctx context.Context, q querier, postID int64, m webmention.Mention) (int64, error) {
	var published pgtype.Timestamptz
	if m.Published != nil {
		published = pgtype.Timestamptz{Time: *m.Published, Valid: true}
	}
	var id int64
	err := q.QueryRow(ctx, `
INSERT INTO mentions (
	post_id, source, permalink, content, reftype, author_name, author_url, author_photo,
	published, published_naive, state, received
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
RETURNING id`,
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
		m.Received,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert mention: %w", err)
	}
	return id, nil
}

func scanPost(row pgx.Row) (webmention.Post, error) {
	var post webmention.Post
	err := row.Scan(
		&post.ID,
		&post.ShortID,
		&post.Type,
		&post.Path,
		&post.Published,
		&post.DateIndex,
		&post.Permalink,
		&post.ShortPermalink,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return webmention.Post{}, webmention.ErrPostNotFound
		}
		return webmention.Post{}, fmt.Errorf("scan post: %w", err)
	}
	return post, nil
}

func loadMentions(ctx context.Context, q querier, postID int64) ([]webmention.Mention, error) {
	query := fmt.Sprintf("SELECT %s FROM mentions WHERE post_id = $1 ORDER BY id", mentionColumns)
	rows, err := q.Query(ctx, query, postID)
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
			published pgtype.Timestamptz
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
			&m.Received,
		)
		if err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		m.RefType = webmention.RefType(reftype)
		m.State = webmention.MentionState(state)
		if published.Valid {
			ts := published.Time.UTC()
			m.Published = &ts
		}
		m.Received = m.Received.UTC()
		mentions = append(mentions, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mentions: %w", err)
	}
	return mentions, nil
}
