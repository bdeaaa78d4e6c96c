// Package postgres implements ragcore.Store using PostgreSQL with tsvector
// full-text search over chunks and graph entities.
//
// New accepts an externally-owned *pgxpool.Pool; the caller creates and
// closes the pool. Open creates a pool from a DSN that the Store owns.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/ragcore"
)

// Store implements ragcore.Store backed by PostgreSQL.
type Store struct {
	pool     *pgxpool.Pool
	cfg      pgConfig
	ownsPool bool
}

type pgConfig struct {
	textSearchConfig string
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

var identRe = regexp.MustCompile(`^[a-z_]+$`)

// WithTextSearchConfig sets the text search configuration used for
// tsvector indexes and queries (default "english"). Invalid names are
// ignored. Only affects index creation for new tables.
func WithTextSearchConfig(name string) Option {
	return func(c *pgConfig) {
		if identRe.MatchString(name) {
			c.textSearchConfig = name
		}
	}
}

var _ ragcore.Store = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	cfg := pgConfig{textSearchConfig: "english"}
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// Open connects to dsn, initializes the schema, and returns a Store that
// closes its pool on Close.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s := New(pool, opts...)
	s.ownsPool = true
	if err := s.Init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Init creates all required tables and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	ts := s.cfg.textSearchConfig
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			blocks JSONB,
			name TEXT NOT NULL DEFAULT '',
			tool_call_id TEXT NOT NULL DEFAULT '',
			tool_calls JSONB,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, seq)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			chunk_index INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks(document_id)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS chunks_fts_idx ON chunks USING gin(to_tsvector('%s', content))`, ts),

		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL
		)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS entities_fts_idx ON entities USING gin(to_tsvector('%s', name || ' ' || description))`, ts),
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// --- Messages ---

// SaveMessage appends msg to a conversation. A message whose ID is already
// stored is left untouched.
func (s *Store) SaveMessage(ctx context.Context, conversationID string, msg ragcore.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = ragcore.NewID()
	}
	blocks, err := jsonOrNil(msg.Blocks, len(msg.Blocks) > 0)
	if err != nil {
		return fmt.Errorf("postgres: marshal blocks: %w", err)
	}
	calls, err := jsonOrNil(msg.ToolCalls, len(msg.ToolCalls) > 0)
	if err != nil {
		return fmt.Errorf("postgres: marshal tool calls: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, blocks, name, tool_call_id, tool_calls, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8::jsonb, $9)
		 ON CONFLICT (id) DO NOTHING`,
		msg.ID, conversationID, msg.Role, msg.Content, blocks, msg.Name, msg.ToolCallID, calls, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("postgres: save message: %w", err)
	}
	return nil
}

// Messages returns the most recent limit messages of a conversation,
// oldest first. limit <= 0 returns the whole conversation.
func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]ragcore.ChatMessage, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, blocks, name, tool_call_id, tool_calls
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY seq DESC
		 LIMIT $2`,
		conversationID, lim)
	if err != nil {
		return nil, fmt.Errorf("postgres: get messages: %w", err)
	}
	defer rows.Close()

	var messages []ragcore.ChatMessage
	for rows.Next() {
		var m ragcore.ChatMessage
		var blocks, calls []byte
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &blocks, &m.Name, &m.ToolCallID, &calls); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		if blocks != nil {
			if err := json.Unmarshal(blocks, &m.Blocks); err != nil {
				return nil, fmt.Errorf("postgres: decode blocks of %s: %w", m.ID, err)
			}
		}
		if calls != nil {
			if err := json.Unmarshal(calls, &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("postgres: decode tool calls of %s: %w", m.ID, err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate messages: %w", err)
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// --- Documents + Chunks ---

// StoreDocument upserts doc and replaces its chunks in one transaction.
func (s *Store) StoreDocument(ctx context.Context, doc ragcore.Document, chunks []ragcore.Chunk) error {
	if doc.CreatedAt == 0 {
		doc.CreatedAt = time.Now().Unix()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, title, source, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title,
		   source = EXCLUDED.source,
		   content = EXCLUDED.content`,
		doc.ID, doc.Title, doc.Source, doc.Content, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert document: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, doc.ID); err != nil {
		return fmt.Errorf("postgres: delete chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = ragcore.NewID()
		}
		batch.Queue(
			`INSERT INTO chunks (id, document_id, content, chunk_index) VALUES ($1, $2, $3, $4)`,
			c.ID, doc.ID, c.Content, c.ChunkIndex)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("postgres: insert chunks: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// GetDocument returns the document with id, or ragcore.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (ragcore.Document, error) {
	var d ragcore.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, source, content, created_at FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.Title, &d.Source, &d.Content, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ragcore.Document{}, fmt.Errorf("postgres: document %s: %w", id, ragcore.ErrNotFound)
	}
	if err != nil {
		return ragcore.Document{}, fmt.Errorf("postgres: get document: %w", err)
	}
	return d, nil
}

// SearchChunks performs full-text keyword search over chunks. Any query
// word may match; ts_rank orders the results.
func (s *Store) SearchChunks(ctx context.Context, query string, topK int) ([]ragcore.ChunkSearchResult, error) {
	ts := s.cfg.textSearchConfig
	q := fmt.Sprintf(`WITH q AS (SELECT %s AS query)
		SELECT c.id, c.document_id, c.content, c.chunk_index, d.title, d.source,
		       ts_rank(to_tsvector('%s', c.content), q.query) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id, q
		WHERE to_tsvector('%s', c.content) @@ q.query
		ORDER BY score DESC
		LIMIT $2`, anyWordQuery(ts), ts, ts)

	rows, err := s.pool.Query(ctx, q, query, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search chunks: %w", err)
	}
	defer rows.Close()

	var results []ragcore.ChunkSearchResult
	for rows.Next() {
		var r ragcore.ChunkSearchResult
		var index int
		var source string
		var score float32
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Text, &index, &r.Title, &source, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		r.Score = float64(score)
		r.Metadata = map[string]any{"source": source, "chunk_index": index}
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- Knowledge graph ---

// StoreEntities upserts graph entities.
func (s *Store) StoreEntities(ctx context.Context, entities []ragcore.Entity) error {
	batch := &pgx.Batch{}
	for _, e := range entities {
		if e.ID == "" {
			e.ID = ragcore.NewID()
		}
		if e.Kind == "" {
			e.Kind = "entity"
		}
		batch.Queue(
			`INSERT INTO entities (id, kind, name, description) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET
			   kind = EXCLUDED.kind,
			   name = EXCLUDED.name,
			   description = EXCLUDED.description`,
			e.ID, e.Kind, e.Name, e.Description)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres: store entities: %w", err)
	}
	return nil
}

// SearchEntities performs full-text search over entity names and
// descriptions.
func (s *Store) SearchEntities(ctx context.Context, query string, topK int) ([]ragcore.GraphSearchResult, error) {
	ts := s.cfg.textSearchConfig
	q := fmt.Sprintf(`WITH q AS (SELECT %s AS query)
		SELECT e.kind, e.name, e.description,
		       ts_rank(to_tsvector('%s', e.name || ' ' || e.description), q.query) AS score
		FROM entities e, q
		WHERE to_tsvector('%s', e.name || ' ' || e.description) @@ q.query
		ORDER BY score DESC
		LIMIT $2`, anyWordQuery(ts), ts, ts)

	rows, err := s.pool.Query(ctx, q, query, topK)
	if err != nil {
		return nil, fmt.Errorf("postgres: search entities: %w", err)
	}
	defer rows.Close()

	var results []ragcore.GraphSearchResult
	for rows.Next() {
		var r ragcore.GraphSearchResult
		var score float32
		if err := rows.Scan(&r.Kind, &r.Name, &r.Description, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan entity: %w", err)
		}
		r.Score = float64(score)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Close closes the pool when the Store was created by Open. A Store built
// with New leaves the caller's pool open.
func (s *Store) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

// anyWordQuery builds a tsquery expression from $1 that matches documents
// containing any of its words, rather than all of them as plainto_tsquery
// does.
func anyWordQuery(ts string) string {
	return fmt.Sprintf(`NULLIF(replace(plainto_tsquery('%s', $1)::text, ' & ', ' | '), '')::tsquery`, ts)
}

func jsonOrNil(v any, present bool) (*string, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := string(data)
	return &out, nil
}
