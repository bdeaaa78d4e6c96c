// Package sqlite implements ragcore.Store using pure-Go SQLite. Chunk and
// entity search use FTS5. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/nevindra/ragcore"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and row counts. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements ragcore.Store backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ ragcore.Store = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection with SetMaxOpenConns(1) so that all
// goroutines serialize through one connection, avoiding SQLITE_BUSY from
// concurrent writers.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Open creates a Store at dbPath and initializes its schema.
func Open(ctx context.Context, dbPath string, opts ...StoreOption) (*Store, error) {
	s := New(dbPath, opts...)
	if err := s.Init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Init creates all required tables. It is safe to call more than once.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			blocks TEXT,
			name TEXT,
			tool_call_id TEXT,
			tool_calls TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			content TEXT NOT NULL,
			chunk_index INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(chunk_id UNINDEXED, content)`,
		`CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL
		)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(entity_id UNINDEXED, name, description)`,
	}
	for _, q := range ddl {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			s.logger.Error("sqlite: init failed", "error", err)
			return fmt.Errorf("create schema: %w", err)
		}
	}
	s.logger.Debug("sqlite: init ok", "duration", time.Since(start))
	return nil
}

// --- Messages ---

// SaveMessage appends msg to a conversation. Saving a message whose ID is
// already stored is a no-op, so replays after a partial failure do not
// duplicate history.
func (s *Store) SaveMessage(ctx context.Context, conversationID string, msg ragcore.ChatMessage) error {
	start := time.Now()
	if msg.ID == "" {
		msg.ID = ragcore.NewID()
	}
	s.logger.Debug("sqlite: save message", "id", msg.ID, "conversation_id", conversationID, "role", msg.Role)

	blocks, err := marshalNullable(msg.Blocks, len(msg.Blocks) > 0)
	if err != nil {
		return fmt.Errorf("marshal blocks: %w", err)
	}
	calls, err := marshalNullable(msg.ToolCalls, len(msg.ToolCalls) > 0)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, blocks, name, tool_call_id, tool_calls, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		msg.ID, conversationID, msg.Role, msg.Content, blocks, msg.Name, msg.ToolCallID, calls, time.Now().Unix(),
	)
	if err != nil {
		s.logger.Error("sqlite: save message failed", "id", msg.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save message: %w", err)
	}
	s.logger.Debug("sqlite: save message ok", "id", msg.ID, "duration", time.Since(start))
	return nil
}

// Messages returns the most recent limit messages of a conversation in
// the order they were saved. limit <= 0 returns the whole conversation.
func (s *Store) Messages(ctx context.Context, conversationID string, limit int) ([]ragcore.ChatMessage, error) {
	start := time.Now()
	s.logger.Debug("sqlite: get messages", "conversation_id", conversationID, "limit", limit)

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, blocks, name, tool_call_id, tool_calls
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY seq DESC
		 LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		s.logger.Error("sqlite: get messages failed", "conversation_id", conversationID, "error", err)
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []ragcore.ChatMessage
	for rows.Next() {
		var m ragcore.ChatMessage
		var blocks, name, toolCallID, calls sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &blocks, &name, &toolCallID, &calls); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Name = name.String
		m.ToolCallID = toolCallID.String
		if blocks.Valid {
			if err := json.Unmarshal([]byte(blocks.String), &m.Blocks); err != nil {
				return nil, fmt.Errorf("decode blocks of %s: %w", m.ID, err)
			}
		}
		if calls.Valid {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls of %s: %w", m.ID, err)
			}
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	s.logger.Debug("sqlite: get messages ok", "conversation_id", conversationID, "count", len(messages), "duration", time.Since(start))
	return messages, nil
}

// --- Documents + Chunks ---

// StoreDocument upserts doc and replaces its chunks.
func (s *Store) StoreDocument(ctx context.Context, doc ragcore.Document, chunks []ragcore.Chunk) error {
	start := time.Now()
	s.logger.Debug("sqlite: store document", "id", doc.ID, "title", doc.Title, "chunks", len(chunks))
	if doc.CreatedAt == 0 {
		doc.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO documents (id, title, source, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Source, doc.Content, doc.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: insert document failed", "id", doc.ID, "error", err)
		return fmt.Errorf("insert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks_fts WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`, doc.ID); err != nil {
		return fmt.Errorf("delete chunk fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	for _, c := range chunks {
		if c.ID == "" {
			c.ID = ragcore.NewID()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, content, chunk_index) VALUES (?, ?, ?, ?)`,
			c.ID, doc.ID, c.Content, c.ChunkIndex,
		); err != nil {
			s.logger.Error("sqlite: insert chunk failed", "chunk_id", c.ID, "doc_id", doc.ID, "error", err)
			return fmt.Errorf("insert chunk: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)`, c.ID, c.Content); err != nil {
			return fmt.Errorf("insert chunk fts: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: store document commit failed", "id", doc.ID, "error", err)
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: store document ok", "id", doc.ID, "chunks", len(chunks), "duration", time.Since(start))
	return nil
}

// GetDocument returns the document with id, or ragcore.ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (ragcore.Document, error) {
	var d ragcore.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, source, content, created_at FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Title, &d.Source, &d.Content, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ragcore.Document{}, fmt.Errorf("document %s: %w", id, ragcore.ErrNotFound)
	}
	if err != nil {
		return ragcore.Document{}, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

// SearchChunks performs full-text keyword search over document chunks using
// FTS5. Results are sorted by relevance.
func (s *Store) SearchChunks(ctx context.Context, query string, topK int) ([]ragcore.ChunkSearchResult, error) {
	start := time.Now()
	s.logger.Debug("sqlite: search chunks", "query", query, "top_k", topK)

	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.document_id, c.content, c.chunk_index, d.title, d.source, f.rank
		 FROM chunks_fts f
		 JOIN chunks c ON c.id = f.chunk_id
		 JOIN documents d ON d.id = c.document_id
		 WHERE chunks_fts MATCH ?
		 ORDER BY f.rank LIMIT ?`,
		match, topK,
	)
	if err != nil {
		s.logger.Error("sqlite: search chunks failed", "error", err)
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var results []ragcore.ChunkSearchResult
	for rows.Next() {
		var r ragcore.ChunkSearchResult
		var index int
		var source string
		var rank float64
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Text, &index, &r.Title, &source, &rank); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		r.Score = ftsScore(rank)
		r.Metadata = map[string]any{"source": source, "chunk_index": index}
		results = append(results, r)
	}
	s.logger.Debug("sqlite: search chunks ok", "returned", len(results), "duration", time.Since(start))
	return results, rows.Err()
}

// --- Knowledge graph ---

// StoreEntities upserts graph entities and refreshes their search index.
func (s *Store) StoreEntities(ctx context.Context, entities []ragcore.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, e := range entities {
		if e.ID == "" {
			e.ID = ragcore.NewID()
		}
		if e.Kind == "" {
			e.Kind = "entity"
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO entities (id, kind, name, description) VALUES (?, ?, ?, ?)`,
			e.ID, e.Kind, e.Name, e.Description,
		); err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM entities_fts WHERE entity_id = ?`, e.ID); err != nil {
			return fmt.Errorf("delete entity fts: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO entities_fts (entity_id, name, description) VALUES (?, ?, ?)`,
			e.ID, e.Name, e.Description,
		); err != nil {
			return fmt.Errorf("insert entity fts: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Debug("sqlite: store entities ok", "count", len(entities))
	return nil
}

// SearchEntities performs FTS5 keyword search over entity names and
// descriptions.
func (s *Store) SearchEntities(ctx context.Context, query string, topK int) ([]ragcore.GraphSearchResult, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.kind, e.name, e.description, f.rank
		 FROM entities_fts f
		 JOIN entities e ON e.id = f.entity_id
		 WHERE entities_fts MATCH ?
		 ORDER BY f.rank LIMIT ?`,
		match, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}
	defer rows.Close()

	var results []ragcore.GraphSearchResult
	for rows.Next() {
		var r ragcore.GraphSearchResult
		var rank float64
		if err := rows.Scan(&r.Kind, &r.Name, &r.Description, &rank); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		r.Score = ftsScore(rank)
		results = append(results, r)
	}
	return results, rows.Err()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ftsQuery turns free text into an FTS5 expression that ORs every word as
// a quoted term, so user punctuation never reaches the FTS5 parser.
func ftsQuery(q string) string {
	words := strings.FieldsFunc(q, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " OR ")
}

// ftsScore converts an FTS5 rank (negative, closer to 0 is worse) to a
// non-negative score where larger is better.
func ftsScore(rank float64) float64 {
	if rank >= 0 {
		return 0
	}
	return -rank
}

func marshalNullable(v any, present bool) (*string, error) {
	if !present {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}
