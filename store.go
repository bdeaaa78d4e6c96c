package ragcore

import "context"

// Document is a source file or page in the knowledge base.
type Document struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Source    string `json:"source"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// Chunk is a searchable passage of a Document.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	ChunkIndex int    `json:"chunk_index"`
}

// Entity is a knowledge-graph node or edge summary.
type Entity struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"` // "entity", "relationship", "community"
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ConversationStore persists and replays conversation logs.
type ConversationStore interface {
	MessageStore
	// Messages returns the most recent limit messages of a conversation,
	// oldest first. limit <= 0 returns all of them.
	Messages(ctx context.Context, conversationID string, limit int) ([]ChatMessage, error)
}

// KnowledgeStore holds documents and answers keyword queries over their
// chunks.
type KnowledgeStore interface {
	StoreDocument(ctx context.Context, doc Document, chunks []Chunk) error
	GetDocument(ctx context.Context, id string) (Document, error)
	SearchChunks(ctx context.Context, query string, topK int) ([]ChunkSearchResult, error)
}

// GraphSearcher is an optional capability of a KnowledgeStore that also
// indexes knowledge-graph entities.
type GraphSearcher interface {
	StoreEntities(ctx context.Context, entities []Entity) error
	SearchEntities(ctx context.Context, query string, topK int) ([]GraphSearchResult, error)
}

// Store is the full persistence surface implemented by store/sqlite and
// store/postgres.
type Store interface {
	ConversationStore
	KnowledgeStore
	GraphSearcher

	Init(ctx context.Context) error
	Close() error
}
