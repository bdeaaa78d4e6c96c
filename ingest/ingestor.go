package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nevindra/ragcore"
)

// Result holds the outcome of an ingest operation.
type Result struct {
	Document   ragcore.Document
	ChunkCount int
}

// Ingestor provides end-to-end ingestion: extract, chunk, store.
type Ingestor struct {
	store   ragcore.KnowledgeStore
	chunker Chunker
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithChunker replaces the default RecursiveChunker.
func WithChunker(c Chunker) Option {
	return func(ing *Ingestor) { ing.chunker = c }
}

// NewIngestor creates an Ingestor that writes to store.
func NewIngestor(store ragcore.KnowledgeStore, opts ...Option) *Ingestor {
	ing := &Ingestor{store: store, chunker: NewRecursiveChunker()}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// IngestFile reads path and ingests it, detecting the format from the
// file extension.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ing.IngestBytes(ctx, data, ContentTypeFromPath(path), path, "")
}

// IngestBytes extracts content of type ct and stores it as a new
// document. An empty title is replaced by the extracted title, then by the
// base name of source.
func (ing *Ingestor) IngestBytes(ctx context.Context, content []byte, ct ContentType, source, title string) (Result, error) {
	ex, err := Extract(ct, content, source)
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", source, err)
	}
	if title == "" {
		title = ex.Title
	}
	if title == "" {
		title = filepath.Base(source)
	}
	return ing.IngestText(ctx, ex.Text, source, title)
}

// IngestText stores already-extracted text as a new document.
func (ing *Ingestor) IngestText(ctx context.Context, text, source, title string) (Result, error) {
	doc := ragcore.Document{
		ID:        ragcore.NewID(),
		Title:     title,
		Source:    source,
		Content:   text,
		CreatedAt: time.Now().Unix(),
	}
	parts := ing.chunker.Chunk(text)
	chunks := make([]ragcore.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = ragcore.Chunk{
			ID:         ragcore.NewID(),
			DocumentID: doc.ID,
			Content:    p,
			ChunkIndex: i,
		}
	}
	if err := ing.store.StoreDocument(ctx, doc, chunks); err != nil {
		return Result{}, fmt.Errorf("store: %w", err)
	}
	return Result{Document: doc, ChunkCount: len(chunks)}, nil
}
