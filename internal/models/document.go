// Package models defines the data structures shared across ingestion, retrieval and chat.
package models

import "time"

// Document represents a stored source document with metadata.
type Document struct {
	ID        string                 `json:"id" db:"id"`
	Title     string                 `json:"title" db:"title"`
	Content   string                 `json:"content" db:"content"`
	Metadata  map[string]interface{} `json:"metadata" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// DocumentChunk is a bounded span of a document. Chunks are immutable once ingested;
// the vector index refers to them by ID only.
type DocumentChunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Content    string    `json:"content" db:"content"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Overlap    int       `json:"overlap" db:"overlap"`
	Embedding  []float32 `json:"-" db:"-"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// DocumentInput is the input for ingesting a document.
type DocumentInput struct {
	ID       string                 `json:"id,omitempty"`
	Title    string                 `json:"title,omitempty"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DocumentSummary describes an ingested document without its full content.
type DocumentSummary struct {
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	ChunkCount int                    `json:"chunk_count"`
	WordCount  int                    `json:"word_count"`
	Preview    string                 `json:"preview"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}
