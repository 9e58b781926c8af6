// Package storage persists documents, chunks and sessions.
package storage

import (
	"context"
	"errors"

	"github.com/gat45/usine-a-gaz/internal/models"
)

// ErrNotFound is returned when a document, chunk or session does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines document and chunk persistence operations.
type Storage interface {
	// Document operations
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)

	// Chunk operations
	ReplaceChunks(ctx context.Context, docID string, chunks []*models.DocumentChunk) error
	GetChunk(ctx context.Context, id string) (*models.DocumentChunk, error)
	GetChunks(ctx context.Context, ids []string) (map[string]*models.DocumentChunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.DocumentChunk, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}

// SessionStore persists session state so it survives restarts.
type SessionStore interface {
	// SaveSession replaces the stored record for rec.Key.
	SaveSession(ctx context.Context, rec *models.SessionRecord) error
	DeleteSession(ctx context.Context, key string) error
	LoadSessions(ctx context.Context) ([]*models.SessionRecord, error)
}
