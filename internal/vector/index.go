// Package vector provides vector indices and similarity search over chunk embeddings.
package vector

import "context"

// VectorIndex defines vector storage and similarity search.
//
// Implementations are safe for concurrent use: queries may run in parallel with each
// other, and a query never observes a partially written vector.
type VectorIndex interface {
	// Add inserts vectors under ids. An existing id is overwritten in place and keeps
	// its original insertion position.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns up to k hits ordered by descending score; equal scores are
	// ordered by insertion (earlier first).
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Metric() Metric
	Type() string
	Close() error
}

// VectorResult is a single vector search hit (ID is the chunk ID).
type VectorResult struct {
	ID    string
	Score float64
}
