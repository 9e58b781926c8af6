// Package keyword provides BM25 keyword indexing and search over document chunks.
package keyword

import (
	"context"

	"github.com/gat45/usine-a-gaz/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the document title.
	// Values <= 1 run a single query over title and content.
	TitleBoost float64
	// FuzzyEnabled matches terms within Fuzziness edits of the query terms.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2, default 1).
	Fuzziness int
}

// KeywordIndex defines keyword search operations. Entries are chunks keyed by chunk ID.
type KeywordIndex interface {
	// Index adds or replaces chunks; title is the owning document's title.
	Index(ctx context.Context, title string, chunks []*models.DocumentChunk) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, chunkIDs []string) error
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit (ID is the chunk ID).
type KeywordResult struct {
	ID    string
	Score float64
}
