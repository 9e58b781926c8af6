// Package indexer splits documents into chunks and commits them to storage and the indices.
package indexer

import (
	"fmt"
	"strings"

	"github.com/gat45/usine-a-gaz/internal/fileid"
	"github.com/gat45/usine-a-gaz/internal/models"
)

// Chunker splits text into overlapping word-based chunks.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in words).
// The overlap must be in [0, chunkSize).
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", chunkOverlap, chunkSize)
	}
	return &Chunker{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// Chunk splits text into DocumentChunks in document order. Empty text yields no chunks.
// Chunk IDs are derived from the document ID and the chunk text.
func (c *Chunker) Chunk(docID, text string) []*models.DocumentChunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := c.chunkSize - c.chunkOverlap
	chunks := make([]*models.DocumentChunk, 0, (len(words)+step-1)/step)
	for i := 0; i < len(words); i += step {
		end := min(i+c.chunkSize, len(words))
		chunkText := strings.Join(words[i:end], " ")
		overlap := 0
		if len(chunks) > 0 {
			overlap = c.chunkOverlap
		}
		chunks = append(chunks, &models.DocumentChunk{
			ID:         fileid.ChunkID(docID, chunkText),
			DocumentID: docID,
			Content:    chunkText,
			ChunkIndex: len(chunks),
			Overlap:    overlap,
		})
		if end >= len(words) {
			break
		}
	}
	return chunks
}
