// Package search retrieves the chunks most relevant to a query.
package search

import (
	"context"
	"fmt"

	"github.com/gat45/usine-a-gaz/internal/config"
	"github.com/gat45/usine-a-gaz/internal/embedding"
	"github.com/gat45/usine-a-gaz/internal/keyword"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/storage"
	"github.com/gat45/usine-a-gaz/internal/vector"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// keywordCandidates widens the candidate pool when keyword scores are fused in.
const keywordCandidates = 4

// Retriever embeds a query, searches the vector index (and optionally the keyword index)
// and hydrates the hits from the chunk store.
type Retriever struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	config       *config.RetrievalConfig
	logger       *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// NewRetriever creates a retriever. keywordIndex may be nil to disable fusion.
func NewRetriever(
	storage storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	keywordIndex keyword.KeywordIndex,
	cfg *config.RetrievalConfig,
	opts ...Option,
) *Retriever {
	r := &Retriever{
		storage:      storage,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		keywordIndex: keywordIndex,
		config:       cfg,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns at most q.K chunks in non-increasing score order, all at or above the
// minimum score. An empty index yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, q *models.RetrievalQuery) ([]*models.RetrievedChunk, error) {
	if err := q.Validate(r.config.TopK, r.config.MaxTopK); err != nil {
		return nil, err
	}
	minScore := q.MinScore
	if minScore <= 0 {
		minScore = r.config.MinScore
	}
	useKeyword := r.keywordIndex != nil && (q.Keyword || r.config.KeywordEnabled)
	candidates := q.K
	if useKeyword {
		candidates = q.K * keywordCandidates
	}

	var (
		semantic []*vector.VectorResult
		keywords []*keyword.KeywordResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		emb, err := r.embedder.Embed(gctx, q.Query)
		if err != nil {
			return fmt.Errorf("embedding failed: %w", err)
		}
		semantic, err = r.vectorIndex.Search(gctx, emb, candidates)
		if err != nil {
			return fmt.Errorf("vector search failed: %w", err)
		}
		return nil
	})
	if useKeyword {
		g.Go(func() error {
			var err error
			keywords, err = r.keywordIndex.Search(gctx, q.Query, candidates, &keyword.SearchOptions{TitleBoost: r.config.TitleBoost})
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	weight := 0.0
	if useKeyword {
		weight = r.config.KeywordWeight
	}
	fused := Fuse(semantic, NormalizeKeywordScores(keywords), weight)
	selected := make([]*FusedResult, 0, q.K)
	for _, f := range fused {
		if f.Score < minScore {
			break
		}
		selected = append(selected, f)
		if len(selected) == q.K {
			break
		}
	}
	if len(selected) == 0 {
		return []*models.RetrievedChunk{}, nil
	}
	return r.hydrate(ctx, selected)
}

// hydrate loads chunk text and document titles, keeping the order of results. Hits whose
// chunk is missing from the store are dropped.
func (r *Retriever) hydrate(ctx context.Context, results []*FusedResult) ([]*models.RetrievedChunk, error) {
	ids := make([]string, len(results))
	for i, f := range results {
		ids[i] = f.ChunkID
	}
	chunks, err := r.storage.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	titles := make(map[string]string)
	out := make([]*models.RetrievedChunk, 0, len(results))
	for _, f := range results {
		ch, ok := chunks[f.ChunkID]
		if !ok {
			r.logger.Warn("retriever chunk missing from store", zap.String("chunk_id", f.ChunkID))
			continue
		}
		title, ok := titles[ch.DocumentID]
		if !ok {
			if doc, err := r.storage.GetDocument(ctx, ch.DocumentID); err == nil {
				title = doc.Title
			}
			titles[ch.DocumentID] = title
		}
		out = append(out, &models.RetrievedChunk{
			ChunkID:       ch.ID,
			DocumentID:    ch.DocumentID,
			Title:         title,
			Content:       ch.Content,
			ChunkIndex:    ch.ChunkIndex,
			Score:         f.Score,
			SemanticScore: f.SemanticScore,
			KeywordScore:  f.KeywordScore,
		})
	}
	r.logger.Debug("retriever results", zap.Int("count", len(out)))
	return out, nil
}
