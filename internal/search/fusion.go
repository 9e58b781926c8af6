package search

import (
	"sort"

	"github.com/gat45/usine-a-gaz/internal/keyword"
	"github.com/gat45/usine-a-gaz/internal/vector"
)

// FusedResult holds a chunk ID with its combined and per-source scores.
type FusedResult struct {
	ChunkID       string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
	rank          int
}

// NormalizeKeywordScores normalizes keyword scores to [0,1] by max.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	if len(results) == 0 {
		return normalized
	}
	maxScore := results[0].Score
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}

// Fuse combines semantic hits with normalized keyword scores as
// (1-keywordWeight)*semantic + keywordWeight*keyword. Chunks found only by keyword
// search get a semantic score of zero. Results are sorted by score descending;
// ties keep the vector index order, then keyword-only hits by chunk ID.
func Fuse(semantic []*vector.VectorResult, keywordScores map[string]float64, keywordWeight float64) []*FusedResult {
	byID := make(map[string]*FusedResult, len(semantic)+len(keywordScores))
	results := make([]*FusedResult, 0, len(semantic)+len(keywordScores))
	for i, r := range semantic {
		f := &FusedResult{ChunkID: r.ID, SemanticScore: r.Score, rank: i}
		byID[r.ID] = f
		results = append(results, f)
	}
	for id, score := range keywordScores {
		if f, ok := byID[id]; ok {
			f.KeywordScore = score
			continue
		}
		f := &FusedResult{ChunkID: id, KeywordScore: score, rank: len(semantic)}
		byID[id] = f
		results = append(results, f)
	}
	for _, f := range results {
		f.Score = (1-keywordWeight)*f.SemanticScore + keywordWeight*f.KeywordScore
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		return a.ChunkID < b.ChunkID
	})
	return results
}
