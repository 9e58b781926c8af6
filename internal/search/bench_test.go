package search

import (
	"fmt"
	"testing"

	"github.com/gat45/usine-a-gaz/internal/keyword"
	"github.com/gat45/usine-a-gaz/internal/vector"
)

func BenchmarkFuse(b *testing.B) {
	semantic := make([]*vector.VectorResult, 200)
	keywords := make([]*keyword.KeywordResult, 200)
	for i := range semantic {
		semantic[i] = &vector.VectorResult{ID: fmt.Sprintf("c%d", i), Score: float64(200-i) / 200}
		keywords[i] = &keyword.KeywordResult{ID: fmt.Sprintf("c%d", (i*7)%200), Score: float64(i%13) + 1}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Fuse(semantic, NormalizeKeywordScores(keywords), 0.3)
	}
}
