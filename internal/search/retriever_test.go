package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gat45/usine-a-gaz/internal/config"
	"github.com/gat45/usine-a-gaz/internal/embedding"
	"github.com/gat45/usine-a-gaz/internal/indexer"
	"github.com/gat45/usine-a-gaz/internal/keyword"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/storage"
	"github.com/gat45/usine-a-gaz/internal/vector"
)

type fixture struct {
	retriever *Retriever
	indexer   *indexer.Indexer
	vec       vector.VectorIndex
}

func newFixture(t *testing.T, cfg *config.RetrievalConfig) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	emb := embedding.NewMockEmbedder(64)
	vecIndex, err := vector.NewMemoryIndex(64, vector.MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	kwIndex, err := keyword.NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kwIndex.Close() })
	idx, err := indexer.NewIndexer(store, emb, vecIndex, kwIndex, &config.IngestConfig{ChunkSize: 50, ChunkOverlap: 5}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{
		retriever: NewRetriever(store, emb, vecIndex, kwIndex, cfg),
		indexer:   idx,
		vec:       vecIndex,
	}
}

func defaultRetrieval() *config.RetrievalConfig {
	return &config.RetrievalConfig{TopK: 5, MaxTopK: 50, MinScore: 0.2, KeywordWeight: 0.3}
}

func (f *fixture) ingest(t *testing.T, docs map[string]string) {
	t.Helper()
	for id, text := range docs {
		if _, err := f.indexer.IngestDocument(context.Background(), &models.DocumentInput{ID: id, Title: id, Content: text}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRetrieve_ranksMatchingChunkFirst(t *testing.T) {
	f := newFixture(t, defaultRetrieval())
	f.ingest(t, map[string]string{
		"ml":      "machine learning algorithms train models on data",
		"cooking": "slow cooked tomato sauce with garlic and basil",
	})
	got, err := f.retriever.Retrieve(context.Background(), &models.RetrievalQuery{Query: "machine learning algorithms"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one result")
	}
	if got[0].DocumentID != "ml" || got[0].Title != "ml" {
		t.Errorf("top result = %+v, want document ml", got[0])
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not descending at %d", i)
		}
	}
}

func TestRetrieve_boundAndMinScore(t *testing.T) {
	cfg := defaultRetrieval()
	cfg.MinScore = 0.01
	f := newFixture(t, cfg)
	f.ingest(t, map[string]string{
		"a": "shared words alpha",
		"b": "shared words beta",
		"c": "shared words gamma",
		"d": "shared words delta",
	})
	got, err := f.retriever.Retrieve(context.Background(), &models.RetrievalQuery{Query: "shared words", K: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) > 2 {
		t.Errorf("got %d results, want at most 2", len(got))
	}
	for _, r := range got {
		if r.Score < cfg.MinScore {
			t.Errorf("result %s below min score: %f", r.ChunkID, r.Score)
		}
	}

	strict, err := f.retriever.Retrieve(context.Background(), &models.RetrievalQuery{Query: "unrelated zebra", MinScore: 0.99})
	if err != nil {
		t.Fatal(err)
	}
	if len(strict) != 0 {
		t.Errorf("expected no results above 0.99, got %d", len(strict))
	}
}

func TestRetrieve_emptyIndex(t *testing.T) {
	f := newFixture(t, defaultRetrieval())
	got, err := f.retriever.Retrieve(context.Background(), &models.RetrievalQuery{Query: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results, got %d", len(got))
	}
}

func TestRetrieve_emptyQuery(t *testing.T) {
	f := newFixture(t, defaultRetrieval())
	_, err := f.retriever.Retrieve(context.Background(), &models.RetrievalQuery{})
	if !errors.Is(err, models.ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestRetrieve_keywordFusion(t *testing.T) {
	f := newFixture(t, defaultRetrieval())
	f.ingest(t, map[string]string{
		"invoice": "quarterly invoice totals for the northwind account",
		"notes":   "meeting notes about hiring plans",
	})
	got, err := f.retriever.Retrieve(context.Background(), &models.RetrievalQuery{Query: "northwind invoice", Keyword: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[0].DocumentID != "invoice" {
		t.Fatalf("expected invoice first, got %+v", got)
	}
	if got[0].KeywordScore != 1 {
		t.Errorf("best keyword hit should normalize to 1, got %f", got[0].KeywordScore)
	}
}
