package keyword

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gat45/usine-a-gaz/internal/models"
)

func chunk(id, doc, content string) *models.DocumentChunk {
	return &models.DocumentChunk{ID: id, DocumentID: doc, Content: content}
}

func TestBleveIndex_SearchFindsContent(t *testing.T) {
	idx, err := NewBleveIndex(filepath.Join(t.TempDir(), "bleve"))
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer idx.Close()
	ctx := context.Background()

	err = idx.Index(ctx, "Monthly Report.docx", []*models.DocumentChunk{
		chunk("chk_a", "doc_1", "This report mentions Omnisyan and other findings."),
		chunk("chk_b", "doc_1", "The Bayes app is also referenced."),
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := idx.Search(ctx, "Omnisyan", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "chk_a" {
		t.Fatalf("results = %+v, want chk_a", results)
	}

	// standard analyzer does not stem, so the lowercase query matches
	results, err = idx.Search(ctx, "bayes", 10, nil)
	if err != nil {
		t.Fatalf("Search bayes: %v", err)
	}
	if len(results) != 1 || results[0].ID != "chk_b" {
		t.Errorf("results = %+v, want chk_b", results)
	}
}

func TestBleveIndex_TitleBoost(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()
	_ = idx.Index(ctx, "quarterly_budget.xlsx", []*models.DocumentChunk{chunk("chk_t", "doc_t", "numbers and totals")})
	_ = idx.Index(ctx, "notes.txt", []*models.DocumentChunk{chunk("chk_c", "doc_c", "we talked about the budget once")})

	results, err := idx.Search(ctx, "budget", 10, &SearchOptions{TitleBoost: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || results[0].ID != "chk_t" {
		t.Errorf("title match should rank first: %+v", results)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx, _ := NewBleveIndex("")
	defer idx.Close()
	ctx := context.Background()
	_ = idx.Index(ctx, "", []*models.DocumentChunk{chunk("chk_1", "d", "kubernetes deployment guide")})

	if res, _ := idx.Search(ctx, "kubernets", 10, nil); len(res) != 0 {
		t.Errorf("exact search should miss a typo, got %+v", res)
	}
	res, err := idx.Search(ctx, "kubernets", 10, &SearchOptions{FuzzyEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Errorf("fuzzy search should find the chunk, got %+v", res)
	}
}

func TestBleveIndex_DeleteAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")
	idx, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = idx.Index(ctx, "", []*models.DocumentChunk{chunk("chk_1", "d", "alpha"), chunk("chk_2", "d", "beta")})
	if err := idx.Delete(ctx, []string{"chk_1"}); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 1 {
		t.Errorf("DocCount=%d, want 1", n)
	}
	idx.Close()

	reopened, err := NewBleveIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	res, _ := reopened.Search(ctx, "beta", 10, nil)
	if len(res) != 1 || res[0].ID != "chk_2" {
		t.Errorf("reopened index lost data: %+v", res)
	}
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx, _ := NewBleveIndex("")
	defer idx.Close()
	res, err := idx.Search(context.Background(), "   ", 10, nil)
	if err != nil || res != nil {
		t.Errorf("empty query = %v, %v", res, err)
	}
}
