package vector

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestMemoryIndex_AddSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3, MetricCosine)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := idx.Add(ctx, []string{"a", "b", "c"}, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" {
		t.Errorf("order = %s,%s, want a,b", results[0].ID, results[1].ID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("scores not descending: %v", []float64{results[0].Score, results[1].Score})
	}
}

func TestMemoryIndex_SearchBoundedByK(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x", "y"}, [][]float32{{1, 0}, {0, 1}})

	res, err := idx.Search(ctx, []float32{1, 1}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Errorf("len=%d, want 2", len(res))
	}
	res, _ = idx.Search(ctx, []float32{1, 1}, 0)
	if len(res) != 0 {
		t.Errorf("k=0 should return nothing, got %d", len(res))
	}
}

func TestMemoryIndex_TiesByInsertionOrder(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()
	ids := []string{"third", "first", "second"}
	vecs := [][]float32{{1, 0}, {1, 0}, {1, 0}}
	if err := idx.Add(ctx, ids, vecs); err != nil {
		t.Fatal(err)
	}
	res, err := idx.Search(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range ids {
		if res[i].ID != want {
			t.Errorf("res[%d]=%s, want %s", i, res[i].ID, want)
		}
	}
}

func TestMemoryIndex_OverwriteKeepsPosition(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"a", "b"}, [][]float32{{0, 1}, {1, 0}})
	if err := idx.Add(ctx, []string{"a"}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Fatalf("Size=%d, want 2", idx.Size())
	}
	res, _ := idx.Search(ctx, []float32{1, 0}, 2)
	if res[0].ID != "a" || res[1].ID != "b" {
		t.Errorf("order = %s,%s, want a,b (a inserted first)", res[0].ID, res[1].ID)
	}
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(3, MetricCosine)
	ctx := context.Background()
	err := idx.Add(ctx, []string{"ok", "bad"}, [][]float32{{1, 0, 0}, {1, 0}})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Add err = %v, want ErrDimensionMismatch", err)
	}
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) || dm.Got != 2 || dm.Want != 3 {
		t.Errorf("DimensionMismatchError = %+v", dm)
	}
	if idx.Size() != 0 {
		t.Errorf("failed batch must not be partially applied, size=%d", idx.Size())
	}
	if _, err := idx.Search(ctx, []float32{1}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Search err = %v, want ErrDimensionMismatch", err)
	}
}

func TestMemoryIndex_InnerProduct(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricInnerProduct)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"small", "large"}, [][]float32{{1, 0}, {3, 0}})
	res, _ := idx.Search(ctx, []float32{1, 0}, 2)
	if res[0].ID != "large" || res[0].Score != 3 {
		t.Errorf("top = %+v, want large with score 3", res[0])
	}
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()
	_ = idx.Add(ctx, []string{"x", "y"}, [][]float32{{1, 0}, {0, 1}})
	if err := idx.Remove(ctx, []string{"x", "missing"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 1 {
		t.Errorf("expected size 1, got %d", idx.Size())
	}
	res, _ := idx.Search(ctx, []float32{1, 0}, 5)
	if len(res) != 1 || res[0].ID != "y" {
		t.Errorf("after remove got %+v", res)
	}
	// re-adding the removed id appends it after y
	_ = idx.Add(ctx, []string{"x"}, [][]float32{{0, 1}})
	res, _ = idx.Search(ctx, []float32{0, 1}, 2)
	if res[0].ID != "y" || res[1].ID != "x" {
		t.Errorf("order = %s,%s, want y,x", res[0].ID, res[1].ID)
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.bin")
	ctx := context.Background()

	idx, _ := NewMemoryIndex(2, MetricCosine)
	_ = idx.Add(ctx, []string{"b", "a"}, [][]float32{{1, 0}, {1, 0}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewMemoryIndex(2, MetricCosine)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 {
		t.Fatalf("Size=%d, want 2", loaded.Size())
	}
	res, _ := loaded.Search(ctx, []float32{1, 0}, 2)
	if res[0].ID != "b" || res[1].ID != "a" {
		t.Errorf("insertion order lost: %s,%s", res[0].ID, res[1].ID)
	}
	_ = loaded.Add(ctx, []string{"c"}, [][]float32{{1, 0}})
	res, _ = loaded.Search(ctx, []float32{1, 0}, 3)
	if res[2].ID != "c" {
		t.Errorf("new entry should sort after loaded ones, got %s", res[2].ID)
	}
}

func TestMemoryIndex_LoadMissingFile(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	if err := idx.Load(filepath.Join(t.TempDir(), "nope.bin")); err != nil {
		t.Errorf("missing snapshot should be ignored, got %v", err)
	}
}

func TestMemoryIndex_LoadDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	idx, _ := NewMemoryIndex(3, MetricCosine)
	_ = idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	other, _ := NewMemoryIndex(4, MetricCosine)
	if err := other.Load(path); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("Load err = %v, want ErrDimensionMismatch", err)
	}
	ip, _ := NewMemoryIndex(3, MetricInnerProduct)
	if err := ip.Load(path); !errors.Is(err, ErrMetricMismatch) {
		t.Errorf("Load err = %v, want ErrMetricMismatch", err)
	}
}

func TestMemoryIndex_LoadRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.bin")
	// headerless layout: dimension, count
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], 2)
	binary.LittleEndian.PutUint32(buf[4:], 0)
	if err := os.WriteFile(path, buf, 0644); err != nil {
		t.Fatal(err)
	}
	idx, _ := NewMemoryIndex(2, MetricCosine)
	if err := idx.Load(path); !errors.Is(err, ErrSnapshotFormat) {
		t.Errorf("Load err = %v, want ErrSnapshotFormat", err)
	}
}

func TestMemoryIndex_LoadRejectsOversizedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	idx, _ := NewMemoryIndex(2, MetricCosine)
	_ = idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}
	valid, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		offset int
		value  uint32
	}{
		{"count", 12, 1 << 30},
		{"dimensions", 8, 1 << 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupt := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint32(corrupt[tt.offset:], tt.value)
			p := filepath.Join(t.TempDir(), "corrupt.bin")
			if err := os.WriteFile(p, corrupt, 0644); err != nil {
				t.Fatal(err)
			}
			fresh, _ := NewMemoryIndex(2, MetricCosine)
			if err := fresh.Load(p); !errors.Is(err, ErrSnapshotFormat) {
				t.Errorf("Load err = %v, want ErrSnapshotFormat", err)
			}
			if fresh.Size() != 0 {
				t.Errorf("Size=%d after failed load", fresh.Size())
			}
		})
	}
}

func TestMemoryIndex_ConcurrentAddSearch(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricCosine)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = idx.Add(ctx, []string{string(rune('a' + i))}, [][]float32{{float32(i + 1), 1}})
		}(i)
		go func() {
			defer wg.Done()
			res, err := idx.Search(ctx, []float32{1, 0}, 3)
			if err != nil {
				t.Error(err)
			}
			for j := 1; j < len(res); j++ {
				if res[j].Score > res[j-1].Score {
					t.Error("scores not descending")
				}
			}
		}()
	}
	wg.Wait()
	if idx.Size() != 8 {
		t.Errorf("Size=%d, want 8", idx.Size())
	}
}
