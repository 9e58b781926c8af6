package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const (
	chromemCollection = "chunks"
	seqMetadataKey    = "seq"
	sidecarVersion    = 1
)

var errNoEmbedFunc = errors.New("chromem index stores precomputed embeddings only")

// ChromemIndex is a persistent vector index backed by a chromem-go collection.
// Vectors are written through to disk on Add; Save and Load handle the sidecar
// file that records dimensions, metric and insertion order.
type ChromemIndex struct {
	db         *chromem.DB
	col        *chromem.Collection
	dir        string
	dimensions int
	seqs       map[string]uint64
	nextSeq    uint64
	mu         sync.RWMutex
}

type chromemSidecar struct {
	Version    int               `json:"version"`
	Metric     Metric            `json:"metric"`
	Dimensions int               `json:"dimensions"`
	NextSeq    uint64            `json:"next_seq"`
	Seqs       map[string]uint64 `json:"seqs"`
}

// NewChromemIndex opens (or creates) a persistent chromem-go database in dir.
func NewChromemIndex(dir string, dimensions int) (*ChromemIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if dir == "" {
		return nil, fmt.Errorf("chromem index requires a directory")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create chromem dir: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db: %w", err)
	}
	embed := func(ctx context.Context, text string) ([]float32, error) { return nil, errNoEmbedFunc }
	col := db.GetCollection(chromemCollection, embed)
	if col == nil {
		col, err = db.CreateCollection(chromemCollection, map[string]string{
			"dimensions": strconv.Itoa(dimensions),
			"metric":     string(MetricCosine),
		}, embed)
		if err != nil {
			return nil, fmt.Errorf("create chromem collection: %w", err)
		}
	}
	return &ChromemIndex{
		db:         db,
		col:        col,
		dir:        dir,
		dimensions: dimensions,
		seqs:       make(map[string]uint64),
	}, nil
}

// Type returns the index type identifier.
func (c *ChromemIndex) Type() string { return string(IndexTypeChromem) }

// Dimensions returns the fixed vector dimensionality.
func (c *ChromemIndex) Dimensions() int { return c.dimensions }

// Metric is always cosine; chromem-go normalizes vectors on insert.
func (c *ChromemIndex) Metric() Metric { return MetricCosine }

// Add writes vectors through to the collection. Existing ids keep their sequence.
func (c *ChromemIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for i, v := range vectors {
		if ids[i] == "" {
			return fmt.Errorf("empty vector id at position %d", i)
		}
		if err := checkDimensions("add", len(v), c.dimensions); err != nil {
			return err
		}
		if L2Norm(v) == 0 {
			return fmt.Errorf("add %s: zero vector cannot be normalized", ids[i])
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, id := range ids {
		seq, ok := c.seqs[id]
		if !ok {
			seq = c.nextSeq
			c.nextSeq++
		}
		doc := chromem.Document{
			ID:        id,
			Embedding: normalized(vectors[i]),
			Metadata:  map[string]string{seqMetadataKey: strconv.FormatUint(seq, 10)},
		}
		if err := c.col.AddDocument(ctx, doc); err != nil {
			if !ok {
				c.nextSeq--
			}
			return fmt.Errorf("chromem add %s: %w", id, err)
		}
		c.seqs[id] = seq
	}
	return nil
}

// Search queries the whole collection and re-orders equal scores by insertion.
func (c *ChromemIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkDimensions("search", len(query), c.dimensions); err != nil {
		return nil, err
	}
	if k <= 0 || L2Norm(query) == 0 {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := c.col.Count()
	if count == 0 {
		return nil, nil
	}
	res, err := c.col.QueryEmbedding(ctx, normalized(query), count, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	seqOf := func(r chromem.Result) uint64 {
		if s, ok := c.seqs[r.ID]; ok {
			return s
		}
		s, _ := strconv.ParseUint(r.Metadata[seqMetadataKey], 10, 64)
		return s
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Similarity != res[j].Similarity {
			return res[i].Similarity > res[j].Similarity
		}
		return seqOf(res[i]) < seqOf(res[j])
	})
	if k > len(res) {
		k = len(res)
	}
	out := make([]*VectorResult, k)
	for i := 0; i < k; i++ {
		out[i] = &VectorResult{ID: res[i].ID, Score: float64(res[i].Similarity)}
	}
	return out, nil
}

// Remove deletes ids from the collection. Unknown ids are skipped.
func (c *ChromemIndex) Remove(ctx context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	known := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.seqs[id]; ok {
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return nil
	}
	if err := c.col.Delete(ctx, nil, nil, known...); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	for _, id := range known {
		delete(c.seqs, id)
	}
	return nil
}

// Save writes the sidecar metadata file to path.
func (c *ChromemIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	c.mu.RLock()
	sc := chromemSidecar{
		Version:    sidecarVersion,
		Metric:     MetricCosine,
		Dimensions: c.dimensions,
		NextSeq:    c.nextSeq,
		Seqs:       make(map[string]uint64, len(c.seqs)),
	}
	for id, s := range c.seqs {
		sc.Seqs[id] = s
	}
	c.mu.RUnlock()
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads the sidecar at path and validates it against the index.
func (c *ChromemIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read sidecar: %w", err)
	}
	var sc chromemSidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotFormat, err)
	}
	if sc.Version != sidecarVersion {
		return fmt.Errorf("%w: unsupported sidecar version %d", ErrSnapshotFormat, sc.Version)
	}
	if err := checkDimensions("load", sc.Dimensions, c.dimensions); err != nil {
		return err
	}
	if sc.Metric != MetricCosine {
		return fmt.Errorf("load: %w: sidecar uses %s", ErrMetricMismatch, sc.Metric)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSeq = sc.NextSeq
	c.seqs = make(map[string]uint64, len(sc.Seqs))
	for id, s := range sc.Seqs {
		c.seqs[id] = s
	}
	return nil
}

// Size returns the number of documents in the collection.
func (c *ChromemIndex) Size() int {
	return c.col.Count()
}

// Close is a no-op; chromem-go persists on every write.
func (c *ChromemIndex) Close() error {
	return nil
}
