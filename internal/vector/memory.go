package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memoryEntry struct {
	id  string
	vec []float32
	seq uint64
}

// MemoryIndex is an in-memory vector index using brute-force search.
// Entries are kept in insertion order; overwriting an id keeps its position.
type MemoryIndex struct {
	dimensions int
	metric     Metric
	entries    []memoryEntry
	pos        map[string]int
	nextSeq    uint64
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension and metric.
func NewMemoryIndex(dimensions int, metric Metric) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if metric == "" {
		metric = MetricCosine
	}
	if _, err := ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	return &MemoryIndex{
		dimensions: dimensions,
		metric:     metric,
		pos:        make(map[string]int),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Dimensions returns the fixed vector dimensionality.
func (m *MemoryIndex) Dimensions() int { return m.dimensions }

// Metric returns the similarity metric.
func (m *MemoryIndex) Metric() Metric { return m.metric }

func (m *MemoryIndex) prepare(v []float32) []float32 {
	if m.metric == MetricCosine {
		return normalized(v)
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// Add inserts or overwrites vectors. The batch is validated before anything is written,
// so a dimension mismatch leaves the index unchanged.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	prepared := make([][]float32, len(vectors))
	for i, v := range vectors {
		if ids[i] == "" {
			return fmt.Errorf("empty vector id at position %d", i)
		}
		if err := checkDimensions("add", len(v), m.dimensions); err != nil {
			return err
		}
		prepared[i] = m.prepare(v)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if p, ok := m.pos[id]; ok {
			m.entries[p].vec = prepared[i]
			continue
		}
		m.pos[id] = len(m.entries)
		m.entries = append(m.entries, memoryEntry{id: id, vec: prepared[i], seq: m.nextSeq})
		m.nextSeq++
	}
	return nil
}

// Search returns the top-k entries by score, ties broken by insertion order.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := checkDimensions("search", len(query), m.dimensions); err != nil {
		return nil, err
	}
	q := query
	if m.metric == MetricCosine {
		q = normalized(query)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.entries) == 0 {
		return nil, nil
	}
	type scored struct {
		id    string
		seq   uint64
		score float64
	}
	scores := make([]scored, len(m.entries))
	for i, e := range m.entries {
		scores[i] = scored{id: e.id, seq: e.seq, score: InnerProduct(q, e.vec)}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].seq < scores[j].seq
	})
	if k > len(scores) {
		k = len(scores)
	}
	result := make([]*VectorResult, k)
	for i := 0; i < k; i++ {
		result[i] = &VectorResult{ID: scores[i].id, Score: scores[i].score}
	}
	return result, nil
}

// Remove deletes vectors by ID. Absent IDs are ignored.
func (m *MemoryIndex) Remove(ctx context.Context, ids []string) error {
	removeSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	for _, e := range m.entries {
		if !removeSet[e.id] {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(m.entries); i++ {
		m.entries[i] = memoryEntry{}
	}
	m.entries = kept
	m.pos = make(map[string]int, len(kept))
	for i, e := range kept {
		m.pos[e.id] = i
	}
	return nil
}

// Save writes a versioned snapshot to path.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	snap := snapshot{
		metric:     m.metric,
		dimensions: m.dimensions,
		nextSeq:    m.nextSeq,
		entries:    make([]memoryEntry, len(m.entries)),
	}
	copy(snap.entries, m.entries)
	m.mu.RUnlock()
	return writeSnapshot(path, snap)
}

// Load replaces the index contents with the snapshot at path.
// A missing file is not an error and leaves the index unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	snap, err := readSnapshot(path)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}
	if err := checkDimensions("load", snap.dimensions, m.dimensions); err != nil {
		return err
	}
	if snap.metric != m.metric {
		return fmt.Errorf("load: %w: snapshot uses %s, index uses %s", ErrMetricMismatch, snap.metric, m.metric)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = snap.entries
	m.nextSeq = snap.nextSeq
	m.pos = make(map[string]int, len(snap.entries))
	for i, e := range snap.entries {
		m.pos[e.id] = i
		if e.seq >= m.nextSeq {
			m.nextSeq = e.seq + 1
		}
	}
	return nil
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
