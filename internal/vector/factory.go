package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search with a binary snapshot file.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeChromem uses a persistent chromem-go collection. Cosine only.
	IndexTypeChromem IndexType = "chromem"
)

// Options configures NewVectorIndex.
type Options struct {
	Type       string
	Dimensions int
	Metric     string
	// Dir is the chromem-go database directory; unused by the memory index.
	Dir string
}

// NewVectorIndex creates a vector index of the specified type.
// Supported types: "memory" (default), "chromem".
func NewVectorIndex(opts Options) (VectorIndex, error) {
	metric, err := ParseMetric(opts.Metric)
	if err != nil {
		return nil, err
	}
	switch IndexType(opts.Type) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(opts.Dimensions, metric)
	case IndexTypeChromem:
		if metric != MetricCosine {
			return nil, fmt.Errorf("chromem index supports cosine only, got %s", metric)
		}
		return NewChromemIndex(opts.Dir, opts.Dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, chromem)", opts.Type)
	}
}
