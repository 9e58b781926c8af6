package vector

import (
	"fmt"
	"math"

	"github.com/gat45/usine-a-gaz/pkg/utils"
)

// Metric is the similarity function an index scores with. It is fixed at construction.
type Metric string

const (
	// MetricCosine scores by cosine similarity; vectors are normalized on insert.
	MetricCosine Metric = "cosine"
	// MetricInnerProduct scores by raw inner product.
	MetricInnerProduct Metric = "inner_product"
)

// ParseMetric returns the metric for name; empty selects cosine.
func ParseMetric(name string) (Metric, error) {
	switch Metric(name) {
	case "", MetricCosine:
		return MetricCosine, nil
	case MetricInnerProduct:
		return MetricInnerProduct, nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q (supported: cosine, inner_product)", name)
	}
}

func (m Metric) code() uint8 {
	if m == MetricInnerProduct {
		return 2
	}
	return 1
}

func metricFromCode(c uint8) (Metric, error) {
	switch c {
	case 1:
		return MetricCosine, nil
	case 2:
		return MetricInnerProduct, nil
	default:
		return "", fmt.Errorf("%w: unknown metric code %d", ErrSnapshotFormat, c)
	}
}

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// normalized returns a unit-length copy of v. A zero vector is returned as a zero copy.
func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	utils.NormalizeL2(out)
	return out
}
