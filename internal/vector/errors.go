package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is returned when a vector or snapshot does not have the
	// dimensionality the index was built with.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrMetricMismatch is returned when a snapshot was written with a different metric.
	ErrMetricMismatch = errors.New("metric mismatch")
	// ErrSnapshotFormat is returned for unreadable or unsupported snapshot files.
	ErrSnapshotFormat = errors.New("invalid index snapshot")
)

// DimensionMismatchError reports the offending and expected dimensionality.
type DimensionMismatchError struct {
	Op   string
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: %v: got %d, expected %d", e.Op, ErrDimensionMismatch, e.Got, e.Want)
}

// Is makes errors.Is(err, ErrDimensionMismatch) succeed.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

func checkDimensions(op string, got, want int) error {
	if got != want {
		return &DimensionMismatchError{Op: op, Got: got, Want: want}
	}
	return nil
}
