// Package runtimestate tracks whether an inference backend is ready to take requests.
package runtimestate

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrBackendNotReady is returned by Gate when the backend is not running or its
	// last check is too old.
	ErrBackendNotReady = errors.New("backend not ready")
	// ErrUnhealthy marks a probe that reached the backend and got a non-success answer.
	ErrUnhealthy = errors.New("backend unhealthy")
)

// Status is the observed state of a backend.
type Status int

const (
	Stopped Status = iota
	Starting
	Running
	Error
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status as its name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Snapshot is a timestamped view of a backend status. A stale snapshot is never ready.
type Snapshot struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	Stale     bool          `json:"stale"`
}

// Ready reports whether the snapshot allows requests through.
func (s Snapshot) Ready() bool {
	return s.Status == Running && !s.Stale
}
