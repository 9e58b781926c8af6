// Package eventlog keeps the most recent log entries in memory so operators can
// inspect and search them over the API without shelling into the host.
package eventlog

import (
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of entries kept when no capacity is given.
const DefaultCapacity = 1000

// Entry is one captured log record.
type Entry struct {
	Time    time.Time         `json:"timestamp"`
	Level   string            `json:"level"`
	Logger  string            `json:"logger,omitempty"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Ring is a fixed-size buffer of entries. It doubles as a zapcore.Core through Core().
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewRing returns a ring holding up to capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{entries: make([]Entry, capacity)}
}

// Append stores e, overwriting the oldest entry when full.
func (r *Ring) Append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.next] = e
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

// Len returns the number of stored entries.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.entries)
	}
	return r.next
}

// Recent returns up to n entries, oldest first.
func (r *Ring) Recent(n int) []Entry {
	all := r.snapshot()
	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

// Search returns entries whose message, logger or field values contain term (case-insensitive).
func (r *Ring) Search(term string) []Entry {
	term = strings.ToLower(strings.TrimSpace(term))
	all := r.snapshot()
	if term == "" {
		return all
	}
	var out []Entry
	for _, e := range all {
		if matches(e, term) {
			out = append(out, e)
		}
	}
	return out
}

func matches(e Entry, term string) bool {
	if strings.Contains(strings.ToLower(e.Message), term) || strings.Contains(strings.ToLower(e.Logger), term) {
		return true
	}
	for k, v := range e.Fields {
		if strings.Contains(strings.ToLower(k), term) || strings.Contains(strings.ToLower(v), term) {
			return true
		}
	}
	return false
}

func (r *Ring) snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		return append([]Entry(nil), r.entries[:r.next]...)
	}
	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	return append(out, r.entries[:r.next]...)
}
