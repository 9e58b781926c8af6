package session

import (
	"sync"
	"time"

	"github.com/gat45/usine-a-gaz/internal/models"
)

// session is the mutable state behind one key. mu guards every field except slot;
// slot admits one turn at a time.
type session struct {
	key  string
	slot chan struct{}

	mu         sync.Mutex
	turns      []models.Turn
	tokens     int
	options    Options
	overrides  map[string]string
	createdAt  time.Time
	lastActive time.Time
	evicted    bool
}

func newSession(key string, defaults Options, now time.Time) *session {
	return &session{
		key:        key,
		slot:       make(chan struct{}, 1),
		options:    defaults,
		overrides:  make(map[string]string),
		createdAt:  now,
		lastActive: now,
	}
}

func (s *session) busy() bool { return len(s.slot) > 0 }

// record returns the persisted form. Caller holds s.mu.
func (s *session) record() *models.SessionRecord {
	turns := make([]models.Turn, len(s.turns))
	copy(turns, s.turns)
	opts := make(map[string]string, len(s.overrides))
	for k, v := range s.overrides {
		opts[k] = v
	}
	return &models.SessionRecord{
		Key:          s.key,
		Options:      opts,
		Turns:        turns,
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActive,
	}
}

// Info is a read-only view of a session.
type Info struct {
	Key          string    `json:"key"`
	Turns        int       `json:"turns"`
	Tokens       int       `json:"tokens"`
	Options      Options   `json:"options"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Busy         bool      `json:"busy"`
}

func (s *session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		Key:          s.key,
		Turns:        len(s.turns),
		Tokens:       s.tokens,
		Options:      s.options,
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActive,
		Busy:         s.busy(),
	}
}
