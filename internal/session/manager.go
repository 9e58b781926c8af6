// Package session owns per-user conversation state keyed by session identifier.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/storage"
	"github.com/gat45/usine-a-gaz/internal/window"
	"go.uber.org/zap"
)

var (
	// ErrSessionNotFound is returned for unknown keys when auto-create is off.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionBusy is returned by Acquire under the reject policy when a turn is in flight.
	ErrSessionBusy = errors.New("session busy")
)

// BusyPolicy decides what Acquire does when the session already has a turn in flight.
type BusyPolicy string

const (
	PolicyQueue  BusyPolicy = "queue"
	PolicyReject BusyPolicy = "reject"
)

// ParseBusyPolicy validates a policy name. Empty means queue.
func ParseBusyPolicy(name string) (BusyPolicy, error) {
	switch BusyPolicy(name) {
	case "", PolicyQueue:
		return PolicyQueue, nil
	case PolicyReject:
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("unknown busy policy %q", name)
	}
}

// Manager is the keyed session store. The collection lock only covers the map; work on a
// single session happens under that session's own lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	defaults   Options
	policy     BusyPolicy
	autoCreate bool
	store      storage.SessionStore
	now        func() time.Time
	logger     *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore enables write-through persistence.
func WithStore(s storage.SessionStore) ManagerOption { return func(m *Manager) { m.store = s } }

// WithPolicy sets the busy policy.
func WithPolicy(p BusyPolicy) ManagerOption { return func(m *Manager) { m.policy = p } }

// WithAutoCreate controls whether unseen keys create sessions.
func WithAutoCreate(on bool) ManagerOption { return func(m *Manager) { m.autoCreate = on } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ManagerOption { return func(m *Manager) { m.now = now } }

// WithLogger sets a logger for lifecycle events.
func WithLogger(l *zap.Logger) ManagerOption { return func(m *Manager) { m.logger = l } }

// NewManager creates an empty manager. New and reset sessions start from defaults.
func NewManager(defaults Options, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:   make(map[string]*session),
		defaults:   defaults,
		policy:     PolicyQueue,
		autoCreate: true,
		now:        time.Now,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Defaults returns the options new sessions start with.
func (m *Manager) Defaults() Options { return m.defaults }

func (m *Manager) lookup(key string, create bool) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}
	if !create {
		return nil, fmt.Errorf("%q: %w", key, ErrSessionNotFound)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s, nil
	}
	s = newSession(key, m.defaults, m.now())
	m.sessions[key] = s
	m.logger.Debug("session created", zap.String("key", key))
	return s, nil
}

// GetOrCreate returns the session for key, creating it when auto-create is on.
func (m *Manager) GetOrCreate(key string) (Info, error) {
	s, err := m.lookup(key, m.autoCreate)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// Get returns the session for key without creating it.
func (m *Manager) Get(key string) (Info, error) {
	s, err := m.lookup(key, false)
	if err != nil {
		return Info{}, err
	}
	return s.info(), nil
}

// Acquire admits one turn for key and returns the function that ends it. Under the queue
// policy it waits until the session is free or ctx is done; under reject it fails with
// ErrSessionBusy. The release function is safe to call more than once.
func (m *Manager) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		s, err := m.lookup(key, m.autoCreate)
		if err != nil {
			return nil, err
		}
		if m.policy == PolicyReject {
			select {
			case s.slot <- struct{}{}:
			default:
				return nil, fmt.Errorf("%q: %w", key, ErrSessionBusy)
			}
		} else {
			select {
			case s.slot <- struct{}{}:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		s.mu.Lock()
		evicted := s.evicted
		if !evicted {
			s.lastActive = m.now()
		}
		s.mu.Unlock()
		if evicted {
			// Lost a race with eviction; the slot of an evicted session stays taken.
			continue
		}
		var once sync.Once
		return func() {
			once.Do(func() {
				s.mu.Lock()
				s.lastActive = m.now()
				s.mu.Unlock()
				<-s.slot
			})
		}, nil
	}
}

// AppendTurn appends a turn to the session history. Missing timestamps and token
// estimates are filled in.
func (m *Manager) AppendTurn(key string, turn models.Turn) error {
	s, err := m.lookup(key, m.autoCreate)
	if err != nil {
		return err
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = m.now()
	}
	if turn.Tokens <= 0 {
		turn.Tokens = window.EstimateTokens(turn.Content)
	}
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.tokens += turn.Tokens
	s.lastActive = m.now()
	m.persist(s.record())
	s.mu.Unlock()
	return nil
}

// History returns a copy of the session turns in chronological order.
func (m *Manager) History(key string) ([]models.Turn, error) {
	s, err := m.lookup(key, false)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Turn, len(s.turns))
	copy(out, s.turns)
	return out, nil
}

// Reset clears the history and restores default options. The key is kept.
func (m *Manager) Reset(key string) error {
	s, err := m.lookup(key, m.autoCreate)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.turns = nil
	s.tokens = 0
	s.options = m.defaults
	s.overrides = make(map[string]string)
	s.lastActive = m.now()
	m.persist(s.record())
	s.mu.Unlock()
	m.logger.Debug("session reset", zap.String("key", key))
	return nil
}

// ResetIfOver clears the history when it exceeds hardLimit tokens. Options are kept.
func (m *Manager) ResetIfOver(key string, hardLimit int) (bool, error) {
	s, err := m.lookup(key, false)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	turns, reset := window.ResetIfOver(s.turns, hardLimit)
	if !reset {
		s.mu.Unlock()
		return false, nil
	}
	s.turns = turns
	s.tokens = 0
	m.persist(s.record())
	s.mu.Unlock()
	m.logger.Info("session history over hard limit, cleared", zap.String("key", key), zap.Int("limit", hardLimit))
	return true, nil
}

// SetOption validates and sets one option on the session.
func (m *Manager) SetOption(key, name, value string) error {
	s, err := m.lookup(key, m.autoCreate)
	if err != nil {
		return err
	}
	s.mu.Lock()
	opts := s.options
	if err := opts.Set(name, value); err != nil {
		s.mu.Unlock()
		return err
	}
	s.options = opts
	s.overrides[name] = value
	m.persist(s.record())
	s.mu.Unlock()
	return nil
}

// Options returns the effective options of the session.
func (m *Manager) Options(key string) (Options, error) {
	s, err := m.lookup(key, m.autoCreate)
	if err != nil {
		return Options{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.options, nil
}

// Keys returns all session keys, sorted.
func (m *Manager) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// List returns a view of every session, sorted by key.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	out := make([]Info, len(sessions))
	for i, s := range sessions {
		out[i] = s.info()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// EvictIdle removes sessions inactive for longer than ttl. Sessions with a turn in flight
// are skipped. Returns the number evicted.
func (m *Manager) EvictIdle(now time.Time, ttl time.Duration) int {
	m.mu.Lock()
	var evicted []string
	for key, s := range m.sessions {
		// Taking the slot keeps a waiting Acquire from admitting a turn on a dropped session.
		select {
		case s.slot <- struct{}{}:
		default:
			continue
		}
		s.mu.Lock()
		idle := now.Sub(s.lastActive) > ttl
		if idle {
			s.evicted = true
		}
		s.mu.Unlock()
		if !idle {
			<-s.slot
			continue
		}
		delete(m.sessions, key)
		evicted = append(evicted, key)
	}
	m.mu.Unlock()

	for _, key := range evicted {
		if m.store != nil {
			if err := m.store.DeleteSession(context.Background(), key); err != nil {
				m.logger.Warn("session delete failed", zap.String("key", key), zap.Error(err))
			}
		}
		m.logger.Debug("session evicted", zap.String("key", key))
	}
	return len(evicted)
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (m *Manager) RunEviction(ctx context.Context, interval, ttl time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.EvictIdle(m.now(), ttl); n > 0 {
				m.logger.Info("idle sessions evicted", zap.Int("count", n))
			}
		}
	}
}

// Load restores persisted sessions. Stored options that no longer validate are dropped.
func (m *Manager) Load(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	records, err := m.store.LoadSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load sessions: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		s := newSession(rec.Key, m.defaults, rec.CreatedAt)
		s.lastActive = rec.LastActiveAt
		for name, value := range rec.Options {
			if err := s.options.Set(name, value); err != nil {
				m.logger.Warn("dropping stored session option", zap.String("key", rec.Key), zap.Error(err))
				continue
			}
			s.overrides[name] = value
		}
		s.turns = rec.Turns
		s.tokens = window.Measure(rec.Turns)
		m.sessions[rec.Key] = s
	}
	return len(records), nil
}

// Close persists every session and drops them all.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*session)
	m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	var errs []error
	for _, s := range sessions {
		s.mu.Lock()
		rec := s.record()
		s.mu.Unlock()
		if err := m.store.SaveSession(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// persist writes rec through to the store. Callers hold the session lock so writes for
// one key land in order.
func (m *Manager) persist(rec *models.SessionRecord) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSession(context.Background(), rec); err != nil {
		m.logger.Warn("session persist failed", zap.String("key", rec.Key), zap.Error(err))
	}
}
