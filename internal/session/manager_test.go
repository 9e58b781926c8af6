package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/storage"
	"github.com/gat45/usine-a-gaz/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() Options { return DefaultOptions(true, 5, false) }

func userTurn(text string) models.Turn {
	return models.Turn{Role: models.RoleUser, Content: text}
}

func TestManager_appendAndHistory(t *testing.T) {
	m := NewManager(defaults())
	require.NoError(t, m.AppendTurn("alice", userTurn("hello")))
	require.NoError(t, m.AppendTurn("alice", models.Turn{Role: models.RoleAssistant, Content: "hi there"}))

	history, err := m.History("alice")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, window.EstimateTokens("hello"), history[0].Tokens)
	assert.False(t, history[0].Timestamp.IsZero())

	info, err := m.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, info.Turns)
	assert.Equal(t, window.Measure(history), info.Tokens)
}

func TestManager_autoCreateOff(t *testing.T) {
	m := NewManager(defaults(), WithAutoCreate(false))
	err := m.AppendTurn("ghost", userTurn("boo"))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Acquire(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, m.Len())
}

func TestManager_resetRestoresDefaults(t *testing.T) {
	m := NewManager(defaults())
	require.NoError(t, m.AppendTurn("k", userTurn("some words")))
	require.NoError(t, m.SetOption("k", "temperature", "1.5"))

	require.NoError(t, m.Reset("k"))
	history, err := m.History("k")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, 0, window.Measure(history))
	opts, err := m.Options("k")
	require.NoError(t, err)
	assert.Equal(t, defaults(), opts)
	assert.Equal(t, []string{"k"}, m.Keys())
}

func TestManager_setOption(t *testing.T) {
	m := NewManager(defaults())
	require.NoError(t, m.SetOption("k", "top_k", "8"))
	require.NoError(t, m.SetOption("k", "rag", "off"))
	opts, err := m.Options("k")
	require.NoError(t, err)
	assert.Equal(t, 8, opts.TopK)
	assert.False(t, opts.RAG)

	assert.ErrorIs(t, m.SetOption("k", "colour", "blue"), ErrUnknownOption)
	assert.Error(t, m.SetOption("k", "temperature", "3"))
	assert.Error(t, m.SetOption("k", "top_k", "many"))
	opts, _ = m.Options("k")
	assert.Equal(t, 0.7, opts.Temperature, "failed set must not change options")
}

func TestManager_acquireSerializesSameKey(t *testing.T) {
	m := NewManager(defaults())
	ctx := context.Background()
	release, err := m.Acquire(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := m.Acquire(ctx, "k")
		if err == nil {
			close(acquired)
			r()
		}
	}()
	select {
	case <-acquired:
		t.Fatal("second Acquire on the same key must wait")
	case <-time.After(50 * time.Millisecond):
	}

	other, err := m.Acquire(ctx, "other")
	require.NoError(t, err, "distinct keys are independent")
	other()

	release()
	release()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("queued Acquire was not admitted after release")
	}
}

func TestManager_acquireReject(t *testing.T) {
	m := NewManager(defaults(), WithPolicy(PolicyReject))
	release, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)
	_, err = m.Acquire(context.Background(), "k")
	assert.ErrorIs(t, err, ErrSessionBusy)
	release()
	again, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)
	again()
}

func TestManager_acquireHonorsContext(t *testing.T) {
	m := NewManager(defaults())
	release, err := m.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_concurrentKeys(t *testing.T) {
	m := NewManager(defaults())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		key := fmt.Sprintf("user-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				release, err := m.Acquire(context.Background(), key)
				if err != nil {
					t.Error(err)
					return
				}
				_ = m.AppendTurn(key, userTurn(fmt.Sprintf("msg %d", j)))
				release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, m.Len())
	for _, k := range m.Keys() {
		h, err := m.History(k)
		require.NoError(t, err)
		assert.Len(t, h, 20)
		for j, turn := range h {
			assert.Equal(t, fmt.Sprintf("msg %d", j), turn.Content)
		}
	}
}

func TestManager_evictIdle(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager(defaults(), WithClock(func() time.Time { return now }))
	require.NoError(t, m.AppendTurn("idle", userTurn("x")))
	require.NoError(t, m.AppendTurn("busy", userTurn("y")))
	release, err := m.Acquire(context.Background(), "busy")
	require.NoError(t, err)

	later := now.Add(time.Hour)
	n := m.EvictIdle(later, 30*time.Minute)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"busy"}, m.Keys())

	release()
	_, err = m.Get("idle")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_resetIfOver(t *testing.T) {
	m := NewManager(defaults())
	require.NoError(t, m.AppendTurn("k", models.Turn{Role: models.RoleUser, Content: "abc", Tokens: 8}))
	require.NoError(t, m.AppendTurn("k", models.Turn{Role: models.RoleAssistant, Content: "def", Tokens: 8}))
	reset, err := m.ResetIfOver("k", 20)
	require.NoError(t, err)
	assert.False(t, reset)
	reset, err = m.ResetIfOver("k", 10)
	require.NoError(t, err)
	assert.True(t, reset)
	h, _ := m.History("k")
	assert.Empty(t, h)
}

func TestManager_persistence(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	m := NewManager(defaults(), WithStore(store))
	require.NoError(t, m.AppendTurn("k", userTurn("remember me")))
	require.NoError(t, m.SetOption("k", "max_tokens", "99"))
	require.NoError(t, m.Close(ctx))
	assert.Equal(t, 0, m.Len())

	restored := NewManager(defaults(), WithStore(store))
	n, err := restored.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h, err := restored.History("k")
	require.NoError(t, err)
	require.Len(t, h, 1)
	assert.Equal(t, "remember me", h[0].Content)
	opts, err := restored.Options("k")
	require.NoError(t, err)
	assert.Equal(t, 99, opts.MaxTokens)

	restored.EvictIdle(time.Now().Add(48*time.Hour), time.Hour)
	records, err := store.LoadSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "evicted sessions are removed from the store")
}

func TestParseBusyPolicy(t *testing.T) {
	p, err := ParseBusyPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyQueue, p)
	p, err = ParseBusyPolicy("reject")
	require.NoError(t, err)
	assert.Equal(t, PolicyReject, p)
	_, err = ParseBusyPolicy("drop")
	assert.Error(t, err)
}
