package command

import (
	"context"
	"testing"

	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/session"
	"github.com/gat45/usine-a-gaz/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		in   string
		want Input
	}{
		{"hello there", Input{Kind: Conversation, Text: "hello there"}},
		{"  not >>> a command", Input{Kind: Conversation, Text: "  not >>> a command"}},
		{">>> reset", Input{Kind: Reset}},
		{">>>RESET", Input{Kind: Reset}},
		{">>> config", Input{Kind: ShowConfig}},
		{">>> show-config", Input{Kind: ShowConfig}},
		{">>> config temperature=0.2", Input{Kind: SetConfig, Key: "temperature", Value: "0.2"}},
		{">>> set top_k 3", Input{Kind: SetConfig, Key: "top_k", Value: "3"}},
		{">>> set rag=off", Input{Kind: SetConfig, Key: "rag", Value: "off"}},
		{">>> status", Input{Kind: ShowStatus}},
		{">>> help", Input{Kind: Help}},
	}
	for _, tt := range tests {
		got, err := Classify(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestClassify_errors(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{">>> launch", ErrUnknownCommand},
		{">>>", ErrCommandUsage},
		{">>> set", ErrCommandUsage},
		{">>> set top_k", ErrCommandUsage},
		{">>> config top_k", ErrCommandUsage},
		{">>> set model gpt", ErrInvalidConfigKey},
		{">>> config color=blue", ErrInvalidConfigKey},
	}
	for _, tt := range tests {
		_, err := Classify(tt.in)
		assert.ErrorIs(t, err, tt.want, tt.in)
	}
}

func TestDispatch_resetClearsHistory(t *testing.T) {
	m := session.NewManager(session.DefaultOptions(true, 5, false))
	require.NoError(t, m.AppendTurn("k", models.Turn{Role: models.RoleUser, Content: "hello"}))
	require.NoError(t, m.AppendTurn("k", models.Turn{Role: models.RoleAssistant, Content: "hi"}))

	in, err := Classify(">>> reset")
	require.NoError(t, err)
	res, err := NewDispatcher(m, nil).Dispatch(context.Background(), "k", in)
	require.NoError(t, err)
	assert.Equal(t, Reset, res.Kind)

	h, err := m.History("k")
	require.NoError(t, err)
	assert.Equal(t, 0, window.Measure(h))
}

func TestDispatch_configAndStatus(t *testing.T) {
	m := session.NewManager(session.DefaultOptions(true, 5, false))
	d := NewDispatcher(m, func(ctx context.Context) (string, any) {
		return "primary: running", map[string]string{"primary": "running"}
	})
	ctx := context.Background()

	in, _ := Classify(">>> set temperature 1.2")
	_, err := d.Dispatch(ctx, "k", in)
	require.NoError(t, err)
	in, _ = Classify(">>> config")
	res, err := d.Dispatch(ctx, "k", in)
	require.NoError(t, err)
	assert.Contains(t, res.Message, "temperature = 1.2")

	in, _ = Classify(">>> set temperature 9")
	_, err = d.Dispatch(ctx, "k", in)
	assert.ErrorIs(t, err, ErrCommandUsage)

	res, err = d.Dispatch(ctx, "k", Input{Kind: ShowStatus})
	require.NoError(t, err)
	assert.Equal(t, "primary: running", res.Message)

	res, err = d.Dispatch(ctx, "k", Input{Kind: Help})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "reset")

	_, err = d.Dispatch(ctx, "k", Input{Kind: Conversation, Text: "hi"})
	assert.Error(t, err)
	_, err = d.Dispatch(ctx, "k", Input{Kind: Kind(99)})
	assert.ErrorIs(t, err, ErrUnknownCommand)
}
