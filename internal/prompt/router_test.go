package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemble_order(t *testing.T) {
	r := NewRouter("You are helpful.")
	msgs := r.Assemble(Input{
		Passages: []*models.RetrievedChunk{
			{Title: "low", Content: "second passage", Score: 0.3},
			{Title: "high", Content: "first passage", Score: 0.9},
		},
		Enrichment: "companion notes",
		History: []models.Turn{
			{Role: models.RoleUser, Content: "q1"},
			{Role: models.RoleAssistant, Content: "a1"},
		},
		User: "q2",
	})
	require.Len(t, msgs, 6)
	assert.Equal(t, models.Message{Role: models.RoleSystem, Content: "You are helpful."}, msgs[0])
	assert.Equal(t, models.RoleSystem, msgs[1].Role)
	assert.Less(t, strings.Index(msgs[1].Content, "first passage"), strings.Index(msgs[1].Content, "second passage"))
	assert.Contains(t, msgs[1].Content, "[1] high")
	assert.Equal(t, models.RoleSystem, msgs[2].Role)
	assert.Contains(t, msgs[2].Content, "companion notes")
	assert.Equal(t, "q1", msgs[3].Content)
	assert.Equal(t, models.RoleAssistant, msgs[4].Role)
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "q2"}, msgs[5])
}

func TestAssemble_minimal(t *testing.T) {
	msgs := NewRouter("  ").Assemble(Input{User: "hi"})
	require.Len(t, msgs, 1)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
}

func TestAssemble_referenceNeverInterleaves(t *testing.T) {
	msgs := NewRouter("sys").Assemble(Input{
		Passages: []*models.RetrievedChunk{{Content: "p", Score: 1}},
		History:  []models.Turn{{Role: models.RoleUser, Content: "u"}, {Role: models.RoleAssistant, Content: "a"}},
		User:     "now",
	})
	seenDialogue := false
	for _, m := range msgs {
		if m.Role != models.RoleSystem {
			seenDialogue = true
		} else {
			assert.False(t, seenDialogue, "system block after dialogue")
		}
	}
}

func TestLoadMasterPrompt(t *testing.T) {
	got, err := LoadMasterPrompt("inline", "/does/not/matter")
	require.NoError(t, err)
	assert.Equal(t, "inline", got)

	path := filepath.Join(t.TempDir(), "master.txt")
	require.NoError(t, os.WriteFile(path, []byte("from file"), 0600))
	got, err = LoadMasterPrompt("", path)
	require.NoError(t, err)
	assert.Equal(t, "from file", got)

	_, err = LoadMasterPrompt("", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	got, err = LoadMasterPrompt("", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}
