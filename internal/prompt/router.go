// Package prompt assembles the message sequence sent to the inference backend.
package prompt

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gat45/usine-a-gaz/internal/models"
)

const (
	referenceHeader  = "Reference material (use it when relevant, cite the bracketed number):"
	enrichmentHeader = "Additional reference material from a related search:"
)

// Input is everything needed to build one prompt. History must not include the
// current user turn.
type Input struct {
	Passages   []*models.RetrievedChunk
	Enrichment string
	History    []models.Turn
	User       string
}

// Router builds prompts around a fixed master prompt.
type Router struct {
	master string
}

// NewRouter creates a router. An empty master prompt adds no system block.
func NewRouter(master string) *Router {
	return &Router{master: strings.TrimSpace(master)}
}

// MasterPrompt returns the configured master prompt.
func (r *Router) MasterPrompt() string { return r.master }

// Assemble returns the messages in this order: master prompt, retrieved passages by
// descending score, pending enrichment, history in chronological order, current user turn.
// Reference blocks always precede the dialogue.
func (r *Router) Assemble(in Input) []models.Message {
	msgs := make([]models.Message, 0, len(in.History)+4)
	if r.master != "" {
		msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: r.master})
	}
	if block := referenceBlock(in.Passages); block != "" {
		msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: block})
	}
	if e := strings.TrimSpace(in.Enrichment); e != "" {
		msgs = append(msgs, models.Message{Role: models.RoleSystem, Content: enrichmentHeader + "\n\n" + e})
	}
	for _, t := range in.History {
		msgs = append(msgs, models.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, models.Message{Role: models.RoleUser, Content: in.User})
	return msgs
}

func referenceBlock(passages []*models.RetrievedChunk) string {
	if len(passages) == 0 {
		return ""
	}
	sorted := make([]*models.RetrievedChunk, len(passages))
	copy(sorted, passages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var b strings.Builder
	b.WriteString(referenceHeader)
	for i, p := range sorted {
		b.WriteString("\n\n")
		if p.Title != "" {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, p.Title)
		} else {
			fmt.Fprintf(&b, "[%d]\n", i+1)
		}
		b.WriteString(p.Content)
	}
	return b.String()
}

// LoadMasterPrompt returns the inline prompt, or the contents of path when inline is empty.
func LoadMasterPrompt(inline, path string) (string, error) {
	if strings.TrimSpace(inline) != "" || path == "" {
		return inline, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read master prompt: %w", err)
	}
	return string(data), nil
}
