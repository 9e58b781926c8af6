// Package window bounds conversation history to a token budget.
package window

import (
	"unicode/utf8"

	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/pkg/utils"
)

// runesPerToken is the estimation ratio used for every budget in the system.
const runesPerToken = 4

// EstimateTokens returns ceil(runes/4) for text.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + runesPerToken - 1) / runesPerToken
}

// Cost returns the token cost of a turn: its recorded estimate, or a fresh one when unset.
func Cost(t models.Turn) int {
	if t.Tokens > 0 {
		return t.Tokens
	}
	return EstimateTokens(t.Content)
}

// Measure returns the cumulative estimated cost of turns.
func Measure(turns []models.Turn) int {
	total := 0
	for _, t := range turns {
		total += Cost(t)
	}
	return total
}

// Fit returns the longest suffix of turns whose cost is within maxTokens, in
// chronological order. The newest turn is always kept; when it alone exceeds the budget
// its content is cut to the tail that fits. A non-positive budget yields nil.
// The input slice is never modified.
func Fit(turns []models.Turn, maxTokens int) []models.Turn {
	if len(turns) == 0 || maxTokens <= 0 {
		return nil
	}
	last := turns[len(turns)-1]
	if cost := Cost(last); cost > maxTokens {
		last.Content = utils.TailRunes(last.Content, maxTokens*runesPerToken)
		last.Tokens = EstimateTokens(last.Content)
		return []models.Turn{last}
	}
	used := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := Cost(turns[i])
		if used+cost > maxTokens {
			break
		}
		used += cost
		start = i
	}
	out := make([]models.Turn, len(turns)-start)
	copy(out, turns[start:])
	return out
}

// ResetIfOver returns an empty history and true when history costs more than hardLimit.
// Otherwise history is returned unchanged.
func ResetIfOver(history []models.Turn, hardLimit int) ([]models.Turn, bool) {
	if hardLimit > 0 && Measure(history) > hardLimit {
		return nil, true
	}
	return history, false
}

// Manager applies the configured budgets. The history budget is the context window minus
// the tokens reserved for the system prompt, retrieved passages and the current turn.
type Manager struct {
	maxContextTokens int
	reserveTokens    int
	hardLimitTokens  int
}

// NewManager creates a Manager. reserve is clamped to [0, maxContext).
func NewManager(maxContext, reserve, hardLimit int) *Manager {
	if reserve < 0 {
		reserve = 0
	}
	if reserve >= maxContext {
		reserve = maxContext - 1
	}
	return &Manager{maxContextTokens: maxContext, reserveTokens: reserve, hardLimitTokens: hardLimit}
}

// HistoryBudget returns the tokens available to history.
func (m *Manager) HistoryBudget() int { return m.maxContextTokens - m.reserveTokens }

// MaxContextTokens returns the full context window size.
func (m *Manager) MaxContextTokens() int { return m.maxContextTokens }

// HardLimit returns the ceiling above which history is cleared.
func (m *Manager) HardLimit() int { return m.hardLimitTokens }

// Window fits turns into the history budget.
func (m *Manager) Window(turns []models.Turn) []models.Turn {
	return Fit(turns, m.HistoryBudget())
}
