package window

import (
	"strings"
	"testing"

	"github.com/gat45/usine-a-gaz/internal/models"
)

func turn(role models.Role, tokens int) models.Turn {
	return models.Turn{Role: role, Content: strings.Repeat("x", tokens*4), Tokens: tokens}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"héllo wörld", 3},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestFit_keepsNewestSuffix(t *testing.T) {
	turns := []models.Turn{
		turn(models.RoleUser, 4),
		turn(models.RoleAssistant, 4),
		turn(models.RoleUser, 4),
	}
	got := Fit(turns, 10)
	if len(got) != 2 {
		t.Fatalf("got %d turns, want 2", len(got))
	}
	if got[0].Role != models.RoleAssistant || got[1].Role != models.RoleUser {
		t.Errorf("wrong suffix: %v, %v", got[0].Role, got[1].Role)
	}
	if Measure(got) != 8 {
		t.Errorf("Measure = %d, want 8", Measure(got))
	}
}

func TestFit_truncatesOversizedNewest(t *testing.T) {
	content := strings.Repeat("a", 40) + strings.Repeat("b", 40)
	turns := []models.Turn{
		turn(models.RoleUser, 2),
		{Role: models.RoleUser, Content: content, Tokens: EstimateTokens(content)},
	}
	got := Fit(turns, 10)
	if len(got) != 1 {
		t.Fatalf("got %d turns, want 1", len(got))
	}
	if got[0].Content != strings.Repeat("b", 40) {
		t.Errorf("expected the tail to be kept, got %q", got[0].Content)
	}
	if Measure(got) > 10 {
		t.Errorf("truncated turn exceeds budget: %d", Measure(got))
	}
	if turns[1].Content != content {
		t.Error("input must not be modified")
	}
}

func TestFit_withinBudget(t *testing.T) {
	budgets := []int{1, 3, 7, 12, 100}
	turns := []models.Turn{
		turn(models.RoleUser, 3),
		turn(models.RoleAssistant, 5),
		turn(models.RoleUser, 2),
		turn(models.RoleAssistant, 6),
	}
	for _, b := range budgets {
		got := Fit(turns, b)
		if Measure(got) > b {
			t.Errorf("Fit(budget=%d) measure %d exceeds budget", b, Measure(got))
		}
		if len(got) == 0 {
			t.Errorf("Fit(budget=%d) dropped the newest turn", b)
		}
	}
}

func TestFit_emptyAndZeroBudget(t *testing.T) {
	if got := Fit(nil, 10); got != nil {
		t.Errorf("Fit(nil) = %v", got)
	}
	if got := Fit([]models.Turn{turn(models.RoleUser, 1)}, 0); got != nil {
		t.Errorf("Fit(budget 0) = %v", got)
	}
}

func TestMeasure_estimatesWhenUnset(t *testing.T) {
	turns := []models.Turn{{Content: "abcdefgh"}, {Content: "abc"}}
	if got := Measure(turns); got != 3 {
		t.Errorf("Measure = %d, want 3", got)
	}
}

func TestResetIfOver(t *testing.T) {
	history := []models.Turn{turn(models.RoleUser, 6), turn(models.RoleAssistant, 6)}
	got, reset := ResetIfOver(history, 10)
	if !reset || len(got) != 0 || Measure(got) != 0 {
		t.Errorf("expected reset, got %v (%d turns)", reset, len(got))
	}
	got, reset = ResetIfOver(history, 12)
	if reset || len(got) != 2 {
		t.Errorf("history at the limit should be kept, reset=%v", reset)
	}
}

func TestManager(t *testing.T) {
	m := NewManager(100, 40, 400)
	if m.HistoryBudget() != 60 {
		t.Errorf("HistoryBudget = %d", m.HistoryBudget())
	}
	turns := []models.Turn{turn(models.RoleUser, 50), turn(models.RoleAssistant, 20), turn(models.RoleUser, 30)}
	if got := m.Window(turns); len(got) != 2 {
		t.Errorf("Window kept %d turns, want 2", len(got))
	}
	clamped := NewManager(10, 20, 40)
	if clamped.HistoryBudget() != 1 {
		t.Errorf("reserve should be clamped, budget = %d", clamped.HistoryBudget())
	}
}
