// Package cli renders engine output for the terminal and talks to a running server.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gat45/usine-a-gaz/internal/models"
	"github.com/gat45/usine-a-gaz/internal/session"
	"github.com/gat45/usine-a-gaz/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact is one line per item.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact or json", s)
	}
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	scoreStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	commandStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("135")).Italic(true)
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes retrieval results for query in the given format.
func WriteSearchResults(w io.Writer, query string, results []*models.RetrievedChunk, format OutputFormat) error {
	switch format {
	case OutputJSON:
		if results == nil {
			results = []*models.RetrievedChunk{}
		}
		return writeJSON(w, map[string]interface{}{"query": query, "results": results})
	case OutputCompact:
		for i, r := range results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, r.Score, r.DocumentID, utils.Truncate(oneLine(r.Content), 80))
		}
		return nil
	default:
		fmt.Fprintf(w, "\n%s\n\n", headerStyle.Render(fmt.Sprintf("Found %d passages for %q", len(results), query)))
		for i, r := range results {
			writeOneResult(w, i+1, r)
		}
		return nil
	}
}

func writeOneResult(w io.Writer, rank int, r *models.RetrievedChunk) {
	fmt.Fprintln(w, strings.Repeat("─", 57))
	fmt.Fprintf(w, "[%d] %s (semantic %.4f, keyword %.4f)\n",
		rank, scoreStyle.Render(fmt.Sprintf("%.4f", r.Score)), r.SemanticScore, r.KeywordScore)
	if r.Title != "" {
		fmt.Fprintf(w, "%s\n", titleStyle.Render(r.Title))
	}
	fmt.Fprintf(w, "%s\n", idStyle.Render(fmt.Sprintf("%s #%d", r.DocumentID, r.ChunkIndex)))
	fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Content, 200))
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// WriteStatus writes a status document returned by the server. Nested maps are
// flattened into dotted keys for the text format.
func WriteStatus(w io.Writer, status map[string]interface{}, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, status)
	}
	flat := make(map[string]string)
	flatten("", status, flat)
	keys := make([]string, 0, len(flat))
	width := 0
	for k := range flat {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%-*s  %s\n", width+1, k+":", styleValue(k, flat[k]))
	}
	return nil
}

func flatten(prefix string, v interface{}, out map[string]string) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			flatten(key, child, out)
		}
	case []interface{}:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		out[prefix] = strings.Join(parts, ", ")
	case float64:
		if t == float64(int64(t)) {
			out[prefix] = fmt.Sprintf("%d", int64(t))
		} else {
			out[prefix] = fmt.Sprintf("%g", t)
		}
	case nil:
		out[prefix] = "-"
	default:
		out[prefix] = fmt.Sprint(t)
	}
}

func styleValue(key, value string) string {
	if !strings.HasSuffix(key, ".status") {
		return value
	}
	switch value {
	case "running":
		return okStyle.Render(value)
	case "starting":
		return warnStyle.Render(value)
	default:
		return errStyle.Render(value)
	}
}

// WriteSessions lists sessions.
func WriteSessions(w io.Writer, sessions []session.Info, format OutputFormat) error {
	if format == OutputJSON {
		if sessions == nil {
			sessions = []session.Info{}
		}
		return writeJSON(w, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No active sessions.")
		return nil
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%d active session(s)", len(sessions))))
	for _, s := range sessions {
		busy := ""
		if s.Busy {
			busy = warnStyle.Render(" busy")
		}
		fmt.Fprintf(w, "%s  turns=%d tokens=%d last=%s%s\n",
			titleStyle.Render(s.Key), s.Turns, s.Tokens, s.LastActiveAt.Format("2006-01-02 15:04:05"), busy)
	}
	return nil
}

// WriteReply prints one chat reply. Command replies are set apart from model output.
func WriteReply(w io.Writer, content string, isCommand bool) {
	if isCommand {
		fmt.Fprintln(w, commandStyle.Render(content))
		return
	}
	fmt.Fprintln(w, assistantStyle.Render(content))
}

// WriteError prints an error line.
func WriteError(w io.Writer, err error) {
	fmt.Fprintln(w, errStyle.Render("error: ")+err.Error())
}
