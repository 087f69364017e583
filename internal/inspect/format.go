// Package inspect renders blackboard items and statistics for the CLI.
package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/chalk/internal/orchestrator"
	"github.com/dyluth/chalk/pkg/blackboard"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// FormatTable writes items as a table to w and returns the number written.
// Quality is the weighted aggregate of each item's scores.
func FormatTable(w io.Writer, items []*blackboard.Item, weights blackboard.Weights, instanceName string) int {
	if len(items) == 0 {
		fmt.Fprintf(w, "No items found for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Items for instance '%s':\n\n", instanceName)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "KIND", "STATE", "REV", "QUALITY", "AGE", "PAYLOAD"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Name: "REV", Align: text.AlignRight},
		{Name: "QUALITY", Align: text.AlignRight},
	})
	for _, it := range items {
		tw.AppendRow(table.Row{
			formatID(it.ID),
			formatKind(it.Kind),
			string(it.State),
			it.RevisionCount,
			formatQuality(it.QualityScores, weights),
			formatAge(it.CreatedAt),
			formatPayload(it.Payload),
		})
	}
	tw.Render()

	noun := "item"
	if len(items) != 1 {
		noun = "items"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(items), noun)

	return len(items)
}

// FormatJSONL writes each item as one compact JSON object per line.
func FormatJSONL(w io.Writer, items []*blackboard.Item) error {
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("failed to marshal item to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes v as indented JSON followed by a newline.
func FormatSingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// FormatStats writes the counters and per-role contribution table.
func FormatStats(w io.Writer, stats *blackboard.Statistics) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Blackboard status")
	tw.AppendHeader(table.Row{"METRIC", "VALUE"})
	tw.AppendRows([]table.Row{
		{"Total items", stats.Total},
		{"Completed", stats.Completed},
		{"Rejected", stats.Rejected},
		{"Pending", stats.Pending},
		{"In revision", stats.InRevision},
		{"Average quality (completed)", fmt.Sprintf("%.2f", stats.AverageQualityOfCompleted)},
	})
	tw.Render()

	if len(stats.PerRoleContributions) == 0 {
		return
	}

	roles := make([]string, 0, len(stats.PerRoleContributions))
	for role := range stats.PerRoleContributions {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)

	fmt.Fprintln(w)
	rt := table.NewWriter()
	rt.SetOutputMirror(w)
	rt.AppendHeader(table.Row{"ROLE", "CONTRIBUTIONS"})
	for _, role := range roles {
		rt.AppendRow(table.Row{role, stats.PerRoleContributions[blackboard.Role(role)]})
	}
	rt.Render()
}

// FormatSummary writes the counters of a finished Run.
func FormatSummary(w io.Writer, s *orchestrator.RunSummary) {
	fmt.Fprintf(w, "Processed %d pass(es) in %d iteration(s) over %s: %d completed, %d rejected, %d revised, %d agent failure(s)\n",
		s.Passes, s.Iterations, s.Duration.Round(time.Millisecond), s.Completed, s.Rejected, s.Revised, s.AgentFailures)
}

// formatID truncates item ids to 12 characters for compact display.
func formatID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatKind(kind string) string {
	if len(kind) > 20 {
		return kind[:17] + "..."
	}
	return kind
}

// formatQuality shows the weighted aggregate, or "-" before any agent scored the item.
func formatQuality(scores map[blackboard.Role]float64, weights blackboard.Weights) string {
	if len(scores) == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", blackboard.AggregateQuality(scores, weights))
}

// formatPayload renders the payload as compact JSON capped at 40 characters.
func formatPayload(payload blackboard.Payload) string {
	if len(payload) == 0 {
		return "-"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "?"
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}

// formatAge shows relative time like "2m ago".
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
