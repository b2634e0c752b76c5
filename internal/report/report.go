package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"tracecheck/internal/rules"
)

// CategoryStats aggregates rule outcomes for one category.
type CategoryStats struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Summary groups per-category aggregates.
type Summary struct {
	Categories map[string]CategoryStats `json:"categories"`
}

// Report is the immutable aggregate of one validation run. Results keep
// registry execution order; the JSON shape is the integration contract
// for CI pipelines gating on success_rate.
type Report struct {
	Level       string         `json:"validation_level"`
	TotalRules  int            `json:"total_rules"`
	PassedRules int            `json:"passed_rules"`
	FailedRules int            `json:"failed_rules"`
	SuccessRate float64        `json:"success_rate"`
	Summary     Summary        `json:"summary"`
	Results     []rules.Result `json:"results"`
	GeneratedAt string         `json:"generated_at,omitempty"`
}

// Build aggregates rule results into a report. Counts always satisfy
// passed+failed == total and per-category totals sum to total;
// success_rate is 0 when no rules ran.
func Build(level rules.Level, results []rules.Result, now time.Time) *Report {
	r := &Report{
		Level:   level.String(),
		Results: results,
		Summary: Summary{Categories: map[string]CategoryStats{}},
	}
	for _, res := range results {
		r.TotalRules++
		stats := r.Summary.Categories[string(res.Category)]
		stats.Total++
		if res.Passed {
			r.PassedRules++
			stats.Passed++
		} else {
			r.FailedRules++
			stats.Failed++
		}
		r.Summary.Categories[string(res.Category)] = stats
	}
	if r.TotalRules > 0 {
		r.SuccessRate = float64(r.PassedRules) / float64(r.TotalRules)
	}
	if !now.IsZero() {
		r.GeneratedAt = now.UTC().Format(time.RFC3339)
	}
	return r
}

// Save writes the canonical JSON representation to path, creating the
// parent directory if needed.
func (r *Report) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// PrintSummary renders the human-readable summary: overall counts, a
// per-category table and every failed rule with its message.
func (r *Report) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "Validation summary (%s)\n", r.Level)
	fmt.Fprintf(w, "Rules: %d total, %d passed, %d failed\n", r.TotalRules, r.PassedRules, r.FailedRules)
	fmt.Fprintf(w, "Success rate: %.1f%%\n", r.SuccessRate*100)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Category", "Total", "Passed", "Failed"})
	for _, cat := range rules.Categories() {
		stats, ok := r.Summary.Categories[string(cat)]
		if !ok {
			continue
		}
		tw.AppendRow(table.Row{string(cat), stats.Total, stats.Passed, stats.Failed})
	}
	tw.Render()

	if r.FailedRules > 0 {
		fmt.Fprintln(w, "Failed rules:")
		for _, res := range r.Results {
			if !res.Passed {
				fmt.Fprintf(w, "  - %s: %s\n", res.RuleName, res.Message)
			}
		}
	}
}
