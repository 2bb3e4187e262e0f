package voyager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// TestResults is an optional Jest-style summary parsed from a well-known
// location in a worktree's workspace.
type TestResults struct {
	Passed         int     `json:"passed"`
	Failed         int     `json:"failed"`
	Skipped        int     `json:"skipped"`
	Total          int     `json:"total"`
	CoveragePercent *float64 `json:"coverage_percent,omitempty"`
}

// CodeMetrics is an optional git-shortstat summary of a worktree's diff.
type CodeMetrics struct {
	FilesChanged int `json:"files_changed"`
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
}

// ComparisonMetrics is C9's per-worktree scorecard (§4.9).
type ComparisonMetrics struct {
	WorktreeIndex         int          `json:"worktree_index"`
	Status                Status       `json:"status"`
	AvgCPUPercent         float64      `json:"avg_cpu_percent"`
	AvgMemoryMB           float64      `json:"avg_memory_mb"`
	UptimeSec             float64      `json:"uptime_sec"`
	Percentage            int          `json:"percentage"`
	StagesCompletedCount  int          `json:"stages_completed_count"`
	ErrorsCount           int          `json:"errors_count"`
	InsightsPublished     int          `json:"insights_published"`
	DecisionsParticipated int          `json:"decisions_participated"`
	Code                  *CodeMetrics `json:"code,omitempty"`
	Tests                 *TestResults `json:"tests,omitempty"`
	OverallScore          float64      `json:"overall_score"`
}

// ComparisonReport is C9's output: every worktree's metrics, ranked, plus
// the selected winner.
type ComparisonReport struct {
	ExplorationID string              `json:"exploration_id"`
	Metrics       []ComparisonMetrics `json:"metrics"` // ranked, overall_score desc
	WinnerIndex   *int                `json:"winner_index,omitempty"`
}

// ResultComparator scores and ranks an exploration's worktrees (§4.9).
type ResultComparator struct {
	collab *CollaborationCoordinator
}

// NewResultComparator scores worktrees using insights/decisions from
// sharedDir.
func NewResultComparator(sharedDir string) *ResultComparator {
	return &ResultComparator{collab: NewCollaborationCoordinator(sharedDir)}
}

// Compare builds the ComparisonReport for exp. code and tests are optional
// per-worktree-index maps the caller may have already collected (nil is
// fine — those fields are simply omitted).
func (r *ResultComparator) Compare(exp *Exploration, code map[int]*CodeMetrics, tests map[int]*TestResults) (*ComparisonReport, error) {
	insights, err := r.collab.AllInsights()
	if err != nil {
		return nil, err
	}
	decisions, err := r.collab.AllDecisions()
	if err != nil {
		return nil, err
	}

	metrics := make([]ComparisonMetrics, 0, len(exp.Worktrees))
	for _, wt := range exp.Worktrees {
		m := ComparisonMetrics{
			WorktreeIndex:        wt.Index,
			Status:               wt.Status,
			Percentage:           wt.Progress.Percentage,
			StagesCompletedCount: len(wt.Progress.StagesCompleted),
			ErrorsCount:          len(wt.Progress.Errors),
		}
		if wt.ContainerStats != nil {
			m.AvgCPUPercent = wt.ContainerStats.CPUPercent
			m.AvgMemoryMB = wt.ContainerStats.MemoryMB
			m.UptimeSec = wt.ContainerStats.UptimeSec
		}

		worktreeID := WorktreeID(wt.Index)
		for _, ins := range insights {
			if ins.WorktreeID == worktreeID {
				m.InsightsPublished++
			}
		}
		for _, d := range decisions {
			if _, voted := d.Votes[worktreeID]; voted {
				m.DecisionsParticipated++
			}
		}

		if code != nil {
			m.Code = code[wt.Index]
		}
		if tests != nil {
			m.Tests = tests[wt.Index]
		}

		m.OverallScore = scoreWorktree(m)
		metrics = append(metrics, m)
	}

	sortMetricsByScoreDesc(metrics)

	report := &ComparisonReport{ExplorationID: exp.ID, Metrics: metrics}
	for i := range metrics {
		if metrics[i].Status == StatusCompleted {
			idx := metrics[i].WorktreeIndex
			report.WinnerIndex = &idx
			break
		}
	}
	return report, nil
}

// scoreWorktree implements §4.9's overall_score formula.
func scoreWorktree(m ComparisonMetrics) float64 {
	var score float64
	switch m.Status {
	case StatusCompleted:
		score += 40
	case StatusRunning:
		score += 20
	}

	score += float64(m.Percentage) / 100 * 20

	if m.Tests != nil && m.Tests.Total > 0 {
		score += (float64(m.Tests.Passed) / float64(m.Tests.Total)) * 15
		if m.Tests.CoveragePercent != nil {
			score += (*m.Tests.CoveragePercent / 100) * 5
		}
	}

	collaboration := float64(m.InsightsPublished)*2 + float64(m.DecisionsParticipated)*3
	score += math.Min(10, collaboration)

	penalty := math.Min(10, float64(m.ErrorsCount)*2)
	score -= penalty

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func sortMetricsByScoreDesc(metrics []ComparisonMetrics) {
	for i := 1; i < len(metrics); i++ {
		for j := i; j > 0 && metrics[j].OverallScore > metrics[j-1].OverallScore; j-- {
			metrics[j], metrics[j-1] = metrics[j-1], metrics[j]
		}
	}
}

// ToJSON renders the report as pretty-printed JSON.
func (r *ComparisonReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ToMarkdown renders the report as a Markdown table.
func (r *ComparisonReport) ToMarkdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Comparison report: %s\n\n", r.ExplorationID)
	b.WriteString("| Worktree | Status | Score | Progress | Insights | Decisions |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, m := range r.Metrics {
		marker := ""
		if r.WinnerIndex != nil && *r.WinnerIndex == m.WorktreeIndex {
			marker = " 🏆"
		}
		fmt.Fprintf(&b, "| %s%s | %s | %.1f | %d%% | %d | %d |\n",
			WorktreeID(m.WorktreeIndex), marker, m.Status, m.OverallScore, m.Percentage, m.InsightsPublished, m.DecisionsParticipated)
	}
	return b.String()
}

// ToTable renders the report as a fixed-width Unicode table for CLI display.
func (r *ComparisonReport) ToTable() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "┌────────────┬───────────┬────────┬──────────┐\n")
	fmt.Fprintf(&b, "│ %-10s │ %-9s │ %6s │ %8s │\n", "Worktree", "Status", "Score", "Progress")
	fmt.Fprintf(&b, "├────────────┼───────────┼────────┼──────────┤\n")
	for _, m := range r.Metrics {
		fmt.Fprintf(&b, "│ %-10s │ %-9s │ %6.1f │ %7d%% │\n", WorktreeID(m.WorktreeIndex), m.Status, m.OverallScore, m.Percentage)
	}
	fmt.Fprintf(&b, "└────────────┴───────────┴────────┴──────────┘\n")
	return b.String()
}
