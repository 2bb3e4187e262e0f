package voyager

import "time"

// InsightType classifies a published Insight.
type InsightType string

const (
	InsightFinding      InsightType = "finding"
	InsightWarning      InsightType = "warning"
	InsightDecisionNote InsightType = "decision_note"
	InsightProgress     InsightType = "progress"
	InsightOther        InsightType = "other"
)

// Insight is an immutable record published by a worker (§3).
type Insight struct {
	ID          string            `json:"id"`
	WorktreeID  string            `json:"worktree_id"`
	Type        InsightType       `json:"type"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// DecisionOption is one choice offered by a Decision.
type DecisionOption struct {
	Index       int      `json:"index"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Pros        []string `json:"pros,omitempty"`
	Cons        []string `json:"cons,omitempty"`
}

// Decision is a proposal with votes (§3).
type Decision struct {
	ID            string           `json:"id"`
	Topic         string           `json:"topic"`
	Rationale     string           `json:"rationale,omitempty"`
	Options       []DecisionOption `json:"options"`
	Votes         map[string]int   `json:"votes"` // worktree_id -> option index
	ChosenOption  *int             `json:"chosen_option,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}

// InsightsPool is the container document for insights-pool.json.
type InsightsPool struct {
	SchemaVersion int       `json:"schema_version"`
	ExplorationID string    `json:"exploration_id"`
	Insights      []Insight `json:"insights"`
	TotalCount    int       `json:"total_count"`
	LastUpdated   time.Time `json:"last_updated"`
}

// DecisionsPool is the container document for decisions-pool.json.
type DecisionsPool struct {
	SchemaVersion int        `json:"schema_version"`
	ExplorationID string     `json:"exploration_id"`
	Decisions     []Decision `json:"decisions"`
	TotalCount    int        `json:"total_count"`
	LastUpdated   time.Time  `json:"last_updated"`
}

// LatestInsightFile backs worktree-<i>/latest-insight.json.
type LatestInsightFile struct {
	WorktreeIndex int       `json:"worktree_index"`
	Insight       *Insight  `json:"insight"`
	LastUpdated   time.Time `json:"last_updated"`
}

// MetricsFile backs worktree-<i>/metrics.json.
type MetricsFile struct {
	WorktreeIndex         int       `json:"worktree_index"`
	InsightsPublished     int       `json:"insights_published"`
	DecisionsParticipated int       `json:"decisions_participated"`
	LastUpdated           time.Time `json:"last_updated"`
}

// ProgressFile backs worktree-<i>/progress.json, self-reported by the
// worker running inside the container.
type ProgressFile struct {
	WorktreeIndex   int       `json:"worktree_index"`
	CurrentStage    string    `json:"current_stage"`
	Percentage      int       `json:"percentage"`
	StagesCompleted []string  `json:"stages_completed"`
	Errors          []string  `json:"errors"`
	LastUpdated     time.Time `json:"last_updated"`
}
