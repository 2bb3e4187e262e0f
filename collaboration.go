package voyager

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// CollaborationCoordinator publishes and queries insights and decisions
// through a FileLockManager, backed by insights-pool.json and
// decisions-pool.json (§4.6).
type CollaborationCoordinator struct {
	insightsLock  *FileLockManager
	decisionsLock *FileLockManager
	clock         Clock
}

// NewCollaborationCoordinator roots the coordinator at the shared volume
// directory sharedDir.
func NewCollaborationCoordinator(sharedDir string) *CollaborationCoordinator {
	return &CollaborationCoordinator{
		insightsLock:  NewFileLockManager(filepath.Join(sharedDir, "insights-pool.json"), "coordinator"),
		decisionsLock: NewFileLockManager(filepath.Join(sharedDir, "decisions-pool.json"), "coordinator"),
		clock:         SystemClock,
	}
}

// PublishInsightOptions is the input to PublishInsight.
type PublishInsightOptions struct {
	WorktreeID string
	Type       InsightType
	Title      string
	Content    string
	Tags       []string
	Metadata   map[string]string
}

// PublishInsight appends a new Insight with a server-assigned id and
// timestamp, and updates the pool's total_count.
func (c *CollaborationCoordinator) PublishInsight(explorationID string, opts PublishInsightOptions) (*Insight, error) {
	insight := Insight{
		ID:         uuid.NewString(),
		WorktreeID: opts.WorktreeID,
		Type:       opts.Type,
		Title:      opts.Title,
		Content:    opts.Content,
		Tags:       opts.Tags,
		Metadata:   opts.Metadata,
		Timestamp:  c.clock.Now(),
	}

	err := c.insightsLock.UpdateWithLock(func(current []byte) (any, error) {
		pool := decodeInsightsPool(current, explorationID)
		pool.Insights = append(pool.Insights, insight)
		pool.TotalCount = len(pool.Insights)
		pool.LastUpdated = c.clock.Now()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return &insight, nil
}

func decodeInsightsPool(current []byte, explorationID string) InsightsPool {
	var pool InsightsPool
	if len(current) > 0 {
		if err := json.Unmarshal(current, &pool); err == nil {
			return pool
		}
	}
	return InsightsPool{SchemaVersion: 1, ExplorationID: explorationID, Insights: []Insight{}}
}

func decodeDecisionsPool(current []byte, explorationID string) DecisionsPool {
	var pool DecisionsPool
	if len(current) > 0 {
		if err := json.Unmarshal(current, &pool); err == nil {
			return pool
		}
	}
	return DecisionsPool{SchemaVersion: 1, ExplorationID: explorationID, Decisions: []Decision{}}
}

// AllInsights returns every insight currently in the pool.
func (c *CollaborationCoordinator) AllInsights() ([]Insight, error) {
	var pool InsightsPool
	if err := c.insightsLock.ReadWithLock(&pool); err != nil {
		return nil, err
	}
	return pool.Insights, nil
}

// InsightsByType filters AllInsights by type.
func (c *CollaborationCoordinator) InsightsByType(t InsightType) ([]Insight, error) {
	all, err := c.AllInsights()
	if err != nil {
		return nil, err
	}
	var out []Insight
	for _, i := range all {
		if i.Type == t {
			out = append(out, i)
		}
	}
	return out, nil
}

// InsightsByTag returns insights that have any of the given tags.
func (c *CollaborationCoordinator) InsightsByTag(tags ...string) ([]Insight, error) {
	all, err := c.AllInsights()
	if err != nil {
		return nil, err
	}
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	var out []Insight
	for _, i := range all {
		for _, t := range i.Tags {
			if want[t] {
				out = append(out, i)
				break
			}
		}
	}
	return out, nil
}

// InsightsFromOtherWorktrees returns insights not authored by worktreeID.
func (c *CollaborationCoordinator) InsightsFromOtherWorktrees(worktreeID string) ([]Insight, error) {
	all, err := c.AllInsights()
	if err != nil {
		return nil, err
	}
	var out []Insight
	for _, i := range all {
		if i.WorktreeID != worktreeID {
			out = append(out, i)
		}
	}
	return out, nil
}

// RecentInsights returns the last n insights by insertion order.
func (c *CollaborationCoordinator) RecentInsights(n int) ([]Insight, error) {
	all, err := c.AllInsights()
	if err != nil {
		return nil, err
	}
	if n >= len(all) {
		return all, nil
	}
	if n <= 0 {
		return nil, nil
	}
	return all[len(all)-n:], nil
}

// SearchInsights does a case-insensitive search over title/content/tags.
func (c *CollaborationCoordinator) SearchInsights(query string) ([]Insight, error) {
	all, err := c.AllInsights()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []Insight
	for _, i := range all {
		if strings.Contains(strings.ToLower(i.Title), q) || strings.Contains(strings.ToLower(i.Content), q) {
			out = append(out, i)
			continue
		}
		for _, t := range i.Tags {
			if strings.Contains(strings.ToLower(t), q) {
				out = append(out, i)
				break
			}
		}
	}
	return out, nil
}

// ProposeDecisionOptions is the input to ProposeDecision.
type ProposeDecisionOptions struct {
	Topic     string
	Rationale string
	Options   []DecisionOption
}

// ProposeDecision appends a Decision with normalised option indices and no
// votes yet.
func (c *CollaborationCoordinator) ProposeDecision(explorationID string, opts ProposeDecisionOptions) (*Decision, error) {
	normalized := make([]DecisionOption, len(opts.Options))
	for i, o := range opts.Options {
		o.Index = i
		normalized[i] = o
	}

	decision := Decision{
		ID:        uuid.NewString(),
		Topic:     opts.Topic,
		Rationale: opts.Rationale,
		Options:   normalized,
		Votes:     map[string]int{},
		Timestamp: c.clock.Now(),
	}

	err := c.decisionsLock.UpdateWithLock(func(current []byte) (any, error) {
		pool := decodeDecisionsPool(current, explorationID)
		pool.Decisions = append(pool.Decisions, decision)
		pool.TotalCount = len(pool.Decisions)
		pool.LastUpdated = c.clock.Now()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

// VoteOnDecisionOptions is the input to VoteOnDecision.
type VoteOnDecisionOptions struct {
	DecisionID  string
	OptionIndex int
	VoterID     string
}

// VoteOnDecision records voter_id's vote (last write wins per voter), then
// recomputes vote counts and sets chosen_option to the first option
// reaching ceil(total_votes/2), if not already set. Resolution is sticky:
// once chosen, the field is never revisited by later votes.
func (c *CollaborationCoordinator) VoteOnDecision(explorationID string, opts VoteOnDecisionOptions) (*Decision, error) {
	var result *Decision
	err := c.decisionsLock.UpdateWithLock(func(current []byte) (any, error) {
		pool := decodeDecisionsPool(current, explorationID)
		for i := range pool.Decisions {
			d := &pool.Decisions[i]
			if d.ID != opts.DecisionID {
				continue
			}
			d.Votes[opts.VoterID] = opts.OptionIndex
			if d.ChosenOption == nil {
				if winner, ok := majorityWinner(d.Votes, len(d.Options)); ok {
					w := winner
					d.ChosenOption = &w
					now := c.clock.Now()
					d.ResolvedAt = &now
				}
			}
			cp := *d
			result = &cp
			break
		}
		pool.LastUpdated = c.clock.Now()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// majorityWinner returns the lowest-indexed option (0..numOptions-1) whose
// vote count has reached ceil(total/2), or false if none has.
func majorityWinner(votes map[string]int, numOptions int) (int, bool) {
	total := len(votes)
	if total == 0 {
		return 0, false
	}
	threshold := (total + 1) / 2 // ceil(total/2)
	counts := make([]int, numOptions)
	for _, opt := range votes {
		if opt >= 0 && opt < numOptions {
			counts[opt]++
		}
	}
	for opt, count := range counts {
		if count >= threshold {
			return opt, true
		}
	}
	return 0, false
}

// AllDecisions returns every decision in the pool.
func (c *CollaborationCoordinator) AllDecisions() ([]Decision, error) {
	var pool DecisionsPool
	if err := c.decisionsLock.ReadWithLock(&pool); err != nil {
		return nil, err
	}
	return pool.Decisions, nil
}

// PendingDecisions returns decisions with no chosen_option yet.
func (c *CollaborationCoordinator) PendingDecisions() ([]Decision, error) {
	all, err := c.AllDecisions()
	if err != nil {
		return nil, err
	}
	var out []Decision
	for _, d := range all {
		if d.ChosenOption == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// ResolvedDecisions returns decisions with a chosen_option.
func (c *CollaborationCoordinator) ResolvedDecisions() ([]Decision, error) {
	all, err := c.AllDecisions()
	if err != nil {
		return nil, err
	}
	var out []Decision
	for _, d := range all {
		if d.ChosenOption != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// DecisionByID looks up a single decision.
func (c *CollaborationCoordinator) DecisionByID(id string) (*Decision, error) {
	all, err := c.AllDecisions()
	if err != nil {
		return nil, err
	}
	for _, d := range all {
		if d.ID == id {
			cp := d
			return &cp, nil
		}
	}
	return nil, nil
}

// CollaborationStats summarises the pool for display (§4.6 getStats).
type CollaborationStats struct {
	TotalInsights      int            `json:"total_insights"`
	TotalDecisions     int            `json:"total_decisions"`
	InsightsByType     map[string]int `json:"insights_by_type"`
	InsightsByWorktree map[string]int `json:"insights_by_worktree"`
	PendingDecisions   int            `json:"pending_decisions"`
	ResolvedDecisions  int            `json:"resolved_decisions"`
	Participants       int            `json:"participants"`
}

// GetStats computes totals, per-type/per-worktree insight counts,
// pending/resolved decision counts, and distinct-publisher participation.
func (c *CollaborationCoordinator) GetStats() (CollaborationStats, error) {
	insights, err := c.AllInsights()
	if err != nil {
		return CollaborationStats{}, err
	}
	decisions, err := c.AllDecisions()
	if err != nil {
		return CollaborationStats{}, err
	}

	stats := CollaborationStats{
		TotalInsights:      len(insights),
		TotalDecisions:     len(decisions),
		InsightsByType:     map[string]int{},
		InsightsByWorktree: map[string]int{},
	}
	participants := map[string]bool{}
	for _, i := range insights {
		stats.InsightsByType[string(i.Type)]++
		stats.InsightsByWorktree[i.WorktreeID]++
		participants[i.WorktreeID] = true
	}
	for _, d := range decisions {
		if d.ChosenOption == nil {
			stats.PendingDecisions++
		} else {
			stats.ResolvedDecisions++
		}
		for voter := range d.Votes {
			participants[voter] = true
		}
	}
	stats.Participants = len(participants)
	return stats, nil
}
