package voyager

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollaborationCoordinator_PublishInsight_PoolMonotonicallyGrows(t *testing.T) {
	dir := t.TempDir()
	c := NewCollaborationCoordinator(dir)

	first, err := c.PublishInsight("exp-1", PublishInsightOptions{
		WorktreeID: "worktree-1", Type: InsightFinding, Title: "t1", Content: "c1",
	})
	require.NoError(t, err)

	second, err := c.PublishInsight("exp-1", PublishInsightOptions{
		WorktreeID: "worktree-2", Type: InsightWarning, Title: "t2", Content: "c2",
	})
	require.NoError(t, err)

	all, err := c.AllInsights()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
	assert.Equal(t, "t1", all[0].Title)
	assert.Equal(t, "t2", all[1].Title)
}

func TestCollaborationCoordinator_InsightQueries(t *testing.T) {
	dir := t.TempDir()
	c := NewCollaborationCoordinator(dir)

	_, err := c.PublishInsight("exp-1", PublishInsightOptions{
		WorktreeID: "worktree-1", Type: InsightFinding, Title: "auth bug", Content: "found a bug in auth", Tags: []string{"auth"},
	})
	require.NoError(t, err)
	_, err = c.PublishInsight("exp-1", PublishInsightOptions{
		WorktreeID: "worktree-2", Type: InsightWarning, Title: "perf", Content: "slow query", Tags: []string{"perf"},
	})
	require.NoError(t, err)

	byType, err := c.InsightsByType(InsightWarning)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "perf", byType[0].Title)

	byTag, err := c.InsightsByTag("auth")
	require.NoError(t, err)
	require.Len(t, byTag, 1)

	others, err := c.InsightsFromOtherWorktrees("worktree-1")
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, "worktree-2", others[0].WorktreeID)

	found, err := c.SearchInsights("BUG")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "auth bug", found[0].Title)

	recent, err := c.RecentInsights(1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "perf", recent[0].Title)
}

// TestCollaborationCoordinator_VoteResolution is the §8 voting-resolution
// scenario: 3 worktrees vote on a 2-option decision. The first vote already
// meets ⌈1/2⌉=1 and resolves to option 0; resolution is sticky, so it is
// still option 0 after the 2nd and 3rd votes.
func TestCollaborationCoordinator_VoteResolution(t *testing.T) {
	dir := t.TempDir()
	c := NewCollaborationCoordinator(dir)

	decision, err := c.ProposeDecision("exp-1", ProposeDecisionOptions{
		Topic: "approach",
		Options: []DecisionOption{
			{Label: "option A"},
			{Label: "option B"},
		},
	})
	require.NoError(t, err)

	d1, err := c.VoteOnDecision("exp-1", VoteOnDecisionOptions{DecisionID: decision.ID, OptionIndex: 0, VoterID: "worktree-1"})
	require.NoError(t, err)
	require.NotNil(t, d1.ChosenOption)
	assert.Equal(t, 0, *d1.ChosenOption)

	d2, err := c.VoteOnDecision("exp-1", VoteOnDecisionOptions{DecisionID: decision.ID, OptionIndex: 1, VoterID: "worktree-2"})
	require.NoError(t, err)
	require.NotNil(t, d2.ChosenOption)
	assert.Equal(t, 0, *d2.ChosenOption)

	d3, err := c.VoteOnDecision("exp-1", VoteOnDecisionOptions{DecisionID: decision.ID, OptionIndex: 0, VoterID: "worktree-3"})
	require.NoError(t, err)
	require.NotNil(t, d3.ChosenOption)
	assert.Equal(t, 0, *d3.ChosenOption)
	assert.NotNil(t, d3.ResolvedAt)
}

// TestCollaborationCoordinator_VoteResolution_Sticky asserts that once
// chosen_option is set, later votes for a different option never change it.
func TestCollaborationCoordinator_VoteResolution_Sticky(t *testing.T) {
	dir := t.TempDir()
	c := NewCollaborationCoordinator(dir)

	decision, err := c.ProposeDecision("exp-1", ProposeDecisionOptions{
		Topic:   "approach",
		Options: []DecisionOption{{Label: "A"}, {Label: "B"}},
	})
	require.NoError(t, err)

	_, err = c.VoteOnDecision("exp-1", VoteOnDecisionOptions{DecisionID: decision.ID, OptionIndex: 0, VoterID: "w1"})
	require.NoError(t, err)
	resolved, err := c.VoteOnDecision("exp-1", VoteOnDecisionOptions{DecisionID: decision.ID, OptionIndex: 0, VoterID: "w2"})
	require.NoError(t, err)
	require.NotNil(t, resolved.ChosenOption)
	assert.Equal(t, 0, *resolved.ChosenOption)

	after, err := c.VoteOnDecision("exp-1", VoteOnDecisionOptions{DecisionID: decision.ID, OptionIndex: 1, VoterID: "w3"})
	require.NoError(t, err)
	require.NotNil(t, after.ChosenOption)
	assert.Equal(t, 0, *after.ChosenOption)
}

func TestCollaborationCoordinator_VoteIdempotent_LastWriterWinsPerVoter(t *testing.T) {
	dir := t.TempDir()
	c := NewCollaborationCoordinator(dir)

	decision, err := c.ProposeDecision("exp-1", ProposeDecisionOptions{
		Topic:   "approach",
		Options: []DecisionOption{{Label: "A"}, {Label: "B"}},
	})
	require.NoError(t, err)

	_, err = c.VoteOnDecision("exp-1", VoteOnDecisionOptions{DecisionID: decision.ID, OptionIndex: 0, VoterID: "w1"})
	require.NoError(t, err)
	d, err := c.VoteOnDecision("exp-1", VoteOnDecisionOptions{DecisionID: decision.ID, OptionIndex: 1, VoterID: "w1"})
	require.NoError(t, err)

	assert.Len(t, d.Votes, 1)
	assert.Equal(t, 1, d.Votes["w1"])
}

func TestCollaborationCoordinator_PendingAndResolvedDecisions(t *testing.T) {
	dir := t.TempDir()
	c := NewCollaborationCoordinator(dir)

	pending, err := c.ProposeDecision("exp-1", ProposeDecisionOptions{Topic: "p", Options: []DecisionOption{{Label: "A"}, {Label: "B"}}})
	require.NoError(t, err)
	resolved, err := c.ProposeDecision("exp-1", ProposeDecisionOptions{Topic: "r", Options: []DecisionOption{{Label: "A"}, {Label: "B"}}})
	require.NoError(t, err)

	_, err = c.VoteOnDecision("exp-1", VoteOnDecisionOptions{DecisionID: resolved.ID, OptionIndex: 0, VoterID: "w1"})
	require.NoError(t, err)

	pendingList, err := c.PendingDecisions()
	require.NoError(t, err)
	require.Len(t, pendingList, 1)

	resolvedList, err := c.ResolvedDecisions()
	require.NoError(t, err)
	require.Len(t, resolvedList, 1)

	found, err := c.DecisionByID(pending.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "p", found.Topic)
}

func TestCollaborationCoordinator_GetStats(t *testing.T) {
	dir := t.TempDir()
	c := NewCollaborationCoordinator(dir)

	_, err := c.PublishInsight("exp-1", PublishInsightOptions{WorktreeID: "w1", Type: InsightFinding, Title: "a", Content: "a"})
	require.NoError(t, err)
	_, err = c.PublishInsight("exp-1", PublishInsightOptions{WorktreeID: "w2", Type: InsightFinding, Title: "b", Content: "b"})
	require.NoError(t, err)

	d, err := c.ProposeDecision("exp-1", ProposeDecisionOptions{Topic: "x", Options: []DecisionOption{{Label: "A"}, {Label: "B"}}})
	require.NoError(t, err)
	_, err = c.VoteOnDecision("exp-1", VoteOnDecisionOptions{DecisionID: d.ID, OptionIndex: 0, VoterID: "w1"})
	require.NoError(t, err)

	stats, err := c.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalInsights)
	assert.Equal(t, 1, stats.TotalDecisions)
	assert.Equal(t, 2, stats.InsightsByType["finding"])
	assert.Equal(t, 0, stats.PendingDecisions)
	assert.Equal(t, 1, stats.ResolvedDecisions)
	assert.GreaterOrEqual(t, stats.Participants, 2)
}

// TestCollaborationCoordinator_ConcurrentPublish_NoLostInsights is the §8
// lock-contention scenario for publishInsight: two concurrent publishers
// must both land, in submission order per publisher, with no stale lock
// file left behind.
func TestCollaborationCoordinator_ConcurrentPublish_NoLostInsights(t *testing.T) {
	dir := t.TempDir()
	c := NewCollaborationCoordinator(dir)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := c.PublishInsight("exp-1", PublishInsightOptions{WorktreeID: "w1", Type: InsightFinding, Title: "t1", Content: "c1"})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := c.PublishInsight("exp-1", PublishInsightOptions{WorktreeID: "w2", Type: InsightFinding, Title: "t2", Content: "c2"})
		assert.NoError(t, err)
	}()
	wg.Wait()

	all, err := c.AllInsights()
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = os.Stat(filepath.Join(dir, "insights-pool.json.lock.meta"))
	assert.True(t, os.IsNotExist(err), "expected no stale lock metadata to remain")
}

func TestMajorityWinner(t *testing.T) {
	cases := []struct {
		votes      map[string]int
		numOptions int
		wantOpt    int
		wantOK     bool
	}{
		{map[string]int{"a": 0}, 2, 0, true},
		{map[string]int{"a": 0, "b": 1}, 2, 0, false},
		{map[string]int{"a": 0, "b": 1, "c": 0}, 2, 0, true},
	}
	for i, tc := range cases {
		t.Run(fmt.Sprintf("case-%d", i), func(t *testing.T) {
			opt, ok := majorityWinner(tc.votes, tc.numOptions)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantOpt, opt)
			}
		})
	}
}
