package voyager

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ExecutionResult is the outcome C8 hands back to the orchestrator (§4.8
// step 8 / §3).
type ExecutionResult struct {
	Mode              Mode  `json:"mode"`
	CompletedBranches int   `json:"completed_branches"`
	TotalBranches     int   `json:"total_branches"`
	Success           bool  `json:"success"`
	WinnerIndex       *int  `json:"winner_index,omitempty"`
}

// ExecutionStrategy runs one exploration's worktrees to completion and
// reports the outcome. ParallelExecutionStrategy and
// SequentialExecutionStrategy are the two concrete implementations (§4.8).
type ExecutionStrategy interface {
	Execute(ctx context.Context) (*ExecutionResult, error)
}

// ExecutionContext bundles everything a strategy needs: the managers it
// drives and the exploration it is advancing.
type ExecutionContext struct {
	Exploration *Exploration
	Containers  *ContainerManager
	SharedDir   string
	StateMgr    *ExplorationStateManager
	Log         *Logger
}

// createContainerConfig builds the per-worktree container spec, wiring the
// env vars every worker process expects (§6).
func createContainerConfig(ec *ExecutionContext, wt *WorktreeExploration) ContainerCreateSpec {
	env := []string{
		"EXPLORATION_ID=" + ec.Exploration.ID,
		"SHARED_VOLUME=/shared",
		"STRATEGY=" + wt.Strategy,
		"TASK=" + ec.Exploration.Task,
		"WORKTREE_ID=" + WorktreeID(wt.Index),
		"WORKTREE_INDEX=" + strconv.Itoa(wt.Index),
	}

	var pb *PortBinding
	cpuLimit := ec.Exploration.Config.CPULimit
	memLimit := ec.Exploration.Config.MemoryLimit
	name := WorktreeID(wt.Index)
	if wt.AllocatedResources != nil {
		name = wt.AllocatedResources.ContainerName
		cpuLimit = wt.AllocatedResources.CPULimit
		memLimit = wt.AllocatedResources.MemoryLimit
		if wt.AllocatedResources.Port != 0 {
			pb = &PortBinding{ContainerPort: wt.AllocatedResources.Port, HostPort: wt.AllocatedResources.Port}
		}
	}

	return ContainerCreateSpec{
		Name:        name,
		Image:       ec.Exploration.Config.DockerImage,
		Env:         env,
		CPULimit:    cpuLimit,
		MemoryLimit: memLimit,
		PortBinding: pb,
		Mounts: []MountSpec{
			{HostPath: wt.WorktreePath, ContainerPath: "/workspace", ReadOnly: false},
			{HostPath: ec.SharedDir, ContainerPath: "/shared", ReadOnly: false},
		},
	}
}

// monitorContainers polls every (id, worktreeIndex) pair every 5 seconds,
// reconciling each worktree's self-reported progress.json into the
// persisted Exploration, until every container has exited or timeoutMS
// elapses. A per-worktree poll error is logged and does not abort the
// monitor loop for the others (§4.8's "partial polling failure is not
// fatal" policy).
func (ec *ExecutionContext) monitorContainers(ctx context.Context, ids []string, indices []int, timeoutMS int64) {
	const pollInterval = 5 * time.Second
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)

	for {
		allExited := true
		for i, id := range ids {
			state, err := ec.Containers.Status(ctx, id)
			if err != nil {
				ec.Log.Warn("poll %s: %v", id, err)
				allExited = false
				continue
			}
			if state.Running {
				allExited = false
			}

			if wt := ec.Exploration.Worktree(indices[i]); wt != nil {
				ec.applyProgress(wt)
				if stats, err := ec.Containers.Stats(ctx, id); err == nil {
					wt.ContainerStats = stats
				}
			}
		}
		_ = ec.StateMgr.SaveExploration(ec.Exploration)

		if allExited {
			return
		}
		if time.Now().After(deadline) {
			ec.Log.Warn("timeout reached monitoring %d container(s)", len(ids))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

// applyProgress overlays worktree-<index>/progress.json onto wt.Progress.
func (ec *ExecutionContext) applyProgress(wt *WorktreeExploration) {
	path := filepath.Join(ec.SharedDir, WorktreeID(wt.Index), "progress.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var pf ProgressFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return
	}
	wt.Progress.CurrentStage = pf.CurrentStage
	wt.Progress.Percentage = pf.Percentage
	wt.Progress.StagesCompleted = pf.StagesCompleted
	wt.Progress.Errors = pf.Errors
	wt.Progress.LastUpdate = pf.LastUpdated
}

// collectResults tallies completed branches and picks a tentative winner:
// the first completed worktree in index order. ResultComparator may
// override this choice once it scores every worktree (§4.9).
func (ec *ExecutionContext) collectResults() (completed int, winner *int) {
	for i := range ec.Exploration.Worktrees {
		wt := &ec.Exploration.Worktrees[i]
		if wt.Status == StatusCompleted {
			completed++
			if winner == nil {
				idx := wt.Index
				winner = &idx
			}
		}
	}
	return completed, winner
}

// createExecutionStrategy is the C8 factory. Unregistered modes return a
// strategy whose Execute always fails with *UnknownMode.
func createExecutionStrategy(mode Mode, ec *ExecutionContext) ExecutionStrategy {
	switch mode {
	case ModeParallel:
		return &ParallelExecutionStrategy{ec: ec}
	case ModeSequential:
		return &SequentialExecutionStrategy{ec: ec}
	default:
		return &unknownModeStrategy{mode: string(mode)}
	}
}

type unknownModeStrategy struct{ mode string }

func (s *unknownModeStrategy) Execute(ctx context.Context) (*ExecutionResult, error) {
	return nil, &UnknownMode{Mode: s.mode}
}
