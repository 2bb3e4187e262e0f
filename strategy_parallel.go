package voyager

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ParallelExecutionStrategy runs every worktree's container concurrently
// and waits for all of them (or the timeout) before comparing results
// (§4.8.1).
type ParallelExecutionStrategy struct {
	ec *ExecutionContext
}

func (s *ParallelExecutionStrategy) Execute(ctx context.Context) (result *ExecutionResult, err error) {
	exp := s.ec.Exploration
	started := SystemClock.Now()
	exp.Status = StatusRunning
	exp.StartedAt = &started

	defer func() {
		if err != nil {
			exp.Status = StatusFailed
			completed := SystemClock.Now()
			exp.CompletedAt = &completed
			exp.DurationMS = completed.Sub(started).Milliseconds()
			_ = s.ec.StateMgr.SaveExploration(exp)
		}
	}()

	specs := make([]ContainerCreateSpec, len(exp.Worktrees))
	for i := range exp.Worktrees {
		specs[i] = createContainerConfig(s.ec, &exp.Worktrees[i])
	}

	ids, createErrs := s.ec.Containers.CreateMultiple(ctx, specs, len(specs))
	for i, e := range createErrs {
		if e != nil {
			return nil, e
		}
		exp.Worktrees[i].ContainerID = ids[i]
	}

	var g errgroup.Group
	startErrs := make([]error, len(ids))
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			startErrs[i] = s.ec.Containers.Start(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	for i, e := range startErrs {
		if e != nil {
			return nil, e
		}
		exp.Worktrees[i].Status = StatusRunning
	}
	if err := s.ec.StateMgr.SaveExploration(exp); err != nil {
		return nil, err
	}

	indices := make([]int, len(exp.Worktrees))
	for i := range exp.Worktrees {
		indices[i] = exp.Worktrees[i].Index
	}

	timeoutMS := int64(exp.Config.TimeoutMinutes * 60000)
	s.ec.monitorContainers(ctx, ids, indices, timeoutMS)

	s.ec.Containers.StopMultiple(ctx, ids, 30, len(ids))

	for i := range exp.Worktrees {
		wt := &exp.Worktrees[i]
		if wt.Status == StatusRunning {
			if state, err := s.ec.Containers.Status(ctx, wt.ContainerID); err == nil {
				if state.ExitCode == 0 {
					wt.Status = StatusCompleted
				} else {
					wt.Status = StatusFailed
				}
			}
		}
	}

	completed, winner := s.ec.collectResults()
	exp.CompletedBranches = completed
	exp.Status = StatusCompleted
	now := SystemClock.Now()
	exp.CompletedAt = &now
	exp.DurationMS = now.Sub(started).Milliseconds()

	if err := s.ec.StateMgr.SaveExploration(exp); err != nil {
		return nil, err
	}

	return &ExecutionResult{
		Mode:              ModeParallel,
		CompletedBranches: completed,
		TotalBranches:     len(exp.Worktrees),
		Success:           completed > 0,
		WinnerIndex:       winner,
	}, nil
}
