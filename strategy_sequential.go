package voyager

import "context"

// SequentialExecutionStrategy runs worktrees one at a time in index order,
// stopping as soon as one completes successfully and never launching the
// rest (§4.8.2).
type SequentialExecutionStrategy struct {
	ec *ExecutionContext
}

func (s *SequentialExecutionStrategy) Execute(ctx context.Context) (result *ExecutionResult, err error) {
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

	timeoutMS := int64(exp.Config.TimeoutMinutes * 60000)
	var winner *int
	completedCount := 0

	for i := range exp.Worktrees {
		wt := &exp.Worktrees[i]

		spec := createContainerConfig(s.ec, wt)
		id, err := s.ec.Containers.Create(ctx, spec)
		if err != nil {
			return nil, err
		}
		wt.ContainerID = id
		wt.Status = StatusRunning
		if err := s.ec.StateMgr.SaveExploration(exp); err != nil {
			return nil, err
		}

		if err := s.ec.Containers.Start(ctx, id); err != nil {
			return nil, err
		}

		s.ec.monitorContainers(ctx, []string{id}, []int{wt.Index}, timeoutMS)
		_ = s.ec.Containers.Stop(ctx, id, 30)

		state, statusErr := s.ec.Containers.Status(ctx, id)
		if statusErr == nil && state.ExitCode == 0 {
			wt.Status = StatusCompleted
		} else {
			wt.Status = StatusFailed
		}
		if err := s.ec.StateMgr.SaveExploration(exp); err != nil {
			return nil, err
		}

		if wt.Status == StatusCompleted {
			completedCount = 1
			idx := wt.Index
			winner = &idx
			break
		}
	}

	exp.CompletedBranches = completedCount
	if winner != nil {
		exp.Status = StatusCompleted
	} else {
		exp.Status = StatusFailed
	}
	now := SystemClock.Now()
	exp.CompletedAt = &now
	exp.DurationMS = now.Sub(started).Milliseconds()

	if err := s.ec.StateMgr.SaveExploration(exp); err != nil {
		return nil, err
	}

	return &ExecutionResult{
		Mode:              ModeSequential,
		CompletedBranches: completedCount,
		TotalBranches:     len(exp.Worktrees),
		Success:           winner != nil,
		WinnerIndex:       winner,
	}, nil
}
