package voyager

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fennimore/voyager/internal/events"
	"github.com/fennimore/voyager/internal/safety"
)

// SafetyChecker runs step 1 of §4.12's pipeline: the pre-flight environment
// checks. *safety.Validator is the production implementation; tests may
// substitute a fake to avoid depending on a real Docker daemon.
type SafetyChecker interface {
	Run(ctx context.Context, worktreeCount int) safety.Report
}

// OrchestratorConfig parameterises NewExplorationOrchestrator.
type OrchestratorConfig struct {
	RepoRoot       string // the git repository explorations branch off of
	StateRoot      string // explorations directory, e.g. ".voyager/explorations"
	WorktreesRoot  string // where worktrees are created; must resolve inside RepoRoot. Defaults to "<RepoRoot>/.voyager-worktrees"
	Git            GitExecutor
	Docker         DockerClient
	Safety         SafetyChecker // defaults to safety.NewValidator(Git, RepoRoot)
	PortRangeStart int
	PortRangeEnd   int
	PRCli          string // host CLI for pull requests, e.g. "gh"; empty disables PR creation
	Log            *Logger
	Notifier       Notifier // defaults to &NopNotifier{}
}

// ExplorationOrchestrator is C11: the top-level driver composing every
// other component over an exploration's full lifecycle (§4.12).
type ExplorationOrchestrator struct {
	repoRoot      string
	worktreesRoot string
	git           GitExecutor
	worktrees  *WorktreeManager
	containers *ContainerManager
	allocator  *ResourceAllocator
	stateMgr   *ExplorationStateManager
	merge      *MergeOrchestrator
	safety     SafetyChecker
	bus        *events.Bus
	log        *Logger
	notifier   Notifier
}

// NewExplorationOrchestrator wires C1-C10 together per cfg.
func NewExplorationOrchestrator(cfg OrchestratorConfig) *ExplorationOrchestrator {
	git := cfg.Git
	if git == nil {
		git = &localGitExecutor{}
	}
	log := cfg.Log
	if log == nil {
		log = NewNopLogger()
	}
	worktreesRoot := cfg.WorktreesRoot
	if worktreesRoot == "" {
		worktreesRoot = filepath.Join(cfg.RepoRoot, ".voyager-worktrees")
	}
	var checker SafetyChecker = cfg.Safety
	if checker == nil {
		checker = safety.NewValidator(git, cfg.RepoRoot)
	}
	allocator := NewResourceAllocator(cfg.PortRangeStart, cfg.PortRangeEnd)
	if _, err := RegisterAllocatorMetrics(allocator); err != nil {
		log.Warn("register allocator metrics: %v", err)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = &NopNotifier{}
	}
	return &ExplorationOrchestrator{
		repoRoot:      cfg.RepoRoot,
		worktreesRoot: worktreesRoot,
		git:        git,
		worktrees:  NewWorktreeManager(git, cfg.RepoRoot, log),
		containers: NewContainerManager(cfg.Docker, log),
		allocator:  allocator,
		stateMgr:   NewExplorationStateManager(cfg.StateRoot),
		merge:      NewMergeOrchestrator(git, cfg.RepoRoot, cfg.PRCli),
		safety:     checker,
		bus:        events.NewBus(),
		log:        log,
		notifier:   notifier,
	}
}

// Events returns the bus every lifecycle event is published to, for
// subscribers such as the Slack/log bridges in the events package.
func (o *ExplorationOrchestrator) Events() *events.Bus {
	return o.bus
}

func (o *ExplorationOrchestrator) publish(topic events.Topic, explorationID string, worktreeIndex int, payload any) {
	o.bus.Publish(events.Event{
		Topic:         topic,
		ExplorationID: explorationID,
		WorktreeIndex: worktreeIndex,
		Timestamp:     SystemClock.Now().UnixNano(),
		Payload:       payload,
	})
}

func branchNameFor(explorationID string, index int, strategy string) string {
	if strategy != "" {
		return "exploration/" + explorationID + "-" + strategy
	}
	return "exploration/" + explorationID + "-" + strconv.Itoa(index)
}

// StartExploration runs the full 11-step pipeline from spec §4.12: safety
// checks, exploration creation, image pull, worktree provisioning, resource
// allocation, shared volume setup, strategy execution, result comparison,
// container teardown, and final status.
func (o *ExplorationOrchestrator) StartExploration(ctx context.Context, task string, config Config) (exp *Exploration, err error) {
	ctx, span := tracer.Start(ctx, "ExplorationOrchestrator.StartExploration")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.Int("voyager.branches", config.Branches),
		attribute.String("voyager.mode", string(config.Mode)),
	)

	report := o.safety.Run(ctx, config.Branches)
	if !report.OK() {
		return nil, report.Err()
	}

	if briefing, briefErr := ReadContextFiles(o.repoRoot); briefErr != nil {
		o.log.Warn("read context briefing: %v", briefErr)
	} else if briefing != "" {
		task = task + "\n\n" + briefing
	}

	exp, err = o.stateMgr.CreateExploration(task, config)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("voyager.exploration_id", exp.ID))
	o.publish(events.TopicExplorationCreated, exp.ID, 0, nil)

	defer func(exp *Exploration) {
		if err != nil {
			o.log.Error("exploration %s failed: %v", exp.ID, err)
			exp.Status = StatusFailed
			now := SystemClock.Now()
			exp.CompletedAt = &now
			_ = o.stateMgr.SaveExploration(exp)
			o.publish(events.TopicExplorationFailed, exp.ID, 0, err.Error())
			o.bestEffortCleanup(context.Background(), exp)
		}
	}(exp)

	if err = o.containers.EnsureImage(ctx, exp.Config.DockerImage); err != nil {
		return nil, err
	}

	if err = o.provisionWorktrees(ctx, exp); err != nil {
		return nil, err
	}

	if err = o.allocateResources(exp); err != nil {
		o.rollbackWorktrees(ctx, exp)
		return nil, err
	}

	sharedDir := o.stateMgr.SharedVolumeDir(exp.ID)
	if err = NewSharedVolumeManager(sharedDir).Initialize(exp.ID, exp.Config.Branches); err != nil {
		o.allocator.ReleaseAll(exp.ID)
		o.rollbackWorktrees(ctx, exp)
		return nil, err
	}

	if err = o.stateMgr.SaveExploration(exp); err != nil {
		return nil, err
	}
	o.publish(events.TopicExplorationStarted, exp.ID, 0, nil)

	if err = o.execute(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// provisionWorktrees creates one worktree per branch, rooted at
// <worktrees-root>/<id>/worktree-<i>, on a fresh branch off HEAD.
func (o *ExplorationOrchestrator) provisionWorktrees(ctx context.Context, exp *Exploration) error {
	opts := make([]CreateWorktreeOptions, exp.Config.Branches)
	worktrees := make([]WorktreeExploration, exp.Config.Branches)

	for i := 0; i < exp.Config.Branches; i++ {
		idx := i + 1
		strategy := ""
		if i < len(exp.Config.Strategies) {
			strategy = exp.Config.Strategies[i]
		}
		branch := branchNameFor(exp.ID, idx, strategy)
		path := filepath.Join(o.worktreesRoot, exp.ID, WorktreeID(idx))

		opts[i] = CreateWorktreeOptions{Path: path, Branch: branch, BaseRef: "HEAD"}
		worktrees[i] = WorktreeExploration{
			Index:        idx,
			BranchName:   branch,
			WorktreePath: path,
			Strategy:     strategy,
			Status:       StatusPending,
		}
	}

	if err := o.worktrees.CreateMultipleWorktrees(ctx, opts); err != nil {
		return err
	}
	exp.Worktrees = worktrees
	return nil
}

// allocateResources requests one AllocatedResources per worktree and
// assigns it. On failure AllocateMultiple has already released the ports it
// granted in that call, so no allocation from this call is left dangling.
func (o *ExplorationOrchestrator) allocateResources(exp *Exploration) error {
	reqs := make([]AllocationRequest, len(exp.Worktrees))
	for i, wt := range exp.Worktrees {
		reqs[i] = AllocationRequest{
			ExplorationID: exp.ID,
			WorktreeIndex: wt.Index,
			CPULimit:      exp.Config.CPULimit,
			MemoryLimit:   exp.Config.MemoryLimit,
		}
	}
	allocated, err := o.allocator.AllocateMultiple(reqs)
	if err != nil {
		return err
	}
	for i := range exp.Worktrees {
		exp.Worktrees[i].AllocatedResources = allocated[i]
	}
	return nil
}

// rollbackWorktrees removes every worktree and branch exp currently
// references. Used when a later provisioning step fails after worktrees
// were already created.
func (o *ExplorationOrchestrator) rollbackWorktrees(ctx context.Context, exp *Exploration) {
	for _, wt := range exp.Worktrees {
		if rmErr := o.worktrees.RemoveWorktree(ctx, wt.WorktreePath, true); rmErr != nil {
			o.log.Warn("rollback: remove worktree %s: %v", wt.WorktreePath, rmErr)
		}
		if delErr := o.worktrees.DeleteBranch(ctx, wt.BranchName, true); delErr != nil {
			o.log.Warn("rollback: delete branch %s: %v", wt.BranchName, delErr)
		}
	}
}

// execute runs steps 7-10 of §4.12: build the ExecutionContext, invoke the
// chosen strategy, score the outcome, tear down containers, and persist
// the final status. Shared between StartExploration and ResumeExploration.
func (o *ExplorationOrchestrator) execute(ctx context.Context, exp *Exploration) error {
	ctx, span := tracer.Start(ctx, "ExplorationOrchestrator.execute")
	defer span.End()
	span.SetAttributes(attribute.String("voyager.exploration_id", exp.ID))

	sharedDir := o.stateMgr.SharedVolumeDir(exp.ID)

	ec := &ExecutionContext{
		Exploration: exp,
		Containers:  o.containers,
		SharedDir:   sharedDir,
		StateMgr:    o.stateMgr,
		Log:         o.log,
	}

	for _, wt := range exp.Worktrees {
		o.publish(events.TopicWorktreeStarted, exp.ID, wt.Index, nil)
	}

	strategy := createExecutionStrategy(exp.Mode, ec)
	result, err := strategy.Execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	exp.Results = result

	comparator := NewResultComparator(sharedDir)
	if cmpReport, cmpErr := comparator.Compare(exp, nil, nil); cmpErr != nil {
		o.log.Warn("comparison report: %v", cmpErr)
	} else {
		if cmpReport.WinnerIndex != nil {
			result.WinnerIndex = cmpReport.WinnerIndex
		}
		if exportErr := o.exportComparisonReport(exp.ID, cmpReport); exportErr != nil {
			o.log.Warn("export comparison report: %v", exportErr)
		}
	}

	var ids []string
	for i := range exp.Worktrees {
		wt := &exp.Worktrees[i]
		if wt.Status == StatusCompleted {
			o.publish(events.TopicWorktreeCompleted, exp.ID, wt.Index, nil)
		} else if wt.Status == StatusFailed {
			o.publish(events.TopicWorktreeFailed, exp.ID, wt.Index, nil)
		}
		if wt.ContainerID != "" {
			ids = append(ids, wt.ContainerID)
		}
	}

	o.containers.StopMultiple(ctx, ids, 30, len(ids))
	for _, id := range ids {
		if rmErr := o.containers.Remove(ctx, id, true); rmErr != nil {
			o.log.Warn("remove container %s: %v", id, rmErr)
		}
	}

	if err := o.stateMgr.SaveExploration(exp); err != nil {
		return err
	}

	if exp.Status == StatusCompleted {
		o.publish(events.TopicExplorationCompleted, exp.ID, 0, nil)
		if notifyErr := o.notifier.Notify(ctx, "Exploration completed", exp.ID); notifyErr != nil {
			o.log.Warn("notify completion: %v", notifyErr)
		}
	} else {
		o.publish(events.TopicExplorationFailed, exp.ID, 0, nil)
		if notifyErr := o.notifier.Notify(ctx, "Exploration failed", exp.ID); notifyErr != nil {
			o.log.Warn("notify failure: %v", notifyErr)
		}
	}
	return nil
}

func (o *ExplorationOrchestrator) exportComparisonReport(explorationID string, report *ComparisonReport) error {
	dir := o.stateMgr.explorationDir(explorationID)
	jsonBytes, err := report.ToJSON()
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "comparison-report.json"), jsonBytes, 0o644); err != nil {
		return &FilesystemError{Op: "write comparison-report.json", Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, "comparison-report.md"), []byte(report.ToMarkdown()), 0o644); err != nil {
		return &FilesystemError{Op: "write comparison-report.md", Err: err}
	}
	return nil
}

// ResumeExploration restarts a paused run from pending or stopped, per
// §4.12's FSM guard: only those two states may transition back to running.
func (o *ExplorationOrchestrator) ResumeExploration(ctx context.Context, id string) (*Exploration, error) {
	exp, err := o.stateMgr.LoadExploration(id)
	if err != nil {
		return nil, err
	}
	if exp.Status != StatusPending && exp.Status != StatusStopped {
		return nil, &ValidationError{Field: "status", Msg: "can only resume from pending or stopped"}
	}

	if err := o.execute(ctx, exp); err != nil {
		exp.Status = StatusFailed
		now := SystemClock.Now()
		exp.CompletedAt = &now
		_ = o.stateMgr.SaveExploration(exp)
		o.publish(events.TopicExplorationFailed, exp.ID, 0, err.Error())
		return nil, err
	}
	return exp, nil
}

// StopExploration cancels a running exploration: it marks the exploration
// stopped, then stops and removes every worktree's container (§5
// "Cancellation & timeouts").
func (o *ExplorationOrchestrator) StopExploration(ctx context.Context, id string) (*Exploration, error) {
	exp, err := o.stateMgr.LoadExploration(id)
	if err != nil {
		return nil, err
	}
	if exp.Status != StatusRunning {
		return nil, &ValidationError{Field: "status", Msg: "can only stop a running exploration"}
	}

	var ids []string
	for i := range exp.Worktrees {
		wt := &exp.Worktrees[i]
		if wt.ContainerID != "" {
			ids = append(ids, wt.ContainerID)
		}
		if wt.Status == StatusRunning {
			wt.Status = StatusStopped
		}
	}
	o.containers.StopMultiple(ctx, ids, 30, len(ids))
	for _, id := range ids {
		if rmErr := o.containers.Remove(ctx, id, true); rmErr != nil {
			o.log.Warn("remove container %s: %v", id, rmErr)
		}
	}

	exp.Status = StatusStopped
	if err := o.stateMgr.SaveExploration(exp); err != nil {
		return nil, err
	}
	o.publish(events.TopicExplorationStopped, exp.ID, 0, nil)
	return exp, nil
}

// GetExplorationStatus returns the current, progress-reconciled exploration
// document.
func (o *ExplorationOrchestrator) GetExplorationStatus(id string) (*Exploration, error) {
	return o.stateMgr.LoadExploration(id)
}

// ListExplorations enumerates every known exploration, optionally filtered
// by status (pass "" for no filter).
func (o *ExplorationOrchestrator) ListExplorations(statusFilter Status) ([]ExplorationSummary, error) {
	all, err := o.stateMgr.ListExplorations()
	if err != nil {
		return nil, err
	}
	if statusFilter == "" {
		return all, nil
	}
	out := make([]ExplorationSummary, 0, len(all))
	for _, s := range all {
		if s.Status == statusFilter {
			out = append(out, s)
		}
	}
	return out, nil
}

// Merge folds a completed worktree's branch back into target via the
// requested strategy (C10).
func (o *ExplorationOrchestrator) Merge(ctx context.Context, id string, worktreeIndex int, opts MergeOptions) (*MergeReport, error) {
	exp, err := o.stateMgr.LoadExploration(id)
	if err != nil {
		return nil, err
	}
	report, err := o.merge.Merge(ctx, exp, worktreeIndex, opts)
	if err != nil {
		return nil, err
	}
	if saveErr := o.stateMgr.SaveExploration(exp); saveErr != nil {
		return report, saveErr
	}
	if report.Success {
		o.publish(events.TopicMergeCompleted, exp.ID, worktreeIndex, report)
	}
	return report, nil
}

// PreviewMerge reports whether a worktree's branch would merge cleanly into
// targetBranch without making any lasting changes (C10's dry-run preview).
func (o *ExplorationOrchestrator) PreviewMerge(ctx context.Context, id string, worktreeIndex int, targetBranch string) (*PreviewReport, error) {
	exp, err := o.stateMgr.LoadExploration(id)
	if err != nil {
		return nil, err
	}
	wt := exp.Worktree(worktreeIndex)
	if wt == nil {
		return nil, &ValidationError{Field: "worktree_index", Msg: "no such worktree"}
	}
	if targetBranch == "" {
		cur, err := o.merge.currentBranch(ctx)
		if err != nil {
			return nil, err
		}
		targetBranch = cur
	}
	return o.merge.PreviewMerge(ctx, wt.BranchName, targetBranch)
}

// Cleanup tears down every resource an exploration owns: containers,
// allocated ports, worktrees and their branches, and the state directory
// itself (§4.12 "full cleanup").
func (o *ExplorationOrchestrator) Cleanup(ctx context.Context, id string) error {
	exp, err := o.stateMgr.LoadExploration(id)
	if err != nil {
		return err
	}
	o.bestEffortCleanup(ctx, exp)
	return o.stateMgr.DeleteExploration(id)
}

// bestEffortCleanup implements §4.12 step 11: on any exception, clean up
// what can be cleaned up and swallow further errors rather than compound
// the original failure.
func (o *ExplorationOrchestrator) bestEffortCleanup(ctx context.Context, exp *Exploration) {
	for i := range exp.Worktrees {
		wt := &exp.Worktrees[i]
		if wt.ContainerID != "" {
			_ = o.containers.Stop(ctx, wt.ContainerID, 30)
			_ = o.containers.Remove(ctx, wt.ContainerID, true)
		}
	}
	o.allocator.ReleaseAll(exp.ID)
	o.rollbackWorktrees(ctx, exp)
}
