package voyager

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// MergeStrategyKind selects how MergeOrchestrator folds a worktree's branch
// back into its target (§4.10).
type MergeStrategyKind string

const (
	MergeDirect   MergeStrategyKind = "direct"
	MergeSquash   MergeStrategyKind = "squash"
	MergeRebase   MergeStrategyKind = "rebase"
)

// ConflictKind classifies one conflicting path by its `git status
// --porcelain` marker.
type ConflictKind string

const (
	ConflictContent ConflictKind = "content"
	ConflictDelete  ConflictKind = "delete"
	ConflictRename  ConflictKind = "rename"
)

// ConflictInfo is one unresolved (or auto-resolved) merge conflict.
type ConflictInfo struct {
	Path               string       `json:"path"`
	Kind               ConflictKind `json:"kind"`
	Resolved           bool         `json:"resolved"`
	ResolutionStrategy string       `json:"resolution_strategy,omitempty"`
}

// MergeOptions is the input to MergeOrchestrator.Merge.
type MergeOptions struct {
	Strategy             MergeStrategyKind
	TargetBranch         string // default: current branch
	CreateBackup         bool   // default true
	AutoResolveConflicts bool   // default false
	DeleteWorktree       bool   // default true
	CreatePR             bool
	PRTitle              string
	PRBody               string
}

func (o MergeOptions) applyDefaults() MergeOptions {
	if o.Strategy == "" {
		o.Strategy = MergeDirect
	}
	return o
}

// MergeReport is the result of a successful or conflicted merge attempt.
type MergeReport struct {
	Success          bool           `json:"success"`
	ConflictsDetected bool          `json:"conflicts_detected"`
	Conflicts        []ConflictInfo `json:"conflicts,omitempty"`
	MergeCommit      string         `json:"merge_commit,omitempty"`
	CommitsMerged    int            `json:"commits_merged,omitempty"`
	BackupBranch     string         `json:"backup_branch,omitempty"`
	PRUrl            string         `json:"pr_url,omitempty"`
}

// PreviewReport is the result of MergeOrchestrator.PreviewMerge.
type PreviewReport struct {
	CanMerge       bool           `json:"can_merge"`
	CommitsToMerge int            `json:"commits_to_merge"`
	Conflicts      []ConflictInfo `json:"conflicts,omitempty"`
	FilesChanged   int            `json:"files_changed"`
}

// MergeOrchestrator folds a winning worktree's branch back into a target
// branch on the host repository (§4.10).
type MergeOrchestrator struct {
	git      GitExecutor
	repoRoot string
	prCLI    string // host CLI binary name, e.g. "gh"; empty disables PR creation
	clock    Clock
}

// NewMergeOrchestrator drives merges against repoRoot using git.
func NewMergeOrchestrator(git GitExecutor, repoRoot, prCLI string) *MergeOrchestrator {
	return &MergeOrchestrator{git: git, repoRoot: repoRoot, prCLI: prCLI, clock: SystemClock}
}

func (m *MergeOrchestrator) currentBranch(ctx context.Context) (string, error) {
	out, err := m.git.Git(ctx, m.repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", &GitError{Args: []string{"rev-parse"}, Stderr: string(out), Err: err}
	}
	return strings.TrimSpace(string(out)), nil
}

func (m *MergeOrchestrator) branchExists(ctx context.Context, branch string) bool {
	_, err := m.git.Git(ctx, m.repoRoot, "rev-parse", "--verify", branch)
	return err == nil
}

func (m *MergeOrchestrator) workingTreeClean(ctx context.Context) bool {
	out, err := m.git.Git(ctx, m.repoRoot, "status", "--porcelain")
	return err == nil && len(strings.TrimSpace(string(out))) == 0
}

// Merge validates preconditions, then executes the requested strategy.
func (m *MergeOrchestrator) Merge(ctx context.Context, exp *Exploration, worktreeIndex int, opts MergeOptions) (*MergeReport, error) {
	opts = opts.applyDefaults()

	wt := exp.Worktree(worktreeIndex)
	if wt == nil {
		return nil, &ValidationError{Field: "worktree_index", Msg: "no such worktree"}
	}
	if wt.Status != StatusCompleted {
		return nil, &ValidationError{Field: "worktree_index", Msg: "worktree must be completed before merging"}
	}
	if !m.branchExists(ctx, wt.BranchName) {
		return nil, &ValidationError{Field: "branch", Msg: "source branch does not exist: " + wt.BranchName}
	}
	if !m.workingTreeClean(ctx) {
		return nil, &ValidationError{Field: "repo", Msg: "host repository working tree is not clean"}
	}

	target := opts.TargetBranch
	if target == "" {
		cur, err := m.currentBranch(ctx)
		if err != nil {
			return nil, err
		}
		target = cur
	}
	if opts.TargetBranch != "" && !m.branchExists(ctx, target) {
		return nil, &ValidationError{Field: "target_branch", Msg: "does not exist: " + target}
	}

	var backup string
	if opts.CreateBackup {
		backup = fmt.Sprintf("backup/%s-%d", target, m.clock.Now().UTC().Unix())
		if _, err := m.git.Git(ctx, m.repoRoot, "branch", backup, target); err != nil {
			return nil, &MergeError{Strategy: string(opts.Strategy), Msg: "failed to create backup branch", Err: err}
		}
	}

	var report *MergeReport
	var err error
	switch opts.Strategy {
	case MergeSquash:
		report, err = m.mergeSquash(ctx, wt.BranchName, target, opts)
	case MergeRebase:
		report, err = m.mergeRebase(ctx, wt.BranchName, target, opts)
	default:
		report, err = m.mergeDirect(ctx, wt.BranchName, target, opts)
	}
	if err != nil {
		return nil, err
	}
	report.BackupBranch = backup

	if !report.Success {
		return report, nil
	}

	if opts.CreatePR && m.prCLI != "" {
		url, prErr := m.openPR(ctx, wt.BranchName, target, opts)
		if prErr != nil {
			return report, &PRError{Msg: "failed to open PR", Err: prErr}
		}
		report.PRUrl = url
	}

	now := m.clock.Now()
	exp.Merge = &MergeMeta{MergedAt: now, MergedWorktree: worktreeIndex, MergeTargetBranch: target}

	return report, nil
}

// mergeDirect implements §4.10's direct strategy: `merge --no-ff`.
func (m *MergeOrchestrator) mergeDirect(ctx context.Context, source, target string, opts MergeOptions) (*MergeReport, error) {
	if _, err := m.git.Git(ctx, m.repoRoot, "checkout", target); err != nil {
		return nil, &MergeError{Strategy: "direct", Msg: "checkout target failed", Err: err}
	}

	out, err := m.git.Git(ctx, m.repoRoot, "merge", "--no-ff", "--no-edit", source)
	if err != nil {
		conflicts, detectErr := m.detectConflicts(ctx)
		if detectErr != nil {
			return nil, &MergeError{Strategy: "direct", Msg: "merge failed and conflict detection failed", Err: err}
		}
		return m.handleConflicts(ctx, "direct", conflicts, opts)
	}
	_ = out

	commitOut, _ := m.git.Git(ctx, m.repoRoot, "rev-parse", "HEAD")
	countOut, _ := m.git.Git(ctx, m.repoRoot, "rev-list", "--count", target+".."+source)

	return &MergeReport{
		Success:       true,
		MergeCommit:   strings.TrimSpace(string(commitOut)),
		CommitsMerged: atoiOrZero(strings.TrimSpace(string(countOut))),
	}, nil
}

// mergeSquash implements §4.10's squash strategy.
func (m *MergeOrchestrator) mergeSquash(ctx context.Context, source, target string, opts MergeOptions) (*MergeReport, error) {
	if _, err := m.git.Git(ctx, m.repoRoot, "checkout", target); err != nil {
		return nil, &MergeError{Strategy: "squash", Msg: "checkout target failed", Err: err}
	}

	if _, err := m.git.Git(ctx, m.repoRoot, "merge", "--squash", source); err != nil {
		conflicts, detectErr := m.detectConflicts(ctx)
		if detectErr != nil {
			return nil, &MergeError{Strategy: "squash", Msg: "merge failed and conflict detection failed", Err: err}
		}
		return m.handleConflicts(ctx, "squash", conflicts, opts)
	}

	message := fmt.Sprintf("Squash merge %s into %s", source, target)
	if _, err := m.git.Git(ctx, m.repoRoot, "commit", "-m", message); err != nil {
		return nil, &MergeError{Strategy: "squash", Msg: "commit failed", Err: err}
	}

	commitOut, _ := m.git.Git(ctx, m.repoRoot, "rev-parse", "HEAD")
	return &MergeReport{Success: true, MergeCommit: strings.TrimSpace(string(commitOut)), CommitsMerged: 1}, nil
}

// mergeRebase implements §4.10's rebase strategy, aborting cleanly on failure.
func (m *MergeOrchestrator) mergeRebase(ctx context.Context, source, target string, opts MergeOptions) (*MergeReport, error) {
	if _, err := m.git.Git(ctx, m.repoRoot, "checkout", source); err != nil {
		return nil, &MergeError{Strategy: "rebase", Msg: "checkout source failed", Err: err}
	}

	if _, err := m.git.Git(ctx, m.repoRoot, "rebase", target); err != nil {
		conflicts, detectErr := m.detectConflicts(ctx)
		_, _ = m.git.Git(ctx, m.repoRoot, "rebase", "--abort")
		if detectErr != nil {
			return nil, &MergeError{Strategy: "rebase", Msg: "rebase failed and conflict detection failed", Err: err}
		}
		return &MergeReport{Success: false, ConflictsDetected: len(conflicts) > 0, Conflicts: conflicts}, nil
	}

	if _, err := m.git.Git(ctx, m.repoRoot, "checkout", target); err != nil {
		return nil, &MergeError{Strategy: "rebase", Msg: "checkout target failed", Err: err}
	}
	if _, err := m.git.Git(ctx, m.repoRoot, "merge", "--ff-only", source); err != nil {
		return nil, &MergeError{Strategy: "rebase", Msg: "fast-forward merge failed", Err: err}
	}

	commitOut, _ := m.git.Git(ctx, m.repoRoot, "rev-parse", "HEAD")
	countOut, _ := m.git.Git(ctx, m.repoRoot, "rev-list", "--count", target+".."+source)
	return &MergeReport{
		Success:       true,
		MergeCommit:   strings.TrimSpace(string(commitOut)),
		CommitsMerged: atoiOrZero(strings.TrimSpace(string(countOut))),
	}, nil
}

// detectConflicts parses `git status --porcelain` U/A/D markers into
// ConflictInfo per §4.10.
func (m *MergeOrchestrator) detectConflicts(ctx context.Context) ([]ConflictInfo, error) {
	out, err := m.git.Git(ctx, m.repoRoot, "status", "--porcelain")
	if err != nil {
		return nil, &GitError{Args: []string{"status", "--porcelain"}, Stderr: string(out), Err: err}
	}

	var conflicts []ConflictInfo
	for _, line := range strings.Split(string(out), "\n") {
		if len(line) < 3 {
			continue
		}
		marker := line[:2]
		path := strings.TrimSpace(line[3:])
		var kind ConflictKind
		switch {
		case marker == "UU" || marker == "AA" || strings.Contains(marker, "U"):
			kind = ConflictContent
		case strings.Contains(marker, "D"):
			kind = ConflictDelete
		case strings.Contains(marker, "R"):
			kind = ConflictRename
		default:
			continue
		}
		conflicts = append(conflicts, ConflictInfo{Path: path, Kind: kind})
	}
	return conflicts, nil
}

// handleConflicts implements §4.10's conflict-resolution policy: abort and
// report if auto-resolve is off; otherwise take "ours" per conflicting file
// and commit.
func (m *MergeOrchestrator) handleConflicts(ctx context.Context, strategy string, conflicts []ConflictInfo, opts MergeOptions) (*MergeReport, error) {
	if len(conflicts) == 0 {
		_, _ = m.git.Git(ctx, m.repoRoot, "merge", "--abort")
		return nil, &MergeError{Strategy: strategy, Msg: "merge failed for an unknown reason", Err: nil}
	}

	if !opts.AutoResolveConflicts {
		_, _ = m.git.Git(ctx, m.repoRoot, "merge", "--abort")
		return &MergeReport{Success: false, ConflictsDetected: true, Conflicts: conflicts}, nil
	}

	for i := range conflicts {
		if _, err := m.git.Git(ctx, m.repoRoot, "checkout", "--ours", conflicts[i].Path); err != nil {
			_, _ = m.git.Git(ctx, m.repoRoot, "merge", "--abort")
			return nil, &ConflictsUnresolved{Conflicts: conflicts}
		}
		if _, err := m.git.Git(ctx, m.repoRoot, "add", conflicts[i].Path); err != nil {
			_, _ = m.git.Git(ctx, m.repoRoot, "merge", "--abort")
			return nil, &ConflictsUnresolved{Conflicts: conflicts}
		}
		conflicts[i].Resolved = true
		conflicts[i].ResolutionStrategy = "ours"
	}

	message := fmt.Sprintf("Merge with auto-resolved conflicts (%s)", strategy)
	if _, err := m.git.Git(ctx, m.repoRoot, "commit", "-m", message); err != nil {
		return nil, &ConflictsUnresolved{Conflicts: conflicts}
	}

	commitOut, _ := m.git.Git(ctx, m.repoRoot, "rev-parse", "HEAD")
	return &MergeReport{
		Success:           true,
		ConflictsDetected: true,
		Conflicts:         conflicts,
		MergeCommit:       strings.TrimSpace(string(commitOut)),
	}, nil
}

// PreviewMerge attempts a merge with --no-commit and always aborts before
// returning, so the working tree and HEAD are left exactly as found
// regardless of outcome.
func (m *MergeOrchestrator) PreviewMerge(ctx context.Context, source, target string) (*PreviewReport, error) {
	orig, err := m.currentBranch(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := m.git.Git(ctx, m.repoRoot, "checkout", target); err != nil {
		return nil, &MergeError{Strategy: "preview", Msg: "checkout target failed", Err: err}
	}

	countOut, _ := m.git.Git(ctx, m.repoRoot, "rev-list", "--count", target+".."+source)
	diffOut, _ := m.git.Git(ctx, m.repoRoot, "diff", "--name-only", target, source)
	filesChanged := len(strings.Fields(strings.TrimSpace(string(diffOut))))

	_, mergeErr := m.git.Git(ctx, m.repoRoot, "merge", "--no-commit", "--no-ff", source)
	report := &PreviewReport{
		CommitsToMerge: atoiOrZero(strings.TrimSpace(string(countOut))),
		FilesChanged:   filesChanged,
	}

	if mergeErr != nil {
		conflicts, _ := m.detectConflicts(ctx)
		report.Conflicts = conflicts
		report.CanMerge = false
	} else {
		report.CanMerge = true
	}

	_, _ = m.git.Git(ctx, m.repoRoot, "merge", "--abort")
	if orig != target {
		_, _ = m.git.Git(ctx, m.repoRoot, "checkout", orig)
	}
	return report, nil
}

// openPR shells out to the configured host CLI and extracts the PR URL
// from its stdout.
func (m *MergeOrchestrator) openPR(ctx context.Context, source, target string, opts MergeOptions) (string, error) {
	title := opts.PRTitle
	if title == "" {
		title = fmt.Sprintf("Merge %s into %s", source, target)
	}
	args := []string{"pr", "create", "--base", target, "--head", source, "--title", title}
	if opts.PRBody != "" {
		args = append(args, "--body", opts.PRBody)
	}

	cmd := exec.CommandContext(ctx, m.prCLI, args...)
	cmd.Dir = m.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s: %s", err, string(out))
	}

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "https://") || strings.HasPrefix(line, "http://") {
			return line, nil
		}
	}
	return strings.TrimSpace(string(out)), nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
