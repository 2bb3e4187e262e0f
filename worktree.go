package voyager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

// GitExecutor abstracts git command execution for testability, the seam
// that lets WorktreeManager run against a real checkout in unit tests and
// against a containerized git in integration tests.
type GitExecutor interface {
	Git(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// localGitExecutor runs git commands on the host filesystem via argv-style
// exec, never through a shell.
type localGitExecutor struct{}

func (e *localGitExecutor) Git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// NewGitExecutor returns the default GitExecutor, which runs git on the
// host via argv-style exec. Exported so callers outside this package (the
// CLI's doctor command) can run pre-flight checks without an orchestrator.
func NewGitExecutor() GitExecutor {
	return &localGitExecutor{}
}

var validBranchName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*$`)

// ValidateBranchName rejects anything that isn't a plausible git ref.
func ValidateBranchName(name string) error {
	if name == "" {
		return &ValidationError{Field: "branch", Msg: "must not be empty"}
	}
	if !validBranchName.MatchString(name) {
		return &ValidationError{Field: "branch", Msg: "must be a valid git ref"}
	}
	if strings.Contains(name, "..") || strings.HasSuffix(name, ".lock") || strings.HasSuffix(name, "/") {
		return &ValidationError{Field: "branch", Msg: "must be a valid git ref"}
	}
	return nil
}

// ValidateWorktreePath ensures path resolves inside repoRoot, rejecting any
// attempt to traverse outside it via "..".
func ValidateWorktreePath(repoRoot, path string) error {
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return &ValidationError{Field: "path", Msg: "repo root is not resolvable"}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return &ValidationError{Field: "path", Msg: "path is not resolvable"}
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return &ValidationError{Field: "path", Msg: "must resolve inside the repository root"}
	}
	return nil
}

// WorktreeInfo describes one entry from `git worktree list --porcelain`.
type WorktreeInfo struct {
	Path   string
	Branch string
	Head   string
	Locked bool
}

// CreateWorktreeOptions parameterises WorktreeManager.CreateWorktree.
type CreateWorktreeOptions struct {
	Path    string
	Branch  string
	BaseRef string
	Force   bool
}

const defaultMaxWorktrees = 50

// WorktreeManager performs git worktree CRUD with input validation, bounded
// retries on transient git failures, and all-or-nothing rollback for batch
// creation.
type WorktreeManager struct {
	git      GitExecutor
	repoRoot string
	log      *Logger
}

// NewWorktreeManager creates a manager rooted at repoRoot. A nil git falls
// back to the host git binary; a nil logger is replaced with a no-op logger.
func NewWorktreeManager(git GitExecutor, repoRoot string, log *Logger) *WorktreeManager {
	if git == nil {
		git = &localGitExecutor{}
	}
	if log == nil {
		log = NewNopLogger()
	}
	return &WorktreeManager{git: git, repoRoot: repoRoot, log: log}
}

// CreateWorktree creates one worktree, retrying up to 3 attempts on
// transient git failures such as a lock held by a concurrent process.
func (m *WorktreeManager) CreateWorktree(ctx context.Context, opts CreateWorktreeOptions) error {
	if err := ValidateBranchName(opts.Branch); err != nil {
		return err
	}
	if err := ValidateWorktreePath(m.repoRoot, opts.Path); err != nil {
		return err
	}

	args := []string{"worktree", "add"}
	if opts.Force {
		args = append(args, "--force")
	}
	args = append(args, "-b", opts.Branch, opts.Path, opts.BaseRef)

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2) // 3 attempts total
	return backoff.Retry(func() error {
		out, err := m.git.Git(ctx, m.repoRoot, args...)
		if err != nil {
			m.log.Warn("worktree add %s: %s", opts.Branch, strings.TrimSpace(string(out)))
			return &GitError{Args: args, Stderr: string(out), Err: err}
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

// CreateMultipleWorktrees creates entries one at a time; on any failure it
// removes every worktree already created in this call and deletes their
// branches. Rollback errors are logged, never masking the original error.
func (m *WorktreeManager) CreateMultipleWorktrees(ctx context.Context, options []CreateWorktreeOptions) error {
	created := make([]CreateWorktreeOptions, 0, len(options))
	for _, opts := range options {
		if err := m.CreateWorktree(ctx, opts); err != nil {
			for _, done := range created {
				if rmErr := m.RemoveWorktree(ctx, done.Path, true); rmErr != nil {
					m.log.Warn("rollback: remove worktree %s: %v", done.Path, rmErr)
				}
				if delErr := m.DeleteBranch(ctx, done.Branch, true); delErr != nil {
					m.log.Warn("rollback: delete branch %s: %v", done.Branch, delErr)
				}
			}
			return err
		}
		created = append(created, opts)
	}
	return nil
}

// ListWorktrees parses `git worktree list --porcelain`.
func (m *WorktreeManager) ListWorktrees(ctx context.Context) ([]WorktreeInfo, error) {
	out, err := m.git.Git(ctx, m.repoRoot, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, &GitError{Args: []string{"worktree", "list"}, Stderr: string(out), Err: err}
	}
	return parseWorktreePorcelain(string(out)), nil
}

func parseWorktreePorcelain(s string) []WorktreeInfo {
	var infos []WorktreeInfo
	var cur *WorktreeInfo
	for _, line := range strings.Split(s, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur != nil {
				infos = append(infos, *cur)
			}
			cur = &WorktreeInfo{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD "):
			if cur != nil {
				cur.Head = strings.TrimPrefix(line, "HEAD ")
			}
		case strings.HasPrefix(line, "branch "):
			if cur != nil {
				cur.Branch = strings.TrimPrefix(line, "branch ")
			}
		case line == "locked":
			if cur != nil {
				cur.Locked = true
			}
		}
	}
	if cur != nil {
		infos = append(infos, *cur)
	}
	return infos
}

// GetWorktreeInfo returns the WorktreeInfo for path, or nil if not found.
func (m *WorktreeManager) GetWorktreeInfo(ctx context.Context, path string) (*WorktreeInfo, error) {
	infos, err := m.ListWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	for _, i := range infos {
		if i.Path == path {
			cp := i
			return &cp, nil
		}
	}
	return nil, nil
}

// WorktreeExists reports whether path is a registered worktree.
func (m *WorktreeManager) WorktreeExists(ctx context.Context, path string) (bool, error) {
	info, err := m.GetWorktreeInfo(ctx, path)
	return info != nil, err
}

// IsBranchNameAvailable reports whether branch does not already exist.
func (m *WorktreeManager) IsBranchNameAvailable(ctx context.Context, branch string) (bool, error) {
	_, err := m.git.Git(ctx, m.repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err != nil, nil
}

// RemoveWorktree removes a worktree. Removing one that does not exist is a
// soft success: it is logged as a warning, not returned as an error.
func (m *WorktreeManager) RemoveWorktree(ctx context.Context, path string, force bool) error {
	exists, err := m.WorktreeExists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		m.log.Warn("remove worktree %s: already absent", path)
		return nil
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	out, err := m.git.Git(ctx, m.repoRoot, args...)
	if err != nil {
		return &GitError{Args: args, Stderr: string(out), Err: err}
	}
	return nil
}

// DeleteBranch deletes a local branch. Deleting an absent branch is a soft
// success.
func (m *WorktreeManager) DeleteBranch(ctx context.Context, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	out, err := m.git.Git(ctx, m.repoRoot, "branch", flag, branch)
	if err != nil {
		if strings.Contains(string(out), "not found") {
			return nil
		}
		return &GitError{Args: []string{"branch", flag, branch}, Stderr: string(out), Err: err}
	}
	return nil
}

// LockWorktree marks a worktree as administratively locked so
// `git worktree prune` will not reclaim it.
func (m *WorktreeManager) LockWorktree(ctx context.Context, path, reason string) error {
	args := []string{"worktree", "lock"}
	if reason != "" {
		args = append(args, "--reason", reason)
	}
	args = append(args, path)
	out, err := m.git.Git(ctx, m.repoRoot, args...)
	if err != nil {
		return &GitError{Args: args, Stderr: string(out), Err: err}
	}
	return nil
}

// UnlockWorktree clears an administrative lock set by LockWorktree.
func (m *WorktreeManager) UnlockWorktree(ctx context.Context, path string) error {
	out, err := m.git.Git(ctx, m.repoRoot, "worktree", "unlock", path)
	if err != nil {
		return &GitError{Args: []string{"worktree", "unlock", path}, Stderr: string(out), Err: err}
	}
	return nil
}

// PruneWorktrees removes administrative files for worktrees whose directory
// has been deleted out from under git.
func (m *WorktreeManager) PruneWorktrees(ctx context.Context) error {
	out, err := m.git.Git(ctx, m.repoRoot, "worktree", "prune")
	if err != nil {
		return &GitError{Args: []string{"worktree", "prune"}, Stderr: string(out), Err: err}
	}
	return nil
}

// GetWorktreeStatus returns `git status --porcelain` output for path, used
// by the merge orchestrator's pre-flight checks.
func (m *WorktreeManager) GetWorktreeStatus(ctx context.Context, path string) (string, error) {
	out, err := m.git.Git(ctx, path, "status", "--porcelain")
	if err != nil {
		return "", &GitError{Args: []string{"status", "--porcelain"}, Stderr: string(out), Err: err}
	}
	return string(out), nil
}

// CheckWorktreeLimit returns a ResourceExhaustion error if the repository
// already has max (or more, defaulting to 50) registered worktrees.
func (m *WorktreeManager) CheckWorktreeLimit(ctx context.Context, max int) error {
	if max <= 0 {
		max = defaultMaxWorktrees
	}
	infos, err := m.ListWorktrees(ctx)
	if err != nil {
		return err
	}
	if len(infos) >= max {
		return &ResourceExhaustion{Resource: "worktrees", Msg: fmt.Sprintf("limit of %d reached", max)}
	}
	return nil
}

// ensureDir creates path (and parents) if missing.
func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return &FilesystemError{Op: "mkdir " + path, Err: err}
	}
	return nil
}
