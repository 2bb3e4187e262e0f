package voyager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tcexec "github.com/testcontainers/testcontainers-go/exec"
	"github.com/testcontainers/testcontainers-go/wait"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	git := &localGitExecutor{}
	ctx := context.Background()
	mustGit(t, git, ctx, dir, "init", "-b", "main")
	mustGit(t, git, ctx, dir, "config", "user.email", "test@example.com")
	mustGit(t, git, ctx, dir, "config", "user.name", "Test User")
	mustGit(t, git, ctx, dir, "commit", "--allow-empty", "-m", "init")
	return dir
}

func mustGit(t *testing.T, git GitExecutor, ctx context.Context, dir string, args ...string) []byte {
	t.Helper()
	out, err := git.Git(ctx, dir, args...)
	require.NoErrorf(t, err, "git %v: %s", args, out)
	return out
}

func TestWorktreeManager_CreateAndList(t *testing.T) {
	repo := initRepo(t)
	m := NewWorktreeManager(nil, repo, nil)
	ctx := context.Background()

	path := filepath.Join(repo, "wt-1")
	err := m.CreateWorktree(ctx, CreateWorktreeOptions{Path: path, Branch: "explore-1", BaseRef: "main"})
	require.NoError(t, err)

	infos, err := m.ListWorktrees(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 2) // main + new worktree

	exists, err := m.WorktreeExists(ctx, path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWorktreeManager_CreateWorktree_RejectsInvalidBranch(t *testing.T) {
	repo := initRepo(t)
	m := NewWorktreeManager(nil, repo, nil)
	ctx := context.Background()

	err := m.CreateWorktree(ctx, CreateWorktreeOptions{Path: filepath.Join(repo, "wt"), Branch: "-bad", BaseRef: "main"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestWorktreeManager_CreateWorktree_RejectsPathEscape(t *testing.T) {
	repo := initRepo(t)
	m := NewWorktreeManager(nil, repo, nil)
	ctx := context.Background()

	err := m.CreateWorktree(ctx, CreateWorktreeOptions{Path: filepath.Join(repo, "..", "outside"), Branch: "ok", BaseRef: "main"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestWorktreeManager_CreateMultipleWorktrees_RollsBackOnFailure(t *testing.T) {
	repo := initRepo(t)
	m := NewWorktreeManager(nil, repo, nil)
	ctx := context.Background()

	opts := []CreateWorktreeOptions{
		{Path: filepath.Join(repo, "wt-a"), Branch: "branch-a", BaseRef: "main"},
		{Path: filepath.Join(repo, "wt-b"), Branch: "-invalid", BaseRef: "main"},
	}
	err := m.CreateMultipleWorktrees(ctx, opts)
	require.Error(t, err)

	infos, err := m.ListWorktrees(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1, "rollback should have removed wt-a, leaving only main")

	avail, err := m.IsBranchNameAvailable(ctx, "branch-a")
	require.NoError(t, err)
	assert.True(t, avail, "rollback should have deleted branch-a")
}

func TestWorktreeManager_RemoveWorktree_AbsentIsSoftSuccess(t *testing.T) {
	repo := initRepo(t)
	m := NewWorktreeManager(nil, repo, nil)
	ctx := context.Background()

	err := m.RemoveWorktree(ctx, filepath.Join(repo, "never-existed"), false)
	assert.NoError(t, err)
}

func TestWorktreeManager_RemoveWorktree_Removes(t *testing.T) {
	repo := initRepo(t)
	m := NewWorktreeManager(nil, repo, nil)
	ctx := context.Background()

	path := filepath.Join(repo, "wt-1")
	require.NoError(t, m.CreateWorktree(ctx, CreateWorktreeOptions{Path: path, Branch: "explore-1", BaseRef: "main"}))
	require.NoError(t, m.RemoveWorktree(ctx, path, false))

	exists, err := m.WorktreeExists(ctx, path)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWorktreeManager_DeleteBranch_AbsentIsSoftSuccess(t *testing.T) {
	repo := initRepo(t)
	m := NewWorktreeManager(nil, repo, nil)
	ctx := context.Background()

	err := m.DeleteBranch(ctx, "never-existed", false)
	assert.NoError(t, err)
}

func TestWorktreeManager_LockUnlockWorktree(t *testing.T) {
	repo := initRepo(t)
	m := NewWorktreeManager(nil, repo, nil)
	ctx := context.Background()

	path := filepath.Join(repo, "wt-1")
	require.NoError(t, m.CreateWorktree(ctx, CreateWorktreeOptions{Path: path, Branch: "explore-1", BaseRef: "main"}))

	require.NoError(t, m.LockWorktree(ctx, path, "exploring"))
	infos, err := m.ListWorktrees(ctx)
	require.NoError(t, err)
	found := false
	for _, i := range infos {
		if i.Path == path {
			assert.True(t, i.Locked)
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, m.UnlockWorktree(ctx, path))
}

func TestWorktreeManager_PruneWorktrees_RemovesStaleRefs(t *testing.T) {
	repo := initRepo(t)
	m := NewWorktreeManager(nil, repo, nil)
	ctx := context.Background()

	path := filepath.Join(repo, "wt-1")
	require.NoError(t, m.CreateWorktree(ctx, CreateWorktreeOptions{Path: path, Branch: "explore-1", BaseRef: "main"}))
	require.NoError(t, os.RemoveAll(path))

	require.NoError(t, m.PruneWorktrees(ctx))

	infos, err := m.ListWorktrees(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestWorktreeManager_CheckWorktreeLimit(t *testing.T) {
	repo := initRepo(t)
	m := NewWorktreeManager(nil, repo, nil)
	ctx := context.Background()

	require.NoError(t, m.CheckWorktreeLimit(ctx, 2))

	require.NoError(t, m.CreateWorktree(ctx, CreateWorktreeOptions{Path: filepath.Join(repo, "wt-1"), Branch: "b1", BaseRef: "main"}))

	err := m.CheckWorktreeLimit(ctx, 2)
	var exhaustion *ResourceExhaustion
	assert.ErrorAs(t, err, &exhaustion)
}

func TestWorktreeManager_GetWorktreeStatus(t *testing.T) {
	repo := initRepo(t)
	m := NewWorktreeManager(nil, repo, nil)
	ctx := context.Background()

	path := filepath.Join(repo, "wt-1")
	require.NoError(t, m.CreateWorktree(ctx, CreateWorktreeOptions{Path: path, Branch: "explore-1", BaseRef: "main"}))

	status, err := m.GetWorktreeStatus(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(status))
}

// === container-backed GitExecutor, for exercising a non-local git binary ===

type containerGitExecutor struct {
	ctr tc.Container
}

func (e *containerGitExecutor) Git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	mkdir := []string{"mkdir", "-p", dir}
	if code, _, err := e.ctr.Exec(ctx, mkdir, tcexec.Multiplexed()); err != nil || code != 0 {
		return nil, err
	}
	cmd := append([]string{"git", "-C", dir}, args...)
	code, reader, err := e.ctr.Exec(ctx, cmd, tcexec.Multiplexed())
	if err != nil {
		return nil, err
	}
	out := readAll(reader)
	if code != 0 {
		return out, &GitError{Args: args, Stderr: string(out)}
	}
	return out, nil
}

func readAll(r interface{ Read([]byte) (int, error) }) []byte {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return buf
}

var _ GitExecutor = (*containerGitExecutor)(nil)

func setupGitContainer(t *testing.T, ctx context.Context) tc.Container {
	t.Helper()
	req := tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:      "alpine/git:latest",
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd:        []string{"sleep infinity"},
			WaitingFor: wait.ForExec([]string{"git", "--version"}).
				WithExitCodeMatcher(func(code int) bool { return code == 0 }),
		},
		Started: true,
	}
	ctr, err := tc.GenericContainer(ctx, req)
	tc.CleanupContainer(t, ctr)
	require.NoError(t, err)

	for _, cmd := range [][]string{
		{"git", "config", "--global", "user.email", "test@example.com"},
		{"git", "config", "--global", "user.name", "Test User"},
		{"git", "config", "--global", "init.defaultBranch", "main"},
	} {
		code, _, err := ctr.Exec(ctx, cmd, tcexec.Multiplexed())
		require.NoError(t, err)
		require.Zero(t, code)
	}
	return ctr
}

func TestWorktreeManager_AgainstContainerizedGit(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	ctr := setupGitContainer(t, ctx)
	git := &containerGitExecutor{ctr: ctr}
	repoDir := "/tmp/test-repo"

	mustGit(t, git, ctx, repoDir, "init")
	mustGit(t, git, ctx, repoDir, "commit", "--allow-empty", "-m", "init")

	m := NewWorktreeManager(git, repoDir, nil)
	err := m.CreateWorktree(ctx, CreateWorktreeOptions{Path: "/tmp/wt-1", Branch: "explore-1", BaseRef: "main"})
	require.NoError(t, err)

	infos, err := m.ListWorktrees(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 2)
}
