package voyager

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// strategyFakeDockerClient models two shapes of container lifecycle that
// the strategy algorithms must distinguish: a container that exits on its
// own with a given code (naturallyExits), and one that keeps running until
// force-stopped, which the runtime reports with forcedExitCode (simulating
// a SIGTERM/SIGKILL after a timeout).
type strategyFakeDockerClient struct {
	mu              sync.Mutex
	containers      map[string]*strategyContainerState
	naturalExitCode map[string]int // container name -> exit code, exits as soon as started
	forcedExitCode  int
	createCount     int
}

type strategyContainerState struct {
	running  bool
	exitCode int
	started  time.Time
}

func newStrategyFakeDockerClient(forcedExitCode int) *strategyFakeDockerClient {
	return &strategyFakeDockerClient{
		containers:      make(map[string]*strategyContainerState),
		naturalExitCode: make(map[string]int),
		forcedExitCode:  forcedExitCode,
	}
}

func (f *strategyFakeDockerClient) ImageInspectOrPull(ctx context.Context, ref string) error { return nil }

func (f *strategyFakeDockerClient) ContainerCreate(ctx context.Context, spec ContainerCreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCount++
	f.containers[spec.Name] = &strategyContainerState{}
	return spec.Name, nil
}

func (f *strategyFakeDockerClient) ContainerStart(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.containers[id]
	if code, ok := f.naturalExitCode[id]; ok {
		st.running = false
		st.exitCode = code
	} else {
		st.running = true
		st.started = time.Now()
	}
	return nil
}

func (f *strategyFakeDockerClient) ContainerStop(ctx context.Context, id string, timeoutSec int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.containers[id]
	if !ok {
		return errors.New("No such container: " + id)
	}
	if st.running {
		st.running = false
		st.exitCode = f.forcedExitCode
	}
	return nil
}

func (f *strategyFakeDockerClient) ContainerRemove(ctx context.Context, id string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

func (f *strategyFakeDockerClient) ContainerInspect(ctx context.Context, id string) (ContainerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.containers[id]
	if !ok {
		return ContainerState{}, errors.New("No such container: " + id)
	}
	return ContainerState{
		Status:    map[bool]string{true: "running", false: "exited"}[st.running],
		Running:   st.running,
		ExitCode:  st.exitCode,
		StartedAt: st.started,
	}, nil
}

func (f *strategyFakeDockerClient) ContainerStats(ctx context.Context, id string) (ContainerStatsRaw, error) {
	return ContainerStatsRaw{CPUPercent: 1, MemoryRaw: "64MiB"}, nil
}
func (f *strategyFakeDockerClient) ContainerLogs(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}
func (f *strategyFakeDockerClient) ContainerExec(ctx context.Context, id string, cmd []string) (int, []byte, error) {
	return 0, nil, nil
}
func (f *strategyFakeDockerClient) ContainerPause(ctx context.Context, id string) error   { return nil }
func (f *strategyFakeDockerClient) ContainerUnpause(ctx context.Context, id string) error { return nil }
func (f *strategyFakeDockerClient) ContainerKill(ctx context.Context, id string, signal string) error {
	return nil
}
func (f *strategyFakeDockerClient) ContainerWait(ctx context.Context, id string) (int64, error) {
	return 0, nil
}

func newTestExploration(mode Mode, branches int) *Exploration {
	exp := &Exploration{
		ID:       "exp-1",
		Task:     "task",
		Mode:     mode,
		Branches: branches,
		Config:   Config{Branches: branches, Mode: mode, TimeoutMinutes: 30, DockerImage: "busybox"}.applyDefaults(),
	}
	for i := 1; i <= branches; i++ {
		exp.Worktrees = append(exp.Worktrees, WorktreeExploration{
			Index:        i,
			BranchName:   "explore-" + string(rune('0'+i)),
			WorktreePath: "/tmp/wt-" + string(rune('0'+i)),
			Status:       StatusPending,
		})
	}
	return exp
}

func TestParallelExecutionStrategy_AllCompleteNaturally(t *testing.T) {
	fake := newStrategyFakeDockerClient(137)
	for i := 1; i <= 3; i++ {
		fake.naturalExitCode[WorktreeID(i)] = 0
	}

	dir := t.TempDir()
	stateMgr := NewExplorationStateManager(dir)
	exp := newTestExploration(ModeParallel, 3)
	require.NoError(t, stateMgr.SaveExploration(exp))

	ec := &ExecutionContext{
		Exploration: exp,
		Containers:  NewContainerManager(fake, NewNopLogger()),
		SharedDir:   t.TempDir(),
		StateMgr:    stateMgr,
		Log:         NewNopLogger(),
	}
	strategy := &ParallelExecutionStrategy{ec: ec}

	result, err := strategy.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.CompletedBranches)
	assert.True(t, result.Success)
	require.NotNil(t, result.WinnerIndex)
	assert.Equal(t, StatusCompleted, exp.Status)
}

// TestParallelExecutionStrategy_Timeout is the §8 timeout scenario: every
// container keeps running past the deadline, so the strategy force-stops
// them and reports zero completed branches without crashing.
func TestParallelExecutionStrategy_Timeout(t *testing.T) {
	fake := newStrategyFakeDockerClient(137) // forced exit code from the timeout stop

	dir := t.TempDir()
	stateMgr := NewExplorationStateManager(dir)
	exp := newTestExploration(ModeParallel, 2)
	exp.Config.TimeoutMinutes = 0 // expires immediately
	require.NoError(t, stateMgr.SaveExploration(exp))

	ec := &ExecutionContext{
		Exploration: exp,
		Containers:  NewContainerManager(fake, NewNopLogger()),
		SharedDir:   t.TempDir(),
		StateMgr:    stateMgr,
		Log:         NewNopLogger(),
	}
	strategy := &ParallelExecutionStrategy{ec: ec}

	result, err := strategy.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.CompletedBranches)
	assert.False(t, result.Success)
	assert.Equal(t, StatusCompleted, exp.Status)
}

// TestSequentialExecutionStrategy_WinsOnFirst is the §8 scenario: the first
// worktree completes successfully, so the strategy never creates the
// remaining containers.
func TestSequentialExecutionStrategy_WinsOnFirst(t *testing.T) {
	fake := newStrategyFakeDockerClient(137)
	fake.naturalExitCode[WorktreeID(1)] = 0

	dir := t.TempDir()
	stateMgr := NewExplorationStateManager(dir)
	exp := newTestExploration(ModeSequential, 3)
	require.NoError(t, stateMgr.SaveExploration(exp))

	ec := &ExecutionContext{
		Exploration: exp,
		Containers:  NewContainerManager(fake, NewNopLogger()),
		SharedDir:   t.TempDir(),
		StateMgr:    stateMgr,
		Log:         NewNopLogger(),
	}
	strategy := &SequentialExecutionStrategy{ec: ec}

	result, err := strategy.Execute(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.WinnerIndex)
	assert.Equal(t, 1, *result.WinnerIndex)
	assert.Equal(t, 1, result.CompletedBranches)
	assert.Equal(t, 1, fake.createCount)
	assert.Equal(t, StatusCompleted, exp.Status)
}

// TestSequentialExecutionStrategy_AllFail asserts that when no worktree
// completes, the exploration is marked failed rather than completed.
func TestSequentialExecutionStrategy_AllFail(t *testing.T) {
	fake := newStrategyFakeDockerClient(137)
	fake.naturalExitCode[WorktreeID(1)] = 1
	fake.naturalExitCode[WorktreeID(2)] = 1

	dir := t.TempDir()
	stateMgr := NewExplorationStateManager(dir)
	exp := newTestExploration(ModeSequential, 2)
	require.NoError(t, stateMgr.SaveExploration(exp))

	ec := &ExecutionContext{
		Exploration: exp,
		Containers:  NewContainerManager(fake, NewNopLogger()),
		SharedDir:   t.TempDir(),
		StateMgr:    stateMgr,
		Log:         NewNopLogger(),
	}
	strategy := &SequentialExecutionStrategy{ec: ec}

	result, err := strategy.Execute(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result.WinnerIndex)
	assert.Equal(t, 0, result.CompletedBranches)
	assert.Equal(t, 2, fake.createCount)
	assert.Equal(t, StatusFailed, exp.Status)
}

func TestCreateExecutionStrategy_UnknownMode(t *testing.T) {
	ec := &ExecutionContext{Exploration: &Exploration{}, Log: NewNopLogger()}
	strategy := createExecutionStrategy(Mode("bogus"), ec)
	_, err := strategy.Execute(context.Background())
	var unknown *UnknownMode
	assert.ErrorAs(t, err, &unknown)
}
