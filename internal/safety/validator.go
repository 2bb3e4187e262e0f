// Package safety runs the pre-flight environment checks an exploration
// needs before it touches git, Docker, or the host filesystem.
package safety

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	voyager "github.com/fennimore/voyager"
)

const minDockerVersion = "20.10.0"
const minFreeDiskBytes = 5 * 1024 * 1024 * 1024     // 5GiB
const memoryHeadroom = 1.2                           // checked memory must be this multiple of the raw requirement
const perWorktreeMemoryBytes = 2 * 1024 * 1024 * 1024 // 2GiB

// Check is the result of a single safety check.
type Check struct {
	Name string
	OK   bool
	Msg  string
}

// Report is the full set of pre-flight results for one exploration request.
type Report struct {
	Checks []Check
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Err returns a *voyager.SafetyError naming the first failed check, or nil.
func (r Report) Err() error {
	for _, c := range r.Checks {
		if !c.OK {
			return &voyager.SafetyError{Check: c.Name, Msg: c.Msg}
		}
	}
	return nil
}

// Validator runs the six pre-flight checks from the orchestrator's first
// step: clean git state, a valid current branch, a Docker daemon new enough
// to support the flags ContainerManager relies on, enough CPU cores and
// memory for the requested worktree count, and enough free disk.
type Validator struct {
	git      voyager.GitExecutor
	repoRoot string
}

// NewValidator builds a Validator that checks repoRoot's git state and the
// host environment.
func NewValidator(git voyager.GitExecutor, repoRoot string) *Validator {
	return &Validator{git: git, repoRoot: repoRoot}
}

// Run executes every check and collects all failures rather than stopping
// at the first one, so a caller can report everything wrong in one pass.
func (v *Validator) Run(ctx context.Context, worktreeCount int) Report {
	var checks []Check
	checks = append(checks, v.checkGitClean(ctx))
	checks = append(checks, v.checkCurrentBranch(ctx))
	checks = append(checks, v.checkDockerVersion(ctx))
	checks = append(checks, v.checkCPU(worktreeCount))
	checks = append(checks, v.checkMemory(worktreeCount))
	checks = append(checks, v.checkDiskSpace())
	return Report{Checks: checks}
}

func (v *Validator) checkGitClean(ctx context.Context) Check {
	out, err := v.git.Git(ctx, v.repoRoot, "status", "--porcelain")
	if err != nil {
		return Check{Name: "git_clean", Msg: fmt.Sprintf("git status failed: %v", err)}
	}
	if strings.TrimSpace(string(out)) != "" {
		return Check{Name: "git_clean", Msg: "working tree has uncommitted changes"}
	}
	return Check{Name: "git_clean", OK: true}
}

func (v *Validator) checkCurrentBranch(ctx context.Context) Check {
	out, err := v.git.Git(ctx, v.repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return Check{Name: "current_branch", Msg: fmt.Sprintf("rev-parse failed: %v", err)}
	}
	branch := strings.TrimSpace(string(out))
	if branch == "" || branch == "HEAD" {
		return Check{Name: "current_branch", Msg: "HEAD is detached"}
	}
	if err := voyager.ValidateBranchName(branch); err != nil {
		return Check{Name: "current_branch", Msg: err.Error()}
	}
	return Check{Name: "current_branch", OK: true}
}

func (v *Validator) checkDockerVersion(ctx context.Context) Check {
	path, err := exec.LookPath("docker")
	if err != nil {
		return Check{Name: "docker_version", Msg: "docker not found on PATH"}
	}

	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(cctx, path, "version", "--format", "{{.Server.Version}}").Output()
	if err != nil {
		return Check{Name: "docker_version", Msg: fmt.Sprintf("docker version failed: %v", err)}
	}

	raw := strings.TrimSpace(string(out))
	got, err := semver.NewVersion(raw)
	if err != nil {
		return Check{Name: "docker_version", Msg: fmt.Sprintf("could not parse docker version %q", raw)}
	}
	min := semver.MustParse(minDockerVersion)
	if got.LessThan(min) {
		return Check{Name: "docker_version", Msg: fmt.Sprintf("docker %s is older than required %s", got, min)}
	}
	return Check{Name: "docker_version", OK: true}
}

func (v *Validator) checkCPU(worktreeCount int) Check {
	if n := runtime.NumCPU(); n < worktreeCount {
		return Check{Name: "cpu_cores", Msg: fmt.Sprintf("have %d cores, need at least %d", n, worktreeCount)}
	}
	return Check{Name: "cpu_cores", OK: true}
}

func (v *Validator) checkMemory(worktreeCount int) Check {
	available, err := availableMemoryBytes()
	if err != nil {
		return Check{Name: "memory", OK: true, Msg: fmt.Sprintf("could not determine available memory, skipping: %v", err)}
	}
	required := int64(float64(worktreeCount)*perWorktreeMemoryBytes*memoryHeadroom)
	if available < required {
		return Check{Name: "memory", Msg: fmt.Sprintf("have %d bytes available, need at least %d", available, required)}
	}
	return Check{Name: "memory", OK: true}
}

func (v *Validator) checkDiskSpace() Check {
	free, err := freeDiskBytes(v.repoRoot)
	if err != nil {
		return Check{Name: "disk_space", OK: true, Msg: fmt.Sprintf("could not determine free disk, skipping: %v", err)}
	}
	if free < minFreeDiskBytes {
		return Check{Name: "disk_space", Msg: fmt.Sprintf("have %d bytes free, need at least %d", free, minFreeDiskBytes)}
	}
	return Check{Name: "disk_space", OK: true}
}

// availableMemoryBytes reads MemAvailable from /proc/meminfo on Linux. On
// other platforms it returns an error so the caller can treat the check as
// unverifiable rather than fail it outright.
func availableMemoryBytes() (int64, error) {
	if runtime.GOOS != "linux" {
		return 0, fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed MemAvailable line %q", line)
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("MemAvailable not present in /proc/meminfo")
}
