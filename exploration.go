package voyager

import (
	"strconv"
	"time"
)

// Mode selects the execution strategy for an Exploration.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// Status is the lifecycle state of an Exploration or WorktreeExploration.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// explorationTransitions encodes the FSM in spec §4.11.
var explorationTransitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusStopped},
	StatusStopped:   {StatusRunning},
	StatusCompleted: {},
	StatusFailed:    {},
}

// CanTransition reports whether moving from 'from' to 'to' is legal per the
// Exploration FSM.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range explorationTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Config holds the exploration config keys recognised by the core (§6).
type Config struct {
	Branches       int      `json:"branches"`
	Mode           Mode     `json:"mode"`
	Strategies     []string `json:"strategies,omitempty"`
	CPULimit       string   `json:"cpu_limit,omitempty"`
	MemoryLimit    string   `json:"memory_limit,omitempty"`
	DockerImage    string   `json:"docker_image,omitempty"`
	TimeoutMinutes float64  `json:"timeout_minutes,omitempty"`
	NoCleanup      bool     `json:"no_cleanup,omitempty"`
}

// applyDefaults fills in the defaults documented in §6/§4.12.
func (c Config) applyDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeParallel
	}
	if c.CPULimit == "" {
		c.CPULimit = "1"
	}
	if c.MemoryLimit == "" {
		c.MemoryLimit = "512m"
	}
	if c.DockerImage == "" {
		c.DockerImage = "busybox"
	}
	if c.TimeoutMinutes == 0 {
		c.TimeoutMinutes = 30
	}
	return c
}

// Validate checks the config per §4.1's resource-string validators and the
// branches/strategies cardinality rules.
func (c Config) Validate() error {
	if c.Branches <= 0 {
		return &ValidationError{Field: "branches", Msg: "must be a positive integer"}
	}
	if c.Mode != ModeParallel && c.Mode != ModeSequential {
		return &ValidationError{Field: "mode", Msg: "must be parallel or sequential"}
	}
	if len(c.Strategies) > c.Branches {
		return &ValidationError{Field: "strategies", Msg: "length must not exceed branches"}
	}
	if c.CPULimit != "" {
		if err := ValidateCPULimit(c.CPULimit); err != nil {
			return err
		}
	}
	if c.MemoryLimit != "" {
		if err := ValidateMemoryLimit(c.MemoryLimit); err != nil {
			return err
		}
	}
	return nil
}

// Progress is a worktree's self-reported and orchestrator-observed advance.
type Progress struct {
	CurrentStage       string    `json:"current_stage"`
	Percentage         int       `json:"percentage"`
	StagesCompleted    []string  `json:"stages_completed"`
	Errors             []string  `json:"errors"`
	InsightsPublished  int       `json:"insights_published"`
	LastUpdate         time.Time `json:"last_update"`
}

// ContainerStats is the last-observed snapshot of a worktree's container.
type ContainerStats struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	UptimeSec  float64 `json:"uptime_sec"`
	Status     string  `json:"status"`
}

// WorktreeExploration is one branch of one exploration (§3).
type WorktreeExploration struct {
	Index               int              `json:"index"`
	BranchName          string           `json:"branch_name"`
	WorktreePath        string           `json:"worktree_path"`
	Strategy            string           `json:"strategy,omitempty"`
	AllocatedResources  *AllocatedResources `json:"allocated_resources,omitempty"`
	ContainerID         string           `json:"container_id,omitempty"`
	ContainerStats      *ContainerStats  `json:"container_stats,omitempty"`
	Status              Status           `json:"status"`
	Progress            Progress         `json:"progress"`
}

// WorktreeID formats the canonical "worktree-<i>" identifier used throughout
// the shared volume and collaboration pools.
func WorktreeID(index int) string {
	return "worktree-" + strconv.Itoa(index)
}

// MergeMeta records post-merge bookkeeping on the Exploration (§4.10).
type MergeMeta struct {
	MergedAt          time.Time `json:"merged_at"`
	MergedWorktree    int       `json:"merged_worktree"`
	MergeTargetBranch string    `json:"merge_target_branch"`
}

// Exploration is one run (§3).
type Exploration struct {
	SchemaVersion    int                    `json:"schema_version"`
	ID               string                 `json:"id"`
	Task             string                 `json:"task"`
	Mode             Mode                   `json:"mode"`
	Branches         int                    `json:"branches"`
	Config           Config                 `json:"config"`
	Status           Status                 `json:"status"`
	StartedAt        *time.Time             `json:"started_at,omitempty"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
	DurationMS       int64                  `json:"duration_ms,omitempty"`
	CompletedBranches int                   `json:"completed_branches"`
	Worktrees        []WorktreeExploration  `json:"worktrees"`
	Results          *ExecutionResult       `json:"results,omitempty"`
	Merge            *MergeMeta             `json:"merge,omitempty"`
}

// Worktree returns a pointer to the worktree at the given 1-based index, or
// nil if out of range.
func (e *Exploration) Worktree(index int) *WorktreeExploration {
	for i := range e.Worktrees {
		if e.Worktrees[i].Index == index {
			return &e.Worktrees[i]
		}
	}
	return nil
}
