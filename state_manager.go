package voyager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ExplorationStateManager owns the on-disk `<root>/<id>/exploration.json`
// documents and their shared-volume siblings (§4.7). Writes serialize
// through a FileLockManager per exploration so a concurrently-polling
// monitor and a CLI `status` read never race on a half-written file.
type ExplorationStateManager struct {
	root string
}

// NewExplorationStateManager roots the manager at dir (the explorations
// directory, typically `.voyager/explorations`).
func NewExplorationStateManager(dir string) *ExplorationStateManager {
	return &ExplorationStateManager{root: dir}
}

func (s *ExplorationStateManager) explorationDir(id string) string {
	return filepath.Join(s.root, id)
}

func (s *ExplorationStateManager) explorationFile(id string) string {
	return filepath.Join(s.explorationDir(id), "exploration.json")
}

// SharedVolumeDir returns the shared-volume root for an exploration.
func (s *ExplorationStateManager) SharedVolumeDir(id string) string {
	return filepath.Join(s.explorationDir(id), "shared")
}

func (s *ExplorationStateManager) lockFor(id string) *FileLockManager {
	return NewFileLockManager(s.explorationFile(id), "state-manager")
}

// CreateExploration assigns an id, applies config defaults, validates the
// config, and persists the initial pending Exploration document.
func (s *ExplorationStateManager) CreateExploration(task string, config Config) (*Exploration, error) {
	config = config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	exp := &Exploration{
		SchemaVersion: 1,
		ID:            uuid.NewString(),
		Task:          task,
		Mode:          config.Mode,
		Branches:      config.Branches,
		Config:        config,
		Status:        StatusPending,
		Worktrees:     make([]WorktreeExploration, 0, config.Branches),
	}

	if err := ensureDir(s.explorationDir(exp.ID)); err != nil {
		return nil, err
	}
	if err := s.SaveExploration(exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// SaveExploration atomically persists exp under its own lock.
func (s *ExplorationStateManager) SaveExploration(exp *Exploration) error {
	return s.lockFor(exp.ID).WriteWithLock(exp)
}

// LoadExploration reads and decodes the exploration document for id. It
// also reconciles each worktree's self-reported progress.json (if present
// in the shared volume) into the in-memory result, per §4.7's "progress is
// reconciled on every read" policy.
func (s *ExplorationStateManager) LoadExploration(id string) (*Exploration, error) {
	var exp Exploration
	if err := s.lockFor(id).ReadWithLock(&exp); err != nil {
		return nil, err
	}
	if exp.ID == "" {
		return nil, &ValidationError{Field: "id", Msg: "exploration not found: " + id}
	}
	s.reconcileProgress(&exp)
	return &exp, nil
}

// reconcileProgress overlays each worktree's progress.json (written by the
// worker process inside its container) onto the persisted Progress field.
func (s *ExplorationStateManager) reconcileProgress(exp *Exploration) {
	sharedDir := s.SharedVolumeDir(exp.ID)
	for i := range exp.Worktrees {
		wt := &exp.Worktrees[i]
		path := filepath.Join(sharedDir, WorktreeID(wt.Index), "progress.json")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var pf ProgressFile
		if err := json.Unmarshal(data, &pf); err != nil {
			continue
		}
		wt.Progress.CurrentStage = pf.CurrentStage
		wt.Progress.Percentage = pf.Percentage
		wt.Progress.StagesCompleted = pf.StagesCompleted
		wt.Progress.Errors = pf.Errors
		wt.Progress.LastUpdate = pf.LastUpdated
	}
}

// DeleteExploration removes an exploration's directory (state file and
// shared volume) entirely.
func (s *ExplorationStateManager) DeleteExploration(id string) error {
	if err := os.RemoveAll(s.explorationDir(id)); err != nil {
		return &FilesystemError{Op: "delete exploration " + id, Err: err}
	}
	return nil
}

// ExplorationSummary is the condensed view returned by ListExplorations.
type ExplorationSummary struct {
	ID                string     `json:"id"`
	Task              string     `json:"task"`
	Mode              Mode       `json:"mode"`
	Status            Status     `json:"status"`
	Branches          int        `json:"branches"`
	CompletedBranches int        `json:"completed_branches"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// ListExplorations enumerates every exploration directory under root.
func (s *ExplorationStateManager) ListExplorations() ([]ExplorationSummary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &FilesystemError{Op: "list " + s.root, Err: err}
	}

	var out []ExplorationSummary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, err := s.LoadExploration(entry.Name())
		if err != nil {
			continue
		}
		out = append(out, ExplorationSummary{
			ID:                exp.ID,
			Task:              exp.Task,
			Mode:              exp.Mode,
			Status:            exp.Status,
			Branches:          exp.Branches,
			CompletedBranches: exp.CompletedBranches,
			StartedAt:         exp.StartedAt,
			CompletedAt:       exp.CompletedAt,
		})
	}
	return out, nil
}

// Collaboration returns a CollaborationCoordinator rooted at id's shared
// volume, for callers that want insight/decision access without going
// through the orchestrator.
func (s *ExplorationStateManager) Collaboration(id string) *CollaborationCoordinator {
	return NewCollaborationCoordinator(s.SharedVolumeDir(id))
}
