package voyager

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const sharedVolumeReadme = `# Shared volume

This directory is mounted read-write into every worktree's container at
/shared. It holds the insights pool, the decisions pool, the lock
directory, and one subdirectory per worktree for its latest insight,
metrics, and progress snapshots.
`

// SharedVolumeManager initializes, validates, and tears down the
// per-exploration shared directory tree (§4.4, §6).
type SharedVolumeManager struct {
	root string
}

// NewSharedVolumeManager roots the manager at dir (typically
// `<explorations-root>/<id>/shared`).
func NewSharedVolumeManager(dir string) *SharedVolumeManager {
	return &SharedVolumeManager{root: dir}
}

func (s *SharedVolumeManager) worktreeDir(i int) string {
	return filepath.Join(s.root, WorktreeID(i))
}

// Initialize creates the fixed directory tree for worktreeCount workers.
// It is idempotent with respect to directory creation; existing data files
// are overwritten with the empty schema, per §4.4's guarantee.
func (s *SharedVolumeManager) Initialize(explorationID string, worktreeCount int) error {
	if err := ensureDir(s.root); err != nil {
		return err
	}
	if err := ensureDir(filepath.Join(s.root, "locks")); err != nil {
		return err
	}

	now := SystemClock.Now()
	if err := writeJSONFile(filepath.Join(s.root, "insights-pool.json"), InsightsPool{
		SchemaVersion: 1, ExplorationID: explorationID, Insights: []Insight{}, TotalCount: 0, LastUpdated: now,
	}); err != nil {
		return err
	}
	if err := writeJSONFile(filepath.Join(s.root, "decisions-pool.json"), DecisionsPool{
		SchemaVersion: 1, ExplorationID: explorationID, Decisions: []Decision{}, TotalCount: 0, LastUpdated: now,
	}); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.root, "README.md"), []byte(sharedVolumeReadme), 0o644); err != nil {
		return &FilesystemError{Op: "write README", Err: err}
	}

	for i := 1; i <= worktreeCount; i++ {
		dir := s.worktreeDir(i)
		if err := ensureDir(dir); err != nil {
			return err
		}
		if err := writeJSONFile(filepath.Join(dir, "latest-insight.json"), LatestInsightFile{
			WorktreeIndex: i, Insight: nil, LastUpdated: now,
		}); err != nil {
			return err
		}
		if err := writeJSONFile(filepath.Join(dir, "metrics.json"), MetricsFile{
			WorktreeIndex: i, LastUpdated: now,
		}); err != nil {
			return err
		}
		if err := writeJSONFile(filepath.Join(dir, "progress.json"), ProgressFile{
			WorktreeIndex: i, StagesCompleted: []string{}, Errors: []string{}, LastUpdated: now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &FilesystemError{Op: "marshal " + path, Err: err}
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return &FilesystemError{Op: "write " + path, Err: err}
	}
	return nil
}

// ValidationReport is the result of SharedVolumeManager.Validate.
type ValidationReport struct {
	Valid        bool     `json:"valid"`
	MissingFiles []string `json:"missing_files"`
	Errors       []string `json:"errors"`
}

// Validate checks that every file Initialize would have created is present
// and well-formed JSON (where applicable).
func (s *SharedVolumeManager) Validate(worktreeCount int) ValidationReport {
	report := ValidationReport{Valid: true}
	required := []string{"insights-pool.json", "decisions-pool.json", "locks", "README.md"}
	for i := 1; i <= worktreeCount; i++ {
		wt := WorktreeID(i)
		required = append(required,
			filepath.Join(wt, "latest-insight.json"),
			filepath.Join(wt, "metrics.json"),
			filepath.Join(wt, "progress.json"),
		)
	}

	for _, rel := range required {
		path := filepath.Join(s.root, rel)
		if _, err := os.Stat(path); err != nil {
			report.Valid = false
			report.MissingFiles = append(report.MissingFiles, rel)
			continue
		}
		if filepath.Ext(path) == ".json" {
			data, err := os.ReadFile(path)
			if err != nil {
				report.Valid = false
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rel, err))
			} else if !json.Valid(data) {
				report.Valid = false
				report.Errors = append(report.Errors, fmt.Sprintf("%s: invalid JSON", rel))
			}
		}
	}
	return report
}

// Cleanup recursively removes the shared volume.
func (s *SharedVolumeManager) Cleanup() error {
	if err := os.RemoveAll(s.root); err != nil {
		return &FilesystemError{Op: "cleanup " + s.root, Err: err}
	}
	return nil
}

// Size returns the total size in bytes of everything under the shared volume.
func (s *SharedVolumeManager) Size() (int64, error) {
	var total int64
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, &FilesystemError{Op: "walk " + s.root, Err: err}
	}
	return total, nil
}

// FormattedSize renders Size() in human-readable units.
func (s *SharedVolumeManager) FormattedSize() (string, error) {
	n, err := s.Size()
	if err != nil {
		return "", err
	}
	return FormatMemoryLimit(n), nil
}

// Archive tar-gzips the shared volume to outPath.
func (s *SharedVolumeManager) Archive(outPath string) error {
	f, err := os.Create(outPath)
	if err != nil {
		return &FilesystemError{Op: "create " + outPath, Err: err}
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		hdr.ModTime = time.Time{}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = tw.Write(data)
		return err
	})
}
