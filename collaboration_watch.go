package voyager

import (
	"context"
	"maps"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchPoolFile watches path for writes using filesystem notifications and
// invokes onChange with the new raw contents whenever they differ from the
// last observed contents. Returns silently if path's directory does not
// exist. Deduplicates fsnotify's duplicate CREATE+WRITE events for the same
// atomic rename by tracking (modTime, size); if either changes the file is
// re-read.
//
// If ready is non-nil, a value is sent after the watcher is fully set up,
// allowing callers to synchronize without time.Sleep.
func watchPoolFile(ctx context.Context, path string, onChange func(data []byte), ready chan<- struct{}) {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err != nil {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return
	}

	type fileStat struct {
		modTime time.Time
		size    int64
	}
	var lastStat fileStat
	haveStat := false

	if info, err := os.Stat(path); err == nil {
		if data, err := os.ReadFile(path); err == nil {
			lastStat = fileStat{info.ModTime(), info.Size()}
			haveStat = true
			onChange(data)
		}
	}

	if ready != nil {
		ready <- struct{}{}
	}

	target := filepath.Base(path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue
			}
			cur := fileStat{info.ModTime(), info.Size()}
			if haveStat && lastStat == cur {
				continue
			}
			data, err := os.ReadFile(event.Name)
			if err != nil {
				continue
			}
			lastStat = cur
			haveStat = true
			onChange(data)
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// WatchInsights watches insights-pool.json and invokes onInsight once for
// each insight appended since the last observed version of the file
// (including any already present at watch-start).
func (c *CollaborationCoordinator) WatchInsights(ctx context.Context, sharedDir string, onInsight func(Insight), ready chan<- struct{}) {
	seen := 0
	watchPoolFile(ctx, filepath.Join(sharedDir, "insights-pool.json"), func(data []byte) {
		pool := decodeInsightsPool(data, "")
		if len(pool.Insights) <= seen {
			return
		}
		for _, insight := range pool.Insights[seen:] {
			onInsight(insight)
		}
		seen = len(pool.Insights)
	}, ready)
}

// WatchDecisions watches decisions-pool.json and invokes onDecision with the
// full current state of a decision whenever it is added or its votes change.
func (c *CollaborationCoordinator) WatchDecisions(ctx context.Context, sharedDir string, onDecision func(Decision), ready chan<- struct{}) {
	lastVotes := map[string]map[string]int{}
	watchPoolFile(ctx, filepath.Join(sharedDir, "decisions-pool.json"), func(data []byte) {
		pool := decodeDecisionsPool(data, "")
		for _, d := range pool.Decisions {
			if prev, seen := lastVotes[d.ID]; seen && maps.Equal(prev, d.Votes) {
				continue
			}
			lastVotes[d.ID] = maps.Clone(d.Votes)
			onDecision(d)
		}
	}, ready)
}
