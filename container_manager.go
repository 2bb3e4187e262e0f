package voyager

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
)

// ContainerInfo is the bookkeeping ContainerManager keeps per container
// name, beyond what the runtime itself reports.
type ContainerInfo struct {
	ContainerID string
	Status      string
	StartedAt   time.Time
	FinishedAt  *time.Time
	ExitCode    *int
}

// ContainerManager is a thin supervisory layer over a container runtime
// (§4.3): create, start multiple in parallel, stop/remove, stats, exec,
// pause/unpause, kill, wait, and image pull-if-absent.
type ContainerManager struct {
	docker DockerClient
	log    *Logger

	mu   sync.Mutex
	info map[string]*ContainerInfo // by container name
}

// NewContainerManager wraps docker for supervision. A nil logger is
// replaced with a no-op logger.
func NewContainerManager(docker DockerClient, log *Logger) *ContainerManager {
	if log == nil {
		log = NewNopLogger()
	}
	return &ContainerManager{docker: docker, log: log, info: make(map[string]*ContainerInfo)}
}

// EnsureImage pulls imageRef if it is not already present locally.
func (m *ContainerManager) EnsureImage(ctx context.Context, imageRef string) error {
	return m.docker.ImageInspectOrPull(ctx, imageRef)
}

// Create starts no container yet; it registers the container with the
// runtime and records its id under spec.Name.
func (m *ContainerManager) Create(ctx context.Context, spec ContainerCreateSpec) (string, error) {
	id, err := m.docker.ContainerCreate(ctx, spec)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.info[spec.Name] = &ContainerInfo{ContainerID: id, Status: "created", StartedAt: SystemClock.Now()}
	m.mu.Unlock()
	return id, nil
}

// Start starts a previously created container.
func (m *ContainerManager) Start(ctx context.Context, id string) error {
	return m.docker.ContainerStart(ctx, id)
}

// StartMultiple starts every id in ids concurrently, bounded by
// maxConcurrency (0 means unbounded), using alitto/pond's worker pool.
func (m *ContainerManager) StartMultiple(ctx context.Context, ids []string, maxConcurrency int) []error {
	if maxConcurrency <= 0 {
		maxConcurrency = len(ids)
		if maxConcurrency == 0 {
			maxConcurrency = 1
		}
	}
	pool := pond.NewPool(maxConcurrency)
	errs := make([]error, len(ids))
	for i, id := range ids {
		i, id := i, id
		pool.Submit(func() {
			errs[i] = m.Start(ctx, id)
		})
	}
	pool.StopAndWait()
	return errs
}

// CreateMultiple creates every spec concurrently (bounded by
// maxConcurrency), returning one id/error per spec in input order.
func (m *ContainerManager) CreateMultiple(ctx context.Context, specs []ContainerCreateSpec, maxConcurrency int) ([]string, []error) {
	if maxConcurrency <= 0 {
		maxConcurrency = len(specs)
		if maxConcurrency == 0 {
			maxConcurrency = 1
		}
	}
	pool := pond.NewPool(maxConcurrency)
	ids := make([]string, len(specs))
	errs := make([]error, len(specs))
	for i, spec := range specs {
		i, spec := i, spec
		pool.Submit(func() {
			id, err := m.Create(ctx, spec)
			ids[i] = id
			errs[i] = err
		})
	}
	pool.StopAndWait()
	return ids, errs
}

// transientStopError reports whether err represents "already gone" rather
// than a real failure, per §4.3's soft-failure policy.
func transientStopError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "No such container") || strings.Contains(msg, "is not running")
}

// Stop stops one container with a 30s default grace period, per §4.3.
func (m *ContainerManager) Stop(ctx context.Context, id string, timeoutSec int) error {
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	if err := m.docker.ContainerStop(ctx, id, timeoutSec); err != nil {
		if transientStopError(err) {
			m.log.Warn("stop %s: %v (already gone)", id, err)
			return nil
		}
		return err
	}
	return nil
}

// StopMultiple stops every id, bounded by maxConcurrency.
func (m *ContainerManager) StopMultiple(ctx context.Context, ids []string, timeoutSec, maxConcurrency int) []error {
	if maxConcurrency <= 0 {
		maxConcurrency = len(ids)
		if maxConcurrency == 0 {
			maxConcurrency = 1
		}
	}
	pool := pond.NewPool(maxConcurrency)
	errs := make([]error, len(ids))
	for i, id := range ids {
		i, id := i, id
		pool.Submit(func() {
			errs[i] = m.Stop(ctx, id, timeoutSec)
		})
	}
	pool.StopAndWait()
	return errs
}

// Remove removes a container. "No such container" is a soft success.
func (m *ContainerManager) Remove(ctx context.Context, id string, force bool) error {
	if err := m.docker.ContainerRemove(ctx, id, force); err != nil {
		if transientStopError(err) {
			m.log.Warn("remove %s: %v (already gone)", id, err)
			return nil
		}
		return err
	}
	return nil
}

// Status returns the runtime-reported state for id.
func (m *ContainerManager) Status(ctx context.Context, id string) (ContainerState, error) {
	return m.docker.ContainerInspect(ctx, id)
}

// Stats returns a ContainerStats snapshot: CPU%, memory in MB (unit-parsed
// per §4.3's KiB/MiB/GiB/B rules), and uptime in seconds.
func (m *ContainerManager) Stats(ctx context.Context, id string) (*ContainerStats, error) {
	raw, err := m.docker.ContainerStats(ctx, id)
	if err != nil {
		return nil, err
	}
	state, err := m.docker.ContainerInspect(ctx, id)
	if err != nil {
		return nil, err
	}

	uptime := 0.0
	if !state.StartedAt.IsZero() {
		end := SystemClock.Now()
		if !state.FinishedAt.IsZero() {
			end = state.FinishedAt
		}
		uptime = end.Sub(state.StartedAt).Seconds()
	}

	return &ContainerStats{
		CPUPercent: raw.CPUPercent,
		MemoryMB:   parseMemoryToMB(raw.MemoryRaw),
		UptimeSec:  uptime,
		Status:     state.Status,
	}, nil
}

// parseMemoryToMB converts a runtime-reported memory string ("512MiB",
// "1.2GiB", "900KiB", "900B") to megabytes; unknown units soft-fail to 0.
func parseMemoryToMB(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	var num float64
	var unit string
	n, err := fmt.Sscanf(s, "%f%s", &num, &unit)
	if n < 1 || err != nil {
		return 0
	}
	switch strings.ToLower(unit) {
	case "gib", "gb", "g":
		return num * 1024
	case "mib", "mb", "m":
		return num
	case "kib", "kb", "k":
		return num / 1024
	case "b", "":
		return num / (1024 * 1024)
	default:
		return 0
	}
}

// Logs returns up to `tail` lines of combined stdout/stderr.
func (m *ContainerManager) Logs(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	return m.docker.ContainerLogs(ctx, id, tail)
}

// Exec runs cmd inside the running container and returns its exit code and
// combined output.
func (m *ContainerManager) Exec(ctx context.Context, id string, cmd []string) (int, []byte, error) {
	return m.docker.ContainerExec(ctx, id, cmd)
}

func (m *ContainerManager) Pause(ctx context.Context, id string) error   { return m.docker.ContainerPause(ctx, id) }
func (m *ContainerManager) Unpause(ctx context.Context, id string) error { return m.docker.ContainerUnpause(ctx, id) }

// Kill sends signal (e.g. "SIGKILL") to the container.
func (m *ContainerManager) Kill(ctx context.Context, id string, signal string) error {
	return m.docker.ContainerKill(ctx, id, signal)
}

// Wait blocks until the container exits and returns its exit code.
func (m *ContainerManager) Wait(ctx context.Context, id string) (int64, error) {
	return m.docker.ContainerWait(ctx, id)
}

// Exists reports whether id can currently be inspected.
func (m *ContainerManager) Exists(ctx context.Context, id string) bool {
	_, err := m.docker.ContainerInspect(ctx, id)
	return err == nil
}
