package voyager

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/docker/go-units"
)

// AllocatedResources is what the ResourceAllocator hands back for one
// worktree: the container name it must use, the port it owns (if any), and
// the resource ceilings it was granted.
type AllocatedResources struct {
	ContainerName string `json:"container_name"`
	Port          int    `json:"port,omitempty"`
	CPULimit      string `json:"cpu_limit"`
	MemoryLimit   string `json:"memory_limit"`
}

// AllocationRequest describes one worktree's resource ask.
type AllocationRequest struct {
	ExplorationID string
	WorktreeIndex int
	CPULimit      string
	MemoryLimit   string
}

var memoryLimitRe = regexp.MustCompile(`^(\d+)([mg])$`)

// ValidateCPULimit enforces "positive number, at most 64 cores".
func ValidateCPULimit(s string) error {
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return &ValidationError{Field: "cpu_limit", Msg: "not a number"}
	}
	if f <= 0 || f > 64 {
		return &ValidationError{Field: "cpu_limit", Msg: "must be in (0, 64]"}
	}
	return nil
}

// ValidateMemoryLimit enforces ^\d+[mg]$ with m in [256,32768] or g in [1,32].
func ValidateMemoryLimit(s string) error {
	m := memoryLimitRe.FindStringSubmatch(s)
	if m == nil {
		return &ValidationError{Field: "memory_limit", Msg: `must match ^\d+[mg]$`}
	}
	var n int
	fmt.Sscanf(m[1], "%d", &n)
	switch m[2] {
	case "m":
		if n < 256 || n > 32768 {
			return &ValidationError{Field: "memory_limit", Msg: "m must be in [256, 32768]"}
		}
	case "g":
		if n < 1 || n > 32 {
			return &ValidationError{Field: "memory_limit", Msg: "g must be in [1, 32]"}
		}
	}
	return nil
}

// MemoryLimitBytes converts a validated memory_limit string to bytes using
// docker/go-units, so the same parsing logic that decides container create
// flags also backs §8's "memory-limit round trip" law.
func MemoryLimitBytes(s string) (int64, error) {
	if err := ValidateMemoryLimit(s); err != nil {
		return 0, err
	}
	return units.RAMInBytes(s)
}

// FormatMemoryLimit renders bytes back to the canonical "<n><m|g>" form,
// preferring gibibyte-aligned values.
func FormatMemoryLimit(bytes int64) string {
	const mib = 1024 * 1024
	const gib = 1024 * mib
	if bytes%gib == 0 {
		return fmt.Sprintf("%dg", bytes/gib)
	}
	return fmt.Sprintf("%dm", bytes/mib)
}

type allocKey struct {
	explorationID string
	worktreeIndex int
}

// ResourceAllocator owns a contiguous port range and hands out unique
// container names and resource ceilings. All mutation happens under a
// single mutex; allocate/release operations are the only writers of the
// port set (§5 "Shared-resource policy").
type ResourceAllocator struct {
	mu         sync.Mutex
	start, end int
	used       map[int]allocKey
	byOwner    map[allocKey]*AllocatedResources
}

// NewResourceAllocator creates an allocator over the inclusive port range
// [start,end]. Defaults to 3000–3100 per §4.1 when both are zero.
func NewResourceAllocator(start, end int) *ResourceAllocator {
	if start == 0 && end == 0 {
		start, end = 3000, 3100
	}
	return &ResourceAllocator{
		start:   start,
		end:     end,
		used:    make(map[int]allocKey),
		byOwner: make(map[allocKey]*AllocatedResources),
	}
}

// Allocate picks the lowest free port in range, deterministically, and
// returns the AllocatedResources for the given request.
func (a *ResourceAllocator) Allocate(req AllocationRequest) (*AllocatedResources, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocateLocked(req)
}

func (a *ResourceAllocator) allocateLocked(req AllocationRequest) (*AllocatedResources, error) {
	key := allocKey{req.ExplorationID, req.WorktreeIndex}
	if existing, ok := a.byOwner[key]; ok {
		return existing, nil
	}

	port, err := a.lowestFreePortLocked()
	if err != nil {
		return nil, err
	}

	res := &AllocatedResources{
		ContainerName: fmt.Sprintf("exploration-%s-%d", req.ExplorationID, req.WorktreeIndex),
		Port:          port,
		CPULimit:      req.CPULimit,
		MemoryLimit:   req.MemoryLimit,
	}
	a.used[port] = key
	a.byOwner[key] = res
	return res, nil
}

func (a *ResourceAllocator) lowestFreePortLocked() (int, error) {
	for p := a.start; p <= a.end; p++ {
		if _, taken := a.used[p]; !taken {
			return p, nil
		}
	}
	return 0, &ResourceExhaustion{Resource: "port", Msg: fmt.Sprintf("no free port in [%d,%d]", a.start, a.end)}
}

// AllocateMultiple allocates sequentially; on any failure it releases every
// port it granted earlier in this same call before returning the error.
func (a *ResourceAllocator) AllocateMultiple(reqs []AllocationRequest) ([]*AllocatedResources, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	granted := make([]*AllocatedResources, 0, len(reqs))
	var fresh []allocKey
	for _, req := range reqs {
		key := allocKey{req.ExplorationID, req.WorktreeIndex}
		_, existed := a.byOwner[key]
		res, err := a.allocateLocked(req)
		if err != nil {
			for _, k := range fresh {
				a.releasePortLocked(a.byOwner[k].Port)
				delete(a.byOwner, k)
			}
			return nil, err
		}
		if !existed {
			fresh = append(fresh, key)
		}
		granted = append(granted, res)
	}
	return granted, nil
}

// Release frees the port and bookkeeping owned by (explorationID, index).
// Calling it twice is equivalent to calling it once (§8 "release idempotence").
func (a *ResourceAllocator) Release(explorationID string, worktreeIndex int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := allocKey{explorationID, worktreeIndex}
	res, ok := a.byOwner[key]
	if !ok {
		return
	}
	a.releasePortLocked(res.Port)
	delete(a.byOwner, key)
}

func (a *ResourceAllocator) releasePortLocked(port int) {
	if port != 0 {
		delete(a.used, port)
	}
}

// ReleaseAll frees every allocation owned by explorationID.
func (a *ResourceAllocator) ReleaseAll(explorationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for key, res := range a.byOwner {
		if key.explorationID == explorationID {
			a.releasePortLocked(res.Port)
			delete(a.byOwner, key)
		}
	}
}

// CanAllocate reports whether n more ports are currently free.
func (a *ResourceAllocator) CanAllocate(n int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.freeCountLocked() >= n
}

func (a *ResourceAllocator) freeCountLocked() int {
	total := a.end - a.start + 1
	return total - len(a.used)
}

// UsedCount returns how many ports are currently allocated, across every
// exploration this allocator serves. Exposed for the otel gauge in
// metrics.go.
func (a *ResourceAllocator) UsedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

// AvailablePorts returns the sorted list of currently-free ports, mostly
// useful for tests and diagnostics.
func (a *ResourceAllocator) AvailablePorts() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var free []int
	for p := a.start; p <= a.end; p++ {
		if _, taken := a.used[p]; !taken {
			free = append(free, p)
		}
	}
	sort.Ints(free)
	return free
}
