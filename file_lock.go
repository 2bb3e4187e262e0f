package voyager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
)

const lockTTL = 5 * time.Second

// FileLockManager provides atomic, advisory-lock-protected read/update/write
// of a single shared JSON file (§4.5). Mutual exclusion is advisory and
// only meaningful among cooperating processes on one host; it holds an
// OS-level flock on a `<file>.lock` sibling and records the owner id and
// acquisition time in `<file>.lock.meta`, which stale-lock breaking reads.
type FileLockManager struct {
	path     string
	lockPath string
	ownerID  string
	clock    Clock
}

// NewFileLockManager guards path, identifying this process's lock
// acquisitions as ownerID (e.g. a pid or a random token).
func NewFileLockManager(path, ownerID string) *FileLockManager {
	return &FileLockManager{
		path:     path,
		lockPath: path + ".lock",
		ownerID:  ownerID,
		clock:    SystemClock,
	}
}

type lockMeta struct {
	Owner     string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// acquire blocks (with bounded exponential backoff, 50ms to 500ms) until it
// holds the OS-level flock, then writes its own lock-meta sibling. If the
// flock is still unavailable after 10s of retrying it returns *LockTimeout.
func (m *FileLockManager) acquire() (*flock.Flock, func(), error) {
	if err := ensureDir(filepath.Dir(m.path)); err != nil {
		return nil, nil, err
	}

	fl := flock.New(m.lockPath)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	var locked bool
	err := backoff.Retry(func() error {
		m.breakStaleLock()

		ok, err := fl.TryLock()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("lock held")
		}
		locked = true
		return nil
	}, b)

	if err != nil || !locked {
		return nil, nil, &LockTimeout{Path: m.path}
	}

	meta := lockMeta{Owner: m.ownerID, AcquiredAt: m.clock.Now()}
	if b, err := json.Marshal(meta); err == nil {
		_ = os.WriteFile(m.lockPath+".meta", b, 0o644)
	}

	release := func() {
		_ = os.Remove(m.lockPath + ".meta")
		_ = fl.Unlock()
	}
	return fl, release, nil
}

// breakStaleLock removes the lock-meta sibling if it is older than lockTTL.
// It does not touch the flock: a holder that still has the flock keeps it.
func (m *FileLockManager) breakStaleLock() {
	info, err := os.Stat(m.lockPath + ".meta")
	if err != nil {
		return
	}
	if m.clock.Since(info.ModTime()) > lockTTL {
		_ = os.Remove(m.lockPath + ".meta")
	}
}

// ReadWithLock reads and json-unmarshals the guarded file into v. If the
// file does not exist, v is left unchanged and no error is returned.
func (m *FileLockManager) ReadWithLock(v any) error {
	_, release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	return m.readLocked(v)
}

func (m *FileLockManager) readLocked(v any) error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &FilesystemError{Op: "read " + m.path, Err: err}
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &FilesystemError{Op: "unmarshal " + m.path, Err: err}
	}
	return nil
}

// WriteWithLock atomically writes v (pretty-printed JSON) to the guarded
// file via temp-file-then-rename, so a concurrent reader never observes a
// partial or invalid file.
func (m *FileLockManager) WriteWithLock(v any) error {
	_, release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()
	return m.writeLocked(v)
}

func (m *FileLockManager) writeLocked(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &FilesystemError{Op: "marshal " + m.path, Err: err}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &FilesystemError{Op: "write temp " + tmp, Err: err}
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return &FilesystemError{Op: "rename " + tmp, Err: err}
	}
	return nil
}

// Updater receives the guarded file's raw bytes (nil if the file is absent)
// and returns the next value to persist.
type Updater func(current []byte) (next any, err error)

// UpdateWithLock reads the raw guarded file (nil if absent), applies
// updater, and atomically writes the result, all under one lock hold.
func (m *FileLockManager) UpdateWithLock(updater Updater) error {
	_, release, err := m.acquire()
	if err != nil {
		return err
	}
	defer release()

	var current []byte
	data, err := os.ReadFile(m.path)
	if err == nil {
		current = data
	} else if !os.IsNotExist(err) {
		return &FilesystemError{Op: "read " + m.path, Err: err}
	}

	next, err := updater(current)
	if err != nil {
		return err
	}
	return m.writeLocked(next)
}
