package voyager

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterDoc struct {
	Count int `json:"count"`
}

func TestFileLockManager_WriteThenRead_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	m := NewFileLockManager(path, "owner-1")

	require.NoError(t, m.WriteWithLock(counterDoc{Count: 7}))

	var got counterDoc
	require.NoError(t, m.ReadWithLock(&got))
	assert.Equal(t, 7, got.Count)
}

func TestFileLockManager_ReadMissingFile_LeavesValueUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.json")
	m := NewFileLockManager(path, "owner-1")

	got := counterDoc{Count: 99}
	require.NoError(t, m.ReadWithLock(&got))
	assert.Equal(t, 99, got.Count)
}

// TestFileLockManager_ConcurrentUpdates_NoLostWrites is the §8 "lock
// contention" scenario: many concurrent UpdateWithLock calls each increment
// a counter by 1; the final count must equal the number of writers, and
// every writer's read of the file, like the final file, must decode as JSON.
func TestFileLockManager_ConcurrentUpdates_NoLostWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.json")
	const writers = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(owner int) {
			defer wg.Done()
			m := NewFileLockManager(path, "owner-"+strconv.Itoa(owner))
			err := m.UpdateWithLock(func(current []byte) (any, error) {
				var doc counterDoc
				if len(current) > 0 {
					if err := json.Unmarshal(current, &doc); err != nil {
						return nil, err
					}
				}
				doc.Count++
				return doc, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var final counterDoc
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &final))
	assert.Equal(t, writers, final.Count)
}
