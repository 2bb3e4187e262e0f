package voyager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceAllocator_PortUniqueness(t *testing.T) {
	a := NewResourceAllocator(3000, 3004)
	seen := make(map[int]bool)
	for i := 1; i <= 5; i++ {
		res, err := a.Allocate(AllocationRequest{ExplorationID: "exp1", WorktreeIndex: i, CPULimit: "1", MemoryLimit: "512m"})
		require.NoError(t, err)
		assert.False(t, seen[res.Port], "port %d allocated twice", res.Port)
		seen[res.Port] = true
	}
}

func TestResourceAllocator_ExhaustionAtBoundary(t *testing.T) {
	a := NewResourceAllocator(3000, 3001) // range of size 2
	_, err := a.Allocate(AllocationRequest{ExplorationID: "e", WorktreeIndex: 1})
	require.NoError(t, err)
	_, err = a.Allocate(AllocationRequest{ExplorationID: "e", WorktreeIndex: 2})
	require.NoError(t, err)

	_, err = a.Allocate(AllocationRequest{ExplorationID: "e", WorktreeIndex: 3})
	require.Error(t, err)
	var exhaustion *ResourceExhaustion
	assert.ErrorAs(t, err, &exhaustion)
}

func TestResourceAllocator_ReleaseIdempotent(t *testing.T) {
	a := NewResourceAllocator(3000, 3000)
	_, err := a.Allocate(AllocationRequest{ExplorationID: "e", WorktreeIndex: 1})
	require.NoError(t, err)

	a.Release("e", 1)
	a.Release("e", 1) // must not panic or double-free

	assert.True(t, a.CanAllocate(1))
}

func TestResourceAllocator_AllocateMultipleRollsBackOnFailure(t *testing.T) {
	a := NewResourceAllocator(3000, 3001) // only 2 ports
	reqs := []AllocationRequest{
		{ExplorationID: "e", WorktreeIndex: 1},
		{ExplorationID: "e", WorktreeIndex: 2},
		{ExplorationID: "e", WorktreeIndex: 3},
	}
	_, err := a.AllocateMultiple(reqs)
	require.Error(t, err)

	// Every port must have been released by the rollback.
	assert.Len(t, a.AvailablePorts(), 2)
}

func TestValidateMemoryLimit(t *testing.T) {
	cases := map[string]bool{
		"256m": true, "32768m": true, "255m": false, "32769m": false,
		"1g": true, "32g": true, "0g": false, "33g": false,
		"512": false, "512x": false,
	}
	for input, wantOK := range cases {
		err := ValidateMemoryLimit(input)
		if wantOK {
			assert.NoErrorf(t, err, "input %q", input)
		} else {
			assert.Errorf(t, err, "input %q", input)
		}
	}
}

func TestMemoryLimitRoundTrip(t *testing.T) {
	b1, err := MemoryLimitBytes("2g")
	require.NoError(t, err)
	s1 := FormatMemoryLimit(b1)
	b2, err := MemoryLimitBytes(s1)
	require.NoError(t, err)
	s2 := FormatMemoryLimit(b2)
	assert.Equal(t, s1, s2)
}

func TestValidateCPULimit(t *testing.T) {
	assert.NoError(t, ValidateCPULimit("1.5"))
	assert.NoError(t, ValidateCPULimit("64"))
	assert.Error(t, ValidateCPULimit("0"))
	assert.Error(t, ValidateCPULimit("64.1"))
	assert.Error(t, ValidateCPULimit("nope"))
}
