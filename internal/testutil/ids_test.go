package testutil

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialIDs_StartsAtOne(t *testing.T) {
	ids := NewSequentialIDs()
	assert.Equal(t, int64(0), ids.Issued())
	assert.Equal(t, "unit-0001", ids.Generate())
	assert.Equal(t, "unit-0002", ids.Generate())
	assert.Equal(t, int64(2), ids.Issued())
}

func TestSequentialIDs_Prefix(t *testing.T) {
	ids := NewPrefixedIDs("run")
	assert.Equal(t, "run-0001", ids.Generate())
}

func TestSequentialIDs_Reset(t *testing.T) {
	ids := NewSequentialIDs()
	ids.Generate()
	ids.Generate()

	ids.Reset()
	assert.Equal(t, int64(0), ids.Issued())
	assert.Equal(t, "unit-0001", ids.Generate())
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	ids := NewSequentialIDs()
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	results := make([][]string, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]string, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = ids.Generate()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, batch := range results {
		for _, id := range batch {
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	}
	total := numGoroutines * callsPerGoroutine
	assert.Len(t, seen, total)
	assert.True(t, seen[fmt.Sprintf("unit-%04d", total)])
}
