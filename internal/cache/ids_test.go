package cache

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/arraycache/pkg/types"
)

func idSuffix(t *testing.T, id types.ID, prefix string) uint64 {
	t.Helper()
	s := string(id)
	require.True(t, strings.HasPrefix(s, prefix), "id %s", s)
	n, err := strconv.ParseUint(strings.TrimPrefix(s, prefix), 10, 64)
	require.NoError(t, err)
	return n
}

func TestIDGenerator(t *testing.T) {
	base := time.UnixMilli(1700000000123)
	g := NewIDGeneratorAt(base)

	first := idSuffix(t, g.Next(), "data_1700000000123_")
	second := idSuffix(t, g.Next(), "data_1700000000123_")
	assert.Greater(t, second, first)
}

func TestIDGenerator_SameBaseDistinctGenerators(t *testing.T) {
	base := time.UnixMilli(1700000000123)
	a, b := NewIDGeneratorAt(base), NewIDGeneratorAt(base)

	seen := make(map[types.ID]struct{})
	for i := 0; i < 100; i++ {
		seen[a.Next()] = struct{}{}
		seen[b.Next()] = struct{}{}
	}
	assert.Len(t, seen, 200)
}

func TestIDGenerator_Concurrent(t *testing.T) {
	g := NewIDGenerator()

	var mu sync.Mutex
	seen := make(map[types.ID]struct{})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 8000)
}
