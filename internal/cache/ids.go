package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/objectfs/arraycache/pkg/types"
)

// idSeq is shared by every generator so caches in one process never hand
// out the same id, even over a shared spill directory.
var idSeq atomic.Uint64

// IDGenerator hands out process-unique entry ids of the form
// data_<startMillis>_<n>, where n comes from a process-wide counter.
// Ids are never reused.
type IDGenerator struct {
	base int64
}

// NewIDGenerator creates a generator based on the current time
func NewIDGenerator() *IDGenerator {
	return NewIDGeneratorAt(time.Now())
}

// NewIDGeneratorAt creates a generator with a fixed base time
func NewIDGeneratorAt(base time.Time) *IDGenerator {
	return &IDGenerator{base: base.UnixMilli()}
}

// Next returns a fresh id
func (g *IDGenerator) Next() types.ID {
	n := idSeq.Add(1) - 1
	return types.ID(fmt.Sprintf("data_%d_%d", g.base, n))
}
