package coordinator

import (
	"time"

	"github.com/objectfs/arraycache/pkg/types"
)

// fanout delivers cache events to several observers in order
type fanout []types.CacheObserver

func (f fanout) Spilled(id types.ID, bytes int64, wrote bool, took time.Duration) {
	for _, o := range f {
		o.Spilled(id, bytes, wrote, took)
	}
}

func (f fanout) Reloaded(id types.ID, bytes int64, took time.Duration) {
	for _, o := range f {
		o.Reloaded(id, bytes, took)
	}
}

func (f fanout) ResidentChanged(resident, budget int64) {
	for _, o := range f {
		o.ResidentChanged(resident, budget)
	}
}

func (f fanout) SpillFailed(id types.ID, err error) {
	for _, o := range f {
		o.SpillFailed(id, err)
	}
}
