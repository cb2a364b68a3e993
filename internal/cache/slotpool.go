package cache

import (
	"sync"

	"github.com/objectfs/arraycache/pkg/errors"
	"github.com/objectfs/arraycache/pkg/types"
)

// DefaultSlotCount is the number of slots used when configuration leaves it unset.
const DefaultSlotCount = 10

const slotPoolComponent = "slot_pool"

// Loader fills a slot buffer for a new owner. LoadInto receives tupleDim rows
// already sized to Width() and must write in place.
type Loader[T types.Number] interface {
	Width() int
	LoadInto(buf [][]T) error
}

// LoaderFunc adapts a width and a function to Loader.
type LoaderFunc[T types.Number] struct {
	N    int
	Load func(buf [][]T) error
}

// Width implements Loader
func (l LoaderFunc[T]) Width() int { return l.N }

// LoadInto implements Loader
func (l LoaderFunc[T]) LoadInto(buf [][]T) error { return l.Load(buf) }

// FlushFunc writes a dirty slot back to its owner's origin before the slot is
// reassigned. It runs with the pool locked and must not call back into the pool.
type FlushFunc[K comparable, T types.Number] func(owner K, buf [][]T) error

type slot[K comparable, T types.Number] struct {
	owner      K
	owned      bool
	data       [][]T
	dirty      bool
	lastAccess uint64
}

// SlotPool is a fixed set of reusable tuple buffers handed to owners in LRU
// order. Row storage is reused across owners whenever its capacity allows.
type SlotPool[K comparable, T types.Number] struct {
	mu    sync.Mutex
	slots []slot[K, T]
	index map[K]int
	flush FlushFunc[K, T]
	seq   uint64

	stats    types.SlotStats
	observer types.SlotObserver
}

// NewSlotPool creates a pool of slotCount slots, each with tupleDim rows.
func NewSlotPool[K comparable, T types.Number](slotCount, tupleDim int, flush FlushFunc[K, T]) (*SlotPool[K, T], error) {
	if slotCount <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "slot count must be greater than 0, got %d", slotCount).
			WithComponent(slotPoolComponent)
	}
	if tupleDim <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "tuple dimension must be greater than 0, got %d", tupleDim).
			WithComponent(slotPoolComponent)
	}
	if flush == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "flush callback is required").
			WithComponent(slotPoolComponent)
	}

	p := &SlotPool[K, T]{
		slots:    make([]slot[K, T], slotCount),
		index:    make(map[K]int, slotCount),
		flush:    flush,
		observer: types.NopObserver{},
	}
	for i := range p.slots {
		p.slots[i].data = make([][]T, tupleDim)
	}
	p.stats.Slots = slotCount

	return p, nil
}

// SetObserver installs an observer for slot events
func (p *SlotPool[K, T]) SetObserver(o types.SlotObserver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if o == nil {
		o = types.NopObserver{}
	}
	p.observer = o
}

// Acquire returns the buffer owned by owner, loading it through src into a
// free or least recently used slot if owner holds none. A dirty victim is
// flushed first; if that fails the slot keeps its previous owner and the
// error is FLUSH_FAILURE. A failed load leaves the slot free and clean.
func (p *SlotPool[K, T]) Acquire(owner K, src Loader[T]) ([][]T, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Acquires++

	if i, ok := p.index[owner]; ok {
		p.touch(i)
		p.stats.Hits++
		p.observer.SlotAcquired(true)
		return p.slots[i].data, i, nil
	}
	p.observer.SlotAcquired(false)

	if src == nil {
		return nil, -1, errors.New(errors.ErrCodeSourceLoadFailed, "no source loader").
			WithComponent(slotPoolComponent).WithOperation("acquire")
	}

	i := p.victim()
	s := &p.slots[i]

	if s.owned && s.dirty {
		err := p.flush(s.owner, s.data)
		p.observer.SlotFlushed(err)
		if err != nil {
			return nil, -1, errors.Wrap(errors.ErrCodeFlushFailure, err, "failed to flush dirty slot").
				WithComponent(slotPoolComponent).
				WithOperation("acquire")
		}
		p.stats.Flushes++
	}

	if s.owned {
		delete(p.index, s.owner)
		p.stats.Reassignments++
	}
	var zero K
	s.owner = zero
	s.owned = false
	s.dirty = false

	width := src.Width()
	if width < 0 {
		return nil, -1, errors.Newf(errors.ErrCodeSourceLoadFailed, "negative source width %d", width).
			WithComponent(slotPoolComponent).WithOperation("acquire")
	}
	for r := range s.data {
		if cap(s.data[r]) >= width {
			s.data[r] = s.data[r][:width]
		} else {
			s.data[r] = make([]T, width)
		}
	}

	if err := src.LoadInto(s.data); err != nil {
		return nil, -1, errors.Wrap(errors.ErrCodeSourceLoadFailed, err, "source loader failed").
			WithComponent(slotPoolComponent).
			WithOperation("acquire")
	}

	s.owner = owner
	s.owned = true
	p.index[owner] = i
	p.touch(i)
	p.stats.Loads++

	return s.data, i, nil
}

// victim picks the lowest free slot, else the least recently accessed one.
// Ties go to the lowest index.
func (p *SlotPool[K, T]) victim() int {
	best := -1
	for i := range p.slots {
		if !p.slots[i].owned {
			return i
		}
		if best < 0 || p.slots[i].lastAccess < p.slots[best].lastAccess {
			best = i
		}
	}
	return best
}

// MarkDirty sets the dirty flag of the slot owned by owner.
func (p *SlotPool[K, T]) MarkDirty(owner K, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.index[owner]
	if !ok {
		return errors.Newf(errors.ErrCodeNotOwner, "owner %v holds no slot", owner).
			WithComponent(slotPoolComponent).
			WithOperation("mark_dirty")
	}
	p.slots[i].dirty = dirty
	return nil
}

// Size returns the number of slots
func (p *SlotPool[K, T]) Size() int {
	return len(p.slots)
}

// Owner returns the owner of slot i, if any
func (p *SlotPool[K, T]) Owner(i int) (K, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero K
	if i < 0 || i >= len(p.slots) || !p.slots[i].owned {
		return zero, false
	}
	return p.slots[i].owner, true
}

// Stats returns slot pool statistics
func (p *SlotPool[K, T]) Stats() types.SlotStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.Owned, stats.Dirty = 0, 0
	for i := range p.slots {
		if p.slots[i].owned {
			stats.Owned++
			if p.slots[i].dirty {
				stats.Dirty++
			}
		}
	}
	return stats
}

func (p *SlotPool[K, T]) touch(i int) {
	p.seq++
	p.slots[i].lastAccess = p.seq
}
