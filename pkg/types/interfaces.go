package types

import "time"

// ArrayStore is the surface external producers and consumers use to park
// large arrays in the spilling cache.
type ArrayStore interface {
	Register(v interface{}) (ID, error)
	Update(id ID, v interface{}) error
	Fetch(id ID) (Payload, error)
	IsResident(id ID) bool
	Remove(id ID) error
}

// CacheObserver receives cache events. Implementations must not call back
// into the cache: events are delivered while the cache lock is held.
type CacheObserver interface {
	Spilled(id ID, bytes int64, wrote bool, took time.Duration)
	Reloaded(id ID, bytes int64, took time.Duration)
	ResidentChanged(residentBytes, budgetBytes int64)
	SpillFailed(id ID, err error)
}

// SlotObserver receives slot pool events.
type SlotObserver interface {
	SlotAcquired(hit bool)
	SlotFlushed(err error)
}

// ResultObserver receives keyed result cache events.
type ResultObserver interface {
	ResultLookup(hit bool)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) Spilled(ID, int64, bool, time.Duration) {}
func (NopObserver) Reloaded(ID, int64, time.Duration)      {}
func (NopObserver) ResidentChanged(int64, int64)           {}
func (NopObserver) SpillFailed(ID, error)                  {}
func (NopObserver) SlotAcquired(bool)                      {}
func (NopObserver) SlotFlushed(error)                      {}
func (NopObserver) ResultLookup(bool)                      {}
