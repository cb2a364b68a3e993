/*
Package cache keeps large numeric arrays within a memory budget.

Three independent caches live here, each guarded by its own mutex:

	┌──────────────────────────────────────────────┐
	│              SpillingCache                   │
	│  id → payload, resident or spilled           │
	│  budget = fraction × memory ceiling          │
	│  least recently used entries spill first     │
	└──────────────────────────────────────────────┘
	          │ encode / decode
	┌──────────────────────────────────────────────┐
	│     spill.Store (directory or S3 bucket)     │
	└──────────────────────────────────────────────┘

	┌──────────────────────┐  ┌───────────────────────┐
	│ SlotPool[K, T]       │  │ ResultCache[T]        │
	│ fixed working slots  │  │ (tag, size) → input,  │
	│ reassigned by LRU    │  │ output; few keys      │
	└──────────────────────┘  └───────────────────────┘

# Spilling cache

Register stores a payload and returns a fresh id such as
"data_1700000000123_4". Fetch returns the payload, reloading it from its
spill object if needed. Every Register, Update, Fetch and IsResident counts
as an access. After each mutation the cache checks its budget and spills
resident entries, oldest access first, until the resident total fits:

	id, err := c.Register(types.Floats2D{lats, lons})
	if errors.IsCode(err, errors.ErrCodeSpillWriteFailure) {
		// the entry is registered; only the spill failed
	}
	grid, err := cache.FetchAs[types.Floats2D](c, id)

A spill object stays valid until the entry is updated or marked modified,
so an unchanged entry is spilled again without a write.

# Slot pool

SlotPool hands out reusable buffers of tupleDim rows. Acquire returns the
slot already owned by the caller, otherwise a free slot, otherwise the
least recently used one after flushing it if dirty. Buffers are reused
across owners and must not be retained after the slot changes hands.

# Result cache

ResultCache memoizes a transform of an input array under a tag. Only
inputs whose point count lies between the thresholds are considered. A
key that keeps missing is abandoned, and the whole cache is cleared when
it holds more than MaxKeys keys.

	l := rc.Lookup("project", in)
	if !l.Hit {
		out := project(in)
		rc.Store("project", in, out, l.Cacheable)
	}
*/
package cache
