package types

import (
	"time"
)

// ID identifies an entry in the spilling cache. IDs are process-unique and
// never reused.
type ID string

// String returns the id as a string
func (id ID) String() string {
	return string(id)
}

// EntryStats describes one spilling cache entry
type EntryStats struct {
	ID          ID        `json:"id"`
	Kind        Kind      `json:"kind"`
	Size        int64     `json:"size"`
	Resident    bool      `json:"resident"`
	SpillFile   string    `json:"spill_file,omitempty"`
	SpillValid  bool      `json:"spill_valid"`
	AccessCount uint64    `json:"access_count"`
	ReloadCount uint64    `json:"reload_count"`
	SpillCount  uint64    `json:"spill_count"`
	LastTouched time.Time `json:"last_touched"`
}

// SpillStats represents spilling cache statistics
type SpillStats struct {
	ResidentBytes  int64        `json:"resident_bytes"`
	BudgetBytes    int64        `json:"budget_bytes"`
	BudgetFraction float64      `json:"budget_fraction"`
	MaxMemory      int64        `json:"max_memory"`
	EntryCount     int          `json:"entry_count"`
	ResidentCount  int          `json:"resident_count"`
	SpillFiles     int          `json:"spill_files"`
	Spills         uint64       `json:"spills"`
	SpillWrites    uint64       `json:"spill_writes"`
	Reloads        uint64       `json:"reloads"`
	Entries        []EntryStats `json:"entries"`
}

// SlotStats represents slot pool statistics
type SlotStats struct {
	Slots         int    `json:"slots"`
	Owned         int    `json:"owned"`
	Dirty         int    `json:"dirty"`
	Acquires      uint64 `json:"acquires"`
	Hits          uint64 `json:"hits"`
	Loads         uint64 `json:"loads"`
	Flushes       uint64 `json:"flushes"`
	Reassignments uint64 `json:"reassignments"`
}

// ResultStats represents keyed result cache statistics
type ResultStats struct {
	Keys      int    `json:"keys"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Stores    uint64 `json:"stores"`
	Clears    uint64 `json:"clears"`
	Abandoned uint64 `json:"abandoned"`
	Skipped   uint64 `json:"skipped"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s ResultStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
