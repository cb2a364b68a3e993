package memmon

import (
	"runtime"
	"time"
)

// MemorySample represents a memory usage sample
type MemorySample struct {
	Timestamp    time.Time `json:"timestamp"`
	HeapAlloc    uint64    `json:"heap_alloc"`    // bytes allocated in heap
	HeapInuse    uint64    `json:"heap_inuse"`    // bytes in in-use spans
	Sys          uint64    `json:"sys"`           // bytes obtained from system
	NumGC        uint32    `json:"num_gc"`        // number of completed GC cycles
	NumGoroutine int       `json:"num_goroutine"` // number of goroutines
	PauseTotalNs uint64    `json:"pause_total_ns"`
}

// TakeSample collects a memory sample. It briefly stops the world.
func TakeSample() MemorySample {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MemorySample{
		Timestamp:    time.Now(),
		HeapAlloc:    memStats.HeapAlloc,
		HeapInuse:    memStats.HeapInuse,
		Sys:          memStats.Sys,
		NumGC:        memStats.NumGC,
		NumGoroutine: runtime.NumGoroutine(),
		PauseTotalNs: memStats.PauseTotalNs,
	}
}
