// Package memmon detects the process memory ceiling and samples heap usage.
package memmon

import (
	"math"
	"runtime/debug"
	"sync"

	"github.com/shirou/gopsutil/v4/mem"
)

// fallbackMaxMemory is used when neither GOMEMLIMIT nor the physical memory
// size can be determined.
const fallbackMaxMemory int64 = 1 << 30

// Provider reports the memory ceiling the cache budget is a fraction of.
type Provider interface {
	MaxMemory() int64
}

// Fixed is a constant memory ceiling in bytes.
type Fixed int64

// MaxMemory returns f
func (f Fixed) MaxMemory() int64 {
	return int64(f)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func() int64

// MaxMemory calls fn
func (fn ProviderFunc) MaxMemory() int64 {
	return fn()
}

// RuntimeProvider uses the soft memory limit (GOMEMLIMIT) when one is set and
// the physical memory size otherwise.
type RuntimeProvider struct {
	once     sync.Once
	physical int64

	// virtualMemory is swapped in tests
	virtualMemory func() (*mem.VirtualMemoryStat, error)
}

// NewRuntimeProvider creates a provider backed by the Go runtime and gopsutil.
func NewRuntimeProvider() *RuntimeProvider {
	return &RuntimeProvider{virtualMemory: mem.VirtualMemory}
}

// MaxMemory returns the current memory ceiling in bytes.
func (p *RuntimeProvider) MaxMemory() int64 {
	// A negative input only reads the limit.
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return limit
	}
	return p.physicalMemory()
}

func (p *RuntimeProvider) physicalMemory() int64 {
	p.once.Do(func() {
		p.physical = fallbackMaxMemory
		vm := p.virtualMemory
		if vm == nil {
			vm = mem.VirtualMemory
		}
		stat, err := vm()
		if err != nil || stat == nil || stat.Total == 0 {
			return
		}
		if stat.Total > math.MaxInt64 {
			p.physical = math.MaxInt64
			return
		}
		p.physical = int64(stat.Total)
	})
	return p.physical
}
