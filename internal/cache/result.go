package cache

import (
	"strconv"
	"sync"

	"github.com/objectfs/arraycache/pkg/errors"
	"github.com/objectfs/arraycache/pkg/types"
)

const resultComponent = "result_cache"

// ResultCacheConfig represents keyed result cache configuration
type ResultCacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// Inputs are handled when LowerThreshold < points <= UpperThreshold.
	LowerThreshold int `yaml:"lower_threshold"`
	UpperThreshold int `yaml:"upper_threshold"`

	// More than MaxKeys stored keys clears the table on the next store.
	MaxKeys int `yaml:"max_keys"`

	// An entry is dropped once its consecutive misses exceed MaxMisses.
	MaxMisses int `yaml:"max_misses"`
}

// DefaultResultCacheConfig returns the default configuration
func DefaultResultCacheConfig() *ResultCacheConfig {
	return &ResultCacheConfig{
		Enabled:        true,
		LowerThreshold: 1000,
		UpperThreshold: 1000000,
		MaxKeys:        4,
		MaxMisses:      3,
	}
}

// Lookup is the outcome of ResultCache.Lookup.
type Lookup[T types.Number] struct {
	// Output is the stored result on a hit. It is shared; clone before mutating.
	Output [][]T
	Hit    bool
	// Cacheable tells the caller to Store the result it computes.
	Cacheable bool
}

type resultEntry[T types.Number] struct {
	input  [][]T
	output [][]T
}

// ResultCache memoizes an expensive deterministic transform of a tuple array.
// Entries are keyed by tag and point count, and a hit requires the stored
// input to equal the query element for element.
//
// Keys that keep missing are abandoned, and the whole table is discarded when
// it outgrows MaxKeys.
type ResultCache[T types.Number] struct {
	mu      sync.Mutex
	config  ResultCacheConfig
	entries map[string]*resultEntry[T]
	misses  map[string]int

	stats    types.ResultStats
	observer types.ResultObserver
}

// NewResultCache creates a result cache. A nil config selects the defaults.
func NewResultCache[T types.Number](config *ResultCacheConfig) (*ResultCache[T], error) {
	if config == nil {
		config = DefaultResultCacheConfig()
	}
	if config.LowerThreshold < 0 || config.UpperThreshold <= config.LowerThreshold {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig,
			"invalid thresholds (%d, %d]", config.LowerThreshold, config.UpperThreshold).
			WithComponent(resultComponent)
	}
	if config.MaxKeys <= 0 || config.MaxMisses <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "max_keys and max_misses must be greater than 0").
			WithComponent(resultComponent)
	}

	return &ResultCache[T]{
		config:   *config,
		entries:  make(map[string]*resultEntry[T]),
		misses:   make(map[string]int),
		observer: types.NopObserver{},
	}, nil
}

// SetObserver installs an observer for lookup events
func (c *ResultCache[T]) SetObserver(o types.ResultObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o == nil {
		o = types.NopObserver{}
	}
	c.observer = o
}

// Points returns the point count of a tuple array: the length of its first row.
func Points[T types.Number](input [][]T) int {
	if len(input) == 0 {
		return 0
	}
	return len(input[0])
}

func resultKey(tag string, n int) string {
	return tag + "_" + strconv.Itoa(n)
}

func (c *ResultCache[T]) handles(n int) bool {
	return c.config.Enabled && n > c.config.LowerThreshold && n <= c.config.UpperThreshold
}

// Lookup returns the stored output for input under tag.
//
// Inputs outside the thresholds, or any input while disabled, are not handled
// and leave no trace. The first miss on a key is never cacheable. Later misses
// are cacheable while the key had at most one prior consecutive miss.
func (c *ResultCache[T]) Lookup(tag string, input [][]T) Lookup[T] {
	n := Points(input)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.handles(n) {
		c.stats.Skipped++
		return Lookup[T]{}
	}
	key := resultKey(tag, n)

	e, hasEntry := c.entries[key]
	if hasEntry && types.Equal2(e.input, input) {
		c.misses[key] = 0
		c.stats.Hits++
		c.observer.ResultLookup(true)
		return Lookup[T]{Output: e.output, Hit: true}
	}

	c.stats.Misses++
	c.observer.ResultLookup(false)

	prior, seen := c.misses[key]
	if !hasEntry && !seen {
		c.misses[key] = 1
		return Lookup[T]{}
	}

	c.misses[key] = prior + 1
	result := Lookup[T]{Cacheable: prior <= 1}

	if hasEntry && c.misses[key] > c.config.MaxMisses {
		delete(c.entries, key)
		delete(c.misses, key)
		c.stats.Abandoned++
	}

	return result
}

// Store records output as the result for input under tag. It does nothing
// unless cacheable is set, output is non-nil and input is within the
// thresholds. Reports whether the entry was stored.
func (c *ResultCache[T]) Store(tag string, input, output [][]T, cacheable bool) bool {
	n := Points(input)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !cacheable || output == nil || !c.handles(n) {
		return false
	}

	if len(c.entries) > c.config.MaxKeys {
		c.clearLocked()
	}

	c.entries[resultKey(tag, n)] = &resultEntry[T]{
		input:  types.Clone2(input),
		output: output,
	}
	c.stats.Stores++
	return true
}

// Contains reports whether an entry for tag with exactly this input exists.
// It does not count as a lookup.
func (c *ResultCache[T]) Contains(tag string, input [][]T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[resultKey(tag, Points(input))]
	return ok && types.Equal2(e.input, input)
}

// Misses returns the consecutive miss count recorded for tag and point count n.
func (c *ResultCache[T]) Misses(tag string, n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.misses[resultKey(tag, n)]
}

// Len returns the number of stored keys
func (c *ResultCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear discards every entry and miss counter
func (c *ResultCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *ResultCache[T]) clearLocked() {
	c.entries = make(map[string]*resultEntry[T])
	c.misses = make(map[string]int)
	c.stats.Clears++
}

// Stats returns result cache statistics
func (c *ResultCache[T]) Stats() types.ResultStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Keys = len(c.entries)
	return stats
}
