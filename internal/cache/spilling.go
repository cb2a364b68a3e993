package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/objectfs/arraycache/internal/spill"
	"github.com/objectfs/arraycache/pkg/errors"
	"github.com/objectfs/arraycache/pkg/memmon"
	"github.com/objectfs/arraycache/pkg/types"
	"github.com/objectfs/arraycache/pkg/utils"
)

// DefaultBudgetFraction is the share of the memory ceiling the cache may hold resident.
const DefaultBudgetFraction = 0.25

const spillingComponent = "spilling_cache"

// SpillingConfig represents spilling cache configuration. Nil fields are defaulted.
type SpillingConfig struct {
	// Store receives spilled payloads. Defaults to a FileStore in the working directory.
	Store spill.Store

	// Codec serializes payloads. Defaults to an uncompressed codec owned by the cache.
	Codec *spill.Codec

	// Memory reports the ceiling the budget is a fraction of.
	Memory memmon.Provider

	// BudgetFraction must be in (0, 1]. Zero selects DefaultBudgetFraction.
	BudgetFraction float64

	IDs      *IDGenerator
	Observer types.CacheObserver
	Logger   *logrus.Logger
}

// entry is one registered payload
type entry struct {
	id      types.ID
	payload types.Payload // nil when spilled
	kind    types.Kind
	size    int64 // size of the last payload set

	lastAccess  uint64
	lastTouched time.Time

	spillName  string // assigned on first spill, then reused
	spillValid bool   // spill object was written from or read into the payload
	spillSum   uint64 // body checksum of the spill object

	accessCount uint64
	reloadCount uint64
	spillCount  uint64
}

func (e *entry) resident() bool {
	return e.payload != nil
}

// SpillingCache holds numeric arrays in memory up to a budget and spills the
// least recently accessed ones to a Store beyond it. Spilled entries are
// reloaded transparently by Fetch.
//
// Every operation, including spill and reload I/O, runs under a single mutex.
type SpillingCache struct {
	mu       sync.Mutex
	entries  map[types.ID]*entry
	resident int64
	fraction float64
	seq      uint64

	store     spill.Store
	codec     *spill.Codec
	ownsCodec bool
	memory    memmon.Provider
	ids       *IDGenerator
	observer  types.CacheObserver
	logger    *logrus.Entry

	spills      uint64
	spillWrites uint64
	reloads     uint64
}

// NewSpillingCache creates a new spilling cache
func NewSpillingCache(config *SpillingConfig) (*SpillingCache, error) {
	if config == nil {
		config = &SpillingConfig{}
	}

	fraction := config.BudgetFraction
	if fraction == 0 {
		fraction = DefaultBudgetFraction
	}
	if err := validateFraction(fraction); err != nil {
		return nil, err
	}

	c := &SpillingCache{
		entries:  make(map[types.ID]*entry),
		fraction: fraction,
		store:    config.Store,
		codec:    config.Codec,
		memory:   config.Memory,
		ids:      config.IDs,
		observer: config.Observer,
		logger:   utils.ComponentLogger(config.Logger, spillingComponent),
	}

	if c.store == nil {
		c.store = spill.NewFileStore(".")
	}
	if c.codec == nil {
		codec, err := spill.NewCodec(false)
		if err != nil {
			return nil, err
		}
		c.codec = codec
		c.ownsCodec = true
	}
	if c.memory == nil {
		c.memory = memmon.NewRuntimeProvider()
	}
	if c.ids == nil {
		c.ids = NewIDGenerator()
	}
	if c.observer == nil {
		c.observer = types.NopObserver{}
	}

	return c, nil
}

func validateFraction(f float64) error {
	if !(f > 0 && f <= 1) {
		return errors.Newf(errors.ErrCodeInvalidConfig,
			"memory budget fraction must be in (0, 1], got %g", f).WithComponent(spillingComponent)
	}
	return nil
}

// Register stores v resident under a fresh id and runs a pressure check.
// If the pressure check fails to spill some other entry, the error is
// returned together with the valid id; the new entry stays registered.
func (c *SpillingCache) Register(v interface{}) (types.ID, error) {
	p, err := types.PayloadOf(v)
	if err != nil {
		return "", withOp(err, "register")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{
		id:      c.ids.Next(),
		payload: p,
		kind:    p.Kind(),
		size:    p.ByteSize(),
	}
	c.entries[e.id] = e
	c.resident += e.size
	c.touch(e)

	c.logger.WithFields(logrus.Fields{
		"id":    e.id,
		"shape": types.Describe(p),
		"bytes": e.size,
	}).Debug("Registered entry")

	return e.id, c.checkPressureLocked()
}

// Update replaces the payload stored under id. The previous spill object, if
// any, is no longer considered valid.
func (c *SpillingCache) Update(id types.ID, v interface{}) error {
	p, err := types.PayloadOf(v)
	if err != nil {
		return withOp(err, "update")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(id, "update")
	if err != nil {
		return err
	}

	if e.resident() {
		c.resident -= e.size
	}
	e.payload = p
	e.kind = p.Kind()
	e.size = p.ByteSize()
	e.spillValid = false
	c.resident += e.size
	c.touch(e)

	return c.checkPressureLocked()
}

// Fetch returns the payload stored under id, reloading it from the store if
// it was spilled. The returned payload is shared with the cache; callers that
// mutate it in place must call MarkModified.
//
// A reload failure yields CORRUPT_SPILL_FILE and leaves the entry spilled. If
// the pressure check after a reload fails, the payload is returned together
// with the error.
func (c *SpillingCache) Fetch(id types.ID) (types.Payload, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(id, "fetch")
	if err != nil {
		return nil, err
	}

	if e.resident() {
		c.touch(e)
		return e.payload, nil
	}

	if err := c.reloadLocked(e); err != nil {
		return nil, err
	}
	p := e.payload
	return p, c.checkPressureLocked()
}

// FetchAs fetches id and asserts its shape.
func FetchAs[T types.Payload](c *SpillingCache, id types.ID) (T, error) {
	var zero T
	p, err := c.Fetch(id)
	if p == nil {
		return zero, err
	}
	v, ok := types.As[T](p)
	if !ok {
		return zero, errors.Newf(errors.ErrCodeUnsupportedPayloadShape,
			"entry %s holds %s, not %T", id, p.Kind(), zero).
			WithComponent(spillingComponent).WithOperation("fetch")
	}
	return v, err
}

// IsResident reports whether id is held in memory. The check counts as an
// access. Unknown ids are not resident.
func (c *SpillingCache) IsResident(id types.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return false
	}
	c.touch(e)
	return e.resident()
}

// MarkModified records that the caller changed a fetched payload in place.
// The size is recomputed and the spill object invalidated. For a spilled
// entry there is nothing to invalidate: the spilled copy is authoritative.
func (c *SpillingCache) MarkModified(id types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, err := c.lookup(id, "mark_modified")
	if err != nil {
		return err
	}
	if !e.resident() {
		c.logger.WithField("id", id).Debug("MarkModified on spilled entry ignored")
		return nil
	}

	c.resident -= e.size
	e.size = e.payload.ByteSize()
	c.resident += e.size
	e.spillValid = false
	c.touch(e)

	return c.checkPressureLocked()
}

// Remove drops id and deletes its spill object. Removing an unknown id is a
// no-op. A failed delete is reported as STORAGE_DELETE; the entry is gone
// regardless.
func (c *SpillingCache) Remove(id types.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.removeLocked(id)
}

func (c *SpillingCache) removeLocked(id types.ID) error {
	e, ok := c.entries[id]
	if !ok {
		return nil
	}

	if e.resident() {
		c.resident -= e.size
		c.observer.ResidentChanged(c.resident, c.budgetLocked())
	}
	delete(c.entries, id)

	if e.spillName == "" {
		return nil
	}
	if err := c.store.Delete(context.Background(), e.spillName); err != nil {
		return errors.Wrap(errors.ErrCodeStorageDelete, err, "failed to delete spill object").
			WithComponent(spillingComponent).
			WithOperation("remove").
			WithContext("id", string(id))
	}
	return nil
}

// SetMemoryBudgetFraction changes the budget and runs a pressure check.
func (c *SpillingCache) SetMemoryBudgetFraction(f float64) error {
	if err := validateFraction(f); err != nil {
		return withOp(err, "set_budget")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fraction = f
	c.logger.WithFields(logrus.Fields{
		"fraction": f,
		"budget":   utils.FormatBytes(c.budgetLocked()),
	}).Info("Memory budget changed")

	return c.checkPressureLocked()
}

// BudgetBytes returns the current resident byte budget
func (c *SpillingCache) BudgetBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budgetLocked()
}

func (c *SpillingCache) budgetLocked() int64 {
	return int64(c.fraction * float64(c.memory.MaxMemory()))
}

// CheckPressure spills least recently accessed entries until resident bytes
// fit the budget. If a spill write fails the check stops with
// SPILL_WRITE_FAILURE; the failing entry stays resident and entries already
// spilled stay spilled.
func (c *SpillingCache) CheckPressure() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.checkPressureLocked()
}

func (c *SpillingCache) checkPressureLocked() error {
	budget := c.budgetLocked()
	c.observer.ResidentChanged(c.resident, budget)
	if c.resident <= budget {
		return nil
	}

	for _, e := range c.residentByAge() {
		if c.resident <= budget {
			break
		}
		if err := c.spillLocked(e); err != nil {
			return withOp(err, "check_pressure")
		}
	}

	c.observer.ResidentChanged(c.resident, budget)
	return nil
}

// FlushAll spills every resident entry regardless of budget, then runs a
// garbage collection.
func (c *SpillingCache) FlushAll() error {
	err := c.flushAll()
	runtime.GC()
	return err
}

func (c *SpillingCache) flushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.residentByAge() {
		if err := c.spillLocked(e); err != nil {
			return withOp(err, "flush_all")
		}
	}
	c.observer.ResidentChanged(c.resident, c.budgetLocked())
	return nil
}

// residentByAge returns resident entries, least recently accessed first
func (c *SpillingCache) residentByAge() []*entry {
	out := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.resident() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].lastAccess < out[j].lastAccess
	})
	return out
}

// spillLocked writes e to the store unless the existing object still holds
// exactly the resident payload, then drops the payload. The payload is only
// dropped after a successful write.
func (c *SpillingCache) spillLocked(e *entry) error {
	start := time.Now()
	wrote := false

	// callers may edit a fetched payload in place without MarkModified
	if e.spillValid && spill.Checksum(e.payload) != e.spillSum {
		e.spillValid = false
	}

	if !e.spillValid {
		if e.spillName == "" {
			e.spillName = c.store.Name(e.id)
		}

		data, err := c.codec.Encode(e.payload)
		if err == nil {
			err = c.store.Write(context.Background(), e.spillName, data)
		}
		if err != nil {
			c.observer.SpillFailed(e.id, err)
			c.logger.WithError(err).WithField("id", e.id).Warn("Spill write failed")
			return errors.Wrap(errors.ErrCodeSpillWriteFailure, err, "failed to spill entry").
				WithComponent(spillingComponent).
				WithContext("id", string(e.id)).
				WithContext("object", e.spillName)
		}

		e.spillValid = true
		e.spillSum = spill.ObjectChecksum(data)
		wrote = true
		c.spillWrites++
	}

	size := e.size
	c.resident -= size
	e.payload = nil
	e.spillCount++
	c.spills++

	took := time.Since(start)
	c.observer.Spilled(e.id, size, wrote, took)
	c.logger.WithFields(logrus.Fields{
		"id":       e.id,
		"bytes":    size,
		"wrote":    wrote,
		"duration": took,
	}).Debug("Spilled entry")

	return nil
}

func (c *SpillingCache) reloadLocked(e *entry) error {
	start := time.Now()

	data, err := c.store.Read(context.Background(), e.spillName)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCorruptSpillFile, err, "failed to read spill object").
			WithComponent(spillingComponent).
			WithOperation("fetch").
			WithContext("id", string(e.id))
	}

	p, err := c.codec.Decode(data)
	if err != nil {
		return errors.Wrap(errors.ErrCodeCorruptSpillFile, err, "failed to decode spill object").
			WithComponent(spillingComponent).
			WithOperation("fetch").
			WithContext("id", string(e.id))
	}

	e.payload = p
	e.kind = p.Kind()
	e.size = p.ByteSize()
	e.spillValid = true
	e.spillSum = spill.ObjectChecksum(data)
	e.reloadCount++
	c.resident += e.size
	c.reloads++
	c.touch(e)

	took := time.Since(start)
	c.observer.Reloaded(e.id, e.size, took)
	c.logger.WithFields(logrus.Fields{
		"id":       e.id,
		"bytes":    e.size,
		"duration": took,
	}).Debug("Reloaded entry")

	return nil
}

// VerifyAccounting checks that the resident byte total equals the sum of the
// resident entry sizes and that every spilled entry has a valid spill object.
func (c *SpillingCache) VerifyAccounting() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sum int64
	for _, e := range c.entries {
		if e.resident() {
			sum += e.size
			continue
		}
		if e.spillName == "" || !e.spillValid {
			return errors.Newf(errors.ErrCodeInternalError,
				"entry %s is neither resident nor validly spilled", e.id).WithComponent(spillingComponent)
		}
	}
	if sum != c.resident {
		return errors.Newf(errors.ErrCodeInternalError,
			"resident total %d does not match entry sum %d", c.resident, sum).WithComponent(spillingComponent)
	}
	return nil
}

// Len returns the number of registered entries
func (c *SpillingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Location returns where spill objects are written
func (c *SpillingCache) Location() string {
	return c.store.Location()
}

// Stats returns a snapshot of cache statistics. Entries are ordered most
// recently accessed first.
func (c *SpillingCache) Stats() types.SpillStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxMemory := c.memory.MaxMemory()
	stats := types.SpillStats{
		ResidentBytes:  c.resident,
		BudgetBytes:    int64(c.fraction * float64(maxMemory)),
		BudgetFraction: c.fraction,
		MaxMemory:      maxMemory,
		EntryCount:     len(c.entries),
		Spills:         c.spills,
		SpillWrites:    c.spillWrites,
		Reloads:        c.reloads,
		Entries:        make([]types.EntryStats, 0, len(c.entries)),
	}

	ordered := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].lastAccess > ordered[j].lastAccess
	})

	for _, e := range ordered {
		if e.resident() {
			stats.ResidentCount++
		}
		if e.spillName != "" {
			stats.SpillFiles++
		}
		stats.Entries = append(stats.Entries, types.EntryStats{
			ID:          e.id,
			Kind:        e.kind,
			Size:        e.size,
			Resident:    e.resident(),
			SpillFile:   e.spillName,
			SpillValid:  e.spillValid,
			AccessCount: e.accessCount,
			ReloadCount: e.reloadCount,
			SpillCount:  e.spillCount,
			LastTouched: e.lastTouched,
		})
	}

	return stats
}

// Report renders Stats as a human-readable table
func (c *SpillingCache) Report() string {
	return FormatSpillStats(c.Stats())
}

// FormatSpillStats renders spill statistics as text
func FormatSpillStats(stats types.SpillStats) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Cache resident: %s budget: %s (%.4g%% of %s)\n",
		utils.FormatBytes(stats.ResidentBytes),
		utils.FormatBytes(stats.BudgetBytes),
		stats.BudgetFraction*100,
		utils.FormatBytes(stats.MaxMemory))
	fmt.Fprintf(&b, "Entries: %d resident: %d spill files: %d spills: %d writes: %d reloads: %d\n",
		stats.EntryCount, stats.ResidentCount, stats.SpillFiles,
		stats.Spills, stats.SpillWrites, stats.Reloads)

	if len(stats.Entries) == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "%-32s %-10s %10s %-8s %8s %8s  %s\n",
		"ID", "KIND", "SIZE", "RESIDENT", "ACCESSES", "RELOADS", "LAST TOUCHED")
	for _, e := range stats.Entries {
		fmt.Fprintf(&b, "%-32s %-10s %10s %-8t %8d %8d  %s\n",
			e.ID, e.Kind, utils.FormatBytes(e.Size), e.Resident,
			e.AccessCount, e.ReloadCount, e.LastTouched.Format(time.RFC3339))
	}
	return b.String()
}

// Close removes every entry and deletes its spill object.
func (c *SpillingCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for id := range c.entries {
		if err := c.removeLocked(id); err != nil {
			errs = append(errs, err)
		}
	}
	if c.ownsCodec {
		if err := c.codec.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (c *SpillingCache) touch(e *entry) {
	c.seq++
	e.lastAccess = c.seq
	e.lastTouched = time.Now()
	e.accessCount++
}

func (c *SpillingCache) lookup(id types.ID, op string) (*entry, error) {
	e, ok := c.entries[id]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnknownID, "no entry for id %q", id).
			WithComponent(spillingComponent).
			WithOperation(op)
	}
	return e, nil
}

// withOp stamps component and operation on cache errors that lack them
func withOp(err error, op string) error {
	var ce *errors.CacheError
	if stderrors.As(err, &ce) {
		if ce.Component == "" {
			ce.Component = spillingComponent
		}
		if ce.Operation == "" {
			ce.Operation = op
		}
	}
	return err
}
