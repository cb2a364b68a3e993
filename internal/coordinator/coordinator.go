package coordinator

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/objectfs/arraycache/internal/cache"
	"github.com/objectfs/arraycache/internal/config"
	"github.com/objectfs/arraycache/internal/metrics"
	"github.com/objectfs/arraycache/internal/spill"
	"github.com/objectfs/arraycache/pkg/errors"
	"github.com/objectfs/arraycache/pkg/memmon"
	"github.com/objectfs/arraycache/pkg/retry"
	"github.com/objectfs/arraycache/pkg/types"
	"github.com/objectfs/arraycache/pkg/utils"
)

const component = "coordinator"

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger shared by the coordinator and its cache
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMemoryProvider overrides the memory ceiling source
func WithMemoryProvider(p memmon.Provider) Option {
	return func(c *Coordinator) { c.memory = p }
}

// WithStore overrides the spill store selected by configuration
func WithStore(s spill.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithObserver adds a cache observer alongside the metrics collector
func WithObserver(o types.CacheObserver) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithInterval overrides the pressure check interval
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) { c.interval = d }
}

// Stats represents coordinator statistics
type Stats struct {
	Cache            types.SpillStats    `json:"cache"`
	Location         string              `json:"location"`
	Running          bool                `json:"running"`
	Interval         time.Duration       `json:"interval"`
	Ticks            uint64              `json:"ticks"`
	PressureFailures uint64              `json:"pressure_failures"`
	LastError        string              `json:"last_error,omitempty"`
	LastCheck        time.Time           `json:"last_check"`
	Heap             memmon.MemorySample `json:"heap"`
}

// Coordinator owns the spilling cache of a process together with its id
// generator, spill store, memory ceiling and metrics. After Start it runs a
// periodic pressure check in the background.
type Coordinator struct {
	config   *config.Configuration
	cache    *cache.SpillingCache
	store    spill.Store
	codec    *spill.Codec
	ids      *cache.IDGenerator
	memory   memmon.Provider
	metrics  *metrics.Collector
	observer types.CacheObserver
	interval time.Duration
	logger   *logrus.Logger
	log      *logrus.Entry

	life    sync.Mutex // serializes Start, Stop and Close
	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error

	mu         sync.Mutex
	ticks      uint64
	failures   uint64
	lastErr    error
	lastCheck  time.Time
	lastSample memmon.MemorySample
}

// New builds a coordinator from cfg. A nil cfg selects the defaults. No
// goroutine is started until Start.
func New(cfg *config.Configuration, opts ...Option) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		config:   cfg,
		interval: cfg.Cache.PressureInterval,
		ids:      cache.NewIDGenerator(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = utils.DiscardLogger()
	}
	c.log = utils.ComponentLogger(c.logger, component)

	if c.interval <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "pressure interval must be greater than 0, got %v", c.interval).
			WithComponent(component)
	}

	if c.memory == nil {
		maxMemory, err := cfg.MaxMemoryBytes()
		if err != nil {
			return nil, err
		}
		if maxMemory > 0 {
			c.memory = memmon.Fixed(maxMemory)
		} else {
			c.memory = memmon.NewRuntimeProvider()
		}
	}

	if c.store == nil {
		store, err := c.newStore(cfg.Cache)
		if err != nil {
			return nil, err
		}
		c.store = store
	}

	codec, err := spill.NewCodec(cfg.Cache.Compression)
	if err != nil {
		return nil, err
	}
	c.codec = codec

	m := cfg.Monitoring.Metrics
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   m.Enabled,
		Port:      m.Port,
		Path:      m.Path,
		Namespace: m.Namespace,
	}, c.logger)
	if err != nil {
		codec.Close()
		return nil, err
	}
	c.metrics = collector

	var observers fanout
	if collector.Enabled() {
		observers = append(observers, collector)
	}
	if c.observer != nil {
		observers = append(observers, c.observer)
	}

	sc, err := cache.NewSpillingCache(&cache.SpillingConfig{
		Store:          c.store,
		Codec:          codec,
		Memory:         c.memory,
		BudgetFraction: cfg.Cache.MemoryBudgetFraction,
		IDs:            c.ids,
		Observer:       observers,
		Logger:         c.logger,
	})
	if err != nil {
		codec.Close()
		return nil, err
	}
	c.cache = sc
	collector.SetReporter(c)

	c.log.WithFields(logrus.Fields{
		"location": c.store.Location(),
		"budget":   utils.FormatBytes(sc.BudgetBytes()),
		"interval": c.interval,
	}).Info("Cache coordinator created")

	return c, nil
}

func (c *Coordinator) newStore(cfg config.CacheConfig) (spill.Store, error) {
	switch cfg.SpillBackend {
	case config.BackendS3:
		store, err := spill.NewS3Store(context.Background(), spill.S3Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "failed to create s3 spill store").
				WithComponent(component)
		}
		return spill.WithRetry(store, retry.New(retry.Config{
			MaxAttempts:  cfg.S3.MaxAttempts,
			InitialDelay: cfg.S3.RetryDelay,
			Jitter:       true,
			ShouldRetry:  spill.IsTransient,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				c.log.WithError(err).WithFields(logrus.Fields{
					"attempt": attempt,
					"delay":   delay,
				}).Debug("Retrying spill store request")
			},
		})), nil
	default:
		return spill.NewFileStore(cfg.Directory), nil
	}
}

// Start starts the metrics server, if enabled, and the background pressure
// check. Starting a running coordinator fails with ALREADY_STARTED.
func (c *Coordinator) Start(ctx context.Context) error {
	c.life.Lock()
	defer c.life.Unlock()

	if c.started.Load() {
		return errors.New(errors.ErrCodeAlreadyStarted, "coordinator already started").
			WithComponent(component).WithOperation("start")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := c.metrics.Start(runCtx); err != nil {
		cancel()
		return err
	}

	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)
	c.started.Store(true)

	c.log.WithField("interval", c.interval).Info("Cache coordinator started")
	return nil
}

// Stop stops the background loop and the metrics server. Stopping a
// coordinator that is not running is a no-op.
func (c *Coordinator) Stop() error {
	c.life.Lock()
	defer c.life.Unlock()

	return c.stopLocked()
}

func (c *Coordinator) stopLocked() error {
	if !c.started.Load() {
		return nil
	}

	c.cancel()
	<-c.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.metrics.Stop(ctx)

	c.started.Store(false)
	c.log.Info("Cache coordinator stopped")
	return err
}

// Close stops the coordinator and removes every cache entry with its spill
// object. Later calls return the first result.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.life.Lock()
		defer c.life.Unlock()
		c.closeErr = stderrors.Join(c.stopLocked(), c.cache.Close(), c.codec.Close())
	})
	return c.closeErr
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick runs one background pressure check. Failures are logged and counted.
func (c *Coordinator) tick() {
	start := time.Now()
	err := c.cache.CheckPressure()
	took := time.Since(start)
	sample := memmon.TakeSample()

	c.mu.Lock()
	c.ticks++
	c.lastCheck = start
	c.lastSample = sample
	c.lastErr = err
	if err != nil {
		c.failures++
	}
	c.mu.Unlock()

	c.metrics.RecordPressureCheck(took, err)
	c.metrics.SetHeapBytes(sample.HeapAlloc)

	if err != nil {
		c.log.WithError(err).WithField("duration", took).Warn("Background pressure check failed")
	}
}

// Cache returns the spilling cache
func (c *Coordinator) Cache() *cache.SpillingCache {
	return c.cache
}

// Metrics returns the metrics collector. It is never nil; a disabled
// collector records nothing.
func (c *Coordinator) Metrics() *metrics.Collector {
	return c.metrics
}

// CacheDir returns where spill objects are written
func (c *Coordinator) CacheDir() string {
	return c.store.Location()
}

// NewID returns a fresh id from the generator the cache uses
func (c *Coordinator) NewID() types.ID {
	return c.ids.Next()
}

// CheckPressure runs a pressure check synchronously and returns its error
func (c *Coordinator) CheckPressure() error {
	return c.cache.CheckPressure()
}

// Running reports whether the background loop is active
func (c *Coordinator) Running() bool {
	return c.started.Load()
}

// Stats returns coordinator statistics
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	stats := Stats{
		Ticks:            c.ticks,
		PressureFailures: c.failures,
		LastCheck:        c.lastCheck,
		Heap:             c.lastSample,
	}
	if c.lastErr != nil {
		stats.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	if stats.Heap.Timestamp.IsZero() {
		stats.Heap = memmon.TakeSample()
	}
	stats.Cache = c.cache.Stats()
	stats.Location = c.store.Location()
	stats.Running = c.Running()
	stats.Interval = c.interval
	return stats
}

// Report renders Stats as text
func (c *Coordinator) Report() string {
	stats := c.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "Spill location: %s\n", stats.Location)
	fmt.Fprintf(&b, "Running: %t interval: %v ticks: %d pressure failures: %d\n",
		stats.Running, stats.Interval, stats.Ticks, stats.PressureFailures)
	if stats.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", stats.LastError)
	}
	fmt.Fprintf(&b, "Heap: %s in use, %s from system, %d GCs\n",
		utils.FormatBytes(int64(stats.Heap.HeapInuse)),
		utils.FormatBytes(int64(stats.Heap.Sys)),
		stats.Heap.NumGC)
	b.WriteString(cache.FormatSpillStats(stats.Cache))
	return b.String()
}

// NewResultCache builds a keyed result cache from the coordinator's
// result_cache settings, reporting to its metrics collector.
func NewResultCache[T types.Number](c *Coordinator) (*cache.ResultCache[T], error) {
	rc := c.config.ResultCache
	r, err := cache.NewResultCache[T](&cache.ResultCacheConfig{
		Enabled:        rc.Enabled,
		LowerThreshold: rc.LowerThreshold,
		UpperThreshold: rc.UpperThreshold,
		MaxKeys:        rc.MaxKeys,
		MaxMisses:      rc.MaxMisses,
	})
	if err != nil {
		return nil, err
	}
	r.SetObserver(c.metrics)
	return r, nil
}

// NewSlotPool builds a slot pool from the coordinator's slot_pool settings,
// reporting to its metrics collector.
func NewSlotPool[K comparable, T types.Number](c *Coordinator, flush cache.FlushFunc[K, T]) (*cache.SlotPool[K, T], error) {
	sp := c.config.SlotPool
	p, err := cache.NewSlotPool[K, T](sp.Slots, sp.TupleDim, flush)
	if err != nil {
		return nil, err
	}
	p.SetObserver(c.metrics)
	return p, nil
}
