package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/objectfs/arraycache/pkg/types"
	"github.com/objectfs/arraycache/pkg/utils"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Port      int               `yaml:"port"`
	Path      string            `yaml:"path"`
	Labels    map[string]string `yaml:"labels"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
}

// DefaultConfig returns the default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "arraycache",
		Labels:    make(map[string]string),
	}
}

// Reporter renders a human-readable cache summary for /debug/cache
type Reporter interface {
	Report() string
}

// Collector exports cache events as Prometheus metrics. It implements
// types.CacheObserver, types.SlotObserver and types.ResultObserver. A
// disabled collector accepts every event and records nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *logrus.Entry
	ops      *OperationTracker
	reporter Reporter

	spillsTotal      *prometheus.CounterVec
	spilledBytes     prometheus.Counter
	spillFailures    prometheus.Counter
	reloadsTotal     prometheus.Counter
	reloadedBytes    prometheus.Counter
	residentBytes    prometheus.Gauge
	budgetBytes      prometheus.Gauge
	heapBytes        prometheus.Gauge
	slotAcquires     *prometheus.CounterVec
	slotFlushes      *prometheus.CounterVec
	resultLookups    *prometheus.CounterVec
	pressureChecks   *prometheus.CounterVec
	pressureDuration prometheus.Histogram

	listener net.Listener
	server   *http.Server
}

var (
	_ types.CacheObserver  = (*Collector)(nil)
	_ types.SlotObserver   = (*Collector)(nil)
	_ types.ResultObserver = (*Collector)(nil)
)

// NewCollector creates a new metrics collector. A nil config selects the defaults.
func NewCollector(config *Config, logger *logrus.Logger) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Collector{
		config: config,
		logger: utils.ComponentLogger(logger, "metrics"),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.ops = NewOperationTracker()
	c.initMetrics()

	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return c, nil
}

// Enabled reports whether the collector records anything
func (c *Collector) Enabled() bool {
	return c.registry != nil
}

// Registry returns the collector's private registry, nil when disabled
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Operations returns the per-operation tracker, nil when disabled
func (c *Collector) Operations() *OperationTracker {
	return c.ops
}

// SetReporter installs the source of the /debug/cache summary
func (c *Collector) SetReporter(r Reporter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reporter = r
}

// Handler returns the HTTP handler serving the metrics and debug endpoints
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if c.Enabled() {
		mux.Handle(c.path(), promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}))
	}
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/cache", c.debugCacheHandler)
	return mux
}

func (c *Collector) path() string {
	if c.config.Path == "" {
		return "/metrics"
	}
	return c.config.Path
}

// Start starts the metrics HTTP server. It returns once the listener is bound;
// the server stops when ctx is cancelled or Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", c.config.Port, err)
	}

	server := &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	c.mu.Lock()
	c.listener = ln
	c.server = server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.WithError(err).Error("Metrics server error")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	c.logger.WithField("addr", ln.Addr().String()).Info("Metrics server started")
	return nil
}

// Addr returns the bound listen address, or "" before Start
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics HTTP server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()

	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// Spilled implements types.CacheObserver
func (c *Collector) Spilled(_ types.ID, bytes int64, wrote bool, took time.Duration) {
	if !c.Enabled() {
		return
	}
	c.spillsTotal.WithLabelValues(strconv.FormatBool(wrote)).Inc()
	c.spilledBytes.Add(float64(bytes))

	op := OpSpill
	if !wrote {
		op = OpSpillSkip
	}
	c.ops.Record(op, took, bytes, nil)
}

// Reloaded implements types.CacheObserver
func (c *Collector) Reloaded(_ types.ID, bytes int64, took time.Duration) {
	if !c.Enabled() {
		return
	}
	c.reloadsTotal.Inc()
	c.reloadedBytes.Add(float64(bytes))
	c.ops.Record(OpReload, took, bytes, nil)
}

// ResidentChanged implements types.CacheObserver
func (c *Collector) ResidentChanged(resident, budget int64) {
	if !c.Enabled() {
		return
	}
	c.residentBytes.Set(float64(resident))
	c.budgetBytes.Set(float64(budget))
}

// SpillFailed implements types.CacheObserver
func (c *Collector) SpillFailed(_ types.ID, err error) {
	if !c.Enabled() {
		return
	}
	c.spillFailures.Inc()
	c.ops.Record(OpSpill, 0, 0, err)
}

// SlotAcquired implements types.SlotObserver
func (c *Collector) SlotAcquired(hit bool) {
	if !c.Enabled() {
		return
	}
	c.slotAcquires.WithLabelValues(hitLabel(hit)).Inc()
}

// SlotFlushed implements types.SlotObserver
func (c *Collector) SlotFlushed(err error) {
	if !c.Enabled() {
		return
	}
	c.slotFlushes.WithLabelValues(statusLabel(err)).Inc()
}

// ResultLookup implements types.ResultObserver
func (c *Collector) ResultLookup(hit bool) {
	if !c.Enabled() {
		return
	}
	c.resultLookups.WithLabelValues(hitLabel(hit)).Inc()
}

// RecordPressureCheck records one background pressure check
func (c *Collector) RecordPressureCheck(took time.Duration, err error) {
	if !c.Enabled() {
		return
	}
	c.pressureChecks.WithLabelValues(statusLabel(err)).Inc()
	c.pressureDuration.Observe(took.Seconds())
	c.ops.Record(OpPressureCheck, took, 0, err)
}

// SetHeapBytes records the most recent heap sample
func (c *Collector) SetHeapBytes(n uint64) {
	if !c.Enabled() {
		return
	}
	c.heapBytes.Set(float64(n))
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) initMetrics() {
	ns, sub, labels := c.config.Namespace, c.config.Subsystem, prometheus.Labels(c.config.Labels)

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: labels,
		})
	}
	counterVec := func(name, help string, label string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: name, Help: help, ConstLabels: labels,
		}, []string{label})
	}

	c.spillsTotal = counterVec("spills_total", "Entries spilled, by whether the spill object was rewritten", "write")
	c.spilledBytes = counter("spilled_bytes_total", "Payload bytes released by spilling")
	c.spillFailures = counter("spill_failures_total", "Spill writes that failed")
	c.reloadsTotal = counter("reloads_total", "Entries reloaded from the spill store")
	c.reloadedBytes = counter("reloaded_bytes_total", "Payload bytes reloaded from the spill store")
	c.residentBytes = gauge("resident_bytes", "Payload bytes currently held in memory")
	c.budgetBytes = gauge("budget_bytes", "Resident byte budget")
	c.heapBytes = gauge("heap_alloc_bytes", "Heap bytes allocated at the last coordinator tick")
	c.slotAcquires = counterVec("slot_acquires_total", "Slot pool acquisitions", "result")
	c.slotFlushes = counterVec("slot_flushes_total", "Dirty slot flushes", "status")
	c.resultLookups = counterVec("result_lookups_total", "Keyed result cache lookups", "result")
	c.pressureChecks = counterVec("pressure_checks_total", "Background pressure checks", "status")

	c.pressureDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace:   ns,
		Subsystem:   sub,
		Name:        "pressure_check_duration_seconds",
		Help:        "Duration of background pressure checks in seconds",
		Buckets:     prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~26s
		ConstLabels: labels,
	})
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.spillsTotal,
		c.spilledBytes,
		c.spillFailures,
		c.reloadsTotal,
		c.reloadedBytes,
		c.residentBytes,
		c.budgetBytes,
		c.heapBytes,
		c.slotAcquires,
		c.slotFlushes,
		c.resultLookups,
		c.pressureChecks,
		c.pressureDuration,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}
	return nil
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"arraycache-metrics"}`))
}

func (c *Collector) debugCacheHandler(w http.ResponseWriter, _ *http.Request) {
	c.mu.RLock()
	reporter := c.reporter
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("ArrayCache Summary\n")
	writef("==================\n\n")
	if reporter != nil {
		writef("%s\n", reporter.Report())
	} else {
		writef("No cache attached.\n\n")
	}

	if c.ops != nil {
		writef("Operations\n")
		writef("----------\n")
		writef("%s", c.ops.Format())
	}
}
