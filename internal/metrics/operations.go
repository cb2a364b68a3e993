package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/arraycache/pkg/utils"
)

// OperationType names a timed cache operation
type OperationType string

const (
	OpSpill         OperationType = "spill"
	OpSpillSkip     OperationType = "spill_reuse" // spill that reused a valid object
	OpReload        OperationType = "reload"
	OpPressureCheck OperationType = "pressure_check"
)

// OperationMetrics tracks latency and volume for one operation type
type OperationMetrics struct {
	Count             int64         `json:"count"`
	TotalLatency      time.Duration `json:"total_latency"`
	MinLatency        time.Duration `json:"min_latency"`
	MaxLatency        time.Duration `json:"max_latency"`
	AverageLatency    time.Duration `json:"average_latency"`
	ErrorCount        int64         `json:"error_count"`
	BytesProcessed    int64         `json:"bytes_processed"`
	AvgBytesPerOp     float64       `json:"avg_bytes_per_op"`
	ThroughputMBps    float64       `json:"throughput_mbps"`
	LastOperationTime time.Time     `json:"last_operation_time"`
}

// OperationTracker aggregates per-operation statistics for the debug endpoint.
type OperationTracker struct {
	mu         sync.RWMutex
	operations map[OperationType]*OperationMetrics
	startTime  time.Time
	totalOps   int64
	totalErrs  int64
	totalBytes int64
}

// NewOperationTracker creates an empty tracker
func NewOperationTracker() *OperationTracker {
	return &OperationTracker{
		operations: make(map[OperationType]*OperationMetrics),
		startTime:  time.Now(),
	}
}

// Record adds one operation
func (t *OperationTracker) Record(op OperationType, latency time.Duration, bytes int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	om := t.operations[op]
	if om == nil {
		om = &OperationMetrics{MinLatency: latency}
		t.operations[op] = om
	}

	om.Count++
	om.TotalLatency += latency
	om.BytesProcessed += bytes
	om.LastOperationTime = time.Now()

	if latency < om.MinLatency {
		om.MinLatency = latency
	}
	if latency > om.MaxLatency {
		om.MaxLatency = latency
	}
	om.AverageLatency = time.Duration(int64(om.TotalLatency) / om.Count)
	om.AvgBytesPerOp = float64(om.BytesProcessed) / float64(om.Count)
	if om.TotalLatency > 0 {
		om.ThroughputMBps = (float64(om.BytesProcessed) / (1024 * 1024)) / om.TotalLatency.Seconds()
	}

	if err != nil {
		om.ErrorCount++
		t.totalErrs++
	}
	t.totalOps++
	t.totalBytes += bytes
}

// Get returns a copy of the metrics for op, or nil if none were recorded
func (t *OperationTracker) Get(op OperationType) *OperationMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if om, ok := t.operations[op]; ok {
		cp := *om
		return &cp
	}
	return nil
}

// Summary returns totals across all operations
func (t *OperationTracker) Summary() map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	uptime := time.Since(t.startTime)
	errorRate := 0.0
	if t.totalOps > 0 {
		errorRate = float64(t.totalErrs) / float64(t.totalOps)
	}

	return map[string]interface{}{
		"uptime_seconds":        uptime.Seconds(),
		"total_operations":      t.totalOps,
		"total_errors":          t.totalErrs,
		"total_bytes_processed": t.totalBytes,
		"error_rate":            errorRate,
	}
}

// Reset discards everything recorded so far
func (t *OperationTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.operations = make(map[OperationType]*OperationMetrics)
	t.startTime = time.Now()
	t.totalOps, t.totalErrs, t.totalBytes = 0, 0, 0
}

// Format renders the tracker as a text table, operations sorted by name
func (t *OperationTracker) Format() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Uptime: %v\n", time.Since(t.startTime).Round(time.Second))

	if len(t.operations) == 0 {
		b.WriteString("No operations recorded.\n")
		return b.String()
	}

	names := make([]string, 0, len(t.operations))
	for op := range t.operations {
		names = append(names, string(op))
	}
	sort.Strings(names)

	fmt.Fprintf(&b, "%-16s %8s %8s %12s %12s %12s %10s\n",
		"OPERATION", "COUNT", "ERRORS", "AVG", "MIN", "MAX", "BYTES")
	for _, name := range names {
		om := t.operations[OperationType(name)]
		fmt.Fprintf(&b, "%-16s %8d %8d %12v %12v %12v %10s\n",
			name, om.Count, om.ErrorCount, om.AverageLatency, om.MinLatency, om.MaxLatency,
			utils.FormatBytes(om.BytesProcessed))
	}
	return b.String()
}
