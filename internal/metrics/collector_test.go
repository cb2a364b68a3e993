package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticReporter string

func (r staticReporter) Report() string { return string(r) }

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Path: "/metrics", Namespace: "test"}, nil)
	require.NoError(t, err)
	return c
}

func TestNewCollector(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil, nil)
		require.NoError(t, err)
		assert.True(t, c.Enabled())
		assert.Equal(t, 9090, c.config.Port)
		assert.Equal(t, "arraycache", c.config.Namespace)
	})

	t.Run("disabled collector has no registry", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false}, nil)
		require.NoError(t, err)
		assert.False(t, c.Enabled())
		assert.Nil(t, c.Registry())

		// events are accepted and ignored
		c.Spilled("data_0_0", 10, true, time.Millisecond)
		c.ResultLookup(true)
		c.RecordPressureCheck(time.Millisecond, nil)
		require.NoError(t, c.Start(context.Background()))
		assert.Empty(t, c.Addr())
	})
}

func TestCollector_CacheEvents(t *testing.T) {
	c := newTestCollector(t)

	c.Spilled("data_0_0", 400, true, 2*time.Millisecond)
	c.Spilled("data_0_1", 100, false, time.Microsecond)
	c.Reloaded("data_0_0", 400, time.Millisecond)
	c.SpillFailed("data_0_2", errors.New("disk full"))
	c.ResidentChanged(1000, 4000)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.spillsTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.spillsTotal.WithLabelValues("false")))
	assert.Equal(t, 500.0, testutil.ToFloat64(c.spilledBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reloadsTotal))
	assert.Equal(t, 400.0, testutil.ToFloat64(c.reloadedBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.spillFailures))
	assert.Equal(t, 1000.0, testutil.ToFloat64(c.residentBytes))
	assert.Equal(t, 4000.0, testutil.ToFloat64(c.budgetBytes))

	spill := c.Operations().Get(OpSpill)
	require.NotNil(t, spill)
	assert.Equal(t, int64(2), spill.Count)
	assert.Equal(t, int64(1), spill.ErrorCount)
	assert.NotNil(t, c.Operations().Get(OpSpillSkip))
}

func TestCollector_SlotAndResultEvents(t *testing.T) {
	c := newTestCollector(t)

	c.SlotAcquired(true)
	c.SlotAcquired(false)
	c.SlotAcquired(false)
	c.SlotFlushed(nil)
	c.SlotFlushed(errors.New("refused"))
	c.ResultLookup(true)
	c.ResultLookup(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.slotAcquires.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.slotAcquires.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.slotFlushes.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.slotFlushes.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resultLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.resultLookups.WithLabelValues("miss")))
}

func TestCollector_PressureChecks(t *testing.T) {
	c := newTestCollector(t)

	c.RecordPressureCheck(time.Millisecond, nil)
	c.RecordPressureCheck(time.Millisecond, errors.New("spill failed"))
	c.SetHeapBytes(1 << 20)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.pressureChecks.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pressureChecks.WithLabelValues("error")))
	assert.Equal(t, float64(1<<20), testutil.ToFloat64(c.heapBytes))
	assert.Equal(t, 1, testutil.CollectAndCount(c.pressureDuration))
}

func TestCollector_Handler(t *testing.T) {
	c := newTestCollector(t)
	c.SetReporter(staticReporter("Cache resident: 1.0 KiB"))
	c.Spilled("data_0_0", 1024, true, time.Millisecond)

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `test_spills_total{write="true"} 1`)

	code, body = get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "healthy")

	code, body = get("/debug/cache")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "Cache resident: 1.0 KiB")
	assert.Contains(t, body, "spill")
}

func TestCollector_StartStop(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: true, Port: 0, Path: "/metrics", Namespace: "test"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))

	addr := c.Addr()
	require.NotEmpty(t, addr)
	port := addr[strings.LastIndex(addr, ":"):]

	resp, err := http.Get("http://127.0.0.1" + port + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, c.Stop(stopCtx))
}
