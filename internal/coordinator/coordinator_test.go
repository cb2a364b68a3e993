package coordinator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/arraycache/internal/config"
	"github.com/objectfs/arraycache/internal/spill"
	"github.com/objectfs/arraycache/pkg/errors"
	"github.com/objectfs/arraycache/pkg/memmon"
	"github.com/objectfs/arraycache/pkg/types"
)

// flakyStore is a FileStore whose writes can be switched off
type flakyStore struct {
	*spill.FileStore
	fail atomic.Bool
}

func (s *flakyStore) Write(ctx context.Context, name string, data []byte) error {
	if s.fail.Load() {
		return fmt.Errorf("no space left on device")
	}
	return s.FileStore.Write(ctx, name, data)
}

// ceiling is a memory provider the test can move
type ceiling struct{ n atomic.Int64 }

func (c *ceiling) MaxMemory() int64 { return c.n.Load() }

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Cache.Directory = t.TempDir()
	cfg.Cache.MemoryBudgetFraction = 0.5
	cfg.Cache.MaxMemory = "1MiB"
	return cfg
}

func newTestCoordinator(t *testing.T, cfg *config.Configuration, opts ...Option) *Coordinator {
	t.Helper()
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	c := newTestCoordinator(t, cfg)

	assert.Equal(t, filepath.Clean(cfg.Cache.Directory), c.CacheDir())
	assert.Equal(t, int64(1<<19), c.Cache().BudgetBytes())
	assert.False(t, c.Running())
	assert.False(t, c.Metrics().Enabled())

	id := c.NewID()
	assert.True(t, strings.HasPrefix(string(id), "data_"))
	assert.NotEqual(t, id, c.NewID())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.MemoryBudgetFraction = 2

	_, err := New(cfg)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))

	_, err = New(testConfig(t), WithInterval(-time.Second))
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
}

func TestCoordinator_StartStop(t *testing.T) {
	c := newTestCoordinator(t, testConfig(t), WithInterval(10*time.Millisecond))

	require.NoError(t, c.Stop(), "stop before start is a no-op")

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Running())

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, errors.ErrAlreadyStarted)

	assert.Eventually(t, func() bool { return c.Stats().Ticks > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop())
	assert.False(t, c.Running())
	require.NoError(t, c.Stop())

	// restart after stop
	require.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop())
}

func TestCoordinator_StopsWithContext(t *testing.T) {
	c := newTestCoordinator(t, testConfig(t), WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	cancel()

	ticks := func() uint64 { return c.Stats().Ticks }
	time.Sleep(20 * time.Millisecond)
	before := ticks()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, ticks(), "loop exits when the context is cancelled")
}

func TestCoordinator_BackgroundSpill(t *testing.T) {
	mem := &ceiling{}
	mem.n.Store(1 << 20)

	c := newTestCoordinator(t, testConfig(t),
		WithMemoryProvider(mem),
		WithInterval(5*time.Millisecond))

	id, err := c.Cache().Register(make([]float64, 10000)) // 80000 bytes
	require.NoError(t, err)
	require.True(t, c.Cache().IsResident(id))

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	// shrink the ceiling under the cache: only the ticker notices
	mem.n.Store(1000)

	assert.Eventually(t, func() bool {
		return c.Cache().Stats().ResidentBytes == 0
	}, time.Second, 5*time.Millisecond)

	_, err = os.Stat(filepath.Join(c.CacheDir(), string(id)+spill.FileExt))
	assert.NoError(t, err)
}

func TestCoordinator_BackgroundFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	cfg := testConfig(t)
	store := &flakyStore{FileStore: spill.NewFileStore(cfg.Cache.Directory)}
	mem := &ceiling{}
	mem.n.Store(1 << 20)

	c := newTestCoordinator(t, cfg,
		WithLogger(logger),
		WithStore(store),
		WithMemoryProvider(mem),
		WithInterval(5*time.Millisecond))

	id, err := c.Cache().Register(make([]int32, 1000))
	require.NoError(t, err)

	store.fail.Store(true)
	mem.n.Store(100)
	require.NoError(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.WarnLevel && e.Message == "Background pressure check failed" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Stop())

	stats := c.Stats()
	assert.Greater(t, stats.PressureFailures, uint64(0))
	assert.Contains(t, stats.LastError, string(errors.ErrCodeSpillWriteFailure))
	assert.True(t, c.Cache().IsResident(id), "failed spill keeps the payload")

	// synchronous checks return the error instead
	assert.True(t, errors.IsCode(c.CheckPressure(), errors.ErrCodeSpillWriteFailure))

	store.fail.Store(false)
	require.NoError(t, c.CheckPressure())
	assert.False(t, c.Cache().IsResident(id))
}

func TestCoordinator_Observer(t *testing.T) {
	obs := &spillCounter{}
	c := newTestCoordinator(t, testConfig(t), WithObserver(obs))

	_, err := c.Cache().Register(make([]byte, 100))
	require.NoError(t, err)
	require.NoError(t, c.Cache().FlushAll())

	assert.Equal(t, int64(1), obs.spills.Load())
}

type spillCounter struct {
	types.NopObserver
	spills atomic.Int64
}

func (s *spillCounter) Spilled(types.ID, int64, bool, time.Duration) { s.spills.Add(1) }

func TestCoordinator_MetricsEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitoring.Metrics.Enabled = true

	c := newTestCoordinator(t, cfg)
	require.True(t, c.Metrics().Enabled())

	id, err := c.Cache().Register(make([]float32, 256))
	require.NoError(t, err)
	require.NoError(t, c.Cache().FlushAll())
	_, err = c.Cache().Fetch(id)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(c.Metrics().Registry(),
		"arraycache_spills_total", "arraycache_reloads_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCoordinator_GenericCaches(t *testing.T) {
	cfg := testConfig(t)
	cfg.SlotPool.Slots = 2
	cfg.SlotPool.TupleDim = 2
	cfg.ResultCache.MaxMisses = 1

	c := newTestCoordinator(t, cfg)

	pool, err := NewSlotPool[int, float64](c, func(int, [][]float64) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, pool.Size())
	assert.Equal(t, 2, pool.Stats().Slots)

	rc, err := NewResultCache[float64](c)
	require.NoError(t, err)
	in := [][]float64{make([]float64, 2000)}
	rc.Lookup("t", in)
	assert.True(t, rc.Lookup("t", in).Cacheable)
}

func TestCoordinator_Report(t *testing.T) {
	c := newTestCoordinator(t, testConfig(t))

	_, err := c.Cache().Register([]float64{1, 2, 3})
	require.NoError(t, err)

	report := c.Report()
	assert.Contains(t, report, "Spill location: "+c.CacheDir())
	assert.Contains(t, report, "Running: false")
	assert.Contains(t, report, "Cache resident: 24 B")
}

func TestCoordinator_CloseRemovesSpillFiles(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.Cache().Register(make([]int16, 100))
		require.NoError(t, err)
	}
	require.NoError(t, c.Cache().FlushAll())

	files, _ := filepath.Glob(filepath.Join(cfg.Cache.Directory, "*"+spill.FileExt))
	require.Len(t, files, 3)

	require.NoError(t, c.Close())
	files, _ = filepath.Glob(filepath.Join(cfg.Cache.Directory, "*"+spill.FileExt))
	assert.Empty(t, files)
}

var _ memmon.Provider = (*ceiling)(nil)

func TestNew_S3BackendRetries(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.SpillBackend = config.BackendS3
	cfg.Cache.S3.Bucket = "arrays"
	cfg.Cache.S3.Endpoint = "http://127.0.0.1:9"
	cfg.Cache.S3.AccessKeyID = "test"
	cfg.Cache.S3.SecretAccessKey = "test"
	cfg.Cache.S3.UsePathStyle = true

	c := newTestCoordinator(t, cfg)
	assert.Equal(t, "s3://arrays/spill/", c.CacheDir())

	store, ok := c.store.(*spill.RetryingStore)
	require.True(t, ok)
	_, ok = store.Unwrap().(*spill.S3Store)
	assert.True(t, ok)
}

func TestCoordinator_ConcurrentStartStop(t *testing.T) {
	c := newTestCoordinator(t, testConfig(t), WithInterval(time.Millisecond))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			err := c.Start(context.Background())
			if err != nil {
				assert.ErrorIs(t, err, errors.ErrAlreadyStarted)
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Stop())
		}()
	}
	wg.Wait()

	require.NoError(t, c.Stop())
	assert.False(t, c.Running())
}

func TestCoordinator_CloseTwice(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))

	_, err = c.Cache().Register(make([]int16, 100))
	require.NoError(t, err)
	require.NoError(t, c.Cache().FlushAll())

	require.NoError(t, c.Close())
	assert.False(t, c.Running())
	require.NoError(t, c.Close())
}
