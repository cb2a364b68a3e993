// Command arraycache runs a spilling array cache with optional metrics
// endpoint and synthetic workload.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/objectfs/arraycache/internal/config"
	"github.com/objectfs/arraycache/internal/coordinator"
	"github.com/objectfs/arraycache/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configFile  string
	saveConfig  string
	logLevel    string
	cacheDir    string
	maxMemory   string
	budget      float64
	compression bool
	metrics     bool
	metricsPort int
	workers     int
	iterations  int
	arrayPoints int
	duration    time.Duration
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("arraycache", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	fs.StringVar(&opts.saveConfig, "save-config", "", "Write the effective configuration to this file and exit")
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	fs.StringVar(&opts.cacheDir, "cache-dir", "", "Spill directory")
	fs.StringVar(&opts.maxMemory, "max-memory", "", "Memory ceiling, e.g. 512MiB (default: detect)")
	fs.Float64Var(&opts.budget, "budget", 0, "Fraction of the memory ceiling kept resident")
	fs.BoolVar(&opts.compression, "compress", false, "Compress spill objects with zstd")
	fs.BoolVar(&opts.metrics, "metrics", false, "Serve Prometheus metrics")
	fs.IntVar(&opts.metricsPort, "metrics-port", 0, "Metrics port")
	fs.IntVarP(&opts.workers, "workers", "w", 0, "Synthetic workload goroutines (0 disables the workload)")
	fs.IntVar(&opts.iterations, "iterations", 100, "Operations per workload goroutine")
	fs.IntVar(&opts.arrayPoints, "points", 100000, "Points per synthetic array")
	fs.DurationVar(&opts.duration, "duration", 0, "Run for this long, then exit (0 waits for a signal)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

// loadConfig layers defaults, the config file, the environment and flags
func loadConfig(opts *options) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if opts.configFile != "" {
		if err := cfg.LoadFromFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if opts.logLevel != "" {
		cfg.Global.LogLevel = opts.logLevel
	}
	if opts.cacheDir != "" {
		cfg.Cache.Directory = opts.cacheDir
	}
	if opts.maxMemory != "" {
		cfg.Cache.MaxMemory = opts.maxMemory
	}
	if opts.budget != 0 {
		cfg.Cache.MemoryBudgetFraction = opts.budget
	}
	if opts.compression {
		cfg.Cache.Compression = true
	}
	if opts.metrics {
		cfg.Monitoring.Metrics.Enabled = true
	}
	if opts.metricsPort != 0 {
		cfg.Monitoring.Metrics.Port = opts.metricsPort
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	if opts.saveConfig != "" {
		if err := cfg.SaveToFile(opts.saveConfig); err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 1
		}
		fmt.Fprintf(stdout, "Configuration written to %s\n", opts.saveConfig)
		return 0
	}

	logger, err := utils.NewLogger(utils.LogConfig{
		Level:  cfg.Global.LogLevel,
		File:   cfg.Global.LogFile,
		Format: cfg.Global.LogFormat,
	})
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	coord, err := coordinator.New(cfg, coordinator.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Error("Failed to create cache coordinator")
		return 1
	}
	defer func() {
		if err := coord.Close(); err != nil {
			logger.WithError(err).Warn("Failed to clean up cache")
		}
	}()

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	if err := coord.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start cache coordinator")
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.workers > 0 {
		w, err := newWorkload(coord, opts.arrayPoints, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to create workload")
			return 1
		}
		for i := 0; i < opts.workers; i++ {
			seed := int64(i)
			g.Go(func() error {
				return w.run(gctx, seed, opts.iterations)
			})
		}
	}

	err = g.Wait()
	if err == nil && (opts.workers == 0 || opts.duration > 0) {
		<-ctx.Done()
	}

	if stopErr := coord.Stop(); stopErr != nil {
		logger.WithError(stopErr).Warn("Failed to stop cache coordinator")
	}
	fmt.Fprint(stdout, coord.Report())

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.WithError(err).Error("Workload failed")
		return 1
	}
	return 0
}
