package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v2"

	"github.com/objectfs/arraycache/pkg/errors"
	"github.com/objectfs/arraycache/pkg/utils"
)

// Spill backends
const (
	BackendFile = "file"
	BackendS3   = "s3"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global      GlobalConfig      `yaml:"global"`
	Cache       CacheConfig       `yaml:"cache"`
	ResultCache ResultCacheConfig `yaml:"result_cache"`
	SlotPool    SlotPoolConfig    `yaml:"slot_pool"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
	LogFormat string `yaml:"log_format"`
}

// CacheConfig represents spilling cache configuration
type CacheConfig struct {
	MemoryBudgetFraction float64       `yaml:"memory_budget_fraction"`
	MaxMemory            string        `yaml:"max_memory"`
	Directory            string        `yaml:"directory"`
	PressureInterval     time.Duration `yaml:"pressure_interval"`
	Compression          bool          `yaml:"compression"`
	SpillBackend         string        `yaml:"spill_backend"`
	S3                   S3Config      `yaml:"s3"`
}

// S3Config represents the S3 spill backend settings
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`

	// Retries on top of the SDK's own for transient request failures
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

// ResultCacheConfig represents keyed result cache settings
type ResultCacheConfig struct {
	Enabled        bool `yaml:"enabled"`
	LowerThreshold int  `yaml:"lower_threshold"`
	UpperThreshold int  `yaml:"upper_threshold"`
	MaxKeys        int  `yaml:"max_keys"`
	MaxMisses      int  `yaml:"max_misses"`
}

// SlotPoolConfig represents slot pool settings
type SlotPoolConfig struct {
	Slots    int `yaml:"slots"`
	TupleDim int `yaml:"tuple_dim"`
}

// MonitoringConfig represents monitoring configuration
type MonitoringConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig represents the prometheus endpoint settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns a configuration with default values
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: utils.FormatText,
		},
		Cache: CacheConfig{
			MemoryBudgetFraction: 0.25,
			Directory:            ".",
			PressureInterval:     5 * time.Second,
			SpillBackend:         BackendFile,
			S3: S3Config{
				Prefix:      "spill/",
				Region:      "us-west-2",
				MaxAttempts: 3,
				RetryDelay:  100 * time.Millisecond,
			},
		},
		ResultCache: ResultCacheConfig{
			Enabled:        true,
			LowerThreshold: 1000,
			UpperThreshold: 1000000,
			MaxKeys:        4,
			MaxMisses:      3,
		},
		SlotPool: SlotPoolConfig{
			Slots:    10,
			TupleDim: 3,
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:   false,
				Port:      9090,
				Path:      "/metrics",
				Namespace: "arraycache",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, err, "failed to read config file")
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigLoad, err, "failed to parse config file")
	}

	return nil
}

// LoadFromEnv loads configuration from ARRAYCACHE_* environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("ARRAYCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("ARRAYCACHE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("ARRAYCACHE_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}

	// Cache settings
	if val := os.Getenv("ARRAYCACHE_MEMORY_BUDGET_FRACTION"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return envError("ARRAYCACHE_MEMORY_BUDGET_FRACTION", err)
		}
		c.Cache.MemoryBudgetFraction = f
	}
	if val := os.Getenv("ARRAYCACHE_MAX_MEMORY"); val != "" {
		c.Cache.MaxMemory = val
	}
	if val := os.Getenv("ARRAYCACHE_CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}
	if val := os.Getenv("ARRAYCACHE_PRESSURE_INTERVAL"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return envError("ARRAYCACHE_PRESSURE_INTERVAL", err)
		}
		c.Cache.PressureInterval = d
	}
	if val := os.Getenv("ARRAYCACHE_COMPRESSION"); val != "" {
		c.Cache.Compression = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ARRAYCACHE_SPILL_BACKEND"); val != "" {
		c.Cache.SpillBackend = strings.ToLower(val)
	}
	if val := os.Getenv("ARRAYCACHE_S3_BUCKET"); val != "" {
		c.Cache.S3.Bucket = val
	}
	if val := os.Getenv("ARRAYCACHE_S3_PREFIX"); val != "" {
		c.Cache.S3.Prefix = val
	}
	if val := os.Getenv("ARRAYCACHE_S3_REGION"); val != "" {
		c.Cache.S3.Region = val
	}
	if val := os.Getenv("ARRAYCACHE_S3_ENDPOINT"); val != "" {
		c.Cache.S3.Endpoint = val
	}

	// Result cache
	if val := os.Getenv("ARRAYCACHE_RESULT_CACHE_ENABLED"); val != "" {
		c.ResultCache.Enabled = strings.ToLower(val) == "true"
	}

	// Slot pool
	if val := os.Getenv("ARRAYCACHE_SLOT_POOL_SLOTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("ARRAYCACHE_SLOT_POOL_SLOTS", err)
		}
		c.SlotPool.Slots = n
	}

	// Monitoring
	if val := os.Getenv("ARRAYCACHE_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("ARRAYCACHE_METRICS_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return envError("ARRAYCACHE_METRICS_PORT", err)
		}
		c.Monitoring.Metrics.Port = port
	}

	return nil
}

func envError(name string, err error) error {
	return errors.Wrap(errors.ErrCodeConfigLoad, err, "invalid "+name).WithContext("variable", name)
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, err, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, err, "failed to create config directory")
	}

	if err := atomic.WriteFile(filename, bytes.NewReader(data)); err != nil {
		return errors.Wrap(errors.ErrCodeConfigSave, err, "failed to write config file")
	}

	return nil
}

// MaxMemoryBytes parses cache.max_memory. Zero means detect at runtime.
func (c *Configuration) MaxMemoryBytes() (int64, error) {
	if strings.TrimSpace(c.Cache.MaxMemory) == "" {
		return 0, nil
	}
	n, err := utils.ParseBytes(c.Cache.MaxMemory)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid max_memory")
	}
	return n, nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if f := c.Cache.MemoryBudgetFraction; f <= 0 || f > 1 {
		return invalid("memory_budget_fraction must be in (0, 1], got %g", f)
	}

	if n, err := c.MaxMemoryBytes(); err != nil {
		return err
	} else if c.Cache.MaxMemory != "" && n <= 0 {
		return invalid("max_memory must be greater than 0")
	}

	if c.Cache.PressureInterval <= 0 {
		return invalid("pressure_interval must be greater than 0")
	}

	switch c.Cache.SpillBackend {
	case BackendFile:
		if c.Cache.Directory == "" {
			return invalid("cache directory must not be empty")
		}
	case BackendS3:
		if c.Cache.S3.Bucket == "" {
			return invalid("s3 bucket is required for the s3 spill backend")
		}
		if c.Cache.S3.MaxAttempts <= 0 {
			return invalid("s3 max_attempts must be greater than 0")
		}
		if c.Cache.S3.RetryDelay < 0 {
			return invalid("s3 retry_delay must not be negative")
		}
	default:
		return invalid("invalid spill_backend: %s (must be one of: %s, %s)",
			c.Cache.SpillBackend, BackendFile, BackendS3)
	}

	rc := c.ResultCache
	if rc.LowerThreshold < 0 {
		return invalid("lower_threshold must not be negative")
	}
	if rc.UpperThreshold <= rc.LowerThreshold {
		return invalid("upper_threshold must be greater than lower_threshold")
	}
	if rc.MaxKeys <= 0 {
		return invalid("max_keys must be greater than 0")
	}
	if rc.MaxMisses <= 0 {
		return invalid("max_misses must be greater than 0")
	}

	if c.SlotPool.Slots <= 0 {
		return invalid("slots must be greater than 0")
	}
	if c.SlotPool.TupleDim <= 0 {
		return invalid("tuple_dim must be greater than 0")
	}

	if m := c.Monitoring.Metrics; m.Enabled && (m.Port <= 0 || m.Port > 65535) {
		return invalid("invalid metrics port: %d", m.Port)
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	switch c.Global.LogFormat {
	case "", utils.FormatText, utils.FormatJSON:
	default:
		return invalid("invalid log_format: %s", c.Global.LogFormat)
	}

	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.New(errors.ErrCodeInvalidConfig, fmt.Sprintf(format, args...)).WithComponent("config")
}
