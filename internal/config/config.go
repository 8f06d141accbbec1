// Package config loads specsync's configuration the way the teacher's own
// internal/config does: a plain struct with yaml tags, a DefaultConfig
// factory, and a viper-backed Load that layers a config file and
// SPECSYNC_-prefixed environment variables over the defaults.
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// FileLockConfig configures pkg/filelock, per spec.md §6.
type FileLockConfig struct {
	LockTimeoutMs int `yaml:"lock_timeout_ms"`
	RetryDelayMs  int `yaml:"retry_delay_ms"`
	MaxRetries    int `yaml:"max_retries"`
}

func (c FileLockConfig) Timeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

func (c FileLockConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// AtomicStoreConfig configures pkg/atomicstore, per spec.md §6.
type AtomicStoreConfig struct {
	BackupEnabled      bool   `yaml:"backup_enabled"`
	MaxBackups         int    `yaml:"max_backups"`
	ChecksumValidation bool   `yaml:"checksum_validation"`
	TempSuffix         string `yaml:"temp_suffix"`
	LockSuffix         string `yaml:"lock_suffix"`
	BackupInfix        string `yaml:"backup_infix"`
}

// QueueConfig configures pkg/queue, per spec.md §6.
type QueueConfig struct {
	MaxQueueSize         int `yaml:"max_queue_size"`
	MaxBatchSize         int `yaml:"max_batch_size"`
	ProcessingIntervalMs int `yaml:"processing_interval_ms"`
}

func (c QueueConfig) ProcessingInterval() time.Duration {
	return time.Duration(c.ProcessingIntervalMs) * time.Millisecond
}

// RetryConfig configures pkg/retry, per spec.md §4.5.
type RetryConfig struct {
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

func (c RetryConfig) Base() time.Duration { return time.Duration(c.BaseDelayMs) * time.Millisecond }
func (c RetryConfig) Max() time.Duration  { return time.Duration(c.MaxDelayMs) * time.Millisecond }

// ConflictConfig configures pkg/conflict's windows and thresholds.
type ConflictConfig struct {
	DuplicateSimilarityThreshold  float64 `yaml:"duplicate_similarity_threshold"`
	ConcurrentModificationWindowS int     `yaml:"concurrent_modification_window_seconds"`
	OutdatedOperationWindowS      int     `yaml:"outdated_operation_window_seconds"`
	AutoResolveDelayMs            int     `yaml:"auto_resolve_delay_ms"`
}

func (c ConflictConfig) ConcurrentModificationWindow() time.Duration {
	return time.Duration(c.ConcurrentModificationWindowS) * time.Second
}

func (c ConflictConfig) OutdatedOperationWindow() time.Duration {
	return time.Duration(c.OutdatedOperationWindowS) * time.Second
}

func (c ConflictConfig) AutoResolveDelay() time.Duration {
	return time.Duration(c.AutoResolveDelayMs) * time.Millisecond
}

// LoggingConfig matches internal/logging.Config's yaml shape.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	ServiceName string `yaml:"service_name"`
}

// ObserverConfig configures pkg/observerapi's loopback HTTP surface.
type ObserverConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Config is the complete configuration for a specsyncd process.
type Config struct {
	Workspace string            `yaml:"workspace"`
	FileLock  FileLockConfig    `yaml:"file_lock"`
	Store     AtomicStoreConfig `yaml:"atomic_store"`
	Queue     QueueConfig       `yaml:"queue"`
	Retry     RetryConfig       `yaml:"retry"`
	Conflict  ConflictConfig    `yaml:"conflict"`
	Logging   LoggingConfig     `yaml:"logging"`
	Observer  ObserverConfig    `yaml:"observer"`
}

// DefaultConfig returns the defaults named throughout spec.md §6 / §4.5.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".",
		FileLock: FileLockConfig{
			LockTimeoutMs: 30000,
			RetryDelayMs:  1000,
			MaxRetries:    3,
		},
		Store: AtomicStoreConfig{
			BackupEnabled:      true,
			MaxBackups:         5,
			ChecksumValidation: true,
			TempSuffix:         ".tmp",
			LockSuffix:         ".lock",
			BackupInfix:        ".backup-",
		},
		Queue: QueueConfig{
			MaxQueueSize:         10000,
			MaxBatchSize:         50,
			ProcessingIntervalMs: 2000,
		},
		Retry: RetryConfig{
			BaseDelayMs: 1000,
			MaxDelayMs:  30000,
		},
		Conflict: ConflictConfig{
			DuplicateSimilarityThreshold:  0.8,
			ConcurrentModificationWindowS: 60,
			OutdatedOperationWindowS:      300,
			AutoResolveDelayMs:            100,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "console",
			ServiceName: "specsyncd",
		},
		Observer: ObserverConfig{
			Enabled: true,
			Listen:  "127.0.0.1:7777",
		},
	}
}

// Load layers a config file (if configFile is non-empty) and
// SPECSYNC_-prefixed environment variables over DefaultConfig, the same
// viper wiring as the teacher's cmd/node/main.go / internal/config.Load.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("specsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.specsync")
		v.AddConfigPath("/etc/specsync")
	}

	v.SetEnvPrefix("SPECSYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
