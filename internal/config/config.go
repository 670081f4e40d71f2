// Package config loads engine configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the sync engine.
type Config struct {
	DataDir string `mapstructure:"dataDir"`
	// AssetsDir is the root of the device photo library.
	AssetsDir string        `mapstructure:"assetsDir"`
	Logger    LoggerConfig  `mapstructure:"logger"`
	Sync      SyncConfig    `mapstructure:"sync"`
	Cache     CacheConfig   `mapstructure:"cache"`
	Metrics   MetricsConfig `mapstructure:"metrics"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

// SyncConfig controls scheduling and batching.
type SyncConfig struct {
	// Workers bounds the image load/hash pool.
	Workers int `mapstructure:"workers"`
	// BatchLimit caps photos per metadata/share/unshare/delete batch.
	BatchLimit int `mapstructure:"batchLimit"`
	// LoadCooldown is the pause enforced after the last interactive
	// photo load before a network operation may start.
	LoadCooldown time.Duration `mapstructure:"loadCooldown"`
	// ThumbnailWait bounds how long a UI consumer blocks on an
	// in-flight thumbnail before proceeding with a partial result.
	ThumbnailWait time.Duration `mapstructure:"thumbnailWait"`
	// WifiOnlyOriginals keeps original-size transfers and medium
	// downloads off metered connections.
	WifiOnlyOriginals bool `mapstructure:"wifiOnlyOriginals"`
	// ResetErrorsEpoch clears all error labels app-wide when bumped
	// past the stored sentinel.
	ResetErrorsEpoch int64 `mapstructure:"resetErrorsEpoch"`
}

// CacheConfig controls the in-memory thumbnail cache.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	SizeMB  int  `mapstructure:"sizeMB"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		DataDir:   "data",
		AssetsDir: "assets",
		Logger:    LoggerConfig{Level: "info"},
		Sync: SyncConfig{
			Workers:           4,
			BatchLimit:        10,
			LoadCooldown:      2 * time.Second,
			ThumbnailWait:     5 * time.Millisecond,
			WifiOnlyOriginals: true,
		},
		Cache:   CacheConfig{Enabled: true, SizeMB: 32},
		Metrics: MetricsConfig{Enabled: false, Listen: ":9109"},
	}
}

// Load reads the config file at path, applying VF_* environment
// overrides on top and defaults underneath.
func Load(path string) (*Config, error) {
	v := viper.New()

	filename := filepath.Base(path)
	v.AddConfigPath(filepath.Dir(path))
	v.SetConfigName(strings.TrimSuffix(filename, filepath.Ext(filename)))
	v.SetConfigType("yaml")

	def := Default()
	v.SetDefault("dataDir", def.DataDir)
	v.SetDefault("assetsDir", def.AssetsDir)
	v.SetDefault("logger.level", def.Logger.Level)
	v.SetDefault("logger.console", def.Logger.Console)
	v.SetDefault("sync.workers", def.Sync.Workers)
	v.SetDefault("sync.batchLimit", def.Sync.BatchLimit)
	v.SetDefault("sync.loadCooldown", def.Sync.LoadCooldown)
	v.SetDefault("sync.thumbnailWait", def.Sync.ThumbnailWait)
	v.SetDefault("sync.wifiOnlyOriginals", def.Sync.WifiOnlyOriginals)
	v.SetDefault("sync.resetErrorsEpoch", def.Sync.ResetErrorsEpoch)
	v.SetDefault("cache.enabled", def.Cache.Enabled)
	v.SetDefault("cache.sizeMB", def.Cache.SizeMB)
	v.SetDefault("metrics.enabled", def.Metrics.Enabled)
	v.SetDefault("metrics.listen", def.Metrics.Listen)

	v.BindEnv("dataDir", "VF_DATA_DIR")
	v.BindEnv("assetsDir", "VF_ASSETS_DIR")
	v.BindEnv("logger.level", "VF_LOG_LEVEL")
	v.BindEnv("sync.workers", "VF_SYNC_WORKERS")
	v.BindEnv("sync.wifiOnlyOriginals", "VF_WIFI_ONLY_ORIGINALS")
	v.BindEnv("sync.resetErrorsEpoch", "VF_RESET_ERRORS_EPOCH")
	v.BindEnv("cache.enabled", "VF_CACHE_ENABLED")
	v.BindEnv("cache.sizeMB", "VF_CACHE_SIZE_MB")
	v.BindEnv("metrics.enabled", "VF_METRICS_ENABLED")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults plus env apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var conf Config
	if err := v.Unmarshal(&conf); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate rejects configs the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("dataDir must be set")
	}
	if c.AssetsDir == "" {
		return fmt.Errorf("assetsDir must be set")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be >= 1, got %d", c.Sync.Workers)
	}
	if c.Sync.BatchLimit < 1 {
		return fmt.Errorf("sync.batchLimit must be >= 1, got %d", c.Sync.BatchLimit)
	}
	if c.Sync.LoadCooldown < 0 || c.Sync.ThumbnailWait < 0 {
		return fmt.Errorf("sync durations must not be negative")
	}
	return nil
}
