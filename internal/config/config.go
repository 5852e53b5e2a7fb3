// Package config resolves the engine's runtime configuration from the
// MAGRAY_* environment variables enumerated in spec.md §6. Full config-file
// loading (arbitrary paths, hot reload) is the CLI's job and out of scope
// here; this package only binds environment variables (and, optionally, a
// single YAML overlay read once at startup) into a typed Config.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// PerformanceMode selects default flush/compression/prune intervals
// (spec.md §6, MAGRAY_PERFORMANCE_MODE).
type PerformanceMode string

const (
	ModeHighPerformance PerformanceMode = "high_performance"
	ModeBalanced        PerformanceMode = "balanced"
	ModeHighReliability PerformanceMode = "high_reliability"
	ModeCustom          PerformanceMode = "custom"
)

// FlushIntervals holds the per-subsystem flush cadences the performance mode
// picks defaults for, each overridable via MAGRAY_*_FLUSH_MS.
type FlushIntervals struct {
	Vector    time.Duration
	Cache     time.Duration
	LRU       time.Duration
	Promotion time.Duration
	Migration time.Duration
}

func defaultFlushIntervals(mode PerformanceMode) FlushIntervals {
	switch mode {
	case ModeHighPerformance:
		return FlushIntervals{
			Vector:    2 * time.Second,
			Cache:     1 * time.Second,
			LRU:       1 * time.Second,
			Promotion: 30 * time.Second,
			Migration: 30 * time.Second,
		}
	case ModeHighReliability:
		return FlushIntervals{
			Vector:    30 * time.Second,
			Cache:     15 * time.Second,
			LRU:       15 * time.Second,
			Promotion: 10 * time.Minute,
			Migration: 10 * time.Minute,
		}
	default: // balanced and custom start from balanced defaults
		return FlushIntervals{
			Vector:    10 * time.Second,
			Cache:     5 * time.Second,
			LRU:       5 * time.Second,
			Promotion: 5 * time.Minute,
			Migration: 5 * time.Minute,
		}
	}
}

// Compression controls the record store's on-disk compression.
type Compression struct {
	Enabled bool
	Factor  int // 1..19
}

// Config is the fully resolved engine configuration.
type Config struct {
	PerformanceMode PerformanceMode
	Flush           FlushIntervals
	Compression     Compression
	DisableRerank   bool
	ForceNoAccel    bool // MAGRAY_FORCE_NO_ORT
	ModelsDir       string
	AcceleratorLib  string
	DataDir         string
}

const (
	envPerformanceMode  = "MAGRAY_PERFORMANCE_MODE"
	envVectorFlushMs    = "MAGRAY_VECTOR_FLUSH_MS"
	envCacheFlushMs     = "MAGRAY_CACHE_FLUSH_MS"
	envLRUFlushMs       = "MAGRAY_LRU_FLUSH_MS"
	envPromotionFlushMs = "MAGRAY_PROMOTION_FLUSH_MS"
	envMigrationFlushMs = "MAGRAY_MIGRATION_FLUSH_MS"
	envCompression      = "MAGRAY_COMPRESSION"
	envCompressionLevel = "MAGRAY_COMPRESSION_FACTOR"
	envDisableRerank    = "MAGRAY_DISABLE_RERANK"
	envForceNoOrt       = "MAGRAY_FORCE_NO_ORT"
	envModelsDir        = "MAGRAY_MODELS_DIR"
	envAcceleratorLib   = "MAGRAY_ACCELERATOR_LIB"
	envDataDir          = "MAGRAY_DATA_DIR"
)

// Load resolves Config purely from the process environment, applying the
// performance-mode defaults first and then any explicit per-field override.
// An optional single-shot YAML overlay is read via viper when MAGRAY_CONFIG
// points at a file; this is a convenience for local development, not a
// general hot-reloadable config-file loader.
func Load() Config {
	mode := PerformanceMode(os.Getenv(envPerformanceMode))
	switch mode {
	case ModeHighPerformance, ModeBalanced, ModeHighReliability, ModeCustom:
	default:
		mode = ModeBalanced
	}

	cfg := Config{
		PerformanceMode: mode,
		Flush:           defaultFlushIntervals(mode),
		Compression:     Compression{Enabled: true, Factor: 3},
		ModelsDir:       envOr(envModelsDir, "./models"),
		AcceleratorLib:  os.Getenv(envAcceleratorLib),
		DataDir:         envOr(envDataDir, "./data"),
	}

	if v := os.Getenv("MAGRAY_CONFIG"); v != "" {
		applyYAMLOverlay(&cfg, v)
	}

	if d, ok := envDurationMs(envVectorFlushMs); ok {
		cfg.Flush.Vector = d
	}
	if d, ok := envDurationMs(envCacheFlushMs); ok {
		cfg.Flush.Cache = d
	}
	if d, ok := envDurationMs(envLRUFlushMs); ok {
		cfg.Flush.LRU = d
	}
	if d, ok := envDurationMs(envPromotionFlushMs); ok {
		cfg.Flush.Promotion = d
	}
	if d, ok := envDurationMs(envMigrationFlushMs); ok {
		cfg.Flush.Migration = d
	}
	if v := os.Getenv(envCompression); v != "" {
		cfg.Compression.Enabled = ParseBool(v)
	}
	if v := os.Getenv(envCompressionLevel); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 19 {
			cfg.Compression.Factor = n
		}
	}
	cfg.DisableRerank = ParseBool(os.Getenv(envDisableRerank))
	cfg.ForceNoAccel = ParseBool(os.Getenv(envForceNoOrt))

	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationMs(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}

// applyYAMLOverlay best-effort merges a handful of top-level keys from a
// YAML file into cfg. Errors are ignored: this is a convenience path, not a
// required one, since the authoritative config surface is environment
// variables (spec.md §6).
func applyYAMLOverlay(cfg *Config, path string) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return
	}
	if s := v.GetString("performance_mode"); s != "" {
		cfg.PerformanceMode = PerformanceMode(s)
		cfg.Flush = defaultFlushIntervals(cfg.PerformanceMode)
	}
	if v.IsSet("models_dir") {
		cfg.ModelsDir = v.GetString("models_dir")
	}
	if v.IsSet("data_dir") {
		cfg.DataDir = v.GetString("data_dir")
	}
	if v.IsSet("compression.enabled") {
		cfg.Compression.Enabled = v.GetBool("compression.enabled")
	}
	if v.IsSet("compression.factor") {
		cfg.Compression.Factor = v.GetInt("compression.factor")
	}
}

// ParseBool converts common string representations to bool, matching the
// teacher's liberal env-var boolean parsing.
func ParseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off", "":
		return false
	default:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n != 0
		}
	}
	return false
}
