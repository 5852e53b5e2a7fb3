// Package ratecontrol resolves retry/backoff policy per outbound dependency
// (embedding provider, reranker, index snapshot storage). It replaces the
// teacher's LLM-provider RPM/TPM rate-limit table (internal/ratecontrol) with
// a dependency-keyed exponential-backoff table, since the memory/
// orchestration core has no per-token-cost provider to throttle, only a
// handful of HTTP/Redis dependencies to retry politely (DESIGN.md C11).
package ratecontrol

import (
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	Retry struct {
		Default   policy            `yaml:"default"`
		Overrides map[string]policy `yaml:"dependency_overrides"`
	} `yaml:"retry"`
}

type policy struct {
	MaxRetries     int     `yaml:"max_retries"`
	InitialBackoff int     `yaml:"initial_backoff_ms"`
	MaxBackoff     int     `yaml:"max_backoff_ms"`
	Multiplier     float64 `yaml:"multiplier"`
}

// Policy is the resolved retry/backoff configuration for one dependency.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

var (
	mu          sync.RWMutex
	loaded      *config
	initialized bool
)

var defaultPaths = []string{
	os.Getenv("RATECONTROL_CONFIG_PATH"),
	"/app/config/ratecontrol.yaml",
	"./config/ratecontrol.yaml",
	"../../config/ratecontrol.yaml",
	"../../../config/ratecontrol.yaml",
}

func loadLocked() {
	var cfg config
	for _, p := range defaultPaths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var tmp config
		if err := yaml.Unmarshal(data, &tmp); err != nil {
			log.Printf("WARNING: failed to unmarshal ratecontrol config from %s: %v", p, err)
			continue
		}
		cfg = tmp
		log.Printf("Loaded retry/backoff configuration from %s", p)
		break
	}
	if cfg.Retry.Default == (policy{}) && len(cfg.Retry.Overrides) == 0 {
		if path, ok := findUpConfig(); ok {
			if data, err := os.ReadFile(path); err == nil {
				var tmp config
				if err := yaml.Unmarshal(data, &tmp); err == nil {
					cfg = tmp
					log.Printf("Loaded retry/backoff configuration from %s", path)
				}
			}
		}
	}
	loaded = &cfg
	initialized = true
}

func findUpConfig() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for i := 0; i < 6; i++ {
		cand := filepath.Join(wd, "config", "ratecontrol.yaml")
		if _, err := os.Stat(cand); err == nil {
			return cand, true
		}
		wd = filepath.Dir(wd)
	}
	return "", false
}

func get() *config {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if !initialized {
		loadLocked()
	}
	return loaded
}

// builtInDefaults covers the dependencies the core talks to even when no
// ratecontrol.yaml is present: embedding provider, reranker, and the
// index/store's remote snapshot target (when configured).
var builtInDefaults = map[string]Policy{
	"embedding": {MaxRetries: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 5 * time.Second, Multiplier: 2.0},
	"rerank":    {MaxRetries: 2, InitialBackoff: 150 * time.Millisecond, MaxBackoff: 5 * time.Second, Multiplier: 2.0},
	"redis":     {MaxRetries: 3, InitialBackoff: 50 * time.Millisecond, MaxBackoff: 2 * time.Second, Multiplier: 2.0},
	"snapshot":  {MaxRetries: 5, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 10 * time.Second, Multiplier: 2.0},
}

var fallbackDefault = Policy{MaxRetries: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 5 * time.Second, Multiplier: 2.0}

// PolicyFor resolves the retry policy for a named dependency: config-file
// override, else the config file's default policy, else a built-in default
// for known dependencies, else the package-wide fallback.
func PolicyFor(dependency string) Policy {
	key := strings.ToLower(strings.TrimSpace(dependency))
	cfg := get()
	if cfg != nil {
		if override, ok := cfg.Retry.Overrides[key]; ok {
			return toPolicy(override)
		}
		if cfg.Retry.Default != (policy{}) {
			return toPolicy(cfg.Retry.Default)
		}
	}
	if p, ok := builtInDefaults[key]; ok {
		return p
	}
	return fallbackDefault
}

func toPolicy(p policy) Policy {
	out := Policy{
		MaxRetries:     p.MaxRetries,
		InitialBackoff: time.Duration(p.InitialBackoff) * time.Millisecond,
		MaxBackoff:     time.Duration(p.MaxBackoff) * time.Millisecond,
		Multiplier:     p.Multiplier,
	}
	if out.Multiplier <= 0 {
		out.Multiplier = 2.0
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 5 * time.Second
	}
	return out
}

// BackoffForAttempt returns the delay before retry attempt n (1-indexed),
// capped at p.MaxBackoff.
func (p Policy) BackoffForAttempt(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	return time.Duration(delay)
}

// Reload forces the next PolicyFor call to re-read the config file,
// picking up changes without a process restart.
func Reload() {
	mu.Lock()
	defer mu.Unlock()
	initialized = false
	loadLocked()
}
