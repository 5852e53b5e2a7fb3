// Package embedding implements the text→vector service (C1) and its
// two-tier cache (C2): a batched, cached, fallback-safe path from raw text
// to a fixed-dimension unit-norm vector. It is grounded on the teacher's
// internal/embeddings/{service.go,cache.go,chunking.go} (HTTP provider
// shape, LRU+Redis cache, overlapping token-window chunking) generalized to a pluggable
// Provider/Tokenizer pair per the memory engine's three-provider model
// (local ONNX, remote HTTP, deterministic fallback).
package embedding

import "time"

// Pooling selects how per-token hidden states are combined into one vector.
type Pooling string

const (
	PoolingMean      Pooling = "mean"
	PoolingCLS       Pooling = "cls"
	PoolingLastToken Pooling = "last_token"
)

// Config enumerates the embedding service's configuration surface (spec
// §4.1): model identity, tokenization limits, pooling policy, batching, and
// cache sizing.
type Config struct {
	ModelID        string
	ModelPath      string // local ONNX model directory, for the hugot provider
	BaseURL        string // remote embedding endpoint, for the http provider
	Dimension      int    // D; fixed per deployment
	MaxLength      int    // max tokens per input
	Pooling        Pooling
	BatchSize      int
	UseAccelerator bool          // caller's capability flag; nothing in this package reads it, so no device selection or benchmarking takes place
	Timeout        time.Duration // defaults to 5s; no provider in this package applies it

	CacheBytes   int64 // L1 LRU byte budget
	CacheEntries int   // L1 LRU entry budget
	CacheTTL     time.Duration
	RedisAddr    string // non-empty enables the L2 Redis cache

	Chunking ChunkingConfig
}

func (c Config) withDefaults() Config {
	if c.Dimension == 0 {
		c.Dimension = 1024
	}
	if c.MaxLength == 0 {
		c.MaxLength = 512
	}
	if c.Pooling == "" {
		c.Pooling = PoolingMean
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.CacheEntries == 0 {
		c.CacheEntries = 4096
	}
	if c.CacheBytes == 0 {
		c.CacheBytes = 64 << 20 // 64MB
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = time.Hour
	}
	return c
}

// Stats reports cumulative service behavior for health/metrics (C12).
type Stats struct {
	Hits, Misses   int64
	Bytes          int64
	Entries        int
	FallbackActive bool
	ActiveProvider string
}
