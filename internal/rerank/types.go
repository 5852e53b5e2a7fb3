// Package rerank implements the Reranker (C8): an optional cross-encoder
// scoring pass over (query, document) pairs invoked by the Search Pipeline
// on its top-N candidates. It is grounded on internal/embedding's
// hugot/http provider split and circuit-breaker wiring, retargeted from
// "text -> vector" to "(query, document) -> relevance scalar".
package rerank

import "time"

// Config enumerates the reranker's configuration surface (spec.md §4.7).
type Config struct {
	ModelID   string
	ModelPath string // local ONNX cross-encoder directory, for the hugot provider
	BaseURL   string // remote rerank endpoint, for the http provider
	MaxLength int    // max tokens per (query, document) pair
	BatchSize int
	Timeout   time.Duration // defaults to 5s; no provider in this package applies it

	FailureThreshold uint32        // consecutive failures before the circuit opens
	RecoveryTimeout  time.Duration // open -> half-open delay
}

func (c Config) withDefaults() Config {
	if c.MaxLength == 0 {
		c.MaxLength = 512
	}
	if c.BatchSize == 0 {
		c.BatchSize = 16
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	return c
}
