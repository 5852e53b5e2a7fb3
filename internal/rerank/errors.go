package rerank

import "errors"

// Error kinds for the reranker (spec.md §4.7): distinguished so the circuit
// breaker and caller can tell a model problem from a shape problem.
var (
	ErrModelLoadFailed = errors.New("rerank: model load failed")
	ErrInferenceFailed = errors.New("rerank: inference failed")
	ErrBatchMismatch   = errors.New("rerank: score count does not match document count")
	ErrUnavailable     = errors.New("rerank: reranker unavailable, caller should fall back to similarity-only ranking")
)
