package embedding

import "errors"

// Error kinds for the embedding service (spec.md §4.1, §7): the four ways
// embed/embed_batch can fail, distinguished so callers can decide whether to
// retry, fall back, or surface the error to the user.
var (
	ErrModelLoadFailed    = errors.New("embedding: model load failed")
	ErrTokenizationFailed = errors.New("embedding: tokenization failed")
	ErrInferenceFailed    = errors.New("embedding: inference failed")
	ErrDimensionMismatch  = errors.New("embedding: dimension mismatch")
)
