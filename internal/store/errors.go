package store

import "errors"

// Error kinds from spec.md §4.2 Failures.
var (
	ErrNotFound     = errors.New("store: record not found")
	ErrDuplicateID  = errors.New("store: duplicate record id")
	ErrIO           = errors.New("store: io error")
	ErrCorruptEntry = ErrCorrupt
)

// QuarantineEntry records one corrupt row found during load or a later
// re-validation, kept for operator inspection rather than silently dropped
// (spec.md §4.2's "logged, not silently dropped").
type QuarantineEntry struct {
	Offset int64
	Reason string
}
