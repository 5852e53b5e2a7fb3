package txn

import "errors"

// Failure kinds from spec.md §4.4.
var (
	ErrTransactionInactive      = errors.New("txn: transaction is not active")
	ErrConflictingOp            = errors.New("txn: operation conflicts with existing state")
	ErrPartialFailureRolledBack = errors.New("txn: operation failed partway through and was rolled back")
	ErrUnknownTier              = errors.New("txn: unknown tier")
	ErrUnknownOpKind            = errors.New("txn: unknown op kind")
)
