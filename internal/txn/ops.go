// Package txn implements the Transaction Manager (C5): atomic multi-op
// batches spanning the Record Store and HNSW Index. It is grounded on the
// teacher's internal/degradation.Manager ticker+stop-channel idiom for its
// background janitor loop, and on the database/sql.Tx-style "scoped handle
// rolls back on Close unless committed" convention for Handle.
package txn

import "github.com/opencortex/memex/internal/record"

// OpKind names one of the operations a transaction may execute, per
// spec.md §4.4's op ∈ {Insert, Update, Delete, BatchInsert, Promote}.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
	OpBatchInsert
	OpPromote
)

// Op is a single step within a transaction. Which fields are read depends
// on Kind:
//   - Insert/Update: Tier, Record
//   - Delete: Tier, ID
//   - BatchInsert: Tier, Records
//   - Promote: FromTier, ToTier, ID
type Op struct {
	Kind    OpKind
	Tier    record.Tier
	Record  *record.Record
	Records []*record.Record
	ID      record.ID

	FromTier record.Tier
	ToTier   record.Tier
}

// Insert builds an Op that inserts r into tier.
func Insert(tier record.Tier, r *record.Record) Op {
	return Op{Kind: OpInsert, Tier: tier, Record: r}
}

// Update builds an Op that overwrites the stored content for r.ID.
func Update(tier record.Tier, r *record.Record) Op {
	return Op{Kind: OpUpdate, Tier: tier, Record: r}
}

// Delete builds an Op that removes id from tier.
func Delete(tier record.Tier, id record.ID) Op {
	return Op{Kind: OpDelete, Tier: tier, ID: id}
}

// BatchInsert builds an Op that inserts many records into tier as one
// atomic step: if any record fails, the ones already inserted by this Op
// are undone before the error is returned (spec.md's testable property
// "no reader observes a batch insert partially applied").
func BatchInsert(tier record.Tier, records []*record.Record) Op {
	return Op{Kind: OpBatchInsert, Tier: tier, Records: records}
}

// Promote builds an Op that moves id from FromTier to ToTier (also used,
// under a lower-to-higher-score mirror policy, for demotion — the Manager
// does not distinguish direction).
func Promote(id record.ID, fromTier, toTier record.Tier) Op {
	return Op{Kind: OpPromote, ID: id, FromTier: fromTier, ToTier: toTier}
}
