package txn

// Handle is a scoped transaction guard, mirroring the database/sql.Tx
// convention: callers hold one from Begin, call Execute/Commit, and defer
// Close — if Commit was never reached, Close rolls the transaction back
// (spec.md §4.4: "guarded by a scoped handle that rolls back on drop if
// not committed").
type Handle struct {
	mgr  *Manager
	id   TxID
	done bool
}

// BeginHandle opens a transaction and returns a scoped Handle for it.
func (m *Manager) BeginHandle() *Handle {
	return &Handle{mgr: m, id: m.Begin()}
}

// ID returns the underlying transaction id.
func (h *Handle) ID() TxID { return h.id }

// Execute applies op within this transaction.
func (h *Handle) Execute(op Op) error {
	return h.mgr.Execute(h.id, op)
}

// Commit finalizes the transaction. After Commit, Close is a no-op.
func (h *Handle) Commit() error {
	err := h.mgr.Commit(h.id)
	if err == nil {
		h.done = true
	}
	return err
}

// Close rolls back the transaction if it was never committed. Safe to call
// more than once, and safe to defer unconditionally right after Begin.
func (h *Handle) Close() error {
	if h.done {
		return nil
	}
	h.done = true
	return h.mgr.Rollback(h.id)
}

// Run opens a transaction, invokes fn with its Handle, and commits on a
// nil return or rolls back otherwise — the common "do work, commit or
// undo" shape spec.md's S4 property exercises.
func (m *Manager) Run(fn func(h *Handle) error) error {
	h := m.BeginHandle()
	defer h.Close()

	if err := fn(h); err != nil {
		return err
	}
	return h.Commit()
}
