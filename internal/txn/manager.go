package txn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/index"
	"github.com/opencortex/memex/internal/record"
	"github.com/opencortex/memex/internal/store"
)

// TxID identifies one in-flight transaction.
type TxID = record.ID

// Backend is the per-tier pair of backing stores a Manager operates on.
type Backend struct {
	Store *store.Store
	Index *index.Index
}

type txState int

const (
	stateActive txState = iota
	stateCommitted
	stateRolledBack
)

// compensation is one entry in a transaction's undo journal: applying it
// reverses the effect of the op that produced it.
type compensation func() error

type transaction struct {
	id            TxID
	state         txState
	compensations []compensation
	createdAt     time.Time
}

// Manager implements the Transaction Manager (C5): begin/execute/commit/
// rollback over a set of per-tier Backends, with a janitor that force-rolls
// back transactions left open past a timeout.
type Manager struct {
	mu       sync.Mutex
	backends map[record.Tier]*Backend
	txs      map[TxID]*transaction
	timeout  time.Duration
	logger   *zap.Logger

	janitorInterval time.Duration
	stopCh          chan struct{}
	started         bool
}

// NewManager builds a Manager over the given per-tier backends. timeout is
// how long a transaction may remain open before the janitor force-rolls it
// back; zero disables the timeout (but not the janitor loop itself).
func NewManager(backends map[record.Tier]*Backend, timeout time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		backends:        backends,
		txs:             make(map[TxID]*transaction),
		timeout:         timeout,
		logger:          logger,
		janitorInterval: 10 * time.Second,
		stopCh:          make(chan struct{}),
	}
}

// Start launches the background janitor loop. Safe to call once.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true
	go m.janitorLoop()
}

// Stop halts the janitor loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	close(m.stopCh)
	m.started = false
}

func (m *Manager) janitorLoop() {
	ticker := time.NewTicker(m.janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweepStale()
		}
	}
}

func (m *Manager) sweepStale() {
	if m.timeout <= 0 {
		return
	}
	m.mu.Lock()
	var stale []TxID
	now := time.Now()
	for id, tx := range m.txs {
		if tx.state == stateActive && now.Sub(tx.createdAt) > m.timeout {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.logger.Warn("txn: force-rolling back stale transaction", zap.String("tx_id", id.String()))
		if err := m.Rollback(id); err != nil {
			m.logger.Error("txn: janitor rollback failed", zap.String("tx_id", id.String()), zap.Error(err))
		}
	}
}

// Begin opens a new transaction and returns its id.
func (m *Manager) Begin() TxID {
	id := record.NewID()
	m.mu.Lock()
	m.txs[id] = &transaction{id: id, state: stateActive, createdAt: time.Now()}
	m.mu.Unlock()
	return id
}

func (m *Manager) activeTx(id TxID) (*transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	if !ok || tx.state != stateActive {
		return nil, ErrTransactionInactive
	}
	return tx, nil
}

func (m *Manager) backend(tier record.Tier) (*Backend, error) {
	b, ok := m.backends[tier]
	if !ok || b == nil {
		return nil, ErrUnknownTier
	}
	return b, nil
}

// Execute applies op within the named transaction, recording a
// compensating action so Rollback can undo it later. On failure, nothing
// from this call is left applied (any partially-applied sub-steps of a
// BatchInsert are unwound before the error returns).
func (m *Manager) Execute(id TxID, op Op) error {
	tx, err := m.activeTx(id)
	if err != nil {
		return err
	}

	var comp compensation
	switch op.Kind {
	case OpInsert:
		comp, err = m.execInsert(op.Tier, op.Record)
	case OpUpdate:
		comp, err = m.execUpdate(op.Tier, op.Record)
	case OpDelete:
		comp, err = m.execDelete(op.Tier, op.ID)
	case OpBatchInsert:
		comp, err = m.execBatchInsert(op.Tier, op.Records)
	case OpPromote:
		comp, err = m.execPromote(op.ID, op.FromTier, op.ToTier)
	default:
		return ErrUnknownOpKind
	}
	if err != nil {
		return err
	}

	m.mu.Lock()
	tx.compensations = append(tx.compensations, comp)
	m.mu.Unlock()
	return nil
}

func (m *Manager) execInsert(tier record.Tier, r *record.Record) (compensation, error) {
	b, err := m.backend(tier)
	if err != nil {
		return nil, err
	}
	if err := b.Store.Put(r); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return nil, ErrConflictingOp
		}
		return nil, err
	}
	if err := b.Index.Add(r.ID, r.Embedding); err != nil {
		_ = b.Store.Delete(r.ID)
		if errors.Is(err, index.ErrDuplicateID) {
			return nil, ErrConflictingOp
		}
		return nil, err
	}
	id := r.ID
	return func() error {
		_ = b.Index.Remove(id)
		return b.Store.Delete(id)
	}, nil
}

func (m *Manager) execUpdate(tier record.Tier, r *record.Record) (compensation, error) {
	b, err := m.backend(tier)
	if err != nil {
		return nil, err
	}
	old, err := b.Store.Get(r.ID)
	if err != nil {
		return nil, err
	}
	old = old.Clone()

	if err := b.Store.Update(r); err != nil {
		return nil, err
	}
	if err := b.Index.Update(r.ID, r.Embedding); err != nil {
		_ = b.Store.Update(old)
		return nil, err
	}
	return func() error {
		if err := b.Index.Update(old.ID, old.Embedding); err != nil {
			return err
		}
		return b.Store.Update(old)
	}, nil
}

func (m *Manager) execDelete(tier record.Tier, id record.ID) (compensation, error) {
	b, err := m.backend(tier)
	if err != nil {
		return nil, err
	}
	old, err := b.Store.Get(id)
	if err != nil {
		return nil, err
	}
	old = old.Clone()

	if err := b.Store.Delete(id); err != nil {
		return nil, err
	}
	if err := b.Index.Remove(id); err != nil && !errors.Is(err, index.ErrNotFound) {
		return nil, err
	}
	return func() error {
		if err := b.Store.Put(old); err != nil {
			return err
		}
		return b.Index.Add(old.ID, old.Embedding)
	}, nil
}

func (m *Manager) execBatchInsert(tier record.Tier, records []*record.Record) (compensation, error) {
	b, err := m.backend(tier)
	if err != nil {
		return nil, err
	}

	applied := make([]record.ID, 0, len(records))
	undo := func() {
		for i := len(applied) - 1; i >= 0; i-- {
			_ = b.Index.Remove(applied[i])
			_ = b.Store.Delete(applied[i])
		}
	}

	for _, r := range records {
		if err := b.Store.Put(r); err != nil {
			undo()
			if errors.Is(err, store.ErrDuplicateID) {
				return nil, ErrConflictingOp
			}
			return nil, err
		}
		if err := b.Index.Add(r.ID, r.Embedding); err != nil {
			_ = b.Store.Delete(r.ID)
			undo()
			if errors.Is(err, index.ErrDuplicateID) {
				return nil, ErrConflictingOp
			}
			return nil, err
		}
		applied = append(applied, r.ID)
	}

	ids := append([]record.ID(nil), applied...)
	return func() error {
		for i := len(ids) - 1; i >= 0; i-- {
			_ = b.Index.Remove(ids[i])
			if err := b.Store.Delete(ids[i]); err != nil {
				return err
			}
		}
		return nil
	}, nil
}

func (m *Manager) execPromote(id record.ID, fromTier, toTier record.Tier) (compensation, error) {
	from, err := m.backend(fromTier)
	if err != nil {
		return nil, err
	}
	to, err := m.backend(toTier)
	if err != nil {
		return nil, err
	}

	r, err := from.Store.Get(id)
	if err != nil {
		return nil, err
	}
	original := r.Clone()
	moved := r.Clone()
	moved.Tier = toTier

	if err := to.Store.Put(moved); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return nil, ErrConflictingOp
		}
		return nil, err
	}
	if err := to.Index.Add(moved.ID, moved.Embedding); err != nil {
		_ = to.Store.Delete(moved.ID)
		if errors.Is(err, index.ErrDuplicateID) {
			return nil, ErrConflictingOp
		}
		return nil, err
	}
	if err := from.Index.Remove(id); err != nil && !errors.Is(err, index.ErrNotFound) {
		_ = to.Index.Remove(moved.ID)
		_ = to.Store.Delete(moved.ID)
		return nil, err
	}
	if err := from.Store.Delete(id); err != nil {
		_ = from.Index.Add(original.ID, original.Embedding)
		_ = to.Index.Remove(moved.ID)
		_ = to.Store.Delete(moved.ID)
		return nil, err
	}

	return func() error {
		if err := from.Store.Put(original); err != nil {
			return err
		}
		if err := from.Index.Add(original.ID, original.Embedding); err != nil {
			return err
		}
		_ = to.Index.Remove(moved.ID)
		return to.Store.Delete(moved.ID)
	}, nil
}

// Commit finalizes the transaction: its compensating actions are
// discarded and the transaction is forgotten.
func (m *Manager) Commit(id TxID) error {
	m.mu.Lock()
	tx, ok := m.txs[id]
	if !ok || tx.state != stateActive {
		m.mu.Unlock()
		return ErrTransactionInactive
	}
	tx.state = stateCommitted
	delete(m.txs, id)
	m.mu.Unlock()
	return nil
}

// Rollback undoes every op applied so far within the transaction, in
// reverse order, and forgets it.
func (m *Manager) Rollback(id TxID) error {
	m.mu.Lock()
	tx, ok := m.txs[id]
	if !ok {
		m.mu.Unlock()
		return ErrTransactionInactive
	}
	if tx.state != stateActive {
		m.mu.Unlock()
		return nil
	}
	tx.state = stateRolledBack
	delete(m.txs, id)
	compensations := tx.compensations
	m.mu.Unlock()

	var firstErr error
	for i := len(compensations) - 1; i >= 0; i-- {
		if err := compensations[i](); err != nil {
			m.logger.Error("txn: compensation failed during rollback", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("%w: %v", ErrPartialFailureRolledBack, firstErr)
	}
	return nil
}
