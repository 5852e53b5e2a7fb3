package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opencortex/memex/internal/record"
)

// Stats reports per-tier occupancy for health/metrics (C12).
type Stats struct {
	Count        int
	Bytes        int64
	Quarantined  int
	LastOptimize time.Time
}

// Store is one tier's durable Record Store (C3): an append-only file of
// entries, replayed into an in-memory index on open. put/update/delete all
// append a new entry; the latest entry per id wins on replay, and a
// deleted-flag entry tombstones a prior one.
type Store struct {
	mu   sync.RWMutex
	path string
	dim  int
	tier record.Tier

	f           *os.File
	writeOffset int64 // next append position; tracked explicitly since writes use WriteAt
	index       map[record.ID]*record.Record

	quarantine   []QuarantineEntry
	lastOptimize time.Time
	logger       *zap.Logger
}

// Open opens (or creates) the tier's record store file at path, replaying
// its entries into memory. dim is the fixed embedding dimension for this
// deployment; it is validated against the file header on reopen.
func Open(path string, dim int, tier record.Tier, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	s := &Store{
		path:   path,
		dim:    dim,
		tier:   tier,
		index:  make(map[record.ID]*record.Record),
		logger: logger,
	}

	existing, err := os.Stat(path)
	fresh := err != nil || existing.Size() == 0

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.f = f

	if fresh {
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
		s.writeOffset = fileHeaderSize
		return s, nil
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) writeHeader() error {
	h := encodeHeader(fileHeader{Magic: magic, Version: version, Dimension: uint16(s.dim), Tier: uint8(s.tier)})
	if _, err := s.f.WriteAt(h, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// load replays every entry in the file into the in-memory index. Entries
// that fail checksum validation are quarantined, not propagated, per
// spec.md §4.2's recovery semantics.
func (s *Store) load() error {
	buf := make([]byte, fileHeaderSize)
	if _, err := s.f.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	hdr, err := decodeHeader(buf)
	if err != nil {
		return err
	}
	if int(hdr.Dimension) != s.dim {
		return fmt.Errorf("store: file dimension %d does not match configured %d", hdr.Dimension, s.dim)
	}

	offset := int64(fileHeaderSize)
	for {
		entryBuf, n, err := readOneEntry(s.f, offset, s.dim)
		if err == io.EOF {
			break
		}
		if err != nil {
			s.quarantine = append(s.quarantine, QuarantineEntry{Offset: offset, Reason: err.Error()})
			s.logger.Warn("store: quarantining unreadable entry", zap.Int64("offset", offset), zap.Error(err))
			break // framing is unrecoverable past this point without a scan
		}

		rec, deleted, decErr := decodeEntry(entryBuf, s.dim)
		if decErr != nil {
			s.quarantine = append(s.quarantine, QuarantineEntry{Offset: offset, Reason: decErr.Error()})
			s.logger.Warn("store: quarantining corrupt entry", zap.Int64("offset", offset), zap.Error(decErr))
			offset += int64(n)
			continue
		}

		if deleted {
			delete(s.index, rec.ID)
		} else {
			s.index[rec.ID] = rec
		}
		offset += int64(n)
	}
	s.writeOffset = offset
	return nil
}

// readOneEntry reads the next length-framed entry starting at offset. Since
// entries are variable length, it reads the fixed prologue first to compute
// how many remaining bytes to pull (text length + D*4 + meta length is
// discoverable after two length fields), then reads the rest plus checksum.
func readOneEntry(f *os.File, offset int64, dim int) ([]byte, int, error) {
	// flags(1) + id(16) + text_len(4)
	head := make([]byte, 1+16+4)
	if _, err := f.ReadAt(head, offset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, io.EOF
		}
		return nil, 0, err
	}
	textLen := int(le32(head[17:21]))

	afterText := offset + int64(len(head)) + int64(textLen) + int64(dim*4)
	metaLenBuf := make([]byte, 4)
	if _, err := f.ReadAt(metaLenBuf, afterText); err != nil {
		return nil, 0, fmt.Errorf("truncated entry at offset %d: %w", offset, err)
	}
	metaLen := int(le32(metaLenBuf))

	total := int(afterText-offset) + 4 + metaLen + 8 + 8 + 4 + 4 + 8
	buf := make([]byte, total)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, 0, fmt.Errorf("truncated entry at offset %d: %w", offset, err)
	}
	return buf, total, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Put inserts a new record. Returns ErrDuplicateID if the id already exists
// in this tier's store.
func (s *Store) Put(r *record.Record) error {
	if err := record.ValidateText(r.Text); err != nil {
		return err
	}
	if err := record.ValidateEmbedding(r.Embedding, s.dim); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[r.ID]; exists {
		return ErrDuplicateID
	}
	if err := s.appendLocked(r, false); err != nil {
		return err
	}
	s.index[r.ID] = r.Clone()
	return nil
}

// PutBatch inserts multiple records, stopping at the first failure. It
// returns the number successfully inserted.
func (s *Store) PutBatch(records []*record.Record) (int, error) {
	count := 0
	for _, r := range records {
		if err := s.Put(r); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Get returns a copy of the record with id, or ErrNotFound.
func (s *Store) Get(id record.ID) (*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// List returns up to limit records in unspecified order (spec.md §4.2: "in
// undefined order unless paired with the index"). limit <= 0 means no cap.
func (s *Store) List(limit int) []*record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*record.Record, 0, len(s.index))
	for _, r := range s.index {
		out = append(out, r.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Filter returns every record matching f.
func (s *Store) Filter(f record.Filter) []*record.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	var out []*record.Record
	for _, r := range s.index {
		if f.Match(r, now) {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Update overwrites an existing record's content in place (new entry
// appended, index updated). Returns ErrNotFound if the id isn't present.
func (s *Store) Update(r *record.Record) error {
	if err := record.ValidateText(r.Text); err != nil {
		return err
	}
	if err := record.ValidateEmbedding(r.Embedding, s.dim); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[r.ID]; !exists {
		return ErrNotFound
	}
	if err := s.appendLocked(r, false); err != nil {
		return err
	}
	s.index[r.ID] = r.Clone()
	return nil
}

// Delete tombstones id: appends a deleted-flag entry and removes it from
// the in-memory index. It is idempotent-safe against ErrNotFound.
func (s *Store) Delete(id record.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	tomb := existing.Clone()
	if err := s.appendLocked(tomb, true); err != nil {
		return err
	}
	delete(s.index, id)
	return nil
}

// RecordAccess updates last_access_at/access_count/score for an existing
// record without changing its content otherwise (spec.md §3's lifecycle
// rule (a): access recording).
func (s *Store) RecordAccess(id record.ID, at time.Time, scoreDelta float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	updated := r.Clone()
	updated.LastAccessAt = at
	updated.AccessCount++
	updated.Score += scoreDelta
	if updated.Score > 1 {
		updated.Score = 1
	}
	if err := s.appendLocked(updated, false); err != nil {
		return err
	}
	s.index[id] = updated
	return nil
}

func (s *Store) appendLocked(r *record.Record, deleted bool) error {
	buf := encodeEntry(r, deleted)
	if _, err := s.f.WriteAt(buf, s.writeOffset); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.writeOffset += int64(len(buf))
	return nil
}

// Stats reports current occupancy.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, _ := s.f.Stat()
	var size int64
	if info != nil {
		size = info.Size()
	}
	return Stats{
		Count:        len(s.index),
		Bytes:        size,
		Quarantined:  len(s.quarantine),
		LastOptimize: s.lastOptimize,
	}
}

// Quarantined returns the corrupt entries found since the store was opened.
func (s *Store) Quarantined() []QuarantineEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]QuarantineEntry, len(s.quarantine))
	copy(out, s.quarantine)
	return out
}

// Optimize compacts the file: it rewrites a fresh file containing exactly
// one live entry per current index record, dropping superseded versions and
// tombstones, then swaps it in. This is the only place file size shrinks.
func (s *Store) Optimize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmpPath := s.path + ".compact"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	h := encodeHeader(fileHeader{Magic: magic, Version: version, Dimension: uint16(s.dim), Tier: uint8(s.tier)})
	if _, err := tmp.Write(h); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	newOffset := int64(fileHeaderSize)
	for _, r := range s.index {
		buf := encodeEntry(r, false)
		if _, err := tmp.Write(buf); err != nil {
			tmp.Close()
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		newOffset += int64(len(buf))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	tmp.Close()

	if err := s.f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.f = f
	s.writeOffset = newOffset
	s.quarantine = nil
	s.lastOptimize = time.Now()
	return nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
