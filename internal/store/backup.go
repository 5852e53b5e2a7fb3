package store

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/opencortex/memex/internal/record"
)

// BackupMeta describes one backup/restore operation, returned per spec.md
// §4.2's `backup(path) → meta` / `restore(path) → meta` contract.
type BackupMeta struct {
	Tier      string    `json:"tier"`
	Dimension int       `json:"dimension"`
	Records   int       `json:"records"`
	Bytes     int64     `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

func manifestPath(archivePath string) string {
	return archivePath + ".manifest.json"
}

// Backup snapshots the store's current file plus a manifest to dir. It
// takes the lock for the duration of the copy so the source file can't be
// appended to mid-backup.
func (s *Store) Backup(dir string) (BackupMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return BackupMeta{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	archivePath := filepath.Join(dir, filepath.Base(s.path))

	if err := copyFile(s.path, archivePath); err != nil {
		return BackupMeta{}, err
	}

	info, _ := os.Stat(archivePath)
	var size int64
	if info != nil {
		size = info.Size()
	}
	meta := BackupMeta{
		Tier:      s.tier.String(),
		Dimension: s.dim,
		Records:   len(s.index),
		Bytes:     size,
		CreatedAt: time.Now(),
	}

	manifestBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return BackupMeta{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := os.WriteFile(manifestPath(archivePath), manifestBytes, 0o644); err != nil {
		return BackupMeta{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return meta, nil
}

// Restore atomically replaces the store's contents with the archive found
// in dir, then reloads the in-memory index from it.
func (s *Store) Restore(dir string) (BackupMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	archivePath := filepath.Join(dir, filepath.Base(s.path))
	manifestBytes, err := os.ReadFile(manifestPath(archivePath))
	if err != nil {
		return BackupMeta{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	var meta BackupMeta
	if err := json.Unmarshal(manifestBytes, &meta); err != nil {
		return BackupMeta{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if meta.Dimension != s.dim {
		return BackupMeta{}, fmt.Errorf("store: backup dimension %d does not match configured %d", meta.Dimension, s.dim)
	}

	tmpPath := s.path + ".restore"
	if err := copyFile(archivePath, tmpPath); err != nil {
		return BackupMeta{}, err
	}

	if err := s.f.Close(); err != nil {
		return BackupMeta{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return BackupMeta{}, fmt.Errorf("%w: %v", ErrIO, err)
	}

	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return BackupMeta{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	s.f = f
	return meta, s.reloadLocked()
}

// reloadLocked re-reads the index from the current file contents, replacing
// whatever was in memory. Caller must hold s.mu.
func (s *Store) reloadLocked() error {
	s.index = make(map[record.ID]*record.Record)
	s.quarantine = nil
	return s.load()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return out.Sync()
}
