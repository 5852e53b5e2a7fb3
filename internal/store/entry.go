package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/opencortex/memex/internal/record"
)

// entryMeta is the JSON-encoded "metadata blob" referenced by spec.md §6: the
// record fields that aren't fixed-width (kind, tags, project, session, and
// the caller-supplied metadata bag). JSON keeps this sub-format legible and
// trivially extensible; the fixed-width framing around it (id, text length,
// embedding, timestamps, counters, checksum) is what spec.md actually pins
// down byte-for-byte.
type entryMeta struct {
	Kind     string            `json:"kind"`
	Tags     []string          `json:"tags,omitempty"`
	Project  string            `json:"project,omitempty"`
	Session  string            `json:"session,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

const deletedFlag = 1

// ErrCorrupt signals a per-entry checksum mismatch: the entry is quarantined
// rather than surfaced as a usable record (spec.md §4.2 Failures).
var ErrCorrupt = errors.New("store: entry checksum mismatch")

// encodeEntry serializes r into the per-entry wire format:
//
//	flags(1B) | id(16B) | text_len(4B) | text | D*f32(LE) |
//	meta_len(4B) | meta | created_at(8B) | last_access_at(8B) |
//	access_count(4B) | score(4B) | checksum(8B, xxhash of everything above)
func encodeEntry(r *record.Record, deleted bool) []byte {
	meta := entryMeta{Kind: r.Kind, Tags: r.Tags, Project: r.Project, Session: r.Session, Metadata: r.Metadata}
	metaBytes, _ := json.Marshal(meta)

	textBytes := []byte(r.Text)
	size := 1 + 16 + 4 + len(textBytes) + len(r.Embedding)*4 + 4 + len(metaBytes) + 8 + 8 + 4 + 4
	buf := make([]byte, size+8)

	off := 0
	if deleted {
		buf[off] = deletedFlag
	}
	off++
	copy(buf[off:], r.ID[:])
	off += 16

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(textBytes)))
	off += 4
	copy(buf[off:], textBytes)
	off += len(textBytes)

	for _, f := range r.Embedding {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}

	binary.LittleEndian.PutUint32(buf[off:], uint32(len(metaBytes)))
	off += 4
	copy(buf[off:], metaBytes)
	off += len(metaBytes)

	binary.LittleEndian.PutUint64(buf[off:], uint64(r.CreatedAt.UnixMilli()))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.LastAccessAt.UnixMilli()))
	off += 8

	binary.LittleEndian.PutUint32(buf[off:], r.AccessCount)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(r.Score))
	off += 4

	sum := xxhash.Sum64(buf[:off])
	binary.LittleEndian.PutUint64(buf[off:], sum)

	return buf
}

// decodeEntry parses one entry given the tier's fixed embedding dimension.
// It returns (record, deleted, error); ErrCorrupt signals the caller should
// quarantine rather than index this entry.
func decodeEntry(buf []byte, dim int) (*record.Record, bool, error) {
	minSize := 1 + 16 + 4 + 4 + 8 + 8 + 4 + 4 + 8
	if len(buf) < minSize {
		return nil, false, errors.New("store: truncated entry")
	}

	body := buf[:len(buf)-8]
	wantSum := binary.LittleEndian.Uint64(buf[len(buf)-8:])
	if xxhash.Sum64(body) != wantSum {
		return nil, false, ErrCorrupt
	}

	off := 0
	deleted := buf[off] == deletedFlag
	off++

	var id record.ID
	copy(id[:], buf[off:off+16])
	off += 16

	textLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+textLen > len(body) {
		return nil, false, errors.New("store: truncated text")
	}
	text := string(buf[off : off+textLen])
	off += textLen

	embedding := make([]float32, dim)
	for i := 0; i < dim; i++ {
		if off+4 > len(body) {
			return nil, false, errors.New("store: truncated embedding")
		}
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}

	metaLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if off+metaLen > len(body) {
		return nil, false, errors.New("store: truncated metadata")
	}
	var meta entryMeta
	if err := json.Unmarshal(buf[off:off+metaLen], &meta); err != nil {
		return nil, false, ErrCorrupt
	}
	off += metaLen

	createdAt := time.UnixMilli(int64(binary.LittleEndian.Uint64(buf[off:]))).UTC()
	off += 8
	lastAccessAt := time.UnixMilli(int64(binary.LittleEndian.Uint64(buf[off:]))).UTC()
	off += 8

	accessCount := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	score := math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))

	r := &record.Record{
		ID:           id,
		Text:         text,
		Embedding:    embedding,
		Kind:         meta.Kind,
		Tags:         meta.Tags,
		Project:      meta.Project,
		Session:      meta.Session,
		Metadata:     meta.Metadata,
		CreatedAt:    createdAt,
		LastAccessAt: lastAccessAt,
		AccessCount:  accessCount,
		Score:        score,
	}
	return r, deleted, nil
}
