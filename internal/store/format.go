// Package store implements the Record Store (C3): a durable, per-tier
// mapping from RecordId to Record, backed by an append-friendly binary file
// per spec.md §4.2/§6. It is grounded on the teacher's circuit-breaker
// background-sweep idiom for its optimize/compaction pass and on
// go.uber.org/zap for structured logging, the way every other package in
// this tree reports operational state.
package store

import (
	"encoding/binary"
	"errors"
)

// magic identifies a record store file. version lets the format evolve.
const (
	magic   uint32 = 0x4d584653 // "MXFS"
	version uint16 = 1
)

// fileHeader is the fixed-size prologue of a tier's record store file
// (spec.md §6): `{magic, version, dimension D, tier}`.
type fileHeader struct {
	Magic     uint32
	Version   uint16
	Dimension uint16
	Tier      uint8
	_         [7]byte // pad to 16 bytes
}

const fileHeaderSize = 16

func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, fileHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Dimension)
	buf[8] = h.Tier
	return buf
}

var (
	ErrBadMagic       = errors.New("store: bad file magic")
	ErrUnsupportedVer = errors.New("store: unsupported file version")
)

func decodeHeader(buf []byte) (fileHeader, error) {
	var h fileHeader
	if len(buf) < fileHeaderSize {
		return h, errors.New("store: truncated header")
	}
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	h.Dimension = binary.LittleEndian.Uint16(buf[6:8])
	h.Tier = buf[8]
	if h.Magic != magic {
		return h, ErrBadMagic
	}
	if h.Version != version {
		return h, ErrUnsupportedVer
	}
	return h, nil
}
