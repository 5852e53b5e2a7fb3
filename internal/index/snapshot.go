package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/opencortex/memex/internal/record"
)

// Snapshot format per spec.md §6: a header naming the graph's shape
// followed by one record per node: id, its top layer, and its per-layer
// neighbor lists. Tombstoned nodes are skipped entirely; Save does not
// compact first, so a live node's neighbor list can still name a skipped id.
const (
	snapshotMagic   uint32 = 0x4d584958 // "MXIX"
	snapshotVersion uint16 = 1
)

type snapshotHeader struct {
	Magic          uint32
	Version        uint16
	Dimension      uint16
	M              uint16
	EfConstruction uint16
	MaxLayers      uint16
	Count          uint32
}

// Save writes a full snapshot of the graph to w.
func (ix *Index) Save(w io.Writer) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	bw := bufio.NewWriter(w)

	live := make([]*node, 0, len(ix.nodes))
	for _, n := range ix.nodes {
		if !n.tombstone {
			live = append(live, n)
		}
	}

	hdr := snapshotHeader{
		Magic:          snapshotMagic,
		Version:        snapshotVersion,
		Dimension:      uint16(ix.cfg.Dimension),
		M:              uint16(ix.cfg.M),
		EfConstruction: uint16(ix.cfg.EfConstruction),
		MaxLayers:      uint16(ix.cfg.MaxLayers),
		Count:          uint32(len(live)),
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return err
	}
	if ix.hasEntry {
		entryBytes, _ := ix.entryPoint.MarshalBinary()
		bw.Write(entryBytes)
	} else {
		bw.Write(make([]byte, 16))
	}

	for _, n := range live {
		idBytes, _ := n.id.MarshalBinary()
		bw.Write(idBytes)
		binary.Write(bw, binary.LittleEndian, uint16(n.topLayer))

		for _, vecVal := range n.vector {
			binary.Write(bw, binary.LittleEndian, vecVal)
		}

		for layer := 0; layer <= n.topLayer; layer++ {
			neighbors := n.neighbors[layer]
			binary.Write(bw, binary.LittleEndian, uint16(len(neighbors)))
			for _, nb := range neighbors {
				nbBytes, _ := nb.MarshalBinary()
				bw.Write(nbBytes)
			}
		}
	}

	return bw.Flush()
}

// Load rebuilds a graph from a snapshot written by Save. Node vectors and
// adjacency lists are restored verbatim (no re-insertion, no new
// randomness). EfSearch and MaxElements are not stored in the snapshot and
// take DefaultConfig values, and tombstoned nodes are gone, so search
// results can differ from the saved graph's.
func Load(r io.Reader, tier record.Tier) (*Index, error) {
	br := bufio.NewReader(r)

	var hdr snapshotHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("index: reading snapshot header: %w", err)
	}
	if hdr.Magic != snapshotMagic {
		return nil, fmt.Errorf("index: bad snapshot magic")
	}
	if hdr.Version != snapshotVersion {
		return nil, fmt.Errorf("index: unsupported snapshot version %d", hdr.Version)
	}

	cfg := Config{
		Dimension:      int(hdr.Dimension),
		M:              int(hdr.M),
		EfConstruction: int(hdr.EfConstruction),
		EfSearch:       DefaultConfig(int(hdr.Dimension)).EfSearch,
		MaxLayers:      int(hdr.MaxLayers),
		MaxElements:    DefaultConfig(int(hdr.Dimension)).MaxElements,
	}
	ix, err := New(cfg, tier)
	if err != nil {
		return nil, err
	}

	var entryBytes [16]byte
	if _, err := io.ReadFull(br, entryBytes[:]); err != nil {
		return nil, fmt.Errorf("index: reading entry point: %w", err)
	}
	var entry record.ID
	if err := entry.UnmarshalBinary(entryBytes[:]); err != nil {
		return nil, fmt.Errorf("index: decoding entry point: %w", err)
	}

	for i := uint32(0); i < hdr.Count; i++ {
		var idBytes [16]byte
		if _, err := io.ReadFull(br, idBytes[:]); err != nil {
			return nil, fmt.Errorf("index: reading node id: %w", err)
		}
		var id record.ID
		if err := id.UnmarshalBinary(idBytes[:]); err != nil {
			return nil, fmt.Errorf("index: decoding node id: %w", err)
		}

		var topLayer uint16
		if err := binary.Read(br, binary.LittleEndian, &topLayer); err != nil {
			return nil, fmt.Errorf("index: reading top layer: %w", err)
		}

		vector := make([]float32, cfg.Dimension)
		for j := range vector {
			if err := binary.Read(br, binary.LittleEndian, &vector[j]); err != nil {
				return nil, fmt.Errorf("index: reading vector component: %w", err)
			}
		}

		neighbors := make([][]record.ID, topLayer+1)
		for layer := 0; layer <= int(topLayer); layer++ {
			var count uint16
			if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
				return nil, fmt.Errorf("index: reading neighbor count: %w", err)
			}
			layerNeighbors := make([]record.ID, count)
			for k := uint16(0); k < count; k++ {
				var nbBytes [16]byte
				if _, err := io.ReadFull(br, nbBytes[:]); err != nil {
					return nil, fmt.Errorf("index: reading neighbor id: %w", err)
				}
				if err := layerNeighbors[k].UnmarshalBinary(nbBytes[:]); err != nil {
					return nil, fmt.Errorf("index: decoding neighbor id: %w", err)
				}
			}
			neighbors[layer] = layerNeighbors
		}

		ix.nodes[id] = &node{id: id, vector: vector, topLayer: int(topLayer), neighbors: neighbors}
	}

	if hdr.Count > 0 {
		if _, ok := ix.nodes[entry]; !ok {
			// The saved entry point was tombstoned and skipped; start from
			// the live node on the highest layer instead.
			top := -1
			for id, n := range ix.nodes {
				if n.topLayer > top {
					top, entry = n.topLayer, id
				}
			}
		}
		ix.entryPoint = entry
		ix.hasEntry = true
	}
	return ix, nil
}

// SaveToFile writes a snapshot to path, replacing any existing file
// atomically via a temp-file-plus-rename.
func (ix *Index) SaveToFile(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := ix.Save(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadFromFile reads a snapshot previously written by SaveToFile.
func LoadFromFile(path string, tier record.Tier) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, tier)
}
