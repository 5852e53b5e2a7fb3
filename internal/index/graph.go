package index

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/opencortex/memex/internal/record"
)

type node struct {
	id        record.ID
	vector    []float32
	topLayer  int
	neighbors [][]record.ID // neighbors[layer] = ids, layer 0..topLayer
	tombstone bool
}

// Index is one tier's HNSW graph (C4): a multi-layer proximity graph over
// unit-norm vectors, searched by greedy descent plus a layer-0 beam.
//
// Concurrency is a single RWMutex rather than the lock-free/MVCC structure
// spec.md §4.3 alludes to ("search during write... never a torn graph"):
// reads take RLock and writes take Lock, so a search never observes a
// torn graph, but it also cannot run concurrently with a write. This is a
// deliberate simplification — true non-blocking snapshot isolation would
// need a copy-on-write node table, which is out of scope here.
type Index struct {
	cfg  Config
	tier record.Tier

	mu         sync.RWMutex
	nodes      map[record.ID]*node
	entryPoint record.ID
	hasEntry   bool
	tombstoned int
	rng        *rand.Rand
}

// New creates an empty HNSW graph for one tier.
func New(cfg Config, tier record.Tier) (*Index, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Index{
		cfg:   cfg,
		tier:  tier,
		nodes: make(map[record.ID]*node),
		rng:   rand.New(rand.NewSource(1)),
	}, nil
}

// Ready reports whether the index is usable for search.
func (ix *Index) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return true
}

// randomLevel draws a node's top layer with geometric decay, the standard
// HNSW level-assignment distribution (spec.md §4.3: "probabilistically in
// higher layers with geometric decay controlled by max_layers").
func (ix *Index) randomLevel() int {
	levelMult := 1.0 / math.Log(float64(ix.cfg.M))
	level := int(math.Floor(-math.Log(ix.rng.Float64()) * levelMult))
	if level >= ix.cfg.MaxLayers {
		level = ix.cfg.MaxLayers - 1
	}
	return level
}

// Add inserts a new vector under id. Duplicate ids are rejected; capacity
// is enforced against cfg.MaxElements.
func (ix *Index) Add(id record.ID, vector []float32) error {
	if len(vector) != ix.cfg.Dimension {
		return DimensionMismatchError{ExpectedDimension: ix.cfg.Dimension, ReceivedDimension: len(vector)}
	}
	if !isUnitNorm(vector, 1e-2) {
		return record.ErrNotUnitNorm
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if existing, exists := ix.nodes[id]; exists {
		if !existing.tombstone {
			return ErrDuplicateID
		}
		// A tombstoned id is revived in place with the new vector; its
		// existing graph edges are kept until the next Rebuild.
		existing.vector = vector
		existing.tombstone = false
		ix.tombstoned--
		return nil
	}
	if ix.cfg.MaxElements > 0 && len(ix.nodes) >= ix.cfg.MaxElements {
		return ErrCapacityExceeded
	}

	level := ix.randomLevel()
	n := &node{id: id, vector: vector, topLayer: level, neighbors: make([][]record.ID, level+1)}
	ix.nodes[id] = n

	if !ix.hasEntry {
		ix.entryPoint = id
		ix.hasEntry = true
		return nil
	}

	entry := ix.entryPoint
	entryNode := ix.nodes[entry]
	cur := entry

	// Descend greedily from the current top layer down to level+1, tracking
	// only the single closest node as the entry point for the layer below.
	for layer := entryNode.topLayer; layer > level; layer-- {
		cur = ix.greedyClosest(cur, vector, layer)
	}

	// From min(level, entry's top layer) down to 0, run a beam search and
	// connect to up to M neighbors, pruning by distance when a neighbor's
	// degree would exceed M (the "diversity heuristic" simplified to
	// keep-M-closest).
	for layer := minInt(level, entryNode.topLayer); layer >= 0; layer-- {
		candidates := ix.searchLayer(cur, vector, ix.cfg.EfConstruction, layer)
		neighbors := selectNeighbors(candidates, ix.cfg.M)
		n.neighbors[layer] = neighbors

		for _, nb := range neighbors {
			nbNode := ix.nodes[nb]
			nbNode.neighbors[layer] = append(nbNode.neighbors[layer], id)
			if len(nbNode.neighbors[layer]) > ix.cfg.M {
				nbNode.neighbors[layer] = ix.pruneNeighbors(nbNode, layer)
			}
		}
		if len(candidates) > 0 {
			cur = candidates[0].id
		}
	}

	if level > entryNode.topLayer {
		ix.entryPoint = id
	}
	return nil
}

// AddBatch inserts many vectors, dispatching them concurrently when
// cfg.UseParallel is set (bounded by GOMAXPROCS via sourcegraph/conc/pool).
// Each Add takes the graph's single write lock before its neighbor search,
// so only the dimension and unit-norm checks run in parallel; distance
// computation and graph mutation stay serialized, and correctness per id is
// unaffected.
func (ix *Index) AddBatch(ids []record.ID, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("index: ids/vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if !ix.cfg.UseParallel || len(ids) < 2 {
		for i := range ids {
			if err := ix.Add(ids[i], vectors[i]); err != nil {
				return err
			}
		}
		return nil
	}

	p := pool.New().WithMaxGoroutines(runtime.GOMAXPROCS(0)).WithErrors()
	for i := range ids {
		i := i
		p.Go(func() error {
			return ix.Add(ids[i], vectors[i])
		})
	}
	return p.Wait()
}

func (ix *Index) pruneNeighbors(n *node, layer int) []record.ID {
	type cand struct {
		id   record.ID
		dist float32
	}
	cands := make([]cand, 0, len(n.neighbors[layer]))
	for _, id := range n.neighbors[layer] {
		if other, ok := ix.nodes[id]; ok {
			cands = append(cands, cand{id: id, dist: cosineDistance(n.vector, other.vector)})
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if len(cands) > ix.cfg.M {
		cands = cands[:ix.cfg.M]
	}
	out := make([]record.ID, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

type scoredCandidate struct {
	id   record.ID
	dist float32
}

func selectNeighbors(candidates []scoredCandidate, m int) []record.ID {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]record.ID, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// greedyClosest descends one layer from cur, moving to the closest
// neighbor found, used for the single-candidate descent above the
// insertion/search layer.
func (ix *Index) greedyClosest(cur record.ID, target []float32, layer int) record.ID {
	improved := true
	best := cur
	bestDist := cosineDistance(ix.nodes[cur].vector, target)
	for improved {
		improved = false
		for _, nb := range ix.nodes[best].neighbors[layer] {
			nbNode, ok := ix.nodes[nb]
			if !ok || nbNode.tombstone {
				continue
			}
			d := cosineDistance(nbNode.vector, target)
			if d < bestDist {
				bestDist = d
				best = nb
				improved = true
			}
		}
	}
	return best
}

// searchLayer runs a beam search of width ef at layer, returning candidates
// sorted closest-first, skipping tombstoned nodes.
func (ix *Index) searchLayer(entry record.ID, target []float32, ef int, layer int) []scoredCandidate {
	visited := map[record.ID]bool{entry: true}
	entryNode := ix.nodes[entry]

	var candidates []scoredCandidate
	if !entryNode.tombstone {
		candidates = append(candidates, scoredCandidate{id: entry, dist: cosineDistance(entryNode.vector, target)})
	}
	frontier := []record.ID{entry}

	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]

		nextNode, ok := ix.nodes[next]
		if !ok || layer >= len(nextNode.neighbors) {
			continue
		}
		for _, nb := range nextNode.neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbNode, ok := ix.nodes[nb]
			if !ok {
				continue
			}
			if !nbNode.tombstone {
				candidates = append(candidates, scoredCandidate{id: nb, dist: cosineDistance(nbNode.vector, target)})
			}
			frontier = append(frontier, nb)
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
	if len(candidates) > ef {
		candidates = candidates[:ef]
	}
	return candidates
}

// Search returns the k closest live (non-tombstoned) ids to queryVector.
func (ix *Index) Search(queryVector []float32, k int) ([]Result, error) {
	if len(queryVector) != ix.cfg.Dimension {
		return nil, DimensionMismatchError{ExpectedDimension: ix.cfg.Dimension, ReceivedDimension: len(queryVector)}
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ix.hasEntry {
		return nil, nil
	}

	cur := ix.entryPoint
	entryNode := ix.nodes[cur]
	for layer := entryNode.topLayer; layer > 0; layer-- {
		cur = ix.greedyClosest(cur, queryVector, layer)
	}

	ef := ix.cfg.EfSearch
	if ef < k {
		ef = k
	}
	candidates := ix.searchLayer(cur, queryVector, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{ID: c.id, Distance: c.dist}
	}
	return out, nil
}

// Update replaces the vector for id (delete + add in one logical step, per
// spec.md §4.3).
func (ix *Index) Update(id record.ID, vector []float32) error {
	if err := ix.Remove(id); err != nil && err != ErrNotFound {
		return err
	}
	return ix.Add(id, vector)
}

// Remove tombstones id: it is skipped by search but its graph edges remain
// in place until Rebuild compacts them.
func (ix *Index) Remove(id record.ID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n, ok := ix.nodes[id]
	if !ok {
		return ErrNotFound
	}
	if n.tombstone {
		return nil
	}
	n.tombstone = true
	ix.tombstoned++
	return nil
}

// tombstoneFraction reports the live fraction of tombstoned nodes.
func (ix *Index) tombstoneFraction() float64 {
	if len(ix.nodes) == 0 {
		return 0
	}
	return float64(ix.tombstoned) / float64(len(ix.nodes))
}

// Rebuild reconstructs the graph from scratch using only live vectors,
// compacting away tombstones. spec.md §4.3 calls for this once the
// tombstoned fraction exceeds a threshold (e.g. 25%).
func (ix *Index) Rebuild() error {
	ix.mu.Lock()
	live := make([]*node, 0, len(ix.nodes))
	for _, n := range ix.nodes {
		if !n.tombstone {
			live = append(live, n)
		}
	}
	ix.mu.Unlock()

	fresh, err := New(ix.cfg, ix.tier)
	if err != nil {
		return err
	}
	for _, n := range live {
		if err := fresh.Add(n.id, n.vector); err != nil {
			return err
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.nodes = fresh.nodes
	ix.entryPoint = fresh.entryPoint
	ix.hasEntry = fresh.hasEntry
	ix.tombstoned = 0
	return nil
}

// MaybeRebuild triggers Rebuild if the tombstoned fraction exceeds
// threshold (spec.md §4.3's example: 25%).
func (ix *Index) MaybeRebuild(threshold float64) error {
	ix.mu.RLock()
	frac := ix.tombstoneFraction()
	ix.mu.RUnlock()
	if frac > threshold {
		return ix.Rebuild()
	}
	return nil
}

// Stats reports current graph occupancy.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	maxLayer := 0
	for _, n := range ix.nodes {
		if n.topLayer > maxLayer {
			maxLayer = n.topLayer
		}
	}
	entryID := ""
	if ix.hasEntry {
		entryID = ix.entryPoint.String()
	}
	return Stats{
		Count:        len(ix.nodes) - ix.tombstoned,
		Tombstoned:   ix.tombstoned,
		Layers:       maxLayer + 1,
		EntryPointID: entryID,
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
