package testutil

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/rfdb/rfdb/model"
)

// NodeTypes are the node kinds the generators draw from.
var NodeTypes = []string{"function", "method", "struct", "interface", "const", "var"}

// EdgeTypes are the edge kinds the generators draw from.
var EdgeTypes = []string{"calls", "references", "implements", "embeds"}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Files returns n synthetic source file paths.
func (r *RNG) Files(n int) []string {
	files := make([]string, n)
	for i := range files {
		files[i] = fmt.Sprintf("pkg/p%02d/f%03d.go", i%7, i)
	}
	return files
}

// Nodes returns n node records owned by file. Semantic IDs are unique
// within the file and stable across calls with the same arguments;
// types, names and content hashes come from the RNG.
func (r *RNG) Nodes(file string, n int) []model.NodeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes := make([]model.NodeRecord, n)
	for i := range nodes {
		typ := NodeTypes[r.rand.Intn(len(NodeTypes))]
		name := fmt.Sprintf("Sym%04d", i)
		rec := model.NewNodeRecord(
			fmt.Sprintf("%s::%s::%s", file, typ, name),
			typ, name, file,
		)
		rec.ContentHash = r.rand.Uint64() | 1 // never zero
		rec.Metadata = fmt.Sprintf(`{"line":%d}`, r.rand.Intn(5000)+1)
		nodes[i] = rec
	}
	return nodes
}

// Edges returns n edges between random pairs of the given nodes. Each
// edge is tagged with its source node's file and deduplicated by key,
// so the result may be shorter than n.
func (r *RNG) Edges(nodes []model.NodeRecord, n int) []model.EdgeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[model.EdgeKey]struct{}, n)
	edges := make([]model.EdgeRecord, 0, n)
	for len(edges) < n {
		src := nodes[r.rand.Intn(len(nodes))]
		dst := nodes[r.rand.Intn(len(nodes))]
		e := model.EdgeRecord{
			Src:  src.ID,
			Dst:  dst.ID,
			Type: EdgeTypes[r.rand.Intn(len(EdgeTypes))],
			File: src.File,
		}
		if _, ok := seen[e.Key()]; ok {
			if len(seen) >= len(nodes)*len(nodes)*len(EdgeTypes) {
				break // pair space exhausted
			}
			continue
		}
		seen[e.Key()] = struct{}{}
		edges = append(edges, e)
	}
	return edges
}

// Chain returns a linear edge chain n0 -> n1 -> ... -> n(k-1) of the
// given type, for traversal tests where the reachable set is known.
func Chain(nodes []model.NodeRecord, edgeType string) []model.EdgeRecord {
	if len(nodes) < 2 {
		return nil
	}
	edges := make([]model.EdgeRecord, 0, len(nodes)-1)
	for i := 0; i+1 < len(nodes); i++ {
		edges = append(edges, model.EdgeRecord{
			Src:  nodes[i].ID,
			Dst:  nodes[i+1].ID,
			Type: edgeType,
			File: nodes[i].File,
		})
	}
	return edges
}

// IDs extracts the node IDs, sorted.
func IDs(nodes []model.NodeRecord) []model.ID {
	ids := make([]model.ID, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// SemanticIDs extracts the semantic IDs, sorted.
func SemanticIDs(nodes []model.NodeRecord) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.SemanticID
	}
	sort.Strings(out)
	return out
}
