package shard

import (
	"sort"

	"github.com/rfdb/rfdb/model"
)

// TombstoneSet records logical deletions that older segments must not
// resurrect. Re-ingesting a file tombstones the ids previously
// attributed to it; ids re-added by the same commit are removed again
// before the manifest is written, so the committed set contains only
// true removals.
type TombstoneSet struct {
	nodes map[model.ID]struct{}
	edges map[model.EdgeKey]struct{}
}

// NewTombstoneSet returns an empty tombstone set.
func NewTombstoneSet() *TombstoneSet {
	return &TombstoneSet{
		nodes: make(map[model.ID]struct{}),
		edges: make(map[model.EdgeKey]struct{}),
	}
}

// AddNode tombstones a node id.
func (t *TombstoneSet) AddNode(id model.ID) { t.nodes[id] = struct{}{} }

// AddNodes tombstones a batch of node ids.
func (t *TombstoneSet) AddNodes(ids []model.ID) {
	for _, id := range ids {
		t.nodes[id] = struct{}{}
	}
}

// AddEdge tombstones an edge key.
func (t *TombstoneSet) AddEdge(key model.EdgeKey) { t.edges[key] = struct{}{} }

// AddEdges tombstones a batch of edge keys.
func (t *TombstoneSet) AddEdges(keys []model.EdgeKey) {
	for _, k := range keys {
		t.edges[k] = struct{}{}
	}
}

// RemoveNode clears a node tombstone, typically because the same commit
// re-added the id.
func (t *TombstoneSet) RemoveNode(id model.ID) { delete(t.nodes, id) }

// RemoveEdge clears an edge tombstone.
func (t *TombstoneSet) RemoveEdge(key model.EdgeKey) { delete(t.edges, key) }

// ContainsNode reports whether the node id is tombstoned.
func (t *TombstoneSet) ContainsNode(id model.ID) bool {
	_, ok := t.nodes[id]
	return ok
}

// ContainsEdge reports whether the edge key is tombstoned.
func (t *TombstoneSet) ContainsEdge(key model.EdgeKey) bool {
	_, ok := t.edges[key]
	return ok
}

// NodeCount returns the number of tombstoned node ids.
func (t *TombstoneSet) NodeCount() int { return len(t.nodes) }

// EdgeCount returns the number of tombstoned edge keys.
func (t *TombstoneSet) EdgeCount() int { return len(t.edges) }

// IsEmpty reports whether the set holds no tombstones.
func (t *TombstoneSet) IsEmpty() bool { return len(t.nodes) == 0 && len(t.edges) == 0 }

// Union merges another set into this one.
func (t *TombstoneSet) Union(other *TombstoneSet) {
	for id := range other.nodes {
		t.nodes[id] = struct{}{}
	}
	for k := range other.edges {
		t.edges[k] = struct{}{}
	}
}

// Subtract removes every tombstone present in other. Compaction uses it
// to keep only the tombstones that arrived after its input snapshot was
// taken.
func (t *TombstoneSet) Subtract(other *TombstoneSet) {
	for id := range other.nodes {
		delete(t.nodes, id)
	}
	for k := range other.edges {
		delete(t.edges, k)
	}
}

// Clone returns an independent copy.
func (t *TombstoneSet) Clone() *TombstoneSet {
	out := NewTombstoneSet()
	out.Union(t)
	return out
}

// Reset discards all tombstones. Used after compaction has physically
// dropped the shadowed rows.
func (t *TombstoneSet) Reset() {
	t.nodes = make(map[model.ID]struct{})
	t.edges = make(map[model.EdgeKey]struct{})
}

// NodeIDs returns the tombstoned node ids in ascending id order, for
// deterministic manifest serialization.
func (t *TombstoneSet) NodeIDs() []model.ID {
	out := make([]model.ID, 0, len(t.nodes))
	for id := range t.nodes {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// EdgeKeys returns the tombstoned edge keys sorted by (src, dst, type).
func (t *TombstoneSet) EdgeKeys() []model.EdgeKey {
	out := make([]model.EdgeKey, 0, len(t.edges))
	for k := range t.edges {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Src.Compare(out[j].Src); c != 0 {
			return c < 0
		}
		if c := out[i].Dst.Compare(out[j].Dst); c != 0 {
			return c < 0
		}
		return out[i].Type < out[j].Type
	})
	return out
}
