package shard

import (
	"github.com/rfdb/rfdb/model"
)

// Buffer is the in-memory staging area for one shard within an open
// batch. Nodes upsert by ID; edges dedup by (src, dst, type), with the
// metadata of the newest write winning. Buffered data is invisible to
// readers until the batch commits.
type Buffer struct {
	nodes map[model.ID]model.NodeRecord
	edges []model.EdgeRecord
	byKey map[model.EdgeKey]int
}

// NewBuffer returns an empty write buffer.
func NewBuffer() *Buffer {
	return &Buffer{
		nodes: make(map[model.ID]model.NodeRecord),
		byKey: make(map[model.EdgeKey]int),
	}
}

// PutNode stages a node, replacing any earlier staged version with the
// same ID.
func (b *Buffer) PutNode(rec model.NodeRecord) {
	b.nodes[rec.ID] = rec
}

// PutNodes stages a batch of nodes.
func (b *Buffer) PutNodes(recs []model.NodeRecord) {
	for _, rec := range recs {
		b.PutNode(rec)
	}
}

// PutEdge stages an edge. A duplicate (src, dst, type) replaces the
// earlier edge's metadata rather than adding a second row.
func (b *Buffer) PutEdge(rec model.EdgeRecord) {
	key := rec.Key()
	if i, ok := b.byKey[key]; ok {
		b.edges[i] = rec
		return
	}
	b.byKey[key] = len(b.edges)
	b.edges = append(b.edges, rec)
}

// PutEdges stages a batch of edges.
func (b *Buffer) PutEdges(recs []model.EdgeRecord) {
	for _, rec := range recs {
		b.PutEdge(rec)
	}
}

// NodeCount returns the number of distinct staged nodes.
func (b *Buffer) NodeCount() int { return len(b.nodes) }

// EdgeCount returns the number of distinct staged edges.
func (b *Buffer) EdgeCount() int { return len(b.edges) }

// IsEmpty reports whether nothing has been staged.
func (b *Buffer) IsEmpty() bool { return len(b.nodes) == 0 && len(b.edges) == 0 }

// Nodes returns the staged nodes in unspecified order.
func (b *Buffer) Nodes() []model.NodeRecord {
	out := make([]model.NodeRecord, 0, len(b.nodes))
	for _, rec := range b.nodes {
		out = append(out, rec)
	}
	return out
}

// Edges returns the staged edges in insertion order.
func (b *Buffer) Edges() []model.EdgeRecord {
	out := make([]model.EdgeRecord, len(b.edges))
	copy(out, b.edges)
	return out
}

// NodeIDs returns the IDs of all staged nodes.
func (b *Buffer) NodeIDs() []model.ID {
	out := make([]model.ID, 0, len(b.nodes))
	for id := range b.nodes {
		out = append(out, id)
	}
	return out
}

// Reset discards everything staged.
func (b *Buffer) Reset() {
	b.nodes = make(map[model.ID]model.NodeRecord)
	b.edges = b.edges[:0]
	b.byKey = make(map[model.EdgeKey]int)
}
