package model

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// ID is the fixed-width derived identifier of a record: the first 16 bytes
// of the BLAKE3 hash of the semantic ID. It is an index, never the
// identity itself: the semantic ID is the sole source of identity and the
// ID is always recomputable from it.
type ID [16]byte

// ZeroID is the all-zero ID. No valid record carries it.
var ZeroID ID

// DeriveID computes the ID for a semantic ID.
func DeriveID(semanticID string) ID {
	sum := blake3.Sum256([]byte(semanticID))
	var id ID
	copy(id[:], sum[:16])
	return id
}

// ContentHash computes the content hash for a source span.
func ContentHash(span []byte) uint64 {
	return xxhash.Sum64(span)
}

// String returns the hex form of the ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseID parses the hex form produced by String.
func ParseID(s string) (ID, error) {
	var id ID
	if hex.DecodedLen(len(s)) != len(id) {
		return ZeroID, fmt.Errorf("model: invalid id length %d", len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ZeroID, fmt.Errorf("model: invalid id %q: %w", s, err)
	}
	return id, nil
}

// IsZero reports whether the ID is the zero value.
func (id ID) IsZero() bool {
	return id == ZeroID
}

// Less orders IDs by their little-endian 128-bit value, matching the
// on-disk sort order of compacted segments.
func (id ID) Less(other ID) bool {
	hi, lo := binary.LittleEndian.Uint64(id[8:]), binary.LittleEndian.Uint64(id[:8])
	ohi, olo := binary.LittleEndian.Uint64(other[8:]), binary.LittleEndian.Uint64(other[:8])
	if hi != ohi {
		return hi < ohi
	}
	return lo < olo
}

// Compare returns -1, 0 or 1 comparing two IDs in segment sort order.
func (id ID) Compare(other ID) int {
	switch {
	case id == other:
		return 0
	case id.Less(other):
		return -1
	default:
		return 1
	}
}

// SegmentID is the unique identifier of a segment within a database.
type SegmentID uint64

// ShardID identifies a shard.
type ShardID uint16

// NodeRecord is one graph node. SemanticID is the only identity; ID is
// derived and ContentHash detects true content change vs. mere
// re-segmentation. Records are immutable once flushed into a segment.
type NodeRecord struct {
	SemanticID  string
	ID          ID
	Type        string
	Name        string
	File        string
	ContentHash uint64
	Metadata    string
}

// NewNodeRecord builds a node record with the ID derived from semanticID.
func NewNodeRecord(semanticID, nodeType, name, file string) NodeRecord {
	return NodeRecord{
		SemanticID: semanticID,
		ID:         DeriveID(semanticID),
		Type:       nodeType,
		Name:       name,
		File:       file,
	}
}

// EdgeRecord is one typed, directed edge. Endpoints are stored in derived
// hash form; dangling endpoints are tolerated by all read paths.
//
// File is the owning-file tag: it routes the edge to a shard and
// decides which re-ingestions replace it, but is not part of the edge's
// identity. Edges are normally tagged with the source node's file;
// cross-file derived edges use a synthetic per-(producer, file) context
// instead, so re-running that producer on that file replaces exactly
// its own output.
type EdgeRecord struct {
	Src      ID
	Dst      ID
	Type     string
	Metadata string
	File     string
}

// EdgeKey is the dedup and tombstone key of an edge.
type EdgeKey struct {
	Src  ID
	Dst  ID
	Type string
}

// Key returns the edge's key.
func (e EdgeRecord) Key() EdgeKey {
	return EdgeKey{Src: e.Src, Dst: e.Dst, Type: e.Type}
}

// String implements fmt.Stringer.
func (k EdgeKey) String() string {
	return fmt.Sprintf("%s->%s[%s]", k.Src, k.Dst, k.Type)
}

// Direction selects traversal direction for reachability.
type Direction int

const (
	// Forward follows edges src -> dst.
	Forward Direction = iota
	// Backward follows edges dst -> src.
	Backward
)

// NodeQuery filters nodes by attributes. Zero-value fields match
// everything. Metadata filters compare against the JSON metadata payload;
// string, bool and number values are compared in string form.
type NodeQuery struct {
	Type     string
	File     string
	Name     string
	Metadata map[string]string
}

// IsEmpty reports whether the query has no constraints.
func (q NodeQuery) IsEmpty() bool {
	return q.Type == "" && q.File == "" && q.Name == "" && len(q.Metadata) == 0
}

// Delta describes the net effect of one committed batch. Modified means
// the same ID was present on both sides with differing non-zero content
// hashes; identical content hashes mean "rewritten but unchanged" and are
// excluded.
type Delta struct {
	Snapshot         uint64
	PreviousSnapshot uint64
	ChangedFiles     []string
	NodesAdded       int
	NodesRemoved     int
	NodesModified    int
	RemovedIDs       []ID
	EdgesAdded       int
	EdgesRemoved     int
	ChangedNodeTypes []string
	ChangedEdgeTypes []string
}

// Empty reports whether the delta records no changes.
func (d Delta) Empty() bool {
	return d.NodesAdded == 0 && d.NodesRemoved == 0 && d.NodesModified == 0 &&
		d.EdgesAdded == 0 && d.EdgesRemoved == 0
}

// SnapshotInfo summarizes one manifest version.
type SnapshotInfo struct {
	Version   uint64
	CreatedAt int64 // unix epoch ms
	Tags      map[string]string
	Segments  int
}

// SnapshotDiff is the net change between two snapshots. An ID present on
// both sides counts as modified only when its content hash differs.
type SnapshotDiff struct {
	FromVersion uint64
	ToVersion   uint64
	Added       []ID
	Removed     []ID
	Modified    []ID
}

// SnapshotRef addresses a snapshot either by version number or by a
// "key=value" tag. The zero value refers to the current snapshot.
type SnapshotRef struct {
	Version  uint64
	TagKey   string
	TagValue string
}

// ByVersion returns a ref addressing a version number.
func ByVersion(v uint64) SnapshotRef {
	return SnapshotRef{Version: v}
}

// ByTag returns a ref addressing the snapshot carrying tag key=value.
func ByTag(key, value string) SnapshotRef {
	return SnapshotRef{TagKey: key, TagValue: value}
}
