// Package manifest defines the versioned catalog of a database: which
// segments exist, per-shard tombstones, index locations and snapshot
// tags. Every commit and every compaction publishes a new immutable
// manifest version; the CURRENT pointer names the live one, so readers
// always observe a committed state.
package manifest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/rfdb/rfdb/internal/hash"
	"github.com/rfdb/rfdb/internal/segment"
	"github.com/rfdb/rfdb/internal/shard"
	"github.com/rfdb/rfdb/model"
)

const (
	// fileMagic guards manifest blobs against foreign files.
	fileMagic uint32 = 0x32464d52 // "RMF2" little-endian

	// KindNodes and KindEdges are the segment kinds in descriptors.
	KindNodes = "nodes"
	KindEdges = "edges"

	// Index kinds.
	IndexGlobal = "global"
	IndexByType = "by_type"
	IndexByFile = "by_file"
	IndexByName = "by_name"
)

// ErrCorrupt wraps manifest decode failures.
var ErrCorrupt = fmt.Errorf("manifest: corrupt")

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// SegmentDescriptor records one immutable segment file.
type SegmentDescriptor struct {
	ID          model.SegmentID `json:"id"`
	Kind        string          `json:"kind"`
	Level       int             `json:"level"`
	Shard       model.ShardID   `json:"shard"`
	Path        string          `json:"path"`
	RecordCount uint64          `json:"record_count"`
	ByteSize    uint64          `json:"byte_size"`

	// Zone summaries mirrored from the segment footer so planning can
	// prune without opening the file. Empty plus ZonesDropped means the
	// field exceeded the distinct-value cap and anything is possible.
	NodeTypes    []string `json:"node_types,omitempty"`
	FilePaths    []string `json:"file_paths,omitempty"`
	EdgeTypes    []string `json:"edge_types,omitempty"`
	ZonesDropped bool     `json:"zones_dropped,omitempty"`
}

// IndexDescriptor records one persisted index file.
type IndexDescriptor struct {
	Shard   model.ShardID   `json:"shard"`
	Kind    string          `json:"kind"`
	Segment model.SegmentID `json:"segment"`
	Path    string          `json:"path"`
}

// EdgeTombstone is the serialized form of a tombstoned edge key.
type EdgeTombstone struct {
	Src  string `json:"src"`
	Dst  string `json:"dst"`
	Type string `json:"type"`
}

// ShardTombstones carries one shard's logical deletions.
type ShardTombstones struct {
	NodeIDs []string        `json:"node_ids,omitempty"`
	Edges   []EdgeTombstone `json:"edges,omitempty"`
}

// CompactionInfo records the compaction that produced a manifest
// version.
type CompactionInfo struct {
	TimestampMS      int64           `json:"timestamp_ms"`
	L0SegmentsMerged int             `json:"l0_segments_merged"`
	Shards           []model.ShardID `json:"shards,omitempty"`
}

// Manifest is one immutable catalog version.
type Manifest struct {
	Version       uint64                            `json:"version"`
	Parent        uint64                            `json:"parent,omitempty"`
	CreatedAtMS   int64                             `json:"created_at_ms"`
	ShardCount    uint16                            `json:"shard_count"`
	NextSegmentID uint64                            `json:"next_segment_id"`
	Segments      []SegmentDescriptor               `json:"segments"`
	Indexes       []IndexDescriptor                 `json:"indexes,omitempty"`
	Tombstones    map[model.ShardID]ShardTombstones `json:"tombstones,omitempty"`
	Tags          map[string]string                 `json:"tags,omitempty"`
	ChangedFiles  []string                          `json:"changed_files,omitempty"`
	Compaction    *CompactionInfo                   `json:"compaction,omitempty"`
}

// New returns the empty first manifest of a database.
func New(shardCount uint16) *Manifest {
	return &Manifest{
		Version:    1,
		ShardCount: shardCount,
	}
}

// Clone returns a deep copy with Version advanced and Parent set,
// ready to describe the next commit. Tags and ChangedFiles are
// per-version and do not carry forward.
func (m *Manifest) Clone() *Manifest {
	next := &Manifest{
		Version:       m.Version + 1,
		Parent:        m.Version,
		ShardCount:    m.ShardCount,
		NextSegmentID: m.NextSegmentID,
		Segments:      append([]SegmentDescriptor(nil), m.Segments...),
		Indexes:       append([]IndexDescriptor(nil), m.Indexes...),
	}
	if len(m.Tombstones) > 0 {
		next.Tombstones = make(map[model.ShardID]ShardTombstones, len(m.Tombstones))
		for id, ts := range m.Tombstones {
			next.Tombstones[id] = ShardTombstones{
				NodeIDs: append([]string(nil), ts.NodeIDs...),
				Edges:   append([]EdgeTombstone(nil), ts.Edges...),
			}
		}
	}
	return next
}

// AllocSegmentID hands out the next segment id.
func (m *Manifest) AllocSegmentID() model.SegmentID {
	id := model.SegmentID(m.NextSegmentID)
	m.NextSegmentID++
	return id
}

// SegmentsForShard returns the shard's descriptors, L1 first, then L0
// in ascending segment id order (oldest first).
func (m *Manifest) SegmentsForShard(id model.ShardID) []SegmentDescriptor {
	var out []SegmentDescriptor
	for _, d := range m.Segments {
		if d.Shard == id {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IndexesForShard returns the shard's persisted index descriptors.
func (m *Manifest) IndexesForShard(id model.ShardID) []IndexDescriptor {
	var out []IndexDescriptor
	for _, d := range m.Indexes {
		if d.Shard == id {
			out = append(out, d)
		}
	}
	return out
}

// ReplaceShard swaps a shard's segment and index descriptors for the
// compaction output and clears its tombstones, which the merge has
// physically applied.
func (m *Manifest) ReplaceShard(id model.ShardID, segs []SegmentDescriptor, indexes []IndexDescriptor) {
	kept := m.Segments[:0]
	for _, d := range m.Segments {
		if d.Shard != id {
			kept = append(kept, d)
		}
	}
	m.Segments = append(kept, segs...)

	keptIx := m.Indexes[:0]
	for _, d := range m.Indexes {
		if d.Shard != id {
			keptIx = append(keptIx, d)
		}
	}
	m.Indexes = append(keptIx, indexes...)

	delete(m.Tombstones, id)
}

// SetTombstones stores a shard's tombstone set, dropping the entry when
// the set is empty.
func (m *Manifest) SetTombstones(id model.ShardID, t *shard.TombstoneSet) {
	if t == nil || t.IsEmpty() {
		delete(m.Tombstones, id)
		return
	}
	if m.Tombstones == nil {
		m.Tombstones = make(map[model.ShardID]ShardTombstones)
	}
	ts := ShardTombstones{}
	for _, nid := range t.NodeIDs() {
		ts.NodeIDs = append(ts.NodeIDs, nid.String())
	}
	for _, k := range t.EdgeKeys() {
		ts.Edges = append(ts.Edges, EdgeTombstone{Src: k.Src.String(), Dst: k.Dst.String(), Type: k.Type})
	}
	m.Tombstones[id] = ts
}

// TombstonesFor reconstructs a shard's tombstone set.
func (m *Manifest) TombstonesFor(id model.ShardID) (*shard.TombstoneSet, error) {
	out := shard.NewTombstoneSet()
	ts, ok := m.Tombstones[id]
	if !ok {
		return out, nil
	}
	for _, s := range ts.NodeIDs {
		nid, err := model.ParseID(s)
		if err != nil {
			return nil, corruptf("tombstone node id: %v", err)
		}
		out.AddNode(nid)
	}
	for _, e := range ts.Edges {
		src, err := model.ParseID(e.Src)
		if err != nil {
			return nil, corruptf("tombstone edge src: %v", err)
		}
		dst, err := model.ParseID(e.Dst)
		if err != nil {
			return nil, corruptf("tombstone edge dst: %v", err)
		}
		out.AddEdge(model.EdgeKey{Src: src, Dst: dst, Type: e.Type})
	}
	return out, nil
}

// DescriptorFromMeta builds a segment descriptor from a flush's meta.
func DescriptorFromMeta(id model.SegmentID, shardID model.ShardID, level int, path string, meta segment.Meta) SegmentDescriptor {
	d := SegmentDescriptor{
		ID:          id,
		Shard:       shardID,
		Level:       level,
		Path:        path,
		RecordCount: meta.RecordCount,
		ByteSize:    meta.ByteSize,
	}
	switch meta.Type {
	case segment.TypeNodes:
		d.NodeTypes = sortedValues(meta.NodeTypes, &d.ZonesDropped)
		d.FilePaths = sortedValues(meta.FilePaths, &d.ZonesDropped)
		d.Kind = KindNodes
	case segment.TypeEdges:
		d.EdgeTypes = sortedValues(meta.EdgeTypes, &d.ZonesDropped)
		d.Kind = KindEdges
	}
	return d
}

func sortedValues(values map[string]struct{}, dropped *bool) []string {
	if values == nil || len(values) > segment.MaxZoneMapValuesPerField {
		*dropped = true
		return nil
	}
	out := make([]string, 0, len(values))
	for v := range values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Encode serializes the manifest: a fixed header carrying a CRC32C of
// the zstd-compressed JSON payload, then the payload. The checksum lets
// Decode reject torn or bit-rotted manifests instead of acting on them.
func (m *Manifest) Encode() ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("manifest: marshal: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("manifest: zstd: %w", err)
	}
	compressed := enc.EncodeAll(payload, nil)
	_ = enc.Close()

	out := make([]byte, 12, 12+len(compressed))
	binary.LittleEndian.PutUint32(out[0:4], fileMagic)
	binary.LittleEndian.PutUint32(out[4:8], hash.CRC32C(compressed))
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(compressed)))
	return append(out, compressed...), nil
}

// Decode parses a manifest blob, verifying magic and checksum.
func Decode(data []byte) (*Manifest, error) {
	if len(data) < 12 {
		return nil, corruptf("short manifest: %d bytes", len(data))
	}
	if got := binary.LittleEndian.Uint32(data[0:4]); got != fileMagic {
		return nil, corruptf("bad magic %#x", got)
	}
	wantCRC := binary.LittleEndian.Uint32(data[4:8])
	size := binary.LittleEndian.Uint32(data[8:12])
	compressed := data[12:]
	if uint32(len(compressed)) != size {
		return nil, corruptf("payload size %d, header says %d", len(compressed), size)
	}
	if got := hash.CRC32C(compressed); got != wantCRC {
		return nil, corruptf("checksum mismatch: got %#x, want %#x", got, wantCRC)
	}
	dec, err := zstd.NewReader(bytes.NewReader(nil))
	if err != nil {
		return nil, fmt.Errorf("manifest: zstd: %w", err)
	}
	defer dec.Close()
	payload, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, corruptf("decompress: %v", err)
	}
	var m Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, corruptf("unmarshal: %v", err)
	}
	if m.Version == 0 {
		return nil, corruptf("manifest version 0")
	}
	return &m, nil
}
