package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfdb/rfdb/internal/segment"
	"github.com/rfdb/rfdb/internal/shard"
	"github.com/rfdb/rfdb/model"
)

func TestManifest_EncodeDecode(t *testing.T) {
	m := New(8)
	m.CreatedAtMS = 1234
	m.NextSegmentID = 7
	m.Segments = []SegmentDescriptor{
		{ID: 1, Kind: KindNodes, Level: 0, Shard: 3, Path: "shards/shard_0003/seg_000001_nodes.seg", RecordCount: 10, ByteSize: 2048, NodeTypes: []string{"function"}},
		{ID: 2, Kind: KindEdges, Level: 0, Shard: 3, Path: "shards/shard_0003/seg_000002_edges.seg", RecordCount: 4, EdgeTypes: []string{"calls"}},
	}
	m.Tags = map[string]string{"release": "v1"}
	m.ChangedFiles = []string{"pkg/a.go"}

	data, err := m.Encode()
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestDecode_Corrupt(t *testing.T) {
	m := New(4)
	data, err := m.Encode()
	require.NoError(t, err)

	_, err = Decode(data[:8])
	assert.ErrorIs(t, err, ErrCorrupt)

	bad := append([]byte(nil), data...)
	bad[0] ^= 0xFF // magic
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrCorrupt)

	bad = append([]byte(nil), data...)
	bad[len(bad)-1] ^= 0xFF // payload bit flip
	_, err = Decode(bad)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestManifest_Clone(t *testing.T) {
	m := New(2)
	m.NextSegmentID = 5
	m.Segments = []SegmentDescriptor{{ID: 1, Kind: KindNodes, Shard: 0}}
	m.Tags = map[string]string{"release": "v1"}
	m.ChangedFiles = []string{"a.go"}

	ts := shard.NewTombstoneSet()
	ts.AddNode(model.DeriveID("x"))
	m.SetTombstones(1, ts)

	next := m.Clone()
	assert.Equal(t, m.Version+1, next.Version)
	assert.Equal(t, m.Version, next.Parent)
	assert.Equal(t, m.Segments, next.Segments)
	// Per-version fields do not carry forward.
	assert.Nil(t, next.Tags)
	assert.Nil(t, next.ChangedFiles)

	// Deep copy: mutating the clone leaves the original alone.
	next.Segments[0].RecordCount = 99
	assert.Zero(t, m.Segments[0].RecordCount)
	delete(next.Tombstones, 1)
	assert.Contains(t, m.Tombstones, model.ShardID(1))
}

func TestManifest_AllocSegmentID(t *testing.T) {
	m := New(1)
	assert.Equal(t, model.SegmentID(0), m.AllocSegmentID())
	assert.Equal(t, model.SegmentID(1), m.AllocSegmentID())
	assert.Equal(t, uint64(2), m.NextSegmentID)
}

func TestManifest_SegmentsForShard(t *testing.T) {
	m := New(4)
	m.Segments = []SegmentDescriptor{
		{ID: 5, Level: 0, Shard: 1},
		{ID: 2, Level: 1, Shard: 1},
		{ID: 3, Level: 0, Shard: 1},
		{ID: 4, Level: 0, Shard: 2},
	}
	got := m.SegmentsForShard(1)
	require.Len(t, got, 3)
	// L1 first, then L0 oldest first.
	assert.Equal(t, model.SegmentID(2), got[0].ID)
	assert.Equal(t, model.SegmentID(3), got[1].ID)
	assert.Equal(t, model.SegmentID(5), got[2].ID)
}

func TestManifest_ReplaceShard(t *testing.T) {
	m := New(4)
	m.Segments = []SegmentDescriptor{
		{ID: 1, Shard: 1}, {ID: 2, Shard: 2},
	}
	m.Indexes = []IndexDescriptor{
		{Shard: 1, Kind: IndexGlobal, Path: "old"},
	}
	ts := shard.NewTombstoneSet()
	ts.AddNode(model.DeriveID("x"))
	m.SetTombstones(1, ts)

	m.ReplaceShard(1,
		[]SegmentDescriptor{{ID: 9, Shard: 1, Level: 1}},
		[]IndexDescriptor{{Shard: 1, Kind: IndexGlobal, Path: "new"}})

	require.Len(t, m.Segments, 2)
	assert.Equal(t, model.SegmentID(2), m.Segments[0].ID)
	assert.Equal(t, model.SegmentID(9), m.Segments[1].ID)
	require.Len(t, m.Indexes, 1)
	assert.Equal(t, "new", m.Indexes[0].Path)
	assert.NotContains(t, m.Tombstones, model.ShardID(1))
}

func TestManifest_TombstoneRoundTrip(t *testing.T) {
	m := New(2)
	ts := shard.NewTombstoneSet()
	ts.AddNode(model.DeriveID("a"))
	ts.AddNode(model.DeriveID("b"))
	ts.AddEdge(model.EdgeKey{Src: model.DeriveID("a"), Dst: model.DeriveID("c"), Type: "calls"})
	m.SetTombstones(0, ts)

	data, err := m.Encode()
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	got, err := decoded.TombstonesFor(0)
	require.NoError(t, err)
	assert.Equal(t, 2, got.NodeCount())
	assert.Equal(t, 1, got.EdgeCount())
	assert.True(t, got.ContainsNode(model.DeriveID("a")))

	// Empty sets drop the entry entirely.
	m.SetTombstones(0, shard.NewTombstoneSet())
	assert.NotContains(t, m.Tombstones, model.ShardID(0))

	empty, err := m.TombstonesFor(1)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
}

func TestDescriptorFromMeta(t *testing.T) {
	meta := segment.Meta{
		Type:        segment.TypeNodes,
		RecordCount: 3,
		ByteSize:    512,
		NodeTypes:   map[string]struct{}{"function": {}, "struct": {}},
		FilePaths:   map[string]struct{}{"pkg/a.go": {}},
		EdgeTypes:   map[string]struct{}{},
	}
	d := DescriptorFromMeta(4, 2, 0, "p", meta)
	assert.Equal(t, KindNodes, d.Kind)
	assert.Equal(t, []string{"function", "struct"}, d.NodeTypes)
	assert.Equal(t, []string{"pkg/a.go"}, d.FilePaths)
	assert.False(t, d.ZonesDropped)

	edgeMeta := segment.Meta{
		Type:        segment.TypeEdges,
		RecordCount: 1,
		EdgeTypes:   map[string]struct{}{"calls": {}},
	}
	d = DescriptorFromMeta(5, 2, 1, "q", edgeMeta)
	assert.Equal(t, KindEdges, d.Kind)
	assert.Equal(t, []string{"calls"}, d.EdgeTypes)
	assert.Empty(t, d.NodeTypes)
}

func TestLivePaths(t *testing.T) {
	a := New(1)
	a.Segments = []SegmentDescriptor{{ID: 1, Path: "s1"}, {ID: 2, Path: ""}}
	a.Indexes = []IndexDescriptor{{Path: "i1"}}
	b := New(1)
	b.Segments = []SegmentDescriptor{{ID: 3, Path: "s2"}}

	live := LivePaths(a, b, nil)
	assert.Equal(t, map[string]struct{}{"s1": {}, "i1": {}, "s2": {}}, live)
}
