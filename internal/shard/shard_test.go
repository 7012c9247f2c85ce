package shard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfdb/rfdb/internal/fs"
	"github.com/rfdb/rfdb/internal/segment"
	"github.com/rfdb/rfdb/model"
)

func node(file, name string, hash uint64) model.NodeRecord {
	rec := model.NewNodeRecord(file+"::function::"+name, "function", name, file)
	rec.ContentHash = hash
	return rec
}

func edge(src, dst model.NodeRecord, typ string) model.EdgeRecord {
	return model.EdgeRecord{Src: src.ID, Dst: dst.ID, Type: typ, File: src.File}
}

// flushInto stages records, flushes and adopts them as one L0 pair.
func flushInto(t *testing.T, s *Shard, segID model.SegmentID, nodes []model.NodeRecord, edges []model.EdgeRecord) {
	t.Helper()
	s.Buffer().PutNodes(nodes)
	s.Buffer().PutEdges(edges)
	res, err := s.Flush(segID, segID+1)
	require.NoError(t, err)
	require.NotNil(t, res)
	s.Adopt(res)
}

func TestShard_FlushAndRead(t *testing.T) {
	s := New(0, "", fs.Default, nil)
	defer s.Close()

	a := node("pkg/a.go", "A", 1)
	b := node("pkg/a.go", "B", 2)
	flushInto(t, s, 1, []model.NodeRecord{a, b}, []model.EdgeRecord{edge(a, b, "calls")})

	v := s.Snapshot()
	defer v.Release()

	got, ok := v.GetNode(a.ID)
	require.True(t, ok)
	assert.Equal(t, a, got)

	out := v.EdgesFrom(a.ID, nil)
	require.Len(t, out, 1)
	assert.Equal(t, b.ID, out[0].Dst)

	in := v.EdgesTo(b.ID, nil)
	require.Len(t, in, 1)
	assert.Equal(t, a.ID, in[0].Src)

	assert.True(t, v.HasEdge(model.EdgeKey{Src: a.ID, Dst: b.ID, Type: "calls"}))
	assert.False(t, v.HasEdge(model.EdgeKey{Src: a.ID, Dst: b.ID, Type: "references"}))
}

func TestShard_NewerSegmentShadowsOlder(t *testing.T) {
	s := New(0, "", fs.Default, nil)
	defer s.Close()

	old := node("pkg/a.go", "A", 1)
	flushInto(t, s, 1, []model.NodeRecord{old}, nil)

	newer := old
	newer.ContentHash = 99
	newer.Metadata = `{"line":42}`
	flushInto(t, s, 3, []model.NodeRecord{newer}, nil)

	v := s.Snapshot()
	defer v.Release()

	got, ok := v.GetNode(old.ID)
	require.True(t, ok)
	assert.Equal(t, uint64(99), got.ContentHash)

	// Only one live version despite two segments.
	assert.Len(t, v.LiveNodes(), 1)
}

func TestShard_TombstonesHideOlderVersions(t *testing.T) {
	s := New(0, "", fs.Default, nil)
	defer s.Close()

	a := node("pkg/a.go", "A", 1)
	b := node("pkg/a.go", "B", 2)
	flushInto(t, s, 1, []model.NodeRecord{a, b}, []model.EdgeRecord{edge(a, b, "calls")})

	s.Tombstones().AddNode(a.ID)
	s.Tombstones().AddEdge(model.EdgeKey{Src: a.ID, Dst: b.ID, Type: "calls"})

	v := s.Snapshot()
	defer v.Release()

	_, ok := v.GetNode(a.ID)
	assert.False(t, ok)
	assert.Empty(t, v.EdgesFrom(a.ID, nil))
	assert.Len(t, v.LiveNodes(), 1)
	assert.Empty(t, v.LiveEdges())
}

func TestShard_SnapshotIsolation(t *testing.T) {
	s := New(0, "", fs.Default, nil)
	defer s.Close()

	a := node("pkg/a.go", "A", 1)
	flushInto(t, s, 1, []model.NodeRecord{a}, nil)

	v := s.Snapshot()
	defer v.Release()

	// Tombstoning after the snapshot does not affect the pinned view.
	s.Tombstones().AddNode(a.ID)

	_, ok := v.GetNode(a.ID)
	assert.True(t, ok)

	v2 := s.Snapshot()
	defer v2.Release()
	_, ok = v2.GetNode(a.ID)
	assert.False(t, ok)
}

func TestShard_DiscardUnwindsFlush(t *testing.T) {
	s := New(0, "", fs.Default, nil)
	defer s.Close()

	a := node("pkg/a.go", "A", 1)
	s.Buffer().PutNode(a)
	res, err := s.Flush(1, 2)
	require.NoError(t, err)
	require.NotNil(t, res)

	s.Discard(res)

	// The buffer still holds the staged record for a retry.
	assert.Equal(t, 1, s.Buffer().NodeCount())

	v := s.Snapshot()
	defer v.Release()
	_, ok := v.GetNode(a.ID)
	assert.False(t, ok)
}

func TestShard_FlushEmptyBuffer(t *testing.T) {
	s := New(0, "", fs.Default, nil)
	defer s.Close()

	res, err := s.Flush(1, 2)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestShard_FlushToDisk(t *testing.T) {
	dir := t.TempDir()
	s := New(0, dir, fs.Default, nil)
	defer s.Close()

	a := node("pkg/a.go", "A", 1)
	b := node("pkg/b.go", "B", 2)
	s.Buffer().PutNodes([]model.NodeRecord{a, b})
	s.Buffer().PutEdge(edge(a, b, "calls"))

	res, err := s.Flush(7, 8)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.NodePath, SegmentFileName(7, segment.TypeNodes))
	assert.Contains(t, res.EdgePath, SegmentFileName(8, segment.TypeEdges))
	s.Adopt(res)

	v := s.Snapshot()
	defer v.Release()
	got, ok := v.GetNode(b.ID)
	require.True(t, ok)
	assert.Equal(t, b, got)
}

func TestShard_FindNodes(t *testing.T) {
	s := New(0, "", fs.Default, nil)
	defer s.Close()

	fn := node("pkg/a.go", "Handler", 1)
	st := model.NewNodeRecord("pkg/a.go::struct::Server", "struct", "Server", "pkg/a.go")
	st.ContentHash = 2
	other := node("pkg/b.go", "Helper", 3)
	flushInto(t, s, 1, []model.NodeRecord{fn, st, other}, nil)

	v := s.Snapshot()
	defer v.Release()

	byType := v.FindNodes(model.NodeQuery{Type: "struct"})
	require.Len(t, byType, 1)
	assert.Equal(t, "Server", byType[0].Name)

	byFile := v.FindNodes(model.NodeQuery{File: "pkg/a.go"})
	assert.Len(t, byFile, 2)

	byName := v.FindNodes(model.NodeQuery{Name: "Helper"})
	require.Len(t, byName, 1)
	assert.Equal(t, "pkg/b.go", byName[0].File)

	both := v.FindNodes(model.NodeQuery{Type: "function", File: "pkg/b.go"})
	assert.Len(t, both, 1)

	none := v.FindNodes(model.NodeQuery{Type: "interface"})
	assert.Empty(t, none)
}

func TestShard_EdgesFromTypeFilter(t *testing.T) {
	s := New(0, "", fs.Default, nil)
	defer s.Close()

	a := node("pkg/a.go", "A", 1)
	b := node("pkg/a.go", "B", 2)
	c := node("pkg/a.go", "C", 3)
	flushInto(t, s, 1, []model.NodeRecord{a, b, c}, []model.EdgeRecord{
		edge(a, b, "calls"),
		edge(a, c, "references"),
	})

	v := s.Snapshot()
	defer v.Release()

	all := v.EdgesFrom(a.ID, nil)
	assert.Len(t, all, 2)

	calls := v.EdgesFrom(a.ID, []string{"calls"})
	require.Len(t, calls, 1)
	assert.Equal(t, b.ID, calls[0].Dst)
}

func TestShard_EdgeKeysByFile(t *testing.T) {
	s := New(0, "", fs.Default, nil)
	defer s.Close()

	a := node("pkg/a.go", "A", 1)
	b := node("pkg/b.go", "B", 2)
	ctx := EnrichmentFileContext("types", "pkg/a.go")
	enriched := model.EdgeRecord{Src: a.ID, Dst: b.ID, Type: "resolves_to", File: ctx}
	flushInto(t, s, 1, []model.NodeRecord{a, b}, []model.EdgeRecord{
		edge(a, b, "calls"),
		edge(b, a, "calls"),
		enriched,
	})

	v := s.Snapshot()
	defer v.Release()

	// Ownership follows the File tag, not the endpoints: a.go owns only
	// the a->b call edge, the enrichment context owns its derived edge
	// even though both endpoints live in other files.
	keys := v.EdgeKeysByFile([]string{"pkg/a.go"})
	require.Len(t, keys, 1)
	assert.Equal(t, model.EdgeKey{Src: a.ID, Dst: b.ID, Type: "calls"}, keys[0])

	keys = v.EdgeKeysByFile([]string{ctx})
	require.Len(t, keys, 1)
	assert.Equal(t, "resolves_to", keys[0].Type)

	assert.Empty(t, v.EdgeKeysByFile(nil))
}

func TestShard_EdgeKeysByFile_NewestOwnerWins(t *testing.T) {
	s := New(0, "", fs.Default, nil)
	defer s.Close()

	a := node("pkg/a.go", "A", 1)
	b := node("pkg/b.go", "B", 2)
	moved := model.EdgeRecord{Src: a.ID, Dst: b.ID, Type: "calls", File: "pkg/a.go"}
	flushInto(t, s, 1, []model.NodeRecord{a, b}, []model.EdgeRecord{moved})

	// A later commit re-stages the same key under another owner; the
	// stale row must not surrender the edge to its old file.
	moved.File = "pkg/b.go"
	flushInto(t, s, 3, nil, []model.EdgeRecord{moved})

	v := s.Snapshot()
	defer v.Release()

	assert.Empty(t, v.EdgeKeysByFile([]string{"pkg/a.go"}))
	keys := v.EdgeKeysByFile([]string{"pkg/b.go"})
	require.Len(t, keys, 1)
	assert.Equal(t, moved.Key(), keys[0])
}

func TestShard_NodeIDsForFiles(t *testing.T) {
	s := New(0, "", fs.Default, nil)
	defer s.Close()

	a := node("pkg/a.go", "A", 1)
	b := node("pkg/b.go", "B", 2)
	flushInto(t, s, 1, []model.NodeRecord{a, b}, nil)

	v := s.Snapshot()
	defer v.Release()

	ids := v.NodeIDsForFiles([]string{"pkg/a.go"})
	require.Len(t, ids, 1)
	assert.Equal(t, a.ID, ids[0])

	assert.Empty(t, v.NodeIDsForFiles([]string{"pkg/c.go"}))
}

func TestBuffer_NodeUpsert(t *testing.T) {
	b := NewBuffer()
	rec := node("pkg/a.go", "A", 1)
	b.PutNode(rec)

	rec.ContentHash = 2
	b.PutNode(rec)

	assert.Equal(t, 1, b.NodeCount())
	assert.Equal(t, uint64(2), b.Nodes()[0].ContentHash)
}

func TestBuffer_EdgeDedup(t *testing.T) {
	b := NewBuffer()
	a := node("pkg/a.go", "A", 1)
	c := node("pkg/a.go", "C", 2)

	e := edge(a, c, "calls")
	b.PutEdge(e)

	e.Metadata = `{"site":9}`
	b.PutEdge(e)

	require.Equal(t, 1, b.EdgeCount())
	assert.Equal(t, `{"site":9}`, b.Edges()[0].Metadata)

	b.Reset()
	assert.True(t, b.IsEmpty())
}

func TestTombstoneSet_Operations(t *testing.T) {
	ts := NewTombstoneSet()
	id := model.DeriveID("a")
	key := model.EdgeKey{Src: id, Dst: model.DeriveID("b"), Type: "calls"}

	ts.AddNode(id)
	ts.AddEdge(key)
	assert.True(t, ts.ContainsNode(id))
	assert.True(t, ts.ContainsEdge(key))
	assert.Equal(t, 1, ts.NodeCount())
	assert.Equal(t, 1, ts.EdgeCount())

	clone := ts.Clone()
	ts.RemoveNode(id)
	assert.False(t, ts.ContainsNode(id))
	assert.True(t, clone.ContainsNode(id))

	other := NewTombstoneSet()
	other.AddEdge(key)
	clone.Subtract(other)
	assert.False(t, clone.ContainsEdge(key))
	assert.True(t, clone.ContainsNode(id))

	clone.Reset()
	assert.True(t, clone.IsEmpty())
}

func TestTombstoneSet_SortedKeys(t *testing.T) {
	ts := NewTombstoneSet()
	for i := 0; i < 20; i++ {
		ts.AddNode(model.DeriveID(fmt.Sprintf("n%d", i)))
	}
	ids := ts.NodeIDs()
	require.Len(t, ids, 20)
	for i := 1; i < len(ids); i++ {
		assert.True(t, ids[i-1].Less(ids[i]))
	}
}

func TestPlanner_Deterministic(t *testing.T) {
	p, err := NewPlanner(8)
	require.NoError(t, err)
	assert.Equal(t, uint16(8), p.ShardCount())

	assert.Equal(t, p.ShardFor("pkg/a/x.go"), p.ShardFor("pkg/a/x.go"))
	// Files in one directory colocate.
	assert.Equal(t, p.ShardFor("pkg/a/x.go"), p.ShardFor("pkg/a/y.go"))

	plan := p.Plan([]string{"pkg/a/x.go", "pkg/a/y.go", "pkg/b/z.go"})
	total := 0
	for _, files := range plan {
		total += len(files)
	}
	assert.Equal(t, 3, total)
	assert.Len(t, plan[p.ShardFor("pkg/a/x.go")], 2)
}

func TestPlanner_ZeroShards(t *testing.T) {
	_, err := NewPlanner(0)
	assert.Error(t, err)
}

func TestEnrichmentFileContext(t *testing.T) {
	key := EnrichmentFileContext("typeflow", "pkg/a.go")
	assert.Equal(t, "__enrichment__/typeflow/pkg/a.go", key)
	// Distinct producers get distinct contexts for the same file.
	assert.NotEqual(t, key, EnrichmentFileContext("other", "pkg/a.go"))
}
