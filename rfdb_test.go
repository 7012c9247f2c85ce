package rfdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfdb/rfdb"
	"github.com/rfdb/rfdb/model"
)

func newDB(t *testing.T, optFns ...rfdb.Option) *rfdb.DB {
	t.Helper()
	db, err := rfdb.CreateEphemeral(context.Background(), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func fn(file, name string, hash uint64) model.NodeRecord {
	rec := model.NewNodeRecord(file+"::function::"+name, "function", name, file)
	rec.ContentHash = hash
	return rec
}

func TestDB_PutAndGet(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	foo := fn("a.go", "Foo", 1)
	delta, err := db.PutNodes(ctx, []model.NodeRecord{foo})
	require.NoError(t, err)
	assert.Equal(t, 1, delta.NodesAdded)

	got, err := db.GetNode(foo.ID)
	require.NoError(t, err)
	assert.Equal(t, foo.SemanticID, got.SemanticID)

	got, err = db.GetNodeBySemanticID("a.go::function::Foo")
	require.NoError(t, err)
	assert.Equal(t, foo.ID, got.ID)

	_, err = db.GetNodeBySemanticID("a.go::function::Missing")
	assert.ErrorIs(t, err, rfdb.ErrNotFound)
}

func TestDB_BatchCommit(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	foo := fn("a.go", "Foo", 1)
	bar := fn("a.go", "Bar", 2)

	require.NoError(t, db.BeginBatch())
	assert.ErrorIs(t, db.BeginBatch(), rfdb.ErrConflict)
	_, err := db.PutNodes(ctx, []model.NodeRecord{foo, bar})
	require.NoError(t, err)
	_, err = db.PutEdges(ctx, []model.EdgeRecord{
		{Src: foo.ID, Dst: bar.ID, Type: "calls", File: "a.go"},
	})
	require.NoError(t, err)

	_, err = db.GetNode(foo.ID)
	assert.ErrorIs(t, err, rfdb.ErrNotFound, "staged records are invisible")

	delta, err := db.CommitBatch(ctx, rfdb.WithTags(map[string]string{"commit": "abc123"}))
	require.NoError(t, err)
	assert.Equal(t, 2, delta.NodesAdded)
	assert.Equal(t, 1, delta.EdgesAdded)

	out, err := db.GetOutgoingEdges(foo.ID, "calls")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, bar.ID, out[0].Dst)

	in, err := db.GetIncomingEdges(bar.ID)
	require.NoError(t, err)
	assert.Len(t, in, 1)

	info, err := db.FindSnapshot(ctx, "commit", "abc123")
	require.NoError(t, err)
	assert.Equal(t, delta.Snapshot, info.Version)

	// The same tag pair cannot name a second snapshot.
	require.NoError(t, db.BeginBatch())
	_, err = db.PutNodes(ctx, []model.NodeRecord{fn("b.go", "Baz", 3)})
	require.NoError(t, err)
	_, err = db.CommitBatch(ctx, rfdb.WithTags(map[string]string{"commit": "abc123"}))
	assert.ErrorIs(t, err, rfdb.ErrTagExists)
	require.NoError(t, db.AbortBatch())
}

func TestDB_ChangedFilesReplaceFileContents(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	foo := fn("a.go", "Foo", 1)
	bar := fn("a.go", "Bar", 2)
	_, err := db.PutNodes(ctx, []model.NodeRecord{foo, bar})
	require.NoError(t, err)

	// Deleting a file is a batch that names it with nothing staged.
	require.NoError(t, db.BeginBatch())
	delta, err := db.CommitBatch(ctx, rfdb.WithChangedFiles("a.go"))
	require.NoError(t, err)
	assert.Equal(t, 2, delta.NodesRemoved)
	assert.ElementsMatch(t, []model.ID{foo.ID, bar.ID}, delta.RemovedIDs)

	_, err = db.GetNode(foo.ID)
	assert.ErrorIs(t, err, rfdb.ErrNotFound)
}

func TestDB_EnrichmentContext(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	foo := fn("a.go", "Foo", 1)
	bar := fn("b.go", "Bar", 2)
	_, err := db.PutNodes(ctx, []model.NodeRecord{foo, bar})
	require.NoError(t, err)

	// A derived cross-file edge lives under its producer's synthetic
	// context, so re-running the producer for a.go replaces it.
	ctxFile := rfdb.EnrichmentFileContext("callgraph", "a.go")
	_, err = db.PutEdges(ctx, []model.EdgeRecord{
		{Src: foo.ID, Dst: bar.ID, Type: "calls", File: ctxFile},
	})
	require.NoError(t, err)

	out, err := db.GetOutgoingEdges(foo.ID)
	require.NoError(t, err)
	assert.Len(t, out, 1)

	require.NoError(t, db.BeginBatch())
	_, err = db.CommitBatch(ctx, rfdb.WithChangedFiles(ctxFile))
	require.NoError(t, err)

	out, err = db.GetOutgoingEdges(foo.ID)
	require.NoError(t, err)
	assert.Empty(t, out)
	_, err = db.GetNode(foo.ID)
	assert.NoError(t, err, "nodes of real files are untouched")
}

func TestDB_Flush(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	// No batch open: Flush reports the current version and changes
	// nothing.
	delta, err := db.Flush(ctx)
	require.NoError(t, err)
	assert.True(t, delta.Empty())
	assert.Equal(t, delta.PreviousSnapshot, delta.Snapshot)

	require.NoError(t, db.BeginBatch())
	_, err = db.PutNodes(ctx, []model.NodeRecord{fn("a.go", "Foo", 1)})
	require.NoError(t, err)
	delta, err = db.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, delta.NodesAdded)

	_, err = db.GetNodeBySemanticID("a.go::function::Foo")
	assert.NoError(t, err)
}

func TestDB_QueryAndTraversal(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	handler := model.NewNodeRecord("api.go::FUNCTION::Handle", "FUNCTION", "Handle", "api.go")
	handler.Metadata = `{"exported":true}`
	query := model.NewNodeRecord("api.go::db:query::getUser", "db:query", "getUser", "api.go")
	helper := fn("api.go", "helper", 3)
	_, err := db.PutNodes(ctx, []model.NodeRecord{handler, query, helper})
	require.NoError(t, err)
	_, err = db.PutEdges(ctx, []model.EdgeRecord{
		{Src: handler.ID, Dst: helper.ID, Type: "calls", File: "api.go"},
		{Src: helper.ID, Dst: query.ID, Type: "calls", File: "api.go"},
	})
	require.NoError(t, err)

	got, err := db.QueryNodes(model.NodeQuery{File: "api.go", Type: "function"})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	reach, err := db.Reachability(ctx, []model.ID{handler.ID}, []string{"calls"}, model.Forward, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.ID{helper.ID, query.ID}, reach)

	isEp, err := db.IsEndpoint(handler.ID)
	require.NoError(t, err)
	assert.True(t, isEp)
	isEp, err = db.IsEndpoint(helper.ID)
	require.NoError(t, err)
	assert.False(t, isEp)
}

func TestDB_SnapshotDiff(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()
	db, err := rfdb.Create(ctx, dir, rfdb.WithShardCount(2))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	foo := fn("a.go", "Foo", 10)
	d1, err := db.PutNodes(ctx, []model.NodeRecord{foo})
	require.NoError(t, err)
	require.NoError(t, db.TagSnapshot(ctx, d1.Snapshot, map[string]string{"rev": "r1"}))

	foo.ContentHash = 11
	bar := fn("a.go", "Bar", 20)
	d2, err := db.PutNodes(ctx, []model.NodeRecord{foo, bar})
	require.NoError(t, err)

	diff, err := db.DiffSnapshots(ctx, model.ByTag("rev", "r1"), model.ByVersion(d2.Snapshot))
	require.NoError(t, err)
	assert.Equal(t, []model.ID{bar.ID}, diff.Added)
	assert.Empty(t, diff.Removed)
	assert.Equal(t, []model.ID{foo.ID}, diff.Modified)
}

func TestDB_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	db, err := rfdb.Create(ctx, dir, rfdb.WithShardCount(4), rfdb.WithoutAutoCompaction())
	require.NoError(t, err)
	foo := fn("a.go", "Foo", 1)
	_, err = db.PutNodes(ctx, []model.NodeRecord{foo})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "double close")

	_, err = rfdb.Create(ctx, dir)
	assert.ErrorIs(t, err, rfdb.ErrInvalidArgument)

	db, err = rfdb.Open(ctx, dir)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	got, err := db.GetNode(foo.ID)
	require.NoError(t, err)
	assert.Equal(t, "Foo", got.Name)

	_, err = rfdb.Open(ctx, filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, rfdb.ErrNotFound)
}

func TestDB_AutoCompaction(t *testing.T) {
	db := newDB(t, rfdb.WithCompactionThreshold(2), rfdb.WithShardCount(1))
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := db.PutNodes(ctx, []model.NodeRecord{fn("a.go", "Foo", uint64(i))})
		require.NoError(t, err)
	}
	// Close waits for the background compactions kicked by the commits.
	require.NoError(t, db.Close())

	stats := db.Metrics()
	assert.Equal(t, int64(4), stats.Commits)
	assert.GreaterOrEqual(t, stats.Compactions, int64(1))
}

func TestDB_ExplicitCompactPreservesReads(t *testing.T) {
	db := newDB(t, rfdb.WithoutAutoCompaction())
	ctx := context.Background()

	foo := fn("a.go", "Foo", 1)
	bar := fn("a.go", "Bar", 2)
	_, err := db.PutNodes(ctx, []model.NodeRecord{foo, bar})
	require.NoError(t, err)
	_, err = db.PutNodes(ctx, []model.NodeRecord{foo}) // drops Bar
	require.NoError(t, err)

	require.NoError(t, db.Compact(ctx))

	_, err = db.GetNode(foo.ID)
	assert.NoError(t, err)
	_, err = db.GetNode(bar.ID)
	assert.ErrorIs(t, err, rfdb.ErrNotFound)
	assert.GreaterOrEqual(t, db.Metrics().Compactions, int64(1))
}

func TestDB_MetricsTee(t *testing.T) {
	extra := &rfdb.BasicMetricsCollector{}
	db := newDB(t, rfdb.WithMetricsCollector(extra), rfdb.WithoutAutoCompaction())

	_, err := db.PutNodes(context.Background(), []model.NodeRecord{fn("a.go", "Foo", 1)})
	require.NoError(t, err)

	assert.Equal(t, int64(1), db.Metrics().Commits, "built-in counters always run")
	assert.Equal(t, int64(1), extra.Snapshot().Commits, "user collector sees the same events")
}

func TestDB_ClosedErrors(t *testing.T) {
	db := newDB(t)
	require.NoError(t, db.Close())
	ctx := context.Background()

	_, err := db.PutNodes(ctx, nil)
	assert.ErrorIs(t, err, rfdb.ErrClosed)
	_, err = db.GetNode(model.DeriveID("x"))
	assert.ErrorIs(t, err, rfdb.ErrClosed)
	_, err = db.Flush(ctx)
	assert.ErrorIs(t, err, rfdb.ErrClosed)
	assert.ErrorIs(t, db.BeginBatch(), rfdb.ErrClosed)
}
