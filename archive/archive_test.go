package archive

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfdb/rfdb/blobstore"
	"github.com/rfdb/rfdb/internal/engine"
	"github.com/rfdb/rfdb/model"
)

// seedDB creates a database with a couple of committed files and returns
// its directory, current version and the ids it holds.
func seedDB(t *testing.T) (string, uint64, []model.ID) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()
	s, err := engine.Create(ctx, dir, engine.Config{ShardCount: 2})
	require.NoError(t, err)

	foo := model.NewNodeRecord("a.go::function::Foo", "function", "Foo", "a.go")
	foo.ContentHash = 1
	bar := model.NewNodeRecord("b.go::struct::Bar", "struct", "Bar", "b.go")
	bar.ContentHash = 2
	require.NoError(t, s.BeginBatch())
	_, err = s.PutNodes(ctx, []model.NodeRecord{foo, bar})
	require.NoError(t, err)
	_, err = s.PutEdges(ctx, []model.EdgeRecord{
		{Src: foo.ID, Dst: bar.ID, Type: "references", File: "a.go"},
	})
	require.NoError(t, err)
	delta, err := s.CommitBatch(ctx, engine.CommitOptions{Tags: map[string]string{"rev": "r1"}})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	return dir, delta.Snapshot, []model.ID{foo.ID, bar.ID}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	dir, version, ids := seedDB(t)
	ctx := context.Background()
	dest := blobstore.NewMemoryStore()
	a := New()

	got, err := a.Backup(ctx, dir, model.ByVersion(version), dest)
	require.NoError(t, err)
	assert.Equal(t, version, got)

	restored := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, a.Restore(ctx, dest, version, restored))

	s, err := engine.Open(ctx, restored, engine.Config{})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	v, err := s.Version()
	require.NoError(t, err)
	assert.Equal(t, version, v)

	for _, id := range ids {
		_, err := s.GetNode(id)
		assert.NoError(t, err)
	}
	out, err := s.OutgoingEdges(ids[0], "references")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, ids[1], out[0].Dst)

	// Tags travel with the manifest.
	info, err := s.FindSnapshot(ctx, "rev", "r1")
	require.NoError(t, err)
	assert.Equal(t, version, info.Version)
}

func TestBackup_ZeroRefArchivesCurrent(t *testing.T) {
	dir, version, _ := seedDB(t)
	dest := blobstore.NewMemoryStore()

	got, err := New().Backup(context.Background(), dir, model.SnapshotRef{}, dest)
	require.NoError(t, err)
	assert.Equal(t, version, got)
}

func TestRestore_RefusesIncomplete(t *testing.T) {
	dir, version, _ := seedDB(t)
	ctx := context.Background()
	dest := blobstore.NewMemoryStore()
	a := New()

	_, err := a.Backup(ctx, dir, model.ByVersion(version), dest)
	require.NoError(t, err)
	require.NoError(t, dest.Delete(ctx, snapshotKey(version, completeName)))

	err = a.Restore(ctx, dest, version, filepath.Join(t.TempDir(), "restored"))
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestRestore_RefusesExistingDatabase(t *testing.T) {
	dir, version, _ := seedDB(t)
	ctx := context.Background()
	dest := blobstore.NewMemoryStore()
	a := New()

	_, err := a.Backup(ctx, dir, model.ByVersion(version), dest)
	require.NoError(t, err)

	// Restoring over the source database itself must be rejected.
	assert.Error(t, a.Restore(ctx, dest, version, dir))
}

func TestList_OnlyCompleteSnapshots(t *testing.T) {
	dir, v1, _ := seedDB(t)
	ctx := context.Background()
	dest := blobstore.NewMemoryStore()
	a := New()

	// Grow the database by one version and archive both.
	s, err := engine.Open(ctx, dir, engine.Config{})
	require.NoError(t, err)
	baz := model.NewNodeRecord("c.go::function::Baz", "function", "Baz", "c.go")
	delta, err := s.PutNodes(ctx, []model.NodeRecord{baz})
	require.NoError(t, err)
	v2 := delta.Snapshot
	require.NoError(t, s.Close())

	_, err = a.Backup(ctx, dir, model.ByVersion(v1), dest)
	require.NoError(t, err)
	_, err = a.Backup(ctx, dir, model.ByVersion(v2), dest)
	require.NoError(t, err)

	versions, err := a.List(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, []uint64{v1, v2}, versions)

	// An interrupted backup has no marker and is not listed.
	require.NoError(t, dest.Delete(ctx, snapshotKey(v1, completeName)))
	versions, err = a.List(ctx, dest)
	require.NoError(t, err)
	assert.Equal(t, []uint64{v2}, versions)
}

func TestDelete_RemovesAllBlobs(t *testing.T) {
	dir, version, _ := seedDB(t)
	ctx := context.Background()
	dest := blobstore.NewMemoryStore()
	a := New()

	_, err := a.Backup(ctx, dir, model.ByVersion(version), dest)
	require.NoError(t, err)
	require.NoError(t, a.Delete(ctx, dest, version))

	names, err := dest.List(ctx, snapshotKey(version)+"/")
	require.NoError(t, err)
	assert.Empty(t, names)

	versions, err := a.List(ctx, dest)
	require.NoError(t, err)
	assert.Empty(t, versions)
}
