// Package rfdb is an embedded, append-mostly columnar store for code
// graphs: nodes keyed by stable semantic ids and typed directed edges
// between them.
//
// Records are partitioned into shards by the parent directory of their
// owning file and written as immutable columnar segments with bloom
// filters and zone maps. A commit atomically replaces the contents of
// the changed files: staged records become the new truth, prior records
// of those files are tombstoned, and a new manifest version is
// published in one step. Readers pin a snapshot for their whole
// operation and never block writers.
//
// Background compaction merges each shard's accumulated segments into
// one sorted, indexed segment, physically applying tombstones. Snapshot
// versions can be tagged (e.g. commit=<sha>), looked up, diffed at the
// id level, and deleted; tagged snapshots retain their segments.
//
// Basic usage:
//
//	db, err := rfdb.Create(ctx, "/var/lib/myidx", rfdb.WithShardCount(8))
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	if err := db.BeginBatch(); err != nil {
//		return err
//	}
//	_, err = db.PutNodes(ctx, []model.NodeRecord{
//		model.NewNodeRecord("pkg/server.go:Handler", "FUNCTION", "Handler", "pkg/server.go"),
//	})
//	if err != nil {
//		return err
//	}
//	delta, err := db.CommitBatch(ctx, rfdb.WithTags(map[string]string{"commit": sha}))
//
// Re-ingesting a file is the same flow: stage the file's complete new
// contents and commit. The returned delta reports what actually
// changed; re-committing identical content yields an empty delta.
package rfdb
