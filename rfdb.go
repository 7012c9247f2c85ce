package rfdb

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rfdb/rfdb/internal/engine"
	"github.com/rfdb/rfdb/internal/shard"
	"github.com/rfdb/rfdb/model"
)

// EnrichmentFileContext builds the synthetic owning-file tag for
// cross-file derived edges, so that all edges a producer derives for
// one file commit and re-commit together.
func EnrichmentFileContext(producer, file string) string {
	return shard.EnrichmentFileContext(producer, file)
}

// DB is an embedded columnar graph store for code-graph nodes and typed
// edges. Records are grouped into per-directory shards and written as
// immutable segments; every commit publishes a new manifest version
// that readers pin for their whole operation, so queries never observe
// a half-applied batch.
//
// DB is safe for concurrent use. Writes serialize internally; reads run
// against pinned snapshots without blocking writers.
type DB struct {
	store       *engine.Store
	logger      *Logger
	metrics     *BasicMetricsCollector
	autoCompact bool

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Create initializes a new database in dir.
func Create(ctx context.Context, dir string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	store, err := engine.Create(ctx, dir, o.engineConfig())
	if err != nil {
		return nil, err
	}
	return newDB(store, o), nil
}

// Open loads an existing database from dir.
func Open(ctx context.Context, dir string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	store, err := engine.Open(ctx, dir, o.engineConfig())
	if err != nil {
		return nil, err
	}
	return newDB(store, o), nil
}

// CreateEphemeral creates a fully in-memory database. Nothing touches
// disk; the contents vanish on Close. Intended for tests and
// short-lived analysis runs.
func CreateEphemeral(ctx context.Context, optFns ...Option) (*DB, error) {
	return Create(ctx, "", optFns...)
}

func newDB(store *engine.Store, o *options) *DB {
	return &DB{
		store:       store,
		logger:      o.logger,
		metrics:     o.basic,
		autoCompact: o.autoCompact,
	}
}

// PutNodes writes node records. Inside an open batch they are staged;
// otherwise the call commits immediately as a single-operation batch
// and returns its delta. A record's ID is derived from its SemanticID
// when left zero.
func (db *DB) PutNodes(ctx context.Context, recs []model.NodeRecord) (model.Delta, error) {
	delta, err := db.store.PutNodes(ctx, recs)
	if err != nil {
		return model.Delta{}, err
	}
	db.maybeCompact(delta)
	return delta, nil
}

// PutEdges writes edge records. Every edge must carry an owning-file
// tag (File); use EnrichmentFileContext for cross-file derived edges.
func (db *DB) PutEdges(ctx context.Context, recs []model.EdgeRecord) (model.Delta, error) {
	delta, err := db.store.PutEdges(ctx, recs)
	if err != nil {
		return model.Delta{}, err
	}
	db.maybeCompact(delta)
	return delta, nil
}

// BeginBatch opens an explicit write batch for atomic multi-file
// re-ingestion. Only one batch may be open at a time.
func (db *DB) BeginBatch() error {
	return db.store.BeginBatch()
}

// CommitBatch atomically commits the open batch. Staged records become
// the complete new contents of their owning files; prior records of
// changed files not re-staged are removed. On error the batch stays
// open and nothing becomes visible.
func (db *DB) CommitBatch(ctx context.Context, optFns ...CommitOption) (model.Delta, error) {
	var co CommitOptions
	for _, fn := range optFns {
		fn(&co)
	}
	delta, err := db.store.CommitBatch(ctx, engine.CommitOptions{
		ChangedFiles: co.ChangedFiles,
		Tags:         co.Tags,
	})
	if err != nil {
		return model.Delta{}, err
	}
	db.maybeCompact(delta)
	return delta, nil
}

// AbortBatch discards the open batch's staged records.
func (db *DB) AbortBatch() error {
	return db.store.AbortBatch()
}

// Flush commits any open batch with default options. With no batch open
// it is a no-op; all committed data is already durable.
func (db *DB) Flush(ctx context.Context) (model.Delta, error) {
	if err := db.store.CheckOpen(); err != nil {
		return model.Delta{}, err
	}
	if !db.store.BatchOpen() {
		v, err := db.store.Version()
		if err != nil {
			return model.Delta{}, err
		}
		return model.Delta{Snapshot: v, PreviousSnapshot: v}, nil
	}
	return db.CommitBatch(ctx)
}

// GetNode returns the live node with the given id.
func (db *DB) GetNode(id model.ID) (model.NodeRecord, error) {
	return db.store.GetNode(id)
}

// GetNodeBySemanticID returns the live node whose ID derives from
// semanticID.
func (db *DB) GetNodeBySemanticID(semanticID string) (model.NodeRecord, error) {
	return db.store.GetNode(model.DeriveID(semanticID))
}

// QueryNodes returns all live nodes matching the query, in id order.
func (db *DB) QueryNodes(q model.NodeQuery) ([]model.NodeRecord, error) {
	return db.store.QueryNodes(q)
}

// GetOutgoingEdges returns the live edges leaving id, optionally
// filtered by edge type.
func (db *DB) GetOutgoingEdges(id model.ID, types ...string) ([]model.EdgeRecord, error) {
	return db.store.OutgoingEdges(id, types...)
}

// GetIncomingEdges returns the live edges arriving at id.
func (db *DB) GetIncomingEdges(id model.ID, types ...string) ([]model.EdgeRecord, error) {
	return db.store.IncomingEdges(id, types...)
}

// Reachability returns every node id reachable from the start set
// within maxDepth hops, following edges of the given types in the given
// direction. Dangling edge endpoints appear in the result but are never
// expanded.
func (db *DB) Reachability(ctx context.Context, start []model.ID, edgeTypes []string, dir model.Direction, maxDepth int) ([]model.ID, error) {
	return db.store.Reachability(ctx, start, edgeTypes, dir, maxDepth)
}

// IsEndpoint reports whether the node is a graph endpoint: an external
// side effect, an IO operation, or an exported function.
func (db *DB) IsEndpoint(id model.ID) (bool, error) {
	return db.store.Endpoint(id)
}

// Version returns the current committed snapshot version.
func (db *DB) Version() (uint64, error) {
	return db.store.Version()
}

// TagSnapshot attaches tags to a snapshot version (0 means current).
// Each key=value pair must be unique across all stored snapshots.
// Tagged snapshots are retained: their segments survive compaction.
func (db *DB) TagSnapshot(ctx context.Context, version uint64, tags map[string]string) error {
	return db.store.TagSnapshot(ctx, version, tags)
}

// FindSnapshot returns the snapshot tagged key=value.
func (db *DB) FindSnapshot(ctx context.Context, key, value string) (model.SnapshotInfo, error) {
	return db.store.FindSnapshot(ctx, key, value)
}

// ListSnapshots lists stored snapshots, oldest first. A non-empty
// filter keeps only snapshots carrying every given tag.
func (db *DB) ListSnapshots(ctx context.Context, filter map[string]string) ([]model.SnapshotInfo, error) {
	return db.store.ListSnapshots(ctx, filter)
}

// DeleteSnapshot removes a stored snapshot and garbage-collects
// segments no remaining snapshot references. The current snapshot
// cannot be deleted.
func (db *DB) DeleteSnapshot(ctx context.Context, ref model.SnapshotRef) error {
	return db.store.DeleteSnapshot(ctx, ref)
}

// DiffSnapshots computes the id-level difference between two snapshots.
// An id on both sides counts as modified only when both content hashes
// are known and differ; compaction between the snapshots never shows up
// as a difference.
func (db *DB) DiffSnapshots(ctx context.Context, from, to model.SnapshotRef) (model.SnapshotDiff, error) {
	return db.store.DiffSnapshots(ctx, from, to)
}

// Compact merges every shard's L0 segments and L1 into fresh sorted,
// indexed L1 segments, physically applying tombstones. Readers are
// never blocked; at most one compaction runs at a time.
func (db *DB) Compact(ctx context.Context) error {
	return db.store.Compact(ctx)
}

// Metrics returns a point-in-time copy of the operation counters.
func (db *DB) Metrics() Stats {
	return db.metrics.Snapshot()
}

// Close waits for background compaction and releases the database.
// In-flight reads holding snapshots finish against their pinned
// segments.
func (db *DB) Close() error {
	if db == nil || !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	db.wg.Wait()
	return db.store.Close()
}

// maybeCompact kicks the compaction policy in the background after a
// successful commit. delta.Snapshot is zero for staged-only puts.
func (db *DB) maybeCompact(delta model.Delta) {
	if !db.autoCompact || delta.Snapshot == 0 || db.closed.Load() {
		return
	}
	db.wg.Add(1)
	go func() {
		defer db.wg.Done()
		if err := db.store.MaybeCompact(context.Background()); err != nil {
			db.logger.Warn("background compaction failed", "error", err)
		}
	}()
}

// CommitOptions parameterizes CommitBatch.
type CommitOptions struct {
	// ChangedFiles names files the batch replaces beyond the files its
	// staged records belong to. Listing a file with no staged records
	// deletes its contents.
	ChangedFiles []string

	// Tags to attach to the committed snapshot, e.g. commit=<sha>.
	Tags map[string]string
}

// CommitOption configures one CommitBatch call.
type CommitOption func(*CommitOptions)

// WithChangedFiles declares files whose prior records the batch
// replaces even when nothing new is staged for them.
func WithChangedFiles(files ...string) CommitOption {
	return func(o *CommitOptions) {
		o.ChangedFiles = append(o.ChangedFiles, files...)
	}
}

// WithTags attaches tags to the committed snapshot.
func WithTags(tags map[string]string) CommitOption {
	return func(o *CommitOptions) {
		if o.Tags == nil {
			o.Tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			o.Tags[k] = v
		}
	}
}
