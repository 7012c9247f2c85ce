package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rfdb/rfdb/internal/manifest"
	"github.com/rfdb/rfdb/internal/segment"
	"github.com/rfdb/rfdb/internal/shard"
	"github.com/rfdb/rfdb/model"
)

// CommitOptions parameterizes one batch commit.
type CommitOptions struct {
	// ChangedFiles names files whose prior records the batch replaces,
	// beyond the files staged records belong to. A file listed here
	// with no staged records is a deletion.
	ChangedFiles []string

	// Tags to attach to the committed snapshot. Each key=value pair
	// must not already name another snapshot.
	Tags map[string]string
}

// BeginBatch opens an explicit write batch. Only one batch can be open
// at a time; a second BeginBatch fails with ErrConflict.
func (s *Store) BeginBatch() error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batchOpen {
		return fmt.Errorf("%w: batch already open", ErrConflict)
	}
	s.batchOpen = true
	return nil
}

// AbortBatch discards all staged records and closes the batch.
func (s *Store) AbortBatch() error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.batchOpen {
		return fmt.Errorf("%w: no open batch", ErrConflict)
	}
	for _, sh := range s.shards {
		sh.Buffer().Reset()
	}
	s.batchOpen = false
	return nil
}

// PutNodes stages node records. With no batch open the put commits
// immediately as a single-record batch.
func (s *Store) PutNodes(ctx context.Context, recs []model.NodeRecord) (model.Delta, error) {
	if s.closed.Load() {
		return model.Delta{}, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range recs {
		if recs[i].SemanticID == "" {
			return model.Delta{}, fmt.Errorf("%w: node %d has empty semantic id", ErrInvalidArgument, i)
		}
		if recs[i].ID.IsZero() {
			recs[i].ID = model.DeriveID(recs[i].SemanticID)
		}
	}
	for _, rec := range recs {
		s.shards[s.planner.ShardFor(rec.File)].Buffer().PutNode(rec)
	}
	if s.batchOpen {
		return model.Delta{}, nil
	}
	return s.commitLocked(ctx, CommitOptions{})
}

// PutEdges stages edge records. Every edge must carry an owning-file
// tag; it decides the edge's shard and which commits replace it.
func (s *Store) PutEdges(ctx context.Context, recs []model.EdgeRecord) (model.Delta, error) {
	if s.closed.Load() {
		return model.Delta{}, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, rec := range recs {
		if rec.File == "" {
			return model.Delta{}, fmt.Errorf("%w: edge %d (%s) has no owning file", ErrInvalidArgument, i, rec.Key())
		}
		if rec.Src.IsZero() || rec.Dst.IsZero() || rec.Type == "" {
			return model.Delta{}, fmt.Errorf("%w: edge %d is incomplete", ErrInvalidArgument, i)
		}
	}
	for _, rec := range recs {
		s.shards[s.planner.ShardFor(rec.File)].Buffer().PutEdge(rec)
	}
	if s.batchOpen {
		return model.Delta{}, nil
	}
	return s.commitLocked(ctx, CommitOptions{})
}

// CommitBatch atomically commits the open batch: staged records become
// the new contents of their owning files (nodes and edges for files
// staging nodes, edges only for files staging just edges), prior
// records not re-staged are tombstoned, and a new manifest version is
// published. On failure the batch stays open with its staged records
// intact, and no new segment is visible.
func (s *Store) CommitBatch(ctx context.Context, opts CommitOptions) (model.Delta, error) {
	if s.closed.Load() {
		return model.Delta{}, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.batchOpen {
		return model.Delta{}, fmt.Errorf("%w: no open batch", ErrConflict)
	}
	delta, err := s.commitLocked(ctx, opts)
	if err != nil {
		return model.Delta{}, err
	}
	s.batchOpen = false
	return delta, nil
}

// shardCommit is the per-shard commit state assembled before segments
// are written.
type shardCommit struct {
	sh        *shard.Shard
	files     []string
	tombs     *shard.TombstoneSet
	nodeSegID model.SegmentID
	edgeSegID model.SegmentID
	res       *shard.FlushResult
}

func (s *Store) commitLocked(ctx context.Context, opts CommitOptions) (model.Delta, error) {
	start := time.Now()

	// Files staging node records are re-ingested wholesale: their prior
	// nodes and edges are both replaced. Files staging only edges (an
	// enrichment context, typically) replace just the edges they own,
	// leaving the file's nodes to the pass that produces them. Explicit
	// ChangedFiles count as full re-ingestions, so listing a file with
	// nothing staged deletes its contents.
	changed := make(map[string]struct{}, len(opts.ChangedFiles))
	nodeChanged := make(map[string]struct{}, len(opts.ChangedFiles))
	for _, f := range opts.ChangedFiles {
		changed[f] = struct{}{}
		nodeChanged[f] = struct{}{}
	}
	staged := 0
	for _, sh := range s.shards {
		for _, rec := range sh.Buffer().Nodes() {
			changed[rec.File] = struct{}{}
			nodeChanged[rec.File] = struct{}{}
		}
		for _, rec := range sh.Buffer().Edges() {
			changed[rec.File] = struct{}{}
		}
		staged += sh.Buffer().NodeCount() + sh.Buffer().EdgeCount()
	}
	if staged == 0 && len(changed) == 0 {
		return model.Delta{
			Snapshot:         s.current.Version,
			PreviousSnapshot: s.current.Version,
		}, nil
	}

	if err := s.manifests.EnsureTagsFree(ctx, opts.Tags); err != nil {
		return model.Delta{}, err
	}

	changedFiles := make([]string, 0, len(changed))
	for f := range changed {
		changedFiles = append(changedFiles, f)
	}
	sort.Strings(changedFiles)
	filesByShard := s.planner.Plan(changedFiles)

	next := s.current.Clone()
	next.CreatedAtMS = nowMS()
	next.ChangedFiles = changedFiles
	if len(opts.Tags) > 0 {
		next.Tags = make(map[string]string, len(opts.Tags))
		for k, v := range opts.Tags {
			next.Tags[k] = v
		}
	}

	delta := model.Delta{PreviousSnapshot: s.current.Version}
	nodeTypes := make(map[string]struct{})
	edgeTypes := make(map[string]struct{})

	commits := make([]*shardCommit, 0, len(s.shards))
	for _, sh := range s.shards {
		sc := s.prepareShard(sh, filesByShard[sh.ID()], nodeChanged, &delta, nodeTypes, edgeTypes)
		if sc == nil {
			continue
		}
		if sh.Buffer().NodeCount() > 0 {
			sc.nodeSegID = next.AllocSegmentID()
		}
		if sh.Buffer().EdgeCount() > 0 {
			sc.edgeSegID = next.AllocSegmentID()
		}
		commits = append(commits, sc)
	}

	var g errgroup.Group
	for _, sc := range commits {
		g.Go(func() error {
			res, err := sc.sh.Flush(sc.nodeSegID, sc.edgeSegID)
			if err != nil {
				return fmt.Errorf("shard %d: %w", sc.sh.ID(), err)
			}
			sc.res = res
			return nil
		})
	}
	flushErr := g.Wait()

	if flushErr == nil {
		flushErr = ctx.Err()
	}
	if flushErr == nil {
		for _, sc := range commits {
			s.appendDescriptors(next, sc)
			next.SetTombstones(sc.sh.ID(), sc.tombs)
		}
		flushErr = s.manifests.Save(ctx, next)
	}
	if flushErr != nil {
		for _, sc := range commits {
			sc.sh.Discard(sc.res)
		}
		s.metrics.OnCommit(time.Since(start), 0, 0, flushErr)
		return model.Delta{}, flushErr
	}

	// The manifest is durable; installs below cannot fail.
	for _, sc := range commits {
		sc.sh.Adopt(sc.res)
		sc.sh.SetTombstones(sc.tombs)
	}
	s.current = next
	s.publish(next.Version)

	delta.Snapshot = next.Version
	delta.ChangedFiles = changedFiles
	delta.ChangedNodeTypes = sortedKeys(nodeTypes)
	delta.ChangedEdgeTypes = sortedKeys(edgeTypes)
	sortIDs(delta.RemovedIDs)

	s.metrics.OnCommit(time.Since(start), delta.NodesAdded+delta.NodesModified, delta.EdgesAdded, nil)
	s.logger.Info("batch committed",
		slog.Uint64("snapshot", next.Version),
		slog.Int("changed_files", len(changedFiles)),
		slog.Int("nodes_added", delta.NodesAdded),
		slog.Int("nodes_removed", delta.NodesRemoved),
		slog.Int("nodes_modified", delta.NodesModified),
		slog.Int("edges_added", delta.EdgesAdded),
		slog.Int("edges_removed", delta.EdgesRemoved),
		slog.Duration("elapsed", time.Since(start)))
	return delta, nil
}

// prepareShard computes a shard's new tombstone set and its share of
// the delta. files holds every changed file routed to this shard;
// nodeChanged marks the subset whose nodes are replaced too. Returns
// nil when the shard has nothing staged and no changed files, so the
// commit skips it entirely.
func (s *Store) prepareShard(sh *shard.Shard, files []string, nodeChanged map[string]struct{}, delta *model.Delta, nodeTypes, edgeTypes map[string]struct{}) *shardCommit {
	buf := sh.Buffer()
	if buf.IsEmpty() && len(files) == 0 {
		return nil
	}

	var nodeFiles []string
	for _, f := range files {
		if _, ok := nodeChanged[f]; ok {
			nodeFiles = append(nodeFiles, f)
		}
	}
	priorIDs := sh.NodeIDsForFiles(nodeFiles)
	stagedNodes := make(map[model.ID]struct{}, buf.NodeCount())
	for _, id := range buf.NodeIDs() {
		stagedNodes[id] = struct{}{}
	}

	tombs := sh.Tombstones().Clone()

	// Prior nodes of re-ingested files not re-staged are removed.
	for _, id := range priorIDs {
		if _, ok := stagedNodes[id]; ok {
			continue
		}
		tombs.AddNode(id)
		delta.NodesRemoved++
		delta.RemovedIDs = append(delta.RemovedIDs, id)
		if rec, ok := sh.GetNode(id); ok {
			nodeTypes[rec.Type] = struct{}{}
		}
	}

	// Staged records shadow older versions and clear any tombstone,
	// including ones from earlier commits that deleted the id.
	for _, rec := range buf.Nodes() {
		prev, existed := sh.GetNode(rec.ID)
		tombs.RemoveNode(rec.ID)
		switch {
		case !existed:
			delta.NodesAdded++
			nodeTypes[rec.Type] = struct{}{}
		case prev.ContentHash != 0 && rec.ContentHash != 0 && prev.ContentHash != rec.ContentHash:
			delta.NodesModified++
			nodeTypes[rec.Type] = struct{}{}
		}
	}

	// Prior edges owned by changed files not re-staged are removed.
	// Ownership, not endpoints, decides replacement: re-ingesting a
	// file leaves edges other producers derived from its nodes alone,
	// and re-running a producer's enrichment context replaces exactly
	// that context's edges.
	stagedEdges := make(map[model.EdgeKey]struct{}, buf.EdgeCount())
	for _, rec := range buf.Edges() {
		stagedEdges[rec.Key()] = struct{}{}
	}
	for _, key := range sh.EdgeKeysByFile(files) {
		if _, ok := stagedEdges[key]; ok {
			continue
		}
		tombs.AddEdge(key)
		delta.EdgesRemoved++
		edgeTypes[key.Type] = struct{}{}
	}
	for key := range stagedEdges {
		existed := sh.HasEdge(key)
		tombs.RemoveEdge(key)
		if !existed {
			delta.EdgesAdded++
			edgeTypes[key.Type] = struct{}{}
		}
	}

	return &shardCommit{sh: sh, files: files, tombs: tombs}
}

// appendDescriptors records a shard's freshly flushed L0 segments in
// the manifest.
func (s *Store) appendDescriptors(m *manifest.Manifest, sc *shardCommit) {
	if sc.res == nil {
		return
	}
	shardID := sc.sh.ID()
	if sc.res.Node != nil {
		rel := path.Join(shardsDirName, shard.DirName(shardID), shard.SegmentFileName(sc.nodeSegID, segment.TypeNodes))
		m.Segments = append(m.Segments, manifest.DescriptorFromMeta(sc.nodeSegID, shardID, 0, rel, sc.res.NodeMeta))
	}
	if sc.res.Edge != nil {
		rel := path.Join(shardsDirName, shard.DirName(shardID), shard.SegmentFileName(sc.edgeSegID, segment.TypeEdges))
		m.Segments = append(m.Segments, manifest.DescriptorFromMeta(sc.edgeSegID, shardID, 0, rel, sc.res.EdgeMeta))
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nowMS() int64 {
	return time.Now().UnixMilli()
}
