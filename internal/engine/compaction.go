package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rfdb/rfdb/internal/fs"
	"github.com/rfdb/rfdb/internal/index"
	"github.com/rfdb/rfdb/internal/manifest"
	"github.com/rfdb/rfdb/internal/segment"
	"github.com/rfdb/rfdb/internal/shard"
	"github.com/rfdb/rfdb/model"
)

// compactionTask carries one shard's compaction through its three
// phases: snapshot under the writer lock, merge and write off-lock,
// install under the writer lock again.
type compactionTask struct {
	sh      *shard.Shard
	view    *shard.View
	inputs  map[model.SegmentID]struct{}
	applied *shard.TombstoneSet
	l0Count int

	nodeSegID model.SegmentID
	edgeSegID model.SegmentID

	nodeEntry *shard.NodeEntry
	edgeEntry *shard.EdgeEntry
	nodeMeta  segment.Meta
	edgeMeta  segment.Meta

	global *index.Global
	built  index.Built

	segDescs []manifest.SegmentDescriptor
	ixDescs  []manifest.IndexDescriptor
	written  []string
}

// Compact merges every shard holding L0 segments or pending tombstones,
// regardless of the configured policy.
func (s *Store) Compact(ctx context.Context) error {
	return s.compact(ctx, CompactAllPolicy{})
}

// MaybeCompact runs the configured compaction policy and compacts the
// shards it picks. It returns immediately when another compaction is
// already running.
func (s *Store) MaybeCompact(ctx context.Context) error {
	return s.compact(ctx, s.cfg.Policy)
}

func (s *Store) compact(ctx context.Context, policy Policy) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.compacting.CompareAndSwap(false, true) {
		return nil
	}
	defer s.compacting.Store(false)
	start := time.Now()

	tasks, err := s.snapshotForCompaction(policy)
	if err != nil || len(tasks) == 0 {
		return err
	}

	// Phase 2: merge and write outside the writer lock. Commits keep
	// flowing; they only append L0 segments the install phase preserves.
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			if err := s.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer s.sem.Release(1)
			return s.mergeShard(gctx, t)
		})
	}
	if err := g.Wait(); err != nil {
		s.abandonCompaction(tasks)
		s.metrics.OnCompaction(time.Since(start), 0, 0, err)
		return err
	}

	merged, created, err := s.installCompaction(ctx, tasks)
	s.metrics.OnCompaction(time.Since(start), merged, created, err)
	if err != nil {
		return err
	}
	s.logger.Info("compaction finished",
		slog.Int("shards", len(tasks)),
		slog.Int("segments_merged", merged),
		slog.Int("segments_created", created),
		slog.Duration("elapsed", time.Since(start)))
	s.gcSegments(ctx)
	return nil
}

// snapshotForCompaction is phase 1: under the writer lock, pin the
// chosen shards' views, record the input segment set and the tombstones
// the merge will apply, and reserve output segment ids.
func (s *Store) snapshotForCompaction(policy Policy) ([]*compactionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return nil, ErrClosed
	}

	stats := make([]ShardStats, len(s.shards))
	for i, sh := range s.shards {
		stats[i] = ShardStats{
			Shard:      sh.ID(),
			L0Segments: sh.L0Count(),
			L0Records:  sh.L0Records(),
			Tombstones: sh.Tombstones().NodeCount() + sh.Tombstones().EdgeCount(),
			HasL1:      sh.L1NodeEntry() != nil || sh.L1EdgeEntry() != nil,
		}
	}
	picked := policy.Pick(stats)

	var tasks []*compactionTask
	for _, id := range picked {
		sh := s.shards[id]
		if sh.L0Count() == 0 && sh.Tombstones().IsEmpty() {
			continue
		}
		view := sh.Snapshot()
		t := &compactionTask{
			sh:      sh,
			view:    view,
			inputs:  make(map[model.SegmentID]struct{}),
			applied: view.TombstoneView(),
		}
		for _, e := range view.L0NodeEntries() {
			t.inputs[e.ID] = struct{}{}
			t.l0Count++
		}
		for _, e := range view.L0EdgeEntries() {
			t.inputs[e.ID] = struct{}{}
			t.l0Count++
		}
		if e := view.L1NodeEntry(); e != nil {
			t.inputs[e.ID] = struct{}{}
		}
		if e := view.L1EdgeEntry(); e != nil {
			t.inputs[e.ID] = struct{}{}
		}
		// Reserve ids in the in-memory counter; the clone saved at
		// install carries it forward, so ids burn on abort but never
		// collide.
		t.nodeSegID = s.current.AllocSegmentID()
		t.edgeSegID = s.current.AllocSegmentID()
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// mergeShard is phase 2 for one shard: merge the pinned view's segments
// into fresh L1 node and edge segments, rebuild the shard's indexes,
// and write everything to disk without installing it.
func (s *Store) mergeShard(ctx context.Context, t *compactionTask) error {
	nodes := mergeNodes(t.view, t.applied)
	edges := mergeEdges(t.view, t.applied)
	shardID := t.sh.ID()

	if len(nodes) > 0 {
		w := segment.NewNodeWriter(s.logger)
		for _, rec := range nodes {
			if err := w.Add(rec); err != nil {
				return err
			}
		}
		entry, meta, written, err := s.writeCompactedNodes(ctx, t, w)
		if err != nil {
			return err
		}
		t.nodeEntry, t.nodeMeta = entry, meta
		if written != "" {
			t.written = append(t.written, written)
		}
		rel := path.Join(shardsDirName, shard.DirName(shardID), shard.SegmentFileName(t.nodeSegID, segment.TypeNodes))
		t.segDescs = append(t.segDescs, manifest.DescriptorFromMeta(t.nodeSegID, shardID, 1, rel, meta))

		t.built = index.Build(nodes, shardID, t.nodeSegID)
		t.global = index.BuildGlobal(t.built.Entries)
		if err := s.writeIndexes(t); err != nil {
			return err
		}
	}

	if len(edges) > 0 {
		w := segment.NewEdgeWriter(s.logger)
		for _, rec := range edges {
			w.Add(rec)
		}
		entry, meta, written, err := s.writeCompactedEdges(ctx, t, w)
		if err != nil {
			return err
		}
		t.edgeEntry, t.edgeMeta = entry, meta
		if written != "" {
			t.written = append(t.written, written)
		}
		rel := path.Join(shardsDirName, shard.DirName(shardID), shard.SegmentFileName(t.edgeSegID, segment.TypeEdges))
		t.segDescs = append(t.segDescs, manifest.DescriptorFromMeta(t.edgeSegID, shardID, 1, rel, meta))
	}
	return nil
}

// mergeNodes resolves one live record per id across the view's
// segments. Keep sets are computed newest-first, so later (older)
// segments only contribute rows whose id no newer segment shadows.
func mergeNodes(v *shard.View, tombs *shard.TombstoneSet) []model.NodeRecord {
	l0 := v.L0NodeEntries()
	segs := make([]*segment.NodeSegment, 0, len(l0)+1)
	for i := len(l0) - 1; i >= 0; i-- {
		segs = append(segs, l0[i].Seg)
	}
	if e := v.L1NodeEntry(); e != nil {
		segs = append(segs, e.Seg)
	}

	seen := make(map[model.ID]struct{})
	keeps := make([]*roaring.Bitmap, len(segs))
	total := 0
	for i, seg := range segs {
		keep := roaring.New()
		seg.Scan(func(row int) bool {
			id := seg.ID(row)
			if _, ok := seen[id]; ok {
				return true
			}
			seen[id] = struct{}{}
			if !tombs.ContainsNode(id) {
				keep.Add(uint32(row))
			}
			return true
		})
		keeps[i] = keep
		total += int(keep.GetCardinality())
	}

	out := make([]model.NodeRecord, 0, total)
	for i, seg := range segs {
		it := keeps[i].Iterator()
		for it.HasNext() {
			out = append(out, seg.Record(int(it.Next())))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

func mergeEdges(v *shard.View, tombs *shard.TombstoneSet) []model.EdgeRecord {
	l0 := v.L0EdgeEntries()
	segs := make([]*segment.EdgeSegment, 0, len(l0)+1)
	for i := len(l0) - 1; i >= 0; i-- {
		segs = append(segs, l0[i].Seg)
	}
	if e := v.L1EdgeEntry(); e != nil {
		segs = append(segs, e.Seg)
	}

	seen := make(map[model.EdgeKey]struct{})
	keeps := make([]*roaring.Bitmap, len(segs))
	total := 0
	for i, seg := range segs {
		keep := roaring.New()
		seg.Scan(func(row int) bool {
			key := seg.Record(row).Key()
			if _, ok := seen[key]; ok {
				return true
			}
			seen[key] = struct{}{}
			if !tombs.ContainsEdge(key) {
				keep.Add(uint32(row))
			}
			return true
		})
		keeps[i] = keep
		total += int(keep.GetCardinality())
	}

	out := make([]model.EdgeRecord, 0, total)
	for i, seg := range segs {
		it := keeps[i].Iterator()
		for it.HasNext() {
			out = append(out, seg.Record(int(it.Next())))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Src.Compare(out[j].Src); c != 0 {
			return c < 0
		}
		if c := out[i].Dst.Compare(out[j].Dst); c != 0 {
			return c < 0
		}
		return out[i].Type < out[j].Type
	})
	return out
}

func (s *Store) writeCompactedNodes(ctx context.Context, t *compactionTask, w *segment.NodeWriter) (*shard.NodeEntry, segment.Meta, string, error) {
	if s.dir == "" {
		buf := fs.NewSeekBuffer()
		meta, err := w.Flush(buf)
		if err != nil {
			return nil, segment.Meta{}, "", err
		}
		seg, err := segment.NodeSegmentFromBytes(buf.Bytes())
		if err != nil {
			return nil, segment.Meta{}, "", err
		}
		return &shard.NodeEntry{ID: t.nodeSegID, Seg: seg, Ref: shard.NewRef(seg)}, meta, "", nil
	}
	final := s.segmentPath(t.sh.ID(), t.nodeSegID, segment.TypeNodes)
	meta, err := s.writeSegmentFile(ctx, final, func(ws io.WriteSeeker) (segment.Meta, error) {
		return w.Flush(ws)
	})
	if err != nil {
		return nil, segment.Meta{}, "", err
	}
	seg, err := segment.OpenNodeSegment(final)
	if err != nil {
		return nil, segment.Meta{}, final, err
	}
	return &shard.NodeEntry{ID: t.nodeSegID, Seg: seg, Ref: shard.NewRef(seg)}, meta, final, nil
}

func (s *Store) writeCompactedEdges(ctx context.Context, t *compactionTask, w *segment.EdgeWriter) (*shard.EdgeEntry, segment.Meta, string, error) {
	if s.dir == "" {
		buf := fs.NewSeekBuffer()
		meta, err := w.Flush(buf)
		if err != nil {
			return nil, segment.Meta{}, "", err
		}
		seg, err := segment.EdgeSegmentFromBytes(buf.Bytes())
		if err != nil {
			return nil, segment.Meta{}, "", err
		}
		return &shard.EdgeEntry{ID: t.edgeSegID, Seg: seg, Ref: shard.NewRef(seg)}, meta, "", nil
	}
	final := s.segmentPath(t.sh.ID(), t.edgeSegID, segment.TypeEdges)
	meta, err := s.writeSegmentFile(ctx, final, func(ws io.WriteSeeker) (segment.Meta, error) {
		return w.Flush(ws)
	})
	if err != nil {
		return nil, segment.Meta{}, "", err
	}
	seg, err := segment.OpenEdgeSegment(final)
	if err != nil {
		return nil, segment.Meta{}, final, err
	}
	return &shard.EdgeEntry{ID: t.edgeSegID, Seg: seg, Ref: shard.NewRef(seg)}, meta, final, nil
}

func (s *Store) segmentPath(shardID model.ShardID, segID model.SegmentID, kind segment.Type) string {
	return filepath.Join(s.dir, shardsDirName, shard.DirName(shardID), shard.SegmentFileName(segID, kind))
}

// writeSegmentFile writes a segment through the compaction rate limiter
// into a temp file and renames it into place.
func (s *Store) writeSegmentFile(ctx context.Context, final string, flush func(io.WriteSeeker) (segment.Meta, error)) (segment.Meta, error) {
	if err := s.fsys.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return segment.Meta{}, err
	}
	tmp := final + ".tmp"
	f, err := s.fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return segment.Meta{}, err
	}
	meta, err := flush(&throttledFile{ctx: ctx, f: f, limiter: s.limiter})
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = s.fsys.Rename(tmp, final)
	}
	if err != nil {
		_ = s.fsys.Remove(tmp)
		return segment.Meta{}, err
	}
	if err := fs.SyncDir(s.fsys, filepath.Dir(final)); err != nil {
		return segment.Meta{}, err
	}
	return meta, nil
}

// writeIndexes persists the shard's rebuilt indexes. Ephemeral stores
// keep them in memory only.
func (s *Store) writeIndexes(t *compactionTask) error {
	if s.dir == "" {
		return nil
	}
	shardID := t.sh.ID()
	parts := []struct {
		kind string
		to   interface{ WriteTo(io.Writer) error }
	}{
		{manifest.IndexGlobal, t.global},
		{manifest.IndexByType, t.built.ByType},
		{manifest.IndexByFile, t.built.ByFile},
		{manifest.IndexByName, t.built.ByName},
	}
	for _, p := range parts {
		name := indexFileName(t.nodeSegID, p.kind)
		var buf bytes.Buffer
		if err := p.to.WriteTo(&buf); err != nil {
			return err
		}
		full := filepath.Join(s.dir, indexDirName, name)
		if err := fs.AtomicWriteFile(s.fsys, full, buf.Bytes(), 0o644); err != nil {
			return err
		}
		t.written = append(t.written, full)
		t.ixDescs = append(t.ixDescs, manifest.IndexDescriptor{
			Shard:   shardID,
			Kind:    p.kind,
			Segment: t.nodeSegID,
			Path:    path.Join(indexDirName, name),
		})
	}
	return nil
}

func indexFileName(seg model.SegmentID, kind string) string {
	return fmt.Sprintf("idx_%06d_%s.ridx", seg, kind)
}

// installCompaction is phase 3: under the writer lock, publish a
// manifest that swaps the input segments for the merged output (keeping
// L0 segments committed after the snapshot) and swap the shards' read
// state. Returns the number of segments merged and created.
func (s *Store) installCompaction(ctx context.Context, tasks []*compactionTask) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		s.abandonCompaction(tasks)
		return 0, 0, ErrClosed
	}

	next := s.current.Clone()
	merged, created := 0, 0
	shardIDs := make([]model.ShardID, 0, len(tasks))
	for _, t := range tasks {
		id := t.sh.ID()
		shardIDs = append(shardIDs, id)

		segs := append([]manifest.SegmentDescriptor(nil), t.segDescs...)
		for _, d := range s.current.SegmentsForShard(id) {
			if _, in := t.inputs[d.ID]; !in {
				segs = append(segs, d)
			}
		}
		next.ReplaceShard(id, segs, t.ixDescs)

		remaining := t.sh.Tombstones().Clone()
		remaining.Subtract(t.applied)
		next.SetTombstones(id, remaining)

		merged += len(t.inputs)
		created += len(t.segDescs)
	}
	next.Compaction = &manifest.CompactionInfo{
		TimestampMS:      nowMS(),
		L0SegmentsMerged: totalL0(tasks),
		Shards:           shardIDs,
	}

	if err := s.manifests.Save(ctx, next); err != nil {
		s.abandonCompaction(tasks)
		return 0, 0, err
	}

	for _, t := range tasks {
		t.sh.ApplyCompaction(t.inputs, t.nodeEntry, t.edgeEntry, t.global, t.built.ByType, t.built.ByFile, t.built.ByName, t.applied)
		t.view.Release()
	}
	s.current = next
	s.publish(next.Version)
	return merged, created, nil
}

func totalL0(tasks []*compactionTask) int {
	n := 0
	for _, t := range tasks {
		n += t.l0Count
	}
	return n
}

// abandonCompaction unwinds tasks whose outputs were never installed.
func (s *Store) abandonCompaction(tasks []*compactionTask) {
	for _, t := range tasks {
		if t.nodeEntry != nil {
			t.nodeEntry.Ref.DecRef()
		}
		if t.edgeEntry != nil {
			t.edgeEntry.Ref.DecRef()
		}
		for _, p := range t.written {
			_ = s.fsys.Remove(p)
		}
		t.view.Release()
	}
}

// throttledFile rate-limits segment writes so compaction IO does not
// starve foreground commits.
type throttledFile struct {
	ctx     context.Context
	f       fs.File
	limiter *rate.Limiter
}

func (t *throttledFile) Write(p []byte) (int, error) {
	if t.limiter == nil {
		return t.f.Write(p)
	}
	written := 0
	for len(p) > 0 {
		chunk := len(p)
		if burst := t.limiter.Burst(); chunk > burst {
			chunk = burst
		}
		if err := t.limiter.WaitN(t.ctx, chunk); err != nil {
			return written, err
		}
		n, err := t.f.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}

func (t *throttledFile) Seek(offset int64, whence int) (int64, error) {
	return t.f.Seek(offset, whence)
}
