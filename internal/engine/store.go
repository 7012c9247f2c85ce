// Package engine ties the storage layers together: the multi-shard
// store, snapshot pinning, the batch commit coordinator and the
// compactor.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/rfdb/rfdb/blobstore"
	"github.com/rfdb/rfdb/internal/fs"
	"github.com/rfdb/rfdb/internal/index"
	"github.com/rfdb/rfdb/internal/manifest"
	"github.com/rfdb/rfdb/internal/segment"
	"github.com/rfdb/rfdb/internal/shard"
	"github.com/rfdb/rfdb/model"
)

const (
	// FormatVersion is the on-disk format this build reads and writes.
	FormatVersion = 2

	configFileName = "db_config.json"
	shardsDirName  = "shards"
	indexDirName   = "index"

	// DefaultShardCount is used when the caller doesn't choose one.
	DefaultShardCount = 8
)

// Config carries the engine's tunables. Zero values get defaults.
type Config struct {
	ShardCount            uint16
	Logger                *slog.Logger
	Metrics               Collector
	FS                    fs.FileSystem
	Blobs                 blobstore.Store
	Policy                Policy
	CompactionRateLimit   float64 // bytes/sec for compaction writes, 0 = unlimited
	CompactionParallelism int64   // concurrent shard compactions, 0 = 2
}

func (c *Config) applyDefaults() {
	if c.ShardCount == 0 {
		c.ShardCount = DefaultShardCount
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Metrics == nil {
		c.Metrics = NoopCollector{}
	}
	if c.FS == nil {
		c.FS = fs.Default
	}
	if c.Policy == nil {
		c.Policy = &ThresholdPolicy{}
	}
	if c.CompactionParallelism <= 0 {
		c.CompactionParallelism = 2
	}
}

type diskConfig struct {
	FormatVersion int    `json:"format_version"`
	ShardCount    uint16 `json:"shard_count"`
}

// InitDir lays out an empty database directory: the subdirectory tree
// plus the immutable config file. Restore tooling uses it before
// copying segments in.
func InitDir(fsys fs.FileSystem, dir string, shardCount uint16) error {
	for _, sub := range []string{"", shardsDirName, indexDirName} {
		if err := fsys.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return err
		}
	}
	raw, err := json.Marshal(diskConfig{FormatVersion: FormatVersion, ShardCount: shardCount})
	if err != nil {
		return err
	}
	if err := fs.AtomicWriteFile(fsys, filepath.Join(dir, configFileName), raw, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Store is the multi-shard storage engine. All writers (commits,
// compaction installs) serialize on mu; readers run lock-free against
// pinned snapshots.
type Store struct {
	mu sync.Mutex

	dir     string // "" when ephemeral
	cfg     Config
	logger  *slog.Logger
	metrics Collector
	fsys    fs.FileSystem

	manifests *manifest.Store
	planner   *shard.Planner
	shards    []*shard.Shard
	current   *manifest.Manifest

	snapMu sync.Mutex
	snap   *Snapshot

	batchOpen  bool
	compacting atomic.Bool
	closed     atomic.Bool

	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// Create initializes a new database in dir. dir == "" creates an
// ephemeral store: segments in memory, manifests in an in-memory blob
// store unless Config.Blobs overrides it.
func Create(ctx context.Context, dir string, cfg Config) (*Store, error) {
	cfg.applyDefaults()

	if dir != "" {
		if _, err := cfg.FS.Stat(filepath.Join(dir, configFileName)); err == nil {
			return nil, fmt.Errorf("%w: %s already holds a database", ErrInvalidArgument, dir)
		}
		if err := InitDir(cfg.FS, dir, cfg.ShardCount); err != nil {
			return nil, err
		}
	}

	s, err := newStore(dir, cfg)
	if err != nil {
		return nil, err
	}
	s.current = manifest.New(cfg.ShardCount)
	s.current.CreatedAtMS = nowMS()
	if err := s.manifests.Save(ctx, s.current); err != nil {
		return nil, err
	}
	s.snap = newSnapshot(s.current.Version, s.shards)
	s.logger.Info("database created",
		slog.String("dir", dir),
		slog.Int("shards", int(cfg.ShardCount)))
	return s, nil
}

// Open loads an existing database from dir.
func Open(ctx context.Context, dir string, cfg Config) (*Store, error) {
	cfg.applyDefaults()

	raw, err := readFile(cfg.FS, filepath.Join(dir, configFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no database at %s", ErrNotFound, dir)
		}
		return nil, err
	}
	var dc diskConfig
	if err := json.Unmarshal(raw, &dc); err != nil {
		return nil, fmt.Errorf("%w: unreadable %s: %v", ErrCorrupt, configFileName, err)
	}
	if dc.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: format %d, supported %d", ErrIncompatibleFormat, dc.FormatVersion, FormatVersion)
	}
	cfg.ShardCount = dc.ShardCount

	s, err := newStore(dir, cfg)
	if err != nil {
		return nil, err
	}
	m, err := s.manifests.LoadCurrent(ctx)
	if err != nil {
		return nil, err
	}
	if m.ShardCount != dc.ShardCount {
		return nil, fmt.Errorf("%w: manifest has %d shards, config %d", ErrCorrupt, m.ShardCount, dc.ShardCount)
	}
	s.current = m

	for _, sh := range s.shards {
		if err := s.loadShard(sh, m); err != nil {
			for _, prev := range s.shards {
				_ = prev.Close()
			}
			return nil, err
		}
	}
	s.snap = newSnapshot(m.Version, s.shards)
	s.logger.Info("database opened",
		slog.String("dir", dir),
		slog.Uint64("manifest", m.Version),
		slog.Int("segments", len(m.Segments)))
	return s, nil
}

func newStore(dir string, cfg Config) (*Store, error) {
	blobs := cfg.Blobs
	if blobs == nil {
		if dir == "" {
			blobs = blobstore.NewMemoryStore()
		} else {
			blobs = blobstore.NewLocalStore(dir, cfg.FS)
		}
	}
	planner, err := shard.NewPlanner(cfg.ShardCount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	s := &Store{
		dir:       dir,
		cfg:       cfg,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		fsys:      cfg.FS,
		manifests: manifest.NewStore(blobs, cfg.Logger),
		planner:   planner,
		sem:       semaphore.NewWeighted(cfg.CompactionParallelism),
	}
	if cfg.CompactionRateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.CompactionRateLimit), int(cfg.CompactionRateLimit))
	}
	s.shards = make([]*shard.Shard, cfg.ShardCount)
	for i := range s.shards {
		shardDir := ""
		if dir != "" {
			shardDir = filepath.Join(dir, shardsDirName, shard.DirName(model.ShardID(i)))
		}
		s.shards[i] = shard.New(model.ShardID(i), shardDir, cfg.FS, cfg.Logger)
	}
	return s, nil
}

// loadShard opens a shard's segments, indexes and tombstones from the
// manifest.
func (s *Store) loadShard(sh *shard.Shard, m *manifest.Manifest) error {
	var l1Node *shard.NodeEntry
	var l1Edge *shard.EdgeEntry

	for _, d := range m.SegmentsForShard(sh.ID()) {
		full := filepath.Join(s.dir, filepath.FromSlash(d.Path))
		switch d.Kind {
		case manifest.KindNodes:
			seg, err := segment.OpenNodeSegment(full)
			if err != nil {
				return fmt.Errorf("open segment %d: %w", d.ID, err)
			}
			entry := &shard.NodeEntry{ID: d.ID, Seg: seg, Ref: shard.NewRef(seg)}
			if d.Level >= 1 {
				l1Node = entry
			} else {
				sh.AppendL0(entry, nil)
			}
		case manifest.KindEdges:
			seg, err := segment.OpenEdgeSegment(full)
			if err != nil {
				return fmt.Errorf("open segment %d: %w", d.ID, err)
			}
			entry := &shard.EdgeEntry{ID: d.ID, Seg: seg, Ref: shard.NewRef(seg)}
			if d.Level >= 1 {
				l1Edge = entry
			} else {
				sh.AppendL0(nil, entry)
			}
		default:
			return fmt.Errorf("%w: segment kind %q", ErrCorrupt, d.Kind)
		}
	}

	var global *index.Global
	var byType, byFile, byName *index.Inverted
	for _, d := range m.IndexesForShard(sh.ID()) {
		raw, err := readFile(s.fsys, filepath.Join(s.dir, filepath.FromSlash(d.Path)))
		if err != nil {
			return fmt.Errorf("open index %s: %w", d.Path, err)
		}
		switch d.Kind {
		case manifest.IndexGlobal:
			if global, err = index.DecodeGlobal(raw); err != nil {
				return err
			}
		case manifest.IndexByType:
			if byType, err = index.DecodeInverted(raw); err != nil {
				return err
			}
		case manifest.IndexByFile:
			if byFile, err = index.DecodeInverted(raw); err != nil {
				return err
			}
		case manifest.IndexByName:
			if byName, err = index.DecodeInverted(raw); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: index kind %q", ErrCorrupt, d.Kind)
		}
	}
	sh.InstallL1(l1Node, l1Edge, global, byType, byFile, byName)

	tombs, err := m.TombstonesFor(sh.ID())
	if err != nil {
		return err
	}
	sh.SetTombstones(tombs)
	return nil
}

// Close releases the store. In-flight readers holding snapshots keep
// their segments alive until they finish.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapMu.Lock()
	if s.snap != nil {
		s.snap.DecRef()
		s.snap = nil
	}
	s.snapMu.Unlock()

	var first error
	for _, sh := range s.shards {
		if err := sh.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// CheckOpen returns ErrClosed when the store has been closed.
func (s *Store) CheckOpen() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// BatchOpen reports whether an explicit write batch is open.
func (s *Store) BatchOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchOpen
}

// Acquire pins the current snapshot. The caller must DecRef it.
func (s *Store) Acquire() (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	if s.snap == nil || !s.snap.TryIncRef() {
		return nil, ErrClosed
	}
	return s.snap, nil
}

// publish swaps in a freshly built snapshot for the given version.
func (s *Store) publish(version uint64) {
	next := newSnapshot(version, s.shards)
	s.snapMu.Lock()
	old := s.snap
	s.snap = next
	s.snapMu.Unlock()
	if old != nil {
		old.DecRef()
	}
}

// Version returns the committed manifest version.
func (s *Store) Version() (uint64, error) {
	snap, err := s.Acquire()
	if err != nil {
		return 0, err
	}
	defer snap.DecRef()
	return snap.Version(), nil
}

// GetNode returns the live node with the given id, or ErrNotFound.
func (s *Store) GetNode(id model.ID) (model.NodeRecord, error) {
	snap, err := s.Acquire()
	if err != nil {
		return model.NodeRecord{}, err
	}
	defer snap.DecRef()
	for _, v := range snap.Views() {
		if rec, ok := v.GetNode(id); ok {
			return rec, nil
		}
	}
	return model.NodeRecord{}, fmt.Errorf("node %s: %w", id, ErrNotFound)
}

// QueryNodes returns all live nodes matching the query, in id order.
func (s *Store) QueryNodes(q model.NodeQuery) ([]model.NodeRecord, error) {
	snap, err := s.Acquire()
	if err != nil {
		return nil, err
	}
	defer snap.DecRef()

	var out []model.NodeRecord
	for _, v := range snap.Views() {
		for _, rec := range v.FindNodes(q) {
			if metadataMatches(rec.Metadata, q.Metadata) {
				out = append(out, rec)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out, nil
}

// OutgoingEdges returns the live edges leaving id, optionally filtered
// by edge type. A missing node yields no edges, not an error.
func (s *Store) OutgoingEdges(id model.ID, types ...string) ([]model.EdgeRecord, error) {
	snap, err := s.Acquire()
	if err != nil {
		return nil, err
	}
	defer snap.DecRef()
	return collectAcross(snap, func(v *shard.View) []model.EdgeRecord {
		return v.EdgesFrom(id, types)
	}), nil
}

// IncomingEdges returns the live edges arriving at id. This fans out
// across all shards: edges live with their source's shard.
func (s *Store) IncomingEdges(id model.ID, types ...string) ([]model.EdgeRecord, error) {
	snap, err := s.Acquire()
	if err != nil {
		return nil, err
	}
	defer snap.DecRef()
	return collectAcross(snap, func(v *shard.View) []model.EdgeRecord {
		return v.EdgesTo(id, types)
	}), nil
}

func collectAcross(snap *Snapshot, f func(*shard.View) []model.EdgeRecord) []model.EdgeRecord {
	var out []model.EdgeRecord
	seen := make(map[model.EdgeKey]struct{})
	for _, v := range snap.Views() {
		for _, rec := range f(v) {
			key := rec.Key()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rec)
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

// Reachability walks the graph breadth-first from the start set,
// following edges of the given types in the given direction, up to
// maxDepth hops. It returns every id discovered, in id order, excluding
// the start ids. Dangling endpoints appear in the result but are dead
// ends: they are never expanded. The whole walk runs against one pinned
// snapshot.
func (s *Store) Reachability(ctx context.Context, start []model.ID, edgeTypes []string, dir model.Direction, maxDepth int) ([]model.ID, error) {
	if maxDepth <= 0 {
		return nil, fmt.Errorf("%w: max depth %d", ErrInvalidArgument, maxDepth)
	}
	snap, err := s.Acquire()
	if err != nil {
		return nil, err
	}
	defer snap.DecRef()

	visited := make(map[model.ID]struct{}, len(start))
	for _, id := range start {
		visited[id] = struct{}{}
	}
	frontier := append([]model.ID(nil), start...)
	var out []model.ID

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []model.ID
		for _, id := range frontier {
			for _, v := range snap.Views() {
				var edges []model.EdgeRecord
				if dir == model.Forward {
					edges = v.EdgesFrom(id, edgeTypes)
				} else {
					edges = v.EdgesTo(id, edgeTypes)
				}
				for _, e := range edges {
					neighbor := e.Dst
					if dir == model.Backward {
						neighbor = e.Src
					}
					if _, ok := visited[neighbor]; ok {
						continue
					}
					visited[neighbor] = struct{}{}
					out = append(out, neighbor)
					if nodeExists(snap, neighbor) {
						next = append(next, neighbor)
					}
				}
			}
		}
		frontier = next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func nodeExists(snap *Snapshot, id model.ID) bool {
	for _, v := range snap.Views() {
		if _, ok := v.GetNode(id); ok {
			return true
		}
	}
	return false
}

// Endpoint reports whether the node is a graph endpoint. A missing node
// yields ErrNotFound.
func (s *Store) Endpoint(id model.ID) (bool, error) {
	rec, err := s.GetNode(id)
	if err != nil {
		return false, err
	}
	return IsEndpoint(rec), nil
}

// snapshotErr rewraps manifest-store misses into the engine's sentinel
// so callers match every missing-snapshot case with one errors.Is.
func snapshotErr(err error) error {
	if err != nil && errors.Is(err, manifest.ErrNotFound) && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// TagSnapshot attaches tags to a snapshot version (0 means current).
// Tagged snapshots pin their segments against garbage collection.
func (s *Store) TagSnapshot(ctx context.Context, version uint64, tags map[string]string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(tags) == 0 {
		return fmt.Errorf("%w: empty tag set", ErrInvalidArgument)
	}
	if version == 0 {
		v, err := s.Version()
		if err != nil {
			return err
		}
		version = v
	}
	m, err := s.manifests.Tag(ctx, version, tags)
	if err != nil {
		return snapshotErr(err)
	}
	s.mu.Lock()
	if s.current != nil && s.current.Version == m.Version {
		s.current.Tags = m.Tags
	}
	s.mu.Unlock()
	return nil
}

// FindSnapshot returns the newest snapshot tagged key=value.
func (s *Store) FindSnapshot(ctx context.Context, key, value string) (model.SnapshotInfo, error) {
	if s.closed.Load() {
		return model.SnapshotInfo{}, ErrClosed
	}
	m, err := s.manifests.FindByTag(ctx, key, value)
	if err != nil {
		return model.SnapshotInfo{}, snapshotErr(err)
	}
	return model.SnapshotInfo{
		Version:   m.Version,
		CreatedAt: m.CreatedAtMS,
		Tags:      m.Tags,
		Segments:  len(m.Segments),
	}, nil
}

// ListSnapshots lists stored snapshots, oldest first, optionally
// keeping only those carrying every filter tag.
func (s *Store) ListSnapshots(ctx context.Context, filter map[string]string) ([]model.SnapshotInfo, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	infos, err := s.manifests.ListSnapshots(ctx)
	if err != nil {
		return nil, err
	}
	if len(filter) == 0 {
		return infos, nil
	}
	out := infos[:0]
	for _, info := range infos {
		match := true
		for k, v := range filter {
			if info.Tags[k] != v {
				match = false
				break
			}
		}
		if match {
			out = append(out, info)
		}
	}
	return out, nil
}

// DeleteSnapshot removes a snapshot version, then garbage-collects any
// segment no remaining manifest references. The current version cannot
// be deleted.
func (s *Store) DeleteSnapshot(ctx context.Context, ref model.SnapshotRef) error {
	if s.closed.Load() {
		return ErrClosed
	}
	m, err := s.manifests.Resolve(ctx, ref)
	if err != nil {
		return snapshotErr(err)
	}
	if err := s.manifests.DeleteVersion(ctx, m.Version); err != nil {
		return err
	}
	s.gcSegments(ctx)
	return nil
}

// gcSegments removes segment and index files referenced by no stored
// manifest. It holds the writer lock: a commit mid-flush has files on
// disk that no manifest names yet, and those must survive. Unlinking a
// file an in-flight snapshot still has mapped is safe on unix.
func (s *Store) gcSegments(ctx context.Context) {
	if s.dir == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, err := s.manifests.ListVersions(ctx)
	if err != nil {
		s.logger.Warn("gc: list versions", slog.String("error", err.Error()))
		return
	}
	manifests := make([]*manifest.Manifest, 0, len(versions))
	for _, v := range versions {
		m, err := s.manifests.LoadVersion(ctx, v)
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}
	live := manifest.LivePaths(manifests...)

	removed := 0
	for _, sub := range []string{shardsDirName, indexDirName} {
		removed += s.removeDeadFiles(filepath.Join(s.dir, sub), sub, live)
	}
	if removed > 0 {
		s.metrics.OnGC(removed)
		s.logger.Info("garbage collected segments", slog.Int("files", removed))
	}
}

func (s *Store) removeDeadFiles(dir, rel string, live map[string]struct{}) int {
	entries, err := s.fsys.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		child := path.Join(rel, e.Name())
		if e.IsDir() {
			removed += s.removeDeadFiles(filepath.Join(dir, e.Name()), child, live)
			continue
		}
		if _, ok := live[child]; ok {
			continue
		}
		if filepath.Ext(e.Name()) == ".tmp" || s.isLiveExt(e.Name()) {
			if err := s.fsys.Remove(filepath.Join(dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	return removed
}

func (s *Store) isLiveExt(name string) bool {
	ext := filepath.Ext(name)
	return ext == ".seg" || ext == ".ridx"
}

// DiffSnapshots computes the id-level difference between two snapshots.
// An id on both sides counts as modified only when both content hashes
// are known (non-zero) and differ; physical layout changes such as an
// intervening compaction never surface as differences.
//
// Candidate ids come from the segments unique to either side plus the
// tombstone differences in the two manifests, so cost tracks the size
// of the change, not the size of the graph. Segments common to both
// sides are opened only for bloom-guided point lookups resolving a
// candidate's hash on the unchanged side.
func (s *Store) DiffSnapshots(ctx context.Context, from, to model.SnapshotRef) (model.SnapshotDiff, error) {
	if s.closed.Load() {
		return model.SnapshotDiff{}, ErrClosed
	}
	fromM, err := s.manifests.Resolve(ctx, from)
	if err != nil {
		return model.SnapshotDiff{}, snapshotErr(err)
	}
	toM, err := s.manifests.Resolve(ctx, to)
	if err != nil {
		return model.SnapshotDiff{}, snapshotErr(err)
	}

	diff := model.SnapshotDiff{FromVersion: fromM.Version, ToVersion: toM.Version}
	if fromM.Version == toM.Version {
		return diff, nil
	}
	if s.dir == "" {
		return model.SnapshotDiff{}, fmt.Errorf(
			"diff %d..%d: past segments not materializable in an ephemeral store: %w",
			fromM.Version, toM.Version, ErrNotFound)
	}

	fromSide, err := newDiffSide(s.dir, fromM)
	if err != nil {
		return model.SnapshotDiff{}, err
	}
	defer fromSide.close()
	toSide, err := newDiffSide(s.dir, toM)
	if err != nil {
		return model.SnapshotDiff{}, err
	}
	defer toSide.close()

	candidates := make(map[model.ID]struct{})
	if err := fromSide.collectUnique(toSide, candidates); err != nil {
		return model.SnapshotDiff{}, err
	}
	if err := toSide.collectUnique(fromSide, candidates); err != nil {
		return model.SnapshotDiff{}, err
	}
	// Deletion-only commits tombstone ids without writing a segment, so
	// tombstone differences contribute candidates too.
	for shardID := range fromSide.tombs {
		for _, id := range fromSide.tombs[shardID].NodeIDs() {
			if !toSide.tombs[shardID].ContainsNode(id) {
				candidates[id] = struct{}{}
			}
		}
	}
	for shardID := range toSide.tombs {
		for _, id := range toSide.tombs[shardID].NodeIDs() {
			if !fromSide.tombs[shardID].ContainsNode(id) {
				candidates[id] = struct{}{}
			}
		}
	}

	for id := range candidates {
		fromHash, inFrom, err := fromSide.lookup(id)
		if err != nil {
			return model.SnapshotDiff{}, err
		}
		toHash, inTo, err := toSide.lookup(id)
		if err != nil {
			return model.SnapshotDiff{}, err
		}
		switch {
		case inTo && !inFrom:
			diff.Added = append(diff.Added, id)
		case inFrom && !inTo:
			diff.Removed = append(diff.Removed, id)
		case inFrom && inTo && fromHash != 0 && toHash != 0 && fromHash != toHash:
			diff.Modified = append(diff.Modified, id)
		}
	}
	sortIDs(diff.Added)
	sortIDs(diff.Removed)
	sortIDs(diff.Modified)
	return diff, nil
}

// diffSide is one manifest's node-segment read state during a diff:
// descriptors newest first, tombstones per shard, segments opened
// lazily and shared between the candidate scan and the point lookups.
type diffSide struct {
	dir   string
	m     *manifest.Manifest
	descs []manifest.SegmentDescriptor
	tombs map[model.ShardID]*shard.TombstoneSet
	segs  map[model.SegmentID]*segment.NodeSegment
}

func newDiffSide(dir string, m *manifest.Manifest) (*diffSide, error) {
	d := &diffSide{
		dir:   dir,
		m:     m,
		tombs: make(map[model.ShardID]*shard.TombstoneSet, m.ShardCount),
		segs:  make(map[model.SegmentID]*segment.NodeSegment),
	}
	for _, desc := range m.Segments {
		if desc.Kind == manifest.KindNodes {
			d.descs = append(d.descs, desc)
		}
	}
	// Segment ids are allocated in creation order, so descending id is
	// newest first across levels.
	sort.Slice(d.descs, func(i, j int) bool { return d.descs[i].ID > d.descs[j].ID })
	for shardID := model.ShardID(0); shardID < model.ShardID(m.ShardCount); shardID++ {
		ts, err := m.TombstonesFor(shardID)
		if err != nil {
			return nil, err
		}
		d.tombs[shardID] = ts
	}
	return d, nil
}

func (d *diffSide) open(desc manifest.SegmentDescriptor) (*segment.NodeSegment, error) {
	if seg, ok := d.segs[desc.ID]; ok {
		return seg, nil
	}
	seg, err := segment.OpenNodeSegment(filepath.Join(d.dir, filepath.FromSlash(desc.Path)))
	if err != nil {
		return nil, fmt.Errorf("snapshot %d segment %d: %w", d.m.Version, desc.ID, err)
	}
	d.segs[desc.ID] = seg
	return seg, nil
}

func (d *diffSide) close() {
	for _, seg := range d.segs {
		_ = seg.Close()
	}
	d.segs = nil
}

// collectUnique scans the node segments this side holds and the other
// does not, adding every id they contain to the candidate set.
func (d *diffSide) collectUnique(other *diffSide, candidates map[model.ID]struct{}) error {
	shared := make(map[model.SegmentID]struct{}, len(other.descs))
	for _, desc := range other.descs {
		shared[desc.ID] = struct{}{}
	}
	for _, desc := range d.descs {
		if _, ok := shared[desc.ID]; ok {
			continue
		}
		seg, err := d.open(desc)
		if err != nil {
			return err
		}
		seg.Scan(func(row int) bool {
			candidates[seg.ID(row)] = struct{}{}
			return true
		})
	}
	return nil
}

// lookup resolves a candidate's live content hash on this side. The
// newest occurrence wins; a tombstone kills every occurrence in its
// shard, matching the live read path.
func (d *diffSide) lookup(id model.ID) (uint64, bool, error) {
	for _, desc := range d.descs {
		if d.tombs[desc.Shard].ContainsNode(id) {
			continue
		}
		seg, err := d.open(desc)
		if err != nil {
			return 0, false, err
		}
		if !seg.MayContain(id) {
			continue
		}
		if rec, ok := seg.Find(id); ok {
			return rec.ContentHash, true, nil
		}
	}
	return 0, false, nil
}

func sortIDs(ids []model.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// ShardCount returns the planner's shard count.
func (s *Store) ShardCount() uint16 { return s.planner.ShardCount() }

// Dir returns the database directory, "" when ephemeral.
func (s *Store) Dir() string { return s.dir }

// Manifests exposes the manifest store for archive tooling.
func (s *Store) Manifests() *manifest.Store { return s.manifests }

func readFile(fsys fs.FileSystem, path string) ([]byte, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}
