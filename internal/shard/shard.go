package shard

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"github.com/rfdb/rfdb/internal/fs"
	"github.com/rfdb/rfdb/internal/index"
	"github.com/rfdb/rfdb/internal/segment"
	"github.com/rfdb/rfdb/model"
)

// Ref counts the owners of an open segment. The last DecRef closes the
// underlying mapping and runs the release hook, which garbage
// collection uses to unlink superseded files once no pinned snapshot
// can still read them.
type Ref struct {
	refs      atomic.Int64
	closer    io.Closer
	onRelease atomic.Value // stores func()
}

// NewRef creates a ref with one owner.
func NewRef(closer io.Closer) *Ref {
	r := &Ref{closer: closer}
	r.refs.Store(1)
	var f func()
	r.onRelease.Store(f)
	return r
}

// IncRef adds an owner.
func (r *Ref) IncRef() { r.refs.Add(1) }

// DecRef drops an owner, closing and running the release hook at zero.
func (r *Ref) DecRef() {
	if r.refs.Add(-1) == 0 {
		if r.closer != nil {
			_ = r.closer.Close()
		}
		if f := r.onRelease.Load().(func()); f != nil {
			f()
		}
	}
}

// SetOnRelease installs the hook run when the last owner lets go.
func (r *Ref) SetOnRelease(f func()) { r.onRelease.Store(f) }

// NodeEntry pairs an open node segment with its manifest identity.
type NodeEntry struct {
	ID  model.SegmentID
	Seg *segment.NodeSegment
	Ref *Ref
}

// EdgeEntry pairs an open edge segment with its manifest identity.
type EdgeEntry struct {
	ID  model.SegmentID
	Seg *segment.EdgeSegment
	Ref *Ref
}

// view is the immutable read state of a shard at one instant: L0
// stacks (oldest first), the optional compacted L1 pair with its
// indexes, and the tombstones in force.
type view struct {
	l0Nodes []NodeEntry
	l0Edges []EdgeEntry
	l1Node  *NodeEntry
	l1Edge  *EdgeEntry
	global  *index.Global
	byType  *index.Inverted
	byFile  *index.Inverted
	byName  *index.Inverted
	tombs   *TombstoneSet
}

// View is a pinned copy of a shard's read state. Segments stay open
// and files stay on disk until every View referencing them is
// released.
type View struct {
	view
}

// Release drops the view's segment references.
func (v *View) Release() {
	for i := range v.l0Nodes {
		v.l0Nodes[i].Ref.DecRef()
	}
	for i := range v.l0Edges {
		v.l0Edges[i].Ref.DecRef()
	}
	if v.l1Node != nil {
		v.l1Node.Ref.DecRef()
	}
	if v.l1Edge != nil {
		v.l1Edge.Ref.DecRef()
	}
	v.view = view{}
}

// FlushResult describes the segments produced by one buffer flush.
// Entries are nil when the buffer held no records of that kind.
type FlushResult struct {
	Node     *NodeEntry
	Edge     *EdgeEntry
	NodeMeta segment.Meta
	EdgeMeta segment.Meta
	NodePath string
	EdgePath string
}

// Shard owns one independently writable slice of the store: a write
// buffer plus the current read state. Writers (flush, compaction swap)
// are serialized by the engine; readers work against pinned Views.
//
// A shard with an empty dir is ephemeral: flushed segments live in
// memory and nothing touches disk.
type Shard struct {
	view

	id     model.ShardID
	dir    string
	fsys   fs.FileSystem
	logger *slog.Logger
	buf    *Buffer
}

// New creates an empty shard. dir is the shard's segment directory, or
// "" for an ephemeral shard.
func New(id model.ShardID, dir string, fsys fs.FileSystem, logger *slog.Logger) *Shard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Shard{
		id:     id,
		dir:    dir,
		fsys:   fsys,
		logger: logger,
		buf:    NewBuffer(),
	}
	s.tombs = NewTombstoneSet()
	return s
}

// ID returns the shard's position in the planner's modulo space.
func (s *Shard) ID() model.ShardID { return s.id }

// Dir returns the shard's segment directory ("" when ephemeral).
func (s *Shard) Dir() string { return s.dir }

// Buffer returns the shard's write buffer.
func (s *Shard) Buffer() *Buffer { return s.buf }

// Tombstones returns the shard's live tombstone set.
func (s *Shard) Tombstones() *TombstoneSet { return s.tombs }

// SetTombstones replaces the tombstone set, typically during recovery
// from a manifest.
func (s *Shard) SetTombstones(t *TombstoneSet) { s.tombs = t }

// DirName returns the conventional directory name for a shard.
func DirName(id model.ShardID) string {
	return fmt.Sprintf("shard_%04d", id)
}

// SegmentFileName returns the conventional file name for a segment.
func SegmentFileName(id model.SegmentID, t segment.Type) string {
	return fmt.Sprintf("seg_%06d_%s.seg", id, t)
}

// Snapshot pins the shard's current read state.
func (s *Shard) Snapshot() *View {
	v := &View{view: view{
		l0Nodes: append([]NodeEntry(nil), s.l0Nodes...),
		l0Edges: append([]EdgeEntry(nil), s.l0Edges...),
		l1Node:  s.l1Node,
		l1Edge:  s.l1Edge,
		global:  s.global,
		byType:  s.byType,
		byFile:  s.byFile,
		byName:  s.byName,
		tombs:   s.tombs.Clone(),
	}}
	for i := range v.l0Nodes {
		v.l0Nodes[i].Ref.IncRef()
	}
	for i := range v.l0Edges {
		v.l0Edges[i].Ref.IncRef()
	}
	if v.l1Node != nil {
		v.l1Node.Ref.IncRef()
	}
	if v.l1Edge != nil {
		v.l1Edge.Ref.IncRef()
	}
	return v
}

// AppendL0 installs an already open L0 segment pair, e.g. during
// recovery. Either entry may be nil.
func (s *Shard) AppendL0(node *NodeEntry, edge *EdgeEntry) {
	if node != nil {
		s.l0Nodes = append(s.l0Nodes, *node)
	}
	if edge != nil {
		s.l0Edges = append(s.l0Edges, *edge)
	}
}

// InstallL1 installs the compacted segment pair and its indexes.
// Either entry may be nil when the shard holds no records of that kind.
func (s *Shard) InstallL1(node *NodeEntry, edge *EdgeEntry, global *index.Global, byType, byFile, byName *index.Inverted) {
	s.l1Node = node
	s.l1Edge = edge
	s.global = global
	s.byType = byType
	s.byFile = byFile
	s.byName = byName
}

// L0Count returns the number of open L0 segments (node plus edge).
func (s *Shard) L0Count() int { return len(s.l0Nodes) + len(s.l0Edges) }

// L0Records returns the total record count across L0 segments.
func (s *Shard) L0Records() uint64 {
	var n uint64
	for _, e := range s.l0Nodes {
		n += uint64(e.Seg.Len())
	}
	for _, e := range s.l0Edges {
		n += uint64(e.Seg.Len())
	}
	return n
}

// Flush writes the buffered records into new L0 segments without
// installing them. Segment ids are assigned by the caller from the
// manifest's counter. The caller Adopts the result once the manifest
// naming the segments is durable, or Discards it on failure. Returns
// nil when the buffer is empty.
func (s *Shard) Flush(nodeSegID, edgeSegID model.SegmentID) (*FlushResult, error) {
	if s.buf.IsEmpty() {
		return nil, nil
	}
	res := &FlushResult{}

	if s.buf.NodeCount() > 0 {
		nodes := s.buf.Nodes()
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID.Less(nodes[j].ID) })
		w := segment.NewNodeWriter(s.logger)
		for _, rec := range nodes {
			if err := w.Add(rec); err != nil {
				return nil, err
			}
		}
		entry, meta, path, err := s.writeNodeSegment(nodeSegID, w)
		if err != nil {
			return nil, err
		}
		res.Node, res.NodeMeta, res.NodePath = entry, meta, path
	}

	if s.buf.EdgeCount() > 0 {
		edges := s.buf.Edges()
		sort.Slice(edges, func(i, j int) bool {
			if c := edges[i].Src.Compare(edges[j].Src); c != 0 {
				return c < 0
			}
			if c := edges[i].Dst.Compare(edges[j].Dst); c != 0 {
				return c < 0
			}
			return edges[i].Type < edges[j].Type
		})
		w := segment.NewEdgeWriter(s.logger)
		for _, rec := range edges {
			w.Add(rec)
		}
		entry, meta, path, err := s.writeEdgeSegment(edgeSegID, w)
		if err != nil {
			if res.Node != nil {
				res.Node.Ref.DecRef()
			}
			return nil, err
		}
		res.Edge, res.EdgeMeta, res.EdgePath = entry, meta, path
	}

	s.logger.Debug("flushed shard buffer",
		slog.Int("shard", int(s.id)),
		slog.Uint64("node_records", res.NodeMeta.RecordCount),
		slog.Uint64("edge_records", res.EdgeMeta.RecordCount))
	return res, nil
}

// Adopt installs a flush's segments into the L0 stack and drains the
// buffer. Called only after the manifest naming the segments is
// durable; until then Discard can unwind the flush.
func (s *Shard) Adopt(res *FlushResult) {
	if res == nil {
		return
	}
	if res.Node != nil {
		s.l0Nodes = append(s.l0Nodes, *res.Node)
	}
	if res.Edge != nil {
		s.l0Edges = append(s.l0Edges, *res.Edge)
	}
	s.buf.Reset()
}

// Discard unwinds an unadopted flush, closing the segments and removing
// their files.
func (s *Shard) Discard(res *FlushResult) {
	if res == nil {
		return
	}
	if res.Node != nil {
		res.Node.Ref.DecRef()
		if res.NodePath != "" {
			_ = s.fsys.Remove(res.NodePath)
		}
	}
	if res.Edge != nil {
		res.Edge.Ref.DecRef()
		if res.EdgePath != "" {
			_ = s.fsys.Remove(res.EdgePath)
		}
	}
}

func (s *Shard) writeNodeSegment(id model.SegmentID, w *segment.NodeWriter) (*NodeEntry, segment.Meta, string, error) {
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
		return &NodeEntry{ID: id, Seg: seg, Ref: NewRef(seg)}, meta, "", nil
	}
	path := filepath.Join(s.dir, SegmentFileName(id, segment.TypeNodes))
	meta, err := s.writeSegmentFile(path, func(f fs.File) (segment.Meta, error) { return w.Flush(f) })
	if err != nil {
		return nil, segment.Meta{}, "", err
	}
	seg, err := segment.OpenNodeSegment(path)
	if err != nil {
		return nil, segment.Meta{}, "", err
	}
	return &NodeEntry{ID: id, Seg: seg, Ref: NewRef(seg)}, meta, path, nil
}

func (s *Shard) writeEdgeSegment(id model.SegmentID, w *segment.EdgeWriter) (*EdgeEntry, segment.Meta, string, error) {
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
		return &EdgeEntry{ID: id, Seg: seg, Ref: NewRef(seg)}, meta, "", nil
	}
	path := filepath.Join(s.dir, SegmentFileName(id, segment.TypeEdges))
	meta, err := s.writeSegmentFile(path, func(f fs.File) (segment.Meta, error) { return w.Flush(f) })
	if err != nil {
		return nil, segment.Meta{}, "", err
	}
	seg, err := segment.OpenEdgeSegment(path)
	if err != nil {
		return nil, segment.Meta{}, "", err
	}
	return &EdgeEntry{ID: id, Seg: seg, Ref: NewRef(seg)}, meta, path, nil
}

// writeSegmentFile writes through a temp sibling and renames into
// place, so a crashed flush never leaves a partial segment under the
// final name.
func (s *Shard) writeSegmentFile(path string, flush func(fs.File) (segment.Meta, error)) (segment.Meta, error) {
	if err := s.fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return segment.Meta{}, fmt.Errorf("create shard dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := s.fsys.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return segment.Meta{}, fmt.Errorf("create segment: %w", err)
	}
	meta, err := flush(f)
	if err != nil {
		_ = f.Close()
		_ = s.fsys.Remove(tmp)
		return segment.Meta{}, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = s.fsys.Remove(tmp)
		return segment.Meta{}, fmt.Errorf("sync segment: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = s.fsys.Remove(tmp)
		return segment.Meta{}, fmt.Errorf("close segment: %w", err)
	}
	if err := s.fsys.Rename(tmp, path); err != nil {
		_ = s.fsys.Remove(tmp)
		return segment.Meta{}, fmt.Errorf("publish segment: %w", err)
	}
	if err := fs.SyncDir(s.fsys, filepath.Dir(path)); err != nil {
		return segment.Meta{}, err
	}
	return meta, nil
}

// ApplyCompaction swaps the compaction's input segments for its output,
// dropping this shard's references to the inputs. Pinned views keep the
// input files alive until released. L0 segments committed after the
// compaction snapshot was taken are preserved, as are tombstones that
// arrived after it; the applied tombstones were physically merged out.
func (s *Shard) ApplyCompaction(inputs map[model.SegmentID]struct{}, node *NodeEntry, edge *EdgeEntry, global *index.Global, byType, byFile, byName *index.Inverted, applied *TombstoneSet) {
	keptNodes := s.l0Nodes[:0]
	for _, e := range s.l0Nodes {
		if _, ok := inputs[e.ID]; ok {
			e.Ref.DecRef()
		} else {
			keptNodes = append(keptNodes, e)
		}
	}
	s.l0Nodes = keptNodes

	keptEdges := s.l0Edges[:0]
	for _, e := range s.l0Edges {
		if _, ok := inputs[e.ID]; ok {
			e.Ref.DecRef()
		} else {
			keptEdges = append(keptEdges, e)
		}
	}
	s.l0Edges = keptEdges

	if s.l1Node != nil {
		s.l1Node.Ref.DecRef()
	}
	if s.l1Edge != nil {
		s.l1Edge.Ref.DecRef()
	}
	s.InstallL1(node, edge, global, byType, byFile, byName)
	if applied != nil {
		s.tombs.Subtract(applied)
	}
}

// Close releases the shard's own segment references.
func (s *Shard) Close() error {
	s.releaseAll()
	s.l0Nodes, s.l0Edges, s.l1Node, s.l1Edge = nil, nil, nil, nil
	s.global, s.byType, s.byFile, s.byName = nil, nil, nil, nil
	return nil
}

func (s *Shard) releaseAll() {
	for i := range s.l0Nodes {
		s.l0Nodes[i].Ref.DecRef()
	}
	for i := range s.l0Edges {
		s.l0Edges[i].Ref.DecRef()
	}
	if s.l1Node != nil {
		s.l1Node.Ref.DecRef()
	}
	if s.l1Edge != nil {
		s.l1Edge.Ref.DecRef()
	}
}

// GetNode returns the live version of a node, searching newest segments
// first. Tombstoned ids are absent regardless of what older segments
// still hold.
func (v *view) GetNode(id model.ID) (model.NodeRecord, bool) {
	if v.tombs.ContainsNode(id) {
		return model.NodeRecord{}, false
	}
	for i := len(v.l0Nodes) - 1; i >= 0; i-- {
		seg := v.l0Nodes[i].Seg
		if !seg.MayContain(id) {
			continue
		}
		if rec, ok := seg.Find(id); ok {
			return rec, true
		}
	}
	if v.l1Node != nil && v.l1Node.Seg.MayContain(id) {
		if v.global != nil {
			if entry, ok := v.global.Lookup(id); ok {
				return v.l1Node.Seg.Record(int(entry.Offset)), true
			}
			return model.NodeRecord{}, false
		}
		if rec, ok := v.l1Node.Seg.Find(id); ok {
			return rec, true
		}
	}
	return model.NodeRecord{}, false
}

// FindNodes returns the live nodes matching the query's type, file and
// name filters. Metadata predicates are applied by the caller, which
// understands the metadata encoding.
//
// Candidates are gathered newest-first with zone-map pruning, then each
// is re-resolved through GetNode so a stale version in an older segment
// never wins over a newer version the pruning skipped.
func (v *view) FindNodes(q model.NodeQuery) []model.NodeRecord {
	seen := make(map[model.ID]struct{})
	var out []model.NodeRecord

	collect := func(rec model.NodeRecord) {
		if _, ok := seen[rec.ID]; ok {
			return
		}
		seen[rec.ID] = struct{}{}
		live, ok := v.GetNode(rec.ID)
		if ok && matchesQuery(live, q) {
			out = append(out, live)
		}
	}

	for i := len(v.l0Nodes) - 1; i >= 0; i-- {
		seg := v.l0Nodes[i].Seg
		if !segmentMayMatch(seg, q) {
			continue
		}
		seg.Scan(func(row int) bool {
			if rowMatches(seg, row, q) {
				collect(seg.Record(row))
			}
			return true
		})
	}

	if v.l1Node != nil && segmentMayMatch(v.l1Node.Seg, q) {
		v.scanL1(q, func(row int) {
			if rowMatches(v.l1Node.Seg, row, q) {
				collect(v.l1Node.Seg.Record(row))
			}
		})
	}
	return out
}

// scanL1 visits candidate L1 rows, narrowing through the inverted
// indexes when the query names an indexed field.
func (v *view) scanL1(q model.NodeQuery, visit func(row int)) {
	if q.Type != "" && v.byType != nil {
		rows := v.byType.Lookup(q.Type)
		if rows == nil {
			return
		}
		if q.File != "" && v.byFile != nil {
			byFile := v.byFile.Lookup(q.File)
			if byFile == nil {
				return
			}
			rows = rows.Clone()
			rows.And(byFile)
		}
		it := rows.Iterator()
		for it.HasNext() {
			visit(int(it.Next()))
		}
		return
	}
	if q.File != "" && v.byFile != nil {
		for _, row := range v.byFile.Rows(q.File) {
			visit(int(row))
		}
		return
	}
	if q.Name != "" && v.byName != nil {
		for _, row := range v.byName.Rows(q.Name) {
			visit(int(row))
		}
		return
	}
	v.l1Node.Seg.Scan(func(row int) bool {
		visit(row)
		return true
	})
}

func segmentMayMatch(seg *segment.NodeSegment, q model.NodeQuery) bool {
	if q.Type != "" && !seg.MayContainField(segment.FieldNodeType, q.Type) {
		return false
	}
	if q.File != "" && !seg.MayContainField(segment.FieldFile, q.File) {
		return false
	}
	return true
}

func rowMatches(seg *segment.NodeSegment, row int, q model.NodeQuery) bool {
	if q.Type != "" && seg.TypeAt(row) != q.Type {
		return false
	}
	if q.File != "" && seg.FileAt(row) != q.File {
		return false
	}
	if q.Name != "" && seg.NameAt(row) != q.Name {
		return false
	}
	return true
}

func matchesQuery(rec model.NodeRecord, q model.NodeQuery) bool {
	if q.Type != "" && rec.Type != q.Type {
		return false
	}
	if q.File != "" && rec.File != q.File {
		return false
	}
	if q.Name != "" && rec.Name != q.Name {
		return false
	}
	return true
}

// EdgesFrom returns the live outgoing edges of src, optionally
// restricted to the given edge types. Newest segments win duplicate
// (src, dst, type) keys.
func (v *view) EdgesFrom(src model.ID, types []string) []model.EdgeRecord {
	return v.collectEdges(types,
		func(seg *segment.EdgeSegment) bool { return seg.MaySrc(src) },
		func(seg *segment.EdgeSegment, row int) bool { return seg.Src(row) == src })
}

// EdgesTo returns the live incoming edges of dst, optionally restricted
// to the given edge types.
func (v *view) EdgesTo(dst model.ID, types []string) []model.EdgeRecord {
	return v.collectEdges(types,
		func(seg *segment.EdgeSegment) bool { return seg.MayDst(dst) },
		func(seg *segment.EdgeSegment, row int) bool { return seg.Dst(row) == dst })
}

func (v *view) collectEdges(types []string, mayMatch func(*segment.EdgeSegment) bool, rowMatch func(*segment.EdgeSegment, int) bool) []model.EdgeRecord {
	var typeSet map[string]struct{}
	if len(types) > 0 {
		typeSet = make(map[string]struct{}, len(types))
		for _, t := range types {
			typeSet[t] = struct{}{}
		}
	}
	seen := make(map[model.EdgeKey]struct{})
	var out []model.EdgeRecord

	scan := func(seg *segment.EdgeSegment) {
		if !mayMatch(seg) {
			return
		}
		seg.Scan(func(row int) bool {
			if !rowMatch(seg, row) {
				return true
			}
			rec := seg.Record(row)
			key := rec.Key()
			if _, ok := seen[key]; ok {
				return true
			}
			seen[key] = struct{}{}
			if v.tombs.ContainsEdge(key) {
				return true
			}
			if typeSet != nil {
				if _, ok := typeSet[rec.Type]; !ok {
					return true
				}
			}
			out = append(out, rec)
			return true
		})
	}

	for i := len(v.l0Edges) - 1; i >= 0; i-- {
		scan(v.l0Edges[i].Seg)
	}
	if v.l1Edge != nil {
		scan(v.l1Edge.Seg)
	}
	return out
}

// HasEdge reports whether an edge with the given key is live.
func (v *view) HasEdge(key model.EdgeKey) bool {
	if v.tombs.ContainsEdge(key) {
		return false
	}
	found := false
	scan := func(seg *segment.EdgeSegment) {
		if found || !seg.MaySrc(key.Src) {
			return
		}
		seg.Scan(func(row int) bool {
			if seg.Src(row) == key.Src && seg.Dst(row) == key.Dst && seg.TypeAt(row) == key.Type {
				found = true
				return false
			}
			return true
		})
	}
	for i := len(v.l0Edges) - 1; i >= 0 && !found; i-- {
		scan(v.l0Edges[i].Seg)
	}
	if v.l1Edge != nil {
		scan(v.l1Edge.Seg)
	}
	return found
}

// EdgeKeysByFile returns the keys of all live edges owned by any of the
// given files or enrichment contexts. Re-ingesting a file uses this to
// tombstone the edges it previously committed without touching edges
// other files own, even when they share endpoints.
func (v *view) EdgeKeysByFile(files []string) []model.EdgeKey {
	if len(files) == 0 {
		return nil
	}
	owned := make(map[string]struct{}, len(files))
	for _, f := range files {
		owned[f] = struct{}{}
	}
	seen := make(map[model.EdgeKey]struct{})
	var out []model.EdgeKey

	// Newest occurrence of a key decides its owning file, so a key
	// re-staged under another file in an earlier commit is never
	// collected off its stale row.
	scan := func(seg *segment.EdgeSegment) {
		seg.Scan(func(row int) bool {
			key := model.EdgeKey{Src: seg.Src(row), Dst: seg.Dst(row), Type: seg.TypeAt(row)}
			if _, ok := seen[key]; ok {
				return true
			}
			seen[key] = struct{}{}
			if _, ok := owned[seg.FileAt(row)]; !ok {
				return true
			}
			if !v.tombs.ContainsEdge(key) {
				out = append(out, key)
			}
			return true
		})
	}

	for i := len(v.l0Edges) - 1; i >= 0; i-- {
		scan(v.l0Edges[i].Seg)
	}
	if v.l1Edge != nil {
		scan(v.l1Edge.Seg)
	}
	return out
}

// NodeIDsForFiles returns the ids of all live nodes currently
// attributed to any of the given files.
func (v *view) NodeIDsForFiles(files []string) []model.ID {
	seen := make(map[model.ID]struct{})
	var out []model.ID
	for _, f := range files {
		for _, rec := range v.FindNodes(model.NodeQuery{File: f}) {
			if _, ok := seen[rec.ID]; ok {
				continue
			}
			seen[rec.ID] = struct{}{}
			out = append(out, rec.ID)
		}
	}
	return out
}

// LiveNodes returns every live node in the shard, newest version per
// id, tombstones applied.
func (v *view) LiveNodes() []model.NodeRecord {
	return v.FindNodes(model.NodeQuery{})
}

// LiveEdges returns every live edge in the shard, newest metadata per
// key, tombstones applied.
func (v *view) LiveEdges() []model.EdgeRecord {
	seen := make(map[model.EdgeKey]struct{})
	var out []model.EdgeRecord

	scan := func(seg *segment.EdgeSegment) {
		seg.Scan(func(row int) bool {
			rec := seg.Record(row)
			key := rec.Key()
			if _, ok := seen[key]; ok {
				return true
			}
			seen[key] = struct{}{}
			if !v.tombs.ContainsEdge(key) {
				out = append(out, rec)
			}
			return true
		})
	}

	for i := len(v.l0Edges) - 1; i >= 0; i-- {
		scan(v.l0Edges[i].Seg)
	}
	if v.l1Edge != nil {
		scan(v.l1Edge.Seg)
	}
	return out
}

// L0NodeEntries returns the L0 node segments, oldest first.
func (v *view) L0NodeEntries() []NodeEntry { return v.l0Nodes }

// L0EdgeEntries returns the L0 edge segments, oldest first.
func (v *view) L0EdgeEntries() []EdgeEntry { return v.l0Edges }

// L1NodeEntry returns the compacted node segment, if any.
func (v *view) L1NodeEntry() *NodeEntry { return v.l1Node }

// L1EdgeEntry returns the compacted edge segment, if any.
func (v *view) L1EdgeEntry() *EdgeEntry { return v.l1Edge }

// TombstoneView returns the tombstones in force for this view.
func (v *view) TombstoneView() *TombstoneSet { return v.tombs }
