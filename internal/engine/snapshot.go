package engine

import (
	"sync/atomic"

	"github.com/rfdb/rfdb/internal/shard"
)

// Snapshot is a pinned, consistent view of the whole store: one shard
// view per shard, all taken under the same committed manifest version.
// Every read operation acquires the current snapshot for its entire
// duration, so a commit or compaction finishing mid-traversal can never
// leak newer records into it.
type Snapshot struct {
	refs    atomic.Int64
	version uint64
	views   []*shard.View
}

func newSnapshot(version uint64, shards []*shard.Shard) *Snapshot {
	s := &Snapshot{version: version, views: make([]*shard.View, len(shards))}
	s.refs.Store(1)
	for i, sh := range shards {
		s.views[i] = sh.Snapshot()
	}
	return s
}

// Version returns the manifest version the snapshot pins.
func (s *Snapshot) Version() uint64 { return s.version }

// Views returns the per-shard views.
func (s *Snapshot) Views() []*shard.View { return s.views }

// IncRef adds an owner.
func (s *Snapshot) IncRef() { s.refs.Add(1) }

// TryIncRef adds an owner unless the snapshot is already destroyed.
func (s *Snapshot) TryIncRef() bool {
	for {
		refs := s.refs.Load()
		if refs <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(refs, refs+1) {
			return true
		}
	}
}

// DecRef drops an owner; the last one releases every shard view, which
// in turn unpins the underlying segments.
func (s *Snapshot) DecRef() {
	if s.refs.Add(-1) == 0 {
		for _, v := range s.views {
			v.Release()
		}
		s.views = nil
	}
}
