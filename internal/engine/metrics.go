package engine

import (
	"sync/atomic"
	"time"
)

// Collector receives engine events. Implementations must be
// goroutine-safe and cheap; collection runs inline with commits.
type Collector interface {
	OnCommit(d time.Duration, nodes, edges int, err error)
	OnCompaction(d time.Duration, merged, created int, err error)
	OnGC(segmentsRemoved int)
}

// NoopCollector discards all events.
type NoopCollector struct{}

func (NoopCollector) OnCommit(time.Duration, int, int, error)     {}
func (NoopCollector) OnCompaction(time.Duration, int, int, error) {}
func (NoopCollector) OnGC(int)                                    {}

// Stats is a point-in-time copy of the basic counters.
type Stats struct {
	Commits          int64
	CommitErrors     int64
	NodesWritten     int64
	EdgesWritten     int64
	Compactions      int64
	CompactionErrors int64
	SegmentsMerged   int64
	SegmentsCreated  int64
	SegmentsGCed     int64
}

// BasicCollector counts events with atomics.
type BasicCollector struct {
	commits          atomic.Int64
	commitErrors     atomic.Int64
	nodesWritten     atomic.Int64
	edgesWritten     atomic.Int64
	compactions      atomic.Int64
	compactionErrors atomic.Int64
	segmentsMerged   atomic.Int64
	segmentsCreated  atomic.Int64
	segmentsGCed     atomic.Int64
}

func (c *BasicCollector) OnCommit(_ time.Duration, nodes, edges int, err error) {
	if err != nil {
		c.commitErrors.Add(1)
		return
	}
	c.commits.Add(1)
	c.nodesWritten.Add(int64(nodes))
	c.edgesWritten.Add(int64(edges))
}

func (c *BasicCollector) OnCompaction(_ time.Duration, merged, created int, err error) {
	if err != nil {
		c.compactionErrors.Add(1)
		return
	}
	c.compactions.Add(1)
	c.segmentsMerged.Add(int64(merged))
	c.segmentsCreated.Add(int64(created))
}

func (c *BasicCollector) OnGC(removed int) {
	c.segmentsGCed.Add(int64(removed))
}

// Snapshot copies the counters.
func (c *BasicCollector) Snapshot() Stats {
	return Stats{
		Commits:          c.commits.Load(),
		CommitErrors:     c.commitErrors.Load(),
		NodesWritten:     c.nodesWritten.Load(),
		EdgesWritten:     c.edgesWritten.Load(),
		Compactions:      c.compactions.Load(),
		CompactionErrors: c.compactionErrors.Load(),
		SegmentsMerged:   c.segmentsMerged.Load(),
		SegmentsCreated:  c.segmentsCreated.Load(),
		SegmentsGCed:     c.segmentsGCed.Load(),
	}
}
