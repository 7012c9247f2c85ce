package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfdb/rfdb/model"
)

func TestBasicCollector(t *testing.T) {
	var c BasicCollector

	c.OnCommit(time.Millisecond, 3, 2, nil)
	c.OnCommit(time.Millisecond, 1, 0, nil)
	c.OnCommit(time.Millisecond, 5, 5, errors.New("boom"))
	c.OnCompaction(time.Second, 4, 2, nil)
	c.OnCompaction(time.Second, 0, 0, errors.New("boom"))
	c.OnGC(6)

	got := c.Snapshot()
	assert.Equal(t, Stats{
		Commits:          2,
		CommitErrors:     1,
		NodesWritten:     4,
		EdgesWritten:     2,
		Compactions:      1,
		CompactionErrors: 1,
		SegmentsMerged:   4,
		SegmentsCreated:  2,
		SegmentsGCed:     6,
	}, got)
}

func TestCollector_WiredIntoStore(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicCollector{}
	s, err := Create(ctx, "", Config{ShardCount: 2, Metrics: metrics})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	foo := testNode("f.go::function::Foo", "function", "Foo", "f.go", 1)
	bar := testNode("f.go::function::Bar", "function", "Bar", "f.go", 2)
	commitBatch(t, s, CommitOptions{}, []model.NodeRecord{foo, bar},
		[]model.EdgeRecord{testEdge(foo.ID, bar.ID, "calls", "f.go")})
	require.NoError(t, s.Compact(ctx))

	got := metrics.Snapshot()
	assert.Equal(t, int64(1), got.Commits)
	assert.Equal(t, int64(2), got.NodesWritten)
	assert.Equal(t, int64(1), got.EdgesWritten)
	assert.Equal(t, int64(1), got.Compactions)
	assert.Positive(t, got.SegmentsCreated)
}
