package engine

import "github.com/rfdb/rfdb/model"

// DefaultL0Threshold is the L0 segment count at which a shard becomes a
// compaction candidate.
const DefaultL0Threshold = 4

// ShardStats summarizes one shard for compaction decisions.
type ShardStats struct {
	Shard      model.ShardID
	L0Segments int
	L0Records  uint64
	Tombstones int
	HasL1      bool
}

// Policy decides which shards to compact.
type Policy interface {
	// Pick returns the shards worth compacting, possibly none.
	Pick(stats []ShardStats) []model.ShardID
}

// ThresholdPolicy compacts every shard whose L0 stack has reached a
// fixed segment count.
type ThresholdPolicy struct {
	// L0Threshold is the trigger count; <= 0 means DefaultL0Threshold.
	L0Threshold int
}

func (p *ThresholdPolicy) Pick(stats []ShardStats) []model.ShardID {
	threshold := p.L0Threshold
	if threshold <= 0 {
		threshold = DefaultL0Threshold
	}
	var out []model.ShardID
	for _, st := range stats {
		if st.L0Segments >= threshold {
			out = append(out, st.Shard)
		}
	}
	return out
}

// CompactAllPolicy compacts every shard holding any L0 segment or
// pending tombstones. Explicit Compact calls use it to force a full
// merge.
type CompactAllPolicy struct{}

func (CompactAllPolicy) Pick(stats []ShardStats) []model.ShardID {
	var out []model.ShardID
	for _, st := range stats {
		if st.L0Segments > 0 || st.Tombstones > 0 {
			out = append(out, st.Shard)
		}
	}
	return out
}
