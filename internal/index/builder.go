package index

import (
	"github.com/rfdb/rfdb/model"
)

// Built bundles the indexes produced for one shard's compacted node
// segment, plus the shard's contribution to the global index.
type Built struct {
	ByType  *Inverted
	ByFile  *Inverted
	ByName  *Inverted
	Entries []Entry
}

// Build constructs inverted indexes and global entries from the sorted,
// compacted node records of one shard. Row ordinals are positions in the
// merged segment.
func Build(records []model.NodeRecord, shard model.ShardID, seg model.SegmentID) Built {
	b := Built{
		ByType:  NewInverted(),
		ByFile:  NewInverted(),
		ByName:  NewInverted(),
		Entries: make([]Entry, 0, len(records)),
	}
	for i, rec := range records {
		row := uint32(i)
		b.ByType.Add(rec.Type, row)
		b.ByFile.Add(rec.File, row)
		if rec.Name != "" {
			b.ByName.Add(rec.Name, row)
		}
		b.Entries = append(b.Entries, Entry{
			ID:      rec.ID,
			Segment: seg,
			Offset:  row,
			Shard:   shard,
		})
	}
	return b
}
