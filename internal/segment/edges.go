package segment

import (
	"github.com/rfdb/rfdb/model"
)

// EdgeSegment is an immutable, read-only edge segment. The src bloom
// serves outgoing-neighbor lookups; the dst bloom lets reverse lookups
// skip segments that cannot contain the target.
type EdgeSegment struct {
	p *parsed
	n int

	srcOff  int
	dstOff  int
	typeOff int
	fileOff int
	metaOff int
}

// OpenEdgeSegment mmaps and parses an edge segment file.
func OpenEdgeSegment(path string) (*EdgeSegment, error) {
	data, closer, err := openMapped(path)
	if err != nil {
		return nil, err
	}
	seg, err := newEdgeSegment(data, closer)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return seg, nil
}

// EdgeSegmentFromBytes parses an edge segment held in memory.
func EdgeSegmentFromBytes(data []byte) (*EdgeSegment, error) {
	return newEdgeSegment(data, nil)
}

func newEdgeSegment(data []byte, closer interface{ Close() error }) (*EdgeSegment, error) {
	p, err := parseSegment(data, closer, TypeEdges)
	if err != nil {
		return nil, err
	}
	n := int(p.header.RecordCount)

	s := &EdgeSegment{p: p, n: n}
	s.srcOff = HeaderSize
	s.dstOff = s.srcOff + idWidth*n
	s.typeOff = s.dstOff + idWidth*n
	s.fileOff = s.typeOff + 4*n
	s.metaOff = s.fileOff + 4*n

	for _, base := range []int{s.typeOff, s.fileOff, s.metaOff} {
		if err := p.validateIndexColumn(base, n); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Len returns the record count.
func (s *EdgeSegment) Len() int { return s.n }

// Close releases the underlying mapping, if any.
func (s *EdgeSegment) Close() error { return s.p.Close() }

// Src returns the source id of record i.
func (s *EdgeSegment) Src(i int) model.ID {
	var id model.ID
	copy(id[:], s.p.data[s.srcOff+idWidth*i:])
	return id
}

// Dst returns the destination id of record i.
func (s *EdgeSegment) Dst(i int) model.ID {
	var id model.ID
	copy(id[:], s.p.data[s.dstOff+idWidth*i:])
	return id
}

// TypeAt returns the edge type of record i.
func (s *EdgeSegment) TypeAt(i int) string { return s.p.stringAt(s.typeOff, i) }

// FileAt returns the owning file (or enrichment context) of record i.
func (s *EdgeSegment) FileAt(i int) string { return s.p.stringAt(s.fileOff, i) }

// MetadataAt returns the metadata payload of record i.
func (s *EdgeSegment) MetadataAt(i int) string { return s.p.stringAt(s.metaOff, i) }

// Record materializes record i.
func (s *EdgeSegment) Record(i int) model.EdgeRecord {
	return model.EdgeRecord{
		Src:      s.Src(i),
		Dst:      s.Dst(i),
		Type:     s.TypeAt(i),
		Metadata: s.MetadataAt(i),
		File:     s.FileAt(i),
	}
}

// MaySrc reports whether any edge could originate at id.
func (s *EdgeSegment) MaySrc(id model.ID) bool {
	return s.p.bloom.MayContain(id)
}

// MayDst reports whether any edge could point at id.
func (s *EdgeSegment) MayDst(id model.ID) bool {
	return s.p.dstBloom.MayContain(id)
}

// MayContainField reports whether the segment could hold edges whose
// field has the given value, via the zone map.
func (s *EdgeSegment) MayContainField(field, value string) bool {
	return s.p.zoneMap.MayContain(field, value)
}

// Scan calls fn for each record index until fn returns false.
func (s *EdgeSegment) Scan(fn func(i int) bool) {
	for i := 0; i < s.n; i++ {
		if !fn(i) {
			return
		}
	}
}

// Records materializes every record. Used by compaction merges.
func (s *EdgeSegment) Records() []model.EdgeRecord {
	out := make([]model.EdgeRecord, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = s.Record(i)
	}
	return out
}
