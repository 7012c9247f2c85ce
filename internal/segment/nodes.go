package segment

import (
	"encoding/binary"

	"github.com/rfdb/rfdb/model"
)

// NodeSegment is an immutable, read-only node segment. All structure and
// string indexes are validated at open, so per-record accessors are
// infallible. Backed either by an owned byte slice or an mmap.
type NodeSegment struct {
	p *parsed
	n int

	// Column base offsets into p.data.
	semanticOff int
	typeOff     int
	nameOff     int
	fileOff     int
	metaOff     int
	idOff       int
	hashOff     int
}

// OpenNodeSegment mmaps and parses a node segment file.
func OpenNodeSegment(path string) (*NodeSegment, error) {
	data, closer, err := openMapped(path)
	if err != nil {
		return nil, err
	}
	seg, err := newNodeSegment(data, closer)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return seg, nil
}

// NodeSegmentFromBytes parses a node segment held in memory.
func NodeSegmentFromBytes(data []byte) (*NodeSegment, error) {
	return newNodeSegment(data, nil)
}

func newNodeSegment(data []byte, closer interface{ Close() error }) (*NodeSegment, error) {
	p, err := parseSegment(data, closer, TypeNodes)
	if err != nil {
		return nil, err
	}
	n := int(p.header.RecordCount)

	s := &NodeSegment{p: p, n: n}
	s.semanticOff = HeaderSize
	s.typeOff = s.semanticOff + 4*n
	s.nameOff = s.typeOff + 4*n
	s.fileOff = s.nameOff + 4*n
	s.metaOff = s.fileOff + 4*n
	idStart := s.metaOff + 4*n
	idStart += padTo16(idStart)
	s.idOff = idStart
	s.hashOff = s.idOff + idWidth*n

	for _, base := range []int{s.semanticOff, s.typeOff, s.nameOff, s.fileOff, s.metaOff} {
		if err := p.validateIndexColumn(base, n); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Len returns the record count.
func (s *NodeSegment) Len() int { return s.n }

// Close releases the underlying mapping, if any.
func (s *NodeSegment) Close() error { return s.p.Close() }

// ID returns the id of record i.
func (s *NodeSegment) ID(i int) model.ID {
	var id model.ID
	copy(id[:], s.p.data[s.idOff+idWidth*i:])
	return id
}

// ContentHash returns the content hash of record i.
func (s *NodeSegment) ContentHash(i int) uint64 {
	return binary.LittleEndian.Uint64(s.p.data[s.hashOff+8*i:])
}

// SemanticID returns the semantic id of record i.
func (s *NodeSegment) SemanticID(i int) string { return s.p.stringAt(s.semanticOff, i) }

// TypeAt returns the node type of record i.
func (s *NodeSegment) TypeAt(i int) string { return s.p.stringAt(s.typeOff, i) }

// NameAt returns the name of record i.
func (s *NodeSegment) NameAt(i int) string { return s.p.stringAt(s.nameOff, i) }

// FileAt returns the owning file of record i.
func (s *NodeSegment) FileAt(i int) string { return s.p.stringAt(s.fileOff, i) }

// MetadataAt returns the metadata payload of record i.
func (s *NodeSegment) MetadataAt(i int) string { return s.p.stringAt(s.metaOff, i) }

// Record materializes record i.
func (s *NodeSegment) Record(i int) model.NodeRecord {
	return model.NodeRecord{
		SemanticID:  s.SemanticID(i),
		ID:          s.ID(i),
		Type:        s.TypeAt(i),
		Name:        s.NameAt(i),
		File:        s.FileAt(i),
		ContentHash: s.ContentHash(i),
		Metadata:    s.MetadataAt(i),
	}
}

// MayContain reports whether id could be present, via the bloom filter.
// Zero false negatives.
func (s *NodeSegment) MayContain(id model.ID) bool {
	return s.p.bloom.MayContain(id)
}

// MayContainField reports whether the segment could hold records whose
// field has the given value, via the zone map.
func (s *NodeSegment) MayContainField(field, value string) bool {
	return s.p.zoneMap.MayContain(field, value)
}

// Find scans the id column for id and returns its record.
func (s *NodeSegment) Find(id model.ID) (model.NodeRecord, bool) {
	if !s.MayContain(id) {
		return model.NodeRecord{}, false
	}
	for i := 0; i < s.n; i++ {
		if s.ID(i) == id {
			return s.Record(i), true
		}
	}
	return model.NodeRecord{}, false
}

// FindIndex returns the row index of id, or -1.
func (s *NodeSegment) FindIndex(id model.ID) int {
	if !s.MayContain(id) {
		return -1
	}
	for i := 0; i < s.n; i++ {
		if s.ID(i) == id {
			return i
		}
	}
	return -1
}

// Scan calls fn for each record index until fn returns false.
func (s *NodeSegment) Scan(fn func(i int) bool) {
	for i := 0; i < s.n; i++ {
		if !fn(i) {
			return
		}
	}
}

// Records materializes every record. Used by compaction merges.
func (s *NodeSegment) Records() []model.NodeRecord {
	out := make([]model.NodeRecord, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = s.Record(i)
	}
	return out
}
