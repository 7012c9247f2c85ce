package segment

import (
	"encoding/binary"
	"io"

	"github.com/rfdb/rfdb/internal/mmap"
)

// parsed holds the validated parts shared by node and edge readers.
type parsed struct {
	data     []byte
	header   Header
	footer   FooterIndex
	bloom    *Bloom
	dstBloom *Bloom
	zoneMap  *ZoneMap
	strings  *StringTable
	closer   io.Closer
}

// parseSegment validates the file structure: header, trailing footer
// index, section bounds and the expected column layout end for the
// record count. Every violation is an ErrCorrupt-wrapped error.
func parseSegment(data []byte, closer io.Closer, want Type) (*parsed, error) {
	if len(data) < HeaderSize+FooterIndexSize {
		return nil, corruptf("file too small: %d bytes", len(data))
	}
	header, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if header.Type != want {
		return nil, corruptf("expected %s segment, found %s", want, header.Type)
	}

	footerStart := len(data) - FooterIndexSize
	footer, err := DecodeFooterIndex(data[footerStart:])
	if err != nil {
		return nil, err
	}
	if header.FooterOffset != uint64(footerStart) {
		return nil, corruptf("header footer offset %d does not match file tail %d",
			header.FooterOffset, footerStart)
	}

	n := int(header.RecordCount)
	var wantEnd uint64
	switch want {
	case TypeNodes:
		wantEnd = uint64(nodeDataEnd(n))
	case TypeEdges:
		wantEnd = uint64(edgeDataEnd(n))
	}
	if footer.DataEndOffset != wantEnd {
		return nil, corruptf("data end %d does not match layout for %d records (want %d)",
			footer.DataEndOffset, n, wantEnd)
	}

	// Sections are written in a fixed order, so each ends where the next
	// begins (dst bloom offset is 0 when absent).
	sectionEnd := func(start uint64) uint64 {
		switch {
		case footer.DstBloomOffset > start:
			return footer.DstBloomOffset
		case footer.ZoneMapOffset > start:
			return footer.ZoneMapOffset
		case footer.StringTableOffset > start:
			return footer.StringTableOffset
		default:
			return uint64(footerStart)
		}
	}
	section := func(start uint64) ([]byte, error) {
		end := sectionEnd(start)
		if start < footer.DataEndOffset || end > uint64(footerStart) || start > end {
			return nil, corruptf("footer section out of bounds [%d, %d)", start, end)
		}
		return data[start:end], nil
	}

	raw, err := section(footer.BloomOffset)
	if err != nil {
		return nil, err
	}
	bloom, err := DecodeBloom(raw)
	if err != nil {
		return nil, err
	}

	var dstBloom *Bloom
	if footer.DstBloomOffset != 0 {
		raw, err := section(footer.DstBloomOffset)
		if err != nil {
			return nil, err
		}
		if dstBloom, err = DecodeBloom(raw); err != nil {
			return nil, err
		}
	} else if want == TypeEdges {
		return nil, corruptf("edge segment missing dst bloom filter")
	}

	raw, err = section(footer.ZoneMapOffset)
	if err != nil {
		return nil, err
	}
	zoneMap, err := DecodeZoneMap(raw)
	if err != nil {
		return nil, err
	}

	if footer.StringTableOffset < footer.DataEndOffset || footer.StringTableOffset > uint64(footerStart) {
		return nil, corruptf("string table offset out of bounds")
	}
	strings, err := DecodeStringTable(data[footer.StringTableOffset:footerStart])
	if err != nil {
		return nil, err
	}

	return &parsed{
		data:     data,
		header:   header,
		footer:   footer,
		bloom:    bloom,
		dstBloom: dstBloom,
		zoneMap:  zoneMap,
		strings:  strings,
		closer:   closer,
	}, nil
}

// validateIndexColumn checks that every u32 string index in the column at
// base resolves into the string table, so accessors never fail.
func (p *parsed) validateIndexColumn(base, n int) error {
	limit := uint32(p.strings.Len())
	for i := 0; i < n; i++ {
		idx := binary.LittleEndian.Uint32(p.data[base+4*i:])
		if idx >= limit {
			return corruptf("string index %d out of range (table has %d)", idx, limit)
		}
	}
	return nil
}

func (p *parsed) stringAt(base, i int) string {
	idx := binary.LittleEndian.Uint32(p.data[base+4*i:])
	s, _ := p.strings.Get(idx)
	return s
}

// Close releases the underlying mapping, if any.
func (p *parsed) Close() error {
	if p.closer == nil {
		return nil
	}
	c := p.closer
	p.closer = nil
	return c.Close()
}

// openMapped mmaps a segment file read-only.
func openMapped(path string) ([]byte, io.Closer, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, nil, err
	}
	// Point lookups dominate; tell the kernel not to read ahead.
	_ = m.Advise(mmap.AccessRandom)
	return m.Bytes(), m, nil
}
