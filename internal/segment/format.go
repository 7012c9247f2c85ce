package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// On-disk layout constants. All integers are little-endian.
const (
	// HeaderSize is the fixed segment header size.
	HeaderSize = 32
	// FooterIndexSize is the fixed footer index size at the end of the file.
	FooterIndexSize = 48
	// FormatVersion is the current segment format version.
	FormatVersion = 2

	// BloomBitsPerKey and BloomNumHashes give ~0.8% theoretical FPR.
	BloomBitsPerKey = 10
	BloomNumHashes  = 7

	// MaxZoneMapValuesPerField caps distinct values tracked per field;
	// fields above the cap are treated as "all values possible".
	MaxZoneMapValuesPerField = 10000

	// idWidth is the byte width of a record id column entry.
	idWidth = 16
)

// Magic identifies a segment file.
var Magic = [4]byte{'S', 'G', 'V', '2'}

// FooterMagic is the trailing magic of the footer index ("FTR2").
const FooterMagic uint32 = 0x46545232

// Type distinguishes node from edge segments.
type Type uint32

const (
	// TypeNodes marks a node segment.
	TypeNodes Type = 1
	// TypeEdges marks an edge segment.
	TypeEdges Type = 2
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeNodes:
		return "nodes"
	case TypeEdges:
		return "edges"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// ErrCorrupt is the base error for any structural decode failure. All
// reader validation errors wrap it so callers can errors.Is against one
// sentinel while the message carries the specific violation.
var ErrCorrupt = errors.New("segment: corrupt")

// corruptf builds a decode error wrapping ErrCorrupt.
func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Header is the fixed 32-byte segment header.
//
//	Offset  Size  Field
//	0       4     magic "SGV2"
//	4       4     version (u32 = 2)
//	8       4     segment type (u32)
//	12      4     padding (zero)
//	16      8     record count (u64)
//	24      8     footer index offset (u64, patched after body write)
type Header struct {
	Type         Type
	RecordCount  uint64
	FooterOffset uint64
}

// WriteTo encodes the header.
func (h Header) WriteTo(w io.Writer) error {
	var buf [HeaderSize]byte
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(h.Type))
	binary.LittleEndian.PutUint64(buf[16:24], h.RecordCount)
	binary.LittleEndian.PutUint64(buf[24:32], h.FooterOffset)
	_, err := w.Write(buf[:])
	return err
}

// DecodeHeader parses and validates a segment header.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, corruptf("header truncated: %d bytes", len(data))
	}
	if !bytesEqual(data[0:4], Magic[:]) {
		return Header{}, corruptf("bad magic %q", data[0:4])
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version != FormatVersion {
		return Header{}, corruptf("unsupported version %d", version)
	}
	t := Type(binary.LittleEndian.Uint32(data[8:12]))
	if t != TypeNodes && t != TypeEdges {
		return Header{}, corruptf("unknown segment type %d", uint32(t))
	}
	return Header{
		Type:         t,
		RecordCount:  binary.LittleEndian.Uint64(data[16:24]),
		FooterOffset: binary.LittleEndian.Uint64(data[24:32]),
	}, nil
}

// FooterIndex is the fixed 48-byte trailer locating footer sections.
//
//	Offset  Size  Field
//	0       8     bloom filter offset
//	8       8     dst bloom filter offset (0 for node segments)
//	16      8     zone map offset
//	24      8     string table offset
//	32      8     data end offset (end of the column body)
//	40      4     footer index size (u32 = 48)
//	44      4     magic (u32 = 0x46545232 "FTR2")
type FooterIndex struct {
	BloomOffset       uint64
	DstBloomOffset    uint64
	ZoneMapOffset     uint64
	StringTableOffset uint64
	DataEndOffset     uint64
}

// WriteTo encodes the footer index.
func (f FooterIndex) WriteTo(w io.Writer) error {
	var buf [FooterIndexSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], f.BloomOffset)
	binary.LittleEndian.PutUint64(buf[8:16], f.DstBloomOffset)
	binary.LittleEndian.PutUint64(buf[16:24], f.ZoneMapOffset)
	binary.LittleEndian.PutUint64(buf[24:32], f.StringTableOffset)
	binary.LittleEndian.PutUint64(buf[32:40], f.DataEndOffset)
	binary.LittleEndian.PutUint32(buf[40:44], FooterIndexSize)
	binary.LittleEndian.PutUint32(buf[44:48], FooterMagic)
	_, err := w.Write(buf[:])
	return err
}

// DecodeFooterIndex parses the trailing 48 bytes of a segment.
func DecodeFooterIndex(tail []byte) (FooterIndex, error) {
	if len(tail) != FooterIndexSize {
		return FooterIndex{}, corruptf("footer index truncated: %d bytes", len(tail))
	}
	if m := binary.LittleEndian.Uint32(tail[44:48]); m != FooterMagic {
		return FooterIndex{}, corruptf("bad footer magic %#x", m)
	}
	// Size mismatch means a future footer layout; the magic position is
	// forward-compatible, the rest is not.
	if s := binary.LittleEndian.Uint32(tail[40:44]); s != FooterIndexSize {
		return FooterIndex{}, corruptf("unsupported footer index size %d", s)
	}
	return FooterIndex{
		BloomOffset:       binary.LittleEndian.Uint64(tail[0:8]),
		DstBloomOffset:    binary.LittleEndian.Uint64(tail[8:16]),
		ZoneMapOffset:     binary.LittleEndian.Uint64(tail[16:24]),
		StringTableOffset: binary.LittleEndian.Uint64(tail[24:32]),
		DataEndOffset:     binary.LittleEndian.Uint64(tail[32:40]),
	}, nil
}

// Meta summarizes a written segment for the manifest descriptor.
type Meta struct {
	Type        Type
	RecordCount uint64
	ByteSize    uint64
	NodeTypes   map[string]struct{}
	FilePaths   map[string]struct{}
	EdgeTypes   map[string]struct{}
}

// padTo16 returns the zero padding needed to align offset to 16 bytes.
func padTo16(offset int) int {
	return (16 - offset%16) % 16
}

// nodeDataEnd computes the body end offset of a node segment with n records:
// header, five u32 string-index columns, padding, id column, content hashes.
func nodeDataEnd(n int) int {
	off := HeaderSize + 20*n
	off += padTo16(off)
	return off + idWidth*n + 8*n
}

// edgeDataEnd computes the body end offset of an edge segment with n records:
// header, src ids, dst ids, edge type indexes, file indexes, metadata indexes.
func edgeDataEnd(n int) int {
	return HeaderSize + 2*idWidth*n + 12*n
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
