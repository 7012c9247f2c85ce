package segment

import (
	"encoding/binary"
	"io"
	"unicode/utf8"
)

// stringTableHeaderSize covers count + data length.
const stringTableHeaderSize = 8

// StringTable is the per-segment interning table. Intern assigns dense
// 0-based indexes with write-time dedup; Get is O(1) via the entry array.
// A table loaded with DecodeStringTable is read-only; the dedup map is
// not rebuilt.
type StringTable struct {
	data    []byte
	entries []stringEntry
	index   map[string]uint32
}

type stringEntry struct {
	offset uint32
	length uint32
}

// NewStringTable creates an empty writable string table.
func NewStringTable() *StringTable {
	return &StringTable{index: make(map[string]uint32)}
}

// Intern returns the index of s, appending it if unseen.
func (st *StringTable) Intern(s string) uint32 {
	if idx, ok := st.index[s]; ok {
		return idx
	}
	idx := uint32(len(st.entries))
	st.entries = append(st.entries, stringEntry{
		offset: uint32(len(st.data)),
		length: uint32(len(s)),
	})
	st.data = append(st.data, s...)
	st.index[s] = idx
	return idx
}

// Get returns the string at index, or "" with ok=false when out of range.
func (st *StringTable) Get(index uint32) (string, bool) {
	if int(index) >= len(st.entries) {
		return "", false
	}
	e := st.entries[index]
	end := int(e.offset) + int(e.length)
	if end > len(st.data) {
		return "", false
	}
	return string(st.data[e.offset:end]), true
}

// Len returns the number of interned strings.
func (st *StringTable) Len() int { return len(st.entries) }

// SerializedSize returns the encoded byte size.
func (st *StringTable) SerializedSize() int {
	return stringTableHeaderSize + len(st.entries)*8 + len(st.data)
}

// WriteTo encodes the table:
//
//	[count:u32][data_len:u32][(offset:u32,len:u32) x count][data]
func (st *StringTable) WriteTo(w io.Writer) error {
	var hdr [stringTableHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(st.entries)))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(st.data)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	var buf [8]byte
	for _, e := range st.entries {
		binary.LittleEndian.PutUint32(buf[0:4], e.offset)
		binary.LittleEndian.PutUint32(buf[4:8], e.length)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	_, err := w.Write(st.data)
	return err
}

// DecodeStringTable parses a string table, validating entry bounds and
// UTF-8 up front so Get never fails on a loaded table.
func DecodeStringTable(data []byte) (*StringTable, error) {
	if len(data) < stringTableHeaderSize {
		return nil, corruptf("string table truncated: %d bytes", len(data))
	}
	count := int(binary.LittleEndian.Uint32(data[0:4]))
	dataLen := int(binary.LittleEndian.Uint32(data[4:8]))

	entriesEnd := stringTableHeaderSize + count*8
	if len(data) < entriesEnd {
		return nil, corruptf("string table entries truncated")
	}
	if len(data) < entriesEnd+dataLen {
		return nil, corruptf("string table data truncated")
	}

	entries := make([]stringEntry, count)
	pos := stringTableHeaderSize
	for i := 0; i < count; i++ {
		entries[i] = stringEntry{
			offset: binary.LittleEndian.Uint32(data[pos : pos+4]),
			length: binary.LittleEndian.Uint32(data[pos+4 : pos+8]),
		}
		pos += 8
	}
	strData := data[pos : pos+dataLen]

	for i, e := range entries {
		end := int(e.offset) + int(e.length)
		if end > len(strData) {
			return nil, corruptf("string table entry %d out of bounds", i)
		}
		if !utf8.Valid(strData[e.offset:end]) {
			return nil, corruptf("string table entry %d is not valid UTF-8", i)
		}
	}

	// Copy out of the (possibly mmap-backed) input.
	owned := make([]byte, dataLen)
	copy(owned, strData)

	return &StringTable{data: owned, entries: entries}, nil
}
