// Package index implements the auxiliary indexes built by compaction:
// a global id→location index for O(log N) point lookups and inverted
// indexes (node type → rows, file → rows) whose posting sets are roaring
// bitmaps of row ordinals in a shard's compacted segment.
package index

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/rfdb/rfdb/model"
)

const (
	// headerSize is the fixed index file header size.
	headerSize = 32
	// entrySize is the fixed size of one location entry.
	entrySize = 32
	// formatVersion is the current index format version.
	formatVersion = 1
)

// magic identifies an index file.
var magic = [4]byte{'R', 'I', 'D', 'X'}

// ErrCorrupt is the base error for index decode failures.
var ErrCorrupt = errors.New("index: corrupt")

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

// Entry locates one node: the segment holding it, the row offset within
// that segment and the owning shard.
type Entry struct {
	ID      model.ID
	Segment model.SegmentID
	Offset  uint32
	Shard   model.ShardID
}

func (e Entry) encode(buf []byte) {
	copy(buf[0:16], e.ID[:])
	binary.LittleEndian.PutUint64(buf[16:24], uint64(e.Segment))
	binary.LittleEndian.PutUint32(buf[24:28], e.Offset)
	binary.LittleEndian.PutUint16(buf[28:30], uint16(e.Shard))
}

func decodeEntry(buf []byte) Entry {
	var e Entry
	copy(e.ID[:], buf[0:16])
	e.Segment = model.SegmentID(binary.LittleEndian.Uint64(buf[16:24]))
	e.Offset = binary.LittleEndian.Uint32(buf[24:28])
	e.Shard = model.ShardID(binary.LittleEndian.Uint16(buf[28:30]))
	return e
}

// header is the fixed 32-byte index file header.
//
//	Offset  Size  Field
//	0       4     magic "RIDX"
//	4       4     version (u32 = 1)
//	8       8     entry count (u64)
//	16      4     key count (u32, 0 for the global index)
//	20      12    reserved
type header struct {
	entryCount uint64
	keyCount   uint32
}

func (h header) writeTo(w io.Writer) error {
	var buf [headerSize]byte
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], formatVersion)
	binary.LittleEndian.PutUint64(buf[8:16], h.entryCount)
	binary.LittleEndian.PutUint32(buf[16:20], h.keyCount)
	_, err := w.Write(buf[:])
	return err
}

func decodeIndexHeader(data []byte) (header, error) {
	if len(data) < headerSize {
		return header{}, corruptf("header truncated: %d bytes", len(data))
	}
	if !bytes.Equal(data[0:4], magic[:]) {
		return header{}, corruptf("bad magic %q", data[0:4])
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != formatVersion {
		return header{}, corruptf("unsupported version %d", v)
	}
	return header{
		entryCount: binary.LittleEndian.Uint64(data[8:16]),
		keyCount:   binary.LittleEndian.Uint32(data[16:20]),
	}, nil
}

// Global is a sorted array of entries over every shard's compacted
// segment, serving O(log N) point lookups without shard fan-out.
type Global struct {
	entries []Entry
}

// BuildGlobal sorts entries by id and returns the index.
func BuildGlobal(entries []Entry) *Global {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID.Less(entries[j].ID)
	})
	return &Global{entries: entries}
}

// Lookup finds the entry for id.
func (g *Global) Lookup(id model.ID) (Entry, bool) {
	i := sort.Search(len(g.entries), func(i int) bool {
		return !g.entries[i].ID.Less(id)
	})
	if i < len(g.entries) && g.entries[i].ID == id {
		return g.entries[i], true
	}
	return Entry{}, false
}

// Len returns the number of entries.
func (g *Global) Len() int { return len(g.entries) }

// WriteTo serializes the index: header plus the sorted entry array.
func (g *Global) WriteTo(w io.Writer) error {
	if err := (header{entryCount: uint64(len(g.entries))}).writeTo(w); err != nil {
		return err
	}
	buf := make([]byte, entrySize)
	for _, e := range g.entries {
		e.encode(buf)
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// DecodeGlobal parses a serialized global index.
func DecodeGlobal(data []byte) (*Global, error) {
	h, err := decodeIndexHeader(data)
	if err != nil {
		return nil, err
	}
	if h.keyCount != 0 {
		return nil, corruptf("global index with %d keys", h.keyCount)
	}
	want := headerSize + int(h.entryCount)*entrySize
	if len(data) < want {
		return nil, corruptf("global index truncated: %d bytes, want %d", len(data), want)
	}
	entries := make([]Entry, h.entryCount)
	for i := range entries {
		entries[i] = decodeEntry(data[headerSize+i*entrySize:])
	}
	return &Global{entries: entries}, nil
}

// Inverted maps attribute values to the set of row ordinals carrying
// that value in one shard's compacted node segment. Posting sets are
// roaring bitmaps.
type Inverted struct {
	postings map[string]*roaring.Bitmap
}

// NewInverted creates an empty inverted index.
func NewInverted() *Inverted {
	return &Inverted{postings: make(map[string]*roaring.Bitmap)}
}

// Add records that row carries key.
func (ix *Inverted) Add(key string, row uint32) {
	bm, ok := ix.postings[key]
	if !ok {
		bm = roaring.New()
		ix.postings[key] = bm
	}
	bm.Add(row)
}

// Lookup returns the posting bitmap for key, or nil when absent. The
// returned bitmap must not be mutated.
func (ix *Inverted) Lookup(key string) *roaring.Bitmap {
	return ix.postings[key]
}

// Rows returns the row ordinals for key in ascending order.
func (ix *Inverted) Rows(key string) []uint32 {
	bm := ix.postings[key]
	if bm == nil {
		return nil
	}
	return bm.ToArray()
}

// Keys returns the distinct keys in sorted order.
func (ix *Inverted) Keys() []string {
	keys := make([]string, 0, len(ix.postings))
	for k := range ix.postings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EntryCount returns the total number of postings.
func (ix *Inverted) EntryCount() uint64 {
	var total uint64
	for _, bm := range ix.postings {
		total += bm.GetCardinality()
	}
	return total
}

// WriteTo serializes the index: header, then per key (sorted)
//
//	[key_len:u16][key][bitmap_len:u32][roaring portable bytes]
func (ix *Inverted) WriteTo(w io.Writer) error {
	keys := ix.Keys()
	h := header{entryCount: ix.EntryCount(), keyCount: uint32(len(keys))}
	if err := h.writeTo(w); err != nil {
		return err
	}
	var u16 [2]byte
	var u32 [4]byte
	for _, k := range keys {
		binary.LittleEndian.PutUint16(u16[:], uint16(len(k)))
		if _, err := w.Write(u16[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, k); err != nil {
			return err
		}
		var buf bytes.Buffer
		if _, err := ix.postings[k].WriteTo(&buf); err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(u32[:], uint32(buf.Len()))
		if _, err := w.Write(u32[:]); err != nil {
			return err
		}
		if _, err := w.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// DecodeInverted parses a serialized inverted index.
func DecodeInverted(data []byte) (*Inverted, error) {
	h, err := decodeIndexHeader(data)
	if err != nil {
		return nil, err
	}
	ix := NewInverted()
	pos := headerSize
	for k := uint32(0); k < h.keyCount; k++ {
		if pos+2 > len(data) {
			return nil, corruptf("key length truncated")
		}
		klen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+klen > len(data) {
			return nil, corruptf("key truncated")
		}
		key := string(data[pos : pos+klen])
		pos += klen

		if pos+4 > len(data) {
			return nil, corruptf("bitmap length truncated")
		}
		blen := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+blen > len(data) {
			return nil, corruptf("bitmap truncated")
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(data[pos : pos+blen]); err != nil {
			return nil, corruptf("bitmap for key %q: %v", key, err)
		}
		pos += blen
		ix.postings[key] = bm
	}
	if got := ix.EntryCount(); got != h.entryCount {
		return nil, corruptf("entry count mismatch: header %d, postings %d", h.entryCount, got)
	}
	return ix, nil
}
