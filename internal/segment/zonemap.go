package segment

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sort"
	"unicode/utf8"
)

// Zone map field names.
const (
	FieldNodeType = "node_type"
	FieldFile     = "file"
	FieldEdgeType = "edge_type"
)

// ZoneMap records the distinct string values observed per indexed field
// in one segment. A query whose value is absent from the zone map can
// skip the segment without touching its columns. A field missing from
// the map means "all values possible": either never tracked or dropped
// for exceeding MaxZoneMapValuesPerField on write.
type ZoneMap struct {
	fields map[string]map[string]struct{}
}

// NewZoneMap creates an empty zone map.
func NewZoneMap() *ZoneMap {
	return &ZoneMap{fields: make(map[string]map[string]struct{})}
}

// Add records that value appears for field.
func (z *ZoneMap) Add(field, value string) {
	vals, ok := z.fields[field]
	if !ok {
		vals = make(map[string]struct{})
		z.fields[field] = vals
	}
	vals[value] = struct{}{}
}

// Contains reports whether value was recorded for field. A field that was
// never written returns false; callers must only prune on fields they
// know are tracked (MayContain handles the distinction).
func (z *ZoneMap) Contains(field, value string) bool {
	vals, ok := z.fields[field]
	if !ok {
		return false
	}
	_, ok = vals[value]
	return ok
}

// MayContain reports whether a segment could hold records with the given
// field value. An untracked field (absent or dropped for cardinality)
// cannot prune, so it answers true.
func (z *ZoneMap) MayContain(field, value string) bool {
	vals, ok := z.fields[field]
	if !ok {
		return true
	}
	_, ok = vals[value]
	return ok
}

// Values returns the tracked distinct values for field, or nil.
func (z *ZoneMap) Values(field string) map[string]struct{} {
	return z.fields[field]
}

// FieldCount returns the number of tracked fields.
func (z *ZoneMap) FieldCount() int { return len(z.fields) }

// WriteTo encodes the zone map with fields and values sorted for
// deterministic output:
//
//	[field_count:u32]
//	per field: [name_len:u16][name][value_count:u32]
//	           per value: [len:u16][bytes]
//
// Fields over the distinct-value cap are skipped entirely.
func (z *ZoneMap) WriteTo(w io.Writer, logger *slog.Logger) error {
	names := make([]string, 0, len(z.fields))
	for name, vals := range z.fields {
		if len(vals) > MaxZoneMapValuesPerField {
			if logger != nil {
				logger.Warn("zone map field over cap, dropping",
					slog.String("field", name),
					slog.Int("count", len(vals)),
					slog.Int("max", MaxZoneMapValuesPerField))
			}
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var u32 [4]byte
	var u16 [2]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(names)))
	if _, err := w.Write(u32[:]); err != nil {
		return err
	}
	for _, name := range names {
		binary.LittleEndian.PutUint16(u16[:], uint16(len(name)))
		if _, err := w.Write(u16[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, name); err != nil {
			return err
		}

		vals := make([]string, 0, len(z.fields[name]))
		for v := range z.fields[name] {
			vals = append(vals, v)
		}
		sort.Strings(vals)

		binary.LittleEndian.PutUint32(u32[:], uint32(len(vals)))
		if _, err := w.Write(u32[:]); err != nil {
			return err
		}
		for _, v := range vals {
			binary.LittleEndian.PutUint16(u16[:], uint16(len(v)))
			if _, err := w.Write(u16[:]); err != nil {
				return err
			}
			if _, err := io.WriteString(w, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeZoneMap parses a serialized zone map.
func DecodeZoneMap(data []byte) (*ZoneMap, error) {
	if len(data) < 4 {
		return nil, corruptf("zone map truncated: %d bytes", len(data))
	}
	pos := 0
	fieldCount := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
	pos += 4

	z := NewZoneMap()
	for f := 0; f < fieldCount; f++ {
		name, n, err := readLenString16(data, pos)
		if err != nil {
			return nil, err
		}
		pos += n

		if pos+4 > len(data) {
			return nil, corruptf("zone map field %q truncated", name)
		}
		valueCount := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4

		vals := make(map[string]struct{}, valueCount)
		for v := 0; v < valueCount; v++ {
			val, n, err := readLenString16(data, pos)
			if err != nil {
				return nil, err
			}
			pos += n
			vals[val] = struct{}{}
		}
		z.fields[name] = vals
	}
	return z, nil
}

// readLenString16 reads a u16-length-prefixed UTF-8 string at pos,
// returning the string and the bytes consumed.
func readLenString16(data []byte, pos int) (string, int, error) {
	if pos+2 > len(data) {
		return "", 0, corruptf("zone map string length truncated")
	}
	l := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
	if pos+2+l > len(data) {
		return "", 0, corruptf("zone map string truncated")
	}
	raw := data[pos+2 : pos+2+l]
	if !utf8.Valid(raw) {
		return "", 0, corruptf("zone map string is not valid UTF-8")
	}
	return string(raw), 2 + l, nil
}
