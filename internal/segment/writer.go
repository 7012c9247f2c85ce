package segment

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rfdb/rfdb/model"
)

// ErrDuplicateID is returned when the same id is added twice to one node
// segment write. Duplicates are rejected before anything is persisted.
var ErrDuplicateID = errors.New("segment: duplicate id within one segment write")

// headerFooterOffsetPos is the byte position of the footer offset field
// inside the header, patched after the footer is written.
const headerFooterOffsetPos = 24

// NodeWriter accumulates node records and emits a complete node segment
// in one Flush pass.
type NodeWriter struct {
	records []model.NodeRecord
	seen    map[model.ID]struct{}
	logger  *slog.Logger
}

// NewNodeWriter creates an empty node segment writer.
func NewNodeWriter(logger *slog.Logger) *NodeWriter {
	return &NodeWriter{seen: make(map[model.ID]struct{}), logger: logger}
}

// Add appends a record. The id must be the derived hash of the semantic
// id; a zero id is derived on the spot. Duplicate ids are rejected.
func (w *NodeWriter) Add(rec model.NodeRecord) error {
	if rec.ID.IsZero() {
		rec.ID = model.DeriveID(rec.SemanticID)
	}
	if _, dup := w.seen[rec.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}
	w.seen[rec.ID] = struct{}{}
	w.records = append(w.records, rec)
	return nil
}

// Len returns the number of buffered records.
func (w *NodeWriter) Len() int { return len(w.records) }

// Flush writes the segment and returns its meta. Layout:
//
//	[header 32B]
//	[semantic_id, node_type, name, file, metadata string-index columns: u32 x N each]
//	[zero padding to 16-byte boundary]
//	[id column: 16B x N]
//	[content_hash column: u64 x N]
//	[id bloom][zone map][string table][footer index 48B]
//
// The footer offset is patched into the header afterwards.
func (w *NodeWriter) Flush(ws io.WriteSeeker) (Meta, error) {
	n := len(w.records)

	st := NewStringTable()
	zm := NewZoneMap()
	bloom := NewBloom(n)
	cols := make([][]uint32, 5)
	for i := range cols {
		cols[i] = make([]uint32, 0, n)
	}
	meta := Meta{
		Type:      TypeNodes,
		NodeTypes: make(map[string]struct{}),
		FilePaths: make(map[string]struct{}),
		EdgeTypes: make(map[string]struct{}),
	}

	for _, rec := range w.records {
		cols[0] = append(cols[0], st.Intern(rec.SemanticID))
		cols[1] = append(cols[1], st.Intern(rec.Type))
		cols[2] = append(cols[2], st.Intern(rec.Name))
		cols[3] = append(cols[3], st.Intern(rec.File))
		cols[4] = append(cols[4], st.Intern(rec.Metadata))
		bloom.Insert(rec.ID)
		zm.Add(FieldNodeType, rec.Type)
		zm.Add(FieldFile, rec.File)
		meta.NodeTypes[rec.Type] = struct{}{}
		meta.FilePaths[rec.File] = struct{}{}
	}

	bw := bufio.NewWriter(ws)

	hdr := Header{Type: TypeNodes, RecordCount: uint64(n)}
	if err := hdr.WriteTo(bw); err != nil {
		return Meta{}, err
	}

	var u32 [4]byte
	for _, col := range cols {
		for _, idx := range col {
			binary.LittleEndian.PutUint32(u32[:], idx)
			if _, err := bw.Write(u32[:]); err != nil {
				return Meta{}, err
			}
		}
	}

	var pad [16]byte
	if _, err := bw.Write(pad[:padTo16(HeaderSize+20*n)]); err != nil {
		return Meta{}, err
	}

	for _, rec := range w.records {
		if _, err := bw.Write(rec.ID[:]); err != nil {
			return Meta{}, err
		}
	}
	var u64 [8]byte
	for _, rec := range w.records {
		binary.LittleEndian.PutUint64(u64[:], rec.ContentHash)
		if _, err := bw.Write(u64[:]); err != nil {
			return Meta{}, err
		}
	}

	footer := FooterIndex{DataEndOffset: uint64(nodeDataEnd(n))}
	total, err := writeFooter(bw, ws, footer, bloom, nil, zm, st, w.logger)
	if err != nil {
		return Meta{}, err
	}

	meta.RecordCount = uint64(n)
	meta.ByteSize = total
	return meta, nil
}

// EdgeWriter accumulates edge records and emits a complete edge segment
// in one Flush pass. Edge dedup is the caller's concern (the write
// buffer upserts by key; compaction merges newest-first).
type EdgeWriter struct {
	records []model.EdgeRecord
	logger  *slog.Logger
}

// NewEdgeWriter creates an empty edge segment writer.
func NewEdgeWriter(logger *slog.Logger) *EdgeWriter {
	return &EdgeWriter{logger: logger}
}

// Add appends an edge record.
func (w *EdgeWriter) Add(rec model.EdgeRecord) {
	w.records = append(w.records, rec)
}

// Len returns the number of buffered records.
func (w *EdgeWriter) Len() int { return len(w.records) }

// Flush writes the segment and returns its meta. Layout:
//
//	[header 32B]
//	[src column: 16B x N][dst column: 16B x N]
//	[edge_type string-index column: u32 x N]
//	[file string-index column: u32 x N]
//	[metadata string-index column: u32 x N]
//	[src bloom][dst bloom][zone map][string table][footer index 48B]
//
// The dst bloom lets reverse-neighbor queries skip segments without a
// full fan-out scan. The file column records each edge's owning file
// (or enrichment context), so re-ingesting that file can tombstone the
// edges it owns.
func (w *EdgeWriter) Flush(ws io.WriteSeeker) (Meta, error) {
	n := len(w.records)

	st := NewStringTable()
	zm := NewZoneMap()
	srcBloom := NewBloom(n)
	dstBloom := NewBloom(n)
	typeIdx := make([]uint32, 0, n)
	fileIdx := make([]uint32, 0, n)
	metaIdx := make([]uint32, 0, n)
	meta := Meta{
		Type:      TypeEdges,
		NodeTypes: make(map[string]struct{}),
		FilePaths: make(map[string]struct{}),
		EdgeTypes: make(map[string]struct{}),
	}

	for _, rec := range w.records {
		typeIdx = append(typeIdx, st.Intern(rec.Type))
		fileIdx = append(fileIdx, st.Intern(rec.File))
		metaIdx = append(metaIdx, st.Intern(rec.Metadata))
		srcBloom.Insert(rec.Src)
		dstBloom.Insert(rec.Dst)
		zm.Add(FieldEdgeType, rec.Type)
		zm.Add(FieldFile, rec.File)
		meta.EdgeTypes[rec.Type] = struct{}{}
		meta.FilePaths[rec.File] = struct{}{}
	}

	bw := bufio.NewWriter(ws)

	hdr := Header{Type: TypeEdges, RecordCount: uint64(n)}
	if err := hdr.WriteTo(bw); err != nil {
		return Meta{}, err
	}
	for _, rec := range w.records {
		if _, err := bw.Write(rec.Src[:]); err != nil {
			return Meta{}, err
		}
	}
	for _, rec := range w.records {
		if _, err := bw.Write(rec.Dst[:]); err != nil {
			return Meta{}, err
		}
	}
	var u32 [4]byte
	for _, col := range [][]uint32{typeIdx, fileIdx, metaIdx} {
		for _, idx := range col {
			binary.LittleEndian.PutUint32(u32[:], idx)
			if _, err := bw.Write(u32[:]); err != nil {
				return Meta{}, err
			}
		}
	}

	footer := FooterIndex{DataEndOffset: uint64(edgeDataEnd(n))}
	total, err := writeFooter(bw, ws, footer, srcBloom, dstBloom, zm, st, w.logger)
	if err != nil {
		return Meta{}, err
	}

	meta.RecordCount = uint64(n)
	meta.ByteSize = total
	return meta, nil
}

// writeFooter emits the footer sections and footer index through bw,
// flushes, then patches the footer offset back into the header via ws.
// Section offsets are computed from the known serialized sizes so the
// body can stream through a single buffered writer.
func writeFooter(bw *bufio.Writer, ws io.WriteSeeker, footer FooterIndex, bloom, dstBloom *Bloom, zm *ZoneMap, st *StringTable, logger *slog.Logger) (uint64, error) {
	footer.BloomOffset = footer.DataEndOffset
	next := footer.BloomOffset + uint64(bloom.SerializedSize())
	if err := bloom.WriteTo(bw); err != nil {
		return 0, err
	}
	if dstBloom != nil {
		footer.DstBloomOffset = next
		next += uint64(dstBloom.SerializedSize())
		if err := dstBloom.WriteTo(bw); err != nil {
			return 0, err
		}
	}

	// The zone map drops over-cap fields at write time, so its size is
	// only known after encoding; buffer it.
	footer.ZoneMapOffset = next
	var zmBuf countingBuffer
	if err := zm.WriteTo(&zmBuf, logger); err != nil {
		return 0, err
	}
	if _, err := bw.Write(zmBuf.data); err != nil {
		return 0, err
	}
	next += uint64(len(zmBuf.data))

	footer.StringTableOffset = next
	next += uint64(st.SerializedSize())
	if err := st.WriteTo(bw); err != nil {
		return 0, err
	}

	footerOffset := next
	if err := footer.WriteTo(bw); err != nil {
		return 0, err
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}

	if _, err := ws.Seek(headerFooterOffsetPos, io.SeekStart); err != nil {
		return 0, err
	}
	var u64 [8]byte
	binary.LittleEndian.PutUint64(u64[:], footerOffset)
	if _, err := ws.Write(u64[:]); err != nil {
		return 0, err
	}
	if _, err := ws.Seek(0, io.SeekEnd); err != nil {
		return 0, err
	}
	return footerOffset + FooterIndexSize, nil
}

type countingBuffer struct {
	data []byte
}

func (b *countingBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
