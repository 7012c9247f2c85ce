package index

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfdb/rfdb/model"
)

func TestGlobal_LookupAndRoundTrip(t *testing.T) {
	entries := make([]Entry, 100)
	for i := range entries {
		entries[i] = Entry{
			ID:      model.DeriveID(fmt.Sprintf("n%d", i)),
			Segment: model.SegmentID(i % 4),
			Offset:  uint32(i),
			Shard:   model.ShardID(i % 8),
		}
	}
	want := append([]Entry(nil), entries...)

	g := BuildGlobal(entries)
	assert.Equal(t, 100, g.Len())

	for _, e := range want {
		got, ok := g.Lookup(e.ID)
		require.True(t, ok)
		assert.Equal(t, e, got)
	}
	_, ok := g.Lookup(model.DeriveID("absent"))
	assert.False(t, ok)

	var buf bytes.Buffer
	require.NoError(t, g.WriteTo(&buf))

	decoded, err := DecodeGlobal(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, 100, decoded.Len())
	for _, e := range want {
		got, ok := decoded.Lookup(e.ID)
		require.True(t, ok)
		assert.Equal(t, e, got)
	}
}

func TestDecodeGlobal_Corrupt(t *testing.T) {
	g := BuildGlobal([]Entry{{ID: model.DeriveID("a")}})
	var buf bytes.Buffer
	require.NoError(t, g.WriteTo(&buf))

	_, err := DecodeGlobal(buf.Bytes()[:10])
	assert.ErrorIs(t, err, ErrCorrupt)

	bad := append([]byte(nil), buf.Bytes()...)
	bad[0] = 'X'
	_, err = DecodeGlobal(bad)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = DecodeGlobal(buf.Bytes()[:headerSize+entrySize-1])
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestInverted_RoundTrip(t *testing.T) {
	ix := NewInverted()
	ix.Add("function", 0)
	ix.Add("function", 2)
	ix.Add("function", 5)
	ix.Add("struct", 1)

	assert.Equal(t, []uint32{0, 2, 5}, ix.Rows("function"))
	assert.Nil(t, ix.Rows("missing"))
	assert.Nil(t, ix.Lookup("missing"))
	assert.Equal(t, []string{"function", "struct"}, ix.Keys())
	assert.Equal(t, uint64(4), ix.EntryCount())

	var buf bytes.Buffer
	require.NoError(t, ix.WriteTo(&buf))

	decoded, err := DecodeInverted(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 5}, decoded.Rows("function"))
	assert.Equal(t, []uint32{1}, decoded.Rows("struct"))
	assert.Equal(t, uint64(4), decoded.EntryCount())
}

func TestDecodeInverted_Corrupt(t *testing.T) {
	ix := NewInverted()
	ix.Add("k", 3)
	var buf bytes.Buffer
	require.NoError(t, ix.WriteTo(&buf))

	_, err := DecodeInverted(buf.Bytes()[:headerSize+1])
	assert.ErrorIs(t, err, ErrCorrupt)

	// Truncate inside the bitmap payload.
	_, err = DecodeInverted(buf.Bytes()[:buf.Len()-1])
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestBuild(t *testing.T) {
	recs := []model.NodeRecord{
		{ID: model.DeriveID("a"), Type: "function", File: "pkg/a.go", Name: "A"},
		{ID: model.DeriveID("b"), Type: "struct", File: "pkg/a.go", Name: "B"},
		{ID: model.DeriveID("c"), Type: "function", File: "pkg/b.go", Name: ""},
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID.Less(recs[j].ID) })

	b := Build(recs, 3, 42)
	require.Len(t, b.Entries, 3)
	for i, e := range b.Entries {
		assert.Equal(t, recs[i].ID, e.ID)
		assert.Equal(t, model.SegmentID(42), e.Segment)
		assert.Equal(t, uint32(i), e.Offset)
		assert.Equal(t, model.ShardID(3), e.Shard)
	}

	assert.Equal(t, uint64(3), b.ByType.EntryCount())
	assert.Equal(t, uint64(3), b.ByFile.EntryCount())
	// Empty names are not indexed.
	assert.Equal(t, uint64(2), b.ByName.EntryCount())

	rows := b.ByType.Rows("function")
	assert.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "function", recs[row].Type)
	}
}
