package segment

import (
	"encoding/binary"
	"io"

	"github.com/rfdb/rfdb/model"
)

// bloomHeaderSize covers num_bits + num_hashes + padding.
const bloomHeaderSize = 16

// Bloom is a membership filter over record ids with zero false negatives.
// Ids are already BLAKE3 output, so instead of re-hashing, the 128-bit id
// is split into two 64-bit halves used for enhanced double hashing. The
// second half is forced odd so it is coprime with any power-of-two bit
// count.
type Bloom struct {
	bits      []uint64
	numBits   uint64
	numHashes uint32
}

// NewBloom sizes a filter for the expected number of keys using
// BloomBitsPerKey and BloomNumHashes. The bit count is word-aligned with
// a 64-bit minimum; an empty filter is valid and never matches.
func NewBloom(numKeys int) *Bloom {
	bits := uint64(numKeys) * BloomBitsPerKey
	if bits < 64 {
		bits = 64
	}
	bits = (bits + 63) &^ 63
	return &Bloom{
		bits:      make([]uint64, bits/64),
		numBits:   bits,
		numHashes: BloomNumHashes,
	}
}

func (b *Bloom) probes(id model.ID) (h1, h2 uint64) {
	h1 = binary.LittleEndian.Uint64(id[0:8])
	h2 = binary.LittleEndian.Uint64(id[8:16]) | 1
	return
}

// Insert adds an id to the filter.
func (b *Bloom) Insert(id model.ID) {
	h1, h2 := b.probes(id)
	for i := uint64(0); i < uint64(b.numHashes); i++ {
		pos := (h1 + i*h2) % b.numBits
		b.bits[pos/64] |= 1 << (pos % 64)
	}
}

// MayContain reports whether id might be present. False means definitely
// absent.
func (b *Bloom) MayContain(id model.ID) bool {
	h1, h2 := b.probes(id)
	for i := uint64(0); i < uint64(b.numHashes); i++ {
		pos := (h1 + i*h2) % b.numBits
		if b.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// NumBits returns the filter's bit count.
func (b *Bloom) NumBits() uint64 { return b.numBits }

// SerializedSize returns the encoded byte size.
func (b *Bloom) SerializedSize() int {
	return bloomHeaderSize + len(b.bits)*8
}

// WriteTo encodes the filter:
//
//	[num_bits:u64][num_hashes:u32][pad:u32][words u64 x W]
func (b *Bloom) WriteTo(w io.Writer) error {
	var hdr [bloomHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:8], b.numBits)
	binary.LittleEndian.PutUint32(hdr[8:12], b.numHashes)
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	buf := make([]byte, len(b.bits)*8)
	for i, word := range b.bits {
		binary.LittleEndian.PutUint64(buf[i*8:], word)
	}
	_, err := w.Write(buf)
	return err
}

// DecodeBloom parses a serialized filter.
func DecodeBloom(data []byte) (*Bloom, error) {
	if len(data) < bloomHeaderSize {
		return nil, corruptf("bloom filter truncated: %d bytes", len(data))
	}
	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHashes := binary.LittleEndian.Uint32(data[8:12])
	if numBits == 0 {
		return nil, corruptf("bloom filter has zero bits")
	}
	wordCount := int((numBits + 63) / 64)
	if len(data) < bloomHeaderSize+wordCount*8 {
		return nil, corruptf("bloom filter bit array truncated")
	}
	bits := make([]uint64, wordCount)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(data[bloomHeaderSize+i*8:])
	}
	return &Bloom{bits: bits, numBits: numBits, numHashes: numHashes}, nil
}
