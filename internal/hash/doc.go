// Package hash provides the CRC32-Castagnoli checksum used for on-disk
// integrity: manifest payloads and archived segments carry a CRC32C
// trailer that is verified on load.
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// For streaming checksums:
//
//	h := hash.NewCRC32C()
//	h.Write(chunk1)
//	h.Write(chunk2)
//	checksum := h.Sum32()
//
// Go's crc32 package uses hardware instructions (SSE4.2, ARM CRC) when
// available; the Castagnoli table is computed once at package init.
package hash
