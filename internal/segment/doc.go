// Package segment implements the immutable columnar segment format.
//
// A segment is a write-once file holding exactly one record kind (nodes
// or edges) in column order, its own interned string table, bloom
// filter(s) and zone maps in a footer, and a fixed footer index as the
// trailing 48 bytes. Edge segments carry a second bloom filter over dst
// ids so reverse-neighbor queries can skip segments cheaply.
//
// Writers accumulate records in memory and emit the whole file in one
// Flush pass; readers validate structure eagerly (header, footer bounds,
// column layout, string indexes) and then serve infallible, zero-copy
// accessors over an mmap-backed byte slice.
package segment
