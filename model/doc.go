// Package model defines the core types shared across the engine.
//
// # Identity
//
//   - SemanticID (string field on NodeRecord): the sole source of identity,
//     deterministic, derived from source structure by producers.
//   - ID: fixed-width BLAKE3-derived index of the semantic ID. Always
//     recomputable, never a second source of truth.
//   - EdgeKey: (Src, Dst, Type), the dedup and tombstone key for edges.
//
// # Records
//
// NodeRecord and EdgeRecord are immutable once flushed into a segment.
// A "change" is always tombstone-old + write-new under the same semantic
// ID; records are never mutated in place.
package model
