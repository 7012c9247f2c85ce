// Package testutil provides testing utilities for RFDB.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating deterministic synthetic code
// graphs: node records grouped by file, and typed edges between them.
//
// # Deterministic Corpus Generation
//
//	rng := testutil.NewRNG(seed)
//	nodes := rng.Nodes("pkg/io/file.go", 32)
//	edges := rng.Edges(nodes, 64)
//
// The same seed always produces the same corpus, so tests can assert
// exact contents across runs.
package testutil
