// Package shard implements the unit of independent writability: a
// deterministic file→shard planner, the per-shard write buffer and
// tombstone set, and the shard's L0/L1 segment stack with its merged
// read path.
package shard

import (
	"encoding/binary"
	"fmt"
	"path"

	"github.com/zeebo/blake3"

	"github.com/rfdb/rfdb/model"
)

// enrichmentPrefix is the synthetic shard-key namespace for edges
// produced by cross-file derivation. Keyed per (producer, file) so a
// producer's output about one file can be invalidated without touching
// the file's own analysis shard.
const enrichmentPrefix = "__enrichment__"

// Planner deterministically assigns file paths to shards by hashing the
// parent directory, so files in one directory colocate. Adding a file
// never reshuffles unrelated files.
type Planner struct {
	shardCount uint16
}

// NewPlanner creates a planner over shardCount shards.
func NewPlanner(shardCount uint16) (*Planner, error) {
	if shardCount == 0 {
		return nil, fmt.Errorf("shard: shard count must be > 0")
	}
	return &Planner{shardCount: shardCount}, nil
}

// ShardCount returns the number of shards planned across.
func (p *Planner) ShardCount() uint16 { return p.shardCount }

// ShardFor maps a file path to its owning shard. Files without a parent
// directory hash the empty string and therefore colocate.
func (p *Planner) ShardFor(filePath string) model.ShardID {
	dir := path.Dir(filePath)
	if dir == "." || dir == "/" {
		dir = ""
	}
	sum := blake3.Sum256([]byte(dir))
	h := binary.LittleEndian.Uint64(sum[0:8])
	return model.ShardID(h % uint64(p.shardCount))
}

// Plan groups files by their target shard. Every input appears in
// exactly one shard's list.
func (p *Planner) Plan(files []string) map[model.ShardID][]string {
	out := make(map[model.ShardID][]string)
	for _, f := range files {
		id := p.ShardFor(f)
		out[id] = append(out[id], f)
	}
	return out
}

// EnrichmentFileContext builds the synthetic owning-file key for a
// cross-file derived edge: the producer's name and the file the
// derivation is about.
func EnrichmentFileContext(producer, file string) string {
	return enrichmentPrefix + "/" + producer + "/" + file
}
