package rfdb

import (
	"github.com/rfdb/rfdb/blobstore"
	"github.com/rfdb/rfdb/internal/engine"
)

type options struct {
	shardCount            uint16
	logger                *Logger
	metrics               MetricsCollector
	basic                 *BasicMetricsCollector
	blobs                 blobstore.Store
	compactionThreshold   int
	compactionRateLimit   float64
	compactionParallelism int64
	autoCompact           bool
}

// Option configures database construction. Options apply to Create,
// Open and CreateEphemeral alike; on-disk parameters such as the shard
// count are fixed at Create time and ignored by Open.
type Option func(*options)

func applyOptions(optFns []Option) *options {
	o := &options{
		logger:      NoopLogger(),
		autoCompact: true,
	}
	for _, fn := range optFns {
		fn(o)
	}
	// The facade always counts operations so Metrics() works; a
	// user-provided collector observes the same events.
	o.basic = &BasicMetricsCollector{}
	return o
}

func (o *options) engineConfig() engine.Config {
	metrics := MetricsCollector(o.basic)
	if o.metrics != nil {
		metrics = teeCollector{o.basic, o.metrics}
	}
	return engine.Config{
		ShardCount:            o.shardCount,
		Logger:                o.logger.Logger,
		Metrics:               metrics,
		Blobs:                 o.blobs,
		Policy:                &engine.ThresholdPolicy{L0Threshold: o.compactionThreshold},
		CompactionRateLimit:   o.compactionRateLimit,
		CompactionParallelism: o.compactionParallelism,
	}
}

// WithShardCount sets how many shards the database is partitioned into.
// Files in the same directory land in the same shard, so commits and
// compactions of unrelated directories proceed independently. Fixed at
// Create time; the default is 8.
func WithShardCount(n uint16) Option {
	return func(o *options) {
		o.shardCount = n
	}
}

// WithLogger sets the structured logger. The default discards all
// output.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector registers an additional metrics collector, e.g.
// a Prometheus bridge. The built-in counters behind Metrics() keep
// counting regardless.
func WithMetricsCollector(c MetricsCollector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithBlobStore overrides where manifests are kept. By default they
// live under the database directory; an object-store backed Store moves
// the snapshot catalog off the local disk.
func WithBlobStore(store blobstore.Store) Option {
	return func(o *options) {
		o.blobs = store
	}
}

// WithCompactionThreshold sets the L0 segment count at which background
// compaction picks up a shard. <= 0 means the default of 4.
func WithCompactionThreshold(n int) Option {
	return func(o *options) {
		o.compactionThreshold = n
	}
}

// WithCompactionRateLimit caps compaction segment writes at
// bytesPerSecond so merges do not starve foreground commits. 0 means
// unlimited.
func WithCompactionRateLimit(bytesPerSecond float64) Option {
	return func(o *options) {
		o.compactionRateLimit = bytesPerSecond
	}
}

// WithCompactionParallelism bounds how many shards compact
// concurrently. 0 means 2.
func WithCompactionParallelism(n int64) Option {
	return func(o *options) {
		o.compactionParallelism = n
	}
}

// WithoutAutoCompaction disables the background compaction kicked after
// commits. Explicit Compact still works.
func WithoutAutoCompaction() Option {
	return func(o *options) {
		o.autoCompact = false
	}
}
