package rfdb

import (
	"time"

	"github.com/rfdb/rfdb/internal/engine"
)

// MetricsCollector receives database events. Implement it to integrate
// with monitoring systems like Prometheus. Implementations must be
// goroutine-safe and cheap; collection runs inline with commits.
type MetricsCollector = engine.Collector

// NoopMetricsCollector discards all events.
type NoopMetricsCollector = engine.NoopCollector

// BasicMetricsCollector counts events in memory. Useful for debugging
// and basic monitoring without external dependencies.
type BasicMetricsCollector = engine.BasicCollector

// Stats is a point-in-time copy of the basic counters.
type Stats = engine.Stats

// teeCollector forwards every event to both collectors.
type teeCollector struct {
	a, b MetricsCollector
}

func (t teeCollector) OnCommit(d time.Duration, nodes, edges int, err error) {
	t.a.OnCommit(d, nodes, edges, err)
	t.b.OnCommit(d, nodes, edges, err)
}

func (t teeCollector) OnCompaction(d time.Duration, merged, created int, err error) {
	t.a.OnCompaction(d, merged, created, err)
	t.b.OnCompaction(d, merged, created, err)
}

func (t teeCollector) OnGC(removed int) {
	t.a.OnGC(removed)
	t.b.OnGC(removed)
}
