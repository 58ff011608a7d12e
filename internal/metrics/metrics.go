/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package metrics exposes DriftDB engine counters in Prometheus text format.

Exported Metrics:
=================

	driftdb_reads_total          store reads
	driftdb_writes_total         durable mutations
	driftdb_cache_hits_total     hot cache hits
	driftdb_cache_misses_total   hot cache misses
	driftdb_cache_hit_rate       hits / (hits + misses)
	driftdb_keys                 store size
	driftdb_ttl_entries          tracked TTL entries

Metrics are served at /metrics on the HTTP surface.
*/
package metrics

import (
	"io"

	"github.com/VictoriaMetrics/metrics"

	"driftdb/internal/engine"
)

// Collector binds one engine's stats to a private metrics set, so multiple
// engines (or tests) can coexist in a process.
type Collector struct {
	set *metrics.Set
}

// NewCollector registers gauges over the engine's stat counters.
func NewCollector(e *engine.Engine) *Collector {
	s := metrics.NewSet()
	s.NewGauge("driftdb_reads_total", func() float64 { return float64(e.Stats().Reads) })
	s.NewGauge("driftdb_writes_total", func() float64 { return float64(e.Stats().Writes) })
	s.NewGauge("driftdb_cache_hits_total", func() float64 { return float64(e.Stats().Hits) })
	s.NewGauge("driftdb_cache_misses_total", func() float64 { return float64(e.Stats().Misses) })
	s.NewGauge("driftdb_cache_hit_rate", func() float64 { return e.Stats().HitRate })
	s.NewGauge("driftdb_keys", func() float64 { return float64(e.Stats().Size) })
	s.NewGauge("driftdb_ttl_entries", func() float64 { return float64(e.Stats().TTLCount) })
	return &Collector{set: s}
}

// WritePrometheus renders the current values in Prometheus text format.
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}
