/*
Package metrics provides Prometheus metrics collection and exposition
for the pipeline engine.

The metrics package defines and registers every engine metric using
the Prometheus client library, providing observability into run
lifecycle, row and token throughput, batch dispatch, worker pool
capacity, checkpoint cadence, and sink durability. Metrics are exposed
via an HTTP endpoint for scraping by Prometheus servers; a Collector
additionally recounts a run's audit records on a fixed interval for
point-in-time gauges that don't depend on every transition being
observed live.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (in-flight batches)  │          │
	│  │  Counter: Monotonic increases (rows seen)   │          │
	│  │  Histogram: Distributions (node latency)    │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Run: started/completed/failed, duration    │          │
	│  │  Row/token: accepted, quarantined, outcomes │          │
	│  │  Batch: dispatched, failed, dispatch time   │          │
	│  │  Concurrency: in-flight, AIMD capacity      │          │
	│  │  Checkpoint: created, create duration       │          │
	│  │  Sink: write duration, flush duration       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Prometheus Server                   │          │
	│  │  - Scrapes /metrics periodically             │          │
	│  │  - Stores time series data                  │          │
	│  │  - Provides PromQL query interface          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Event-driven vs polled metrics

Counters like RowsAcceptedTotal and TokenOutcomesTotal are registered
for event-driven updates, but the orchestrator and row processor do not
update them: they stay at zero unless other code increments them. The
RunTokenOutcomes/RunRowsTotal/RunBatchesByStatus gauges are instead
refreshed wholesale by a Collector from a Dump of the landscape store,
trading live-ness for a figure that's always internally consistent —
useful for a dashboard tracking one long-running pipeline. Nothing in
cmd/landscaperun starts a Collector.
*/
package metrics
