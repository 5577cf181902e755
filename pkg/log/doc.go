/*
Package log provides structured logging for the pipeline engine using
zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level for production
debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("orchestrator")             │          │
	│  │  - WithComponent("processor")                 │          │
	│  │  - WithRunID("run-abc123")                   │          │
	│  │  - WithNodeID("node-xyz")                     │          │
	│  │  - WithTokenID("token-def456")                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "orchestrator",             │          │
	│  │    "run_id": "run-abc123",                  │          │
	│  │    "time": "2026-07-29T10:30:00Z",          │          │
	│  │    "message": "checkpoint created"          │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF checkpoint created run_id=run-abc123 │    │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every package in the module

Log Levels:
  - Debug: Detailed per-token tracing
  - Info: Run/checkpoint/batch lifecycle events
  - Warn: Recoverable conditions (batch timeout flush, retrying call)
  - Error: Non-fatal row/token failures and fatal run aborts
  - Fatal: Unrecoverable startup errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithRunID: Add run ID context
  - WithNodeID: Add node ID context
  - WithTokenID: Add token ID context

# Log Levels

Debug Level:
  - Purpose: Per-token tracing through the graph
  - Usage: Development and lineage troubleshooting
  - Example: "advancing token t-123 from node-a via edge 'continue'"

Info Level:
  - Purpose: General run lifecycle messages
  - Usage: Default production level
  - Example: "checkpoint created: run=run-abc node=transform-2 seq=4012"

Warn Level:
  - Purpose: Conditions that may need attention but don't abort the run
  - Usage: Aggregation timeout flush, transform retry, slow sink flush
  - Example: "aggregation buffer flushed by timeout: 3 rows, 1 short of trigger size"

Error Level:
  - Purpose: Row/token failures and fatal run aborts
  - Usage: Non-fatal outcomes are logged at Error but the run continues;
    a fatal EngineError is logged at Error immediately before the run
    is marked FAILED
  - Example: "sink write failed, marking run FAILED: durability error"

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("orchestrator").With().Str("run_id", runID).Logger()
	logger.Info().Str("node_id", nodeID).Msg("source exhausted")
*/
package log
