// Package orchestrator wires a prepared execution graph and plugin
// registry to a running pipeline: it registers the graph's nodes and
// edges on the landscape store, drives the source, hands each row to
// the row processor, checkpoints at row boundaries, flushes sinks
// before acknowledging a checkpoint or run completion, and resumes an
// interrupted run from its latest compatible checkpoint (spec §4.J,
// §4.K).
//
// Unlike the teacher's scheduler, which wakes on a fixed interval and
// reconciles cluster-wide desired state against reality, the
// orchestrator here is driven synchronously by one source stream: rows
// arrive in source order and are routed to a terminal outcome (or
// buffered in an aggregation) before the next row is accepted, per
// spec §5's single-process cooperative model.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/landscape/pkg/canon"
	"github.com/cuemby/landscape/pkg/checkpoint"
	"github.com/cuemby/landscape/pkg/events"
	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/log"
	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/payload"
	"github.com/cuemby/landscape/pkg/plugin"
	"github.com/cuemby/landscape/pkg/processor"
	"github.com/cuemby/landscape/pkg/schema"
)

// NodeRegistration is everything the orchestrator writes to the
// landscape store for one graph node at run start, mirroring
// landscape.NodeSpec but keyed by the node id already present in the
// prepared graph.
type NodeRegistration struct {
	NodeID        string
	PluginName    string
	PluginVersion string
	NodeType      model.NodeType
	Determinism   model.Determinism
	ConfigHash    string
	SchemaMode    string
	SchemaFields  []string
	Sequence      int
}

// EdgeRegistration mirrors one graph.EdgeInfo for persistence on the
// landscape store.
type EdgeRegistration struct {
	From  string
	To    string
	Label string
	Mode  model.EdgeMode
}

// PipelineConfig wires a prepared ExecutionGraph and plugin Registry to
// everything a run needs: node/edge registration data, per-node
// aggregation/coalesce/concurrency policy, and checkpoint cadence.
// Building a PipelineConfig from a declarative YAML document is out of
// scope for the core (spec §1); callers assemble one in-process.
type PipelineConfig struct {
	Graph    *graph.Graph
	Registry *plugin.Registry
	Nodes    []NodeRegistration
	Edges    []EdgeRegistration

	SourceNodeID string

	AggregationConfigs map[string]processor.AggregationConfig
	CoalesceConfigs    map[string]processor.CoalesceConfig
	ConcurrencyConfigs map[string]processor.ConcurrencyConfig

	ConfigHash       string
	CanonicalVersion string
	Settings         map[string]any

	// CheckpointNodeID overrides the node boundary periodic checkpoints
	// are recorded against. If empty, the orchestrator uses the first
	// node downstream of SourceNodeID, since that is the shallowest
	// node whose upstream topology hash actually changes if an operator
	// inserts or removes a node between the source and it (see
	// DESIGN.md for why the source node itself cannot serve as the
	// checkpoint boundary).
	CheckpointNodeID string

	// CheckpointEveryRows creates a checkpoint after this many source
	// rows have been accepted since the last one; 0 disables
	// row-count-based checkpointing.
	CheckpointEveryRows int
	// CheckpointEveryInterval creates a checkpoint once this much time
	// has elapsed since the last one, independent of row count; 0
	// disables interval-based checkpointing.
	CheckpointEveryInterval time.Duration
}

// Orchestrator drives one pipeline run end to end.
type Orchestrator struct {
	store    landscape.Store
	payloads payload.Store
	broker   *events.Broker
	logger   zerolog.Logger

	cfg  PipelineConfig
	proc *processor.Processor
	cm   *checkpoint.Manager

	runID        string
	lastTokenID  string
	rowsSinceCkp int
	lastCkpAt    time.Time
}

// New constructs an Orchestrator bound to store/payloads and an
// optional events broker (nil disables event fan-out). The graph's
// edge compatibility is validated immediately: a schema violation is a
// PluginInvariantViolation, fatal before the run ever begins (spec
// §7.4).
func New(store landscape.Store, payloads payload.Store, broker *events.Broker, cfg PipelineConfig) (*Orchestrator, error) {
	if err := cfg.Graph.ValidateEdgeCompatibility(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrPluginInvariantViolation, err.Error(), false, err))
	}
	return &Orchestrator{
		store:    store,
		payloads: payloads,
		broker:   broker,
		logger:   log.WithComponent("orchestrator"),
		cfg:      cfg,
	}, nil
}

// Run begins a fresh run: registers the topology, drives the source to
// exhaustion, flushes every aggregation buffer and sink, and commits a
// terminal Run status. On any fatal error the run is marked FAILED and
// the error is returned; non-fatal errors are already resolved into
// token outcomes by the row processor and never reach here.
func (o *Orchestrator) Run(ctx context.Context) (*model.Run, error) {
	run, err := o.store.BeginRun(o.cfg.ConfigHash, o.cfg.CanonicalVersion, o.cfg.Settings)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: begin run: %w", err)
	}
	o.runID = run.RunID
	o.publish(events.EventRunStarted, run.RunID, "")

	edgeIDs, err := o.registerTopology(run.RunID)
	if err != nil {
		o.fail(run.RunID)
		return run, err
	}

	p, err := processor.New(o.processorConfig(run.RunID, edgeIDs))
	if err != nil {
		o.fail(run.RunID)
		return run, fmt.Errorf("orchestrator: %w", err)
	}
	o.proc = p
	o.cm = checkpoint.NewManager(o.store, o.cfg.Graph)

	if err := o.drive(ctx, run.RunID); err != nil {
		o.fail(run.RunID)
		return run, err
	}
	return run, o.finish(ctx, run)
}

// Resume re-enters a run that was interrupted after a crash: it
// verifies the latest checkpoint is compatible with the current graph
// (spec §4.K), resolves incomplete aggregation batches, rehydrates and
// replays only the rows the checkpoint left unprocessed, and writes
// full lineage for them exactly as a fresh row would produce — the
// resumed run is indistinguishable in the audit trail from one that
// never crashed.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (*model.Run, error) {
	if o.payloads == nil {
		return nil, fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrOrchestrationInvariant, "resume requires a payload store", false, nil))
	}

	rm := checkpoint.NewRecoveryManager(o.store)
	compat, err := rm.CanResume(runID, o.cfg.Graph)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: check resumability: %w", err)
	}
	if !compat.CanResume {
		return nil, fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrTopologyMismatch, compat.Reason, false, nil))
	}
	resumePoint, err := rm.GetResumePoint(runID, o.cfg.Graph)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	run, err := o.store.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load run %q: %w", runID, err)
	}
	o.runID = run.RunID

	edgeIDs, err := o.registerTopology(run.RunID) // idempotent on (run_id, node_id)
	if err != nil {
		o.fail(run.RunID)
		return run, err
	}
	p, err := processor.New(o.processorConfig(run.RunID, edgeIDs))
	if err != nil {
		o.fail(run.RunID)
		return run, fmt.Errorf("orchestrator: %w", err)
	}
	o.proc = p
	o.cm = checkpoint.NewManager(o.store, o.cfg.Graph)

	src, err := o.source()
	if err != nil {
		o.fail(run.RunID)
		return run, err
	}
	if err := o.prepareSinksForResume(ctx, src); err != nil {
		o.fail(run.RunID)
		return run, err
	}

	if _, err := checkpoint.HandleIncompleteBatches(o.store, run.RunID); err != nil {
		o.fail(run.RunID)
		return run, fmt.Errorf("orchestrator: resolve incomplete batches: %w", err)
	}

	rows, err := checkpoint.GetUnprocessedRows(o.store, run.RunID, resumePoint.Checkpoint)
	if err != nil {
		o.fail(run.RunID)
		return run, fmt.Errorf("orchestrator: %w", err)
	}
	o.logger.Info().Str("run_id", run.RunID).Int("rows", len(rows)).Msg("resuming run")

	var contract *schema.Contract
	if c, ok := src.GetSchemaContract(); ok {
		contract = c
	}
	for _, row := range rows {
		data, err := o.rehydrateRow(row)
		if err != nil {
			o.fail(run.RunID)
			return run, err
		}
		token, err := o.store.CreateToken(landscape.TokenSpec{RowID: row.RowID})
		if err != nil {
			o.fail(run.RunID)
			return run, fmt.Errorf("orchestrator: create token for resumed row %s: %w", row.RowID, err)
		}
		o.proc.SeedRow(token.TokenID, data, contract)
		o.lastTokenID = token.TokenID
		if err := o.proc.AdvanceFromSource(ctx, token, o.cfg.SourceNodeID, edgeLabelOr(src.OnSuccess())); err != nil {
			o.fail(run.RunID)
			return run, err
		}
		if err := o.maybeCheckpoint(run.RunID, int(row.RowIndex)); err != nil {
			o.fail(run.RunID)
			return run, err
		}
	}

	if err := o.proc.FlushAllAtEndOfSource(ctx); err != nil {
		o.fail(run.RunID)
		return run, err
	}
	return run, o.finish(ctx, run)
}

func (o *Orchestrator) processorConfig(runID string, edgeIDs map[string]string) processor.Config {
	return processor.Config{
		RunID:              runID,
		Store:              o.store,
		Payloads:           o.payloads,
		Graph:              o.cfg.Graph,
		Registry:           o.cfg.Registry,
		Broker:             o.broker,
		EdgeIDs:            edgeIDs,
		AggregationConfigs: o.cfg.AggregationConfigs,
		CoalesceConfigs:    o.cfg.CoalesceConfigs,
		ConcurrencyConfigs: o.cfg.ConcurrencyConfigs,
	}
}

// finish flushes every sink, commits Run.status = COMPLETED, and
// prunes the run's checkpoints: once a run is durably complete no
// further resume is possible or necessary.
func (o *Orchestrator) finish(ctx context.Context, run *model.Run) error {
	if err := o.proc.FlushSinks(ctx); err != nil {
		o.fail(run.RunID)
		return fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrDurability, err.Error(), false, err))
	}
	if err := o.store.CompleteRun(run.RunID, model.RunCompleted); err != nil {
		return fmt.Errorf("orchestrator: complete run: %w", err)
	}
	run.Complete(model.RunCompleted)
	if o.cm != nil {
		_ = o.cm.Prune(run.RunID)
	}
	o.publish(events.EventRunCompleted, run.RunID, "")
	return nil
}

func (o *Orchestrator) fail(runID string) {
	if err := o.store.CompleteRun(runID, model.RunFailed); err != nil {
		o.logger.Error().Err(err).Str("run_id", runID).Msg("failed to mark run FAILED after a fatal error")
	}
	o.publish(events.EventRunFailed, runID, "")
}

func (o *Orchestrator) publish(t events.EventType, runID, message string) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(&events.Event{Type: t, Message: message, Metadata: map[string]string{"run_id": runID}})
}

// registerTopology writes every configured node and edge to the
// landscape store. Node registration is idempotent on (run_id,
// node_id), so calling this again on Resume is safe.
func (o *Orchestrator) registerTopology(runID string) (map[string]string, error) {
	for _, n := range o.cfg.Nodes {
		if _, err := o.store.RegisterNode(runID, landscape.NodeSpec{
			NodeID:        n.NodeID,
			PluginName:    n.PluginName,
			PluginVersion: n.PluginVersion,
			NodeType:      n.NodeType,
			Determinism:   n.Determinism,
			ConfigHash:    n.ConfigHash,
			SchemaMode:    n.SchemaMode,
			SchemaFields:  n.SchemaFields,
			Sequence:      n.Sequence,
		}); err != nil {
			return nil, fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrPluginInvariantViolation, fmt.Sprintf("register node %q: %s", n.NodeID, err), false, err))
		}
	}
	edgeIDs := make(map[string]string, len(o.cfg.Edges))
	for _, e := range o.cfg.Edges {
		label := e.Label
		if label == "" {
			label = "continue"
		}
		key := e.From + "\x00" + label
		if _, ok := edgeIDs[key]; ok {
			continue // already registered (resume path)
		}
		edgeID := uuid.New().String()
		edge := model.NewEdge(edgeID, runID, e.From, e.To, label, e.Mode)
		if err := o.store.AddEdge(runID, edge); err != nil {
			return nil, fmt.Errorf("orchestrator: add edge %s->%s (%s): %w", e.From, e.To, label, err)
		}
		edgeIDs[key] = edgeID
	}
	return edgeIDs, nil
}

func (o *Orchestrator) source() (plugin.Source, error) {
	info, ok := o.cfg.Graph.Node(o.cfg.SourceNodeID)
	if !ok {
		return nil, fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrOrchestrationInvariant, fmt.Sprintf("source node %q not in graph", o.cfg.SourceNodeID), false, nil))
	}
	src, ok := o.cfg.Registry.Source(info.PluginName)
	if !ok {
		return nil, fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrPluginInvariantViolation, fmt.Sprintf("source node %q references unregistered plugin %q", o.cfg.SourceNodeID, info.PluginName), false, nil))
	}
	return src, nil
}

// checkpointNodeID resolves the node boundary periodic checkpoints are
// recorded against: an explicit override, or the first node downstream
// of the source.
func (o *Orchestrator) checkpointNodeID() string {
	if o.cfg.CheckpointNodeID != "" {
		return o.cfg.CheckpointNodeID
	}
	for _, e := range o.cfg.Graph.OutEdges(o.cfg.SourceNodeID) {
		return e.To
	}
	return o.cfg.SourceNodeID
}

// drive streams every row from the source, checking aggregation
// timeouts before each one is accepted (spec §4.J: timeouts must not
// include the arriving row), routes it into the graph, and flushes
// every non-empty aggregation buffer at end-of-source.
func (o *Orchestrator) drive(ctx context.Context, runID string) error {
	src, err := o.source()
	if err != nil {
		return err
	}

	op, err := o.store.BeginOperation(runID, o.cfg.SourceNodeID, model.OperationSourceLoad)
	if err != nil {
		return fmt.Errorf("orchestrator: begin source operation: %w", err)
	}

	pctx := &plugin.Context{
		RunID:  runID,
		NodeID: o.cfg.SourceNodeID,
		Ctx:    ctx,
		RecordCall: func(callType string, status model.CallStatus, requestHash, responseHash string, latencyMS int64, errPayload *model.ErrorPayload) error {
			return nil // source-level calls are not tied to a node_state; sources that need a call trail record via Operation completion instead
		},
	}

	start := time.Now()
	stream, err := src.Load(pctx)
	if err != nil {
		_ = o.store.CompleteOperation(op.OperationID, landscape.OperationCompletion{Status: model.OperationFailed, ErrorMessage: err.Error()})
		return fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrOrchestrationInvariant, fmt.Sprintf("source load: %s", err), false, err))
	}

	var contract *schema.Contract
	if c, ok := src.GetSchemaContract(); ok {
		contract = c
	}

	rowIndex := 0
	for sr := range stream {
		if err := o.proc.CheckAggregationTimeouts(ctx, time.Now().UTC()); err != nil {
			_ = o.store.CompleteOperation(op.OperationID, landscape.OperationCompletion{Status: model.OperationFailed, ErrorMessage: err.Error()})
			return err
		}

		switch sr.Kind {
		case plugin.SourceRowValid:
			if err := o.ingestRow(ctx, runID, src, contract, sr.Row, rowIndex); err != nil {
				_ = o.store.CompleteOperation(op.OperationID, landscape.OperationCompletion{Status: model.OperationFailed, ErrorMessage: err.Error()})
				return err
			}
		case plugin.SourceRowQuarantined:
			if err := o.quarantineRow(ctx, runID, sr, rowIndex); err != nil {
				_ = o.store.CompleteOperation(op.OperationID, landscape.OperationCompletion{Status: model.OperationFailed, ErrorMessage: err.Error()})
				return err
			}
		}

		if err := o.maybeCheckpoint(runID, rowIndex); err != nil {
			return err
		}
		rowIndex++
	}

	if err := o.store.CompleteOperation(op.OperationID, landscape.OperationCompletion{
		Status: model.OperationCompleted, DurationMS: time.Since(start).Milliseconds(),
	}); err != nil {
		return fmt.Errorf("orchestrator: complete source operation: %w", err)
	}

	return o.proc.FlushAllAtEndOfSource(ctx)
}

// ingestRow persists a validated row, mints its first token, and
// routes it out of the source along on_success (spec §4.J).
func (o *Orchestrator) ingestRow(ctx context.Context, runID string, src plugin.Source, contract *schema.Contract, row map[string]any, rowIndex int) error {
	encoded, err := canon.Canonicalize(row)
	if err != nil {
		return o.quarantineUncanonicalizable(runID, row, err)
	}

	var payloadRef string
	if o.payloads != nil {
		if ref, putErr := o.payloads.Put(encoded); putErr == nil {
			payloadRef = ref
		}
	}

	rowRec, err := o.store.CreateRow(runID, landscape.RowSpec{
		SourceNodeID: o.cfg.SourceNodeID,
		RowIndex:     rowIndex,
		Data:         row,
		PayloadRef:   payloadRef,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: create row: %w", err)
	}

	token, err := o.store.CreateToken(landscape.TokenSpec{RowID: rowRec.RowID})
	if err != nil {
		return fmt.Errorf("orchestrator: create token: %w", err)
	}
	o.proc.SeedRow(token.TokenID, row, contract)
	o.lastTokenID = token.TokenID

	return o.proc.AdvanceFromSource(ctx, token, o.cfg.SourceNodeID, edgeLabelOr(src.OnSuccess()))
}

// quarantineUncanonicalizable records a Row-less validation error
// when a valid-looking row still contains a non-canonicalizable value
// (NaN/Infinity) per spec §4.A: the row is never hashed or stored,
// only its failure is.
func (o *Orchestrator) quarantineUncanonicalizable(runID string, row map[string]any, cause error) error {
	if err := o.store.RecordValidationError(&model.ValidationErrorRecord{
		RunID: runID, NodeID: o.cfg.SourceNodeID, Message: string(model.ErrCanonicalization) + ": " + cause.Error(), CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("orchestrator: record validation error for non-canonical row: %w", err)
	}
	return nil
}

// quarantineRow records the validation failure a source yielded and
// routes the row to its configured destination: "discard" records a
// terminal QUARANTINED outcome, any other value is a sink name the row
// is routed to with a terminal ROUTED outcome (spec §4.I, §7.1).
func (o *Orchestrator) quarantineRow(ctx context.Context, runID string, sr plugin.SourceRow, rowIndex int) error {
	rowRec, err := o.store.CreateRow(runID, landscape.RowSpec{
		SourceNodeID: o.cfg.SourceNodeID,
		RowIndex:     rowIndex,
		Data:         sr.Row,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: create quarantined row: %w", err)
	}
	token, err := o.store.CreateToken(landscape.TokenSpec{RowID: rowRec.RowID})
	if err != nil {
		return fmt.Errorf("orchestrator: create token for quarantined row: %w", err)
	}

	message := ""
	if sr.Err != nil {
		message = sr.Err.Error()
	}
	errPayload := model.NewEngineError(model.ErrSchemaValidationFailed, message, false, sr.Err).ToErrorPayload()
	if err := o.store.RecordValidationError(&model.ValidationErrorRecord{
		RunID: runID, RowID: rowRec.RowID, NodeID: o.cfg.SourceNodeID, Message: message, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("orchestrator: record validation error: %w", err)
	}

	if sr.Destination == "" || sr.Destination == "discard" {
		_, err := o.store.RecordTokenOutcome(runID, token.TokenID, model.OutcomeQuarantined, model.TokenOutcomeOptions{ErrorHash: errPayload.ErrorHash})
		return err
	}
	if _, err := o.store.RecordTokenOutcome(runID, token.TokenID, model.OutcomeRouted, model.TokenOutcomeOptions{SinkName: sr.Destination, ErrorHash: errPayload.ErrorHash}); err != nil {
		return fmt.Errorf("orchestrator: record ROUTED outcome: %w", err)
	}
	o.proc.SeedRow(token.TokenID, sr.Row, nil)
	return o.proc.RouteToSink(ctx, token, sr.Destination)
}

// maybeCheckpoint records a checkpoint when either configured cadence
// has elapsed, flushing every sink first: a checkpoint is only durable
// once the rows it covers are guaranteed written (spec §4.J, §7.10).
func (o *Orchestrator) maybeCheckpoint(runID string, rowIndex int) error {
	if o.cfg.CheckpointEveryRows <= 0 && o.cfg.CheckpointEveryInterval <= 0 {
		return nil
	}
	o.rowsSinceCkp++
	if o.lastCkpAt.IsZero() {
		o.lastCkpAt = time.Now()
	}
	due :=o.cfg.CheckpointEveryRows > 0 && o.rowsSinceCkp >= o.cfg.CheckpointEveryRows
	if !due && o.cfg.CheckpointEveryInterval > 0 && !o.lastCkpAt.IsZero() {
		due = time.Since(o.lastCkpAt) >= o.cfg.CheckpointEveryInterval
	}
	if !due {
		return nil
	}
	if err := o.proc.FlushSinks(context.Background()); err != nil {
		return fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrDurability, fmt.Sprintf("flush before checkpoint: %s", err), false, err))
	}
	if _, err := o.cm.Create(runID, o.lastTokenID, o.checkpointNodeID(), int64(rowIndex), nil); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	o.rowsSinceCkp = 0
	o.lastCkpAt = time.Now()
	return nil
}

// prepareSinksForResume implements spec §4.H's resume-mode sink
// contract: every sink reachable in the graph that declares
// supports_resume is reconfigured and validated against its existing
// output target before any row is replayed; a sink that doesn't
// support resume must already have been rejected by CanResume's
// caller, but we refuse defensively here too.
func (o *Orchestrator) prepareSinksForResume(ctx context.Context, src plugin.Source) error {
	seen := make(map[string]bool)
	var resolution *plugin.FieldResolution
	if fr, ok := src.GetFieldResolution(); ok {
		resolution = fr
	}
	for _, n := range o.cfg.Nodes {
		if n.NodeType != model.NodeTypeSink || seen[n.PluginName] {
			continue
		}
		seen[n.PluginName] = true
		s, ok := o.cfg.Registry.Sink(n.PluginName)
		if !ok {
			continue
		}
		if !s.SupportsResume() {
			return fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrTopologyMismatch, fmt.Sprintf("sink %q does not support resume", n.PluginName), false, nil))
		}
		pctx := &plugin.Context{RunID: o.runID, NodeID: n.NodeID, Ctx: ctx}
		if err := s.ConfigureForResume(pctx); err != nil {
			return fmt.Errorf("orchestrator: configure sink %q for resume: %w", n.PluginName, err)
		}
		validation, err := s.ValidateOutputTarget(pctx)
		if err != nil {
			return fmt.Errorf("orchestrator: validate output target for sink %q: %w", n.PluginName, err)
		}
		if !validation.Matches {
			return fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrTopologyMismatch, fmt.Sprintf("sink %q output target mismatch: %s", n.PluginName, validation.Reason), false, nil))
		}
		if resolution != nil {
			s.SetResumeFieldResolution(resolution.Mapping)
		}
	}
	return nil
}

// rehydrateRow reloads a row's bytes from the payload store and
// decodes them back into a row map, for resume-time replay.
func (o *Orchestrator) rehydrateRow(row *model.Row) (map[string]any, error) {
	if row.PayloadRef == "" {
		return nil, fmt.Errorf("orchestrator: %w", model.NewEngineError(model.ErrOrchestrationInvariant, fmt.Sprintf("row %s has no payload ref to rehydrate", row.RowID), false, nil))
	}
	raw, err := o.payloads.Get(row.PayloadRef)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: rehydrate row %s: %w", row.RowID, err)
	}
	data, err := canon.DecodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: decode rehydrated row %s: %w", row.RowID, err)
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("orchestrator: row %s payload is not an object", row.RowID)
	}
	return m, nil
}

func edgeLabelOr(label string) string {
	if label == "" {
		return "continue"
	}
	return label
}
