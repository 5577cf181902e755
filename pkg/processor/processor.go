// Package processor implements the per-token execution state machine
// described in spec §4.I: given a token sitting at a node, it drives
// that token through transforms, gates, aggregation buffering,
// coalesce joins and terminal sink writes, recording every transition
// through the landscape store as it goes.
//
// The processor never mutates shared state outside a single token's
// path except through the landscape store and the aggregation/
// coalesce buffers it owns; the orchestrator calls it once per row,
// synchronously, per spec §5's single-threaded cooperative model.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/landscape/pkg/canon"
	"github.com/cuemby/landscape/pkg/concurrency"
	"github.com/cuemby/landscape/pkg/events"
	"github.com/cuemby/landscape/pkg/expr"
	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/log"
	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/payload"
	"github.com/cuemby/landscape/pkg/plugin"
	"github.com/cuemby/landscape/pkg/schema"
)

// Processor drives individual tokens through the execution graph.
type Processor struct {
	runID    string
	store    landscape.Store
	payloads payload.Store
	graph    *graph.Graph
	registry *plugin.Registry
	broker   *events.Broker
	logger   zerolog.Logger

	gateRules map[string][]compiledRule // nodeID -> compiled gate rules, in declared order
	edgeIDs   map[string]string         // "fromNode\x00label" -> persisted edge id, for routing_event audit
	adapters  map[string]*concurrency.Adapter

	rowCache      map[string]map[string]any  // tokenID -> current row data
	contractCache map[string]*schema.Contract // tokenID -> current contract

	aggregations map[string]*aggBuffer // aggregation nodeID -> buffer
	coalesces    map[string]*coalesceJoin

	aggregationConfigs map[string]AggregationConfig
	coalesceConfigs    map[string]CoalesceConfig
	concurrencyConfigs map[string]ConcurrencyConfig

	callIndices map[string]int // state_id -> next call_index, monotonic across retries
	tokenSteps  map[string]int // token_id -> next step_index
}

type compiledRule struct {
	edgeLabel string
	expr      *expr.Compiled
}

// Config carries everything the processor needs beyond the store and
// graph: the plugin registry and an optional events broker. The
// processor keeps the broker but publishes no events itself.
type Config struct {
	RunID    string
	Store    landscape.Store
	Payloads payload.Store
	Graph    *graph.Graph
	Registry *plugin.Registry
	Broker   *events.Broker

	// EdgeIDs maps "fromNode\x00label" to the persisted edge id recorded
	// via Store.AddEdge at setup time, so routing events can reference
	// the edge they fired. An absent entry yields an empty EdgeID on the
	// resulting routing_event, which is tolerated but not ideal.
	EdgeIDs map[string]string

	// AggregationConfigs/CoalesceConfigs/ConcurrencyConfigs carry
	// per-node plugin-instance policy the graph itself does not
	// encode (trigger thresholds, join policy, worker pool sizing).
	AggregationConfigs map[string]AggregationConfig
	CoalesceConfigs    map[string]CoalesceConfig
	ConcurrencyConfigs map[string]ConcurrencyConfig
}

// New constructs a Processor bound to one run's graph and registry.
// Gate expressions are compiled once up front so a parse error at any
// gate surfaces before the first row is processed.
func New(cfg Config) (*Processor, error) {
	p := &Processor{
		runID:         cfg.RunID,
		store:         cfg.Store,
		payloads:      cfg.Payloads,
		graph:         cfg.Graph,
		registry:      cfg.Registry,
		broker:        cfg.Broker,
		logger:        log.WithComponent("processor").With().Str("run_id", cfg.RunID).Logger(),
		gateRules:     make(map[string][]compiledRule),
		edgeIDs:       cfg.EdgeIDs,
		adapters:      make(map[string]*concurrency.Adapter),
		rowCache:      make(map[string]map[string]any),
		contractCache: make(map[string]*schema.Contract),
		aggregations:  make(map[string]*aggBuffer),
		coalesces:     make(map[string]*coalesceJoin),

		aggregationConfigs: cfg.AggregationConfigs,
		coalesceConfigs:    cfg.CoalesceConfigs,
		concurrencyConfigs: cfg.ConcurrencyConfigs,
	}
	if p.aggregationConfigs == nil {
		p.aggregationConfigs = make(map[string]AggregationConfig)
	}
	if p.coalesceConfigs == nil {
		p.coalesceConfigs = make(map[string]CoalesceConfig)
	}
	if p.concurrencyConfigs == nil {
		p.concurrencyConfigs = make(map[string]ConcurrencyConfig)
	}
	if p.edgeIDs == nil {
		p.edgeIDs = make(map[string]string)
	}
	for _, id := range cfg.Graph.Nodes() {
		info, _ := cfg.Graph.Node(id)
		if info.NodeType != model.NodeTypeGate {
			continue
		}
		g, ok := cfg.Registry.Gate(info.PluginName)
		if !ok {
			return nil, fmt.Errorf("processor: gate node %q references unregistered plugin %q", id, info.PluginName)
		}
		var rules []compiledRule
		for _, r := range g.Rules() {
			c, err := expr.Parse(r.ExprSrc)
			if err != nil {
				return nil, fmt.Errorf("processor: gate %q rule %q: %w", id, r.EdgeLabel, err)
			}
			rules = append(rules, compiledRule{edgeLabel: r.EdgeLabel, expr: c})
		}
		p.gateRules[id] = rules
	}
	return p, nil
}

// SeedRow primes the row cache for a freshly created token at the
// source node, so the first Process call doesn't need to consult the
// payload store.
func (p *Processor) SeedRow(tokenID string, data map[string]any, contract *schema.Contract) {
	p.rowCache[tokenID] = data
	p.contractCache[tokenID] = contract
}

// loadRow resolves the current row for tokenID, falling back to the
// row's source payload when the cache was dropped (e.g. on resume).
func (p *Processor) loadRow(token *model.Token) (map[string]any, *schema.Contract, error) {
	if data, ok := p.rowCache[token.TokenID]; ok {
		return data, p.contractCache[token.TokenID], nil
	}
	row, err := p.store.GetRow(token.RowID)
	if err != nil {
		return nil, nil, fmt.Errorf("processor: load row for token %s: %w", token.TokenID, err)
	}
	if row.PayloadRef == "" {
		return nil, nil, fmt.Errorf("processor: token %s has no cached row and row %s carries no payload ref", token.TokenID, row.RowID)
	}
	raw, err := p.payloads.Get(row.PayloadRef)
	if err != nil {
		return nil, nil, fmt.Errorf("processor: payload unavailable for row %s: %w", row.RowID, err)
	}
	data, err := decodeRow(raw)
	if err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}

// Process drives token through nodeID and, on success, recursively
// through every downstream node its outcome routes to. It returns only
// fatal errors (spec §7); non-fatal classified errors are recorded as
// outcomes and swallowed here.
func (p *Processor) Process(ctx context.Context, token *model.Token, nodeID string) error {
	info, ok := p.graph.Node(nodeID)
	if !ok {
		return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrOrchestrationInvariant, fmt.Sprintf("unknown node %q", nodeID), false, nil))
	}

	switch info.NodeType {
	case model.NodeTypeTransform:
		return p.processTransform(ctx, token, info)
	case model.NodeTypeGate:
		return p.processGate(ctx, token, info)
	case model.NodeTypeAggregation:
		return p.processAggregation(ctx, token, info)
	case model.NodeTypeCoalesce:
		return p.processCoalesce(ctx, token, info)
	case model.NodeTypeSink:
		return p.processSink(ctx, token, info)
	default:
		return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrOrchestrationInvariant, fmt.Sprintf("node %q has unprocessable type %q", nodeID, info.NodeType), false, nil))
	}
}

// advance routes token onward through edges from nodeID given a
// selected label (transform/gate "continue"-style edges are single;
// gates may select several). If no outgoing edge of nodeID carries
// label, including when nodeID has no outgoing edges at all, advance
// returns an OrchestrationInvariant error; sinks never call it.
func (p *Processor) advance(ctx context.Context, token *model.Token, nodeID, label string) error {
	for _, e := range p.graph.OutEdges(nodeID) {
		if e.Label != label {
			continue
		}
		return p.Process(ctx, token, e.To)
	}
	return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrOrchestrationInvariant, fmt.Sprintf("no outgoing edge labeled %q from node %q", label, nodeID), false, nil))
}

// AdvanceFromSource routes a freshly created token out of a source
// node along the given edge label (the source's on_success label, or
// "continue" if it declared none), entering whichever node that edge
// leads to. The orchestrator calls this once per accepted row; the
// source node itself is never passed to Process since it has no
// processable node type of its own.
func (p *Processor) AdvanceFromSource(ctx context.Context, token *model.Token, sourceNodeID, label string) error {
	return p.advance(ctx, token, sourceNodeID, label)
}

// RouteToSink drives token directly into the sink node registered
// under sinkName, bypassing edge-label routing. The orchestrator uses
// this for a source's on_validation_failure destination, which (like a
// transform's on_error) names a sink by plugin name rather than an
// edge label.
func (p *Processor) RouteToSink(ctx context.Context, token *model.Token, sinkName string) error {
	return p.advanceToSinkByName(ctx, token, sinkName)
}

// advanceToSinkByName finds the sink node registered under sinkName
// and drives token into it directly (used for on_error/on_success
// destinations named by plugin config rather than by edge label).
func (p *Processor) advanceToSinkByName(ctx context.Context, token *model.Token, sinkName string) error {
	for _, id := range p.graph.Nodes() {
		info, _ := p.graph.Node(id)
		if info.NodeType == model.NodeTypeSink && info.PluginName == sinkName {
			return p.Process(ctx, token, id)
		}
	}
	return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrOrchestrationInvariant, fmt.Sprintf("no sink node named %q", sinkName), false, nil))
}

func decodeRow(raw []byte) (map[string]any, error) {
	data, err := canon.DecodeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("processor: decode cached row payload: %w", err)
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("processor: cached row payload is not an object")
	}
	return m, nil
}

func newCallID() string { return uuid.New().String() }

func nowUTC() time.Time { return time.Now().UTC() }
