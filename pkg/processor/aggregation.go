package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/plugin"
	"github.com/cuemby/landscape/pkg/schema"
)

// OutputMode is the aggregation output discipline of spec §4.I.4.b.
type OutputMode string

const (
	OutputSingle      OutputMode = "single"
	OutputPassthrough OutputMode = "passthrough"
	OutputTransform   OutputMode = "transform"
)

// AggregationConfig is the trigger and output policy for one
// aggregation node; supplied by the caller constructing the
// Processor since it is plugin-instance configuration, not graph
// topology.
type AggregationConfig struct {
	CountTrigger   int           // 0 disables the count trigger
	TimeoutTrigger time.Duration // 0 disables the timeout trigger
	OutputMode     OutputMode
	NextEdgeLabel  string // edge label used to route emitted tokens onward
}

type bufferedToken struct {
	token    *model.Token
	row      map[string]any
	contract *schema.Contract
}

type aggBuffer struct {
	nodeID      string
	batchID     string
	members     []bufferedToken
	lastArrival time.Time
	cfg         AggregationConfig
}

// processAggregation implements spec §4.I.4: buffer the token,
// record it BUFFERED, and flush when the count trigger fires.
func (p *Processor) processAggregation(ctx context.Context, token *model.Token, info graph.NodeInfo) error {
	cfg, ok := p.aggregationConfigs[info.ID]
	if !ok {
		return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrOrchestrationInvariant, fmt.Sprintf("aggregation node %q has no configured trigger/output policy", info.ID), false, nil))
	}
	row, contract, err := p.loadRow(token)
	if err != nil {
		return err
	}

	buf := p.aggregations[info.ID]
	if buf == nil {
		batch := &model.Batch{RunID: p.runID, NodeID: info.ID, Status: model.BatchDraft}
		if err := p.store.CreateBatch(batch); err != nil {
			return fmt.Errorf("processor: create batch for aggregation %q: %w", info.ID, err)
		}
		buf = &aggBuffer{nodeID: info.ID, batchID: batch.BatchID, cfg: cfg}
		p.aggregations[info.ID] = buf
	}

	ordinal := len(buf.members)
	buf.members = append(buf.members, bufferedToken{token: token, row: row, contract: contract})
	buf.lastArrival = nowUTC()

	if err := p.store.AddBatchMember(model.BatchMember{BatchID: buf.batchID, TokenID: token.TokenID, Ordinal: ordinal}); err != nil {
		return fmt.Errorf("processor: add batch member: %w", err)
	}
	if _, err := p.store.RecordTokenOutcome(p.runID, token.TokenID, model.OutcomeBuffered, model.TokenOutcomeOptions{BatchID: buf.batchID}); err != nil {
		return fmt.Errorf("processor: record BUFFERED outcome: %w", err)
	}

	if cfg.CountTrigger > 0 && len(buf.members) >= cfg.CountTrigger {
		return p.flushAggregation(ctx, info.ID, model.TriggerCount)
	}
	return nil
}

// CheckAggregationTimeouts fires any aggregation buffer whose timeout
// trigger has elapsed since its last arrival. The orchestrator calls
// this before buffering the next row so the arriving row itself is
// never counted against the elapsed duration (spec §4.J).
func (p *Processor) CheckAggregationTimeouts(ctx context.Context, now time.Time) error {
	for nodeID, buf := range p.aggregations {
		if buf.cfg.TimeoutTrigger <= 0 || len(buf.members) == 0 {
			continue
		}
		if now.Sub(buf.lastArrival) >= buf.cfg.TimeoutTrigger {
			if err := p.flushAggregation(ctx, nodeID, model.TriggerTime); err != nil {
				return err
			}
		}
	}
	return nil
}

// FlushAllAtEndOfSource flushes every non-empty aggregation buffer
// with trigger=END_OF_SOURCE, per spec §4.J.
func (p *Processor) FlushAllAtEndOfSource(ctx context.Context) error {
	for nodeID, buf := range p.aggregations {
		if len(buf.members) == 0 {
			continue
		}
		if err := p.flushAggregation(ctx, nodeID, model.TriggerEndOfSource); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) flushAggregation(ctx context.Context, nodeID string, trigger model.BatchTrigger) error {
	buf := p.aggregations[nodeID]
	if buf == nil || len(buf.members) == 0 {
		return nil
	}
	info, _ := p.graph.Node(nodeID)
	bt, ok := p.registry.BatchTransform(info.PluginName)
	if !ok {
		return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrPluginInvariantViolation, fmt.Sprintf("aggregation node %q references unregistered batch transform %q", nodeID, info.PluginName), false, nil))
	}

	delete(p.aggregations, nodeID)
	batch := buf.batchID
	if err := p.store.CompleteBatch(batch, model.BatchExecuting); err != nil {
		return fmt.Errorf("processor: mark batch executing: %w", err)
	}

	rows := make([]*schema.PipelineRow, len(buf.members))
	for i, m := range buf.members {
		contract := m.contract
		if contract == nil {
			contract = schema.NewContract(schema.ModeFree, nil, false)
		}
		rows[i] = schema.NewPipelineRow(m.row, contract)
	}

	pctx := p.pluginContext(ctx, nodeID)
	result := bt.Process(rows, pctx)

	if result.Kind == plugin.TransformError {
		if err := p.store.CompleteBatch(batch, model.BatchFailed); err != nil {
			return fmt.Errorf("processor: mark batch failed: %w", err)
		}
		for _, m := range buf.members {
			if err := p.recordTransformFailure(nodeID, m.token, result.ErrorReason, result.Retryable, bt.OnError()); err != nil {
				return err
			}
		}
		return nil
	}

	switch buf.cfg.OutputMode {
	case OutputSingle:
		if err := p.emitSingleOutput(ctx, nodeID, buf, result); err != nil {
			return err
		}
	case OutputPassthrough:
		if err := p.emitPassthrough(ctx, nodeID, buf); err != nil {
			return err
		}
	case OutputTransform:
		if err := p.emitDeaggregated(ctx, nodeID, buf, result); err != nil {
			return err
		}
	default:
		return fmt.Errorf("processor: aggregation %q has unknown output mode %q", nodeID, buf.cfg.OutputMode)
	}

	return p.store.CompleteBatch(batch, model.BatchCompleted)
}

// emitSingleOutput creates one child token parented by every buffered
// token, in ordinal order, and routes it onward.
func (p *Processor) emitSingleOutput(ctx context.Context, nodeID string, buf *aggBuffer, result plugin.TransformResult) error {
	parents := make([]string, len(buf.members))
	for i, m := range buf.members {
		parents[i] = m.token.TokenID
	}
	row := result.Row
	if row == nil && len(result.Rows) > 0 {
		row = result.Rows[0]
	}
	child, err := p.store.CreateToken(landscapeTokenSpec(buf.members[0].token.RowID, parents, buf.batchID, nodeID))
	if err != nil {
		return fmt.Errorf("processor: create aggregation output token: %w", err)
	}
	contract := buf.members[0].contract
	p.SeedRow(child.TokenID, row, contract)
	if err := p.store.AddBatchOutput(model.BatchOutput{BatchID: buf.batchID, TokenID: child.TokenID}); err != nil {
		return fmt.Errorf("processor: record batch output: %w", err)
	}
	for _, m := range buf.members {
		if _, err := p.store.RecordTokenOutcome(p.runID, m.token.TokenID, model.OutcomeConsumedInBatch, model.TokenOutcomeOptions{BatchID: buf.batchID}); err != nil {
			return fmt.Errorf("processor: record CONSUMED_IN_BATCH outcome: %w", err)
		}
	}
	return p.advance(ctx, child, nodeID, buf.cfg.NextEdgeLabel)
}

// emitPassthrough re-emits every buffered row as-is along the next
// edge, preserving token identity, and records CONSUMED_IN_BATCH on
// each.
func (p *Processor) emitPassthrough(ctx context.Context, nodeID string, buf *aggBuffer) error {
	for _, m := range buf.members {
		if _, err := p.store.RecordTokenOutcome(p.runID, m.token.TokenID, model.OutcomeConsumedInBatch, model.TokenOutcomeOptions{BatchID: buf.batchID}); err != nil {
			return fmt.Errorf("processor: record CONSUMED_IN_BATCH outcome: %w", err)
		}
		if err := p.store.AddBatchOutput(model.BatchOutput{BatchID: buf.batchID, TokenID: m.token.TokenID}); err != nil {
			return fmt.Errorf("processor: record batch output: %w", err)
		}
		p.SeedRow(m.token.TokenID, m.row, m.contract)
		if err := p.advance(ctx, m.token, nodeID, buf.cfg.NextEdgeLabel); err != nil {
			return err
		}
	}
	return nil
}

// emitDeaggregated applies the batch transform's returned rows as new
// tokens parented by the original buffer, allowing deaggregation
// (fan-out from a batch).
func (p *Processor) emitDeaggregated(ctx context.Context, nodeID string, buf *aggBuffer, result plugin.TransformResult) error {
	parents := make([]string, len(buf.members))
	for i, m := range buf.members {
		parents[i] = m.token.TokenID
	}
	outRows := result.Rows
	if outRows == nil && result.Row != nil {
		outRows = []map[string]any{result.Row}
	}
	for _, row := range outRows {
		child, err := p.store.CreateToken(landscapeTokenSpec(buf.members[0].token.RowID, parents, buf.batchID, nodeID))
		if err != nil {
			return fmt.Errorf("processor: create deaggregated output token: %w", err)
		}
		p.SeedRow(child.TokenID, row, buf.members[0].contract)
		if err := p.store.AddBatchOutput(model.BatchOutput{BatchID: buf.batchID, TokenID: child.TokenID}); err != nil {
			return fmt.Errorf("processor: record batch output: %w", err)
		}
		if err := p.advance(ctx, child, nodeID, buf.cfg.NextEdgeLabel); err != nil {
			return err
		}
	}
	for _, m := range buf.members {
		if _, err := p.store.RecordTokenOutcome(p.runID, m.token.TokenID, model.OutcomeConsumedInBatch, model.TokenOutcomeOptions{BatchID: buf.batchID}); err != nil {
			return fmt.Errorf("processor: record CONSUMED_IN_BATCH outcome: %w", err)
		}
	}
	return nil
}
