package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/landscape/pkg/canon"
	"github.com/cuemby/landscape/pkg/concurrency"
	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/plugin"
	"github.com/cuemby/landscape/pkg/schema"
)

// ConcurrencyConfig sizes the optional concurrency adapter backing a
// batch-aware transform node (spec §4.L). A node absent from the
// Processor's ConcurrencyConfigs map is invoked synchronously inline.
type ConcurrencyConfig struct {
	PoolSize   int
	MaxPending int
	Timeout    time.Duration
	AIMD       concurrency.AIMDConfig
}

// processTransform implements spec §4.I.2: begin a node_state, invoke
// the transform (synchronously or via the concurrency adapter),
// complete the node_state, and route the token according to the
// transform's result.
func (p *Processor) processTransform(ctx context.Context, token *model.Token, info graph.NodeInfo) error {
	t, ok := p.registry.Transform(info.PluginName)
	if !ok {
		return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrPluginInvariantViolation, fmt.Sprintf("transform node %q references unregistered plugin %q", info.ID, info.PluginName), false, nil))
	}

	row, contract, err := p.loadRow(token)
	if err != nil {
		return err
	}
	inputHash, err := hashRow(row)
	if err != nil {
		return p.quarantineCanonicalizationFailure(token, info.ID, err)
	}

	step := p.nextStep(token.TokenID)
	ns, err := p.store.BeginNodeState(token.TokenID, info.ID, step, 0, inputHash)
	if err != nil {
		return fmt.Errorf("processor: begin node_state at %q: %w", info.ID, err)
	}

	start := nowUTC()
	result, procErr := p.invokeTransform(ctx, t, info.ID, ns.StateID, row)
	duration := time.Since(start).Milliseconds()

	if procErr != nil {
		kind := model.ErrTransform
		var timeoutErr *concurrency.TimeoutError
		if errors.As(procErr, &timeoutErr) {
			kind = model.ErrTimeout
		}
		errPayload := model.NewEngineError(kind, procErr.Error(), false, procErr).ToErrorPayload()
		if err := p.store.CompleteNodeState(ns.StateID, landscape.NodeStateCompletion{Status: model.NodeStateFailed, DurationMS: duration, Error: errPayload}); err != nil {
			return fmt.Errorf("processor: complete failed node_state: %w", err)
		}
		return p.recordTransformFailure(info.ID, token, procErr.Error(), false, t.OnError())
	}

	switch result.Kind {
	case plugin.TransformError:
		errPayload := model.NewEngineError(model.ErrTransform, result.ErrorReason, result.Retryable, nil).ToErrorPayload()
		if err := p.store.CompleteNodeState(ns.StateID, landscape.NodeStateCompletion{Status: model.NodeStateFailed, DurationMS: duration, Error: errPayload}); err != nil {
			return fmt.Errorf("processor: complete failed node_state: %w", err)
		}
		return p.recordTransformFailure(info.ID, token, result.ErrorReason, result.Retryable, t.OnError())

	case plugin.TransformSuccessMulti:
		if !t.CreatesTokens() {
			return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrOrchestrationInvariant, fmt.Sprintf("transform %q returned success_multi but creates_tokens=false", info.ID), false, nil))
		}
		if err := p.store.CompleteNodeState(ns.StateID, landscape.NodeStateCompletion{Status: model.NodeStateCompleted, OutputData: map[string]any{"rows": anySlice(result.Rows)}, DurationMS: duration, SuccessReason: result.SuccessReason}); err != nil {
			return p.quarantineOrFail(token, info.ID, err)
		}
		return p.fanOutExpand(ctx, token, info, t, contract, result.Rows)

	default: // plugin.TransformSuccess
		outputContract := schema.Propagate(orFreeContract(contract), t.TransformAddsFields(), fieldNames(result.Row))
		if err := p.store.CompleteNodeState(ns.StateID, landscape.NodeStateCompletion{Status: model.NodeStateCompleted, OutputData: result.Row, DurationMS: duration, SuccessReason: result.SuccessReason}); err != nil {
			return p.quarantineOrFail(token, info.ID, err)
		}
		p.SeedRow(token.TokenID, result.Row, outputContract)
		return p.advance(ctx, token, info.ID, edgeLabelOr(t.OnSuccess()))
	}
}

// fanOutExpand creates one child token per output row, each sharing a
// fresh expand_group_id, and records EXPANDED on the parent (spec
// §4.I.2.e).
func (p *Processor) fanOutExpand(ctx context.Context, parent *model.Token, info graph.NodeInfo, t plugin.Transform, contract *schema.Contract, rows []map[string]any) error {
	groupID := newCallID()
	if _, err := p.store.RecordTokenOutcome(p.runID, parent.TokenID, model.OutcomeExpanded, model.TokenOutcomeOptions{ExpandGroupID: groupID, ExpectedBranches: len(rows)}); err != nil {
		return fmt.Errorf("processor: record EXPANDED outcome: %w", err)
	}
	for i, row := range rows {
		child, err := p.store.CreateToken(landscape.TokenSpec{
			RowID: parent.RowID, Parents: []string{parent.TokenID}, ExpandGroupID: groupID, Step: i,
		})
		if err != nil {
			return fmt.Errorf("processor: create expanded token: %w", err)
		}
		outputContract := schema.Propagate(orFreeContract(contract), t.TransformAddsFields(), fieldNames(row))
		p.SeedRow(child.TokenID, row, outputContract)
		if err := p.advance(ctx, child, info.ID, edgeLabelOr(t.OnSuccess())); err != nil {
			return err
		}
	}
	return nil
}

// invokeTransform dispatches to the concurrency adapter when the node
// has a ConcurrencyConfig, otherwise calls the transform inline.
func (p *Processor) invokeTransform(ctx context.Context, t plugin.Transform, nodeID, stateID string, row map[string]any) (plugin.TransformResult, error) {
	cfg, ok := p.concurrencyConfigs[nodeID]
	if !ok {
		return t.Process(row, p.pluginContextFor(ctx, nodeID, stateID)), nil
	}

	adapter := p.adapters[nodeID]
	if adapter == nil {
		pctx := p.pluginContextFor(context.Background(), nodeID, stateID)
		adapter = concurrency.Connect(func(c context.Context, r map[string]any) (map[string]any, error) {
			res := t.Process(r, pctx)
			if res.Kind == plugin.TransformError {
				return nil, fmt.Errorf("transform error: %s", res.ErrorReason)
			}
			return res.Row, nil
		}, cfg.PoolSize, cfg.MaxPending, cfg.AIMD)
		p.adapters[nodeID] = adapter
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	ordinal, err := adapter.Accept(callCtx, stateID, row)
	if err != nil {
		return plugin.TransformResult{}, err
	}
	waiter, _ := adapter.Register(ordinal)
	select {
	case res := <-waiter:
		if res.Err != nil {
			return plugin.TransformResult{}, res.Err
		}
		return plugin.Success(res.Row, ""), nil
	case <-callCtx.Done():
		adapter.EvictSubmission(ordinal, stateID)
		return plugin.TransformResult{}, fmt.Errorf("processor: %w", &concurrency.TimeoutError{TokenID: stateID})
	}
}

func (p *Processor) quarantineCanonicalizationFailure(token *model.Token, nodeID string, cause error) error {
	errPayload := model.NewEngineError(model.ErrCanonicalization, cause.Error(), false, cause).ToErrorPayload()
	_, err := p.store.RecordTokenOutcome(p.runID, token.TokenID, model.OutcomeQuarantined, model.TokenOutcomeOptions{ErrorHash: errPayload.ErrorHash})
	return err
}

// quarantineOrFail distinguishes a non-canonicalizable transform
// output (quarantine the row, spec §4.A) from a genuine storage/
// invariant failure (fatal, propagated to the orchestrator).
func (p *Processor) quarantineOrFail(token *model.Token, nodeID string, err error) error {
	var canonErr *canon.Error
	if errors.As(err, &canonErr) {
		return p.quarantineCanonicalizationFailure(token, nodeID, err)
	}
	return fmt.Errorf("processor: complete node_state at %q: %w", nodeID, err)
}

func (p *Processor) nextStep(tokenID string) int {
	if p.tokenSteps == nil {
		p.tokenSteps = make(map[string]int)
	}
	step := p.tokenSteps[tokenID]
	p.tokenSteps[tokenID] = step + 1
	return step
}

func edgeLabelOr(label string) string {
	if label == "" {
		return "continue"
	}
	return label
}

func orFreeContract(c *schema.Contract) *schema.Contract {
	if c != nil {
		return c
	}
	return schema.NewContract(schema.ModeFree, nil, false)
}

func fieldNames(row map[string]any) []string {
	names := make([]string, 0, len(row))
	for k := range row {
		names = append(names, k)
	}
	return names
}

func anySlice(rows []map[string]any) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
