package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/model"
)

// processSink implements spec §4.I.6: the terminal step. The sink
// writes the row, the resulting artifact descriptor is recorded, and
// the token is given its terminal COMPLETED outcome, unless it already
// carries a terminal outcome (a token sent here by an error or
// validation-failure route keeps its ROUTED outcome). Flush is left to
// the orchestrator, which calls it once per checkpoint boundary rather
// than once per row.
func (p *Processor) processSink(ctx context.Context, token *model.Token, info graph.NodeInfo) error {
	s, ok := p.registry.Sink(info.PluginName)
	if !ok {
		return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrPluginInvariantViolation, fmt.Sprintf("sink node %q references unregistered plugin %q", info.ID, info.PluginName), false, nil))
	}

	row, _, err := p.loadRow(token)
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

	pctx := p.pluginContextFor(ctx, info.ID, ns.StateID)
	start := nowUTC()
	descriptor, writeErr := s.Write([]map[string]any{row}, pctx)
	duration := time.Since(start).Milliseconds()

	if writeErr != nil {
		errPayload := model.NewEngineError(model.ErrDurability, writeErr.Error(), true, writeErr).ToErrorPayload()
		if err := p.store.CompleteNodeState(ns.StateID, landscape.NodeStateCompletion{Status: model.NodeStateFailed, DurationMS: duration, Error: errPayload}); err != nil {
			return fmt.Errorf("processor: complete failed sink node_state: %w", err)
		}
		return p.recordTransformFailure(info.ID, token, writeErr.Error(), true, "")
	}

	if err := p.store.CompleteNodeState(ns.StateID, landscape.NodeStateCompletion{Status: model.NodeStateCompleted, OutputData: row, DurationMS: duration}); err != nil {
		return p.quarantineOrFail(token, info.ID, err)
	}

	if err := p.store.RecordArtifact(&model.Artifact{
		RunID:           p.runID,
		ProducedByState: ns.StateID,
		SinkNodeID:      info.ID,
		ArtifactType:    descriptor.ArtifactType,
		PathOrURI:       descriptor.PathOrURI,
		ContentHash:     descriptor.ContentHash,
		SizeBytes:       descriptor.SizeBytes,
		IdempotencyKey:  inputHash,
	}); err != nil {
		return fmt.Errorf("processor: record artifact at %q: %w", info.ID, err)
	}

	prior, err := p.store.GetTokenOutcome(token.TokenID)
	if err != nil {
		return fmt.Errorf("processor: read outcome at %q: %w", info.ID, err)
	}
	if prior != nil && prior.IsTerminal {
		return nil // routed here as ROUTED; a token keeps its one terminal outcome
	}
	_, err = p.store.RecordTokenOutcome(p.runID, token.TokenID, model.OutcomeCompleted, model.TokenOutcomeOptions{SinkName: info.PluginName})
	if err != nil {
		return fmt.Errorf("processor: record COMPLETED outcome: %w", err)
	}
	return nil
}

// FlushSinks calls Flush on every distinct sink plugin reachable in
// the graph, per spec §4.J's checkpoint protocol: a checkpoint may
// only be recorded once every sink that has received rows since the
// last checkpoint has durably flushed them.
func (p *Processor) FlushSinks(ctx context.Context) error {
	seen := make(map[string]bool)
	for _, id := range p.graph.Nodes() {
		info, _ := p.graph.Node(id)
		if info.NodeType != model.NodeTypeSink || seen[info.PluginName] {
			continue
		}
		seen[info.PluginName] = true
		s, ok := p.registry.Sink(info.PluginName)
		if !ok {
			continue
		}
		if err := s.Flush(p.pluginContextFor(ctx, id, "")); err != nil {
			return fmt.Errorf("processor: flush sink %q: %w", info.PluginName, err)
		}
	}
	return nil
}
