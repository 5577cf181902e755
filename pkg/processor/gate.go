package processor

import (
	"context"
	"fmt"

	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/model"
)

// processGate implements spec §4.I.3: evaluate the gate's compiled
// rules in declared order against the current row, route along every
// matching edge under COPY semantics (forking the token) or along
// only the first match under MOVE semantics, and fall back to
// OnNoMatch when nothing matched.
func (p *Processor) processGate(ctx context.Context, token *model.Token, info graph.NodeInfo) error {
	g, ok := p.registry.Gate(info.PluginName)
	if !ok {
		return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrPluginInvariantViolation, fmt.Sprintf("gate node %q references unregistered plugin %q", info.ID, info.PluginName), false, nil))
	}
	row, contract, err := p.loadRow(token)
	if err != nil {
		return err
	}

	rules := p.gateRules[info.ID]
	var matched []string
	for _, r := range rules {
		ok, err := r.expr.EvalBool(row)
		if err != nil {
			return p.recordTransformFailure(info.ID, token, fmt.Sprintf("gate rule evaluation failed: %s", err), false, g.OnNoMatch())
		}
		if !ok {
			continue
		}
		matched = append(matched, r.edgeLabel)
		if g.DefaultMode() == model.EdgeMove {
			break // first match wins under MOVE
		}
	}

	if len(matched) == 0 {
		noMatch := g.OnNoMatch()
		if noMatch == "" {
			return fmt.Errorf("processor: %w", model.NewEngineError(model.ErrOrchestrationInvariant, fmt.Sprintf("gate %q: no rule matched and no on_no_match edge configured", info.ID), false, nil))
		}
		if err := p.recordRoutingEvent(token.TokenID, info.ID, noMatch, g.DefaultMode(), "", 0); err != nil {
			return err
		}
		return p.advance(ctx, token, info.ID, noMatch)
	}

	if g.DefaultMode() != model.EdgeCopy || len(matched) == 1 {
		label := matched[0]
		if err := p.recordRoutingEvent(token.TokenID, info.ID, label, g.DefaultMode(), "", 0); err != nil {
			return err
		}
		return p.advance(ctx, token, info.ID, label)
	}

	groupID := newCallID()
	if _, err := p.store.RecordTokenOutcome(p.runID, token.TokenID, model.OutcomeForked, model.TokenOutcomeOptions{ForkGroupID: groupID, ExpectedBranches: len(matched)}); err != nil {
		return fmt.Errorf("processor: record FORKED outcome: %w", err)
	}
	for i, label := range matched {
		if err := p.recordRoutingEvent(token.TokenID, info.ID, label, g.DefaultMode(), groupID, i); err != nil {
			return err
		}
		child, err := p.store.CreateToken(landscape.TokenSpec{
			RowID: token.RowID, Parents: []string{token.TokenID}, ForkGroupID: groupID, Branch: label, Step: i,
		})
		if err != nil {
			return fmt.Errorf("processor: create forked token: %w", err)
		}
		p.SeedRow(child.TokenID, row, contract)
		if err := p.advance(ctx, child, info.ID, label); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) recordRoutingEvent(tokenID, nodeID, label string, mode model.EdgeMode, groupID string, ordinal int) error {
	event := &model.RoutingEvent{
		StateID:        tokenID,
		EdgeID:         p.edgeIDs[nodeID+"\x00"+label],
		RoutingGroupID: groupID,
		Ordinal:        ordinal,
		Mode:           mode,
	}
	if err := p.store.RecordRoutingEvent(event); err != nil {
		return fmt.Errorf("processor: record routing_event at %q: %w", nodeID, err)
	}
	return nil
}
