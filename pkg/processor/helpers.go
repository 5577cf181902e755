package processor

import (
	"context"

	"github.com/cuemby/landscape/pkg/canon"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/plugin"
)

// pluginContext builds the narrow Context handle a plugin receives
// for one invocation, wiring RecordCall back to the landscape store
// attached to the node's current node_state (or, for aggregation
// batch transforms, to no particular state — callers that need a call
// trail for batch work pass a non-empty stateID via pluginContextFor).
func (p *Processor) pluginContext(ctx context.Context, nodeID string) *plugin.Context {
	return p.pluginContextFor(ctx, nodeID, "")
}

func (p *Processor) pluginContextFor(ctx context.Context, nodeID, stateID string) *plugin.Context {
	return &plugin.Context{
		RunID:  p.runID,
		NodeID: nodeID,
		Ctx:    ctx,
		RecordCall: func(callType string, status model.CallStatus, requestHash, responseHash string, latencyMS int64, errPayload *model.ErrorPayload) error {
			if stateID == "" {
				return nil
			}
			callIndex := p.nextCallIndex(stateID)
			_, err := p.store.RecordCall(landscape.CallSpec{
				StateID:      stateID,
				CallIndex:    callIndex,
				CallType:     callType,
				Status:       status,
				RequestData:  map[string]any{"hash": requestHash},
				ResponseData: map[string]any{"hash": responseHash},
				LatencyMS:    latencyMS,
				Error:        errPayload,
			})
			return err
		},
	}
}

func (p *Processor) nextCallIndex(stateID string) int {
	if p.callIndices == nil {
		p.callIndices = make(map[string]int)
	}
	idx := p.callIndices[stateID]
	p.callIndices[stateID] = idx + 1
	return idx
}

// recordTransformFailure records a TransformErrorRecord for the token
// and routes it to its on_error sink with a ROUTED outcome, or records
// a terminal FAILED outcome when on_error is empty or "discard", per
// spec §4.I.2.c. It does not touch any node_state; callers complete
// the failing node_state themselves.
func (p *Processor) recordTransformFailure(nodeID string, token *model.Token, reason string, retryable bool, onError string) error {
	errPayload := model.NewEngineError(model.ErrTransform, reason, retryable, nil).ToErrorPayload()
	if err := p.store.RecordTransformError(&model.TransformErrorRecord{
		RunID: p.runID, TokenID: token.TokenID, NodeID: nodeID, Reason: reason, Retryable: retryable, CreatedAt: nowUTC(),
	}); err != nil {
		return err
	}
	if onError == "" || onError == "discard" {
		_, err := p.store.RecordTokenOutcome(p.runID, token.TokenID, model.OutcomeFailed, model.TokenOutcomeOptions{ErrorHash: errPayload.ErrorHash})
		return err
	}
	_, err := p.store.RecordTokenOutcome(p.runID, token.TokenID, model.OutcomeRouted, model.TokenOutcomeOptions{SinkName: onError, ErrorHash: errPayload.ErrorHash})
	if err != nil {
		return err
	}
	return p.advanceToSinkByName(context.Background(), token, onError)
}

// landscapeTokenSpec builds a TokenSpec for a child token produced by
// an aggregation or coalesce, parented by the given ordered token ids.
func landscapeTokenSpec(rowID string, parents []string, groupID, nodeID string) landscape.TokenSpec {
	return landscape.TokenSpec{
		RowID:   rowID,
		Parents: parents,
	}
}

// encodeRow canonicalizes row for content-addressed storage in the
// payload store. Nothing in this package calls it.
func encodeRow(row map[string]any) ([]byte, error) {
	return canon.Canonicalize(row)
}

func hashRow(row map[string]any) (string, error) {
	return canon.Hash(row)
}
