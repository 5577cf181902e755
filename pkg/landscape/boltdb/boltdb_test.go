package boltdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBeginRunAndGetRunRoundTrip(t *testing.T) {
	s := newTestStore(t)
	run, err := s.BeginRun("cfg-hash", "v1", map[string]any{"source": "csv"})
	require.NoError(t, err)
	assert.Equal(t, model.RunExecuting, run.Status)

	got, err := s.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "cfg-hash", got.ConfigHash)

	require.NoError(t, s.CompleteRun(run.RunID, model.RunCompleted))
	got, err = s.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
}

func TestRegisterNodeIsIdempotentByID(t *testing.T) {
	s := newTestStore(t)
	run, err := s.BeginRun("cfg-hash", "v1", nil)
	require.NoError(t, err)

	spec := landscape.NodeSpec{
		NodeID: "node-1", PluginName: "csv_source", PluginVersion: "1.0.0",
		NodeType: model.NodeTypeSource, Determinism: model.Deterministic, ConfigHash: "h1",
	}
	n1, err := s.RegisterNode(run.RunID, spec)
	require.NoError(t, err)
	n2, err := s.RegisterNode(run.RunID, spec)
	require.NoError(t, err)
	assert.Equal(t, n1.NodeID, n2.NodeID)
}

func TestCreateTokenRejectsUnknownRow(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateToken(landscape.TokenSpec{RowID: "nonexistent-row"})
	require.Error(t, err)
}

func TestNodeStateCompleteRequiresOutputHashWhenCompleted(t *testing.T) {
	s := newTestStore(t)
	run, err := s.BeginRun("cfg-hash", "v1", nil)
	require.NoError(t, err)
	row, err := s.CreateRow(run.RunID, landscape.RowSpec{SourceNodeID: "node-1", RowIndex: 0, Data: map[string]any{"a": 1}})
	require.NoError(t, err)
	tok, err := s.CreateToken(landscape.TokenSpec{RowID: row.RowID})
	require.NoError(t, err)

	ns, err := s.BeginNodeState(tok.TokenID, "node-1", 0, 0, "input-hash")
	require.NoError(t, err)

	err = s.CompleteNodeState(ns.StateID, landscape.NodeStateCompletion{Status: model.NodeStateCompleted})
	require.Error(t, err, "COMPLETED requires a non-empty output hash")

	err = s.CompleteNodeState(ns.StateID, landscape.NodeStateCompletion{
		Status: model.NodeStateCompleted, OutputData: map[string]any{"a": 1},
	})
	require.NoError(t, err)

	got, err := s.GetNodeState(ns.StateID)
	require.NoError(t, err)
	assert.Equal(t, model.NodeStateCompleted, got.Status)
	assert.NotEmpty(t, got.OutputHash)
}

func TestRecordCallRequiresExactlyOneParent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.RecordCall(landscape.CallSpec{Status: model.CallSuccess})
	require.Error(t, err)

	_, err = s.RecordCall(landscape.CallSpec{StateID: "s1", OperationID: "o1", Status: model.CallSuccess})
	require.Error(t, err)
}

func TestRecordTokenOutcomeRejectsSecondTerminalOutcome(t *testing.T) {
	s := newTestStore(t)
	run, err := s.BeginRun("cfg-hash", "v1", nil)
	require.NoError(t, err)
	row, err := s.CreateRow(run.RunID, landscape.RowSpec{SourceNodeID: "node-1", RowIndex: 0, Data: map[string]any{}})
	require.NoError(t, err)
	tok, err := s.CreateToken(landscape.TokenSpec{RowID: row.RowID})
	require.NoError(t, err)

	_, err = s.RecordTokenOutcome(run.RunID, tok.TokenID, model.OutcomeCompleted, model.TokenOutcomeOptions{SinkName: "out"})
	require.NoError(t, err)

	_, err = s.RecordTokenOutcome(run.RunID, tok.TokenID, model.OutcomeFailed, model.TokenOutcomeOptions{SinkName: "out"})
	require.Error(t, err)
}

func TestCheckpointsOrderedBySequenceAndLatestWins(t *testing.T) {
	s := newTestStore(t)
	run, err := s.BeginRun("cfg-hash", "v1", nil)
	require.NoError(t, err)

	for seq := int64(0); seq < 3; seq++ {
		cp, err := model.NewCheckpoint("", run.RunID, "tok-1", "node-1", seq, "upstream-hash", "node-cfg-hash", nil)
		require.NoError(t, err)
		require.NoError(t, s.CreateCheckpoint(cp))
	}

	latest, err := s.GetLatestCheckpoint(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.SequenceNumber)

	all, err := s.GetCheckpoints(run.RunID)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, s.DeleteCheckpoints(run.RunID))
	all, err = s.GetCheckpoints(run.RunID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDumpCollectsTransitiveClosureForRun(t *testing.T) {
	s := newTestStore(t)
	run, err := s.BeginRun("cfg-hash", "v1", nil)
	require.NoError(t, err)
	_, err = s.RegisterNode(run.RunID, landscape.NodeSpec{
		NodeID: "node-1", PluginName: "csv_source", NodeType: model.NodeTypeSource, Determinism: model.Deterministic,
	})
	require.NoError(t, err)
	row, err := s.CreateRow(run.RunID, landscape.RowSpec{SourceNodeID: "node-1", RowIndex: 0, Data: map[string]any{"a": 1}})
	require.NoError(t, err)
	tok, err := s.CreateToken(landscape.TokenSpec{RowID: row.RowID})
	require.NoError(t, err)
	ns, err := s.BeginNodeState(tok.TokenID, "node-1", 0, 0, "input-hash")
	require.NoError(t, err)
	_, err = s.RecordCall(landscape.CallSpec{StateID: ns.StateID, CallIndex: 0, CallType: "http", Status: model.CallSuccess})
	require.NoError(t, err)

	dump, err := s.Dump(run.RunID)
	require.NoError(t, err)
	assert.Len(t, dump.Runs, 1)
	assert.Len(t, dump.Nodes, 1)
	assert.Len(t, dump.Rows, 1)
	assert.Len(t, dump.Tokens, 1)
	assert.Len(t, dump.NodeStates, 1)
	assert.Len(t, dump.Calls, 1)
}
