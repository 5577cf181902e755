package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/landscape/boltdb"
	"github.com/cuemby/landscape/pkg/model"
)

func newTestStore(t *testing.T) *boltdb.Store {
	t.Helper()
	s, err := boltdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func buildGraph(t *testing.T, configHash string) *graph.Graph {
	t.Helper()
	g := graph.New()
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "src", NodeType: model.NodeTypeSource, PluginName: "src"}))
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "xf", NodeType: model.NodeTypeTransform, PluginName: "xf", ConfigHash: configHash}))
	require.NoError(t, g.AddEdge("src", "xf", "continue", model.EdgeMove))
	return g
}

func TestCreateAndGetLatestCheckpoint(t *testing.T) {
	store := newTestStore(t)
	run, err := store.BeginRun("cfg", "v1", nil)
	require.NoError(t, err)
	g := buildGraph(t, "xf-hash")

	m := NewManager(store, g)
	cp, err := m.Create(run.RunID, "tok-1", "xf", 5, nil)
	require.NoError(t, err)
	require.Equal(t, model.CurrentCheckpointFormatVersion, cp.FormatVersion)

	latest, err := m.Latest(run.RunID)
	require.NoError(t, err)
	require.Equal(t, cp.CheckpointID, latest.CheckpointID)
}

func TestCanResumeRejectsChangedConfigHash(t *testing.T) {
	store := newTestStore(t)
	run, err := store.BeginRun("cfg", "v1", nil)
	require.NoError(t, err)
	g := buildGraph(t, "xf-hash-v1")

	m := NewManager(store, g)
	_, err = m.Create(run.RunID, "tok-1", "xf", 5, nil)
	require.NoError(t, err)

	rm := NewRecoveryManager(store)
	result, err := rm.CanResume(run.RunID, g)
	require.NoError(t, err)
	require.True(t, result.CanResume)

	drifted := buildGraph(t, "xf-hash-v2")
	result, err = rm.CanResume(run.RunID, drifted)
	require.NoError(t, err)
	require.False(t, result.CanResume)
}

func TestCanResumeRejectsMissingCheckpoint(t *testing.T) {
	store := newTestStore(t)
	run, err := store.BeginRun("cfg", "v1", nil)
	require.NoError(t, err)
	g := buildGraph(t, "xf-hash")

	rm := NewRecoveryManager(store)
	result, err := rm.CanResume(run.RunID, g)
	require.NoError(t, err)
	require.False(t, result.CanResume)
}

func TestGetUnprocessedRowsFiltersByRowIndex(t *testing.T) {
	store := newTestStore(t)
	run, err := store.BeginRun("cfg", "v1", nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := store.CreateRow(run.RunID, landscape.RowSpec{SourceNodeID: "src", RowIndex: i})
		require.NoError(t, err)
	}

	cp := &model.Checkpoint{RunID: run.RunID, SequenceNumber: 2}
	rows, err := GetUnprocessedRows(store, run.RunID, cp)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, 3, rows[0].RowIndex)
	require.Equal(t, 4, rows[1].RowIndex)
}

func TestHandleIncompleteBatchesFailsExecutingAndReturnsMembers(t *testing.T) {
	store := newTestStore(t)
	run, err := store.BeginRun("cfg", "v1", nil)
	require.NoError(t, err)
	row, err := store.CreateRow(run.RunID, landscape.RowSpec{SourceNodeID: "agg", RowIndex: 0})
	require.NoError(t, err)
	tok, err := store.CreateToken(landscape.TokenSpec{RowID: row.RowID})
	require.NoError(t, err)

	batch := &model.Batch{RunID: run.RunID, NodeID: "agg", Status: model.BatchDraft}
	require.NoError(t, store.CreateBatch(batch))
	require.NoError(t, store.AddBatchMember(model.BatchMember{BatchID: batch.BatchID, TokenID: tok.TokenID, Ordinal: 0}))
	require.NoError(t, store.CompleteBatch(batch.BatchID, model.BatchExecuting))

	replay, err := HandleIncompleteBatches(store, run.RunID)
	require.NoError(t, err)
	require.Len(t, replay, 1)
	require.Equal(t, tok.TokenID, replay[0].TokenID)

	got, err := store.GetBatch(batch.BatchID)
	require.NoError(t, err)
	require.Equal(t, model.BatchFailed, got.Status)
}
