package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/landscape/pkg/canon"
	"github.com/cuemby/landscape/pkg/checkpoint"
	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/landscape/boltdb"
	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/payload"
	"github.com/cuemby/landscape/pkg/plugin"
	"github.com/cuemby/landscape/pkg/processor"
	"github.com/cuemby/landscape/pkg/schema"
)

func freeContract() *schema.Contract {
	return schema.NewContract(schema.ModeFree, nil, false)
}

// fakeSource streams a fixed set of rows, with one optionally
// quarantined by the "invalid" marker field.
type fakeSource struct {
	plugin.NoopLifecycle
	rows        []map[string]any
	destination string
}

func (f *fakeSource) Name() string                    { return "fake_source" }
func (f *fakeSource) Config() map[string]any          { return nil }
func (f *fakeSource) Determinism() model.Determinism  { return model.Deterministic }
func (f *fakeSource) PluginVersion() string           { return "1.0.0" }
func (f *fakeSource) OutputSchema() *schema.Contract  { return freeContract() }
func (f *fakeSource) OnSuccess() string               { return "continue" }
func (f *fakeSource) OnValidationFailure() string     { return f.destination }
func (f *fakeSource) GetFieldResolution() (*plugin.FieldResolution, bool) { return nil, false }
func (f *fakeSource) GetSchemaContract() (*schema.Contract, bool)         { return freeContract(), true }

func (f *fakeSource) Load(ctx *plugin.Context) (<-chan plugin.SourceRow, error) {
	ch := make(chan plugin.SourceRow, len(f.rows))
	for _, row := range f.rows {
		if invalid, _ := row["invalid"].(bool); invalid {
			ch <- plugin.QuarantinedRow(row, f.destination, errBadRow)
			continue
		}
		ch <- plugin.ValidRow(row)
	}
	close(ch)
	return ch, nil
}

var errBadRow = fakeErr("row failed validation")

type fakeErr string

func (e fakeErr) Error() string { return string(e) }

type fakeSink struct {
	plugin.NoopLifecycle
	writes [][]map[string]any
}

func (f *fakeSink) Name() string                  { return "fake_sink" }
func (f *fakeSink) Config() map[string]any        { return nil }
func (f *fakeSink) Determinism() model.Determinism { return model.Deterministic }
func (f *fakeSink) PluginVersion() string         { return "1.0.0" }
func (f *fakeSink) InputSchema() *schema.Contract { return freeContract() }
func (f *fakeSink) Idempotent() bool              { return true }
func (f *fakeSink) SupportsResume() bool          { return true }
func (f *fakeSink) ConfigureForResume(*plugin.Context) error   { return nil }
func (f *fakeSink) SetResumeFieldResolution(map[string]string) {}
func (f *fakeSink) ValidateOutputTarget(*plugin.Context) (plugin.TargetValidation, error) {
	return plugin.TargetValidation{Matches: true}, nil
}
func (f *fakeSink) Flush(*plugin.Context) error { return nil }
func (f *fakeSink) Write(rows []map[string]any, ctx *plugin.Context) (plugin.ArtifactDescriptor, error) {
	f.writes = append(f.writes, rows)
	return plugin.ArtifactDescriptor{ArtifactType: "memory", PathOrURI: "mem://test", ContentHash: "h", SizeBytes: 1}, nil
}

func simplePipeline() (*graph.Graph, *plugin.Registry, *fakeSource, *fakeSink) {
	g := graph.New()
	_ = g.AddNode(graph.NodeInfo{ID: "src", NodeType: model.NodeTypeSource, PluginName: "fake_source"})
	_ = g.AddNode(graph.NodeInfo{ID: "sink", NodeType: model.NodeTypeSink, PluginName: "fake_sink"})
	_ = g.AddEdge("src", "sink", "continue", model.EdgeMove)

	registry := plugin.NewRegistry()
	src := &fakeSource{rows: []map[string]any{
		{"n": int64(1)},
		{"n": int64(2)},
		{"n": int64(3)},
	}}
	sink := &fakeSink{}
	registry.RegisterSource("fake_source", src)
	registry.RegisterSink("fake_sink", sink)
	return g, registry, src, sink
}

func baseConfig(g *graph.Graph, registry *plugin.Registry) PipelineConfig {
	return PipelineConfig{
		Graph:            g,
		Registry:         registry,
		SourceNodeID:     "src",
		ConfigHash:       "cfg-hash",
		CanonicalVersion: "v1",
		Nodes: []NodeRegistration{
			{NodeID: "src", PluginName: "fake_source", PluginVersion: "1.0.0", NodeType: model.NodeTypeSource, Determinism: model.Deterministic, ConfigHash: "h1"},
			{NodeID: "sink", PluginName: "fake_sink", PluginVersion: "1.0.0", NodeType: model.NodeTypeSink, Determinism: model.Deterministic, ConfigHash: "h2"},
		},
		Edges: []EdgeRegistration{
			{From: "src", To: "sink", Label: "continue", Mode: model.EdgeMove},
		},
	}
}

func TestRunCompletesAllRowsToSink(t *testing.T) {
	store, err := boltdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	g, registry, _, sink := simplePipeline()
	cfg := baseConfig(g, registry)

	o, err := New(store, payload.NewMemStore(), nil, cfg)
	require.NoError(t, err)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, run.Status)
	require.Len(t, sink.writes, 3)
}

func TestRunQuarantinesInvalidRowsToDiscard(t *testing.T) {
	store, err := boltdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	g, registry, src, sink := simplePipeline()
	src.rows = []map[string]any{
		{"n": int64(1)},
		{"invalid": true},
	}
	src.destination = "discard"
	cfg := baseConfig(g, registry)

	o, err := New(store, payload.NewMemStore(), nil, cfg)
	require.NoError(t, err)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, run.Status)
	require.Len(t, sink.writes, 1)

	dump, err := store.Dump(run.RunID)
	require.NoError(t, err)
	require.Len(t, dump.ValidationErrors, 1)

	var quarantined int
	for _, o := range dump.TokenOutcomes {
		if o.Outcome == model.OutcomeQuarantined {
			quarantined++
		}
	}
	require.Equal(t, 1, quarantined)
}

// TestResumeReplaysOnlyRowsAfterCheckpoint simulates a crash: row 0 is
// fully processed and checkpointed, rows 1 and 2 were already written
// to the landscape store (as if buffered ahead of the checkpoint
// boundary) but never advanced into the graph. Resume must replay
// exactly those two rows and leave row 0 untouched.
func TestResumeReplaysOnlyRowsAfterCheckpoint(t *testing.T) {
	store, err := boltdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	payloads := payload.NewMemStore()
	ctx := context.Background()

	g, registry, src, sink := simplePipeline()
	cfg := baseConfig(g, registry)
	cfg.CheckpointEveryRows = 1

	o, err := New(store, payloads, nil, cfg)
	require.NoError(t, err)

	run, err := store.BeginRun(cfg.ConfigHash, cfg.CanonicalVersion, nil)
	require.NoError(t, err)
	o.runID = run.RunID
	edgeIDs, err := o.registerTopology(run.RunID)
	require.NoError(t, err)
	p, err := processor.New(o.processorConfig(run.RunID, edgeIDs))
	require.NoError(t, err)
	o.proc = p
	o.cm = checkpoint.NewManager(store, g)

	contract := freeContract()
	require.NoError(t, o.ingestRow(ctx, run.RunID, src, contract, map[string]any{"n": int64(1)}, 0))
	require.Len(t, sink.writes, 1)
	require.NoError(t, o.maybeCheckpoint(run.RunID, 0))

	for idx, n := range []int64{2, 3} {
		data := map[string]any{"n": n}
		encoded, err := canon.Canonicalize(data)
		require.NoError(t, err)
		ref, err := payloads.Put(encoded)
		require.NoError(t, err)
		rowRec, err := store.CreateRow(run.RunID, landscape.RowSpec{SourceNodeID: "src", RowIndex: idx + 1, Data: data, PayloadRef: ref})
		require.NoError(t, err)
		_, err = store.CreateToken(landscape.TokenSpec{RowID: rowRec.RowID})
		require.NoError(t, err)
	}

	o2, err := New(store, payloads, nil, cfg)
	require.NoError(t, err)
	resumedRun, err := o2.Resume(ctx, run.RunID)
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, resumedRun.Status)
	require.Len(t, sink.writes, 3)
}

// TestResumeRejectsTopologyMismatch confirms that inserting a new node
// between the source and the checkpointed node invalidates an
// outstanding checkpoint instead of silently resuming past it.
func TestResumeRejectsTopologyMismatch(t *testing.T) {
	store, err := boltdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	payloads := payload.NewMemStore()
	ctx := context.Background()

	g, registry, src, _ := simplePipeline()
	cfg := baseConfig(g, registry)
	cfg.CheckpointEveryRows = 1

	o, err := New(store, payloads, nil, cfg)
	require.NoError(t, err)
	run, err := store.BeginRun(cfg.ConfigHash, cfg.CanonicalVersion, nil)
	require.NoError(t, err)
	o.runID = run.RunID
	edgeIDs, err := o.registerTopology(run.RunID)
	require.NoError(t, err)
	p, err := processor.New(o.processorConfig(run.RunID, edgeIDs))
	require.NoError(t, err)
	o.proc = p
	o.cm = checkpoint.NewManager(store, g)

	contract := freeContract()
	require.NoError(t, o.ingestRow(ctx, run.RunID, src, contract, map[string]any{"n": int64(1)}, 0))
	require.NoError(t, o.maybeCheckpoint(run.RunID, 0))

	// Rebuild the graph with an extra transform spliced between source
	// and sink: the upstream topology of "sink" now differs from what
	// was hashed into the checkpoint.
	g2 := graph.New()
	require.NoError(t, g2.AddNode(graph.NodeInfo{ID: "src", NodeType: model.NodeTypeSource, PluginName: "fake_source"}))
	require.NoError(t, g2.AddNode(graph.NodeInfo{ID: "xf", NodeType: model.NodeTypeTransform, PluginName: "fake_transform"}))
	require.NoError(t, g2.AddNode(graph.NodeInfo{ID: "sink", NodeType: model.NodeTypeSink, PluginName: "fake_sink"}))
	require.NoError(t, g2.AddEdge("src", "xf", "continue", model.EdgeMove))
	require.NoError(t, g2.AddEdge("xf", "sink", "continue", model.EdgeMove))

	cfg2 := cfg
	cfg2.Graph = g2
	o2, err := New(store, payloads, nil, cfg2)
	require.NoError(t, err)
	_, err = o2.Resume(ctx, run.RunID)
	require.Error(t, err)
	ee, ok := model.AsEngineError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrTopologyMismatch, ee.Kind)
}
