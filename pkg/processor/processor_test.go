package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/landscape"
	"github.com/cuemby/landscape/pkg/landscape/boltdb"
	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/payload"
	"github.com/cuemby/landscape/pkg/plugin"
	"github.com/cuemby/landscape/pkg/schema"
)

func newTestStore(t *testing.T) *boltdb.Store {
	t.Helper()
	s, err := boltdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func freeContract() *schema.Contract {
	return schema.NewContract(schema.ModeFree, nil, false)
}

// fakeTransform doubles a numeric "n" field, or reports an error when
// the row carries fail=true.
type fakeTransform struct {
	plugin.NoopLifecycle
	onError   string
	onSuccess string
	retryable bool
}

func (f *fakeTransform) Name() string                    { return "fake_transform" }
func (f *fakeTransform) Config() map[string]any          { return nil }
func (f *fakeTransform) Determinism() model.Determinism  { return model.Deterministic }
func (f *fakeTransform) PluginVersion() string           { return "1.0.0" }
func (f *fakeTransform) InputSchema() *schema.Contract   { return freeContract() }
func (f *fakeTransform) OutputSchema() *schema.Contract  { return freeContract() }
func (f *fakeTransform) OnError() string                 { return f.onError }
func (f *fakeTransform) OnSuccess() string                { return f.onSuccess }
func (f *fakeTransform) CreatesTokens() bool              { return false }
func (f *fakeTransform) TransformAddsFields() bool        { return false }

func (f *fakeTransform) Process(row map[string]any, ctx *plugin.Context) plugin.TransformResult {
	if fail, _ := row["fail"].(bool); fail {
		return plugin.Error("row marked for failure", f.retryable)
	}
	n, _ := row["n"].(int64)
	out := map[string]any{"n": n * 2}
	return plugin.Success(out, "doubled")
}

type fakeGate struct {
	plugin.NoopLifecycle
	rules     []plugin.GateRule
	onNoMatch string
	mode      model.EdgeMode
}

func (f *fakeGate) Name() string                   { return "fake_gate" }
func (f *fakeGate) Config() map[string]any         { return nil }
func (f *fakeGate) Determinism() model.Determinism { return model.Deterministic }
func (f *fakeGate) PluginVersion() string          { return "1.0.0" }
func (f *fakeGate) Rules() []plugin.GateRule       { return f.rules }
func (f *fakeGate) OnNoMatch() string              { return f.onNoMatch }
func (f *fakeGate) DefaultMode() model.EdgeMode    { return f.mode }

type fakeSink struct {
	plugin.NoopLifecycle
	writes [][]map[string]any
}

func (f *fakeSink) Name() string                         { return "fake_sink" }
func (f *fakeSink) Config() map[string]any               { return nil }
func (f *fakeSink) Determinism() model.Determinism       { return model.Deterministic }
func (f *fakeSink) PluginVersion() string                { return "1.0.0" }
func (f *fakeSink) InputSchema() *schema.Contract        { return freeContract() }
func (f *fakeSink) Idempotent() bool                     { return true }
func (f *fakeSink) SupportsResume() bool                 { return false }
func (f *fakeSink) ConfigureForResume(*plugin.Context) error                { return nil }
func (f *fakeSink) SetResumeFieldResolution(map[string]string)              {}
func (f *fakeSink) ValidateOutputTarget(*plugin.Context) (plugin.TargetValidation, error) {
	return plugin.TargetValidation{Matches: true}, nil
}
func (f *fakeSink) Flush(*plugin.Context) error { return nil }
func (f *fakeSink) Write(rows []map[string]any, ctx *plugin.Context) (plugin.ArtifactDescriptor, error) {
	f.writes = append(f.writes, rows)
	return plugin.ArtifactDescriptor{ArtifactType: "memory", PathOrURI: "mem://test", ContentHash: "h", SizeBytes: 1}, nil
}

// setup builds a store-backed run with nodeIDs already registered, and
// returns a Processor wired against the given graph/registry.
func setup(t *testing.T, g *graph.Graph, registry *plugin.Registry, aggCfg map[string]AggregationConfig, coCfg map[string]CoalesceConfig) (*Processor, *boltdb.Store, *model.Run) {
	t.Helper()
	store := newTestStore(t)
	run, err := store.BeginRun("cfg-hash", "v1", nil)
	require.NoError(t, err)

	for _, id := range g.Nodes() {
		info, _ := g.Node(id)
		_, err := store.RegisterNode(run.RunID, landscape.NodeSpec{
			NodeID: id, PluginName: info.PluginName, PluginVersion: "1.0.0",
			NodeType: info.NodeType, Determinism: model.Deterministic, ConfigHash: "h",
		})
		require.NoError(t, err)
	}

	p, err := New(Config{
		RunID: run.RunID, Store: store, Payloads: payload.NewMemStore(),
		Graph: g, Registry: registry,
		AggregationConfigs: aggCfg, CoalesceConfigs: coCfg,
	})
	require.NoError(t, err)
	return p, store, run
}

func seedToken(t *testing.T, store *boltdb.Store, run *model.Run, sourceNodeID string, idx int, data map[string]any) *model.Token {
	t.Helper()
	row, err := store.CreateRow(run.RunID, landscape.RowSpec{SourceNodeID: sourceNodeID, RowIndex: idx, Data: data})
	require.NoError(t, err)
	tok, err := store.CreateToken(landscape.TokenSpec{RowID: row.RowID})
	require.NoError(t, err)
	return tok
}

func TestProcessTransformSuccessRoutesToSink(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "src", NodeType: model.NodeTypeSource, PluginName: "src"}))
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "xf", NodeType: model.NodeTypeTransform, PluginName: "fake_transform"}))
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "sink", NodeType: model.NodeTypeSink, PluginName: "fake_sink"}))
	require.NoError(t, g.AddEdge("xf", "sink", "continue", model.EdgeMove))

	registry := plugin.NewRegistry()
	xf := &fakeTransform{onSuccess: "continue"}
	sink := &fakeSink{}
	registry.RegisterTransform("fake_transform", xf)
	registry.RegisterSink("fake_sink", sink)

	p, store, run := setup(t, g, registry, nil, nil)
	tok := seedToken(t, store, run, "src", 0, nil)
	p.SeedRow(tok.TokenID, map[string]any{"n": int64(21)}, freeContract())

	require.NoError(t, p.Process(context.Background(), tok, "xf"))
	require.Len(t, sink.writes, 1)
	require.Equal(t, int64(42), sink.writes[0][0]["n"])

	outcome, err := store.GetTokenOutcome(tok.TokenID)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeCompleted, outcome.Outcome)
}

func TestProcessTransformErrorRoutesToErrorSink(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "src", NodeType: model.NodeTypeSource, PluginName: "src"}))
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "xf", NodeType: model.NodeTypeTransform, PluginName: "fake_transform"}))
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "errsink", NodeType: model.NodeTypeSink, PluginName: "fake_err_sink"}))

	registry := plugin.NewRegistry()
	xf := &fakeTransform{onError: "fake_err_sink", onSuccess: "continue"}
	errSink := &fakeSink{}
	registry.RegisterTransform("fake_transform", xf)
	registry.RegisterSink("fake_err_sink", errSink)

	p, store, run := setup(t, g, registry, nil, nil)
	tok := seedToken(t, store, run, "src", 0, nil)
	p.SeedRow(tok.TokenID, map[string]any{"fail": true}, freeContract())

	require.NoError(t, p.Process(context.Background(), tok, "xf"))
	require.Len(t, errSink.writes, 1)
}

func TestProcessGateRoutesFirstMatchUnderMove(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "gate", NodeType: model.NodeTypeGate, PluginName: "fake_gate"}))
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "sinkA", NodeType: model.NodeTypeSink, PluginName: "sink_a"}))
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "sinkB", NodeType: model.NodeTypeSink, PluginName: "sink_b"}))
	require.NoError(t, g.AddEdge("gate", "sinkA", "to_a", model.EdgeMove))
	require.NoError(t, g.AddEdge("gate", "sinkB", "to_b", model.EdgeMove))

	registry := plugin.NewRegistry()
	gt := &fakeGate{
		rules: []plugin.GateRule{{EdgeLabel: "to_a", ExprSrc: `row["n"] > 10`}, {EdgeLabel: "to_b", ExprSrc: `true`}},
		mode:  model.EdgeMove,
	}
	sinkA, sinkB := &fakeSink{}, &fakeSink{}
	registry.RegisterGate("fake_gate", gt)
	registry.RegisterSink("sink_a", sinkA)
	registry.RegisterSink("sink_b", sinkB)

	p, store, run := setup(t, g, registry, nil, nil)
	tok := seedToken(t, store, run, "gate", 0, nil)
	p.SeedRow(tok.TokenID, map[string]any{"n": int64(99)}, freeContract())

	require.NoError(t, p.Process(context.Background(), tok, "gate"))
	require.Len(t, sinkA.writes, 1)
	require.Len(t, sinkB.writes, 0)
}

func TestProcessAggregationFlushesOnCountTrigger(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "agg", NodeType: model.NodeTypeAggregation, PluginName: "fake_batch"}))
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "sink", NodeType: model.NodeTypeSink, PluginName: "fake_sink"}))
	require.NoError(t, g.AddEdge("agg", "sink", "out", model.EdgeMove))

	registry := plugin.NewRegistry()
	registry.RegisterBatchTransform("fake_batch", &fakeBatchTransform{})
	sink := &fakeSink{}
	registry.RegisterSink("fake_sink", sink)

	cfg := map[string]AggregationConfig{"agg": {CountTrigger: 2, OutputMode: OutputPassthrough, NextEdgeLabel: "out"}}
	p, store, run := setup(t, g, registry, cfg, nil)

	tok1 := seedToken(t, store, run, "agg", 0, nil)
	p.SeedRow(tok1.TokenID, map[string]any{"n": int64(1)}, freeContract())
	require.NoError(t, p.Process(context.Background(), tok1, "agg"))
	require.Len(t, sink.writes, 0)

	tok2 := seedToken(t, store, run, "agg", 1, nil)
	p.SeedRow(tok2.TokenID, map[string]any{"n": int64(2)}, freeContract())
	require.NoError(t, p.Process(context.Background(), tok2, "agg"))
	require.Len(t, sink.writes, 2)
}

type fakeBatchTransform struct{ plugin.NoopLifecycle }

func (f *fakeBatchTransform) Name() string                   { return "fake_batch" }
func (f *fakeBatchTransform) Config() map[string]any         { return nil }
func (f *fakeBatchTransform) Determinism() model.Determinism { return model.Deterministic }
func (f *fakeBatchTransform) PluginVersion() string          { return "1.0.0" }
func (f *fakeBatchTransform) InputSchema() *schema.Contract  { return freeContract() }
func (f *fakeBatchTransform) OutputSchema() *schema.Contract { return freeContract() }
func (f *fakeBatchTransform) OnError() string                { return "" }
func (f *fakeBatchTransform) OnSuccess() string               { return "out" }
func (f *fakeBatchTransform) Process(rows []*schema.PipelineRow, ctx *plugin.Context) plugin.TransformResult {
	return plugin.Success(nil, "ack")
}

func TestProcessCoalesceRequireAllMergesBranches(t *testing.T) {
	g := graph.New()
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "join", NodeType: model.NodeTypeCoalesce, PluginName: "join"}))
	require.NoError(t, g.AddNode(graph.NodeInfo{ID: "sink", NodeType: model.NodeTypeSink, PluginName: "fake_sink"}))
	require.NoError(t, g.AddEdge("join", "sink", "out", model.EdgeMove))

	registry := plugin.NewRegistry()
	sink := &fakeSink{}
	registry.RegisterSink("fake_sink", sink)

	cfg := map[string]CoalesceConfig{"join": {Policy: CoalesceRequireAll, ExpectedParents: 2, MergeStrategy: MergeUnion, NextEdgeLabel: "out"}}
	p, store, run := setup(t, g, registry, nil, cfg)

	row, err := store.CreateRow(run.RunID, landscape.RowSpec{SourceNodeID: "join", RowIndex: 0})
	require.NoError(t, err)
	tokA, err := store.CreateToken(landscape.TokenSpec{RowID: row.RowID, Branch: "a"})
	require.NoError(t, err)
	tokB, err := store.CreateToken(landscape.TokenSpec{RowID: row.RowID, Branch: "b"})
	require.NoError(t, err)

	p.SeedRow(tokA.TokenID, map[string]any{"a": int64(1)}, freeContract())
	p.SeedRow(tokB.TokenID, map[string]any{"b": int64(2)}, freeContract())

	require.NoError(t, p.Process(context.Background(), tokA, "join"))
	require.Len(t, sink.writes, 0)
	require.NoError(t, p.Process(context.Background(), tokB, "join"))
	require.Len(t, sink.writes, 1)
	require.Equal(t, int64(1), sink.writes[0][0]["a"])
	require.Equal(t, int64(2), sink.writes[0][0]["b"])
}
