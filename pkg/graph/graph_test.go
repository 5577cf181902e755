package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/schema"
)

func buildLinearGraph(t *testing.T) *Graph {
	t.Helper()
	g := New()
	require.NoError(t, g.AddNode(NodeInfo{ID: "src", NodeType: model.NodeTypeSource, PluginName: "csv_source", ConfigHash: "h1"}))
	require.NoError(t, g.AddNode(NodeInfo{ID: "xform", NodeType: model.NodeTypeTransform, PluginName: "uppercase", ConfigHash: "h2"}))
	require.NoError(t, g.AddNode(NodeInfo{ID: "sink", NodeType: model.NodeTypeSink, PluginName: "file_sink", ConfigHash: "h3"}))
	require.NoError(t, g.AddEdge("src", "xform", "", model.EdgeMove))
	require.NoError(t, g.AddEdge("xform", "sink", "", model.EdgeMove))
	return g
}

func TestAddEdgeRejectsDuplicateLabel(t *testing.T) {
	g := buildLinearGraph(t)
	err := g.AddEdge("src", "xform", "continue", model.EdgeMove)
	assert.Error(t, err)
}

func TestAddEdgeRejectsUnknownNodes(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeInfo{ID: "a"}))
	err := g.AddEdge("a", "missing", "continue", model.EdgeMove)
	assert.Error(t, err)
}

func TestTopologyHashDistinguishesParallelLabels(t *testing.T) {
	g1 := New()
	require.NoError(t, g1.AddNode(NodeInfo{ID: "a", ConfigHash: "h"}))
	require.NoError(t, g1.AddNode(NodeInfo{ID: "b", ConfigHash: "h"}))
	require.NoError(t, g1.AddEdge("a", "b", "true_branch", model.EdgeMove))

	g2 := New()
	require.NoError(t, g2.AddNode(NodeInfo{ID: "a", ConfigHash: "h"}))
	require.NoError(t, g2.AddNode(NodeInfo{ID: "b", ConfigHash: "h"}))
	require.NoError(t, g2.AddEdge("a", "b", "false_branch", model.EdgeMove))

	h1, err := g1.ComputeUpstreamTopologyHash("b")
	require.NoError(t, err)
	h2, err := g2.ComputeUpstreamTopologyHash("b")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestUpstreamTopologyHashOnlyIncludesReachableSubgraph(t *testing.T) {
	g := buildLinearGraph(t)
	require.NoError(t, g.AddNode(NodeInfo{ID: "unrelated", ConfigHash: "zzz"}))

	hBefore, err := g.ComputeUpstreamTopologyHash("xform")
	require.NoError(t, err)

	g2 := buildLinearGraph(t)
	hAfter, err := g2.ComputeUpstreamTopologyHash("xform")
	require.NoError(t, err)

	assert.Equal(t, hBefore, hAfter)
}

func TestValidateEdgeCompatibilityDetectsMissingField(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeInfo{
		ID: "src", NodeType: model.NodeTypeSource,
		OutputSchemaConfig: schema.NewContract(schema.ModeStrict, []schema.FieldContract{
			{NormalizedName: "id", Required: true},
		}, false),
	}))
	require.NoError(t, g.AddNode(NodeInfo{
		ID: "xform", NodeType: model.NodeTypeTransform,
		OutputSchemaConfig: schema.NewContract(schema.ModeStrict, []schema.FieldContract{
			{NormalizedName: "id", Required: true},
			{NormalizedName: "total", Required: true},
		}, false),
	}))
	require.NoError(t, g.AddEdge("src", "xform", "", model.EdgeMove))

	err := g.ValidateEdgeCompatibility()
	assert.Error(t, err)
}

func TestValidateEdgeCompatibilityWalksThroughGateWithNoOwnSchema(t *testing.T) {
	g := New()
	require.NoError(t, g.AddNode(NodeInfo{
		ID: "src",
		OutputSchemaConfig: schema.NewContract(schema.ModeStrict, []schema.FieldContract{
			{NormalizedName: "id", Required: true},
		}, false),
	}))
	require.NoError(t, g.AddNode(NodeInfo{ID: "gate", NodeType: model.NodeTypeGate}))
	require.NoError(t, g.AddNode(NodeInfo{
		ID: "sink",
		OutputSchemaConfig: schema.NewContract(schema.ModeStrict, []schema.FieldContract{
			{NormalizedName: "id", Required: true},
		}, false),
	}))
	require.NoError(t, g.AddEdge("src", "gate", "", model.EdgeMove))
	require.NoError(t, g.AddEdge("gate", "sink", "true", model.EdgeMove))

	assert.NoError(t, g.ValidateEdgeCompatibility())
}
