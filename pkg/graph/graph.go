// Package graph implements the execution graph: a labeled
// multi-digraph of pipeline nodes and the typed edges connecting
// them, plus the topology-hashing used to validate checkpoint
// compatibility across runs.
package graph

import (
	"fmt"
	"sort"

	"github.com/cuemby/landscape/pkg/canon"
	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/schema"
)

// NodeInfo is one node's static description in the graph, including
// its pre-computed output schema contract (if any) so edge
// compatibility validation sees computed, not raw, guarantees.
type NodeInfo struct {
	ID                 string
	NodeType           model.NodeType
	PluginName         string
	ConfigHash         string
	OutputSchemaConfig *schema.Contract
}

// EdgeInfo is one directed, labeled connection.
type EdgeInfo struct {
	From  string
	To    string
	Label string
	Mode  model.EdgeMode
}

// Graph is a labeled multi-digraph keyed by node id.
type Graph struct {
	nodes map[string]NodeInfo
	order []string
	edges []EdgeInfo

	out map[string][]EdgeInfo
	in  map[string][]EdgeInfo
}

// New constructs an empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]NodeInfo),
		out:   make(map[string][]EdgeInfo),
		in:    make(map[string][]EdgeInfo),
	}
}

// AddNode registers a node. Adding the same id twice is an error.
func (g *Graph) AddNode(info NodeInfo) error {
	if _, exists := g.nodes[info.ID]; exists {
		return fmt.Errorf("graph: node %q already registered", info.ID)
	}
	g.nodes[info.ID] = info
	g.order = append(g.order, info.ID)
	return nil
}

// AddEdge connects two already-registered nodes under label, which
// must be unique per (from, label) pair.
func (g *Graph) AddEdge(from, to, label string, mode model.EdgeMode) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("graph: unknown source node %q", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("graph: unknown destination node %q", to)
	}
	if label == "" {
		label = "continue"
	}
	for _, e := range g.out[from] {
		if e.Label == label {
			return fmt.Errorf("graph: duplicate label %q on edges from %q", label, from)
		}
	}
	e := EdgeInfo{From: from, To: to, Label: label, Mode: mode}
	g.edges = append(g.edges, e)
	g.out[from] = append(g.out[from], e)
	g.in[to] = append(g.in[to], e)
	return nil
}

// Node returns the NodeInfo for id.
func (g *Graph) Node(id string) (NodeInfo, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// OutEdges returns the edges leaving id, in the order they were added.
func (g *Graph) OutEdges(id string) []EdgeInfo {
	return g.out[id]
}

// InEdges returns the edges entering id, in the order they were added.
func (g *Graph) InEdges(id string) []EdgeInfo {
	return g.in[id]
}

// Nodes returns every registered node id in registration order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// effectiveGuarantees returns the set of field names a node guarantees
// about the rows on its outbound edges: its own OutputSchemaConfig if
// present, otherwise the union of its upstream nodes' effective
// guarantees (walking through nodes like gates that have no output
// schema of their own, per spec §4.F).
func (g *Graph) effectiveGuarantees(id string, visiting map[string]bool) (map[string]bool, error) {
	if visiting[id] {
		return nil, fmt.Errorf("graph: cycle detected while resolving guarantees at %q", id)
	}
	visiting[id] = true
	defer delete(visiting, id)

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("graph: unknown node %q", id)
	}
	if n.OutputSchemaConfig != nil {
		out := make(map[string]bool, len(n.OutputSchemaConfig.Fields))
		for _, f := range n.OutputSchemaConfig.Fields {
			out[f.NormalizedName] = true
		}
		return out, nil
	}
	out := make(map[string]bool)
	for _, e := range g.in[id] {
		upstream, err := g.effectiveGuarantees(e.From, visiting)
		if err != nil {
			return nil, err
		}
		for f := range upstream {
			out[f] = true
		}
	}
	return out, nil
}

// ValidateEdgeCompatibility checks that for every edge, the effective
// guarantees of the source node include every required field declared
// by the destination node's own output schema (spec §4.F). Returns the
// first incompatibility found.
func (g *Graph) ValidateEdgeCompatibility() error {
	for _, e := range g.edges {
		guarantees, err := g.effectiveGuarantees(e.From, map[string]bool{})
		if err != nil {
			return err
		}
		to := g.nodes[e.To]
		if to.OutputSchemaConfig == nil {
			continue
		}
		for _, f := range to.OutputSchemaConfig.RequiredFields() {
			if !guarantees[f] {
				return fmt.Errorf("graph: edge %s->%s (%s) violates schema: %q is required by %q but not guaranteed upstream", e.From, e.To, e.Label, f, e.To)
			}
		}
	}
	return nil
}

// upstreamSubgraph returns, in deterministic order, every node and
// edge reachable by reverse traversal from id (inclusive of id).
func (g *Graph) upstreamSubgraph(id string) ([]string, []EdgeInfo) {
	seenNodes := map[string]bool{id: true}
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.in[cur] {
			if !seenNodes[e.From] {
				seenNodes[e.From] = true
				queue = append(queue, e.From)
			}
		}
	}
	nodes := make([]string, 0, len(seenNodes))
	for n := range seenNodes {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	var edges []EdgeInfo
	for _, e := range g.edges {
		if seenNodes[e.From] && seenNodes[e.To] {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].Label < edges[j].Label
	})
	return nodes, edges
}

func topologyPayload(nodeIDs []string, nodes map[string]NodeInfo, edges []EdgeInfo) map[string]any {
	nodeList := make([]any, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		n := nodes[id]
		nodeList = append(nodeList, map[string]any{
			"id":          n.ID,
			"node_type":   string(n.NodeType),
			"plugin_name": n.PluginName,
			"config_hash": n.ConfigHash,
		})
	}
	edgeList := make([]any, 0, len(edges))
	for _, e := range edges {
		edgeList = append(edgeList, map[string]any{
			"from":  e.From,
			"to":    e.To,
			"label": e.Label,
			"mode":  string(e.Mode),
		})
	}
	return map[string]any{"nodes": nodeList, "edges": edgeList}
}

// ComputeUpstreamTopologyHash hashes the subgraph reachable by reverse
// traversal from nodeID: every node's (id, node_type, plugin_name,
// config hash) and every edge's (from, to, label, mode). Two nodes
// connected by parallel edges with different labels hash distinctly
// because the label is part of each edge's payload.
func (g *Graph) ComputeUpstreamTopologyHash(nodeID string) (string, error) {
	if _, ok := g.nodes[nodeID]; !ok {
		return "", fmt.Errorf("graph: unknown node %q", nodeID)
	}
	nodeIDs, edges := g.upstreamSubgraph(nodeID)
	return canon.Hash(topologyPayload(nodeIDs, g.nodes, edges))
}

// ComputeFullTopologyHash hashes the entire graph, for operators who
// choose "one run, one config" discipline regardless of checkpoint
// position.
func (g *Graph) ComputeFullTopologyHash() (string, error) {
	nodeIDs := append([]string(nil), g.order...)
	sort.Strings(nodeIDs)
	edges := append([]EdgeInfo(nil), g.edges...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].To != edges[j].To {
			return edges[i].To < edges[j].To
		}
		return edges[i].Label < edges[j].Label
	})
	return canon.Hash(topologyPayload(nodeIDs, g.nodes, edges))
}
