package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/landscape/pkg/canon"
	"github.com/cuemby/landscape/pkg/events"
	"github.com/cuemby/landscape/pkg/graph"
	"github.com/cuemby/landscape/pkg/landscape/boltdb"
	"github.com/cuemby/landscape/pkg/log"
	"github.com/cuemby/landscape/pkg/metrics"
	"github.com/cuemby/landscape/pkg/model"
	"github.com/cuemby/landscape/pkg/orchestrator"
	"github.com/cuemby/landscape/pkg/payload"
	"github.com/cuemby/landscape/pkg/plugin"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the demo JSON-lines pipeline once, start to finish",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("input", "-", "input path, or \"-\" for stdin (JSON-lines)")
	runCmd.Flags().String("output", "-", "output path, or \"-\" for stdout (JSON-lines)")
	runCmd.Flags().String("filter", "", "optional gate expression (spec §4.G); rows failing it are discarded")
	runCmd.Flags().Int("checkpoint-every", 0, "create a checkpoint after this many source rows (0 disables)")
}

// buildPipeline wires the demo graph: source -> [optional filter gate
// -> matched/dropped] -> sink. It is intentionally the only topology
// this binary knows how to run, since pipeline-definition loading is
// out of scope (spec.md §1 Non-goals).
func buildPipeline(inputPath, outputPath, filterExpr string, checkpointEvery int) (*orchestrator.PipelineConfig, error) {
	g := graph.New()
	registry := plugin.NewRegistry()

	src := &jsonlSource{path: inputPath, onSuccess: "continue", onFailure: "discard_sink"}
	sink := &jsonlSink{path: outputPath}
	dropped := &discardSink{}

	registry.RegisterSource("jsonl_source", src)
	registry.RegisterSink("jsonl_sink", sink)
	registry.RegisterSink("discard_sink", dropped)

	if err := g.AddNode(graph.NodeInfo{ID: "source", NodeType: model.NodeTypeSource, PluginName: "jsonl_source"}); err != nil {
		return nil, err
	}
	if err := g.AddNode(graph.NodeInfo{ID: "dropped", NodeType: model.NodeTypeSink, PluginName: "discard_sink"}); err != nil {
		return nil, err
	}

	nodes := []orchestrator.NodeRegistration{
		{NodeID: "source", PluginName: "jsonl_source", PluginVersion: "1.0.0", NodeType: model.NodeTypeSource, Determinism: model.Deterministic},
		{NodeID: "dropped", PluginName: "discard_sink", PluginVersion: "1.0.0", NodeType: model.NodeTypeSink, Determinism: model.Deterministic},
	}
	var edges []orchestrator.EdgeRegistration

	if filterExpr != "" {
		gatePlugin := &exprGate{expression: filterExpr}
		registry.RegisterGate("filter_gate", gatePlugin)
		if err := g.AddNode(graph.NodeInfo{ID: "filter", NodeType: model.NodeTypeGate, PluginName: "filter_gate"}); err != nil {
			return nil, err
		}
		if err := g.AddNode(graph.NodeInfo{ID: "sink", NodeType: model.NodeTypeSink, PluginName: "jsonl_sink"}); err != nil {
			return nil, err
		}
		if err := g.AddEdge("source", "filter", "continue", model.EdgeMove); err != nil {
			return nil, err
		}
		if err := g.AddEdge("filter", "sink", "matched", model.EdgeMove); err != nil {
			return nil, err
		}
		if err := g.AddEdge("filter", "dropped", "dropped", model.EdgeMove); err != nil {
			return nil, err
		}
		nodes = append(nodes,
			orchestrator.NodeRegistration{NodeID: "filter", PluginName: "filter_gate", PluginVersion: "1.0.0", NodeType: model.NodeTypeGate, Determinism: model.Deterministic},
			orchestrator.NodeRegistration{NodeID: "sink", PluginName: "jsonl_sink", PluginVersion: "1.0.0", NodeType: model.NodeTypeSink, Determinism: model.IOWrite},
		)
		edges = append(edges,
			orchestrator.EdgeRegistration{From: "source", To: "filter", Label: "continue", Mode: model.EdgeMove},
			orchestrator.EdgeRegistration{From: "filter", To: "sink", Label: "matched", Mode: model.EdgeMove},
			orchestrator.EdgeRegistration{From: "filter", To: "dropped", Label: "dropped", Mode: model.EdgeMove},
		)
	} else {
		if err := g.AddNode(graph.NodeInfo{ID: "sink", NodeType: model.NodeTypeSink, PluginName: "jsonl_sink"}); err != nil {
			return nil, err
		}
		if err := g.AddEdge("source", "sink", "continue", model.EdgeMove); err != nil {
			return nil, err
		}
		if err := g.AddEdge("source", "dropped", "dropped", model.EdgeMove); err != nil {
			return nil, err
		}
		nodes = append(nodes, orchestrator.NodeRegistration{NodeID: "sink", PluginName: "jsonl_sink", PluginVersion: "1.0.0", NodeType: model.NodeTypeSink, Determinism: model.IOWrite})
		edges = append(edges,
			orchestrator.EdgeRegistration{From: "source", To: "sink", Label: "continue", Mode: model.EdgeMove},
			orchestrator.EdgeRegistration{From: "source", To: "dropped", Label: "dropped", Mode: model.EdgeMove},
		)
	}

	configHash, err := canon.Hash(map[string]any{"input": inputPath, "output": outputPath, "filter": filterExpr})
	if err != nil {
		return nil, fmt.Errorf("landscaperun: hash config: %w", err)
	}

	return &orchestrator.PipelineConfig{
		Graph:               g,
		Registry:            registry,
		Nodes:               nodes,
		Edges:               edges,
		SourceNodeID:        "source",
		ConfigHash:          configHash,
		CanonicalVersion:    "sha256-rfc8785-v1",
		CheckpointEveryRows: checkpointEvery,
	}, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	input, _ := cmd.Flags().GetString("input")
	output, _ := cmd.Flags().GetString("output")
	filter, _ := cmd.Flags().GetString("filter")
	checkpointEvery, _ := cmd.Flags().GetInt("checkpoint-every")

	serveMetrics(metricsAddr)
	metrics.RegisterComponent("landscape_store", true, "opened")
	metrics.RegisterComponent("payload_store", true, "opened")

	store, err := boltdb.Open(dataDir)
	if err != nil {
		return fmt.Errorf("landscaperun: open landscape store: %w", err)
	}
	defer store.Close()

	payloads, err := payload.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("landscaperun: open payload store: %w", err)
	}
	defer payloads.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	cfg, err := buildPipeline(input, output, filter, checkpointEvery)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(store, payloads, broker, *cfg)
	if err != nil {
		return fmt.Errorf("landscaperun: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
	defer cancel()

	run, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("landscaperun: run failed: %w", err)
	}
	log.Logger.Info().Str("run_id", run.RunID).Str("status", string(run.Status)).Msg("run complete")
	fmt.Printf("run_id=%s status=%s\n", run.RunID, run.Status)
	return nil
}
