package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/landscape/pkg/events"
	"github.com/cuemby/landscape/pkg/landscape/boltdb"
	"github.com/cuemby/landscape/pkg/log"
	"github.com/cuemby/landscape/pkg/orchestrator"
	"github.com/cuemby/landscape/pkg/payload"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted run from its latest compatible checkpoint",
	RunE:  runResume,
}

func init() {
	resumeCmd.Flags().String("run-id", "", "run id to resume (required)")
	resumeCmd.Flags().String("input", "-", "input path, or \"-\" for stdin (must match the original run)")
	resumeCmd.Flags().String("output", "-", "output path, or \"-\" for stdout (must match the original run)")
	resumeCmd.Flags().String("filter", "", "gate expression, if the original run used one (topology must match exactly)")
	resumeCmd.Flags().Int("checkpoint-every", 0, "checkpoint cadence to use for the remainder of the run")
	_ = resumeCmd.MarkFlagRequired("run-id")
}

func runResume(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	runID, _ := cmd.Flags().GetString("run-id")
	input, _ := cmd.Flags().GetString("input")
	output, _ := cmd.Flags().GetString("output")
	filter, _ := cmd.Flags().GetString("filter")
	checkpointEvery, _ := cmd.Flags().GetInt("checkpoint-every")

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

	run, err := orch.Resume(ctx, runID)
	if err != nil {
		return fmt.Errorf("landscaperun: resume failed: %w", err)
	}
	log.Logger.Info().Str("run_id", run.RunID).Str("status", string(run.Status)).Msg("resume complete")
	fmt.Printf("run_id=%s status=%s\n", run.RunID, run.Status)
	return nil
}
