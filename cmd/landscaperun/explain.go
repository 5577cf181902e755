package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/landscape/pkg/landscape/boltdb"
)

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Reconstruct a token's or row's full lineage (spec §4.E explain_row/explain)",
	RunE:  runExplain,
}

func init() {
	explainCmd.Flags().String("run-id", "", "run id (required when --row-id is given)")
	explainCmd.Flags().String("row-id", "", "row id to explain (uses ExplainRow)")
	explainCmd.Flags().String("token-id", "", "token id to explain (uses Explain)")
	explainCmd.Flags().String("sink", "", "disambiguating sink name, when a row reached more than one terminal token")
}

func runExplain(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	runID, _ := cmd.Flags().GetString("run-id")
	rowID, _ := cmd.Flags().GetString("row-id")
	tokenID, _ := cmd.Flags().GetString("token-id")
	sink, _ := cmd.Flags().GetString("sink")

	store, err := boltdb.Open(dataDir)
	if err != nil {
		return fmt.Errorf("landscaperun: open landscape store: %w", err)
	}
	defer store.Close()

	var result any
	switch {
	case tokenID != "":
		result, err = store.Explain(tokenID)
	case rowID != "":
		result, err = store.ExplainRow(runID, rowID, sink)
	default:
		return fmt.Errorf("landscaperun: one of --row-id or --token-id is required")
	}
	if err != nil {
		return fmt.Errorf("landscaperun: explain: %w", err)
	}

	b, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("landscaperun: encode lineage: %w", err)
	}
	fmt.Println(string(b))
	return nil
}
