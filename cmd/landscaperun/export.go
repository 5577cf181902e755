package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/landscape/pkg/landscape/boltdb"
	"github.com/cuemby/landscape/pkg/landscape/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run's full audit trail as JSON or CSV (spec §6)",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().String("run-id", "", "run id to export (required)")
	exportCmd.Flags().String("format", "json", "json (single file) or csv (one directory, one file per record type)")
	exportCmd.Flags().String("out", "", "output path: a file for json, a directory for csv (required)")
	exportCmd.Flags().Bool("sign", false, "HMAC-sign the export using LANDSCAPE_EXPORT_SIGNING_KEY")
	_ = exportCmd.MarkFlagRequired("run-id")
	_ = exportCmd.MarkFlagRequired("out")
}

func runExport(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	runID, _ := cmd.Flags().GetString("run-id")
	format, _ := cmd.Flags().GetString("format")
	out, _ := cmd.Flags().GetString("out")
	sign, _ := cmd.Flags().GetBool("sign")

	store, err := boltdb.Open(dataDir)
	if err != nil {
		return fmt.Errorf("landscaperun: open landscape store: %w", err)
	}
	defer store.Close()

	dump, err := store.Dump(runID)
	if err != nil {
		return fmt.Errorf("landscaperun: dump run %s: %w", runID, err)
	}

	switch format {
	case "json":
		if err := export.WriteJSON(dump, out, sign); err != nil {
			return fmt.Errorf("landscaperun: export json: %w", err)
		}
	case "csv":
		if err := export.WriteCSV(dump, out, sign); err != nil {
			return fmt.Errorf("landscaperun: export csv: %w", err)
		}
	default:
		return fmt.Errorf("landscaperun: unknown export format %q (want json or csv)", format)
	}
	fmt.Printf("exported run %s to %s (%s)\n", runID, out, format)
	return nil
}
