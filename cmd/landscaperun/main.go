// Command landscaperun is a thin entrypoint over the landscape
// pipeline engine. Per spec.md's Non-goals it does not parse YAML
// pipeline configuration or discover plugins from an external
// registry: the demo pipeline (a JSON-lines source, an optional
// filter gate, and a JSON-lines sink) is wired in-process in run.go.
// Its purpose is to give the module a runnable shape in the teacher's
// own CLI idiom, not to be a general-purpose pipeline runner.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/landscape/pkg/log"
	"github.com/cuemby/landscape/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "landscaperun",
	Short: "Run, resume, and explain landscape pipeline executions",
	Long: `landscaperun drives the landscape pipeline engine end to end:
it registers a DAG of source/gate/sink nodes on a bbolt-backed
Landscape store, streams rows through it, and records the full audit
trail of tokens, node_states, and outcomes that reconstructs any
output row's lineage.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("landscaperun version %s\ncommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("data-dir", "./landscape-data", "directory holding the landscape and payload bbolt databases")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit logs as JSON instead of console format")
	rootCmd.PersistentFlags().String("metrics-addr", "", "if set, the run command serves /metrics, /health, /ready, /live on this address while it runs")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(explainCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// serveMetrics starts the Prometheus/health HTTP server in the
// background when --metrics-addr is set, mirroring the teacher's own
// metricsAddr wiring in cmd/warren.
func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	metrics.SetVersion(Version)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Logger.Error().Err(err).Str("addr", addr).Msg("metrics server exited")
		}
	}()
}
