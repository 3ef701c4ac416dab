// Package main provides the entry point for the liveedit CLI tool.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/liveedit/cmd/liveedit/commands"
	"github.com/Sumatoshi-tech/liveedit/internal/observability"
	"github.com/Sumatoshi-tech/liveedit/pkg/version"
)

const metricsReadHeaderTimeout = 5 * time.Second

var (
	configPath  string
	metricsAddr string
	verbose     bool
	quiet       bool
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "liveedit",
		Short: "Liveedit - edit-and-continue engine for scripts",
		Long: `Liveedit diffs script sources, checks live activations, and swaps
function code in place without restarting the host.

Commands:
  diff      Show the change regions between two source files
  apply     Run a full edit session against a script
  plan      Validate edit plan documents`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output")

	rootCmd.AddCommand(commands.NewDiffCommand())
	rootCmd.AddCommand(commands.NewApplyCommand(&configPath, metricsMeter))
	rootCmd.AddCommand(commands.NewPlanCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// metricsMeter starts the scrape endpoint when requested and returns the
// edit metrics, or nil when metrics are off.
func metricsMeter() (*observability.EditMetrics, error) {
	if metricsAddr == "" {
		return nil, nil
	}

	meter, handler, err := observability.PrometheusHandler()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{
		Addr:              metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", serveErr)
		}
	}()

	return observability.NewEditMetrics(meter)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "liveedit %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
