package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "parity",
		Short: "Parity - end-to-end environment comparison",
		Long: `Parity drives every (category, product, plan) combination of the product
hierarchy through the seven-step insurance workflow against a target
environment and the staging reference, and reports where their responses
disagree.

Features:
  - Typed product hierarchy via CUE, JSON or YAML
  - Fail-fast target-then-staging step pairing
  - Severity-classified field differences
  - Crash-safe progress snapshots (file or S3)
  - Gate policies via OPA/rego
  - Fault scripts via Starlark`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newRunCommand(version))
	rootCmd.AddCommand(newHierarchyCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newSessionsCommand(version))
	rootCmd.AddCommand(newProgressCommand(version))
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newReportCommand(version))

	return rootCmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
