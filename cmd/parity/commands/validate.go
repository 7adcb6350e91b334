package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/parity/pkg/config"
	"github.com/openfroyo/parity/pkg/policy"
	"github.com/openfroyo/parity/pkg/simulator"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate settings, hierarchy, policies and fault script",
		Long: `Validate every configuration input without running anything.

This command checks:
  - Settings field constraints
  - Product hierarchy schema conformance
  - Gate policy compilation (OPA/rego)
  - Fault script compilation (Starlark)`,
		Example: `  # Validate the defaults
  parity validate

  # Validate a settings file
  parity validate -c parity.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			settings, err := loadSettings()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "settings: ok")

			h, err := config.LoadHierarchy(ctx, settings.Hierarchy.Path)
			if err != nil {
				return err
			}
			combos, err := h.Combinations()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "hierarchy: ok (%d categories, %d combinations)\n", len(h.CategoryIDs()), len(combos))

			policies, err := policy.NewEngine(log.Logger)
			if err != nil {
				return err
			}
			if dir := settings.Policies.Dir; dir != "" {
				loaded, err := policy.NewLoader(log.Logger).LoadFromPaths(ctx, []string{dir})
				if err != nil {
					return err
				}
				if err := policies.ReplaceFilePolicies(ctx, loaded); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "policies: ok (%d loaded)\n", len(policies.ListPolicies()))

			if script := settings.Simulator.FaultScript; script != "" {
				if _, err := simulator.LoadFaultScript(script, 0); err != nil {
					return err
				}
				fmt.Fprintln(out, "fault script: ok")
			}
			return nil
		},
	}

	return cmd
}
