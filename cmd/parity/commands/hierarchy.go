package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/parity/pkg/config"
)

func newHierarchyCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "hierarchy [category [product]]",
		Short: "Show the product hierarchy",
		Long: `Show the categories, products and plans of the product hierarchy.

With no arguments every category is listed with its products and plans.
A category narrows the listing to its products; a product to its plans.`,
		Example: `  # Show everything
  parity hierarchy

  # Show the plans of one product
  parity hierarchy MV4 TOKIO_MARINE

  # Show a specific hierarchy file as JSON
  parity hierarchy --file products.cue --json`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				settings, err := loadSettings()
				if err != nil {
					return err
				}
				path = settings.Hierarchy.Path
			}

			h, err := config.LoadHierarchy(cmd.Context(), path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			switch len(args) {
			case 2:
				plans, err := h.Plans(args[0], args[1])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, plans)
				}
				for _, p := range plans {
					fmt.Fprintf(out, "%s\t%s\n", p.ID, p.Name)
				}
			case 1:
				products, err := h.Products(args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, products)
				}
				for _, p := range products {
					fmt.Fprintf(out, "%s\t%s\t(%d plans)\n", p.ID, p.Name, len(p.Plans))
				}
			default:
				if jsonOutput {
					return printJSON(out, h.Document())
				}
				for _, c := range h.Categories() {
					fmt.Fprintf(out, "%s\n", c.ID)
					for _, p := range c.Products {
						fmt.Fprintf(out, "  %s\n", p.ID)
						for _, plan := range p.Plans {
							fmt.Fprintf(out, "    %s\n", plan.ID)
						}
					}
				}
				combos, err := h.Combinations()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "\n%d combinations\n", len(combos))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "file", "f", "", "hierarchy file (overrides hierarchy.path)")

	return cmd
}
