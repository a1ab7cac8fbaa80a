package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hubsetup/pkg/steps"
)

func newGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "graph",
		Short:   "Print the step dependency graph in Graphviz dot format",
		Example: `  hubsetup graph | dot -Tpng -o steps.png`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := steps.NewRegistry(steps.Deps{})
			if err != nil {
				return err
			}
			if _, err := registry.ResolveOrder(); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), registry.ToDOT())
			return nil
		},
	}
	return cmd
}
