package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newConfigureCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Collect the tenant settings and save them to the state file",
		Long: `Prompt for every required setting not already provided by the environment
or the state file, then save the non-secret settings to the state file.

API tokens are never written to the state file. Export BOOMI_USER and
BOOMI_TOKEN, or enter them again on each run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{interactive: true})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if err := a.store.UpdateConfig(a.settings.ToStateConfig()); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, a.settings.Masked())
			}

			fmt.Fprintf(out, "Configuration saved to %s\n", a.store.Path())
			if missing := a.settings.Missing(); len(missing) > 0 {
				fmt.Fprintf(out, "Warning: configuration incomplete, missing: %s\n", strings.Join(missing, ", "))
			}
			return nil
		},
	}
	return cmd
}
