package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hubsetup/pkg/state"
)

func newResetCommand() *cobra.Command {
	var (
		confirm    bool
		keepConfig bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the state file and start over",
		Long: `Delete the state file and create a fresh one. Nothing on the tenant is
removed; the next setup run creates everything again.

--keep-config clears step progress and recorded ids but keeps the saved settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !confirm {
				ok, err := newPrompter(cmd).Confirm(
					fmt.Sprintf("This discards all recorded progress in %s.", stateFile),
					"Reset the setup state?",
				)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(out, "Reset cancelled.")
					return nil
				}
			}

			if keepConfig {
				st, err := state.LoadOrCreate(stateFile)
				if err != nil {
					return err
				}
				if err := st.Reset(); err != nil {
					return fmt.Errorf("failed to reset state: %w", err)
				}
				fmt.Fprintf(out, "Progress cleared in %s; settings kept.\n", stateFile)
				return nil
			}

			if err := state.Remove(stateFile); err != nil && !errors.Is(err, state.ErrNotFound) {
				return fmt.Errorf("failed to remove state: %w", err)
			}
			if _, err := state.Create(stateFile); err != nil {
				return err
			}
			fmt.Fprintf(out, "State reset: %s\n", stateFile)
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&keepConfig, "keep-config", false, "keep the saved settings")
	return cmd
}
