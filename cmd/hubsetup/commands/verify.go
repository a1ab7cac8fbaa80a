package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-run the validation steps that have completed",
		Long: `Re-execute every completed validate step against the live tenant without
changing the state file. Steps that have not completed are not checked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if err := a.settings.Validate(); err != nil {
				return err
			}

			results, err := a.engine.Reverify(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if !r.OK() {
					failed++
				}
			}
			if jsonOutput {
				if err := printJSON(out, results); err != nil {
					return err
				}
			} else {
				for _, r := range results {
					switch {
					case !r.Checked:
						fmt.Fprintf(out, "  -    %s %s\n", r.ID, r.Name)
					case r.OK():
						fmt.Fprintf(out, "  OK   %s %s\n", r.ID, r.Name)
					default:
						fmt.Fprintf(out, "  FAIL %s %s: %s\n", r.ID, r.Name, r.Error)
					}
				}
				if len(results) == 0 {
					fmt.Fprintln(out, "No completed steps to verify.")
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d verification(s) failed", failed)
			}
			return nil
		},
	}
	return cmd
}
