package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/hubsetup/pkg/state"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the recorded status of every step",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			summary, err := a.engine.StatusSummary()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, summary)
			}

			completed := 0
			t := newTable(out)
			t.AppendHeader(table.Row{"Step", "Name", "Level", "Status", "Error"})
			for _, s := range summary {
				if s.Status == state.StatusCompleted {
					completed++
				}
				t.AppendRow(table.Row{s.ID, s.Name, s.Level, s.Status, s.Error})
			}
			t.AppendFooter(table.Row{"", fmt.Sprintf("%d/%d completed", completed, len(summary))})
			t.Render()

			if missing := a.settings.Missing(); len(missing) > 0 {
				fmt.Fprintf(out, "Configuration incomplete, missing: %v\n", missing)
			}
			return nil
		},
	}
	return cmd
}
