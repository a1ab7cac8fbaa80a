package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/hubsetup/pkg/engine"
	"github.com/openfroyo/hubsetup/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		events bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the run journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, tel, err := loadTelemetry(cmd)
			if err != nil {
				return err
			}
			a := &app{file: file, tel: tel, logger: tel.Logger}
			defer a.close(cmd.Context())

			if !file.Journal.Enabled {
				return engine.NewConfigurationError("the run journal is disabled in the config file", nil)
			}
			if err := a.openJournal(cmd.Context()); err != nil {
				return fmt.Errorf("failed to open run journal: %w", err)
			}

			history, err := a.journal.History(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, history)
			}
			if len(history) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			t := newTable(out)
			t.AppendHeader(table.Row{"Run", "Started", "Duration", "Mode", "Status", "Steps", "Error"})
			for _, h := range history {
				t.AppendRow(table.Row{
					h.Run.ID, h.Run.StartedAt.Local().Format(time.DateTime), runDuration(h.Run),
					runMode(h.Run), h.Run.Status, executedSteps(h.Events), deref(h.Run.Error),
				})
			}
			t.Render()

			if events {
				for _, h := range history {
					fmt.Fprintf(out, "\n%s\n", h.Run.ID)
					for _, ev := range h.Events {
						fmt.Fprintf(out, "  %s  %-5s %-12s %s\n",
							ev.CreatedAt.Local().Format(time.TimeOnly), ev.StepID, ev.Status, deref(ev.Error))
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", stores.DefaultListLimit, "number of runs to show")
	cmd.Flags().BoolVar(&events, "events", false, "also list every step transition")
	return cmd
}

func runDuration(run *stores.Run) string {
	if run.CompletedAt == nil {
		return ""
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}

func runMode(run *stores.Run) string {
	mode := "run"
	if run.DryRun {
		mode = "dry-run"
	}
	if run.TargetStep != "" {
		mode += " to " + run.TargetStep
	}
	return mode
}

// executedSteps counts the steps that reached a terminal status.
func executedSteps(events []*stores.StepEvent) int {
	n := 0
	for _, ev := range events {
		if ev.Status.IsTerminal() {
			n++
		}
	}
	return n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
