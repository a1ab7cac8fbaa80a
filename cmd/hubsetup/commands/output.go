package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/hubsetup/pkg/engine"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// reportRun prints a run result and turns a failed, blocked or cancelled run
// into an error.
func reportRun(cmd *cobra.Command, result *engine.RunResult) error {
	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, result); err != nil {
			return err
		}
	} else {
		printRun(out, result)
	}

	if !result.Outcome.IsSuccess() {
		return errUnsuccessfulRun
	}
	return nil
}

func printRun(w io.Writer, result *engine.RunResult) {
	if result.DryRun {
		fmt.Fprintln(w, "Dry run: no API calls were made.")
	}

	if len(result.Steps) > 0 {
		t := newTable(w)
		t.AppendHeader(table.Row{"Step", "Name", "Level", "Action", "Status", "Duration"})
		for _, s := range result.Steps {
			duration := ""
			if s.Duration > 0 {
				duration = s.Duration.Round(time.Millisecond).String()
			}
			t.AppendRow(table.Row{s.ID, s.Name, s.Level, s.Action, s.Status, duration})
		}
		t.Render()
	}

	switch result.Outcome {
	case engine.OutcomeCompleted:
		fmt.Fprintln(w, "Setup complete.")
	case engine.OutcomeTargetReached:
		fmt.Fprintf(w, "Reached step %s.\n", result.TargetStep)
	case engine.OutcomeDryRun:
		fmt.Fprintln(w, "Dry run finished.")
	case engine.OutcomeBlocked:
		fmt.Fprintf(w, "Blocked at step %s: waiting on %s.\n", result.BlockedStep, strings.Join(result.Unmet, ", "))
	case engine.OutcomeFailed:
		fmt.Fprintf(w, "Step %s failed: %s\n", result.FailedStep, result.Error)
		fmt.Fprintln(w, "Fix the problem and re-run; completed steps will be skipped.")
	case engine.OutcomeCancelled:
		fmt.Fprintln(w, "Run cancelled. Re-run to resume.")
	}
}
