package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hubsetup/pkg/engine"
)

func newSetupCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Run every setup step in dependency order",
		Long: `Run the full setup. Steps already completed are skipped, so setup can be
re-run after a failure or an interrupt and resumes where it stopped.

The configuration must be complete unless --dry-run is given.`,
		Example: `  # Preview what would run
  hubsetup setup --dry-run

  # Run the setup
  hubsetup setup`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, appOptions{journal: true, interactive: !dryRun})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if !dryRun {
				if err := a.settings.Validate(); err != nil {
					return err
				}
			}

			result, err := a.engine.Run(cmd.Context(), engine.RunOptions{DryRun: dryRun})
			if err != nil {
				return err
			}
			return reportRun(cmd, result)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would run without calling any API")
	return cmd
}

func newRunStepCommand() *cobra.Command {
	var (
		dryRun bool
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "run-step STEP_ID",
		Short: "Run the setup up to and including one step",
		Long: `Run steps in dependency order, stopping after STEP_ID.

--force clears the recorded status of STEP_ID first so it executes again.`,
		Example: `  # Re-run the credential check
  hubsetup run-step 1.3 --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stepID := args[0]

			a, err := openApp(cmd, appOptions{journal: true, interactive: !dryRun})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if !a.registry.Has(stepID) {
				return engine.NewNotFoundError(fmt.Sprintf("unknown step: %s", stepID), nil).WithStep(stepID)
			}
			if !dryRun {
				if err := a.settings.Validate(); err != nil {
					return err
				}
			}
			if force && !dryRun {
				if err := a.store.ResetStep(stepID); err != nil {
					return fmt.Errorf("failed to reset step %s: %w", stepID, err)
				}
				a.logger.WithStepID(stepID).Info("Step record cleared")
			}

			result, err := a.engine.Run(cmd.Context(), engine.RunOptions{
				DryRun:     dryRun,
				TargetStep: stepID,
			})
			if err != nil {
				return err
			}
			return reportRun(cmd, result)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would run without calling any API")
	cmd.Flags().BoolVar(&force, "force", false, "clear the step's recorded status before running")
	return cmd
}
