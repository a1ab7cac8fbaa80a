package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// DefaultStateFile is the state document used when --state-file is not given.
const DefaultStateFile = ".boomi-setup-state.json"

var (
	// Global flags
	stateFile  string
	configPath string
	verbose    bool
	jsonOutput bool
)

// errUnsuccessfulRun is returned after a run ends failed or blocked. The run
// report has already been printed.
var errUnsuccessfulRun = errors.New("setup did not complete")

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	serviceVersion = version

	rootCmd := &cobra.Command{
		Use:   "hubsetup",
		Short: "Boomi DataHub and platform tenant setup",
		Long: `hubsetup provisions the DataHub repository, sources and models and the
platform folders a promotion system needs, one resumable step at a time.

Progress is kept in a JSON state file. Re-running a command resumes from the
first step that is not completed; finished steps are never repeated.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&stateFile, "state-file", DefaultStateFile, "state file path")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "tool config file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newConfigureCommand())
	rootCmd.AddCommand(newSetupCommand())
	rootCmd.AddCommand(newRunStepCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newResetCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newGraphCommand())

	return rootCmd
}
