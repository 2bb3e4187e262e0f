package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCommand creates and returns the root cobra command for voyager.
// Exported for testability (SetArgs/SetOut) and future docgen.
func NewRootCommand() *cobra.Command {
	cobra.EnableTraverseRunHooks = true

	rootCmd := &cobra.Command{
		Use:     "voyager",
		Short:   "Multi-agent exploration orchestrator",
		Long:    "Voyager — provisions isolated worktrees, runs one containerized agent per worktree, and compares the outcomes.",
		Version: Version,
		// Silence usage on RunE errors (cobra prints usage by default on error)
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringP("output", "o", "text", "Output format: text, json")
	rootCmd.PersistentFlags().Int("port-range-start", 0, "Override the allocatable port range start")
	rootCmd.PersistentFlags().Int("port-range-end", 0, "Override the allocatable port range end")
	rootCmd.PersistentFlags().String("pr-cli", "", "Override the host CLI used for pull-request creation")
	rootCmd.PersistentFlags().String("notify-cmd", "", "Shell command template for completion/failure notifications ({title}/{message} placeholders); defaults to a desktop notification")
	rootCmd.PersistentFlags().Bool("quiet", false, "Disable completion/failure notifications entirely")

	rootCmd.AddCommand(
		newRunCommand(),
		newStatusCommand(),
		newListCommand(),
		newResumeCommand(),
		newStopCommand(),
		newMergeCommand(),
		newCleanupCommand(),
		newDoctorCommand(),
		newInitCommand(),
		newVersionCommand(),
	)

	return rootCmd
}
