package cmd

import (
	"github.com/spf13/cobra"
)

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <repo-path> <exploration-id>",
		Short: "Cancel a running exploration and tear down its containers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator(cmd, args[0])
			if err != nil {
				return err
			}
			exp, err := o.StopExploration(cmd.Context(), args[1])
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}
			return printExploration(cmd, exp)
		},
	}
}

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <repo-path> <exploration-id>",
		Short: "Remove every resource an exploration owns: containers, ports, worktrees, state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator(cmd, args[0])
			if err != nil {
				return err
			}
			if err := o.Cleanup(cmd.Context(), args[1]); err != nil {
				return &ExitError{Code: 1, Err: err}
			}
			return nil
		},
	}
}
