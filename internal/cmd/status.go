package cmd

import (
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <repo-path> <exploration-id>",
		Short: "Show an exploration's current status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator(cmd, args[0])
			if err != nil {
				return err
			}
			exp, err := o.GetExplorationStatus(args[1])
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}
			return printExploration(cmd, exp)
		},
	}
}
