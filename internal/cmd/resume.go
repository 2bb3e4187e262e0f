package cmd

import (
	"github.com/spf13/cobra"
)

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <repo-path> <exploration-id>",
		Short: "Resume a pending or stopped exploration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator(cmd, args[0])
			if err != nil {
				return err
			}
			exp, err := o.ResumeExploration(cmd.Context(), args[1])
			if err != nil {
				return classifyExplorationErr(err)
			}
			return printExploration(cmd, exp)
		},
	}
}
