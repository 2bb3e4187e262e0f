package cmd

import (
	"github.com/spf13/cobra"
	voyager "github.com/fennimore/voyager"
)

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [repo-path]",
		Short: "Interactively create a .voyager/config.yaml for a repo",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath := "."
			if len(args) == 1 {
				repoPath = args[0]
			}
			if err := voyager.RunInit(repoPath, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return &ExitError{Code: 1, Err: err}
			}
			return nil
		},
	}
}
