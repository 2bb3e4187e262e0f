package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	voyager "github.com/fennimore/voyager"
)

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <repo-path>",
		Short: "List known explorations, optionally filtered by status",
		Args:  cobra.ExactArgs(1),
		RunE:  listExplorations,
	}
	cmd.Flags().String("status", "", "Filter by status: pending, running, completed, failed, stopped")
	return cmd
}

func listExplorations(cmd *cobra.Command, args []string) error {
	o, err := buildOrchestrator(cmd, args[0])
	if err != nil {
		return err
	}

	statusFilter, _ := cmd.Flags().GetString("status")
	summaries, err := o.ListExplorations(voyager.Status(statusFilter))
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	outputFmt, _ := cmd.Flags().GetString("output")
	if outputFmt == "json" {
		data, err := json.MarshalIndent(summaries, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	w := cmd.OutOrStdout()
	for _, s := range summaries {
		fmt.Fprintf(w, "%s  %-10s  %s\n", s.ID, s.Status, s.Task)
	}
	return nil
}
