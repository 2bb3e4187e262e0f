package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	voyager "github.com/fennimore/voyager"
)

func newMergeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <repo-path> <exploration-id> <worktree-index>",
		Short: "Merge a worktree's branch back into the target branch",
		Args:  cobra.ExactArgs(3),
		RunE:  runMerge,
	}

	cmd.Flags().String("strategy", "direct", "Merge strategy: direct, squash, or rebase")
	cmd.Flags().String("target-branch", "", "Branch to merge into (defaults to the current branch)")
	cmd.Flags().Bool("no-backup", false, "Skip creating a backup branch before merging")
	cmd.Flags().Bool("auto-resolve", false, "Attempt automatic conflict resolution")
	cmd.Flags().Bool("keep-worktree", false, "Don't remove the worktree after a successful merge")
	cmd.Flags().Bool("create-pr", false, "Also open a pull request after a successful merge (needs a PR CLI)")
	cmd.Flags().String("pr-title", "", "Pull request title, used with --create-pr")
	cmd.Flags().String("pr-body", "", "Pull request body, used with --create-pr")
	cmd.Flags().Bool("dry-run", false, "Preview the merge without making any lasting changes")

	return cmd
}

func runMerge(cmd *cobra.Command, args []string) error {
	var worktreeIndex int
	if _, err := fmt.Sscanf(args[2], "%d", &worktreeIndex); err != nil {
		return &ExitError{Code: 1, Err: fmt.Errorf("invalid worktree index %q", args[2])}
	}

	strategy, _ := cmd.Flags().GetString("strategy")
	targetBranch, _ := cmd.Flags().GetString("target-branch")
	noBackup, _ := cmd.Flags().GetBool("no-backup")
	autoResolve, _ := cmd.Flags().GetBool("auto-resolve")
	keepWorktree, _ := cmd.Flags().GetBool("keep-worktree")
	createPR, _ := cmd.Flags().GetBool("create-pr")
	prTitle, _ := cmd.Flags().GetString("pr-title")
	prBody, _ := cmd.Flags().GetString("pr-body")

	opts := voyager.MergeOptions{
		Strategy:             voyager.MergeStrategyKind(strategy),
		TargetBranch:         targetBranch,
		CreateBackup:         !noBackup,
		AutoResolveConflicts: autoResolve,
		DeleteWorktree:       !keepWorktree,
		CreatePR:             createPR,
		PRTitle:              prTitle,
		PRBody:               prBody,
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")

	o, err := buildOrchestrator(cmd, args[0])
	if err != nil {
		return err
	}

	outputFmt, _ := cmd.Flags().GetString("output")
	w := cmd.OutOrStdout()

	if dryRun {
		preview, err := o.PreviewMerge(cmd.Context(), args[1], worktreeIndex, targetBranch)
		if err != nil {
			return &ExitError{Code: 1, Err: err}
		}
		if outputFmt == "json" {
			data, err := json.MarshalIndent(preview, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(data))
			return nil
		}
		fmt.Fprintf(w, "preview: can_merge=%v commits=%d files_changed=%d\n", preview.CanMerge, preview.CommitsToMerge, preview.FilesChanged)
		for _, c := range preview.Conflicts {
			fmt.Fprintf(w, "  %s (%s)\n", c.Path, c.Kind)
		}
		return nil
	}

	report, err := o.Merge(cmd.Context(), args[1], worktreeIndex, opts)
	if err != nil {
		var conflictErr *voyager.ConflictsUnresolved
		if errors.As(err, &conflictErr) {
			return &ExitError{Code: 3, Err: err}
		}
		return &ExitError{Code: 1, Err: err}
	}

	if outputFmt == "json" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "merge %s: success=%v\n", opts.Strategy, report.Success)
	if len(report.Conflicts) > 0 {
		fmt.Fprintf(w, "conflicts:\n")
		for _, c := range report.Conflicts {
			fmt.Fprintf(w, "  %s (%s)\n", c.Path, c.Kind)
		}
	}
	if report.PRUrl != "" {
		fmt.Fprintf(w, "pull request: %s\n", report.PRUrl)
	}
	return nil
}
