package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	voyager "github.com/fennimore/voyager"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <repo-path> <task>",
		Short: "Start an exploration: provision worktrees and run agents in parallel or sequentially",
		Args:  cobra.ExactArgs(2),
		RunE:  runExploration,
	}

	cmd.Flags().Int("branches", 3, "Number of worktrees/agents to run")
	cmd.Flags().String("mode", "parallel", "Execution mode: parallel or sequential")
	cmd.Flags().StringSlice("strategies", nil, "Per-branch strategy labels, e.g. --strategies fast,careful")
	cmd.Flags().String("cpu-limit", "1", "CPU limit per container")
	cmd.Flags().String("memory-limit", "512m", "Memory limit per container")
	cmd.Flags().String("docker-image", "busybox", "Docker image to run agents in")
	cmd.Flags().Float64("timeout-minutes", 30, "Per-exploration timeout in minutes")
	cmd.Flags().Bool("no-cleanup", false, "Keep the shared volume after completion")

	return cmd
}

func runExploration(cmd *cobra.Command, args []string) error {
	repoPath, task := args[0], args[1]

	branches, _ := cmd.Flags().GetInt("branches")
	mode, _ := cmd.Flags().GetString("mode")
	strategies, _ := cmd.Flags().GetStringSlice("strategies")
	cpuLimit, _ := cmd.Flags().GetString("cpu-limit")
	memoryLimit, _ := cmd.Flags().GetString("memory-limit")
	dockerImage, _ := cmd.Flags().GetString("docker-image")
	timeoutMinutes, _ := cmd.Flags().GetFloat64("timeout-minutes")
	noCleanup, _ := cmd.Flags().GetBool("no-cleanup")

	config := voyager.Config{
		Branches:       branches,
		Mode:           voyager.Mode(mode),
		Strategies:     strategies,
		CPULimit:       cpuLimit,
		MemoryLimit:    memoryLimit,
		DockerImage:    dockerImage,
		TimeoutMinutes: timeoutMinutes,
		NoCleanup:      noCleanup,
	}

	o, err := buildOrchestrator(cmd, repoPath)
	if err != nil {
		return err
	}

	exp, err := o.StartExploration(cmd.Context(), task, config)
	if err != nil {
		return classifyExplorationErr(err)
	}

	return printExploration(cmd, exp)
}

func printExploration(cmd *cobra.Command, exp *voyager.Exploration) error {
	outputFmt, _ := cmd.Flags().GetString("output")
	if outputFmt == "json" {
		data, err := json.MarshalIndent(exp, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "exploration %s: %s\n", exp.ID, exp.Status)
	fmt.Fprintf(w, "  task:      %s\n", exp.Task)
	fmt.Fprintf(w, "  branches:  %d completed / %d total\n", exp.CompletedBranches, exp.Config.Branches)
	for _, wt := range exp.Worktrees {
		fmt.Fprintf(w, "  [%d] %-12s branch=%s status=%s\n", wt.Index, wt.Strategy, wt.BranchName, wt.Status)
	}
	if exp.Results != nil && exp.Results.WinnerIndex != nil {
		fmt.Fprintf(w, "  winner: worktree %d\n", *exp.Results.WinnerIndex)
	}
	return nil
}

// classifyExplorationErr maps a safety/conflict failure to the process exit
// codes spec §6 documents for CLI invocation: 2 for a failed safety check, 3
// for unresolved merge conflicts, 1 otherwise.
func classifyExplorationErr(err error) error {
	var safetyErr *voyager.SafetyError
	if errors.As(err, &safetyErr) {
		return &ExitError{Code: 2, Err: err}
	}
	var conflictErr *voyager.ConflictsUnresolved
	if errors.As(err, &conflictErr) {
		return &ExitError{Code: 3, Err: err}
	}
	return &ExitError{Code: 1, Err: err}
}
