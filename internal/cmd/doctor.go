package cmd

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	voyager "github.com/fennimore/voyager"
	"github.com/fennimore/voyager/internal/safety"
)

const (
	colorReset  = "\033[0m"
	colorCyan   = "\033[36m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

func newDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor <repo-path>",
		Short: "Check the environment an exploration would run in",
		Long: `Check that the host is ready to run an exploration.

Verifies: a clean git working tree, a valid current branch, a Docker
daemon new enough to support the flags the container manager relies
on, enough CPU and memory for the requested worktree count, and
enough free disk.`,
		Example: `  # Check against a default worktree count of 3
  voyager doctor .

  # Machine-readable output
  voyager doctor . -o json`,
		Args: cobra.ExactArgs(1),
		RunE: runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	repoRoot, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	branches := 3
	if cfg, cfgErr := voyager.LoadProjectConfig(repoRoot); cfgErr == nil && cfg.Branches > 0 {
		branches = cfg.Branches
	}

	git := voyager.NewGitExecutor()
	report := safety.NewValidator(git, repoRoot).Run(cmd.Context(), branches)

	outputFmt, _ := cmd.Flags().GetString("output")
	if outputFmt == "json" {
		data, err := json.MarshalIndent(report.Checks, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		if !report.OK() {
			return &ExitError{Code: 2, Err: report.Err()}
		}
		return nil
	}

	w := cmd.ErrOrStderr()
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s╔══════════════════════════════════════════════╗%s\n", colorCyan, colorReset)
	fmt.Fprintf(w, "%s║               Voyager Doctor                  ║%s\n", colorCyan, colorReset)
	fmt.Fprintf(w, "%s╚══════════════════════════════════════════════╝%s\n", colorCyan, colorReset)
	fmt.Fprintln(w)

	for _, c := range report.Checks {
		if c.OK {
			fmt.Fprintf(w, "  %s✓%s  %s\n", colorGreen, colorReset, c.Name)
		} else {
			fmt.Fprintf(w, "  %s✗%s  %-16s %s\n", colorRed, colorReset, c.Name, c.Msg)
		}
	}
	fmt.Fprintln(w)

	if !report.OK() {
		return &ExitError{Code: 2, Err: report.Err()}
	}
	fmt.Fprintln(w, "All checks passed.")
	return nil
}
