package voyager

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

// RunInit drives the interactive `voyager init` flow, reading answers from r
// and writing prompts to w. Separated from any terminal I/O so the CLI layer
// stays a thin cobra wrapper and this stays testable with an in-memory
// reader/writer.
func RunInit(repoPath string, r io.Reader, w io.Writer) error {
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	scanner := bufio.NewScanner(r)
	ask := func(prompt, def string) string {
		fmt.Fprintf(w, "%s", prompt)
		if scanner.Scan() {
			if v := strings.TrimSpace(scanner.Text()); v != "" {
				return v
			}
		}
		return def
	}

	image := ask("Docker image for exploration agents [voyager-agent:latest]: ", "voyager-agent:latest")
	branchesStr := ask("Default number of branches [3]: ", "3")
	branches, err := strconv.Atoi(branchesStr)
	if err != nil || branches < 1 {
		return fmt.Errorf("invalid branch count %q", branchesStr)
	}
	mode := Mode(ask("Default mode (parallel|sequential) [parallel]: ", string(ModeParallel)))
	if mode != ModeParallel && mode != ModeSequential {
		return fmt.Errorf("invalid mode %q", mode)
	}
	baseBranch := ask("Base branch [main]: ", "main")
	prCli := ask("Pull-request CLI, empty to disable [gh]: ", "gh")

	cfg := &ProjectConfig{
		DockerImage: image,
		Branches:    branches,
		Mode:        mode,
		BaseBranch:  baseBranch,
		PRCli:       prCli,
	}
	if err := SaveProjectConfig(absPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintf(w, "\nConfig saved to %s\n", ProjectConfigPath(absPath))
	fmt.Fprintf(w, "  docker image: %s\n", cfg.DockerImage)
	fmt.Fprintf(w, "  branches:     %d\n", cfg.Branches)
	fmt.Fprintf(w, "  mode:         %s\n", cfg.Mode)
	fmt.Fprintf(w, "  base branch:  %s\n", cfg.BaseBranch)
	return nil
}
