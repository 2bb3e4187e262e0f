package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	voyager "github.com/fennimore/voyager"
)

// buildOrchestrator resolves repoPath and its persisted .voyager/config.yaml
// defaults into a ready-to-use ExplorationOrchestrator, applying any
// command-line flag overrides on top.
func buildOrchestrator(cmd *cobra.Command, repoPath string) (*voyager.ExplorationOrchestrator, error) {
	repoRoot, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}

	projectCfg, err := voyager.LoadProjectConfig(repoRoot)
	if err != nil {
		return nil, err
	}

	portStart, portEnd := projectCfg.PortRangeStart, projectCfg.PortRangeEnd
	if cmd.Flags().Changed("port-range-start") {
		portStart, _ = cmd.Flags().GetInt("port-range-start")
	}
	if cmd.Flags().Changed("port-range-end") {
		portEnd, _ = cmd.Flags().GetInt("port-range-end")
	}

	prCli := projectCfg.PRCli
	if cmd.Flags().Changed("pr-cli") {
		prCli, _ = cmd.Flags().GetString("pr-cli")
	}

	var notifier voyager.Notifier = &voyager.LocalNotifier{}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		notifier = &voyager.NopNotifier{}
	} else if tmpl, _ := cmd.Flags().GetString("notify-cmd"); tmpl != "" {
		notifier = voyager.NewCmdNotifier(tmpl)
	}

	if err := os.MkdirAll(filepath.Join(repoRoot, ".voyager"), 0o755); err != nil {
		return nil, err
	}
	logPath := filepath.Join(repoRoot, ".voyager", "voyager.log")
	log, err := voyager.NewLogger(logPath)
	if err != nil {
		return nil, err
	}

	docker, err := voyager.NewDockerClient()
	if err != nil {
		return nil, err
	}

	return voyager.NewExplorationOrchestrator(voyager.OrchestratorConfig{
		RepoRoot:       repoRoot,
		StateRoot:      filepath.Join(repoRoot, ".voyager", "explorations"),
		Docker:         docker,
		PortRangeStart: portStart,
		PortRangeEnd:   portEnd,
		PRCli:          prCli,
		Log:            log,
		Notifier:       notifier,
	}), nil
}
