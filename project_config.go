package voyager

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProjectConfig holds project-scoped defaults stored in .voyager/config.yaml,
// applied whenever a CLI invocation doesn't override them with a flag.
type ProjectConfig struct {
	DockerImage    string `yaml:"docker_image"`
	Branches       int    `yaml:"branches,omitempty"`
	Mode           Mode   `yaml:"mode,omitempty"`
	PortRangeStart int    `yaml:"port_range_start,omitempty"`
	PortRangeEnd   int    `yaml:"port_range_end,omitempty"`
	PRCli          string `yaml:"pr_cli,omitempty"`
	BaseBranch     string `yaml:"base_branch,omitempty"`
}

// ProjectConfigPath returns the path to the project config file.
func ProjectConfigPath(repoRoot string) string {
	return filepath.Join(repoRoot, ".voyager", "config.yaml")
}

// LoadProjectConfig reads the project config from .voyager/config.yaml.
// Returns a zero-value config (no error) if the file does not exist.
func LoadProjectConfig(repoRoot string) (*ProjectConfig, error) {
	data, err := os.ReadFile(ProjectConfigPath(repoRoot))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ProjectConfig{}, nil
		}
		return nil, err
	}

	var cfg ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveProjectConfig writes the project config to .voyager/config.yaml,
// creating the .voyager directory if needed.
func SaveProjectConfig(repoRoot string, cfg *ProjectConfig) error {
	if err := os.MkdirAll(filepath.Dir(ProjectConfigPath(repoRoot)), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(ProjectConfigPath(repoRoot), data, 0o644)
}
