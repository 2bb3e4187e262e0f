package voyager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectConfigPath(t *testing.T) {
	got := ProjectConfigPath("/tmp/repo")
	assert.Equal(t, "/tmp/repo/.voyager/config.yaml", got)
}

func TestSaveAndLoadProjectConfig(t *testing.T) {
	dir := t.TempDir()

	cfg := &ProjectConfig{
		DockerImage:    "voyager-agent:latest",
		Branches:       3,
		Mode:           ModeParallel,
		PortRangeStart: 4000,
		PortRangeEnd:   4100,
		PRCli:          "gh",
		BaseBranch:     "main",
	}
	require.NoError(t, SaveProjectConfig(dir, cfg))

	loaded, err := LoadProjectConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadProjectConfig_FileNotFound(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadProjectConfig(dir)
	require.NoError(t, err)
	assert.Empty(t, cfg.DockerImage)
}
