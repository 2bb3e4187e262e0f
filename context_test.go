package voyager

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadContextFiles_ReadsMarkdownFiles(t *testing.T) {
	dir := t.TempDir()
	ctxDir := filepath.Join(dir, ".voyager", "context")
	require.NoError(t, os.MkdirAll(ctxDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ctxDir, "architecture.md"), []byte("Use hexagonal architecture.\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ctxDir, "naming.md"), []byte("Use snake_case for API fields.\n"), 0o644))

	result, err := ReadContextFiles(dir)
	require.NoError(t, err)

	assert.Contains(t, result, "architecture")
	assert.Contains(t, result, "Use hexagonal architecture.")
	assert.Contains(t, result, "naming")
	assert.Contains(t, result, "Use snake_case for API fields.")
	assert.True(t, strings.Index(result, "architecture") < strings.Index(result, "naming"))
}

func TestReadContextFiles_EmptyWhenNoDirectory(t *testing.T) {
	dir := t.TempDir()

	result, err := ReadContextFiles(dir)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestReadContextFiles_IgnoresNonMarkdownAndSubdirs(t *testing.T) {
	dir := t.TempDir()
	ctxDir := filepath.Join(dir, ".voyager", "context")
	require.NoError(t, os.MkdirAll(ctxDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ctxDir, "notes.md"), []byte("important\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ctxDir, "data.json"), []byte(`{"key":"val"}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(ctxDir, "subdir"), 0o755))

	result, err := ReadContextFiles(dir)
	require.NoError(t, err)
	assert.Contains(t, result, "important")
	assert.NotContains(t, result, "key")
}
