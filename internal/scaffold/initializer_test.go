package scaffold

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dyluth/chalk/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_FreshDirectory(t *testing.T) {
	dir := t.TempDir()

	created, err := Initialize(dir, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"chalk.yml", filepath.Join("agents", "example_reviewer.sh")}, created)

	cfg, err := config.Load(filepath.Join(dir, "chalk.yml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"example_reviewer"}, cfg.Orchestrator.Pipeline)
	assert.Contains(t, cfg.Agents, "example_reviewer")
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)

	info, err := os.Stat(filepath.Join(dir, "agents", "example_reviewer.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0100, "agent script must be executable")
}

func TestInitialize_RefusesExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chalk.yml"), []byte("version: '1.0'\n"), 0644))

	_, err := Initialize(dir, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already initialized")

	data, err := os.ReadFile(filepath.Join(dir, "chalk.yml"))
	require.NoError(t, err)
	assert.Equal(t, "version: '1.0'\n", string(data))
}

func TestInitialize_Force(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "agents", "stale.sh")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("#!/bin/sh\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chalk.yml"), []byte("garbage"), 0644))

	_, err := Initialize(dir, true)
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "force should clear the agents directory")

	_, err = config.Load(filepath.Join(dir, "chalk.yml"))
	assert.NoError(t, err)
}

func TestTemplateFiles(t *testing.T) {
	files, err := templateFiles()
	require.NoError(t, err)
	require.Len(t, files, 2)

	for _, f := range files {
		assert.NotEmpty(t, f.Content, f.Path)
	}
	assert.Contains(t, string(files[1].Content), "#!/bin/sh")
	assert.Equal(t, os.FileMode(0755), files[1].Permissions)
}

func TestPrintSuccess(t *testing.T) {
	var buf bytes.Buffer
	PrintSuccess(&buf, []string{"chalk.yml", "agents/example_reviewer.sh"})

	out := buf.String()
	assert.Contains(t, out, "Initialized chalk project")
	assert.Contains(t, out, "✓ chalk.yml")
	assert.Contains(t, out, "✓ agents/example_reviewer.sh")
	assert.Contains(t, out, "chalk run --post")
}
