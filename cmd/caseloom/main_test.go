package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseloom/caseloom/internal/config"
)

func TestRunInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "caseloom.yaml")

	require.NoError(t, runInit(path, false))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1.0", cfg.Version)

	err = runInit(path, false)
	require.Error(t, err, "init must refuse to overwrite without force")
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, runInit(path, true))
}

func TestRunMigrateCreatesCatalog(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "catalog.db")
	configPath := filepath.Join(dir, "caseloom.yaml")
	content := fmt.Sprintf(`version: "1.0"
server:
  listen: "127.0.0.1:0"
  admin_listen: "localhost:0"
auth:
  tokens:
    tok-1: user-1
workspace:
  root: %q
catalog:
  path: %q
llm:
  provider: mock
`, dir, dbPath)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	require.NoError(t, runMigrate(configPath))
	assert.FileExists(t, dbPath)
}

func TestRunMigrateRejectsMissingConfig(t *testing.T) {
	err := runMigrate(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}
