package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mowd/claude-dashboard/internal/core"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadFromDir(t, "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8734, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:8734", cfg.Server.Addr())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "claude", cfg.Agent.Path)
	assert.Equal(t, 50, cfg.Agent.MaxTurns)
	assert.Equal(t, 2, cfg.Workflow.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Workflow.RetryBase)
	assert.Equal(t, 500*time.Millisecond, cfg.Workflow.PausePoll)
	assert.Equal(t, 50*time.Millisecond, cfg.Workflow.FlushInterval)
	assert.Equal(t, 180*time.Second, cfg.Agent.Timeouts["pm"])
	assert.Equal(t, 300*time.Second, cfg.Agent.Timeouts["sec"])
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := loadFromDir(t, `
server:
  port: 9000
log:
  level: debug
agent:
  path: /usr/local/bin/claude
  timeouts:
    pm: 30s
workflow:
  max_retries: 1
`)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/usr/local/bin/claude", cfg.Agent.Path)
	assert.Equal(t, 30*time.Second, cfg.Agent.Timeouts["pm"])
	// Unset role timeouts keep their defaults.
	assert.Equal(t, 600*time.Second, cfg.Agent.Timeouts["rd"])
	assert.Equal(t, 1, cfg.Workflow.MaxRetries)
}

func TestValidate(t *testing.T) {
	cfg, err := loadFromDir(t, "")
	require.NoError(t, err)

	cfg.Server.Port = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatValidation))

	cfg, _ = loadFromDir(t, "")
	cfg.Agent.Path = ""
	assert.Error(t, cfg.Validate())

	cfg, _ = loadFromDir(t, "")
	cfg.Workflow.MaxRetries = -1
	assert.Error(t, cfg.Validate())
}

func loadFromDir(t *testing.T, yaml string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".dashd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	return NewLoader().WithConfigFile(path).Load()
}
