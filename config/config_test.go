package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsFillGaps(t *testing.T) {
	path := writeConfig(t, `
arena:
  initial_balance: 5000
models:
  - id: gpt-5
    provider: openai
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5000.0, cfg.Arena.InitialBalance)
	assert.Equal(t, 10.0, cfg.Arena.MinBetUSD)
	assert.Equal(t, 0.30, cfg.Arena.MaxBetFraction)
	assert.Equal(t, 5*time.Minute, cfg.DecisionTimeout())
	assert.Equal(t, 10*time.Minute, cfg.SnapshotInterval())
	assert.Equal(t, "arena.db", cfg.Storage.DSN)
	assert.Equal(t, "@hourly", cfg.Schedule.Cycle)
	assert.Equal(t, "info", cfg.Log.Level)

	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "gpt-5", cfg.Models[0].ID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  dsn: file-from-yaml.db
log:
  level: warn
`)

	t.Setenv("ARENA_DSN", ":memory:")
	t.Setenv("ARENA_LLM_KEY", "sk-test")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidFractionResets(t *testing.T) {
	path := writeConfig(t, `
arena:
  max_bet_fraction: 1.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.30, cfg.Arena.MaxBetFraction)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
