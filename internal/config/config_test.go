package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider.Kind)
	assert.Equal(t, "data/memory.db", cfg.Memory.DBPath)
	assert.Equal(t, 20, cfg.Agent.MaxIterations)
	assert.Equal(t, 5, cfg.Executor.MaxParallel)
	assert.Equal(t, 360, cfg.Improvement.IntervalMinutes)
	assert.Equal(t, 80000, cfg.Improvement.TokenBudgetPerHour)
	assert.Equal(t, 5, cfg.Autonomous.TickMinutes)
	assert.Equal(t, 4, cfg.Autonomous.DailyCap)
	assert.False(t, cfg.API.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arlo.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[provider]
model = "local-model"

[autonomous]
tick_minutes = 10
`), 0o644))

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, "local-model", cfg.Provider.Model)
	assert.Equal(t, 10, cfg.Autonomous.TickMinutes)
	// Untouched sections keep their defaults.
	assert.Equal(t, 360, cfg.Improvement.IntervalMinutes)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := LoadWithPath(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ARLO_PROVIDER_MODEL", "env-model")
	t.Setenv("ARLO_EXECUTOR_MAX_PARALLEL", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.Provider.Model)
	assert.Equal(t, 2, cfg.Executor.MaxParallel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[agent]
max_iterations = 0
`), 0o644))

	_, err := LoadWithPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_iterations")
}
