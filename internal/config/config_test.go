package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	defaults := Default()
	assert.Equal(t, defaults.MaxTurns, cfg.MaxTurns)
	assert.Equal(t, defaults.RepetitionThreshold, cfg.RepetitionThreshold)
}

func TestLoadAppliesFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"model": "qwen2.5-coder",
		"max_turns": 7,
		"require_approval": ["sql_select", "db::run_query"],
		"tool_hosts": {
			"db": {"type": "command", "command": {"exec": ["./db-host"]}}
		}
	}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qwen2.5-coder", cfg.Model)
	assert.Equal(t, 7, cfg.MaxTurns)
	require.Contains(t, cfg.Hosts, "db")
	assert.Equal(t, "command", cfg.Hosts["db"].Type)
}

func TestLoadRejectsBrokenJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestNormalizeRepairsNonsenseLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"max_turns": -1, "repetition_threshold": 0}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Default().MaxTurns, cfg.MaxTurns)
	assert.Equal(t, Default().RepetitionThreshold, cfg.RepetitionThreshold)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")

	cfg := Default()
	cfg.Model = "claude-sonnet-4-20250514"
	cfg.ApproveAlways = []string{"sql_select"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Model, loaded.Model)
	assert.Equal(t, cfg.ApproveAlways, loaded.ApproveAlways)
}

func TestIsApprovalRequired(t *testing.T) {
	cfg := Default()
	cfg.RequireApproval = []string{"sql_select", "db::run_query"}

	assert.True(t, cfg.IsApprovalRequired("sql_select"))
	assert.True(t, cfg.IsApprovalRequired("db::run_query"))
	assert.False(t, cfg.IsApprovalRequired("schema_search"))

	// An always-approved tool stops requiring approval.
	cfg.ApproveAlways = []string{"sql_select"}
	assert.False(t, cfg.IsApprovalRequired("sql_select"))
}

func TestApproveAlwaysTool(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.ApproveAlwaysTool("db::run_query"))
	assert.False(t, cfg.ApproveAlwaysTool("db::run_query"))
	assert.False(t, cfg.ApproveAlwaysTool("  "))
	assert.Equal(t, []string{"db::run_query"}, cfg.ApproveAlways)
}
