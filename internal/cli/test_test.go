package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: quick_sync
description: "One increment travels from a to b"
steps:
  - { on: a, do: init }
  - { on: a, do: add_count, expect: { count: 2 } }
  - { on: a, do: sync, expect: { outcome: ok, pushed: true } }
assertions:
  - type: converged
  - { type: count, replica: b, equals: 2 }
`

const failingScenario = `
name: wrong_count
description: "Expects a count that never happens"
steps:
  - { on: a, do: init }
assertions:
  - { type: count, replica: a, equals: 7 }
`

func writeScenarios(t *testing.T, files map[string]string) (root, scenarios string) {
	t.Helper()
	root = t.TempDir()
	scenarios = filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(scenarios, name), []byte(content), 0644))
	}
	return root, scenarios
}

func TestTestCommand_Pass(t *testing.T) {
	_, dir := writeScenarios(t, map[string]string{"quick_sync.yaml": passingScenario})

	out, err := execute(t, "test", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ quick_sync")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_Fail(t *testing.T) {
	_, dir := writeScenarios(t, map[string]string{
		"quick_sync.yaml":  passingScenario,
		"wrong_count.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_count")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestTestCommand_UpdateThenCompareGolden(t *testing.T) {
	root, dir := writeScenarios(t, map[string]string{"quick_sync.yaml": passingScenario})

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")

	golden := filepath.Join(root, "golden", "quick_sync.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name":"quick_sync"`)

	_, err = execute(t, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario_name":"quick_sync","trace":[]}`), 0644))
	out, err = execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "Golden file mismatch")
}

func TestTestCommand_Filter(t *testing.T) {
	_, dir := writeScenarios(t, map[string]string{
		"quick_sync.yaml":  passingScenario,
		"wrong_count.yaml": failingScenario,
	})

	out, err := execute(t, "test", dir, "--filter", "quick_*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestTestCommand_JSON(t *testing.T) {
	_, dir := writeScenarios(t, map[string]string{"quick_sync.yaml": passingScenario})

	out, err := execute(t, "--format", "json", "test", dir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "quick_sync", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_RepositoryScenarios(t *testing.T) {
	dir := filepath.Join("..", "harness", "testdata", "scenarios")
	out, err := execute(t, "test", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "All scenarios passed")
}
