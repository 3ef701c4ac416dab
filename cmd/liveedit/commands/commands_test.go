package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDiffCommand_JSONOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	oldPath := writeFile(t, dir, "old.js", "function f() { return 1; }\n")
	newPath := writeFile(t, dir, "new.js", "function f() { return 2; }\n")
	outPath := filepath.Join(dir, "out.json")

	cmd := &DiffCommand{output: outPath, format: FormatJSON, noColor: true}

	require.NoError(t, cmd.Run(oldPath, newPath))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var rows []regionRow
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 1)
	assert.Less(t, rows[0].OldBegin, rows[0].OldEnd)
}

func TestDiffCommand_IdenticalFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "same.js", "function f() { return 1; }\n")
	outPath := filepath.Join(dir, "out.txt")

	cmd := &DiffCommand{output: outPath, format: FormatTable, noColor: true}

	require.NoError(t, cmd.Run(path, path))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "No changes.")
}

func TestDiffCommand_UnsupportedFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "same.js", "function f() {}\n")

	cmd := &DiffCommand{format: "yaml"}

	err := cmd.Run(path, path)

	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestApplyCommand_CommitsEdit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scriptPath := writeFile(t, dir, "app.js", "function f() { return 1; }\n")
	newPath := writeFile(t, dir, "app.new.js", "function f() { return 2; }\n")
	outPath := filepath.Join(dir, "out.json")
	emptyConfig := ""

	cmd := &ApplyCommand{
		configPath: &emptyConfig,
		output:     outPath,
		format:     FormatJSON,
		noColor:    true,
	}

	require.NoError(t, cmd.Run(scriptPath, newPath))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var report applyReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.True(t, report.Committed)
	assert.Positive(t, report.Patched)
	assert.Equal(t, scriptPath, report.Script)
}

func TestApplyCommand_CheckOnlyDoesNotCommit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scriptPath := writeFile(t, dir, "app.js", "function f() { return 1; }\n")
	newPath := writeFile(t, dir, "app.new.js", "function f() { return 2; }\n")
	outPath := filepath.Join(dir, "out.json")
	emptyConfig := ""

	cmd := &ApplyCommand{
		configPath: &emptyConfig,
		output:     outPath,
		format:     FormatJSON,
		checkOnly:  true,
		noColor:    true,
	}

	require.NoError(t, cmd.Run(scriptPath, newPath))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var report applyReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.False(t, report.Committed)
	assert.NotEmpty(t, report.Functions)
}

func TestApplyCommand_BlockedByFramesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scriptPath := writeFile(t, dir, "app.js", "function f() { return 1; }\n")
	newPath := writeFile(t, dir, "app.new.js", "function f() { return 2; }\n")
	framesPath := writeFile(t, dir, "stack.json",
		`[{"function": "f", "thread": 1, "depth": 0}]`)
	outPath := filepath.Join(dir, "out.txt")
	emptyConfig := ""

	cmd := &ApplyCommand{
		configPath: &emptyConfig,
		output:     outPath,
		format:     FormatTable,
		framesPath: framesPath,
		noColor:    true,
	}

	err := cmd.Run(scriptPath, newPath)

	require.Error(t, err)

	data, readErr := os.ReadFile(outPath)
	require.NoError(t, readErr)
	assert.Contains(t, string(data), "BLOCKED_ACTIVE")
}

func TestApplyCommand_ForceDropWithFrames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scriptPath := writeFile(t, dir, "app.js", "function f() { return 1; }\n")
	newPath := writeFile(t, dir, "app.new.js", "function f() { return 2; }\n")
	framesPath := writeFile(t, dir, "stack.json",
		`[{"function": "f", "thread": 1, "depth": 0}]`)
	outPath := filepath.Join(dir, "out.json")
	emptyConfig := ""

	cmd := &ApplyCommand{
		configPath: &emptyConfig,
		output:     outPath,
		format:     FormatJSON,
		framesPath: framesPath,
		forceDrop:  true,
		noColor:    true,
	}

	require.NoError(t, cmd.Run(scriptPath, newPath))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var report applyReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.True(t, report.Committed)
	require.NotEmpty(t, report.Functions)

	found := false

	for _, fn := range report.Functions {
		if fn.Function == "f" {
			assert.Equal(t, "REPLACED_ON_ACTIVE_STACK", fn.Status)

			found = true
		}
	}

	assert.True(t, found)
}

func TestApplyCommand_UnknownFrameFunction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scriptPath := writeFile(t, dir, "app.js", "function f() { return 1; }\n")
	newPath := writeFile(t, dir, "app.new.js", "function f() { return 2; }\n")
	framesPath := writeFile(t, dir, "stack.json",
		`[{"function": "ghost", "thread": 1, "depth": 0}]`)
	emptyConfig := ""

	cmd := &ApplyCommand{
		configPath: &emptyConfig,
		format:     FormatTable,
		framesPath: framesPath,
	}

	err := cmd.Run(scriptPath, newPath)

	require.ErrorIs(t, err, ErrUnknownFrameFunction)
}

func TestApplyCommand_KeepOldAs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	scriptPath := writeFile(t, dir, "app.js", "function f() { return 1; }\n")
	newPath := writeFile(t, dir, "app.new.js", "function f() { return 2; }\n")
	outPath := filepath.Join(dir, "out.json")
	emptyConfig := ""

	cmd := &ApplyCommand{
		configPath: &emptyConfig,
		output:     outPath,
		format:     FormatJSON,
		keepOldAs:  "app.js.v1",
		noColor:    true,
	}

	require.NoError(t, cmd.Run(scriptPath, newPath))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)

	var report applyReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "app.js.v1", report.Snapshot)
}

func TestPlanValidate_ValidDocument(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	planPath := writeFile(t, dir, "plan.json", `{
  "script": "app.js",
  "new_source": "app.new.js",
  "options": {"force_drop": true, "check_only": false},
  "frames": [{"function": "f", "thread": 1, "depth": 0, "suspended": false}]
}`)

	require.NoError(t, runPlanValidate(planPath))
}

func TestPlanValidate_MissingRequiredField(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	planPath := writeFile(t, dir, "plan.json", `{"script": "app.js"}`)

	err := runPlanValidate(planPath)

	require.ErrorIs(t, err, ErrInvalidPlan)
	assert.Contains(t, err.Error(), "new_source")
}

func TestPlanValidate_UnknownProperty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	planPath := writeFile(t, dir, "plan.json",
		`{"script": "app.js", "new_source": "b.js", "extra": 1}`)

	err := runPlanValidate(planPath)

	require.ErrorIs(t, err, ErrInvalidPlan)
}
