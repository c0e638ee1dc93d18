package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"surveysched/internal/activation"
)

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, path, dataPath string) {
	t.Helper()
	cfg := fmt.Sprintf("logging: { level: error }\nstorage: { driver: file, path: %q }\n", dataPath)
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
}

func TestCLI_RegisterSetEvaluate(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeConfig(t, cfgPath, filepath.Join(dir, "data"))

	out, err := run(t, cfgPath, "register", "s1")
	require.NoError(t, err)
	require.Contains(t, out, `"id": "s1"`)

	out, err = run(t, cfgPath, "set", "s1", "--start", "2024-06-01", "--end", "2024-06-30", "--from", "9:00", "--to", "17:00")
	require.NoError(t, err)
	var sc activation.Schedule
	require.NoError(t, json.Unmarshal([]byte(out), &sc))
	require.True(t, sc.IsRecurring)
	require.Equal(t, "09:00", sc.DailyStartTime)

	out, err = run(t, cfgPath, "evaluate", "s1", "--at", "2024-06-10T12:00:00Z")
	require.NoError(t, err)
	var ev struct {
		Evaluation activation.Result `json:"evaluation"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &ev))
	require.True(t, ev.Evaluation.Active)
	require.Equal(t, "active until 17:00", ev.Evaluation.Message)

	out, err = run(t, cfgPath, "reconcile")
	require.NoError(t, err)
	var sum activation.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	require.Equal(t, 1, sum.Evaluated)

	out, err = run(t, cfgPath, "list")
	require.NoError(t, err)
	var items []activation.Schedule
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
}

func TestCLI_ExitCodes(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	writeConfig(t, cfgPath, filepath.Join(dir, "data"))

	_, err := run(t, cfgPath, "register", "s1")
	require.NoError(t, err)

	_, err = run(t, cfgPath, "set", "s1", "--from", "17:00", "--to", "09:00")
	require.Error(t, err)
	require.Equal(t, 2, exitCode(err))

	_, err = run(t, cfgPath, "evaluate", "ghost")
	require.Error(t, err)
	require.Equal(t, 3, exitCode(err))

	_, err = run(t, filepath.Join(dir, "missing.yaml"), "list")
	require.Error(t, err)
	require.Equal(t, 1, exitCode(err))
}
