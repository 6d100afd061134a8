package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/logging"
	"github.com/zalando/go-keyring"
)

const testConfig = `version: 1
defaults:
  rotationThreshold: 7d
  rotationPeriod: 30d
stores:
  pw:
    type: random
    length: 24
  local:
    type: keyring
    service: rotator-cli-test
    account: app
  mirror:
    type: keyring
    service: rotator-cli-test
    account: app-mirror
plans:
  - name: app-password
    origin: pw
    primary: local
    secondaries:
      - store: mirror
        updateAfterPrimary: true
    revokeAfterPeriod: 1d
    tags: [prod]
  - name: mirror-password
    origin: pw
    primary: mirror
    tags: [dev]
`

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	keyring.MockInit()
	path := filepath.Join(t.TempDir(), "rotation-plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0600))
	return &config.Config{Path: path, Logger: logging.Discard()}
}

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRotateCommand(t *testing.T) {
	cfg := newTestConfig(t)

	// The mocked keyring is not safe for concurrent writers.
	_, err := runCommand(t, NewRotateCommand(cfg), "--all", "--concurrency", "1")
	require.NoError(t, err)

	raw, err := keyring.Get("rotator-cli-test", "app")
	require.NoError(t, err)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &entry))
	assert.Len(t, entry["value"], 24)
	assert.NotEmpty(t, entry["completedAt"])

	out, err := runCommand(t, NewStatusCommand(cfg), "--exit-code")
	require.NoError(t, err)
	assert.Contains(t, out, "app-password")
	assert.Contains(t, out, "healthy")
}

func TestRotateCommand_Selection(t *testing.T) {
	cfg := newTestConfig(t)

	_, err := runCommand(t, NewRotateCommand(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No plans selected")

	_, err = runCommand(t, NewRotateCommand(cfg), "unknown-plan")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan not found")

	_, err = runCommand(t, NewRotateCommand(cfg), "--tag", "dev")
	require.NoError(t, err)

	_, err = keyring.Get("rotator-cli-test", "app-mirror")
	assert.NoError(t, err, "the dev plan rotated its primary")
	_, err = keyring.Get("rotator-cli-test", "app")
	assert.True(t, errors.Is(err, keyring.ErrNotFound), "the prod plan was not selected")
}

func TestRotateCommand_WhatIf(t *testing.T) {
	cfg := newTestConfig(t)

	_, err := runCommand(t, NewRotateCommand(cfg), "app-password", "--what-if")
	require.NoError(t, err)

	_, err = keyring.Get("rotator-cli-test", "app")
	assert.True(t, errors.Is(err, keyring.ErrNotFound))
}

func TestRotateCommand_Failures(t *testing.T) {
	cfg := newTestConfig(t)
	keyring.MockInitWithError(errors.New("dbus: connection refused"))
	t.Cleanup(keyring.MockInit)

	_, err := runCommand(t, NewRotateCommand(cfg), "--all", "--concurrency", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 plan(s) failed")

	_, err = runCommand(t, NewRotateCommand(cfg), "--all", "--concurrency", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--concurrency")
}

func TestRotateCommand_MetricsFile(t *testing.T) {
	cfg := newTestConfig(t)
	path := filepath.Join(t.TempDir(), "rotator.prom")

	_, err := runCommand(t, NewRotateCommand(cfg), "--all", "--concurrency", "1", "--metrics-file", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rotator_plan_executions_total")
	assert.Contains(t, string(data), `plan="app-password"`)
}

func TestStatusCommand_JSON(t *testing.T) {
	cfg := newTestConfig(t)

	out, err := runCommand(t, NewStatusCommand(cfg), "--output", "json")
	require.NoError(t, err)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "app-password", rows[0]["planName"])
	assert.Equal(t, true, rows[0]["expired"])
	assert.Equal(t, false, rows[0]["healthy"])
	assert.NotContains(t, out, "value")
}

func TestStatusCommand_Errors(t *testing.T) {
	cfg := newTestConfig(t)

	_, err := runCommand(t, NewStatusCommand(cfg), "--exit-code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 plan(s) need attention")

	_, err = runCommand(t, NewStatusCommand(cfg), "--output", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid --output value")

	keyring.MockInitWithError(errors.New("dbus: connection refused"))
	t.Cleanup(keyring.MockInit)

	out, err := runCommand(t, NewStatusCommand(cfg), "mirror-password")
	require.NoError(t, err)
	assert.Contains(t, out, "error:")
}

func TestPlansCommand(t *testing.T) {
	cfg := newTestConfig(t)

	out, err := runCommand(t, NewPlansCommand(cfg))
	require.NoError(t, err)

	assert.Contains(t, out, "app-password")
	assert.Contains(t, out, "mirror (after)")
	assert.Contains(t, out, "7d")
	assert.Contains(t, out, "30d")
	assert.Contains(t, out, "1d")
	assert.Contains(t, out, "prod")
	assert.Contains(t, out, "read,annotate,write")
	assert.Contains(t, out, "originate")
}

func TestValidateCommand(t *testing.T) {
	cfg := newTestConfig(t)

	out, err := runCommand(t, NewValidateCommand(cfg))
	require.NoError(t, err)
	assert.Contains(t, out, "3 store(s), 2 plan(s)")

	cfg.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = runCommand(t, NewValidateCommand(cfg))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration file not found")
}
