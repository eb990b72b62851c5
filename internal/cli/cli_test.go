package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "bursa.toml")
	body := fmt.Sprintf("[storage]\ndir = %q\n\n[keystore]\ndir = %q\n",
		filepath.Join(dir, "data"), filepath.Join(dir, "keystore"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	cmd := NewRootCommand(&buf, BuildInfo{Version: "test"})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCommandJSON(t *testing.T) {
	t.Parallel()

	out, err := runCommand(t, "version", "--json")
	require.NoError(t, err)

	var build BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &build))
	require.Equal(t, "test", build.Version)
}

func TestStatusCommandInitializesLedger(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestConfig(t)
	out, err := runCommand(t, "status", "--config", cfgPath, "--json")
	require.NoError(t, err)

	var payload struct {
		LedgerID      string           `json:"ledger_id"`
		SchemaVersion int              `json:"schema_version"`
		Counts        map[string]int64 `json:"counts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.NotEmpty(t, payload.LedgerID)
	require.Positive(t, payload.SchemaVersion)
	require.Contains(t, payload.Counts, "accounts")
	require.Contains(t, payload.Counts, "transactions")
}

func TestStatusCommandStableAcrossRuns(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestConfig(t)
	first, err := runCommand(t, "status", "--config", cfgPath, "--json")
	require.NoError(t, err)
	second, err := runCommand(t, "status", "--config", cfgPath, "--json")
	require.NoError(t, err)

	var a, b struct {
		LedgerID string `json:"ledger_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	require.Equal(t, a.LedgerID, b.LedgerID)
}

func TestExportCommandEmptyLedger(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestConfig(t)
	out, err := runCommand(t, "export", "--config", cfgPath)
	require.NoError(t, err)

	var dump exportDump
	require.NoError(t, json.Unmarshal([]byte(out), &dump))
	require.NotEmpty(t, dump.LedgerID)
	require.Empty(t, dump.Accounts)
	require.Empty(t, dump.Transactions)
}

func TestCheckpointCommand(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestConfig(t)
	out, err := runCommand(t, "checkpoint", "--config", cfgPath, "--json")
	require.NoError(t, err)
	require.Contains(t, out, `"checkpointed": true`)
}

func TestPositionalArgumentsRejected(t *testing.T) {
	t.Parallel()

	cfgPath := writeTestConfig(t)
	_, err := runCommand(t, "status", "extra", "--config", cfgPath)
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, ExitCodeUsage, exitErr.ExitCode())
}
