package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flagConfig, flagLogLevel, flagTarget = "", "", 0

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigCommand_AppliesFileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eve.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("inbox:\n  proceed_timeout: 2s\n"), 0o600))

	out, err := run(t, "-c", path, "--target", "6", "config")
	assert.NoError(t, err)
	assert.Contains(t, out, "target: 6")
	assert.Contains(t, out, "proceed_timeout: 2s")
}

func TestConfigCommand_RejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eve.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("logging:\n  format: xml\n"), 0o600))

	_, err := run(t, "-c", path, "config")
	assert.Error(t, err)
}

func TestBenchCommand(t *testing.T) {
	out, err := run(t, "--log-level", "error", "--target", "2", "bench", "--tasks", "20", "--sleep", "1ms", "--submitters", "3")
	assert.NoError(t, err)
	assert.Contains(t, out, "tasks:          20 x 1ms")
	assert.Contains(t, out, "target:         2")
}

func TestTriggersCommand(t *testing.T) {
	out, err := run(t, "--log-level", "error", "triggers", "--count", "20", "--spread", "50ms")
	assert.NoError(t, err)
	assert.Contains(t, out, "triggers:     20 over 50ms")
	assert.Contains(t, out, "early:        0")
}

func TestInboxCommand(t *testing.T) {
	out, err := run(t, "--log-level", "error", "inbox", "--calls", "5", "--notifications", "2", "--work", "1ms")
	assert.NoError(t, err)
	assert.Contains(t, out, "calls:          5 x 1ms")
	assert.Contains(t, out, "sum:            30")
	assert.Contains(t, out, "caller:         processed 7, bypassed 5, forced 0")
}

func TestInboxCommand_UsesInboxSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eve.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("runqueue:\n  target: 2\ninbox:\n  proceed_timeout: 1h\n"), 0o600))

	out, err := run(t, "-c", path, "--log-level", "error", "inbox", "--calls", "3", "--notifications", "0")
	assert.NoError(t, err)
	assert.Contains(t, out, "sum:            5")
}
