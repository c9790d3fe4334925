package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// run executes the app with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"docvault"}, args...))
	return out.String(), err
}

// valueAfter returns the trimmed text following prefix on its line.
func valueAfter(t *testing.T, output, prefix string) string {
	t.Helper()
	for _, line := range strings.Split(output, "\n") {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(rest)
		}
	}
	t.Fatalf("%q not found in output:\n%s", prefix, output)
	return ""
}

func TestLogLevelValidation(t *testing.T) {
	_, err := run(t, "--log-level", "verbose", "usage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	dir := t.TempDir()
	_, err = run(t, "-l", "WARN", "--data-dir", filepath.Join(dir, "data"), "--key-dir", filepath.Join(dir, "keys"), "usage")
	assert.NoError(t, err)
}

func TestCommandFlags(t *testing.T) {
	app := newApp()
	find := func(name string) *cli.Command {
		for _, cmd := range app.Commands {
			if cmd.Name == name {
				return cmd
			}
		}
		t.Fatalf("command %q not found", name)
		return nil
	}

	t.Run("backup requires out", func(t *testing.T) {
		_, err := run(t, "backup")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out")
	})

	t.Run("recover-key requires salt", func(t *testing.T) {
		_, err := run(t, "recover-key", "code")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "salt")
	})

	t.Run("cleanup-versions keeps ten by default", func(t *testing.T) {
		cmd := find("cleanup-versions")
		var keep *cli.IntFlag
		for _, flag := range cmd.Flags {
			if f, ok := flag.(*cli.IntFlag); ok && f.Name == "keep" {
				keep = f
			}
		}
		require.NotNil(t, keep)
		assert.Equal(t, 10, keep.Value)
	})

	t.Run("reset needs confirmation", func(t *testing.T) {
		_, err := run(t, "--data-dir", t.TempDir(), "reset")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--yes")
	})

	t.Run("unknown export format", func(t *testing.T) {
		_, err := run(t, "--data-dir", t.TempDir(), "export", "--format", "xml", "some-id")
		assert.Error(t, err)
	})
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "docvault.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("kdf_iterations: 100000\n"), 0600))
	global := []string{"--config", cfgPath, "--data-dir", filepath.Join(dir, "data"), "--key-dir", filepath.Join(dir, "keys")}
	cmd := func(args ...string) string {
		t.Helper()
		out, err := run(t, append(append([]string{}, global...), args...)...)
		require.NoError(t, err, "docvault %s", strings.Join(args, " "))
		return out
	}

	out := cmd("init")
	assert.Contains(t, out, "Encryption key configured.")
	code := valueAfter(t, out, "Backup code:")
	salt := valueAfter(t, out, "Salt:")
	require.NotEmpty(t, code)
	require.NotEmpty(t, salt)

	assert.Contains(t, cmd("init"), "already configured")

	out = cmd("list", "--templates")
	assert.Contains(t, out, "Mind map")
	assert.Contains(t, out, "4 total")

	workFile := filepath.Join(dir, "groceries.json")
	require.NoError(t, os.WriteFile(workFile, []byte(`{
  "formatVersion": 1,
  "title": "Groceries",
  "category": "home",
  "tags": ["weekly"],
  "content": {"nodes": [
    {"id": "root", "text": "Groceries", "level": 0},
    {"id": "milk", "parentId": "root", "text": "Milk", "level": 1}
  ]}
}`), 0600))
	id := strings.TrimSpace(cmd("import", workFile))
	require.NotEmpty(t, id)

	out = cmd("show", id)
	assert.Contains(t, out, "Groceries")
	assert.Contains(t, out, "- Milk")
	assert.Contains(t, out, "weekly")

	out = cmd("export", "--format", "yaml", id)
	assert.Contains(t, out, "title: Groceries")

	assert.Contains(t, cmd("list"), "Groceries")
	assert.Contains(t, cmd("history", id), "VERSION")
	assert.Contains(t, cmd("usage"), "Used:")

	backupFile := filepath.Join(dir, "docvault.bak")
	assert.Contains(t, cmd("backup", "--out", backupFile), "Backup written")

	assert.Contains(t, cmd("reset", "--yes"), "Database deleted.")
	out = cmd("list")
	assert.NotContains(t, out, "Groceries")
	assert.Contains(t, out, "0 total")

	assert.Contains(t, cmd("restore", "--in", backupFile), "Backup restored.")
	assert.Contains(t, cmd("show", id), "Groceries")

	// A fresh key directory can read the data after recovery
	recovered := []string{"--config", cfgPath, "--data-dir", filepath.Join(dir, "data"), "--key-dir", filepath.Join(dir, "recovered")}
	out, err := run(t, append(recovered, "recover-key", "--salt", salt, code)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Encryption key recovered.")

	out, err = run(t, append(recovered, "show", id)...)
	require.NoError(t, err)
	assert.Contains(t, out, "- Milk")
}
