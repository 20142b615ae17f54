package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetrane/rvnblock/internal/block"
	"github.com/tetrane/rvnblock/internal/store"
)

// chdir switches the test process's working directory to dir and returns a
// func that restores the original. Tests that use it must not run in
// parallel with each other.
func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func writeTestTrace(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()

	w, err := store.NewWriter(ctx, path, "cli-test", "0.0.0", "")
	require.NoError(t, err)

	d := block.Descriptor{PC: 0x1000, InstructionCount: 2, Mode: block.X86_64}
	require.NoError(t, w.AddBlock(ctx, 0, d, []byte{0x90, 0x90}))
	require.NoError(t, w.FinalizeExecution(ctx, 1))
	require.NoError(t, w.Close())
}

func TestDumpNonExistentDatabase(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewDumpCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/path/blocks.sqlite"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open trace")
}

func TestDumpTextOutput(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "blocks.sqlite")
	writeTestTrace(t, dbPath)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewDumpCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dbPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Non-instructions:")
	assert.Contains(t, buf.String(), "[0-1] rip=0x1000 instruction_count=2")
}

func TestDumpJSONOutput(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "blocks.sqlite")
	writeTestTrace(t, dbPath)

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "json"}
	cmd := NewDumpCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dbPath})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestDumpDefaultsDatabasePath(t *testing.T) {
	dir := t.TempDir()
	writeTestTrace(t, filepath.Join(dir, "blocks.sqlite"))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewDumpCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs(nil)

	wd, err := filepath.Abs(dir)
	require.NoError(t, err)
	restore := chdir(t, wd)
	defer restore()

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Execution trace:")
}
