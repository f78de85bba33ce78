package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	r := NewRunner()

	result, err := r.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")

	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
}

func TestRun_MissingBinary(t *testing.T) {
	_, err := NewRunner().Run(context.Background(), "ephemera-no-such-binary")

	assert.Error(t, err)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner().Run(ctx, "sleep", "5")

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunCommand_Streams(t *testing.T) {
	output, err := NewRunner().RunCommand(context.Background(), "sh", "-c", "echo one; echo two >&2")
	require.NoError(t, err)

	data, _ := io.ReadAll(output)
	require.NoError(t, output.Close())

	assert.Contains(t, string(data), "one\n")
	assert.Contains(t, string(data), "two\n")
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.yml")
	dst := filepath.Join(dir, "dst.yml")
	require.NoError(t, os.WriteFile(src, []byte("services: {}\n"), 0o600))

	require.NoError(t, NewRunner().CopyFile(context.Background(), src, dst, 0o644))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "services: {}\n", string(content))
}
