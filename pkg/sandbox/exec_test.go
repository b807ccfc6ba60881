package sandbox

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerRun(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}

	r := NewRunner(5 * time.Second)
	root := t.TempDir()

	t.Run("captures stdout and exit code", func(t *testing.T) {
		res, err := r.Run(context.Background(), ExecRequest{
			Root:    root,
			Command: "sh",
			Args:    []string{"-c", "echo hello"},
		})
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(res.Stdout))
		assert.Equal(t, 0, res.ExitCode)
	})

	t.Run("nonzero exit code is not an error", func(t *testing.T) {
		res, err := r.Run(context.Background(), ExecRequest{
			Root:    root,
			Command: "sh",
			Args:    []string{"-c", "exit 3"},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, res.ExitCode)
	})

	t.Run("runs in workspace root", func(t *testing.T) {
		res, err := r.Run(context.Background(), ExecRequest{
			Root:    root,
			Command: "pwd",
		})
		require.NoError(t, err)
		assert.Contains(t, string(res.Stdout), root)
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := r.Run(context.Background(), ExecRequest{
			Root:    root,
			Command: "sleep",
			Args:    []string{"5"},
			Timeout: 100 * time.Millisecond,
		})
		assert.ErrorIs(t, err, ErrExecutionTimeout)
	})

	t.Run("stdin is forwarded", func(t *testing.T) {
		res, err := r.Run(context.Background(), ExecRequest{
			Root:    root,
			Command: "cat",
			Stdin:   []byte("piped input"),
		})
		require.NoError(t, err)
		assert.Equal(t, "piped input", string(res.Stdout))
	})

	t.Run("missing root rejected", func(t *testing.T) {
		_, err := r.Run(context.Background(), ExecRequest{Command: "true"})
		assert.Error(t, err)
	})
}
