// internal/probe/probe_test.go
package probe

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunLine(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX tools required")
	}

	runner := NewRunner("", zap.NewNop())

	t.Run("captures stdout and returncode", func(t *testing.T) {
		t.Parallel()
		res := runner.RunLine(context.Background(), "echo hello world")
		assert.Equal(t, 0, res.ReturnCode)
		assert.Equal(t, "hello world\n", res.Stdout)
		assert.Empty(t, res.Error)
		assert.Equal(t, []string{"echo", "hello", "world"}, res.Argv)
	})

	t.Run("nonzero exit is data, not an error", func(t *testing.T) {
		t.Parallel()
		res := runner.RunLine(context.Background(), "false")
		assert.Equal(t, 1, res.ReturnCode)
		assert.Empty(t, res.Error)
	})

	t.Run("quote handling", func(t *testing.T) {
		t.Parallel()
		res := runner.RunLine(context.Background(), `echo "one two"`)
		assert.Equal(t, "one two\n", res.Stdout)
	})

	t.Run("parse error yields returncode 2", func(t *testing.T) {
		t.Parallel()
		res := runner.RunLine(context.Background(), `echo "unterminated`)
		assert.Equal(t, 2, res.ReturnCode)
		assert.Contains(t, res.Error, "command parse error")
	})

	t.Run("empty command", func(t *testing.T) {
		t.Parallel()
		res := runner.RunLine(context.Background(), "   ")
		assert.Equal(t, 2, res.ReturnCode)
		assert.Contains(t, res.Error, "empty after parsing")
	})

	t.Run("missing executable", func(t *testing.T) {
		t.Parallel()
		res := runner.RunLine(context.Background(), "no-such-binary-9142")
		assert.Equal(t, 2, res.ReturnCode)
		assert.Contains(t, res.Error, "command execution failed")
	})
}

func TestRun_WorkingDirectory(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX tools required")
	}

	dir := t.TempDir()
	runner := NewRunner(dir, zap.NewNop())

	res := runner.Run(context.Background(), []string{"pwd"})
	require.Equal(t, 0, res.ReturnCode)
	assert.Contains(t, res.Stdout, dir)
	assert.Equal(t, dir, res.Cwd)
}
