// cmd/cmd_test.go
package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantikan/verity-cli/internal/judge"
	"github.com/vantikan/verity-cli/internal/manifest"
)

const validManifestYAML = `
intent_statement: Answers must use labels, never raw values.
environment:
  base_url: https://site.test
strategy:
  mode: single
steps:
  - open: /ai-explorer
  - checkpoint: after_open
assertions:
  - id: on-explorer
    type: url_contains
    contains: /ai-explorer
`

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func exitCodeOf(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *exitCodeError
	require.True(t, errors.As(err, &exitErr), "expected exit code error, got %v", err)
	return exitErr.code
}

func TestValidateCmd(t *testing.T) {
	t.Run("valid manifest", func(t *testing.T) {
		path := writeTempFile(t, "intent.yaml", validManifestYAML)
		cmd := newValidateCmd()
		require.NoError(t, cmd.Flags().Set("manifest", path))
		assert.NoError(t, cmd.RunE(cmd, nil))
	})

	t.Run("invalid manifest exits 2", func(t *testing.T) {
		path := writeTempFile(t, "intent.yaml", "steps: []\n")
		cmd := newValidateCmd()
		require.NoError(t, cmd.Flags().Set("manifest", path))
		err := cmd.RunE(cmd, nil)
		assert.Equal(t, 2, exitCodeOf(t, err))
	})

	t.Run("missing file is a plain error", func(t *testing.T) {
		cmd := newValidateCmd()
		require.NoError(t, cmd.Flags().Set("manifest", filepath.Join(t.TempDir(), "nope.yaml")))
		err := cmd.RunE(cmd, nil)
		require.Error(t, err)
		var exitErr *exitCodeError
		assert.False(t, errors.As(err, &exitErr))
	})
}

func runFileWithURL(t *testing.T, url string) string {
	t.Helper()
	return writeTempFile(t, "intent_run.json", `{
  "runs": {
    "single": {
      "checkpoints": [{"name": "after_open", "url": "`+url+`", "artifacts": {}}],
      "assertions": []
    }
  }
}`)
}

func TestJudgeRunFile(t *testing.T) {
	m, problems, err := manifest.LoadAndValidate(writeTempFile(t, "intent.yaml", validManifestYAML))
	require.NoError(t, err)
	require.Empty(t, problems)

	t.Run("pass verdict", func(t *testing.T) {
		verdictPath := filepath.Join(t.TempDir(), "intent_verdict.json")
		verdict, err := judgeRunFile(m, runFileWithURL(t, "https://site.test/ai-explorer"), verdictPath, "modified")
		require.NoError(t, err)
		assert.Equal(t, judge.StatusPass, verdict.Verdict)
		assert.True(t, verdict.ReadyToSubmit)
		assert.FileExists(t, verdictPath)
	})

	t.Run("fail verdict", func(t *testing.T) {
		verdictPath := filepath.Join(t.TempDir(), "intent_verdict.json")
		verdict, err := judgeRunFile(m, runFileWithURL(t, "https://site.test/node/1"), verdictPath, "modified")
		require.NoError(t, err)
		assert.Equal(t, judge.StatusFail, verdict.Verdict)
		require.Len(t, verdict.Failures, 1)
	})
}

func TestJudgeCmd(t *testing.T) {
	manifestPath := writeTempFile(t, "intent.yaml", validManifestYAML)

	t.Run("pass exits 0", func(t *testing.T) {
		verdictPath := filepath.Join(t.TempDir(), "intent_verdict.json")
		cmd := newJudgeCmd()
		require.NoError(t, cmd.Flags().Set("manifest", manifestPath))
		require.NoError(t, cmd.Flags().Set("run", runFileWithURL(t, "https://site.test/ai-explorer")))
		require.NoError(t, cmd.Flags().Set("output", verdictPath))
		assert.NoError(t, cmd.RunE(cmd, nil))
		assert.FileExists(t, verdictPath)
	})

	t.Run("fail exits 1", func(t *testing.T) {
		verdictPath := filepath.Join(t.TempDir(), "intent_verdict.json")
		cmd := newJudgeCmd()
		require.NoError(t, cmd.Flags().Set("manifest", manifestPath))
		require.NoError(t, cmd.Flags().Set("run", runFileWithURL(t, "https://site.test/elsewhere")))
		require.NoError(t, cmd.Flags().Set("output", verdictPath))
		err := cmd.RunE(cmd, nil)
		assert.Equal(t, 1, exitCodeOf(t, err))
	})

	t.Run("invalid manifest exits 2", func(t *testing.T) {
		cmd := newJudgeCmd()
		require.NoError(t, cmd.Flags().Set("manifest", writeTempFile(t, "bad.yaml", "steps: []\n")))
		require.NoError(t, cmd.Flags().Set("run", runFileWithURL(t, "https://site.test/")))
		require.NoError(t, cmd.Flags().Set("output", filepath.Join(t.TempDir(), "v.json")))
		err := cmd.RunE(cmd, nil)
		assert.Equal(t, 2, exitCodeOf(t, err))
	})
}

func TestCommandRegistration(t *testing.T) {
	names := map[string]bool{}
	for _, sub := range rootCmd.Commands() {
		names[sub.Name()] = true
	}
	for _, expected := range []string{"run", "compare", "judge", "validate", "explore"} {
		assert.True(t, names[expected], "missing subcommand %s", expected)
	}
}

func TestExitCodeError(t *testing.T) {
	err := &exitCodeError{code: 2}
	assert.Equal(t, "exit code 2", err.Error())
}
