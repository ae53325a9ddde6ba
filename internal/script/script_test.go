// internal/script/script_test.go
package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	text := `# scenario: save a node
open /node/add/page

find label "Title" fill "Hello"
CHECKPOINT after_save
assert-url --contains /node/
`
	commands := Parse(text)
	require.Len(t, commands, 4)

	assert.Equal(t, Command{Line: 2, Type: "open", Args: "/node/add/page", Raw: "open /node/add/page"}, commands[0])
	assert.Equal(t, "find", commands[1].Type)
	assert.Equal(t, `label "Title" fill "Hello"`, commands[1].Args)
	// Types are case-insensitive; raw text is preserved.
	assert.Equal(t, "checkpoint", commands[2].Type)
	assert.Equal(t, "CHECKPOINT after_save", commands[2].Raw)
	assert.Equal(t, "assert-url", commands[3].Type)
	assert.Equal(t, 6, commands[3].Line)
}

func TestParse_ArgumentlessCommand(t *testing.T) {
	t.Parallel()
	commands := Parse("wait\nsnapshot   \n")
	require.Len(t, commands, 2)
	assert.Equal(t, "wait", commands[0].Type)
	assert.Empty(t, commands[0].Args)
	assert.Equal(t, "snapshot", commands[1].Type)
	assert.Empty(t, commands[1].Args)
}

func TestParseFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "scenario.txt")
	require.NoError(t, os.WriteFile(path, []byte("open /\ncheckpoint home\n"), 0o644))

	commands, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, commands, 2)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
