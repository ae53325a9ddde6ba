// File: internal/script/script.go
// Description: Scenario script parser. A scenario is a plain-text file with
// one command per line; blank lines and #-comments are skipped. The first
// word selects the command type, everything after it is the argument string.
package script

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Command is one parsed scenario line.
type Command struct {
	Line int    `json:"line"`
	Type string `json:"type"`
	Args string `json:"args"`
	Raw  string `json:"raw"`
}

// Parse reads a scenario string into commands. Command types are lowercased;
// unknown types are kept so they can be passed through to the browser agent.
func Parse(text string) []Command {
	commands := []Command{}
	for lineNum, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cmdType, args := line, ""
		if idx := strings.IndexFunc(line, unicode.IsSpace); idx >= 0 {
			cmdType = line[:idx]
			args = strings.TrimSpace(line[idx:])
		}
		commands = append(commands, Command{
			Line: lineNum + 1,
			Type: strings.ToLower(cmdType),
			Args: args,
			Raw:  line,
		})
	}
	return commands
}

// ParseFile reads and parses a scenario file.
func ParseFile(path string) ([]Command, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario script: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read scenario script: %w", err)
	}
	return Parse(b.String()), nil
}
