// File: internal/probe/probe.go
// Description: Backend-side probe execution. Probes run next to the
// application under test (shell commands, drush subcommands) and capture
// server state that the browser cannot see. Failures are encoded in the
// Result, never raised, so a broken probe still leaves evidence on disk.
package probe

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

func timestamp() string {
	return time.Now().Format("2006-01-02T15:04:05")
}

// Result records one probe invocation with full output capture.
type Result struct {
	Time       string   `json:"time"`
	Command    string   `json:"command"`
	Argv       []string `json:"argv,omitempty"`
	Cwd        string   `json:"cwd,omitempty"`
	ReturnCode int      `json:"returncode"`
	Stdout     string   `json:"stdout"`
	Stderr     string   `json:"stderr"`
	Error      string   `json:"error,omitempty"`
}

// Runner executes probe commands in a fixed working directory.
type Runner struct {
	cwd    string
	logger *zap.Logger
	// now is injectable for tests.
	now func() string
}

// NewRunner creates a probe runner. An empty cwd runs probes in the process
// working directory.
func NewRunner(cwd string, logger *zap.Logger) *Runner {
	return &Runner{
		cwd:    cwd,
		logger: logger.Named("probe"),
		now:    timestamp,
	}
}

// RunLine parses a shell-style command line and executes it. No shell is
// involved; operators like pipes are not supported by design.
func (r *Runner) RunLine(ctx context.Context, command string) *Result {
	argv, err := shellquote.Split(command)
	if err != nil {
		return &Result{
			Time:       r.now(),
			Command:    command,
			Cwd:        r.cwd,
			ReturnCode: 2,
			Error:      "command parse error: " + err.Error(),
		}
	}
	return r.run(ctx, command, argv)
}

// Run executes an explicit argument vector.
func (r *Runner) Run(ctx context.Context, argv []string) *Result {
	return r.run(ctx, shellquote.Join(argv...), argv)
}

func (r *Runner) run(ctx context.Context, command string, argv []string) *Result {
	res := &Result{
		Time:    r.now(),
		Command: command,
		Cwd:     r.cwd,
	}
	if len(argv) == 0 {
		res.ReturnCode = 2
		res.Error = "command was empty after parsing"
		return res
	}
	res.Argv = argv

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.cwd
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ReturnCode = exitErr.ExitCode()
		} else {
			res.ReturnCode = 2
			res.Error = "command execution failed: " + err.Error()
		}
		r.logger.Debug("probe command failed",
			zap.Strings("argv", argv),
			zap.Int("returncode", res.ReturnCode),
		)
	}
	return res
}
