// File: internal/agent/agent.go
// Description: Boundary to the external agent-browser process. Every command
// is captured as a Record; transport failures (bad exit, non-JSON stdout,
// timeouts) are carried as data so downstream comparison and judging can
// reason about missing evidence instead of crashing on it.
package agent

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsonCommands is the set of agent-browser verbs that understand --json.
var jsonCommands = map[string]struct{}{
	"open":     {},
	"snapshot": {},
	"find":     {},
	"wait":     {},
	"get":      {},
	"click":    {},
	"fill":     {},
	"press":    {},
	"errors":   {},
	"console":  {},
	"tab":      {},
	"frame":    {},
	"eval":     {},
}

// Record is the envelope captured for one agent-browser invocation.
type Record struct {
	Time        string      `json:"time"`
	Session     string      `json:"session"`
	Argv        []string    `json:"argv"`
	ReturnCode  int         `json:"returncode"`
	Stdout      string      `json:"stdout"`
	Stderr      string      `json:"stderr"`
	Parsed      interface{} `json:"parsed,omitempty"`
	ParsedError string      `json:"parsed_error,omitempty"`
}

// Options controls a single invocation.
type Options struct {
	Session  string
	WantJSON bool
	Timeout  time.Duration
}

// Runner issues commands against one agent-browser installation. The concrete
// implementation shells out; tests substitute a stub.
type Runner interface {
	Run(ctx context.Context, parts []string, opts Options) *Record
	RunLine(ctx context.Context, line string, opts Options) *Record
}

// Client runs the agent-browser binary as a subprocess.
type Client struct {
	binary string
	logger *zap.Logger
}

// NewClient creates a Client for the configured agent-browser binary.
func NewClient(cfg config.AgentConfig, logger *zap.Logger) *Client {
	return &Client{
		binary: cfg.Binary,
		logger: logger.Named("agent"),
	}
}

// Timestamp renders the wall clock the way all persisted artifacts expect it.
func Timestamp() string {
	return time.Now().Format("2006-01-02T15:04:05")
}

// ShouldAddJSON reports whether --json should be appended to the command.
// Commands that already carry the flag, and verbs that do not understand it,
// are left alone.
func ShouldAddJSON(parts []string, wantJSON bool) bool {
	if !wantJSON || len(parts) == 0 {
		return false
	}
	for _, p := range parts {
		if p == "--json" {
			return false
		}
	}
	_, ok := jsonCommands[parts[0]]
	return ok
}

// Run invokes agent-browser with the given command vector and session. The
// returned Record is never nil; process failures are encoded in ReturnCode
// and Stderr rather than returned as errors.
func (c *Client) Run(ctx context.Context, parts []string, opts Options) *Record {
	argv := append([]string{"--session", opts.Session}, parts...)
	if ShouldAddJSON(parts, opts.WantJSON) {
		argv = append(argv, "--json")
	}

	rec := &Record{
		Time:    Timestamp(),
		Session: opts.Session,
		Argv:    append([]string{c.binary}, argv...),
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, c.binary, argv...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	rec.Stdout = stdout.String()
	rec.Stderr = stderr.String()

	switch {
	case err == nil:
		rec.ReturnCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			rec.ReturnCode = exitErr.ExitCode()
		} else {
			// Process failed to start or was killed before exiting cleanly.
			rec.ReturnCode = 2
			if rec.Stderr == "" {
				rec.Stderr = err.Error()
			}
		}
		c.logger.Debug("agent-browser command failed",
			zap.Strings("argv", argv),
			zap.Int("returncode", rec.ReturnCode),
		)
	}

	if opts.WantJSON && strings.TrimSpace(rec.Stdout) != "" {
		var parsed interface{}
		if uerr := json.UnmarshalFromString(rec.Stdout, &parsed); uerr != nil {
			rec.ParsedError = "stdout was not valid JSON"
		} else {
			rec.Parsed = parsed
		}
	}
	return rec
}

// RunLine splits a shell-style command line and runs it. A malformed line
// (unbalanced quotes) produces a synthetic failure record.
func (c *Client) RunLine(ctx context.Context, line string, opts Options) *Record {
	parts, err := shellquote.Split(line)
	if err != nil {
		return &Record{
			Time:       Timestamp(),
			Session:    opts.Session,
			ReturnCode: 2,
			Stderr:     "command parse error: " + err.Error(),
		}
	}
	return c.Run(ctx, parts, opts)
}
