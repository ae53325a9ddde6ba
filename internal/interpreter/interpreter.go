// File: internal/interpreter/interpreter.go
// Description: Scenario execution. The interpreter walks parsed script
// commands, drives the browser agent, captures checkpoints through the
// evidence collector and evaluates inline assertions. Every command leaves a
// structured entry in the run result, failures included.
package interpreter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/agent"
	"github.com/vantikan/verity-cli/internal/evidence"
	"github.com/vantikan/verity-cli/internal/probe"
	"github.com/vantikan/verity-cli/internal/script"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CommandEntry records one executed script command.
type CommandEntry struct {
	Command script.Command `json:"command"`
	Result  interface{}    `json:"result"`
	Error   string         `json:"error,omitempty"`
	Fatal   bool           `json:"fatal,omitempty"`
}

// AssertionResult is the outcome of one inline assert-* command.
type AssertionResult struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Passed     bool   `json:"passed"`
	Message    string `json:"message"`
	Evidence   string `json:"evidence,omitempty"`
	ReturnCode int    `json:"returncode"`
}

// RunLogs indexes per-checkpoint log artifacts by checkpoint name.
type RunLogs struct {
	Errors  map[string]string `json:"errors"`
	Console map[string]string `json:"console"`
}

// ArtifactIndex indexes the richer checkpoint artifacts by checkpoint name.
type ArtifactIndex struct {
	DrupalMessages map[string]string   `json:"drupal_messages"`
	AIExplorer     map[string]string   `json:"ai_explorer"`
	Probes         map[string][]string `json:"probes"`
}

// RunResult is the complete record of one scenario execution.
type RunResult struct {
	Session     string                 `json:"session"`
	Started     string                 `json:"started"`
	BaseURL     string                 `json:"base_url"`
	Commands    []*CommandEntry        `json:"commands"`
	Checkpoints []*evidence.Checkpoint `json:"checkpoints"`
	Assertions  []*AssertionResult     `json:"assertions"`
	Extracts    map[string]string      `json:"extracts"`
	Probes      map[string]string      `json:"probes"`
	Snapshots   map[string]string      `json:"snapshots"`
	Screenshots []string               `json:"screenshots"`
	Logs        RunLogs                `json:"logs"`
	Artifacts   ArtifactIndex          `json:"artifacts"`
	Completed   string                 `json:"completed"`
	Trace       string                 `json:"trace,omitempty"`
}

// syntheticResult stands in for an agent record when a command fails before
// reaching the browser.
type syntheticResult struct {
	ReturnCode int    `json:"returncode"`
	Stderr     string `json:"stderr,omitempty"`
}

type checkpointResult struct {
	Checkpoint string `json:"checkpoint"`
}

type waitResult struct {
	WaitedSeconds float64 `json:"waited_seconds"`
}

type extractResult struct {
	Extract string `json:"extract"`
	Path    string `json:"path"`
}

type probeResult struct {
	Probe      string `json:"probe"`
	Path       string `json:"path"`
	ReturnCode int    `json:"returncode"`
}

// Options configures one scenario execution.
type Options struct {
	BaseURL    string
	Session    string
	OutDir     string
	StopOnFail bool
}

type probeRunner interface {
	Run(ctx context.Context, argv []string) *probe.Result
}

// Interpreter executes scenario scripts against one browser session.
type Interpreter struct {
	agent     agent.Runner
	collector *evidence.Collector
	probes    probeRunner
	logger    *zap.Logger
	// sleep is injectable so wait steps do not slow tests down.
	sleep func(time.Duration)

	commandTimeout time.Duration
	evalTimeout    time.Duration
}

// New wires an Interpreter over an agent runner, a checkpoint collector and a
// probe runner.
func New(agentRunner agent.Runner, collector *evidence.Collector, probes probeRunner, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		agent:          agentRunner,
		collector:      collector,
		probes:         probes,
		logger:         logger.Named("interpreter"),
		sleep:          time.Sleep,
		commandTimeout: 120 * time.Second,
		evalTimeout:    60 * time.Second,
	}
}

// PrefixURL resolves a script path argument against the site base URL.
// Absolute URLs pass through untouched.
func PrefixURL(baseURL, maybePath string) string {
	if strings.HasPrefix(maybePath, "http://") || strings.HasPrefix(maybePath, "https://") {
		return maybePath
	}
	if strings.HasPrefix(maybePath, "/") {
		return strings.TrimRight(baseURL, "/") + maybePath
	}
	return strings.TrimRight(baseURL, "/") + "/" + maybePath
}

func (it *Interpreter) run(ctx context.Context, session string, parts []string) *agent.Record {
	return it.agent.Run(ctx, parts, agent.Options{
		Session:  session,
		WantJSON: true,
		Timeout:  it.commandTimeout,
	})
}

func (it *Interpreter) runLine(ctx context.Context, session, line string) *agent.Record {
	return it.agent.RunLine(ctx, line, agent.Options{
		Session:  session,
		WantJSON: true,
		Timeout:  it.commandTimeout,
	})
}

func (it *Interpreter) eval(ctx context.Context, session, js string) *agent.Record {
	return it.agent.Run(ctx, []string{"eval", "--json", js}, agent.Options{
		Session:  session,
		WantJSON: true,
		Timeout:  it.evalTimeout,
	})
}

// resultReturnCode extracts the return code used for stop-on-fail decisions.
// Results without one count as success.
func resultReturnCode(result interface{}) int {
	switch v := result.(type) {
	case *agent.Record:
		return v.ReturnCode
	case *syntheticResult:
		return v.ReturnCode
	case *AssertionResult:
		return v.ReturnCode
	case *probeResult:
		return v.ReturnCode
	default:
		return 0
	}
}

// truthy mirrors loose JavaScript truthiness for eval payloads.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

func jsString(s string) string {
	quoted, err := json.MarshalToString(s)
	if err != nil {
		return strconv.Quote(s)
	}
	return quoted
}

func flagValue(tokens []string, flag string) (string, bool) {
	for i, tok := range tokens {
		if tok == flag {
			if i+1 < len(tokens) {
				return tokens[i+1], true
			}
			return "", true
		}
	}
	return "", false
}

func stripIDFlag(tokens []string) ([]string, string) {
	for i, tok := range tokens {
		if tok == "--id" && i+1 < len(tokens) {
			id := tokens[i+1]
			return append(tokens[:i:i], tokens[i+2:]...), id
		}
	}
	return tokens, ""
}

// Execute runs the scenario commands in order and returns the run record.
// Only workspace setup can fail outright; command failures land in the record.
func (it *Interpreter) Execute(ctx context.Context, commands []script.Command, opts Options) (*RunResult, error) {
	runDir := filepath.Join(opts.OutDir, opts.Session)
	assertDir := filepath.Join(runDir, "assertions")
	extractDir := filepath.Join(runDir, "extracts")
	probeDir := filepath.Join(runDir, "probes")
	for _, dir := range []string{runDir, assertDir, extractDir, probeDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run directory: %w", err)
		}
	}

	res := &RunResult{
		Session:     opts.Session,
		Started:     agent.Timestamp(),
		BaseURL:     opts.BaseURL,
		Commands:    []*CommandEntry{},
		Checkpoints: []*evidence.Checkpoint{},
		Assertions:  []*AssertionResult{},
		Extracts:    map[string]string{},
		Probes:      map[string]string{},
		Snapshots:   map[string]string{},
		Screenshots: []string{},
		Logs:        RunLogs{Errors: map[string]string{}, Console: map[string]string{}},
		Artifacts: ArtifactIndex{
			DrupalMessages: map[string]string{},
			AIExplorer:     map[string]string{},
			Probes:         map[string][]string{},
		},
	}

	for _, cmd := range commands {
		entry := &CommandEntry{Command: cmd}
		it.logger.Debug("executing command",
			zap.Int("line", cmd.Line),
			zap.String("type", cmd.Type),
		)

		switch {
		case cmd.Type == "open":
			url := PrefixURL(opts.BaseURL, cmd.Args)
			entry.Result = it.run(ctx, opts.Session, []string{"open", url})

		case cmd.Type == "checkpoint" || cmd.Type == "snapshot":
			name := strings.TrimSpace(cmd.Args)
			mode := evidence.ModeSnapshot
			includeScreenshot := false
			if cmd.Type == "checkpoint" {
				mode = evidence.ModeFull
				includeScreenshot = true
				if name == "" {
					name = fmt.Sprintf("checkpoint_%d", len(res.Checkpoints)+1)
				}
			} else if name == "" {
				name = fmt.Sprintf("snapshot_%d", len(res.Snapshots)+1)
			}
			cp := it.collector.Collect(ctx, name, opts.Session, runDir, mode, includeScreenshot)
			entry.Result = &checkpointResult{Checkpoint: name}
			res.Checkpoints = append(res.Checkpoints, cp)
			it.indexArtifacts(res, name, cp)

		case cmd.Type == "screenshot":
			name := strings.TrimSpace(cmd.Args)
			if name == "" {
				name = fmt.Sprintf("screenshot_%d.png", len(res.Screenshots)+1)
			}
			if !strings.HasSuffix(strings.ToLower(name), ".png") {
				name += ".png"
			}
			shotPath := filepath.Join(runDir, name)
			entry.Result = it.agent.Run(ctx, []string{"screenshot", shotPath}, agent.Options{
				Session: opts.Session,
				Timeout: it.commandTimeout,
			})
			res.Screenshots = append(res.Screenshots, shotPath)

		case cmd.Type == "wait":
			raw := strings.TrimSpace(cmd.Args)
			if raw == "" {
				it.sleep(time.Second)
				entry.Result = &waitResult{WaitedSeconds: 1}
			} else if secs, err := strconv.ParseFloat(raw, 64); err == nil {
				it.sleep(time.Duration(secs * float64(time.Second)))
				entry.Result = &waitResult{WaitedSeconds: secs}
			} else {
				entry.Result = it.runLine(ctx, opts.Session, "wait "+raw)
			}

		case cmd.Type == "expect":
			entry.Result = it.execExpect(ctx, opts.Session, cmd.Args)

		case cmd.Type == "extract":
			entry.Result = it.execExtract(ctx, opts.Session, extractDir, cmd.Args, res)

		case cmd.Type == "probe":
			result, registered := it.execProbe(ctx, probeDir, cmd.Args, res)
			entry.Result = result
			if !registered {
				res.Commands = append(res.Commands, entry)
				continue
			}

		case strings.HasPrefix(cmd.Type, "assert-"):
			tokens, err := shellquote.Split(cmd.Args)
			if err != nil {
				entry.Result = &syntheticResult{ReturnCode: 2, Stderr: "assert parse error: " + err.Error()}
				if opts.StopOnFail {
					entry.Fatal = true
				}
				res.Commands = append(res.Commands, entry)
				continue
			}
			if len(tokens) == 0 {
				entry.Result = &syntheticResult{ReturnCode: 1, Stderr: "assert requires arguments"}
				if opts.StopOnFail {
					entry.Fatal = true
				}
				res.Commands = append(res.Commands, entry)
				continue
			}
			entry.Result = it.execAssert(ctx, opts.Session, assertDir, cmd.Type, tokens, res)

		default:
			// Unknown types pass straight through to the browser agent.
			entry.Result = it.runLine(ctx, opts.Session, cmd.Raw)
		}

		if opts.StopOnFail && resultReturnCode(entry.Result) != 0 {
			entry.Fatal = true
			res.Commands = append(res.Commands, entry)
			break
		}
		res.Commands = append(res.Commands, entry)
	}

	res.Completed = agent.Timestamp()
	return res, nil
}

func (it *Interpreter) indexArtifacts(res *RunResult, name string, cp *evidence.Checkpoint) {
	if cp.Artifacts.Snapshot != "" {
		res.Snapshots[name] = cp.Artifacts.Snapshot
	}
	if cp.Artifacts.Screenshot != "" {
		res.Screenshots = append(res.Screenshots, cp.Artifacts.Screenshot)
	}
	if cp.Artifacts.Console != "" {
		res.Logs.Console[name] = cp.Artifacts.Console
	}
	if cp.Artifacts.Errors != "" {
		res.Logs.Errors[name] = cp.Artifacts.Errors
	}
	if cp.Artifacts.DrupalMessages != "" {
		res.Artifacts.DrupalMessages[name] = cp.Artifacts.DrupalMessages
	}
	if cp.Artifacts.AIExplorer != "" {
		res.Artifacts.AIExplorer[name] = cp.Artifacts.AIExplorer
	}
	if len(cp.Artifacts.Probes) > 0 {
		res.Artifacts.Probes[name] = cp.Artifacts.Probes
	}
}

func (it *Interpreter) execExpect(ctx context.Context, session, args string) interface{} {
	raw := strings.TrimSpace(args)
	if raw == "" {
		return &syntheticResult{ReturnCode: 1, Stderr: "expect requires an argument"}
	}
	if strings.HasPrefix(raw, "--") {
		return it.runLine(ctx, session, "wait "+raw)
	}
	kind, rest, found := strings.Cut(raw, " ")
	if found {
		switch strings.ToLower(kind) {
		case "text":
			return it.runLine(ctx, session, "wait --text "+rest)
		case "selector":
			return it.runLine(ctx, session, "wait "+rest)
		}
	}
	return it.runLine(ctx, session, "wait "+raw)
}

func (it *Interpreter) execExtract(ctx context.Context, session, extractDir, args string, res *RunResult) interface{} {
	tokens, err := shellquote.Split(args)
	if err != nil {
		return &syntheticResult{ReturnCode: 2, Stderr: "extract parse error: " + err.Error()}
	}
	if len(tokens) < 2 {
		return &syntheticResult{ReturnCode: 1, Stderr: "extract requires a type and name"}
	}
	extractType, name := tokens[0], tokens[1]

	var payload interface{}
	switch extractType {
	case "eval":
		js := strings.Join(tokens[2:], " ")
		rec := it.eval(ctx, session, js)
		payload = map[string]interface{}{"record": rec}
	case "text":
		rec := it.run(ctx, session, append([]string{"get", "text"}, tokens[2:]...))
		payload = map[string]interface{}{"record": rec}
	default:
		payload = map[string]interface{}{"error": "unknown extract type: " + extractType}
	}

	outPath := filepath.Join(extractDir, name+".json")
	if err := evidence.WriteRecord(outPath, payload); err != nil {
		return &syntheticResult{ReturnCode: 2, Stderr: err.Error()}
	}
	res.Extracts[name] = outPath
	return &extractResult{Extract: name, Path: outPath}
}

// execProbe returns the command result and whether the normal stop-on-fail
// bookkeeping should run. Unknown probe types are recorded and skipped.
func (it *Interpreter) execProbe(ctx context.Context, probeDir, args string, res *RunResult) (interface{}, bool) {
	tokens, err := shellquote.Split(args)
	if err != nil {
		return &syntheticResult{ReturnCode: 2, Stderr: "probe parse error: " + err.Error()}, true
	}
	if len(tokens) < 2 {
		return &syntheticResult{ReturnCode: 1, Stderr: "probe requires type and name"}, true
	}
	probeType, name := tokens[0], tokens[1]

	rest := tokens[2:]
	for i, tok := range tokens {
		if tok == "--" {
			rest = tokens[i+1:]
			break
		}
	}

	var argv []string
	switch probeType {
	case "shell":
		argv = rest
	case "drush":
		argv = append([]string{"drush"}, rest...)
	default:
		return &syntheticResult{ReturnCode: 1, Stderr: "unknown probe type: " + probeType}, false
	}

	rec := it.probes.Run(ctx, argv)
	outPath := filepath.Join(probeDir, name+".json")
	if err := evidence.WriteRecord(outPath, rec); err != nil {
		return &syntheticResult{ReturnCode: 2, Stderr: err.Error()}, true
	}
	res.Probes[name] = outPath
	return &probeResult{Probe: name, Path: outPath, ReturnCode: rec.ReturnCode}, true
}

func (it *Interpreter) execAssert(ctx context.Context, session, assertDir, assertType string, tokens []string, res *RunResult) *AssertionResult {
	tokens, id := stripIDFlag(tokens)
	if id == "" {
		id = fmt.Sprintf("%s-%d", assertType, len(res.Assertions)+1)
	}
	result := &AssertionResult{ID: id, Type: assertType}
	evidencePath := filepath.Join(assertDir, id+".json")

	writeEvidence := func(payload interface{}) {
		if err := evidence.WriteRecord(evidencePath, payload); err != nil {
			it.logger.Warn("failed to write assertion evidence",
				zap.String("id", id),
				zap.Error(err),
			)
			return
		}
		result.Evidence = evidencePath
	}

	switch assertType {
	case "assert-present":
		if text, ok := flagValue(tokens, "--text"); ok {
			rec := it.run(ctx, session, []string{"wait", "--text", text})
			writeEvidence(map[string]interface{}{"record": rec})
			result.Passed = rec.ReturnCode == 0
			if result.Passed {
				result.Message = "text found: " + text
			} else {
				result.Message = "text not found: " + text
			}
		} else if selector, ok := flagValue(tokens, "--selector"); ok {
			rec := it.run(ctx, session, []string{"wait", selector})
			writeEvidence(map[string]interface{}{"record": rec})
			result.Passed = rec.ReturnCode == 0
			if result.Passed {
				result.Message = "selector found: " + selector
			} else {
				result.Message = "selector not found: " + selector
			}
		} else {
			result.Message = "assert-present requires --text or --selector"
		}

	case "assert-absent":
		if text, ok := flagValue(tokens, "--text"); ok {
			js := fmt.Sprintf("(() => !document.body.innerText.includes(%s))()", jsString(text))
			rec := it.eval(ctx, session, js)
			writeEvidence(map[string]interface{}{"record": rec})
			result.Passed = truthy(agent.Data(rec))
			result.Message = "text absent: " + text
		} else if selector, ok := flagValue(tokens, "--selector"); ok {
			js := fmt.Sprintf("(() => document.querySelectorAll(%s).length === 0)()", jsString(selector))
			rec := it.eval(ctx, session, js)
			writeEvidence(map[string]interface{}{"record": rec})
			result.Passed = truthy(agent.Data(rec))
			result.Message = "selector absent: " + selector
		} else {
			result.Message = "assert-absent requires --text or --selector"
		}

	case "assert-no-js-errors":
		rec := it.agent.Run(ctx, []string{"errors"}, agent.Options{
			Session:  session,
			WantJSON: true,
			Timeout:  it.evalTimeout,
		})
		entries := agent.LogEntries(rec)
		writeEvidence(map[string]interface{}{"record": rec, "count": len(entries)})
		result.Passed = len(entries) == 0
		result.Message = fmt.Sprintf("JS errors count: %d", len(entries))

	case "assert-no-drupal-alerts":
		msgPath := filepath.Join(assertDir, id+".drupal_messages.json")
		payload, err := it.collector.CollectMessages(ctx, session, msgPath)
		if err != nil {
			result.Message = "failed to capture Drupal messages: " + err.Error()
		} else {
			result.Evidence = msgPath
			result.Passed = !truthy(payload.Data["alert"])
			result.Message = "no Drupal alert messages"
		}

	case "assert-url":
		if part, ok := flagValue(tokens, "--contains"); ok {
			url, _ := it.collector.CollectURL(ctx, session)
			writeEvidence(map[string]interface{}{"url": url})
			result.Passed = url != "" && strings.Contains(url, part)
			result.Message = "url contains " + part
		} else {
			result.Message = "assert-url requires --contains"
		}

	case "assert-count":
		selector, hasSelector := flagValue(tokens, "--selector")
		eqRaw, hasEq := flagValue(tokens, "--eq")
		expected, convErr := strconv.Atoi(eqRaw)
		if !hasSelector || !hasEq || convErr != nil {
			result.Message = "assert-count requires --selector and integer --eq"
		} else {
			js := fmt.Sprintf("(() => document.querySelectorAll(%s).length)()", jsString(selector))
			rec := it.eval(ctx, session, js)
			writeEvidence(map[string]interface{}{"record": rec})
			count, ok := agent.Data(rec).(float64)
			result.Passed = ok && int(count) == expected
			result.Message = fmt.Sprintf("selector count %v == %d", agent.Data(rec), expected)
		}

	default:
		result.Message = "unknown assertion type: " + assertType
	}

	res.Assertions = append(res.Assertions, result)
	if !result.Passed {
		result.ReturnCode = 1
	}
	return result
}
