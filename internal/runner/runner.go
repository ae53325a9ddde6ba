// File: internal/runner/runner.go
// Description: Manifest execution. The runner turns a validated manifest
// into one or two evidence-producing runs: login steps are synthesized from
// the environment credentials, typed steps execute in order, and compare
// mode replays the same steps against baseline and modified states with an
// optional shell hook between them.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/agent"
	"github.com/vantikan/verity-cli/internal/evidence"
	"github.com/vantikan/verity-cli/internal/interpreter"
	"github.com/vantikan/verity-cli/internal/manifest"
	"github.com/vantikan/verity-cli/internal/probe"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session names per run mode.
const (
	SessionSingle   = "intent"
	SessionBaseline = "intent_baseline"
	SessionModified = "intent_modified"
)

// StepRecord is the execution record of one manifest step.
type StepRecord struct {
	Step   interface{} `json:"step"`
	Result interface{} `json:"result"`
	Error  string      `json:"error,omitempty"`
}

// StepResults is the record of one manifest run.
type StepResults struct {
	Session     string                 `json:"session"`
	Started     string                 `json:"started"`
	BaseURL     string                 `json:"base_url"`
	Steps       []*StepRecord          `json:"steps"`
	Checkpoints []*evidence.Checkpoint `json:"checkpoints"`
	Assertions  []interface{}          `json:"assertions"`
	Extracts    map[string]string      `json:"extracts"`
	Probes      map[string]string      `json:"probes"`
	Completed   string                 `json:"completed"`
}

// RunPayload is the full output of executing a manifest.
type RunPayload struct {
	Generated string                   `json:"generated"`
	Mode      string                   `json:"mode"`
	Runs      map[string]*StepResults  `json:"runs"`
	Shell     map[string]*probe.Result `json:"shell,omitempty"`
	Manifest  manifest.Manifest        `json:"manifest,omitempty"`
}

type waitResult struct {
	WaitedSeconds float64 `json:"waited_seconds"`
}

type checkpointResult struct {
	Checkpoint string `json:"checkpoint"`
}

// Runner executes intent manifests.
type Runner struct {
	agent  agent.Runner
	logger *zap.Logger
	sleep  func(time.Duration)
	now    func() time.Time
}

// New builds a Runner over an agent runner.
func New(agentRunner agent.Runner, logger *zap.Logger) *Runner {
	return &Runner{
		agent:  agentRunner,
		logger: logger.Named("runner"),
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// BuildLoginSteps synthesizes the login sequence from environment
// credentials. No credentials means no extra steps.
func BuildLoginSteps(env map[string]interface{}) []interface{} {
	adminUser := manifest.Str(env["admin_user"])
	if adminUser == "" {
		return nil
	}
	loginURL := manifest.Str(env["login_url"])
	if loginURL == "" {
		loginURL = "/user/login"
	}
	adminPass := manifest.Str(env["admin_pass"])
	return []interface{}{
		map[string]interface{}{"open": loginURL},
		map[string]interface{}{"wait": "--load networkidle"},
		map[string]interface{}{"command": "find label " + shellquote.Join("Username") + " fill " + shellquote.Join(adminUser)},
		map[string]interface{}{"command": "find label " + shellquote.Join("Password") + " fill " + shellquote.Join(adminPass)},
		map[string]interface{}{"command": "find role button click --name " + shellquote.Join("Log in")},
		map[string]interface{}{"wait": "--load networkidle"},
	}
}

// Run executes the manifest and returns the full run payload. Compare mode
// runs the steps twice with the configured shell hook in between.
func (r *Runner) Run(ctx context.Context, m manifest.Manifest, outputDir string) (*RunPayload, error) {
	env := m.Environment()
	strategy := m.Strategy()
	baseURL := manifest.Str(env["base_url"])
	mode := manifest.Str(strategy["mode"])
	if mode == "" {
		mode = "single"
	}

	probeCwd := manifest.Str(env["probe_cwd"])
	if probeCwd == "" {
		probeCwd = manifest.Str(env["project_root"])
	}
	probes := probe.NewRunner(probeCwd, r.logger)

	collectorCfg := evidence.Config{
		ProbeCommands:       m.ProbeCommands(),
		RawValuePatterns:    manifest.StrList(strategy["raw_value_regex"]),
		LabelTerms:          manifest.StrList(strategy["label_terms"]),
		ToolPayloadPatterns: manifest.StrList(strategy["tool_payload_regex"]),
	}
	collector := evidence.NewCollector(r.agent, probes, collectorCfg, r.logger)

	allSteps := append(BuildLoginSteps(env), m.Steps()...)

	payload := &RunPayload{
		Generated: agent.Timestamp(),
		Mode:      mode,
		Runs:      map[string]*StepResults{},
	}

	if mode == "single" {
		run, err := r.executeSteps(ctx, allSteps, baseURL, SessionSingle, outputDir, collector, m.Timeouts())
		if err != nil {
			return nil, err
		}
		payload.Runs["single"] = run
		return payload, nil
	}

	baseline, err := r.executeSteps(ctx, allSteps, baseURL, SessionBaseline, filepath.Join(outputDir, "baseline"), collector, m.Timeouts())
	if err != nil {
		return nil, err
	}
	payload.Runs["baseline"] = baseline

	if betweenCmd := manifest.Str(strategy["between_cmd"]); betweenCmd != "" {
		payload.Shell = map[string]*probe.Result{
			"between": probes.RunLine(ctx, betweenCmd),
		}
	}

	modified, err := r.executeSteps(ctx, allSteps, baseURL, SessionModified, filepath.Join(outputDir, "modified"), collector, m.Timeouts())
	if err != nil {
		return nil, err
	}
	payload.Runs["modified"] = modified

	return payload, nil
}

func timeoutFromMs(timeouts map[string]interface{}, key string, def int) time.Duration {
	ms := manifest.Int(timeouts[key], def)
	if ms <= 0 {
		ms = def
	}
	return time.Duration(ms) * time.Millisecond
}

func (r *Runner) executeSteps(
	ctx context.Context,
	steps []interface{},
	baseURL, session, outputDir string,
	collector *evidence.Collector,
	timeouts map[string]interface{},
) (*StepResults, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	pageLoadTimeout := timeoutFromMs(timeouts, "page_load_ms", manifest.DefaultPageLoadMs)

	res := &StepResults{
		Session:     session,
		Started:     agent.Timestamp(),
		BaseURL:     baseURL,
		Steps:       []*StepRecord{},
		Checkpoints: []*evidence.Checkpoint{},
		Assertions:  []interface{}{},
		Extracts:    map[string]string{},
		Probes:      map[string]string{},
	}

	for _, rawStep := range steps {
		record := &StepRecord{Step: rawStep}
		step := manifest.Map(rawStep)
		if step == nil {
			record.Error = "step must be an object"
			res.Steps = append(res.Steps, record)
			continue
		}

		switch {
		case hasKey(step, "open"):
			url := interpreter.PrefixURL(baseURL, fmt.Sprint(step["open"]))
			record.Result = r.agent.Run(ctx, []string{"open", url}, agent.Options{
				Session:  session,
				WantJSON: true,
				Timeout:  pageLoadTimeout,
			})

		case hasKey(step, "wait"):
			switch arg := step["wait"].(type) {
			case int, int64, float64:
				secs := float64(manifest.Int(arg, 0))
				if f, ok := arg.(float64); ok {
					secs = f
				}
				r.sleep(time.Duration(secs * float64(time.Second)))
				record.Result = &waitResult{WaitedSeconds: secs}
			default:
				record.Result = r.agent.RunLine(ctx, "wait "+manifest.Str(arg), agent.Options{
					Session:  session,
					WantJSON: true,
					Timeout:  pageLoadTimeout,
				})
			}

		case hasKey(step, "checkpoint"):
			name := fmt.Sprint(step["checkpoint"])
			cp := collector.Collect(ctx, name, session, outputDir, evidence.ModeFull, true)
			res.Checkpoints = append(res.Checkpoints, cp)
			record.Result = &checkpointResult{Checkpoint: name}

		case hasKey(step, "action"):
			record.Result, record.Error = r.executeAction(ctx, session, step, timeouts)

		case hasKey(step, "command"):
			record.Result = r.agent.RunLine(ctx, manifest.Str(step["command"]), agent.Options{
				Session:  session,
				WantJSON: true,
				Timeout:  120 * time.Second,
			})

		default:
			record.Error = "Unknown step type"
		}

		res.Steps = append(res.Steps, record)
	}

	res.Completed = agent.Timestamp()
	return res, nil
}

func hasKey(m map[string]interface{}, key string) bool {
	_, ok := m[key]
	return ok
}

// executeAction dispatches a typed manifest action. The action is either a
// bare string with its parameters on the step, or an object carrying them.
func (r *Runner) executeAction(ctx context.Context, session string, step map[string]interface{}, timeouts map[string]interface{}) (interface{}, string) {
	actionType := ""
	actionPayload := step
	if action := manifest.Map(step["action"]); action != nil {
		actionType = manifest.Str(action["type"])
		if actionType == "" {
			actionType = manifest.Str(action["name"])
		}
		actionPayload = action
	} else {
		actionType = manifest.Str(step["action"])
	}

	if actionType != "run_ai_agent_explorer" {
		return nil, "Unknown action type: " + actionType
	}

	promptText := ""
	if promptFile := manifest.Str(actionPayload["prompt_file"]); promptFile != "" {
		raw, err := os.ReadFile(promptFile)
		if err != nil {
			return nil, "read prompt file: " + err.Error()
		}
		promptText = string(raw)
	} else {
		promptText = manifest.Str(actionPayload["prompt"])
	}

	runButtons := manifest.StrList(actionPayload["run_buttons"])
	if len(runButtons) == 0 {
		runButton := manifest.Str(actionPayload["run_button"])
		if runButton == "" {
			runButton = "Run Agent"
		}
		runButtons = []string{runButton, "Run"}
	}

	opts := ExplorerOptions{
		PromptText:            promptText,
		Model:                 manifest.Str(actionPayload["model"]),
		PromptSelector:        manifest.Str(actionPayload["prompt_selector"]),
		ModelSelector:         manifest.Str(actionPayload["model_selector"]),
		RunButtons:            runButtons,
		CompletionTexts:       manifest.StrList(actionPayload["completion_texts"]),
		CompletionTimeout:     time.Duration(manifest.Int(actionPayload["completion_timeout_ms"], manifest.Int(timeouts["ai_response_ms"], manifest.DefaultAIResponseMs))) * time.Millisecond,
		PostCompletionTimeout: time.Duration(manifest.Int(actionPayload["post_completion_timeout_ms"], 60000)) * time.Millisecond,
		StableDuration:        time.Duration(manifest.Int(actionPayload["post_completion_stable_ms"], 1500)) * time.Millisecond,
		PreMinCount:           manifest.Int(actionPayload["pre_min_count"], 1),
	}
	return r.runExplorer(ctx, session, opts), ""
}

// WritePayload persists the run payload as indented JSON.
func WritePayload(path string, payload *RunPayload) error {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run payload: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write run payload: %w", err)
	}
	return nil
}
