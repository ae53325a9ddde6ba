// File: internal/evidence/checkpoint.go
// Description: Checkpoint capture. A checkpoint freezes the observable state
// of the browser session into artifact files on disk; every capture kind is
// isolated so one broken collector costs its artifact, not the checkpoint.
package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/agent"
	"github.com/vantikan/verity-cli/internal/probe"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Checkpoint capture modes.
const (
	ModeSnapshot = "snapshot"
	ModeFull     = "full"
)

// Artifacts maps capture kinds to the files they produced.
type Artifacts struct {
	Snapshot       string   `json:"snapshot,omitempty"`
	Screenshot     string   `json:"screenshot,omitempty"`
	Console        string   `json:"console,omitempty"`
	Errors         string   `json:"errors,omitempty"`
	DrupalMessages string   `json:"drupal_messages,omitempty"`
	AIExplorer     string   `json:"ai_explorer,omitempty"`
	Probes         []string `json:"probes,omitempty"`
}

// Checkpoint is the persisted record of one capture point.
type Checkpoint struct {
	Name      string                 `json:"name"`
	Time      string                 `json:"time"`
	Mode      string                 `json:"mode"`
	URL       string                 `json:"url"`
	Artifacts Artifacts              `json:"artifacts"`
	Summary   map[string]interface{} `json:"summary"`
	Errors    []string               `json:"errors"`
}

// messagesScript harvests Drupal status and alert regions from the page.
const messagesScript = `(() => {` +
	`const statusEls = Array.from(document.querySelectorAll('[role="status"]'));` +
	`const alertEls = Array.from(document.querySelectorAll('[role="alert"]'));` +
	`const getText = (els) => els.map(e => (e.textContent || '').trim()).filter(Boolean).join('\n');` +
	`return {status: getText(statusEls) || null, alert: getText(alertEls) || null};` +
	`})()`

// transcriptScript reads the AI explorer message blocks and the selected model.
const transcriptScript = `(() => {` +
	`const pres = Array.from(document.querySelectorAll('.explorer-messages pre')).map(p => p.textContent || '');` +
	`const modelSelect = document.querySelector('#edit-model');` +
	`let model = null;` +
	`if (modelSelect && modelSelect.options && modelSelect.selectedIndex >= 0) {` +
	`const opt = modelSelect.options[modelSelect.selectedIndex];` +
	`model = {value: opt ? opt.value : null, label: opt ? (opt.textContent || '') : null};` +
	`}` +
	`return {pre_texts: pres, model: model};` +
	`})()`

// Config tunes a Collector. Zero timeouts fall back to sensible defaults.
type Config struct {
	ProbeCommands       []string
	RawValuePatterns    []string
	LabelTerms          []string
	ToolPayloadPatterns []string
	CommandTimeout      time.Duration
	LogTimeout          time.Duration
	QueryTimeout        time.Duration
}

func (c *Config) applyDefaults() {
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 120 * time.Second
	}
	if c.LogTimeout <= 0 {
		c.LogTimeout = 60 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 30 * time.Second
	}
}

// probeRunner is satisfied by *probe.Runner.
type probeRunner interface {
	RunLine(ctx context.Context, command string) *probe.Result
}

// Collector captures checkpoints for one agent-browser session stream.
type Collector struct {
	agent  agent.Runner
	probes probeRunner
	cfg    Config
	logger *zap.Logger
}

// NewCollector wires a Collector over an agent runner and a probe runner.
func NewCollector(agentRunner agent.Runner, probes probeRunner, cfg Config, logger *zap.Logger) *Collector {
	cfg.applyDefaults()
	return &Collector{
		agent:  agentRunner,
		probes: probes,
		cfg:    cfg,
		logger: logger.Named("evidence"),
	}
}

// WriteRecord persists any artifact payload as indented JSON.
func WriteRecord(path string, payload interface{}) error {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// CollectURL returns the session's current URL, empty when unavailable.
func (c *Collector) CollectURL(ctx context.Context, session string) (string, *agent.Record) {
	rec := c.agent.Run(ctx, []string{"get", "url"}, agent.Options{
		Session:  session,
		WantJSON: true,
		Timeout:  c.cfg.QueryTimeout,
	})
	url, _ := agent.Text(rec)
	return url, rec
}

// CollectSnapshot captures the interactive accessibility snapshot.
func (c *Collector) CollectSnapshot(ctx context.Context, session, outFile string) (*agent.Record, error) {
	rec := c.agent.Run(ctx, []string{"snapshot", "-i", "-c"}, agent.Options{
		Session:  session,
		WantJSON: true,
		Timeout:  c.cfg.CommandTimeout,
	})
	return rec, WriteRecord(outFile, rec)
}

// CollectScreenshot asks the browser to write a screenshot file directly.
func (c *Collector) CollectScreenshot(ctx context.Context, session, outFile string) *agent.Record {
	return c.agent.Run(ctx, []string{"screenshot", outFile}, agent.Options{
		Session: session,
		Timeout: c.cfg.CommandTimeout,
	})
}

// CollectConsole captures the console log buffer.
func (c *Collector) CollectConsole(ctx context.Context, session, outFile string) (*agent.Record, error) {
	rec := c.agent.Run(ctx, []string{"console"}, agent.Options{
		Session:  session,
		WantJSON: true,
		Timeout:  c.cfg.LogTimeout,
	})
	return rec, WriteRecord(outFile, rec)
}

// CollectErrors captures the JavaScript error buffer.
func (c *Collector) CollectErrors(ctx context.Context, session, outFile string) (*agent.Record, error) {
	rec := c.agent.Run(ctx, []string{"errors"}, agent.Options{
		Session:  session,
		WantJSON: true,
		Timeout:  c.cfg.LogTimeout,
	})
	return rec, WriteRecord(outFile, rec)
}

// MessagesPayload is the persisted shape of a Drupal messages capture.
type MessagesPayload struct {
	Time   string                 `json:"time"`
	Data   map[string]interface{} `json:"data"`
	Record *agent.Record          `json:"record"`
}

// CollectMessages evaluates the messages script and persists the status and
// alert texts found in the page's live regions.
func (c *Collector) CollectMessages(ctx context.Context, session, outFile string) (*MessagesPayload, error) {
	rec := c.agent.Run(ctx, []string{"eval", "--json", messagesScript}, agent.Options{
		Session:  session,
		WantJSON: true,
		Timeout:  c.cfg.QueryTimeout,
	})
	data, _ := agent.EvalResult(rec).(map[string]interface{})
	if data == nil {
		data = map[string]interface{}{}
	}
	payload := &MessagesPayload{Time: agent.Timestamp(), Data: data, Record: rec}
	return payload, WriteRecord(outFile, payload)
}

// TranscriptData is the normalized AI explorer transcript.
type TranscriptData struct {
	PreTexts           []string    `json:"pre_texts"`
	FinalAnswer        string      `json:"final_answer"`
	ToolPayload        string      `json:"tool_payload"`
	FinalAnswerSnippet string      `json:"final_answer_snippet"`
	ToolPayloadSnippet string      `json:"tool_payload_snippet"`
	Model              interface{} `json:"model"`
}

// TranscriptPayload is the persisted shape of an AI explorer capture.
type TranscriptPayload struct {
	Time    string          `json:"time"`
	Data    TranscriptData  `json:"data"`
	Summary *OutputAnalysis `json:"summary"`
	Record  *agent.Record   `json:"record"`
}

func snippet(s string) string {
	runes := []rune(s)
	if len(runes) > 300 {
		runes = runes[:300]
	}
	return string(runes)
}

// CollectTranscript evaluates the transcript script, derives the final answer
// (last pre block) and tool payload (first pattern-matching block), runs the
// output analysis and persists all of it.
func (c *Collector) CollectTranscript(ctx context.Context, session, outFile string) (*TranscriptPayload, error) {
	rec := c.agent.Run(ctx, []string{"eval", "--json", transcriptScript}, agent.Options{
		Session:  session,
		WantJSON: true,
		Timeout:  c.cfg.LogTimeout,
	})

	data, _ := agent.EvalResult(rec).(map[string]interface{})
	preTexts := []string{}
	var model interface{}
	if data != nil {
		if rawTexts, ok := data["pre_texts"].([]interface{}); ok {
			for _, v := range rawTexts {
				s, _ := v.(string)
				preTexts = append(preTexts, s)
			}
		}
		model = data["model"]
	}

	finalAnswer := ""
	if len(preTexts) > 0 {
		finalAnswer = preTexts[len(preTexts)-1]
	}
	toolPayload := FindToolPayload(preTexts, c.cfg.ToolPayloadPatterns, c.logger)

	summary := AnalyzeOutput(finalAnswer, toolPayload, c.cfg.RawValuePatterns, c.cfg.LabelTerms, c.logger)
	if len(preTexts) == 0 {
		summary.ExplorerEmpty = true
		switch {
		case rec.ParsedError != "":
			summary.ExplorerReason = "eval returned invalid JSON"
		case rec.ReturnCode != 0:
			summary.ExplorerReason = fmt.Sprintf("eval failed (rc=%d)", rec.ReturnCode)
		default:
			summary.ExplorerReason = "no pre blocks found"
		}
	}

	payload := &TranscriptPayload{
		Time: agent.Timestamp(),
		Data: TranscriptData{
			PreTexts:           preTexts,
			FinalAnswer:        finalAnswer,
			ToolPayload:        toolPayload,
			FinalAnswerSnippet: snippet(finalAnswer),
			ToolPayloadSnippet: snippet(toolPayload),
			Model:              model,
		},
		Summary: summary,
		Record:  rec,
	}
	return payload, WriteRecord(outFile, payload)
}

// Collect captures a full or snapshot-mode checkpoint into outDir. Capture
// failures append to Errors and collection continues with the next kind.
func (c *Collector) Collect(ctx context.Context, name, session, outDir, mode string, includeScreenshot bool) *Checkpoint {
	cp := &Checkpoint{
		Name:    name,
		Time:    agent.Timestamp(),
		Mode:    mode,
		Summary: map[string]interface{}{},
		Errors:  []string{},
	}

	url, urlRec := c.CollectURL(ctx, session)
	cp.URL = url
	if urlRec.ParsedError != "" {
		cp.Errors = append(cp.Errors, "url lookup returned invalid JSON")
	}

	if mode == ModeFull || mode == ModeSnapshot {
		snapPath := filepath.Join(outDir, name+".snapshot.json")
		if _, err := c.CollectSnapshot(ctx, session, snapPath); err != nil {
			cp.Errors = append(cp.Errors, "snapshot failed: "+err.Error())
		} else {
			cp.Artifacts.Snapshot = snapPath
		}
	}

	if includeScreenshot && mode == ModeFull {
		shotPath := filepath.Join(outDir, name+".screenshot.png")
		rec := c.CollectScreenshot(ctx, session, shotPath)
		if rec.ReturnCode != 0 {
			cp.Errors = append(cp.Errors, "screenshot failed: "+rec.Stderr)
		} else {
			cp.Artifacts.Screenshot = shotPath
		}
	}

	consolePath := filepath.Join(outDir, name+".console.json")
	if rec, err := c.CollectConsole(ctx, session, consolePath); err != nil {
		cp.Errors = append(cp.Errors, "console failed: "+err.Error())
	} else {
		cp.Artifacts.Console = consolePath
		cp.Summary["console"] = map[string]interface{}{"count": len(agent.LogEntries(rec))}
	}

	errorsPath := filepath.Join(outDir, name+".errors.json")
	if rec, err := c.CollectErrors(ctx, session, errorsPath); err != nil {
		cp.Errors = append(cp.Errors, "errors failed: "+err.Error())
	} else {
		cp.Artifacts.Errors = errorsPath
		cp.Summary["errors"] = map[string]interface{}{"count": len(agent.LogEntries(rec))}
	}

	if mode == ModeFull {
		msgPath := filepath.Join(outDir, name+".drupal_messages.json")
		if payload, err := c.CollectMessages(ctx, session, msgPath); err != nil {
			cp.Errors = append(cp.Errors, "drupal messages failed: "+err.Error())
		} else {
			cp.Artifacts.DrupalMessages = msgPath
			cp.Summary["drupal_messages"] = payload.Data
		}

		aiPath := filepath.Join(outDir, name+".ai_explorer.json")
		if payload, err := c.CollectTranscript(ctx, session, aiPath); err != nil {
			cp.Errors = append(cp.Errors, "ai explorer failed: "+err.Error())
		} else {
			cp.Artifacts.AIExplorer = aiPath
			cp.Summary["ai_explorer"] = payload.Summary
		}

		for idx, cmd := range c.cfg.ProbeCommands {
			rec := c.probes.RunLine(ctx, cmd)
			probePath := filepath.Join(outDir, fmt.Sprintf("%s.probe.%d.json", name, idx+1))
			if err := WriteRecord(probePath, rec); err != nil {
				cp.Errors = append(cp.Errors, fmt.Sprintf("probe %d failed: %s", idx+1, err.Error()))
				continue
			}
			cp.Artifacts.Probes = append(cp.Artifacts.Probes, probePath)
		}
	}

	return cp
}
