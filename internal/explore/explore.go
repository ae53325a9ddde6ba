// File: internal/explore/explore.go
// Description: Exploratory site testing. Guided mode logs in, captures a
// checkpoint and writes a session handoff file so an operator or LLM can keep
// driving the same browser session. Fuzz mode is a seeded, time-boxed monkey
// tester that interacts with accessibility-tree elements under a safety
// policy and records evidence along the way.
package explore

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/agent"
	"github.com/vantikan/verity-cli/internal/evidence"
	"github.com/vantikan/verity-cli/internal/interpreter"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Safety policies for fuzz mode.
const (
	SafetyReadOnly  = "read-only"
	SafetyDangerous = "dangerous"
)

// Element is one interactive node from the accessibility snapshot, addressed
// by its @ref handle.
type Element struct {
	Ref  string `json:"ref"`
	Role string `json:"role"`
	Name string `json:"name"`
}

// FuzzConfig controls one fuzz run.
type FuzzConfig struct {
	Duration        time.Duration
	Seed            int64
	Safety          string
	ScreenshotEvery int
	CheckpointEvery int
}

func (c *FuzzConfig) applyDefaults() {
	if c.Safety == "" {
		c.Safety = SafetyReadOnly
	}
	if c.ScreenshotEvery <= 0 {
		c.ScreenshotEvery = 10
	}
}

// Session accumulates the state of one exploration: navigation history,
// screenshots, checkpoints and flagged issues.
type Session struct {
	BaseURL     string
	OutputDir   string
	Goal        string
	SessionName string

	Log            []*agent.Record
	Screenshots    []string
	VisitedURLs    []string
	Issues         []string
	Checkpoints    []*evidence.Checkpoint
	LastCheckpoint *evidence.Checkpoint

	agent     agent.Runner
	collector *evidence.Collector
	logger    *zap.Logger
	sleep     func(time.Duration)
	now       func() time.Time
}

// NewSession builds an exploration session. The collector supplies checkpoint
// evidence with whatever probe and pattern configuration the caller chose.
func NewSession(agentRunner agent.Runner, collector *evidence.Collector, baseURL, outputDir, goal, sessionName string, logger *zap.Logger) *Session {
	if sessionName == "" {
		sessionName = "explore"
	}
	return &Session{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		OutputDir:   outputDir,
		Goal:        goal,
		SessionName: sessionName,
		agent:       agentRunner,
		collector:   collector,
		logger:      logger.Named("explore"),
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

func (s *Session) record(rec *agent.Record) {
	s.Log = append(s.Log, rec)
}

func (s *Session) run(ctx context.Context, parts []string, wantJSON bool) *agent.Record {
	rec := s.agent.Run(ctx, parts, agent.Options{
		Session:  s.SessionName,
		WantJSON: wantJSON,
		Timeout:  120 * time.Second,
	})
	s.record(rec)
	return rec
}

// CloseBrowser drops any existing browser state for this session name so the
// exploration starts clean.
func (s *Session) CloseBrowser(ctx context.Context) {
	s.run(ctx, []string{"close"}, false)
}

func (s *Session) currentURL(ctx context.Context) string {
	rec := s.agent.Run(ctx, []string{"get", "url"}, agent.Options{
		Session:  s.SessionName,
		WantJSON: true,
		Timeout:  30 * time.Second,
	})
	url, _ := agent.Text(rec)
	return url
}

func (s *Session) trackURL(url string) {
	if url == "" {
		return
	}
	if n := len(s.VisitedURLs); n == 0 || s.VisitedURLs[n-1] != url {
		s.VisitedURLs = append(s.VisitedURLs, url)
	}
}

// Nav opens a path relative to the base URL and waits for the network to go
// idle.
func (s *Session) Nav(ctx context.Context, path string) {
	s.run(ctx, []string{"open", interpreter.PrefixURL(s.BaseURL, path)}, true)
	s.run(ctx, []string{"wait", "--load", "networkidle"}, true)
	s.trackURL(s.currentURL(ctx))
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Screenshot captures the page under a sequential, sanitized file name.
func (s *Session) Screenshot(ctx context.Context, name string) {
	safe := unsafeNameChars.ReplaceAllString(name, "_")
	path := filepath.Join(s.OutputDir, fmt.Sprintf("%03d_%s.png", len(s.Screenshots), safe))
	s.run(ctx, []string{"screenshot", path}, false)
	s.Screenshots = append(s.Screenshots, path)
}

// RunCheckpoint captures full evidence under the given name and folds its
// screenshot into the session's screenshot list.
func (s *Session) RunCheckpoint(ctx context.Context, name string) *evidence.Checkpoint {
	cp := s.collector.Collect(ctx, name, s.SessionName, s.OutputDir, evidence.ModeFull, true)
	s.Checkpoints = append(s.Checkpoints, cp)
	s.LastCheckpoint = cp
	if shot := cp.Artifacts.Screenshot; shot != "" && !containsString(s.Screenshots, shot) {
		s.Screenshots = append(s.Screenshots, shot)
	}
	return cp
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// SnapshotInteractive captures the interactive accessibility tree and returns
// the elements sorted for stable output.
func (s *Session) SnapshotInteractive(ctx context.Context) []Element {
	rec := s.run(ctx, []string{"snapshot", "-i", "-c"}, true)
	data, _ := agent.Data(rec).(map[string]interface{})
	refs, _ := data["refs"].(map[string]interface{})

	elements := make([]Element, 0, len(refs))
	for ref, raw := range refs {
		info, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := info["role"].(string)
		name, _ := info["name"].(string)
		elements = append(elements, Element{Ref: "@" + ref, Role: role, Name: name})
	}
	sort.Slice(elements, func(i, j int) bool {
		a, b := elements[i], elements[j]
		if a.Role != b.Role {
			return a.Role < b.Role
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Ref < b.Ref
	})
	return elements
}

// Login signs in through the login form using semantic locators and waits for
// the logged-in marker before taking a screenshot.
func (s *Session) Login(ctx context.Context, loginPath, username, password string) {
	s.Nav(ctx, loginPath)
	s.run(ctx, []string{"find", "label", "Username", "fill", username}, true)
	s.run(ctx, []string{"find", "label", "Password", "fill", password}, true)
	s.run(ctx, []string{"find", "role", "button", "click", "--name", "Log in"}, true)
	s.run(ctx, []string{"wait", "--load", "networkidle"}, true)
	s.run(ctx, []string{"wait", "--text", "Log out"}, true)
	s.Screenshot(ctx, "after_login")
}

// Action names that are never activated, and names skipped outside the
// dangerous safety policy.
var (
	blocklistAlways      = []string{"log out"}
	blocklistDestructive = []string{
		"delete", "remove", "uninstall", "install", "drop", "purge", "rebuild", "clear all", "wipe",
	}
	blocklistMutating = []string{"save", "submit", "apply", "create", "add", "update"}
)

// AllowedBySafety reports whether an element name may be activated under the
// given safety policy.
func AllowedBySafety(name, safety string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if matchesAny(n, blocklistAlways) {
		return false
	}
	if safety == SafetyDangerous {
		return true
	}
	if matchesAny(n, blocklistDestructive) {
		return false
	}
	return !matchesAny(n, blocklistMutating)
}

func matchesAny(name string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(name, term) {
			return true
		}
	}
	return false
}

// Fuzz runs the seeded monkey-test loop until the configured duration runs
// out. Pages with console errors get flagged and checkpointed as they are
// found.
func (s *Session) Fuzz(ctx context.Context, cfg FuzzConfig) int {
	cfg.applyDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))
	end := s.now().Add(cfg.Duration)
	actions := 0

	for s.now().Before(end) {
		elements := s.SnapshotInteractive(ctx)

		errRec := s.run(ctx, []string{"errors"}, true)
		if errRec.ReturnCode == 0 {
			if entries := agent.LogEntries(errRec); len(entries) > 0 {
				url := s.currentURL(ctx)
				if url == "" {
					url = "unknown URL"
				}
				s.Issues = append(s.Issues, "Page errors detected at "+url)
				s.RunCheckpoint(ctx, fmt.Sprintf("error_%d", actions))
			}
		}

		candidates := elements[:0:0]
		for _, el := range elements {
			if AllowedBySafety(el.Name, cfg.Safety) {
				candidates = append(candidates, el)
			}
		}
		if len(candidates) == 0 {
			s.run(ctx, []string{"press", "Escape"}, true)
			s.sleep(500 * time.Millisecond)
			continue
		}

		el := candidates[rng.Intn(len(candidates))]
		if el.Role == "textbox" {
			text := fmt.Sprintf("Fuzz %d #%d", cfg.Seed, actions)
			s.run(ctx, []string{"fill", el.Ref, text}, true)
		} else {
			s.run(ctx, []string{"click", el.Ref}, true)
		}

		s.run(ctx, []string{"wait", "--load", "networkidle"}, true)
		s.trackURL(s.currentURL(ctx))

		actions++
		if actions%cfg.ScreenshotEvery == 0 {
			s.Screenshot(ctx, fmt.Sprintf("step_%d_%s", actions, el.Role))
		}
		if cfg.CheckpointEvery > 0 && actions%cfg.CheckpointEvery == 0 {
			s.RunCheckpoint(ctx, fmt.Sprintf("checkpoint_%d", actions))
		}
	}
	return actions
}

// sessionFile is the guided-mode handoff payload.
type sessionFile struct {
	Generated           string                 `json:"generated"`
	BaseURL             string                 `json:"base_url"`
	Goal                string                 `json:"goal"`
	AgentBrowserSession string                 `json:"agent_browser_session"`
	InteractiveElements []Element              `json:"interactive_elements"`
	OutputDir           string                 `json:"output_dir"`
	CurrentURL          string                 `json:"current_url"`
	LastDrupalMessages  interface{}            `json:"last_drupal_messages"`
	LastConsoleSummary  interface{}            `json:"last_console_summary"`
	LastErrorsSummary   interface{}            `json:"last_errors_summary"`
	LastAISummary       interface{}            `json:"last_ai_explorer_summary"`
	LastCheckpoint      map[string]interface{} `json:"last_checkpoint"`
}

// WriteSessionFile persists the guided-mode handoff so another driver can
// resume the browser session with full context. At most 200 elements are
// included.
func (s *Session) WriteSessionFile(elements []Element) (string, error) {
	if len(elements) > 200 {
		elements = elements[:200]
	}
	payload := sessionFile{
		Generated:           agent.Timestamp(),
		BaseURL:             s.BaseURL,
		Goal:                s.Goal,
		AgentBrowserSession: s.SessionName,
		InteractiveElements: elements,
		OutputDir:           s.OutputDir,
	}
	if last := s.LastCheckpoint; last != nil {
		payload.CurrentURL = last.URL
		payload.LastDrupalMessages = last.Summary["drupal_messages"]
		payload.LastConsoleSummary = last.Summary["console"]
		payload.LastErrorsSummary = last.Summary["errors"]
		payload.LastAISummary = last.Summary["ai_explorer"]
		payload.LastCheckpoint = map[string]interface{}{
			"name":      last.Name,
			"time":      last.Time,
			"artifacts": last.Artifacts,
		}
	}

	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session file: %w", err)
	}
	path := filepath.Join(s.OutputDir, "exploration_session.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write session file: %w", err)
	}
	return path, nil
}

// WriteReport renders the exploration report and writes it under the session
// output directory.
func (s *Session) WriteReport(duration time.Duration, mode, outputName string, fuzz *FuzzConfig) (string, error) {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line("# Drupal Exploration Report")
	line("")
	line("**Generated:** %s", agent.Timestamp())
	line("**Site:** %s", s.BaseURL)
	line("**Goal:** %s", s.Goal)
	line("**Mode:** %s", mode)
	line("**Duration:** %.1f minutes", duration.Minutes())
	line("**agent-browser session:** `%s`", s.SessionName)
	line("")
	if fuzz != nil {
		line("## Fuzz configuration")
		line("")
		line("- Seed: `%d`", fuzz.Seed)
		line("- Safety: `%s`", fuzz.Safety)
		line("- Screenshot every: %d actions", fuzz.ScreenshotEvery)
		if fuzz.CheckpointEvery > 0 {
			line("- Checkpoint every: %d actions", fuzz.CheckpointEvery)
		}
		line("")
	}
	line("## Summary")
	line("")
	line("- URLs visited: %d", len(s.VisitedURLs))
	line("- Checkpoints: %d", len(s.Checkpoints))
	line("- Screenshots: %d", len(s.Screenshots))
	line("- Logged commands: %d", len(s.Log))
	line("- Issues flagged: %d", len(s.Issues))
	line("")
	if len(s.VisitedURLs) > 0 {
		line("## URLs visited")
		line("")
		for _, u := range s.VisitedURLs {
			line("- %s", u)
		}
		line("")
	}
	if len(s.Issues) > 0 {
		line("## Issues flagged")
		line("")
		for _, issue := range s.Issues {
			line("- %s", issue)
		}
		line("")
	}
	line("## Screenshots")
	line("")
	for i, shot := range s.Screenshots {
		line("%d. `%s`", i+1, shot)
	}
	line("")
	if len(s.Checkpoints) > 0 {
		line("## Checkpoints")
		line("")
		for _, cp := range s.Checkpoints {
			line("- `%s` at %s", cp.Name, cp.URL)
		}
		line("")
	}
	line("## Last 40 commands")
	line("")
	line("| Time | Return | Command |")
	line("|------|--------|---------|")
	logTail := s.Log
	if len(logTail) > 40 {
		logTail = logTail[len(logTail)-40:]
	}
	for _, rec := range logTail {
		t := rec.Time
		if len(t) > 8 {
			t = t[len(t)-8:]
		}
		cmd := ""
		if len(rec.Argv) >= 4 {
			cmd = strings.Join(rec.Argv[3:], " ")
		}
		if len(cmd) > 80 {
			cmd = cmd[:80]
		}
		line("| %s | %d | `%s` |", t, rec.ReturnCode, cmd)
	}
	line("")

	path := filepath.Join(s.OutputDir, outputName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

// ParseDuration reads a human duration like "30m", "1h" or a bare number of
// minutes.
func ParseDuration(raw string) (time.Duration, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	unit := time.Minute
	switch {
	case strings.HasSuffix(d, "h"):
		unit = time.Hour
		d = strings.TrimSuffix(d, "h")
	case strings.HasSuffix(d, "m"):
		d = strings.TrimSuffix(d, "m")
	}
	value, err := strconv.ParseFloat(d, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return time.Duration(value * float64(unit)), nil
}
