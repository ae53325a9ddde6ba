// internal/explore/explore_test.go
package explore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/agent"
	"github.com/vantikan/verity-cli/internal/evidence"
	"github.com/vantikan/verity-cli/internal/probe"
)

type stubAgent struct {
	handle func(parts []string) *agent.Record
	calls  [][]string
}

func (s *stubAgent) Run(_ context.Context, parts []string, _ agent.Options) *agent.Record {
	s.calls = append(s.calls, parts)
	if s.handle != nil {
		if rec := s.handle(parts); rec != nil {
			return rec
		}
	}
	return &agent.Record{}
}

func (s *stubAgent) RunLine(ctx context.Context, line string, opts agent.Options) *agent.Record {
	return s.Run(ctx, strings.Fields(line), opts)
}

func envelope(data interface{}) *agent.Record {
	return &agent.Record{Parsed: map[string]interface{}{"success": true, "data": data}}
}

func newSession(t *testing.T, stub *stubAgent) *Session {
	t.Helper()
	logger := zap.NewNop()
	probes := probe.NewRunner("", logger)
	collector := evidence.NewCollector(stub, probes, evidence.Config{}, logger)
	s := NewSession(stub, collector, "https://site.test/", t.TempDir(), "explore the site", "explore", logger)
	s.sleep = func(time.Duration) {}
	return s
}

func snapshotWithRefs(refs map[string]interface{}) *agent.Record {
	return envelope(map[string]interface{}{"refs": refs})
}

func TestSnapshotInteractive(t *testing.T) {
	t.Parallel()
	stub := &stubAgent{handle: func(parts []string) *agent.Record {
		if parts[0] == "snapshot" {
			return snapshotWithRefs(map[string]interface{}{
				"e9": map[string]interface{}{"role": "link", "name": "Content"},
				"e2": map[string]interface{}{"role": "button", "name": "Search"},
				"e5": map[string]interface{}{"role": "link", "name": "Content"},
				"e7": "not an object",
			})
		}
		return nil
	}}
	s := newSession(t, stub)

	elements := s.SnapshotInteractive(context.Background())
	require.Len(t, elements, 3)
	assert.Equal(t, Element{Ref: "@e2", Role: "button", Name: "Search"}, elements[0])
	// Equal role and name fall back to ref order.
	assert.Equal(t, "@e5", elements[1].Ref)
	assert.Equal(t, "@e9", elements[2].Ref)
}

func TestAllowedBySafety(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name    string
		safety  string
		allowed bool
	}{
		{"Log out", SafetyReadOnly, false},
		{"Log out", SafetyDangerous, false},
		{"Delete node", SafetyReadOnly, false},
		{"Delete node", SafetyDangerous, true},
		{"Save configuration", SafetyReadOnly, false},
		{"Save configuration", SafetyDangerous, true},
		{"View content", SafetyReadOnly, true},
		{"Structure", SafetyReadOnly, true},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.allowed, AllowedBySafety(tc.name, tc.safety), "%s under %s", tc.name, tc.safety)
	}
}

func TestNavTracksURLs(t *testing.T) {
	t.Parallel()
	stub := &stubAgent{handle: func(parts []string) *agent.Record {
		if parts[0] == "get" {
			return envelope("https://site.test/node/1")
		}
		return nil
	}}
	s := newSession(t, stub)

	s.Nav(context.Background(), "/node/1")
	s.Nav(context.Background(), "node/1")
	assert.Equal(t, []string{"https://site.test/node/1"}, s.VisitedURLs)
	assert.Equal(t, []string{"open", "https://site.test/node/1"}, stub.calls[0])
	assert.Equal(t, []string{"open", "https://site.test/node/1"}, stub.calls[3])
}

func TestLogin(t *testing.T) {
	t.Parallel()
	stub := &stubAgent{}
	s := newSession(t, stub)

	s.Login(context.Background(), "/user/login", "admin", "secret")

	var flat []string
	for _, call := range stub.calls {
		flat = append(flat, strings.Join(call, " "))
	}
	joined := strings.Join(flat, "\n")
	assert.Contains(t, joined, "find label Username fill admin")
	assert.Contains(t, joined, "find label Password fill secret")
	assert.Contains(t, joined, "find role button click --name Log in")
	assert.Contains(t, joined, "wait --text Log out")
	require.Len(t, s.Screenshots, 1)
	assert.Contains(t, s.Screenshots[0], "000_after_login.png")
}

func TestScreenshotNaming(t *testing.T) {
	t.Parallel()
	s := newSession(t, &stubAgent{})
	s.Screenshot(context.Background(), "step 5: links/buttons")
	s.Screenshot(context.Background(), "plain")
	assert.Contains(t, s.Screenshots[0], "000_step_5_links_buttons.png")
	assert.Contains(t, s.Screenshots[1], "001_plain.png")
}

func TestFuzz(t *testing.T) {
	t.Parallel()

	t.Run("fills textboxes and clicks the rest", func(t *testing.T) {
		t.Parallel()
		stub := &stubAgent{handle: func(parts []string) *agent.Record {
			switch parts[0] {
			case "snapshot":
				return snapshotWithRefs(map[string]interface{}{
					"e1": map[string]interface{}{"role": "textbox", "name": "Title"},
				})
			case "errors":
				return envelope([]interface{}{})
			case "get":
				return envelope("https://site.test/node/add")
			}
			return nil
		}}
		s := newSession(t, stub)
		ticks := 0
		s.now = func() time.Time {
			ticks++
			return time.Unix(int64(ticks), 0)
		}

		actions := s.Fuzz(context.Background(), FuzzConfig{Duration: 4 * time.Second, Seed: 1337})
		assert.Greater(t, actions, 0)

		var fills [][]string
		for _, call := range stub.calls {
			if call[0] == "fill" {
				fills = append(fills, call)
			}
		}
		require.NotEmpty(t, fills)
		assert.Equal(t, []string{"fill", "@e1", "Fuzz 1337 #0"}, fills[0])
		assert.Equal(t, []string{"https://site.test/node/add"}, s.VisitedURLs)
	})

	t.Run("no safe candidates presses escape", func(t *testing.T) {
		t.Parallel()
		stub := &stubAgent{handle: func(parts []string) *agent.Record {
			switch parts[0] {
			case "snapshot":
				return snapshotWithRefs(map[string]interface{}{
					"e1": map[string]interface{}{"role": "button", "name": "Delete everything"},
				})
			case "errors":
				return envelope([]interface{}{})
			}
			return nil
		}}
		s := newSession(t, stub)
		ticks := 0
		s.now = func() time.Time {
			ticks++
			return time.Unix(int64(ticks), 0)
		}

		actions := s.Fuzz(context.Background(), FuzzConfig{Duration: 3 * time.Second, Seed: 1})
		assert.Zero(t, actions)

		pressed := false
		for _, call := range stub.calls {
			if call[0] == "press" && call[1] == "Escape" {
				pressed = true
			}
		}
		assert.True(t, pressed)
	})

	t.Run("console errors flag an issue and checkpoint", func(t *testing.T) {
		t.Parallel()
		stub := &stubAgent{handle: func(parts []string) *agent.Record {
			switch parts[0] {
			case "snapshot":
				return snapshotWithRefs(map[string]interface{}{
					"e1": map[string]interface{}{"role": "link", "name": "Content"},
				})
			case "errors", "console":
				return envelope([]interface{}{map[string]interface{}{"text": "TypeError"}})
			case "get":
				return envelope("https://site.test/broken")
			case "eval":
				return envelope(map[string]interface{}{})
			}
			return nil
		}}
		s := newSession(t, stub)
		ticks := 0
		s.now = func() time.Time {
			ticks++
			return time.Unix(int64(ticks*2), 0)
		}

		s.Fuzz(context.Background(), FuzzConfig{Duration: 3 * time.Second, Seed: 7})
		require.NotEmpty(t, s.Issues)
		assert.Equal(t, "Page errors detected at https://site.test/broken", s.Issues[0])
		require.NotEmpty(t, s.Checkpoints)
		assert.Equal(t, "error_0", s.Checkpoints[0].Name)
	})
}

func TestWriteSessionFile(t *testing.T) {
	t.Parallel()
	stub := &stubAgent{handle: func(parts []string) *agent.Record {
		switch parts[0] {
		case "get":
			return envelope("https://site.test/admin")
		case "snapshot", "console", "errors":
			return envelope([]interface{}{})
		case "eval":
			return envelope(map[string]interface{}{})
		}
		return nil
	}}
	s := newSession(t, stub)
	s.RunCheckpoint(context.Background(), "guided_start")

	elements := make([]Element, 250)
	for i := range elements {
		elements[i] = Element{Ref: "@e1", Role: "link", Name: "Content"}
	}
	path, err := s.WriteSessionFile(elements)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "https://site.test", doc["base_url"])
	assert.Equal(t, "explore", doc["agent_browser_session"])
	assert.Equal(t, "https://site.test/admin", doc["current_url"])
	assert.Len(t, doc["interactive_elements"], 200)
	last, ok := doc["last_checkpoint"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "guided_start", last["name"])
}

func TestWriteReport(t *testing.T) {
	t.Parallel()
	s := newSession(t, &stubAgent{})
	s.VisitedURLs = []string{"https://site.test/", "https://site.test/node/1"}
	s.Issues = []string{"Page errors detected at https://site.test/broken"}
	s.Screenshots = []string{"000_after_login.png"}
	s.Log = []*agent.Record{
		{Time: "2026-08-24T10:00:00", ReturnCode: 0, Argv: []string{"agent-browser", "--session", "explore", "open", "https://site.test/"}},
	}

	cfg := &FuzzConfig{Seed: 1337, Safety: SafetyReadOnly, ScreenshotEvery: 10, CheckpointEvery: 5}
	path, err := s.WriteReport(90*time.Second, "fuzz", "exploration_report.md", cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.OutputDir, "exploration_report.md"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	report := string(raw)
	assert.Contains(t, report, "# Drupal Exploration Report")
	assert.Contains(t, report, "**Duration:** 1.5 minutes")
	assert.Contains(t, report, "- Seed: `1337`")
	assert.Contains(t, report, "- Checkpoint every: 5 actions")
	assert.Contains(t, report, "- URLs visited: 2")
	assert.Contains(t, report, "- https://site.test/node/1")
	assert.Contains(t, report, "Page errors detected")
	assert.Contains(t, report, "| 10:00:00 | 0 | `open https://site.test/` |")
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		raw      string
		expected time.Duration
	}{
		{"30m", 30 * time.Minute},
		{"1h", time.Hour},
		{"1.5h", 90 * time.Minute},
		{"10", 10 * time.Minute},
		{" 2M ", 2 * time.Minute},
	}
	for _, tc := range testCases {
		d, err := ParseDuration(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.expected, d, tc.raw)
	}

	_, err := ParseDuration("soon")
	assert.Error(t, err)
}
