// internal/runner/runner_test.go
package runner

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
	"github.com/vantikan/verity-cli/internal/manifest"
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

func newRunner(stub *stubAgent) *Runner {
	r := New(stub, zap.NewNop())
	r.sleep = func(time.Duration) {}
	return r
}

func collectorStub(parts []string) *agent.Record {
	switch parts[0] {
	case "get":
		return envelope("https://site.test/")
	case "snapshot", "console", "errors":
		return envelope([]interface{}{})
	case "eval":
		return envelope(map[string]interface{}{})
	}
	return &agent.Record{}
}

func TestBuildLoginSteps(t *testing.T) {
	t.Parallel()

	t.Run("no credentials means no steps", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, BuildLoginSteps(map[string]interface{}{}))
	})

	t.Run("synthesized sequence", func(t *testing.T) {
		t.Parallel()
		steps := BuildLoginSteps(map[string]interface{}{
			"admin_user": "admin",
			"admin_pass": "pass word",
			"login_url":  "/user/login",
		})
		require.Len(t, steps, 6)
		assert.Equal(t, map[string]interface{}{"open": "/user/login"}, steps[0])
		assert.Equal(t, map[string]interface{}{"wait": "--load networkidle"}, steps[1])
		cmd := manifest.Str(manifest.Map(steps[3])["command"])
		assert.Contains(t, cmd, "find label Password fill")
		assert.Contains(t, cmd, "'pass word'")
		assert.Equal(t, map[string]interface{}{"command": "find role button click --name 'Log in'"}, steps[4])
	})
}

func TestBuildJS(t *testing.T) {
	t.Parallel()

	modelJS := BuildModelSelectJS("claude", "#edit-model")
	assert.Contains(t, modelJS, `document.querySelector("#edit-model")`)
	assert.Contains(t, modelJS, `const target = "claude";`)
	assert.Contains(t, modelJS, "dispatchEvent(new Event('change'")

	promptJS := BuildPromptSetJS(`say "hi"`, "")
	assert.Contains(t, promptJS, `#edit-prompt`)
	assert.Contains(t, promptJS, `textarea[name='prompt']`)
	assert.Contains(t, promptJS, `\"hi\"`)

	custom := BuildPromptSetJS("x", "#my-prompt")
	assert.Contains(t, custom, "#my-prompt")
	assert.NotContains(t, custom, "#edit-prompt")
}

func singleManifest(steps ...interface{}) manifest.Manifest {
	return manifest.Normalize(manifest.Manifest{
		"intent_statement": "labels only",
		"environment":      map[string]interface{}{"base_url": "https://site.test"},
		"steps":            steps,
	})
}

func TestRun_SingleMode(t *testing.T) {
	t.Parallel()
	stub := &stubAgent{handle: collectorStub}
	r := newRunner(stub)

	dir := t.TempDir()
	m := singleManifest(
		map[string]interface{}{"open": "/node/1"},
		map[string]interface{}{"wait": 2},
		map[string]interface{}{"checkpoint": "after_open"},
		map[string]interface{}{"command": "find label \"Title\" fill \"x\""},
		map[string]interface{}{"mystery": true},
		"not an object",
	)

	payload, err := r.Run(context.Background(), m, dir)
	require.NoError(t, err)

	assert.Equal(t, "single", payload.Mode)
	run := payload.Runs["single"]
	require.NotNil(t, run)
	assert.Equal(t, SessionSingle, run.Session)
	require.Len(t, run.Steps, 6)

	assert.Equal(t, []string{"open", "https://site.test/node/1"}, stub.calls[0])
	assert.Equal(t, &waitResult{WaitedSeconds: 2}, run.Steps[1].Result)
	assert.Equal(t, &checkpointResult{Checkpoint: "after_open"}, run.Steps[2].Result)
	require.Len(t, run.Checkpoints, 1)
	assert.Equal(t, "after_open", run.Checkpoints[0].Name)
	assert.Equal(t, "Unknown step type", run.Steps[4].Error)
	assert.Equal(t, "step must be an object", run.Steps[5].Error)
	assert.NotEmpty(t, run.Completed)
}

func TestRun_LoginStepsPrepended(t *testing.T) {
	t.Parallel()
	stub := &stubAgent{}
	r := newRunner(stub)

	m := manifest.Normalize(manifest.Manifest{
		"intent_statement": "x",
		"environment": map[string]interface{}{
			"base_url":   "https://site.test",
			"admin_user": "admin",
			"admin_pass": "secret",
		},
		"steps": []interface{}{map[string]interface{}{"open": "/"}},
	})

	payload, err := r.Run(context.Background(), m, t.TempDir())
	require.NoError(t, err)

	run := payload.Runs["single"]
	require.Len(t, run.Steps, 7)
	assert.Equal(t, []string{"open", "https://site.test/user/login"}, stub.calls[0])
	assert.Equal(t, []string{"find", "label", "Username", "fill", "admin"}, stub.calls[2])
}

func TestRun_CompareMode(t *testing.T) {
	t.Parallel()
	stub := &stubAgent{handle: collectorStub}
	r := newRunner(stub)

	dir := t.TempDir()
	m := manifest.Normalize(manifest.Manifest{
		"intent_statement": "x",
		"environment":      map[string]interface{}{"base_url": "https://site.test"},
		"strategy": map[string]interface{}{
			"mode":        "compare",
			"between_cmd": "echo restoring",
		},
		"steps": []interface{}{map[string]interface{}{"checkpoint": "cp1"}},
	})

	payload, err := r.Run(context.Background(), m, dir)
	require.NoError(t, err)

	assert.Equal(t, "compare", payload.Mode)
	require.Contains(t, payload.Runs, "baseline")
	require.Contains(t, payload.Runs, "modified")
	assert.Equal(t, SessionBaseline, payload.Runs["baseline"].Session)
	assert.Equal(t, SessionModified, payload.Runs["modified"].Session)

	require.NotNil(t, payload.Shell)
	between := payload.Shell["between"]
	require.NotNil(t, between)
	assert.Equal(t, 0, between.ReturnCode)
	assert.Equal(t, "restoring\n", between.Stdout)

	baseSnap := payload.Runs["baseline"].Checkpoints[0].Artifacts.Snapshot
	modSnap := payload.Runs["modified"].Checkpoints[0].Artifacts.Snapshot
	assert.Equal(t, filepath.Join(dir, "baseline", "cp1.snapshot.json"), baseSnap)
	assert.Equal(t, filepath.Join(dir, "modified", "cp1.snapshot.json"), modSnap)
}

func TestRunExplorer(t *testing.T) {
	t.Parallel()

	t.Run("button fallback and completion detection", func(t *testing.T) {
		t.Parallel()
		preCount := 0
		stub := &stubAgent{handle: func(parts []string) *agent.Record {
			switch parts[0] {
			case "find":
				// First button label is not present, the fallback is.
				if parts[len(parts)-1] == "Run Agent" {
					return &agent.Record{ReturnCode: 1}
				}
				return &agent.Record{ReturnCode: 0}
			case "wait":
				if parts[len(parts)-1] == "Final Answer" {
					return &agent.Record{ReturnCode: 0}
				}
				return &agent.Record{ReturnCode: 1}
			case "eval":
				if strings.Contains(parts[2], "explorer-messages") {
					preCount = 3
					return envelope(float64(preCount))
				}
				return envelope(map[string]interface{}{"found": true})
			}
			return &agent.Record{}
		}}
		r := newRunner(stub)

		result := r.runExplorer(context.Background(), "intent", ExplorerOptions{
			PromptText:     "What heritage values exist?",
			Model:          "claude",
			StableDuration: time.Nanosecond,
		})

		assert.True(t, result.Clicked)
		assert.Equal(t, "text:Final Answer", result.CompletionDetectedBy)
		require.NotNil(t, result.PreBlocks)
		assert.True(t, result.PreBlocks.Stabilized)
		require.NotNil(t, result.PreBlocks.Count)
		assert.Equal(t, 3, *result.PreBlocks.Count)
		// Model select, prompt set, two click attempts, one wait, one poll.
		assert.GreaterOrEqual(t, len(result.Records), 5)
	})

	t.Run("no completion marker reports timeout", func(t *testing.T) {
		t.Parallel()
		stub := &stubAgent{handle: func(parts []string) *agent.Record {
			switch parts[0] {
			case "wait":
				return &agent.Record{ReturnCode: 1}
			case "eval":
				return envelope(float64(1))
			}
			return &agent.Record{}
		}}
		r := newRunner(stub)

		result := r.runExplorer(context.Background(), "intent", ExplorerOptions{
			StableDuration: time.Nanosecond,
		})
		assert.Equal(t, "timeout", result.CompletionDetectedBy)
	})
}

func TestWaitForPreBlocks_Timeout(t *testing.T) {
	t.Parallel()
	stub := &stubAgent{handle: func(parts []string) *agent.Record {
		// The count eval never returns a number.
		return &agent.Record{ReturnCode: 1}
	}}
	r := newRunner(stub)

	clock := time.Now()
	r.now = func() time.Time { return clock }
	r.sleep = func(d time.Duration) { clock = clock.Add(d) }

	res := r.waitForPreBlocks(context.Background(), "intent", 2*time.Second, time.Second, 1)
	assert.False(t, res.Stabilized)
	assert.Nil(t, res.Count)
	assert.NotNil(t, res.Record)
}

func TestWaitForPreBlocks_ResetsOnGrowth(t *testing.T) {
	t.Parallel()
	counts := []float64{1, 2, 2, 2, 2}
	idx := 0
	stub := &stubAgent{handle: func(parts []string) *agent.Record {
		c := counts[len(counts)-1]
		if idx < len(counts) {
			c = counts[idx]
			idx++
		}
		return envelope(c)
	}}
	r := newRunner(stub)

	clock := time.Now()
	r.now = func() time.Time { return clock }
	r.sleep = func(d time.Duration) { clock = clock.Add(d) }

	res := r.waitForPreBlocks(context.Background(), "intent", 30*time.Second, time.Second, 1)
	require.True(t, res.Stabilized)
	assert.Equal(t, 2, *res.Count)
	// The count changed once, so at least three polls were needed.
	assert.GreaterOrEqual(t, idx, 3)
}

func TestWritePayload(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "intent_run.json")
	payload := &RunPayload{Generated: "2026-08-24T00:00:00", Mode: "single", Runs: map[string]*StepResults{}}
	require.NoError(t, WritePayload(path, payload))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"mode": "single"`)
}
