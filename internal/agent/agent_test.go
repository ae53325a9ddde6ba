// internal/agent/agent_test.go
package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/config"
)

func TestShouldAddJSON(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		parts    []string
		wantJSON bool
		expected bool
	}{
		{"json wanted for known verb", []string{"snapshot", "-i", "-c"}, true, true},
		{"json not wanted", []string{"snapshot"}, false, false},
		{"already has flag", []string{"eval", "--json", "1+1"}, true, false},
		{"unknown verb", []string{"screenshot", "out.png"}, true, false},
		{"empty command", nil, true, false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, ShouldAddJSON(tc.parts, tc.wantJSON))
		})
	}
}

func TestClientRun_MissingBinary(t *testing.T) {
	t.Parallel()
	client := NewClient(config.AgentConfig{Binary: "definitely-not-a-real-binary-4821"}, zap.NewNop())

	rec := client.Run(context.Background(), []string{"open", "https://example.com"}, Options{
		Session:  "test",
		WantJSON: true,
		Timeout:  5 * time.Second,
	})

	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.ReturnCode)
	assert.NotEmpty(t, rec.Stderr)
	assert.Nil(t, rec.Parsed)
	assert.Equal(t, "test", rec.Session)
}

func TestClientRunLine_ParseError(t *testing.T) {
	t.Parallel()
	client := NewClient(config.AgentConfig{Binary: "agent-browser"}, zap.NewNop())

	rec := client.RunLine(context.Background(), `find label "Username fill admin`, Options{Session: "s"})

	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.ReturnCode)
	assert.Contains(t, rec.Stderr, "command parse error")
}

func TestDataExtraction(t *testing.T) {
	t.Parallel()

	t.Run("data field", func(t *testing.T) {
		t.Parallel()
		rec := &Record{Parsed: map[string]interface{}{"success": true, "data": "https://example.com/node/1"}}
		url, ok := Text(rec)
		require.True(t, ok)
		assert.Equal(t, "https://example.com/node/1", url)
	})

	t.Run("missing parsed payload", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, Data(&Record{Stdout: "plain text"}))
		_, ok := Text(&Record{})
		assert.False(t, ok)
	})

	t.Run("nil record", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, Data(nil))
	})
}

func TestLogEntries(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		parsed   interface{}
		expected int
	}{
		{"direct list", map[string]interface{}{"data": []interface{}{"a", "b"}}, 2},
		{"keyed errors", map[string]interface{}{"data": map[string]interface{}{"errors": []interface{}{"boom"}}}, 1},
		{"keyed messages", map[string]interface{}{"data": map[string]interface{}{"messages": []interface{}{"m1", "m2", "m3"}}}, 3},
		{"dict without known key", map[string]interface{}{"data": map[string]interface{}{"other": 1}}, 0},
		{"scalar payload wrapped", map[string]interface{}{"data": "one entry"}, 1},
		{"no data", map[string]interface{}{"success": true}, 0},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := &Record{Parsed: tc.parsed}
			assert.Len(t, LogEntries(rec), tc.expected)
		})
	}
}

func TestEvalResult(t *testing.T) {
	t.Parallel()

	t.Run("unwraps nested result objects", func(t *testing.T) {
		t.Parallel()
		rec := &Record{Parsed: map[string]interface{}{
			"data": map[string]interface{}{
				"result": map[string]interface{}{
					"result": map[string]interface{}{"status": "Saved.", "alert": nil},
				},
			},
		}}
		got, ok := EvalResult(rec).(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "Saved.", got["status"])
	})

	t.Run("scalar payload passes through", func(t *testing.T) {
		t.Parallel()
		rec := &Record{Parsed: map[string]interface{}{"data": float64(4)}}
		assert.Equal(t, float64(4), EvalResult(rec))
	})
}
