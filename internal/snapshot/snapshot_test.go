// internal/snapshot/snapshot_test.go
package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(refs map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"snapshot": "- heading \"Title\" [ref=e1]",
			"refs":     refs,
		},
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	t.Run("drops refs ids and unstable keys", func(t *testing.T) {
		t.Parallel()
		payload := envelope(map[string]interface{}{
			"e7": map[string]interface{}{"role": "heading", "name": "Title", "level": float64(1), "focused": true},
			"e2": map[string]interface{}{"role": "link", "name": "Home", "href": "/home"},
		})
		got := Normalize(payload)
		want := []Element{
			{"role": "heading", "name": "Title", "level": float64(1)},
			{"role": "link", "name": "Home", "href": "/home"},
		}
		assert.Empty(t, cmp.Diff(want, got))
	})

	t.Run("renumbered refs normalize identically", func(t *testing.T) {
		t.Parallel()
		a := envelope(map[string]interface{}{
			"e1": map[string]interface{}{"role": "button", "name": "Save"},
			"e2": map[string]interface{}{"role": "link", "name": "Home"},
		})
		b := envelope(map[string]interface{}{
			"e9": map[string]interface{}{"role": "link", "name": "Home"},
			"e4": map[string]interface{}{"role": "button", "name": "Save"},
		})
		assert.Empty(t, cmp.Diff(Normalize(a), Normalize(b)))
	})

	t.Run("anonymous elements are discarded, false booleans kept", func(t *testing.T) {
		t.Parallel()
		payload := envelope(map[string]interface{}{
			"e1": map[string]interface{}{"value": "orphan"},
			"e2": map[string]interface{}{"role": "checkbox", "name": "Agree", "checked": false},
		})
		got := Normalize(payload)
		require.Len(t, got, 1)
		assert.Equal(t, false, got[0]["checked"])
	})

	t.Run("non-object payload", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, Normalize("not an object"))
		assert.Empty(t, Normalize(nil))
	})
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	elements := []Element{
		{"role": "link", "name": "a"},
		{"role": "link", "name": "b"},
		{"role": "button", "name": "Save"},
		{"role": "heading", "name": "T"},
	}
	s := Summarize(elements)
	assert.Equal(t, 4, s.Count)
	require.Len(t, s.ByRole, 3)
	assert.Equal(t, RoleCount{Role: "link", Count: 2}, s.ByRole[0])
	// Ties break alphabetically.
	assert.Equal(t, "button", s.ByRole[1].Role)
	assert.Equal(t, "heading", s.ByRole[2].Role)

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":4,"by_role":{"link":2,"button":1,"heading":1}}`, string(out))
}

func TestExtractPayload(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		raw        interface{}
		wantReason string
	}{
		{"not an object", []interface{}{1}, "snapshot file was not a JSON object"},
		{"parse error recorded", map[string]interface{}{"stdout": "x", "parsed_error": "stdout was not valid JSON"}, "stdout was not valid JSON"},
		{"stdout without payload", map[string]interface{}{"stdout": "plain"}, "snapshot missing parsed payload"},
		{"parsed not an object", map[string]interface{}{"parsed": "scalar"}, "snapshot parsed payload was missing or invalid"},
		{"unrecognized shape", map[string]interface{}{"other": 1}, "unrecognized snapshot format"},
		{"capture record", map[string]interface{}{"stdout": "{}", "parsed": map[string]interface{}{"data": map[string]interface{}{}}}, ""},
		{"bare envelope", map[string]interface{}{"success": true, "data": map[string]interface{}{}}, ""},
		{"bare refs", map[string]interface{}{"refs": map[string]interface{}{}}, ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			payload, reason := ExtractPayload(tc.raw)
			assert.Equal(t, tc.wantReason, reason)
			if tc.wantReason == "" {
				assert.NotNil(t, payload)
			} else {
				assert.Nil(t, payload)
			}
		})
	}
}

func writeArtifact(t *testing.T, dir, name string, v interface{}) string {
	t.Helper()
	raw, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestCompare(t *testing.T) {
	t.Parallel()

	t.Run("identical snapshots", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		snap := envelope(map[string]interface{}{
			"e1": map[string]interface{}{"role": "heading", "name": "Title"},
		})
		a := writeArtifact(t, dir, "a.snapshot.json", snap)
		b := writeArtifact(t, dir, "b.snapshot.json", snap)

		res := Compare(a, b)
		assert.True(t, res.Same)
		assert.Empty(t, res.DiffLines)
		assert.Zero(t, res.Changes.AddedCount)
		assert.Zero(t, res.Changes.RemovedCount)
		require.NotNil(t, res.Baseline.Summary)
		assert.Equal(t, 1, res.Baseline.Summary.Count)
	})

	t.Run("multiset delta with counts", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		base := envelope(map[string]interface{}{
			"e1": map[string]interface{}{"role": "link", "name": "Home"},
			"e2": map[string]interface{}{"role": "link", "name": "Home"},
			"e3": map[string]interface{}{"role": "button", "name": "Save"},
		})
		mod := envelope(map[string]interface{}{
			"e1": map[string]interface{}{"role": "link", "name": "Home"},
			"e2": map[string]interface{}{"role": "alert", "name": "Boom"},
		})
		a := writeArtifact(t, dir, "base.snapshot.json", base)
		b := writeArtifact(t, dir, "mod.snapshot.json", mod)

		res := Compare(a, b)
		assert.False(t, res.Same)
		assert.Equal(t, []Change{{Role: "alert", Name: "Boom", Count: 1}}, res.Changes.Added)
		assert.Equal(t, []Change{
			{Role: "button", Name: "Save", Count: 1},
			{Role: "link", Name: "Home", Count: 1},
		}, res.Changes.Removed)
		assert.Equal(t, 1, res.Changes.AddedCount)
		assert.Equal(t, 2, res.Changes.RemovedCount)
		require.NotEmpty(t, res.DiffLines)
		assert.Contains(t, res.DiffLines[0], "baseline/base.snapshot.json")
		assert.Contains(t, res.DiffLines[1], "modified/mod.snapshot.json")
	})

	t.Run("symmetry of added and removed", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		base := envelope(map[string]interface{}{
			"e1": map[string]interface{}{"role": "button", "name": "Old"},
		})
		mod := envelope(map[string]interface{}{
			"e1": map[string]interface{}{"role": "button", "name": "New"},
		})
		a := writeArtifact(t, dir, "a.json", base)
		b := writeArtifact(t, dir, "b.json", mod)

		forward := Compare(a, b)
		reverse := Compare(b, a)
		assert.Equal(t, forward.Changes.Added, reverse.Changes.Removed)
		assert.Equal(t, forward.Changes.Removed, reverse.Changes.Added)
	})

	t.Run("malformed input never fails", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		broken := filepath.Join(dir, "broken.json")
		require.NoError(t, os.WriteFile(broken, []byte("{not json"), 0o644))
		ok := writeArtifact(t, dir, "ok.json", envelope(map[string]interface{}{}))

		res := Compare(broken, ok)
		assert.False(t, res.Same)
		require.NotNil(t, res.Error)
		assert.Contains(t, res.Error.Baseline, "failed to parse JSON")
		assert.Empty(t, res.Error.Modified)
		assert.Empty(t, res.DiffLines)
	})

	t.Run("missing parsed payload surfaces per side", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		a := writeArtifact(t, dir, "a.json", map[string]interface{}{"stdout": "raw text only"})
		b := writeArtifact(t, dir, "b.json", envelope(map[string]interface{}{}))

		res := Compare(a, b)
		assert.False(t, res.Same)
		require.NotNil(t, res.Error)
		assert.Equal(t, "snapshot missing parsed payload", res.Error.Baseline)
	})
}
