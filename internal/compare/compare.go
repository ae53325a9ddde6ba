// File: internal/compare/compare.go
// Description: Artifact comparators for paired baseline/modified runs. Every
// comparator returns a result value; unreadable inputs become error results
// so a single corrupt artifact cannot abort the whole comparison.
package compare

import (
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pmezard/go-difflib/difflib"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func loadJSON(path string) (interface{}, string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err.Error()
	}
	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err.Error()
	}
	return parsed, ""
}

// diffText renders a unified diff of two plain-text values.
func diffText(a, b, fromFile, toFile string) []string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  3,
	})
	if err != nil || text == "" {
		return []string{}
	}
	return strings.Split(strings.TrimRight(text, "\n"), "\n")
}

func baselineName(path string) string {
	return "baseline/" + filepath.Base(path)
}

func modifiedName(path string) string {
	return "modified/" + filepath.Base(path)
}
