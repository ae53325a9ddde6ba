// File: internal/snapshot/diff.go
package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Change is one (role, name) pair whose multiplicity differs between runs.
type Change struct {
	Role  string `json:"role"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Changes is the multiset delta between two normalized snapshots. The added
// and removed lists are capped; the counts are not.
type Changes struct {
	Added        []Change `json:"added"`
	Removed      []Change `json:"removed"`
	AddedCount   int      `json:"added_count"`
	RemovedCount int      `json:"removed_count"`
}

// Side describes one input of a comparison.
type Side struct {
	File    string   `json:"file"`
	Summary *Summary `json:"summary,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// SideErrors is attached to a result when either input could not be read.
type SideErrors struct {
	Baseline string `json:"baseline"`
	Modified string `json:"modified"`
}

// Result is the outcome of comparing two snapshot artifacts.
type Result struct {
	Same      bool        `json:"same"`
	Baseline  Side        `json:"baseline"`
	Modified  Side        `json:"modified"`
	Changes   Changes     `json:"changes"`
	DiffLines []string    `json:"diff_lines"`
	Error     *SideErrors `json:"error,omitempty"`
}

// changeListCap bounds the expanded added/removed lists in a Result.
const changeListCap = 50

func loadJSONFile(path string) (interface{}, string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "failed to read file: " + err.Error()
	}
	var parsed interface{}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, "failed to parse JSON: " + err.Error()
	}
	return parsed, ""
}

func errorResult(basePath, modPath, baseErr, modErr string) *Result {
	return &Result{
		Same:      false,
		Baseline:  Side{File: basePath, Error: baseErr},
		Modified:  Side{File: modPath, Error: modErr},
		Changes:   Changes{Added: []Change{}, Removed: []Change{}},
		DiffLines: []string{},
		Error:     &SideErrors{Baseline: baseErr, Modified: modErr},
	}
}

type pairKey struct {
	role string
	name string
}

func pairCounts(elements []Element) map[pairKey]int {
	counts := map[pairKey]int{}
	for _, el := range elements {
		counts[pairKey{attrString(el, "role"), attrString(el, "name")}]++
	}
	return counts
}

// subtract returns the multiset difference a - b, dropping non-positive counts.
func subtract(a, b map[pairKey]int) map[pairKey]int {
	out := map[pairKey]int{}
	for k, n := range a {
		if rest := n - b[k]; rest > 0 {
			out[k] = rest
		}
	}
	return out
}

func expand(counts map[pairKey]int) []Change {
	items := make([]Change, 0, len(counts))
	for k, n := range counts {
		items = append(items, Change{Role: k.role, Name: k.name, Count: n})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Role != items[j].Role {
			return items[i].Role < items[j].Role
		}
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].Count < items[j].Count
	})
	if len(items) > changeListCap {
		items = items[:changeListCap]
	}
	return items
}

func sum(counts map[pairKey]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

func canonicalJSON(v interface{}) string {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(out)
}

// DiffLines renders a unified diff of two values in their canonical JSON form.
func DiffLines(a, b interface{}, fromFile, toFile string) []string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(canonicalJSON(a) + "\n"),
		B:        difflib.SplitLines(canonicalJSON(b) + "\n"),
		FromFile: fromFile,
		ToFile:   toFile,
		Context:  3,
	})
	if err != nil || text == "" {
		return []string{}
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, "\n")
	}
	return lines
}

// Compare reads two snapshot artifacts, normalizes them and reports the
// structural delta. Unreadable or unrecognized inputs produce a Result with
// Same=false and the Error field set; Compare itself never fails.
func Compare(baselinePath, modifiedPath string) *Result {
	baseRaw, baseReadErr := loadJSONFile(baselinePath)
	modRaw, modReadErr := loadJSONFile(modifiedPath)
	if baseReadErr != "" || modReadErr != "" {
		return errorResult(baselinePath, modifiedPath, baseReadErr, modReadErr)
	}

	basePayload, baseErr := ExtractPayload(baseRaw)
	modPayload, modErr := ExtractPayload(modRaw)
	if baseErr != "" || modErr != "" {
		return errorResult(baselinePath, modifiedPath, baseErr, modErr)
	}

	baseNorm := Normalize(basePayload)
	modNorm := Normalize(modPayload)

	baseJSON := canonicalJSON(baseNorm)
	modJSON := canonicalJSON(modNorm)
	same := baseJSON == modJSON

	baseCounts := pairCounts(baseNorm)
	modCounts := pairCounts(modNorm)
	added := subtract(modCounts, baseCounts)
	removed := subtract(baseCounts, modCounts)

	res := &Result{
		Same:     same,
		Baseline: Side{File: baselinePath, Summary: Summarize(baseNorm)},
		Modified: Side{File: modifiedPath, Summary: Summarize(modNorm)},
		Changes: Changes{
			Added:        expand(added),
			Removed:      expand(removed),
			AddedCount:   sum(added),
			RemovedCount: sum(removed),
		},
		DiffLines: []string{},
	}
	if !same {
		res.DiffLines = DiffLines(
			baseNorm, modNorm,
			"baseline/"+filepath.Base(baselinePath),
			"modified/"+filepath.Base(modifiedPath),
		)
	}
	return res
}
