// File: internal/compare/probes.go
package compare

import (
	"fmt"

	"github.com/vantikan/verity-cli/internal/snapshot"
)

// ProbeSide is one input of a probe pair comparison.
type ProbeSide struct {
	File       string `json:"file,omitempty"`
	ReturnCode *int   `json:"returncode,omitempty"`
}

// ProbeDiffs holds unified diffs of the captured streams.
type ProbeDiffs struct {
	Stdout []string `json:"stdout"`
	Stderr []string `json:"stderr"`
}

// ProbeEntry is the comparison of one probe pair. Index is 1-based so it
// lines up with the probe artifact file names.
type ProbeEntry struct {
	Index     int                  `json:"index"`
	Baseline  ProbeSide            `json:"baseline"`
	Modified  ProbeSide            `json:"modified"`
	Same      bool                 `json:"same"`
	Error     string               `json:"error,omitempty"`
	SideError *snapshot.SideErrors `json:"side_error,omitempty"`
	Diffs     *ProbeDiffs          `json:"diffs,omitempty"`
}

// ProbeComparison compares probe result lists pairwise by position.
type ProbeComparison struct {
	Same    bool         `json:"same"`
	Changed int          `json:"changed"`
	Entries []ProbeEntry `json:"entries"`
}

func probeField(raw map[string]interface{}, key string) string {
	s, _ := raw[key].(string)
	return s
}

func probeReturnCode(raw map[string]interface{}) *int {
	f, ok := raw["returncode"].(float64)
	if !ok {
		return nil
	}
	rc := int(f)
	return &rc
}

func rcEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Probes pairs probe artifacts by position and compares each pair by return
// code, stdout and stderr. A probe present on only one side is a change.
func Probes(baselinePaths, modifiedPaths []string) *ProbeComparison {
	total := len(baselinePaths)
	if len(modifiedPaths) > total {
		total = len(modifiedPaths)
	}

	entries := make([]ProbeEntry, 0, total)
	changed := 0

	for idx := 0; idx < total; idx++ {
		var basePath, modPath string
		if idx < len(baselinePaths) {
			basePath = baselinePaths[idx]
		}
		if idx < len(modifiedPaths) {
			modPath = modifiedPaths[idx]
		}

		if basePath == "" || modPath == "" {
			entries = append(entries, ProbeEntry{
				Index:    idx + 1,
				Baseline: ProbeSide{File: basePath},
				Modified: ProbeSide{File: modPath},
				Same:     false,
				Error:    "missing probe result",
			})
			changed++
			continue
		}

		baseRaw, baseErr := loadJSON(basePath)
		modRaw, modErr := loadJSON(modPath)
		baseObj, baseOK := baseRaw.(map[string]interface{})
		modObj, modOK := modRaw.(map[string]interface{})
		if baseErr == "" && !baseOK {
			baseErr = fmt.Sprintf("probe file was not a JSON object: %s", basePath)
		}
		if modErr == "" && !modOK {
			modErr = fmt.Sprintf("probe file was not a JSON object: %s", modPath)
		}
		if baseErr != "" || modErr != "" {
			entries = append(entries, ProbeEntry{
				Index:     idx + 1,
				Baseline:  ProbeSide{File: basePath},
				Modified:  ProbeSide{File: modPath},
				Same:      false,
				SideError: &snapshot.SideErrors{Baseline: baseErr, Modified: modErr},
			})
			changed++
			continue
		}

		baseRC := probeReturnCode(baseObj)
		modRC := probeReturnCode(modObj)
		baseOut := probeField(baseObj, "stdout")
		modOut := probeField(modObj, "stdout")
		baseErrTxt := probeField(baseObj, "stderr")
		modErrTxt := probeField(modObj, "stderr")

		same := rcEqual(baseRC, modRC) && baseOut == modOut && baseErrTxt == modErrTxt
		if !same {
			changed++
		}

		diffs := &ProbeDiffs{Stdout: []string{}, Stderr: []string{}}
		if baseOut != modOut {
			diffs.Stdout = diffText(baseOut, modOut, baselineName(basePath), modifiedName(modPath))
		}
		if baseErrTxt != modErrTxt {
			diffs.Stderr = diffText(baseErrTxt, modErrTxt, baselineName(basePath), modifiedName(modPath))
		}

		entries = append(entries, ProbeEntry{
			Index:    idx + 1,
			Baseline: ProbeSide{File: basePath, ReturnCode: baseRC},
			Modified: ProbeSide{File: modPath, ReturnCode: modRC},
			Same:     same,
			Diffs:    diffs,
		})
	}

	return &ProbeComparison{Same: changed == 0, Changed: changed, Entries: entries}
}
