// File: internal/compare/transcript.go
package compare

import (
	"github.com/vantikan/verity-cli/internal/snapshot"
)

// TranscriptView is an AI explorer artifact reduced to its comparable parts.
type TranscriptView struct {
	PreTexts    []string               `json:"pre_texts"`
	FinalAnswer string                 `json:"final_answer"`
	ToolPayload string                 `json:"tool_payload"`
	Model       interface{}            `json:"model"`
	Summary     map[string]interface{} `json:"summary"`
}

// TranscriptSide is one input of a transcript comparison.
type TranscriptSide struct {
	File  string          `json:"file"`
	Data  *TranscriptView `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// TranscriptDiffs holds per-field unified diffs.
type TranscriptDiffs struct {
	FinalAnswer []string `json:"final_answer"`
	ToolPayload []string `json:"tool_payload"`
}

// TranscriptResult is the outcome of comparing two transcript artifacts.
type TranscriptResult struct {
	Same     bool                 `json:"same"`
	Baseline TranscriptSide       `json:"baseline"`
	Modified TranscriptSide       `json:"modified"`
	Diffs    *TranscriptDiffs     `json:"diffs,omitempty"`
	Error    *snapshot.SideErrors `json:"error,omitempty"`
}

func extractTranscript(raw interface{}) *TranscriptView {
	view := &TranscriptView{PreTexts: []string{}}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return view
	}
	if data, ok := obj["data"].(map[string]interface{}); ok {
		if rawTexts, ok := data["pre_texts"].([]interface{}); ok {
			for _, v := range rawTexts {
				s, _ := v.(string)
				view.PreTexts = append(view.PreTexts, s)
			}
		}
		view.FinalAnswer, _ = data["final_answer"].(string)
		if view.FinalAnswer == "" && len(view.PreTexts) > 0 {
			view.FinalAnswer = view.PreTexts[len(view.PreTexts)-1]
		}
		view.ToolPayload, _ = data["tool_payload"].(string)
		view.Model = data["model"]
	}
	view.Summary, _ = obj["summary"].(map[string]interface{})
	return view
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Transcripts compares two AI explorer artifacts. They match only when the
// final answer, tool payload and the full pre-block sequence all agree.
func Transcripts(baselinePath, modifiedPath string) *TranscriptResult {
	baseRaw, baseErr := loadJSON(baselinePath)
	modRaw, modErr := loadJSON(modifiedPath)
	if baseErr != "" || modErr != "" {
		return &TranscriptResult{
			Same:     false,
			Baseline: TranscriptSide{File: baselinePath, Error: baseErr},
			Modified: TranscriptSide{File: modifiedPath, Error: modErr},
			Error:    &snapshot.SideErrors{Baseline: baseErr, Modified: modErr},
		}
	}

	base := extractTranscript(baseRaw)
	mod := extractTranscript(modRaw)

	finalSame := base.FinalAnswer == mod.FinalAnswer
	toolSame := base.ToolPayload == mod.ToolPayload
	same := finalSame && toolSame && stringSlicesEqual(base.PreTexts, mod.PreTexts)

	diffs := &TranscriptDiffs{FinalAnswer: []string{}, ToolPayload: []string{}}
	if !finalSame {
		diffs.FinalAnswer = diffText(base.FinalAnswer, mod.FinalAnswer, baselineName(baselinePath), modifiedName(modifiedPath))
	}
	if !toolSame {
		diffs.ToolPayload = diffText(base.ToolPayload, mod.ToolPayload, baselineName(baselinePath), modifiedName(modifiedPath))
	}

	return &TranscriptResult{
		Same:     same,
		Baseline: TranscriptSide{File: baselinePath, Data: base},
		Modified: TranscriptSide{File: modifiedPath, Data: mod},
		Diffs:    diffs,
	}
}
