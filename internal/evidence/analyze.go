// File: internal/evidence/analyze.go
// Description: Heuristic analysis of AI explorer transcripts. The analysis
// flags raw machine values leaking into user-facing answers and checks that
// expected human-readable label terms actually appear.
package evidence

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DefaultToolPayloadPatterns identify transcript blocks that carry a tool
// call payload rather than prose.
var DefaultToolPayloadPatterns = []string{
	`\bset_component_structure\b`,
	`\boperations:`,
	`\bcomponents:`,
}

// compilePatterns compiles the usable patterns and skips invalid ones with a
// warning. A bad user-supplied regex must not abort evidence collection.
func compilePatterns(patterns []string, logger *zap.Logger) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, raw := range patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			logger.Warn("invalid regex pattern ignored",
				zap.String("pattern", raw),
				zap.Error(err),
			)
			continue
		}
		compiled = append(compiled, re)
	}
	return compiled
}

func sortedUnique(matches []string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, m := range matches {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// OutputAnalysis summarizes one transcript capture. ExplorerEmpty and
// ExplorerReason are only meaningful when the transcript had no pre blocks.
type OutputAnalysis struct {
	FinalAnswerLen                 int      `json:"final_answer_len"`
	ToolPayloadLen                 int      `json:"tool_payload_len"`
	RawInFinalAnswer               bool     `json:"raw_in_final_answer"`
	RawInToolPayload               bool     `json:"raw_in_tool_payload"`
	RawMatchesFinalAnswer          []string `json:"raw_matches_final_answer"`
	RawMatchesToolPayload          []string `json:"raw_matches_tool_payload"`
	LabelTermsPresentInFinalAnswer []string `json:"label_terms_present_in_final_answer"`
	ExplorerEmpty                  bool     `json:"ai_explorer_empty,omitempty"`
	ExplorerReason                 string   `json:"ai_explorer_reason,omitempty"`
}

// AnalyzeOutput scans a final answer and tool payload for raw value leaks and
// expected label terms. Label matching is a case-insensitive substring check.
func AnalyzeOutput(finalAnswer, toolPayload string, rawValuePatterns, labelTerms []string, logger *zap.Logger) *OutputAnalysis {
	patterns := compilePatterns(rawValuePatterns, logger)
	matchesFinal := []string{}
	matchesTool := []string{}
	for _, re := range patterns {
		matchesFinal = append(matchesFinal, re.FindAllString(finalAnswer, -1)...)
		matchesTool = append(matchesTool, re.FindAllString(toolPayload, -1)...)
	}
	matchesFinal = sortedUnique(matchesFinal)
	matchesTool = sortedUnique(matchesTool)

	lowerAnswer := strings.ToLower(finalAnswer)
	present := []string{}
	for _, term := range labelTerms {
		if term != "" && strings.Contains(lowerAnswer, strings.ToLower(term)) {
			present = append(present, term)
		}
	}

	return &OutputAnalysis{
		FinalAnswerLen:                 utf8.RuneCountInString(finalAnswer),
		ToolPayloadLen:                 utf8.RuneCountInString(toolPayload),
		RawInFinalAnswer:               len(matchesFinal) > 0,
		RawInToolPayload:               len(matchesTool) > 0,
		RawMatchesFinalAnswer:          matchesFinal,
		RawMatchesToolPayload:          matchesTool,
		LabelTermsPresentInFinalAnswer: present,
	}
}

// FindToolPayload returns the first transcript block matching any payload
// pattern. An empty string means no block looked like a tool call.
func FindToolPayload(preTexts []string, payloadPatterns []string, logger *zap.Logger) string {
	patterns := payloadPatterns
	if len(patterns) == 0 {
		patterns = DefaultToolPayloadPatterns
	}
	compiled := compilePatterns(patterns, logger)
	for _, text := range preTexts {
		for _, re := range compiled {
			if re.MatchString(text) {
				return text
			}
		}
	}
	return ""
}
