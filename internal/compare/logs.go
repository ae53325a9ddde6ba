// File: internal/compare/logs.go
package compare

import (
	"fmt"
	"sort"

	"github.com/vantikan/verity-cli/internal/snapshot"
)

// LogSummary describes one side of a log comparison.
type LogSummary struct {
	Count  int           `json:"count"`
	Sample []interface{} `json:"sample"`
}

// LogSide is one input of a log comparison.
type LogSide struct {
	File    string      `json:"file"`
	Summary *LogSummary `json:"summary,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// LogResult is the outcome of comparing two console or error artifacts.
type LogResult struct {
	Same     bool                 `json:"same"`
	Baseline LogSide              `json:"baseline"`
	Modified LogSide              `json:"modified"`
	Error    *snapshot.SideErrors `json:"error,omitempty"`
}

// extractLogEntries pulls the entry list out of a persisted log artifact.
// Artifacts wrap a capture record; bare envelopes and bare payloads are also
// accepted. A non-empty reason means the artifact carried no usable payload.
func extractLogEntries(raw interface{}) ([]interface{}, string) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, "log file was not a JSON object"
	}
	if pe, ok := obj["parsed_error"]; ok && pe != nil && fmt.Sprint(pe) != "" {
		return nil, fmt.Sprint(pe)
	}
	_, hasStdout := obj["stdout"]
	_, hasParsed := obj["parsed"]
	_, hasSuccess := obj["success"]
	_, hasData := obj["data"]
	if hasStdout && !hasParsed && !hasSuccess && !hasData {
		return nil, "log missing parsed payload"
	}

	payload := raw
	if hasParsed {
		payload = obj["parsed"]
	}
	data := payload
	if m, ok := payload.(map[string]interface{}); ok {
		if inner, present := m["data"]; present {
			data = inner
		}
	}
	switch v := data.(type) {
	case nil:
		return []interface{}{}, ""
	case []interface{}:
		return v, ""
	default:
		return []interface{}{data}, ""
	}
}

// normalizeEntries renders entries in a canonical order-insensitive form.
func normalizeEntries(entries []interface{}) []string {
	normalized := make([]string, 0, len(entries))
	for _, entry := range entries {
		s, err := json.MarshalToString(entry)
		if err != nil {
			s = fmt.Sprint(entry)
		}
		normalized = append(normalized, s)
	}
	sort.Strings(normalized)
	return normalized
}

func sample(entries []interface{}) []interface{} {
	if len(entries) > 20 {
		entries = entries[:20]
	}
	out := make([]interface{}, len(entries))
	copy(out, entries)
	return out
}

// Logs compares two console or error log artifacts. Entry order is ignored.
func Logs(baselinePath, modifiedPath string) *LogResult {
	baseRaw, baseLoadErr := loadJSON(baselinePath)
	modRaw, modLoadErr := loadJSON(modifiedPath)

	baseErr, modErr := baseLoadErr, modLoadErr
	var baseEntries, modEntries []interface{}
	if baseErr == "" {
		baseEntries, baseErr = extractLogEntries(baseRaw)
	}
	if modErr == "" {
		modEntries, modErr = extractLogEntries(modRaw)
	}
	if baseErr != "" || modErr != "" {
		return &LogResult{
			Same:     false,
			Baseline: LogSide{File: baselinePath, Error: baseErr},
			Modified: LogSide{File: modifiedPath, Error: modErr},
			Error:    &snapshot.SideErrors{Baseline: baseErr, Modified: modErr},
		}
	}

	baseNorm := normalizeEntries(baseEntries)
	modNorm := normalizeEntries(modEntries)
	same := len(baseNorm) == len(modNorm)
	if same {
		for i := range baseNorm {
			if baseNorm[i] != modNorm[i] {
				same = false
				break
			}
		}
	}

	return &LogResult{
		Same:     same,
		Baseline: LogSide{File: baselinePath, Summary: &LogSummary{Count: len(baseEntries), Sample: sample(baseEntries)}},
		Modified: LogSide{File: modifiedPath, Summary: &LogSummary{Count: len(modEntries), Sample: sample(modEntries)}},
	}
}
