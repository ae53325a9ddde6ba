// File: internal/judge/judge.go
// Description: Assertion judging. The judge evaluates manifest assertions and
// guards against the evidence a run produced, folds in any inline assertion
// results recorded during the run, and renders a PASS/FAIL/ERROR verdict.
// Judging only reads persisted artifacts, so a run can be re-judged after the
// fact with a revised manifest.
package judge

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/vantikan/verity-cli/internal/manifest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Assertion statuses.
const (
	StatusPass  = "PASS"
	StatusFail  = "FAIL"
	StatusError = "ERROR"
)

// Result is the outcome of one evaluated assertion.
type Result struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Passed   bool   `json:"passed"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// Verdict is the full judging output for a run.
type Verdict struct {
	Verdict         string        `json:"verdict"`
	ReadyToSubmit   bool          `json:"ready_to_submit"`
	IntentStatement string        `json:"intent_statement"`
	ADR             []interface{} `json:"adr"`
	Assertions      []*Result     `json:"assertions"`
	Failures        []*Result     `json:"failures"`
	Errors          []*Result     `json:"errors"`
}

// ExitCode maps a verdict to the process exit code contract.
func ExitCode(verdict string) int {
	switch verdict {
	case StatusPass:
		return 0
	case StatusFail:
		return 1
	default:
		return 2
	}
}

// LoadRun reads a persisted run payload as a generic document.
func LoadRun(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run payload: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse run payload: %w", err)
	}
	return doc, nil
}

// SelectRun picks the run to judge out of a run payload: the named run, then
// the single run, then the payload itself for legacy flat files.
func SelectRun(payload map[string]interface{}, name string) map[string]interface{} {
	runs := manifest.Map(payload["runs"])
	if run := manifest.Map(runs[name]); run != nil {
		return run
	}
	if run := manifest.Map(runs["single"]); run != nil {
		return run
	}
	return payload
}

// GetCheckpoint finds a checkpoint by name, or the last one when no name is
// given. A named lookup that misses returns nil even when others exist.
func GetCheckpoint(run map[string]interface{}, name string) map[string]interface{} {
	checkpoints := manifest.List(run["checkpoints"])
	if len(checkpoints) == 0 {
		return nil
	}
	if name != "" {
		for _, entry := range checkpoints {
			if cp := manifest.Map(entry); cp != nil && manifest.Str(cp["name"]) == name {
				return cp
			}
		}
		return nil
	}
	return manifest.Map(checkpoints[len(checkpoints)-1])
}

// loadArtifact reads an artifact file as a generic object. Unreadable or
// unparseable artifacts read as absent.
func loadArtifact(path string) map[string]interface{} {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	return doc
}

func artifactPath(cp map[string]interface{}, kind string) string {
	return manifest.Str(manifest.Map(cp["artifacts"])[kind])
}

// extractAIFields loads the explorer transcript artifact of a checkpoint and
// returns the final answer and tool payload texts.
func extractAIFields(cp map[string]interface{}) (string, string) {
	payload := loadArtifact(artifactPath(cp, "ai_explorer"))
	if payload == nil {
		return "", ""
	}
	data := manifest.Map(payload["data"])
	if data == nil {
		return "", ""
	}
	return manifest.Str(data["final_answer"]), manifest.Str(data["tool_payload"])
}

// extractDrupalMessages loads the message artifact of a checkpoint. found is
// false when the artifact is missing or carries no data object.
func extractDrupalMessages(cp map[string]interface{}) (status, alert interface{}, found bool) {
	payload := loadArtifact(artifactPath(cp, "drupal_messages"))
	if payload == nil {
		return nil, nil, false
	}
	data := manifest.Map(payload["data"])
	if data == nil {
		return nil, nil, false
	}
	return data["status"], data["alert"], true
}

// countLogEntries counts the entries in a persisted log capture record. The
// agent has returned both bare lists and keyed objects over time.
func countLogEntries(record map[string]interface{}) int {
	parsed := manifest.Map(record["parsed"])
	if parsed == nil {
		return 0
	}
	data, present := parsed["data"]
	if !present {
		return 0
	}
	switch v := data.(type) {
	case []interface{}:
		return len(v)
	case map[string]interface{}:
		for _, key := range []string{"errors", "messages", "logs", "entries"} {
			if items, ok := v[key].([]interface{}); ok {
				return len(items)
			}
		}
		return 0
	default:
		if truthy(data) {
			return 1
		}
		return 0
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	default:
		return true
	}
}

var pathSegment = regexp.MustCompile(`^([\w-]+)(\[(\d+)\])?$`)

// getByPath walks a dotted path through nested maps, with optional [N] list
// indexing per segment. Any miss returns nil.
func getByPath(data interface{}, path string) interface{} {
	current := data
	for _, part := range splitPath(path) {
		match := pathSegment.FindStringSubmatch(part)
		if match == nil {
			return nil
		}
		key := match[1]
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current = m[key]
		if match[3] != "" {
			list, ok := current.([]interface{})
			if !ok {
				return nil
			}
			idx, err := strconv.Atoi(match[3])
			if err != nil || idx >= len(list) {
				return nil
			}
			current = list[idx]
		}
	}
	return current
}

func splitPath(path string) []string {
	parts := []string{}
	for _, part := range strings.Split(path, ".") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// valuesEqual compares an expected manifest value to an actual payload value.
// Numbers compare by value so a JSON 1 matches a YAML 1.
func valuesEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

// evaluateTextPatterns matches each compilable pattern against the text.
// Invalid patterns are skipped rather than failing the assertion.
func evaluateTextPatterns(text string, patterns []string, expectPresent bool) (bool, []string) {
	hits := []string{}
	for _, raw := range patterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			hits = append(hits, raw)
		}
	}
	if expectPresent {
		return len(hits) > 0, hits
	}
	return len(hits) == 0, hits
}

// Evaluate runs one manifest assertion against a run.
func Evaluate(assertion map[string]interface{}, run map[string]interface{}) *Result {
	result := &Result{
		ID:       manifest.Str(assertion["id"]),
		Type:     manifest.Str(assertion["type"]),
		Severity: manifest.Str(assertion["severity"]),
		Status:   StatusFail,
	}
	if result.Severity == "" {
		result.Severity = "fail"
	}

	cp := GetCheckpoint(run, manifest.Str(assertion["checkpoint"]))
	if cp == nil {
		result.Status = StatusError
		result.Message = "checkpoint not found"
		return result
	}

	switch result.Type {
	case "text_absent", "text_present":
		text := ""
		switch manifest.Str(assertion["scope"]) {
		case "final_answer":
			text, _ = extractAIFields(cp)
		case "tool_call":
			_, text = extractAIFields(cp)
		case "drupal_status":
			status, _, _ := extractDrupalMessages(cp)
			text = manifest.Str(status)
		case "drupal_alert":
			_, alert, _ := extractDrupalMessages(cp)
			text = manifest.Str(alert)
		}
		passed, hits := evaluateTextPatterns(text, manifest.StrList(assertion["patterns"]), result.Type == "text_present")
		result.Passed = passed
		result.Status = statusFor(passed)
		if !passed {
			result.Message = fmt.Sprintf("patterns matched: %v", hits)
		}
		return result

	case "yaml_path_equals":
		_, tool := extractAIFields(cp)
		if tool == "" {
			result.Status = StatusError
			result.Message = "tool payload not found"
			return result
		}
		var parsed interface{}
		if err := yaml.Unmarshal([]byte(tool), &parsed); err != nil {
			result.Status = StatusError
			result.Message = fmt.Sprintf("tool payload parse error: %v", err)
			return result
		}
		expected := assertion["expected"]
		actual := getByPath(parsed, manifest.Str(assertion["path"]))
		result.Passed = valuesEqual(actual, expected)
		result.Status = statusFor(result.Passed)
		result.Message = fmt.Sprintf("expected %v, got %v", expected, actual)
		return result

	case "no_console_errors":
		count := 0
		if payload := loadArtifact(artifactPath(cp, "errors")); payload != nil {
			count = countLogEntries(payload)
		}
		result.Passed = count == 0
		result.Status = statusFor(result.Passed)
		result.Message = fmt.Sprintf("console errors count: %d", count)
		return result

	case "no_drupal_messages":
		level := manifest.Str(assertion["level"])
		if level == "" {
			level = "alert"
		}
		status, alert, _ := extractDrupalMessages(cp)
		target := alert
		if level != "alert" {
			target = status
		}
		result.Passed = !truthy(target)
		result.Status = statusFor(result.Passed)
		if !result.Passed {
			result.Message = fmt.Sprintf("%s messages present: %v", level, target)
		}
		return result

	case "url_contains":
		url := manifest.Str(cp["url"])
		expected := manifest.Str(assertion["contains"])
		result.Passed = strings.Contains(url, expected)
		result.Status = statusFor(result.Passed)
		result.Message = fmt.Sprintf("url %s contains %s", url, expected)
		return result

	default:
		result.Status = StatusError
		result.Message = "unknown assertion type: " + result.Type
		return result
	}
}

func statusFor(passed bool) string {
	if passed {
		return StatusPass
	}
	return StatusFail
}

// Judge evaluates every manifest assertion and guard against the run, folds
// in the run's inline assertion results, and renders the verdict. A single
// ERROR outranks failures; any fail-severity failure blocks PASS.
func Judge(m manifest.Manifest, run map[string]interface{}) *Verdict {
	evaluated := []*Result{}
	for _, entry := range append(m.Assertions(), m.Guards()...) {
		assertion := manifest.Map(entry)
		if assertion == nil {
			assertion = map[string]interface{}{}
		}
		evaluated = append(evaluated, Evaluate(assertion, run))
	}

	for _, entry := range manifest.List(run["assertions"]) {
		inline := manifest.Map(entry)
		if inline == nil {
			continue
		}
		passed, _ := inline["passed"].(bool)
		evaluated = append(evaluated, &Result{
			ID:       manifest.Str(inline["id"]),
			Type:     manifest.Str(inline["type"]),
			Severity: "fail",
			Passed:   passed,
			Status:   statusFor(passed),
			Message:  manifest.Str(inline["message"]),
		})
	}

	failures := []*Result{}
	errors := []*Result{}
	for _, r := range evaluated {
		if r.Status == StatusError {
			errors = append(errors, r)
		}
		if !r.Passed && r.Status == StatusFail && r.Severity == "fail" {
			failures = append(failures, r)
		}
	}

	verdict := StatusPass
	ready := true
	switch {
	case len(errors) > 0:
		verdict = StatusError
		ready = false
	case len(failures) > 0:
		verdict = StatusFail
		ready = false
	}

	adr := m["adr"]
	adrList := manifest.List(adr)
	if adrList == nil {
		adrList = []interface{}{}
	}
	return &Verdict{
		Verdict:         verdict,
		ReadyToSubmit:   ready,
		IntentStatement: manifest.Str(m["intent_statement"]),
		ADR:             adrList,
		Assertions:      evaluated,
		Failures:        failures,
		Errors:          errors,
	}
}

// WriteVerdict persists the verdict as indented JSON.
func WriteVerdict(path string, v *Verdict) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write verdict: %w", err)
	}
	return nil
}
