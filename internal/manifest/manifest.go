// File: internal/manifest/manifest.go
// Description: Intent manifest loading, normalization and validation. A
// manifest is a schema-loose YAML or JSON document; it is kept as a generic
// map so optional and user-defined fields survive a round trip, with typed
// accessors for the parts the harness consumes.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manifest is a normalized intent manifest document.
type Manifest map[string]interface{}

// Default timeouts applied during normalization.
const (
	DefaultPageLoadMs   = 120000
	DefaultAIResponseMs = 600000
)

// Load reads a manifest file. The .json extension selects JSON, everything
// else is parsed as YAML (which covers JSON-in-YAML too).
func Load(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var doc map[string]interface{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse JSON manifest: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse YAML manifest: %w", err)
		}
	}
	return Manifest(doc), nil
}

// Normalize fills in defaults so downstream code can rely on the keys being
// present. The input map is modified and returned.
func Normalize(m Manifest) Manifest {
	if m == nil {
		m = Manifest{}
	}
	setDefault(m, "issue", map[string]interface{}{})
	setDefault(m, "intent_statement", "")
	setDefault(m, "adr", []interface{}{})
	setDefault(m, "environment", map[string]interface{}{})
	setDefault(m, "strategy", map[string]interface{}{})
	setDefault(m, "steps", []interface{}{})
	setDefault(m, "assertions", []interface{}{})
	setDefault(m, "guards", []interface{}{})
	setDefault(m, "probes", []interface{}{})

	strategy := Map(m["strategy"])
	if strategy == nil {
		strategy = map[string]interface{}{}
		m["strategy"] = strategy
	}
	setDefault(strategy, "mode", "single")
	setDefault(strategy, "retries", 0)
	setDefault(strategy, "timeouts", map[string]interface{}{})
	timeouts := Map(strategy["timeouts"])
	if timeouts == nil {
		timeouts = map[string]interface{}{}
		strategy["timeouts"] = timeouts
	}
	setDefault(timeouts, "page_load_ms", DefaultPageLoadMs)
	setDefault(timeouts, "ai_response_ms", DefaultAIResponseMs)

	env := Map(m["environment"])
	if env != nil {
		if _, ok := env["login_url"]; !ok && Str(env["admin_user"]) != "" {
			env["login_url"] = "/user/login"
		}
	}
	return m
}

func setDefault(m map[string]interface{}, key string, value interface{}) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// Validate checks the structural requirements and returns human-readable
// problems. An empty slice means the manifest is runnable.
func Validate(m Manifest) []string {
	errors := []string{}
	if m == nil {
		return []string{"Manifest must be a mapping/object."}
	}

	issue := m["issue"]
	if issue == nil {
		issue = map[string]interface{}{}
	}
	if issueMap := Map(issue); issueMap == nil {
		errors = append(errors, "issue must be an object")
	} else if Str(issueMap["url"]) == "" || Str(issueMap["title"]) == "" {
		if Str(m["intent_statement"]) == "" {
			errors = append(errors, "issue.url and issue.title are required unless intent_statement is provided")
		}
	}

	if env := Map(m["environment"]); env == nil {
		errors = append(errors, "environment must be an object")
	} else if Str(env["base_url"]) == "" {
		errors = append(errors, "environment.base_url is required")
	}

	if strategy := Map(m["strategy"]); strategy == nil {
		errors = append(errors, "strategy must be an object")
	} else {
		mode := Str(strategy["mode"])
		if mode == "" {
			mode = "single"
		}
		if mode != "single" && mode != "compare" {
			errors = append(errors, "strategy.mode must be 'single' or 'compare'")
		}
	}

	if steps := List(m["steps"]); len(steps) == 0 {
		errors = append(errors, "steps must be a non-empty list")
	}

	if assertions, present := m["assertions"]; present && assertions != nil {
		if _, ok := assertions.([]interface{}); !ok {
			errors = append(errors, "assertions must be a list")
		}
	}

	if adr, present := m["adr"]; present && adr != nil {
		entries, ok := adr.([]interface{})
		if !ok {
			errors = append(errors, "adr must be a list of strings")
		} else {
			for _, entry := range entries {
				if _, ok := entry.(string); !ok {
					errors = append(errors, "adr entries must be strings")
					break
				}
			}
		}
	}

	return errors
}

// LoadAndValidate loads, normalizes and validates in one step.
func LoadAndValidate(path string) (Manifest, []string, error) {
	m, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	m = Normalize(m)
	return m, Validate(m), nil
}

// Environment returns the environment section.
func (m Manifest) Environment() map[string]interface{} {
	return Map(m["environment"])
}

// Strategy returns the strategy section.
func (m Manifest) Strategy() map[string]interface{} {
	return Map(m["strategy"])
}

// Timeouts returns the strategy timeout map.
func (m Manifest) Timeouts() map[string]interface{} {
	return Map(m.Strategy()["timeouts"])
}

// Steps returns the manifest step list.
func (m Manifest) Steps() []interface{} {
	return List(m["steps"])
}

// Assertions returns the manifest assertion list.
func (m Manifest) Assertions() []interface{} {
	return List(m["assertions"])
}

// Guards returns the manifest guard list.
func (m Manifest) Guards() []interface{} {
	return List(m["guards"])
}

// ProbeCommands returns the command strings of all configured probes.
func (m Manifest) ProbeCommands() []string {
	commands := []string{}
	for _, entry := range List(m["probes"]) {
		if probe := Map(entry); probe != nil {
			if cmd := Str(probe["command"]); cmd != "" {
				commands = append(commands, cmd)
			}
		}
	}
	return commands
}

// StrList coerces a manifest list value to strings, dropping non-strings.
func StrList(v interface{}) []string {
	out := []string{}
	for _, entry := range List(v) {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Map returns v as a string-keyed map, or nil.
func Map(v interface{}) map[string]interface{} {
	m, _ := v.(map[string]interface{})
	return m
}

// List returns v as a slice, or nil.
func List(v interface{}) []interface{} {
	l, _ := v.([]interface{})
	return l
}

// Str returns v as a string, or "".
func Str(v interface{}) string {
	s, _ := v.(string)
	return s
}

// Int returns v as an int, tolerating the numeric types the YAML and JSON
// decoders produce, or def when v is not numeric.
func Int(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return def
	}
}
