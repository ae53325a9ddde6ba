// File: internal/agent/extract.go
package agent

// Data returns the semantic payload of a record: parsed.data when the parsed
// envelope is an object carrying one, else nil.
func Data(rec *Record) interface{} {
	if rec == nil {
		return nil
	}
	parsed, ok := rec.Parsed.(map[string]interface{})
	if !ok {
		return nil
	}
	data, ok := parsed["data"]
	if !ok {
		return nil
	}
	return data
}

// Text returns the payload as a string, for scalar commands like `get url`.
func Text(rec *Record) (string, bool) {
	s, ok := Data(rec).(string)
	return s, ok
}

// LogEntries extracts log entries from a record's payload. The agent has
// returned both bare lists and keyed objects over time, so both shapes are
// accepted.
func LogEntries(rec *Record) []interface{} {
	data := Data(rec)
	switch v := data.(type) {
	case nil:
		return nil
	case []interface{}:
		return v
	case map[string]interface{}:
		for _, key := range []string{"errors", "messages", "logs", "entries"} {
			if items, ok := v[key].([]interface{}); ok {
				return items
			}
		}
		return nil
	default:
		return []interface{}{data}
	}
}

// EvalResult unwraps the payload of an `eval --json` call. Some agent
// versions nest the object value under one or more "result" keys.
func EvalResult(rec *Record) interface{} {
	data := Data(rec)
	for i := 0; i < 3; i++ {
		m, ok := data.(map[string]interface{})
		if !ok {
			break
		}
		inner, ok := m["result"].(map[string]interface{})
		if !ok {
			break
		}
		data = inner
	}
	return data
}
