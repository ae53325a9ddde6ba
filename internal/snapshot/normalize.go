// File: internal/snapshot/normalize.go
// Description: Canonicalization of agent-browser accessibility snapshots.
// Raw snapshots carry ref ids (e1, e2, ...) that renumber between runs and a
// rendered text form that embeds them; both are discarded so two captures of
// the same page normalize to the same element list.
package snapshot

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Element is one accessibility node reduced to its stable attributes.
type Element map[string]interface{}

// elementKeys are the ref attributes that survive normalization. Booleans are
// kept even when false; a present "checked": false is signal.
var elementKeys = []string{
	"role", "name", "value", "level",
	"checked", "disabled", "selected", "expanded", "pressed",
	"href",
}

func attrString(el Element, key string) string {
	v, ok := el[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Normalize reduces a snapshot payload to a sorted element list. The payload
// is the parsed envelope ({"success":true,"data":{"refs":{...}}}) or the bare
// data object; anything unrecognized normalizes to an empty list.
func Normalize(payload interface{}) []Element {
	elements := []Element{}

	obj, ok := payload.(map[string]interface{})
	if !ok {
		return elements
	}
	data := obj
	if inner, ok := obj["data"].(map[string]interface{}); ok {
		data = inner
	}
	refs, _ := data["refs"].(map[string]interface{})

	for _, raw := range refs {
		info, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		el := Element{}
		for _, k := range elementKeys {
			if v, present := info[k]; present {
				el[k] = v
			}
		}
		if attrString(el, "role") != "" || attrString(el, "name") != "" {
			elements = append(elements, el)
		}
	}

	sort.SliceStable(elements, func(i, j int) bool {
		a, b := elements[i], elements[j]
		for _, k := range []string{"role", "name", "value", "href"} {
			av, bv := attrString(a, k), attrString(b, k)
			if av != bv {
				return av < bv
			}
		}
		return false
	})
	return elements
}

// RoleCount is one entry of a by-role histogram.
type RoleCount struct {
	Role  string
	Count int
}

// RoleCounts serializes as a JSON object and preserves its slice order, most
// frequent role first.
type RoleCounts []RoleCount

// MarshalJSON renders the histogram as an ordered JSON object.
func (rc RoleCounts) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, entry := range rc {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(entry.Role)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, []byte(fmt.Sprintf("%d", entry.Count))...)
	}
	return append(buf, '}'), nil
}

// Summary is a compact shape descriptor for a normalized element list.
type Summary struct {
	Count  int        `json:"count"`
	ByRole RoleCounts `json:"by_role"`
}

// Summarize counts elements per role, ordered by descending count then role.
func Summarize(elements []Element) *Summary {
	byRole := map[string]int{}
	for _, el := range elements {
		if role := attrString(el, "role"); role != "" {
			byRole[role]++
		}
	}
	counts := make(RoleCounts, 0, len(byRole))
	for role, count := range byRole {
		counts = append(counts, RoleCount{Role: role, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Role < counts[j].Role
	})
	return &Summary{Count: len(elements), ByRole: counts}
}

// ExtractPayload pulls the normalizable payload out of a persisted snapshot
// artifact. Artifacts are usually full capture records wrapping a parsed
// envelope, but bare envelopes and bare data objects are accepted too. A
// non-empty reason means no payload could be recovered.
func ExtractPayload(raw interface{}) (map[string]interface{}, string) {
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return nil, "snapshot file was not a JSON object"
	}
	if pe, ok := obj["parsed_error"]; ok && pe != nil && fmt.Sprint(pe) != "" {
		return nil, fmt.Sprint(pe)
	}
	_, hasStdout := obj["stdout"]
	_, hasParsed := obj["parsed"]
	_, hasSuccess := obj["success"]
	_, hasData := obj["data"]
	if hasStdout && !hasParsed && !hasSuccess && !hasData {
		return nil, "snapshot missing parsed payload"
	}
	if hasParsed {
		if parsed, ok := obj["parsed"].(map[string]interface{}); ok {
			return parsed, ""
		}
		return nil, "snapshot parsed payload was missing or invalid"
	}
	if hasSuccess && hasData {
		return obj, ""
	}
	_, hasRefs := obj["refs"]
	if hasData || hasRefs {
		return obj, ""
	}
	return nil, "unrecognized snapshot format"
}
