// File: internal/compare/messages.go
package compare

import (
	"reflect"

	"github.com/vantikan/verity-cli/internal/snapshot"
)

// Messages is the status/alert pair harvested from a page's live regions.
// Values are strings or nil when the region was empty.
type Messages struct {
	Status interface{} `json:"status"`
	Alert  interface{} `json:"alert"`
}

// MessagesSide is one input of a message comparison.
type MessagesSide struct {
	File  string    `json:"file"`
	Data  *Messages `json:"data,omitempty"`
	Error string    `json:"error,omitempty"`
}

// MessagesDiffs holds per-field unified diffs.
type MessagesDiffs struct {
	Status []string `json:"status"`
	Alert  []string `json:"alert"`
}

// MessagesResult is the outcome of comparing two message artifacts.
type MessagesResult struct {
	Same     bool                 `json:"same"`
	Baseline MessagesSide         `json:"baseline"`
	Modified MessagesSide         `json:"modified"`
	Diffs    *MessagesDiffs       `json:"diffs,omitempty"`
	Error    *snapshot.SideErrors `json:"error,omitempty"`
}

func extractMessages(raw interface{}) *Messages {
	msg := &Messages{}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return msg
	}
	data, ok := obj["data"].(map[string]interface{})
	if !ok {
		return msg
	}
	msg.Status = data["status"]
	msg.Alert = data["alert"]
	return msg
}

func asText(v interface{}) string {
	s, _ := v.(string)
	return s
}

// DrupalMessages compares two message artifacts field by field.
func DrupalMessages(baselinePath, modifiedPath string) *MessagesResult {
	baseRaw, baseErr := loadJSON(baselinePath)
	modRaw, modErr := loadJSON(modifiedPath)
	if baseErr != "" || modErr != "" {
		return &MessagesResult{
			Same:     false,
			Baseline: MessagesSide{File: baselinePath, Error: baseErr},
			Modified: MessagesSide{File: modifiedPath, Error: modErr},
			Error:    &snapshot.SideErrors{Baseline: baseErr, Modified: modErr},
		}
	}

	baseMsg := extractMessages(baseRaw)
	modMsg := extractMessages(modRaw)

	statusSame := reflect.DeepEqual(baseMsg.Status, modMsg.Status)
	alertSame := reflect.DeepEqual(baseMsg.Alert, modMsg.Alert)

	diffs := &MessagesDiffs{Status: []string{}, Alert: []string{}}
	if !statusSame {
		diffs.Status = diffText(asText(baseMsg.Status), asText(modMsg.Status), baselineName(baselinePath), modifiedName(modifiedPath))
	}
	if !alertSame {
		diffs.Alert = diffText(asText(baseMsg.Alert), asText(modMsg.Alert), baselineName(baselinePath), modifiedName(modifiedPath))
	}

	return &MessagesResult{
		Same:     statusSame && alertSame,
		Baseline: MessagesSide{File: baselinePath, Data: baseMsg},
		Modified: MessagesSide{File: modifiedPath, Data: modMsg},
		Diffs:    diffs,
	}
}
