// File: internal/compare/report.go
// Description: Cross-run aggregation. Checkpoints from the baseline and
// modified runs are matched by name; every artifact kind both sides captured
// gets compared, and the run verdict folds the results down to a single word.
package compare

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vantikan/verity-cli/internal/evidence"
	"github.com/vantikan/verity-cli/internal/snapshot"
)

// Run verdicts, strongest first.
const (
	VerdictError     = "ERROR"
	VerdictChanged   = "CHANGED"
	VerdictIdentical = "IDENTICAL"
)

// ExitCode maps a comparison verdict onto the process exit code contract.
func ExitCode(verdict string) int {
	switch verdict {
	case VerdictIdentical:
		return 0
	case VerdictError:
		return 2
	default:
		return 1
	}
}

// MissingCheckpoint names a checkpoint only one run produced.
type MissingCheckpoint struct {
	Checkpoint string `json:"checkpoint"`
	Baseline   bool   `json:"baseline"`
	Modified   bool   `json:"modified"`
}

// CheckpointError records a snapshot comparison that could not be evaluated.
type CheckpointError struct {
	Checkpoint string               `json:"checkpoint"`
	Snapshot   *snapshot.SideErrors `json:"snapshot"`
}

// CheckpointDiff bundles the per-artifact comparisons of one checkpoint.
type CheckpointDiff struct {
	Snapshot       *snapshot.Result  `json:"snapshot,omitempty"`
	Console        *LogResult        `json:"console,omitempty"`
	Errors         *LogResult        `json:"errors,omitempty"`
	DrupalMessages *MessagesResult   `json:"drupal_messages,omitempty"`
	AIExplorer     *TranscriptResult `json:"ai_explorer,omitempty"`
	Probes         *ProbeComparison  `json:"probes,omitempty"`
}

// Comparison is the full cross-run diff keyed by checkpoint name.
type Comparison struct {
	MatchingCheckpoints []string                   `json:"matching_checkpoints"`
	MissingCheckpoints  []MissingCheckpoint        `json:"missing_checkpoints"`
	Errors              []CheckpointError          `json:"errors"`
	Checkpoints         map[string]*CheckpointDiff `json:"checkpoints"`
	ChangedCheckpoints  []string                   `json:"changed_checkpoints"`
}

// Summary condenses a Comparison for reporting and exit-code decisions.
type Summary struct {
	CheckpointsTotal   int    `json:"checkpoints_total"`
	Matching           int    `json:"matching"`
	Different          int    `json:"different"`
	ChangedCheckpoints int    `json:"changed_checkpoints"`
	Missing            int    `json:"missing"`
	Errors             int    `json:"errors"`
	Verdict            string `json:"verdict"`
}

func indexByName(checkpoints []*evidence.Checkpoint) map[string]*evidence.Checkpoint {
	byName := map[string]*evidence.Checkpoint{}
	for _, cp := range checkpoints {
		if cp != nil && cp.Name != "" {
			byName[cp.Name] = cp
		}
	}
	return byName
}

// Checkpoints compares two checkpoint lists by name. An artifact kind is only
// compared when both sides captured it; one-sided checkpoints are reported as
// missing rather than diffed.
func Checkpoints(baseline, modified []*evidence.Checkpoint) (*Comparison, *Summary) {
	baseByName := indexByName(baseline)
	modByName := indexByName(modified)

	nameSet := map[string]struct{}{}
	for name := range baseByName {
		nameSet[name] = struct{}{}
	}
	for name := range modByName {
		nameSet[name] = struct{}{}
	}
	allNames := make([]string, 0, len(nameSet))
	for name := range nameSet {
		allNames = append(allNames, name)
	}
	sort.Strings(allNames)

	comparison := &Comparison{
		MatchingCheckpoints: []string{},
		MissingCheckpoints:  []MissingCheckpoint{},
		Errors:              []CheckpointError{},
		Checkpoints:         map[string]*CheckpointDiff{},
		ChangedCheckpoints:  []string{},
	}
	snapshotDiffCount := 0

	for _, name := range allNames {
		baseCP := baseByName[name]
		modCP := modByName[name]
		if baseCP == nil || modCP == nil {
			comparison.MissingCheckpoints = append(comparison.MissingCheckpoints, MissingCheckpoint{
				Checkpoint: name,
				Baseline:   baseCP != nil,
				Modified:   modCP != nil,
			})
			continue
		}

		diff := &CheckpointDiff{}
		changed := false

		if baseCP.Artifacts.Snapshot != "" && modCP.Artifacts.Snapshot != "" {
			res := snapshot.Compare(baseCP.Artifacts.Snapshot, modCP.Artifacts.Snapshot)
			diff.Snapshot = res
			switch {
			case res.Error != nil:
				comparison.Errors = append(comparison.Errors, CheckpointError{Checkpoint: name, Snapshot: res.Error})
			case res.Same:
				comparison.MatchingCheckpoints = append(comparison.MatchingCheckpoints, name)
			default:
				snapshotDiffCount++
				changed = true
			}
		}

		if baseCP.Artifacts.Console != "" && modCP.Artifacts.Console != "" {
			diff.Console = Logs(baseCP.Artifacts.Console, modCP.Artifacts.Console)
			changed = changed || !diff.Console.Same
		}
		if baseCP.Artifacts.Errors != "" && modCP.Artifacts.Errors != "" {
			diff.Errors = Logs(baseCP.Artifacts.Errors, modCP.Artifacts.Errors)
			changed = changed || !diff.Errors.Same
		}
		if baseCP.Artifacts.DrupalMessages != "" && modCP.Artifacts.DrupalMessages != "" {
			diff.DrupalMessages = DrupalMessages(baseCP.Artifacts.DrupalMessages, modCP.Artifacts.DrupalMessages)
			changed = changed || !diff.DrupalMessages.Same
		}
		if baseCP.Artifacts.AIExplorer != "" && modCP.Artifacts.AIExplorer != "" {
			diff.AIExplorer = Transcripts(baseCP.Artifacts.AIExplorer, modCP.Artifacts.AIExplorer)
			changed = changed || !diff.AIExplorer.Same
		}
		if len(baseCP.Artifacts.Probes) > 0 || len(modCP.Artifacts.Probes) > 0 {
			diff.Probes = Probes(baseCP.Artifacts.Probes, modCP.Artifacts.Probes)
			changed = changed || !diff.Probes.Same
		}

		if changed {
			comparison.ChangedCheckpoints = append(comparison.ChangedCheckpoints, name)
		}
		comparison.Checkpoints[name] = diff
	}

	verdict := VerdictIdentical
	switch {
	case len(comparison.Errors) > 0:
		verdict = VerdictError
	case snapshotDiffCount > 0 || len(comparison.MissingCheckpoints) > 0 || len(comparison.ChangedCheckpoints) > 0:
		verdict = VerdictChanged
	}

	summary := &Summary{
		CheckpointsTotal:   len(allNames),
		Matching:           len(comparison.MatchingCheckpoints),
		Different:          snapshotDiffCount,
		ChangedCheckpoints: len(comparison.ChangedCheckpoints),
		Missing:            len(comparison.MissingCheckpoints),
		Errors:             len(comparison.Errors),
		Verdict:            verdict,
	}
	return comparison, summary
}

// ReportInput carries everything the markdown renderer needs.
type ReportInput struct {
	Generated     string
	SiteURL       string
	ScriptPath    string
	Summary       *Summary
	Comparison    *Comparison
	BaselineTrace string
	ModifiedTrace string
}

func summaryField(m map[string]interface{}, key string) interface{} {
	if m == nil {
		return nil
	}
	return m[key]
}

// Markdown renders the human-readable comparison report.
func Markdown(in ReportInput) string {
	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format+"\n", args...)
	}

	line("# Intent Testing Comparison")
	line("")
	line("**Generated:** %s", in.Generated)
	line("**Site:** %s", in.SiteURL)
	line("**Script:** %s", in.ScriptPath)
	line("**Verdict:** %s", in.Summary.Verdict)
	line("")
	line("## Summary")
	line("")
	line("- Checkpoints total: %d", in.Summary.CheckpointsTotal)
	line("- Snapshot matching: %d", in.Summary.Matching)
	line("- Snapshot different: %d", in.Summary.Different)
	line("- Missing checkpoints: %d", in.Summary.Missing)
	line("- Errors: %d", in.Summary.Errors)
	line("")

	if len(in.Comparison.MissingCheckpoints) > 0 {
		line("## Missing checkpoints")
		line("")
		for _, item := range in.Comparison.MissingCheckpoints {
			line("- %s (baseline=%t, modified=%t)", item.Checkpoint, item.Baseline, item.Modified)
		}
		line("")
	}

	if len(in.Comparison.Errors) > 0 {
		line("## Errors")
		line("")
		for _, item := range in.Comparison.Errors {
			line("- %s: baseline=%q modified=%q", item.Checkpoint, item.Snapshot.Baseline, item.Snapshot.Modified)
		}
		line("")
	}

	if len(in.Comparison.ChangedCheckpoints) > 0 {
		line("## Changed checkpoints")
		line("")
		for _, name := range in.Comparison.ChangedCheckpoints {
			diff := in.Comparison.Checkpoints[name]
			parts := []string{}
			if diff.Snapshot != nil && !diff.Snapshot.Same {
				parts = append(parts, "snapshot")
			}
			if diff.DrupalMessages != nil && !diff.DrupalMessages.Same {
				parts = append(parts, "drupal_messages")
			}
			if diff.AIExplorer != nil && !diff.AIExplorer.Same {
				parts = append(parts, "ai_explorer")
			}
			if diff.Console != nil && !diff.Console.Same {
				parts = append(parts, "console")
			}
			if diff.Errors != nil && !diff.Errors.Same {
				parts = append(parts, "errors")
			}
			if diff.Probes != nil && !diff.Probes.Same {
				parts = append(parts, "probes")
			}
			detail := "details"
			if len(parts) > 0 {
				detail = strings.Join(parts, ", ")
			}
			line("- %s: %s", name, detail)

			if ai := diff.AIExplorer; ai != nil && ai.Baseline.Data != nil && ai.Modified.Data != nil {
				baseSummary := ai.Baseline.Data.Summary
				modSummary := ai.Modified.Data.Summary
				if len(baseSummary) > 0 || len(modSummary) > 0 {
					line("- %s AI summary: raw_in_final_answer %v -> %v, raw_in_tool_payload %v -> %v",
						name,
						summaryField(baseSummary, "raw_in_final_answer"),
						summaryField(modSummary, "raw_in_final_answer"),
						summaryField(baseSummary, "raw_in_tool_payload"),
						summaryField(modSummary, "raw_in_tool_payload"),
					)
				}
			}
			if dm := diff.DrupalMessages; dm != nil && dm.Baseline.Data != nil && dm.Modified.Data != nil && !dm.Same {
				line("- %s Drupal messages: status=%v -> %v, alert=%v -> %v",
					name,
					dm.Baseline.Data.Status, dm.Modified.Data.Status,
					dm.Baseline.Data.Alert, dm.Modified.Data.Alert,
				)
			}
		}
		line("")
	}

	if in.BaselineTrace != "" || in.ModifiedTrace != "" {
		line("## Artifacts")
		line("")
		if in.BaselineTrace != "" {
			line("- baseline trace: `%s`", in.BaselineTrace)
		}
		if in.ModifiedTrace != "" {
			line("- modified trace: `%s`", in.ModifiedTrace)
		}
		line("")
	}

	return b.String()
}
