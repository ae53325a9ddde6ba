// File: cmd/compare.go
package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/agent"
	"github.com/vantikan/verity-cli/internal/compare"
	"github.com/vantikan/verity-cli/internal/evidence"
	"github.com/vantikan/verity-cli/internal/interpreter"
	"github.com/vantikan/verity-cli/internal/observability"
	"github.com/vantikan/verity-cli/internal/probe"
	"github.com/vantikan/verity-cli/internal/script"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// compareReport is the persisted outcome of one paired A/B comparison run.
type compareReport struct {
	Generated  string                 `json:"generated"`
	Config     map[string]interface{} `json:"config"`
	Shell      map[string]interface{} `json:"shell"`
	Baseline   *interpreter.RunResult `json:"baseline"`
	Modified   *interpreter.RunResult `json:"modified"`
	Comparison *compare.Comparison    `json:"comparison"`
	Summary    *compare.Summary       `json:"summary"`
}

// newCompareCmd creates the `compare` command: run one scenario script twice
// (baseline and modified application state) and diff the evidence.
func newCompareCmd() *cobra.Command {
	compareCmd := &cobra.Command{
		Use:   "compare",
		Short: "Runs a scenario script against baseline and modified states and compares the evidence",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("output.dir", cmd.Flags().Lookup("output-dir")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := currentConfig()

			baseURL, _ := cmd.Flags().GetString("url")
			scriptPath, _ := cmd.Flags().GetString("script")
			outputName, _ := cmd.Flags().GetString("output")
			outputMd, _ := cmd.Flags().GetString("output-md")
			noPause, _ := cmd.Flags().GetBool("no-pause")
			beforeCmd, _ := cmd.Flags().GetString("before-cmd")
			betweenCmd, _ := cmd.Flags().GetString("between-cmd")
			afterCmd, _ := cmd.Flags().GetString("after-cmd")
			continueOnFail, _ := cmd.Flags().GetBool("continue-on-fail")
			probeCmds, _ := cmd.Flags().GetStringArray("probe-cmd")
			probeCwd, _ := cmd.Flags().GetString("probe-cwd")
			withTrace, _ := cmd.Flags().GetBool("trace")
			rawValueRegex, _ := cmd.Flags().GetStringArray("raw-value-regex")
			labelTerms, _ := cmd.Flags().GetStringArray("label-term")
			toolPayloadRegex, _ := cmd.Flags().GetStringArray("tool-payload-regex")

			outDir := viper.GetString("output.dir")
			if outDir == "" {
				outDir = cfg.Output.Dir
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			// Flags override the config file; unset flags fall back to it.
			if len(probeCmds) == 0 {
				probeCmds = cfg.Probes.Commands
			}
			if probeCwd == "" {
				probeCwd = cfg.Probes.Cwd
			}
			if len(rawValueRegex) == 0 {
				rawValueRegex = cfg.Analysis.RawValuePatterns
			}
			if len(labelTerms) == 0 {
				labelTerms = cfg.Analysis.LabelTerms
			}
			if len(toolPayloadRegex) == 0 {
				toolPayloadRegex = cfg.Analysis.ToolPayloadPatterns
			}

			commands, err := script.ParseFile(scriptPath)
			if err != nil {
				return err
			}

			agentClient := agent.NewClient(cfg.Agent, logger)
			probes := probe.NewRunner(probeCwd, logger)
			collector := evidence.NewCollector(agentClient, probes, evidence.Config{
				ProbeCommands:       probeCmds,
				RawValuePatterns:    rawValueRegex,
				LabelTerms:          labelTerms,
				ToolPayloadPatterns: toolPayloadRegex,
				CommandTimeout:      cfg.Agent.CommandTimeout,
				LogTimeout:          cfg.Agent.LogTimeout,
				QueryTimeout:        cfg.Agent.QueryTimeout,
			}, logger)
			interp := interpreter.New(agentClient, collector, probes, logger)

			stopOnFail := !continueOnFail
			report := &compareReport{
				Generated: agent.Timestamp(),
				Config: map[string]interface{}{
					"url":                baseURL,
					"script":             scriptPath,
					"output_dir":         outDir,
					"between_cmd":        betweenCmd,
					"stop_on_fail":       stopOnFail,
					"probe_cmds":         probeCmds,
					"probe_cwd":          probeCwd,
					"raw_value_regex":    rawValueRegex,
					"label_terms":        labelTerms,
					"tool_payload_regex": toolPayloadRegex,
					"trace":              withTrace,
				},
				Shell: map[string]interface{}{},
			}

			// Drop any stale browser state for both sessions.
			closeSession := func(session string) {
				agentClient.Run(ctx, []string{"close"}, agent.Options{Session: session})
			}
			closeSession("baseline")
			closeSession("modified")

			if beforeCmd != "" {
				report.Shell["before"] = probes.RunLine(ctx, beforeCmd)
			}

			runOne := func(session string) (*interpreter.RunResult, error) {
				logger.Info("Executing scenario",
					zap.String("session", session),
					zap.Int("steps", len(commands)),
				)
				var tracePath string
				if withTrace {
					tracePath = filepath.Join(outDir, session+".trace.zip")
					report.Shell["trace_"+session+"_start"] = agentClient.Run(ctx,
						[]string{"trace", "start", tracePath},
						agent.Options{Session: session, Timeout: 30 * time.Second})
				}
				res, err := interp.Execute(ctx, commands, interpreter.Options{
					BaseURL:    baseURL,
					Session:    session,
					OutDir:     outDir,
					StopOnFail: stopOnFail,
				})
				if err != nil {
					return nil, err
				}
				if withTrace {
					report.Shell["trace_"+session+"_stop"] = agentClient.Run(ctx,
						[]string{"trace", "stop", tracePath},
						agent.Options{Session: session, Timeout: 30 * time.Second})
					res.Trace = tracePath
				}
				return res, nil
			}

			report.Baseline, err = runOne("baseline")
			if err != nil {
				return err
			}

			if !noPause && betweenCmd == "" {
				pauseForModifications()
			}
			if betweenCmd != "" {
				report.Shell["between"] = probes.RunLine(ctx, betweenCmd)
			}

			report.Modified, err = runOne("modified")
			if err != nil {
				return err
			}

			if afterCmd != "" {
				report.Shell["after"] = probes.RunLine(ctx, afterCmd)
			}

			report.Comparison, report.Summary = compare.Checkpoints(report.Baseline.Checkpoints, report.Modified.Checkpoints)

			reportPath := filepath.Join(outDir, outputName)
			raw, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal comparison report: %w", err)
			}
			if err := os.WriteFile(reportPath, raw, 0o644); err != nil {
				return fmt.Errorf("write comparison report: %w", err)
			}

			mdPath := filepath.Join(outDir, outputMd)
			md := compare.Markdown(compare.ReportInput{
				Generated:     report.Generated,
				SiteURL:       baseURL,
				ScriptPath:    scriptPath,
				Summary:       report.Summary,
				Comparison:    report.Comparison,
				BaselineTrace: report.Baseline.Trace,
				ModifiedTrace: report.Modified.Trace,
			})
			if err := os.WriteFile(mdPath, []byte(md), 0o644); err != nil {
				return fmt.Errorf("write markdown report: %w", err)
			}

			fmt.Printf("Verdict: %s\n", report.Summary.Verdict)
			fmt.Printf("Report: %s\n", reportPath)
			fmt.Printf("Summary: %s\n", mdPath)

			if code := compare.ExitCode(report.Summary.Verdict); code != 0 {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}

	compareCmd.Flags().String("url", "", "Base URL of the site under test")
	compareCmd.Flags().String("script", "", "Path to the scenario script (.txt)")
	compareCmd.Flags().String("output-dir", "", "Directory for artifacts (overrides config/env)")
	compareCmd.Flags().String("output", "comparison_report.json", "Report filename (written under output-dir)")
	compareCmd.Flags().String("output-md", "comparison_report.md", "Markdown summary filename (written under output-dir)")
	compareCmd.Flags().Bool("no-pause", false, "Do not pause between baseline and modified runs (required for CI)")
	compareCmd.Flags().String("before-cmd", "", "Command to run before baseline (no shell operators)")
	compareCmd.Flags().String("between-cmd", "", "Command to run between baseline and modified (no shell operators)")
	compareCmd.Flags().String("after-cmd", "", "Command to run after modified (no shell operators)")
	compareCmd.Flags().Bool("continue-on-fail", false, "Continue the scenario after a failing command")
	compareCmd.Flags().StringArray("probe-cmd", nil, "Backend probe command run at each checkpoint (repeatable)")
	compareCmd.Flags().String("probe-cwd", "", "Working directory for probe commands")
	compareCmd.Flags().Bool("trace", false, "Capture a browser trace.zip for each run")
	compareCmd.Flags().StringArray("raw-value-regex", nil, "Regex flagging raw values in AI output (repeatable)")
	compareCmd.Flags().StringArray("label-term", nil, "Label term expected in the final answer (repeatable)")
	compareCmd.Flags().StringArray("tool-payload-regex", nil, "Regex detecting tool payload blocks (repeatable)")
	_ = compareCmd.MarkFlagRequired("url")
	_ = compareCmd.MarkFlagRequired("script")

	return compareCmd
}

// pauseForModifications blocks until the operator confirms the modified
// state is in place. Non-interactive stdin skips the pause with a warning.
func pauseForModifications() {
	fmt.Println()
	fmt.Println("Baseline complete. Make your code/config changes now.")
	fmt.Println("Press ENTER to run MODIFIED...")
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice == 0 {
		fmt.Println("stdin is not a TTY; skipping pause. Use --no-pause or --between-cmd in automation.")
		return
	}
	_, _ = bufio.NewReader(os.Stdin).ReadString('\n')
}
