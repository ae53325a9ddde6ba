// File: cmd/explore.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/agent"
	"github.com/vantikan/verity-cli/internal/evidence"
	"github.com/vantikan/verity-cli/internal/explore"
	"github.com/vantikan/verity-cli/internal/observability"
	"github.com/vantikan/verity-cli/internal/probe"
)

// newExploreCmd creates the `explore` command: guided or fuzz exploration of
// a live site, producing evidence and a markdown report.
func newExploreCmd() *cobra.Command {
	exploreCmd := &cobra.Command{
		Use:   "explore",
		Short: "Explores a site in guided or fuzz mode and reports findings",
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
			durationRaw, _ := cmd.Flags().GetString("duration")
			goal, _ := cmd.Flags().GetString("goal")
			outputName, _ := cmd.Flags().GetString("output")
			mode, _ := cmd.Flags().GetString("mode")
			sessionName, _ := cmd.Flags().GetString("session")
			loginPath, _ := cmd.Flags().GetString("login-path")
			username, _ := cmd.Flags().GetString("username")
			password, _ := cmd.Flags().GetString("password")
			seed, _ := cmd.Flags().GetInt64("seed")
			safety, _ := cmd.Flags().GetString("safety")
			screenshotEvery, _ := cmd.Flags().GetInt("screenshot-every")
			checkpointEvery, _ := cmd.Flags().GetInt("checkpoint-every")
			probeCmds, _ := cmd.Flags().GetStringArray("probe-cmd")
			probeCwd, _ := cmd.Flags().GetString("probe-cwd")
			rawValueRegex, _ := cmd.Flags().GetStringArray("raw-value-regex")
			labelTerms, _ := cmd.Flags().GetStringArray("label-term")
			toolPayloadRegex, _ := cmd.Flags().GetStringArray("tool-payload-regex")

			if mode != "guided" && mode != "fuzz" {
				return fmt.Errorf("mode must be 'guided' or 'fuzz', got %q", mode)
			}
			duration, err := explore.ParseDuration(durationRaw)
			if err != nil {
				return err
			}

			if username == "" {
				username = os.Getenv("DRUPAL_TEST_USER")
			}
			if password == "" {
				password = os.Getenv("DRUPAL_TEST_PASS")
			}
			if username == "" || password == "" {
				fmt.Println("Missing credentials. Provide --username/--password or set DRUPAL_TEST_USER/DRUPAL_TEST_PASS.")
				return &exitCodeError{code: 2}
			}

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

			sess := explore.NewSession(agentClient, collector, baseURL, outDir, goal, sessionName, logger)
			sess.CloseBrowser(ctx)
			sess.Login(ctx, loginPath, username, password)

			elements := sess.SnapshotInteractive(ctx)

			if mode == "guided" {
				sess.RunCheckpoint(ctx, "guided_start")
				sessionFile, err := sess.WriteSessionFile(elements)
				if err != nil {
					return err
				}
				fmt.Printf("Guided exploration ready. Session file: %s\n", sessionFile)
				fmt.Printf("Continue with: agent-browser --session %s <command>\n", sessionName)
				reportPath, err := sess.WriteReport(0, "guided", outputName, nil)
				if err != nil {
					return err
				}
				fmt.Printf("Report skeleton: %s\n", reportPath)
				return nil
			}

			fuzzCfg := explore.FuzzConfig{
				Duration:        duration,
				Seed:            seed,
				Safety:          safety,
				ScreenshotEvery: screenshotEvery,
				CheckpointEvery: checkpointEvery,
			}
			actions := sess.Fuzz(ctx, fuzzCfg)
			logger.Info("Fuzz loop finished",
				zap.Int("actions", actions),
				zap.Int("issues", len(sess.Issues)),
			)

			reportPath, err := sess.WriteReport(duration, "fuzz", outputName, &fuzzCfg)
			if err != nil {
				return err
			}
			fmt.Printf("Fuzz report: %s\n", reportPath)
			return nil
		},
	}

	exploreCmd.Flags().String("url", "", "Base URL of the site to explore")
	exploreCmd.Flags().String("duration", "10m", "Duration, e.g. 30m, 1h (fuzz mode)")
	exploreCmd.Flags().String("goal", "Explore the site and report findings", "Exploration goal")
	exploreCmd.Flags().String("output-dir", "", "Directory for artifacts (overrides config/env)")
	exploreCmd.Flags().String("output", "exploration_report.md", "Report filename")
	exploreCmd.Flags().String("mode", "guided", "Exploration mode: guided or fuzz")
	exploreCmd.Flags().String("session", "explore", "Browser session name")
	exploreCmd.Flags().String("login-path", "/user/login", "Login page path")
	exploreCmd.Flags().String("username", "", "Login username (or set DRUPAL_TEST_USER)")
	exploreCmd.Flags().String("password", "", "Login password (or set DRUPAL_TEST_PASS)")
	exploreCmd.Flags().Int64("seed", 1337, "Random seed (fuzz mode)")
	exploreCmd.Flags().String("safety", explore.SafetyReadOnly, "Safety policy: read-only or dangerous")
	exploreCmd.Flags().Int("screenshot-every", 10, "Screenshot every N actions (fuzz mode)")
	exploreCmd.Flags().Int("checkpoint-every", 0, "Checkpoint every N actions (fuzz mode)")
	exploreCmd.Flags().StringArray("probe-cmd", nil, "Backend probe command run at each checkpoint (repeatable)")
	exploreCmd.Flags().String("probe-cwd", "", "Working directory for probe commands")
	exploreCmd.Flags().StringArray("raw-value-regex", nil, "Regex flagging raw values in AI output (repeatable)")
	exploreCmd.Flags().StringArray("label-term", nil, "Label term expected in the final answer (repeatable)")
	exploreCmd.Flags().StringArray("tool-payload-regex", nil, "Regex detecting tool payload blocks (repeatable)")
	_ = exploreCmd.MarkFlagRequired("url")

	return exploreCmd
}
