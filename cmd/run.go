// File: cmd/run.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/agent"
	"github.com/vantikan/verity-cli/internal/judge"
	"github.com/vantikan/verity-cli/internal/manifest"
	"github.com/vantikan/verity-cli/internal/observability"
	"github.com/vantikan/verity-cli/internal/runner"
)

// newRunCmd creates the `run` command: execute an intent manifest and judge
// the evidence it produced.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Executes an intent manifest and judges the resulting evidence",
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

			manifestPath, _ := cmd.Flags().GetString("manifest")
			judgeRun, _ := cmd.Flags().GetString("judge-run")
			outDir := viper.GetString("output.dir")
			if outDir == "" {
				outDir = cfg.Output.Dir
			}

			m, problems, err := manifest.LoadAndValidate(manifestPath)
			if err != nil {
				return err
			}
			if len(problems) > 0 {
				printManifestProblems(problems)
				return &exitCodeError{code: 2}
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}

			runID := uuid.New().String()
			logger.Info("Starting manifest run",
				zap.String("runID", runID),
				zap.String("manifest", manifestPath),
				zap.String("mode", manifest.Str(m.Strategy()["mode"])),
			)

			agentClient := agent.NewClient(cfg.Agent, logger)
			payload, err := runner.New(agentClient, logger).Run(ctx, m, outDir)
			if err != nil {
				return err
			}
			payload.Manifest = m

			runPath := filepath.Join(outDir, "intent_run.json")
			if err := runner.WritePayload(runPath, payload); err != nil {
				return err
			}
			logger.Info("Run payload written", zap.String("path", runPath))

			verdictPath := filepath.Join(outDir, "intent_verdict.json")
			verdict, err := judgeRunFile(m, runPath, verdictPath, judgeRun)
			if err != nil {
				return err
			}

			fmt.Printf("Verdict: %s (ready_to_submit=%t)\n", verdict.Verdict, verdict.ReadyToSubmit)
			if code := judge.ExitCode(verdict.Verdict); code != 0 {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}

	runCmd.Flags().StringP("manifest", "m", "", "Path to the intent manifest (YAML or JSON)")
	runCmd.Flags().String("output-dir", "", "Directory for run artifacts (overrides config/env)")
	runCmd.Flags().String("judge-run", "modified", "Run name to judge (single|baseline|modified)")
	_ = runCmd.MarkFlagRequired("manifest")

	return runCmd
}

func printManifestProblems(problems []string) {
	fmt.Println("Manifest invalid:")
	for _, p := range problems {
		fmt.Printf("- %s\n", p)
	}
}

// judgeRunFile judges a persisted run payload against a manifest and writes
// the verdict file.
func judgeRunFile(m manifest.Manifest, runPath, verdictPath, judgeRun string) (*judge.Verdict, error) {
	doc, err := judge.LoadRun(runPath)
	if err != nil {
		return nil, err
	}
	verdict := judge.Judge(m, judge.SelectRun(doc, judgeRun))
	if err := judge.WriteVerdict(verdictPath, verdict); err != nil {
		return nil, err
	}
	return verdict, nil
}
