// File: cmd/judge.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/judge"
	"github.com/vantikan/verity-cli/internal/manifest"
	"github.com/vantikan/verity-cli/internal/observability"
)

// newJudgeCmd creates the `judge` command: re-judge a stored run payload
// against a manifest without re-executing the browser steps.
func newJudgeCmd() *cobra.Command {
	judgeCmd := &cobra.Command{
		Use:   "judge",
		Short: "Judges a stored run payload against an intent manifest",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			manifestPath, _ := cmd.Flags().GetString("manifest")
			runPath, _ := cmd.Flags().GetString("run")
			outputPath, _ := cmd.Flags().GetString("output")
			judgeRun, _ := cmd.Flags().GetString("judge-run")

			m, problems, err := manifest.LoadAndValidate(manifestPath)
			if err != nil {
				return err
			}
			if len(problems) > 0 {
				printManifestProblems(problems)
				return &exitCodeError{code: 2}
			}

			verdict, err := judgeRunFile(m, runPath, outputPath, judgeRun)
			if err != nil {
				return err
			}
			logger.Info("Verdict written",
				zap.String("path", outputPath),
				zap.String("verdict", verdict.Verdict),
			)

			fmt.Printf("Verdict: %s (ready_to_submit=%t)\n", verdict.Verdict, verdict.ReadyToSubmit)
			if code := judge.ExitCode(verdict.Verdict); code != 0 {
				return &exitCodeError{code: code}
			}
			return nil
		},
	}

	judgeCmd.Flags().StringP("manifest", "m", "", "Path to the intent manifest (YAML or JSON)")
	judgeCmd.Flags().String("run", "", "Path to intent_run.json")
	judgeCmd.Flags().String("output", "intent_verdict.json", "Output verdict path")
	judgeCmd.Flags().String("judge-run", "modified", "Run name to judge (single|baseline|modified)")
	_ = judgeCmd.MarkFlagRequired("manifest")
	_ = judgeCmd.MarkFlagRequired("run")

	return judgeCmd
}
