// File: cmd/validate.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vantikan/verity-cli/internal/manifest"
)

// newValidateCmd creates the `validate` command: structural manifest checks
// without touching a browser.
func newValidateCmd() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validates an intent manifest without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestPath, _ := cmd.Flags().GetString("manifest")

			_, problems, err := manifest.LoadAndValidate(manifestPath)
			if err != nil {
				return err
			}
			if len(problems) > 0 {
				printManifestProblems(problems)
				return &exitCodeError{code: 2}
			}

			fmt.Println("Manifest OK")
			return nil
		},
	}

	validateCmd.Flags().StringP("manifest", "m", "", "Path to the intent manifest (YAML or JSON)")
	_ = validateCmd.MarkFlagRequired("manifest")

	return validateCmd
}
