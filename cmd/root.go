// -- cmd/root.go --
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/vantikan/verity-cli/internal/config"
	"github.com/vantikan/verity-cli/internal/observability"
)

var (
	cfgFile string
	// appConfig is the resolved configuration for the current invocation,
	// populated in PersistentPreRunE.
	appConfig *config.Config
)

// exitCodeError carries a specific process exit code through cobra's error
// path. Verdicts map to exit codes, so "failure" is often a meaningful
// result rather than a malfunction.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "verity",
	Short: "Verity drives browser-based intent tests and judges the evidence.",
	// Version is dynamically set at build time. See cmd/version.go.
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// This function runs before any command, setting up config and logging.
		if err := initializeConfig(); err != nil {
			return err
		}

		cfg, err := config.NewConfigFromViper(viper.GetViper())
		if err != nil {
			// Initialize a fallback logger if config resolution fails.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "verity-cli"})
			return err
		}
		appConfig = cfg

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Debug("Starting verity", zap.String("version", Version))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Verdict exit codes pass through unchanged.
func Execute() {
	err := rootCmd.Execute()
	observability.Sync()
	if err == nil {
		return
	}
	var exitErr *exitCodeError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.code)
	}
	if logger := observability.GetLogger(); logger != nil {
		logger.Error("Command execution failed", zap.Error(err))
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCompareCmd())
	rootCmd.AddCommand(newJudgeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newExploreCmd())
}

// initializeConfig reads in config file and ENV variables if set.
func initializeConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())

	viper.SetEnvPrefix("VERITY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars.
	}
	return nil
}

// currentConfig returns the resolved configuration, falling back to defaults
// when the persistent pre-run has not executed (direct RunE calls in tests).
func currentConfig() *config.Config {
	if appConfig != nil {
		return appConfig
	}
	return config.NewDefaultConfig()
}
