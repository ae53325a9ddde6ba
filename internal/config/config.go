// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Probes   ProbeConfig    `mapstructure:"probes" yaml:"probes"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Output   OutputConfig   `mapstructure:"output" yaml:"output"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AgentConfig holds settings for the external agent-browser process.
type AgentConfig struct {
	// Binary is the agent-browser executable name or path.
	Binary string `mapstructure:"binary" yaml:"binary"`
	// CommandTimeout bounds navigation and interaction commands.
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	// LogTimeout bounds console/error log retrieval.
	LogTimeout time.Duration `mapstructure:"log_timeout" yaml:"log_timeout"`
	// QueryTimeout bounds cheap read-only queries (get url, eval).
	QueryTimeout time.Duration `mapstructure:"query_timeout" yaml:"query_timeout"`
}

// ProbeConfig holds settings for backend probe commands.
type ProbeConfig struct {
	// Commands are run at every full checkpoint, in order.
	Commands []string `mapstructure:"commands" yaml:"commands"`
	// Cwd is the working directory for probe commands.
	Cwd string `mapstructure:"cwd" yaml:"cwd"`
}

// AnalysisConfig holds the pattern sets for AI-output analysis. Empty slices
// mean "use the documented defaults" at the call site.
type AnalysisConfig struct {
	RawValuePatterns    []string `mapstructure:"raw_value_patterns" yaml:"raw_value_patterns"`
	LabelTerms          []string `mapstructure:"label_terms" yaml:"label_terms"`
	ToolPayloadPatterns []string `mapstructure:"tool_payload_patterns" yaml:"tool_payload_patterns"`
}

// OutputConfig controls where run artifacts land.
type OutputConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "verity-cli")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Agent --
	v.SetDefault("agent.binary", "agent-browser")
	v.SetDefault("agent.command_timeout", "120s")
	v.SetDefault("agent.log_timeout", "60s")
	v.SetDefault("agent.query_timeout", "30s")

	// -- Output --
	v.SetDefault("output.dir", "./test_outputs")
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.Binary == "" {
		return fmt.Errorf("agent.binary must not be empty")
	}
	if c.Agent.CommandTimeout <= 0 {
		return fmt.Errorf("agent.command_timeout must be a positive duration")
	}
	if c.Agent.LogTimeout <= 0 {
		return fmt.Errorf("agent.log_timeout must be a positive duration")
	}
	if c.Agent.QueryTimeout <= 0 {
		return fmt.Errorf("agent.query_timeout must be a positive duration")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir must not be empty")
	}
	return nil
}
