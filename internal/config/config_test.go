// internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "verity-cli", cfg.Logger.ServiceName)
	assert.Equal(t, "agent-browser", cfg.Agent.Binary)
	assert.Equal(t, 120*time.Second, cfg.Agent.CommandTimeout)
	assert.Equal(t, 60*time.Second, cfg.Agent.LogTimeout)
	assert.Equal(t, 30*time.Second, cfg.Agent.QueryTimeout)
	assert.Equal(t, "./test_outputs", cfg.Output.Dir)

	require.NoError(t, cfg.Validate())
}

func TestNewConfigFromViper(t *testing.T) {
	t.Parallel()

	t.Run("overrides are applied", func(t *testing.T) {
		t.Parallel()
		v := viper.New()
		SetDefaults(v)
		v.Set("agent.binary", "/usr/local/bin/agent-browser")
		v.Set("agent.command_timeout", "90s")
		v.Set("probes.commands", []string{"drush status"})

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "/usr/local/bin/agent-browser", cfg.Agent.Binary)
		assert.Equal(t, 90*time.Second, cfg.Agent.CommandTimeout)
		assert.Equal(t, []string{"drush status"}, cfg.Probes.Commands)
	})

	t.Run("invalid configuration is rejected", func(t *testing.T) {
		t.Parallel()
		v := viper.New()
		SetDefaults(v)
		v.Set("agent.binary", "")

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "agent.binary")
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"zero command timeout", func(c *Config) { c.Agent.CommandTimeout = 0 }, "command_timeout"},
		{"negative log timeout", func(c *Config) { c.Agent.LogTimeout = -time.Second }, "log_timeout"},
		{"zero query timeout", func(c *Config) { c.Agent.QueryTimeout = 0 }, "query_timeout"},
		{"empty output dir", func(c *Config) { c.Output.Dir = "" }, "output.dir"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
