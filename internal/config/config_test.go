package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Repository = "octocat/hello"
	cfg.AppID = 1234
	cfg.PrivateKeyPath = "/keys/app.pem"
	cfg.InstallationID = 5678
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing repository", func(c *Config) { c.Repository = "" }},
		{"malformed repository", func(c *Config) { c.Repository = "no-slash" }},
		{"missing appID", func(c *Config) { c.AppID = 0 }},
		{"missing privateKeyPath", func(c *Config) { c.PrivateKeyPath = "" }},
		{"missing installationID", func(c *Config) { c.InstallationID = 0 }},
		{"bad logLevel", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestValidateLogLevels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "error"} {
		cfg := validConfig()
		cfg.LogLevel = level
		require.NoError(t, cfg.Validate(), "level %q", level)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "docs/specs/", cfg.SpecPoller.SpecsDir)
	require.Equal(t, "main", cfg.SpecPoller.DefaultBranch)
	require.Equal(t, 30, cfg.WorkItemPoller.PollInterval)
	require.Equal(t, 60, cfg.SpecPoller.PollInterval)
	require.Equal(t, 30, cfg.RevisionPoller.PollInterval)
	require.Equal(t, "npm install", cfg.Agents.InstallCommand)
	require.Equal(t, 5*time.Minute, cfg.ShutdownTimeoutDuration())
	require.Equal(t, 30*time.Minute, cfg.MaxAgentDurationDuration())
}
