// Package config holds the declarative configuration document. Values are
// loaded from the config file and flags by the cmd layer; this package only
// defines the shape, the defaults, and validation.
package config

import (
	"fmt"
	"time"

	"foreman/internal/tracker"
)

// Config is the full configuration document.
type Config struct {
	// Repository is the owner/name the tracker client operates on.
	Repository string `mapstructure:"repository"`

	// Tracker app credentials.
	AppID          int64  `mapstructure:"appID"`
	PrivateKeyPath string `mapstructure:"privateKeyPath"`
	InstallationID int64  `mapstructure:"installationID"`

	LogLevel string `mapstructure:"logLevel"`

	// ShutdownTimeout is the grace period in seconds before running agents
	// are force-cancelled during shutdown.
	ShutdownTimeout int `mapstructure:"shutdownTimeout"`

	WorkItemPoller WorkItemPollerConfig `mapstructure:"workItemPoller"`
	SpecPoller     SpecPollerConfig     `mapstructure:"specPoller"`
	RevisionPoller RevisionPollerConfig `mapstructure:"revisionPoller"`
	Agents         AgentsConfig         `mapstructure:"agents"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

type WorkItemPollerConfig struct {
	// PollInterval in seconds.
	PollInterval int `mapstructure:"pollInterval"`
}

type SpecPollerConfig struct {
	PollInterval  int    `mapstructure:"pollInterval"`
	SpecsDir      string `mapstructure:"specsDir"`
	DefaultBranch string `mapstructure:"defaultBranch"`
}

type RevisionPollerConfig struct {
	PollInterval int `mapstructure:"pollInterval"`
}

type AgentsConfig struct {
	AgentPlanner     string `mapstructure:"agentPlanner"`
	AgentImplementor string `mapstructure:"agentImplementor"`
	AgentReviewer    string `mapstructure:"agentReviewer"`
	// MaxAgentDuration in seconds.
	MaxAgentDuration int    `mapstructure:"maxAgentDuration"`
	InstallCommand   string `mapstructure:"installCommand"`
}

type LoggingConfig struct {
	AgentSessions bool   `mapstructure:"agentSessions"`
	LogsDir       string `mapstructure:"logsDir"`
}

// Defaults returns a Config with every optional field at its default.
func Defaults() Config {
	return Config{
		LogLevel:        "info",
		ShutdownTimeout: 300,
		WorkItemPoller:  WorkItemPollerConfig{PollInterval: 30},
		SpecPoller: SpecPollerConfig{
			PollInterval:  60,
			SpecsDir:      "docs/specs/",
			DefaultBranch: "main",
		},
		RevisionPoller: RevisionPollerConfig{PollInterval: 30},
		Agents: AgentsConfig{
			AgentPlanner:     "planner",
			AgentImplementor: "implementor",
			AgentReviewer:    "reviewer",
			MaxAgentDuration: 1800,
			InstallCommand:   "npm install",
		},
		Logging: LoggingConfig{AgentSessions: false, LogsDir: "logs"},
	}
}

// Validate checks the required fields. Missing credentials are fatal at
// startup.
func (c *Config) Validate() error {
	if c.Repository == "" {
		return fmt.Errorf("repository is required")
	}
	if err := tracker.ValidateRepository(c.Repository); err != nil {
		return err
	}
	if c.AppID == 0 {
		return fmt.Errorf("appID is required")
	}
	if c.PrivateKeyPath == "" {
		return fmt.Errorf("privateKeyPath is required")
	}
	if c.InstallationID == 0 {
		return fmt.Errorf("installationID is required")
	}
	switch c.LogLevel {
	case "", "debug", "info", "error":
	default:
		return fmt.Errorf("logLevel must be one of debug, info, error; got %q", c.LogLevel)
	}
	return nil
}

// ShutdownTimeoutDuration returns the shutdown grace period.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

// MaxAgentDurationDuration returns the per-session deadline.
func (c *Config) MaxAgentDurationDuration() time.Duration {
	return time.Duration(c.Agents.MaxAgentDuration) * time.Second
}
