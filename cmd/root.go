// Package cmd wires configuration, logging, and the engine into the CLI.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	agentclient "foreman/internal/agent/client"
	"foreman/internal/config"
	"foreman/internal/engine"
	"foreman/internal/git"
	"foreman/internal/log"
	"foreman/internal/tracker/github"
)

var (
	version  = "dev"
	cfgFile  string
	repoRoot string
	cfg      config.Config
)

var rootCmd = &cobra.Command{
	Use:     "foreman",
	Short:   "Autonomous development control plane",
	Long: `Watches an issue tracker and a spec directory, and schedules planner,
implementor, and reviewer agents against isolated git worktree checkouts.`,
	Version: version,
	RunE:    run,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .foreman/config.yaml)")
	rootCmd.Flags().StringVarP(&repoRoot, "repo-root", "r", "",
		"path to the repository checkout (default: current directory)")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("logLevel", defaults.LogLevel)
	viper.SetDefault("shutdownTimeout", defaults.ShutdownTimeout)
	viper.SetDefault("workItemPoller.pollInterval", defaults.WorkItemPoller.PollInterval)
	viper.SetDefault("specPoller.pollInterval", defaults.SpecPoller.PollInterval)
	viper.SetDefault("specPoller.specsDir", defaults.SpecPoller.SpecsDir)
	viper.SetDefault("specPoller.defaultBranch", defaults.SpecPoller.DefaultBranch)
	viper.SetDefault("revisionPoller.pollInterval", defaults.RevisionPoller.PollInterval)
	viper.SetDefault("agents.agentPlanner", defaults.Agents.AgentPlanner)
	viper.SetDefault("agents.agentImplementor", defaults.Agents.AgentImplementor)
	viper.SetDefault("agents.agentReviewer", defaults.Agents.AgentReviewer)
	viper.SetDefault("agents.maxAgentDuration", defaults.Agents.MaxAgentDuration)
	viper.SetDefault("agents.installCommand", defaults.Agents.InstallCommand)
	viper.SetDefault("logging.agentSessions", defaults.Logging.AgentSessions)
	viper.SetDefault("logging.logsDir", defaults.Logging.LogsDir)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".foreman")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("FOREMAN")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "reading config: %v\n", err)
			os.Exit(1)
		}
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "parsing config: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	root := repoRoot
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving repo root: %w", err)
	}

	if err := os.MkdirAll(cfg.Logging.LogsDir, 0755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}
	closeLog, err := log.Init(filepath.Join(cfg.Logging.LogsDir, "foreman.log"))
	if err != nil {
		return fmt.Errorf("initializing log: %w", err)
	}
	defer closeLog()
	log.SetMinLevel(log.ParseLevel(cfg.LogLevel))

	client, err := github.New(github.Options{
		Repository:     cfg.Repository,
		AppID:          cfg.AppID,
		PrivateKeyPath: cfg.PrivateKeyPath,
		InstallationID: cfg.InstallationID,
	})
	if err != nil {
		return fmt.Errorf("creating tracker client: %w", err)
	}

	eng := engine.New(engine.Options{
		Config:       cfg,
		Client:       client,
		QueryFactory: agentclient.NewProcessFactory(agentclient.ProcessConfig{SkipPermissions: true}),
		Git:          git.NewRealExecutor(root),
		RepoRoot:     root,
	})

	report, err := eng.Start(context.Background())
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	log.Info(log.CatEngine, "Engine started",
		"workItems", report.WorkItemCount, "recoveries", report.Recoveries)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info(log.CatEngine, "Signal received, shutting down", "signal", sig.String())

	eng.Shutdown()
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
