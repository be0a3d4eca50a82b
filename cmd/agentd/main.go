package main

import (
	"fmt"
	"os"

	"github.com/shelldone/agentd/internal/config"
	"github.com/shelldone/agentd/internal/daemon"
	"github.com/shelldone/agentd/internal/logger"
	"github.com/spf13/cobra"
)

func main() {
	var logLevel string
	var logFile string

	root := &cobra.Command{
		Use:   "agentd",
		Short: "agentd — policy-gated command execution daemon",
		Long:  "Negotiates agent capability sessions, gates exec/undo through a journaled policy kernel, and brokers terminal bindings over a local socket.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(logLevel, logFile)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "additionally write logs to this file")

	root.AddCommand(
		serveCmd(),
		policyCmd(),
		journalCmd(),
		snapshotCmd(),
		doctorCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfigs() (*config.Config, *config.AgentdConfig, error) {
	userConfigDir, err := config.GetUserConfigDir()
	if err != nil {
		return nil, nil, fmt.Errorf("user config dir: %w", err)
	}
	projectDir, err := config.GetProjectDir()
	if err != nil {
		return nil, nil, fmt.Errorf("project dir: %w", err)
	}
	if err := config.EnsureConfigDirs(userConfigDir, projectDir); err != nil {
		return nil, nil, fmt.Errorf("ensure config dirs: %w", err)
	}

	mgr := config.NewManager()
	if err := mgr.Load(userConfigDir, projectDir); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	stateDir, err := config.GetStateDir()
	if err != nil {
		return nil, nil, fmt.Errorf("state dir: %w", err)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}

	agentdCfg, err := config.LoadAgentdConfig(stateDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load agentd config: %w", err)
	}
	if agentdCfg.StateDir == "" {
		agentdCfg.StateDir = stateDir
	}
	return cfg, agentdCfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the agentd daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, agentdCfg, err := loadConfigs()
			if err != nil {
				return err
			}
			return daemon.Run(cfg, agentdCfg)
		},
	}
}
