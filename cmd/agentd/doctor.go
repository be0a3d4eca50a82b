package main

import (
	"fmt"
	"net"
	"os"

	"github.com/shelldone/agentd/internal/policy"
	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, policy, state dir, and socket reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, agentdCfg, err := loadConfigs()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			fmt.Println("agentd doctor")
			fmt.Println()

			fmt.Println("Config:")
			fmt.Printf("  state_dir:      %s\n", agentdCfg.StateDir)
			fmt.Printf("  policy_path:    %s\n", agentdCfg.PolicyPath)
			fmt.Printf("  personas:       %d configured\n", len(agentdCfg.Personas))
			fmt.Printf("  trusted_roots:  %d configured\n", len(agentdCfg.TrustedRoots))
			fmt.Println()

			fmt.Println("Policy:")
			if agentdCfg.PolicyPath == "" {
				fmt.Println("  no policy_path configured, running with zero rules (default-allow)")
			} else {
				e := policy.NewEngine()
				if err := e.LoadFile(agentdCfg.PolicyPath); err != nil {
					fmt.Printf("  %-12s invalid: %v\n", agentdCfg.PolicyPath, err)
				} else {
					fmt.Printf("  %-12s ok, %d rule(s)\n", agentdCfg.PolicyPath, e.RuleCount())
				}
			}
			fmt.Println()

			fmt.Println("Transport:")
			if cfg.SocketPath != "" {
				if reachable := socketReachable(cfg.SocketPath); reachable {
					fmt.Printf("  socket          reachable at %s\n", cfg.SocketPath)
				} else {
					fmt.Printf("  socket          not reachable at %s (daemon not running?)\n", cfg.SocketPath)
				}
			}
			if cfg.ListenAddr != "" {
				fmt.Printf("  listen_addr     %s\n", cfg.ListenAddr)
			}
			fmt.Printf("  require_auth    %v\n", cfg.RequireAuth)

			return nil
		},
	}
}

func socketReachable(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	conn, err := net.Dial("unix", path)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
