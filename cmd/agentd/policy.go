package main

import (
	"fmt"

	"github.com/shelldone/agentd/internal/policy"
	"github.com/spf13/cobra"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate the rule set",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reload",
		Short: "Recompile the configured policy file and report its rule count",
		Long:  "Validates agentd.yaml's policy_path compiles, without requiring the daemon to be running. A live daemon picks up the same file automatically via its fsnotify watch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, agentdCfg, err := loadConfigs()
			if err != nil {
				return err
			}
			if agentdCfg.PolicyPath == "" {
				return fmt.Errorf("no policy_path configured in agentd.yaml")
			}
			e := policy.NewEngine()
			if err := e.LoadFile(agentdCfg.PolicyPath); err != nil {
				return fmt.Errorf("policy file invalid: %w", err)
			}
			fmt.Printf("ok: %s compiled, %d rule(s)\n", agentdCfg.PolicyPath, e.RuleCount())
			return nil
		},
	})
	return cmd
}
