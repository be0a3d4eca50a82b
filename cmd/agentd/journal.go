package main

import (
	"encoding/json"
	"fmt"

	"github.com/shelldone/agentd/internal/journal"
	"github.com/spf13/cobra"
)

func journalCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the event journal directly on disk",
	}
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the last n journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, agentdCfg, err := loadConfigs()
			if err != nil {
				return err
			}
			j, err := journal.Open(agentdCfg.StateDir, 0)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer j.Close()

			events, err := j.Tail(n)
			if err != nil {
				return err
			}
			for _, ev := range events {
				line, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				fmt.Println(string(line))
			}
			return nil
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of trailing events to print")
	cmd.AddCommand(tail)
	return cmd
}
