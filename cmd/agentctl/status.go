package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd(socketFlag, addrFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print daemon uptime, session count, and journal position",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFrom(socketFlag, addrFlag)
			s, err := c.Status()
			if err != nil {
				return fmt.Errorf("daemon not reachable: %w", err)
			}
			fmt.Printf("uptime:       %.0fs\n", s.UptimeSeconds)
			fmt.Printf("sessions:     %d\n", s.SessionCount)
			fmt.Printf("journal_seq:  %d\n", s.JournalLastSeq)
			return nil
		},
	}
}
