package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func journalCmd(socketFlag, addrFlag *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the running daemon's event journal",
	}

	var n uint64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent n journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFrom(socketFlag, addrFlag)
			lastN := n
			if lastN == 0 {
				lastN = 20
			}
			events, err := c.Journal(0, ^uint64(0))
			if err != nil {
				return fmt.Errorf("journal: %w", err)
			}
			if uint64(len(events)) > lastN {
				events = events[uint64(len(events))-lastN:]
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
	tail.Flags().Uint64Var(&n, "n", 20, "number of trailing events to print")
	cmd.AddCommand(tail)
	return cmd
}
