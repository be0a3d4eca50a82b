package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func termbridgeCmd(socketFlag, addrFlag *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "termbridge",
		Short: "Query and control terminal bindings on the running daemon",
	}

	var persona string
	discover := &cobra.Command{
		Use:   "discover",
		Short: "Probe configured terminal adapters and print the capability map",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFrom(socketFlag, addrFlag)
			resp, err := c.Handshake(manifestFor(persona), persona)
			if err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
			_ = resp
			result, err := c.TermbridgeDiscover()
			if err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	discover.Flags().StringVar(&persona, "persona", "core", "persona to negotiate as before discovering")
	cmd.AddCommand(discover)
	return cmd
}
