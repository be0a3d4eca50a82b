package main

import (
	"encoding/json"
	"fmt"

	"github.com/shelldone/agentd/internal/capability"
	"github.com/spf13/cobra"
)

func handshakeCmd(socketFlag, addrFlag *string) *cobra.Command {
	var persona string
	cmd := &cobra.Command{
		Use:   "handshake",
		Short: "Negotiate a capability session and print the session ID and token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientFrom(socketFlag, addrFlag)
			resp, err := c.Handshake(capability.OfferFromManifest(capability.DefaultServerManifest()), persona)
			if err != nil {
				return fmt.Errorf("handshake: %w", err)
			}
			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&persona, "persona", "core", "persona to negotiate as: nova, core, or flux")
	return cmd
}

func manifestFor(persona string) capability.Offer {
	return capability.OfferFromManifest(capability.DefaultServerManifest())
}
