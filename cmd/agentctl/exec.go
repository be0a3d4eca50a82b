package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shelldone/agentd/internal/transport"
	"github.com/spf13/cobra"
)

func execCmd(socketFlag, addrFlag *string) *cobra.Command {
	var persona string
	var approved bool
	var sessionID, token string

	cmd := &cobra.Command{
		Use:   "exec -- <command>",
		Short: "Negotiate a session (if needed) and run a command through the policy-gated executor",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dash := cmd.ArgsLenAtDash()
			if dash >= 0 {
				args = args[dash:]
			}
			command := strings.Join(args, " ")

			c := clientFrom(socketFlag, addrFlag)
			if sessionID != "" && token != "" {
				c.Authenticate(sessionID, token)
			} else {
				resp, err := c.Handshake(manifestFor(persona), persona)
				if err != nil {
					return fmt.Errorf("handshake: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "session %s negotiated\n", resp.SessionID)
			}

			result, err := c.Exec(transport.ExecRequest{
				Command:         command,
				ApprovalGranted: approved,
			})
			if err != nil {
				return fmt.Errorf("exec: %w", err)
			}
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&persona, "persona", "core", "persona to negotiate as when no session is supplied")
	cmd.Flags().BoolVar(&approved, "approved", false, "mark this command as having an out-of-band user approval")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "reuse an already-negotiated session ID")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for --session-id")
	return cmd
}
