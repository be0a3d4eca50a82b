package main

import (
	"fmt"
	"os"

	"github.com/shelldone/agentd/internal/config"
	"github.com/shelldone/agentd/internal/transport"
	"github.com/spf13/cobra"
)

func main() {
	var socketFlag string
	var addrFlag string

	root := &cobra.Command{
		Use:   "agentctl",
		Short: "agentctl — CLI client for a running agentd daemon",
	}
	root.PersistentFlags().StringVar(&socketFlag, "socket", "", "Unix socket path (defaults to the configured socket_path)")
	root.PersistentFlags().StringVar(&addrFlag, "addr", "", "TCP address, used instead of --socket when set")

	root.AddCommand(
		handshakeCmd(&socketFlag, &addrFlag),
		execCmd(&socketFlag, &addrFlag),
		journalCmd(&socketFlag, &addrFlag),
		snapshotCmd(&socketFlag, &addrFlag),
		termbridgeCmd(&socketFlag, &addrFlag),
		statusCmd(&socketFlag, &addrFlag),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func clientFrom(socketFlag, addrFlag *string) *transport.Client {
	if *addrFlag != "" {
		return transport.NewTCPClient(*addrFlag)
	}
	socketPath := *socketFlag
	if socketPath == "" {
		mgr := config.NewManager()
		userConfigDir, errUser := config.GetUserConfigDir()
		projectDir, errProject := config.GetProjectDir()
		if errUser == nil && errProject == nil {
			if err := mgr.Load(userConfigDir, projectDir); err == nil {
				socketPath = mgr.Get().SocketPath
			}
		}
	}
	return transport.NewClient(socketPath)
}
