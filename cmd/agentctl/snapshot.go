package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shelldone/agentd/internal/config"
	"github.com/shelldone/agentd/internal/journal"
	"github.com/shelldone/agentd/internal/snapshot"
	"github.com/spf13/cobra"
)

// snapshotCmd reads the daemon's state directory directly rather than
// through the socket: snapshot/restore are operator maintenance actions,
// not part of the session-gated ack.* surface.
func snapshotCmd(socketFlag, addrFlag *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list, and restore journal snapshots",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a snapshot of the journal up to its current tail",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, j, err := openLocalSnapshotStore()
			if err != nil {
				return err
			}
			defer j.Close()
			header, err := snap.CreateSnapshot(0)
			if err != nil {
				return err
			}
			fmt.Printf("created snapshot %s (through sequence %d)\n", header.SnapshotID, header.LastSequence)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, j, err := openLocalSnapshotStore()
			if err != nil {
				return err
			}
			defer j.Close()
			headers, err := snap.List()
			if err != nil {
				return err
			}
			if len(headers) == 0 {
				fmt.Println("no snapshots")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLAST_SEQ\tEVENTS\tMERKLE_ROOT")
			for _, h := range headers {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", h.SnapshotID, h.LastSequence, h.EventCount, h.MerkleRoot)
			}
			w.Flush()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore [snapshot-id]",
		Short: "Restore a snapshot and print its event count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, j, err := openLocalSnapshotStore()
			if err != nil {
				return err
			}
			defer j.Close()
			header, events, err := snap.Restore(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("restored snapshot %s: %d event(s), last_seq=%d\n", header.SnapshotID, len(events), header.LastSequence)
			return nil
		},
	})

	return cmd
}

func openLocalSnapshotStore() (*snapshot.Store, *journal.Journal, error) {
	stateDir, err := config.GetStateDir()
	if err != nil {
		return nil, nil, fmt.Errorf("state dir: %w", err)
	}
	j, err := journal.Open(stateDir, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("open journal: %w", err)
	}
	snap, err := snapshot.Open(stateDir, j)
	if err != nil {
		j.Close()
		return nil, nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return snap, j, nil
}
