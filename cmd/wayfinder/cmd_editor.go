package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <layout.yaml>",
		Short: "Apply a YAML venue layout to the workspace as one atomic batch (\"-\" reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			n, err := ws.ImportLayout(f)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[0], err)
			}
			g := ws.Graph()
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d edits (%d nodes, %d segments)\n", n, g.NodeCount(), g.SegmentCount())
			return nil
		},
	}
}

func (a *app) publishCmd() *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "publish <venueID>",
		Short: "Snapshot the workspace into a new immutable manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			m, path, err := ws.Publish(args[0], eventID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s (%d nodes) to %s\n", m.ID, m.Graph.NodeCount(), path)
			return nil
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event the manifest is published for")
	return cmd
}

func (a *app) compactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rewrite the workspace journal as the minimal edit list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			if err := ws.Compact(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "journal compacted")
			return nil
		},
	}
}
