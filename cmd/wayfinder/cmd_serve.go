package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/sanonone/wayfinder/internal/analyticsdb"
	wfmcp "github.com/sanonone/wayfinder/internal/mcp"
	"github.com/sanonone/wayfinder/internal/server"
	"github.com/sanonone/wayfinder/pkg/engagement"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve published manifests, route queries and analytics uploads over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := analyticsdb.Open(a.cfg.Analytics.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			scans := engagement.NewScanLogger(store, a.cfg.Analytics.ScanDedupeWindow, nil, a.log)
			srv := server.NewServer(a.archive(), server.Options{
				Addr:            a.cfg.Server.HTTPAddr,
				AuthToken:       a.cfg.Server.AuthToken,
				ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
				Logger:          a.log,
				Scans:           scans,
				Reports:         store,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Run() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.log.Info("shutdown signal received")
			return srv.Shutdown()
		},
	}
}

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose the published venues as MCP tools on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			s := wfmcp.NewMCPServer(a.archive(), version)
			if err := s.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <eventID>",
		Short: "Summarize stored engagement reports per target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := analyticsdb.Open(a.cfg.Analytics.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TARGET\tVISITS\tENGAGED\tMINUTES")
			for _, st := range stats {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\n", st.TargetID, st.Visits, st.Engaged, st.TotalMinutes)
			}
			return tw.Flush()
		},
	}
}
