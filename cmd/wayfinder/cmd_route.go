package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sanonone/wayfinder/pkg/calibration"
	"github.com/sanonone/wayfinder/pkg/graph"
	"github.com/sanonone/wayfinder/pkg/navigation"
	"github.com/sanonone/wayfinder/pkg/route"
)

func (a *app) routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <venueID> <from> <to>",
		Short: "Print the shortest path between two nodes of the latest manifest (to may be a POI id)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.archive().Latest(args[0])
			if err != nil {
				return err
			}
			from, to := args[1], args[2]
			if _, ok := m.Graph.Node(to); !ok {
				if poi, ok := m.POI(to); ok {
					n, _ := m.Graph.NearestNode(poi.Pos())
					to = n.ID
				}
			}

			p, err := route.ShortestPath(m.Graph, from, to)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !p.Found() {
				fmt.Fprintf(out, "no route from %s to %s in manifest %s\n", from, to, m.ID)
				return nil
			}
			var meters float64
			for i := 0; i+1 < len(p.NodeIDs); i++ {
				na, _ := m.Graph.Node(p.NodeIDs[i])
				nb, _ := m.Graph.Node(p.NodeIDs[i+1])
				meters += calibration.MetersBetween(m.Floorplan, na.Pos(), nb.Pos())
			}
			fmt.Fprintf(out, "%s\n%.1f m, weight %.1f\n", strings.Join(p.NodeIDs, " -> "), meters, p.Weight)
			return nil
		},
	}
}

func (a *app) walkCmd() *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "walk <venueID> <destination>",
		Short: "Simulate a navigation session walking the computed path node by node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.archive().Latest(args[0])
			if err != nil {
				return err
			}
			start, ok := m.Graph.Node(from)
			if !ok {
				return fmt.Errorf("%w: start %q", graph.ErrUnknownNode, from)
			}

			out := cmd.OutOrStdout()
			cb := navigation.Callbacks{
				OnInstruction: func(in navigation.Instruction) {
					fmt.Fprintf(out, "  %s\n", in.Text)
				},
				OnStateChange: func(c navigation.StateChange) {
					fmt.Fprintf(out, "[%s -> %s] %s\n", c.From, c.To, c.Reason)
				},
			}
			sess, err := navigation.New(m, args[1], a.cfg.Navigation, cb, navigation.WithLogger(a.log))
			if err != nil {
				return err
			}
			defer sess.Stop()

			// Every position is queued before Run, so the buffer must hold
			// the longest possible path plus the POI itself.
			src := navigation.NewChannelSource(m.Graph.NodeCount() + 1)
			src.Publish(navigation.Position{Pixel: start.Pos(), HasPixel: true})
			if err := sess.Start(cmd.Context(), src); err != nil {
				return err
			}
			path := sess.Path()
			for i := 1; i < len(path); i++ {
				n, _ := m.Graph.Node(path[i])
				src.Publish(navigation.Position{Pixel: n.Pos(), HasPixel: true})
			}
			if poi, ok := m.POI(args[1]); ok {
				src.Publish(navigation.Position{Pixel: poi.Pos(), HasPixel: true})
			}
			src.Close()

			if err := sess.Run(cmd.Context()); err != nil {
				return err
			}
			if st := sess.State(); st != navigation.StateArrived {
				return fmt.Errorf("walk ended while %s", st)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "node id the walk starts at")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}
