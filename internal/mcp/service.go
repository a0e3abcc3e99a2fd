package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/sanonone/wayfinder/pkg/calibration"
	"github.com/sanonone/wayfinder/pkg/geo"
	"github.com/sanonone/wayfinder/pkg/graph"
	"github.com/sanonone/wayfinder/pkg/manifest"
	"github.com/sanonone/wayfinder/pkg/route"
)

// ManifestProvider returns the newest published manifest of a venue.
// *editor.Archive implements it.
type ManifestProvider interface {
	Latest(venueID string) (*manifest.Manifest, error)
}

type Service struct {
	manifests ManifestProvider
}

func NewService(m ManifestProvider) *Service {
	return &Service{manifests: m}
}

// --- Tool Handlers ---

func (s *Service) FindRoute(ctx context.Context, req *mcp.CallToolRequest, args FindRouteArgs) (*mcp.CallToolResult, FindRouteResult, error) {
	m, err := s.manifests.Latest(args.VenueID)
	if err != nil {
		return nil, FindRouteResult{}, err
	}
	g := m.Graph

	hasPoint := args.FromX != nil && args.FromY != nil
	if (args.From == "") == !hasPoint {
		return nil, FindRouteResult{}, errors.New("give either from or both from_x and from_y")
	}
	if (args.To == "") == (args.POIID == "") {
		return nil, FindRouteResult{}, errors.New("give either to or poi_id")
	}

	start := args.From
	if hasPoint {
		n, ok := g.NearestNode(r2.Vec{X: *args.FromX, Y: *args.FromY})
		if !ok {
			return nil, FindRouteResult{}, errors.New("venue graph is empty")
		}
		start = n.ID
	}
	dest := args.To
	if args.POIID != "" {
		poi, ok := m.POI(args.POIID)
		if !ok {
			return nil, FindRouteResult{}, fmt.Errorf("unknown poi %q", args.POIID)
		}
		n, ok := g.NearestNode(poi.Pos())
		if !ok {
			return nil, FindRouteResult{}, errors.New("venue graph is empty")
		}
		dest = n.ID
	}

	p, err := route.ShortestPath(g, start, dest)
	if err != nil {
		return nil, FindRouteResult{}, err
	}
	res := FindRouteResult{ManifestID: m.ID, Found: p.Found(), NodeIDs: p.NodeIDs}
	if !p.Found() {
		res.NodeIDs = []string{}
		res.Directions = fmt.Sprintf("No walkable route from %s to %s.", start, dest)
		return nil, res, nil
	}

	// Builds a string like "entrance -> east -> j1 -> south -> booth-7".
	var sb strings.Builder
	for i, id := range p.NodeIDs {
		sb.WriteString(id)
		if i+1 == len(p.NodeIDs) {
			break
		}
		a, _ := g.Node(id)
		b, _ := g.Node(p.NodeIDs[i+1])
		res.Meters += calibration.MetersBetween(m.Floorplan, a.Pos(), b.Pos())
		bearing := calibration.CompassBearing(m.Floorplan, a.Pos(), b.Pos())
		fmt.Fprintf(&sb, " -> %s -> ", geo.CardinalOf(bearing).Word())
	}
	res.Directions = sb.String()
	return nil, res, nil
}

func (s *Service) NearestNode(ctx context.Context, req *mcp.CallToolRequest, args NearestNodeArgs) (*mcp.CallToolResult, NodeResult, error) {
	m, err := s.manifests.Latest(args.VenueID)
	if err != nil {
		return nil, NodeResult{}, err
	}
	n, ok := m.Graph.NearestNode(r2.Vec{X: args.X, Y: args.Y})
	if !ok {
		return nil, NodeResult{}, errors.New("venue graph is empty")
	}
	return nil, nodeResult(m, n), nil
}

func (s *Service) ResolveAnchor(ctx context.Context, req *mcp.CallToolRequest, args ResolveAnchorArgs) (*mcp.CallToolResult, NodeResult, error) {
	m, err := s.manifests.Latest(args.VenueID)
	if err != nil {
		return nil, NodeResult{}, err
	}
	for _, a := range m.Anchors {
		if a.QRAnchorID != args.QRAnchorID {
			continue
		}
		n, ok := m.Graph.Node(a.NodeID)
		if !ok {
			break
		}
		return nil, nodeResult(m, n), nil
	}
	return nil, NodeResult{}, fmt.Errorf("%w: %s", calibration.ErrUnknownAnchor, args.QRAnchorID)
}

func (s *Service) ListPOIs(ctx context.Context, req *mcp.CallToolRequest, args ListPOIsArgs) (*mcp.CallToolResult, ListPOIsResult, error) {
	m, err := s.manifests.Latest(args.VenueID)
	if err != nil {
		return nil, ListPOIsResult{}, err
	}
	pois := m.Graph.POIs()
	res := ListPOIsResult{POIs: make([]POIResult, 0, len(pois))}
	for _, p := range pois {
		res.POIs = append(res.POIs, POIResult{ID: p.ID, Name: p.Name, X: p.X, Y: p.Y})
	}
	return nil, res, nil
}

func nodeResult(m *manifest.Manifest, n graph.Node) NodeResult {
	res := NodeResult{NodeID: n.ID, Kind: string(n.Kind), X: n.X, Y: n.Y}
	if ll, ok := calibration.PixelToApproxGPS(m.Floorplan, n.Pos()); ok {
		res.Lat, res.Lng = &ll.Lat, &ll.Lng
	}
	return res
}
