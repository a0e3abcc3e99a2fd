package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// NewMCPServer exposes read-only venue tools over the published manifests.
func NewMCPServer(manifests ManifestProvider, version string) *mcp.Server {
	service := NewService(manifests)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "Wayfinder",
		Version: version,
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "find_route",
		Description: "Find the shortest walkable route inside a venue, from a node or floorplan position to a node or point of interest.",
	}, service.FindRoute)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "nearest_node",
		Description: "Snap a floorplan position to the closest graph node.",
	}, service.NearestNode)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "resolve_anchor",
		Description: "Look up which node a scanned QR anchor marks.",
	}, service.ResolveAnchor)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_pois",
		Description: "List the points of interest published for a venue.",
	}, service.ListPOIs)

	return s
}
