// Package route computes shortest paths over a venue graph.
//
// The solver is a plain Dijkstra that selects the next node by scanning all
// unvisited nodes. Venues hold tens to low hundreds of nodes, so the O(V²)
// scan costs less than maintaining a heap, and scanning in ascending id order
// gives a deterministic tie-break for free.
package route

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/sanonone/wayfinder/pkg/graph"
)

// Network is the read-only view the solver needs. *graph.Graph satisfies it.
type Network interface {
	BuildAdjacency() graph.Adjacency
	NodeIDs() []string
	Node(id string) (graph.Node, bool)
	NearestNode(p r2.Vec) (graph.Node, bool)
}

// Path is an ordered sequence of node ids, start and end included.
type Path struct {
	NodeIDs []string `json:"path"`
	Weight  float64  `json:"weight"`
}

// Found reports whether the path reaches its target.
func (p Path) Found() bool { return len(p.NodeIDs) > 0 }

// Len is the number of nodes on the path.
func (p Path) Len() int { return len(p.NodeIDs) }

// ShortestPath returns the minimum-weight path from start to end.
//
// A start equal to end yields a one-node path ("already there"). An
// unreachable end yields an empty Path and a nil error. An id that is not in
// the network yields graph.ErrUnknownNode, so callers can tell bad input from
// a disconnected venue.
func ShortestPath(net Network, start, end string) (Path, error) {
	adj := net.BuildAdjacency()
	if _, ok := adj[start]; !ok {
		return Path{}, fmt.Errorf("%w: start %q", graph.ErrUnknownNode, start)
	}
	if _, ok := adj[end]; !ok {
		return Path{}, fmt.Errorf("%w: end %q", graph.ErrUnknownNode, end)
	}
	if start == end {
		return Path{NodeIDs: []string{start}}, nil
	}

	ids := net.NodeIDs()
	dist := make(map[string]float64, len(ids))
	prev := make(map[string]string, len(ids))
	visited := make(map[string]bool, len(ids))
	for _, id := range ids {
		dist[id] = math.Inf(1)
	}
	dist[start] = 0

	for {
		u := ""
		best := math.Inf(1)
		for _, id := range ids {
			if !visited[id] && dist[id] < best {
				u, best = id, dist[id]
			}
		}
		if u == "" || u == end {
			break
		}
		visited[u] = true

		for _, nb := range adj[u] {
			if visited[nb.ID] {
				continue
			}
			if alt := dist[u] + nb.Weight; alt < dist[nb.ID] {
				dist[nb.ID] = alt
				prev[nb.ID] = u
			}
		}
	}

	if math.IsInf(dist[end], 1) {
		return Path{}, nil
	}

	var rev []string
	for at := end; at != start; at = prev[at] {
		rev = append(rev, at)
	}
	rev = append(rev, start)

	ids = make([]string, len(rev))
	for i, id := range rev {
		ids[len(rev)-1-i] = id
	}
	return Path{NodeIDs: ids, Weight: dist[end]}, nil
}

// RouteToPoint snaps startPoint and the POI location to their nearest nodes
// and returns the shortest path between them.
func RouteToPoint(net Network, startPoint r2.Vec, poi graph.POI) (Path, error) {
	from, ok := net.NearestNode(startPoint)
	if !ok {
		return Path{}, fmt.Errorf("%w: network has no nodes", graph.ErrUnknownNode)
	}
	to, _ := net.NearestNode(poi.Pos())
	return ShortestPath(net, from.ID, to.ID)
}

// RouteFromPoint snaps startPoint to its nearest node and routes to destID.
func RouteFromPoint(net Network, startPoint r2.Vec, destID string) (Path, error) {
	from, ok := net.NearestNode(startPoint)
	if !ok {
		return Path{}, fmt.Errorf("%w: network has no nodes", graph.ErrUnknownNode)
	}
	return ShortestPath(net, from.ID, destID)
}

// PathWeight sums the edge weights along ids. It fails when two consecutive
// ids are not adjacent.
func PathWeight(adj graph.Adjacency, ids []string) (float64, error) {
	total := 0.0
	for i := 1; i < len(ids); i++ {
		w, ok := edgeWeight(adj, ids[i-1], ids[i])
		if !ok {
			return 0, fmt.Errorf("no segment between %q and %q", ids[i-1], ids[i])
		}
		total += w
	}
	return total, nil
}

func edgeWeight(adj graph.Adjacency, a, b string) (float64, bool) {
	for _, nb := range adj[a] {
		if nb.ID == b {
			return nb.Weight, true
		}
	}
	return 0, false
}
