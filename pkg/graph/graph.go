// Package graph is the in-memory model of a venue's navigable network: nodes
// and the undirected segments between them, plus points of interest that sit
// near the network without being part of it.
//
// # Validation
//
// Every edit is validated when it is applied. A segment whose endpoint does
// not exist is rejected by AddSegment, so queries never meet dangling
// references.
//
// # Thread Safety
//
// Graph is safe for concurrent use. Edits take the write lock, queries the
// read lock. Once Freeze is called (a published manifest embeds the graph)
// the graph is read-only and edits fail with ErrFrozen; editors work on a
// Clone instead.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/sanonone/wayfinder/pkg/geo"
)

// Graph holds nodes, segments and POIs. Ids are kept in ordered maps so that
// every iteration (and therefore every tie-break) follows ascending id order.
type Graph struct {
	mu sync.RWMutex

	nodes    *btree.Map[string, Node]
	segments *btree.Map[string, Segment]
	pois     *btree.Map[string, POI]

	// pairs maps an unordered endpoint pair to the segment joining it.
	pairs map[[2]string]string
	// anchors maps a QR anchor id to the node that carries it.
	anchors map[string]string

	frozen bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:    btree.NewMap[string, Node](0),
		segments: btree.NewMap[string, Segment](0),
		pois:     btree.NewMap[string, POI](0),
		pairs:    make(map[[2]string]string),
		anchors:  make(map[string]string),
	}
}

// AddNode inserts a node. The kind defaults to junction.
func (g *Graph) AddNode(n Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrFrozen
	}
	if n.ID == "" {
		return fmt.Errorf("%w: node id is empty", ErrValidation)
	}
	if _, exists := g.nodes.Get(n.ID); exists {
		return fmt.Errorf("%w: duplicate node id %q", ErrValidation, n.ID)
	}
	if !finite(n.X, n.Y) {
		return fmt.Errorf("%w: node %q has non-finite coordinates", ErrValidation, n.ID)
	}
	kind, err := ParseNodeKind(string(n.Kind))
	if err != nil {
		return fmt.Errorf("node %q: %w", n.ID, err)
	}
	n.Kind = kind
	if n.QRAnchorID != "" {
		if owner, taken := g.anchors[n.QRAnchorID]; taken {
			return fmt.Errorf("%w: qr anchor %q already bound to node %q", ErrValidation, n.QRAnchorID, owner)
		}
		g.anchors[n.QRAnchorID] = n.ID
	}

	g.nodes.Set(n.ID, n)
	return nil
}

// AddSegment inserts an undirected segment. Both endpoints must exist, must
// differ, and must not already be joined by another segment.
func (g *Graph) AddSegment(s Segment) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrFrozen
	}
	if s.ID == "" {
		return fmt.Errorf("%w: segment id is empty", ErrValidation)
	}
	if _, exists := g.segments.Get(s.ID); exists {
		return fmt.Errorf("%w: duplicate segment id %q", ErrValidation, s.ID)
	}
	for _, end := range []string{s.NodeA, s.NodeB} {
		if _, ok := g.nodes.Get(end); !ok {
			return fmt.Errorf("%w: segment %q references missing node %q", ErrValidation, s.ID, end)
		}
	}
	if s.NodeA == s.NodeB {
		return fmt.Errorf("%w: segment %q is a self-loop on %q", ErrValidation, s.ID, s.NodeA)
	}
	if !finite(s.Weight) || s.Weight < 0 {
		return fmt.Errorf("%w: segment %q has invalid weight %v", ErrValidation, s.ID, s.Weight)
	}
	key := pairKey(s.NodeA, s.NodeB)
	if other, dup := g.pairs[key]; dup {
		return fmt.Errorf("%w: segment %q duplicates %q between %q and %q", ErrValidation, s.ID, other, s.NodeA, s.NodeB)
	}

	g.pairs[key] = s.ID
	g.segments.Set(s.ID, s)
	return nil
}

// AddPOI inserts a point of interest. The type defaults to POITypeDefault.
func (g *Graph) AddPOI(p POI) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrFrozen
	}
	if p.ID == "" {
		return fmt.Errorf("%w: poi id is empty", ErrValidation)
	}
	if _, exists := g.pois.Get(p.ID); exists {
		return fmt.Errorf("%w: duplicate poi id %q", ErrValidation, p.ID)
	}
	if !finite(p.X, p.Y) {
		return fmt.Errorf("%w: poi %q has non-finite coordinates", ErrValidation, p.ID)
	}
	if p.Type == "" {
		p.Type = POITypeDefault
	}
	g.pois.Set(p.ID, p)
	return nil
}

// MoveNode changes a node position. Auto-weighted segments follow.
func (g *Graph) MoveNode(id string, x, y float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrFrozen
	}
	n, ok := g.nodes.Get(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}
	if !finite(x, y) {
		return fmt.Errorf("%w: node %q moved to non-finite coordinates", ErrValidation, id)
	}
	n.X, n.Y = x, y
	g.nodes.Set(id, n)
	return nil
}

// RemoveNode deletes a node together with every segment touching it.
// It returns the ids of the removed segments.
func (g *Graph) RemoveNode(id string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return nil, ErrFrozen
	}
	n, ok := g.nodes.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNode, id)
	}

	var removed []string
	g.segments.Scan(func(sid string, s Segment) bool {
		if s.NodeA == id || s.NodeB == id {
			removed = append(removed, sid)
		}
		return true
	})
	for _, sid := range removed {
		s, _ := g.segments.Delete(sid)
		delete(g.pairs, pairKey(s.NodeA, s.NodeB))
	}
	if n.QRAnchorID != "" {
		delete(g.anchors, n.QRAnchorID)
	}
	g.nodes.Delete(id)
	return removed, nil
}

// RemoveSegment deletes a segment by id.
func (g *Graph) RemoveSegment(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrFrozen
	}
	s, ok := g.segments.Delete(id)
	if !ok {
		return fmt.Errorf("%w: segment %q", ErrNotFound, id)
	}
	delete(g.pairs, pairKey(s.NodeA, s.NodeB))
	return nil
}

// RemovePOI deletes a point of interest by id.
func (g *Graph) RemovePOI(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return ErrFrozen
	}
	if _, ok := g.pois.Delete(id); !ok {
		return fmt.Errorf("%w: poi %q", ErrNotFound, id)
	}
	return nil
}

// Freeze makes the graph read-only. It cannot be undone; use Clone to get an
// editable copy.
func (g *Graph) Freeze() {
	g.mu.Lock()
	g.frozen = true
	g.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (g *Graph) Frozen() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.frozen
}

// Clone returns an independent, editable copy.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c := &Graph{
		nodes:    g.nodes.Copy(),
		segments: g.segments.Copy(),
		pois:     g.pois.Copy(),
		pairs:    make(map[[2]string]string, len(g.pairs)),
		anchors:  make(map[string]string, len(g.anchors)),
	}
	for k, v := range g.pairs {
		c.pairs[k] = v
	}
	for k, v := range g.anchors {
		c.anchors[k] = v
	}
	return c
}

// Node returns a node by id.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes.Get(id)
}

// POI returns a point of interest by id.
func (g *Graph) POI(id string) (POI, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pois.Get(id)
}

// NodeIDs returns every node id in ascending order.
func (g *Graph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes.Keys()
}

// Nodes returns every node in ascending id order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes.Values()
}

// Segments returns every segment in ascending id order.
func (g *Graph) Segments() []Segment {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.segments.Values()
}

// POIs returns every point of interest in ascending id order.
func (g *Graph) POIs() []POI {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pois.Values()
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes.Len()
}

// SegmentCount returns the number of segments.
func (g *Graph) SegmentCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.segments.Len()
}

// SegmentWeight returns the effective traversal cost of s: the override when
// set, otherwise the Euclidean length floored at MinWeight.
func (g *Graph) SegmentWeight(s Segment) (float64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.weightLocked(s)
}

func (g *Graph) weightLocked(s Segment) (float64, error) {
	if s.Weight > 0 {
		return s.Weight, nil
	}
	a, okA := g.nodes.Get(s.NodeA)
	b, okB := g.nodes.Get(s.NodeB)
	if !okA || !okB {
		return 0, fmt.Errorf("%w: segment %q has a dangling endpoint", ErrValidation, s.ID)
	}
	w := geo.Euclidean(a.Pos(), b.Pos())
	if w == 0 {
		return MinWeight, nil
	}
	return w, nil
}

// BuildAdjacency returns the neighbor list of every node. Isolated nodes map
// to an empty list; lists are sorted by neighbor id.
func (g *Graph) BuildAdjacency() Adjacency {
	g.mu.RLock()
	defer g.mu.RUnlock()

	adj := make(Adjacency, g.nodes.Len())
	g.nodes.Scan(func(id string, _ Node) bool {
		adj[id] = []Neighbor{}
		return true
	})
	g.segments.Scan(func(_ string, s Segment) bool {
		// Endpoints are validated on insert and removed together with their
		// node, so the weight lookup cannot fail here.
		w, _ := g.weightLocked(s)
		adj[s.NodeA] = append(adj[s.NodeA], Neighbor{ID: s.NodeB, Weight: w})
		adj[s.NodeB] = append(adj[s.NodeB], Neighbor{ID: s.NodeA, Weight: w})
		return true
	})
	for id := range adj {
		list := adj[id]
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	}
	return adj
}

// NearestNode returns the node closest to p. Equal distances resolve to the
// lowest id. The boolean is false when the graph has no nodes.
func (g *Graph) NearestNode(p r2.Vec) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var (
		best  Node
		bestD float64
		found bool
	)
	g.nodes.Scan(func(_ string, n Node) bool {
		d := geo.Euclidean(p, n.Pos())
		if !found || d < bestD {
			best, bestD, found = n, d, true
		}
		return true
	})
	return best, found
}
