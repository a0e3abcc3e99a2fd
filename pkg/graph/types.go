package graph

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// NodeKind classifies a navigable point.
type NodeKind string

const (
	KindJunction  NodeKind = "junction"
	KindEntrance  NodeKind = "entrance"
	KindExit      NodeKind = "exit"
	KindPOIAnchor NodeKind = "poi-anchor"
)

// Valid reports whether k is one of the known kinds.
func (k NodeKind) Valid() bool {
	switch k {
	case KindJunction, KindEntrance, KindExit, KindPOIAnchor:
		return true
	}
	return false
}

// ParseNodeKind accepts the wire form of a kind. Empty means junction.
func ParseNodeKind(s string) (NodeKind, error) {
	if s == "" {
		return KindJunction, nil
	}
	k := NodeKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown node kind %q", ErrValidation, s)
	}
	return k, nil
}

// Node is a graph vertex in floorplan pixel space.
type Node struct {
	ID         string   `json:"id" yaml:"id"`
	X          float64  `json:"x" yaml:"x"`
	Y          float64  `json:"y" yaml:"y"`
	Kind       NodeKind `json:"kind,omitempty" yaml:"kind,omitempty"`
	// QRAnchorID declares the marker placed at this node. Scans resolve
	// through the anchor table, which must carry the same binding.
	QRAnchorID string   `json:"qrAnchorId,omitempty" yaml:"qr_anchor_id,omitempty"`
}

// Pos returns the node position as a vector.
func (n Node) Pos() r2.Vec { return r2.Vec{X: n.X, Y: n.Y} }

// Segment is an undirected edge. A zero Weight means "use the Euclidean
// length of the segment".
type Segment struct {
	ID     string  `json:"id" yaml:"id"`
	NodeA  string  `json:"nodeAId" yaml:"a"`
	NodeB  string  `json:"nodeBId" yaml:"b"`
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// Other returns the endpoint opposite to id.
func (s Segment) Other(id string) string {
	if s.NodeA == id {
		return s.NodeB
	}
	return s.NodeA
}

// POI is a point of interest. It is not a vertex: routing snaps it to the
// nearest node at query time.
type POI struct {
	ID   string  `json:"id" yaml:"id"`
	Name string  `json:"name" yaml:"name"`
	X    float64 `json:"x" yaml:"x"`
	Y    float64 `json:"y" yaml:"y"`
	Type string  `json:"type,omitempty" yaml:"type,omitempty"`
}

// POITypeDefault is the type given to POIs created without one. Only POIs of
// this type are exported to manifests.
const POITypeDefault = "poi"

// Pos returns the POI position as a vector.
func (p POI) Pos() r2.Vec { return r2.Vec{X: p.X, Y: p.Y} }

// Neighbor is one entry of an adjacency list.
type Neighbor struct {
	ID     string  `json:"id"`
	Weight float64 `json:"weight"`
}

// Adjacency maps a node id to its neighbors, sorted by neighbor id.
type Adjacency map[string][]Neighbor

// MinWeight is the floor applied to auto-computed weights of zero-length
// segments so that no edge is free.
const MinWeight = 1.0

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func pairKey(a, b string) [2]string {
	if a > b {
		a, b = b, a
	}
	return [2]string{a, b}
}
