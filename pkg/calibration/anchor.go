package calibration

import (
	"errors"
	"fmt"

	"github.com/sanonone/wayfinder/pkg/geo"
	"github.com/sanonone/wayfinder/pkg/graph"
)

var (
	// ErrUnknownAnchor is returned when a scanned code is not registered for
	// the active venue.
	ErrUnknownAnchor = errors.New("unknown anchor")

	// ErrInvalidAnchor is returned when anchor data is inconsistent with the
	// graph: duplicate QR ids, empty ids or references to missing nodes.
	ErrInvalidAnchor = errors.New("invalid anchor")
)

// Anchor binds a scannable marker to a graph node and, optionally, to the GPS
// fix observed when it was enrolled.
type Anchor struct {
	QRAnchorID   string   `json:"qrAnchorId" yaml:"qr_anchor_id"`
	NodeID       string   `json:"nodeId" yaml:"node_id"`
	RealWorldLat *float64 `json:"realWorldLat,omitempty" yaml:"real_world_lat,omitempty"`
	RealWorldLng *float64 `json:"realWorldLng,omitempty" yaml:"real_world_lng,omitempty"`
}

// EnrolledFix returns the GPS position recorded at enrollment, if any.
func (a Anchor) EnrolledFix() (geo.LatLng, bool) {
	if a.RealWorldLat == nil || a.RealWorldLng == nil {
		return geo.LatLng{}, false
	}
	return geo.LatLng{Lat: *a.RealWorldLat, Lng: *a.RealWorldLng}, true
}

// Registration is the record editor tooling writes when an anchor is placed.
// The engine only checks it against the graph.
type Registration struct {
	QRAnchorID string `json:"qrAnchorId" yaml:"qr_anchor_id"`
	NodeID     string `json:"nodeId" yaml:"node_id"`
	EventID    string `json:"eventId" yaml:"event_id"`
}

// Anchor converts the registration to an anchor without enrollment GPS.
func (r Registration) Anchor() Anchor {
	return Anchor{QRAnchorID: r.QRAnchorID, NodeID: r.NodeID}
}

// NodeLocator is the slice of the graph API the resolver depends on.
type NodeLocator interface {
	Node(id string) (graph.Node, bool)
}

// ValidateAnchors checks QR id uniqueness and that every anchor points at an
// existing node. All problems are reported together.
func ValidateAnchors(anchors []Anchor, nodes NodeLocator) error {
	var errs []error
	seen := make(map[string]bool, len(anchors))
	for i, a := range anchors {
		if a.QRAnchorID == "" {
			errs = append(errs, fmt.Errorf("%w: anchor #%d has no qr id", ErrInvalidAnchor, i))
			continue
		}
		if seen[a.QRAnchorID] {
			errs = append(errs, fmt.Errorf("%w: duplicate qr id %q", ErrInvalidAnchor, a.QRAnchorID))
		}
		seen[a.QRAnchorID] = true
		if _, ok := nodes.Node(a.NodeID); !ok {
			errs = append(errs, fmt.Errorf("%w: %q references missing node %q", ErrInvalidAnchor, a.QRAnchorID, a.NodeID))
		}
	}
	return errors.Join(errs...)
}

// ValidateRegistrations checks registration records for one event against
// the current graph.
func ValidateRegistrations(regs []Registration, nodes NodeLocator) error {
	anchors := make([]Anchor, len(regs))
	for i, r := range regs {
		anchors[i] = r.Anchor()
	}
	return ValidateAnchors(anchors, nodes)
}

// DeclaredAnchors reconciles the QR ids nodes declare with the anchor table,
// which is authoritative for resolution. A declaration bound to another node
// in the table is an error; declarations absent from the table are returned
// as the anchors that would make the two agree.
func DeclaredAnchors(nodes []graph.Node, anchors []Anchor) ([]Anchor, error) {
	bound := make(map[string]string, len(anchors))
	for _, a := range anchors {
		bound[a.QRAnchorID] = a.NodeID
	}
	var missing []Anchor
	var errs []error
	for _, n := range nodes {
		if n.QRAnchorID == "" {
			continue
		}
		nodeID, ok := bound[n.QRAnchorID]
		switch {
		case !ok:
			missing = append(missing, Anchor{QRAnchorID: n.QRAnchorID, NodeID: n.ID})
		case nodeID != n.ID:
			errs = append(errs, fmt.Errorf("%w: node %q declares %q, which is bound to %q", ErrInvalidAnchor, n.ID, n.QRAnchorID, nodeID))
		}
	}
	return missing, errors.Join(errs...)
}
