package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sanonone/wayfinder/pkg/calibration"
	"github.com/sanonone/wayfinder/pkg/graph"
)

// Meta identifies a publish.
type Meta struct {
	VenueID string
	EventID string
	// Now defaults to time.Now. The timestamp is stored in UTC.
	Now func() time.Time
}

// Manifest is a decoded, validated document. Its graph is frozen.
type Manifest struct {
	ID                  string
	VenueID             string
	EventID             string
	GeneratedAt         time.Time
	SchemaVersion       int
	Graph               *graph.Graph
	Floorplan           calibration.Floorplan
	Anchors             []calibration.Anchor
	FallbackInstruction string
}

// Resolver builds the calibration resolver for this manifest.
func (m *Manifest) Resolver(opts calibration.Options) (*calibration.Resolver, error) {
	return calibration.NewResolver(m.Floorplan, m.Anchors, m.Graph, opts)
}

// POI returns an exported point of interest by id.
func (m *Manifest) POI(id string) (graph.POI, bool) { return m.Graph.POI(id) }

// Encode snapshots g into a document. Every node carries its neighbor list
// with the effective weights; only POIs of type "poi" are exported. Anchors
// must reference nodes of g and carry every QR id a node declares.
func Encode(g *graph.Graph, fp calibration.Floorplan, anchors []calibration.Anchor, fallbackInstruction string, meta Meta) (*Document, error) {
	if meta.VenueID == "" {
		return nil, fmt.Errorf("%w: venue id is required", ErrFormat)
	}
	if err := calibration.ValidateAnchors(anchors, g); err != nil {
		return nil, fmt.Errorf("encode %s: %w", meta.VenueID, err)
	}
	if err := checkDeclaredAnchors(g, anchors); err != nil {
		return nil, fmt.Errorf("encode %s: %w", meta.VenueID, err)
	}
	now := time.Now
	if meta.Now != nil {
		now = meta.Now
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("manifest id: %w", err)
	}

	adj := g.BuildAdjacency()
	doc := &Document{
		SchemaVersion: SchemaVersion,
		ManifestID:    id.String(),
		VenueID:       meta.VenueID,
		EventID:       meta.EventID,
		GeneratedAt:   now().UTC(),
		Floorplan: &FloorplanDoc{
			ID:             fp.ID,
			ImageRef:       fp.ImageRef,
			PixelsPerMeter: fp.PixelsPerMeter,
			OriginLat:      fp.OriginLat,
			OriginLng:      fp.OriginLng,
			RotationDeg:    fp.RotationDeg,
		},
		Nodes:               make([]NodeDoc, 0, g.NodeCount()),
		POIs:                []POIDoc{},
		Anchors:             make([]AnchorDoc, 0, len(anchors)),
		FallbackInstruction: fallbackInstruction,
	}

	for _, n := range g.Nodes() {
		nd := NodeDoc{
			ID:         n.ID,
			X:          f64(n.X),
			Y:          f64(n.Y),
			Kind:       string(n.Kind),
			QRAnchorID: n.QRAnchorID,
			Neighbors:  make([]NeighborDoc, 0, len(adj[n.ID])),
		}
		for _, nb := range adj[n.ID] {
			nd.Neighbors = append(nd.Neighbors, NeighborDoc{ID: nb.ID, Weight: f64(nb.Weight)})
		}
		doc.Nodes = append(doc.Nodes, nd)
	}
	for _, p := range g.POIs() {
		if p.Type != graph.POITypeDefault {
			continue
		}
		doc.POIs = append(doc.POIs, POIDoc{ID: p.ID, Name: p.Name, X: f64(p.X), Y: f64(p.Y), Type: p.Type})
	}
	for _, a := range anchors {
		doc.Anchors = append(doc.Anchors, AnchorDoc{
			QRAnchorID:   a.QRAnchorID,
			NodeID:       a.NodeID,
			RealWorldLat: a.RealWorldLat,
			RealWorldLng: a.RealWorldLng,
		})
	}

	if err := docValidate.Struct(doc); err != nil {
		return nil, formatErr(err)
	}
	return doc, nil
}

// Marshal renders a document as JSON.
func Marshal(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// Decode parses and validates a JSON manifest.
func Decode(data []byte) (*Manifest, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return FromDocument(&doc)
}

// FromDocument validates a document and rebuilds the frozen graph from its
// neighbor lists. Segment ids are derived from the endpoint pair.
func FromDocument(doc *Document) (*Manifest, error) {
	if err := docValidate.Struct(doc); err != nil {
		return nil, formatErr(err)
	}
	if doc.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d is newer than supported %d", ErrFormat, doc.SchemaVersion, SchemaVersion)
	}

	g := graph.New()
	for _, nd := range doc.Nodes {
		err := g.AddNode(graph.Node{ID: nd.ID, X: *nd.X, Y: *nd.Y, Kind: graph.NodeKind(nd.Kind), QRAnchorID: nd.QRAnchorID})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}

	// fromA and fromB are set once per endpoint; a node listing the same
	// neighbor twice is rejected.
	type edge struct {
		a, b         string
		weight       float64
		fromA, fromB bool
	}
	edges := make(map[[2]string]*edge)
	var order [][2]string
	for _, nd := range doc.Nodes {
		for _, nb := range nd.Neighbors {
			if _, ok := g.Node(nb.ID); !ok {
				return nil, fmt.Errorf("%w: node %q lists missing neighbor %q", ErrFormat, nd.ID, nb.ID)
			}
			w := *nb.Weight
			if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
				return nil, fmt.Errorf("%w: node %q has invalid weight %v to %q", ErrFormat, nd.ID, w, nb.ID)
			}
			a, b := nd.ID, nb.ID
			if a > b {
				a, b = b, a
			}
			key := [2]string{a, b}
			e, ok := edges[key]
			if !ok {
				e = &edge{a: a, b: b, weight: w}
				edges[key] = e
				order = append(order, key)
			} else if math.Abs(e.weight-w) > 1e-9 {
				return nil, fmt.Errorf("%w: weights of %q-%q disagree (%v vs %v)", ErrFormat, a, b, e.weight, w)
			}
			side := &e.fromA
			if nd.ID != e.a {
				side = &e.fromB
			}
			if *side {
				return nil, fmt.Errorf("%w: node %q lists neighbor %q twice", ErrFormat, nd.ID, nb.ID)
			}
			*side = true
		}
	}
	for _, key := range order {
		e := edges[key]
		if !e.fromA || !e.fromB {
			return nil, fmt.Errorf("%w: segment %q-%q is not listed by both endpoints", ErrFormat, e.a, e.b)
		}
		if err := g.AddSegment(graph.Segment{ID: e.a + "~" + e.b, NodeA: e.a, NodeB: e.b, Weight: e.weight}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}

	for _, pd := range doc.POIs {
		if err := g.AddPOI(graph.POI{ID: pd.ID, Name: pd.Name, X: *pd.X, Y: *pd.Y, Type: pd.Type}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
	}

	anchors := make([]calibration.Anchor, len(doc.Anchors))
	for i, ad := range doc.Anchors {
		anchors[i] = calibration.Anchor{
			QRAnchorID:   ad.QRAnchorID,
			NodeID:       ad.NodeID,
			RealWorldLat: ad.RealWorldLat,
			RealWorldLng: ad.RealWorldLng,
		}
	}
	if err := calibration.ValidateAnchors(anchors, g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if err := checkDeclaredAnchors(g, anchors); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	g.Freeze()
	fp := doc.Floorplan
	return &Manifest{
		ID:            doc.ManifestID,
		VenueID:       doc.VenueID,
		EventID:       doc.EventID,
		GeneratedAt:   doc.GeneratedAt,
		SchemaVersion: doc.SchemaVersion,
		Graph:         g,
		Floorplan: calibration.Floorplan{
			ID:             fp.ID,
			ImageRef:       fp.ImageRef,
			PixelsPerMeter: fp.PixelsPerMeter,
			OriginLat:      fp.OriginLat,
			OriginLng:      fp.OriginLng,
			RotationDeg:    fp.RotationDeg,
		},
		Anchors:             anchors,
		FallbackInstruction: doc.FallbackInstruction,
	}, nil
}

// checkDeclaredAnchors requires every node-declared QR id to appear in the
// anchor table bound to that node.
func checkDeclaredAnchors(g *graph.Graph, anchors []calibration.Anchor) error {
	missing, err := calibration.DeclaredAnchors(g.Nodes(), anchors)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: node %q declares %q but the anchor list omits it", calibration.ErrInvalidAnchor, missing[0].NodeID, missing[0].QRAnchorID)
	}
	return nil
}

func formatErr(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: field %s failed %q (%d problem(s))", ErrFormat, fe.Namespace(), fe.Tag(), len(verrs))
	}
	return fmt.Errorf("%w: %v", ErrFormat, err)
}
