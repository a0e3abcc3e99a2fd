package editor

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/sanonone/wayfinder/pkg/calibration"
	"github.com/sanonone/wayfinder/pkg/graph"
	"github.com/sanonone/wayfinder/pkg/persistence"
)

// Journal op codes. Values are part of the on-disk format.
const (
	opAddNode        persistence.OpCode = 0x01
	opAddSegment     persistence.OpCode = 0x02
	opAddPOI         persistence.OpCode = 0x03
	opMoveNode       persistence.OpCode = 0x04
	opRemoveNode     persistence.OpCode = 0x05
	opRemoveSegment  persistence.OpCode = 0x06
	opRemovePOI      persistence.OpCode = 0x07
	opSetFloorplan   persistence.OpCode = 0x08
	opRegisterAnchor persistence.OpCode = 0x09
	opRemoveAnchor   persistence.OpCode = 0x0A
	opSetFallback    persistence.OpCode = 0x0B
)

var (
	// ErrNoFloorplan is returned by Publish before a floorplan was set.
	ErrNoFloorplan = errors.New("workspace has no floorplan")
	// ErrUnknownOp means the journal holds an entry this version cannot apply.
	ErrUnknownOp = errors.New("unknown journal op")
)

type movePayload struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type idPayload struct {
	ID string `json:"id"`
}

type fallbackPayload struct {
	Text string `json:"text"`
}

// edit is one journaled change.
type edit struct {
	op      persistence.OpCode
	payload []byte
}

func newEdit(op persistence.OpCode, v any) (edit, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return edit{}, fmt.Errorf("encode edit %#x: %w", op, err)
	}
	return edit{op: op, payload: b}, nil
}

// state is the editable content of a venue.
type state struct {
	graph     *graph.Graph
	floorplan *calibration.Floorplan
	anchors   []calibration.Anchor
	fallback  string
}

func newState() *state {
	return &state{graph: graph.New()}
}

func (s *state) clone() *state {
	c := &state{
		graph:    s.graph.Clone(),
		anchors:  slices.Clone(s.anchors),
		fallback: s.fallback,
	}
	if s.floorplan != nil {
		fp := *s.floorplan
		c.floorplan = &fp
	}
	return c
}

func (s *state) anchorIndex(qrID string) int {
	return slices.IndexFunc(s.anchors, func(a calibration.Anchor) bool { return a.QRAnchorID == qrID })
}

// apply validates and performs one edit. A failed edit leaves s unchanged.
func (s *state) apply(e edit) error {
	switch e.op {
	case opAddNode:
		var n graph.Node
		if err := json.Unmarshal(e.payload, &n); err != nil {
			return err
		}
		derived, err := calibration.DeclaredAnchors([]graph.Node{n}, s.anchors)
		if err != nil {
			return err
		}
		if err := s.graph.AddNode(n); err != nil {
			return err
		}
		s.anchors = append(s.anchors, derived...)
		return nil

	case opAddSegment:
		var seg graph.Segment
		if err := json.Unmarshal(e.payload, &seg); err != nil {
			return err
		}
		return s.graph.AddSegment(seg)

	case opAddPOI:
		var p graph.POI
		if err := json.Unmarshal(e.payload, &p); err != nil {
			return err
		}
		return s.graph.AddPOI(p)

	case opMoveNode:
		var m movePayload
		if err := json.Unmarshal(e.payload, &m); err != nil {
			return err
		}
		return s.graph.MoveNode(m.ID, m.X, m.Y)

	case opRemoveNode:
		var p idPayload
		if err := json.Unmarshal(e.payload, &p); err != nil {
			return err
		}
		if _, err := s.graph.RemoveNode(p.ID); err != nil {
			return err
		}
		s.anchors = slices.DeleteFunc(s.anchors, func(a calibration.Anchor) bool { return a.NodeID == p.ID })
		return nil

	case opRemoveSegment:
		var p idPayload
		if err := json.Unmarshal(e.payload, &p); err != nil {
			return err
		}
		return s.graph.RemoveSegment(p.ID)

	case opRemovePOI:
		var p idPayload
		if err := json.Unmarshal(e.payload, &p); err != nil {
			return err
		}
		return s.graph.RemovePOI(p.ID)

	case opSetFloorplan:
		var fp calibration.Floorplan
		if err := json.Unmarshal(e.payload, &fp); err != nil {
			return err
		}
		if fp.ImageRef == "" || !(fp.PixelsPerMeter > 0) {
			return fmt.Errorf("%w: floorplan needs an image ref and a positive scale", graph.ErrValidation)
		}
		if (fp.OriginLat == nil) != (fp.OriginLng == nil) {
			return fmt.Errorf("%w: floorplan origin needs both latitude and longitude", graph.ErrValidation)
		}
		s.floorplan = &fp
		return nil

	case opRegisterAnchor:
		var a calibration.Anchor
		if err := json.Unmarshal(e.payload, &a); err != nil {
			return err
		}
		next := slices.Clone(s.anchors)
		// re-registering a binding refreshes its enrollment fix
		if i := s.anchorIndex(a.QRAnchorID); i >= 0 && s.anchors[i].NodeID == a.NodeID {
			next[i] = a
		} else {
			next = append(next, a)
		}
		if err := calibration.ValidateAnchors(next, s.graph); err != nil {
			return err
		}
		s.anchors = next
		return nil

	case opRemoveAnchor:
		var p idPayload
		if err := json.Unmarshal(e.payload, &p); err != nil {
			return err
		}
		i := s.anchorIndex(p.ID)
		if i < 0 {
			return fmt.Errorf("%w: %q", calibration.ErrUnknownAnchor, p.ID)
		}
		if n, ok := s.graph.Node(s.anchors[i].NodeID); ok && n.QRAnchorID == p.ID {
			return fmt.Errorf("%w: %q is declared by node %q", calibration.ErrInvalidAnchor, p.ID, n.ID)
		}
		s.anchors = slices.Delete(s.anchors, i, i+1)
		return nil

	case opSetFallback:
		var p fallbackPayload
		if err := json.Unmarshal(e.payload, &p); err != nil {
			return err
		}
		s.fallback = p.Text
		return nil
	}
	return fmt.Errorf("%w: %#x", ErrUnknownOp, byte(e.op))
}

// snapshot renders s as the shortest edit sequence that rebuilds it.
func (s *state) snapshot() ([]edit, error) {
	var edits []edit
	add := func(op persistence.OpCode, v any) error {
		e, err := newEdit(op, v)
		if err != nil {
			return err
		}
		edits = append(edits, e)
		return nil
	}

	if s.floorplan != nil {
		if err := add(opSetFloorplan, s.floorplan); err != nil {
			return nil, err
		}
	}
	for _, n := range s.graph.Nodes() {
		if err := add(opAddNode, n); err != nil {
			return nil, err
		}
	}
	for _, seg := range s.graph.Segments() {
		if err := add(opAddSegment, seg); err != nil {
			return nil, err
		}
	}
	for _, p := range s.graph.POIs() {
		if err := add(opAddPOI, p); err != nil {
			return nil, err
		}
	}
	for _, a := range s.anchors {
		if err := add(opRegisterAnchor, a); err != nil {
			return nil, err
		}
	}
	if s.fallback != "" {
		if err := add(opSetFallback, fallbackPayload{Text: s.fallback}); err != nil {
			return nil, err
		}
	}
	return edits, nil
}
