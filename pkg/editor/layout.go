package editor

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/wayfinder/pkg/calibration"
	"github.com/sanonone/wayfinder/pkg/graph"
	"github.com/sanonone/wayfinder/pkg/persistence"
)

// Layout is a venue description as drawn in an editing tool and exported to
// YAML. Import order is floorplan, nodes, segments, POIs, anchors.
type Layout struct {
	Floorplan           *calibration.Floorplan     `yaml:"floorplan"`
	Nodes               []graph.Node               `yaml:"nodes"`
	Segments            []graph.Segment            `yaml:"segments"`
	POIs                []graph.POI                `yaml:"pois"`
	Anchors             []calibration.Anchor       `yaml:"anchors"`
	Registrations       []calibration.Registration `yaml:"registrations"`
	FallbackInstruction string                     `yaml:"fallback_instruction"`
}

// ParseLayout decodes a YAML layout. Unknown keys are rejected.
func ParseLayout(r io.Reader) (*Layout, error) {
	var l Layout
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&l); err != nil {
		if errors.Is(err, io.EOF) {
			return &l, nil
		}
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	return &l, nil
}

func (l *Layout) edits() ([]edit, error) {
	var edits []edit
	add := func(op persistence.OpCode, v any) error {
		e, err := newEdit(op, v)
		if err != nil {
			return err
		}
		edits = append(edits, e)
		return nil
	}

	if l.Floorplan != nil {
		if err := add(opSetFloorplan, l.Floorplan); err != nil {
			return nil, err
		}
	}
	for _, n := range l.Nodes {
		if err := add(opAddNode, n); err != nil {
			return nil, err
		}
	}
	for i, s := range l.Segments {
		if s.ID == "" {
			s.ID = fmt.Sprintf("%s-%s", s.NodeA, s.NodeB)
			l.Segments[i] = s
		}
		if err := add(opAddSegment, s); err != nil {
			return nil, err
		}
	}
	for _, p := range l.POIs {
		if err := add(opAddPOI, p); err != nil {
			return nil, err
		}
	}
	for _, a := range l.Anchors {
		if err := add(opRegisterAnchor, a); err != nil {
			return nil, err
		}
	}
	for _, r := range l.Registrations {
		if err := add(opRegisterAnchor, r.Anchor()); err != nil {
			return nil, err
		}
	}
	if l.FallbackInstruction != "" {
		if err := add(opSetFallback, fallbackPayload{Text: l.FallbackInstruction}); err != nil {
			return nil, err
		}
	}
	return edits, nil
}

// ImportLayout applies a YAML layout on top of the working graph as one
// atomic batch. It returns the number of edits journaled.
func (w *Workspace) ImportLayout(r io.Reader) (int, error) {
	l, err := ParseLayout(r)
	if err != nil {
		return 0, err
	}
	edits, err := l.edits()
	if err != nil {
		return 0, err
	}
	if len(edits) == 0 {
		return 0, nil
	}
	if err := w.commit(edits...); err != nil {
		return 0, fmt.Errorf("import layout: %w", err)
	}
	w.log.Info("layout imported", "edits", len(edits), "nodes", len(l.Nodes), "segments", len(l.Segments), "pois", len(l.POIs))
	return len(edits), nil
}
