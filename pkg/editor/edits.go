package editor

import (
	"fmt"
	"slices"

	"github.com/sanonone/wayfinder/pkg/calibration"
	"github.com/sanonone/wayfinder/pkg/graph"
	"github.com/sanonone/wayfinder/pkg/persistence"
)

// commit applies edits atomically and journals them. Nothing is journaled
// when any edit is rejected.
func (w *Workspace) commit(edits ...edit) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isClosed() {
		return ErrClosed
	}

	if len(edits) == 1 {
		if err := w.st.apply(edits[0]); err != nil {
			return err
		}
	} else {
		next := w.st.clone()
		for i, e := range edits {
			if err := next.apply(e); err != nil {
				return fmt.Errorf("edit %d of %d: %w", i+1, len(edits), err)
			}
		}
		w.st = next
	}

	for _, e := range edits {
		if err := w.journal.Append(e.op, e.payload); err != nil {
			w.log.Error("journal append failed, edit is applied in memory only", "op", e.op, "error", err)
			return fmt.Errorf("journal: %w", err)
		}
	}
	w.edits += int64(len(edits))
	return nil
}

func (w *Workspace) commitOne(op persistence.OpCode, v any) error {
	e, err := newEdit(op, v)
	if err != nil {
		return err
	}
	return w.commit(e)
}

// AddNode inserts a node into the working graph.
func (w *Workspace) AddNode(n graph.Node) error { return w.commitOne(opAddNode, n) }

// AddSegment joins two existing nodes.
func (w *Workspace) AddSegment(s graph.Segment) error { return w.commitOne(opAddSegment, s) }

// AddPOI places a point of interest.
func (w *Workspace) AddPOI(p graph.POI) error { return w.commitOne(opAddPOI, p) }

// MoveNode repositions a node.
func (w *Workspace) MoveNode(id string, x, y float64) error {
	return w.commitOne(opMoveNode, movePayload{ID: id, X: x, Y: y})
}

// RemoveNode deletes a node, its segments and any anchor bound to it.
func (w *Workspace) RemoveNode(id string) error { return w.commitOne(opRemoveNode, idPayload{ID: id}) }

func (w *Workspace) RemoveSegment(id string) error {
	return w.commitOne(opRemoveSegment, idPayload{ID: id})
}

func (w *Workspace) RemovePOI(id string) error { return w.commitOne(opRemovePOI, idPayload{ID: id}) }

// SetFloorplan replaces the floorplan and its georeference.
func (w *Workspace) SetFloorplan(fp calibration.Floorplan) error {
	return w.commitOne(opSetFloorplan, fp)
}

// RegisterAnchor binds a QR anchor to a node. The anchor id must be unused
// and the node must exist; registering an existing binding again replaces its
// enrollment fix. Nodes declaring a qr id get their anchor on insertion.
func (w *Workspace) RegisterAnchor(a calibration.Anchor) error {
	return w.commitOne(opRegisterAnchor, a)
}

// RegisterAnchors records a batch of registrations for one event, all or
// nothing.
func (w *Workspace) RegisterAnchors(regs []calibration.Registration) error {
	edits := make([]edit, 0, len(regs))
	for _, r := range regs {
		e, err := newEdit(opRegisterAnchor, r.Anchor())
		if err != nil {
			return err
		}
		edits = append(edits, e)
	}
	if len(edits) == 0 {
		return nil
	}
	return w.commit(edits...)
}

// RemoveAnchor drops a registered anchor. Anchors a node declares live as
// long as the node.
func (w *Workspace) RemoveAnchor(qrAnchorID string) error {
	return w.commitOne(opRemoveAnchor, idPayload{ID: qrAnchorID})
}

// SetFallbackInstruction sets the text shown when no position is available.
func (w *Workspace) SetFallbackInstruction(text string) error {
	return w.commitOne(opSetFallback, fallbackPayload{Text: text})
}

// Graph returns an editable copy of the working graph.
func (w *Workspace) Graph() *graph.Graph {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st.graph.Clone()
}

func (w *Workspace) Floorplan() (calibration.Floorplan, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.st.floorplan == nil {
		return calibration.Floorplan{}, false
	}
	return *w.st.floorplan, true
}

func (w *Workspace) Anchors() []calibration.Anchor {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.st.anchors)
}

func (w *Workspace) FallbackInstruction() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.st.fallback
}

// Edits is the number of edits journaled since Open or the last compaction.
func (w *Workspace) Edits() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.edits
}
