package editor

import (
	"fmt"
	"slices"

	"github.com/sanonone/wayfinder/pkg/manifest"
	"github.com/sanonone/wayfinder/pkg/metrics"
)

// Publish snapshots the working graph into a new manifest for venueID and
// stores it in the archive. The workspace stays editable; later edits only
// reach devices through the next publish.
func (w *Workspace) Publish(venueID, eventID string) (*manifest.Manifest, string, error) {
	if err := ValidateVenueID(venueID); err != nil {
		return nil, "", err
	}

	w.mu.Lock()
	if w.isClosed() {
		w.mu.Unlock()
		return nil, "", ErrClosed
	}
	if w.st.floorplan == nil {
		w.mu.Unlock()
		return nil, "", ErrNoFloorplan
	}
	doc, err := manifest.Encode(w.st.graph, *w.st.floorplan, slices.Clone(w.st.anchors), w.st.fallback, manifest.Meta{
		VenueID: venueID,
		EventID: eventID,
		Now:     w.opts.Now,
	})
	w.mu.Unlock()
	if err != nil {
		return nil, "", fmt.Errorf("publish %s: %w", venueID, err)
	}

	path, err := w.archive.Write(doc)
	if err != nil {
		return nil, "", err
	}
	m, err := manifest.FromDocument(doc)
	if err != nil {
		return nil, "", fmt.Errorf("publish %s: %w", venueID, err)
	}

	metrics.GraphNodes.Set(float64(m.Graph.NodeCount()))
	w.log.Info("manifest published",
		"venue_id", venueID,
		"manifest_id", m.ID,
		"nodes", m.Graph.NodeCount(),
		"segments", m.Graph.SegmentCount(),
		"anchors", len(m.Anchors),
		"path", path,
	)
	return m, path, nil
}

// LatestManifest reads the newest published manifest of a venue back through
// the decoder.
func (w *Workspace) LatestManifest(venueID string) (*manifest.Manifest, error) {
	return w.archive.Latest(venueID)
}
