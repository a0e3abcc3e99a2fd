package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/sanonone/wayfinder/pkg/calibration"
	"github.com/sanonone/wayfinder/pkg/editor"
	"github.com/sanonone/wayfinder/pkg/geo"
	"github.com/sanonone/wayfinder/pkg/graph"
	"github.com/sanonone/wayfinder/pkg/manifest"
	"github.com/sanonone/wayfinder/pkg/metrics"
	"github.com/sanonone/wayfinder/pkg/route"
)

var requestValidate = validator.New()

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 * 1024

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := manifest.Schema()
	if err != nil {
		s.log.Error("manifest schema generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "schema unavailable")
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) handleListVenues(w http.ResponseWriter, r *http.Request) {
	venues, err := s.manifests.Venues()
	if err != nil {
		s.log.Error("listing venues failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cannot list venues")
		return
	}
	if venues == nil {
		venues = []string{}
	}
	writeJSON(w, http.StatusOK, VenuesResponse{Venues: venues})
}

// handleGetManifest serves the newest manifest verbatim. The manifest id is
// the ETag, so devices that already hold it get a 304.
func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	venueID := chi.URLParam(r, "venueID")
	m, data, err := s.manifests.LatestRaw(venueID)
	if err != nil {
		s.manifestError(w, venueID, err)
		return
	}
	etag := `"` + m.ID + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	venueID := chi.URLParam(r, "venueID")

	var req RouteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	m, ok := s.loadManifest(w, venueID)
	if !ok {
		return
	}
	g := m.Graph

	start := req.From
	if req.FromPoint != nil {
		n, found := g.NearestNode(r2.Vec{X: req.FromPoint.X, Y: req.FromPoint.Y})
		if !found {
			writeError(w, http.StatusUnprocessableEntity, "venue graph is empty")
			return
		}
		start = n.ID
	}
	dest := req.To
	if req.POIID != "" {
		poi, found := m.POI(req.POIID)
		if !found {
			writeError(w, http.StatusNotFound, "unknown poi "+req.POIID)
			return
		}
		n, found := g.NearestNode(poi.Pos())
		if !found {
			writeError(w, http.StatusUnprocessableEntity, "venue graph is empty")
			return
		}
		dest = n.ID
	}

	p, err := route.ShortestPath(g, start, dest)
	if err != nil {
		metrics.RoutesComputed.WithLabelValues("error").Inc()
		if errors.Is(err, graph.ErrUnknownNode) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.log.Error("route computation failed", "venue_id", venueID, "error", err)
		writeError(w, http.StatusInternalServerError, "route computation failed")
		return
	}

	resp := RouteResponse{ManifestID: m.ID, Found: p.Found(), NodeIDs: p.NodeIDs, Weight: p.Weight, Steps: []RouteStep{}}
	if !p.Found() {
		metrics.RoutesComputed.WithLabelValues("unreachable").Inc()
		resp.NodeIDs = []string{}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	metrics.RoutesComputed.WithLabelValues("found").Inc()
	resp.Steps, resp.Meters = describePath(m, p.NodeIDs)
	writeJSON(w, http.StatusOK, resp)
}

// describePath expands node ids into positions with the compass heading of
// each leg, and sums the walking distance.
func describePath(m *manifest.Manifest, ids []string) ([]RouteStep, float64) {
	steps := make([]RouteStep, len(ids))
	nodes := make([]graph.Node, len(ids))
	for i, id := range ids {
		nodes[i], _ = m.Graph.Node(id)
	}

	var meters float64
	for i, n := range nodes {
		st := RouteStep{NodeID: n.ID, X: n.X, Y: n.Y}
		if ll, ok := calibration.PixelToApproxGPS(m.Floorplan, n.Pos()); ok {
			st.Lat, st.Lng = &ll.Lat, &ll.Lng
		}
		if i+1 < len(nodes) {
			next := nodes[i+1]
			b := calibration.CompassBearing(m.Floorplan, n.Pos(), next.Pos())
			st.Bearing = &b
			st.Heading = geo.CardinalOf(b).Word()
			meters += calibration.MetersBetween(m.Floorplan, n.Pos(), next.Pos())
		}
		steps[i] = st
	}
	return steps, meters
}

func (s *Server) handleResolveAnchor(w http.ResponseWriter, r *http.Request) {
	venueID := chi.URLParam(r, "venueID")
	anchorID := chi.URLParam(r, "anchorID")

	m, ok := s.loadManifest(w, venueID)
	if !ok {
		return
	}
	for _, a := range m.Anchors {
		if a.QRAnchorID != anchorID {
			continue
		}
		n, _ := m.Graph.Node(a.NodeID)
		resp := AnchorResponse{ManifestID: m.ID, QRAnchorID: a.QRAnchorID, NodeID: n.ID, X: n.X, Y: n.Y}
		if ll, ok := calibration.PixelToApproxGPS(m.Floorplan, n.Pos()); ok {
			resp.Lat, resp.Lng = &ll.Lat, &ll.Lng
		}
		metrics.AnchorScans.WithLabelValues("known").Inc()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	metrics.AnchorScans.WithLabelValues("unknown").Inc()
	s.log.Warn("unknown anchor lookup", "venue_id", venueID, "anchor_id", anchorID)
	writeError(w, http.StatusNotFound, "unknown anchor "+anchorID)
}

func (s *Server) loadManifest(w http.ResponseWriter, venueID string) (*manifest.Manifest, bool) {
	m, err := s.manifests.Latest(venueID)
	if err != nil {
		s.manifestError(w, venueID, err)
		return nil, false
	}
	return m, true
}

func (s *Server) manifestError(w http.ResponseWriter, venueID string, err error) {
	switch {
	case errors.Is(err, editor.ErrInvalidVenue):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, editor.ErrNoManifest):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("loading manifest failed", "venue_id", venueID, "error", err)
		writeError(w, http.StatusInternalServerError, "manifest unavailable")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
